package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Filter presets are caller-defined JSON objects stored as an array in
// the data directory. The core round-trips them without interpretation.

// LoadPresets reads the preset array; a missing file is an empty list.
func LoadPresets(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("preset read failed: %w", err)
	}
	var presets []json.RawMessage
	if err := json.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("preset parse failed: %w", err)
	}
	return presets, nil
}

// SavePresets writes the preset array verbatim.
func SavePresets(path string, presets []json.RawMessage) error {
	if presets == nil {
		presets = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(presets, "", "  ")
	if err != nil {
		return fmt.Errorf("preset marshal failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create preset directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("preset write failed: %w", err)
	}
	return nil
}
