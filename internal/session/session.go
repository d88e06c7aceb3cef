// Package session persists analysis state: which files were open, the
// per-tab filters, bookmarks, tags, color rules, and grouping. Loading
// re-imports the files and restores the state on the fresh tabs; the
// imported data itself is never persisted (per-tab stores are scratch).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// Version is the current session file format version.
const Version = 2

// TabState is one tab's persisted state. Color rules and groupBy are
// UI state carried verbatim; the core never interprets them.
type TabState struct {
	Name       string               `json:"name"`
	FilePath   string               `json:"filePath"`
	SheetName  string               `json:"sheetName,omitempty"`
	Columns    []string             `json:"columns"`
	Filters    *filter.Model        `json:"filters,omitempty"`
	Bookmarks  []int64              `json:"bookmarks,omitempty"`
	Tags       map[string][]string  `json:"tags,omitempty"` // row id (as string) -> labels
	ColorRules []tabstore.ColorRule `json:"colorRules,omitempty"`
	GroupBy    []string             `json:"groupBy,omitempty"`
}

// Session is the full session file.
type Session struct {
	Version   int        `json:"version"`
	Tabs      []TabState `json:"tabs"`
	ActiveTab string     `json:"activeTab,omitempty"`
}

// Save writes the session as JSON.
func Save(path string, s *Session) error {
	s.Version = Version
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("session marshal failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("session write failed: %w", err)
	}
	return nil
}

// Load reads a session file.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session read failed: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session parse failed: %w", err)
	}
	return &s, nil
}

// CaptureTab snapshots a tab's persisted state from its store.
func CaptureTab(tab *tabstore.Tab, filters *filter.Model, sheetName string, groupBy []string) (TabState, error) {
	state := TabState{
		Name:      tab.Name,
		FilePath:  tab.SourcePath,
		SheetName: sheetName,
		Columns:   tab.Headers(),
		Filters:   filters,
		GroupBy:   groupBy,
	}

	bookmarks, err := tab.AllBookmarks()
	if err != nil {
		return state, err
	}
	state.Bookmarks = bookmarks

	tags, err := tab.AllTags()
	if err != nil {
		return state, err
	}
	if len(tags) > 0 {
		state.Tags = make(map[string][]string, len(tags))
		for rowID, labels := range tags {
			state.Tags[fmt.Sprintf("%d", rowID)] = labels
		}
	}

	rules, err := tab.ColorRules()
	if err != nil {
		return state, err
	}
	state.ColorRules = rules
	return state, nil
}

// RestoreTab applies persisted bookmarks, tags, and color rules to a
// freshly re-imported tab.
func RestoreTab(tab *tabstore.Tab, state TabState) error {
	if len(state.Bookmarks) > 0 {
		if err := tab.SetBookmarks(state.Bookmarks, true); err != nil {
			return fmt.Errorf("bookmark restore failed: %w", err)
		}
	}

	// Group by label so each label restores in one bulk call.
	byLabel := make(map[string][]int64)
	for rowStr, labels := range state.Tags {
		var rowID int64
		if _, err := fmt.Sscanf(rowStr, "%d", &rowID); err != nil {
			continue
		}
		for _, l := range labels {
			byLabel[l] = append(byLabel[l], rowID)
		}
	}
	for label, ids := range byLabel {
		if err := tab.SetTags(ids, label, true); err != nil {
			return fmt.Errorf("tag restore failed: %w", err)
		}
	}

	if len(state.ColorRules) > 0 {
		if err := tab.SetColorRules(state.ColorRules); err != nil {
			return fmt.Errorf("color rule restore failed: %w", err)
		}
	}
	return nil
}
