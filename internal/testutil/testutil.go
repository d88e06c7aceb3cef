// Package testutil provides test helpers: populated scratch tab stores
// with known forensic-shaped data.
package testutil

import (
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// NewTab creates a tab store in a temp directory, cleaned up with the
// test. Headers are sanitized exactly as production imports do.
func NewTab(t *testing.T, headers []string) *tabstore.Tab {
	t.Helper()

	tab, err := tabstore.Create(t.TempDir(), "test-tab", "test", "", headers)
	if err != nil {
		t.Fatalf("Failed to create tab store: %v", err)
	}
	t.Cleanup(tab.Close)
	return tab
}

// NewPopulatedTab creates a tab, inserts the rows, and finalizes it.
// Each row must have exactly len(headers) cells.
func NewPopulatedTab(t *testing.T, headers []string, rows [][]string) *tabstore.Tab {
	t.Helper()

	tab := NewTab(t, headers)
	flat := make([]string, 0, len(rows)*len(headers))
	for _, row := range rows {
		if len(row) != len(headers) {
			t.Fatalf("row has %d cells, want %d", len(row), len(headers))
		}
		flat = append(flat, row...)
	}
	if len(flat) > 0 {
		if err := tab.InsertBatch(flat); err != nil {
			t.Fatalf("Failed to insert rows: %v", err)
		}
	}
	if err := tab.Finalize(); err != nil {
		t.Fatalf("Failed to finalize tab: %v", err)
	}
	return tab
}

// Registry creates a tab registry over a temp scratch dir.
func Registry(t *testing.T) *tabstore.Registry {
	t.Helper()
	r := tabstore.NewRegistry(t.TempDir())
	t.Cleanup(r.CloseAll)
	return r
}

// PopulateRegistryTab creates a registry-owned tab with data, for tests
// that exercise cross-tab operations like merge.
func PopulateRegistryTab(t *testing.T, r *tabstore.Registry, name string, headers []string, rows [][]string) *tabstore.Tab {
	t.Helper()

	tab, err := r.Create(name, "", headers)
	if err != nil {
		t.Fatalf("Failed to create tab: %v", err)
	}
	flat := make([]string, 0, len(rows)*len(headers))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	if len(flat) > 0 {
		if err := tab.InsertBatch(flat); err != nil {
			t.Fatalf("Failed to insert rows: %v", err)
		}
	}
	if err := tab.Finalize(); err != nil {
		t.Fatalf("Failed to finalize tab: %v", err)
	}
	return tab
}
