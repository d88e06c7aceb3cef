package session

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s := &Session{
		Tabs: []TabState{{
			Name:      "security.csv",
			FilePath:  "/cases/security.csv",
			Columns:   []string{"timestamp", "event"},
			Bookmarks: []int64{1, 5},
			Tags:      map[string][]string{"3": {"ioc"}},
			Filters:   &filter.Model{Columns: map[string]string{"event": "4624"}},
			GroupBy:   []string{"event"},
			ColorRules: []tabstore.ColorRule{
				{Column: "event", Condition: "equals", Value: "4625", BgColor: "#f00", FgColor: "#fff"},
			},
		}},
		ActiveTab: "security.csv",
	}
	if err := Save(path, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Version != Version {
		t.Errorf("version = %d", loaded.Version)
	}
	if len(loaded.Tabs) != 1 {
		t.Fatalf("tabs = %d", len(loaded.Tabs))
	}
	tab := loaded.Tabs[0]
	if tab.FilePath != "/cases/security.csv" || len(tab.Bookmarks) != 2 {
		t.Errorf("tab = %+v", tab)
	}
	if tab.Filters.Columns["event"] != "4624" {
		t.Errorf("filters lost: %+v", tab.Filters)
	}
	if len(tab.ColorRules) != 1 || tab.ColorRules[0].BgColor != "#f00" {
		t.Errorf("color rules lost: %+v", tab.ColorRules)
	}
}

func TestCaptureAndRestoreTab(t *testing.T) {
	src := testutil.NewPopulatedTab(t,
		[]string{"timestamp", "event"},
		[][]string{
			{"2024-01-01 10:00:00", "4624"},
			{"2024-01-01 11:00:00", "4625"},
			{"2024-01-01 12:00:00", "4688"},
		})

	if _, err := src.ToggleBookmark(2); err != nil {
		t.Fatalf("bookmark failed: %v", err)
	}
	if err := src.AddTag(1, "logon"); err != nil {
		t.Fatalf("tag failed: %v", err)
	}
	if err := src.AddTag(3, "exec"); err != nil {
		t.Fatalf("tag failed: %v", err)
	}
	if err := src.SetColorRules([]tabstore.ColorRule{
		{Column: "event", Condition: "contains", Value: "4625", BgColor: "#fee", FgColor: "#000"},
	}); err != nil {
		t.Fatalf("color rules failed: %v", err)
	}

	state, err := CaptureTab(src, nil, "", nil)
	if err != nil {
		t.Fatalf("CaptureTab failed: %v", err)
	}
	if len(state.Bookmarks) != 1 || state.Bookmarks[0] != 2 {
		t.Errorf("bookmarks = %v", state.Bookmarks)
	}
	if len(state.Tags) != 2 {
		t.Errorf("tags = %v", state.Tags)
	}
	if len(state.Columns) != 2 {
		t.Errorf("columns = %v", state.Columns)
	}

	// Restore onto a fresh tab (same shape, as after re-import).
	dst := testutil.NewPopulatedTab(t,
		[]string{"timestamp", "event"},
		[][]string{
			{"2024-01-01 10:00:00", "4624"},
			{"2024-01-01 11:00:00", "4625"},
			{"2024-01-01 12:00:00", "4688"},
		})
	if err := RestoreTab(dst, state); err != nil {
		t.Fatalf("RestoreTab failed: %v", err)
	}

	marks, _ := dst.AllBookmarks()
	if len(marks) != 1 || marks[0] != 2 {
		t.Errorf("restored bookmarks = %v", marks)
	}
	tags, _ := dst.AllTags()
	if len(tags[1]) != 1 || tags[1][0] != "logon" {
		t.Errorf("restored tags = %v", tags)
	}
	rules, _ := dst.ColorRules()
	if len(rules) != 1 || rules[0].BgColor != "#fee" {
		t.Errorf("restored color rules = %v", rules)
	}
}

func TestPresetsRoundTripVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.json")

	// Missing file is an empty list.
	presets, err := LoadPresets(path)
	if err != nil || presets != nil {
		t.Fatalf("missing presets = %v, %v", presets, err)
	}

	raw := []json.RawMessage{
		json.RawMessage(`{"name":"logons","filters":{"event":"4624"},"uiState":{"pinned":["timestamp"]}}`),
	}
	if err := SavePresets(path, raw); err != nil {
		t.Fatalf("SavePresets failed: %v", err)
	}

	loaded, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("presets = %d", len(loaded))
	}

	// Round-trip preserves content the core never interprets.
	var a, b map[string]interface{}
	if err := json.Unmarshal(raw[0], &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(loaded[0], &b); err != nil {
		t.Fatal(err)
	}
	if a["name"] != b["name"] {
		t.Errorf("preset content changed: %v vs %v", a, b)
	}
}
