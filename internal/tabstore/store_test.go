package tabstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestTab(t *testing.T, headers []string) *Tab {
	t.Helper()
	tab, err := Create(t.TempDir(), "tab-under-test", "test", "", headers)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(tab.Close)
	return tab
}

func insertRows(t *testing.T, tab *Tab, rows [][]string) {
	t.Helper()
	var flat []string
	for _, r := range rows {
		flat = append(flat, r...)
	}
	if err := tab.InsertBatch(flat); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
}

func TestSanitizeHeaders(t *testing.T) {
	got := SanitizeHeaders([]string{"Name", "", "Name", "Name", "  "})
	want := []string{"Name", "Column", "Name_1", "Name_2", "Column_1"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("header %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInsertAssignsDenseMonotonicIDs(t *testing.T) {
	tab := newTestTab(t, []string{"a", "b"})

	insertRows(t, tab, [][]string{{"1", "x"}, {"2", "y"}})
	insertRows(t, tab, [][]string{{"3", "z"}})

	rows, err := tab.DB().Query("SELECT id FROM rows ORDER BY id")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		ids = append(ids, id)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(ids))
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Errorf("id %d = %d, want dense monotonic from 1", i, id)
		}
	}
	if tab.RowCount() != 3 {
		t.Errorf("RowCount = %d, want 3", tab.RowCount())
	}
}

// TestInsertWideBatch pushes enough rows through that the multi-row
// statement path and the single-row remainder both run.
func TestInsertWideBatch(t *testing.T) {
	headers := []string{"c A", "c B", "c C", "c D", "c E", "c F", "c G", "c H"}
	tab := newTestTab(t, headers)

	const n = 5003
	flat := make([]string, 0, n*len(headers))
	for i := 0; i < n; i++ {
		for j := 0; j < len(headers); j++ {
			flat = append(flat, "v")
		}
	}
	if err := tab.InsertBatch(flat); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	var count int64
	if err := tab.DB().QueryRow("SELECT COUNT(*) FROM rows").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}
}

func TestFinalizeClassifiesColumns(t *testing.T) {
	tab := newTestTab(t, []string{"timestamp", "eid", "host", "ts"})
	insertRows(t, tab, [][]string{
		{"2025-01-01 10:00:00", "4624", "HOST-A", "2025-01-01"},
		{"2025-01-02 11:00:00", "4625", "HOST-B", "2024-12-31"},
	})
	if err := tab.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if !tab.IsTimestamp("timestamp") {
		t.Error("timestamp should classify as timestamp by name")
	}
	if !tab.IsNumeric("eid") {
		t.Error("eid should classify as numeric")
	}
	if tab.IsNumeric("timestamp") {
		t.Error("timestamp columns are excluded from the numeric test")
	}
	// Name misses the regex; values are dates, so content classifies it.
	if !tab.IsTimestamp("ts") {
		t.Error("ts should classify as timestamp from its values")
	}
	if tab.IsNumeric("ts") {
		t.Error("ts must not classify as numeric")
	}
	if tab.IsNumeric("host") || tab.IsTimestamp("host") {
		t.Error("host should classify as plain text")
	}
}

func TestBookmarkToggleIsSetSemantics(t *testing.T) {
	tab := newTestTab(t, []string{"a"})
	insertRows(t, tab, [][]string{{"x"}})

	on, err := tab.ToggleBookmark(1)
	if err != nil || !on {
		t.Fatalf("first toggle = %v, %v; want on", on, err)
	}
	off, err := tab.ToggleBookmark(1)
	if err != nil || off {
		t.Fatalf("second toggle = %v, %v; want off", off, err)
	}

	marks, err := tab.AllBookmarks()
	if err != nil {
		t.Fatalf("AllBookmarks failed: %v", err)
	}
	if len(marks) != 0 {
		t.Errorf("toggle twice should be a no-op, found %v", marks)
	}
}

func TestTagRelationIsASet(t *testing.T) {
	tab := newTestTab(t, []string{"a"})
	insertRows(t, tab, [][]string{{"x"}})

	for i := 0; i < 2; i++ {
		if err := tab.AddTag(1, "suspicious"); err != nil {
			t.Fatalf("AddTag failed: %v", err)
		}
	}
	tags, err := tab.AllTags()
	if err != nil {
		t.Fatalf("AllTags failed: %v", err)
	}
	if len(tags[1]) != 1 {
		t.Errorf("adding the same (row, label) twice must keep one entry, got %v", tags[1])
	}

	if err := tab.AddTag(1, "ioc"); err != nil {
		t.Fatalf("AddTag failed: %v", err)
	}
	tags, _ = tab.AllTags()
	if len(tags[1]) != 2 {
		t.Errorf("a row holds any number of distinct tags, got %v", tags[1])
	}
}

func TestCountCache(t *testing.T) {
	tab := newTestTab(t, []string{"a"})
	insertRows(t, tab, [][]string{{"x"}, {"y"}})

	tab.StoreCount("sig-1", 2)
	if n, ok := tab.CachedCount("sig-1"); !ok || n != 2 {
		t.Fatalf("cache miss for stored signature")
	}
	if _, ok := tab.CachedCount("sig-2"); ok {
		t.Fatal("cache must be keyed by signature")
	}

	// Any mutation invalidates.
	if _, err := tab.ToggleBookmark(1); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if _, ok := tab.CachedCount("sig-1"); ok {
		t.Error("mutation must invalidate the count cache")
	}
}

func TestMutationsAreNoOpsDuringBuild(t *testing.T) {
	tab := newTestTab(t, []string{"a"})
	insertRows(t, tab, [][]string{{"x"}})

	tab.BeginBuild()
	defer tab.EndBuild()

	if _, err := tab.ToggleBookmark(1); err != ErrBuildInProgress {
		t.Errorf("ToggleBookmark during build = %v, want ErrBuildInProgress", err)
	}
	if err := tab.AddTag(1, "t"); err != ErrBuildInProgress {
		t.Errorf("AddTag during build = %v, want ErrBuildInProgress", err)
	}
	if err := tab.SetBookmarks([]int64{1}, true); err != ErrBuildInProgress {
		t.Errorf("SetBookmarks during build = %v, want ErrBuildInProgress", err)
	}
}

func TestBuildSortIndexesIsIdempotent(t *testing.T) {
	tab := newTestTab(t, []string{"a", "b"})
	insertRows(t, tab, [][]string{{"1", "2"}})
	if err := tab.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := tab.BuildSortIndexes(context.Background(), nil); err != nil {
			t.Fatalf("BuildSortIndexes run %d failed: %v", i, err)
		}
	}

	var n int
	if err := tab.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_rows_%'").Scan(&n); err != nil {
		t.Fatalf("index count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 column indexes after double build, got %d", n)
	}
}

func TestBuildFTSAndSearch(t *testing.T) {
	tab := newTestTab(t, []string{"msg"})
	insertRows(t, tab, [][]string{{"powershell encoded"}, {"benign activity"}})
	if err := tab.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if tab.FTSReady() {
		t.Fatal("FTS must not be ready before the build")
	}
	if err := tab.BuildFTS(context.Background(), 1, nil); err != nil {
		t.Fatalf("BuildFTS failed: %v", err)
	}
	if !tab.FTSReady() {
		t.Fatal("FTS must be ready after the build")
	}

	var n int64
	if err := tab.DB().QueryRow(
		"SELECT COUNT(*) FROM rows WHERE id IN (SELECT rowid FROM fts WHERE fts MATCH ?)", "powershell").Scan(&n); err != nil {
		t.Fatalf("fts query failed: %v", err)
	}
	if n != 1 {
		t.Errorf("fts matched %d rows, want 1", n)
	}
}

func TestRegisteredFunctions(t *testing.T) {
	tab := newTestTab(t, []string{"v"})
	insertRows(t, tab, [][]string{{"2026-01-17 10:30:00"}})

	var date string
	if err := tab.DB().QueryRow("SELECT extract_date(v) FROM rows").Scan(&date); err != nil {
		t.Fatalf("extract_date failed: %v", err)
	}
	if date != "2026-01-17" {
		t.Errorf("extract_date = %q", date)
	}

	var matched bool
	if err := tab.DB().QueryRow("SELECT v REGEXP '10:3[0-9]' FROM rows").Scan(&matched); err != nil {
		t.Fatalf("regexp failed: %v", err)
	}
	if !matched {
		t.Error("REGEXP should match")
	}

	// Invalid patterns match nothing instead of erroring.
	if err := tab.DB().QueryRow("SELECT v REGEXP '([' FROM rows").Scan(&matched); err != nil {
		t.Fatalf("invalid regexp errored: %v", err)
	}
	if matched {
		t.Error("invalid pattern must match nothing")
	}

	if err := tab.DB().QueryRow("SELECT fuzzy_match('2026-01', v) FROM rows").Scan(&matched); err != nil {
		t.Fatalf("fuzzy_match failed: %v", err)
	}
	if !matched {
		t.Error("fuzzy_match should match an exact substring")
	}
}

func TestCloseRemovesScratchFiles(t *testing.T) {
	dir := t.TempDir()
	tab, err := Create(dir, "doomed", "doomed", "", []string{"a"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := tab.InsertBatch([]string{"x"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	tab.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "doomed.db*"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	for _, m := range matches {
		if _, err := os.Stat(m); err == nil {
			t.Errorf("scratch file %s survived close", m)
		}
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(t.TempDir())
	defer r.CloseAll()

	tab, err := r.Create("one", "/tmp/one.csv", []string{"a"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := r.Get(tab.ID)
	if err != nil || got != tab {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("List length = %d", len(r.List()))
	}

	if err := r.Close(tab.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := r.Get(tab.ID); err != ErrTabNotFound {
		t.Errorf("Get after close = %v, want ErrTabNotFound", err)
	}
	if err := r.Close(tab.ID); err != ErrTabNotFound {
		t.Errorf("double Close = %v, want ErrTabNotFound", err)
	}
}
