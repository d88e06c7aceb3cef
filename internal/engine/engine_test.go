package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/query"
	"github.com/r3nzsec/irflow-timeline/internal/session"
	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Import.BatchRows = 100
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("fixture write failed: %v", err)
	}
	return path
}

// TestImportAndQuery is the end-to-end ingest scenario: a two-row CSV,
// imported, then queried sorted by timestamp.
func TestImportAndQuery(t *testing.T) {
	eng := newTestEngine(t)

	path := writeCSV(t, "events.csv",
		"timestamp,computer,event\n"+
			"2024-01-01 00:00:01,HOST,4624\n"+
			"2024-01-01 00:00:02,HOST,4625\n")

	tab, err := eng.ImportAndWait(path, "")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	result, err := eng.Query(tab.ID, &query.Request{
		SortColumn: "timestamp",
		SortDir:    "asc",
		Offset:     0,
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.TotalFiltered != 2 || len(result.Rows) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Rows[0].Cells[2] != "4624" {
		t.Errorf("first row = %v", result.Rows[0].Cells)
	}

	infos := eng.Tabs()
	if len(infos) != 1 || infos[0].RowCount != 2 {
		t.Errorf("tab infos = %+v", infos)
	}
}

func TestSessionSaveAndLoad(t *testing.T) {
	eng := newTestEngine(t)

	path := writeCSV(t, "events.csv",
		"timestamp,event\n2024-01-01 10:00:00,4624\n2024-01-01 11:00:00,4625\n")
	tab, err := eng.ImportAndWait(path, "")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if _, err := eng.ToggleBookmark(tab.ID, 1); err != nil {
		t.Fatalf("bookmark failed: %v", err)
	}
	if err := eng.AddTag(tab.ID, 2, "failed-logon"); err != nil {
		t.Fatalf("tag failed: %v", err)
	}

	sessionPath := filepath.Join(t.TempDir(), "case.json")
	if err := eng.SaveSession(sessionPath, SessionState{Active: tab.ID}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	// Close everything and restore from the session file.
	if err := eng.CloseTab(tab.ID); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	result, err := eng.LoadSession(sessionPath)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("restore failures: %v", result.Failed)
	}
	newID, ok := result.Restored[tab.Name]
	if !ok {
		t.Fatalf("tab not restored: %+v", result)
	}

	restored, err := eng.Registry().Get(newID)
	if err != nil {
		t.Fatalf("restored tab lookup failed: %v", err)
	}
	marks, _ := restored.AllBookmarks()
	if len(marks) != 1 || marks[0] != 1 {
		t.Errorf("restored bookmarks = %v", marks)
	}
	tags, _ := restored.AllTags()
	if len(tags[2]) != 1 || tags[2][0] != "failed-logon" {
		t.Errorf("restored tags = %v", tags)
	}
}

// TestSessionLoadMissingFileFailsIndividually: a moved file fails its
// own tab and the rest of the session still restores.
func TestSessionLoadMissingFileFailsIndividually(t *testing.T) {
	eng := newTestEngine(t)

	good := writeCSV(t, "good.csv", "ts,n\n2024-01-01,1\n")

	s := &session.Session{
		Tabs: []session.TabState{
			{Name: "gone.csv", FilePath: "/nonexistent/gone.csv", Columns: []string{"a"}},
			{Name: "good.csv", FilePath: good, Columns: []string{"ts", "n"}},
		},
	}
	sessionPath := filepath.Join(t.TempDir(), "mixed.json")
	if err := session.Save(sessionPath, s); err != nil {
		t.Fatalf("session save failed: %v", err)
	}

	result, err := eng.LoadSession(sessionPath)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if _, failed := result.Failed["gone.csv"]; !failed {
		t.Errorf("missing file must fail its tab: %+v", result)
	}
	if _, ok := result.Restored["good.csv"]; !ok {
		t.Errorf("good tab must restore despite the failure: %+v", result)
	}
}

func TestIOCAutoTagging(t *testing.T) {
	eng := newTestEngine(t)

	path := writeCSV(t, "proc.csv",
		"timestamp,CommandLine\n"+
			"2024-01-01 10:00:00,cmd.exe /c powershell -enc AAAA\n"+
			"2024-01-01 11:00:00,notepad.exe\n")
	tab, err := eng.ImportAndWait(path, "")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	result, err := eng.MatchIOCs(tab.ID, nil, []string{"cmd.exe", "powershell"}, "ioc-hit")
	if err != nil {
		t.Fatalf("MatchIOCs failed: %v", err)
	}
	if len(result.MatchedRows) != 1 {
		t.Fatalf("matched = %v", result.MatchedRows)
	}

	tags, err := eng.TagLabels(tab.ID)
	if err != nil {
		t.Fatalf("TagLabels failed: %v", err)
	}
	if len(tags) != 1 || tags[0] != "ioc-hit" {
		t.Errorf("auto-tag labels = %v", tags)
	}
}
