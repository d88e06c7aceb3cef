package export

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/ingest"
	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

func TestCSVExportQuoting(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"a", "b"},
		[][]string{
			{"plain", "with,comma"},
			{`say "hi"`, "line\nbreak"},
		})

	out := filepath.Join(t.TempDir(), "out.csv")
	n, err := Export(tab, Options{Format: FormatCSV, OutPath: out})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"with,comma"`) {
		t.Errorf("comma field not quoted: %s", content)
	}
	if !strings.Contains(content, `"say ""hi"""`) {
		t.Errorf("quotes not doubled: %s", content)
	}
}

func TestTSVExportEscaping(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"a"},
		[][]string{{"tab\there and\nnewline"}})

	out := filepath.Join(t.TempDir(), "out.tsv")
	if _, err := Export(tab, Options{Format: FormatTSV, OutPath: out}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	data, _ := os.ReadFile(out)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("tsv lines = %d: %q", len(lines), string(data))
	}
	if strings.ContainsAny(lines[1], "\t") && strings.Count(lines[1], "\t") != 0 {
		t.Errorf("tabs must be replaced by spaces: %q", lines[1])
	}
	if lines[1] != "tab here and newline" {
		t.Errorf("escaped row = %q", lines[1])
	}
}

// TestExportImportRoundTrip: exporting all rows unfiltered and
// re-importing yields the same row count and cell contents.
func TestExportImportRoundTrip(t *testing.T) {
	headers := []string{"timestamp", "computer", "note"}
	rows := [][]string{
		{"2024-01-01 00:00:01", "HOST-A", "has,comma"},
		{"2024-01-01 00:00:02", "HOST-B", `has "quote"`},
		{"2024-01-01 00:00:03", "HOST-C", ""},
	}
	tab := testutil.NewPopulatedTab(t, headers, rows)

	out := filepath.Join(t.TempDir(), "round.csv")
	if _, err := Export(tab, Options{Format: FormatCSV, OutPath: out}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	p, err := ingest.Open(out, ingest.Options{})
	if err != nil {
		t.Fatalf("re-import open failed: %v", err)
	}
	defer p.Close()

	if got := p.Headers(); len(got) != len(headers) || got[0] != "timestamp" {
		t.Fatalf("headers = %v", got)
	}

	var reread [][]string
	for {
		batch, err := p.ReadBatch(100)
		for i := 0; i < batch.Rows; i++ {
			reread = append(reread, batch.Flat[i*3:(i+1)*3])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("re-import read failed: %v", err)
		}
	}

	if len(reread) != len(rows) {
		t.Fatalf("round trip row count = %d, want %d", len(reread), len(rows))
	}
	for i, want := range rows {
		for j := range want {
			if reread[i][j] != want[j] {
				t.Errorf("cell [%d][%d] = %q, want %q", i, j, reread[i][j], want[j])
			}
		}
	}
}

func TestExportHonorsFilterAndSort(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp", "event"},
		[][]string{
			{"2024-01-02 00:00:00", "keep"},
			{"2024-01-01 00:00:00", "keep"},
			{"2024-01-03 00:00:00", "drop"},
		})

	out := filepath.Join(t.TempDir(), "filtered.csv")
	n, err := Export(tab, Options{
		Filter:     &filter.Model{Columns: map[string]string{"event": "keep"}},
		SortColumn: "timestamp",
		SortDir:    "asc",
		Format:     FormatCSV,
		OutPath:    out,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	data, _ := os.ReadFile(out)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.HasPrefix(lines[1], "2024-01-01") {
		t.Errorf("sort not applied: %v", lines)
	}
}

func TestXLSXExportRoundTrip(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"a", "b"},
		[][]string{{"1", "x"}, {"2", "y"}})

	out := filepath.Join(t.TempDir(), "out.xlsx")
	n, err := Export(tab, Options{Format: FormatXLSX, OutPath: out})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d", n)
	}

	p, err := ingest.Open(out, ingest.Options{})
	if err != nil {
		t.Fatalf("xlsx re-open failed: %v", err)
	}
	defer p.Close()
	if got := p.Headers(); len(got) != 2 || got[0] != "a" {
		t.Errorf("xlsx headers = %v", got)
	}
}

func TestReport(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp", "event"},
		[][]string{
			{"2024-01-01 10:00:00", "4624"},
			{"2024-01-02 11:00:00", "4688"},
		})

	if _, err := tab.ToggleBookmark(1); err != nil {
		t.Fatalf("bookmark failed: %v", err)
	}
	if err := tab.AddTag(2, "suspicious"); err != nil {
		t.Fatalf("tag failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "report.html")
	if err := Report(tab, out); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	html := string(data)

	for _, want := range []string{
		"Total rows", "Bookmarked", "Tagged rows", "Distinct tags",
		"Bookmarked events", "Tag: suspicious", "4624", "4688",
		"2024-01-01 10:00", "2024-01-02 11:00",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if !strings.Contains(html, "@media print") {
		t.Error("report must carry print styles")
	}
}
