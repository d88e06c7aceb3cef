package ingest

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("fixture write failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, p Parser) [][]string {
	t.Helper()
	var out [][]string
	ncols := len(p.Headers())
	for {
		batch, err := p.ReadBatch(10)
		if batch != nil {
			for i := 0; i < batch.Rows; i++ {
				out = append(out, batch.Flat[i*ncols:(i+1)*ncols])
			}
		}
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("ReadBatch failed: %v", err)
		}
	}
}

func TestDetectDelimiter(t *testing.T) {
	cases := []struct {
		line string
		want rune
	}{
		{"a\tb\tc", '\t'},
		{"a|b|c", '|'},
		{"a,b,c", ','},
		{"a\tb|c,d", '\t'}, // tab wins over pipe and comma
		{"a|b,c", '|'},     // pipe wins over comma
		{"justone", ','},
	}
	for _, tc := range cases {
		if got := detectDelimiter(tc.line); got != tc.want {
			t.Errorf("detectDelimiter(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}

func TestDelimitedCSV(t *testing.T) {
	path := writeFile(t, "events.csv",
		"timestamp,computer,event\r\n"+
			"2024-01-01 00:00:01,HOST,4624\r\n"+
			"\r\n"+ // blank line skipped
			"\"2024-01-01 00:00:02\",\"HO,ST\",\"say \"\"hi\"\"\"\r\n")

	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	headers := p.Headers()
	if len(headers) != 3 || headers[0] != "timestamp" {
		t.Fatalf("headers = %v", headers)
	}

	rows := readAll(t, p)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1][1] != "HO,ST" {
		t.Errorf("quoted comma mishandled: %q", rows[1][1])
	}
	if rows[1][2] != `say "hi"` {
		t.Errorf("doubled quote mishandled: %q", rows[1][2])
	}
}

func TestDelimitedTSVAndPSV(t *testing.T) {
	tsv := writeFile(t, "events.tsv", "a\tb\n1\t2\n")
	p, err := Open(tsv, Options{})
	if err != nil {
		t.Fatalf("Open tsv failed: %v", err)
	}
	rows := readAll(t, p)
	p.Close()
	if len(rows) != 1 || rows[0][0] != "1" || rows[0][1] != "2" {
		t.Errorf("tsv rows = %v", rows)
	}

	psv := writeFile(t, "events.log", "a|b\n1|2\n")
	p, err = Open(psv, Options{})
	if err != nil {
		t.Fatalf("Open psv failed: %v", err)
	}
	rows = readAll(t, p)
	p.Close()
	if len(rows) != 1 || rows[0][1] != "2" {
		t.Errorf("psv rows = %v", rows)
	}
}

func TestDelimitedRaggedRows(t *testing.T) {
	path := writeFile(t, "ragged.csv", "a,b,c\n1,2\n1,2,3,4\n")
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	rows := readAll(t, p)
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0][2] != "" {
		t.Errorf("short row not padded: %v", rows[0])
	}
	if len(rows[1]) != 3 {
		t.Errorf("long row not truncated: %v", rows[1])
	}
}

func TestDelimitedBOM(t *testing.T) {
	path := writeFile(t, "bom.csv", "\xEF\xBB\xBFa,b\n1,2\n")
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()
	if p.Headers()[0] != "a" {
		t.Errorf("BOM not stripped from first header: %q", p.Headers()[0])
	}
}

func TestDelimitedMissingHeader(t *testing.T) {
	empty := writeFile(t, "empty.csv", "")
	if _, err := Open(empty, Options{}); err == nil {
		t.Error("empty file must fail header discovery")
	}

	blank := writeFile(t, "blank.csv", "\n\n\n")
	if _, err := Open(blank, Options{}); err == nil {
		t.Error("blank file must fail header discovery")
	}
}

func TestOpenUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "blob.bin", "xx")
	if _, err := Open(path, Options{}); err == nil {
		t.Error("unsupported extension must be rejected")
	}
}

func TestDelimitedProgress(t *testing.T) {
	path := writeFile(t, "p.csv", "a,b\n1,2\n3,4\n")
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	readAll(t, p)
	if frac := p.Progress(); frac <= 0 || frac > 1 {
		t.Errorf("Progress = %v, want (0, 1]", frac)
	}
}
