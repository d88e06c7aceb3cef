package ingest

import (
	"bytes"
	"compress/zlib"
	"database/sql"
	"io"
	"path/filepath"
	"testing"
)

// writePlasoFixture builds a minimal Plaso storage database: metadata,
// event, and event_data tables with JSON blobs, zlib-compressed when
// compressed is true.
func writePlasoFixture(t *testing.T, compressed bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "case.plaso")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("fixture open failed: %v", err)
	}
	defer db.Close()

	stmts := []string{
		"CREATE TABLE metadata (key TEXT, value TEXT)",
		"CREATE TABLE event (_identifier INTEGER PRIMARY KEY, _data BLOB)",
		"CREATE TABLE event_data (_identifier INTEGER PRIMARY KEY, _data BLOB)",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("fixture schema failed: %v", err)
		}
	}

	compression := "none"
	if compressed {
		compression = "ZLIB"
	}
	if _, err := db.Exec("INSERT INTO metadata VALUES ('format_version', '20230327')"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO metadata VALUES ('compression_format', ?)", compression); err != nil {
		t.Fatal(err)
	}

	encode := func(s string) []byte {
		if !compressed {
			return []byte(s)
		}
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write([]byte(s))
		zw.Close()
		return buf.Bytes()
	}

	// 1700000000000000 µs = 2023-11-14 22:13:20 UTC
	events := []string{
		`{"timestamp": 1700000000000000, "timestamp_desc": "Content Modification Time", "_event_data_row_identifier": 1}`,
		`{"timestamp": 1700000060000000, "timestamp_desc": "Creation Time", "_event_data_row_identifier": 2}`,
	}
	data := []string{
		`{"data_type": "fs:stat", "filename": "/Windows/System32/cmd.exe", "inode": "1234"}`,
		`{"data_type": "windows:registry", "key_path": "HKLM\\Run", "values": "x"}`,
	}
	for i, e := range events {
		if _, err := db.Exec("INSERT INTO event VALUES (?, ?)", i+1, encode(e)); err != nil {
			t.Fatal(err)
		}
	}
	for i, d := range data {
		if _, err := db.Exec("INSERT INTO event_data VALUES (?, ?)", i+1, encode(d)); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestPlasoParser(t *testing.T) {
	for _, compressed := range []bool{true, false} {
		name := "zlib"
		if !compressed {
			name = "uncompressed"
		}
		t.Run(name, func(t *testing.T) {
			p, err := Open(writePlasoFixture(t, compressed), Options{})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer p.Close()

			headers := p.Headers()
			if len(headers) < 3 || headers[0] != "datetime" ||
				headers[1] != "timestamp_desc" || headers[2] != "data_type" {
				t.Fatalf("headers = %v", headers)
			}
			// Discovered attribute columns follow the fixed prefix, sorted.
			hasFilename := false
			for _, h := range headers[3:] {
				if h == "filename" {
					hasFilename = true
				}
			}
			if !hasFilename {
				t.Errorf("discovered columns missing filename: %v", headers)
			}

			rows := readAll(t, p)
			if len(rows) != 2 {
				t.Fatalf("got %d rows", len(rows))
			}
			if rows[0][0] != "2023-11-14 22:13:20" {
				t.Errorf("datetime = %q", rows[0][0])
			}
			if rows[0][1] != "Content Modification Time" {
				t.Errorf("timestamp_desc = %q", rows[0][1])
			}
			if rows[0][2] != "fs:stat" {
				t.Errorf("data_type = %q", rows[0][2])
			}
			if rows[1][2] != "windows:registry" {
				t.Errorf("second data_type = %q", rows[1][2])
			}
		})
	}
}

func TestPlasoRejectsInvalidStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notplaso.plaso")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("CREATE TABLE junk (a TEXT)"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Open(path, Options{}); err == nil {
		t.Error("store without metadata must be rejected")
	}
}

func TestPlasoProgress(t *testing.T) {
	p, err := Open(writePlasoFixture(t, true), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	for {
		_, err := p.ReadBatch(1)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadBatch failed: %v", err)
		}
	}
	if frac := p.Progress(); frac != 1 {
		t.Errorf("Progress after EOF = %v, want 1", frac)
	}
}
