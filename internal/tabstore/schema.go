package tabstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Headers arrive from arbitrary artifacts: duplicated, empty, or hostile
// to SQL. They are never interpolated into statements; each header maps to
// an opaque safe identifier c0, c1, ... used for SQL generation.

// timestampColRe classifies a header as a timestamp column by name.
var timestampColRe = regexp.MustCompile(`(?i)(time|date|timestamp|created|modified|accessed|when|start|end|written)`)

// SanitizeHeaders replaces empty headers with "Column" and deduplicates
// repeats by suffixing _N with a per-name counter.
func SanitizeHeaders(headers []string) []string {
	out := make([]string, 0, len(headers))
	seen := make(map[string]int, len(headers))
	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Column"
		}
		if n, dup := seen[h]; dup {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n)
		} else {
			seen[h] = 1
		}
		out = append(out, h)
	}
	return out
}

// IsTimestampHeader reports whether a header names a timestamp column.
func IsTimestampHeader(header string) bool {
	return timestampColRe.MatchString(header)
}

func safeColumn(i int) string {
	return fmt.Sprintf("c%d", i)
}

// rowsTableDDL builds the main row table. AUTOINCREMENT keeps row ids
// monotone and never reused within a tab.
func rowsTableDDL(ncols int) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE rows (id INTEGER PRIMARY KEY AUTOINCREMENT")
	for i := 0; i < ncols; i++ {
		b.WriteString(", ")
		b.WriteString(safeColumn(i))
		b.WriteString(" TEXT")
	}
	b.WriteString(")")
	return b.String()
}

// auxSchema holds the per-tab companion tables.
const auxSchema = `
CREATE TABLE IF NOT EXISTS bookmarks (
	row_id INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS tags (
	row_id INTEGER NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (row_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS color_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position INTEGER NOT NULL,
	column_name TEXT NOT NULL,
	condition TEXT NOT NULL,
	value TEXT,
	bg_color TEXT,
	fg_color TEXT
);
`

// importPragmas tune the store for one writer streaming bulk inserts.
// No journaling, no fsync: the store is scratch and rebuilt on failure.
var importPragmas = []string{
	"PRAGMA journal_mode = OFF",
	"PRAGMA synchronous = OFF",
	"PRAGMA cache_size = -262144",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA locking_mode = EXCLUSIVE",
}

// queryPragmas switch the store to interactive reads after finalize.
var queryPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -65536",
	"PRAGMA mmap_size = 268435456",
	"PRAGMA locking_mode = NORMAL",
}

// pageSizePragma must run before the first table is created.
const pageSizePragma = "PRAGMA page_size = 8192"

// maxHostParams is SQLite's bound-parameter ceiling (SQLITE_MAX_VARIABLE_NUMBER
// for the bundled build). Multi-row inserts size themselves against it.
const maxHostParams = 32766

// annotationBatch caps row-id lists in bookmark/tag lookups.
const annotationBatch = 5000
