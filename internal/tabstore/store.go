package tabstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/r3nzsec/irflow-timeline/internal/logging"
)

var (
	// ErrTabNotFound is returned by the registry for unknown tab ids.
	ErrTabNotFound = errors.New("tab not found")

	// ErrBuildInProgress is returned when a mutation arrives while a
	// background index or FTS build holds the store.
	ErrBuildInProgress = errors.New("background build in progress")
)

// numericSampleSize rows are examined per column when classifying
// numeric columns during finalize.
const numericSampleSize = 100

// numericThreshold is the fraction of sampled values that must parse as
// a full number for a column to classify as numeric.
const numericThreshold = 0.8

// Tab owns one embedded scratch database holding the rows of a single
// imported artifact, plus bookmarks, tags, and color rules. The store is
// single-writer by construction: the scheduler serializes all operations
// for a tab.
type Tab struct {
	ID         string
	Name       string
	SourcePath string

	db   *sql.DB
	path string

	headers      []string
	safeByHeader map[string]string
	headerBySafe map[string]string

	mu            sync.RWMutex
	timestampCols map[string]struct{} // keyed by header
	numericCols   map[string]struct{} // keyed by header
	sortIndexes   map[string]struct{} // keyed by safe column
	ftsReady      bool
	building      bool
	finalized     bool
	rowCount      int64
	closed        bool

	// Count cache: one (WHERE signature, count) pair per tab.
	countSig   string
	countValue int64
	countOK    bool

	log *logging.Logger
}

// Create allocates a fresh scratch store for the given headers. Headers
// are sanitized before the schema is built; the tab keeps both the
// original order and the header-to-safe-identifier mapping.
func Create(dir, id, name, sourcePath string, headers []string) (*Tab, error) {
	registerDriver()

	if len(headers) == 0 {
		return nil, fmt.Errorf("cannot create tab %q: no columns", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	headers = SanitizeHeaders(headers)
	path := filepath.Join(dir, id+".db")

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab store: %w", err)
	}
	// One connection: the scratch store is single-writer and the import
	// pragmas (exclusive locking) assume a single handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(pageSizePragma); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set page size: %w", err)
	}
	for _, pragma := range importPragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply import pragma: %w", err)
		}
	}

	if _, err := db.Exec(rowsTableDDL(len(headers))); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create row table: %w", err)
	}
	if _, err := db.Exec(auxSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create companion tables: %w", err)
	}

	t := &Tab{
		ID:            id,
		Name:          name,
		SourcePath:    sourcePath,
		db:            db,
		path:          path,
		headers:       headers,
		safeByHeader:  make(map[string]string, len(headers)),
		headerBySafe:  make(map[string]string, len(headers)),
		timestampCols: make(map[string]struct{}),
		numericCols:   make(map[string]struct{}),
		sortIndexes:   make(map[string]struct{}),
		log:           logging.GetLogger("tabstore").With("tab", id),
	}
	for i, h := range headers {
		safe := safeColumn(i)
		t.safeByHeader[h] = safe
		t.headerBySafe[safe] = h
		if IsTimestampHeader(h) {
			t.timestampCols[h] = struct{}{}
		}
	}

	t.log.Info("tab store created", "name", name, "columns", len(headers), "path", path)
	return t, nil
}

// DB exposes the underlying handle to the query, search, and analytics
// packages. Callers must not mutate schema.
func (t *Tab) DB() *sql.DB { return t.db }

// Headers returns the sanitized headers in insertion order.
func (t *Tab) Headers() []string {
	out := make([]string, len(t.headers))
	copy(out, t.headers)
	return out
}

// SafeColumn maps a header to its opaque SQL identifier.
func (t *Tab) SafeColumn(header string) (string, bool) {
	safe, ok := t.safeByHeader[header]
	return safe, ok
}

// HeaderFor maps a safe identifier back to its header.
func (t *Tab) HeaderFor(safe string) (string, bool) {
	h, ok := t.headerBySafe[safe]
	return h, ok
}

// SafeColumns returns all safe identifiers in column order.
func (t *Tab) SafeColumns() []string {
	out := make([]string, len(t.headers))
	for i := range t.headers {
		out[i] = safeColumn(i)
	}
	return out
}

// IsTimestamp reports whether the header classified as a timestamp column.
func (t *Tab) IsTimestamp(header string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.timestampCols[header]
	return ok
}

// IsNumeric reports whether the header classified as a numeric column.
func (t *Tab) IsNumeric(header string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.numericCols[header]
	return ok
}

// TimestampColumns returns the headers classified as timestamps, in
// column order.
func (t *Tab) TimestampColumns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, h := range t.headers {
		if _, ok := t.timestampCols[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

// RowCount returns the number of inserted rows.
func (t *Tab) RowCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowCount
}

// InsertBatch bulk-inserts rows supplied as a flat array in column order
// (row-major). The batch is atomic; row ids are assigned in call order.
// A multi-row INSERT is sized to the host-parameter limit, with the
// remainder inserted row by row.
func (t *Tab) InsertBatch(flat []string) error {
	ncols := len(t.headers)
	if ncols == 0 || len(flat)%ncols != 0 {
		return fmt.Errorf("flat batch length %d is not a multiple of %d columns", len(flat), ncols)
	}
	nrows := len(flat) / ncols
	if nrows == 0 {
		return nil
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	cols := strings.Join(t.SafeColumns(), ", ")
	oneRow := "(" + strings.TrimSuffix(strings.Repeat("?, ", ncols), ", ") + ")"

	// Widest multi-row insert that fits the parameter limit.
	rowsPerStmt := maxHostParams / ncols
	if rowsPerStmt > nrows {
		rowsPerStmt = nrows
	}

	if rowsPerStmt > 1 {
		wide := fmt.Sprintf("INSERT INTO rows (%s) VALUES %s", cols,
			strings.TrimSuffix(strings.Repeat(oneRow+",", rowsPerStmt), ","))
		stmt, err := tx.Prepare(wide)
		if err != nil {
			return fmt.Errorf("failed to prepare bulk insert: %w", err)
		}
		args := make([]interface{}, rowsPerStmt*ncols)
		full := nrows / rowsPerStmt
		for i := 0; i < full; i++ {
			base := i * rowsPerStmt * ncols
			for j := range args {
				args[j] = flat[base+j]
			}
			if _, err := stmt.Exec(args...); err != nil {
				stmt.Close()
				return fmt.Errorf("bulk insert failed: %w", err)
			}
		}
		stmt.Close()
		flat = flat[full*rowsPerStmt*ncols:]
	}

	// Remainder one row at a time.
	if len(flat) > 0 {
		single := fmt.Sprintf("INSERT INTO rows (%s) VALUES %s", cols, oneRow)
		stmt, err := tx.Prepare(single)
		if err != nil {
			return fmt.Errorf("failed to prepare row insert: %w", err)
		}
		args := make([]interface{}, ncols)
		for base := 0; base < len(flat); base += ncols {
			for j := 0; j < ncols; j++ {
				args[j] = flat[base+j]
			}
			if _, err := stmt.Exec(args...); err != nil {
				stmt.Close()
				return fmt.Errorf("row insert failed: %w", err)
			}
		}
		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert batch: %w", err)
	}

	t.mu.Lock()
	t.rowCount += int64(nrows)
	t.mu.Unlock()
	return nil
}

// Finalize classifies numeric columns from a sample of the first rows
// and switches the store from import pragmas to query pragmas. Indexes
// and FTS are NOT built here; they run as background jobs after the
// import queue drains.
func (t *Tab) Finalize() error {
	if err := t.classifyNumericColumns(); err != nil {
		return err
	}

	// Exclusive locking must drop before WAL can take over.
	for _, pragma := range queryPragmas {
		if _, err := t.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply query pragma: %w", err)
		}
	}

	t.mu.Lock()
	t.finalized = true
	t.mu.Unlock()
	t.log.Info("tab finalized", "rows", t.RowCount(), "numeric_columns", len(t.numericCols))
	return nil
}

// classifyNumericColumns samples the first non-empty values of each
// column; a column is numeric when at least 80% of the sample parses as
// a full number. Timestamp columns are excluded up front: a date like
// 2026-01-17 would otherwise parse as the number 2026. A column whose
// name missed the timestamp regex but whose sampled values are clearly
// dates joins the timestamp set instead (pure-digit values never count,
// so event-id columns stay numeric).
func (t *Tab) classifyNumericColumns() error {
	for i, h := range t.headers {
		if _, isTS := t.timestampCols[h]; isTS {
			continue
		}
		col := safeColumn(i)
		rows, err := t.db.Query(fmt.Sprintf(
			"SELECT %s FROM rows WHERE %s IS NOT NULL AND %s != '' LIMIT %d",
			col, col, col, numericSampleSize))
		if err != nil {
			return fmt.Errorf("numeric sampling failed for column %s: %w", h, err)
		}

		total, numeric, datelike := 0, 0, 0
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return fmt.Errorf("numeric sampling scan failed: %w", err)
			}
			total++
			switch {
			case parseFullNumber(v):
				numeric++
			default:
				if _, ok := parseTimestamp(v); ok {
					datelike++
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("numeric sampling failed: %w", err)
		}
		rows.Close()

		if total == 0 {
			continue
		}
		switch {
		case float64(datelike)/float64(total) >= numericThreshold:
			t.mu.Lock()
			t.timestampCols[h] = struct{}{}
			t.mu.Unlock()
		case float64(numeric)/float64(total) >= numericThreshold:
			t.mu.Lock()
			t.numericCols[h] = struct{}{}
			t.mu.Unlock()
		}
	}
	return nil
}

// BeginBuild marks a background build as running. While set, bookmark and
// tag mutations are no-ops (callers poll readiness).
func (t *Tab) BeginBuild() {
	t.mu.Lock()
	t.building = true
	t.mu.Unlock()
}

// EndBuild clears the background-build gate.
func (t *Tab) EndBuild() {
	t.mu.Lock()
	t.building = false
	t.mu.Unlock()
}

// Building reports whether a background build holds the store.
func (t *Tab) Building() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.building
}

// FTSReady reports whether the full-text index is complete. Search falls
// back to LIKE until it is.
func (t *Tab) FTSReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ftsReady
}

// Closed reports whether the tab has been closed. Background builds check
// this between units of work.
func (t *Tab) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// CachedCount returns the cached count for a WHERE signature, if the
// cache holds exactly that signature.
func (t *Tab) CachedCount(sig string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.countOK && t.countSig == sig {
		return t.countValue, true
	}
	return 0, false
}

// StoreCount replaces the cached (signature, count) pair.
func (t *Tab) StoreCount(sig string, n int64) {
	t.mu.Lock()
	t.countSig = sig
	t.countValue = n
	t.countOK = true
	t.mu.Unlock()
}

// InvalidateCount drops the count cache. Every mutation that can change
// filter membership calls this.
func (t *Tab) InvalidateCount() {
	t.mu.Lock()
	t.countOK = false
	t.mu.Unlock()
}

// Close optimizes, closes, and deletes the backing store along with any
// journal and shared-memory companions. No error is fatal: the scratch
// files are best-effort cleanup.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if _, err := t.db.Exec("PRAGMA optimize"); err != nil {
		t.log.Debug("optimize on close failed", "error", err)
	}
	if err := t.db.Close(); err != nil {
		t.log.Debug("store close failed", "error", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(t.path + suffix); err != nil && !os.IsNotExist(err) {
			t.log.Debug("scratch file removal failed", "path", t.path+suffix, "error", err)
		}
	}
	t.log.Info("tab closed", "name", t.Name)
}
