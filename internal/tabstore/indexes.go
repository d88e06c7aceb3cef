package tabstore

import (
	"context"
	"fmt"
	"strings"
)

// Background builds are cooperative: each unit of work (one column's
// index, one FTS chunk) runs to completion and then yields so queued
// queries can take the store. Both builds check for tab closure between
// units.

// BuildSortIndexes creates one B-tree index per column, yielding between
// columns, then refreshes table statistics. Building an already-built
// index is a no-op (CREATE INDEX IF NOT EXISTS), so repeated builds are
// idempotent.
func (t *Tab) BuildSortIndexes(ctx context.Context, yield func()) error {
	t.BeginBuild()
	defer t.EndBuild()

	for i, h := range t.headers {
		if t.Closed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		col := safeColumn(i)
		if t.hasSortIndex(col) {
			continue
		}
		if _, err := t.db.Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_rows_%s ON rows(%s)", col, col)); err != nil {
			return fmt.Errorf("index build failed for column %s: %w", h, err)
		}
		t.markSortIndex(col)

		if yield != nil {
			yield()
		}
	}

	if t.Closed() {
		return nil
	}
	if _, err := t.db.Exec("ANALYZE"); err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	return nil
}

// EnsureSortIndex builds one column's index on demand. The query engine
// calls this on the first sort against a column the background job has
// not reached yet.
func (t *Tab) EnsureSortIndex(header string) error {
	safe, ok := t.safeByHeader[header]
	if !ok {
		return fmt.Errorf("unknown column %q", header)
	}
	if t.hasSortIndex(safe) {
		return nil
	}
	if _, err := t.db.Exec(fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_rows_%s ON rows(%s)", safe, safe)); err != nil {
		return fmt.Errorf("index build failed for column %s: %w", header, err)
	}
	t.markSortIndex(safe)
	return nil
}

func (t *Tab) hasSortIndex(safe string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sortIndexes[safe]
	return ok
}

func (t *Tab) markSortIndex(safe string) {
	t.mu.Lock()
	t.sortIndexes[safe] = struct{}{}
	t.mu.Unlock()
}

// BuildFTS creates a single contentless FTS5 index spanning all columns
// and populates it in chunks, yielding between chunks. Row ids are dense
// within a tab, so chunking walks fixed id ranges. While the build runs,
// search uses the LIKE fallback; FTSReady flips only after the last
// chunk lands.
func (t *Tab) BuildFTS(ctx context.Context, chunkRows int, yield func()) error {
	if chunkRows <= 0 {
		chunkRows = 200000
	}
	if t.FTSReady() {
		return nil
	}

	t.BeginBuild()
	defer t.EndBuild()

	cols := strings.Join(t.SafeColumns(), ", ")
	ddl := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS fts USING fts5(%s, content='', columnsize=0)", cols)
	if _, err := t.db.Exec(ddl); err != nil {
		return fmt.Errorf("fts table creation failed: %w", err)
	}

	total := t.RowCount()
	insert := fmt.Sprintf(
		"INSERT INTO fts(rowid, %s) SELECT id, %s FROM rows WHERE id > ? AND id <= ?", cols, cols)

	for last := int64(0); last < total; last += int64(chunkRows) {
		if t.Closed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.db.Exec(insert, last, last+int64(chunkRows)); err != nil {
			return fmt.Errorf("fts chunk insert failed: %w", err)
		}
		if yield != nil {
			yield()
		}
	}

	t.mu.Lock()
	t.ftsReady = true
	t.mu.Unlock()
	t.log.Info("fts build complete", "rows", total)
	return nil
}
