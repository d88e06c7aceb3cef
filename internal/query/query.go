// Package query executes windowed row fetches against a tab store:
// filtered, sorted, offset/limit slices with bookmark and tag
// annotations, plus the unique-value and group-value queries backing
// the UI's dropdowns and grouping tree.
package query

import (
	"fmt"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var log = logging.GetLogger("query")

// Request describes one windowed fetch.
type Request struct {
	Filter     *filter.Model `json:"filter,omitempty"`
	SortColumn string        `json:"sortColumn,omitempty"`
	SortDir    string        `json:"sortDir,omitempty"` // asc | desc
	Offset     int64         `json:"offset"`
	Limit      int64         `json:"limit"`
}

// Row is one materialized row with its annotations.
type Row struct {
	ID         int64    `json:"id"`
	Cells      []string `json:"cells"`
	Bookmarked bool     `json:"bookmarked"`
	Tags       []string `json:"tags,omitempty"`
}

// Result is a window plus the total row count after filtering.
type Result struct {
	Rows          []Row `json:"rows"`
	TotalFiltered int64 `json:"totalFiltered"`
}

// Fetch runs the windowed query. The total count comes from the per-tab
// count cache when the WHERE signature matches; otherwise a fresh
// COUNT(*) replaces the cache entry.
func Fetch(tab *tabstore.Tab, req *Request) (*Result, error) {
	if req.Limit <= 0 {
		req.Limit = 100
	}

	compiled, err := filter.Compile(tab, req.Filter)
	if err != nil {
		return nil, err
	}

	total, err := CountFiltered(tab, compiled)
	if err != nil {
		return nil, err
	}

	orderBy, err := OrderClause(tab, req.SortColumn, req.SortDir)
	if err != nil {
		return nil, err
	}

	cols := strings.Join(tab.SafeColumns(), ", ")
	q := fmt.Sprintf("SELECT id, %s FROM rows%s%s LIMIT ? OFFSET ?",
		cols, compiled.WherePrefix(), orderBy)
	args := append(append([]interface{}{}, compiled.Args...), req.Limit, req.Offset)

	rows, err := tab.DB().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("windowed fetch failed: %w", err)
	}

	ncols := len(tab.Headers())
	result := &Result{TotalFiltered: total}
	var ids []int64
	for rows.Next() {
		r := Row{Cells: make([]string, ncols)}
		dest := make([]interface{}, ncols+1)
		dest[0] = &r.ID
		cells := make([]*string, ncols)
		for i := range cells {
			cells[i] = new(string)
			dest[i+1] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		for i, c := range cells {
			if c != nil {
				r.Cells[i] = *c
			}
		}
		result.Rows = append(result.Rows, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("windowed fetch failed: %w", err)
	}
	// The cursor must release the store's connection before the
	// annotation lookups run.
	rows.Close()

	// Annotate in batches that respect the host-parameter limit.
	if len(ids) > 0 {
		bookmarked, err := tab.BookmarkedIn(ids)
		if err != nil {
			return nil, err
		}
		tags, err := tab.TagsIn(ids)
		if err != nil {
			return nil, err
		}
		for i := range result.Rows {
			result.Rows[i].Bookmarked = bookmarked[result.Rows[i].ID]
			result.Rows[i].Tags = tags[result.Rows[i].ID]
		}
	}

	return result, nil
}

// CountFiltered returns the row count under a compiled filter, consulting
// the tab's count cache first.
func CountFiltered(tab *tabstore.Tab, compiled *filter.Compiled) (int64, error) {
	sig := compiled.Signature()
	if n, ok := tab.CachedCount(sig); ok {
		return n, nil
	}

	var n int64
	q := "SELECT COUNT(*) FROM rows" + compiled.WherePrefix()
	if err := tab.DB().QueryRow(q, compiled.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	tab.StoreCount(sig, n)
	return n, nil
}

// FilteredIDs streams the row ids matching a compiled filter, in id order.
func FilteredIDs(tab *tabstore.Tab, compiled *filter.Compiled) ([]int64, error) {
	q := "SELECT id FROM rows" + compiled.WherePrefix() + " ORDER BY id"
	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("id fetch failed: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("id scan failed: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// OrderClause picks the ORDER BY projection for a column: timestamp
// columns normalize through sort_datetime (checked before the numeric
// class, because timestamp strings can accidentally parse as numbers),
// numeric columns cast to REAL, everything else collates case-insensitively.
// The column's sort index is built lazily on first use.
func OrderClause(tab *tabstore.Tab, header, dir string) (string, error) {
	if header == "" {
		return " ORDER BY id", nil
	}
	safe, ok := tab.SafeColumn(header)
	if !ok {
		return "", fmt.Errorf("unknown sort column %q", header)
	}

	if err := tab.EnsureSortIndex(header); err != nil {
		// A failed index build slows the sort but does not break it.
		log.Warn("lazy index build failed", "column", header, "error", err)
	}

	var expr string
	switch {
	case tab.IsTimestamp(header):
		expr = fmt.Sprintf("sort_datetime(%s)", safe)
	case tab.IsNumeric(header):
		expr = fmt.Sprintf("CAST(%s AS REAL)", safe)
	default:
		expr = fmt.Sprintf("%s COLLATE NOCASE", safe)
	}

	direction := " ASC"
	if strings.EqualFold(dir, "desc") {
		direction = " DESC"
	}
	return " ORDER BY " + expr + direction + ", id", nil
}

// ValueCount pairs a cell value with its row count.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// UniqueValues returns the top values of a column under all filters
// except the checkbox filter on that same column, so already-checked
// values stay listed for deselection. NULL and empty collapse into the
// empty sentinel.
func UniqueValues(tab *tabstore.Tab, m *filter.Model, header string, limit int) ([]ValueCount, error) {
	safe, ok := tab.SafeColumn(header)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", header)
	}
	if limit <= 0 {
		limit = 1000
	}

	compiled, err := filter.CompileExcluding(tab, m, header)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(
		"SELECT COALESCE(%s, '') AS v, COUNT(*) AS n FROM rows%s GROUP BY v ORDER BY n DESC, v LIMIT ?",
		safe, compiled.WherePrefix())
	args := append(append([]interface{}{}, compiled.Args...), limit)

	rows, err := tab.DB().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("unique values query failed: %w", err)
	}
	defer rows.Close()

	var out []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, fmt.Errorf("unique values scan failed: %w", err)
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// GroupValues returns value+count per group column under the current
// filter, scoped to a parent group key tuple for multi-level grouping.
// groupColumns[:len(parentKey)] are the ancestor levels; the next column
// is the one being expanded.
func GroupValues(tab *tabstore.Tab, m *filter.Model, groupColumns []string, parentKey []string) ([]ValueCount, error) {
	if len(parentKey) >= len(groupColumns) {
		return nil, fmt.Errorf("parent key depth %d exceeds group columns %d", len(parentKey), len(groupColumns))
	}
	target := groupColumns[len(parentKey)]
	safe, ok := tab.SafeColumn(target)
	if !ok {
		return nil, fmt.Errorf("unknown group column %q", target)
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	clauses := []string{}
	args := append([]interface{}{}, compiled.Args...)
	if compiled.Fragment != "" {
		clauses = append(clauses, compiled.Fragment)
	}
	for i, v := range parentKey {
		parentSafe, ok := tab.SafeColumn(groupColumns[i])
		if !ok {
			return nil, fmt.Errorf("unknown group column %q", groupColumns[i])
		}
		clauses = append(clauses, fmt.Sprintf("COALESCE(%s, '') = ?", parentSafe))
		args = append(args, v)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	q := fmt.Sprintf(
		"SELECT COALESCE(%s, '') AS v, COUNT(*) AS n FROM rows%s GROUP BY v ORDER BY n DESC, v",
		safe, where)

	rows, err := tab.DB().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("group values query failed: %w", err)
	}
	defer rows.Close()

	var out []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, fmt.Errorf("group values scan failed: %w", err)
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}
