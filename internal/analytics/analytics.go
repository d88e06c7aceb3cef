// Package analytics implements the forensic analytics that run against
// a tab store under the current filter: histograms, gap and burst
// detection, log-source coverage, value stacking, IOC matching, and the
// merged super-timeline. All temporal math goes through the registered
// normalization functions so heterogeneous timestamp formats land on
// one axis.
package analytics

import (
	"fmt"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var log = logging.GetLogger("analytics")

// Granularity selects histogram bucketing.
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityHour Granularity = "hour"
)

// Bucket is one histogram bar.
type Bucket struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Histogram buckets the filtered rows of a timestamp column by day or
// hour, sorted ascending. Unparseable timestamps drop out (the
// normalization functions return NULL for them).
func Histogram(tab *tabstore.Tab, m *filter.Model, column string, gran Granularity) ([]Bucket, error) {
	safe, ok := tab.SafeColumn(column)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", column)
	}

	var expr string
	switch gran {
	case GranularityHour:
		// First 13 chars of "YYYY-MM-DD HH:MM" = "YYYY-MM-DD HH".
		expr = fmt.Sprintf("substr(extract_datetime_minute(%s), 1, 13)", safe)
	default:
		expr = fmt.Sprintf("extract_date(%s)", safe)
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	where := "WHERE " + expr + " IS NOT NULL"
	if compiled.Fragment != "" {
		where += " AND (" + compiled.Fragment + ")"
	}
	q := fmt.Sprintf("SELECT %s AS bucket, COUNT(*) FROM rows %s GROUP BY bucket ORDER BY bucket", expr, where)

	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("histogram query failed: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, fmt.Errorf("histogram scan failed: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// minuteBuckets returns (minute label, count) pairs for the filtered
// rows, ascending. Shared by gap and burst analysis.
func minuteBuckets(tab *tabstore.Tab, m *filter.Model, column string) ([]Bucket, error) {
	safe, ok := tab.SafeColumn(column)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", column)
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	expr := fmt.Sprintf("extract_datetime_minute(%s)", safe)
	where := "WHERE " + expr + " IS NOT NULL"
	if compiled.Fragment != "" {
		where += " AND (" + compiled.Fragment + ")"
	}
	q := fmt.Sprintf("SELECT %s AS minute, COUNT(*) FROM rows %s GROUP BY minute ORDER BY minute", expr, where)

	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("minute bucket query failed: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, fmt.Errorf("minute bucket scan failed: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SourceCoverage is one log source's slice of the timeline.
type SourceCoverage struct {
	Source   string `json:"source"`
	Count    int64  `json:"count"`
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// CoverageResult feeds the Gantt-style source coverage view.
type CoverageResult struct {
	Sources        []SourceCoverage `json:"sources"`
	GlobalEarliest string           `json:"globalEarliest"`
	GlobalLatest   string           `json:"globalLatest"`
}

// Coverage groups the filtered rows by source column and reports each
// source's count and time extent plus the global extent.
func Coverage(tab *tabstore.Tab, m *filter.Model, sourceColumn, timeColumn string) (*CoverageResult, error) {
	srcSafe, ok := tab.SafeColumn(sourceColumn)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", sourceColumn)
	}
	tsSafe, ok := tab.SafeColumn(timeColumn)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", timeColumn)
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	tsExpr := fmt.Sprintf("extract_datetime_minute(%s)", tsSafe)
	q := fmt.Sprintf(
		"SELECT COALESCE(%s, ''), COUNT(*), COALESCE(MIN(%s), ''), COALESCE(MAX(%s), '') FROM rows%s GROUP BY 1 ORDER BY 2 DESC",
		srcSafe, tsExpr, tsExpr, compiled.WherePrefix())

	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("coverage query failed: %w", err)
	}
	defer rows.Close()

	result := &CoverageResult{}
	for rows.Next() {
		var sc SourceCoverage
		if err := rows.Scan(&sc.Source, &sc.Count, &sc.Earliest, &sc.Latest); err != nil {
			return nil, fmt.Errorf("coverage scan failed: %w", err)
		}
		result.Sources = append(result.Sources, sc)
		if sc.Earliest != "" && (result.GlobalEarliest == "" || sc.Earliest < result.GlobalEarliest) {
			result.GlobalEarliest = sc.Earliest
		}
		if sc.Latest > result.GlobalLatest {
			result.GlobalLatest = sc.Latest
		}
	}
	return result, rows.Err()
}

// StackedValue is one row of a stacking result.
type StackedValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// StackingResult bounds the group-by to a value cap and reports when
// the cap truncated the result.
type StackingResult struct {
	Values    []StackedValue `json:"values"`
	Truncated bool           `json:"truncated"`
}

// Stacking groups the filtered rows by a chosen column. Sorted by count
// descending by default, or value ascending when byValue is set.
func Stacking(tab *tabstore.Tab, m *filter.Model, column string, byValue bool, cap int) (*StackingResult, error) {
	safe, ok := tab.SafeColumn(column)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", column)
	}
	if cap <= 0 {
		cap = 10000
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	order := "ORDER BY n DESC, v"
	if byValue {
		order = "ORDER BY v"
	}
	// One extra row detects truncation.
	q := fmt.Sprintf(
		"SELECT COALESCE(%s, '') AS v, COUNT(*) AS n FROM rows%s GROUP BY v %s LIMIT %d",
		safe, compiled.WherePrefix(), order, cap+1)

	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("stacking query failed: %w", err)
	}
	defer rows.Close()

	result := &StackingResult{}
	for rows.Next() {
		var sv StackedValue
		if err := rows.Scan(&sv.Value, &sv.Count); err != nil {
			return nil, fmt.Errorf("stacking scan failed: %w", err)
		}
		result.Values = append(result.Values, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(result.Values) > cap {
		result.Values = result.Values[:cap]
		result.Truncated = true
	}
	return result, nil
}
