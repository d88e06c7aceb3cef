package query

import (
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

// TestWindowedFetch covers the basic ingest-then-query flow: two rows,
// sorted by timestamp ascending, no filters.
func TestWindowedFetch(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp", "computer", "event"},
		[][]string{
			{"2024-01-01 00:00:01", "HOST", "4624"},
			{"2024-01-01 00:00:02", "HOST", "4625"},
		})

	result, err := Fetch(tab, &Request{
		SortColumn: "timestamp",
		SortDir:    "asc",
		Offset:     0,
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.TotalFiltered != 2 {
		t.Errorf("TotalFiltered = %d, want 2", result.TotalFiltered)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(result.Rows))
	}
	if result.Rows[0].Cells[2] != "4624" || result.Rows[1].Cells[2] != "4625" {
		t.Errorf("rows out of order: %v, %v", result.Rows[0].Cells, result.Rows[1].Cells)
	}
}

// TestTimestampSortBeatsNumericMisclassification: a column of ISO dates
// must sort chronologically, not as numbers truncated at the first dash.
func TestTimestampSortBeatsNumericMisclassification(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"ts"},
		[][]string{{"2025-01-01"}, {"2024-12-31"}})

	if tab.IsNumeric("ts") {
		t.Fatal("ts classified numeric; timestamp exclusion failed")
	}
	if !tab.IsTimestamp("ts") {
		t.Fatal("ts must classify as a timestamp column")
	}

	result, err := Fetch(tab, &Request{SortColumn: "ts", SortDir: "asc", Limit: 10})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Rows[0].Cells[0] != "2024-12-31" {
		t.Errorf("ascending sort put %q first, want 2024-12-31", result.Rows[0].Cells[0])
	}
}

func TestFetchAnnotations(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"a"},
		[][]string{{"1"}, {"2"}})

	if _, err := tab.ToggleBookmark(1); err != nil {
		t.Fatalf("bookmark failed: %v", err)
	}
	if err := tab.AddTag(2, "ioc"); err != nil {
		t.Fatalf("tag failed: %v", err)
	}

	result, err := Fetch(tab, &Request{Limit: 10})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Rows[0].Bookmarked || result.Rows[1].Bookmarked {
		t.Error("bookmark annotations wrong")
	}
	if len(result.Rows[1].Tags) != 1 || result.Rows[1].Tags[0] != "ioc" {
		t.Errorf("tag annotations wrong: %v", result.Rows[1].Tags)
	}
}

// TestCountCacheMatchesFreshCount verifies the cache invariant: a
// cached count equals a fresh count for the same signature.
func TestCountCacheMatchesFreshCount(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"event"},
		[][]string{{"4624"}, {"4625"}, {"4624"}})

	m := &filter.Model{Columns: map[string]string{"event": "4624"}}
	compiled, err := filter.Compile(tab, m)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	first, err := CountFiltered(tab, compiled)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	cached, err := CountFiltered(tab, compiled)
	if err != nil {
		t.Fatalf("cached count failed: %v", err)
	}
	if first != cached || first != 2 {
		t.Errorf("counts diverge: first=%d cached=%d want 2", first, cached)
	}

	// Mutations invalidate; recount still agrees.
	if _, err := tab.ToggleBookmark(1); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	again, err := CountFiltered(tab, compiled)
	if err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	if again != 2 {
		t.Errorf("recount = %d, want 2", again)
	}
}

// TestUniqueValuesExcludesOwnCheckboxFilter: selecting a value in a
// column's dropdown must not hide the other candidate values.
func TestUniqueValuesExcludesOwnCheckboxFilter(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"host", "event"},
		[][]string{
			{"A", "1"}, {"A", "2"}, {"B", "1"}, {"C", "1"},
		})

	m := &filter.Model{Checkboxes: map[string][]string{"host": {"A"}}}

	values, err := UniqueValues(tab, m, "host", 10)
	if err != nil {
		t.Fatalf("UniqueValues failed: %v", err)
	}
	if len(values) != 3 {
		t.Errorf("dropdown lost candidates under its own filter: %v", values)
	}

	// The same filter still applies to other columns' dropdowns.
	values, err = UniqueValues(tab, m, "event", 10)
	if err != nil {
		t.Fatalf("UniqueValues failed: %v", err)
	}
	if len(values) != 2 {
		t.Errorf("expected 2 event values under host=A, got %v", values)
	}
}

func TestGroupValues(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"host", "event"},
		[][]string{
			{"A", "1"}, {"A", "2"}, {"A", "2"}, {"B", "1"},
		})

	top, err := GroupValues(tab, nil, []string{"host", "event"}, nil)
	if err != nil {
		t.Fatalf("GroupValues failed: %v", err)
	}
	if len(top) != 2 || top[0].Value != "A" || top[0].Count != 3 {
		t.Errorf("top level groups wrong: %v", top)
	}

	nested, err := GroupValues(tab, nil, []string{"host", "event"}, []string{"A"})
	if err != nil {
		t.Fatalf("GroupValues nested failed: %v", err)
	}
	if len(nested) != 2 || nested[0].Value != "2" || nested[0].Count != 2 {
		t.Errorf("nested groups wrong: %v", nested)
	}
}
