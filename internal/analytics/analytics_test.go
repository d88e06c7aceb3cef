package analytics

import (
	"fmt"
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

func TestHistogramDay(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp"},
		[][]string{
			{"2024-01-01 10:00:00"},
			{"2024-01-01 11:00:00"},
			{"2024-01-02 09:00:00"},
			{"garbage"},
		})

	buckets, err := Histogram(tab, nil, "timestamp", GranularityDay)
	if err != nil {
		t.Fatalf("Histogram failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets: %v", len(buckets), buckets)
	}
	if buckets[0].Label != "2024-01-01" || buckets[0].Count != 2 {
		t.Errorf("bucket 0 = %+v", buckets[0])
	}
	if buckets[1].Label != "2024-01-02" || buckets[1].Count != 1 {
		t.Errorf("bucket 1 = %+v", buckets[1])
	}
}

func TestHistogramHour(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp"},
		[][]string{
			{"2024-01-01 10:15:00"},
			{"2024-01-01 10:45:00"},
			{"2024-01-01 11:05:00"},
		})

	buckets, err := Histogram(tab, nil, "timestamp", GranularityHour)
	if err != nil {
		t.Fatalf("Histogram failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets: %v", len(buckets), buckets)
	}
	if buckets[0].Label != "2024-01-01 10" || buckets[0].Count != 2 {
		t.Errorf("hour bucket 0 = %+v", buckets[0])
	}
}

func TestHistogramHonorsFilter(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp", "event"},
		[][]string{
			{"2024-01-01 10:00:00", "4624"},
			{"2024-01-01 11:00:00", "4625"},
		})

	m := &filter.Model{Columns: map[string]string{"event": "4624"}}
	buckets, err := Histogram(tab, m, "timestamp", GranularityDay)
	if err != nil {
		t.Fatalf("Histogram failed: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Count != 1 {
		t.Errorf("filtered histogram = %v", buckets)
	}
}

func TestStackingAndTruncation(t *testing.T) {
	rows := make([][]string, 0, 30)
	for i := 0; i < 30; i++ {
		rows = append(rows, []string{fmt.Sprintf("value-%02d", i%20)})
	}
	tab := testutil.NewPopulatedTab(t, []string{"image"}, rows)

	result, err := Stacking(tab, nil, "image", false, 10)
	if err != nil {
		t.Fatalf("Stacking failed: %v", err)
	}
	if len(result.Values) != 10 {
		t.Errorf("cap not applied: %d values", len(result.Values))
	}
	if !result.Truncated {
		t.Error("truncation flag must be set when the cap hits")
	}

	full, err := Stacking(tab, nil, "image", false, 100)
	if err != nil {
		t.Fatalf("Stacking failed: %v", err)
	}
	if full.Truncated {
		t.Error("truncation flag set without truncation")
	}
	if len(full.Values) != 20 {
		t.Errorf("expected 20 distinct values, got %d", len(full.Values))
	}
	// Count-descending: the duplicated values lead.
	if full.Values[0].Count < full.Values[len(full.Values)-1].Count {
		t.Error("stacking not sorted by count descending")
	}
}

func TestCoverage(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"source", "timestamp"},
		[][]string{
			{"Security", "2024-01-01 00:00:00"},
			{"Security", "2024-01-03 00:00:00"},
			{"System", "2024-01-02 00:00:00"},
		})

	result, err := Coverage(tab, nil, "source", "timestamp")
	if err != nil {
		t.Fatalf("Coverage failed: %v", err)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("sources = %v", result.Sources)
	}
	if result.Sources[0].Source != "Security" || result.Sources[0].Count != 2 {
		t.Errorf("source 0 = %+v", result.Sources[0])
	}
	if result.GlobalEarliest != "2024-01-01 00:00" {
		t.Errorf("global earliest = %q", result.GlobalEarliest)
	}
	if result.GlobalLatest != "2024-01-03 00:00" {
		t.Errorf("global latest = %q", result.GlobalLatest)
	}
}
