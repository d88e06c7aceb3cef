package analytics

import (
	"fmt"
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

// TestBurstDetection: 5 events per minute for 19 minutes, then 60
// events in minute 20. Window 1 minute, multiplier 5. Baseline is the
// median window count (5), threshold 25, and minute 20 is the single
// burst window with factor 60 / (1 × 5) = 12.
func TestBurstDetection(t *testing.T) {
	var rows [][]string
	for minute := 0; minute < 19; minute++ {
		for i := 0; i < 5; i++ {
			rows = append(rows, []string{fmt.Sprintf("2024-01-01 10:%02d:%02d", minute, i)})
		}
	}
	for i := 0; i < 60; i++ {
		rows = append(rows, []string{fmt.Sprintf("2024-01-01 10:19:%02d", i%60)})
	}
	tab := testutil.NewPopulatedTab(t, []string{"timestamp"}, rows)

	result, err := Bursts(tab, nil, "timestamp", 1, 5)
	if err != nil {
		t.Fatalf("Bursts failed: %v", err)
	}

	if result.Baseline != 5 {
		t.Errorf("baseline = %v, want 5", result.Baseline)
	}
	if result.Threshold != 25 {
		t.Errorf("threshold = %v, want 25", result.Threshold)
	}
	if len(result.Periods) != 1 {
		t.Fatalf("got %d burst periods, want 1: %+v", len(result.Periods), result.Periods)
	}

	p := result.Periods[0]
	if p.EventCount != 60 {
		t.Errorf("eventCount = %d, want 60", p.EventCount)
	}
	if p.BurstFactor != 12.0 {
		t.Errorf("burstFactor = %v, want 12.0", p.BurstFactor)
	}
	if p.WindowCount != 1 {
		t.Errorf("windowCount = %d, want 1", p.WindowCount)
	}
	if p.PeakRate != 60 {
		t.Errorf("peakRate = %d, want 60", p.PeakRate)
	}

	if len(result.Sparkline) != 20 {
		t.Errorf("sparkline has %d windows, want 20", len(result.Sparkline))
	}
	bursts := 0
	for _, w := range result.Sparkline {
		if w.IsBurst {
			bursts++
		}
	}
	if bursts != 1 {
		t.Errorf("%d sparkline windows flagged, want 1", bursts)
	}
}

// TestBurstAdjacentWindowsMerge: two adjacent hot windows become one
// period.
func TestBurstAdjacentWindowsMerge(t *testing.T) {
	var rows [][]string
	for minute := 0; minute < 10; minute++ {
		rows = append(rows, []string{fmt.Sprintf("2024-01-01 09:%02d:00", minute)})
	}
	for _, minute := range []int{10, 11} {
		for i := 0; i < 30; i++ {
			rows = append(rows, []string{fmt.Sprintf("2024-01-01 09:%02d:%02d", minute, i)})
		}
	}
	tab := testutil.NewPopulatedTab(t, []string{"timestamp"}, rows)

	result, err := Bursts(tab, nil, "timestamp", 1, 5)
	if err != nil {
		t.Fatalf("Bursts failed: %v", err)
	}
	if len(result.Periods) != 1 {
		t.Fatalf("adjacent burst windows must merge, got %d periods", len(result.Periods))
	}
	p := result.Periods[0]
	if p.WindowCount != 2 || p.EventCount != 60 {
		t.Errorf("merged period = %+v", p)
	}
	if p.DurationMinutes != 2 {
		t.Errorf("duration = %d minutes, want 2", p.DurationMinutes)
	}
}

func TestBurstsEmptyInput(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, []string{"timestamp"}, nil)
	result, err := Bursts(tab, nil, "timestamp", 1, 5)
	if err != nil {
		t.Fatalf("Bursts failed: %v", err)
	}
	if len(result.Periods) != 0 || len(result.Sparkline) != 0 {
		t.Errorf("empty input produced %+v", result)
	}
}
