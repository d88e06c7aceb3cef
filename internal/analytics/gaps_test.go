package analytics

import (
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

func TestGapDetection(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp"},
		[][]string{
			{"2024-01-01 10:00:00"},
			{"2024-01-01 10:01:00"},
			{"2024-01-01 10:02:00"},
			// 3-hour silence
			{"2024-01-01 13:05:00"},
			{"2024-01-01 13:06:00"},
		})

	result, err := Gaps(tab, nil, "timestamp", 60)
	if err != nil {
		t.Fatalf("Gaps failed: %v", err)
	}

	if len(result.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2: %+v", len(result.Sessions), result.Sessions)
	}
	if len(result.Gaps) != 1 {
		t.Fatalf("got %d gaps, want 1: %+v", len(result.Gaps), result.Gaps)
	}

	s0 := result.Sessions[0]
	if s0.Start != "2024-01-01 10:00" || s0.End != "2024-01-01 10:02" || s0.EventCount != 3 {
		t.Errorf("session 0 = %+v", s0)
	}
	g := result.Gaps[0]
	if g.Start != "2024-01-01 10:02" || g.End != "2024-01-01 13:05" {
		t.Errorf("gap = %+v", g)
	}
	if g.DurationMinutes != 183 {
		t.Errorf("gap duration = %d, want 183", g.DurationMinutes)
	}
	s1 := result.Sessions[1]
	if s1.EventCount != 2 {
		t.Errorf("session 1 = %+v", s1)
	}
}

func TestGapsBelowThresholdIsOneSession(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"timestamp"},
		[][]string{
			{"2024-01-01 10:00:00"},
			{"2024-01-01 10:30:00"},
			{"2024-01-01 10:59:00"},
		})

	result, err := Gaps(tab, nil, "timestamp", 60)
	if err != nil {
		t.Fatalf("Gaps failed: %v", err)
	}
	if len(result.Sessions) != 1 || len(result.Gaps) != 0 {
		t.Errorf("expected one continuous session: %+v", result)
	}
	if result.Sessions[0].EventCount != 3 {
		t.Errorf("session = %+v", result.Sessions[0])
	}
}

func TestGapsEmpty(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, []string{"timestamp"}, nil)
	result, err := Gaps(tab, nil, "timestamp", 60)
	if err != nil {
		t.Fatalf("Gaps failed: %v", err)
	}
	if len(result.Sessions) != 0 || len(result.Gaps) != 0 {
		t.Errorf("empty input produced %+v", result)
	}
}
