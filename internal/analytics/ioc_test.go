package analytics

import (
	"fmt"
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

// TestIOCMatchWithOverlap: both indicators hit the same row; the row
// counts once in the matched set and once per indicator.
func TestIOCMatchWithOverlap(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"CommandLine"},
		[][]string{
			{"cmd.exe /c powershell -enc AAAA"},
			{"notepad.exe"},
		})

	result, err := MatchIOCs(tab, nil, []string{"cmd.exe", "powershell"})
	if err != nil {
		t.Fatalf("MatchIOCs failed: %v", err)
	}

	if len(result.MatchedRows) != 1 {
		t.Errorf("matched rows = %v, want exactly one row", result.MatchedRows)
	}
	hits := make(map[string]int64)
	for _, p := range result.Patterns {
		hits[p.Pattern] = p.Hits
	}
	if hits["cmd.exe"] != 1 || hits["powershell"] != 1 {
		t.Errorf("per-pattern hits = %v, want cmd.exe:1 powershell:1", hits)
	}
}

func TestIOCZeroHitPatternsReported(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"msg"},
		[][]string{{"benign"}})

	result, err := MatchIOCs(tab, nil, []string{"mimikatz", "benign"})
	if err != nil {
		t.Fatalf("MatchIOCs failed: %v", err)
	}
	if len(result.Patterns) != 2 {
		t.Fatalf("every pattern must be reported: %v", result.Patterns)
	}
	for _, p := range result.Patterns {
		switch p.Pattern {
		case "mimikatz":
			if p.Hits != 0 {
				t.Errorf("mimikatz hits = %d, want 0", p.Hits)
			}
		case "benign":
			if p.Hits != 1 {
				t.Errorf("benign hits = %d, want 1", p.Hits)
			}
		}
	}
}

func TestIOCBatchingAcrossManyPatterns(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"msg"},
		[][]string{{"needle-0420"}, {"hay"}})

	// More than one alternation batch worth of patterns.
	patterns := make([]string, 0, 450)
	for i := 0; i < 450; i++ {
		patterns = append(patterns, fmt.Sprintf("needle-%04d", i))
	}

	result, err := MatchIOCs(tab, nil, patterns)
	if err != nil {
		t.Fatalf("MatchIOCs failed: %v", err)
	}
	if len(result.MatchedRows) != 1 {
		t.Errorf("matched rows = %v, want 1", result.MatchedRows)
	}
	var hit int64
	for _, p := range result.Patterns {
		hit += p.Hits
	}
	if hit != 1 {
		t.Errorf("total hits = %d, want 1", hit)
	}
}

func TestIOCRespectsFilter(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"msg", "host"},
		[][]string{
			{"cmd.exe run", "A"},
			{"cmd.exe run", "B"},
		})

	m := &filter.Model{Columns: map[string]string{"host": "A"}}
	result, err := MatchIOCs(tab, m, []string{"cmd.exe"})
	if err != nil {
		t.Fatalf("MatchIOCs failed: %v", err)
	}
	if len(result.MatchedRows) != 1 {
		t.Errorf("filtered match = %v, want only the host-A row", result.MatchedRows)
	}
}

func TestIOCInvalidPatternDegrades(t *testing.T) {
	tab := testutil.NewPopulatedTab(t,
		[]string{"msg"},
		[][]string{{"cmd.exe"}})

	result, err := MatchIOCs(tab, nil, []string{"(["})
	if err != nil {
		t.Fatalf("invalid pattern must degrade, not error: %v", err)
	}
	if len(result.MatchedRows) != 0 {
		t.Errorf("invalid pattern matched rows: %v", result.MatchedRows)
	}
}
