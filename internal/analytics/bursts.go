package analytics

import (
	"sort"
	"time"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// BurstPeriod is a contiguous run of windows each exceeding the burst
// threshold, merged into one reported period.
type BurstPeriod struct {
	Start           string  `json:"start"`
	End             string  `json:"end"`
	EventCount      int64   `json:"eventCount"`
	PeakRate        int64   `json:"peakRate"`
	BurstFactor     float64 `json:"burstFactor"`
	WindowCount     int     `json:"windowCount"`
	DurationMinutes int64   `json:"durationMinutes"`
}

// SparklineWindow is one point of the burst sparkline.
type SparklineWindow struct {
	Start   string `json:"start"`
	Count   int64  `json:"count"`
	IsBurst bool   `json:"isBurst"`
}

// BurstResult reports burst periods plus the full window series.
type BurstResult struct {
	Baseline  float64           `json:"baseline"`
	Threshold float64           `json:"threshold"`
	Periods   []BurstPeriod     `json:"periods"`
	Sparkline []SparklineWindow `json:"sparkline"`
}

// Bursts buckets events by minute, aggregates into windows of
// windowMinutes, and flags windows whose count exceeds
// median(window counts) × multiplier. Adjacent burst windows merge.
func Bursts(tab *tabstore.Tab, m *filter.Model, column string, windowMinutes int64, multiplier float64) (*BurstResult, error) {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	if multiplier <= 0 {
		multiplier = 5
	}

	buckets, err := minuteBuckets(tab, m, column)
	if err != nil {
		return nil, err
	}

	result := &BurstResult{}
	if len(buckets) == 0 {
		return result, nil
	}

	first, err := time.Parse(minuteLayout, buckets[0].Label)
	if err != nil {
		return result, nil
	}
	last, err := time.Parse(minuteLayout, buckets[len(buckets)-1].Label)
	if err != nil {
		return result, nil
	}

	// Windows span the full range so silent windows weigh into the
	// baseline.
	windowDur := time.Duration(windowMinutes) * time.Minute
	nWindows := int(last.Sub(first)/windowDur) + 1
	counts := make([]int64, nWindows)
	for _, b := range buckets {
		t, err := time.Parse(minuteLayout, b.Label)
		if err != nil {
			continue
		}
		idx := int(t.Sub(first) / windowDur)
		if idx >= 0 && idx < nWindows {
			counts[idx] += b.Count
		}
	}

	// Baseline = median of window counts, floored at 1.
	sorted := append([]int64(nil), counts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var median float64
	if n := len(sorted); n%2 == 1 {
		median = float64(sorted[n/2])
	} else {
		median = float64(sorted[n/2-1]+sorted[n/2]) / 2
	}
	if median < 1 {
		median = 1
	}
	result.Baseline = median
	result.Threshold = median * multiplier

	windowStart := func(i int) time.Time { return first.Add(time.Duration(i) * windowDur) }

	result.Sparkline = make([]SparklineWindow, nWindows)
	for i, c := range counts {
		result.Sparkline[i] = SparklineWindow{
			Start:   windowStart(i).Format(minuteLayout),
			Count:   c,
			IsBurst: float64(c) > result.Threshold,
		}
	}

	// Merge adjacent burst windows into periods.
	var period *BurstPeriod
	var periodWindows int
	flush := func(endIdx int) {
		if period == nil {
			return
		}
		period.WindowCount = periodWindows
		period.End = windowStart(endIdx).Add(windowDur).Format(minuteLayout)
		period.DurationMinutes = int64(periodWindows) * windowMinutes
		period.BurstFactor = float64(period.EventCount) / (float64(periodWindows) * median)
		result.Periods = append(result.Periods, *period)
		period = nil
	}

	for i, c := range counts {
		if float64(c) > result.Threshold {
			if period == nil {
				period = &BurstPeriod{Start: windowStart(i).Format(minuteLayout)}
				periodWindows = 0
			}
			period.EventCount += c
			periodWindows++
			if c > period.PeakRate {
				period.PeakRate = c
			}
		} else if period != nil {
			flush(i - 1)
		}
	}
	flush(nWindows - 1)

	return result, nil
}
