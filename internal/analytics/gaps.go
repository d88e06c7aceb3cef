package analytics

import (
	"time"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

const minuteLayout = "2006-01-02 15:04"

// Gap is one silent interval between activity.
type Gap struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int64  `json:"durationMinutes"`
}

// Session is one contiguous run of activity.
type Session struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	EventCount      int64  `json:"eventCount"`
	DurationMinutes int64  `json:"durationMinutes"`
}

// GapResult covers the full filtered range with alternating sessions
// and gaps.
type GapResult struct {
	Gaps     []Gap     `json:"gaps"`
	Sessions []Session `json:"sessions"`
}

// Gaps buckets the filtered rows by minute and walks the buckets in
// order; a gap opens wherever two adjacent buckets lie further apart
// than thresholdMinutes.
func Gaps(tab *tabstore.Tab, m *filter.Model, column string, thresholdMinutes int64) (*GapResult, error) {
	if thresholdMinutes <= 0 {
		thresholdMinutes = 60
	}

	buckets, err := minuteBuckets(tab, m, column)
	if err != nil {
		return nil, err
	}

	result := &GapResult{}
	if len(buckets) == 0 {
		return result, nil
	}

	type minute struct {
		t     time.Time
		label string
		count int64
	}
	minutes := make([]minute, 0, len(buckets))
	for _, b := range buckets {
		t, err := time.Parse(minuteLayout, b.Label)
		if err != nil {
			// Labels come from extract_datetime_minute; a parse failure
			// here would mean the bucket query and the layout diverged.
			continue
		}
		minutes = append(minutes, minute{t: t, label: b.Label, count: b.Count})
	}
	if len(minutes) == 0 {
		return result, nil
	}

	session := Session{Start: minutes[0].label, End: minutes[0].label, EventCount: minutes[0].count}
	sessionStart := minutes[0].t
	sessionEnd := minutes[0].t

	for i := 1; i < len(minutes); i++ {
		cur := minutes[i]
		deltaMinutes := int64(cur.t.Sub(sessionEnd) / time.Minute)
		if deltaMinutes > thresholdMinutes {
			session.DurationMinutes = int64(sessionEnd.Sub(sessionStart)/time.Minute) + 1
			result.Sessions = append(result.Sessions, session)
			result.Gaps = append(result.Gaps, Gap{
				Start:           session.End,
				End:             cur.label,
				DurationMinutes: deltaMinutes,
			})
			session = Session{Start: cur.label, End: cur.label, EventCount: cur.count}
			sessionStart = cur.t
			sessionEnd = cur.t
			continue
		}
		session.End = cur.label
		session.EventCount += cur.count
		sessionEnd = cur.t
	}

	session.DurationMinutes = int64(sessionEnd.Sub(sessionStart)/time.Minute) + 1
	result.Sessions = append(result.Sessions, session)
	return result, nil
}
