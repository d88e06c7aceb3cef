package tabstore

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timestamp heuristics shared by the three registered temporal functions.
// All parsing is lenient by design: forensic artifacts mix ISO strings,
// US-style dates, month-name formats, Unix epochs, and Excel serials in
// the same column.

var (
	isoRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:[T ](\d{1,2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?)?`)
	usRe  = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?)?\s*([AaPp][Mm]?)?`)

	// Name-first: "Feb 5th 2026 10:30", "February 5, 2026"
	monthFirstRe = regexp.MustCompile(`^([A-Za-z]{3,9})\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	// Name-last: "5 Feb 2026 10:30", "5th February 2026"
	monthLastRe = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\.?\s+([A-Za-z]{3,9})\.?,?\s+(\d{4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)

	digitsRe = regexp.MustCompile(`^\d+$`)
	numRe    = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

var monthsByName = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// permissiveLayouts is the last-resort parse attempt, tried in order.
var permissiveLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102T150405",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
	"Jan 2 15:04:05 2006",
	"Jan  2 15:04:05",
}

// Excel serial dates in this range cover 1900-01-01 .. 2100-01-01.
const (
	excelSerialMin = 1
	excelSerialMax = 73050
)

// excelEpoch is the Excel day-zero (accounting for the 1900 leap-year bug).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parsedTime is the result of the shared heuristic parse.
type parsedTime struct {
	t       time.Time
	hasTime bool
}

func validYMD(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1 || y > 9999 {
		return false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Year() == y && int(t.Month()) == m && t.Day() == d
}

func validHM(h, m, s int) bool {
	return h >= 0 && h <= 23 && m >= 0 && m <= 59 && s >= 0 && s <= 59
}

func atoiDef(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// parseTimestamp applies the recognition heuristics in priority order.
func parseTimestamp(raw string) (parsedTime, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return parsedTime{}, false
	}

	// ISO-prefixed: 2026-01-17, 2026-01-17 10:30:05, 2026-01-17T10:30
	if m := isoRe.FindStringSubmatch(s); m != nil {
		y, mo, d := atoiDef(m[1]), atoiDef(m[2]), atoiDef(m[3])
		if validYMD(y, mo, d) {
			h, mi, sec := atoiDef(m[4]), atoiDef(m[5]), atoiDef(m[6])
			if m[4] != "" && !validHM(h, mi, sec) {
				return parsedTime{}, false
			}
			return parsedTime{
				t:       time.Date(y, time.Month(mo), d, h, mi, sec, 0, time.UTC),
				hasTime: m[4] != "",
			}, true
		}
	}

	// US M/D/YYYY and M-D-YYYY, optional 12-hour time with AM/PM suffix
	if m := usRe.FindStringSubmatch(s); m != nil {
		mo, d, y := atoiDef(m[1]), atoiDef(m[2]), atoiDef(m[3])
		if validYMD(y, mo, d) {
			h, mi, sec := atoiDef(m[4]), atoiDef(m[5]), atoiDef(m[6])
			if m[7] != "" && m[4] != "" {
				ap := strings.ToLower(m[7])
				if strings.HasPrefix(ap, "p") && h < 12 {
					h += 12
				} else if strings.HasPrefix(ap, "a") && h == 12 {
					h = 0
				}
			}
			if m[4] != "" && !validHM(h, mi, sec) {
				return parsedTime{}, false
			}
			return parsedTime{
				t:       time.Date(y, time.Month(mo), d, h, mi, sec, 0, time.UTC),
				hasTime: m[4] != "",
			}, true
		}
	}

	// Month-name formats: "Feb 5th 2026" and "5 Feb 2026"
	if m := monthFirstRe.FindStringSubmatch(s); m != nil {
		if mo, ok := monthsByName[strings.ToLower(m[1])]; ok {
			d, y := atoiDef(m[2]), atoiDef(m[3])
			if validYMD(y, int(mo), d) {
				h, mi, sec := atoiDef(m[4]), atoiDef(m[5]), atoiDef(m[6])
				return parsedTime{
					t:       time.Date(y, mo, d, h, mi, sec, 0, time.UTC),
					hasTime: m[4] != "",
				}, true
			}
		}
	}
	if m := monthLastRe.FindStringSubmatch(s); m != nil {
		if mo, ok := monthsByName[strings.ToLower(m[2])]; ok {
			d, y := atoiDef(m[1]), atoiDef(m[3])
			if validYMD(y, int(mo), d) {
				h, mi, sec := atoiDef(m[4]), atoiDef(m[5]), atoiDef(m[6])
				return parsedTime{
					t:       time.Date(y, mo, d, h, mi, sec, 0, time.UTC),
					hasTime: m[4] != "",
				}, true
			}
		}
	}

	// Unix epochs: exactly 10 digits = seconds, exactly 13 = milliseconds
	if digitsRe.MatchString(s) {
		switch len(s) {
		case 10:
			sec, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return parsedTime{t: time.Unix(sec, 0).UTC(), hasTime: true}, true
			}
		case 13:
			ms, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return parsedTime{t: time.UnixMilli(ms).UTC(), hasTime: true}, true
			}
		}
	}

	// Excel serial dates (1900..2100); fraction carries the time of day
	if numRe.MatchString(s) {
		if serial, err := strconv.ParseFloat(s, 64); err == nil &&
			serial >= excelSerialMin && serial <= excelSerialMax {
			days := int(serial)
			frac := serial - float64(days)
			t := excelEpoch.AddDate(0, 0, days)
			if frac > 0 {
				t = t.Add(time.Duration(frac * 24 * float64(time.Hour)))
			}
			return parsedTime{t: t, hasTime: frac > 0}, true
		}
	}

	// Final permissive pass
	for _, layout := range permissiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() == 0 {
				// Layouts without a year land in year 0; not usable
				continue
			}
			return parsedTime{t: t.UTC(), hasTime: strings.Contains(layout, "15")}, true
		}
	}

	return parsedTime{}, false
}

// ExtractDate normalizes a timestamp-ish value to YYYY-MM-DD.
// Returns "" (SQL NULL at the driver boundary) for unparseable input.
func ExtractDate(v string) (string, bool) {
	p, ok := parseTimestamp(v)
	if !ok {
		return "", false
	}
	return p.t.Format("2006-01-02"), true
}

// ExtractDatetimeMinute normalizes to YYYY-MM-DD HH:MM, truncating to
// the minute. Values without a time component get 00:00.
func ExtractDatetimeMinute(v string) (string, bool) {
	p, ok := parseTimestamp(v)
	if !ok {
		return "", false
	}
	return p.t.Format("2006-01-02 15:04"), true
}

// SortDatetime produces a lexicographically sortable normalization
// approximating ISO. Unparseable values pass through unchanged so a sort
// still groups identical raw strings together.
func SortDatetime(v string) string {
	p, ok := parseTimestamp(v)
	if !ok {
		return v
	}
	return p.t.Format("2006-01-02 15:04:05")
}

// fuzzyMatch reports whether term approximately occurs in value using
// n-gram overlap: bigrams for short terms, trigrams otherwise. Exact
// substrings always match.
func fuzzyMatch(term, value string) bool {
	t := strings.ToLower(strings.TrimSpace(term))
	v := strings.ToLower(value)
	if t == "" {
		return false
	}
	if strings.Contains(v, t) {
		return true
	}

	n := 3
	threshold := 0.6
	if len(t) < 5 {
		n = 2
		threshold = 0.7
	}
	if len(t) < n || len(v) < n {
		return false
	}

	grams := make(map[string]struct{})
	for i := 0; i+n <= len(v); i++ {
		grams[v[i:i+n]] = struct{}{}
	}

	total := len(t) - n + 1
	hits := 0
	for i := 0; i+n <= len(t); i++ {
		if _, ok := grams[t[i:i+n]]; ok {
			hits++
		}
	}
	return float64(hits)/float64(total) >= threshold
}

// parseFullNumber reports whether s is entirely a number (used by the
// numeric-column classifier; partial prefixes like "2026-01-17" must not
// count as numbers).
func parseFullNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Tolerate thousand separators
		clean := strings.ReplaceAll(s, ",", "")
		if clean == s {
			return false
		}
		_, err = strconv.ParseFloat(clean, 64)
	}
	return err == nil
}
