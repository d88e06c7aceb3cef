package tabstore

import (
	"strings"
	"testing"
)

// TestExtractDate covers the recognized timestamp families.
func TestExtractDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2026-01-17", "2026-01-17", true},
		{"2026-01-17 10:30:05", "2026-01-17", true},
		{"2026-01-17T10:30:05.123Z", "2026-01-17", true},
		{"1/5/2026", "2026-01-05", true},
		{"12-31-2024", "2024-12-31", true},
		{"1/5/2026 3:45 PM", "2026-01-05", true},
		{"Feb 5th 2026", "2026-02-05", true},
		{"February 5, 2026", "2026-02-05", true},
		{"5 Feb 2026", "2026-02-05", true},
		{"5th February 2026 10:30", "2026-02-05", true},
		{"1737072000", "2025-01-17", true},    // unix seconds
		{"1737072000000", "2025-01-17", true}, // unix milliseconds
		{"45000", "2023-03-15", true},         // excel serial
		{"2026/01/17 10:30:05", "2026-01-17", true},
		{"", "", false},
		{"not a date", "", false},
		{"2026-13-40", "", false}, // invalid month/day
	}

	for _, tc := range cases {
		got, ok := ExtractDate(tc.in)
		if ok != tc.ok {
			t.Errorf("ExtractDate(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("ExtractDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// Small integers land in the Excel serial range; column-class
	// guards keep event-id columns away from temporal analytics, but
	// the function itself resolves them deterministically.
	if d, ok := ExtractDate("4624"); !ok || !strings.HasPrefix(d, "1912-08") {
		t.Errorf("ExtractDate(4624) = %q, %v; want a 1912-08 serial date", d, ok)
	}
}

func TestExtractDatetimeMinute(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2026-01-17 10:30:45", "2026-01-17 10:30"},
		{"2026-01-17", "2026-01-17 00:00"},
		{"1/5/2026 3:45:10 PM", "2026-01-05 15:45"},
		{"1/5/2026 12:05 AM", "2026-01-05 00:05"},
	}
	for _, tc := range cases {
		got, ok := ExtractDatetimeMinute(tc.in)
		if !ok {
			t.Errorf("ExtractDatetimeMinute(%q) failed to parse", tc.in)
			continue
		}
		if got != tc.want {
			t.Errorf("ExtractDatetimeMinute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, ok := ExtractDatetimeMinute("garbage"); ok {
		t.Error("ExtractDatetimeMinute should reject garbage")
	}
}

// TestSortDatetimePromotesPM verifies the AM/PM promotion to 24-hour
// form for US dates.
func TestSortDatetimePromotesPM(t *testing.T) {
	am := SortDatetime("1/5/2026 9:00 AM")
	pm := SortDatetime("1/5/2026 3:00 PM")
	if !(am < pm) {
		t.Errorf("expected %q < %q", am, pm)
	}
	if !strings.HasPrefix(pm, "2026-01-05 15:00") {
		t.Errorf("PM hour not promoted: %q", pm)
	}

	// Unparseable values pass through unchanged.
	if got := SortDatetime("zzz"); got != "zzz" {
		t.Errorf("SortDatetime passthrough = %q", got)
	}
}

// TestSortDatetimePrefixCompatible checks the normalization property:
// sort_datetime of the minute-truncated form is a prefix-compatible
// normalization of the raw value.
func TestSortDatetimePrefixCompatible(t *testing.T) {
	values := []string{
		"2026-01-17 10:30:45",
		"1/5/2026 3:45 PM",
		"Feb 5th 2026 08:15",
		"1737072000",
	}
	for _, v := range values {
		minuteForm, ok := ExtractDatetimeMinute(v)
		if !ok {
			t.Fatalf("ExtractDatetimeMinute(%q) failed", v)
		}
		normalized := SortDatetime(minuteForm)
		if !strings.HasPrefix(normalized, minuteForm) {
			t.Errorf("SortDatetime(%q) = %q does not extend %q", minuteForm, normalized, minuteForm)
		}
		full := SortDatetime(v)
		if !strings.HasPrefix(full, minuteForm) {
			t.Errorf("SortDatetime(%q) = %q does not start with %q", v, full, minuteForm)
		}
	}
}

func TestFuzzyMatch(t *testing.T) {
	cases := []struct {
		term, value string
		want        bool
	}{
		{"powershell", "C:\\Windows\\powershell.exe", true}, // exact substring
		{"powershel", "powershell.exe", true},               // prefix substring
		{"pwrshll", "notepad.exe", false},
		{"cmd", "cmd.exe", true},
		{"cnd", "notepad", false},
		{"", "anything", false},
	}
	for _, tc := range cases {
		if got := fuzzyMatch(tc.term, tc.value); got != tc.want {
			t.Errorf("fuzzyMatch(%q, %q) = %v, want %v", tc.term, tc.value, got, tc.want)
		}
	}
}

func TestParseFullNumber(t *testing.T) {
	if parseFullNumber("2026-01-17") {
		t.Error("date string must not parse as a full number")
	}
	for _, s := range []string{"42", "3.14", "1,234", "0"} {
		if !parseFullNumber(s) {
			t.Errorf("%q should parse as a number", s)
		}
	}
	for _, s := range []string{"", "abc", "12abc"} {
		if parseFullNumber(s) {
			t.Errorf("%q should not parse as a number", s)
		}
	}
}
