package dates_test

import (
	"testing"
	"time"

	"cartscout/internal/pkg/dates"
)

// Monday, March 10 2025.
var monday = time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)

func TestParseRelativeTokens(t *testing.T) {
	cases := []struct {
		input string
		want  time.Time
	}{
		{"today", time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)},
		{"Tomorrow", time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC)},
		{"overnight", time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC)},
		{"in 2 days", time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)},
		{"in 1 day", time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := dates.Parse(tc.input, monday)
		if !ok {
			t.Errorf("Parse(%q) failed", tc.input)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("Parse(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParseWeekdays(t *testing.T) {
	// From a Monday, "friday" is this week and "monday" wraps a full week.
	got, ok := dates.Parse("friday", monday)
	if !ok || got.Day() != 14 {
		t.Errorf("friday resolved to %v", got)
	}

	got, ok = dates.Parse("monday", monday)
	if !ok || got.Day() != 17 {
		t.Errorf("monday resolved to %v", got)
	}

	got, ok = dates.Parse("next friday", monday)
	if !ok || got.Day() != 14 {
		t.Errorf("next friday resolved to %v", got)
	}
}

func TestParseCalendarDates(t *testing.T) {
	got, ok := dates.Parse("2025-06-14", monday)
	if !ok || !got.Equal(time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ISO date resolved to %v", got)
	}

	got, ok = dates.Parse("june 14, 2025", monday)
	if !ok || !got.Equal(time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("lowercase long date resolved to %v", got)
	}

	got, ok = dates.Parse("Mar 15", monday)
	if !ok || got.Month() != time.March || got.Day() != 15 || got.Year() != 2025 {
		t.Errorf("month-day resolved to %v", got)
	}

	got, ok = dates.Parse("mar 15", monday)
	if !ok || got.Month() != time.March || got.Day() != 15 {
		t.Errorf("lowercase month-day resolved to %v", got)
	}

	// A month-day already behind us rolls into next year.
	got, ok = dates.Parse("Jan 5", monday)
	if !ok || got.Year() != 2026 {
		t.Errorf("past month-day resolved to %v", got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "soonish", "in some days", "32 of March"} {
		if _, ok := dates.Parse(input, monday); ok {
			t.Errorf("Parse(%q) unexpectedly succeeded", input)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	target := time.Date(2025, time.March, 13, 23, 59, 0, 0, time.UTC)
	if got := dates.DaysUntil(target, monday); got != 3 {
		t.Errorf("DaysUntil = %d, want 3", got)
	}
	if got := dates.DaysUntil(monday, monday); got != 0 {
		t.Errorf("DaysUntil same day = %d, want 0", got)
	}
}
