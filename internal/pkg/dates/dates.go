// Package dates resolves the loose delivery phrases users type ("tomorrow",
// "friday", "in 3 days", "Jun 14") and the inline estimates scraped from
// listings into concrete calendar dates.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var inDaysPattern = regexp.MustCompile(`^in\s+(\d{1,3})\s+days?$`)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse resolves a delivery token relative to now. Dates without a year are
// taken as the next future occurrence. Returns false when the input is empty
// or unrecognized.
func Parse(input string, now time.Time) (time.Time, bool) {
	token := strings.ToLower(strings.TrimSpace(input))
	if token == "" {
		return time.Time{}, false
	}

	today := truncate(now)

	switch token {
	case "today":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "overnight":
		return today.AddDate(0, 0, 1), true
	}

	if m := inDaysPattern.FindStringSubmatch(token); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil {
			return today.AddDate(0, 0, days), true
		}
	}

	if wd, ok := weekdays[strings.TrimPrefix(token, "next ")]; ok {
		delta := (int(wd) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta), true
	}

	titled := capitalizeWords(token)

	for _, layout := range []string{"2006-01-02", "January 2, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, titled); err == nil {
			return truncate(t), true
		}
	}

	// Month-and-day forms roll over to next year once the date has passed.
	for _, layout := range []string{"January 2", "Jan 2"} {
		if t, err := time.Parse(layout, titled); err == nil {
			candidate := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
			if candidate.Before(today) {
				candidate = candidate.AddDate(1, 0, 0)
			}
			return candidate, true
		}
	}

	return time.Time{}, false
}

// DaysUntil returns the whole days between now and the target date.
func DaysUntil(target time.Time, now time.Time) int {
	return int(truncate(target).Sub(truncate(now)).Hours() / 24)
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// capitalizeWords upper-cases the first letter of each space-separated word.
// Inputs are already lower-cased ASCII month names, so this is all the
// titling the time layouts need.
func capitalizeWords(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		if word[0] >= 'a' && word[0] <= 'z' {
			words[i] = string(word[0]-'a'+'A') + word[1:]
		}
	}
	return strings.Join(words, " ")
}
