package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeTiming = regexp.MustCompile(`^in\s+(\d+|an?|one|two|three)\s+(hour|day|week)s?$`)

var wordCounts = map[string]int{"a": 1, "an": 1, "one": 1, "two": 2, "three": 3}

// dateOnlyHour is the UTC hour a bare calendar date resolves to.
const dateOnlyHour = 10

// maxRelativeAhead bounds "in N units" hints.
const maxRelativeAhead = 365 * 24 * time.Hour

// ResolveFollowUpTiming turns a model-supplied follow-up hint into an
// instant. It accepts RFC 3339 timestamps, YYYY-MM-DD dates, "today",
// "tonight", "tomorrow", "next week" and "in N hours/days/weeks" up to a year
// ahead. ok is false when the hint is empty, unparseable, too far out or
// does not lie after now.
func ResolveFollowUpTiming(hint string, now time.Time) (at time.Time, ok bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return time.Time{}, false
	}

	switch hint {
	case "today":
		at = now.Add(4 * time.Hour)
	case "tonight":
		u := now.UTC()
		at = time.Date(u.Year(), u.Month(), u.Day(), 20, 0, 0, 0, time.UTC)
	case "tomorrow":
		at = now.Add(24 * time.Hour)
	case "next week":
		at = now.Add(7 * 24 * time.Hour)
	default:
		if t, err := time.Parse(time.RFC3339, hint); err == nil {
			at = t.UTC()
			break
		}
		if t, err := time.Parse(time.RFC3339, strings.ToUpper(hint)); err == nil {
			at = t.UTC()
			break
		}
		if t, err := time.Parse("2006-01-02", hint); err == nil {
			at = t.Add(dateOnlyHour * time.Hour)
			break
		}
		m := relativeTiming.FindStringSubmatch(hint)
		if m == nil {
			return time.Time{}, false
		}
		n, ok := wordCounts[m[1]]
		if !ok {
			var err error
			if n, err = strconv.Atoi(m[1]); err != nil {
				return time.Time{}, false
			}
		}
		unit := time.Hour
		switch m[2] {
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		}
		if n > int(maxRelativeAhead/unit) {
			return time.Time{}, false
		}
		at = now.Add(time.Duration(n) * unit)
	}

	if !at.After(now) {
		return time.Time{}, false
	}
	return at, true
}
