// Package timefmt holds the pure time math behind reminder
// scheduling: notify-time derivation and the natural-language
// phrases used in notification payloads.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

// NotifyTime returns the instant a reminder fires: target time plus
// the signed minute offset.
func NotifyTime(t time.Time, deferMinutes int) time.Time {
	return t.Add(time.Duration(deferMinutes) * time.Minute)
}

// offsetUnits ordered largest first so the biggest evenly-dividing
// unit always wins; map iteration would make the choice random.
var offsetUnits = []struct {
	name    string
	minutes int
}{
	{"week", 7 * 24 * 60},
	{"day", 24 * 60},
	{"hour", 60},
	{"minute", 1},
}

// DescribeOffset renders a signed minute offset as "early N unit" or
// "late N unit", choosing the largest unit that divides it evenly.
// Zero is "on time".
func DescribeOffset(deferMinutes int) string {
	if deferMinutes == 0 {
		return "on time"
	}
	direction := "late"
	n := deferMinutes
	if n < 0 {
		direction = "early"
		n = -n
	}
	for _, u := range offsetUnits {
		if n%u.minutes == 0 {
			return fmt.Sprintf("%s %d %s", direction, n/u.minutes, plural(n/u.minutes, u.name))
		}
	}
	return fmt.Sprintf("%s %d %s", direction, n, plural(n, "minute"))
}

// NatureTime renders t relative to now, e.g. "in 11 hours 28 minutes"
// or "3 days ago".
func NatureTime(t, now time.Time) string {
	d := t.Sub(now)
	if d >= 0 && d < time.Minute {
		return "right now"
	}
	if d > 0 {
		return "in " + spellDuration(d)
	}
	return spellDuration(-d) + " ago"
}

// spellDuration writes out the two most significant units of d among
// days, hours and minutes.
func spellDuration(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	parts := make([]string, 0, 2)
	for _, c := range []struct {
		n    int
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		if c.n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", c.n, plural(c.n, c.unit)))
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "less than 1 minute"
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
