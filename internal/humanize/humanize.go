// Package humanize renders durations as English phrases for report text.
package humanize

import (
	"fmt"
	"strings"
	"time"
)

type unit struct {
	d    time.Duration
	name string
}

var units = []unit{
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
	{time.Second, "second"},
	{time.Millisecond, "millisecond"},
	{time.Microsecond, "microsecond"},
}

// Precise spells out every non-zero component of d from days down to
// microseconds: "1 minute, 40 seconds and 500 milliseconds". Resolution is
// the microsecond, matching the report's percentage arithmetic; zero and
// sub-microsecond values render as "0 seconds". Negative durations render
// their absolute value behind a leading "minus".
func Precise(d time.Duration) string {
	prefix := ""
	if d < 0 {
		prefix = "minus "
		d = -d
	}
	var parts []string
	for _, u := range units {
		if n := d / u.d; n > 0 {
			parts = append(parts, plural(int64(n), u.name))
			d -= n * u.d
		}
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return prefix + join(parts)
}

// Rough reduces d to its largest unit, rounded half-up: "about a second",
// "about 2 minutes", "about an hour". Durations that round to zero
// seconds come out as "less than a second". Negative durations take a
// "minus" prefix like Precise.
func Rough(d time.Duration) string {
	prefix := ""
	if d < 0 {
		prefix = "minus "
		d = -d
	}
	for _, u := range units[:4] {
		if n := int64((d + u.d/2) / u.d); n >= 1 {
			return prefix + "about " + withArticle(n, u.name)
		}
	}
	return prefix + "less than a second"
}

func withArticle(n int64, name string) string {
	if n != 1 {
		return plural(n, name)
	}
	if name == "hour" {
		return "an hour"
	}
	return "a " + name
}

func plural(n int64, name string) string {
	if n == 1 {
		return "1 " + name
	}
	return fmt.Sprintf("%d %ss", n, name)
}

func join(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
