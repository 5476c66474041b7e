package recurrence

import (
	"time"

	"github.com/t77yq/trigger-planner/internal/model"
)

// Day numbers count civil days since 1970-01-01, independent of zone offsets.

func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return floorDiv(int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()), 24*60*60)
}

func anchorDay(t model.Timing, loc *time.Location) int {
	if t.Anchor.IsZero() {
		return 0
	}
	return dayNumber(t.Anchor.In(loc))
}

// wallClock returns the instant offset past midnight of day n in loc.
// Offsets beyond 24h land on the following day.
func wallClock(n int, offset time.Duration, loc *time.Location) time.Time {
	return time.Date(1970, time.January, 1+n, 0, 0, int(offset/time.Second), 0, loc)
}

// 1970-01-01 was a Thursday.
func weekdayOf(n int) time.Weekday {
	return time.Weekday(floorMod(n+int(time.Thursday), 7))
}

// weekOf numbers Sunday-started weeks.
func weekOf(n int) int {
	return floorDiv(n-int(weekdayOf(n)), 7)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
