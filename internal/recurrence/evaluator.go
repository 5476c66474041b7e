package recurrence

import (
	"time"

	"github.com/t77yq/trigger-planner/internal/clock"
	"github.com/t77yq/trigger-planner/internal/model"
)

// maxMonthScan bounds the month search; the Gregorian calendar repeats every 400 years.
const maxMonthScan = 12 * 400

// Evaluator computes when recurrence rules fire
type Evaluator struct {
	clock clock.Clock
	zone  *time.Location
}

// NewEvaluator creates an evaluator. zone is used for rules without their own.
func NewEvaluator(c clock.Clock, zone *time.Location) *Evaluator {
	if c == nil {
		c = clock.Real()
	}
	if zone == nil {
		zone = time.UTC
	}
	return &Evaluator{clock: c, zone: zone}
}

// NextFireTime returns the first instant strictly after after at which r fires
func (e *Evaluator) NextFireTime(r model.Rule, after time.Time) (time.Time, bool) {
	return NextFireTime(r, after, e.zone)
}

// Upcoming returns the next fire time after the clock's current instant
func (e *Evaluator) Upcoming(r model.Rule) (time.Time, bool) {
	return NextFireTime(r, e.clock.Now(), e.zone)
}

// JobNextFireTime returns the earliest next fire time over all of the job's
// conditions and the index of the condition that produces it.
func (e *Evaluator) JobNextFireTime(job *model.Job, after time.Time) (time.Time, int, bool) {
	var best time.Time
	index := -1
	for i, c := range job.Conditions {
		next, ok := NextFireTime(c, after, e.zone)
		if !ok {
			continue
		}
		if index < 0 || next.Before(best) {
			best, index = next, i
		}
	}
	return best, index, index >= 0
}

// Due reports whether any condition of the job fired in (since, until]
func (e *Evaluator) Due(job *model.Job, since, until time.Time) bool {
	if job.Disabled {
		return false
	}
	next, _, ok := e.JobNextFireTime(job, since)
	return ok && !next.After(until)
}

// DueNow reports whether any condition of the job fired in (since, now]
func (e *Evaluator) DueNow(job *model.Job, since time.Time) bool {
	return e.Due(job, since, e.clock.Now())
}

// Occurrences returns up to n consecutive fire times after after
func (e *Evaluator) Occurrences(r model.Rule, after time.Time, n int) []time.Time {
	var out []time.Time
	for len(out) < n {
		next, ok := NextFireTime(r, after, e.zone)
		if !ok {
			break
		}
		out = append(out, next)
		after = next
	}
	return out
}

// NextFireTime computes the next instant strictly after after at which r is
// due. Wall-clock fields are read in the rule's zone, or zone if it has none.
// Completion rules are event driven and never yield a time.
func NextFireTime(r model.Rule, after time.Time, zone *time.Location) (time.Time, bool) {
	switch v := r.(type) {
	case *model.AtRule:
		if v.At.After(after) {
			return v.At, true
		}
		return time.Time{}, false
	case *model.HourlyRule:
		return nextHourly(v, after, v.Location(zone))
	case *model.DailyRule:
		return nextDaily(v, after, v.Location(zone))
	case *model.WeeklyRule:
		return nextWeekly(v, after, v.Location(zone))
	case *model.MonthlyRule:
		return nextMonthly(v, after, v.Location(zone))
	case *model.CompletionRule:
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func nextDaily(r *model.DailyRule, after time.Time, loc *time.Location) (time.Time, bool) {
	at, _ := model.FixedTime(r)
	if r.TimeRange != nil {
		at = r.TimeRange.Start
	}
	interval := max(r.IntervalDays, 1)
	anchor := anchorDay(r.Timing, loc)
	first := max(dayNumber(after.In(loc)), anchor)

	// Weekday filtering repeats with the interval every 7 periods.
	for n := first; n <= first+interval*7+7; n++ {
		if floorMod(n-anchor, interval) != 0 {
			continue
		}
		if r.WeekdayOnly && isWeekend(weekdayOf(n)) {
			continue
		}
		if t := wallClock(n, at.Offset(), loc); t.After(after) {
			return t, true
		}
	}
	return time.Time{}, false
}

func nextHourly(r *model.HourlyRule, after time.Time, loc *time.Location) (time.Time, bool) {
	start := r.Start
	if r.TimeRange != nil {
		start = r.TimeRange.Start
	}
	span, step := r.Span(), r.Step()
	interval := max(r.IntervalDays, 1)
	anchor := anchorDay(r.Timing, loc)

	// Start a day early: a window crossing midnight fires into the next day.
	first := max(dayNumber(after.In(loc))-1, anchor)
	for n := first; n <= first+interval*7+8; n++ {
		if floorMod(n-anchor, interval) != 0 {
			continue
		}
		if len(r.Days) > 0 && !containsDay(r.Days, weekdayOf(n)) {
			continue
		}
		for off := time.Duration(0); off <= span; off += step {
			if t := wallClock(n, start.Offset()+off, loc); t.After(after) {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func nextWeekly(r *model.WeeklyRule, after time.Time, loc *time.Location) (time.Time, bool) {
	at, _ := model.FixedTime(r)
	if r.TimeRange != nil {
		at = r.TimeRange.Start
	}
	days := r.Weekdays()
	interval := max(r.IntervalWeeks, 1)
	anchor := anchorDay(r.Timing, loc)
	anchorWeek := weekOf(anchor)
	first := max(dayNumber(after.In(loc)), anchor)

	for n := first; n <= first+interval*7+7; n++ {
		if !containsDay(days, weekdayOf(n)) {
			continue
		}
		if floorMod(weekOf(n)-anchorWeek, interval) != 0 {
			continue
		}
		if t := wallClock(n, at.Offset(), loc); t.After(after) {
			return t, true
		}
	}
	return time.Time{}, false
}

func nextMonthly(r *model.MonthlyRule, after time.Time, loc *time.Location) (time.Time, bool) {
	at, _ := model.FixedTime(r)
	if r.TimeRange != nil {
		at = r.TimeRange.Start
	}
	threshold := after
	if !r.Anchor.IsZero() && r.Anchor.After(threshold) {
		threshold = r.Anchor.Add(-time.Nanosecond)
	}

	from := threshold.In(loc)
	for i := 0; i < maxMonthScan; i++ {
		// time.Date normalises the month overflow.
		norm := time.Date(from.Year(), from.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		y, m := norm.Year(), norm.Month()
		if !r.InMonth(m) {
			continue
		}
		day, ok := monthDay(r, y, m)
		if !ok {
			continue
		}
		if t := time.Date(y, m, day, at.Hour, at.Minute, at.Second, 0, loc); t.After(threshold) {
			return t, true
		}
	}
	return time.Time{}, false
}

// monthDay resolves the rule's day selector in a month. Selectors that do
// not exist in the month, like a 5th Monday or the 31st, yield false.
func monthDay(r *model.MonthlyRule, year int, month time.Month) (int, bool) {
	last := daysIn(year, month)
	switch {
	case r.WeekOfMonth > 0:
		firstWeekday := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
		day := 1 + int(r.Weekday-firstWeekday+7)%7 + (r.WeekOfMonth-1)*7
		return day, day <= last
	case r.DayOfMonth == model.LastDay:
		return last, true
	default:
		return r.DayOfMonth, r.DayOfMonth >= 1 && r.DayOfMonth <= last
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
