package model

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind identifies a recurrence rule variant
type RuleKind string

const (
	RuleAt         RuleKind = "at"
	RuleHourly     RuleKind = "hourly"
	RuleDaily      RuleKind = "daily"
	RuleWeekly     RuleKind = "weekly"
	RuleMonthly    RuleKind = "monthly"
	RuleCompletion RuleKind = "completion"
)

// LastDay selects the last day of the month in a MonthlyRule
const LastDay = -1

// Rule is one trigger condition of a job. The set of variants is closed:
// *AtRule, *HourlyRule, *DailyRule, *WeeklyRule, *MonthlyRule and
// *CompletionRule.
type Rule interface {
	Kind() RuleKind
	Validate() error
	Label() string
	Clone() Rule
	rule()
}

// IsPeriodic reports whether r repeats on a calendar
func IsPeriodic(r Rule) bool {
	switch r.(type) {
	case *HourlyRule, *DailyRule, *WeeklyRule, *MonthlyRule:
		return true
	default:
		return false
	}
}

// TimeRange is a named, shared window that overrides a rule's own time fields
type TimeRange struct {
	Name    string    `json:"name"`
	Start   TimeOfDay `json:"start"`
	End     TimeOfDay `json:"end"`
	Default bool      `json:"default,omitempty"`
}

// Fixed reports whether the range collapses to a single instant
func (r TimeRange) Fixed() bool {
	return r.Start == r.End
}

func (r TimeRange) validate() error {
	if r.Name == "" {
		return invalidRule("time range has no name")
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return invalidRule("time range %q has an out of range bound", r.Name)
	}
	return nil
}

// Timing holds the fields shared by every periodic rule
type Timing struct {
	// TimeZone is an IANA zone id; empty falls back to the evaluator's zone.
	TimeZone  string
	TimeRange *TimeRange
	// Anchor is the date interval counting starts from. Zero means 1970-01-01.
	Anchor time.Time
}

// Location resolves the rule's zone, using fallback when unset or unknown
func (t Timing) Location(fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if t.TimeZone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(t.TimeZone)
	if err != nil {
		return fallback
	}
	return loc
}

func (t Timing) validate() error {
	if t.TimeZone != "" {
		if _, err := time.LoadLocation(t.TimeZone); err != nil {
			return invalidRule("unknown time zone %q", t.TimeZone)
		}
	}
	if t.TimeRange != nil {
		return t.TimeRange.validate()
	}
	return nil
}

func (t Timing) clone() Timing {
	c := t
	if t.TimeRange != nil {
		tr := *t.TimeRange
		c.TimeRange = &tr
	}
	return c
}

func (t Timing) rangeSuffix() string {
	if t.TimeRange == nil {
		return ""
	}
	return fmt.Sprintf(" within %s (%s-%s)", t.TimeRange.Name, t.TimeRange.Start, t.TimeRange.End)
}

// AtRule fires exactly once
type AtRule struct {
	At time.Time
}

func (*AtRule) rule()          {}
func (*AtRule) Kind() RuleKind { return RuleAt }

func (r *AtRule) Validate() error {
	if r.At.IsZero() {
		return invalidRule("at rule has no instant")
	}
	return nil
}

func (r *AtRule) Label() string {
	return "At " + r.At.Format(time.RFC3339)
}

func (r *AtRule) Clone() Rule {
	c := *r
	return &c
}

// HourlyRule fires every Interval hours between Start and End on selected days.
// An End earlier than Start places the end on the following day.
type HourlyRule struct {
	Timing
	Days         []time.Weekday
	Start        TimeOfDay
	End          TimeOfDay
	IntervalDays int
	// Interval is the fractional number of hours between firings.
	Interval float64
}

func (*HourlyRule) rule()          {}
func (*HourlyRule) Kind() RuleKind { return RuleHourly }

func (r *HourlyRule) Validate() error {
	if !r.Start.Valid() || !r.End.Valid() {
		return invalidRule("hourly rule has an out of range start or end")
	}
	if err := validateDays(r.Days); err != nil {
		return err
	}
	if r.IntervalDays < 0 {
		return invalidRule("negative day interval %d", r.IntervalDays)
	}
	if len(r.Days) == 0 && r.IntervalDays == 0 {
		return invalidRule("hourly rule selects no days")
	}
	return r.Timing.validate()
}

// Step returns the duration between firings, defaulting to one hour
func (r *HourlyRule) Step() time.Duration {
	h := r.Interval
	if h <= 0 {
		h = 1.0
	}
	step := time.Duration(h * float64(time.Hour)).Round(time.Second)
	if step < time.Second {
		step = time.Second
	}
	return step
}

// Span returns the length of the firing window
func (r *HourlyRule) Span() time.Duration {
	start, end := r.Start, r.End
	if r.TimeRange != nil {
		start, end = r.TimeRange.Start, r.TimeRange.End
	}
	span := end.Offset() - start.Offset()
	if span < 0 {
		span += 24 * time.Hour
	}
	return span
}

func (r *HourlyRule) Label() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Every %gh from %s to %s", hoursOrDefault(r.Interval), r.Start, r.End)
	if len(r.Days) > 0 {
		b.WriteString(" on " + joinDays(r.Days))
	}
	if r.IntervalDays > 1 {
		fmt.Fprintf(&b, " every %d days", r.IntervalDays)
	}
	b.WriteString(r.rangeSuffix())
	return b.String()
}

func (r *HourlyRule) Clone() Rule {
	c := *r
	c.Timing = r.Timing.clone()
	c.Days = append([]time.Weekday(nil), r.Days...)
	return &c
}

// DailyRule fires once a day, every IntervalDays days
type DailyRule struct {
	Timing
	At           TimeOfDay
	IntervalDays int
	WeekdayOnly  bool
}

func (*DailyRule) rule()          {}
func (*DailyRule) Kind() RuleKind { return RuleDaily }

func (r *DailyRule) Validate() error {
	if !r.At.Valid() {
		return invalidRule("daily rule has an out of range time")
	}
	if r.IntervalDays < 0 {
		return invalidRule("negative day interval %d", r.IntervalDays)
	}
	if r.IntervalDays == 0 && !r.WeekdayOnly {
		return invalidRule("daily rule has no interval")
	}
	return r.Timing.validate()
}

func (r *DailyRule) Label() string {
	var b strings.Builder
	switch {
	case r.IntervalDays > 1:
		fmt.Fprintf(&b, "Every %d days", r.IntervalDays)
	case r.WeekdayOnly:
		b.WriteString("Every weekday")
	default:
		b.WriteString("Every day")
	}
	if r.IntervalDays > 1 && r.WeekdayOnly {
		b.WriteString(" (weekdays)")
	}
	b.WriteString(" at " + r.At.String())
	b.WriteString(r.rangeSuffix())
	return b.String()
}

func (r *DailyRule) Clone() Rule {
	c := *r
	c.Timing = r.Timing.clone()
	return &c
}

// WeeklyRule fires on selected weekdays every IntervalWeeks weeks. With no
// days selected it fires on the anchor's weekday.
type WeeklyRule struct {
	Timing
	Days          []time.Weekday
	At            TimeOfDay
	IntervalWeeks int
}

func (*WeeklyRule) rule()          {}
func (*WeeklyRule) Kind() RuleKind { return RuleWeekly }

func (r *WeeklyRule) Validate() error {
	if !r.At.Valid() {
		return invalidRule("weekly rule has an out of range time")
	}
	if err := validateDays(r.Days); err != nil {
		return err
	}
	if r.IntervalWeeks < 0 {
		return invalidRule("negative week interval %d", r.IntervalWeeks)
	}
	if len(r.Days) == 0 && r.IntervalWeeks == 0 {
		return invalidRule("weekly rule selects no days")
	}
	return r.Timing.validate()
}

// Weekdays returns the selected days, falling back to the anchor's weekday
func (r *WeeklyRule) Weekdays() []time.Weekday {
	if len(r.Days) > 0 {
		return r.Days
	}
	anchor := r.Anchor
	if anchor.IsZero() {
		anchor = time.Unix(0, 0).UTC()
	}
	return []time.Weekday{anchor.Weekday()}
}

func (r *WeeklyRule) Label() string {
	var b strings.Builder
	if r.IntervalWeeks > 1 {
		fmt.Fprintf(&b, "Every %d weeks", r.IntervalWeeks)
	} else {
		b.WriteString("Every week")
	}
	b.WriteString(" on " + joinDays(r.Weekdays()))
	b.WriteString(" at " + r.At.String())
	b.WriteString(r.rangeSuffix())
	return b.String()
}

func (r *WeeklyRule) Clone() Rule {
	c := *r
	c.Timing = r.Timing.clone()
	c.Days = append([]time.Weekday(nil), r.Days...)
	return &c
}

// MonthlyRule fires on a day of month or on the Nth weekday of a month.
// An empty Months set selects every month.
type MonthlyRule struct {
	Timing
	// DayOfMonth is 1..31 or LastDay; zero when WeekOfMonth is used.
	DayOfMonth  int
	WeekOfMonth int
	Weekday     time.Weekday
	At          TimeOfDay
	Months      []time.Month
}

func (*MonthlyRule) rule()          {}
func (*MonthlyRule) Kind() RuleKind { return RuleMonthly }

func (r *MonthlyRule) Validate() error {
	if !r.At.Valid() {
		return invalidRule("monthly rule has an out of range time")
	}
	switch {
	case r.WeekOfMonth != 0:
		if r.WeekOfMonth < 1 || r.WeekOfMonth > 5 {
			return invalidRule("week of month %d out of range 1..5", r.WeekOfMonth)
		}
		if r.DayOfMonth != 0 {
			return invalidRule("monthly rule sets both day and week of month")
		}
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return invalidRule("weekday %d out of range", r.Weekday)
		}
	case r.DayOfMonth == LastDay:
	case r.DayOfMonth >= 1 && r.DayOfMonth <= 31:
	case r.DayOfMonth == 0:
		return invalidRule("monthly rule selects no day")
	default:
		return invalidRule("day of month %d out of range", r.DayOfMonth)
	}
	for _, m := range r.Months {
		if m < time.January || m > time.December {
			return invalidRule("month %d out of range", m)
		}
	}
	return r.Timing.validate()
}

// InMonth reports whether month m is selected
func (r *MonthlyRule) InMonth(m time.Month) bool {
	if len(r.Months) == 0 {
		return true
	}
	for _, sel := range r.Months {
		if sel == m {
			return true
		}
	}
	return false
}

func (r *MonthlyRule) Label() string {
	var b strings.Builder
	switch {
	case r.WeekOfMonth != 0:
		fmt.Fprintf(&b, "%s %s of", ordinal(r.WeekOfMonth), r.Weekday.String()[:3])
	case r.DayOfMonth == LastDay:
		b.WriteString("Last day of")
	default:
		fmt.Fprintf(&b, "Day %d of", r.DayOfMonth)
	}
	if len(r.Months) == 0 {
		b.WriteString(" every month")
	} else {
		names := make([]string, len(r.Months))
		for i, m := range r.Months {
			names[i] = m.String()[:3]
		}
		b.WriteString(" " + strings.Join(names, ", "))
	}
	b.WriteString(" at " + r.At.String())
	b.WriteString(r.rangeSuffix())
	return b.String()
}

func (r *MonthlyRule) Clone() Rule {
	c := *r
	c.Timing = r.Timing.clone()
	c.Months = append([]time.Month(nil), r.Months...)
	return &c
}

// CompletionRule fires when the named job finishes
type CompletionRule struct {
	Job string
}

func (*CompletionRule) rule()          {}
func (*CompletionRule) Kind() RuleKind { return RuleCompletion }

func (r *CompletionRule) Validate() error {
	if r.Job == "" {
		return invalidRule("completion rule names no job")
	}
	return nil
}

func (r *CompletionRule) Label() string {
	return "On completion of " + r.Job
}

func (r *CompletionRule) Clone() Rule {
	c := *r
	return &c
}

// FixedTime returns the single wall-clock time a rule fires at, if it has one.
// Rules spread over a window report false.
func FixedTime(r Rule) (TimeOfDay, bool) {
	var timing Timing
	var at TimeOfDay
	switch v := r.(type) {
	case *DailyRule:
		timing, at = v.Timing, v.At
	case *WeeklyRule:
		timing, at = v.Timing, v.At
	case *MonthlyRule:
		timing, at = v.Timing, v.At
	default:
		return TimeOfDay{}, false
	}
	if timing.TimeRange == nil {
		return at, true
	}
	if timing.TimeRange.Fixed() {
		return timing.TimeRange.Start, true
	}
	return TimeOfDay{}, false
}

// ActiveWindow returns the start and end of the span a periodic rule is
// active in on a day. For fixed rules start equals end.
func ActiveWindow(r Rule) (start, end TimeOfDay, ok bool) {
	if at, fixed := FixedTime(r); fixed {
		return at, at, true
	}
	switch v := r.(type) {
	case *HourlyRule:
		if v.TimeRange != nil {
			return v.TimeRange.Start, v.TimeRange.End, true
		}
		return v.Start, v.End, true
	case *DailyRule:
		return v.TimeRange.Start, v.TimeRange.End, true
	case *WeeklyRule:
		return v.TimeRange.Start, v.TimeRange.End, true
	case *MonthlyRule:
		return v.TimeRange.Start, v.TimeRange.End, true
	}
	return TimeOfDay{}, TimeOfDay{}, false
}

func validateDays(days []time.Weekday) error {
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return invalidRule("weekday %d out of range", d)
		}
	}
	return nil
}

func joinDays(days []time.Weekday) string {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, ", ")
}

func hoursOrDefault(h float64) float64 {
	if h <= 0 {
		return 1
	}
	return h
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
