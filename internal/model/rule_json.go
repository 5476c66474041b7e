package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ruleEnvelope is the persisted form of every rule variant
type ruleEnvelope struct {
	Type           RuleKind       `json:"type"`
	At             *time.Time     `json:"at,omitempty"`
	TimeZone       string         `json:"time_zone,omitempty"`
	TimeRange      *TimeRange     `json:"time_range,omitempty"`
	Anchor         *time.Time     `json:"anchor,omitempty"`
	Days           []time.Weekday `json:"days,omitempty"`
	Start          *TimeOfDay     `json:"start,omitempty"`
	End            *TimeOfDay     `json:"end,omitempty"`
	Time           *TimeOfDay     `json:"time,omitempty"`
	IntervalDays   int            `json:"interval_days,omitempty"`
	IntervalWeeks  int            `json:"interval_weeks,omitempty"`
	HourlyInterval float64        `json:"hourly_interval,omitempty"`
	WeekdayOnly    bool           `json:"weekday_only,omitempty"`
	DayOfMonth     int            `json:"day_of_month,omitempty"`
	WeekOfMonth    int            `json:"week_of_month,omitempty"`
	Weekday        *time.Weekday  `json:"weekday,omitempty"`
	Months         []time.Month   `json:"months,omitempty"`
	Job            string         `json:"job,omitempty"`
}

func (e *ruleEnvelope) setTiming(t Timing) {
	e.TimeZone = t.TimeZone
	e.TimeRange = t.TimeRange
	if !t.Anchor.IsZero() {
		anchor := t.Anchor
		e.Anchor = &anchor
	}
}

func (e *ruleEnvelope) timing() Timing {
	t := Timing{TimeZone: e.TimeZone, TimeRange: e.TimeRange}
	if e.Anchor != nil {
		t.Anchor = *e.Anchor
	}
	return t
}

func timeOrZero(t *TimeOfDay) TimeOfDay {
	if t == nil {
		return TimeOfDay{}
	}
	return *t
}

// MarshalRule encodes a rule with its variant tag
func MarshalRule(r Rule) ([]byte, error) {
	env := ruleEnvelope{Type: r.Kind()}
	switch v := r.(type) {
	case *AtRule:
		at := v.At
		env.At = &at
	case *HourlyRule:
		env.setTiming(v.Timing)
		env.Days = v.Days
		start, end := v.Start, v.End
		env.Start, env.End = &start, &end
		env.IntervalDays = v.IntervalDays
		env.HourlyInterval = v.Interval
	case *DailyRule:
		env.setTiming(v.Timing)
		at := v.At
		env.Time = &at
		env.IntervalDays = v.IntervalDays
		env.WeekdayOnly = v.WeekdayOnly
	case *WeeklyRule:
		env.setTiming(v.Timing)
		at := v.At
		env.Time = &at
		env.Days = v.Days
		env.IntervalWeeks = v.IntervalWeeks
	case *MonthlyRule:
		env.setTiming(v.Timing)
		at := v.At
		env.Time = &at
		env.DayOfMonth = v.DayOfMonth
		env.WeekOfMonth = v.WeekOfMonth
		if v.WeekOfMonth != 0 {
			wd := v.Weekday
			env.Weekday = &wd
		}
		env.Months = v.Months
	case *CompletionRule:
		env.Job = v.Job
	default:
		return nil, fmt.Errorf("unsupported rule type %T", r)
	}
	return json.Marshal(env)
}

// UnmarshalRule decodes and validates a rule
func UnmarshalRule(data []byte) (Rule, error) {
	var env ruleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode rule: %w", err)
	}

	var r Rule
	switch env.Type {
	case RuleAt:
		rule := &AtRule{}
		if env.At != nil {
			rule.At = *env.At
		}
		r = rule
	case RuleHourly:
		r = &HourlyRule{
			Timing:       env.timing(),
			Days:         env.Days,
			Start:        timeOrZero(env.Start),
			End:          timeOrZero(env.End),
			IntervalDays: env.IntervalDays,
			Interval:     env.HourlyInterval,
		}
	case RuleDaily:
		r = &DailyRule{
			Timing:       env.timing(),
			At:           timeOrZero(env.Time),
			IntervalDays: env.IntervalDays,
			WeekdayOnly:  env.WeekdayOnly,
		}
	case RuleWeekly:
		r = &WeeklyRule{
			Timing:        env.timing(),
			Days:          env.Days,
			At:            timeOrZero(env.Time),
			IntervalWeeks: env.IntervalWeeks,
		}
	case RuleMonthly:
		rule := &MonthlyRule{
			Timing:      env.timing(),
			DayOfMonth:  env.DayOfMonth,
			WeekOfMonth: env.WeekOfMonth,
			At:          timeOrZero(env.Time),
			Months:      env.Months,
		}
		if env.Weekday != nil {
			rule.Weekday = *env.Weekday
		}
		r = rule
	case RuleCompletion:
		r = &CompletionRule{Job: env.Job}
	default:
		return nil, invalidRule("unknown rule type %q", env.Type)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalRules encodes a condition list
func MarshalRules(rules []Rule) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(rules))
	for i, r := range rules {
		data, err := MarshalRule(r)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// UnmarshalRules decodes a condition list
func UnmarshalRules(raw []json.RawMessage) ([]Rule, error) {
	out := make([]Rule, 0, len(raw))
	for i, data := range raw {
		r, err := UnmarshalRule(data)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// EqualRules reports whether two rules have the same persisted form
func EqualRules(a, b Rule) bool {
	if a == nil || b == nil {
		return a == b
	}
	da, errA := MarshalRule(a)
	db, errB := MarshalRule(b)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}
