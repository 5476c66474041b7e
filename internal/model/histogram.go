package model

import (
	"fmt"
	"time"
)

// ScopeLevel selects the granularity of a load histogram
type ScopeLevel int

const (
	ScopeWeek ScopeLevel = iota
	ScopeDay
	ScopeHour
)

func (l ScopeLevel) String() string {
	switch l {
	case ScopeWeek:
		return "week"
	case ScopeDay:
		return "day"
	case ScopeHour:
		return "hour"
	default:
		return fmt.Sprintf("scope(%d)", int(l))
	}
}

// Scope is the slice of the week a histogram covers
type Scope struct {
	Level   ScopeLevel
	Weekday time.Weekday
	Hour    int
}

// WeekScope covers the whole week, one bucket per weekday
func WeekScope() Scope { return Scope{Level: ScopeWeek} }

// DayScope covers one weekday, one bucket per hour
func DayScope(day time.Weekday) Scope { return Scope{Level: ScopeDay, Weekday: day} }

// HourScope covers one hour of one weekday, one bucket per sub-hour slot
func HourScope(day time.Weekday, hour int) Scope {
	return Scope{Level: ScopeHour, Weekday: day, Hour: hour}
}

// Validate checks the scope bounds
func (s Scope) Validate() error {
	if s.Level < ScopeWeek || s.Level > ScopeHour {
		return fmt.Errorf("unknown histogram scope %d", s.Level)
	}
	if s.Level >= ScopeDay && (s.Weekday < time.Sunday || s.Weekday > time.Saturday) {
		return fmt.Errorf("weekday %d out of range", s.Weekday)
	}
	if s.Level == ScopeHour && (s.Hour < 0 || s.Hour > 23) {
		return fmt.Errorf("hour %d out of range", s.Hour)
	}
	return nil
}

func (s Scope) String() string {
	switch s.Level {
	case ScopeDay:
		return fmt.Sprintf("day:%s", s.Weekday)
	case ScopeHour:
		return fmt.Sprintf("hour:%s:%02d", s.Weekday, s.Hour)
	default:
		return s.Level.String()
	}
}

// HistogramBucket counts triggers in one slot. Children hold the next finer level.
type HistogramBucket struct {
	Index     int               `json:"index"`
	HardCount int               `json:"hard_count"`
	SoftCount int               `json:"soft_count"`
	Children  []HistogramBucket `json:"children,omitempty"`
}

// Total returns hard plus soft triggers
func (b HistogramBucket) Total() int {
	return b.HardCount + b.SoftCount
}
