package model

import (
	"fmt"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay creates a time of day
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay{Hour: hour, Minute: minute, Second: second}
}

// TimeOfDayFromOffset converts an offset from midnight, wrapping at 24h
func TimeOfDayFromOffset(d time.Duration) TimeOfDay {
	secs := int(d / time.Second)
	secs %= secondsPerDay
	if secs < 0 {
		secs += secondsPerDay
	}
	return TimeOfDay{Hour: secs / 3600, Minute: secs % 3600 / 60, Second: secs % 60}
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	var n int
	var err error
	switch strings.Count(s, ":") {
	case 1:
		n, err = fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute)
		if err == nil && n != 2 {
			err = fmt.Errorf("expected HH:MM")
		}
	case 2:
		n, err = fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Minute, &t.Second)
		if err == nil && n != 3 {
			err = fmt.Errorf("expected HH:MM:SS")
		}
	default:
		err = fmt.Errorf("expected HH:MM or HH:MM:SS")
	}
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return t, nil
}

// Valid reports whether every field is in range
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 &&
		t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60
}

// Offset returns the duration since midnight
func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second
}

// Before reports whether t is earlier in the day than u
func (t TimeOfDay) Before(u TimeOfDay) bool {
	return t.Offset() < u.Offset()
}

// Add returns the time of day shifted by d and whether it wrapped past midnight
func (t TimeOfDay) Add(d time.Duration) (TimeOfDay, bool) {
	total := t.Offset() + d
	return TimeOfDayFromOffset(total), total >= 24*time.Hour || total < 0
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// MarshalText implements encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
