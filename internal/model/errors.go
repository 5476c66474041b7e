package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRule is returned when a recurrence rule is malformed
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrJobNotFound is returned when a job store lookup misses
	ErrJobNotFound = errors.New("job not found")
)

func invalidRule(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}
