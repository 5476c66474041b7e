package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCircularDependency is returned when a completion condition would close a cycle
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrInvalidWindow is returned when a redistribution window is empty or wraps midnight
	ErrInvalidWindow = errors.New("invalid redistribution window")

	// ErrPermissionDenied is returned when the principal may not perform an action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPlanConflict is returned when a planned condition changed before the plan was applied
	ErrPlanConflict = errors.New("plan conflicts with current job state")
)

// CycleError reports the dependency path a rejected edge would close
type CycleError struct {
	From string
	To   string
	// Path runs from To back to From along existing completion edges.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s: %s -> %s", ErrCircularDependency, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s -> %s", ErrCircularDependency, e.From, strings.Join(e.Path, " -> "))
}

// Unwrap lets errors.Is match ErrCircularDependency
func (e *CycleError) Unwrap() error {
	return ErrCircularDependency
}
