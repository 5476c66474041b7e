package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns the system clock
func Real() Clock { return realClock{} }

// Fake is a settable clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now implements Clock
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
