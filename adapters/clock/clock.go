// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/evntfy/evntfy/ports"
)

// Real returns the actual current time.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Manual is a controllable clock for testing window and inactivity logic.
type Manual struct {
	mu      sync.RWMutex
	current time.Time
}

// NewManual creates a manual clock set to the given time.
func NewManual(t time.Time) *Manual {
	return &Manual{current: t}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set moves the clock to an absolute time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Manual)(nil)
)
