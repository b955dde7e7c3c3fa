// Package memory provides in-memory implementations of storage ports,
// used in tests and single-process dev deployments.
package memory

import (
	"context"
	"sync"

	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

type counterEntry struct {
	ownerID    string
	usageCount int64
	usageLimit int64
	active     bool
}

// UsageCounterStore is an in-memory implementation of
// ports.UsageCounterStore. A single mutex serializes Admit, giving the same
// check-and-increment atomicity the Redis script provides.
type UsageCounterStore struct {
	mu       sync.Mutex
	counters map[string]*counterEntry

	// fail, when set, makes every call return ErrCounterUnavailable (for
	// fail-closed tests).
	fail bool
}

// NewUsageCounterStore creates an empty in-memory counter store.
func NewUsageCounterStore() *UsageCounterStore {
	return &UsageCounterStore{counters: make(map[string]*counterEntry)}
}

// Admit increments the counter and returns the resulting state.
func (s *UsageCounterStore) Admit(ctx context.Context, keyID string) (ports.CounterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return ports.CounterState{}, ports.ErrCounterUnavailable
	}

	e, ok := s.counters[keyID]
	if !ok {
		return ports.CounterState{}, ports.ErrKeyNotFound
	}

	e.usageCount++
	return ports.CounterState{
		Key:        keyID,
		OwnerID:    e.ownerID,
		UsageCount: e.usageCount,
		UsageLimit: e.usageLimit,
		Active:     e.active,
	}, nil
}

// Initialize seeds the counter from a durable record. First use wins.
func (s *UsageCounterStore) Initialize(ctx context.Context, r key.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return ports.ErrCounterUnavailable
	}
	if _, ok := s.counters[r.Key]; ok {
		return nil
	}

	s.counters[r.Key] = &counterEntry{
		ownerID:    r.OwnerID,
		usageCount: r.UsageCount,
		usageLimit: r.UsageLimit,
		active:     r.Active,
	}
	return nil
}

// Current reads the counter without incrementing.
func (s *UsageCounterStore) Current(ctx context.Context, keyID string) (ports.CounterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return ports.CounterState{}, ports.ErrCounterUnavailable
	}
	e, ok := s.counters[keyID]
	if !ok {
		return ports.CounterState{}, ports.ErrKeyNotFound
	}
	return ports.CounterState{
		Key:        keyID,
		OwnerID:    e.ownerID,
		UsageCount: e.usageCount,
		UsageLimit: e.usageLimit,
		Active:     e.active,
	}, nil
}

// Reset zeroes the usage count for keyID.
func (s *UsageCounterStore) Reset(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return ports.ErrCounterUnavailable
	}
	e, ok := s.counters[keyID]
	if !ok {
		return ports.ErrKeyNotFound
	}
	e.usageCount = 0
	return nil
}

// SetUnavailable toggles simulated store outage (for testing).
func (s *UsageCounterStore) SetUnavailable(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Ensure interface compliance.
var _ ports.UsageCounterStore = (*UsageCounterStore)(nil)
