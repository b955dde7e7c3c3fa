// Package app wires the domain into the event admission, metering,
// batching, and aggregation pipeline.
package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

// DefaultSyncEvery is how many admissions pass between durable mirrors of
// the fast counter.
const DefaultSyncEvery = 1000

// UsageSyncJob mirrors a fast counter's running count to durable storage.
type UsageSyncJob struct {
	Key        string
	UsageCount int64
}

// AdmitDecision is the outcome of one admission attempt.
type AdmitDecision struct {
	Admitted   bool
	UsageCount int64
	UsageLimit int64
	OwnerID    string
}

// Meter enforces per-key usage quotas against the fast counter store.
// The counter is incremented before the limit resolves, so concurrent
// admissions at the moment of exhaustion can overshoot the limit by the
// number of in-flight attempts. That overshoot is intentional and bounded;
// see the admission tests.
type Meter struct {
	counters  ports.UsageCounterStore
	sync      *queue.Queue // usage-sync jobs
	syncEvery atomic.Int64
	logger    zerolog.Logger
}

// NewMeter creates a usage meter. syncQueue may be nil when durable
// mirroring is not wanted (tests).
func NewMeter(counters ports.UsageCounterStore, syncQueue *queue.Queue, syncEvery int64, logger zerolog.Logger) *Meter {
	m := &Meter{
		counters: counters,
		sync:     syncQueue,
		logger:   logger.With().Str("component", "meter").Logger(),
	}
	m.SetSyncEvery(syncEvery)
	return m
}

// SetSyncEvery changes the mirroring cadence. Safe to call while admissions
// are in flight; config reload uses this.
func (m *Meter) SetSyncEvery(n int64) {
	if n <= 0 {
		n = DefaultSyncEvery
	}
	m.syncEvery.Store(n)
}

// Initialize idempotently seeds the fast counter from a durable record.
func (m *Meter) Initialize(ctx context.Context, r key.UsageRecord) error {
	return m.counters.Initialize(ctx, r)
}

// Admit performs the atomic check-and-increment for one inbound message.
// Unknown keys return ports.ErrKeyNotFound; an unreachable counter store
// returns ports.ErrCounterUnavailable and the session must fail closed.
func (m *Meter) Admit(ctx context.Context, keyID string) (AdmitDecision, error) {
	state, err := m.counters.Admit(ctx, keyID)
	if err != nil {
		return AdmitDecision{}, err
	}

	d := AdmitDecision{
		Admitted:   state.Active && state.UsageCount <= state.UsageLimit,
		UsageCount: state.UsageCount,
		UsageLimit: state.UsageLimit,
		OwnerID:    state.OwnerID,
	}

	// Mirror the running count on every Nth admission. Failures are logged
	// and the queue retries; admission never waits on the mirror.
	if m.sync != nil && state.UsageCount%m.syncEvery.Load() == 0 {
		if err := m.sync.Enqueue(UsageSyncJob{Key: keyID, UsageCount: state.UsageCount}); err != nil {
			m.logger.Warn().Err(err).Str("key", keyID).Msg("usage mirror enqueue failed")
		}
	}

	return d, nil
}

// Reset zeroes the fast counter for keyID, re-opening admission.
func (m *Meter) Reset(ctx context.Context, keyID string) error {
	return m.counters.Reset(ctx, keyID)
}

// Current reads the fast counter without admitting.
func (m *Meter) Current(ctx context.Context, keyID string) (ports.CounterState, error) {
	return m.counters.Current(ctx, keyID)
}
