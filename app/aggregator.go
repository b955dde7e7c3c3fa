package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/metrics"
	"github.com/evntfy/evntfy/ports"
)

// Aggregator defaults.
const (
	DefaultWindowMinutes       = 5
	DefaultInactivityThreshold = 2 * time.Minute
	DefaultSnapshotInterval    = 10 * time.Second
)

// Bucket retention. Hour buckets outlive the 24-point volume series; day
// buckets cover day-over-day comparisons.
const (
	hourBucketTTL = 25 * time.Hour
	dayBucketTTL  = 48 * time.Hour
)

// AggregatorConfig tunes the in-memory metrics aggregator.
type AggregatorConfig struct {
	WindowMinutes       int
	InactivityThreshold time.Duration
	SnapshotInterval    time.Duration
	LiveRingSize        int
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = DefaultWindowMinutes
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = DefaultInactivityThreshold
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.LiveRingSize <= 0 {
		c.LiveRingSize = metrics.LiveEventLimit
	}
	return c
}

type bucket struct {
	counters  *metrics.Counters
	expiresAt time.Time
}

// Aggregator folds admitted events into minute, hour and day buckets and
// publishes dashboard snapshots: immediately to the producing owner's
// channel, and on a fixed interval to every connected dashboard. Expired
// buckets are pruned lazily on access, never by a background sweep.
type Aggregator struct {
	cfg         AggregatorConfig
	clock       ports.Clock
	broadcaster ports.Broadcaster
	logger      zerolog.Logger

	mu           sync.Mutex
	minutes      map[int64]*bucket
	hours        map[int64]*bucket
	days         map[int64]*bucket
	live         []metrics.LiveEvent // newest first
	lastActivity time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAggregator creates an aggregator and starts its snapshot timer.
func NewAggregator(cfg AggregatorConfig, clock ports.Clock, broadcaster ports.Broadcaster, logger zerolog.Logger) *Aggregator {
	a := &Aggregator{
		cfg:         cfg.withDefaults(),
		clock:       clock,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "aggregator").Logger(),
		minutes:     make(map[int64]*bucket),
		hours:       make(map[int64]*bucket),
		days:        make(map[int64]*bucket),
		stopCh:      make(chan struct{}),
	}

	a.wg.Add(1)
	go a.snapshotLoop()

	return a
}

// Process folds one admitted event into the aggregates and pushes a fresh
// snapshot to the producing owner's dashboard channel.
func (a *Aggregator) Process(ownerID string, e event.Event) {
	now := a.clock.Now()

	a.mu.Lock()
	a.lastActivity = now

	minuteTTL := time.Duration(a.cfg.WindowMinutes+2) * time.Minute
	a.bucketFor(a.minutes, metrics.MinuteKey(e.Timestamp), now, minuteTTL).counters.Apply(e)
	a.bucketFor(a.hours, metrics.HourKey(e.Timestamp), now, hourBucketTTL).counters.Apply(e)
	a.bucketFor(a.days, metrics.DayKey(e.Timestamp), now, dayBucketTTL).counters.Apply(e)

	a.pushLive(e, now)

	d := a.snapshotLocked(now)
	a.mu.Unlock()

	a.broadcaster.PushDashboard(ownerID, d)
}

// Snapshot computes the current dashboard. Used for the initial payload
// sent to a freshly connected subscriber.
func (a *Aggregator) Snapshot() metrics.Dashboard {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(now)
}

// Reconfigure applies new tuning while the aggregator is running. The
// snapshot timer picks up a changed interval on its next tick.
func (a *Aggregator) Reconfigure(cfg AggregatorConfig) {
	cfg = cfg.withDefaults()
	a.mu.Lock()
	a.cfg = cfg
	if len(a.live) > cfg.LiveRingSize {
		a.live = a.live[:cfg.LiveRingSize]
	}
	a.mu.Unlock()
}

// Close stops the snapshot timer.
func (a *Aggregator) Close() error {
	a.closeOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
	})
	return nil
}

func (a *Aggregator) bucketFor(m map[int64]*bucket, key int64, now time.Time, ttl time.Duration) *bucket {
	b, ok := m[key]
	if ok && now.Before(b.expiresAt) {
		b.expiresAt = now.Add(ttl)
		return b
	}
	b = &bucket{counters: metrics.NewCounters(), expiresAt: now.Add(ttl)}
	m[key] = b
	return b
}

func (a *Aggregator) pushLive(e event.Event, now time.Time) {
	le := metrics.LiveEvent{
		ID:        e.ID,
		EventName: e.EventName,
		UserID:    e.Payload.Attr(event.AttrUserID, "anonymous"),
		Country:   e.Payload.Attr(event.AttrCountry, "Unknown"),
		Device:    e.Payload.Attr(event.AttrDevice, "unknown"),
		Timestamp: e.Timestamp,
		TimeAgo:   metrics.TimeAgo(now, e.Timestamp),
	}

	a.live = append([]metrics.LiveEvent{le}, a.live...)
	if len(a.live) > a.cfg.LiveRingSize {
		a.live = a.live[:a.cfg.LiveRingSize]
	}
}

func (a *Aggregator) snapshotLocked(now time.Time) metrics.Dashboard {
	if a.lastActivity.IsZero() || now.Sub(a.lastActivity) > a.cfg.InactivityThreshold {
		return metrics.Inactive(now)
	}

	active := a.mergeMinutes(now, 0)
	previous := a.mergeMinutes(now, a.cfg.WindowMinutes)
	hourly := a.hourlySeries(now)
	live := a.liveSnapshot(now)

	return metrics.Compute(active, previous, hourly, live, a.cfg.WindowMinutes)
}

// mergeMinutes merges the WindowMinutes minute buckets ending offsetMinutes
// ago, pruning any it finds expired.
func (a *Aggregator) mergeMinutes(now time.Time, offsetMinutes int) *metrics.Counters {
	merged := metrics.NewCounters()
	for i := 0; i < a.cfg.WindowMinutes; i++ {
		at := now.Add(-time.Duration(offsetMinutes+i) * time.Minute)
		key := metrics.MinuteKey(at)
		b, ok := a.minutes[key]
		if !ok {
			continue
		}
		if !now.Before(b.expiresAt) {
			delete(a.minutes, key)
			continue
		}
		merged.Merge(b.counters)
	}
	return merged
}

// hourlySeries builds the 24-point volume series, oldest hour first.
func (a *Aggregator) hourlySeries(now time.Time) []metrics.TimePoint {
	series := make([]metrics.TimePoint, 0, 24)
	for i := 23; i >= 0; i-- {
		at := now.Add(-time.Duration(i) * time.Hour)
		key := metrics.HourKey(at)

		var events int64
		if b, ok := a.hours[key]; ok {
			if now.Before(b.expiresAt) {
				events = b.counters.Total
			} else {
				delete(a.hours, key)
			}
		}
		series = append(series, metrics.TimePoint{
			Time:   metrics.FormatHourLabel(at),
			Events: events,
		})
	}
	return series
}

// liveSnapshot copies the live ring with relative ages recomputed against
// the snapshot time.
func (a *Aggregator) liveSnapshot(now time.Time) []metrics.LiveEvent {
	out := make([]metrics.LiveEvent, len(a.live))
	copy(out, a.live)
	for i := range out {
		out[i].TimeAgo = metrics.TimeAgo(now, out[i].Timestamp)
	}
	return out
}

func (a *Aggregator) snapshotLoop() {
	defer a.wg.Done()

	a.mu.Lock()
	interval := a.cfg.SnapshotInterval
	a.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.broadcaster.PushDashboard(ports.BroadcastAll, a.Snapshot())

			a.mu.Lock()
			if a.cfg.SnapshotInterval != interval {
				interval = a.cfg.SnapshotInterval
				ticker.Reset(interval)
			}
			a.mu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}
