package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/event"
)

// Fan-out batcher defaults.
const (
	DefaultFanoutBatchSize     = 5000
	DefaultFanoutFlushInterval = 500 * time.Millisecond
)

// BroadcastJob is one fan-out batch for a single subscriber channel.
type BroadcastJob struct {
	OwnerID string
	Events  []event.Event
}

// FanoutBatcher accumulates events per subscriber identity and hands
// per-owner batches to the broadcast queue. A full owner buffer flushes
// that owner only; a global timer flushes every non-empty buffer.
type FanoutBatcher struct {
	sink          *queue.Queue // broadcast jobs: BroadcastJob
	batchSize     int
	flushInterval time.Duration
	logger        zerolog.Logger

	mu      sync.Mutex
	buffers map[string][]event.Event

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFanoutBatcher creates a fan-out batcher and starts its flush timer.
func NewFanoutBatcher(sink *queue.Queue, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *FanoutBatcher {
	if batchSize <= 0 {
		batchSize = DefaultFanoutBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFanoutFlushInterval
	}

	b := &FanoutBatcher{
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With().Str("component", "fanout_batcher").Logger(),
		buffers:       make(map[string][]event.Event),
		stopCh:        make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// AddEvent appends an event to the owner's buffer, flushing that owner
// immediately when its buffer reaches the batch size.
func (b *FanoutBatcher) AddEvent(ownerID string, e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffers[ownerID] = append(b.buffers[ownerID], e)
	if len(b.buffers[ownerID]) >= b.batchSize {
		b.flushUserLocked(ownerID)
	}
}

// FlushUser hands the owner's buffered events to the broadcast queue.
func (b *FanoutBatcher) FlushUser(ownerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushUserLocked(ownerID)
}

// FlushAll flushes every non-empty subscriber buffer.
func (b *FanoutBatcher) FlushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ownerID := range b.buffers {
		b.flushUserLocked(ownerID)
	}
}

// BufferedFor returns the owner's current buffer length (for tests).
func (b *FanoutBatcher) BufferedFor(ownerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[ownerID])
}

func (b *FanoutBatcher) flushUserLocked(ownerID string) {
	events := b.buffers[ownerID]
	if len(events) == 0 {
		return
	}
	delete(b.buffers, ownerID)

	if err := b.sink.Enqueue(BroadcastJob{OwnerID: ownerID, Events: events}); err != nil {
		b.logger.Error().Err(err).Str("owner", ownerID).Int("events", len(events)).
			Msg("broadcast hand-off failed")
	}
}

func (b *FanoutBatcher) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.FlushAll()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the timer and flushes remaining buffers.
func (b *FanoutBatcher) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
		b.FlushAll()
	})
	return nil
}
