package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/event"
)

// Ingestion batcher defaults.
const (
	DefaultIngestBatchSize     = 10000
	DefaultIngestFlushInterval = 500 * time.Millisecond
)

// IngestBatcher accumulates admitted events and hands them to the
// persistence queue in batches, by size or by time. The buffer swap on
// flush is atomic with respect to concurrent Enqueue calls, so the buffer
// never exceeds the batch size and a flush never observes a partial drain.
type IngestBatcher struct {
	sink          *queue.Queue // persistence jobs: []event.Event
	batchSize     int
	flushInterval time.Duration
	logger        zerolog.Logger

	mu     sync.Mutex
	buffer []event.Event

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewIngestBatcher creates an ingestion batcher and starts its flush timer.
func NewIngestBatcher(sink *queue.Queue, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *IngestBatcher {
	if batchSize <= 0 {
		batchSize = DefaultIngestBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultIngestFlushInterval
	}

	b := &IngestBatcher{
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With().Str("component", "ingest_batcher").Logger(),
		buffer:        make([]event.Event, 0, batchSize),
		stopCh:        make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// Enqueue appends an event to the buffer, flushing immediately when the
// batch size is reached. The hand-off never blocks the caller.
func (b *IngestBatcher) Enqueue(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, e)
	if len(b.buffer) >= b.batchSize {
		b.flushLocked()
	}
}

// Flush forces a hand-off of the current buffer, if any.
func (b *IngestBatcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Len returns the current buffer length (for tests).
func (b *IngestBatcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *IngestBatcher) flushLocked() {
	if len(b.buffer) == 0 {
		return
	}

	batch := b.buffer
	b.buffer = make([]event.Event, 0, b.batchSize)

	if err := b.sink.Enqueue(batch); err != nil {
		b.logger.Error().Err(err).Int("events", len(batch)).Msg("persistence hand-off failed")
	}
}

func (b *IngestBatcher) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the timer and flushes remaining events.
func (b *IngestBatcher) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
		b.Flush()
	})
	return nil
}
