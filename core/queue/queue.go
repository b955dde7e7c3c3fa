// Package queue provides an in-process job queue with a worker pool,
// bounded exponential-backoff retries, and dead-letter logging.
// Producers hand off jobs fire-and-forget; consumers own them from there.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one job payload. A non-nil error triggers the queue's
// retry policy; the handler must not retry internally.
type Handler func(ctx context.Context, payload any) error

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnRetry      func(queue string)
	OnDeadLetter func(queue string)
}

// Config configures a queue.
type Config struct {
	Workers     int           // concurrent handlers (default 4)
	MaxAttempts int           // attempts before dead-letter (default 5)
	Backoff     time.Duration // first retry delay (default 100ms, doubles per attempt)
	MaxBackoff  time.Duration // backoff ceiling (default 30s)
	Capacity    int           // channel capacity (default 1024)
	Hooks       Hooks
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = 1024
	}
	return c
}

type job struct {
	payload  any
	attempts int
}

// Queue is a named in-process job queue.
type Queue struct {
	name    string
	cfg     Config
	handler Handler
	logger  zerolog.Logger

	jobs      chan job
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup // workers
	inflight  sync.WaitGroup // pending retry timers
	closeOnce sync.Once
}

// New creates a queue and starts its workers.
func New(name string, cfg Config, handler Handler, logger zerolog.Logger) *Queue {
	cfg = cfg.withDefaults()

	q := &Queue{
		name:    name,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("queue", name).Logger(),
		jobs:    make(chan job, cfg.Capacity),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Enqueue hands a job to the queue without blocking the caller. When the
// channel is full the hand-off completes from a goroutine, so producers
// never wait on slow consumers.
func (q *Queue) Enqueue(payload any) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue %s is closed", q.name)
	}
	q.inflight.Add(1)
	q.mu.Unlock()

	j := job{payload: payload}
	select {
	case q.jobs <- j:
		q.inflight.Done()
	default:
		go func() {
			defer q.inflight.Done()
			q.jobs <- j
		}()
	}
	return nil
}

// Len returns the number of queued jobs (for tests).
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Close stops accepting jobs, drains the channel, and waits for workers.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		q.inflight.Wait()
		close(q.jobs)
		q.wg.Wait()
	})
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for j := range q.jobs {
		q.process(j)
	}
}

func (q *Queue) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := q.handler(ctx, j.payload)
	cancel()
	if err == nil {
		return
	}

	j.attempts++
	if j.attempts >= q.cfg.MaxAttempts {
		q.logger.Error().Err(err).
			Int("attempts", j.attempts).
			Msg("job dead-lettered")
		if q.cfg.Hooks.OnDeadLetter != nil {
			q.cfg.Hooks.OnDeadLetter(q.name)
		}
		return
	}

	delay := q.backoff(j.attempts)
	q.logger.Warn().Err(err).
		Int("attempt", j.attempts).
		Dur("retry_in", delay).
		Msg("job failed, scheduling retry")
	if q.cfg.Hooks.OnRetry != nil {
		q.cfg.Hooks.OnRetry(q.name)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Error().Err(err).Msg("queue closed, dropping retry")
		return
	}
	q.inflight.Add(1)
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		defer q.inflight.Done()
		q.jobs <- j
	})
}

func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.Backoff << (attempt - 1)
	if d > q.cfg.MaxBackoff || d <= 0 {
		return q.cfg.MaxBackoff
	}
	return d
}
