package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evntfy/evntfy/app"
	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/event"
)

// batchRecorder captures persisted batch sizes.
type batchRecorder struct {
	mu    sync.Mutex
	sizes []int
}

func (r *batchRecorder) handler(_ context.Context, payload any) error {
	batch := payload.([]event.Event)
	r.mu.Lock()
	r.sizes = append(r.sizes, len(batch))
	r.mu.Unlock()
	return nil
}

func (r *batchRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.sizes))
	copy(out, r.sizes)
	return out
}

func TestIngestBatcher_FlushesBySize(t *testing.T) {
	rec := &batchRecorder{}
	sink := queue.New("persist", queue.Config{Workers: 1}, rec.handler, nop)
	b := app.NewIngestBatcher(sink, 0, time.Hour, nop)

	for i := 0; i < 12000; i++ {
		b.Enqueue(event.Event{ID: "e", OwnerID: "owner_1", EventName: "click"})
	}

	if got := b.Len(); got != 2000 {
		t.Errorf("buffered = %d, want 2000 after one size-triggered flush", got)
	}

	b.Close()
	sink.Close()

	sizes := rec.snapshot()
	if len(sizes) != 2 || sizes[0] != 10000 || sizes[1] != 2000 {
		t.Errorf("batch sizes = %v, want [10000 2000]", sizes)
	}
}

func TestIngestBatcher_FlushesByTime(t *testing.T) {
	rec := &batchRecorder{}
	sink := queue.New("persist", queue.Config{Workers: 1}, rec.handler, nop)
	b := app.NewIngestBatcher(sink, 100, 10*time.Millisecond, nop)

	b.Enqueue(event.Event{ID: "e1"})
	b.Enqueue(event.Event{ID: "e2"})

	deadline := time.Now().Add(2 * time.Second)
	for b.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	b.Close()
	sink.Close()

	sizes := rec.snapshot()
	if len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("batch sizes = %v, want [2]", sizes)
	}
}

func TestIngestBatcher_CloseFlushesRemainder(t *testing.T) {
	rec := &batchRecorder{}
	sink := queue.New("persist", queue.Config{Workers: 1}, rec.handler, nop)
	b := app.NewIngestBatcher(sink, 100, time.Hour, nop)

	b.Enqueue(event.Event{ID: "e1"})
	b.Close()
	b.Close() // idempotent
	sink.Close()

	sizes := rec.snapshot()
	if len(sizes) != 1 || sizes[0] != 1 {
		t.Errorf("batch sizes = %v, want [1]", sizes)
	}
}
