package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/evntfy/evntfy/adapters/memory"
	"github.com/evntfy/evntfy/app"
	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

func seeded(t *testing.T, count, limit int64, active bool) (*app.Meter, *memory.UsageCounterStore) {
	t.Helper()
	counters := memory.NewUsageCounterStore()
	m := app.NewMeter(counters, nil, 0, nop)
	err := m.Initialize(context.Background(), key.UsageRecord{
		Key:        "key_1",
		OwnerID:    "owner_1",
		UsageCount: count,
		UsageLimit: limit,
		Active:     active,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m, counters
}

func TestMeter_AdmitsUnderLimit(t *testing.T) {
	m, _ := seeded(t, 0, 3, true)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := m.Admit(ctx, "key_1")
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !d.Admitted || d.UsageCount != int64(i) {
			t.Errorf("admit %d = %+v, want admitted with count %d", i, d, i)
		}
		if d.OwnerID != "owner_1" {
			t.Errorf("ownerID = %q", d.OwnerID)
		}
	}

	d, err := m.Admit(ctx, "key_1")
	if err != nil {
		t.Fatalf("admit over limit: %v", err)
	}
	if d.Admitted {
		t.Error("fourth admission passed, want rejection")
	}
	if d.UsageCount != 4 || d.UsageLimit != 3 {
		t.Errorf("state = %d/%d, want 4/3 (count keeps advancing)", d.UsageCount, d.UsageLimit)
	}
}

func TestMeter_RejectsInactiveKey(t *testing.T) {
	m, _ := seeded(t, 0, 10, false)

	d, err := m.Admit(context.Background(), "key_1")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.Admitted {
		t.Error("inactive key admitted")
	}
}

func TestMeter_FailsClosedWhenCounterDown(t *testing.T) {
	m, counters := seeded(t, 0, 10, true)
	counters.SetUnavailable(true)

	_, err := m.Admit(context.Background(), "key_1")
	if !errors.Is(err, ports.ErrCounterUnavailable) {
		t.Errorf("err = %v, want ErrCounterUnavailable", err)
	}
}

func TestMeter_MirrorsEveryNthAdmission(t *testing.T) {
	var mu sync.Mutex
	var mirrored []app.UsageSyncJob

	sink := queue.New("usage-sync", queue.Config{Workers: 1}, func(_ context.Context, payload any) error {
		mu.Lock()
		mirrored = append(mirrored, payload.(app.UsageSyncJob))
		mu.Unlock()
		return nil
	}, nop)

	counters := memory.NewUsageCounterStore()
	m := app.NewMeter(counters, sink, 2, nop)
	ctx := context.Background()
	m.Initialize(ctx, key.UsageRecord{Key: "key_1", OwnerID: "owner_1", UsageLimit: 100, Active: true})

	for i := 0; i < 5; i++ {
		if _, err := m.Admit(ctx, "key_1"); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(mirrored) != 2 {
		t.Fatalf("mirrors = %d, want 2 (counts 2 and 4)", len(mirrored))
	}
	if mirrored[0].UsageCount != 2 || mirrored[1].UsageCount != 4 {
		t.Errorf("mirrored counts = %d, %d, want 2, 4", mirrored[0].UsageCount, mirrored[1].UsageCount)
	}
	if mirrored[0].Key != "key_1" {
		t.Errorf("mirrored key = %q", mirrored[0].Key)
	}
}

func TestMeter_UnknownKey(t *testing.T) {
	m := app.NewMeter(memory.NewUsageCounterStore(), nil, 0, nop)

	_, err := m.Admit(context.Background(), "missing")
	if !errors.Is(err, ports.ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}
