package app_test

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/evntfy/evntfy/adapters/clock"
	"github.com/evntfy/evntfy/app"
	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/ports"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testEvent(id, name, userID string, at time.Time) event.Event {
	return event.Event{
		ID:        id,
		OwnerID:   "owner_1",
		EventName: name,
		Payload: event.ParsePayload(
			fmt.Sprintf(`{"userId":%q,"country":"US","device":"mobile"}`, userID)),
		Timestamp:  at,
		ReceivedAt: at,
	}
}

func newAggregator(c ports.Clock, b ports.Broadcaster, cfg app.AggregatorConfig) *app.Aggregator {
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = time.Hour // keep the timer out of assertions
	}
	return app.NewAggregator(cfg, c, b, nop)
}

func TestAggregator_SnapshotCountsActiveWindow(t *testing.T) {
	clk := clock.NewManual(t0)
	bc := &fakeBroadcaster{}
	a := newAggregator(clk, bc, app.AggregatorConfig{})
	defer a.Close()

	a.Process("owner_1", testEvent("e1", "click", "u1", t0))
	a.Process("owner_1", testEvent("e2", "click", "u2", t0))
	a.Process("owner_1", testEvent("e3", "purchase", "u1", t0))

	d := a.Snapshot()
	if d.TotalEvents != 3 {
		t.Errorf("totalEvents = %d, want 3", d.TotalEvents)
	}
	if d.ActiveUsers != 2 {
		t.Errorf("activeUsers = %d, want 2", d.ActiveUsers)
	}
	if d.EventsPerHour != 36 {
		t.Errorf("eventsPerHour = %d, want 36 (3 events x 12)", d.EventsPerHour)
	}
	if d.TotalEventsChange != 100 {
		t.Errorf("totalEventsChange = %v, want 100 (empty previous window)", d.TotalEventsChange)
	}
	if len(d.EventVolume) != 24 {
		t.Errorf("eventVolume points = %d, want 24", len(d.EventVolume))
	}
	if d.EventVolume[23].Events != 3 {
		t.Errorf("current hour events = %d, want 3", d.EventVolume[23].Events)
	}
	if len(d.TopEvents) == 0 || d.TopEvents[0].Name != "click" || d.TopEvents[0].Count != 2 {
		t.Errorf("topEvents = %+v", d.TopEvents)
	}
}

func TestAggregator_SnapshotIsIdempotent(t *testing.T) {
	clk := clock.NewManual(t0)
	bc := &fakeBroadcaster{}
	a := newAggregator(clk, bc, app.AggregatorConfig{})
	defer a.Close()

	a.Process("owner_1", testEvent("e1", "click", "u1", t0))
	a.Process("owner_1", testEvent("e2", "purchase", "u2", t0))
	clk.Advance(time.Minute)

	first := a.Snapshot()
	second := a.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("consecutive snapshots differ:\n first = %+v\nsecond = %+v", first, second)
	}
}

func TestAggregator_ProcessPushesOwnerDashboard(t *testing.T) {
	clk := clock.NewManual(t0)
	bc := &fakeBroadcaster{}
	a := newAggregator(clk, bc, app.AggregatorConfig{})
	defer a.Close()

	a.Process("owner_1", testEvent("e1", "click", "u1", t0))

	pushes := bc.dashboardPushes()
	if len(pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pushes))
	}
	if pushes[0].target != "owner_1" {
		t.Errorf("target = %q, want owner_1", pushes[0].target)
	}
	if pushes[0].d.TotalEvents != 1 {
		t.Errorf("pushed totalEvents = %d, want 1", pushes[0].d.TotalEvents)
	}
}

func TestAggregator_InactiveAfterThreshold(t *testing.T) {
	clk := clock.NewManual(t0)
	bc := &fakeBroadcaster{}
	a := newAggregator(clk, bc, app.AggregatorConfig{})
	defer a.Close()

	a.Process("owner_1", testEvent("e1", "click", "u1", t0))
	clk.Advance(3 * time.Minute)

	d := a.Snapshot()
	if d.TotalEvents != 0 || d.ActiveUsers != 0 {
		t.Errorf("snapshot = %d events / %d users, want all zero", d.TotalEvents, d.ActiveUsers)
	}
	if len(d.EventVolume) != 24 {
		t.Errorf("eventVolume points = %d, want 24", len(d.EventVolume))
	}
	if len(d.LiveEvents) != 0 {
		t.Errorf("liveEvents = %d, want 0", len(d.LiveEvents))
	}
	if d.Performance.Uptime == 0 {
		t.Error("uptime baseline missing from inactive snapshot")
	}
}

func TestAggregator_NeverActiveIsInactive(t *testing.T) {
	clk := clock.NewManual(t0)
	a := newAggregator(clk, &fakeBroadcaster{}, app.AggregatorConfig{})
	defer a.Close()

	d := a.Snapshot()
	if d.TotalEvents != 0 {
		t.Errorf("totalEvents = %d, want 0", d.TotalEvents)
	}
}

func TestAggregator_PreviousWindowComparison(t *testing.T) {
	clk := clock.NewManual(t0)
	bc := &fakeBroadcaster{}
	a := newAggregator(clk, bc, app.AggregatorConfig{InactivityThreshold: time.Hour})
	defer a.Close()

	for i := 0; i < 4; i++ {
		a.Process("owner_1", testEvent(fmt.Sprintf("p%d", i), "click", "u1", clk.Now()))
	}
	clk.Advance(5 * time.Minute)
	a.Process("owner_1", testEvent("c1", "click", "u1", clk.Now()))

	d := a.Snapshot()
	if d.TotalEvents != 1 {
		t.Errorf("totalEvents = %d, want 1 (active window only)", d.TotalEvents)
	}
	if d.TotalEventsChange != -75 {
		t.Errorf("totalEventsChange = %v, want -75 (1 vs 4)", d.TotalEventsChange)
	}
}

func TestAggregator_LiveRingNewestFirstAndCapped(t *testing.T) {
	clk := clock.NewManual(t0)
	a := newAggregator(clk, &fakeBroadcaster{}, app.AggregatorConfig{LiveRingSize: 3})
	defer a.Close()

	for i := 1; i <= 5; i++ {
		a.Process("owner_1", testEvent(fmt.Sprintf("e%d", i), "click", "u1", clk.Now()))
	}

	d := a.Snapshot()
	if len(d.LiveEvents) != 3 {
		t.Fatalf("liveEvents = %d, want 3", len(d.LiveEvents))
	}
	if d.LiveEvents[0].ID != "e5" || d.LiveEvents[2].ID != "e3" {
		t.Errorf("live order = [%s %s %s], want newest first e5..e3",
			d.LiveEvents[0].ID, d.LiveEvents[1].ID, d.LiveEvents[2].ID)
	}
	if d.LiveEvents[0].UserID != "u1" || d.LiveEvents[0].Country != "US" {
		t.Errorf("live enrichment = %+v", d.LiveEvents[0])
	}
	if d.LiveEvents[0].TimeAgo != "just now" {
		t.Errorf("timeAgo = %q, want just now", d.LiveEvents[0].TimeAgo)
	}
}

func TestAggregator_SnapshotTimerBroadcastsToAll(t *testing.T) {
	clk := clock.NewManual(t0)
	bc := &fakeBroadcaster{}
	a := app.NewAggregator(app.AggregatorConfig{SnapshotInterval: 10 * time.Millisecond}, clk, bc, nop)
	defer a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bc.dashboardPushes()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	pushes := bc.dashboardPushes()
	if len(pushes) == 0 {
		t.Fatal("no interval broadcast observed")
	}
	if pushes[0].target != ports.BroadcastAll {
		t.Errorf("target = %q, want %q", pushes[0].target, ports.BroadcastAll)
	}
}

func TestAggregator_LiveAgesRecomputedAtSnapshot(t *testing.T) {
	clk := clock.NewManual(t0)
	a := newAggregator(clk, &fakeBroadcaster{}, app.AggregatorConfig{InactivityThreshold: time.Hour})
	defer a.Close()

	a.Process("owner_1", testEvent("e1", "click", "u1", t0))
	clk.Advance(30 * time.Minute)
	a.Process("owner_1", testEvent("e2", "click", "u1", clk.Now()))

	d := a.Snapshot()
	if len(d.LiveEvents) != 2 {
		t.Fatalf("liveEvents = %d, want 2", len(d.LiveEvents))
	}
	if d.LiveEvents[1].TimeAgo != "30m ago" {
		t.Errorf("timeAgo = %q, want 30m ago", d.LiveEvents[1].TimeAgo)
	}
}
