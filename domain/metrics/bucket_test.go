package metrics_test

import (
	"testing"
	"time"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/metrics"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func makeEvent(name, payload string, ts time.Time) event.Event {
	return event.Event{
		ID:         "ev",
		OwnerID:    "o1",
		EventName:  name,
		Payload:    event.ParsePayload(payload),
		Timestamp:  ts,
		ReceivedAt: ts.Add(25 * time.Millisecond),
	}
}

func TestBucketKeys(t *testing.T) {
	if metrics.MinuteKey(base) != base.Unix()/60 {
		t.Error("minute key mismatch")
	}
	if metrics.MinuteKey(base) == metrics.MinuteKey(base.Add(time.Minute)) {
		t.Error("adjacent minutes must differ")
	}
	if metrics.HourKey(base) != metrics.HourKey(base.Add(59*time.Minute)) {
		t.Error("same hour must share a key")
	}
	if metrics.DayKey(base) != metrics.DayKey(base.Add(11*time.Hour)) {
		t.Error("same day must share a key")
	}
}

func TestCountersApply(t *testing.T) {
	c := metrics.NewCounters()
	c.Apply(makeEvent("page_view", `{"userId":"u1","country":"DE","device":"mobile"}`, base))
	c.Apply(makeEvent("page_view", `{"userId":"u2","country":"DE"}`, base))
	c.Apply(makeEvent("purchase", `{"userId":"u1","referrer":"google"}`, base))

	if c.Total != 3 {
		t.Errorf("total = %d, want 3", c.Total)
	}
	if c.Events["page_view"] != 2 {
		t.Errorf("page_view = %d, want 2", c.Events["page_view"])
	}
	if c.Countries["DE"] != 2 || c.Countries["Unknown"] != 1 {
		t.Errorf("countries = %v", c.Countries)
	}
	if c.Devices["mobile"] != 1 || c.Devices["unknown"] != 2 {
		t.Errorf("devices = %v", c.Devices)
	}
	if c.Referrers["google"] != 1 || c.Referrers["Direct"] != 2 {
		t.Errorf("referrers = %v", c.Referrers)
	}
	if c.ActiveUsers() != 2 {
		t.Errorf("activeUsers = %d, want 2", c.ActiveUsers())
	}
	if c.Conversions["purchase"] != 1 {
		t.Errorf("conversions = %v", c.Conversions)
	}
	if got := c.ConversionRate(); got < 33.3 || got > 33.4 {
		t.Errorf("conversionRate = %v, want ~33.33", got)
	}
	if c.AvgLatencyMs() != 25 {
		t.Errorf("avgLatency = %d, want 25", c.AvgLatencyMs())
	}
}

func TestCountersApply_UnstructuredPayloadUsesFallbacks(t *testing.T) {
	c := metrics.NewCounters()
	c.Apply(makeEvent("click", "totally-not-json", base))

	if c.Total != 1 {
		t.Errorf("total = %d, want 1", c.Total)
	}
	if c.Countries["Unknown"] != 1 {
		t.Errorf("countries = %v, want Unknown:1", c.Countries)
	}
	if _, ok := c.Users["anonymous"]; !ok {
		t.Error("unstructured payload must count an anonymous user")
	}
}

func TestCountersMerge(t *testing.T) {
	a := metrics.NewCounters()
	a.Apply(makeEvent("click", `{"userId":"u1"}`, base))
	b := metrics.NewCounters()
	b.Apply(makeEvent("click", `{"userId":"u1"}`, base))
	b.Apply(makeEvent("signup", `{"userId":"u2"}`, base))

	a.Merge(b)

	if a.Total != 3 {
		t.Errorf("total = %d, want 3", a.Total)
	}
	if a.Events["click"] != 2 || a.Events["signup"] != 1 {
		t.Errorf("events = %v", a.Events)
	}
	if a.ActiveUsers() != 2 {
		t.Errorf("activeUsers = %d, want 2 (sets must union)", a.ActiveUsers())
	}
}

func TestLatencySampleCap(t *testing.T) {
	c := metrics.NewCounters()
	for i := 0; i < metrics.MaxLatencySamples+40; i++ {
		c.Apply(makeEvent("x", "", base))
	}

	if len(c.Latencies) != metrics.MaxLatencySamples {
		t.Errorf("samples = %d, want %d", len(c.Latencies), metrics.MaxLatencySamples)
	}
}
