// Package metrics provides time-bucketed counter types and dashboard
// aggregation functions. All functions are pure - no side effects; the
// stateful aggregator that owns bucket lifecycles lives in app.
package metrics

import (
	"time"

	"github.com/evntfy/evntfy/domain/event"
)

// Bucket key helpers. A key identifies one fixed-resolution time slice.

// MinuteKey returns the minute-resolution bucket key for t.
func MinuteKey(t time.Time) int64 { return t.Unix() / 60 }

// HourKey returns the hour-resolution bucket key for t.
func HourKey(t time.Time) int64 { return t.Unix() / 3600 }

// DayKey returns the day-resolution bucket key for t.
func DayKey(t time.Time) int64 { return t.Unix() / 86400 }

// ConversionEvents is the fixed set of event names counted as conversions.
var ConversionEvents = map[string]bool{
	"purchase":  true,
	"signup":    true,
	"subscribe": true,
}

// MaxLatencySamples caps the per-bucket processing-latency sample list.
const MaxLatencySamples = 100

// Counters holds every dimension tracked for one time bucket (value type
// semantics via pointer receiver; callers own the instance).
type Counters struct {
	Total       int64
	Events      map[string]int64
	Countries   map[string]int64
	Devices     map[string]int64
	Referrers   map[string]int64
	Conversions map[string]int64
	Users       map[string]struct{}
	Latencies   []int64 // milliseconds, newest last, capped
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{
		Events:      make(map[string]int64),
		Countries:   make(map[string]int64),
		Devices:     make(map[string]int64),
		Referrers:   make(map[string]int64),
		Conversions: make(map[string]int64),
		Users:       make(map[string]struct{}),
	}
}

// Apply folds one event into the counters.
func (c *Counters) Apply(e event.Event) {
	c.Total++
	c.Events[e.EventName]++
	c.Countries[e.Payload.Attr(event.AttrCountry, "Unknown")]++
	c.Devices[e.Payload.Attr(event.AttrDevice, "unknown")]++
	c.Referrers[e.Payload.Attr(event.AttrReferrer, "Direct")]++
	c.Users[e.Payload.Attr(event.AttrUserID, "anonymous")] = struct{}{}

	if ConversionEvents[e.EventName] {
		c.Conversions[e.EventName]++
	}

	c.Latencies = append(c.Latencies, e.ProcessingLatency().Milliseconds())
	if len(c.Latencies) > MaxLatencySamples {
		c.Latencies = c.Latencies[len(c.Latencies)-MaxLatencySamples:]
	}
}

// Merge folds another counter set into this one.
func (c *Counters) Merge(o *Counters) {
	if o == nil {
		return
	}
	c.Total += o.Total
	mergeCounts(c.Events, o.Events)
	mergeCounts(c.Countries, o.Countries)
	mergeCounts(c.Devices, o.Devices)
	mergeCounts(c.Referrers, o.Referrers)
	mergeCounts(c.Conversions, o.Conversions)
	for u := range o.Users {
		c.Users[u] = struct{}{}
	}
	c.Latencies = append(c.Latencies, o.Latencies...)
}

// ActiveUsers returns the distinct-user count.
func (c *Counters) ActiveUsers() int64 { return int64(len(c.Users)) }

// ConversionRate returns conversions as a percentage of total events.
func (c *Counters) ConversionRate() float64 {
	if c.Total == 0 {
		return 0
	}
	var conv int64
	for _, n := range c.Conversions {
		conv += n
	}
	return float64(conv) / float64(c.Total) * 100
}

// AvgLatencyMs returns the mean of the latency samples, rounded.
func (c *Counters) AvgLatencyMs() int64 {
	if len(c.Latencies) == 0 {
		return 0
	}
	var sum int64
	for _, v := range c.Latencies {
		sum += v
	}
	return (sum + int64(len(c.Latencies))/2) / int64(len(c.Latencies))
}

func mergeCounts(dst, src map[string]int64) {
	for k, v := range src {
		dst[k] += v
	}
}
