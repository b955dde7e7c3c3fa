package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Dashboard list sizes.
const (
	TopEventCount    = 10
	TopCountryCount  = 5
	TopReferrerCount = 5
	LiveEventLimit   = 50
)

// TimePoint is one entry of the 24-point hourly volume series.
type TimePoint struct {
	Time   string `json:"time"`
	Events int64  `json:"events"`
}

// NameCount pairs a dimension value with its count.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// DistributionSlice is one slice of the event-name distribution.
type DistributionSlice struct {
	Name       string  `json:"name"`
	Value      int64   `json:"value"`
	Percentage float64 `json:"percentage"`
}

// CountryCount pairs a country with its count.
type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

// DeviceCount pairs a device type with its count.
type DeviceCount struct {
	Device string `json:"device"`
	Count  int64  `json:"count"`
}

// ReferrerCount pairs a referrer with its count.
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

// Performance carries the dashboard's performance figures.
type Performance struct {
	AvgResponseTimeMs int64   `json:"avgResponseTime"`
	ProcessingRate    int64   `json:"processingRate"` // events per hour
	ErrorRate         float64 `json:"errorRate"`
	Uptime            float64 `json:"uptime"`
}

// LiveEvent is one enriched entry of the live-event ring.
type LiveEvent struct {
	ID        string    `json:"id"`
	EventName string    `json:"eventName"`
	UserID    string    `json:"userId"`
	Country   string    `json:"country"`
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`
	TimeAgo   string    `json:"timeAgo"`
}

// Dashboard is the snapshot broadcast to subscribed dashboards.
type Dashboard struct {
	TotalEvents          int64               `json:"totalEvents"`
	TotalEventsChange    float64             `json:"totalEventsChange"`
	ActiveUsers          int64               `json:"activeUsers"`
	ActiveUsersChange    float64             `json:"activeUsersChange"`
	EventsPerHour        int64               `json:"eventsPerHour"`
	EventsPerHourChange  float64             `json:"eventsPerHourChange"`
	ConversionRate       float64             `json:"conversionRate"`
	ConversionRateChange float64             `json:"conversionRateChange"`
	EventVolume          []TimePoint         `json:"eventVolumeData"`
	TopEvents            []NameCount         `json:"topEvents"`
	EventDistribution    []DistributionSlice `json:"eventDistribution"`
	Geographic           []CountryCount      `json:"geographicDistribution"`
	Devices              []DeviceCount       `json:"deviceTypes"`
	TopReferrers         []ReferrerCount     `json:"topReferrers"`
	Performance          Performance         `json:"performanceMetrics"`
	LiveEvents           []LiveEvent         `json:"liveEvents"`
}

// Baseline operational figures reported while real error/uptime tracking
// stays outside this pipeline.
const (
	baselineErrorRate = 0.02
	baselineUptime    = 99.98
)

// Compute builds a dashboard from the merged active window, the merged
// previous window of equal length, the hourly series, and the live ring.
// This is a PURE function.
func Compute(active, previous *Counters, hourly []TimePoint, live []LiveEvent, windowMinutes int) Dashboard {
	if windowMinutes <= 0 {
		windowMinutes = 5
	}
	perHourFactor := int64(60 / windowMinutes)

	totalChange := PercentChange(active.Total, previous.Total)

	return Dashboard{
		TotalEvents:         active.Total,
		TotalEventsChange:   totalChange,
		ActiveUsers:         active.ActiveUsers(),
		ActiveUsersChange:   PercentChange(active.ActiveUsers(), previous.ActiveUsers()),
		EventsPerHour:       active.Total * perHourFactor,
		EventsPerHourChange: totalChange,
		ConversionRate:      active.ConversionRate(),
		EventVolume:         hourly,
		TopEvents:           TopN(active.Events, TopEventCount),
		EventDistribution:   Distribution(active.Events, active.Total),
		Geographic:          topCountries(active.Countries),
		Devices:             allDevices(active.Devices),
		TopReferrers:        topReferrers(active.Referrers),
		Performance: Performance{
			AvgResponseTimeMs: active.AvgLatencyMs(),
			ProcessingRate:    maxInt64(active.Total*perHourFactor, 1),
			ErrorRate:         baselineErrorRate,
			Uptime:            baselineUptime,
		},
		LiveEvents: live,
	}
}

// Inactive builds the all-zero dashboard shown when the pipeline has seen no
// events for longer than the inactivity threshold. This is a PURE function.
func Inactive(now time.Time) Dashboard {
	hourly := make([]TimePoint, 0, 24)
	for i := 23; i >= 0; i-- {
		hourly = append(hourly, TimePoint{
			Time:   FormatHourLabel(now.Add(-time.Duration(i) * time.Hour)),
			Events: 0,
		})
	}

	return Dashboard{
		EventVolume:       hourly,
		TopEvents:         []NameCount{},
		EventDistribution: []DistributionSlice{},
		Geographic:        []CountryCount{},
		Devices:           []DeviceCount{},
		TopReferrers:      []ReferrerCount{},
		Performance:       Performance{Uptime: baselineUptime},
		LiveEvents:        []LiveEvent{},
	}
}

// PercentChange returns the percentage delta between windows, rounded to two
// decimals. A zero baseline yields 0 when current is also 0, else 100.
// This is a PURE function.
func PercentChange(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return math.Round(float64(current-previous)/float64(previous)*100*100) / 100
}

// TopN returns the n largest entries of a count map, descending. Ties break
// lexicographically so a single snapshot computation is deterministic.
// This is a PURE function.
func TopN(counts map[string]int64, n int) []NameCount {
	out := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Distribution returns per-event-name shares of the total, descending.
// This is a PURE function.
func Distribution(counts map[string]int64, total int64) []DistributionSlice {
	ranked := TopN(counts, len(counts))
	out := make([]DistributionSlice, 0, len(ranked))
	for _, nc := range ranked {
		var pct float64
		if total > 0 {
			pct = float64(nc.Count) / float64(total) * 100
		}
		out = append(out, DistributionSlice{Name: nc.Name, Value: nc.Count, Percentage: pct})
	}
	return out
}

// TimeAgo renders a human-readable relative age. This is a PURE function.
func TimeAgo(now, then time.Time) string {
	minutes := int(now.Sub(then).Minutes())
	switch {
	case minutes < 1:
		return "just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 24*60:
		return fmt.Sprintf("%dh ago", minutes/60)
	default:
		return fmt.Sprintf("%dd ago", minutes/(24*60))
	}
}

// FormatHourLabel renders the hourly-series axis label.
func FormatHourLabel(t time.Time) string {
	return t.Format("03:04 PM")
}

func topCountries(counts map[string]int64) []CountryCount {
	ranked := TopN(counts, TopCountryCount)
	out := make([]CountryCount, 0, len(ranked))
	for _, nc := range ranked {
		out = append(out, CountryCount{Country: nc.Name, Count: nc.Count})
	}
	return out
}

func allDevices(counts map[string]int64) []DeviceCount {
	ranked := TopN(counts, len(counts))
	out := make([]DeviceCount, 0, len(ranked))
	for _, nc := range ranked {
		out = append(out, DeviceCount{Device: nc.Name, Count: nc.Count})
	}
	return out
}

func topReferrers(counts map[string]int64) []ReferrerCount {
	ranked := TopN(counts, TopReferrerCount)
	out := make([]ReferrerCount, 0, len(ranked))
	for _, nc := range ranked {
		out = append(out, ReferrerCount{Referrer: nc.Name, Count: nc.Count})
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
