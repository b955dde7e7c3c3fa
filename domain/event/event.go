// Package event provides ingest event value types and pure parsing functions.
// This package has NO dependencies on I/O or external packages.
package event

import "time"

// Severity classifies an event for filtering and display.
type Severity string

const (
	SeverityUnspecified Severity = "SEVERITY_UNSPECIFIED"
	SeverityInfo        Severity = "INFO"
	SeverityWarn        Severity = "WARN"
	SeverityError       Severity = "ERROR"
)

// ParseSeverity maps a wire string to a Severity.
// Unknown values degrade to SeverityUnspecified.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarn, SeverityError:
		return Severity(s)
	default:
		return SeverityUnspecified
	}
}

// Inbound is a raw message as submitted on an ingest stream.
type Inbound struct {
	EventName string   `json:"eventName"`
	Payload   string   `json:"payload"`
	Timestamp string   `json:"timestamp"` // ISO-8601
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Severity  string   `json:"severity"`
}

// Event represents a single admitted event (immutable value type).
// Created once per inbound message; owned by whichever batcher currently
// holds it; handed off to the persistence queue as-is.
type Event struct {
	ID         string
	OwnerID    string
	EventName  string
	Payload    Payload
	Category   string
	Tags       []string
	Severity   Severity
	Timestamp  time.Time // event-reported time
	ReceivedAt time.Time // ingestion time
}

// FromInbound builds an Event from a raw inbound message.
// An unparsable timestamp falls back to the ingestion time so downstream
// bucketing never sees a zero time.
func FromInbound(id, ownerID string, in Inbound, receivedAt time.Time) Event {
	ts, err := time.Parse(time.RFC3339, in.Timestamp)
	if err != nil {
		ts = receivedAt
	}

	return Event{
		ID:         id,
		OwnerID:    ownerID,
		EventName:  in.EventName,
		Payload:    ParsePayload(in.Payload),
		Category:   in.Category,
		Tags:       in.Tags,
		Severity:   ParseSeverity(in.Severity),
		Timestamp:  ts,
		ReceivedAt: receivedAt,
	}
}

// ProcessingLatency returns the delay between the event-reported time and
// ingestion. Negative values (client clock ahead of ours) clamp to zero.
func (e Event) ProcessingLatency() time.Duration {
	d := e.ReceivedAt.Sub(e.Timestamp)
	if d < 0 {
		return 0
	}
	return d
}

// Response is the per-message acknowledgment sent back on the stream.
type Response struct {
	Status  string `json:"status"` // "received" or "error"
	Message string `json:"message"`
}

// Received builds the acknowledgment for an admitted message.
func Received() Response {
	return Response{Status: "received", Message: "ok"}
}

// Rejected builds the terminal quota-exhausted response.
func Rejected(message string) Response {
	return Response{Status: "error", Message: message}
}
