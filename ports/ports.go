// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/domain/metrics"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Counter Store Port
// -----------------------------------------------------------------------------

// Counter store error conditions. The meter fails closed on
// ErrCounterUnavailable: an unreachable store denies admission.
var (
	ErrKeyNotFound        = errors.New("metered key not found")
	ErrCounterUnavailable = errors.New("counter store unavailable")
)

// CounterState is the fast counter's view of a metered key after one
// atomic round trip.
type CounterState struct {
	Key        string
	OwnerID    string
	UsageCount int64
	UsageLimit int64
	Active     bool
}

// UsageCounterStore holds the fast per-key usage counters.
// Admit must be a single atomic operation: increment, then read back limit,
// active flag, owner and the new count in the same transaction, so two
// concurrent admissions on one key can never both observe "under limit".
type UsageCounterStore interface {
	// Admit increments the counter for keyID and returns the resulting state.
	// Returns ErrKeyNotFound for unseeded keys and ErrCounterUnavailable when
	// the store cannot be reached.
	Admit(ctx context.Context, keyID string) (CounterState, error)

	// Initialize idempotently seeds the fast counter from a durable record.
	// First use wins: an existing counter is never overwritten.
	Initialize(ctx context.Context, r key.UsageRecord) error

	// Current reads the counter without incrementing.
	Current(ctx context.Context, keyID string) (CounterState, error)

	// Reset zeroes the usage count for keyID.
	Reset(ctx context.Context, keyID string) error
}

// -----------------------------------------------------------------------------
// Durable Store Ports
// -----------------------------------------------------------------------------

// ErrNotFound signals a missing record in a durable store.
var ErrNotFound = errors.New("record not found")

// EventFilter narrows an event query.
type EventFilter struct {
	EventName string
	Category  string
	Severity  event.Severity
	Tags      []string
	From      time.Time
	To        time.Time
	SortBy    string // "timestamp" (default) or "eventName"
	SortAsc   bool
	Limit     int
	Offset    int
}

// EventPage is one page of an event query.
type EventPage struct {
	Events []event.Event
	Total  int64
}

// EventStore persists admitted events as opaque documents.
// InsertBatch is best-effort and non-atomic across records: a malformed
// record must not abort the rest of the batch, and partial failures surface
// as an error for the queue's retry policy.
type EventStore interface {
	InsertBatch(ctx context.Context, events []event.Event) error
	Query(ctx context.Context, ownerID string, f EventFilter) (EventPage, error)
	Delete(ctx context.Context, ownerID, eventID string) (int64, error)
	DeleteBatch(ctx context.Context, ownerID string, ids []string) (int64, error)
}

// KeyStore persists metered-key usage records (the durable mirror).
type KeyStore interface {
	CreateKey(ctx context.Context, r key.UsageRecord) error
	GetKeyByLookup(ctx context.Context, lookup string) (key.UsageRecord, error)
	ListKeys(ctx context.Context, ownerID string) ([]key.UsageRecord, error)

	// UpdateUsage mirrors the fast counter's running count.
	UpdateUsage(ctx context.Context, keyID string, usageCount int64) error
}

// -----------------------------------------------------------------------------
// Broadcast Port
// -----------------------------------------------------------------------------

// BroadcastAll addresses every connected dashboard regardless of owner.
const BroadcastAll = "all"

// Broadcaster pushes batches and dashboard snapshots to live subscribers.
// Delivery is best-effort and fire-and-forget: with no subscriber on a
// channel the payload is dropped, never replayed.
type Broadcaster interface {
	PushToSubscriber(ownerID string, payload any)
	PushDashboard(target string, d metrics.Dashboard)
}

// -----------------------------------------------------------------------------
// Inbound Stream Port
// -----------------------------------------------------------------------------

// MetadataAPIKey is the stream-establishment metadata field carrying the
// metered-key credential.
const MetadataAPIKey = "x-api-key"

// Stream is one inbound event stream, transport-agnostic.
// Recv returns io.EOF when the producer completes the stream.
type Stream interface {
	Context() context.Context
	Metadata(name string) string
	Recv() (event.Inbound, error)
	Send(event.Response) error
}
