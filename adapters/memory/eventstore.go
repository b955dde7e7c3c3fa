package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

// EventStore is an in-memory implementation of ports.EventStore and
// ports.KeyStore.
type EventStore struct {
	mu     sync.RWMutex
	events []event.Event
	keys   map[string]key.UsageRecord // by key id
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{keys: make(map[string]key.UsageRecord)}
}

// InsertBatch stores multiple events.
func (s *EventStore) InsertBatch(ctx context.Context, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Query returns a filtered, sorted, paginated page of an owner's events.
func (s *EventStore) Query(ctx context.Context, ownerID string, f ports.EventFilter) (ports.EventPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []event.Event
	for _, e := range s.events {
		if e.OwnerID != ownerID || !matches(e, f) {
			continue
		}
		matched = append(matched, e)
	}

	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "timestamp"
	}
	sort.SliceStable(matched, func(i, j int) bool {
		var less bool
		if sortBy == "eventName" {
			less = matched[i].EventName < matched[j].EventName
		} else {
			less = matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		if f.SortAsc {
			return less
		}
		return !less
	})

	total := int64(len(matched))
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return ports.EventPage{Events: matched, Total: total}, nil
}

// Delete removes one event owned by ownerID.
func (s *EventStore) Delete(ctx context.Context, ownerID, eventID string) (int64, error) {
	return s.DeleteBatch(ctx, ownerID, []string{eventID})
}

// DeleteBatch removes the listed events owned by ownerID.
func (s *EventStore) DeleteBatch(ctx context.Context, ownerID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	var kept []event.Event
	var deleted int64
	for _, e := range s.events {
		if e.OwnerID == ownerID && idSet[e.ID] {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept

	if deleted == 0 {
		return 0, ports.ErrNotFound
	}
	return deleted, nil
}

// CreateKey stores a new usage record.
func (s *EventStore) CreateKey(ctx context.Context, r key.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[r.Key] = r
	return nil
}

// GetKeyByLookup retrieves a usage record by its lookup prefix.
func (s *EventStore) GetKeyByLookup(ctx context.Context, lookup string) (key.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.keys {
		if r.Lookup == lookup {
			return r, nil
		}
	}
	return key.UsageRecord{}, ports.ErrNotFound
}

// ListKeys returns all usage records for an owner.
func (s *EventStore) ListKeys(ctx context.Context, ownerID string) ([]key.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []key.UsageRecord
	for _, r := range s.keys {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// UpdateUsage mirrors the fast counter's running count.
func (s *EventStore) UpdateUsage(ctx context.Context, keyID string, usageCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.keys[keyID]
	if !ok {
		return ports.ErrNotFound
	}
	r.UsageCount = usageCount
	r.UpdatedAt = time.Now().UTC()
	s.keys[keyID] = r
	return nil
}

// All returns every stored event (for testing).
func (s *EventStore) All() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.Event{}, s.events...)
}

// Key returns a stored usage record by id (for testing).
func (s *EventStore) Key(id string) (key.UsageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.keys[id]
	return r, ok
}

func matches(e event.Event, f ports.EventFilter) bool {
	if f.EventName != "" && e.EventName != f.EventName {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(e.Tags, f.Tags) {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

func hasAnyTag(tags, wanted []string) bool {
	for _, t := range tags {
		for _, w := range wanted {
			if t == w {
				return true
			}
		}
	}
	return false
}

// Ensure interface compliance.
var (
	_ ports.EventStore = (*EventStore)(nil)
	_ ports.KeyStore   = (*EventStore)(nil)
)
