package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/ports"
)

const defaultQueryLimit = 50

// EventStore implements ports.EventStore using SQLite.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// InsertBatch stores a batch of events in one transaction. A malformed
// record is skipped rather than aborting the batch.
func (s *EventStore) InsertBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events (
			id, owner_id, event_name, payload, category, tags, severity,
			timestamp, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var failed int
	var firstErr error
	for _, e := range events {
		tags, err := json.Marshal(e.Tags)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_, err = stmt.ExecContext(ctx,
			e.ID, e.OwnerID, e.EventName, e.Payload.Raw, e.Category, string(tags),
			string(e.Severity), e.Timestamp.UTC(), e.ReceivedAt.UTC(),
		)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	// Surface the partial failure to the queue's retry policy. Retrying the
	// whole batch is safe: INSERT OR IGNORE skips already stored ids.
	if failed > 0 {
		return fmt.Errorf("insert batch: %d of %d records failed: %w", failed, len(events), firstErr)
	}
	return nil
}

// Query returns one filtered, sorted page of an owner's events.
func (s *EventStore) Query(ctx context.Context, ownerID string, f ports.EventFilter) (ports.EventPage, error) {
	where, args := eventWhere(ownerID, f)

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events "+where, args...).Scan(&total)
	if err != nil {
		return ports.EventPage{}, fmt.Errorf("count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `
		SELECT id, owner_id, event_name, payload, category, tags, severity,
		       timestamp, received_at
		FROM events ` + where + " ORDER BY " + eventOrder(f) + " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ports.EventPage{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var payload, tags, severity string

		err := rows.Scan(&e.ID, &e.OwnerID, &e.EventName, &payload, &e.Category,
			&tags, &severity, &e.Timestamp, &e.ReceivedAt)
		if err != nil {
			return ports.EventPage{}, err
		}

		e.Payload = event.ParsePayload(payload)
		e.Severity = event.ParseSeverity(severity)
		json.Unmarshal([]byte(tags), &e.Tags)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return ports.EventPage{}, err
	}

	return ports.EventPage{Events: events, Total: total}, nil
}

// Delete removes one event owned by ownerID.
func (s *EventStore) Delete(ctx context.Context, ownerID, eventID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE id = ? AND owner_id = ?", eventID, ownerID)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, ports.ErrNotFound
	}
	return deleted, nil
}

// DeleteBatch removes the owner's events among ids.
func (s *EventStore) DeleteBatch(ctx context.Context, ownerID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, ports.ErrNotFound
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, ownerID)

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE id IN ("+placeholders+") AND owner_id = ?", args...)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, ports.ErrNotFound
	}
	return deleted, nil
}

// eventWhere builds the WHERE clause shared by count and page queries.
// Tag filtering matches any requested tag against the stored JSON array.
func eventWhere(ownerID string, f ports.EventFilter) (string, []any) {
	clauses := []string{"owner_id = ?"}
	args := []any{ownerID}

	if f.EventName != "" {
		clauses = append(clauses, "event_name = ?")
		args = append(args, f.EventName)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.Severity != "" && f.Severity != event.SeverityUnspecified {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if len(f.Tags) > 0 {
		tagClauses := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			tagClauses[i] = "instr(tags, ?) > 0"
			quoted, _ := json.Marshal(tag)
			args = append(args, string(quoted))
		}
		clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.To.UTC())
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func eventOrder(f ports.EventFilter) string {
	field := "timestamp"
	if f.SortBy == "eventName" {
		field = "event_name"
	}
	if f.SortAsc {
		return field + " ASC"
	}
	return field + " DESC"
}

// Ensure interface compliance.
var _ ports.EventStore = (*EventStore)(nil)
