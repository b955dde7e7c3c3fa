// Package mongo provides the MongoDB-backed durable stores for events and
// metered-key records.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

// Collection name constants.
const (
	colEvents = "events"
	colKeys   = "api_keys"
)

const defaultQueryLimit = 50

// Store implements ports.EventStore and ports.KeyStore on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect creates a store from a MongoDB URI and verifies the connection.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Migrate creates the indexes both collections rely on.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colEvents: {
			{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "eventName", Value: 1}}},
		},
		colKeys: {
			{
				Keys:    bson.D{{Key: "lookup", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "ownerId", Value: 1}}},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// eventDoc is the stored shape of one event. The payload round-trips as its
// raw text and is re-parsed on read.
type eventDoc struct {
	ID         string    `bson:"_id"`
	OwnerID    string    `bson:"ownerId"`
	EventName  string    `bson:"eventName"`
	Payload    string    `bson:"payload"`
	Category   string    `bson:"category,omitempty"`
	Tags       []string  `bson:"tags,omitempty"`
	Severity   string    `bson:"severity"`
	Timestamp  time.Time `bson:"timestamp"`
	ReceivedAt time.Time `bson:"receivedAt"`
}

func toEventDoc(e event.Event) eventDoc {
	return eventDoc{
		ID:         e.ID,
		OwnerID:    e.OwnerID,
		EventName:  e.EventName,
		Payload:    e.Payload.Raw,
		Category:   e.Category,
		Tags:       e.Tags,
		Severity:   string(e.Severity),
		Timestamp:  e.Timestamp,
		ReceivedAt: e.ReceivedAt,
	}
}

func fromEventDoc(d eventDoc) event.Event {
	return event.Event{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		EventName:  d.EventName,
		Payload:    event.ParsePayload(d.Payload),
		Category:   d.Category,
		Tags:       d.Tags,
		Severity:   event.ParseSeverity(d.Severity),
		Timestamp:  d.Timestamp,
		ReceivedAt: d.ReceivedAt,
	}
}

// InsertBatch writes a batch unordered, so one malformed document does not
// abort the rest. Any failure surfaces for the queue's retry policy.
func (s *Store) InsertBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]any, len(events))
	for i, e := range events {
		docs[i] = toEventDoc(e)
	}

	_, err := s.db.Collection(colEvents).InsertMany(ctx, docs,
		options.InsertMany().SetOrdered(false))
	if err != nil {
		// Re-inserted IDs are fine: the batch already landed once.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	return nil
}

// Query returns one filtered, sorted page of an owner's events.
func (s *Store) Query(ctx context.Context, ownerID string, f ports.EventFilter) (ports.EventPage, error) {
	filter := eventFilter(ownerID, f)
	col := s.db.Collection(colEvents)

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return ports.EventPage{}, fmt.Errorf("count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	opts := options.Find().
		SetSort(eventSort(f)).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(limit))

	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return ports.EventPage{}, fmt.Errorf("query events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []eventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return ports.EventPage{}, fmt.Errorf("decode events: %w", err)
	}

	events := make([]event.Event, len(docs))
	for i, d := range docs {
		events[i] = fromEventDoc(d)
	}
	return ports.EventPage{Events: events, Total: total}, nil
}

// Delete removes one event owned by ownerID.
func (s *Store) Delete(ctx context.Context, ownerID, eventID string) (int64, error) {
	res, err := s.db.Collection(colEvents).DeleteOne(ctx,
		bson.M{"_id": eventID, "ownerId": ownerID})
	if err != nil {
		return 0, fmt.Errorf("delete event: %w", err)
	}
	if res.DeletedCount == 0 {
		return 0, ports.ErrNotFound
	}
	return res.DeletedCount, nil
}

// DeleteBatch removes the owner's events among ids and returns how many went.
func (s *Store) DeleteBatch(ctx context.Context, ownerID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, ports.ErrNotFound
	}
	res, err := s.db.Collection(colEvents).DeleteMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "ownerId": ownerID})
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	if res.DeletedCount == 0 {
		return 0, ports.ErrNotFound
	}
	return res.DeletedCount, nil
}

func eventFilter(ownerID string, f ports.EventFilter) bson.M {
	filter := bson.M{"ownerId": ownerID}
	if f.EventName != "" {
		filter["eventName"] = f.EventName
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Severity != "" && f.Severity != event.SeverityUnspecified {
		filter["severity"] = string(f.Severity)
	}
	if len(f.Tags) > 0 {
		filter["tags"] = bson.M{"$in": f.Tags}
	}

	ts := bson.M{}
	if !f.From.IsZero() {
		ts["$gte"] = f.From
	}
	if !f.To.IsZero() {
		ts["$lte"] = f.To
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}
	return filter
}

func eventSort(f ports.EventFilter) bson.D {
	field := "timestamp"
	if f.SortBy == "eventName" {
		field = "eventName"
	}
	dir := -1
	if f.SortAsc {
		dir = 1
	}
	return bson.D{{Key: field, Value: dir}}
}

// keyDoc is the stored shape of one metered-key record.
type keyDoc struct {
	ID         string    `bson:"_id"`
	OwnerID    string    `bson:"ownerId"`
	Hash       []byte    `bson:"hash"`
	Lookup     string    `bson:"lookup"`
	UsageCount int64     `bson:"usageCount"`
	UsageLimit int64     `bson:"usageLimit"`
	Active     bool      `bson:"active"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func toKeyDoc(r key.UsageRecord) keyDoc {
	return keyDoc{
		ID:         r.Key,
		OwnerID:    r.OwnerID,
		Hash:       r.Hash,
		Lookup:     r.Lookup,
		UsageCount: r.UsageCount,
		UsageLimit: r.UsageLimit,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func fromKeyDoc(d keyDoc) key.UsageRecord {
	return key.UsageRecord{
		Key:        d.ID,
		OwnerID:    d.OwnerID,
		Hash:       d.Hash,
		Lookup:     d.Lookup,
		UsageCount: d.UsageCount,
		UsageLimit: d.UsageLimit,
		Active:     d.Active,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// CreateKey stores a new usage record.
func (s *Store) CreateKey(ctx context.Context, r key.UsageRecord) error {
	if _, err := s.db.Collection(colKeys).InsertOne(ctx, toKeyDoc(r)); err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

// GetKeyByLookup retrieves a usage record by its lookup prefix.
func (s *Store) GetKeyByLookup(ctx context.Context, lookup string) (key.UsageRecord, error) {
	var d keyDoc
	err := s.db.Collection(colKeys).FindOne(ctx, bson.M{"lookup": lookup}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return key.UsageRecord{}, ports.ErrNotFound
		}
		return key.UsageRecord{}, fmt.Errorf("get key by lookup: %w", err)
	}
	return fromKeyDoc(d), nil
}

// ListKeys returns all usage records for an owner.
func (s *Store) ListKeys(ctx context.Context, ownerID string) ([]key.UsageRecord, error) {
	cursor, err := s.db.Collection(colKeys).Find(ctx, bson.M{"ownerId": ownerID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []keyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}

	records := make([]key.UsageRecord, len(docs))
	for i, d := range docs {
		records[i] = fromKeyDoc(d)
	}
	return records, nil
}

// UpdateUsage mirrors the fast counter's running count.
func (s *Store) UpdateUsage(ctx context.Context, keyID string, usageCount int64) error {
	res, err := s.db.Collection(colKeys).UpdateOne(ctx,
		bson.M{"_id": keyID},
		bson.M{"$set": bson.M{"usageCount": usageCount, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	if res.MatchedCount == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.EventStore = (*Store)(nil)
	_ ports.KeyStore   = (*Store)(nil)
)
