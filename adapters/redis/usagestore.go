// Package redis provides the Redis-backed fast usage counter store.
// The admit path is a single Lua script so check-and-increment is one
// atomic round trip even under concurrent streams for the same key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

const keyPrefix = "usage:"

// admitScript increments the usage counter and reads back the limit, active
// flag and owner in the same transaction. Returns nil for unknown keys.
var admitScript = redis.NewScript(`
  local key = KEYS[1]
  if redis.call("EXISTS", key) == 0 then
    return false
  end
  local usageCount = redis.call("HINCRBY", key, "usageCount", 1)
  local data = redis.call("HMGET", key, "usageLimit", "active", "ownerId")
  return {usageCount, data[1], data[2], data[3]}
`)

// initScript seeds the counter hash if and only if it does not exist yet
// (first-use-wins; an in-flight counter is never overwritten).
var initScript = redis.NewScript(`
  local key = KEYS[1]
  if redis.call("EXISTS", key) == 1 then
    return 0
  end
  redis.call("HSET", key,
    "usageCount", ARGV[1],
    "usageLimit", ARGV[2],
    "active", ARGV[3],
    "ownerId", ARGV[4])
  return 1
`)

// UsageCounterStore implements ports.UsageCounterStore on Redis.
type UsageCounterStore struct {
	client *redis.Client
}

// NewUsageCounterStore wraps an existing Redis client.
func NewUsageCounterStore(client *redis.Client) *UsageCounterStore {
	return &UsageCounterStore{client: client}
}

// Connect creates a counter store from a Redis URL and verifies the
// connection.
func Connect(ctx context.Context, url string) (*UsageCounterStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &UsageCounterStore{client: client}, nil
}

// Admit atomically increments the counter for keyID and returns the
// resulting state.
func (s *UsageCounterStore) Admit(ctx context.Context, keyID string) (ports.CounterState, error) {
	res, err := admitScript.Run(ctx, s.client, []string{keyPrefix + keyID}).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.CounterState{}, ports.ErrKeyNotFound
		}
		return ports.CounterState{}, fmt.Errorf("%w: %v", ports.ErrCounterUnavailable, err)
	}
	if len(res) != 4 {
		return ports.CounterState{}, fmt.Errorf("%w: malformed script reply", ports.ErrCounterUnavailable)
	}

	state := ports.CounterState{Key: keyID}
	state.UsageCount = toInt64(res[0])
	state.UsageLimit = toInt64(res[1])
	state.Active = toString(res[2]) == "1"
	state.OwnerID = toString(res[3])
	return state, nil
}

// Initialize idempotently seeds the fast counter from a durable record.
func (s *UsageCounterStore) Initialize(ctx context.Context, r key.UsageRecord) error {
	active := "0"
	if r.Active {
		active = "1"
	}
	err := initScript.Run(ctx, s.client, []string{keyPrefix + r.Key},
		r.UsageCount, r.UsageLimit, active, r.OwnerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ports.ErrCounterUnavailable, err)
	}
	return nil
}

// Current reads the counter state without incrementing.
func (s *UsageCounterStore) Current(ctx context.Context, keyID string) (ports.CounterState, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+keyID).Result()
	if err != nil {
		return ports.CounterState{}, fmt.Errorf("%w: %v", ports.ErrCounterUnavailable, err)
	}
	if len(fields) == 0 {
		return ports.CounterState{}, ports.ErrKeyNotFound
	}

	count, _ := strconv.ParseInt(fields["usageCount"], 10, 64)
	limit, _ := strconv.ParseInt(fields["usageLimit"], 10, 64)
	return ports.CounterState{
		Key:        keyID,
		OwnerID:    fields["ownerId"],
		UsageCount: count,
		UsageLimit: limit,
		Active:     fields["active"] == "1",
	}, nil
}

// Reset zeroes the usage count for keyID.
func (s *UsageCounterStore) Reset(ctx context.Context, keyID string) error {
	n, err := s.client.Exists(ctx, keyPrefix+keyID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrCounterUnavailable, err)
	}
	if n == 0 {
		return ports.ErrKeyNotFound
	}
	if err := s.client.HSet(ctx, keyPrefix+keyID, "usageCount", 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrCounterUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *UsageCounterStore) Close() error {
	return s.client.Close()
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// Ensure interface compliance.
var _ ports.UsageCounterStore = (*UsageCounterStore)(nil)
