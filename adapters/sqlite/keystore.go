package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// CreateKey stores a new usage record.
func (s *KeyStore) CreateKey(ctx context.Context, r key.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, owner_id, hash, lookup, usage_count, usage_limit, active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Key, r.OwnerID, r.Hash, r.Lookup, r.UsageCount, r.UsageLimit,
		r.Active, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	return err
}

// GetKeyByLookup retrieves a usage record by its lookup prefix.
func (s *KeyStore) GetKeyByLookup(ctx context.Context, lookup string) (key.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, hash, lookup, usage_count, usage_limit, active,
		       created_at, updated_at
		FROM api_keys WHERE lookup = ?
	`, lookup)

	r, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return key.UsageRecord{}, ports.ErrNotFound
		}
		return key.UsageRecord{}, err
	}
	return r, nil
}

// ListKeys returns all usage records for an owner.
func (s *KeyStore) ListKeys(ctx context.Context, ownerID string) ([]key.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, hash, lookup, usage_count, usage_limit, active,
		       created_at, updated_at
		FROM api_keys WHERE owner_id = ? ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []key.UsageRecord
	for rows.Next() {
		r, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpdateUsage mirrors the fast counter's running count.
func (s *KeyStore) UpdateUsage(ctx context.Context, keyID string, usageCount int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET usage_count = ?, updated_at = ? WHERE id = ?
	`, usageCount, time.Now().UTC(), keyID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (key.UsageRecord, error) {
	var r key.UsageRecord
	err := row.Scan(&r.Key, &r.OwnerID, &r.Hash, &r.Lookup, &r.UsageCount,
		&r.UsageLimit, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
