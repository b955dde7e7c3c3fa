// Package key provides metered-key value types and pure validation functions.
// This package has NO dependencies on I/O beyond crypto/rand.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Prefix is the leading marker of every metered key.
const Prefix = "evntfy_"

// UsageRecord is the durable record of a metered key (value type).
// The fast counter mirrors UsageCount; the mirror is eventually consistent
// and the fast counter is authoritative while a key is in use.
type UsageRecord struct {
	Key        string // opaque metered-key identifier
	OwnerID    string
	Hash       []byte // bcrypt hash of the raw key
	Lookup     string // leading chars of the raw key, for store lookup
	UsageCount int64
	UsageLimit int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Exhausted reports whether the record's mirrored count has reached its
// limit. The live decision is made by the meter against the fast counter;
// this is the cheap pre-check at stream admission.
func (r UsageRecord) Exhausted() bool {
	return r.UsageCount >= r.UsageLimit
}

// Generate creates a new metered key for an owner.
// Returns the raw key (shown to the user exactly once) and the record to
// store. Raw key shape: evntfy_<4-char owner hint>_<48 hex chars>.
func Generate(ownerID string, usageLimit int64, now time.Time) (rawKey string, r UsageRecord) {
	randomBytes := make([]byte, 24)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	hint := ownerID
	if len(hint) > 4 {
		hint = hint[:4]
	}
	rawKey = Prefix + hint + "_" + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	idBytes := make([]byte, 8)
	rand.Read(idBytes)

	r = UsageRecord{
		Key:        "key_" + hex.EncodeToString(idBytes),
		OwnerID:    ownerID,
		Hash:       hash,
		Lookup:     LookupPrefix(rawKey),
		UsageLimit: usageLimit,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return rawKey, r
}

// Match reports whether a raw key matches a stored record.
func Match(r UsageRecord, rawKey string) bool {
	return bcrypt.CompareHashAndPassword(r.Hash, []byte(rawKey)) == nil
}
