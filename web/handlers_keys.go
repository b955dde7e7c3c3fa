package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evntfy/evntfy/domain/key"
)

type keyJSON struct {
	Key        string    `json:"key"`
	OwnerID    string    `json:"ownerId"`
	Lookup     string    `json:"lookup"`
	UsageCount int64     `json:"usageCount"`
	UsageLimit int64     `json:"usageLimit"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toKeyJSON(r key.UsageRecord) keyJSON {
	return keyJSON{
		Key:        r.Key,
		OwnerID:    r.OwnerID,
		Lookup:     r.Lookup,
		UsageCount: r.UsageCount,
		UsageLimit: r.UsageLimit,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}
}

// CreateKey mints a new metered key. The raw key appears in this response
// only; afterwards the store holds nothing but its hash.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerID    string `json:"ownerId"`
		UsageLimit int64  `json:"usageLimit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "body must carry ownerId")
		return
	}
	if body.UsageLimit <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "usageLimit must be positive")
		return
	}

	rawKey, record := key.Generate(body.OwnerID, body.UsageLimit, h.clock.Now())
	if err := h.keys.CreateKey(r.Context(), record); err != nil {
		h.logger.Error().Err(err).Str("owner", body.OwnerID).Msg("key create failed")
		writeError(w, http.StatusInternalServerError, "internal", "key create failed")
		return
	}

	h.logger.Info().Str("owner", body.OwnerID).Str("key", record.Key).Msg("metered key issued")
	writeJSON(w, http.StatusCreated, struct {
		APIKey string  `json:"apiKey"`
		Record keyJSON `json:"record"`
	}{APIKey: rawKey, Record: toKeyJSON(record)})
}

// ListKeys returns an owner's key records, hashes excluded.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "owner query parameter required")
		return
	}

	records, err := h.keys.ListKeys(r.Context(), owner)
	if err != nil {
		h.logger.Error().Err(err).Str("owner", owner).Msg("key list failed")
		writeError(w, http.StatusInternalServerError, "internal", "key list failed")
		return
	}

	out := make([]keyJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, toKeyJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}
