package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/ports"
)

type eventJSON struct {
	ID        string        `json:"id"`
	EventName string        `json:"eventName"`
	Payload   event.Payload `json:"payload"`
	Category  string        `json:"category,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
	Severity  string        `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}

type eventPageJSON struct {
	Events []eventJSON `json:"events"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ListEvents returns one page of the caller's stored events, filtered and
// sorted per query parameters.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	record, err := h.authenticate(r.Context(), r)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	f, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	page, err := h.events.Query(r.Context(), record.OwnerID, f)
	if err != nil {
		h.logger.Error().Err(err).Str("owner", record.OwnerID).Msg("event query failed")
		writeError(w, http.StatusInternalServerError, "internal", "event query failed")
		return
	}

	out := eventPageJSON{
		Events: make([]eventJSON, 0, len(page.Events)),
		Total:  page.Total,
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	for _, e := range page.Events {
		out.Events = append(out.Events, eventJSON{
			ID:        e.ID,
			EventName: e.EventName,
			Payload:   e.Payload,
			Category:  e.Category,
			Tags:      e.Tags,
			Severity:  string(e.Severity),
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteEvent removes a single event owned by the caller.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	record, err := h.authenticate(r.Context(), r)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	deleted, err := h.events.Delete(r.Context(), record.OwnerID, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		h.logger.Error().Err(err).Str("event", id).Msg("event delete failed")
		writeError(w, http.StatusInternalServerError, "internal", "event delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// DeleteEvents removes a batch of events owned by the caller.
// Events belonging to other owners are skipped, not errors.
func (h *Handler) DeleteEvents(w http.ResponseWriter, r *http.Request) {
	record, err := h.authenticate(r.Context(), r)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "body must carry a non-empty ids array")
		return
	}

	deleted, err := h.events.DeleteBatch(r.Context(), record.OwnerID, body.IDs)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		h.logger.Error().Err(err).Int("ids", len(body.IDs)).Msg("event batch delete failed")
		writeError(w, http.StatusInternalServerError, "internal", "event delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func parseEventFilter(r *http.Request) (ports.EventFilter, error) {
	q := r.URL.Query()

	f := ports.EventFilter{
		EventName: q.Get("eventName"),
		Category:  q.Get("category"),
	}
	if s := q.Get("severity"); s != "" {
		f.Severity = event.ParseSeverity(s)
	}
	if tags := q.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}

	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		return f, errors.New("from must be RFC 3339")
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		return f, errors.New("to must be RFC 3339")
	}

	switch sortBy := q.Get("sortBy"); sortBy {
	case "", "timestamp":
		f.SortBy = "timestamp"
	case "eventName":
		f.SortBy = sortBy
	default:
		return f, errors.New("sortBy must be timestamp or eventName")
	}
	f.SortAsc = q.Get("order") == "asc"

	if f.Limit, err = parseIntParam(q.Get("limit"), 0, 1000); err != nil {
		return f, errors.New("limit must be an integer between 0 and 1000")
	}
	if f.Offset, err = parseIntParam(q.Get("offset"), 0, 1<<30); err != nil {
		return f, errors.New("offset must be a non-negative integer")
	}
	return f, nil
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseIntParam(s string, min, max int) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, errors.New("out of range")
	}
	return n, nil
}
