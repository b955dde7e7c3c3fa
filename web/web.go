// Package web provides the HTTP surface: the WebSocket ingest and
// dashboard endpoints, the events and keys REST API, and operational
// endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/adapters/metrics"
	"github.com/evntfy/evntfy/adapters/ws"
	"github.com/evntfy/evntfy/app"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

// Handler provides the HTTP endpoints.
type Handler struct {
	coordinator *app.Coordinator
	aggregator  *app.Aggregator
	hub         *ws.Hub
	events      ports.EventStore
	keys        ports.KeyStore
	clock       ports.Clock
	logger      zerolog.Logger
	collector   *metrics.Collector
	metricsPath string
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Coordinator *app.Coordinator
	Aggregator  *app.Aggregator
	Hub         *ws.Hub
	Events      ports.EventStore
	Keys        ports.KeyStore
	Clock       ports.Clock
	Logger      zerolog.Logger
	Metrics     *metrics.Collector // optional
	MetricsPath string             // empty disables the Prometheus endpoint
}

// NewHandler creates a new HTTP handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		coordinator: deps.Coordinator,
		aggregator:  deps.Aggregator,
		hub:         deps.Hub,
		events:      deps.Events,
		keys:        deps.Keys,
		clock:       deps.Clock,
		logger:      deps.Logger.With().Str("component", "web").Logger(),
		collector:   deps.Metrics,
		metricsPath: deps.MetricsPath,
	}
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if h.metricsPath != "" {
		r.Handle(h.metricsPath, promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stream", h.Stream)
		r.Get("/dashboard", h.Dashboard)

		r.Get("/events", h.ListEvents)
		r.Delete("/events/{id}", h.DeleteEvent)
		r.Delete("/events", h.DeleteEvents)

		r.Post("/keys", h.CreateKey)
		r.Get("/keys", h.ListKeys)
	})

	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticate resolves the request's credential to a key record.
// The credential travels in the x-api-key header, or in the api_key query
// parameter for browser WebSocket clients that cannot set headers.
func (h *Handler) authenticate(ctx context.Context, r *http.Request) (key.UsageRecord, error) {
	rawKey := r.Header.Get(ports.MetadataAPIKey)
	if rawKey == "" {
		rawKey = r.URL.Query().Get("api_key")
	}
	if rawKey == "" {
		return key.UsageRecord{}, app.ErrMissingCredential
	}
	if !key.ValidateFormat(rawKey) {
		return key.UsageRecord{}, app.ErrInvalidCredential
	}

	record, err := h.keys.GetKeyByLookup(ctx, key.LookupPrefix(rawKey))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return key.UsageRecord{}, app.ErrInvalidCredential
		}
		return key.UsageRecord{}, err
	}
	if !key.Match(record, rawKey) {
		return key.UsageRecord{}, app.ErrInvalidCredential
	}
	return record, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMissingCredential):
		writeError(w, http.StatusUnauthorized, "missing_credential", "api key required")
	case errors.Is(err, app.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "invalid_credential", "api key not recognized")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "key lookup failed")
	}
}
