package web

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/evntfy/evntfy/adapters/metrics"
	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsStream adapts one WebSocket connection to the pipeline's inbound
// stream contract. Each text frame carries one JSON-encoded message and
// each response goes back as one frame.
type wsStream struct {
	ctx       context.Context
	conn      *websocket.Conn
	md        map[string]string
	collector *metrics.Collector
}

func (s *wsStream) Context() context.Context { return s.ctx }

func (s *wsStream) Metadata(name string) string { return s.md[name] }

func (s *wsStream) Recv() (event.Inbound, error) {
	var in event.Inbound
	if err := s.conn.ReadJSON(&in); err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return event.Inbound{}, io.EOF
		}
		return event.Inbound{}, err
	}
	return in, nil
}

// Send writes one acknowledgment frame. Responses double as the admission
// outcome, so the counter is fed here rather than deeper in the pipeline.
func (s *wsStream) Send(r event.Response) error {
	if s.collector != nil {
		result := "admitted"
		if r.Status != "received" {
			result = "rejected"
		}
		s.collector.AdmissionsTotal.WithLabelValues(result).Inc()
	}
	return s.conn.WriteJSON(r)
}

// Stream accepts one producer connection and runs it through the pipeline
// until the producer completes, fails, or is rejected.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	rawKey := r.Header.Get(ports.MetadataAPIKey)
	if rawKey == "" {
		rawKey = r.URL.Query().Get("api_key")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()

	if h.collector != nil {
		h.collector.StreamsActive.Inc()
		defer h.collector.StreamsActive.Dec()
	}

	s := &wsStream{
		ctx:       r.Context(),
		conn:      conn,
		md:        map[string]string{ports.MetadataAPIKey: rawKey},
		collector: h.collector,
	}

	if err := h.coordinator.Serve(s); err != nil {
		h.logger.Debug().Err(err).Msg("stream ended with error")
	}
}

// Dashboard subscribes one connection to its owner's dashboard channel.
// The current snapshot is pushed immediately so a fresh dashboard renders
// without waiting for the next broadcast.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	record, err := h.authenticate(r.Context(), r)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("dashboard upgrade failed")
		return
	}

	run := h.hub.Register(conn, record.OwnerID)
	h.hub.PushDashboard(record.OwnerID, h.aggregator.Snapshot())
	run()
}
