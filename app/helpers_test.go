package app_test

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/metrics"
)

var nop = zerolog.Nop()

// fakeBroadcaster records pushes instead of delivering them.
type fakeBroadcaster struct {
	mu         sync.Mutex
	dashboards []dashboardPush
	payloads   []subscriberPush
}

type dashboardPush struct {
	target string
	d      metrics.Dashboard
}

type subscriberPush struct {
	owner   string
	payload any
}

func (f *fakeBroadcaster) PushToSubscriber(ownerID string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, subscriberPush{owner: ownerID, payload: payload})
}

func (f *fakeBroadcaster) PushDashboard(target string, d metrics.Dashboard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dashboards = append(f.dashboards, dashboardPush{target: target, d: d})
}

func (f *fakeBroadcaster) dashboardPushes() []dashboardPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dashboardPush, len(f.dashboards))
	copy(out, f.dashboards)
	return out
}

func (f *fakeBroadcaster) subscriberPushes() []subscriberPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]subscriberPush, len(f.payloads))
	copy(out, f.payloads)
	return out
}

// fakeStream replays a fixed message sequence and records responses.
type fakeStream struct {
	md      map[string]string
	inbound []event.Inbound

	idx  int
	sent []event.Response
}

func (s *fakeStream) Context() context.Context { return context.Background() }

func (s *fakeStream) Metadata(name string) string { return s.md[name] }

func (s *fakeStream) Recv() (event.Inbound, error) {
	if s.idx >= len(s.inbound) {
		return event.Inbound{}, io.EOF
	}
	in := s.inbound[s.idx]
	s.idx++
	return in, nil
}

func (s *fakeStream) Send(r event.Response) error {
	s.sent = append(s.sent, r)
	return nil
}
