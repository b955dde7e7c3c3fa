package ws_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/adapters/ws"
	"github.com/evntfy/evntfy/domain/metrics"
	"github.com/evntfy/evntfy/ports"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer serves subscriber connections, taking the owner from a query
// parameter so tests can join different rooms.
func wsServer(t *testing.T, hub *ws.Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(c, r.URL.Query().Get("owner"))()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?owner=" + owner
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) ws.Message {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func waitForSubscribers(t *testing.T, hub *ws.Hub, owner string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount(owner) < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers for %s = %d, want %d", owner, hub.SubscriberCount(owner), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PushToSubscriberReachesOwnRoomOnly(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	defer hub.Close()
	srv := wsServer(t, hub)

	ca := dial(t, srv, "owner_a")
	cb := dial(t, srv, "owner_b")
	waitForSubscribers(t, hub, "owner_a", 1)
	waitForSubscribers(t, hub, "owner_b", 1)

	hub.PushToSubscriber("owner_a", []string{"e1", "e2"})

	msg := readMessage(t, ca)
	if msg.Type != "events" {
		t.Errorf("type = %q, want events", msg.Type)
	}
	batch := msg.Data.([]any)
	if len(batch) != 2 {
		t.Errorf("batch = %v", batch)
	}

	cb.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := cb.ReadMessage(); err == nil {
		t.Error("owner_b received owner_a's batch")
	}
}

func TestHub_PushDashboardToAll(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	defer hub.Close()
	srv := wsServer(t, hub)

	ca := dial(t, srv, "owner_a")
	cb := dial(t, srv, "owner_b")
	waitForSubscribers(t, hub, "owner_a", 1)
	waitForSubscribers(t, hub, "owner_b", 1)

	d := metrics.Dashboard{TotalEvents: 7}
	hub.PushDashboard(ports.BroadcastAll, d)

	for _, c := range []*websocket.Conn{ca, cb} {
		msg := readMessage(t, c)
		if msg.Type != "dashboard_data" {
			t.Errorf("type = %q, want dashboard_data", msg.Type)
		}
		payload := msg.Data.(map[string]any)
		if payload["totalEvents"].(float64) != 7 {
			t.Errorf("totalEvents = %v, want 7", payload["totalEvents"])
		}
	}
}

func TestHub_PushWithNoSubscribersIsDropped(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	defer hub.Close()

	// Must not panic or block.
	hub.PushToSubscriber("owner_none", []string{"e1"})
	hub.PushDashboard("owner_none", metrics.Dashboard{})
}

func TestHub_DisconnectLeavesRoom(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	defer hub.Close()
	srv := wsServer(t, hub)

	c := dial(t, srv, "owner_a")
	waitForSubscribers(t, hub, "owner_a", 1)

	c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("owner_a") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room not cleaned up after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
