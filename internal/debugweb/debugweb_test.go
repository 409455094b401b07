package debugweb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termbroker/core/internal/broker/channels"
	"github.com/termbroker/core/internal/broker/registry"
	"github.com/termbroker/core/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *channels.Registry, *registry.Registry) {
	t.Helper()
	ch := channels.New()
	reg := registry.New()
	mx := &metrics.Counters{}
	mx.ConnectionsAccepted.Add(2)
	s := New(Deps{Channels: ch, Sessions: reg, Metrics: mx})
	return s, ch, reg
}

func TestStatusReportsSessionAndChannelCounts(t *testing.T) {
	s, ch, reg := newTestServer(t)
	if _, err := reg.CreateSession("s1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ch.Publish("chanA", "x")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Sessions != 1 {
		t.Fatalf("Sessions = %d, want 1", resp.Sessions)
	}
	if resp.Channels != 1 {
		t.Fatalf("Channels = %d, want 1", resp.Channels)
	}
	if resp.Metrics.ConnectionsAccepted != 2 {
		t.Fatalf("ConnectionsAccepted = %d, want 2", resp.Metrics.ConnectionsAccepted)
	}
}

func TestPanesReturnsNotFoundForUnknownSession(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/nope/panes", nil)
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChannelsListsStats(t *testing.T) {
	s, ch, _ := newTestServer(t)
	ch.Publish("chanA", "x")
	ch.Publish("chanA", "y")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	s.ServeHTTP(rec, req)

	var stats []channels.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(stats) != 1 || stats[0].Published != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRelayStreamsPublishedOutputOverWebSocket(t *testing.T) {
	s, ch, reg := newTestServer(t)
	session, err := reg.CreateSession("s1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	pane, err := reg.CreatePane(session.ID, "p1")
	if err != nil {
		t.Fatalf("CreatePane: %v", err)
	}

	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID + "/" + pane.ID + "/output"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to subscribe before publishing, since the
	// relay's Subscribe call happens after the WS handshake completes.
	time.Sleep(30 * time.Millisecond)
	ch.Publish(pane.OutputChannel(), "hello")

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("msg = %q, want %q", msg, "hello")
	}
}

func TestRelayRejectsInvalidChannelType(t *testing.T) {
	s, _, reg := newTestServer(t)
	session, _ := reg.CreateSession("s1")
	pane, _ := reg.CreatePane(session.ID, "p1")

	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID + "/" + pane.ID + "/bogus"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail for invalid channel type")
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLoopbackOnly(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9000": true,
		"localhost:9000": true,
		"0.0.0.0:9000":   false,
		":9000":          false,
	}
	for addr, want := range cases {
		if got := LoopbackOnly(addr); got != want {
			t.Errorf("LoopbackOnly(%q) = %v, want %v", addr, got, want)
		}
	}
}
