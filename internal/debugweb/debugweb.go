// Package debugweb implements a loopback-only HTTP/WebSocket surface for
// inspecting a running broker: session/pane listings, channel stats, and a
// raw relay of one pane's output channel for eyeballing a session without
// a real terminal client. It is not part of the wire protocol and is
// disabled unless cmd/termd is given an explicit debug-web address.
package debugweb

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/termbroker/core/internal/broker/channels"
	"github.com/termbroker/core/internal/broker/registry"
	"github.com/termbroker/core/internal/metrics"
	"github.com/termbroker/core/internal/termlog"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	relayPoll      = 20 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Loopback-only surface, same-origin checks aren't the concern here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Deps bundles the broker state the debug surface reads. It never mutates
// sessions, panes, or channel contents, except for subscribing its own
// relay connections.
type Deps struct {
	Channels *channels.Registry
	Sessions *registry.Registry
	Metrics  *metrics.Counters
}

// Server is an http.Handler exposing the debug endpoints. Construct with
// New and pass to an http.Server bound to a loopback address.
type Server struct {
	deps   Deps
	log    *termlog.Logger
	router *mux.Router

	mu       sync.Mutex
	nextConn uint64
}

// New builds the router. Callers are responsible for binding it to a
// loopback-only address; this package does not enforce that itself.
func New(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  termlog.New("debugweb"),
	}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{session}/panes", s.handlePanes).Methods(http.MethodGet)
	r.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/ws/{session}/{pane}/{channel}", s.handleRelay)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusResponse struct {
	Sessions int              `json:"sessions"`
	Channels int              `json:"channels"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := metrics.Snapshot{}
	if s.deps.Metrics != nil {
		snap = s.deps.Metrics.Snapshot()
	}
	writeJSON(w, statusResponse{
		Sessions: len(s.deps.Sessions.ListSessions()),
		Channels: len(s.deps.Channels.List()),
		Metrics:  snap,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Sessions.ListSessions())
}

func (s *Server) handlePanes(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	panes, err := s.deps.Sessions.ListPanes(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, panes)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Channels.List()
	out := make([]channels.Stats, 0, len(names))
	for _, name := range names {
		if stats, ok := s.deps.Channels.StatsFor(name); ok {
			out = append(out, stats)
		}
	}
	writeJSON(w, out)
}

// handleRelay upgrades to a WebSocket and streams a pane's channel (usually
// "output") as it's published, by polling Drain the same way
// internal/broker/conn's delivery loop does. channel must be "input" or
// "output"; anything else is rejected before the pane lookup even runs.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, paneID, channelType := vars["session"], vars["pane"], vars["channel"]
	if channelType != "input" && channelType != "output" {
		http.Error(w, "channel must be input or output", http.StatusBadRequest)
		return
	}
	pane, err := s.deps.Sessions.GetPane(sessionID, paneID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	channelName := pane.OutputChannel()
	if channelType == "input" {
		channelName = pane.InputChannel()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.nextConn++
	subID := channels.SubscriberID(1<<63 | s.nextConn) // disjoint from broker conn IDs
	s.mu.Unlock()

	s.deps.Channels.Subscribe(channelName, subID)
	defer s.deps.Channels.UnsubscribeAll(subID)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.relayLoop(conn, channelName, subID, done, closeDone)
}

func (s *Server) relayLoop(conn *websocket.Conn, channelName string, subID channels.SubscriberID, done chan struct{}, closeDone func()) {
	ticker := time.NewTicker(relayPoll)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closeDone()
				return
			}
		case <-ticker.C:
			msgs, ok := s.deps.Channels.Drain(channelName, subID)
			if !ok {
				continue
			}
			for _, m := range msgs {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte(m.Payload)); err != nil {
					closeDone()
					return
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// LoopbackOnly reports whether addr is safe to bind the debug surface to:
// its host must be 127.0.0.1, localhost or ::1. An empty host (which
// net.Listen binds to all interfaces) is rejected.
func LoopbackOnly(addr string) bool {
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		host = addr[:idx]
	}
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}
