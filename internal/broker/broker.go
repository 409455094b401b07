// Package broker composes the channel registry, session/pane registry,
// and per-connection handler into a listening TCP server: the Broker Core
// component.
package broker

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/termbroker/core/internal/broker/channels"
	"github.com/termbroker/core/internal/broker/conn"
	"github.com/termbroker/core/internal/broker/registry"
	"github.com/termbroker/core/internal/metrics"
	"github.com/termbroker/core/internal/termlog"
	"github.com/termbroker/core/internal/tokenstore"
)

// Config configures a Broker.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:6379".
	Addr string
	// Token provides the auth Store backing AUTH. Required.
	Token *tokenstore.Store
	// QueueCapacity and SubscriberCapacity override the channel registry's
	// defaults; zero means use channels.DefaultQueueCapacity /
	// channels.DefaultSubscriberCapacity.
	QueueCapacity      int
	SubscriberCapacity int
}

// Broker owns one listening socket and the shared state every accepted
// connection dispatches against.
type Broker struct {
	cfg Config
	log *termlog.Logger

	channels *channels.Registry
	sessions *registry.Registry
	metrics  *metrics.Counters

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	nextConn atomic.Uint64
	active   map[uint64]net.Conn

	stopOnce sync.Once
	closing  chan struct{}
}

// New constructs a Broker. It does not listen until Start is called.
func New(cfg Config) *Broker {
	q, s := cfg.QueueCapacity, cfg.SubscriberCapacity
	if q <= 0 {
		q = channels.DefaultQueueCapacity
	}
	if s <= 0 {
		s = channels.DefaultSubscriberCapacity
	}
	return &Broker{
		cfg:      cfg,
		log:      termlog.New("broker"),
		channels: channels.NewWithCapacity(q, s),
		sessions: registry.New(),
		metrics:  &metrics.Counters{},
		active:   make(map[uint64]net.Conn),
		closing:  make(chan struct{}),
	}
}

// Channels exposes the shared channel registry, for internal/debugweb's
// read-only views and for tests.
func (b *Broker) Channels() *channels.Registry { return b.channels }

// Sessions exposes the shared session/pane registry, for the same reasons.
func (b *Broker) Sessions() *registry.Registry { return b.sessions }

// Metrics exposes the shared counters every connection updates, for
// internal/debugweb's status view and for tests.
func (b *Broker) Metrics() *metrics.Counters { return b.metrics }

// Start binds the listen address and begins accepting connections in a
// background goroutine. It returns once the socket is bound.
func (b *Broker) Start() error {
	ln, err := net.Listen("tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("broker: listen on %s: %w", b.cfg.Addr, err)
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	b.log.Infof("listening on %s", ln.Addr())

	b.wg.Add(1)
	go b.acceptLoop(ln)
	return nil
}

func (b *Broker) acceptLoop(ln net.Listener) {
	defer b.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-b.closing:
				return
			default:
				b.log.Warnf("accept error: %v", err)
				return
			}
		}
		connID := b.nextConn.Add(1)
		id := channels.SubscriberID(connID)
		c := conn.New(id, nc, conn.Deps{
			Channels: b.channels,
			Sessions: b.sessions,
			Token:    b.cfg.Token.Token,
			Metrics:  b.metrics,
		})

		b.mu.Lock()
		b.active[connID] = nc
		b.mu.Unlock()
		b.metrics.ConnectionsAccepted.Add(1)

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				b.mu.Lock()
				delete(b.active, connID)
				b.mu.Unlock()
				b.metrics.ConnectionsClosed.Add(1)
			}()
			c.Serve()
		}()
	}
}

// Stop closes the listener and every currently-open connection, waits for
// their Serve loops to finish tearing down, then destroys every session,
// pane, and channel so no state outlives the broker. Safe to call more
// than once; only the first call does anything.
func (b *Broker) Stop() error {
	var stopErr error
	b.stopOnce.Do(func() {
		close(b.closing)
		b.mu.Lock()
		ln := b.listener
		conns := make([]net.Conn, 0, len(b.active))
		for _, nc := range b.active {
			conns = append(conns, nc)
		}
		b.mu.Unlock()

		if ln != nil {
			if err := ln.Close(); err != nil {
				stopErr = fmt.Errorf("broker: close listener: %w", err)
			}
		}
		for _, nc := range conns {
			nc.Close()
		}
		b.wg.Wait()

		b.sessions.DestroyAll()
		b.channels.DestroyAll()
	})
	return stopErr
}

// Stats is a point-in-time snapshot of broker-wide counts, for
// internal/debugweb and tests that want a single call instead of reaching
// into Sessions()/Channels()/Metrics() separately.
type Stats struct {
	OpenConnections int
	Sessions        int
	Channels        int
}

// Stats returns a snapshot of the broker's current size.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	openConns := len(b.active)
	b.mu.Unlock()
	return Stats{
		OpenConnections: openConns,
		Sessions:        len(b.sessions.ListSessions()),
		Channels:        len(b.channels.List()),
	}
}

// Addr returns the bound listen address, valid after Start succeeds.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}
