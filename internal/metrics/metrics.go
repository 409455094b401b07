// Package metrics holds the in-process counters the broker and headless
// runtime expose for testing and for internal/debugweb's status view.
// There is deliberately no backend wired here (no prometheus client
// appears anywhere in the example pack, and spec.md scopes metrics
// formatting out of the core) — just the atomic counters themselves.
package metrics

import "sync/atomic"

// Counters is a fixed set of process-wide atomic counters. The zero value
// is ready to use.
type Counters struct {
	ConnectionsAccepted  atomic.Uint64
	ConnectionsClosed    atomic.Uint64
	AuthFailures         atomic.Uint64
	AuthSuccesses        atomic.Uint64
	MessagesPublished    atomic.Uint64
	ChannelQueueDrops    atomic.Uint64
	SubscriberQueueDrops atomic.Uint64
	PTYBytesRead         atomic.Uint64
	PTYBytesWritten      atomic.Uint64
}

// Snapshot is a point-in-time, plain-value copy of Counters, safe to log,
// compare in tests, or serialize.
type Snapshot struct {
	ConnectionsAccepted  uint64
	ConnectionsClosed    uint64
	AuthFailures         uint64
	AuthSuccesses        uint64
	MessagesPublished    uint64
	ChannelQueueDrops    uint64
	SubscriberQueueDrops uint64
	PTYBytesRead         uint64
	PTYBytesWritten      uint64
}

// Snapshot reads every counter's current value.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted:  c.ConnectionsAccepted.Load(),
		ConnectionsClosed:    c.ConnectionsClosed.Load(),
		AuthFailures:         c.AuthFailures.Load(),
		AuthSuccesses:        c.AuthSuccesses.Load(),
		MessagesPublished:    c.MessagesPublished.Load(),
		ChannelQueueDrops:    c.ChannelQueueDrops.Load(),
		SubscriberQueueDrops: c.SubscriberQueueDrops.Load(),
		PTYBytesRead:         c.PTYBytesRead.Load(),
		PTYBytesWritten:      c.PTYBytesWritten.Load(),
	}
}
