// Package conn implements the per-connection state machine described by
// the Connection Handler component: authentication, line-oriented command
// dispatch, and interleaved asynchronous message delivery.
package conn

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termbroker/core/internal/broker/channels"
	"github.com/termbroker/core/internal/broker/registry"
	"github.com/termbroker/core/internal/metrics"
	"github.com/termbroker/core/internal/termlog"
	"github.com/termbroker/core/internal/wireproto"
)

// MaxAuthAttempts is the number of failed AUTH attempts tolerated before
// the connection is closed.
const MaxAuthAttempts = 3

// MaxSubscriptions bounds how many distinct channels a single connection
// may subscribe to at once, per spec.md's per-connection bounded state.
const MaxSubscriptions = 1024

// deliveryPollInterval is how often a connection checks its subscribed
// channels' receive queues for new messages to deliver. It is well under
// one headless-runtime quantum (10ms) so the "within two quanta" delivery
// property in the testable-properties table holds comfortably.
const deliveryPollInterval = 3 * time.Millisecond

type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticated
	stateClosed
)

// Deps bundles the shared registries and auth source a Conn dispatches
// against. The broker constructs one Deps and shares it across every
// accepted connection.
type Deps struct {
	Channels *channels.Registry
	Sessions *registry.Registry
	// Token returns the current valid token; called per AUTH attempt so
	// rotation (internal/tokenstore) takes effect without reconnecting.
	Token func() string
	// Metrics is optional; a nil Metrics disables counter updates.
	Metrics *metrics.Counters
}

// Conn owns one accepted TCP connection: its line read loop, its
// asynchronous delivery pump, and the write-atomicity lock shared by both.
type Conn struct {
	id      channels.SubscriberID
	traceID string
	nc      net.Conn
	r       *bufio.Reader
	deps    Deps
	log     *termlog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	st            state
	authAttempts  int
	subscriptions map[string]bool

	stop chan struct{}
}

// New wraps an accepted connection. id must be unique among concurrently
// open connections on this broker — it doubles as the channels
// SubscriberID.
func New(id channels.SubscriberID, nc net.Conn, deps Deps) *Conn {
	return &Conn{
		id:            id,
		traceID:       uuid.NewString(),
		nc:            nc,
		r:             bufio.NewReader(nc),
		deps:          deps,
		log:           termlog.New("conn"),
		subscriptions: make(map[string]bool),
		stop:          make(chan struct{}),
	}
}

// TraceID returns this connection's correlation ID, which appears in its
// connect, auth and close log lines. It has no bearing on the wire
// protocol itself, which addresses connections only by their monotonic
// integer SubscriberID.
func (c *Conn) TraceID() string { return c.traceID }

// Serve runs the connection's read loop until the client disconnects, a
// protocol-fatal error occurs, or the 3rd failed AUTH attempt closes it.
// It blocks until the connection is done; callers run it in its own
// goroutine.
func (c *Conn) Serve() {
	c.log.Infof("connect %s trace=%s", c.nc.RemoteAddr(), c.traceID)
	defer c.teardown()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.deliveryLoop()
	}()

	for {
		line, err := wireproto.ReadLine(c.r)
		if err != nil {
			break
		}
		if !c.handleLine(line) {
			break
		}
	}

	close(c.stop)
	wg.Wait()
}

func (c *Conn) teardown() {
	c.mu.Lock()
	c.st = stateClosed
	c.mu.Unlock()
	c.deps.Channels.UnsubscribeAll(c.id)
	c.nc.Close()
	c.log.Infof("close %s trace=%s", c.nc.RemoteAddr(), c.traceID)
}

// handleLine processes one command line and reports whether the
// connection should stay open.
func (c *Conn) handleLine(line string) bool {
	cmd, err := wireproto.ParseLine(line)
	if err != nil {
		c.writeLine(wireproto.Errf("malformed command"))
		return true
	}

	c.mu.Lock()
	authed := c.st == stateAuthenticated
	c.mu.Unlock()

	if cmd.Verb == "AUTH" {
		return c.handleAuth(cmd)
	}
	if !authed {
		c.writeLine(wireproto.Err("not authenticated"))
		return true
	}

	c.writeLine(c.dispatch(cmd))
	return true
}

func (c *Conn) handleAuth(cmd wireproto.Command) bool {
	if len(cmd.Args) < 1 {
		c.writeLine(wireproto.Err("missing token"))
		return true
	}
	supplied := cmd.Args[0]
	expected := c.deps.Token()

	// Compare fixed-size digests so a length mismatch does not return early.
	suppliedSum, expectedSum := sha256.Sum256([]byte(supplied)), sha256.Sum256([]byte(expected))
	if subtle.ConstantTimeCompare(suppliedSum[:], expectedSum[:]) == 1 {
		c.mu.Lock()
		c.st = stateAuthenticated
		c.mu.Unlock()
		if c.deps.Metrics != nil {
			c.deps.Metrics.AuthSuccesses.Add(1)
		}
		c.log.Infof("auth success %s trace=%s", c.nc.RemoteAddr(), c.traceID)
		c.writeLine(wireproto.OK())
		return true
	}

	c.mu.Lock()
	c.authAttempts++
	attempts := c.authAttempts
	c.mu.Unlock()
	if c.deps.Metrics != nil {
		c.deps.Metrics.AuthFailures.Add(1)
	}
	c.log.Warnf("auth failure %s trace=%s attempt=%d", c.nc.RemoteAddr(), c.traceID, attempts)
	c.writeLine(wireproto.Err("invalid token"))
	if attempts >= MaxAuthAttempts {
		c.log.Warnf("closing %s after %d failed auth attempts", c.nc.RemoteAddr(), attempts)
		return false
	}
	return true
}

// dispatch runs one authenticated command and returns its single response
// line.
func (c *Conn) dispatch(cmd wireproto.Command) string {
	switch cmd.Verb {
	case "LIST SESSIONS":
		return wireproto.OKf("%s", strings.Join(c.deps.Sessions.ListSessions(), " "))

	case "LIST PANES":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing session id")
		}
		panes, err := c.deps.Sessions.ListPanes(cmd.Args[0])
		if err != nil {
			return notFoundReply(err)
		}
		return wireproto.OKf("%s", strings.Join(panes, " "))

	case "LIST CHANNELS":
		return wireproto.OKf("%s", strings.Join(c.deps.Channels.List(), " "))

	case "CREATE SESSION":
		name, firstPane := "", ""
		if len(cmd.Args) > 0 {
			name = cmd.Args[0]
		}
		if len(cmd.Args) > 1 {
			firstPane = cmd.Args[1]
		}
		session, err := c.deps.Sessions.CreateSession(name)
		if err != nil {
			return existsOrNotFoundReply(err)
		}
		pane, err := c.deps.Sessions.CreatePane(session.ID, firstPane)
		if err != nil {
			return existsOrNotFoundReply(err)
		}
		return wireproto.OKf("session-id:%s pane-id:%s", session.ID, pane.ID)

	case "CREATE PANE":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing session id")
		}
		name := ""
		if len(cmd.Args) > 1 {
			name = cmd.Args[1]
		}
		pane, err := c.deps.Sessions.CreatePane(cmd.Args[0], name)
		if err != nil {
			return existsOrNotFoundReply(err)
		}
		return wireproto.OKf("pane-id:%s", pane.ID)

	case "CLOSE PANE":
		if len(cmd.Args) < 2 {
			return wireproto.Err("missing session id or pane id")
		}
		in, out, err := c.deps.Sessions.ClosePane(cmd.Args[0], cmd.Args[1])
		if err != nil {
			return notFoundReply(err)
		}
		c.deps.Channels.Destroy(in)
		c.deps.Channels.Destroy(out)
		return wireproto.OK()

	case "CLOSE SESSION":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing session id")
		}
		chs, err := c.deps.Sessions.CloseSession(cmd.Args[0])
		if err != nil {
			return notFoundReply(err)
		}
		for _, ch := range chs {
			c.deps.Channels.Destroy(ch)
		}
		return wireproto.OK()

	case "SUBSCRIBE":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing channel")
		}
		channel := cmd.Args[0]
		c.mu.Lock()
		if _, already := c.subscriptions[channel]; !already && len(c.subscriptions) >= MaxSubscriptions {
			c.mu.Unlock()
			return wireproto.Err("too many subscriptions")
		}
		c.subscriptions[channel] = true
		c.mu.Unlock()
		c.deps.Channels.Subscribe(channel, c.id)
		return wireproto.OK()

	case "UNSUBSCRIBE":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing channel")
		}
		c.deps.Channels.Unsubscribe(cmd.Args[0], c.id)
		c.mu.Lock()
		delete(c.subscriptions, cmd.Args[0])
		c.mu.Unlock()
		return wireproto.OK()

	case "PUBLISH":
		if len(cmd.Args) < 2 {
			return wireproto.Err("missing channel")
		}
		delivered, dropped := c.deps.Channels.Publish(cmd.Args[0], cmd.Args[1])
		c.recordPublish(dropped)
		return wireproto.OKf("%d", delivered)

	case "INJECT":
		if len(cmd.Args) < 2 {
			return wireproto.Err("missing channel")
		}
		payload := cmd.Args[1]
		if !strings.HasSuffix(payload, "\n") {
			payload += "\n"
		}
		delivered, dropped := c.deps.Channels.Publish(cmd.Args[0], payload)
		c.recordPublish(dropped)
		return wireproto.OKf("%d", delivered)

	case "RPOP":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing channel")
		}
		msg, ok := c.deps.Channels.RPop(cmd.Args[0])
		if !ok {
			return wireproto.Err("empty")
		}
		return wireproto.Reply(msg.Payload)

	case "LLEN":
		if len(cmd.Args) < 1 {
			return wireproto.Err("missing channel")
		}
		return wireproto.OKf("%d", c.deps.Channels.LLen(cmd.Args[0]))

	case "CAPTURE":
		return c.handleCapture(cmd)

	default:
		return wireproto.Errf("unknown command %q", cmd.Verb)
	}
}

// recordPublish updates the shared publish/drop counters, if metrics are
// wired in.
func (c *Conn) recordPublish(queueDropped bool) {
	if c.deps.Metrics == nil {
		return
	}
	c.deps.Metrics.MessagesPublished.Add(1)
	if queueDropped {
		c.deps.Metrics.ChannelQueueDrops.Add(1)
	}
}

// handleCapture implements the supplemental CAPTURE command: fire-and-forget
// publication of a capture request onto the target pane's capture-request
// channel.
func (c *Conn) handleCapture(cmd wireproto.Command) string {
	if len(cmd.Args) < 1 {
		return wireproto.Err("missing session/pane")
	}
	sid, pid, ok := strings.Cut(cmd.Args[0], "/")
	if !ok || sid == "" || pid == "" {
		return wireproto.Err("malformed session/pane, want <session_id>/<pane_id>")
	}
	mode := ""
	if len(cmd.Args) > 1 {
		mode = cmd.Args[1]
	}
	channel := fmt.Sprintf("session-%s/pane-%s/capture-request", sid, pid)
	c.deps.Channels.Publish(channel, mode)
	return wireproto.OKf("requested")
}

// deliveryLoop periodically drains every channel this connection is
// subscribed to and writes any pending messages as +MESSAGE lines,
// interleaved safely with command responses via writeMu.
func (c *Conn) deliveryLoop() {
	ticker := time.NewTicker(deliveryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.deliverPending()
		}
	}
}

func (c *Conn) deliverPending() {
	c.mu.Lock()
	names := make([]string, 0, len(c.subscriptions))
	for name := range c.subscriptions {
		names = append(names, name)
	}
	c.mu.Unlock()

	for _, name := range names {
		msgs, ok := c.deps.Channels.Drain(name, c.id)
		if !ok {
			continue
		}
		for _, m := range msgs {
			c.writeLine(wireproto.Message(name, m.Payload))
		}
	}
}

// writeLine writes one line, terminated by LF, atomically with respect to
// every other writeLine call on this connection.
func (c *Conn) writeLine(line string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = c.nc.Write([]byte(line + "\n"))
}

func notFoundReply(err error) string {
	var nf *registry.ErrNotFound
	if errors.As(err, &nf) {
		return wireproto.Errf("%s not found", nf.Kind)
	}
	termlog.New("conn").Errorf("unmapped error: %v", err)
	return wireproto.Err("internal error")
}

func existsOrNotFoundReply(err error) string {
	var ex *registry.ErrAlreadyExists
	if errors.As(err, &ex) {
		return wireproto.Err("exists")
	}
	return notFoundReply(err)
}
