// Package clientadapter implements a TCP client against the broker's line
// protocol: connect, authenticate, create sessions/panes, subscribe,
// publish, and RPOP-based polling. It is the sole thing the Headless
// Runtime (or any other out-of-process automation client) speaks to the
// broker through.
package clientadapter

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/termbroker/core/internal/wireproto"
)

// Client is a connection to a broker, tracking the session/pane it has
// created or joined.
type Client struct {
	mu     sync.Mutex
	nc     net.Conn
	r      *bufio.Reader
	authed bool

	sessionID string
	paneID    string
}

// Dial connects to addr (host:port).
func Dial(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("clientadapter: connect to %s: %w", addr, err)
	}
	return &Client{nc: nc, r: bufio.NewReader(nc)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.nc.Close() }

// SessionID returns the session this client created or joined, "" if none.
func (c *Client) SessionID() string { return c.sessionID }

// PaneID returns the pane this client created or joined, "" if none.
func (c *Client) PaneID() string { return c.paneID }

// IsAuthenticated reports whether Authenticate has succeeded.
func (c *Client) IsAuthenticated() bool { return c.authed }

// Authenticate sends AUTH <token> and waits for +OK.
func (c *Client) Authenticate(token string) error {
	resp, err := c.roundTrip("AUTH " + token)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "+OK") {
		return fmt.Errorf("clientadapter: authentication failed: %s", resp)
	}
	c.authed = true
	return nil
}

// CreateSession creates (or, with an explicit name that already exists,
// fails to create) a session, optionally with an explicit name, and
// records the returned session-id/pane-id.
func (c *Client) CreateSession(name string) (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	cmd := "CREATE SESSION"
	if name != "" {
		cmd += " " + name
	}
	resp, err := c.roundTrip(cmd)
	if err != nil {
		return "", err
	}
	data, ok := strings.CutPrefix(resp, "+OK ")
	if !ok {
		return "", fmt.Errorf("clientadapter: create session failed: %s", resp)
	}
	for _, part := range strings.Fields(data) {
		if id, ok := strings.CutPrefix(part, "session-id:"); ok {
			c.sessionID = id
		} else if id, ok := strings.CutPrefix(part, "pane-id:"); ok {
			c.paneID = id
		}
	}
	return c.sessionID, nil
}

// CreatePane creates a pane in the current session, optionally with an
// explicit name, and records the returned pane-id.
func (c *Client) CreatePane(name string) (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	if c.sessionID == "" {
		return "", fmt.Errorf("clientadapter: no session created")
	}
	cmd := "CREATE PANE " + c.sessionID
	if name != "" {
		cmd += " " + name
	}
	resp, err := c.roundTrip(cmd)
	if err != nil {
		return "", err
	}
	data, ok := strings.CutPrefix(resp, "+OK ")
	if !ok {
		return "", fmt.Errorf("clientadapter: create pane failed: %s", resp)
	}
	id, ok := strings.CutPrefix(strings.TrimSpace(data), "pane-id:")
	if !ok {
		return "", fmt.Errorf("clientadapter: unexpected create pane response: %s", data)
	}
	c.paneID = id
	return c.paneID, nil
}

// SubscribeInput subscribes to the current pane's input channel. Do not
// call this on a Client that also calls ReadInput/roundTrip: once
// subscribed, the broker can push an unsolicited +MESSAGE line onto this
// same connection between roundTrip calls, corrupting request/response
// framing for the rest of the connection's life. Use RPOP polling
// (ReadInput) instead for a connection that also issues other commands.
func (c *Client) SubscribeInput() error {
	return c.subscribe(c.inputChannel())
}

// SubscribeOutput subscribes to the current pane's output channel. Same
// framing hazard as SubscribeInput applies: only safe on a connection
// dedicated to reading +MESSAGE pushes, never one also driving roundTrip.
func (c *Client) SubscribeOutput() error {
	return c.subscribe(c.outputChannel())
}

func (c *Client) subscribe(channel string) error {
	if err := c.requireAttached(); err != nil {
		return err
	}
	resp, err := c.roundTrip("SUBSCRIBE " + channel)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "+OK") {
		return fmt.Errorf("clientadapter: subscribe %s failed: %s", channel, resp)
	}
	return nil
}

// PublishOutput publishes data to the current pane's output channel
// (fire-and-forget, per the prototype: the response is read to keep the
// connection's line framing intact but its content is ignored).
func (c *Client) PublishOutput(data string) error {
	return c.publish(c.outputChannel(), data)
}

// PublishToChannel publishes data to an arbitrary channel.
func (c *Client) PublishToChannel(channel, data string) error {
	return c.publish(channel, data)
}

func (c *Client) publish(channel, data string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	_, err := c.roundTrip("PUBLISH " + channel + " " + data)
	return err
}

// ReadInput polls the current pane's input channel via RPOP, returning
// (payload, true) if one was waiting, ("", false) if the queue was empty.
func (c *Client) ReadInput() (string, bool, error) {
	return c.rpop(c.inputChannel())
}

// ReadOutput polls the current pane's output channel via RPOP.
func (c *Client) ReadOutput() (string, bool, error) {
	return c.rpop(c.outputChannel())
}

// ReadFromChannel polls an arbitrary pane's named channel via RPOP, for
// monitoring sessions other than the one this client created.
func (c *Client) ReadFromChannel(sessionID, paneID, channelType string) (string, bool, error) {
	channel := fmt.Sprintf("session-%s/pane-%s/%s", sessionID, paneID, channelType)
	return c.rpop(channel)
}

func (c *Client) rpop(channel string) (string, bool, error) {
	if err := c.requireAuth(); err != nil {
		return "", false, err
	}
	resp, err := c.roundTrip("RPOP " + channel)
	if err != nil {
		return "", false, err
	}
	if strings.HasPrefix(resp, "-ERR") {
		return "", false, nil
	}
	payload, ok := unquote(resp)
	if !ok {
		return "", false, fmt.Errorf("clientadapter: unexpected RPOP response: %s", resp)
	}
	return payload, true, nil
}

// InjectCommand sends INJECT to a specific session/pane's input channel —
// used by external automation clients to drive a terminal they don't own.
func (c *Client) InjectCommand(sessionID, paneID, command string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	channel := fmt.Sprintf("session-%s/pane-%s/input", sessionID, paneID)
	resp, err := c.roundTrip("INJECT " + channel + " " + command)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "+OK") {
		return fmt.Errorf("clientadapter: inject failed: %s", resp)
	}
	return nil
}

func (c *Client) inputChannel() string {
	return fmt.Sprintf("session-%s/pane-%s/input", c.sessionID, c.paneID)
}

func (c *Client) outputChannel() string {
	return fmt.Sprintf("session-%s/pane-%s/output", c.sessionID, c.paneID)
}

func (c *Client) requireAuth() error {
	if !c.authed {
		return fmt.Errorf("clientadapter: not authenticated")
	}
	return nil
}

func (c *Client) requireAttached() error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	if c.sessionID == "" || c.paneID == "" {
		return fmt.Errorf("clientadapter: no session/pane created")
	}
	return nil
}

// roundTrip writes one command line and reads back exactly one response
// line. Command writes and response reads are serialized by mu so a
// Client is safe to call from a single caller goroutine at a time (the
// headless runtime's cooperative loop) — it is not meant for concurrent
// callers racing on the same connection.
func (c *Client) roundTrip(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.nc.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("clientadapter: write command: %w", err)
	}
	line, err := wireproto.ReadLine(c.r)
	if err != nil {
		return "", fmt.Errorf("clientadapter: read response: %w", err)
	}
	return line, nil
}

func unquote(s string) (string, bool) {
	v, err := strconv.Unquote(s)
	if err != nil || len(s) < 2 || s[0] != '"' {
		return "", false
	}
	return v, true
}
