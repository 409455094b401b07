// Package headless implements the Headless Runtime: the cooperative loop
// that bridges a local PTY, through the VT parser and cell grid, to a
// remote broker over the Client Adapter. It is the out-of-process
// counterpart to an attached-display terminal: cmd/termrun links this
// package directly.
package headless

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/termbroker/core/internal/clientadapter"
	"github.com/termbroker/core/internal/grid"
	"github.com/termbroker/core/internal/metrics"
	"github.com/termbroker/core/internal/ptyio"
	"github.com/termbroker/core/internal/termlog"
	"github.com/termbroker/core/internal/vtparse"
)

// Config configures a Runtime.
type Config struct {
	ServerAddr  string
	Token       string
	SessionName string // empty: broker generates one
	PaneName    string // empty: broker generates one
	Cols, Rows  int

	Shell string // empty: ptyio.DefaultShell()
	Cwd   string
	Env   []string

	// Quantum is the sleep between loop iterations. Zero means 10ms, the
	// same 100Hz polling rate as the prototype.
	Quantum time.Duration
	// InputDrainLimit bounds how many RPOP calls the loop makes against
	// its input channel per quantum. Zero means 64.
	InputDrainLimit int
	// HeartbeatInterval controls how often a heartbeat line is logged.
	// Zero means 60s.
	HeartbeatInterval time.Duration

	// Metrics is optional; a nil Metrics disables counter updates.
	Metrics *metrics.Counters

	// LocalEcho, if non-nil, receives a copy of every raw PTY output
	// chunk as it is read, for cmd/termrun's --local-echo debug flag.
	// It is written to on the PTY reader goroutine, not the cooperative
	// loop, so callers must supply something safe for concurrent writes
	// from a single goroutine at a time (e.g. a raw-mode os.Stdout).
	LocalEcho io.Writer
}

func (c *Config) setDefaults() {
	if c.Cols <= 0 {
		c.Cols = 80
	}
	if c.Rows <= 0 {
		c.Rows = 24
	}
	if c.Quantum <= 0 {
		c.Quantum = 10 * time.Millisecond
	}
	if c.InputDrainLimit <= 0 {
		c.InputDrainLimit = 64
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
}

// Runtime owns one PTY, its parser and grid, and the broker connection
// publishing its output and draining its input.
type Runtime struct {
	cfg Config
	log *termlog.Logger

	client *clientadapter.Client
	pty    *ptyio.PTY
	parser *vtparse.Parser
	perf   *vtparse.GridPerformer
	grid   *grid.Grid

	ptyOutput chan []byte
	readerErr chan error
}

// New constructs a Runtime. Call Run to connect, spawn the PTY, and enter
// the event loop.
func New(cfg Config) *Runtime {
	cfg.setDefaults()
	g := grid.New(cfg.Cols, cfg.Rows)
	return &Runtime{
		cfg:       cfg,
		log:       termlog.New("headless"),
		grid:      g,
		perf:      vtparse.NewGridPerformer(g),
		parser:    vtparse.New(),
		ptyOutput: make(chan []byte, 64),
		readerErr: make(chan error, 1),
	}
}

// Grid exposes the live cell grid, mainly for tests and for a future
// in-process debug surface.
func (r *Runtime) Grid() *grid.Grid { return r.grid }

// Run connects to the broker, authenticates, creates or joins a session
// and pane, spawns the local PTY, and runs the event loop until ctx is
// canceled (the caller wires SIGINT/SIGTERM into ctx's cancellation) or a
// fatal PTY/connection error occurs.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Infof("connecting to %s", r.cfg.ServerAddr)
	client, err := clientadapter.Dial(r.cfg.ServerAddr)
	if err != nil {
		return err
	}
	r.client = client
	defer client.Close()

	if err := client.Authenticate(r.cfg.Token); err != nil {
		return fmt.Errorf("headless: %w", err)
	}
	r.log.Infof("authenticated")

	sessionID, err := client.CreateSession(r.cfg.SessionName)
	if err != nil {
		return fmt.Errorf("headless: create session: %w", err)
	}
	if r.cfg.PaneName != "" && r.cfg.PaneName != client.PaneID() {
		if _, err := client.CreatePane(r.cfg.PaneName); err != nil {
			return fmt.Errorf("headless: create pane: %w", err)
		}
	}
	r.log.Infof("session %s pane %s", sessionID, client.PaneID())

	shell := r.cfg.Shell
	if shell == "" {
		shell = ptyio.DefaultShell()
	}
	p, err := ptyio.Spawn(ptyio.Spec{
		Shell: shell,
		Cwd:   r.cfg.Cwd,
		Env:   r.cfg.Env,
		Cols:  r.cfg.Cols,
		Rows:  r.cfg.Rows,
	})
	if err != nil {
		return fmt.Errorf("headless: spawn pty: %w", err)
	}
	r.pty = p
	defer p.Close()

	go r.readPTYLoop()

	return r.loop(ctx)
}

// readPTYLoop does the PTY's only blocking read, off the cooperative
// loop's goroutine, feeding chunks into ptyOutput so the main loop's
// per-quantum drain stays non-blocking.
func (r *Runtime) readPTYLoop() {
	buf := make([]byte, 8192)
	for {
		n, err := r.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.ptyOutput <- chunk
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.PTYBytesRead.Add(uint64(n))
			}
			if r.cfg.LocalEcho != nil {
				r.cfg.LocalEcho.Write(chunk)
			}
		}
		if err != nil {
			r.readerErr <- err
			return
		}
	}
}

func (r *Runtime) loop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Quantum)
	defer ticker.Stop()

	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	var frames uint64

	for {
		select {
		case <-ctx.Done():
			r.log.Infof("shutting down: %v", ctx.Err())
			r.drainPTYOutput()
			r.publishDirty()
			return nil

		case err := <-r.readerErr:
			r.log.Errorf("pty read error, terminating: %v", err)
			return fmt.Errorf("headless: pty read: %w", err)

		case <-heartbeat.C:
			r.log.Infof("headless terminal running (frames processed: %d)", frames)

		case <-ticker.C:
			processed := r.drainPTYOutput()
			if processed {
				frames++
				r.publishDirty()
			}
			r.drainServerInput()
		}
	}
}

// drainPTYOutput consumes everything currently buffered on ptyOutput
// without blocking, feeding each chunk through the VT parser.
func (r *Runtime) drainPTYOutput() bool {
	processed := false
	for {
		select {
		case chunk := <-r.ptyOutput:
			r.parser.AdvanceBytes(r.perf, chunk)
			processed = true
		default:
			return processed
		}
	}
}

// drainServerInput pops up to InputDrainLimit pending messages from this
// pane's input channel and writes each straight to the PTY, bounding how
// much work one quantum can absorb from a burst of injected commands.
func (r *Runtime) drainServerInput() {
	for i := 0; i < r.cfg.InputDrainLimit; i++ {
		payload, ok, err := r.client.ReadInput()
		if err != nil {
			r.log.Warnf("poll input failed: %v", err)
			return
		}
		if !ok {
			return
		}
		n, err := r.pty.Write([]byte(payload))
		if err != nil {
			r.log.Warnf("write to pty failed: %v", err)
			return
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.PTYBytesWritten.Add(uint64(n))
		}
	}
}

// publishDirty converts each newly dirty line into its own UTF-8
// publication on the pane's output channel, per spec.md §4.8 step 2: a
// subscriber sees a bare `+MESSAGE session-<S>/pane-<P>/output <line>` for
// every changed line, not a batched or encoded update.
func (r *Runtime) publishDirty() {
	for _, line := range r.dirtyLines() {
		if err := r.client.PublishOutput(line); err != nil {
			r.log.Warnf("publish output failed: %v", err)
			return
		}
	}
}

// dirtyLines returns the visible-row text that changed since the last
// snapshot, oldest row first. If the dirty set has collapsed to all-dirty,
// every non-blank visible line is returned instead, per spec.md §4.8 step
// 2's "If all-dirty, publish every non-blank line."
func (r *Runtime) dirtyLines() []string {
	coords, allDirty := r.grid.DirtySnapshot()
	visible := r.grid.VisibleText()

	if allDirty {
		lines := make([]string, 0, len(visible))
		for _, line := range visible {
			if line != "" {
				lines = append(lines, line)
			}
		}
		return lines
	}

	if len(coords) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(coords))
	var rowIdx []int
	for _, c := range coords {
		row := c[1]
		if !seen[row] {
			seen[row] = true
			rowIdx = append(rowIdx, row)
		}
	}
	sort.Ints(rowIdx)

	lines := make([]string, 0, len(rowIdx))
	for _, idx := range rowIdx {
		if idx >= 0 && idx < len(visible) {
			lines = append(lines, visible[idx])
		}
	}
	return lines
}
