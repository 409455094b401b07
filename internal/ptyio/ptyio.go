// Package ptyio owns the pseudo-terminal and child shell process for a
// pane: spawning, blocking reads, writes, resizing, and teardown.
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/termbroker/core/internal/termlog"
)

var log = termlog.New("ptyio")

var knownShellNames = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true,
	"ksh": true, "fish": true, "tcsh": true, "csh": true,
}

var knownShellPaths = []string{
	"/bin/sh", "/bin/bash", "/bin/zsh", "/bin/dash", "/bin/ksh",
	"/bin/fish", "/bin/tcsh", "/bin/csh",
	"/usr/bin/sh", "/usr/bin/bash", "/usr/bin/zsh", "/usr/bin/dash",
	"/usr/bin/ksh", "/usr/bin/fish", "/usr/bin/tcsh", "/usr/bin/csh",
}

// IsValidShell reports whether shell is safe to exec as a pane's shell: an
// absolute path to an existing regular file that is either listed in /etc/shells,
// one of a small hard-coded allow-list of common shells, or whose base
// name matches a known shell name.
func IsValidShell(shell string) bool {
	if !filepath.IsAbs(shell) {
		return false
	}
	info, err := os.Stat(shell)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	if shellsContent, err := os.ReadFile("/etc/shells"); err == nil {
		for _, line := range splitLines(string(shellsContent)) {
			if line == shell {
				return true
			}
		}
	}

	for _, known := range knownShellPaths {
		if shell == known {
			return true
		}
	}

	return knownShellNames[filepath.Base(shell)]
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := trimSpace(s[start:i])
			if line != "" && line[0] != '#' {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	if start < len(s) {
		line := trimSpace(s[start:])
		if line != "" && line[0] != '#' {
			lines = append(lines, line)
		}
	}
	return lines
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// DefaultShell resolves the shell to spawn: $SHELL if set and valid,
// otherwise the first of a short list of common shells that exists on
// disk, otherwise "/bin/sh".
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" && IsValidShell(shell) {
		return shell
	}
	for _, candidate := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return "/bin/sh"
}

// Spec describes how to spawn a pane's shell process.
type Spec struct {
	Shell string   // empty means DefaultShell()
	Args  []string
	Cwd   string
	Env   []string // appended to os.Environ(); empty means inherit only
	Cols  int
	Rows  int
}

// PTY owns one spawned shell process and its pseudo-terminal master end.
type PTY struct {
	master *os.File
	cmd    *exec.Cmd

	mu     sync.Mutex
	closed bool
}

// Spawn starts spec.Shell (or the default shell) attached to a new PTY of
// the given size.
func Spawn(spec Spec) (*PTY, error) {
	shell := spec.Shell
	if shell == "" {
		shell = DefaultShell()
	} else if !IsValidShell(shell) {
		log.Warnf("unrecognized shell %q, falling back to default", shell)
		shell = DefaultShell()
	}

	cmd := exec.Command(shell, spec.Args...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("ptyio: spawn %s: %w", shell, err)
	}

	return &PTY{master: master, cmd: cmd}, nil
}

// Read reads available PTY output into buf. It blocks until at least one
// byte is available, an error occurs, or the child exits (io.EOF).
func (p *PTY) Read(buf []byte) (int, error) {
	return p.master.Read(buf)
}

// Write sends data to the PTY, which the child's shell reads as terminal
// input.
func (p *PTY) Write(data []byte) (int, error) {
	return p.master.Write(data)
}

// Resize updates the PTY window size, delivering SIGWINCH to the
// foreground process group the way a real terminal resize does.
func (p *PTY) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("ptyio: invalid size %dx%d", cols, rows)
	}
	return pty.Setsize(p.master, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Signal delivers sig to the child process.
func (p *PTY) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.New("ptyio: process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Kill terminates the child process immediately.
func (p *PTY) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGKILL)
}

// Wait blocks until the child process exits and returns its exit code.
func (p *PTY) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Close closes the PTY master end. Safe to call more than once.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.master.Close()
}

// Pid returns the child process's PID, or 0 if it never started.
func (p *PTY) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

var _ io.ReadWriteCloser = (*PTY)(nil)
