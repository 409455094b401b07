package ptyio

import (
	"bufio"
	"os"
	"strings"
	"testing"
	"time"
)

func TestIsValidShellRejectsRelativePath(t *testing.T) {
	if IsValidShell("bash") {
		t.Fatalf("relative path should be rejected")
	}
}

func TestIsValidShellRejectsNonexistentPath(t *testing.T) {
	if IsValidShell("/not/a/real/shell/binary") {
		t.Fatalf("nonexistent path should be rejected")
	}
}

func TestIsValidShellAcceptsKnownPath(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not present in this environment")
	}
	if !IsValidShell("/bin/sh") {
		t.Fatalf("/bin/sh should be accepted")
	}
}

func TestSpawnFallsBackToDefaultShellOnUnknownShell(t *testing.T) {
	if !IsValidShell(DefaultShell()) {
		t.Skip("no valid default shell in this environment")
	}
	p, err := Spawn(Spec{Shell: "/tmp/definitely-not-a-shell-binary"})
	if err != nil {
		t.Fatalf("expected Spawn to fall back to the default shell, got error: %v", err)
	}
	defer p.Close()
	defer p.Kill()
}

func TestSpawnEchoesInput(t *testing.T) {
	if !IsValidShell("/bin/sh") {
		t.Skip("/bin/sh not available")
	}
	p, err := Spawn(Spec{Shell: "/bin/sh", Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()
	defer p.Kill()

	if _, err := p.Write([]byte("echo hello-ptyio\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	done := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(p)
		var sb strings.Builder
		for scanner.Scan() {
			sb.WriteString(scanner.Text())
			sb.WriteString("\n")
			if strings.Contains(sb.String(), "hello-ptyio") {
				break
			}
		}
		done <- sb.String()
	}()

	select {
	case out := <-done:
		if !strings.Contains(out, "hello-ptyio") {
			t.Fatalf("output = %q, want it to contain the echoed text", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for PTY output")
	}
}

func TestResizeRejectsZeroDimensions(t *testing.T) {
	if !IsValidShell("/bin/sh") {
		t.Skip("/bin/sh not available")
	}
	p, err := Spawn(Spec{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()
	defer p.Kill()

	if err := p.Resize(0, 0); err == nil {
		t.Fatalf("expected Resize to reject zero dimensions")
	}
}
