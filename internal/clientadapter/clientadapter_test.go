package clientadapter

import (
	"path/filepath"
	"testing"

	"github.com/termbroker/core/internal/broker"
	"github.com/termbroker/core/internal/tokenstore"
)

func newTestBroker(t *testing.T) (addr string, token string) {
	t.Helper()
	dir := t.TempDir()
	store, err := tokenstore.Load(filepath.Join(dir, "token"))
	if err != nil {
		t.Fatalf("tokenstore.Load: %v", err)
	}
	b := broker.New(broker.Config{Addr: "127.0.0.1:0", Token: store})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	return b.Addr().String(), store.Token()
}

func TestAuthenticateCreateSessionAndPane(t *testing.T) {
	addr, token := newTestBroker(t)
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	sid, err := c.CreateSession("mysession")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sid != "mysession" {
		t.Fatalf("sid = %q", sid)
	}
	if c.PaneID() == "" {
		t.Fatalf("expected first pane to be created alongside the session")
	}

	pid, err := c.CreatePane("second")
	if err != nil {
		t.Fatalf("CreatePane: %v", err)
	}
	if pid != "second" {
		t.Fatalf("pid = %q", pid)
	}
}

func TestAuthenticateWithBadTokenFails(t *testing.T) {
	addr, _ := newTestBroker(t)
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Authenticate("wrong"); err == nil {
		t.Fatalf("expected authentication to fail")
	}
	if c.IsAuthenticated() {
		t.Fatalf("expected IsAuthenticated() to be false")
	}
}

func TestPublishOutputThenReadOutputFromSecondClient(t *testing.T) {
	addr, token := newTestBroker(t)

	producer, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer producer.Close()
	if err := producer.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := producer.CreateSession("s1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := producer.PublishOutput("hello from pty"); err != nil {
		t.Fatalf("PublishOutput: %v", err)
	}

	consumer, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer consumer.Close()
	if err := consumer.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	payload, ok, err := consumer.ReadFromChannel(producer.SessionID(), producer.PaneID(), "output")
	if err != nil {
		t.Fatalf("ReadFromChannel: %v", err)
	}
	if !ok || payload != "hello from pty" {
		t.Fatalf("payload = %q, ok=%v", payload, ok)
	}
}

func TestReadInputReturnsFalseWhenEmpty(t *testing.T) {
	addr, token := newTestBroker(t)
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if err := c.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := c.CreateSession("s1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, ok, err := c.ReadInput()
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if ok {
		t.Fatalf("expected empty queue")
	}
}

func TestInjectCommandDeliversToTargetPaneInput(t *testing.T) {
	addr, token := newTestBroker(t)

	owner, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer owner.Close()
	if err := owner.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := owner.CreateSession("s1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	injector, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer injector.Close()
	if err := injector.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := injector.InjectCommand(owner.SessionID(), owner.PaneID(), "ls -la"); err != nil {
		t.Fatalf("InjectCommand: %v", err)
	}

	payload, ok, err := owner.ReadInput()
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if !ok || payload != "ls -la\n" {
		t.Fatalf("payload = %q, ok=%v", payload, ok)
	}
}
