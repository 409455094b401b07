package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateTokenLengthAndAlphabet(t *testing.T) {
	tok, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(tok) != tokenLength {
		t.Fatalf("len = %d, want %d", len(tok), tokenLength)
	}
	for _, c := range tok {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			t.Fatalf("token %q contains non-base62 character %q", tok, c)
		}
	}
}

func TestLoadGeneratesAndPersistsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "token")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Token()) != tokenLength {
		t.Fatalf("generated token length = %d", len(s.Token()))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected token file to be created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadPrefersExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("existing-token-value"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Token() != "existing-token-value" {
		t.Fatalf("Token() = %q, want existing value", s.Token())
	}
}

func TestLoadPrefersEnvVarOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	os.WriteFile(path, []byte("file-token"), 0600)

	t.Setenv(EnvVar, "env-token")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Token() != "env-token" {
		t.Fatalf("Token() = %q, want env-token", s.Token())
	}
	if s.Path() != "" {
		t.Fatalf("expected env-sourced token to report no backing path")
	}
}

func TestWatchRotationReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("first-token"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer s.Close()

	changed := make(chan string, 1)
	if err := s.WatchRotation(func(newToken string) { changed <- newToken }); err != nil {
		t.Fatalf("WatchRotation: %v", err)
	}

	if err := os.WriteFile(path, []byte("second-token"), 0600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case got := <-changed:
		if got != "second-token" {
			t.Fatalf("reloaded token = %q, want second-token", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for rotation callback")
	}
	if s.Token() != "second-token" {
		t.Fatalf("Token() after rotation = %q", s.Token())
	}
}
