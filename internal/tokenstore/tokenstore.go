// Package tokenstore manages the broker's shared-secret auth token: load
// priority (env var, then file, then generate), atomic on-disk
// persistence, and a rotation watch so an operator can replace the token
// file without restarting the broker.
package tokenstore

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/termbroker/core/internal/termlog"
)

// EnvVar is the environment variable that overrides the token file,
// mirroring the prototype's TITI_TOKEN.
const EnvVar = "TERMD_TOKEN"

const tokenLength = 64

var base62Alphabet = []byte("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// DefaultPath returns ~/.termd/token, or an error if the home directory
// cannot be resolved.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tokenstore: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".termd", "token"), nil
}

// GenerateToken returns a fresh 64-character base62 token using
// crypto/rand.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("tokenstore: generate token: %w", err)
	}
	out := make([]byte, tokenLength)
	for i, b := range buf {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out), nil
}

// Store holds the current token value and, optionally, a filesystem watch
// that reloads it on external rotation.
type Store struct {
	mu      sync.RWMutex
	token   string
	path    string // empty if the token came from EnvVar and has no file
	log     *termlog.Logger
	watcher *fsnotify.Watcher
}

// Load resolves the token using the documented priority: TERMD_TOKEN env
// var, then the token file at path, generating and atomically persisting
// a new one if neither exists.
func Load(path string) (*Store, error) {
	s := &Store{path: path, log: termlog.New("tokenstore")}

	if env := os.Getenv(EnvVar); env != "" {
		s.token = env
		s.path = "" // env-sourced tokens are not watched for file rotation
		return s, nil
	}

	if data, err := os.ReadFile(path); err == nil {
		s.token = string(data)
		return s, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("tokenstore: read %s: %w", path, err)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	if err := s.persist(token); err != nil {
		return nil, err
	}
	s.token = token
	return s, nil
}

// Token returns the current token value.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Path returns the backing file path, or "" if the token came from the
// environment and has no file.
func (s *Store) Path() string {
	return s.path
}

// persist writes token to s.path atomically: write to a temp file in the
// same directory, fsync it, then rename over the destination, with 0600
// permissions throughout.
func (s *Store) persist(token string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("tokenstore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: chmod temp file: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("tokenstore: rename into place: %w", err)
	}
	return nil
}

// WatchRotation starts watching the token file's directory for writes and
// reloads the in-memory token when the file changes, calling onChange with
// the new value. It is a no-op if the token was sourced from the
// environment. The watch runs until the Store's Close is called.
func (s *Store) WatchRotation(onChange func(newToken string)) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tokenstore: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("tokenstore: watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(s.path)
				if err != nil {
					s.log.Warnf("rotation reload failed: %v", err)
					continue
				}
				s.mu.Lock()
				s.token = string(data)
				s.mu.Unlock()
				s.log.Infof("token rotated from %s", s.path)
				if onChange != nil {
					onChange(string(data))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warnf("watch error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the rotation watch, if any.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
