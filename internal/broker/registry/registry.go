// Package registry implements the Session/Pane Registry: creation,
// listing, and teardown of sessions and panes, and the memorable-name
// generator used when a caller doesn't supply an explicit name.
package registry

import (
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyExists is returned by CreateSession/CreatePane when an
// explicit name collides with an existing entry.
type ErrAlreadyExists struct{ Kind, Name string }

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s '%s' already exists", e.Kind, e.Name)
}

// ErrNotFound is returned when a referenced session or pane doesn't exist.
type ErrNotFound struct{ Kind, Name string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

// Pane is one pane within a session. Runtime is an opaque handle set only
// through AttachRuntime (nil for an unattached pane); the registry never
// inspects it beyond calling Close when the pane goes away.
type Pane struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Runtime   interface{ Close() error }
}

// Session is a named collection of panes.
type Session struct {
	ID        string
	CreatedAt time.Time
	Panes     []string // pane IDs, in creation order
}

// SessionInfo is the read-model LIST-adjacent callers use when a bare ID
// isn't enough: creation time and how many panes are currently attached.
// Nothing on the wire exposes this today (spec.md's LIST SESSIONS grammar
// is a bare ID list and stays that way), but a future --json client flag
// can be built directly on it without touching the registry.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	PaneCount int
}

// PaneInfo is SessionInfo's pane-level counterpart: creation time plus
// liveness (whether a runtime is currently attached).
type PaneInfo struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Attached  bool
}

// InputChannel returns this pane's canonical input channel name.
func (p Pane) InputChannel() string {
	return fmt.Sprintf("session-%s/pane-%s/input", p.SessionID, p.ID)
}

// OutputChannel returns this pane's canonical output channel name.
func (p Pane) OutputChannel() string {
	return fmt.Sprintf("session-%s/pane-%s/output", p.SessionID, p.ID)
}

// Registry holds all live sessions and panes.
type Registry struct {
	mu sync.RWMutex

	sessions map[string]*Session
	panes    map[string]map[string]*Pane // sessionID -> paneID -> Pane
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		panes:    make(map[string]map[string]*Pane),
	}
}

// CreateSession creates a session, using name if supplied and available,
// otherwise generating a memorable name. Returns ErrAlreadyExists if an
// explicit name collides.
func (r *Registry) CreateSession(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		if _, exists := r.sessions[name]; exists {
			return nil, &ErrAlreadyExists{Kind: "session", Name: name}
		}
	} else {
		name = r.generateUniqueSessionName()
	}

	s := &Session{ID: name, CreatedAt: time.Now()}
	r.sessions[name] = s
	r.panes[name] = make(map[string]*Pane)
	return s, nil
}

// CreatePane creates a pane within sessionID, analogous to CreateSession.
// Returns ErrNotFound if the session doesn't exist, ErrAlreadyExists if an
// explicit pane name collides.
func (r *Registry) CreatePane(sessionID, name string) (*Pane, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, &ErrNotFound{Kind: "session", Name: sessionID}
	}

	panes := r.panes[sessionID]
	if name != "" {
		if _, exists := panes[name]; exists {
			return nil, &ErrAlreadyExists{Kind: "pane", Name: name}
		}
	} else {
		name = r.generateUniquePaneName(panes)
	}

	p := &Pane{ID: name, SessionID: sessionID, CreatedAt: time.Now()}
	panes[name] = p
	session.Panes = append(session.Panes, name)
	return p, nil
}

// ListSessions returns all session IDs, in no particular order.
func (r *Registry) ListSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// ListPanes returns the pane IDs within sessionID, in creation order, or
// ErrNotFound.
func (r *Registry) ListPanes(sessionID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, &ErrNotFound{Kind: "session", Name: sessionID}
	}
	out := make([]string, len(session.Panes))
	copy(out, session.Panes)
	return out, nil
}

// ListSessionInfos returns the SessionInfo read-model for every live
// session, in no particular order.
func (r *Registry) ListSessionInfos() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			PaneCount: len(s.Panes),
		})
	}
	return out
}

// ListPaneInfos returns the PaneInfo read-model for every pane in
// sessionID, in creation order, or ErrNotFound.
func (r *Registry) ListPaneInfos(sessionID string) ([]PaneInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, &ErrNotFound{Kind: "session", Name: sessionID}
	}
	panes := r.panes[sessionID]
	out := make([]PaneInfo, 0, len(session.Panes))
	for _, id := range session.Panes {
		p, ok := panes[id]
		if !ok {
			continue
		}
		out = append(out, PaneInfo{
			ID:        p.ID,
			SessionID: p.SessionID,
			CreatedAt: p.CreatedAt,
			Attached:  p.Runtime != nil,
		})
	}
	return out, nil
}

// GetPane returns the pane, or ErrNotFound.
func (r *Registry) GetPane(sessionID, paneID string) (*Pane, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	panes, ok := r.panes[sessionID]
	if !ok {
		return nil, &ErrNotFound{Kind: "session", Name: sessionID}
	}
	p, ok := panes[paneID]
	if !ok {
		return nil, &ErrNotFound{Kind: "pane", Name: paneID}
	}
	return p, nil
}

// ClosePane removes paneID from sessionID, closing its attached runtime if
// any, and reports the pane's two canonical channel names so the caller
// (internal/broker/conn) can destroy them. Returns ErrNotFound if absent.
func (r *Registry) ClosePane(sessionID, paneID string) (inputChannel, outputChannel string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return "", "", &ErrNotFound{Kind: "session", Name: sessionID}
	}
	panes := r.panes[sessionID]
	p, ok := panes[paneID]
	if !ok {
		return "", "", &ErrNotFound{Kind: "pane", Name: paneID}
	}

	if p.Runtime != nil {
		_ = p.Runtime.Close()
	}
	delete(panes, paneID)
	session.Panes = removeString(session.Panes, paneID)

	return p.InputChannel(), p.OutputChannel(), nil
}

// CloseSession removes sessionID and all its panes, closing any attached
// runtimes, and reports every pane's canonical channel names for the
// caller to destroy.
func (r *Registry) CloseSession(sessionID string) (channels []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, &ErrNotFound{Kind: "session", Name: sessionID}
	}

	panes := r.panes[sessionID]
	for _, paneID := range session.Panes {
		if p, ok := panes[paneID]; ok {
			if p.Runtime != nil {
				_ = p.Runtime.Close()
			}
			channels = append(channels, p.InputChannel(), p.OutputChannel())
		}
	}

	delete(r.panes, sessionID)
	delete(r.sessions, sessionID)
	return channels, nil
}

// DestroyAll closes every attached runtime and removes every session and
// pane, as if the registry had just been constructed. For broker shutdown,
// where all state must be freed.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, panes := range r.panes {
		for _, p := range panes {
			if p.Runtime != nil {
				_ = p.Runtime.Close()
			}
		}
	}
	r.sessions = make(map[string]*Session)
	r.panes = make(map[string]map[string]*Pane)
}

// AttachRuntime records the running runtime handle for a pane so ClosePane
// closes it, without the registry needing to know what it is.
func (r *Registry) AttachRuntime(sessionID, paneID string, runtime interface{ Close() error }) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	panes, ok := r.panes[sessionID]
	if !ok {
		return &ErrNotFound{Kind: "session", Name: sessionID}
	}
	p, ok := panes[paneID]
	if !ok {
		return &ErrNotFound{Kind: "pane", Name: paneID}
	}
	p.Runtime = runtime
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func (r *Registry) generateUniqueSessionName() string {
	name := generateMemorableName(false)
	for attempt := 0; ; attempt++ {
		if _, exists := r.sessions[name]; !exists {
			return name
		}
		name = generateMemorableName(true)
	}
}

func (r *Registry) generateUniquePaneName(existing map[string]*Pane) string {
	name := generateMemorableName(false)
	for attempt := 0; ; attempt++ {
		if _, exists := existing[name]; !exists {
			return name
		}
		name = generateMemorableName(true)
	}
}
