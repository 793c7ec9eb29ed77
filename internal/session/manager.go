package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/state"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = fmt.Errorf("session %w", state.ErrNotFound)

// Summary is one line of a session listing.
type Summary struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Status    Status `json:"status"`
	Endpoints int    `json:"endpoints"`
	Errors    int    `json:"errors"`
	Live      bool   `json:"live"`
}

// Manager holds the live sessions of one engine and persists finished ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    state.Store
	log      *logger.Logger
}

// NewManager creates a manager. store may be nil, in which case sessions
// live only as long as the process.
func NewManager(store state.Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		log:      log.WithComponent("sessions"),
	}
}

// Add registers a live session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get returns the live session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Live returns every registered session.
func (m *Manager) Live() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot returns the session's state, from memory when it is live and
// from the store otherwise.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	if s, ok := m.Get(id); ok {
		return s.Snapshot(), nil
	}
	if m.store == nil {
		return Snapshot{}, ErrNotFound
	}
	data, err := m.store.Get(id)
	if err != nil {
		if err == state.ErrNotFound {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return UnmarshalSnapshot(data)
}

// Save writes the session's snapshot to the store.
func (m *Manager) Save(s *Session) error {
	if m.store == nil {
		return nil
	}
	data, err := s.Snapshot().Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	if err := m.store.Put(s.ID, data); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	m.log.WithSession(s.ID).Debugf("saved snapshot (%d bytes)", len(data))
	return nil
}

// List summarises live and stored sessions, sorted by id.
func (m *Manager) List() ([]Summary, error) {
	seen := make(map[string]bool)
	var out []Summary
	for _, s := range m.Live() {
		sn := s.Snapshot()
		out = append(out, summarize(sn, true))
		seen[sn.ID] = true
	}
	if m.store != nil {
		ids, err := m.store.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			sn, err := m.Snapshot(id)
			if err != nil {
				m.log.Warnf("skipping unreadable session %s: %v", id, err)
				continue
			}
			out = append(out, summarize(sn, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete forgets a session in memory and in the store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if live {
		s.Cancel()
	}
	if m.store == nil {
		if !live {
			return ErrNotFound
		}
		return nil
	}
	if !live {
		if _, err := m.store.Get(id); err == state.ErrNotFound {
			return ErrNotFound
		}
	}
	if err := m.store.Delete(id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Close cancels live sessions and closes the store.
func (m *Manager) Close() error {
	for _, s := range m.Live() {
		s.Cancel()
	}
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

func summarize(sn Snapshot, live bool) Summary {
	return Summary{
		ID:        sn.ID,
		Kind:      string(sn.Kind),
		Reference: sn.Reference,
		Status:    sn.Status,
		Endpoints: len(sn.Endpoints),
		Errors:    len(sn.Errors),
		Live:      live,
	}
}
