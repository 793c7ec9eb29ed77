// Package session tracks one analysis run: its catalogue, its per-source
// error log, its status and its counters.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/metrics"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
)

// SourceError is one failed unit or source.
type SourceError struct {
	Locator string    `json:"locator"`
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Session is one running or finished analysis.
type Session struct {
	ID        string
	Kind      parser.SourceKind
	Reference string

	catalog *catalog.Catalog
	metrics *metrics.Collector
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.RWMutex
	status     Status
	errs       []SourceError
	visited    int
	startedAt  time.Time
	finishedAt time.Time
}

// New creates a pending session around cat. A nil catalog gets an empty one.
func New(kind parser.SourceKind, reference string, cat *catalog.Catalog) *Session {
	if cat == nil {
		cat = catalog.New()
	}
	return &Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		Reference: reference,
		catalog:   cat,
		metrics:   metrics.New(),
		done:      make(chan struct{}),
		status:    StatusPending,
		startedAt: time.Now().UTC(),
	}
}

// Catalog returns the live catalogue. Callers outside the merge loop should
// read it through Snapshot.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// Metrics returns the session's counters.
func (s *Session) Metrics() *metrics.Collector { return s.metrics }

// SetCancel installs the function that stops the run.
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Cancel stops the run if it is still going.
func (s *Session) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once Finish has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Record appends a source error. It satisfies extract.ErrorSink.
func (s *Session) Record(locator string, err error) {
	if err == nil {
		return
	}
	se := SourceError{
		Locator: locator,
		Kind:    errors.KindOf(err).String(),
		Message: err.Error(),
		Time:    time.Now().UTC(),
	}
	if r := errors.ReasonOf(err); r != errors.ReasonNone {
		se.Reason = r.String()
	}
	s.mu.Lock()
	s.errs = append(s.errs, se)
	s.mu.Unlock()
}

// MarkVisited counts one fetched unit.
func (s *Session) MarkVisited() {
	s.mu.Lock()
	s.visited++
	s.mu.Unlock()
}

// Finish settles the status: complete when nothing failed, partial otherwise.
// Calling it twice is a no-op.
func (s *Session) Finish() {
	s.mu.Lock()
	if s.status != StatusPending {
		s.mu.Unlock()
		return
	}
	if len(s.errs) == 0 {
		s.status = StatusComplete
	} else {
		s.status = StatusPartial
	}
	s.finishedAt = time.Now().UTC()
	s.mu.Unlock()
	close(s.done)
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Errors returns a copy of the error log.
func (s *Session) Errors() []SourceError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SourceError(nil), s.errs...)
}

// Snapshot is the serialisable view of a session.
type Snapshot struct {
	ID         string                 `json:"id"`
	Kind       parser.SourceKind      `json:"kind"`
	Reference  string                 `json:"reference"`
	Status     Status                 `json:"status"`
	Endpoints  []catalog.Endpoint     `json:"endpoints"`
	Errors     []SourceError          `json:"errors"`
	Visited    int                    `json:"visited"`
	Stats      map[string]interface{} `json:"stats,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// Snapshot returns a deep copy of the session's current state. Endpoints
// come back sorted by path then method.
func (s *Session) Snapshot() Snapshot {
	endpoints := s.catalog.Snapshot()
	stats := s.metrics.Snapshot().Summary()

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:        s.ID,
		Kind:      s.Kind,
		Reference: s.Reference,
		Status:    s.status,
		Endpoints: endpoints,
		Errors:    append([]SourceError{}, s.errs...),
		Visited:   s.visited,
		Stats:     stats,
		StartedAt: s.startedAt,
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		snap.FinishedAt = &t
	}
	if snap.Endpoints == nil {
		snap.Endpoints = []catalog.Endpoint{}
	}
	return snap
}

// Clone returns a deep copy of the snapshot.
func (sn Snapshot) Clone() Snapshot {
	out := sn
	out.Endpoints = make([]catalog.Endpoint, len(sn.Endpoints))
	for i, ep := range sn.Endpoints {
		out.Endpoints[i] = ep.Clone()
	}
	out.Errors = append([]SourceError{}, sn.Errors...)
	if sn.Stats != nil {
		out.Stats = make(map[string]interface{}, len(sn.Stats))
		for k, v := range sn.Stats {
			out.Stats[k] = v
		}
	}
	if sn.FinishedAt != nil {
		t := *sn.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Marshal encodes the snapshot for a store.
func (sn Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(sn)
}

// UnmarshalSnapshot decodes a stored snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var sn Snapshot
	if err := json.Unmarshal(data, &sn); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return sn, nil
}
