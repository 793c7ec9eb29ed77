package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	apperrors "github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/state"
)

func mention(method, path string) parser.Mention {
	return parser.Mention{
		Source:     parser.SourceWeb,
		Locator:    "https://example.test/",
		Method:     method,
		Path:       path,
		Confidence: 0.9,
	}
}

// =============================================================================
// Session Tests
// =============================================================================

func TestSession_New(t *testing.T) {
	s := New(parser.SourceWeb, "https://example.test", nil)
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", s.ID, err)
	}
	if s.Status() != StatusPending {
		t.Errorf("Status = %s, want pending", s.Status())
	}
	if s.Catalog() == nil || s.Metrics() == nil {
		t.Error("new session needs a catalog and metrics")
	}
	if New(parser.SourceWeb, "x", nil).ID == s.ID {
		t.Error("session ids must be unique")
	}
}

func TestSession_FinishStatus(t *testing.T) {
	tests := []struct {
		name  string
		errs  []error
		want  Status
		nErrs int
	}{
		{"clean run", nil, StatusComplete, 0},
		{"one failure", []error{apperrors.CategorizeHTTPStatus(404, "https://x/missing")}, StatusPartial, 1},
		{"canceled", []error{apperrors.Categorize(context.Canceled, "https://x")}, StatusPartial, 1},
		{"nil error ignored", []error{nil}, StatusComplete, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(parser.SourceWeb, "https://x", nil)
			for _, err := range tt.errs {
				s.Record("https://x/missing", err)
			}
			s.Finish()
			s.Finish()
			if s.Status() != tt.want {
				t.Errorf("Status = %s, want %s", s.Status(), tt.want)
			}
			if got := len(s.Errors()); got != tt.nErrs {
				t.Errorf("len(Errors) = %d, want %d", got, tt.nErrs)
			}
			select {
			case <-s.Done():
			default:
				t.Error("Done should be closed after Finish")
			}
		})
	}
}

func TestSession_RecordKinds(t *testing.T) {
	s := New(parser.SourceWeb, "https://x", nil)
	s.Record("https://x/a", apperrors.CategorizeHTTPStatus(503, "https://x/a"))
	s.Record("https://x", apperrors.Categorize(context.Canceled, "https://x"))

	errs := s.Errors()
	if errs[0].Kind != "source_unavailable" || errs[0].Reason == "" {
		t.Errorf("errs[0] = %+v", errs[0])
	}
	if errs[1].Kind != "canceled" {
		t.Errorf("errs[1].Kind = %s, want canceled", errs[1].Kind)
	}
}

func TestSession_SnapshotIsDeepCopy(t *testing.T) {
	s := New(parser.SourceWeb, "https://x", nil)
	s.Catalog().Merge(mention("GET", "/users/42"))
	s.MarkVisited()

	snap := s.Snapshot()
	if len(snap.Endpoints) != 1 || snap.Endpoints[0].Path != "/users/{id}" {
		t.Fatalf("endpoints = %+v", snap.Endpoints)
	}
	if snap.Visited != 1 || snap.FinishedAt != nil {
		t.Errorf("visited = %d finished = %v", snap.Visited, snap.FinishedAt)
	}

	snap.Endpoints[0].Path = "/mutated"
	clone := snap.Clone()
	clone.Endpoints[0].Method = "DELETE"

	if ep, ok := s.Catalog().Get("GET", "/users/{id}"); !ok || ep.Path != "/users/{id}" {
		t.Error("mutating a snapshot changed the live catalogue")
	}
	if snap.Endpoints[0].Method != "GET" {
		t.Error("mutating a clone changed the original snapshot")
	}
}

func TestSession_EmptySnapshot(t *testing.T) {
	snap := New(parser.SourceDocument, "notes.md", nil).Snapshot()
	if snap.Endpoints == nil || snap.Errors == nil {
		t.Error("empty snapshot should carry empty slices, not nil")
	}
}

func TestSession_Cancel(t *testing.T) {
	s := New(parser.SourceWeb, "https://x", nil)
	s.Cancel() // no cancel func yet

	ctx, cancel := context.WithCancel(context.Background())
	s.SetCancel(cancel)
	s.Cancel()
	if ctx.Err() == nil {
		t.Error("Cancel should cancel the run context")
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := state.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}

	s := New(parser.SourceRepository, "/src/clinic", catalog.New())
	s.Catalog().Merge(mention("GET", "/appointments/:id"))
	s.Record("broken.js", apperrors.NewParseError("broken.js", "parse", errors.New("bad")))
	s.Finish()

	m := NewManager(store, nil)
	m.Add(s)
	if err := m.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = state.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	m = NewManager(store, nil)
	defer m.Close()

	snap, err := m.Snapshot(s.ID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Status != StatusPartial || len(snap.Errors) != 1 {
		t.Errorf("reloaded status %s errors %d", snap.Status, len(snap.Errors))
	}
	if len(snap.Endpoints) != 1 || snap.Endpoints[0].Path != "/appointments/{id}" {
		t.Errorf("reloaded endpoints = %+v", snap.Endpoints)
	}
	if snap.FinishedAt == nil {
		t.Error("finished_at lost in round trip")
	}

	list, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Live || list[0].Endpoints != 1 {
		t.Errorf("List() = %+v", list)
	}
}

func TestManager_LiveShadowsStore(t *testing.T) {
	m := NewManager(state.NewMemoryStore(), nil)
	s := New(parser.SourceWeb, "https://x", nil)
	m.Add(s)
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}
	s.Catalog().Merge(mention("POST", "/login"))

	snap, err := m.Snapshot(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Endpoints) != 1 {
		t.Error("a live session should be read from memory, not the stale store record")
	}
	list, _ := m.List()
	if len(list) != 1 || !list[0].Live {
		t.Errorf("List() = %+v, want one live entry", list)
	}
}

func TestManager_NotFound(t *testing.T) {
	tests := []struct {
		name  string
		store state.Store
	}{
		{"no store", nil},
		{"memory store", state.NewMemoryStore()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.store, nil)
			if _, err := m.Snapshot("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Snapshot() error = %v, want ErrNotFound", err)
			}
			if err := m.Delete("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Delete() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestManager_Delete(t *testing.T) {
	m := NewManager(state.NewMemoryStore(), nil)
	s := New(parser.SourceWeb, "https://x", nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.SetCancel(cancel)
	m.Add(s)
	m.Save(s)

	if err := m.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() == nil {
		t.Error("deleting a live session should cancel it")
	}
	if _, err := m.Snapshot(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("session still readable after Delete: %v", err)
	}
}
