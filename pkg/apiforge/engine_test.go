package apiforge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/apiforge/internal/artifact"
	"github.com/PentesterFlow/apiforge/internal/auth"
	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/categorize"
	apperrors "github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.MaxPages = 10
	cfg.Timeout = 2 * time.Second
	cfg.ProbeSpecs = false
	cfg.ReadHints = false
	cfg.RateLimit = RateLimitConfig{RequestsPerSecond: 1000, Burst: 100}
	return cfg
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig()), WithLogger(logger.Nop())}, opts...)
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func findEndpoint(cat *Catalogue, method, path string) (catalog.Endpoint, bool) {
	for _, ep := range cat.Endpoints {
		if ep.Method == method && ep.Path == path {
			return ep, true
		}
	}
	return catalog.Endpoint{}, false
}

func toolIDs(tools []synth.Tool) []string {
	ids := make([]string, len(tools))
	for i, tool := range tools {
		ids[i] = tool.ID
	}
	return ids
}

const loginPage = `<html><body>
<h1>Clinic portal</h1>
<form method="POST" action="/login">
  <input type="email" name="email">
  <input type="password" name="password">
  <button type="submit">Sign in</button>
</form>
</body></html>`

var clinicRepo = map[string]string{
	"routes/appointments.js": "const router = require('express').Router();\nrouter.get('/appointments/:id', show);\nrouter.post('/appointments', create);\n",
	"app.py":                 "@app.route(\"/login\", methods=[\"POST\"])\ndef login():\n    pass\n",
	"README.md":              "## GET /patients/{patientId}\nReturns one patient.\n",
	"node_modules/x/i.js":    "app.get('/ignored', x)",
}

// =============================================================================
// Web Analysis Tests
// =============================================================================

func TestEngine_LoginFormScenario(t *testing.T) {
	var mu sync.Mutex
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		apiKey = r.Header.Get("X-API-Key")
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(loginPage))
	}))
	defer srv.Close()

	e := newTestEngine(t, WithAuth(auth.Credentials{Type: auth.TypeAPIKey, APIKey: "k-123"}))
	cat, err := e.Analyze(context.Background(), SourceWeb, srv.URL, nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if cat.Status != StatusComplete {
		t.Errorf("Status = %s, want complete (errors: %+v)", cat.Status, cat.Errors)
	}
	ep, ok := findEndpoint(cat, "POST", "/login")
	if !ok {
		t.Fatalf("POST /login missing from %+v", cat.Endpoints)
	}
	if ep.Category != categorize.Authentication {
		t.Errorf("Category = %q, want %q", ep.Category, categorize.Authentication)
	}
	if len(ep.Parameters) != 2 {
		t.Fatalf("Parameters = %+v, want email and password", ep.Parameters)
	}
	for i, name := range []string{"email", "password"} {
		p := ep.Parameters[i]
		if p.Name != name || p.Type != parser.TypeString || p.Location != parser.LocationBody || !p.Required {
			t.Errorf("Parameters[%d] = %+v, want required string body %s", i, p, name)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if apiKey != "k-123" {
		t.Errorf("crawl sent X-API-Key %q, want the configured key", apiKey)
	}
}

func TestEngine_CancelIsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Timeout = 10 * time.Second
	e := newTestEngine(t)
	id, err := e.StartAnalysis(context.Background(), SourceWeb, srv.URL, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if cat, _ := e.GetCatalogue(id); cat.Status != StatusPending {
		t.Errorf("running session status = %s, want pending", cat.Status)
	}
	time.Sleep(50 * time.Millisecond)
	if err := e.Cancel(id); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cat, err := e.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if cat.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", cat.Status)
	}
	canceled := false
	for _, se := range cat.Errors {
		if se.Kind == apperrors.Canceled.String() {
			canceled = true
		}
	}
	if !canceled {
		t.Errorf("error log %+v has no canceled entry", cat.Errors)
	}
}

// =============================================================================
// Repository Analysis Tests
// =============================================================================

func TestEngine_AppointmentsScenario(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, clinicRepo)

	e := newTestEngine(t)
	cat, err := e.Analyze(context.Background(), SourceRepository, root, nil)
	if err != nil {
		t.Fatal(err)
	}

	ep, ok := findEndpoint(cat, "GET", "/appointments/{id}")
	if !ok {
		t.Fatalf("GET /appointments/{id} missing from %+v", cat.Endpoints)
	}
	if len(ep.Parameters) != 1 {
		t.Fatalf("Parameters = %+v, want exactly id", ep.Parameters)
	}
	if p := ep.Parameters[0]; p.Name != "id" || p.Location != parser.LocationPath || !p.Required {
		t.Errorf("parameter = %+v, want required path id", p)
	}
	if _, ok := findEndpoint(cat, "GET", "/ignored"); ok {
		t.Error("node_modules should not be scanned")
	}
	if _, ok := findEndpoint(cat, "GET", "/patients/{patientId}"); !ok {
		t.Error("README endpoint missing")
	}
	if cat.Visited == 0 || cat.Stats == nil {
		t.Errorf("Visited = %d, Stats = %v", cat.Visited, cat.Stats)
	}
}

func TestEngine_PipelineDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, clinicRepo)
	e := newTestEngine(t)

	var runs [][]synth.Tool
	for i := 0; i < 2; i++ {
		id, err := e.StartAnalysis(context.Background(), SourceRepository, root, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.Wait(context.Background(), id); err != nil {
			t.Fatal(err)
		}
		tools, err := e.SynthesizeTools(id)
		if err != nil {
			t.Fatal(err)
		}
		again, _ := e.SynthesizeTools(id)
		if !reflect.DeepEqual(tools, again) {
			t.Error("SynthesizeTools is not idempotent")
		}
		runs = append(runs, tools)
	}

	if len(runs[0]) == 0 {
		t.Fatal("no tools synthesized")
	}
	if !reflect.DeepEqual(toolIDs(runs[0]), toolIDs(runs[1])) {
		t.Errorf("tool ids differ between runs:\n%v\n%v", toolIDs(runs[0]), toolIDs(runs[1]))
	}
}

// =============================================================================
// Document Analysis Tests
// =============================================================================

const postmanDoc = `{
  "info": {"name": "Clinic", "schema": "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"},
  "item": [{"name": "Get patient", "request": {"method": "GET", "url": "{{baseUrl}}/patients/:patientId"}}]
}`

func TestEngine_AnalyzeDocument(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name       string
		file       string
		data       string
		wantStatus string
		wantPath   string
	}{
		{"markdown", "guide.md", "Call GET /appointments/:id to read one appointment.\n", string(StatusComplete), "/appointments/{id}"},
		{"postman collection", "clinic.postman_collection.json", postmanDoc, string(StatusComplete), "/patients/{patientId}"},
		{"unsupported binary", "scan.png", "\x89PNG\r\n\x1a\n\x00\x00\x00", string(StatusPartial), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.AnalyzeDocument(context.Background(), tt.file, []byte(tt.data), nil)
			if err != nil {
				t.Fatal(err)
			}
			cat, err := e.Wait(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if string(cat.Status) != tt.wantStatus {
				t.Errorf("Status = %s, want %s (errors %+v)", cat.Status, tt.wantStatus, cat.Errors)
			}
			if tt.wantPath != "" {
				if _, ok := findEndpoint(cat, "GET", tt.wantPath); !ok {
					t.Errorf("GET %s missing from %+v", tt.wantPath, cat.Endpoints)
				}
			} else if len(cat.Errors) == 0 || cat.Errors[0].Kind != apperrors.UnsupportedSource.String() {
				t.Errorf("errors = %+v, want unsupported_source", cat.Errors)
			}
		})
	}
}

// =============================================================================
// Session Lifecycle Tests
// =============================================================================

func TestEngine_StartAnalysisErrors(t *testing.T) {
	e := newTestEngine(t)
	bad := testConfig()
	bad.Workers = 0

	tests := []struct {
		name    string
		kind    SourceKind
		ref     string
		cfg     *Config
		kindErr apperrors.Kind
	}{
		{"unknown kind", "ftp", "ftp://x", nil, apperrors.UnsupportedSource},
		{"empty reference", SourceWeb, "  ", nil, apperrors.UnsupportedSource},
		{"invalid config", SourceWeb, "https://x.test", bad, apperrors.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.StartAnalysis(context.Background(), tt.kind, tt.ref, tt.cfg)
			if err == nil || id != "" {
				t.Fatalf("StartAnalysis() = %q, %v; want an error", id, err)
			}
			if apperrors.KindOf(err) != tt.kindErr {
				t.Errorf("kind = %v, want %v", apperrors.KindOf(err), tt.kindErr)
			}
		})
	}
}

func TestEngine_ForgetsSettledRuns(t *testing.T) {
	e := newTestEngine(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := e.AnalyzeDocument(context.Background(), "guide.md", []byte("GET /patients/{id}\n"), nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := e.Wait(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}

	e.mu.Lock()
	left := len(e.settled)
	e.mu.Unlock()
	if left != 0 {
		t.Errorf("%d finished runs still tracked", left)
	}

	// A finished session is still readable and deletable.
	cat, err := e.Wait(context.Background(), ids[0])
	if err != nil || cat.ID != ids[0] {
		t.Fatalf("Wait() after settle = %v, %v", cat, err)
	}
	if err := e.Delete(ids[0]); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestEngine_UnknownSession(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.GetCatalogue("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCatalogue() error = %v, want ErrNotFound", err)
	}
	if _, err := e.SynthesizeTools("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SynthesizeTools() error = %v, want ErrNotFound", err)
	}
	if err := e.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestEngine_PersistedSessions(t *testing.T) {
	cfg := testConfig()
	cfg.State = StateConfig{Enabled: true, Backend: BackendBolt, Path: filepath.Join(t.TempDir(), "sessions.db")}

	first, err := New(WithConfig(cfg), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	id, err := first.AnalyzeDocument(context.Background(), "guide.md", []byte("POST /orders\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Wait(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := first.StartAnalysis(context.Background(), SourceDocument, "x.md", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("StartAnalysis after Close error = %v, want ErrClosed", err)
	}

	second, err := New(WithConfig(cfg), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	cat, err := second.GetCatalogue(id)
	if err != nil {
		t.Fatalf("GetCatalogue() after reopen error = %v", err)
	}
	if cat.Status != StatusComplete {
		t.Errorf("Status = %s, want complete", cat.Status)
	}
	if _, ok := findEndpoint(cat, "POST", "/orders"); !ok {
		t.Errorf("stored catalogue lost its endpoint: %+v", cat.Endpoints)
	}

	list, err := second.Sessions()
	if err != nil || len(list) != 1 || list[0].ID != id || list[0].Live {
		t.Errorf("Sessions() = %+v, %v", list, err)
	}

	if err := second.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := second.GetCatalogue(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCatalogue() after Delete error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// Generation and Probe Tests
// =============================================================================

func TestEngine_GenerateArtifacts(t *testing.T) {
	e := newTestEngine(t)
	tools := synth.Synthesize([]catalog.Endpoint{{Method: "GET", Path: "/health"}})

	bundle, err := e.GenerateArtifacts(tools, artifact.Config{BaseURL: "https://api.test"})
	if err != nil || bundle == nil {
		t.Fatalf("GenerateArtifacts() = %v, %v", bundle, err)
	}
	if len(bundle.Files()) != 3 {
		t.Errorf("Files() = %d entries, want 3", len(bundle.Files()))
	}

	tools[0].Invocation.PathTemplate = ""
	bundle, err = e.GenerateArtifacts(tools, artifact.Config{BaseURL: "https://api.test"})
	if bundle != nil || apperrors.KindOf(err) != apperrors.GenerationInputInvalid {
		t.Errorf("GenerateArtifacts() = %v, %v; want nil and GenerationInputInvalid", bundle, err)
	}
}

func TestEngine_ProbeEndpoint(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization") + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := newTestEngine(t, WithAuth(auth.Credentials{Type: auth.TypeBearer, Token: "tok"}))
	ep := catalog.Endpoint{
		Method:     "DELETE",
		Path:       "/appointments/{id}",
		Parameters: []catalog.Parameter{{Name: "id", Type: parser.TypeString, Location: parser.LocationPath, Required: true}},
	}
	res, err := e.ProbeEndpoint(context.Background(), srv.URL, ep, map[string]interface{}{"id": "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if got := <-seen; res.Status != http.StatusNoContent || got != "Bearer tok /appointments/a1" {
		t.Errorf("probe = %d, server saw %q", res.Status, got)
	}
}
