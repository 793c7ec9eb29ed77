// Package apiforge discovers the endpoints of a remote API from a website, a
// source repository or a document, and turns the resulting catalogue into
// callable tool definitions and a deployable tool server.
package apiforge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PentesterFlow/apiforge/internal/artifact"
	"github.com/PentesterFlow/apiforge/internal/auth"
	"github.com/PentesterFlow/apiforge/internal/browser"
	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/categorize"
	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/extract"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/probe"
	"github.com/PentesterFlow/apiforge/internal/session"
	"github.com/PentesterFlow/apiforge/internal/state"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// SourceKind names what an analysis starts from.
type SourceKind = parser.SourceKind

// Source kinds accepted by StartAnalysis.
const (
	SourceWeb        = parser.SourceWeb
	SourceRepository = parser.SourceRepository
	SourceDocument   = parser.SourceDocument
)

// Catalogue is a point-in-time copy of a session: its endpoints, error log
// and status.
type Catalogue = session.Snapshot

// Session statuses.
const (
	StatusPending  = session.StatusPending
	StatusPartial  = session.StatusPartial
	StatusComplete = session.StatusComplete
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = session.ErrNotFound

// ErrClosed is returned by StartAnalysis after Close.
var ErrClosed = fmt.Errorf("engine is closed")

// runFunc feeds one session's units to emit.
type runFunc func(ctx context.Context, emit extract.Emit, sink extract.ErrorSink) error

// Engine runs analyses and serves their catalogues. It is safe for
// concurrent use.
type Engine struct {
	config   *Config
	log      *logger.Logger
	store    state.Store
	sessions *session.Manager
	registry *parser.Registry
	parser   *parser.Parser
	renderer extract.Renderer
	browsers *browser.Pool
	auth     *auth.Provider
	prober   *probe.Prober

	mu      sync.Mutex
	closed  bool
	settled map[string]chan struct{} // closed once a run is saved
	wg      sync.WaitGroup
}

// New creates an engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config:  DefaultConfig(),
		log:     logger.Global(),
		settled: make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	e.log = e.log.WithComponent("engine")

	if e.store == nil {
		store, err := e.config.openStore()
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		e.store = store
	}

	if e.registry == nil {
		e.registry = parser.DefaultRegistry()
	}
	e.parser = parser.New(e.registry)

	provider, err := auth.NewProvider(e.config.Auth)
	if err != nil {
		return nil, fmt.Errorf("invalid auth: %w", err)
	}
	e.auth = provider

	pc := e.config.Probe
	pc.Headers = mergeHeaders(e.config.CustomHeaders, pc.Headers)
	if pc.UserAgent == "" {
		pc.UserAgent = e.config.UserAgent
	}
	e.prober = probe.New(pc, e.log)
	e.prober.SetHeaderSource(e.authHeaders)

	if e.config.Render && e.renderer == nil {
		e.browsers = browser.NewPool(e.config.Browser)
		e.renderer = e.browsers
	}

	e.sessions = session.NewManager(e.store, e.log)
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// StartAnalysis begins extracting ref in the background and returns the new
// session's id at once. cfg overrides the engine configuration for this run
// and may be nil. ctx bounds the whole run; canceling it ends the session
// as partial.
//
// Only an unknown kind, an empty reference or an invalid cfg fail here.
// Everything that goes wrong while extracting lands in the session's error
// log instead.
func (e *Engine) StartAnalysis(ctx context.Context, kind SourceKind, ref string, cfg *Config) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.Unsupported(ref, "empty source reference")
	}
	cfg, err := e.runConfig(cfg)
	if err != nil {
		return "", err
	}

	var fn func(ex extract.Extractor) runFunc
	switch kind {
	case SourceWeb, SourceRepository, SourceDocument:
		fn = func(ex extract.Extractor) runFunc {
			return func(ctx context.Context, emit extract.Emit, sink extract.ErrorSink) error {
				return ex.Extract(ctx, ref, emit, sink)
			}
		}
	default:
		return "", errors.Unsupported(ref, fmt.Sprintf("unknown source kind %q", kind))
	}

	return e.start(ctx, kind, ref, cfg, fn)
}

// AnalyzeDocument starts a document analysis of data, which was uploaded
// under name. The name picks the format when the content does not.
func (e *Engine) AnalyzeDocument(ctx context.Context, name string, data []byte, cfg *Config) (string, error) {
	if len(data) == 0 {
		return "", errors.Unsupported(name, "empty document")
	}
	cfg, err := e.runConfig(cfg)
	if err != nil {
		return "", err
	}
	fn := func(ex extract.Extractor) runFunc {
		doc := ex.(*extract.DocumentExtractor)
		return func(ctx context.Context, emit extract.Emit, sink extract.ErrorSink) error {
			return doc.ExtractBytes(ctx, name, data, emit, sink)
		}
	}
	return e.start(ctx, SourceDocument, name, cfg, fn)
}

// Analyze runs an analysis to the end and returns its catalogue.
func (e *Engine) Analyze(ctx context.Context, kind SourceKind, ref string, cfg *Config) (*Catalogue, error) {
	id, err := e.StartAnalysis(ctx, kind, ref, cfg)
	if err != nil {
		return nil, err
	}
	return e.Wait(context.WithoutCancel(ctx), id)
}

func (e *Engine) runConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return e.config.Clone(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg.Clone(), nil
}

func (e *Engine) start(ctx context.Context, kind SourceKind, ref string, cfg *Config, fn func(extract.Extractor) runFunc) (string, error) {
	log := e.log
	cat := catalog.New(
		catalog.WithClassifier(categorize.New()),
		catalog.WithLogger(log),
	)
	s := session.New(kind, ref, cat)
	log = log.WithSession(s.ID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.wg.Add(1)
	settled := make(chan struct{})
	e.settled[s.ID] = settled
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.SetCancel(cancel)
	e.sessions.Add(s)

	go func() {
		defer e.wg.Done()
		defer func() {
			// Later waiters find the saved session in the manager.
			e.mu.Lock()
			delete(e.settled, s.ID)
			e.mu.Unlock()
			close(settled)
		}()
		defer cancel()
		e.run(runCtx, s, cfg, fn, log)
	}()
	return s.ID, nil
}

// run drives one session. Workers parse units inside emit and hand the
// mentions to a single merge goroutine, which owns the catalogue.
func (e *Engine) run(ctx context.Context, s *session.Session, cfg *Config, fn func(extract.Extractor) runFunc, log *logger.Logger) {
	log.Infof("analysis of %s %s started", s.Kind, s.Reference)

	headers := e.runHeaders(ctx, s, cfg)
	ex := e.extractor(s, cfg, headers, log)

	mentions := make(chan []parser.Mention, cfg.Workers*2)
	merged := make(chan struct{})
	go func() {
		defer close(merged)
		e.merge(s, mentions, log)
	}()

	emit := func(u parser.Unit) {
		s.MarkVisited()
		found, err := e.parser.Parse(u)
		if err != nil {
			if errors.Is(err, parser.ErrNoPatterns) {
				s.Metrics().RecordSkipped()
				log.WithLocator(u.Locator).Debugf("skipped: %v", err)
				return
			}
			s.Metrics().RecordFailure(errors.KindOf(err).String())
			s.Record(u.Locator, err)
			return
		}
		if len(found) > 0 {
			s.Metrics().RecordMentions(len(found))
			mentions <- found
		}
	}

	if err := fn(ex)(ctx, emit, s); err != nil {
		s.Record(s.Reference, err)
	}
	close(mentions)
	<-merged

	if err := ctx.Err(); err != nil {
		recordStop(s, err)
	}
	s.Finish()

	if err := e.sessions.Save(s); err != nil {
		log.WithError(err).Warn("failed to persist session")
	}
	log.StatsEvent(s.Metrics().Snapshot().Summary())
	log.Infof("analysis finished %s: %d endpoints, %d errors", s.Status(), s.Catalog().Len(), len(s.Errors()))
}

// recordStop makes sure a stopped run says why in its error log.
func recordStop(s *session.Session, cause error) {
	err := errors.Categorize(cause, s.Reference)
	if errors.Is(cause, context.Canceled) {
		err = errors.NewCanceledError(s.Reference, "analyze")
	}
	want := err.Kind.String()
	for _, se := range s.Errors() {
		if se.Kind == want {
			return
		}
	}
	s.Record(s.Reference, err)
}

func (e *Engine) merge(s *session.Session, in <-chan []parser.Mention, log *logger.Logger) {
	cat := s.Catalog()
	for batch := range in {
		for _, m := range batch {
			if cat.Merge(m) {
				s.Metrics().RecordMerge()
			}
			log.MentionEvent(m.Method, m.Path, m.Locator, m.Confidence)
		}
	}
}

// runHeaders returns the custom headers plus the run's credentials. A
// failed token request is logged against the session and the run goes on
// unauthenticated.
func (e *Engine) runHeaders(ctx context.Context, s *session.Session, cfg *Config) map[string]string {
	headers := mergeHeaders(cfg.CustomHeaders, nil)
	provider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		s.Record(s.Reference, errors.InvalidInput(s.Reference, err.Error()))
		return headers
	}
	defer provider.Close()

	if err := provider.Authenticate(ctx); err != nil {
		locator := s.Reference
		if cfg.Auth.OAuth != nil {
			locator = cfg.Auth.OAuth.TokenURL
		}
		s.Record(locator, err)
		return headers
	}
	return provider.Merge(headers)
}

func (e *Engine) extractor(s *session.Session, cfg *Config, headers map[string]string, log *logger.Logger) extract.Extractor {
	ecfg := cfg.extractConfig(headers)
	opts := []extract.Option{
		extract.WithLogger(log),
		extract.WithMetrics(s.Metrics()),
	}

	switch s.Kind {
	case SourceRepository:
		var ropts []extract.RepoOption
		if cfg.Repository.ArchiveBase != "" {
			ropts = append(ropts, extract.WithArchiveBase(cfg.Repository.ArchiveBase))
		}
		return extract.NewRepoScanner(ecfg, e.registry, opts, ropts...)
	case SourceDocument:
		return extract.NewDocumentExtractor(ecfg, opts...)
	default:
		if cfg.Render && e.renderer != nil {
			opts = append(opts, extract.WithRenderer(e.renderer))
		} else if cfg.Render {
			log.Warn("rendering requested but the engine has no browser pool; fetching only")
		}
		return extract.NewWebCrawler(ecfg, opts...)
	}
}

// Wait blocks until the session has finished and been saved, or ctx ends,
// then returns its catalogue.
func (e *Engine) Wait(ctx context.Context, id string) (*Catalogue, error) {
	if settled := e.settledChan(id); settled != nil {
		select {
		case <-settled:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.GetCatalogue(id)
}

func (e *Engine) settledChan(id string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled[id]
}

// GetCatalogue returns a copy of the session's current catalogue. It is
// safe to poll while the analysis runs.
func (e *Engine) GetCatalogue(id string) (*Catalogue, error) {
	snap, err := e.sessions.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SynthesizeTools derives tool definitions from the session's current
// catalogue. Repeated calls on an unchanged catalogue return equal tools.
func (e *Engine) SynthesizeTools(id string) ([]synth.Tool, error) {
	snap, err := e.sessions.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return synth.Synthesize(snap.Endpoints), nil
}

// GenerateArtifacts renders the tool server project for tools. It either
// returns every artifact or none.
func (e *Engine) GenerateArtifacts(tools []synth.Tool, cfg artifact.Config) (*artifact.Bundle, error) {
	return artifact.Generate(tools, cfg)
}

// ProbeEndpoint calls ep on the live API at baseURL. It uses its own
// timeout and never touches a session.
func (e *Engine) ProbeEndpoint(ctx context.Context, baseURL string, ep catalog.Endpoint, args map[string]interface{}) (*probe.Result, error) {
	return e.prober.Probe(ctx, baseURL, ep, args)
}

// InvokeTool calls a synthesized tool on the live API at baseURL with the
// same headers and timeout as ProbeEndpoint.
func (e *Engine) InvokeTool(ctx context.Context, baseURL string, tool synth.Tool, args map[string]interface{}) (*probe.Result, error) {
	return e.prober.Invoke(ctx, baseURL, tool, args)
}

// AuthHeaders returns the configured credentials as request headers,
// fetching an access token first when needed.
func (e *Engine) AuthHeaders(ctx context.Context) (map[string]string, error) {
	return e.authHeaders(ctx)
}

func (e *Engine) authHeaders(ctx context.Context) (map[string]string, error) {
	if err := e.auth.Authenticate(ctx); err != nil {
		return nil, err
	}
	return e.auth.Headers(), nil
}

// Cancel stops a running session. It ends as partial.
func (e *Engine) Cancel(id string) error {
	s, ok := e.sessions.Get(id)
	if !ok {
		if _, err := e.sessions.Snapshot(id); err != nil {
			return err
		}
		return nil
	}
	s.Cancel()
	return nil
}

// Sessions lists live and stored sessions.
func (e *Engine) Sessions() ([]session.Summary, error) {
	return e.sessions.List()
}

// Delete cancels a session, waits for its run to stop and forgets it.
func (e *Engine) Delete(id string) error {
	if settled := e.settledChan(id); settled != nil {
		if s, ok := e.sessions.Get(id); ok {
			s.Cancel()
		}
		<-settled
	}
	return e.sessions.Delete(id)
}

// Close cancels running sessions, waits for them to be saved and releases
// the store, the browsers and idle connections.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	for _, s := range e.sessions.Live() {
		s.Cancel()
	}
	e.wg.Wait()

	err := e.sessions.Close()
	if e.browsers != nil {
		if berr := e.browsers.Close(); berr != nil && err == nil {
			err = berr
		}
	}
	e.prober.Close()
	e.auth.Close()
	return err
}

func mergeHeaders(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
