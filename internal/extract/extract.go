// Package extract turns a source reference into raw content units. Units
// are handed to an Emit callback as they are produced; per-unit failures go
// to an ErrorSink and never stop the remaining units.
package extract

import (
	"context"
	"sync"
	"time"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/metrics"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// Emit receives each unit an extractor produces. It may be called from
// several goroutines at once.
type Emit func(parser.Unit)

// ErrorSink collects per-unit failures.
type ErrorSink interface {
	Record(locator string, err error)
}

// SinkFunc adapts a function to ErrorSink.
type SinkFunc func(locator string, err error)

// Record calls f.
func (f SinkFunc) Record(locator string, err error) { f(locator, err) }

// Extractor produces units for one kind of source. The returned error is
// reserved for references that cannot be opened at all.
type Extractor interface {
	Extract(ctx context.Context, ref string, emit Emit, sink ErrorSink) error
}

// Config bounds an extraction run.
type Config struct {
	MaxPages    int
	MaxDepth    int
	Workers     int
	TaskTimeout time.Duration

	IncludePatterns []string
	ExcludePatterns []string
	AllowedDomains  []string
	FollowExternal  bool

	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	Headers           map[string]string

	// Per-host request rates that replace RequestsPerSecond for that host
	HostRates map[string]float64

	ProbeSpecs bool
	Render     bool

	// Follow robots.txt, sitemaps and script source maps
	ReadHints bool

	MaxFiles       int
	MaxFileSize    int64
	MaxArchiveSize int64
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxPages:          50,
		MaxDepth:          3,
		Workers:           8,
		TaskTimeout:       30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		ProbeSpecs:        true,
		MaxFiles:          5000,
		MaxFileSize:       1 << 20,
		MaxArchiveSize:    100 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxPages <= 0 {
		c.MaxPages = def.MaxPages
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = def.MaxFiles
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = def.MaxFileSize
	}
	if c.MaxArchiveSize <= 0 {
		c.MaxArchiveSize = def.MaxArchiveSize
	}
	return c
}

// Option configures an extractor.
type Option func(*base)

// WithLogger sets the extractor's logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics records fetch and failure counts on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(b *base) {
		if m != nil {
			b.metrics = m
		}
	}
}

// base carries what every extractor shares.
type base struct {
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Collector

	// set by the web crawler's own options
	renderer Renderer
	client   fetcher
}

func newBase(cfg Config, component string, opts []Option) base {
	b := base{
		cfg:     cfg.withDefaults(),
		log:     logger.Nop(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.log = b.log.WithComponent(component)
	return b
}

// fail records err against locator on the sink, the metrics and the log.
func (b *base) fail(sink ErrorSink, locator string, err error) {
	kind := errors.KindOf(err).String()
	b.metrics.RecordFailure(kind)
	b.log.SourceErrorEvent(err, locator, kind)
	if sink != nil {
		sink.Record(locator, err)
	}
}

// unit logs and emits u.
func (b *base) unit(emit Emit, u parser.Unit, d time.Duration) {
	b.metrics.RecordUnit(string(u.Kind), len(u.Body), d)
	b.log.UnitEvent(string(u.Kind), u.Locator, len(u.Body), u.Depth)
	emit(u)
}

// Collector is an ErrorSink that keeps every failure in order of arrival.
type Collector struct {
	mu     sync.Mutex
	errors []Failure
}

// Failure is one recorded per-unit error.
type Failure struct {
	Locator string
	Err     error
}

// Record implements ErrorSink.
func (c *Collector) Record(locator string, err error) {
	c.mu.Lock()
	c.errors = append(c.errors, Failure{Locator: locator, Err: err})
	c.mu.Unlock()
}

// Failures returns a copy of the recorded failures.
func (c *Collector) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.errors...)
}
