package apiforge

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/apiforge/internal/auth"
	"github.com/PentesterFlow/apiforge/internal/extract"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/probe"
	"github.com/PentesterFlow/apiforge/internal/state"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine) error

// WithConfig replaces the whole configuration. Options after it adjust the
// copy it installs.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		e.config = cfg.Clone()
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) error {
		if l != nil {
			e.log = l
		}
		return nil
	}
}

// WithStore persists finished sessions to s. It takes precedence over
// Config.State, and the engine closes it on Close.
func WithStore(s state.Store) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			n = 1
		}
		e.config.Workers = n
		return nil
	}
}

// WithMaxPages sets the web page budget.
func WithMaxPages(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			n = 1
		}
		e.config.MaxPages = n
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth. Zero means unlimited.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) error {
		if depth < 0 {
			depth = 0
		}
		e.config.MaxDepth = depth
		return nil
	}
}

// WithTimeout sets the per-unit timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		e.config.Timeout = timeout
		return nil
	}
}

// WithIncludePatterns adds URL path patterns to include.
func WithIncludePatterns(patterns ...string) Option {
	return func(e *Engine) error {
		e.config.Scope.IncludePatterns = append(e.config.Scope.IncludePatterns, patterns...)
		return nil
	}
}

// WithExcludePatterns adds URL path patterns to exclude.
func WithExcludePatterns(patterns ...string) Option {
	return func(e *Engine) error {
		e.config.Scope.ExcludePatterns = append(e.config.Scope.ExcludePatterns, patterns...)
		return nil
	}
}

// WithAllowedDomains sets extra domains the crawler may enter.
func WithAllowedDomains(domains ...string) Option {
	return func(e *Engine) error {
		e.config.Scope.AllowedDomains = append(e.config.Scope.AllowedDomains, domains...)
		return nil
	}
}

// WithRateLimit sets the per-host request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Engine) error {
		e.config.RateLimit.RequestsPerSecond = rps
		e.config.RateLimit.Burst = burst
		return nil
	}
}

// WithProbeSpecs toggles well-known specification probing.
func WithProbeSpecs(enabled bool) Option {
	return func(e *Engine) error {
		e.config.ProbeSpecs = enabled
		return nil
	}
}

// WithReadHints toggles robots.txt, sitemap and source map reading.
func WithReadHints(enabled bool) Option {
	return func(e *Engine) error {
		e.config.ReadHints = enabled
		return nil
	}
}

// WithRender enables headless rendering.
func WithRender(enabled bool) Option {
	return func(e *Engine) error {
		e.config.Render = enabled
		return nil
	}
}

// WithBrowserPool sets the browser pool size.
func WithBrowserPool(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			size = 1
		}
		e.config.Browser.PoolSize = size
		return nil
	}
}

// WithRenderer renders pages through r instead of a local browser pool.
// It implies WithRender(true).
func WithRenderer(r extract.Renderer) Option {
	return func(e *Engine) error {
		e.renderer = r
		e.config.Render = r != nil
		return nil
	}
}

// WithUserAgent sets the user agent.
func WithUserAgent(ua string) Option {
	return func(e *Engine) error {
		e.config.UserAgent = ua
		return nil
	}
}

// WithHeaders adds custom headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(e *Engine) error {
		if e.config.CustomHeaders == nil {
			e.config.CustomHeaders = make(map[string]string)
		}
		for k, v := range headers {
			e.config.CustomHeaders[k] = v
		}
		return nil
	}
}

// WithAuth sets the credentials sent to the target API.
func WithAuth(creds auth.Credentials) Option {
	return func(e *Engine) error {
		if err := creds.Validate(); err != nil {
			return err
		}
		e.config.Auth = creds
		return nil
	}
}

// WithProbeConfig sets the live probe settings.
func WithProbeConfig(cfg probe.Config) Option {
	return func(e *Engine) error {
		e.config.Probe = cfg
		return nil
	}
}

// WithRegistry sets the language registry used for repository files.
func WithRegistry(reg *parser.Registry) Option {
	return func(e *Engine) error {
		e.registry = reg
		return nil
	}
}

// WithArchiveBase points GitHub archive downloads at another host.
func WithArchiveBase(u string) Option {
	return func(e *Engine) error {
		e.config.Repository.ArchiveBase = u
		return nil
	}
}
