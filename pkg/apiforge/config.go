package apiforge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/apiforge/internal/artifact"
	"github.com/PentesterFlow/apiforge/internal/auth"
	"github.com/PentesterFlow/apiforge/internal/browser"
	"github.com/PentesterFlow/apiforge/internal/extract"
	"github.com/PentesterFlow/apiforge/internal/output"
	"github.com/PentesterFlow/apiforge/internal/probe"
	"github.com/PentesterFlow/apiforge/internal/state"
)

// Config holds all engine configuration.
type Config struct {
	// Number of concurrent fetch workers
	Workers int `json:"workers" yaml:"workers"`

	// Maximum distinct pages fetched by a web analysis
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// Maximum link depth from the seed, 0 for unlimited
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Per-unit fetch timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Scope rules
	Scope ScopeRules `json:"scope" yaml:"scope"`

	// Rate limiting
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Request well-known specification paths before crawling
	ProbeSpecs bool `json:"probe_specs" yaml:"probe_specs"`

	// Follow robots.txt, sitemaps and script source maps
	ReadHints bool `json:"read_hints" yaml:"read_hints"`

	// Render pages in a headless browser and capture their XHR traffic
	Render bool `json:"render" yaml:"render"`

	// Browser configuration, used when Render is set
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Repository scanning limits
	Repository RepositoryConfig `json:"repository" yaml:"repository"`

	// User agent for every outgoing request
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Custom headers to include in all requests
	CustomHeaders map[string]string `json:"custom_headers" yaml:"custom_headers"`

	// Credentials injected into crawl and probe requests
	Auth auth.Credentials `json:"auth" yaml:"auth"`

	// Live endpoint probing
	Probe probe.Config `json:"probe" yaml:"probe"`

	// Output configuration
	Output output.Config `json:"output" yaml:"output"`

	// Artifact generation defaults
	Artifact artifact.Config `json:"artifact" yaml:"artifact"`

	// Session persistence
	State StateConfig `json:"state" yaml:"state"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// ScopeRules limits which links a web analysis follows.
type ScopeRules struct {
	IncludePatterns []string `json:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
	AllowedDomains  []string `json:"allowed_domains" yaml:"allowed_domains"`
	FollowExternal  bool     `json:"follow_external" yaml:"follow_external"`
}

// RateLimitConfig holds per-host politeness settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`

	// Hosts limited to their own rate, for example a fragile docs mirror
	Hosts map[string]float64 `json:"hosts,omitempty" yaml:"hosts,omitempty"`
}

// RepositoryConfig bounds a repository scan.
type RepositoryConfig struct {
	MaxFiles       int    `json:"max_files" yaml:"max_files"`
	MaxFileSize    int64  `json:"max_file_size" yaml:"max_file_size"`
	MaxArchiveSize int64  `json:"max_archive_size" yaml:"max_archive_size"`
	ArchiveBase    string `json:"archive_base,omitempty" yaml:"archive_base,omitempty"`
}

// Store backends.
const (
	BackendBolt   = "bolt"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// StateConfig selects where finished sessions are kept.
type StateConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultStatePath is the bbolt file used when none is configured.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".apiforge", "sessions.db")
	}
	return filepath.Join(home, ".apiforge", "sessions.db")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:  8,
		MaxPages: 50,
		MaxDepth: 3,
		Timeout:  30 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             5,
		},
		ProbeSpecs: true,
		ReadHints:  true,
		Browser:    browser.DefaultConfig(),
		Repository: RepositoryConfig{
			MaxFiles:       5000,
			MaxFileSize:    1 << 20,
			MaxArchiveSize: 100 << 20,
		},
		Auth:     auth.Credentials{Type: auth.TypeNone},
		Probe:    probe.DefaultConfig(),
		Output:   output.Config{Format: "json", Pretty: true},
		Artifact: artifact.DefaultConfig(),
		State:    StateConfig{Backend: BackendBolt},
	}
}

// QuickConfig returns a configuration for a fast first look: a shallow
// crawl that leans on specification probing.
func QuickConfig() *Config {
	c := DefaultConfig()
	c.Workers = 4
	c.MaxPages = 20
	c.MaxDepth = 1
	c.Timeout = 10 * time.Second
	c.ReadHints = false
	c.Repository.MaxFiles = 1000
	c.Output.Pretty = false
	return c
}

// ThoroughConfig returns a configuration for single-page applications and
// large sites. It renders pages, so it needs a local Chrome.
func ThoroughConfig() *Config {
	c := DefaultConfig()
	c.Workers = 16
	c.MaxPages = 500
	c.MaxDepth = 6
	c.Timeout = 45 * time.Second
	c.RateLimit = RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
	c.Render = true
	c.Browser.PoolSize = 4
	c.Repository.MaxFiles = 20000
	c.Repository.MaxFileSize = 2 << 20
	return c
}

// LoadFromFile loads configuration from a file (JSON or YAML). Fields the
// file leaves out keep their DefaultConfig values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. A .json suffix selects JSON,
// anything else YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1")
	}

	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	for host, rps := range c.RateLimit.Hosts {
		if rps <= 0 {
			return fmt.Errorf("rate limit for host %q must be positive", host)
		}
	}

	if c.Render && c.Browser.PoolSize < 1 {
		return fmt.Errorf("browser pool size must be at least 1")
	}

	for _, p := range append(append([]string{}, c.Scope.IncludePatterns...), c.Scope.ExcludePatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid scope pattern %q: %w", p, err)
		}
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid auth: %w", err)
	}

	switch strings.ToLower(c.Output.Format) {
	case "", "json", "yaml", "yml":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}

	if c.State.Enabled {
		switch c.State.Backend {
		case "", BackendBolt, BackendFile:
			if c.State.Path == "" {
				return fmt.Errorf("state path is required for the %s backend", c.backend())
			}
		case BackendMemory:
		default:
			return fmt.Errorf("unknown state backend %q", c.State.Backend)
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

func (c *Config) backend() string {
	if c.State.Backend == "" {
		return BackendBolt
	}
	return c.State.Backend
}

// extractConfig maps the engine configuration onto the extractors'.
func (c *Config) extractConfig(headers map[string]string) extract.Config {
	return extract.Config{
		MaxPages:          c.MaxPages,
		MaxDepth:          c.MaxDepth,
		Workers:           c.Workers,
		TaskTimeout:       c.Timeout,
		IncludePatterns:   c.Scope.IncludePatterns,
		ExcludePatterns:   c.Scope.ExcludePatterns,
		AllowedDomains:    c.Scope.AllowedDomains,
		FollowExternal:    c.Scope.FollowExternal,
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
		HostRates:         c.RateLimit.Hosts,
		UserAgent:         c.UserAgent,
		Headers:           headers,
		ProbeSpecs:        c.ProbeSpecs,
		ReadHints:         c.ReadHints,
		Render:            c.Render,
		MaxFiles:          c.Repository.MaxFiles,
		MaxFileSize:       c.Repository.MaxFileSize,
		MaxArchiveSize:    c.Repository.MaxArchiveSize,
	}
}

// openStore opens the configured session store, or returns nil when
// persistence is off.
func (c *Config) openStore() (state.Store, error) {
	if !c.State.Enabled {
		return nil, nil
	}
	switch c.backend() {
	case BackendMemory:
		return state.NewMemoryStore(), nil
	case BackendFile:
		fs, err := state.NewFileStore(c.State.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		bs, err := state.NewBoltStore(c.State.Path)
		if err != nil {
			return nil, err
		}
		return bs, nil
	}
}
