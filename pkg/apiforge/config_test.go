package apiforge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/apiforge/internal/auth"
	"github.com/PentesterFlow/apiforge/internal/state"
)

// =============================================================================
// Preset Tests
// =============================================================================

func TestPresets_Validate(t *testing.T) {
	presets := map[string]*Config{
		"default":  DefaultConfig(),
		"quick":    QuickConfig(),
		"thorough": ThoroughConfig(),
	}
	for name, cfg := range presets {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestPresets_Ordering(t *testing.T) {
	q, d, th := QuickConfig(), DefaultConfig(), ThoroughConfig()
	if !(q.MaxPages < d.MaxPages && d.MaxPages < th.MaxPages) {
		t.Errorf("MaxPages quick/default/thorough = %d/%d/%d", q.MaxPages, d.MaxPages, th.MaxPages)
	}
	if d.Render || !th.Render {
		t.Error("only the thorough preset renders")
	}
	if !d.ProbeSpecs {
		t.Error("specification probing should be on by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"no pages", func(c *Config) { c.MaxPages = 0 }, "max pages"},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }, "max depth"},
		{"unlimited depth", func(c *Config) { c.MaxDepth = 0 }, ""},
		{"no timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"no rate", func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }, "rate limit"},
		{"zero host rate", func(c *Config) { c.RateLimit.Hosts = map[string]float64{"docs.test": 0} }, "docs.test"},
		{"render without pool", func(c *Config) { c.Render = true; c.Browser.PoolSize = 0 }, "pool size"},
		{"bad pattern", func(c *Config) { c.Scope.ExcludePatterns = []string{"(["} }, "scope pattern"},
		{"bad auth", func(c *Config) { c.Auth = auth.Credentials{Type: auth.TypeBearer} }, "auth"},
		{"bad format", func(c *Config) { c.Output.Format = "xml" }, "output format"},
		{"state without path", func(c *Config) { c.State = StateConfig{Enabled: true} }, "state path"},
		{"memory state", func(c *Config) { c.State = StateConfig{Enabled: true, Backend: BackendMemory} }, ""},
		{"unknown backend", func(c *Config) { c.State = StateConfig{Enabled: true, Backend: "redis", Path: "x"} }, "backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want one mentioning %q", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apiforge.yaml")
	data := `workers: 3
max_pages: 12
timeout: 5s
scope:
  exclude_patterns: ["/logout"]
rate_limit:
  requests_per_second: 5
  hosts:
    docs.test: 0.5
auth:
  type: bearer
  token: abc
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Workers != 3 || cfg.MaxPages != 12 || cfg.Timeout != 5*time.Second {
		t.Errorf("loaded %d workers, %d pages, %v timeout", cfg.Workers, cfg.MaxPages, cfg.Timeout)
	}
	if cfg.Auth.Type != auth.TypeBearer || cfg.Auth.Token != "abc" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.MaxDepth != DefaultConfig().MaxDepth || !cfg.ProbeSpecs {
		t.Error("fields missing from the file should keep their defaults")
	}
	if len(cfg.Scope.ExcludePatterns) != 1 {
		t.Errorf("ExcludePatterns = %v", cfg.Scope.ExcludePatterns)
	}
	if cfg.RateLimit.Hosts["docs.test"] != 0.5 || cfg.extractConfig(nil).HostRates["docs.test"] != 0.5 {
		t.Errorf("RateLimit.Hosts = %v", cfg.RateLimit.Hosts)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("workers: [1, 2\n"), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("unparseable file should fail")
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := ThoroughConfig()
			cfg.CustomHeaders = map[string]string{"X-Tenant": "7"}
			cfg.Scope.IncludePatterns = []string{"^/api"}
			path := filepath.Join(t.TempDir(), name)
			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}

			data, _ := os.ReadFile(path)
			if isJSON := strings.HasPrefix(strings.TrimSpace(string(data)), "{"); isJSON != strings.HasSuffix(name, ".json") {
				t.Errorf("%s was written in the wrong format:\n%s", name, data)
			}

			got, err := LoadFromFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if got.MaxPages != cfg.MaxPages || got.Timeout != cfg.Timeout || !got.Render {
				t.Errorf("round trip lost fields: %+v", got)
			}
			if got.CustomHeaders["X-Tenant"] != "7" || got.Scope.IncludePatterns[0] != "^/api" {
				t.Errorf("round trip lost maps or slices: %+v", got)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomHeaders = map[string]string{"A": "1"}
	cfg.Scope.AllowedDomains = []string{"api.test"}

	clone := cfg.Clone()
	clone.CustomHeaders["A"] = "2"
	clone.Scope.AllowedDomains[0] = "other.test"
	clone.Workers = 99

	if cfg.CustomHeaders["A"] != "1" || cfg.Scope.AllowedDomains[0] != "api.test" || cfg.Workers == 99 {
		t.Error("Clone() shares state with the original")
	}
}

func TestConfig_OpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		state StateConfig
		isNil bool
	}{
		{"disabled", StateConfig{}, true},
		{"memory", StateConfig{Enabled: true, Backend: BackendMemory}, false},
		{"bolt", StateConfig{Enabled: true, Backend: BackendBolt, Path: filepath.Join(dir, "s.db")}, false},
		{"file", StateConfig{Enabled: true, Backend: BackendFile, Path: filepath.Join(dir, "sessions")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.State = tt.state
			store, err := cfg.openStore()
			if err != nil {
				t.Fatal(err)
			}
			if (store == nil) != tt.isNil {
				t.Fatalf("openStore() = %v, want nil %v", store, tt.isNil)
			}
			if store == nil {
				return
			}
			defer store.Close()
			if err := store.Put("id", []byte("x")); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Get("missing"); err != state.ErrNotFound {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}
