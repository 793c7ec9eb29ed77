// Package artifact renders a standalone MCP server project from synthesized
// tool definitions.
package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"go/format"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("artifact").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl"))

// File names inside a bundle.
const (
	ServerFile    = "main.go"
	ManifestFile  = "go.mod"
	ContainerFile = "Dockerfile"
)

// Config controls the generated project.
type Config struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	ServerName     string `json:"server_name" yaml:"server_name"`
	Version        string `json:"version" yaml:"version"`
	GoVersion      string `json:"go_version" yaml:"go_version"`
	MCPVersion     string `json:"mcp_version" yaml:"mcp_version"`
	Port           int    `json:"port" yaml:"port"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	// SkipGeneric drops the get/post/put/delete_request fallback tools.
	SkipGeneric bool `json:"skip_generic" yaml:"skip_generic"`
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		ServerName:     "apiforge-tools",
		Version:        "1.0.0",
		GoVersion:      "1.23",
		MCPVersion:     "v0.39.1",
		Port:           8080,
		TimeoutSeconds: 30,
	}
}

// Bundle is a rendered project. It is only ever returned complete.
type Bundle struct {
	Server    []byte
	Manifest  []byte
	Container []byte
}

// Files maps file names to contents.
func (b *Bundle) Files() map[string][]byte {
	return map[string][]byte{
		ServerFile:    b.Server,
		ManifestFile:  b.Manifest,
		ContainerFile: b.Container,
	}
}

var (
	toolIDRe     = regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9_-]{1,%d}$`, synth.MaxIDLength))
	serverNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	versionRe    = regexp.MustCompile(`^[0-9A-Za-z.+-]+$`)
	moduleRe     = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

var genericMethods = []string{"GET", "POST", "PUT", "DELETE"}

type toolRecord struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Method      string                 `json:"method"`
	Path        string                 `json:"path"`
	Bindings    []synth.Binding        `json:"bindings"`
	Properties  map[string]interface{} `json:"properties"`
	Required    []string               `json:"required"`
}

type renderData struct {
	Config
	ModulePath string
	Addr       string
	Tools      []synth.Tool
	ToolsJSON  string
	Generics   []string
}

// Generate validates tools and renders the server, manifest and container
// files. Any structurally invalid tool fails the whole call with
// GenerationInputInvalid and no bundle.
func Generate(tools []synth.Tool, cfg Config) (*Bundle, error) {
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := Validate(tools); err != nil {
		return nil, err
	}

	records := make([]toolRecord, 0, len(tools))
	ids := make(map[string]bool, len(tools))
	for _, t := range tools {
		props, required := t.Properties()
		records = append(records, toolRecord{
			ID:          t.ID,
			Description: t.Description,
			Method:      strings.ToUpper(t.Invocation.Method),
			Path:        t.Invocation.PathTemplate,
			Bindings:    t.Invocation.Bindings,
			Properties:  props,
			Required:    required,
		})
		ids[t.ID] = true
	}
	table, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode tool table: %w", err)
	}

	data := renderData{
		Config:     cfg,
		ModulePath: modulePath(cfg.ServerName),
		Addr:       fmt.Sprintf(":%d", cfg.Port),
		Tools:      tools,
		ToolsJSON:  string(table),
	}
	if !cfg.SkipGeneric {
		for _, m := range genericMethods {
			if !ids[strings.ToLower(m)+"_request"] {
				data.Generics = append(data.Generics, m)
			}
		}
	}

	server, err := render("server.go.tmpl", data)
	if err != nil {
		return nil, err
	}
	if server, err = format.Source(server); err != nil {
		return nil, fmt.Errorf("format generated server: %w", err)
	}
	manifest, err := render("go.mod.tmpl", data)
	if err != nil {
		return nil, err
	}
	container, err := render("Dockerfile.tmpl", data)
	if err != nil {
		return nil, err
	}

	return &Bundle{Server: server, Manifest: manifest, Container: container}, nil
}

// Validate checks that every tool carries the fields generation needs.
func Validate(tools []synth.Tool) error {
	seen := make(map[string]bool, len(tools))
	for i, t := range tools {
		loc := fmt.Sprintf("tools[%d]", i)
		switch {
		case !toolIDRe.MatchString(t.ID):
			return errors.InvalidInput(loc, fmt.Sprintf("invalid tool id %q", t.ID))
		case seen[t.ID]:
			return errors.InvalidInput(loc, fmt.Sprintf("duplicate tool id %q", t.ID))
		case strings.TrimSpace(t.Invocation.Method) == "":
			return errors.InvalidInput(loc, fmt.Sprintf("tool %q has no method", t.ID))
		case !strings.HasPrefix(t.Invocation.PathTemplate, "/") || strings.ContainsAny(t.Invocation.PathTemplate, " \t\r\n"):
			return errors.InvalidInput(loc, fmt.Sprintf("tool %q has no usable path", t.ID))
		}
		for _, b := range t.Invocation.Bindings {
			if b.Param == "" || b.Key == "" {
				return errors.InvalidInput(loc, fmt.Sprintf("tool %q has an unnamed binding", t.ID))
			}
		}
		seen[t.ID] = true
	}
	return nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ServerName == "" {
		cfg.ServerName = def.ServerName
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.GoVersion == "" {
		cfg.GoVersion = def.GoVersion
	}
	if cfg.MCPVersion == "" {
		cfg.MCPVersion = def.MCPVersion
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = def.TimeoutSeconds
	}
	return cfg
}

func validateConfig(cfg Config) error {
	if !serverNameRe.MatchString(cfg.ServerName) {
		return errors.InvalidInput("config", fmt.Sprintf("invalid server name %q", cfg.ServerName))
	}
	if !versionRe.MatchString(cfg.GoVersion) || !versionRe.MatchString(cfg.MCPVersion) || !versionRe.MatchString(cfg.Version) {
		return errors.InvalidInput("config", "versions may only contain [0-9A-Za-z.+-]")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return errors.InvalidInput("config", fmt.Sprintf("invalid port %d", cfg.Port))
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" || strings.ContainsAny(cfg.BaseURL, " \n") {
			return errors.InvalidInput("config", fmt.Sprintf("invalid base URL %q", cfg.BaseURL))
		}
	}
	return nil
}

func modulePath(name string) string {
	return strings.Trim(strings.ToLower(moduleRe.ReplaceAllString(name, "-")), "-.")
}

func render(name string, data renderData) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// WriteDir writes the bundle into dir. Each file is written to a temp file
// first and all renames happen only after every write succeeded.
func (b *Bundle) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	type pending struct{ tmp, dst string }
	var staged []pending
	cleanup := func() {
		for _, p := range staged {
			os.Remove(p.tmp)
		}
	}

	for _, name := range []string{ServerFile, ManifestFile, ContainerFile} {
		f, err := os.CreateTemp(dir, "."+name+".*.tmp")
		if err != nil {
			cleanup()
			return err
		}
		staged = append(staged, pending{tmp: f.Name(), dst: filepath.Join(dir, name)})
		if _, err := f.Write(b.Files()[name]); err != nil {
			f.Close()
			cleanup()
			return err
		}
		if err := f.Close(); err != nil {
			cleanup()
			return err
		}
	}

	for i, p := range staged {
		if err := os.Rename(p.tmp, p.dst); err != nil {
			cleanup()
			return fmt.Errorf("install %s: %w", filepath.Base(p.dst), err)
		}
		staged[i].tmp = ""
	}
	return nil
}
