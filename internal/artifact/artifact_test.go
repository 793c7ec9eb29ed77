package artifact

import (
	"encoding/json"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	apperrors "github.com/PentesterFlow/apiforge/internal/errors"
	domain "github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

func sampleTools() []synth.Tool {
	return synth.Synthesize([]catalog.Endpoint{
		{
			Method: "POST", Path: "/login", Category: "authentication",
			Parameters: []catalog.Parameter{
				{Name: "email", Type: domain.TypeString, Location: domain.LocationBody, Required: true},
				{Name: "password", Type: domain.TypeString, Location: domain.LocationBody, Required: true},
			},
		},
		{
			Method: "GET", Path: "/appointments/{id}", Category: "scheduling",
			Description: "Read `one` appointment \"quoted\"",
			Parameters: []catalog.Parameter{
				{Name: "id", Type: domain.TypeString, Location: domain.LocationPath, Required: true},
			},
		},
	})
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestGenerate(t *testing.T) {
	b, err := Generate(sampleTools(), Config{BaseURL: "https://clinic.example.com/api", ServerName: "clinic-tools"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := parser.ParseFile(token.NewFileSet(), ServerFile, b.Server, parser.AllErrors); err != nil {
		t.Fatalf("generated server does not parse: %v\n%s", err, b.Server)
	}
	server := string(b.Server)
	for _, want := range []string{
		`"github.com/mark3labs/mcp-go/server"`,
		`serverName    = "clinic-tools"`,
		`defaultBase   = "https://clinic.example.com/api"`,
		`//   post_login: POST /login`,
		`//   get_appointments_by_id: GET /appointments/{id}`,
		`var genericMethods = []string{"GET", "POST", "PUT", "DELETE"}`,
		`server.ServeStdio(s)`,
	} {
		if !strings.Contains(server, want) {
			t.Errorf("server missing %q", want)
		}
	}

	manifest := string(b.Manifest)
	if !strings.HasPrefix(manifest, "module clinic-tools\n") {
		t.Errorf("manifest = %q", manifest)
	}
	if !strings.Contains(manifest, "require github.com/mark3labs/mcp-go v0.39.1") {
		t.Errorf("manifest should require mcp-go: %q", manifest)
	}
	if strings.Count(manifest, "require") != 1 {
		t.Errorf("manifest should require exactly one module: %q", manifest)
	}

	container := string(b.Container)
	for _, want := range []string{"FROM golang:1.23-alpine AS build", "EXPOSE 8080", `"-addr", ":8080"`} {
		if !strings.Contains(container, want) {
			t.Errorf("container missing %q:\n%s", want, container)
		}
	}
}

func TestGenerate_ToolTableRoundTrips(t *testing.T) {
	b, err := Generate(sampleTools(), Config{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	f, err := parser.ParseFile(token.NewFileSet(), ServerFile, b.Server, 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// Pull the toolsJSON literal back out and decode it.
	var literal string
	for _, line := range strings.Split(string(b.Server), "\n") {
		if strings.HasPrefix(line, "var toolsJSON = ") {
			literal = strings.TrimPrefix(line, "var toolsJSON = ")
		}
	}
	if literal == "" || f == nil {
		t.Fatal("toolsJSON declaration not found")
	}
	unquoted, err := strconv.Unquote(literal)
	if err != nil {
		t.Fatalf("unquote: %v", err)
	}
	var records []toolRecord
	if err := json.Unmarshal([]byte(unquoted), &records); err != nil {
		t.Fatalf("tool table is not JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ID != "post_login" || records[0].Method != "POST" || len(records[0].Required) != 2 {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Description != "Read `one` appointment \"quoted\" (category: scheduling)" {
		t.Errorf("description did not survive quoting: %q", records[1].Description)
	}
}

func TestGenerate_GenericCollision(t *testing.T) {
	tools := synth.Synthesize([]catalog.Endpoint{{Method: "GET", Path: "/request"}})
	b, err := Generate(tools, Config{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(string(b.Server), `[]string{"POST", "PUT", "DELETE"}`) {
		t.Error("a tool named get_request should replace the generic GET fallback")
	}

	b, err = Generate(tools, Config{SkipGeneric: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(string(b.Server), "var genericMethods = []string{}") {
		t.Error("SkipGeneric should drop every fallback")
	}
}

func TestGenerate_LongPaths(t *testing.T) {
	tools := synth.Synthesize([]catalog.Endpoint{
		{Method: "GET", Path: "/api/v1/organizations/{organization_id}/projects/{project_id}/deployments"},
		{Method: "GET", Path: "/api/v1/organizations/{organization_id}/projects/{project_id}/deployments/{deployment_id}"},
		{Method: "DELETE", Path: "/api/v1/organizations/{organization_id}/projects/{project_id}/deployments/{deployment_id}/artifacts/{artifact_id}"},
	})

	if err := Validate(tools); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, err := Generate(tools, Config{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestGenerate_InvalidInput(t *testing.T) {
	valid := sampleTools()

	noMethod := append([]synth.Tool(nil), valid...)
	noMethod[1].Invocation.Method = ""

	noPath := append([]synth.Tool(nil), valid...)
	noPath[0].Invocation.PathTemplate = ""

	dup := append([]synth.Tool(nil), valid...)
	dup[1].ID = dup[0].ID

	badID := append([]synth.Tool(nil), valid...)
	badID[0].ID = "post login"

	tests := []struct {
		name  string
		tools []synth.Tool
		cfg   Config
	}{
		{"missing method", noMethod, Config{}},
		{"missing path", noPath, Config{}},
		{"duplicate id", dup, Config{}},
		{"bad id", badID, Config{}},
		{"bad server name", valid, Config{ServerName: "bad name\n"}},
		{"bad base url", valid, Config{BaseURL: "not a url"}},
		{"bad port", valid, Config{Port: 70000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Generate(tt.tools, tt.cfg)
			if b != nil {
				t.Error("Generate() must not return a bundle on invalid input")
			}
			if apperrors.KindOf(err) != apperrors.GenerationInputInvalid {
				t.Errorf("Generate() error = %v, want GenerationInputInvalid", err)
			}
		})
	}
}

func TestGenerate_FailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	tools := sampleTools()
	tools[0].Invocation.Method = ""

	b, err := Generate(tools, Config{})
	if err == nil {
		if werr := b.WriteDir(dir); werr != nil {
			t.Fatalf("WriteDir() error = %v", werr)
		}
		t.Fatal("Generate() should fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed generation left files behind: %v", entries)
	}
}

// =============================================================================
// WriteDir Tests
// =============================================================================

func TestBundle_WriteDir(t *testing.T) {
	b, err := Generate(sampleTools(), Config{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	dir := filepath.Join(t.TempDir(), "out")
	if err := b.WriteDir(dir); err != nil {
		t.Fatalf("WriteDir() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "Dockerfile,go.mod,main.go" {
		t.Errorf("files = %v, want exactly the three artifacts", names)
	}
	for name, want := range b.Files() {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(want) {
			t.Errorf("%s content mismatch", name)
		}
	}
}
