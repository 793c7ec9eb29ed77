package parser

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

const petstoreV3 = `{
  "openapi": "3.0.3",
  "info": {"title": "Pets", "version": "1.0.0"},
  "servers": [{"url": "https://api.example.com/v1"}],
  "security": [{"bearerAuth": []}],
  "components": {
    "securitySchemes": {"bearerAuth": {"type": "http", "scheme": "bearer"}},
    "schemas": {
      "NewPet": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "description": "Pet name"},
          "age": {"type": "integer"},
          "vaccinated": {"type": "boolean"}
        }
      }
    }
  },
  "paths": {
    "/pets": {
      "get": {
        "summary": "List pets",
        "tags": ["pets"],
        "security": [],
        "parameters": [
          {"name": "limit", "in": "query", "schema": {"type": "integer"}},
          {"name": "X-Trace", "in": "header", "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      },
      "post": {
        "summary": "Create a pet",
        "requestBody": {
          "required": true,
          "content": {"application/json": {"schema": {"$ref": "#/components/schemas/NewPet"}}}
        },
        "responses": {"201": {"description": "created"}}
      }
    },
    "/pets/{petId}": {
      "parameters": [{"name": "petId", "in": "path", "required": true, "schema": {"type": "string"}}],
      "delete": {
        "description": "Remove a pet.\nThis cannot be undone.",
        "responses": {"204": {"description": "gone"}}
      }
    }
  }
}`

const petstoreV2 = `swagger: "2.0"
info:
  title: Pets
  version: "1.0"
basePath: /api
paths:
  /pets/{id}:
    get:
      summary: Find pet
      parameters:
        - name: id
          in: path
          required: true
          type: integer
        - name: verbose
          in: query
          type: boolean
      responses:
        "200":
          description: ok
`

// =============================================================================
// Specification Parser Tests
// =============================================================================

func TestLooksLikeSpec(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"openapi json", `{"openapi": "3.1.0", "paths": {}}`, true},
		{"swagger yaml", "swagger: '2.0'\npaths: {}\n", true},
		{"openapi yaml", "openapi: 3.0.0\ninfo: {}\n", true},
		{"plain json", `{"name": "x"}`, false},
		{"nested key only", `{"info": {"openapi": "3.0.0"}}`, false},
		{"html", `<html><body>openapi: 3</body></html>`, false},
		{"markdown", "# Title\n\nSome text", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeSpec([]byte(tt.body)); got != tt.want {
				t.Errorf("LooksLikeSpec() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSpecification_OpenAPI3(t *testing.T) {
	mentions, err := ParseSpecification([]byte(petstoreV3), "https://api.example.com/openapi.json")
	if err != nil {
		t.Fatalf("ParseSpecification() error = %v", err)
	}
	if len(mentions) != 3 {
		t.Fatalf("len(mentions) = %d, want 3: %+v", len(mentions), mentions)
	}

	// Sorted by path, then method.
	order := []routeWant{{"GET", "/v1/pets"}, {"POST", "/v1/pets"}, {"DELETE", "/v1/pets/{petId}"}}
	for i, w := range order {
		if mentions[i].Method != w.method || mentions[i].Path != w.path {
			t.Errorf("mentions[%d] = %s %s, want %s %s", i, mentions[i].Method, mentions[i].Path, w.method, w.path)
		}
		if mentions[i].Confidence != ConfidenceSpecification {
			t.Errorf("mentions[%d].Confidence = %v, want 1.0", i, mentions[i].Confidence)
		}
		if mentions[i].Source != SourceSpecification {
			t.Errorf("mentions[%d].Source = %q", i, mentions[i].Source)
		}
	}

	list := mentions[0]
	if list.Description != "List pets" || len(list.Tags) != 1 || list.Tags[0] != "pets" {
		t.Errorf("list metadata = %q %v", list.Description, list.Tags)
	}
	if list.Auth {
		t.Error("an empty operation security list overrides the global requirement")
	}
	if h := hintNamed(list.Hints, "limit"); h == nil || h.Location != LocationQuery || h.Type != TypeNumber {
		t.Errorf("hint limit = %+v", h)
	}
	if h := hintNamed(list.Hints, "X-Trace"); h == nil || h.Location != LocationHeader {
		t.Errorf("hint X-Trace = %+v", h)
	}

	create := mentions[1]
	if !create.Auth {
		t.Error("global security should apply to POST /pets")
	}
	body := []struct {
		name     string
		typ      ParamType
		required bool
	}{
		{"age", TypeNumber, false},
		{"name", TypeString, true},
		{"vaccinated", TypeBoolean, false},
	}
	if len(create.Hints) != len(body) {
		t.Fatalf("len(create.Hints) = %d, want %d", len(create.Hints), len(body))
	}
	for i, b := range body {
		h := create.Hints[i]
		if h.Name != b.name || h.Type != b.typ || h.Required != b.required || h.Location != LocationBody || !h.BodyShaped {
			t.Errorf("create.Hints[%d] = %+v, want body %s %q required=%v", i, h, b.name, b.typ, b.required)
		}
	}

	remove := mentions[2]
	if remove.Description != "Remove a pet." {
		t.Errorf("Description = %q, want first line of description", remove.Description)
	}
	if h := hintNamed(remove.Hints, "petId"); h == nil || h.Location != LocationPath || !h.Required {
		t.Errorf("path-level parameter = %+v", h)
	}
}

func TestParseSpecification_Swagger2YAML(t *testing.T) {
	mentions, err := ParseSpecification([]byte(petstoreV2), "swagger.yaml")
	if err != nil {
		t.Fatalf("ParseSpecification() error = %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("len(mentions) = %d, want 1: %+v", len(mentions), mentions)
	}
	m := mentions[0]
	if m.Method != "GET" || m.Path != "/api/pets/{id}" {
		t.Errorf("mention = %s %s, want GET /api/pets/{id}", m.Method, m.Path)
	}
	if h := hintNamed(m.Hints, "id"); h == nil || h.Location != LocationPath || h.Type != TypeNumber {
		t.Errorf("hint id = %+v", h)
	}
	if h := hintNamed(m.Hints, "verbose"); h == nil || h.Location != LocationQuery || h.Type != TypeBoolean {
		t.Errorf("hint verbose = %+v", h)
	}
}

func TestParseSpecification_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not a spec", `{"hello": "world"}`},
		{"broken json", `{"openapi": "3.0.0", "paths": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSpecification([]byte(tt.body), "x.json"); err == nil {
				t.Error("ParseSpecification() should fail")
			}
		})
	}
}

func TestServerBasePath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.example.com/v1/", "/v1"},
		{"https://api.example.com", ""},
		{"/api", "/api"},
		{"{scheme}://{host}/base", "/base"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := serverBasePath(openapi3.Servers{{URL: tt.url}})
			if got != tt.want {
				t.Errorf("serverBasePath(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
