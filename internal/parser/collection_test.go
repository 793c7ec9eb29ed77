package parser

import (
	"testing"
)

const postmanCollection = `{
  "info": {
    "name": "Clinic API",
    "schema": "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"
  },
  "auth": {"type": "bearer", "bearer": [{"key": "token", "value": "{{token}}"}]},
  "variable": [{"key": "baseUrl", "value": "https://clinic.test"}],
  "item": [
    {
      "name": "Patients",
      "item": [
        {
          "name": "Get patient",
          "request": {
            "method": "GET",
            "header": [
              {"key": "Accept", "value": "application/json"},
              {"key": "X-Clinic-Id", "value": "{{clinicId}}"}
            ],
            "url": {
              "raw": "{{baseUrl}}/patients/:patientId?include=visits",
              "host": ["{{baseUrl}}"],
              "path": ["patients", ":patientId"],
              "query": [
                {"key": "include", "value": "visits"},
                {"key": "debug", "value": "1", "disabled": true}
              ],
              "variable": [{"key": "patientId", "description": "Patient number"}]
            }
          }
        },
        {
          "name": "Create patient",
          "request": {
            "method": "POST",
            "body": {
              "mode": "raw",
              "raw": "{\"name\": \"{{name}}\", \"age\": 42, \"tags\": []}"
            },
            "url": "{{baseUrl}}/patients"
          }
        }
      ]
    },
    {
      "name": "Health",
      "request": {
        "auth": {"type": "noauth"},
        "method": "GET",
        "url": {"raw": "https://clinic.test/health"}
      }
    },
    {
      "name": "Login",
      "request": {
        "method": "POST",
        "auth": {"type": "noauth"},
        "body": {
          "mode": "urlencoded",
          "urlencoded": [
            {"key": "email", "value": "a@b.c"},
            {"key": "password", "value": "x"},
            {"key": "remember", "value": "1", "disabled": true}
          ]
        },
        "url": "{{baseUrl}}/login"
      }
    },
    {"name": "Legacy ping", "request": "https://clinic.test/ping"}
  ]
}`

const insomniaExport = `{
  "_type": "export",
  "__export_format": 4,
  "resources": [
    {"_id": "wrk_1", "_type": "workspace", "name": "Clinic"},
    {"_id": "fld_1", "_type": "request_group", "parentId": "wrk_1", "name": "Scheduling"},
    {"_id": "fld_2", "_type": "request_group", "parentId": "fld_1", "name": "Slots"},
    {
      "_id": "req_1", "_type": "request", "parentId": "fld_2",
      "name": "Book slot", "method": "PUT",
      "url": "{{ _.base_url }}/slots/{{ _.slotId }}",
      "parameters": [{"name": "notify", "value": "true"}],
      "headers": [{"name": "Content-Type", "value": "application/json"}, {"name": "X-Request-Id", "value": "1"}],
      "body": {"mimeType": "application/json", "text": "{\"patient\": 7, \"reason\": \"checkup\"}"},
      "authentication": {"type": "bearer", "token": "{{ _.token }}"}
    },
    {
      "_id": "req_2", "_type": "request", "parentId": "wrk_1",
      "name": "List slots", "method": "GET",
      "url": "https://clinic.test/slots?day=monday",
      "authentication": {}
    },
    {"_id": "env_1", "_type": "environment", "data": {"base_url": "https://clinic.test"}}
  ]
}`

// =============================================================================
// Detection Tests
// =============================================================================

func TestLooksLikeCollection(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"postman", postmanCollection, true},
		{"insomnia", insomniaExport, true},
		{"openapi", `{"openapi": "3.0.0", "paths": {}}`, false},
		{"other schema", `{"info": {"schema": "https://example.com/schema"}, "item": []}`, false},
		{"insomnia without resources", `{"_type": "export", "resources": []}`, false},
		{"broken json", `{"info": {"schema": "getpostman.com"`, false},
		{"array", `[{"method": "GET"}]`, false},
		{"empty", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeCollection([]byte(tt.body)); got != tt.want {
				t.Errorf("LooksLikeCollection() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Postman Tests
// =============================================================================

func TestParseCollection_Postman(t *testing.T) {
	mentions, ok := ParseCollection([]byte(postmanCollection), "clinic.postman_collection.json", SourceDocument)
	if !ok {
		t.Fatal("ParseCollection() did not recognize the collection")
	}
	if len(mentions) != 5 {
		t.Fatalf("len(mentions) = %d, want 5: %+v", len(mentions), mentions)
	}
	for _, m := range mentions {
		if m.Confidence != ConfidenceCollection || m.Source != SourceDocument {
			t.Errorf("%s %s: confidence %v source %s", m.Method, m.Path, m.Confidence, m.Source)
		}
	}

	get := findMention(mentions, "GET", "/patients/:patientId")
	if get == nil {
		t.Fatalf("GET /patients/:patientId missing from %+v", mentions)
	}
	if get.Description != "Get patient" || len(get.Tags) != 1 || get.Tags[0] != "Patients" {
		t.Errorf("description %q tags %v", get.Description, get.Tags)
	}
	if !get.Auth {
		t.Error("collection bearer auth should apply to folder requests")
	}
	if h := hintNamed(get.Hints, "include"); h == nil || h.Location != LocationQuery || !h.Required {
		t.Errorf("include = %+v, want a required query hint", h)
	}
	if h := hintNamed(get.Hints, "debug"); h == nil || h.Required {
		t.Errorf("debug = %+v, want an optional query hint", h)
	}
	if h := hintNamed(get.Hints, "patientId"); h == nil || h.Location != LocationPath || h.Description != "Patient number" {
		t.Errorf("patientId = %+v, want a described path hint", h)
	}
	if h := hintNamed(get.Hints, "X-Clinic-Id"); h == nil || h.Location != LocationHeader {
		t.Errorf("X-Clinic-Id = %+v, want a header hint", h)
	}
	if hintNamed(get.Hints, "Accept") != nil {
		t.Error("standard headers should not become parameters")
	}

	create := findMention(mentions, "POST", "/patients")
	if create == nil {
		t.Fatalf("POST /patients missing from %+v", mentions)
	}
	wantTypes := map[string]ParamType{"name": TypeString, "age": TypeNumber, "tags": TypeArray}
	for name, typ := range wantTypes {
		h := hintNamed(create.Hints, name)
		if h == nil || !h.BodyShaped || h.Location != LocationBody || h.Type != typ {
			t.Errorf("body hint %s = %+v, want %s in body", name, h, typ)
		}
	}

	health := findMention(mentions, "GET", "/health")
	if health == nil || health.Auth || len(health.Tags) != 0 {
		t.Errorf("health = %+v, want a public top-level request", health)
	}

	login := findMention(mentions, "POST", "/login")
	if login == nil || login.Auth {
		t.Fatalf("login = %+v, want an unauthenticated POST", login)
	}
	if hintNamed(login.Hints, "email") == nil || hintNamed(login.Hints, "password") == nil {
		t.Errorf("login hints = %+v, want email and password", login.Hints)
	}
	if hintNamed(login.Hints, "remember") != nil {
		t.Error("disabled form fields should be skipped")
	}

	if findMention(mentions, "GET", "/ping") == nil {
		t.Errorf("a request given as a bare URL should be read as GET: %+v", mentions)
	}
}

func TestCollectionPath(t *testing.T) {
	tests := []struct {
		raw       string
		wantPath  string
		wantHints []string
	}{
		{"{{baseUrl}}/users/{{userId}}", "/users/{userId}", nil},
		{"https://api.test/v1/orders?status=open&page={{page}}", "/v1/orders", []string{"status", "page"}},
		{"{{ _.base_url }}/slots/{{ _.slot.id }}", "/slots/{id}", nil},
		{"/relative/:id", "/relative/:id", nil},
		{"{{baseUrl}}", "/", nil},
		{"api.test/items#frag", "/items", nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			path, hints := collectionPath(tt.raw)
			if path != tt.wantPath {
				t.Errorf("path = %q, want %q", path, tt.wantPath)
			}
			if len(hints) != len(tt.wantHints) {
				t.Fatalf("hints = %+v, want %v", hints, tt.wantHints)
			}
			for i, name := range tt.wantHints {
				if hints[i].Name != name {
					t.Errorf("hints[%d] = %q, want %q", i, hints[i].Name, name)
				}
			}
		})
	}
}

// =============================================================================
// Insomnia Tests
// =============================================================================

func TestParseCollection_Insomnia(t *testing.T) {
	mentions, ok := ParseCollection([]byte(insomniaExport), "insomnia.json", SourceRepository)
	if !ok {
		t.Fatal("ParseCollection() did not recognize the export")
	}
	if len(mentions) != 2 {
		t.Fatalf("len(mentions) = %d, want 2: %+v", len(mentions), mentions)
	}

	book := findMention(mentions, "PUT", "/slots/{slotId}")
	if book == nil {
		t.Fatalf("PUT /slots/{slotId} missing from %+v", mentions)
	}
	if !book.Auth {
		t.Error("bearer authentication should mark the request")
	}
	if len(book.Tags) != 2 || book.Tags[0] != "Scheduling" || book.Tags[1] != "Slots" {
		t.Errorf("Tags = %v, want [Scheduling Slots]", book.Tags)
	}
	for _, name := range []string{"patient", "reason"} {
		if h := hintNamed(book.Hints, name); h == nil || h.Location != LocationBody {
			t.Errorf("body hint %s = %+v", name, h)
		}
	}
	if h := hintNamed(book.Hints, "notify"); h == nil || h.Location != LocationQuery {
		t.Errorf("notify = %+v, want a query hint", h)
	}
	if hintNamed(book.Hints, "X-Request-Id") == nil || hintNamed(book.Hints, "Content-Type") != nil {
		t.Errorf("header hints = %+v", book.Hints)
	}

	list := findMention(mentions, "GET", "/slots")
	if list == nil || list.Auth || len(list.Tags) != 0 {
		t.Fatalf("list = %+v, want a public request outside any folder", list)
	}
	if h := hintNamed(list.Hints, "day"); h == nil || h.Location != LocationQuery {
		t.Errorf("day = %+v, want a query hint from the URL", h)
	}
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestParser_CollectionShortCircuits(t *testing.T) {
	p := New(nil)
	units := []Unit{
		{Kind: UnitFile, Source: SourceRepository, Locator: "docs/clinic.postman_collection.json", Body: []byte(postmanCollection)},
		{Kind: UnitDocument, Source: SourceDocument, Locator: "clinic.json", ContentType: "application/json", Body: []byte(postmanCollection)},
		{Kind: UnitPage, Source: SourceWeb, Locator: "https://clinic.test/collection.json", ContentType: "application/json", Body: []byte(insomniaExport)},
	}
	for _, u := range units {
		t.Run(u.Locator, func(t *testing.T) {
			mentions, err := p.Parse(u)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(mentions) == 0 {
				t.Fatal("collection produced no mentions")
			}
			for _, m := range mentions {
				if m.Confidence != ConfidenceCollection {
					t.Errorf("%s %s has confidence %v, want only collection mentions", m.Method, m.Path, m.Confidence)
				}
			}
		})
	}
}
