package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// specProbe holds the keys that mark a document as an API specification.
type specProbe struct {
	OpenAPI string `json:"openapi" yaml:"openapi"`
	Swagger string `json:"swagger" yaml:"swagger"`
}

// LooksLikeSpec reports whether body is a JSON or YAML document with a
// top-level "openapi" or "swagger" version key.
func LooksLikeSpec(body []byte) bool {
	_, ok := specVersion(body)
	return ok
}

func specVersion(body []byte) (specProbe, bool) {
	var probe specProbe
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return probe, false
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return probe, false
		}
	} else if trimmed[0] == '<' {
		return probe, false
	} else if err := yaml.Unmarshal(trimmed, &probe); err != nil {
		return probe, false
	}
	return probe, probe.OpenAPI != "" || probe.Swagger != ""
}

// ParseSpecification reads an OpenAPI 3 or Swagger 2 document. Every
// operation becomes one mention at specification confidence with its
// parameters at their stated locations. Output order is sorted by path,
// then method.
func ParseSpecification(body []byte, locator string) ([]Mention, error) {
	probe, ok := specVersion(body)
	if !ok {
		return nil, fmt.Errorf("%s: no openapi or swagger version key", locator)
	}

	doc, err := loadSpec(body, probe)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", locator, err)
	}
	if doc.Paths == nil {
		return nil, nil
	}

	basePath := serverBasePath(doc.Servers)
	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mentions []Mention
	for _, path := range keys {
		item := paths[path]
		if item == nil {
			continue
		}
		ops := item.Operations()
		methods := make([]string, 0, len(ops))
		for m := range ops {
			methods = append(methods, m)
		}
		sort.Strings(methods)

		for _, method := range methods {
			op := ops[method]
			m := Mention{
				Source:      SourceSpecification,
				Locator:     fmt.Sprintf("%s#%s %s", locator, method, path),
				Fragment:    method + " " + path,
				Method:      strings.ToUpper(method),
				Path:        joinPath(basePath, path),
				Confidence:  ConfidenceSpecification,
				Description: op.Summary,
				Tags:        append([]string(nil), op.Tags...),
			}
			if m.Description == "" {
				m.Description = firstLine(op.Description)
			}

			m.Hints = append(m.Hints, specParams(item.Parameters)...)
			m.Hints = append(m.Hints, specParams(op.Parameters)...)
			m.Hints = append(m.Hints, specBody(op.RequestBody)...)
			m.Hints = dedupHints(m.Hints)

			security := doc.Security
			if op.Security != nil {
				security = *op.Security
			}
			m.Auth = requiresAuth(security)

			mentions = append(mentions, m)
		}
	}
	return mentions, nil
}

func loadSpec(body []byte, probe specProbe) (*openapi3.T, error) {
	if probe.OpenAPI != "" {
		loader := openapi3.NewLoader()
		return loader.LoadFromData(body)
	}

	data := body
	if t := bytes.TrimSpace(body); len(t) > 0 && t[0] != '{' {
		var generic interface{}
		if err := yaml.Unmarshal(body, &generic); err != nil {
			return nil, err
		}
		converted, err := json.Marshal(jsonCompatible(generic))
		if err != nil {
			return nil, err
		}
		data = converted
	}

	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		return nil, err
	}
	doc3, err := openapi2conv.ToV3(&doc2)
	if err != nil {
		return nil, err
	}
	// Swagger 2 keeps its prefix in basePath; ToV3 moves it into servers
	// only when a host is present.
	if doc2.BasePath != "" && len(doc3.Servers) == 0 {
		doc3.Servers = openapi3.Servers{{URL: doc2.BasePath}}
	}
	return doc3, nil
}

// jsonCompatible converts YAML maps with interface keys into string-keyed
// maps so encoding/json can marshal them.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	default:
		return v
	}
}

func serverBasePath(servers openapi3.Servers) string {
	if len(servers) == 0 || servers[0] == nil {
		return ""
	}
	raw := servers[0].URL
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		// Templated hosts such as "{scheme}://api" still carry a usable path.
		if i := strings.Index(raw, "://"); i >= 0 {
			rest := raw[i+3:]
			if j := strings.Index(rest, "/"); j >= 0 {
				return strings.TrimSuffix(rest[j:], "/")
			}
		}
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}

func specParams(params openapi3.Parameters) []Hint {
	var hints []Hint
	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		h := Hint{
			Name:        p.Name,
			Required:    p.Required,
			Description: firstLine(p.Description),
			Type:        schemaType(p.Schema),
		}
		switch p.In {
		case openapi3.ParameterInPath:
			h.Location = LocationPath
			h.Required = true
		case openapi3.ParameterInQuery:
			h.Location = LocationQuery
		case openapi3.ParameterInHeader:
			h.Location = LocationHeader
		case openapi3.ParameterInCookie:
			h.Location = LocationHeader
		}
		hints = append(hints, h)
	}
	return hints
}

func specBody(ref *openapi3.RequestBodyRef) []Hint {
	if ref == nil || ref.Value == nil {
		return nil
	}
	media := ref.Value.Content.Get("application/json")
	if media == nil {
		media = ref.Value.Content.Get("application/x-www-form-urlencoded")
	}
	if media == nil {
		media = ref.Value.Content.Get("multipart/form-data")
	}
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}
	schema := media.Schema.Value

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var hints []Hint
	for _, name := range names {
		prop := schema.Properties[name]
		h := Hint{
			Name:       name,
			Type:       schemaType(prop),
			Location:   LocationBody,
			Required:   required[name],
			BodyShaped: true,
		}
		if prop != nil && prop.Value != nil {
			h.Description = firstLine(prop.Value.Description)
		}
		hints = append(hints, h)
	}
	return hints
}

func schemaType(ref *openapi3.SchemaRef) ParamType {
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return TypeNone
	}
	for _, t := range ref.Value.Type.Slice() {
		if t == "null" {
			continue
		}
		return ParseType(t)
	}
	return TypeNone
}

func requiresAuth(reqs openapi3.SecurityRequirements) bool {
	for _, req := range reqs {
		if len(req) > 0 {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
