package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ResponseParser finds endpoint references inside JSON response bodies:
// HATEOAS link objects and string fields that hold API URLs.
type ResponseParser struct{}

// NewResponseParser creates a new response parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Parse walks a JSON document. Links to other hosts are ignored when
// locator is an absolute URL.
func (p *ResponseParser) Parse(body []byte, locator string, source SourceKind) []Mention {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil
	}
	base, _ := url.Parse(locator)

	w := &responseWalk{base: base, locator: locator, source: source, seen: make(map[string]bool)}
	w.walk(data)
	return w.mentions
}

type responseWalk struct {
	base     *url.URL
	locator  string
	source   SourceKind
	seen     map[string]bool
	mentions []Mention
}

func (w *responseWalk) walk(data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for _, key := range sortedKeys(v) {
			value := v[key]
			if key == "_links" || key == "links" {
				w.links(value)
				continue
			}
			if isURLField(key) {
				if s, ok := value.(string); ok {
					w.add(s, "", key)
				}
			}
			w.walk(value)
		}
	case []interface{}:
		for _, item := range v {
			w.walk(item)
		}
	}
}

// links reads HATEOAS link collections in both map and list form.
func (w *responseWalk) links(data interface{}) {
	var objs []map[string]interface{}
	switch v := data.(type) {
	case map[string]interface{}:
		for _, rel := range sortedKeys(v) {
			if obj, ok := v[rel].(map[string]interface{}); ok {
				objs = append(objs, obj)
			}
		}
	case []interface{}:
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				objs = append(objs, obj)
			}
		}
	}
	for _, obj := range objs {
		href, ok := obj["href"].(string)
		if !ok {
			continue
		}
		method := "GET"
		if m, ok := obj["method"].(string); ok && IsHTTPMethod(m) {
			method = strings.ToUpper(m)
		}
		w.add(href, method, "hateoas")
	}
}

func (w *responseWalk) add(raw, method, tag string) {
	if !isValidAPIURL(raw) {
		return
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return
	}
	if w.base != nil && w.base.Host != "" {
		if ref.Host != "" && !strings.EqualFold(ref.Hostname(), w.base.Hostname()) {
			return
		}
		ref = w.base.ResolveReference(ref)
	}
	key := method + " " + ref.Path
	if ref.Path == "" || w.seen[key] {
		return
	}
	w.seen[key] = true

	path, hints := splitQuery(ref.RequestURI())
	if isAsset(path) {
		return
	}
	conf := ConfidencePartial
	if method != "" {
		conf = ConfidenceExplicit
	}
	w.mentions = append(w.mentions, Mention{
		Source:     w.source,
		Locator:    w.locator,
		Fragment:   truncateContext(raw, 160),
		Method:     method,
		Path:       path,
		Hints:      hints,
		Confidence: conf,
		Tags:       []string{tag},
	})
}

var graphqlTypeRe = regexp.MustCompile(`(?s)(?:extend\s+)?type\s+(Query|Mutation|Subscription)\s*\{([^}]*)\}`)

// ParseGraphQLSchema turns an SDL document into a single POST /graphql
// mention listing the root operations it declares.
func ParseGraphQLSchema(schema, locator string, source SourceKind) []Mention {
	var ops []string
	for _, m := range graphqlTypeRe.FindAllStringSubmatch(schema, -1) {
		kind := strings.ToLower(m[1])
		for _, field := range parseGraphQLFields(m[2]) {
			ops = append(ops, kind+" "+field)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	return []Mention{{
		Source:      source,
		Locator:     locator,
		Fragment:    truncateContext(strings.Join(ops, ", "), 160),
		Method:      "POST",
		Path:        "/graphql",
		Confidence:  ConfidenceExplicit,
		Description: fmt.Sprintf("GraphQL endpoint (%s)", strings.Join(ops, ", ")),
		Tags:        []string{"graphql"},
		Hints: []Hint{
			{Name: "query", Type: TypeString, Required: true, BodyShaped: true},
			{Name: "variables", Type: TypeObject, BodyShaped: true},
			{Name: "operationName", Type: TypeString, BodyShaped: true},
		},
	}}
}

func parseGraphQLFields(block string) []string {
	var fields []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, `"`) {
			continue
		}
		if idx := strings.IndexAny(line, "(:"); idx > 0 {
			fields = append(fields, strings.TrimSpace(line[:idx]))
		}
	}
	return fields
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isURLField(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range []string{"url", "href", "uri", "endpoint", "next", "prev", "self"} {
		if lower == field || strings.HasSuffix(lower, "_"+field) || strings.HasSuffix(lower, field+"_url") {
			return true
		}
	}
	return false
}

func isValidAPIURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \n") {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") ||
		(strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//"))
}
