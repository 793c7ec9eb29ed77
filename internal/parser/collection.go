package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ysmood/gson"
)

// Request collection formats recognized by ParseCollection.
const (
	CollectionPostman  = "postman"
	CollectionInsomnia = "insomnia"
)

var (
	// {{baseUrl}}, {{ _.token }}
	collectionVarRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	bodyVarRe       = regexp.MustCompile(`"?\{\{\s*([^{}]+?)\s*\}\}"?`)
	varNameRe       = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// ambientHeaders are sent by every client and say nothing about the endpoint.
var ambientHeaders = map[string]bool{
	"accept": true, "accept-encoding": true, "accept-language": true, "authorization": true,
	"cache-control": true, "connection": true, "content-length": true, "content-type": true,
	"cookie": true, "host": true, "origin": true, "referer": true, "user-agent": true,
}

// LooksLikeCollection reports whether body is a Postman v2 collection or an
// Insomnia export.
func LooksLikeCollection(body []byte) bool {
	_, format := loadCollection(body)
	return format != ""
}

func loadCollection(body []byte) (gson.JSON, string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return gson.JSON{}, ""
	}
	doc := gson.New(trimmed)
	switch {
	case strings.Contains(jsonStr(doc.Get("info.schema")), "getpostman.com") && doc.Has("item"):
		return doc, CollectionPostman
	case jsonStr(doc.Get("_type")) == "export" && len(doc.Get("resources").Arr()) > 0:
		return doc, CollectionInsomnia
	}
	return gson.JSON{}, ""
}

// ParseCollection reads the requests saved in a Postman or Insomnia
// collection. Each request becomes one mention at collection confidence,
// with its query keys, headers and body fields as located hints. Folder
// names become tags. ok is false when body is not a collection.
func ParseCollection(body []byte, locator string, source SourceKind) (mentions []Mention, ok bool) {
	doc, format := loadCollection(body)
	switch format {
	case CollectionPostman:
		auth := postmanAuth(doc.Get("auth"), false)
		c := &collection{locator: locator, source: source}
		c.postmanItems(doc.Get("item").Arr(), nil, auth)
		return c.mentions, true
	case CollectionInsomnia:
		c := &collection{locator: locator, source: source}
		c.insomnia(doc.Get("resources").Arr())
		return c.mentions, true
	}
	return nil, false
}

type collection struct {
	locator  string
	source   SourceKind
	mentions []Mention
}

func (c *collection) add(method, rawURL, name, desc string, folders []string, hints []Hint, auth bool) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	if !IsHTTPMethod(method) || strings.TrimSpace(rawURL) == "" {
		return
	}
	path, query := collectionPath(rawURL)
	for i := range query {
		query[i].Location = LocationQuery
	}

	m := Mention{
		Source:      c.source,
		Locator:     fmt.Sprintf("%s#%s %s", c.locator, method, path),
		Fragment:    truncateContext(method+" "+rawURL, 160),
		Method:      method,
		Path:        path,
		Hints:       dedupHints(append(query, hints...)),
		Confidence:  ConfidenceCollection,
		Description: name,
		Auth:        auth,
		Tags:        append([]string(nil), folders...),
	}
	if m.Description == "" {
		m.Description = firstLine(desc)
	}
	c.mentions = append(c.mentions, m)
}

// postmanItems walks folders depth first. A folder's auth applies to the
// requests below it unless they set their own.
func (c *collection) postmanItems(items []gson.JSON, folders []string, auth bool) {
	for _, item := range items {
		name := strings.TrimSpace(jsonStr(item.Get("name")))
		itemAuth := postmanAuth(item.Get("auth"), auth)

		if item.Has("item") {
			sub := folders
			if name != "" {
				sub = append(append([]string(nil), folders...), name)
			}
			c.postmanItems(item.Get("item").Arr(), sub, itemAuth)
			continue
		}
		if !item.Has("request") {
			continue
		}

		req := item.Get("request")
		if raw, isURL := req.Val().(string); isURL {
			c.add("GET", raw, name, "", folders, nil, itemAuth)
			continue
		}

		var hints []Hint
		rawURL := postmanURL(req.Get("url"), &hints)
		for _, h := range req.Get("header").Arr() {
			hints = appendHeader(hints, jsonStr(h.Get("key")), h.Get("disabled").Bool())
		}
		hints = append(hints, postmanBody(req.Get("body"))...)

		c.add(jsonStr(req.Get("method")), rawURL, name, postmanDescription(req.Get("description")), folders, hints, postmanAuth(req.Get("auth"), itemAuth))
	}
}

// postmanURL returns the raw URL of a request. Structured URLs also yield
// their query and path variables as hints.
func postmanURL(u gson.JSON, hints *[]Hint) string {
	if s, ok := u.Val().(string); ok {
		return s
	}
	raw := jsonStr(u.Get("raw"))

	for _, q := range u.Get("query").Arr() {
		key := strings.TrimSpace(jsonStr(q.Get("key")))
		if key == "" {
			continue
		}
		*hints = append(*hints, Hint{
			Name:        key,
			Location:    LocationQuery,
			Required:    !q.Get("disabled").Bool(),
			Description: postmanDescription(q.Get("description")),
		})
	}
	for _, v := range u.Get("variable").Arr() {
		key := strings.TrimSpace(jsonStr(v.Get("key")))
		if key == "" {
			continue
		}
		*hints = append(*hints, Hint{
			Name:        key,
			Location:    LocationPath,
			Required:    true,
			Description: postmanDescription(v.Get("description")),
		})
	}

	segments := u.Get("path").Arr()
	if len(segments) == 0 {
		return raw
	}
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if s, ok := seg.Val().(string); ok {
			parts = append(parts, s)
		} else {
			parts = append(parts, jsonStr(seg.Get("value")))
		}
	}
	return "/" + strings.Join(parts, "/")
}

func postmanBody(body gson.JSON) []Hint {
	switch jsonStr(body.Get("mode")) {
	case "raw":
		return rawBodyHints(jsonStr(body.Get("raw")))
	case "urlencoded", "formdata":
		var hints []Hint
		for _, f := range body.Get(jsonStr(body.Get("mode"))).Arr() {
			key := strings.TrimSpace(jsonStr(f.Get("key")))
			if key == "" || f.Get("disabled").Bool() {
				continue
			}
			hints = append(hints, Hint{Name: key, Location: LocationBody, BodyShaped: true, Required: true})
		}
		return hints
	case "graphql":
		return []Hint{{Name: "query", Type: TypeString, Location: LocationBody, BodyShaped: true, Required: true}}
	}
	return nil
}

// postmanAuth reports whether an auth block asks for credentials. A missing
// block inherits from the parent.
func postmanAuth(auth gson.JSON, inherited bool) bool {
	switch jsonStr(auth.Get("type")) {
	case "":
		return inherited
	case "noauth":
		return false
	default:
		return true
	}
}

// postmanDescription accepts both the string and the {content} forms.
func postmanDescription(d gson.JSON) string {
	if s, ok := d.Val().(string); ok {
		return s
	}
	return jsonStr(d.Get("content"))
}

// insomnia reads request resources. Request groups are folders, linked
// through parentId.
func (c *collection) insomnia(resources []gson.JSON) {
	groups := make(map[string]gson.JSON)
	for _, r := range resources {
		if jsonStr(r.Get("_type")) == "request_group" {
			groups[jsonStr(r.Get("_id"))] = r
		}
	}

	for _, r := range resources {
		if jsonStr(r.Get("_type")) != "request" {
			continue
		}

		var hints []Hint
		for _, p := range r.Get("parameters").Arr() {
			name := strings.TrimSpace(jsonStr(p.Get("name")))
			if name == "" {
				continue
			}
			hints = append(hints, Hint{Name: name, Location: LocationQuery, Required: !p.Get("disabled").Bool()})
		}
		for _, h := range r.Get("headers").Arr() {
			hints = appendHeader(hints, jsonStr(h.Get("name")), h.Get("disabled").Bool())
		}

		body := r.Get("body")
		if text := jsonStr(body.Get("text")); text != "" {
			if strings.Contains(jsonStr(body.Get("mimeType")), "graphql") {
				hints = append(hints, Hint{Name: "query", Type: TypeString, Location: LocationBody, BodyShaped: true, Required: true})
			} else {
				hints = append(hints, rawBodyHints(text)...)
			}
		}
		for _, p := range body.Get("params").Arr() {
			if name := strings.TrimSpace(jsonStr(p.Get("name"))); name != "" && !p.Get("disabled").Bool() {
				hints = append(hints, Hint{Name: name, Location: LocationBody, BodyShaped: true, Required: true})
			}
		}

		authType := jsonStr(r.Get("authentication.type"))
		auth := authType != "" && authType != "none"

		c.add(jsonStr(r.Get("method")), jsonStr(r.Get("url")), strings.TrimSpace(jsonStr(r.Get("name"))),
			jsonStr(r.Get("description")), insomniaFolders(groups, jsonStr(r.Get("parentId"))), hints, auth)
	}
}

// insomniaFolders returns the names of the groups above a request, outermost
// first.
func insomniaFolders(groups map[string]gson.JSON, parent string) []string {
	var folders []string
	seen := make(map[string]bool)
	for parent != "" && !seen[parent] {
		seen[parent] = true
		g, ok := groups[parent]
		if !ok {
			break
		}
		if name := strings.TrimSpace(jsonStr(g.Get("name"))); name != "" {
			folders = append([]string{name}, folders...)
		}
		parent = jsonStr(g.Get("parentId"))
	}
	return folders
}

func appendHeader(hints []Hint, name string, disabled bool) []Hint {
	name = strings.TrimSpace(name)
	if name == "" || disabled || ambientHeaders[strings.ToLower(name)] {
		return hints
	}
	return append(hints, Hint{Name: name, Location: LocationHeader, Type: TypeString})
}

// rawBodyHints reads the top-level keys of a JSON example body. Template
// variables are quoted first so the example still decodes.
func rawBodyHints(raw string) []Hint {
	raw = strings.TrimSpace(bodyVarRe.ReplaceAllString(raw, `"$1"`))
	if !strings.HasPrefix(raw, "{") {
		return nil
	}
	hints := jsonHints(raw)
	for i := range hints {
		hints[i].Location = LocationBody
	}
	return hints
}

// collectionPath turns a saved request URL into a path template. Variables
// become placeholders and the host, given literally or as a variable, is
// dropped.
func collectionPath(raw string) (string, []Hint) {
	raw = strings.TrimSpace(collectionVarRe.ReplaceAllStringFunc(raw, collectionVarToPlaceholder))
	if i := strings.Index(raw, "#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	} else if strings.HasPrefix(raw, "/") {
		return splitQuery(raw)
	}
	if i := strings.IndexAny(raw, "/?"); i >= 0 {
		raw = raw[i:]
	} else {
		raw = "/"
	}
	if strings.HasPrefix(raw, "?") {
		raw = "/" + raw
	}
	return splitQuery(raw)
}

// collectionVarToPlaceholder maps {{ _.user.id }} to {id}.
func collectionVarToPlaceholder(m string) string {
	name := collectionVarRe.FindStringSubmatch(m)[1]
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(varNameRe.ReplaceAllString(name, "_"), "_")
	if name == "" {
		name = "param"
	}
	return "{" + name + "}"
}

// jsonStr returns the string at j, or "" when j is missing or not a string.
func jsonStr(j gson.JSON) string {
	s, _ := j.Val().(string)
	return s
}
