// Package synth turns catalogue endpoints into invocable tool definitions.
package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// Binding routes one tool argument into the request.
type Binding struct {
	Param    string          `json:"param"`
	Target   parser.Location `json:"target"`
	Key      string          `json:"key"`
	Required bool            `json:"required,omitempty"`
}

// Invocation is everything needed to build a request from arguments.
type Invocation struct {
	Method       string    `json:"method"`
	PathTemplate string    `json:"path_template"`
	Bindings     []Binding `json:"bindings"`
}

// Tool is a machine-invocable definition derived from one endpoint.
type Tool struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Category     string              `json:"category"`
	Input        []catalog.Parameter `json:"input"`
	Invocation   Invocation          `json:"invocation"`
	Confidence   float64             `json:"confidence"`
	AuthRequired bool                `json:"auth_required,omitempty"`
}

// Synthesize builds one tool per endpoint. Output order and IDs depend only
// on the endpoint set, so repeated calls give identical results.
func Synthesize(endpoints []catalog.Endpoint) []Tool {
	eps := make([]catalog.Endpoint, len(endpoints))
	for i, ep := range endpoints {
		eps[i] = ep.Clone()
	}
	catalog.SortEndpoints(eps)

	used := make(map[string]bool, len(eps))
	tools := make([]Tool, 0, len(eps))
	for _, ep := range eps {
		id := ID(ep.Method, ep.Path)
		if used[id] {
			base := id
			for n := 2; used[id]; n++ {
				suffix := "_" + strconv.Itoa(n)
				id = clip(base, MaxIDLength-len(suffix)) + suffix
			}
		}
		used[id] = true
		tools = append(tools, FromEndpoint(id, ep))
	}
	return tools
}

// FromEndpoint builds the tool for ep under the given id.
func FromEndpoint(id string, ep catalog.Endpoint) Tool {
	method := catalog.NormalizeMethod(ep.Method)
	t := Tool{
		ID:           id,
		Name:         method + " " + ep.Path,
		Description:  describe(method, ep),
		Category:     ep.Category,
		Input:        append([]catalog.Parameter(nil), ep.Parameters...),
		Confidence:   ep.Confidence,
		AuthRequired: ep.AuthRequired,
		Invocation: Invocation{
			Method:       method,
			PathTemplate: ep.Path,
		},
	}
	for _, p := range ep.Parameters {
		t.Invocation.Bindings = append(t.Invocation.Bindings, Binding{
			Param:    p.Name,
			Target:   target(p.Location),
			Key:      p.Name,
			Required: p.Required,
		})
	}
	return t
}

func describe(method string, ep catalog.Endpoint) string {
	desc := strings.TrimSpace(ep.Description)
	if desc == "" {
		desc = fmt.Sprintf("%s request to %s", method, ep.Path)
	}
	if ep.Category != "" {
		desc += " (category: " + ep.Category + ")"
	}
	return desc
}

func target(loc parser.Location) parser.Location {
	switch loc {
	case parser.LocationPath, parser.LocationQuery, parser.LocationBody, parser.LocationHeader:
		return loc
	default:
		return parser.LocationQuery
	}
}

// MaxIDLength is the longest tool identifier MCP clients accept.
const MaxIDLength = 64

var (
	holderRe   = regexp.MustCompile(`\{([^{}/]+)\}`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// ID derives a stable identifier such as get_users_by_id from a method and
// path template. Identifiers longer than MaxIDLength keep their head and end
// in a short digest of the method and template.
func ID(method, template string) string {
	slug := holderRe.ReplaceAllString(template, "/by_$1/")
	slug = strings.Trim(nonAlnumRe.ReplaceAllString(strings.ToLower(slug), "_"), "_")
	if slug == "" {
		slug = "root"
	}
	id := slug
	if m := strings.Trim(nonAlnumRe.ReplaceAllString(strings.ToLower(method), "_"), "_"); m != "" {
		id = m + "_" + slug
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "endpoint_" + id
	}
	if len(id) > MaxIDLength {
		sum := sha256.Sum256([]byte(method + " " + template))
		digest := hex.EncodeToString(sum[:4])
		id = clip(id, MaxIDLength-len(digest)-1) + "_" + digest
	}
	return id
}

// clip shortens id to at most n bytes without leaving a trailing separator.
func clip(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return strings.TrimRight(id[:n], "_")
}
