// Package parser turns raw content units into candidate endpoint mentions.
package parser

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PentesterFlow/apiforge/internal/errors"
)

// Parser dispatches units to the parser for their kind. A unit whose
// content sniffs as an API specification or a request collection is handled
// by that parser alone.
type Parser struct {
	registry  *Registry
	pages     *MarkupParser
	forms     *MarkupParser
	scripts   *ScriptParser
	docs      *DocumentParser
	responses *ResponseParser
}

// New creates a parser. A nil registry selects DefaultRegistry.
func New(registry *Registry) *Parser {
	if registry == nil {
		registry = DefaultRegistry()
	}
	scripts := NewScriptParser()
	docs := NewDocumentParser()
	return &Parser{
		registry:  registry,
		pages:     NewMarkupParser(scripts, docs),
		forms:     NewMarkupParser(scripts, nil),
		scripts:   scripts,
		docs:      docs,
		responses: NewResponseParser(),
	}
}

// Registry returns the language registry used for repository files.
func (p *Parser) Registry() *Registry {
	return p.registry
}

// docExtensions are parsed as prose.
var docExtensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".rst": true, ".adoc": true,
}

// Parse returns the mentions found in u. For repository files in a
// language without a route table the error wraps ErrNoPatterns.
func (p *Parser) Parse(u Unit) ([]Mention, error) {
	if LooksLikeSpec(u.Body) {
		mentions, err := ParseSpecification(u.Body, u.Locator)
		if err == nil {
			return mentions, nil
		}
		// A broken spec still gets the heuristic parsers.
	}
	if mentions, ok := ParseCollection(u.Body, u.Locator, u.Source); ok {
		return mentions, nil
	}

	switch u.Kind {
	case UnitSpec:
		return nil, errors.NewParseError(u.Locator, "parse specification", nil)

	case UnitPage:
		if isJSON(u.ContentType, u.Body) {
			return p.responses.Parse(u.Body, u.Locator, u.Source), nil
		}
		mentions, err := p.pages.Parse(u.Body, u.Locator, u.Source)
		if err != nil {
			return nil, errors.NewParseError(u.Locator, "parse markup", err)
		}
		return mentions, nil

	case UnitMarkup:
		mentions, err := p.forms.Parse(u.Body, u.Locator, u.Source)
		if err != nil {
			return nil, errors.NewParseError(u.Locator, "parse markup", err)
		}
		return mentions, nil

	case UnitScript:
		return p.scripts.Parse(string(u.Body), u.Locator, u.Source), nil

	case UnitNetwork:
		m, ok := capturedMention(u)
		if !ok {
			return nil, nil
		}
		return []Mention{m}, nil

	case UnitDocument:
		return p.docs.Parse(string(u.Body), u.Locator, u.Source), nil

	case UnitFile:
		return p.parseFile(u)

	default:
		return nil, errors.Unsupported(u.Locator, "unknown unit kind "+string(u.Kind))
	}
}

func (p *Parser) parseFile(u Unit) ([]Mention, error) {
	ext := strings.ToLower(filepath.Ext(u.Locator))
	src := string(u.Body)
	switch {
	case docExtensions[ext]:
		return p.docs.Parse(src, u.Locator, u.Source), nil
	case ext == ".graphql" || ext == ".gql":
		return ParseGraphQLSchema(src, u.Locator, u.Source), nil
	case ext == ".json" || ext == ".yaml" || ext == ".yml":
		// Non-spec data files carry no routes.
		return nil, nil
	}
	return p.registry.ParseFile(src, u.Locator)
}

// capturedMention converts a request observed by the headless browser.
func capturedMention(u Unit) (Mention, bool) {
	ref, err := url.Parse(u.Locator)
	if err != nil || ref.Path == "" {
		return Mention{}, false
	}
	path, hints := splitQuery(ref.RequestURI())
	if isAsset(path) {
		return Mention{}, false
	}
	method := strings.ToUpper(u.Method)
	if method == "" {
		method = "GET"
	}
	if body := strings.TrimSpace(string(u.Body)); strings.HasPrefix(body, "{") {
		hints = append(hints, jsonHints(body)...)
	}
	return Mention{
		Source:     u.Source,
		Locator:    u.Locator,
		Fragment:   method + " " + ref.RequestURI(),
		Method:     method,
		Path:       path,
		Hints:      dedupHints(hints),
		Confidence: ConfidenceCaptured,
		Tags:       []string{"captured"},
	}, true
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	t := strings.TrimSpace(string(body))
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}
