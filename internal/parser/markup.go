package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PentesterFlow/apiforge/internal/scope"
	"github.com/PuerkitoBio/goquery"
)

// MarkupParser extracts forms, inline scripts and API links from HTML.
type MarkupParser struct {
	scripts  *ScriptParser
	docs     *DocumentParser
	analyzer *FormAnalyzer
}

// NewMarkupParser creates a new markup parser.
func NewMarkupParser(scripts *ScriptParser, docs *DocumentParser) *MarkupParser {
	return &MarkupParser{scripts: scripts, docs: docs, analyzer: NewFormAnalyzer()}
}

// FormInfo represents a parsed form.
type FormInfo struct {
	Action  string
	Method  string
	Enctype string
	ID      string
	Name    string
	Inputs  []InputInfo
}

// InputInfo represents a form input.
type InputInfo struct {
	Name     string
	Type     string
	Value    string
	ID       string
	Class    string
	Required bool
	Disabled bool
}

// ignoredInputTypes never carry user data.
var ignoredInputTypes = map[string]bool{
	"submit": true, "button": true, "reset": true, "image": true,
}

// Parse returns mentions for every form, inline script call site, API-like
// link and verb/path pair in the page text.
func (p *MarkupParser) Parse(body []byte, pageURL string, source SourceKind) ([]Mention, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var mentions []Mention

	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		form := p.parseForm(s, base)
		mentions = append(mentions, p.formMention(form, pageURL, i, source))
	})

	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		if typ, ok := s.Attr("type"); ok && !isScriptType(typ) {
			return
		}
		locator := fmt.Sprintf("%s#script%d", pageURL, i)
		mentions = append(mentions, p.scripts.Parse(s.Text(), locator, source)...)
	})

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved, ok := resolveHref(base, href)
		if !ok || !scope.SameHost(resolved, pageURL) {
			return
		}
		u, _ := url.Parse(resolved)
		if !scope.IsAPIPath(u.Path) || seen[u.Path] {
			return
		}
		seen[u.Path] = true
		path, hints := splitQuery(u.RequestURI())
		mentions = append(mentions, Mention{
			Source:     source,
			Locator:    pageURL,
			Fragment:   truncateContext(strings.TrimSpace(s.Text())+" "+href, 160),
			Path:       path,
			Hints:      hints,
			Confidence: ConfidencePartial,
		})
	})

	if p.docs != nil {
		text, err := HTMLToText(bytes.NewReader(body))
		if err == nil {
			mentions = append(mentions, p.docs.Parse(text, pageURL, source)...)
		}
	}

	return mentions, nil
}

// formMention converts one form into a mention. Browsers submit every named
// control, so each field is required except checkboxes, which are omitted
// when unchecked, and fields explicitly marked disabled.
func (p *MarkupParser) formMention(form FormInfo, pageURL string, index int, source SourceKind) Mention {
	method := strings.ToUpper(form.Method)
	if !IsHTTPMethod(method) {
		method = "GET"
	}
	bodyShaped := method == "POST" || method == "PUT" || method == "PATCH"

	analysis := p.analyzer.Analyze(form)

	var hints []Hint
	for _, in := range form.Inputs {
		if in.Name == "" || in.Disabled || ignoredInputTypes[in.Type] || in.Name == analysis.CSRFField {
			continue
		}
		hints = append(hints, Hint{
			Name:       in.Name,
			Type:       inputType(in.Type),
			Required:   in.Required || in.Type != "checkbox",
			BodyShaped: bodyShaped,
		})
	}

	path := form.Action
	if u, err := url.Parse(form.Action); err == nil {
		var query []Hint
		path, query = splitQuery(u.RequestURI())
		named := make(map[string]bool, len(hints))
		for _, h := range hints {
			named[h.Name] = true
		}
		for _, h := range query {
			if !named[h.Name] {
				hints = append(hints, h)
			}
		}
	}

	m := Mention{
		Source:     source,
		Locator:    fmt.Sprintf("%s#form%d", pageURL, index),
		Fragment:   fmt.Sprintf("<form method=%q action=%q>", method, form.Action),
		Method:     method,
		Path:       path,
		Hints:      hints,
		Confidence: ConfidenceExplicit,
	}
	if analysis.Type != FormTypeGeneric {
		m.Tags = []string{string(analysis.Type)}
	}
	return m
}

// inputType maps an HTML input type onto a parameter type.
func inputType(t string) ParamType {
	switch t {
	case "number", "range":
		return TypeNumber
	case "checkbox":
		return TypeBoolean
	default:
		return TypeString
	}
}

func (p *MarkupParser) parseForm(s *goquery.Selection, base *url.URL) FormInfo {
	form := FormInfo{Method: "GET", Enctype: "application/x-www-form-urlencoded"}

	form.Action = base.String()
	if action, exists := s.Attr("action"); exists && strings.TrimSpace(action) != "" {
		if resolved, ok := resolveHref(base, action); ok {
			form.Action = resolved
		}
	}
	if method, exists := s.Attr("method"); exists && method != "" {
		form.Method = strings.ToUpper(method)
	}
	if enctype, exists := s.Attr("enctype"); exists {
		form.Enctype = enctype
	}
	form.ID, _ = s.Attr("id")
	form.Name, _ = s.Attr("name")

	s.Find("input, textarea, select").Each(func(i int, input *goquery.Selection) {
		form.Inputs = append(form.Inputs, parseInput(input))
	})
	return form
}

func parseInput(s *goquery.Selection) InputInfo {
	info := InputInfo{}
	info.Name, _ = s.Attr("name")
	info.ID, _ = s.Attr("id")
	info.Class, _ = s.Attr("class")
	info.Value, _ = s.Attr("value")

	switch {
	case s.Is("textarea"):
		info.Type = "textarea"
	case s.Is("select"):
		info.Type = "select"
	default:
		info.Type, _ = s.Attr("type")
		info.Type = strings.ToLower(info.Type)
		if info.Type == "" {
			info.Type = "text"
		}
	}

	_, info.Required = s.Attr("required")
	_, info.Disabled = s.Attr("disabled")
	return info
}

func resolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String(), true
}

func isScriptType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	return t == "" || t == "module" || strings.Contains(t, "javascript") || strings.Contains(t, "ecmascript")
}
