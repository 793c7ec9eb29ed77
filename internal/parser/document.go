package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const verbAlternation = `GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS`

var (
	docVerbPathRe = regexp.MustCompile("\\b(" + verbAlternation + ")\\b[\\s:`*|]+((?:https?://[^\\s`'\"<>)|]+)|(?:/[^\\s`'\"<>)|]*))(.*)$")
	docVerbOnlyRe = regexp.MustCompile("^[\\s#>*`_\\[|]*(" + verbAlternation + ")[\\s*`_\\]|]*$")
	docPathOnlyRe = regexp.MustCompile("^[\\s*`>|]*((?:https?://[^\\s`'\"<>|]+)|(?:/[^\\s`'\"<>|]*))[\\s*`|]*(.*)$")
	docHeaderRe   = regexp.MustCompile(`^\s*#{1,6}\s`)
	docFenceRe    = regexp.MustCompile("^\\s*```\\s*(\\w*)")
	docBodyRe     = regexp.MustCompile(`(?i)\b(request\s+body|body\s+param|payload|json\s+body)\b|^\s*body\s*:?\s*$`)
	docHTTPVerRe  = regexp.MustCompile(`\s*HTTP/\d(?:\.\d)?\s*`)
	docKeyRe      = regexp.MustCompile(`"([A-Za-z_][\w-]*)"\s*:`)
)

const docBullet = `^\s*(?:[-*+]|\d+\.)\s+`
const docName = "`?(?P<name>[A-Za-z_][\\w.\\[\\]-]*)`?"

// hintRule recognizes one way documentation lists a parameter. Patterns
// expose "name" and optionally "meta" and "rest".
type hintRule struct {
	name string
	re   *regexp.Regexp
}

var docHintRules = []hintRule{
	{"bold", regexp.MustCompile(docBullet + `\*\*` + docName + `:?\*\*:?\s*(?P<rest>.*)$`)},
	{"parenthesized", regexp.MustCompile(docBullet + docName + `\s*\((?P<meta>[^)]*)\)\s*[:-]?\s*(?P<rest>.*)$`)},
	{"colon", regexp.MustCompile(docBullet + docName + `\s*(?::|\s-|\s–)\s*(?P<rest>.*)$`)},
}

// notParamNames are list labels that look like parameters but describe the
// endpoint itself.
var notParamNames = map[string]bool{
	"note": true, "example": true, "returns": true, "response": true, "responses": true,
	"description": true, "type": true, "required": true, "method": true, "url": true,
	"endpoint": true, "path": true, "status": true, "errors": true, "auth": true,
}

// paramSectionWords keep hint collection going across sub-headings.
var paramSectionWords = []string{"param", "body", "request", "query", "argument", "field", "header", "input"}

// DocumentParser finds verb/path pairs in prose and markdown, then collects
// parameter lists that follow each pair.
type DocumentParser struct {
	rules []hintRule
}

// NewDocumentParser creates a document parser with the built-in hint rules.
func NewDocumentParser() *DocumentParser {
	return &DocumentParser{rules: docHintRules}
}

// Parse scans text line by line. Collection for an endpoint stops at the
// next verb line or at an unrelated heading.
func (p *DocumentParser) Parse(text, locator string, source SourceKind) []Mention {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var (
		mentions []Mention
		cur      *Mention
		bodyMode bool
	)
	flush := func() {
		if cur != nil {
			cur.Hints = dedupHints(cur.Hints)
			mentions = append(mentions, *cur)
			cur = nil
		}
	}
	start := func(i int, method, path, rest string) {
		flush()
		cur = &Mention{
			Source:      source,
			Locator:     fmt.Sprintf("%s:%d", locator, i+1),
			Fragment:    truncateContext(lines[i], 160),
			Method:      method,
			Confidence:  ConfidenceDocument,
			Description: cleanDescription(rest),
		}
		cur.Path, cur.Hints = splitQuery(strings.TrimRight(path, ".,;:"))
		bodyMode = false
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if fm := docFenceRe.FindStringSubmatch(line); fm != nil {
			end := i + 1
			for end < len(lines) && !docFenceRe.MatchString(lines[end]) {
				end++
			}
			block := strings.TrimSpace(strings.Join(lines[i+1:min(end, len(lines))], "\n"))
			lang := strings.ToLower(fm[1])
			if cur != nil && bodyMode && strings.HasPrefix(block, "{") && (lang == "" || lang == "json") {
				cur.Hints = append(cur.Hints, jsonHints(block)...)
				i = end
			}
			continue
		}

		if m := docVerbPathRe.FindStringSubmatch(line); m != nil {
			start(i, m[1], m[2], m[3])
			continue
		}

		if m := docVerbOnlyRe.FindStringSubmatch(line); m != nil {
			if next := nextNonBlank(lines, i+1); next > 0 {
				if pm := docPathOnlyRe.FindStringSubmatch(lines[next]); pm != nil {
					start(i, m[1], pm[1], pm[2])
					i = next
					continue
				}
			}
		}

		if cur == nil {
			continue
		}

		if docHeaderRe.MatchString(line) {
			lower := strings.ToLower(line)
			if containsAny(lower, paramSectionWords...) {
				bodyMode = docBodyRe.MatchString(line) || strings.Contains(lower, "body")
				continue
			}
			flush()
			continue
		}

		if h, ok := p.hintFrom(line); ok {
			h.BodyShaped = h.BodyShaped || bodyMode
			cur.Hints = append(cur.Hints, h)
			continue
		}

		if docBodyRe.MatchString(line) {
			bodyMode = true
			continue
		}

		if trimmed := strings.TrimSpace(line); cur.Description == "" && len(cur.Hints) == 0 && trimmed != "" && !strings.HasSuffix(trimmed, ":") {
			cur.Description = cleanDescription(trimmed)
		}
	}
	flush()
	return mentions
}

// hintFrom recognizes a single parameter line.
func (p *DocumentParser) hintFrom(line string) (Hint, bool) {
	if strings.HasPrefix(strings.TrimSpace(line), "|") {
		return tableHint(line)
	}
	for _, rule := range p.rules {
		m := rule.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[rule.re.SubexpIndex("name")]
		if notParamNames[strings.ToLower(name)] {
			return Hint{}, false
		}
		var meta, rest string
		if i := rule.re.SubexpIndex("meta"); i > 0 {
			meta = m[i]
		}
		if i := rule.re.SubexpIndex("rest"); i > 0 {
			rest = m[i]
		}
		h := Hint{Name: name}
		applyDetails(&h, meta+" "+rest)
		h.Description = cleanDescription(rest)
		return h, true
	}
	return Hint{}, false
}

// tableHint reads "| name | type | required | description |" rows. Header
// and separator rows are rejected.
func tableHint(line string) (Hint, bool) {
	cells := strings.Split(strings.Trim(strings.TrimSpace(line), "|"), "|")
	if len(cells) < 2 {
		return Hint{}, false
	}
	for i := range cells {
		cells[i] = strings.Trim(strings.TrimSpace(cells[i]), "`*")
	}
	name := cells[0]
	if name == "" || strings.Trim(name, "-: ") == "" || notParamNames[strings.ToLower(name)] ||
		strings.EqualFold(name, "name") || strings.EqualFold(name, "parameter") || strings.EqualFold(name, "field") {
		return Hint{}, false
	}
	if strings.ContainsAny(name, " /") {
		return Hint{}, false
	}

	h := Hint{Name: name}
	rest := strings.Join(cells[1:], " ")
	applyDetails(&h, rest)
	for _, c := range cells[1:] {
		switch strings.ToLower(c) {
		case "yes", "y", "true", "required":
			h.Required = true
		}
	}
	h.Description = cells[len(cells)-1]
	return h, true
}

// applyDetails reads type, requiredness and placement words from free text.
func applyDetails(h *Hint, text string) {
	lower := strings.ToLower(text)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '[' || r == ']')
	}) {
		if t := ParseType(w); t != TypeNone {
			h.Type = t
			break
		}
	}
	h.Required = strings.Contains(lower, "required") &&
		!strings.Contains(lower, "not required") && !strings.Contains(lower, "optional")
	if strings.Contains(lower, "in body") || strings.Contains(lower, "body)") || strings.Contains(lower, "(body") {
		h.BodyShaped = true
	}
}

// jsonHints turns an example request body into body-shaped hints, keeping
// key order. Examples that are not valid JSON fall back to key scanning.
func jsonHints(block string) []Hint {
	dec := json.NewDecoder(strings.NewReader(block))
	if tok, err := dec.Token(); err == nil && tok == json.Delim('{') {
		var hints []Hint
		complete := false
		for {
			if !dec.More() {
				end, err := dec.Token()
				complete = err == nil && end == json.Delim('}')
				break
			}
			tok, err := dec.Token()
			if err != nil {
				break
			}
			key, ok := tok.(string)
			if !ok {
				break
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				break
			}
			hints = append(hints, Hint{Name: key, Type: jsonType(raw), BodyShaped: true})
		}
		if complete {
			return hints
		}
	}

	var hints []Hint
	for _, m := range docKeyRe.FindAllStringSubmatch(block, -1) {
		hints = append(hints, Hint{Name: m[1], BodyShaped: true})
	}
	return dedupHints(hints)
}

func jsonType(raw json.RawMessage) ParamType {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return TypeNone
	}
	switch c := raw[0]; {
	case c == '"':
		return TypeString
	case c == '{':
		return TypeObject
	case c == '[':
		return TypeArray
	case c == 't' || c == 'f':
		return TypeBoolean
	case c == '-' || (c >= '0' && c <= '9'):
		return TypeNumber
	default:
		return TypeNone
	}
}

// dedupHints keeps the first hint for each name, folding later evidence in.
func dedupHints(hints []Hint) []Hint {
	if len(hints) < 2 {
		return hints
	}
	index := make(map[string]int, len(hints))
	out := hints[:0:0]
	for _, h := range hints {
		if i, ok := index[h.Name]; ok {
			if out[i].Type == TypeNone {
				out[i].Type = h.Type
			}
			out[i].Required = out[i].Required || h.Required
			out[i].BodyShaped = out[i].BodyShaped || h.BodyShaped
			continue
		}
		index[h.Name] = len(out)
		out = append(out, h)
	}
	return out
}

func cleanDescription(s string) string {
	s = docHTTPVerRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-–—:|*` ")
	s = strings.TrimRight(s, "|*` ")
	return strings.TrimSpace(s)
}

func nextNonBlank(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}
