package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// callShape describes how a call site lays out its arguments.
type callShape int

const (
	shapeURLData  callShape = iota // (url, data?)
	shapeFetch                     // (url, {method, body, headers})
	shapeConfig                    // ({url, method|type, data|params})
	shapeVerbURL                   // ("METHOD", url)
)

// callSite is one request-issuing call shape. When verbGroup is set, the
// verb is read from that submatch of prefix.
type callSite struct {
	name      string
	prefix    *regexp.Regexp
	shape     callShape
	verbGroup int
}

// callSites is evaluated in order; the first rule to claim a call wins.
var callSites = []callSite{
	{name: "fetch", prefix: regexp.MustCompile(`\bfetch\s*\(`), shape: shapeFetch},
	{name: "axios", prefix: regexp.MustCompile(`\baxios\.(get|post|put|delete|patch|head)\s*(?:<[^>(]*>)?\s*\(`), shape: shapeURLData, verbGroup: 1},
	{name: "axios-config", prefix: regexp.MustCompile(`\baxios(?:\.request)?\s*\(`), shape: shapeConfig},
	{name: "jquery-ajax", prefix: regexp.MustCompile(`\$\.ajax\s*\(`), shape: shapeConfig},
	{name: "jquery", prefix: regexp.MustCompile(`\$\.(get|post|getJSON)\s*\(`), shape: shapeURLData, verbGroup: 1},
	{name: "xhr", prefix: regexp.MustCompile(`\.open\s*\(`), shape: shapeVerbURL},
	{name: "angular", prefix: regexp.MustCompile(`\bhttp(?:Client)?\.(get|post|put|delete|patch)\s*(?:<[^>(]*>)?\s*\(`), shape: shapeURLData, verbGroup: 1},
	{name: "superagent", prefix: regexp.MustCompile(`\b(?:superagent|request)\.(get|post|put|del|delete|patch)\s*\(`), shape: shapeURLData, verbGroup: 1},
	{name: "ky", prefix: regexp.MustCompile(`\bky\.(get|post|put|delete|patch)\s*\(`), shape: shapeURLData, verbGroup: 1},
}

var (
	bareAPIPathRe = regexp.MustCompile("[\"'`](/(?:api|v[0-9]+|rest|graphql)(?:/[^\"'`\\s<>]*)?)[\"'`]")
	webSocketRe   = regexp.MustCompile(`\bnew\s+WebSocket\s*\(`)
	templateVarRe = regexp.MustCompile(`\$\{([^}]*)\}`)
	callWrapRe    = regexp.MustCompile(`^[\w.$]+\((.*)\)$`)
	identCharsRe  = regexp.MustCompile(`[^\w]`)
	pathLikeRe    = regexp.MustCompile(`^[\w\-./{}:?=&%~]+$`)
)

var assetExtensions = []string{".js", ".mjs", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2", ".map", ".html", ".htm"}

// ScriptParser recovers request call sites from JavaScript and TypeScript.
type ScriptParser struct{}

// NewScriptParser creates a new script parser.
func NewScriptParser() *ScriptParser {
	return &ScriptParser{}
}

// Parse scans src for request call sites.
func (p *ScriptParser) Parse(src, locator string, source SourceKind) []Mention {
	var mentions []Mention
	claimed := make(map[int]bool)
	seenPaths := make(map[string]bool)
	var spans []span
	inCall := func(off int) bool {
		for _, s := range spans {
			if off >= s.start && off < s.end {
				return true
			}
		}
		return false
	}

	for _, cs := range callSites {
		for _, loc := range cs.prefix.FindAllStringSubmatchIndex(src, -1) {
			open := loc[1] - 1
			if claimed[open] {
				continue
			}
			args, end, ok := splitArgs(src, open)
			if !ok || len(args) == 0 {
				continue
			}

			verb := ""
			if cs.verbGroup > 0 && loc[2*cs.verbGroup] >= 0 {
				verb = src[loc[2*cs.verbGroup]:loc[2*cs.verbGroup+1]]
			}

			m, ok := p.fromCall(cs, verb, args)
			if !ok {
				continue
			}
			claimed[open] = true
			spans = append(spans, span{loc[0], end})
			m.Source = source
			m.Locator = fmt.Sprintf("%s:%d", locator, lineAt(src, loc[0]))
			m.Fragment = truncateContext(src[loc[0]:end], 160)
			seenPaths[m.Path] = true
			mentions = append(mentions, m)
		}
	}

	for _, loc := range webSocketRe.FindAllStringIndex(src, -1) {
		args, _, ok := splitArgs(src, loc[1]-1)
		if !ok || len(args) == 0 {
			continue
		}
		path, ok := recoverPath(args[0])
		if !ok {
			continue
		}
		seenPaths[path] = true
		mentions = append(mentions, Mention{
			Source:     source,
			Locator:    fmt.Sprintf("%s:%d", locator, lineAt(src, loc[0])),
			Fragment:   truncateContext(src[loc[0]:min(len(src), loc[1]+120)], 160),
			Method:     "GET",
			Path:       path,
			Confidence: ConfidencePartial,
			Tags:       []string{"websocket"},
		})
	}

	for _, sm := range bareAPIPathRe.FindAllStringSubmatchIndex(src, -1) {
		raw := src[sm[2]:sm[3]]
		path, hints := splitQuery(templateVarRe.ReplaceAllStringFunc(raw, templateToPlaceholder))
		if seenPaths[path] || isAsset(path) || inCall(sm[0]) {
			continue
		}
		seenPaths[path] = true
		mentions = append(mentions, Mention{
			Source:     source,
			Locator:    fmt.Sprintf("%s:%d", locator, lineAt(src, sm[0])),
			Fragment:   raw,
			Path:       path,
			Hints:      hints,
			Confidence: ConfidencePartial,
		})
	}

	return mentions
}

func (p *ScriptParser) fromCall(cs callSite, verb string, args []string) (Mention, bool) {
	var (
		urlExpr  string
		method   string
		payload  string
		query    string
		explicit bool
		auth     bool
	)

	switch cs.shape {
	case shapeURLData:
		urlExpr = args[0]
		method = normalizeVerb(verb)
		explicit = true
		if len(args) > 1 {
			if method == "GET" || method == "DELETE" || method == "HEAD" {
				query = args[1]
			} else {
				payload = args[1]
			}
		}
	case shapeFetch:
		urlExpr = args[0]
		method = "GET"
		if len(args) > 1 {
			opts := objectFields(args[1])
			if m := unquote(opts["method"]); IsHTTPMethod(m) {
				method = strings.ToUpper(m)
				explicit = true
			}
			payload = opts["body"]
			auth = hasAuthHeader(opts["headers"])
		}
	case shapeConfig:
		if strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
			fields := objectFields(args[0])
			urlExpr = fields["url"]
			method, explicit = configVerb(fields)
			payload = fields["data"]
			query = fields["params"]
			auth = hasAuthHeader(fields["headers"])
		} else {
			// $.ajax(url, settings)
			urlExpr = args[0]
			if len(args) > 1 {
				fields := objectFields(args[1])
				method, explicit = configVerb(fields)
				payload = fields["data"]
			} else {
				method = "GET"
			}
		}
		if method == "GET" && payload != "" {
			query, payload = payload, ""
		}
	case shapeVerbURL:
		if len(args) < 2 {
			return Mention{}, false
		}
		m := unquote(args[0])
		if !IsHTTPMethod(m) {
			return Mention{}, false
		}
		method = strings.ToUpper(m)
		urlExpr = args[1]
		explicit = true
	}

	path, ok := recoverPath(urlExpr)
	if !ok {
		return Mention{}, false
	}
	path, hints := splitQuery(path)
	hints = append(hints, objectHints(query, false)...)
	hints = append(hints, objectHints(payload, true)...)

	confidence := ConfidencePartial
	if explicit {
		confidence = ConfidenceExplicit
	}

	return Mention{
		Method:     method,
		Path:       path,
		Hints:      hints,
		Confidence: confidence,
		Auth:       auth,
	}, true
}

func configVerb(fields map[string]string) (string, bool) {
	for _, key := range []string{"method", "type"} {
		if m := unquote(fields[key]); IsHTTPMethod(m) {
			return strings.ToUpper(m), true
		}
	}
	return "GET", false
}

func normalizeVerb(v string) string {
	switch strings.ToLower(v) {
	case "del":
		return "DELETE"
	case "getjson":
		return "GET"
	default:
		return strings.ToUpper(v)
	}
}

func hasAuthHeader(headers string) bool {
	lower := strings.ToLower(headers)
	return strings.Contains(lower, "authorization") || strings.Contains(lower, "x-api-key") ||
		strings.Contains(lower, "bearer")
}

// splitArgs returns the top-level comma-separated arguments of the call whose
// opening parenthesis is at src[open], and the offset just past its close.
func splitArgs(src string, open int) ([]string, int, bool) {
	const maxScan = 4000

	var (
		args  []string
		depth int
		quote byte
		start = open + 1
	)

	limit := min(len(src), open+maxScan)
	for i := open + 1; i < limit; i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				if c != ')' {
					return nil, 0, false
				}
				if arg := strings.TrimSpace(src[start:i]); arg != "" {
					args = append(args, arg)
				}
				return args, i + 1, true
			}
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(src[start:i]))
				start = i + 1
			}
		}
	}
	return nil, 0, false
}

// splitTopLevel splits s on sep outside quotes and brackets.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// recoverPath turns a URL expression such as `/users/${id}` or
// base + '/users/' + id into a path with {name} placeholders. Identifiers
// before the first string literal are treated as a base URL and dropped.
func recoverPath(expr string) (string, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", false
	}

	var (
		b           strings.Builder
		sawLiteral  bool
		droppedBase bool
	)
	for _, part := range splitTopLevel(expr, '+') {
		if isQuoted(part) {
			lit := part[1 : len(part)-1]
			if part[0] == '`' {
				lit = templateVarRe.ReplaceAllStringFunc(lit, templateToPlaceholder)
			}
			b.WriteString(lit)
			sawLiteral = true
			continue
		}
		if !sawLiteral {
			droppedBase = true
			continue
		}
		if name := lastIdent(part); name != "" {
			b.WriteString("{" + name + "}")
		}
	}
	if !sawLiteral {
		return "", false
	}

	path := strings.TrimSpace(b.String())
	// A leading template variable is a base URL too: `${API}/users`.
	if strings.HasPrefix(path, "{") {
		if i := strings.Index(path, "}"); i > 0 && i+1 < len(path) && path[i+1] == '/' {
			path = path[i+1:]
		}
	}

	switch {
	case path == "":
		return "", false
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"),
		strings.HasPrefix(path, "ws://"), strings.HasPrefix(path, "wss://"):
	case strings.HasPrefix(path, "/"):
	case droppedBase && pathLikeRe.MatchString(path):
		path = "/" + path
	case strings.Contains(path, "/") && pathLikeRe.MatchString(path):
		path = "/" + path
	default:
		return "", false
	}

	if isAsset(path) || strings.ContainsAny(path, " \n\t<>") {
		return "", false
	}
	return path, true
}

func templateToPlaceholder(m string) string {
	inner := templateVarRe.FindStringSubmatch(m)[1]
	if name := lastIdent(inner); name != "" {
		return "{" + name + "}"
	}
	return "{param}"
}

// lastIdent reduces an expression like user.id or encodeURIComponent(q) to
// a bare parameter name.
func lastIdent(expr string) string {
	expr = strings.TrimSpace(expr)
	for {
		m := callWrapRe.FindStringSubmatch(expr)
		if m == nil || m[1] == "" {
			break
		}
		expr = strings.TrimSpace(m[1])
	}
	expr = strings.TrimSuffix(expr, "()")
	parts := strings.Split(expr, ".")
	name := identCharsRe.ReplaceAllString(parts[len(parts)-1], "")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return ""
	}
	return name
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	q := s[0]
	return (q == '\'' || q == '"' || q == '`') && s[len(s)-1] == q
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}

func isAsset(path string) bool {
	lower := strings.ToLower(path)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range assetExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// splitQuery separates a query string from path and returns its keys as hints.
func splitQuery(path string) (string, []Hint) {
	i := strings.Index(path, "?")
	if i < 0 {
		return path, nil
	}
	var hints []Hint
	for _, pair := range strings.Split(path[i+1:], "&") {
		key := pair
		if eq := strings.Index(pair, "="); eq >= 0 {
			key = pair[:eq]
		}
		key = strings.TrimSpace(key)
		if key != "" && !strings.ContainsAny(key, "{}") {
			hints = append(hints, Hint{Name: key})
		}
	}
	return path[:i], hints
}

// objectFields parses the top-level keys of a JS object literal.
func objectFields(obj string) map[string]string {
	fields := make(map[string]string)
	obj = strings.TrimSpace(obj)
	if !strings.HasPrefix(obj, "{") || !strings.HasSuffix(obj, "}") {
		return fields
	}
	for _, entry := range splitTopLevel(obj[1:len(obj)-1], ',') {
		if entry == "" || strings.HasPrefix(entry, "...") {
			continue
		}
		parts := splitTopLevel(entry, ':')
		key := unquote(parts[0])
		if strings.ContainsAny(key, "( ") {
			continue
		}
		if len(parts) == 1 {
			fields[key] = key
			continue
		}
		fields[key] = strings.Join(parts[1:], ":")
	}
	return fields
}

// objectHints turns a payload expression into hints. JSON.stringify wrappers
// are unwrapped; anything other than an object literal yields nothing.
func objectHints(expr string, bodyShaped bool) []Hint {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "JSON.stringify(") && strings.HasSuffix(expr, ")") {
		expr = strings.TrimSpace(expr[len("JSON.stringify(") : len(expr)-1])
		if args := splitTopLevel(expr, ','); len(args) > 0 {
			expr = args[0]
		}
	}
	fields := objectFields(expr)
	if len(fields) == 0 {
		return nil
	}

	// Preserve source order.
	var hints []Hint
	for _, entry := range splitTopLevel(expr[1:len(expr)-1], ',') {
		key := unquote(splitTopLevel(entry, ':')[0])
		value, ok := fields[key]
		if !ok {
			continue
		}
		delete(fields, key)
		hints = append(hints, Hint{
			Name:       key,
			Type:       literalType(value, key),
			BodyShaped: bodyShaped,
		})
	}
	return hints
}

// literalType infers a type from a JS literal. Non-literal values give TypeNone.
func literalType(value, key string) ParamType {
	v := strings.TrimSpace(value)
	switch {
	case v == "" || v == key:
		return TypeNone
	case isQuoted(v):
		return TypeString
	case v == "true" || v == "false":
		return TypeBoolean
	case strings.HasPrefix(v, "{"):
		return TypeObject
	case strings.HasPrefix(v, "["):
		return TypeArray
	case isNumberLiteral(v):
		return TypeNumber
	default:
		return TypeNone
	}
}

func isNumberLiteral(s string) bool {
	if s == "" {
		return false
	}
	dot := false
	for i, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '.' && !dot:
			dot = true
		case c == '-' && i == 0:
		default:
			return false
		}
	}
	return true
}
