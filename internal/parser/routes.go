package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrNoPatterns is returned when no route table exists for a language.
// Callers record it as "no patterns available", not as a failure.
var ErrNoPatterns = errors.New("no patterns available")

// RouteMatcher recovers route registrations from one language's source.
type RouteMatcher interface {
	Match(src, locator string) []Mention
}

// Registry maps language identifiers to route matchers and file
// extensions to languages. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	languages  map[string]RouteMatcher
	extensions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		languages:  make(map[string]RouteMatcher),
		extensions: make(map[string]string),
	}
}

// DefaultRegistry creates a registry holding the built-in languages.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, lang := range builtinLanguages() {
		r.RegisterLanguage(lang.id, lang.extensions, lang.matcher)
	}
	return r
}

// RegisterLanguage adds or replaces a language.
func (r *Registry) RegisterLanguage(id string, extensions []string, m RouteMatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[id] = m
	for _, ext := range extensions {
		r.extensions[strings.ToLower(ext)] = id
	}
}

// LookupLanguage returns the matcher for id, or ErrNoPatterns.
func (r *Registry) LookupLanguage(id string) (RouteMatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.languages[id]
	if !ok {
		return nil, fmt.Errorf("language %q: %w", id, ErrNoPatterns)
	}
	return m, nil
}

// LanguageFor infers a language from a file name's extension.
func (r *Registry) LanguageFor(filename string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensions[strings.ToLower(filepath.Ext(filename))]
}

// Extensions lists every registered extension, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extensions))
	for ext := range r.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ParseFile matches src with the language inferred from locator's extension.
func (r *Registry) ParseFile(src, locator string) ([]Mention, error) {
	lang := r.LanguageFor(locator)
	if lang == "" {
		return nil, fmt.Errorf("%s: %w", filepath.Ext(locator), ErrNoPatterns)
	}
	m, err := r.LookupLanguage(lang)
	if err != nil {
		return nil, err
	}
	return m.Match(src, locator), nil
}

// RouteRule is one route-registration idiom. Pattern may use the named
// groups "method", "methods" (a list of quoted verbs) and "path".
type RouteRule struct {
	Name    string
	Pattern *regexp.Regexp
	// Method is used when the pattern captures no verb. An empty Method
	// makes the mention partial.
	Method string
	// Hints recovers parameters from the code following a match.
	Hints func(src string, end int) []Hint
}

// RuleMatcher applies an ordered rule table. A rule match starting inside
// an earlier match is ignored, so more specific rules go first.
type RuleMatcher struct {
	Rules []RouteRule
	// Prefixes find a class or controller level base path. A prefix applies
	// to routes that appear after it. The optional "class" group replaces a
	// [controller] token.
	Prefixes []*regexp.Regexp
	Clean    func(path string) string
}

type span struct{ start, end int }

type prefixAt struct {
	offset int
	path   string
}

var quotedVerbRe = regexp.MustCompile(`["']([A-Za-z]+)["']`)

// Match implements RouteMatcher.
func (m *RuleMatcher) Match(src, locator string) []Mention {
	var (
		claimed  []span
		prefixes []prefixAt
		mentions []Mention
	)

	inClaimed := func(off int) bool {
		for _, s := range claimed {
			if off >= s.start && off < s.end {
				return true
			}
		}
		return false
	}

	for _, re := range m.Prefixes {
		for _, loc := range re.FindAllStringSubmatchIndex(src, -1) {
			p := group(re, src, loc, "path")
			if class := group(re, src, loc, "class"); class != "" {
				p = strings.ReplaceAll(p, "[controller]", strings.ToLower(strings.TrimSuffix(class, "Controller")))
			}
			prefixes = append(prefixes, prefixAt{offset: loc[0], path: p})
			claimed = append(claimed, span{loc[0], loc[1]})
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i].offset < prefixes[j].offset })

	for _, rule := range m.Rules {
		for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(src, -1) {
			if inClaimed(loc[0]) {
				continue
			}
			claimed = append(claimed, span{loc[0], loc[1]})

			path := group(rule.Pattern, src, loc, "path")
			if m.Clean != nil {
				path = m.Clean(path)
			}
			for i := len(prefixes) - 1; i >= 0; i-- {
				if prefixes[i].offset < loc[0] {
					path = joinPath(prefixes[i].path, path)
					break
				}
			}
			if strings.Trim(path, "/ ") == "" && path != "/" {
				if path == "" {
					continue
				}
				path = "/"
			}

			var hints []Hint
			if rule.Hints != nil {
				hints = rule.Hints(src, loc[1])
			}

			for _, method := range ruleMethods(rule, src, loc) {
				confidence := ConfidenceExplicit
				if method == "" {
					confidence = ConfidencePartial
				}
				mentions = append(mentions, Mention{
					Source:     SourceRepository,
					Locator:    fmt.Sprintf("%s:%d", locator, lineAt(src, loc[0])),
					Fragment:   truncateContext(src[loc[0]:loc[1]], 160),
					Method:     method,
					Path:       path,
					Hints:      hints,
					Confidence: confidence,
				})
			}
		}
	}
	return mentions
}

func ruleMethods(rule RouteRule, src string, loc []int) []string {
	if list := group(rule.Pattern, src, loc, "methods"); list != "" {
		var out []string
		for _, sm := range quotedVerbRe.FindAllStringSubmatch(list, -1) {
			if IsHTTPMethod(sm[1]) {
				out = append(out, strings.ToUpper(sm[1]))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if verb := group(rule.Pattern, src, loc, "method"); verb != "" {
		return []string{methodOf(verb)}
	}
	return []string{rule.Method}
}

// methodOf maps a framework verb token onto an HTTP method. Catch-all
// registrations yield "".
func methodOf(token string) string {
	switch t := strings.ToLower(token); t {
	case "all", "any", "map", "route", "request":
		return ""
	case "del":
		return "DELETE"
	default:
		if IsHTTPMethod(t) {
			return strings.ToUpper(t)
		}
		return ""
	}
}

func group(re *regexp.Regexp, src string, loc []int, name string) string {
	i := re.SubexpIndex(name)
	if i < 0 || loc[2*i] < 0 {
		return ""
	}
	return src[loc[2*i]:loc[2*i+1]]
}

func joinPath(prefix, path string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	path = strings.TrimSpace(path)
	if prefix == "" {
		return path
	}
	if path == "" {
		return prefix
	}
	return prefix + "/" + strings.TrimPrefix(path, "/")
}

var (
	djangoGroupRe = regexp.MustCompile(`\(\?P<(\w+)>[^)]*\)`)
	pyDefRe       = regexp.MustCompile(`(?:async\s+)?def\s+\w+\s*\(`)
	pyOptionalRe  = regexp.MustCompile(`^(?:Optional\[(.*)\]|Union\[(.*),\s*None\])$`)
)

// cleanRegexRoute turns Django re_path patterns into templates.
func cleanRegexRoute(path string) string {
	path = djangoGroupRe.ReplaceAllString(path, "{$1}")
	path = strings.TrimPrefix(path, "^")
	path = strings.TrimSuffix(path, "$")
	return path
}

// skippedPyParams are injected by the framework, never sent by a caller.
var skippedPyParams = map[string]bool{
	"self": true, "cls": true, "request": true, "response": true,
	"db": true, "session": true, "background_tasks": true, "current_user": true,
}

// fastAPIHints reads the signature of the function decorated at end.
func fastAPIHints(src string, end int) []Hint {
	rest := src[end:]
	loc := pyDefRe.FindStringIndex(rest)
	if loc == nil || loc[0] > 400 {
		return nil
	}
	args, _, ok := splitArgs(src, end+loc[1]-1)
	if !ok {
		return nil
	}

	var hints []Hint
	for _, arg := range args {
		if arg == "" || strings.HasPrefix(arg, "*") || arg == "/" {
			continue
		}
		var annotation, def string
		hasDefault := false
		name := arg
		if parts := splitTopLevel(arg, '='); len(parts) > 1 {
			name, def, hasDefault = parts[0], strings.Join(parts[1:], "="), true
		}
		if parts := splitTopLevel(name, ':'); len(parts) > 1 {
			name, annotation = parts[0], parts[1]
		}
		name = strings.TrimSpace(name)
		def = strings.TrimSpace(def)
		if skippedPyParams[name] || strings.Contains(def, "Depends(") || strings.HasPrefix(def, "Header(") {
			continue
		}

		required := !hasDefault || def == "..." || strings.HasSuffix(def, "(...)")
		hint := Hint{Name: name, Required: required}
		hint.Type, hint.BodyShaped = pyType(strings.TrimSpace(annotation))
		if strings.HasPrefix(def, "Body(") {
			hint.BodyShaped = true
		}
		hints = append(hints, hint)
	}
	return hints
}

// pyType maps a Python annotation to a type. Unknown capitalized names are
// taken as request models, which FastAPI reads from the body.
func pyType(annotation string) (ParamType, bool) {
	annotation = strings.TrimSpace(strings.TrimSuffix(annotation, "| None"))
	if m := pyOptionalRe.FindStringSubmatch(annotation); m != nil {
		annotation = m[1] + m[2]
	}
	base := annotation
	if i := strings.Index(base, "["); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "":
		return TypeNone, false
	case "int", "float", "Decimal":
		return TypeNumber, false
	case "str", "UUID", "date", "datetime", "EmailStr":
		return TypeString, false
	case "bool":
		return TypeBoolean, false
	case "dict", "Dict":
		return TypeObject, true
	case "list", "List", "Set", "set", "Tuple", "tuple":
		return TypeArray, false
	case "UploadFile":
		return TypeString, true
	}
	if base[0] >= 'A' && base[0] <= 'Z' {
		return TypeObject, true
	}
	return TypeNone, false
}

type language struct {
	id         string
	extensions []string
	matcher    RouteMatcher
}

const jsQuote = "['\"`]"

func builtinLanguages() []language {
	python := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "fastapi", Pattern: regexp.MustCompile(`@\w+\.(?P<method>get|post|put|delete|patch|head|options)\(\s*["'](?P<path>[^"']*)["']`), Hints: fastAPIHints},
			{Name: "flask", Pattern: regexp.MustCompile(`@\w+\.route\(\s*["'](?P<path>[^"']*)["'](?:[^)]*?methods\s*=\s*[\[(](?P<methods>[^\])]*)[\])])?`), Method: "GET"},
			{Name: "django", Pattern: regexp.MustCompile(`(?m)(?:^|[^.\w])(?:re_)?path\(\s*r?["'](?P<path>[^"']*)["']`)},
		},
		Clean: cleanRegexRoute,
	}

	javascript := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "express-chain", Pattern: regexp.MustCompile(`\.route\(\s*` + jsQuote + `(?P<path>/[^'"` + "`" + `]*)` + jsQuote + `\s*\)\s*\.(?P<method>get|post|put|delete|patch)\(`)},
			{Name: "express", Pattern: regexp.MustCompile(`\b(?:app|router|server|api|routes?|\w+Router)\.(?P<method>get|post|put|delete|patch|all|head|options)\(\s*` + jsQuote + `(?P<path>/[^'"` + "`" + `]*)` + jsQuote)},
			{Name: "hapi", Pattern: regexp.MustCompile(`method\s*:\s*['"](?P<method>[A-Za-z*]+)['"]\s*,\s*path\s*:\s*['"](?P<path>/[^'"]*)['"]`)},
			{Name: "hapi-reversed", Pattern: regexp.MustCompile(`path\s*:\s*['"](?P<path>/[^'"]*)['"]\s*,\s*method\s*:\s*['"](?P<method>[A-Za-z*]+)['"]`)},
			{Name: "nest", Pattern: regexp.MustCompile(`@(?P<method>Get|Post|Put|Delete|Patch|Head|Options|All)\(\s*(?:['"](?P<path>[^'"]*)['"])?\s*\)`)},
		},
		Prefixes: []*regexp.Regexp{
			regexp.MustCompile(`@Controller\(\s*['"](?P<path>[^'"]*)['"]\s*\)`),
		},
	}

	jvmRules := []RouteRule{
		{Name: "spring", Pattern: regexp.MustCompile(`@(?P<method>Get|Post|Put|Delete|Patch)Mapping(?:\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"(?P<path>[^"]*)")?`)},
		{Name: "spring-request", Pattern: regexp.MustCompile(`@RequestMapping\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"(?P<path>[^"]*)"[^)]*?method\s*=\s*\{?\s*RequestMethod\.(?P<method>[A-Z]+)`)},
		{Name: "spring-any", Pattern: regexp.MustCompile(`@RequestMapping\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"(?P<path>[^"]*)"`)},
		{Name: "jaxrs", Pattern: regexp.MustCompile(`@(?P<method>GET|POST|PUT|DELETE|PATCH|HEAD)\s+(?:@\w+(?:\([^)]*\))?\s+)*?@Path\(\s*"(?P<path>[^"]*)"\s*\)`)},
		{Name: "jaxrs-reversed", Pattern: regexp.MustCompile(`@Path\(\s*"(?P<path>[^"]*)"\s*\)\s+(?:@\w+(?:\([^)]*\))?\s+)*?@(?P<method>GET|POST|PUT|DELETE|PATCH|HEAD)\b`)},
		{Name: "jaxrs-bare", Pattern: regexp.MustCompile(`(?m)@(?P<method>GET|POST|PUT|DELETE|PATCH|HEAD)[ \t]*$`)},
	}
	jvmPrefixes := []*regexp.Regexp{
		regexp.MustCompile(`@RequestMapping\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"(?P<path>[^"]*)"[^)]*\)\s*(?:@\w+(?:\([^)]*\))?\s*)*(?:(?:public|private|protected|final|abstract|open|internal)\s+)*class\b`),
		regexp.MustCompile(`@Path\(\s*"(?P<path>[^"]*)"\s*\)\s*(?:@\w+(?:\([^)]*\))?\s*)*(?:(?:public|final|abstract|open)\s+)*class\b`),
	}
	java := &RuleMatcher{Rules: jvmRules, Prefixes: jvmPrefixes}
	kotlin := &RuleMatcher{
		Rules: append(append([]RouteRule{}, jvmRules...),
			RouteRule{Name: "ktor", Pattern: regexp.MustCompile(`\b(?P<method>get|post|put|delete|patch)\(\s*"(?P<path>/[^"]*)"\s*\)\s*\{`)}),
		Prefixes: jvmPrefixes,
	}

	csharp := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "aspnet", Pattern: regexp.MustCompile(`\[Http(?P<method>Get|Post|Put|Delete|Patch|Head)(?:\(\s*"(?P<path>[^"]*)"[^)]*\))?\]`)},
			{Name: "minimal-api", Pattern: regexp.MustCompile(`\.Map(?P<method>Get|Post|Put|Delete|Patch)\(\s*"(?P<path>[^"]*)"`)},
		},
		Prefixes: []*regexp.Regexp{
			regexp.MustCompile(`\[Route\(\s*"(?P<path>[^"]*)"\s*\)\]\s*(?:\[[^\]]*\]\s*)*(?:(?:public|internal|sealed|partial|abstract)\s+)*class\s+(?P<class>\w+)`),
		},
		Clean: func(p string) string { return strings.TrimPrefix(p, "~") },
	}

	golang := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "servemux", Pattern: regexp.MustCompile(`\.Handle(?:Func)?\(\s*"(?P<method>GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s+(?P<path>/[^"]*)"`)},
			{Name: "gorilla", Pattern: regexp.MustCompile(`\.Handle(?:Func)?\(\s*"(?P<path>/[^"]*)"[^\n]*?\.Methods\(\s*"(?P<method>[A-Z]+)"`)},
			{Name: "gin-echo-chi", Pattern: regexp.MustCompile(`\.(?P<method>GET|POST|PUT|DELETE|PATCH|HEAD|Get|Post|Put|Delete|Patch|Head)\(\s*"(?P<path>/[^"]*)"`)},
			{Name: "handlefunc", Pattern: regexp.MustCompile(`\.Handle(?:Func)?\(\s*"(?P<path>/[^"]*)"`)},
		},
	}

	php := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "laravel", Pattern: regexp.MustCompile(`Route::(?P<method>get|post|put|delete|patch|options|any)\(\s*['"](?P<path>[^'"]*)['"]`)},
			{Name: "slim", Pattern: regexp.MustCompile(`\$(?:app|router|group|route)->(?P<method>get|post|put|delete|patch|any|map)\(\s*['"](?P<path>[^'"]*)['"]`)},
		},
	}

	ruby := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "rails-sinatra", Pattern: regexp.MustCompile(`(?m)^\s*(?P<method>get|post|put|patch|delete)\s*\(?\s*['"](?P<path>[^'"]*)['"]`)},
		},
	}

	rust := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "attribute", Pattern: regexp.MustCompile(`#\[(?P<method>get|post|put|delete|patch|head)\(\s*"(?P<path>[^"]*)"`)},
			{Name: "route-builder", Pattern: regexp.MustCompile(`\.route\(\s*"(?P<path>[^"]*)"\s*,\s*(?:web::)?(?P<method>get|post|put|delete|patch)\(`)},
		},
	}

	elixir := &RuleMatcher{
		Rules: []RouteRule{
			{Name: "phoenix", Pattern: regexp.MustCompile(`(?m)^\s*(?P<method>get|post|put|patch|delete)\s+"(?P<path>/[^"]*)"\s*,`)},
		},
	}

	return []language{
		{"python", []string{".py"}, python},
		{"javascript", []string{".js", ".mjs", ".cjs", ".jsx"}, javascript},
		{"typescript", []string{".ts", ".tsx"}, javascript},
		{"java", []string{".java"}, java},
		{"kotlin", []string{".kt", ".kts"}, kotlin},
		{"csharp", []string{".cs"}, csharp},
		{"go", []string{".go"}, golang},
		{"php", []string{".php"}, php},
		{"ruby", []string{".rb"}, ruby},
		{"rust", []string{".rs"}, rust},
		{"elixir", []string{".ex", ".exs"}, elixir},
	}
}
