// Package categorize assigns each endpoint a coarse category from an
// ordered keyword rule table.
package categorize

import (
	"regexp"
	"strings"

	"github.com/PentesterFlow/apiforge/internal/catalog"
)

// Categories produced by the default rules.
const (
	Authentication = "authentication"
	Scheduling     = "scheduling"
	Profile        = "profile"
	Search         = "search"
	Payments       = "payments"
	Content        = "content"
	DataManagement = "data_management"
	Generic        = "generic"
)

// Rule maps keywords to a category. Methods, when set, restricts the rule
// to those verbs.
type Rule struct {
	Name     string
	Keywords []string
	Methods  []string
	Category string
}

var defaultRules = []Rule{
	{Name: "auth", Category: Authentication, Keywords: []string{
		"login", "signin", "sign-in", "auth", "register", "signup", "sign-up",
		"logout", "signout", "password", "token", "oauth", "session",
	}},
	{Name: "scheduling", Category: Scheduling, Keywords: []string{
		"appointment", "booking", "schedule", "reservation", "calendar", "slot",
	}},
	{Name: "profile", Category: Profile, Keywords: []string{"profile", "user", "account", "me"}},
	{Name: "search", Category: Search, Keywords: []string{"search", "find", "query", "lookup", "filter"}},
	{Name: "payments", Category: Payments, Keywords: []string{
		"payment", "checkout", "invoice", "billing", "order", "cart",
	}},
	{Name: "content", Category: Content, Keywords: []string{"upload", "file", "media", "image", "document"}},
	{Name: "crud", Category: DataManagement, Keywords: []string{"create", "update", "delete", "list", "get"}},
}

// DefaultRules returns a copy of the built-in rule table.
func DefaultRules() []Rule {
	return append([]Rule(nil), defaultRules...)
}

// Categorizer evaluates rules in order; the first match wins.
type Categorizer struct {
	rules []Rule
}

// New returns a Categorizer that tries rules before the built-in table.
func New(rules ...Rule) *Categorizer {
	all := make([]Rule, 0, len(rules)+len(defaultRules))
	all = append(all, rules...)
	all = append(all, defaultRules...)
	return &Categorizer{rules: all}
}

// Rules returns the effective rule table.
func (c *Categorizer) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify implements catalog.Classifier.
func (c *Categorizer) Classify(ep catalog.Endpoint) string {
	return c.Category(ep.Method, ep.Path, ep.Description)
}

// Category classifies by path words first and falls back to the description.
func (c *Categorizer) Category(method, path, description string) string {
	method = strings.ToUpper(method)
	for _, text := range []string{placeholderRe.ReplaceAllString(path, " "), description} {
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		words := wordRe.FindAllString(lower, -1)
		for _, r := range c.rules {
			if !methodAllowed(r.Methods, method) {
				continue
			}
			if matches(r.Keywords, lower, words) {
				return r.Category
			}
		}
	}
	return Generic
}

var (
	placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)
	wordRe        = regexp.MustCompile(`[a-z0-9]+`)
)

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// matches reports whether any keyword hits. Short keywords must equal a
// whole word; longer ones may prefix one (appointment matches appointments).
// Keywords with punctuation match as substrings.
func matches(keywords []string, lower string, words []string) bool {
	for _, kw := range keywords {
		if strings.ContainsAny(kw, "-_ ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == kw || (len(kw) >= 4 && strings.HasPrefix(w, kw)) {
				return true
			}
		}
	}
	return false
}
