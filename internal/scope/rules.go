package scope

import (
	"regexp"
	"strings"
)

// DefaultExcludePatterns keeps crawls away from state-changing pages.
var DefaultExcludePatterns = []string{
	`(?i)/logout`,
	`(?i)/signout`,
	`(?i)/delete-account`,
	`(?i)/unsubscribe`,
}

// CommonAPIPatterns are path fragments that mark a URL as API-like.
var CommonAPIPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/api(/|$)`),
	regexp.MustCompile(`(?i)/v[0-9]+(/|$)`),
	regexp.MustCompile(`(?i)/graphql`),
	regexp.MustCompile(`(?i)/rest/`),
	regexp.MustCompile(`(?i)/rpc/`),
	regexp.MustCompile(`(?i)/ajax/`),
}

// RuleBuilder helps build scope rules.
type RuleBuilder struct {
	rules Rules
}

// NewRuleBuilder creates a new rule builder.
func NewRuleBuilder() *RuleBuilder {
	return &RuleBuilder{rules: Rules{MaxDepth: 3}}
}

// WithIncludePatterns adds include path patterns.
func (b *RuleBuilder) WithIncludePatterns(patterns ...string) *RuleBuilder {
	b.rules.IncludePatterns = append(b.rules.IncludePatterns, patterns...)
	return b
}

// WithExcludePatterns adds exclude path patterns.
func (b *RuleBuilder) WithExcludePatterns(patterns ...string) *RuleBuilder {
	b.rules.ExcludePatterns = append(b.rules.ExcludePatterns, patterns...)
	return b
}

// WithDefaultExcludes adds DefaultExcludePatterns.
func (b *RuleBuilder) WithDefaultExcludes() *RuleBuilder {
	b.rules.ExcludePatterns = append(b.rules.ExcludePatterns, DefaultExcludePatterns...)
	return b
}

// WithAllowedDomains sets extra allowed domains.
func (b *RuleBuilder) WithAllowedDomains(domains ...string) *RuleBuilder {
	b.rules.AllowedDomains = append(b.rules.AllowedDomains, domains...)
	return b
}

// WithMaxDepth sets the maximum crawl depth.
func (b *RuleBuilder) WithMaxDepth(depth int) *RuleBuilder {
	b.rules.MaxDepth = depth
	return b
}

// WithFollowExternal enables following links to other hosts.
func (b *RuleBuilder) WithFollowExternal(follow bool) *RuleBuilder {
	b.rules.FollowExternal = follow
	return b
}

// Build returns the configured rules.
func (b *RuleBuilder) Build() Rules {
	return b.rules
}

// IsAPIPath reports whether a path or URL looks like an API endpoint.
func IsAPIPath(path string) bool {
	for _, re := range CommonAPIPatterns {
		if re.MatchString(path) {
			return true
		}
	}

	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".json") ||
		strings.Contains(lower, "format=json")
}
