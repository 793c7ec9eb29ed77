// Package scope decides which URLs a crawl may follow.
package scope

import (
	"net/url"
	"regexp"
	"strings"
)

// Rules defines crawling scope rules. Include and exclude patterns are
// regular expressions matched against the URL path.
type Rules struct {
	IncludePatterns []string
	ExcludePatterns []string
	AllowedDomains  []string
	MaxDepth        int
	FollowExternal  bool
}

// Checker validates URLs against scope rules. It is immutable after
// construction and safe for concurrent use.
type Checker struct {
	rules          Rules
	includeRegexps []*regexp.Regexp
	excludeRegexps []*regexp.Regexp
	allowedDomains map[string]struct{}
}

// NewChecker creates a checker rooted at the seed URL's host.
func NewChecker(seedURL string, rules Rules) (*Checker, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}

	c := &Checker{
		rules:          rules,
		allowedDomains: make(map[string]struct{}),
	}

	for _, pattern := range rules.IncludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.includeRegexps = append(c.includeRegexps, re)
	}

	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.excludeRegexps = append(c.excludeRegexps, re)
	}

	c.allowedDomains[strings.ToLower(parsed.Hostname())] = struct{}{}
	for _, domain := range rules.AllowedDomains {
		c.allowedDomains[strings.ToLower(domain)] = struct{}{}
	}

	return c, nil
}

// IsInScope checks if a URL at the given depth may be fetched.
func (c *Checker) IsInScope(urlStr string, depth int) bool {
	if c.rules.MaxDepth > 0 && depth > c.rules.MaxDepth {
		return false
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	if !c.rules.FollowExternal && !c.isDomainAllowed(parsed.Hostname()) {
		return false
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	for _, re := range c.excludeRegexps {
		if re.MatchString(path) {
			return false
		}
	}

	if len(c.includeRegexps) == 0 {
		return true
	}
	for _, re := range c.includeRegexps {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (c *Checker) isDomainAllowed(host string) bool {
	host = strings.ToLower(host)

	if _, ok := c.allowedDomains[host]; ok {
		return true
	}
	for domain := range c.allowedDomains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// NormalizeURL returns the visited-set key for a URL: lower-cased scheme and
// host (default port dropped) plus the path. Query and fragment are stripped.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}

	path := parsed.EscapedPath()
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}

// ResolveURL resolves a relative URL against a base URL and drops the fragment.
func ResolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	ref, err := url.Parse(strings.TrimSpace(relativeURL))
	if err != nil {
		return "", err
	}

	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String(), nil
}

var skipExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".ico", ".svg", ".webp",
	".css", ".woff", ".woff2", ".ttf", ".eot", ".map",
	".pdf", ".zip", ".tar", ".gz", ".rar", ".exe", ".dmg",
	".mp3", ".mp4", ".wav", ".avi", ".mov",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// IsCrawlable reports whether a URL is an http(s) page worth fetching.
func IsCrawlable(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	path := strings.ToLower(parsed.Path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// SameHost reports whether two URLs share a host.
func SameHost(a, b string) bool {
	pa, err := url.Parse(a)
	if err != nil {
		return false
	}
	pb, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(pa.Host, pb.Host)
}
