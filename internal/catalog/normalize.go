package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	dollarRe  = regexp.MustCompile(`\$\{([^}]*)\}`)
	braceRe   = regexp.MustCompile(`\{\*?(\w+)(?:[:?=][^{}/]*)?\}`)
	angleRe   = regexp.MustCompile(`<(?:\w+:)?(\w+)>`)
	squareRe  = regexp.MustCompile(`\[\[?(?:\.\.\.)?(\w+)\]?\]`)
	colonRe   = regexp.MustCompile(`(^|/):(\w+)`)
	identRe   = regexp.MustCompile(`[A-Za-z_]\w*`)
	holderRe  = regexp.MustCompile(`\{([^{}/]+)\}`)
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	longHexRe = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	digitsRe  = regexp.MustCompile(`^\d+$`)
)

// NormalizeMethod upper-cases m and defaults to GET.
func NormalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return "GET"
	}
	return m
}

// NormalizePath turns a raw path or URL into a canonical template:
// scheme, host, query and fragment are dropped, slashes collapsed, every
// bracket style rewritten to {name}, and identifier-like segments replaced
// with a named placeholder. NormalizePath(NormalizePath(p)) == NormalizePath(p).
func NormalizePath(raw string) string {
	p := stripOrigin(strings.TrimSpace(raw))
	p = cutQuery(p)

	p = dollarRe.ReplaceAllStringFunc(p, func(m string) string {
		inner := dollarRe.FindStringSubmatch(m)[1]
		names := identRe.FindAllString(inner, -1)
		if len(names) == 0 {
			return "{param}"
		}
		return "{" + names[len(names)-1] + "}"
	})
	p = braceRe.ReplaceAllString(p, "{$1}")
	p = angleRe.ReplaceAllString(p, "{$1}")
	p = squareRe.ReplaceAllString(p, "{$1}")

	segments := splitSegments(p)
	for i, seg := range segments {
		if sm := colonRe.FindStringSubmatch("/" + seg); sm != nil && sm[0] == "/"+seg {
			segments[i] = "{" + sm[2] + "}"
		}
	}

	taken := make(map[string]bool)
	for _, seg := range segments {
		for _, sm := range holderRe.FindAllStringSubmatch(seg, -1) {
			taken[sm[1]] = true
		}
	}
	for i, seg := range segments {
		if !isIdentifier(seg) {
			continue
		}
		name := "id"
		if taken[name] {
			name = derivedName(segments, i)
		}
		base := name
		for n := 2; taken[name]; n++ {
			name = base + strconv.Itoa(n)
		}
		taken[name] = true
		segments[i] = "{" + name + "}"
	}

	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// Placeholders returns the placeholder names of template in order.
func Placeholders(template string) []string {
	matches := holderRe.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Shape erases placeholder names so templates that differ only in naming
// compare equal.
func Shape(template string) string {
	return holderRe.ReplaceAllString(template, "{}")
}

// Key is the merge key for a normalized method and template.
func Key(method, template string) string {
	return method + " " + Shape(template)
}

func stripOrigin(p string) string {
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	// Protocol-relative URL with a dotted host.
	if strings.HasPrefix(p, "//") {
		rest := p[2:]
		j := strings.IndexByte(rest, '/')
		host := rest
		if j >= 0 {
			host = rest[:j]
		}
		if strings.Contains(host, ".") {
			if j < 0 {
				return "/"
			}
			return rest[j:]
		}
	}
	return p
}

// cutQuery drops the query and fragment, ignoring '?' inside braces
// such as {id?}.
func cutQuery(p string) string {
	depth := 0
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case '?', '#':
			if depth == 0 {
				return p[:i]
			}
		}
	}
	return p
}

func splitSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isIdentifier(seg string) bool {
	return digitsRe.MatchString(seg) || uuidRe.MatchString(seg) || longHexRe.MatchString(seg)
}

// derivedName names a placeholder after the literal segment before it:
// /users/{id}/posts/7 yields post_id.
func derivedName(segments []string, i int) string {
	if i == 0 {
		return "id"
	}
	prev := segments[i-1]
	if strings.HasPrefix(prev, "{") {
		return "id"
	}
	word := strings.Trim(nonWordRe.ReplaceAllString(strings.ToLower(prev), "_"), "_")
	if word == "" {
		return "id"
	}
	return singular(word) + "_id"
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 3:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 1:
		return w[:len(w)-1]
	}
	return w
}
