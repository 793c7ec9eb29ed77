package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PentesterFlow/apiforge/internal/httpclient"
	"github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/queue"
)

// maxSitemapDepth bounds sitemap index recursion.
const maxSitemapDepth = 2

// robotsHints is what robots.txt reveals about a site.
type robotsHints struct {
	Paths    []string
	Sitemaps []string
}

// parseRobots collects the Allow and Disallow paths and Sitemap URLs of a
// robots.txt body. Wildcard suffixes are trimmed; the bare root is skipped.
func parseRobots(body []byte) robotsHints {
	var out robotsHints
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if i := strings.Index(value, "#"); i >= 0 {
			value = strings.TrimSpace(value[:i])
		}

		switch strings.ToLower(strings.TrimSpace(directive)) {
		case "allow", "disallow":
			path := strings.TrimRight(value, "*$")
			if i := strings.Index(path, "*"); i >= 0 {
				path = path[:i]
			}
			if path == "" || path == "/" || !strings.HasPrefix(path, "/") || seen[path] {
				continue
			}
			seen[path] = true
			out.Paths = append(out.Paths, path)
		case "sitemap":
			if value != "" {
				out.Sitemaps = append(out.Sitemaps, value)
			}
		}
	}
	return out
}

type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// parseSitemap returns the page URLs and nested sitemap URLs of a sitemap
// or sitemap index body.
func parseSitemap(body []byte) (pages, nested []string) {
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err == nil {
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				pages = append(pages, loc)
			}
		}
		return pages, nil
	}
	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err == nil {
		for _, s := range idx.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				nested = append(nested, loc)
			}
		}
	}
	return nil, nested
}

var sourceMappingRe = regexp.MustCompile(`(?m)(?://|/\*)[#@]\s*sourceMappingURL=([^\s*]+)`)

// sourceMapURL returns the absolute URL of the source map a script points
// to, or "" when it has none. Inline data: maps are ignored.
func sourceMapURL(scriptURL string, body []byte) string {
	m := sourceMappingRe.FindAllSubmatch(body, -1)
	if len(m) == 0 {
		return ""
	}
	ref := string(m[len(m)-1][1])
	if strings.HasPrefix(ref, "data:") {
		return ""
	}
	base, err := url.Parse(scriptURL)
	if err != nil {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

type sourceMap struct {
	Version        int      `json:"version"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
}

// readHints fetches robots.txt and the sitemaps it names, or /sitemap.xml,
// and queues what they list one level below the seed.
func (c *crawl) readHints(ctx context.Context, seed *url.URL, seedItem *queue.Item) {
	root := &url.URL{Scheme: seed.Scheme, Host: seed.Host, Path: "/"}

	sitemaps := []string{root.JoinPath("sitemap.xml").String()}
	if body := c.fetchHint(ctx, root.JoinPath("robots.txt").String(), 0); body != nil {
		hints := parseRobots(body)
		for _, p := range hints.Paths {
			c.enqueue(httpclient.Link{URL: root.JoinPath(p).String()}, seedItem)
		}
		if len(hints.Sitemaps) > 0 {
			sitemaps = hints.Sitemaps
		}
		c.log.Debugf("robots.txt lists %d paths and %d sitemaps", len(hints.Paths), len(hints.Sitemaps))
	}

	for depth := 0; depth <= maxSitemapDepth && len(sitemaps) > 0; depth++ {
		var next []string
		for _, sm := range sitemaps {
			if ctx.Err() != nil {
				return
			}
			body := c.fetchHint(ctx, sm, 0)
			if body == nil {
				continue
			}
			pages, nested := parseSitemap(body)
			for _, p := range pages {
				c.enqueue(httpclient.Link{URL: p}, seedItem)
			}
			next = append(next, nested...)
		}
		sitemaps = next
	}
}

// fetchHint fetches a hint file within the page budget. Misses are
// expected and return nil without recording a failure.
func (c *crawl) fetchHint(ctx context.Context, target string, depth int) []byte {
	if !c.claim(target) {
		return nil
	}
	resp, err := c.fetch(ctx, target, depth)
	if err != nil || resp.StatusCode != 200 || len(resp.Body) == 0 {
		c.log.Debugf("no hint file at %s", target)
		return nil
	}
	return resp.Body
}

// sourceMap fetches the source map a script names and emits each embedded
// original source as a script unit.
func (c *crawl) sourceMap(ctx context.Context, scriptURL string, body []byte, depth int) {
	mapURL := sourceMapURL(scriptURL, body)
	if mapURL == "" || !c.checker.IsInScope(mapURL, depth) {
		return
	}
	start := time.Now()
	data := c.fetchHint(ctx, mapURL, depth)
	if data == nil {
		return
	}
	var sm sourceMap
	if err := json.Unmarshal(data, &sm); err != nil {
		c.log.Debugf("unreadable source map %s", mapURL)
		return
	}
	elapsed := time.Since(start)
	for i, name := range sm.Sources {
		if i >= len(sm.SourcesContent) || sm.SourcesContent[i] == "" || strings.Contains(name, "node_modules/") {
			continue
		}
		c.unit(c.emit, parser.Unit{
			Kind:        parser.UnitScript,
			Source:      parser.SourceWeb,
			Locator:     mapURL + "#" + name,
			ContentType: "application/javascript",
			Body:        []byte(sm.SourcesContent[i]),
			Depth:       depth,
		}, elapsed)
		elapsed = 0
	}
}
