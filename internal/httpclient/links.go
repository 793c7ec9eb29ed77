package httpclient

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Link is an outbound reference found on a page.
type Link struct {
	URL  string
	Text string
}

// PageRefs holds what the crawler follows from one page.
type PageRefs struct {
	Title   string
	Links   []Link
	Scripts []string
}

// ExtractRefs walks an HTML document and collects anchors, script sources
// and the title. URLs are resolved against base and de-duplicated.
func ExtractRefs(body []byte, base string) PageRefs {
	refs := PageRefs{}

	baseURL, err := url.Parse(base)
	if err != nil {
		return refs
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return refs
	}

	seen := make(map[string]bool)
	addLink := func(href, text string) {
		link := resolve(href, baseURL)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		refs.Links = append(refs.Links, Link{URL: link, Text: strings.TrimSpace(text)})
	}

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "base":
				if href := attr(n, "href"); href != "" {
					if b := resolve(href, baseURL); b != "" {
						baseURL, _ = url.Parse(b)
					}
				}
			case "a", "area":
				addLink(attr(n, "href"), textOf(n))
			case "link":
				href := attr(n, "href")
				rel := strings.ToLower(attr(n, "rel"))
				if rel != "stylesheet" && rel != "icon" && !strings.HasSuffix(href, ".css") {
					addLink(href, "")
				}
			case "script":
				if src := resolve(attr(n, "src"), baseURL); src != "" && !seen[src] {
					seen[src] = true
					refs.Scripts = append(refs.Scripts, src)
				}
			case "title":
				if n.FirstChild != nil {
					refs.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(doc)
	return refs
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// resolve resolves href against base, returning "" for non-http(s) targets.
func resolve(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
