// Package queue provides the crawl frontier.
package queue

import "strings"

// Item is one URL waiting to be fetched.
type Item struct {
	URL       string
	Depth     int
	ParentURL string
	Kind      string // "page" or "script"
	Priority  int

	seq uint64
}

// priorityKeywords bias the crawl budget toward documentation and API pages.
var priorityKeywords = []string{
	"swagger", "openapi", "api-docs", "api", "graphql", "rest",
	"developers", "developer", "documentation", "docs", "reference", "guide",
}

// PriorityFor scores a link by API-related keywords in its URL or anchor text.
// Zero means a generic link.
func PriorityFor(rawURL, anchorText string) int {
	hay := strings.ToLower(rawURL + " " + anchorText)
	score := 0
	for i, kw := range priorityKeywords {
		if strings.Contains(hay, kw) {
			// earlier keywords weigh more
			score += len(priorityKeywords) - i
		}
	}
	return score
}
