package browser

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/apiforge/internal/scope"
)

// NetworkRequest is one request observed while rendering a page.
type NetworkRequest struct {
	URL          string
	Method       string
	PostData     string
	ContentType  string
	ResourceType string
	Timestamp    time.Time
}

var assetExtensions = []string{
	".js", ".mjs", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
	".webp", ".woff", ".woff2", ".ttf", ".map", ".html", ".htm",
}

// IsAPI reports whether the request looks like an API call rather than an
// asset load.
func (r NetworkRequest) IsAPI() bool {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	if r.ResourceType == "XHR" || r.ResourceType == "Fetch" {
		return true
	}
	if scope.IsAPIPath(u.Path) {
		return true
	}
	ct := strings.ToLower(r.ContentType)
	return strings.Contains(ct, "json") || strings.Contains(ct, "xml")
}

// Interceptor collects requests from several capture paths.
type Interceptor struct {
	mu       sync.Mutex
	requests []NetworkRequest
}

// NewInterceptor creates an empty interceptor.
func NewInterceptor() *Interceptor {
	return &Interceptor{}
}

// Record stores a request.
func (i *Interceptor) Record(req NetworkRequest) {
	i.mu.Lock()
	i.requests = append(i.requests, req)
	i.mu.Unlock()
}

// Requests returns every recorded request in arrival order.
func (i *Interceptor) Requests() []NetworkRequest {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]NetworkRequest(nil), i.requests...)
}

// Unique returns one request per method and URL. When both capture paths
// saw a request, the copy carrying a body wins.
func (i *Interceptor) Unique() []NetworkRequest {
	i.mu.Lock()
	defer i.mu.Unlock()

	index := make(map[string]int, len(i.requests))
	var out []NetworkRequest
	for _, req := range i.requests {
		key := strings.ToUpper(req.Method) + " " + req.URL
		if at, ok := index[key]; ok {
			if out[at].PostData == "" && req.PostData != "" {
				out[at].PostData = req.PostData
				if out[at].ContentType == "" {
					out[at].ContentType = req.ContentType
				}
			}
			continue
		}
		index[key] = len(out)
		out = append(out, req)
	}
	return out
}

// Clear drops recorded requests.
func (i *Interceptor) Clear() {
	i.mu.Lock()
	i.requests = nil
	i.mu.Unlock()
}
