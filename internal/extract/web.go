package extract

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/apiforge/internal/browser"
	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/httpclient"
	"github.com/PentesterFlow/apiforge/internal/parser"
	"github.com/PentesterFlow/apiforge/internal/queue"
	"github.com/PentesterFlow/apiforge/internal/ratelimit"
	"github.com/PentesterFlow/apiforge/internal/scope"
	"github.com/PentesterFlow/apiforge/internal/state"
)

// SpecPaths are requested on the seed host before link traversal.
var SpecPaths = []string{
	"/openapi.json",
	"/swagger.json",
	"/openapi.yaml",
	"/swagger.yaml",
	"/api-docs",
	"/v3/api-docs",
	"/docs/openapi.json",
	"/swagger/v1/swagger.json",
}

// Renderer loads a page in a headless browser.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (*browser.PageResult, error)
}

type fetcher interface {
	GetWithRetry(ctx context.Context, targetURL string) (*httpclient.Response, error)
}

// WithRenderer enables headless rendering through r when Config.Render is set.
func WithRenderer(r Renderer) Option {
	return func(b *base) { b.renderer = r }
}

// WithClient replaces the HTTP client.
func WithClient(c *httpclient.Client) Option {
	return func(b *base) {
		if c != nil {
			b.client = c
		}
	}
}

// WebCrawler walks a site breadth-first and emits pages, scripts,
// specifications and captured network requests.
type WebCrawler struct {
	base
}

// NewWebCrawler creates a crawler.
func NewWebCrawler(cfg Config, opts ...Option) *WebCrawler {
	w := &WebCrawler{base: newBase(cfg, "web", opts)}
	if w.client == nil {
		hc := httpclient.DefaultConfig()
		if w.cfg.UserAgent != "" {
			hc.UserAgent = w.cfg.UserAgent
		}
		hc.Headers = w.cfg.Headers
		client := httpclient.New(hc)
		limiter := ratelimit.NewLimiter(w.cfg.RequestsPerSecond, w.cfg.Burst)
		for host, rps := range w.cfg.HostRates {
			limiter.SetHostRate(host, rps, w.cfg.Burst)
		}
		client.SetLimiter(limiter)
		w.client = client
	}
	return w
}

// crawl is the state of one Extract call.
type crawl struct {
	*WebCrawler
	emit     Emit
	sink     ErrorSink
	checker  *scope.Checker
	frontier *queue.Frontier
	visited  *state.Deduplicator
	budget   atomic.Int64
}

// Extract crawls from seed. It returns an error only when the seed itself
// is unusable; everything after that is recorded on sink.
func (w *WebCrawler) Extract(ctx context.Context, seed string, emit Emit, sink ErrorSink) error {
	seedURL, err := url.Parse(strings.TrimSpace(seed))
	if err != nil || (seedURL.Scheme != "http" && seedURL.Scheme != "https") || seedURL.Host == "" {
		return errors.Unsupported(seed, "seed must be an absolute http(s) URL")
	}
	seed = seedURL.String()

	rules := scope.NewRuleBuilder().
		WithIncludePatterns(w.cfg.IncludePatterns...).
		WithExcludePatterns(w.cfg.ExcludePatterns...).
		WithDefaultExcludes().
		WithAllowedDomains(w.cfg.AllowedDomains...).
		WithMaxDepth(w.cfg.MaxDepth).
		WithFollowExternal(w.cfg.FollowExternal).
		Build()
	checker, err := scope.NewChecker(seed, rules)
	if err != nil {
		return errors.Unsupported(seed, "invalid scope pattern: "+err.Error())
	}

	c := &crawl{
		WebCrawler: w,
		emit:       emit,
		sink:       sink,
		checker:    checker,
		frontier:   queue.NewFrontier(),
		visited:    state.NewDeduplicator(w.cfg.MaxPages * 4),
	}
	defer c.frontier.Close()

	w.log.Infof("crawling %s (max pages %d, depth %d)", seed, w.cfg.MaxPages, w.cfg.MaxDepth)
	c.frontier.Push(&queue.Item{URL: seed, Kind: "page"})

	first := true
	for ctx.Err() == nil {
		items := c.frontier.PopLevel(0)
		if len(items) == 0 {
			break
		}
		w.metrics.SetFrontierDepth(int64(c.frontier.Len()))

		pool := NewPool(ctx, w.cfg.Workers, w.cfg.TaskTimeout, w.metrics)
		for _, item := range items {
			item := item
			if !pool.Submit(func(ctx context.Context) { c.visit(ctx, item) }) {
				break
			}
		}
		pool.Wait()

		// Specification probes follow the seed so the seed is always fetched.
		if first && w.cfg.ProbeSpecs {
			c.probeSpecs(ctx, seedURL)
		}
		if first && w.cfg.ReadHints {
			c.readHints(ctx, seedURL, &queue.Item{URL: seed})
		}
		first = false

		if c.budget.Load() >= int64(w.cfg.MaxPages) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		c.fail(sink, seed, errors.Categorize(err, seed))
	}
	w.log.Infof("crawl of %s done: %d units fetched, %d URLs seen", seed, c.budget.Load(), c.visited.Count())
	return nil
}

// claim marks rawURL visited and reserves one unit of page budget. It
// reports false when the URL was seen before or the budget is spent.
func (c *crawl) claim(rawURL string) bool {
	key, err := scope.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if !c.visited.CheckAndMark(key) {
		return false
	}
	if c.budget.Add(1) > int64(c.cfg.MaxPages) {
		c.budget.Add(-1)
		c.metrics.RecordSkipped()
		return false
	}
	return true
}

// fetch requests rawURL, a URL already claimed at depth. Each redirect hop
// must be in scope and is claimed like a link; a refused hop ends the chain
// and the 3xx response is returned as is.
func (c *crawl) fetch(ctx context.Context, rawURL string, depth int) (*httpclient.Response, error) {
	granted := make(map[string]bool)
	if key, err := scope.NormalizeURL(rawURL); err == nil {
		granted[key] = true
	}
	ctx = httpclient.WithRedirectPolicy(ctx, func(target string) bool {
		key, err := scope.NormalizeURL(target)
		if err != nil {
			return false
		}
		if granted[key] {
			return true
		}
		if !c.checker.IsInScope(target, depth) || !c.claim(target) {
			c.log.Debugf("not following redirect from %s to %s", rawURL, target)
			return false
		}
		granted[key] = true
		return true
	})

	resp, err := c.client.GetWithRetry(ctx, rawURL)
	if resp != nil && resp.Attempts > 1 {
		c.metrics.RecordRetry()
	}
	return resp, err
}

func (c *crawl) visit(ctx context.Context, item *queue.Item) {
	if !c.claim(item.URL) {
		return
	}
	start := time.Now()
	resp, err := c.fetch(ctx, item.URL, item.Depth)
	if err != nil {
		c.fail(c.sink, item.URL, err)
		return
	}
	if resp.Redirect() != "" {
		return
	}

	kind := parser.UnitPage
	if parser.LooksLikeSpec(resp.Body) {
		kind = parser.UnitSpec
	}
	c.unit(c.emit, parser.Unit{
		Kind:        kind,
		Source:      parser.SourceWeb,
		Locator:     item.URL,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Depth:       item.Depth,
	}, time.Since(start))

	if kind == parser.UnitSpec || !resp.IsHTML() {
		return
	}

	pageURL := resp.FinalURL
	if pageURL == "" {
		pageURL = item.URL
	}
	refs := httpclient.ExtractRefs(resp.Body, pageURL)
	for _, src := range refs.Scripts {
		if ctx.Err() != nil {
			return
		}
		c.script(ctx, src, item.Depth)
	}
	for _, link := range refs.Links {
		c.enqueue(link, item)
	}

	if c.cfg.Render && c.renderer != nil {
		c.render(ctx, item)
	}
}

func (c *crawl) enqueue(link httpclient.Link, parent *queue.Item) {
	depth := parent.Depth + 1
	if !scope.IsCrawlable(link.URL) || !c.checker.IsInScope(link.URL, depth) {
		return
	}
	if key, err := scope.NormalizeURL(link.URL); err != nil || c.visited.HasSeen(key) {
		return
	}
	c.frontier.Push(&queue.Item{
		URL:       link.URL,
		Depth:     depth,
		ParentURL: parent.URL,
		Kind:      "page",
		Priority:  queue.PriorityFor(link.URL, link.Text),
	})
}

// script fetches a referenced script file as its own unit.
func (c *crawl) script(ctx context.Context, src string, depth int) {
	if !c.checker.IsInScope(src, depth) || !c.claim(src) {
		return
	}
	start := time.Now()
	resp, err := c.fetch(ctx, src, depth)
	if err != nil {
		c.fail(c.sink, src, err)
		return
	}
	if resp.Redirect() != "" {
		return
	}
	c.unit(c.emit, parser.Unit{
		Kind:        parser.UnitScript,
		Source:      parser.SourceWeb,
		Locator:     src,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Depth:       depth,
	}, time.Since(start))

	if c.cfg.ReadHints {
		c.sourceMap(ctx, src, resp.Body, depth)
	}
}

// probeSpecs requests the well-known specification locations. Misses are
// expected and not recorded as failures.
func (c *crawl) probeSpecs(ctx context.Context, seed *url.URL) {
	for _, p := range SpecPaths {
		if ctx.Err() != nil {
			return
		}
		target := (&url.URL{Scheme: seed.Scheme, Host: seed.Host, Path: p}).String()
		if !c.claim(target) {
			continue
		}
		start := time.Now()
		resp, err := c.fetch(ctx, target, 0)
		if err != nil || !parser.LooksLikeSpec(resp.Body) {
			c.log.Debugf("no specification at %s", target)
			continue
		}
		c.log.Infof("found specification at %s", target)
		c.unit(c.emit, parser.Unit{
			Kind:        parser.UnitSpec,
			Source:      parser.SourceWeb,
			Locator:     target,
			ContentType: resp.ContentType,
			Body:        resp.Body,
		}, time.Since(start))
	}
}

// render loads the page in the browser and emits the rendered markup plus
// every request the page issued.
func (c *crawl) render(ctx context.Context, item *queue.Item) {
	start := time.Now()
	page, err := c.renderer.Render(ctx, item.URL)
	if err != nil {
		c.fail(c.sink, item.URL, err)
		return
	}
	c.unit(c.emit, parser.Unit{
		Kind:        parser.UnitMarkup,
		Source:      parser.SourceWeb,
		Locator:     item.URL,
		ContentType: "text/html",
		Body:        []byte(page.HTML),
		Depth:       item.Depth,
	}, time.Since(start))

	base, err := url.Parse(item.URL)
	if err == nil {
		for _, r := range page.Routes {
			if r.Concrete() {
				c.enqueue(httpclient.Link{URL: base.ResolveReference(&url.URL{Path: r.Path}).String()}, item)
			}
		}
	}

	for _, req := range page.Requests {
		if !req.IsAPI() {
			continue
		}
		c.unit(c.emit, parser.Unit{
			Kind:        parser.UnitNetwork,
			Source:      parser.SourceWeb,
			Locator:     req.URL,
			ContentType: req.ContentType,
			Body:        []byte(req.PostData),
			Depth:       item.Depth,
			Method:      req.Method,
		}, 0)
	}
}
