// Package browser renders pages in headless Chrome via Rod and records the
// API requests they issue.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// Config defines browser configuration.
type Config struct {
	PoolSize          int               `json:"pool_size" yaml:"pool_size"`
	Headless          bool              `json:"headless" yaml:"headless"`
	Timeout           time.Duration     `json:"timeout" yaml:"timeout"`
	SettleTime        time.Duration     `json:"settle_time" yaml:"settle_time"`
	UserAgent         string            `json:"user_agent" yaml:"user_agent"`
	Headers           map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	RecycleAfter      int               `json:"recycle_after" yaml:"recycle_after"`
	IgnoreHTTPSErrors bool              `json:"ignore_https_errors" yaml:"ignore_https_errors"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:          2,
		Headless:          true,
		Timeout:           20 * time.Second,
		SettleTime:        time.Second,
		UserAgent:         "apiforge/1.0 (+https://github.com/PentesterFlow/apiforge)",
		RecycleAfter:      50,
		IgnoreHTTPSErrors: true,
	}
}

// Browser wraps a Rod browser instance.
type Browser struct {
	browser   *rod.Browser
	config    Config
	mu        sync.Mutex
	pageCount int
}

// PageResult is a rendered page and the requests it made while loading.
type PageResult struct {
	URL          string
	FinalURL     string
	HTML         string
	Requests     []NetworkRequest
	Routes       []ClientRoute
	ResponseTime time.Duration
}

// New launches a browser.
func New(config Config) (*Browser, error) {
	l := launcher.New()
	if config.Headless {
		l = l.Headless(true)
	}
	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser: browser.Timeout(config.Timeout),
		config:  config,
	}, nil
}

// Render navigates to pageURL, waits for the page to settle and returns its
// markup together with every XHR and fetch request it issued.
func (b *Browser) Render(ctx context.Context, pageURL string) (*PageResult, error) {
	b.mu.Lock()
	b.pageCount++
	b.mu.Unlock()

	start := time.Now()
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if b.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: b.config.UserAgent}.Call(page)
	}
	if len(b.config.Headers) > 0 {
		headers := make(proto.NetworkHeaders, len(b.config.Headers))
		for k, v := range b.config.Headers {
			headers[k] = gson.New(v)
		}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(page)
	}

	interceptor := NewInterceptor()

	// Requests issued before the page script runs are only visible to the
	// hijack router; the injected hook sees bodies the router may miss.
	router := page.HijackRequests()
	err = router.Add("*", "", func(hijack *rod.Hijack) {
		rt := hijack.Request.Type()
		if rt == proto.NetworkResourceTypeXHR || rt == proto.NetworkResourceTypeFetch {
			interceptor.Record(NetworkRequest{
				URL:          hijack.Request.URL().String(),
				Method:       hijack.Request.Method(),
				PostData:     hijack.Request.Body(),
				ContentType:  hijack.Request.Header("Content-Type"),
				ResourceType: string(rt),
				Timestamp:    time.Now(),
			})
		}
		hijack.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err == nil {
		go router.Run()
		defer router.Stop()
	}
	if _, err := page.EvalOnNewDocument(captureScript); err != nil {
		return nil, fmt.Errorf("failed to install request hook: %w", err)
	}

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("load %s: %w", pageURL, err)
	}
	if b.config.SettleTime > 0 {
		_ = page.WaitIdle(b.config.SettleTime)
	}

	for _, req := range capturedRequests(page) {
		interceptor.Record(req)
	}

	result := &PageResult{URL: pageURL, FinalURL: pageURL}
	if info, err := page.Info(); err == nil && info != nil {
		result.FinalURL = info.URL
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read rendered markup: %w", err)
	}
	result.HTML = html
	result.Requests = interceptor.Unique()
	result.Routes = clientRoutes(page)
	result.ResponseTime = time.Since(start)
	return result, nil
}

// Close closes the browser.
func (b *Browser) Close() error {
	return b.browser.Close()
}

// PageCount returns the number of pages rendered.
func (b *Browser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCount
}

// NeedsRecycle checks if the browser has rendered enough pages to restart.
func (b *Browser) NeedsRecycle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.RecycleAfter > 0 && b.pageCount >= b.config.RecycleAfter
}
