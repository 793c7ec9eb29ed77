// Package httpclient fetches source units over HTTP for the extractors.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/ratelimit"
	"golang.org/x/net/html/charset"
)

// Client is an HTTP client tuned for fetching documentation pages,
// scripts and specification files.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	maxBody   int64
	retrier   *errors.Retrier
	limiter   *ratelimit.Limiter
	mu        sync.RWMutex
}

// Config holds configuration for the client.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	MaxBodySize         int64
	UserAgent           string
	Headers             map[string]string
	SkipTLSVerify       bool

	// Retry policy for GetWithRetry; nil uses errors.DefaultRetryConfig
	Retry *errors.RetryConfig
}

// DefaultConfig returns defaults suitable for a polite crawl.
func DefaultConfig() Config {
	return Config{
		Timeout:             15 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		MaxBodySize:         5 * 1024 * 1024,
		UserAgent:           "apiforge/1.0 (+https://github.com/PentesterFlow/apiforge)",
	}
}

// New creates a client.
func New(config Config) *Client {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	retrier := errors.NewDefaultRetrier()
	if config.Retry != nil {
		retrier = errors.NewRetrier(*config.Retry)
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &Client{
		client: &http.Client{
			Transport:     transport,
			Timeout:       config.Timeout,
			CheckRedirect: checkRedirect,
		},
		userAgent: config.UserAgent,
		headers:   headers,
		maxBody:   config.MaxBodySize,
		retrier:   retrier,
	}
}

type redirectPolicyKey struct{}

// WithRedirectPolicy makes requests made under ctx follow a redirect only
// when allow accepts its target. A refused redirect is returned as the 3xx
// response itself; see Response.Redirect.
func WithRedirectPolicy(ctx context.Context, allow func(target string) bool) context.Context {
	return context.WithValue(ctx, redirectPolicyKey{}, allow)
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return http.ErrUseLastResponse
	}
	if allow, ok := req.Context().Value(redirectPolicyKey{}).(func(string) bool); ok && !allow(req.URL.String()) {
		return http.ErrUseLastResponse
	}
	return nil
}

// SetLimiter attaches a per-host rate limiter. Nil disables limiting.
func (c *Client) SetLimiter(l *ratelimit.Limiter) {
	c.mu.Lock()
	c.limiter = l
	c.mu.Unlock()
}

// Response is a fetched unit. Body is decoded to UTF-8 for textual
// content and left untouched otherwise.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Truncated   bool
	Attempts    int
	Duration    time.Duration
}

// Redirect returns the absolute target of a redirect that was not followed,
// or "" when the response is not a redirect.
func (r *Response) Redirect() string {
	if r.StatusCode < 300 || r.StatusCode >= 400 || r.Header == nil {
		return ""
	}
	loc := r.Header.Get("Location")
	if loc == "" {
		return ""
	}
	base := r.FinalURL
	if base == "" {
		base = r.URL
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	u, err := b.Parse(loc)
	if err != nil {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// IsHTML reports whether the response carries an HTML document.
func (r *Response) IsHTML() bool {
	ct := strings.ToLower(r.ContentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Get fetches targetURL once. Statuses of 400 and above are returned as
// SourceUnavailable errors alongside the response.
func (c *Client) Get(ctx context.Context, targetURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return &Response{URL: targetURL}, errors.NewParseError(targetURL, "request_creation", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,application/yaml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.do(ctx, req)
	if err != nil {
		return resp, err
	}
	if httpErr := errors.CategorizeHTTPStatus(resp.StatusCode, targetURL); httpErr != nil {
		return resp, httpErr
	}
	return resp, nil
}

// GetWithRetry performs Get, retrying transient failures per the retry policy.
// The returned response is never nil; Attempts records how many requests were made.
func (c *Client) GetWithRetry(ctx context.Context, targetURL string) (*Response, error) {
	c.mu.RLock()
	retrier := c.retrier
	c.mu.RUnlock()

	var resp *Response
	result := retrier.Do(ctx, "fetch", targetURL, func(ctx context.Context) error {
		var err error
		resp, err = c.Get(ctx, targetURL)
		return err
	})

	if resp == nil {
		resp = &Response{URL: targetURL}
	}
	resp.Attempts = result.Attempts

	if !result.Success {
		return resp, result.LastError
	}
	return resp, nil
}

// Do sends an arbitrary request without status categorization. It is used
// by the endpoint probe, where any status is a valid answer.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	return c.do(ctx, req.WithContext(ctx))
}

func (c *Client) do(ctx context.Context, req *http.Request) (*Response, error) {
	start := time.Now()
	targetURL := req.URL.String()
	result := &Response{URL: targetURL}

	c.mu.RLock()
	limiter := c.limiter
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	c.mu.RUnlock()

	if limiter != nil {
		if err := limiter.WaitHost(ctx, req.URL.Host); err != nil {
			return result, errors.Categorize(err, targetURL)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return result, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.FinalURL = resp.Request.URL.String()
	result.ContentType = resp.Header.Get("Content-Type")
	result.Header = resp.Header

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return result, errors.Unavailable(errors.Network, "body_read", targetURL, err)
	}
	if int64(len(raw)) > c.maxBody {
		raw = raw[:c.maxBody]
		result.Truncated = true
	}

	body, err := decode(raw, result.ContentType)
	if err != nil {
		return result, errors.Unavailable(errors.Encoding, "decode", targetURL, err)
	}
	result.Body = body
	result.Duration = time.Since(start)
	return result, nil
}

// decode converts textual bodies to UTF-8 using the declared or sniffed charset.
func decode(raw []byte, contentType string) ([]byte, error) {
	if !isTextual(contentType) || len(raw) == 0 {
		return raw, nil
	}
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "" {
		return false
	}
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "yaml") ||
		strings.Contains(ct, "javascript") ||
		strings.Contains(ct, "xml")
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
