// Package probe performs best-effort live checks of catalogued endpoints.
// A probe never feeds back into a session's catalogue.
package probe

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/httpclient"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// Config holds probe settings.
type Config struct {
	Timeout       time.Duration     `json:"timeout" yaml:"timeout"`
	MaxBodySize   int64             `json:"max_body_size" yaml:"max_body_size"`
	UserAgent     string            `json:"user_agent" yaml:"user_agent"`
	Headers       map[string]string `json:"headers" yaml:"headers"`
	SkipTLSVerify bool              `json:"skip_tls_verify" yaml:"skip_tls_verify"`

	// WebSocket endpoints
	MaxMessages    int           `json:"max_messages" yaml:"max_messages"`
	MessageTimeout time.Duration `json:"message_timeout" yaml:"message_timeout"`
}

// DefaultConfig returns a short-timeout probe configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		MaxBodySize:    1 << 20,
		MaxMessages:    10,
		MessageTimeout: 2 * time.Second,
	}
}

// Result is what a live endpoint answered.
type Result struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	Messages []Message         `json:"messages,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Prober sends one request per call. It is safe for concurrent use.
type Prober struct {
	cfg    Config
	client *httpclient.Client
	dialer *websocket.Dialer
	log    *logger.Logger

	headers HeaderSource
}

// HeaderSource supplies per-request headers, such as a freshly issued
// access token. Its headers override configured ones.
type HeaderSource func(ctx context.Context) (map[string]string, error)

// New creates a prober.
func New(cfg Config, log *logger.Logger) *Prober {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = def.MessageTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.MaxBodySize = cfg.MaxBodySize
	hc.Headers = cfg.Headers
	hc.SkipTLSVerify = cfg.SkipTLSVerify
	if cfg.UserAgent != "" {
		hc.UserAgent = cfg.UserAgent
	}

	return &Prober{
		cfg:    cfg,
		client: httpclient.New(hc),
		dialer: newDialer(cfg),
		log:    log.WithComponent("probe"),
	}
}

// Probe calls ep on the API at baseURL with args bound per its parameters.
// Any HTTP status is a valid answer; only transport failures are errors.
// Endpoints tagged websocket, or a ws(s) base URL, are probed over WebSocket.
func (p *Prober) Probe(ctx context.Context, baseURL string, ep catalog.Endpoint, args map[string]interface{}) (*Result, error) {
	tool := synth.FromEndpoint(synth.ID(ep.Method, ep.Path), ep)
	return p.invoke(ctx, baseURL, tool, args, isWebSocket(baseURL, ep))
}

// Invoke calls an already synthesized tool. Only a ws(s) base URL selects
// WebSocket.
func (p *Prober) Invoke(ctx context.Context, baseURL string, tool synth.Tool, args map[string]interface{}) (*Result, error) {
	return p.invoke(ctx, baseURL, tool, args, isWebSocket(baseURL, catalog.Endpoint{}))
}

func (p *Prober) invoke(ctx context.Context, baseURL string, tool synth.Tool, args map[string]interface{}, ws bool) (*Result, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if ws {
		return p.probeWebSocket(ctx, baseURL, tool, args)
	}

	req, err := p.build(ctx, tool, baseURL, args)
	if err != nil {
		return nil, err
	}
	if scheme := req.URL.Scheme; scheme != "http" && scheme != "https" {
		return nil, errors.Unsupported(baseURL, "probe supports http, https, ws and wss")
	}

	p.log.WithLocator(req.URL.String()).Debugf("probing %s", req.Method)
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{
		URL:      req.URL.String(),
		Method:   req.Method,
		Status:   resp.StatusCode,
		Headers:  flatten(resp.Header),
		Body:     string(resp.Body),
		Duration: resp.Duration,
	}, nil
}

// SetHeaderSource installs fn. Call it before the first Probe.
func (p *Prober) SetHeaderSource(fn HeaderSource) {
	p.headers = fn
}

func (p *Prober) build(ctx context.Context, tool synth.Tool, baseURL string, args map[string]interface{}) (*http.Request, error) {
	req, err := tool.Build(baseURL, args)
	if err != nil {
		return nil, err
	}
	if p.headers == nil {
		return req, nil
	}
	extra, err := p.headers(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Close releases idle connections.
func (p *Prober) Close() {
	p.client.Close()
}

func isWebSocket(baseURL string, ep catalog.Endpoint) bool {
	if u, err := url.Parse(baseURL); err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		return true
	}
	for _, t := range ep.Tags {
		if t == "websocket" {
			return true
		}
	}
	return false
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func readBody(r io.Reader) string {
	if r == nil {
		return ""
	}
	data, _ := io.ReadAll(r)
	return string(data)
}
