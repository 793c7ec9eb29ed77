// Package auth turns configured credentials into the request headers the
// crawler, the endpoint probe and the tool server send to a target API.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/apiforge/internal/httpclient"
)

// Type is the authentication scheme.
type Type string

const (
	TypeNone   Type = "none"
	TypeBearer Type = "bearer"
	TypeBasic  Type = "basic"
	TypeAPIKey Type = "apikey"
	TypeHeader Type = "header"
	TypeCookie Type = "cookie"
	TypeOAuth  Type = "oauth"
)

// DefaultAPIKeyHeader carries API keys when no header name is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// Credentials configure how requests authenticate.
type Credentials struct {
	Type       Type              `json:"type" yaml:"type"`
	Token      string            `json:"token,omitempty" yaml:"token,omitempty"`
	Username   string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string            `json:"password,omitempty" yaml:"password,omitempty"`
	HeaderName string            `json:"header_name,omitempty" yaml:"header_name,omitempty"`
	APIKey     string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	OAuth      *OAuthConfig      `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// OAuthConfig holds OAuth 2.0 client-credentials settings.
type OAuthConfig struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Validate checks that the fields the scheme needs are present.
func (c Credentials) Validate() error {
	switch c.Type {
	case "", TypeNone:
	case TypeBearer:
		if c.Token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
	case TypeBasic:
		if c.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
	case TypeAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("api key auth requires api_key")
		}
	case TypeHeader:
		if len(c.Headers) == 0 {
			return fmt.Errorf("header auth requires at least one header")
		}
	case TypeCookie:
		if len(c.Cookies) == 0 {
			return fmt.Errorf("cookie auth requires at least one cookie")
		}
	case TypeOAuth:
		if c.OAuth == nil || c.OAuth.TokenURL == "" || c.OAuth.ClientID == "" {
			return fmt.Errorf("oauth auth requires client_id and token_url")
		}
	default:
		return fmt.Errorf("unknown auth type %q", c.Type)
	}
	return nil
}

// Provider supplies authentication headers. It is safe for concurrent use.
type Provider struct {
	creds  Credentials
	client *httpclient.Client

	mu        sync.RWMutex
	token     string
	tokenType string
	expiry    time.Time
}

// NewProvider validates creds and creates a provider for them.
func NewProvider(creds Credentials) (*Provider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{creds: creds, tokenType: "Bearer"}
	if creds.Type == TypeBearer {
		p.token = creds.Token
		if exp, err := TokenExpiry(creds.Token); err == nil {
			p.expiry = exp
		}
	}
	if creds.Type == TypeOAuth {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = 30 * time.Second
		p.client = httpclient.New(cfg)
	}
	return p, nil
}

// Type returns the configured scheme.
func (p *Provider) Type() Type {
	if p.creds.Type == "" {
		return TypeNone
	}
	return p.creds.Type
}

// Authenticate obtains a token when the scheme needs one. It refreshes an
// OAuth token that is missing or within five minutes of expiry, and is a
// no-op for static schemes.
func (p *Provider) Authenticate(ctx context.Context) error {
	if p.creds.Type != TypeOAuth {
		return nil
	}
	p.mu.RLock()
	fresh := p.token != "" && (p.expiry.IsZero() || time.Until(p.expiry) > 5*time.Minute)
	p.mu.RUnlock()
	if fresh {
		return nil
	}
	return p.clientCredentials(ctx)
}

// IsAuthenticated reports whether the provider holds usable credentials.
// Bearer and OAuth tokens past their expiry are not usable.
func (p *Provider) IsAuthenticated() bool {
	switch p.Type() {
	case TypeNone:
		return true
	case TypeBearer, TypeOAuth:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.token != "" && (p.expiry.IsZero() || time.Now().Before(p.expiry))
	default:
		return true
	}
}

// Expiry returns the token expiry, or the zero time when unknown.
func (p *Provider) Expiry() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expiry
}

// Headers returns the headers to attach to every request. Explicit
// Credentials.Headers are always included and never overridden.
func (p *Provider) Headers() map[string]string {
	out := make(map[string]string, len(p.creds.Headers)+1)
	switch p.creds.Type {
	case TypeBearer, TypeOAuth:
		p.mu.RLock()
		if p.token != "" {
			out["Authorization"] = p.tokenType + " " + p.token
		}
		p.mu.RUnlock()
	case TypeBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(p.creds.Username + ":" + p.creds.Password))
		out["Authorization"] = "Basic " + creds
	case TypeAPIKey:
		name := p.creds.HeaderName
		if name == "" {
			name = DefaultAPIKeyHeader
		}
		out[name] = p.creds.APIKey
	case TypeCookie:
		out["Cookie"] = cookieHeader(p.creds.Cookies)
	}
	for k, v := range p.creds.Headers {
		out[k] = v
	}
	return out
}

// Merge returns base overlaid with the provider's headers.
func (p *Provider) Merge(base map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range p.Headers() {
		out[k] = v
	}
	return out
}

// Close releases the token client's connections.
func (p *Provider) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}
