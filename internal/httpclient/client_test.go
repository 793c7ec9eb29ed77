package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/ratelimit"
)

// fastConfig is DefaultConfig with a millisecond retry backoff.
func fastConfig() Config {
	retry := errors.DefaultRetryConfig()
	retry.InitialDelay = time.Millisecond
	retry.Jitter = 0
	cfg := DefaultConfig()
	cfg.Retry = &retry
	return cfg
}

// =============================================================================
// Config Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", config.Timeout)
	}
	if config.MaxBodySize != 5*1024*1024 {
		t.Errorf("MaxBodySize = %d", config.MaxBodySize)
	}
	if config.UserAgent == "" {
		t.Error("UserAgent should not be empty")
	}
	if config.SkipTLSVerify {
		t.Error("SkipTLSVerify should be false by default")
	}
}

// =============================================================================
// Get Tests
// =============================================================================

func TestClient_Get_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Docs</title></head><body>ok</body></html>`))
	}))
	defer server.Close()

	client := New(DefaultConfig())
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if !resp.IsHTML() {
		t.Error("IsHTML() = false")
	}
	if !strings.Contains(string(resp.Body), "<title>Docs</title>") {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestClient_Get_DecodesCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer server.Close()

	resp, err := New(DefaultConfig()).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "café" {
		t.Errorf("Body = %q, want café", resp.Body)
	}
}

func TestClient_Get_BinaryUntouched(t *testing.T) {
	payload := []byte{0x25, 0x50, 0x44, 0x46, 0xff, 0xfe}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(payload)
	}))
	defer server.Close()

	resp, err := New(DefaultConfig()).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != string(payload) {
		t.Errorf("binary body altered: %v", resp.Body)
	}
}

func TestClient_Get_SizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxBodySize = 10
	resp, err := New(cfg).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Body) != 10 || !resp.Truncated {
		t.Errorf("len = %d, truncated = %v", len(resp.Body), resp.Truncated)
	}
}

func TestClient_Get_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		reason    errors.Reason
		retryable bool
	}{
		{404, errors.ClientError, false},
		{429, errors.RateLimit, true},
		{503, errors.ServerError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			resp, err := New(DefaultConfig()).Get(context.Background(), server.URL)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrSourceUnavailable) {
				t.Errorf("err kind = %v", errors.KindOf(err))
			}
			if errors.ReasonOf(err) != tt.reason {
				t.Errorf("reason = %v, want %v", errors.ReasonOf(err), tt.reason)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v", errors.IsRetryable(err))
			}
			if resp.StatusCode != tt.status {
				t.Errorf("StatusCode = %d", resp.StatusCode)
			}
		})
	}
}

func TestClient_Get_InvalidURL(t *testing.T) {
	resp, err := New(DefaultConfig()).Get(context.Background(), "://invalid")
	if err == nil {
		t.Error("Get() should return error for invalid URL")
	}
	if resp == nil {
		t.Error("response should never be nil")
	}
}

func TestClient_Get_CustomHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Headers = map[string]string{"Authorization": "Bearer t"}
	client := New(cfg)
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer t" {
		t.Errorf("Authorization = %q", got)
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func TestClient_GetWithRetry_RetriesOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(fastConfig())

	resp, err := client.GetWithRetry(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 || resp.Attempts != 2 {
		t.Errorf("calls = %d, attempts = %d, want 2", calls.Load(), resp.Attempts)
	}
}

func TestClient_GetWithRetry_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := New(fastConfig())

	if _, err := client.GetWithRetry(context.Background(), server.URL); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_GetWithRetry_RecoversAfterTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(fastConfig())

	resp, err := client.GetWithRetry(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("GetWithRetry() error = %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
}

func TestClient_WithLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	limiter := ratelimit.NewLimiter(1000, 10)
	client := New(DefaultConfig())
	client.SetLimiter(limiter)

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatal(err)
	}
	if limiter.Stats().HostCount != 1 {
		t.Errorf("HostCount = %d, want 1", limiter.Stats().HostCount)
	}
}

func TestClient_Get_RedirectPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new#frag", http.StatusMovedPermanently)
		case "/new":
			w.Write([]byte("moved here"))
		}
	}))
	defer server.Close()

	tests := []struct {
		name     string
		allow    bool
		status   int
		redirect string
	}{
		{"followed when allowed", true, http.StatusOK, ""},
		{"stopped when refused", false, http.StatusMovedPermanently, server.URL + "/new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asked []string
			ctx := WithRedirectPolicy(context.Background(), func(target string) bool {
				asked = append(asked, target)
				return tt.allow
			})
			resp, err := New(DefaultConfig()).Get(ctx, server.URL+"/old")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := resp.Redirect(); got != tt.redirect {
				t.Errorf("Redirect() = %q, want %q", got, tt.redirect)
			}
			if len(asked) != 1 || !strings.Contains(asked[0], "/new") {
				t.Errorf("policy asked about %v, want the /new hop once", asked)
			}
		})
	}
}

func TestClient_Get_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(DefaultConfig()).Get(ctx, server.URL)
	if err == nil {
		t.Fatal("Get() should fail on timeout")
	}
	if errors.ReasonOf(err) != errors.Timeout {
		t.Errorf("reason = %v, want timeout", errors.ReasonOf(err))
	}
}

// =============================================================================
// ExtractRefs Tests
// =============================================================================

func TestExtractRefs(t *testing.T) {
	body := []byte(`<!DOCTYPE html>
<html>
<head>
	<title> API Portal </title>
	<link rel="stylesheet" href="/style.css">
	<script src="/js/app.js"></script>
	<script src="https://cdn.example.com/lib.js"></script>
</head>
<body>
	<a href="/docs/api">API <b>Reference</b></a>
	<a href="/docs/api#auth">dup with fragment</a>
	<a href="mailto:x@example.com">mail</a>
	<a href="javascript:void(0)">js</a>
	<a href="https://other.com/">Other</a>
	<script>inline()</script>
</body>
</html>`)

	refs := ExtractRefs(body, "https://example.com/index.html")

	if refs.Title != "API Portal" {
		t.Errorf("Title = %q", refs.Title)
	}
	if len(refs.Links) != 2 {
		t.Fatalf("Links = %+v, want 2", refs.Links)
	}
	if refs.Links[0].URL != "https://example.com/docs/api" || refs.Links[0].Text != "API Reference" {
		t.Errorf("Links[0] = %+v", refs.Links[0])
	}
	if len(refs.Scripts) != 2 || refs.Scripts[0] != "https://example.com/js/app.js" {
		t.Errorf("Scripts = %v", refs.Scripts)
	}
}

func TestExtractRefs_BaseTag(t *testing.T) {
	body := []byte(`<html><head><base href="https://example.com/v2/"></head><body><a href="users">u</a></body></html>`)
	refs := ExtractRefs(body, "https://example.com/")

	if len(refs.Links) != 1 || refs.Links[0].URL != "https://example.com/v2/users" {
		t.Errorf("Links = %+v", refs.Links)
	}
}
