// Package ratelimit throttles outbound requests per host.
package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter applies a global limit and an independent limit per host.
// A non-positive rate disables limiting.
type Limiter struct {
	mu           sync.Mutex
	global       *rate.Limiter
	perHost      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter allowing requestsPerSecond with the given burst.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		global:       rate.NewLimiter(limit, burst),
		perHost:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// WaitHost blocks until both the global and the host limiter admit a request.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if err := l.global.Wait(ctx); err != nil {
		return err
	}
	return l.hostLimiter(host).Wait(ctx)
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	host = strings.ToLower(host)

	l.mu.Lock()
	defer l.mu.Unlock()

	hl, ok := l.perHost[host]
	if !ok {
		hl = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perHost[host] = hl
	}
	return hl
}

// SetHostRate overrides the limit for one host, given as host[:port] the
// way it appears in request URLs.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[strings.ToLower(host)] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		HostCount:    len(l.perHost),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
	}
}

// Stats contains limiter statistics.
type Stats struct {
	HostCount    int     `json:"host_count"`
	DefaultRate  float64 `json:"default_rate"`
	DefaultBurst int     `json:"default_burst"`
}
