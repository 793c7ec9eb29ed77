package browser

import (
	"context"
	"fmt"
	"sync"
)

// Pool hands out a fixed number of browsers. Browsers are launched on
// first use, so a pool that never renders never starts Chrome.
type Pool struct {
	mu       sync.Mutex
	browsers []*Browser
	config   Config
	current  int
	closed   bool
	sem      chan struct{}
}

// NewPool creates a pool of config.PoolSize browsers.
func NewPool(config Config) *Pool {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}
	p := &Pool{
		browsers: make([]*Browser, config.PoolSize),
		config:   config,
		sem:      make(chan struct{}, config.PoolSize),
	}
	for i := 0; i < config.PoolSize; i++ {
		p.sem <- struct{}{}
	}
	return p
}

// acquire waits for a free slot and returns its browser, launching or
// recycling it as needed.
func (p *Pool) acquire(ctx context.Context) (*Browser, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.sem <- struct{}{}
		return nil, fmt.Errorf("pool is closed")
	}

	slot := p.current
	p.current = (p.current + 1) % len(p.browsers)

	b := p.browsers[slot]
	if b != nil && b.NeedsRecycle() {
		_ = b.Close()
		b = nil
	}
	if b == nil {
		nb, err := New(p.config)
		if err != nil {
			p.sem <- struct{}{}
			return nil, err
		}
		p.browsers[slot] = nb
		b = nb
	}
	return b, nil
}

func (p *Pool) release() {
	p.sem <- struct{}{}
}

// Render renders pageURL on the next free browser.
func (p *Pool) Render(ctx context.Context, pageURL string) (*PageResult, error) {
	b, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release()
	return b.Render(ctx, pageURL)
}

// Close closes all launched browsers.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var lastErr error
	for _, b := range p.browsers {
		if b != nil {
			if err := b.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
