package extract

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/apiforge/internal/metrics"
)

// Pool runs tasks on at most a fixed number of goroutines. Each task gets
// its own deadline derived from the pool's context.
type Pool struct {
	ctx     context.Context
	group   *errgroup.Group
	timeout time.Duration
	metrics *metrics.Collector
}

// NewPool creates a pool bound to ctx.
func NewPool(ctx context.Context, workers int, timeout time.Duration, m *metrics.Collector) *Pool {
	if workers <= 0 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	return &Pool{ctx: ctx, group: g, timeout: timeout, metrics: m}
}

// Submit schedules fn, blocking while every worker is busy. It returns
// false without scheduling once the pool's context is done.
func (p *Pool) Submit(fn func(ctx context.Context)) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.group.Go(func() error {
		if p.ctx.Err() != nil {
			return nil
		}
		ctx, cancel := p.taskContext()
		defer cancel()

		if p.metrics != nil {
			p.metrics.AddActiveWorkers(1)
			defer p.metrics.AddActiveWorkers(-1)
		}
		fn(ctx)
		return nil
	})
	return true
}

func (p *Pool) taskContext() (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(p.ctx)
	}
	return context.WithTimeout(p.ctx, p.timeout)
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
