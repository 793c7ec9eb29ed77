package errors

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1
}

// DefaultRetryConfig allows exactly one retry of a transient failure.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   1,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retrier runs operations with exponential backoff.
type Retrier struct {
	config RetryConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewDefaultRetrier creates a retrier with DefaultRetryConfig.
func NewDefaultRetrier() *Retrier {
	return NewRetrier(DefaultRetryConfig())
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryResult holds the outcome of Do.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
	Success   bool
}

// Do executes fn, retrying transient failures up to MaxRetries times.
// Client errors, parse errors and unsupported content are never retried.
func (r *Retrier) Do(ctx context.Context, op, locator string, fn RetryFunc) *RetryResult {
	result := &RetryResult{}
	start := time.Now()
	delay := r.config.InitialDelay

	for attempt := 0; ; attempt++ {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.Duration = time.Since(start)
			return result
		}
		result.LastError = err

		if ctx.Err() != nil {
			result.LastError = NewCanceledError(locator, op)
			break
		}

		if attempt >= r.config.MaxRetries || !IsRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			result.LastError = NewCanceledError(locator, op)
			result.Duration = time.Since(start)
			return result
		case <-time.After(r.jittered(delay)):
		}

		delay = r.next(delay)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Retrier) jittered(base time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return base
	}
	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()

	jitter := r.config.Jitter * float64(base)
	return time.Duration(float64(base) + f*2*jitter - jitter)
}

func (r *Retrier) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * r.config.Multiplier)
	if n > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return n
}
