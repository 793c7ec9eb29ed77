// Package shutdown stops running analyses and releases the session store
// when the process receives SIGINT or SIGTERM.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/apiforge/internal/logger"
)

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type named struct {
	name string
	fn   Callback
}

// Handler runs registered callbacks once, on the first signal or Shutdown
// call, in reverse registration order.
type Handler struct {
	mu        sync.Mutex
	callbacks []named
	errs      []error

	shuttingDown atomic.Bool
	done         chan struct{}
	timeout      time.Duration
	log          *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	signals []os.Signal
}

// New creates a handler and starts listening for cfg.Signals.
func New(cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		log:     cfg.Logger.WithComponent("shutdown"),
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		signals: cfg.Signals,
	}
	signal.Notify(h.sigChan, cfg.Signals...)
	return h
}

// NewDefault creates a handler with default configuration.
func NewDefault() *Handler {
	return New(DefaultConfig())
}

// Register adds a named callback.
func (h *Handler) Register(name string, fn Callback) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, named{name: name, fn: fn})
	h.mu.Unlock()
}

// RegisterFunc adds a callback that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Context is canceled when shutdown begins. Analyses started under it stop
// fetching as soon as a signal arrives.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown reports whether shutdown has begun.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed when every callback has returned or timed out.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Errors returns the callback failures of a finished shutdown.
func (h *Handler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// Listen shuts down on the first signal. It returns Done.
func (h *Handler) Listen() <-chan struct{} {
	go func() {
		select {
		case sig := <-h.sigChan:
			h.log.Warnf("received %s, shutting down", sig)
			h.Shutdown()
		case <-h.ctx.Done():
		}
	}()
	return h.done
}

// Shutdown cancels Context and runs the callbacks. Only the first call
// does anything.
func (h *Handler) Shutdown() {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	start := time.Now()
	h.cancel()
	signal.Stop(h.sigChan)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	callbacks := append([]named(nil), h.callbacks...)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := h.run(ctx, cb); err != nil {
			h.log.WithError(err).Warnf("shutdown step %s failed", cb.name)
			errs = append(errs, err)
			continue
		}
		h.log.Debugf("shutdown step %s done", cb.name)
	}

	h.mu.Lock()
	h.errs = errs
	h.mu.Unlock()
	h.log.Infof("shutdown finished in %s with %d error(s)", time.Since(start).Round(time.Millisecond), len(errs))
	close(h.done)
}

func (h *Handler) run(ctx context.Context, cb named) error {
	done := make(chan error, 1)
	go func() {
		done <- cb.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{Step: cb.name}
	}
}

// Stop releases the signal subscription without running callbacks. It is
// for processes that finish normally.
func (h *Handler) Stop() {
	signal.Stop(h.sigChan)
	if h.shuttingDown.CompareAndSwap(false, true) {
		h.cancel()
		close(h.done)
	}
}

// TimeoutError is returned when a callback outlives the shutdown timeout.
type TimeoutError struct {
	Step string
}

func (e *TimeoutError) Error() string {
	return "shutdown step timed out: " + e.Step
}
