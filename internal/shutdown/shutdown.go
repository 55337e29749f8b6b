// Package shutdown turns interrupt signals into an orderly crawl stop.
//
// The first signal cancels Context so workers finish their current URL and
// exit; registered callbacks then run in reverse order. A second signal
// while callbacks are running calls Config.Force.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
)

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	// Timeout bounds each callback.
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
	// Force runs on a second signal. Nil ignores repeated signals.
	Force func()
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler manages graceful shutdown.
type Handler struct {
	mu        sync.Mutex
	callbacks []Callback
	names     []string

	shuttingDown atomic.Bool
	done         chan struct{}
	timeout      time.Duration
	force        func()
	log          *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	stop    chan struct{}
	once    sync.Once
}

// New creates a handler and starts listening for signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		force:   cfg.Force,
		log:     cfg.Logger.WithComponent("shutdown"),
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
		stop:    make(chan struct{}),
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	go h.listen()
	return h
}

// NewDefault creates a handler with default configuration.
func NewDefault() *Handler {
	return New(DefaultConfig())
}

func (h *Handler) listen() {
	for {
		select {
		case sig := <-h.sigChan:
			if h.shuttingDown.Load() {
				h.log.Warnf("Received %v again, forcing exit", sig)
				if h.force != nil {
					h.force()
				}
				continue
			}
			h.log.Infof("Received %v, finishing in-flight pages", sig)
			go h.Shutdown()
		case <-h.stop:
			return
		}
	}
}

// Register adds a named callback. Callbacks run last-registered first.
func (h *Handler) Register(name string, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
	h.names = append(h.names, name)
}

// RegisterFunc registers a cleanup function that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed when all callbacks have run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Shutdown cancels Context and runs the callbacks. Only the first call does
// any work; later calls return a zero Result.
func (h *Handler) Shutdown() Result {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return Result{}
	}

	start := time.Now()
	h.cancel()

	h.mu.Lock()
	callbacks := append([]Callback(nil), h.callbacks...)
	names := append([]string(nil), h.names...)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.run(names[i], callbacks[i]); err != nil {
			h.log.WithError(err).Warnf("Shutdown step %s failed", names[i])
			errs = append(errs, err)
		}
	}

	close(h.done)
	return Result{Elapsed: time.Since(start), Errors: errs}
}

func (h *Handler) run(name string, cb Callback) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- cb(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// Trigger simulates a signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Stop stops listening for signals. It does not run the callbacks.
func (h *Handler) Stop() {
	h.once.Do(func() {
		signal.Stop(h.sigChan)
		close(h.stop)
	})
}

// TimeoutError is returned when a callback exceeds the timeout.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

// Result holds the outcome of Shutdown.
type Result struct {
	Elapsed time.Duration
	Errors  []error
}

// HasErrors returns whether any callback failed.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}
