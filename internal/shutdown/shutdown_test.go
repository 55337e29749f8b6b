package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newHandler(t *testing.T, cfg Config) *Handler {
	t.Helper()
	h := New(cfg)
	t.Cleanup(h.Stop)
	return h
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals length = %d, want 2", len(cfg.Signals))
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandler_Context(t *testing.T) {
	h := newHandler(t, DefaultConfig())
	ctx := h.Context()

	select {
	case <-ctx.Done():
		t.Fatal("Context should not be done initially")
	default:
	}

	h.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Context should be done after shutdown")
	}
}

func TestHandler_Shutdown_LIFO(t *testing.T) {
	h := newHandler(t, DefaultConfig())
	var order []string

	h.RegisterFunc("stats", func() { order = append(order, "stats") })
	h.RegisterFunc("simhash", func() { order = append(order, "simhash") })
	h.RegisterFunc("frontier", func() { order = append(order, "frontier") })

	h.Shutdown()

	want := []string{"frontier", "simhash", "stats"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestHandler_Shutdown_Idempotent(t *testing.T) {
	h := newHandler(t, DefaultConfig())
	var calls atomic.Int32
	h.RegisterFunc("count", func() { calls.Add(1) })

	h.Shutdown()
	h.Shutdown()

	if calls.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", calls.Load())
	}
	if !h.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Shutdown")
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() should be closed after Shutdown")
	}
}

func TestHandler_Shutdown_Errors(t *testing.T) {
	h := newHandler(t, DefaultConfig())
	boom := errors.New("close failed")

	h.Register("ok", func(ctx context.Context) error { return nil })
	h.Register("bad", func(ctx context.Context) error { return boom })

	res := h.Shutdown()
	if !res.HasErrors() || len(res.Errors) != 1 || !errors.Is(res.Errors[0], boom) {
		t.Errorf("Errors = %v, want [%v]", res.Errors, boom)
	}
}

func TestHandler_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	h := newHandler(t, cfg)

	h.Register("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	res := h.Shutdown()
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want one timeout", res.Errors)
	}
	var te *TimeoutError
	if !errors.As(res.Errors[0], &te) || te.CallbackName != "slow" {
		t.Errorf("error = %v, want TimeoutError for slow", res.Errors[0])
	}
}

func TestHandler_Trigger(t *testing.T) {
	h := newHandler(t, DefaultConfig())
	h.Trigger()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger() did not shut down")
	}
	if h.Context().Err() == nil {
		t.Error("Context should be cancelled after Trigger")
	}
}

func TestHandler_SecondSignalForces(t *testing.T) {
	var forced atomic.Bool
	release := make(chan struct{})

	cfg := DefaultConfig()
	cfg.Force = func() { forced.Store(true) }
	h := newHandler(t, cfg)
	h.Register("blocking", func(ctx context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	h.Trigger()
	deadline := time.Now().Add(2 * time.Second)
	for !h.IsShuttingDown() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Trigger()

	for !forced.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !forced.Load() {
		t.Error("second signal should call Force")
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{CallbackName: "frontier"}
	if err.Error() != "shutdown callback timed out: frontier" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestHandler_ConcurrentRegister(t *testing.T) {
	h := newHandler(t, DefaultConfig())
	var calls atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.RegisterFunc("n", func() { calls.Add(1) })
		}()
	}
	wg.Wait()
	h.Shutdown()

	if calls.Load() != 20 {
		t.Errorf("callbacks run = %d, want 20", calls.Load())
	}
}
