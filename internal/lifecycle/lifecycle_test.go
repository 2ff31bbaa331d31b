package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOpts() lifecycle.Options {
	return lifecycle.Options{
		InitTimeout:  50 * time.Millisecond,
		PollInterval: time.Millisecond,
	}
}

func TestInitializeReachesReady(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{}
	l := lifecycle.New(b, log.NewNop(), fastOpts())

	st, err := l.Initialize(context.Background(), native.Config{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if st != lifecycle.StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
	if !l.IsReady() || l.Handle() == nil {
		t.Error("ready lifecycle must expose a handle")
	}
	l.Teardown()
}

// Concurrent Initialize calls must share one construction attempt.
func TestInitializeIsSingleFlight(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{ConstructDelay: 20 * time.Millisecond}
	l := lifecycle.New(b, log.NewNop(), fastOpts())

	const callers = 16
	var wg sync.WaitGroup
	states := make([]lifecycle.State, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := l.Initialize(context.Background(), native.Config{})
			if err != nil {
				t.Errorf("Initialize: %v", err)
			}
			states[i] = st
		}()
	}
	wg.Wait()

	if got := b.Constructs(); got != 1 {
		t.Fatalf("construction attempts = %d, want 1", got)
	}
	for i, st := range states {
		if st != lifecycle.StateReady {
			t.Errorf("caller %d saw state %v", i, st)
		}
	}
	l.Teardown()
}

// A never-completing construction must settle Degraded within the budget,
// after one minimal-config retry, and surface no error.
func TestInitializeTimeoutDegrades(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{ConstructHang: true}
	l := lifecycle.New(b, log.NewNop(), fastOpts())

	start := time.Now()
	st, err := l.Initialize(context.Background(), native.Config{VectorStoreURL: "postgres://x"})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("init timeout must not surface an error, got %v", err)
	}
	if st != lifecycle.StateDegraded {
		t.Fatalf("state = %v, want degraded", st)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("degradation took %v, want roughly two 50ms budgets", elapsed)
	}
	// Primary attempt plus the minimal-config retry.
	if got := b.Constructs(); got != 2 {
		t.Errorf("construction attempts = %d, want 2", got)
	}
	// Both construct futures freed despite never completing.
	if b.Frees() != b.Allocs() {
		t.Errorf("allocs=%d frees=%d", b.Allocs(), b.Frees())
	}
	if l.IsReady() {
		t.Error("degraded lifecycle must not report ready")
	}
	l.Teardown()
}

func TestInitializeStructuralFailure(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{
		ConstructErr: native.NewError(native.CodeInitConfigInvalid, "no provider key"),
	}
	l := lifecycle.New(b, log.NewNop(), fastOpts())

	st, err := l.Initialize(context.Background(), native.Config{})
	if st != lifecycle.StateFailed {
		t.Fatalf("state = %v, want failed", st)
	}
	if !errors.Is(err, native.ErrInitConfigInvalid) {
		t.Fatalf("err = %v, want ErrInitConfigInvalid", err)
	}
	if cause := l.FailureCause(); !errors.Is(cause, native.ErrInitConfigInvalid) {
		t.Errorf("FailureCause = %v", cause)
	}
	l.Teardown()
}

func TestNilBoundaryFailsFast(t *testing.T) {
	t.Parallel()

	l := lifecycle.New(nil, log.NewNop(), fastOpts())

	st, err := l.Initialize(context.Background(), native.Config{})
	if st != lifecycle.StateFailed || !errors.Is(err, native.ErrNativeUnavailable) {
		t.Fatalf("got (%v, %v), want failed with ErrNativeUnavailable", st, err)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{}
	l := lifecycle.New(b, log.NewNop(), fastOpts())

	if _, err := l.Initialize(context.Background(), native.Config{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	l.Teardown()
	l.Teardown() // must be a no-op
	l.Teardown()

	if got := b.Destroys(); got != 1 {
		t.Errorf("destroys = %d, want 1", got)
	}
	if l.State() != lifecycle.StateNotInitialized {
		t.Errorf("state = %v, want not_initialized", l.State())
	}
}

func TestTeardownOnFreshLifecycle(t *testing.T) {
	t.Parallel()

	l := lifecycle.New(&testutil.FakeBoundary{}, log.NewNop(), fastOpts())
	l.Teardown() // must not panic or destroy anything
}

func TestRestartAfterDegraded(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{ConstructHang: true}
	l := lifecycle.New(b, log.NewNop(), lifecycle.Options{
		InitTimeout:         30 * time.Millisecond,
		PollInterval:        time.Millisecond,
		DisableMinimalRetry: true,
	})

	st, _ := l.Initialize(context.Background(), native.Config{})
	if st != lifecycle.StateDegraded {
		t.Fatalf("state = %v, want degraded", st)
	}

	// Settled states stay settled without restart.
	st, err := l.Initialize(context.Background(), native.Config{})
	if st != lifecycle.StateDegraded || err != nil {
		t.Fatalf("re-initialize in degraded returned (%v, %v)", st, err)
	}

	// Construction recovers; restart must reach ready.
	b2 := &testutil.FakeBoundary{}
	l2 := lifecycle.New(b2, log.NewNop(), fastOpts())
	if st, err := l2.Restart(context.Background(), native.Config{}); err != nil || st != lifecycle.StateReady {
		t.Fatalf("Restart returned (%v, %v)", st, err)
	}
	l2.Teardown()
}

func TestTeardownDuringInitializationDiscardsHandle(t *testing.T) {
	t.Parallel()

	b := &testutil.FakeBoundary{ConstructDelay: 30 * time.Millisecond}
	l := lifecycle.New(b, log.NewNop(), lifecycle.Options{
		InitTimeout:  time.Second,
		PollInterval: time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Initialize(context.Background(), native.Config{})
	}()

	time.Sleep(5 * time.Millisecond)
	l.Teardown()
	<-done

	if l.State() != lifecycle.StateNotInitialized {
		t.Errorf("state = %v, want not_initialized after teardown", l.State())
	}
	if l.Handle() != nil {
		t.Error("no handle may survive a teardown")
	}
}
