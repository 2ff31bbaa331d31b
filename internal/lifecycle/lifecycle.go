// Package lifecycle owns the advisory subsystem handle and drives its
// bounded-time initialization.
//
// The state machine is:
//
//	NotInitialized -> Initializing -> {Ready, Degraded, Failed}
//
// Ready and Degraded are settled states for the current attempt; only
// Teardown or Restart move the machine again. Initialization is single-flight:
// concurrent callers join the attempt already in progress instead of starting
// a second construction.
//
// A construction timeout is not an error. It settles the machine in Degraded,
// where every query is answered by the fallback generator, and the caller sees
// a normal return. Only structural failures (boundary unavailable, invalid
// configuration) settle in Failed and surface an error.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
)

// tracer emits spans around construction attempts. No-op until an exporter is
// set up.
var tracer = otel.Tracer("fiqhbridge/lifecycle")

// State is the lifecycle position of the advisory subsystem.
type State int

// Lifecycle states.
const (
	StateNotInitialized State = iota
	StateInitializing
	StateReady
	StateDegraded
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultInitTimeout bounds each construction attempt.
const DefaultInitTimeout = 15 * time.Second

// Options tune initialization behavior. Zero values select defaults.
type Options struct {
	// InitTimeout is the budget for the primary construction attempt and
	// for the secondary minimal-config attempt. Default 15s.
	InitTimeout time.Duration

	// PollInterval is how often the construction future is polled.
	PollInterval time.Duration

	// DisableMinimalRetry skips the secondary minimal-config attempt after
	// a primary timeout.
	DisableMinimalRetry bool
}

// attempt is one single-flight initialization attempt.
// done is closed once the attempt settles; state/err are valid afterwards.
type attempt struct {
	done  chan struct{}
	state State
	err   error
}

// Lifecycle brings the subsystem up exactly once per attempt and is the sole
// owner of the native handle.
type Lifecycle struct {
	boundary native.Boundary
	logger   log.Logger
	opts     Options

	mu        sync.Mutex
	state     State
	handle    native.Handle
	failCause error
	inflight  *attempt
	cancel    context.CancelFunc // cancels the in-flight construction
}

// New creates a lifecycle over the given boundary.
// A nil boundary is allowed; Initialize then fails with NativeUnavailable.
func New(b native.Boundary, logger log.Logger, opts Options) *Lifecycle {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = native.DefaultPollInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Lifecycle{boundary: b, logger: logger, opts: opts, state: StateNotInitialized}
}

// State returns the current lifecycle state. Side-effect free.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsReady reports whether a handle exists and queries may take the native
// path. Side-effect free.
func (l *Lifecycle) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateReady && l.handle != nil
}

// Handle returns the subsystem handle, or nil unless the state is Ready.
// The handle stays owned by the lifecycle: callers pass it into the adapter
// and never retain or destroy it.
func (l *Lifecycle) Handle() native.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateReady {
		return nil
	}
	return l.handle
}

// FailureCause returns the reason for the Failed state, nil otherwise.
func (l *Lifecycle) FailureCause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failCause
}

// Initialize drives the machine from NotInitialized to a settled state.
//
// Returns the settled state. The error is non-nil only for structural
// failures (Failed state); a timeout that settles Degraded returns
// (StateDegraded, nil) because the system stays usable through fallback.
//
// Concurrent calls while an attempt is in flight join that attempt. Calls in
// a settled state return it unchanged; use Restart to force a new attempt.
func (l *Lifecycle) Initialize(ctx context.Context, cfg native.Config) (State, error) {
	l.mu.Lock()

	switch l.state {
	case StateReady, StateDegraded:
		st := l.state
		l.mu.Unlock()
		return st, nil
	case StateFailed:
		st, err := l.state, l.failCause
		l.mu.Unlock()
		return st, err
	case StateInitializing:
		att := l.inflight
		l.mu.Unlock()
		return l.join(ctx, att)
	}

	att := &attempt{done: make(chan struct{})}
	cctx, cancel := context.WithCancel(context.Background())
	l.inflight = att
	l.cancel = cancel
	l.state = StateInitializing
	l.mu.Unlock()

	go l.construct(cctx, cfg, att)

	return l.join(ctx, att)
}

// join waits for an attempt to settle or for the caller's context to end.
// A caller giving up does not abort the shared attempt.
func (l *Lifecycle) join(ctx context.Context, att *attempt) (State, error) {
	select {
	case <-att.done:
		return att.state, att.err
	case <-ctx.Done():
		return StateInitializing, native.NewError(native.CodeCallCancelled,
			"initialization wait cancelled: %v", context.Cause(ctx))
	}
}

// construct runs the bounded construction, with one minimal-config retry
// after a primary timeout, and settles the attempt.
func (l *Lifecycle) construct(ctx context.Context, cfg native.Config, att *attempt) {
	ctx, span := tracer.Start(ctx, "lifecycle.initialize")
	defer span.End()

	if l.boundary == nil {
		l.settle(att, nil, StateFailed,
			native.NewError(native.CodeNativeUnavailable, "advisory boundary is not loadable"))
		return
	}

	h, err := l.constructOnce(ctx, cfg)
	if err == nil {
		l.settle(att, h, StateReady, nil)
		return
	}

	switch {
	case errors.Is(err, native.ErrCallCancelled):
		// Teardown already reset the machine; just settle the waiters.
		l.settle(att, nil, StateNotInitialized, nil)

	case errors.Is(err, native.ErrCallTimeout):
		if l.opts.DisableMinimalRetry {
			l.logger.Warn("subsystem construction timed out, entering degraded mode",
				"timeout", l.opts.InitTimeout)
			l.settle(att, nil, StateDegraded, nil)
			return
		}

		l.logger.Warn("subsystem construction timed out, retrying with minimal config",
			"timeout", l.opts.InitTimeout)
		h, err = l.constructOnce(ctx, cfg.Minimal())
		switch {
		case err == nil:
			l.settle(att, h, StateReady, nil)
		case errors.Is(err, native.ErrCallCancelled):
			l.settle(att, nil, StateNotInitialized, nil)
		case errors.Is(err, native.ErrCallTimeout):
			l.logger.Warn("minimal construction timed out, entering degraded mode")
			l.settle(att, nil, StateDegraded, nil)
		default:
			l.settle(att, nil, StateFailed, structural(err))
		}

	default:
		l.settle(att, nil, StateFailed, structural(err))
	}
}

// constructOnce runs one bounded construction attempt.
func (l *Lifecycle) constructOnce(ctx context.Context, cfg native.Config) (native.Handle, error) {
	fut := l.boundary.Construct(ctx, cfg)
	return native.Await(ctx, fut, l.opts.InitTimeout, l.opts.PollInterval)
}

// settle records the attempt outcome, unless a teardown superseded it, and
// wakes every joined caller. A handle that arrives after supersession is
// destroyed immediately: partial handles never leak.
func (l *Lifecycle) settle(att *attempt, h native.Handle, st State, err error) {
	l.mu.Lock()
	superseded := l.inflight != att
	if !superseded {
		l.inflight = nil
		l.cancel = nil
		l.state = st
		l.handle = h
		l.failCause = err
	}
	l.mu.Unlock()

	if superseded && h != nil {
		l.boundary.Destroy(h)
	}
	if superseded {
		st, err = StateNotInitialized, nil
	}

	att.state = st
	att.err = err
	close(att.done)

	if st == StateFailed {
		l.logger.Error("subsystem initialization failed", "error", err)
	} else {
		l.logger.Info("subsystem initialization settled", "state", st.String())
	}
}

// Teardown releases the handle, cancels any in-flight construction, and
// resets the machine to NotInitialized. Safe to call from any state and
// idempotent.
func (l *Lifecycle) Teardown() {
	l.mu.Lock()
	cancel := l.cancel
	h := l.handle
	l.inflight = nil
	l.cancel = nil
	l.handle = nil
	l.failCause = nil
	l.state = StateNotInitialized
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil && l.boundary != nil {
		l.boundary.Destroy(h)
	}
}

// Restart tears the lifecycle down and initializes it again with cfg.
func (l *Lifecycle) Restart(ctx context.Context, cfg native.Config) (State, error) {
	l.Teardown()
	return l.Initialize(ctx, cfg)
}

// structural maps a construction error to the surfaced failure cause.
func structural(err error) error {
	var be *native.Error
	if errors.As(err, &be) {
		return be
	}
	return native.NewError(native.CodeInitConfigInvalid, "%v", err)
}
