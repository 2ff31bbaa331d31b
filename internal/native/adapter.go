package native

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// tracer emits spans around native calls. No-op until an exporter is set up.
var tracer = otel.Tracer("fiqhbridge/native")

// DefaultPollInterval is how often a future is polled while waiting.
const DefaultPollInterval = 10 * time.Millisecond

// DefaultStreamTimeout bounds how long a stream may run without delivering a
// terminal event before the adapter gives up on it.
const DefaultStreamTimeout = 5 * time.Minute

// Adapter translates the boundary's poll/callback completion model into
// blocking calls that honor context cancellation and per-call timeouts.
//
// All operations share one audited wait path (Await), so the free-exactly-once
// contract is enforced in a single place instead of per call site.
type Adapter struct {
	boundary      Boundary
	logger        log.Logger
	pollInterval  time.Duration
	streamTimeout time.Duration
}

// NewAdapter creates an adapter over the given boundary.
// pollInterval <= 0 selects DefaultPollInterval.
func NewAdapter(b Boundary, logger log.Logger, pollInterval time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Adapter{
		boundary:      b,
		logger:        logger,
		pollInterval:  pollInterval,
		streamTimeout: DefaultStreamTimeout,
	}
}

// WithStreamTimeout returns a copy of the adapter whose streams fail with
// ErrCallTimeout when no terminal event arrives within d. d <= 0 restores
// DefaultStreamTimeout.
func (a *Adapter) WithStreamTimeout(d time.Duration) *Adapter {
	if d <= 0 {
		d = DefaultStreamTimeout
	}
	c := *a
	c.streamTimeout = d
	return &c
}

// Boundary returns the wrapped boundary.
func (a *Adapter) Boundary() Boundary { return a.boundary }

// CallOnce invokes one request/response operation and waits for completion.
//
// The native future is freed exactly once regardless of outcome: success,
// native-reported error, timeout, or cancellation of ctx.
func (a *Adapter) CallOnce(ctx context.Context, h Handle, op string, req query.Request, timeout time.Duration) (*query.Response, error) {
	if h == nil {
		return nil, NewError(CodeNotInitialized, "no subsystem handle")
	}

	ctx, span := tracer.Start(ctx, "native.call",
		trace.WithAttributes(
			attribute.String("op", op),
			attribute.String("request_id", req.ID),
		))
	defer span.End()

	fut, err := a.boundary.Invoke(h, op, req)
	if err != nil {
		err = translate(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := Await(ctx, fut, timeout, a.pollInterval)
	if err != nil {
		a.logger.Debug("native call failed", "op", op, "request_id", req.ID, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

// Await drives one poll-based future to completion within the given budget.
//
// Exit paths:
//   - completion: Take's result is returned, error translated to *Error
//   - timeout: the future is cancelled and ErrCallTimeout returned
//   - ctx cancelled: the future is cancelled and ErrCallCancelled returned
//
// On every path the future is freed exactly once before Await returns, which
// is what makes cancellation propagation safe: by the time the caller observes
// ctx.Err, the boundary-side resources are already released.
func Await[T any](ctx context.Context, fut Future[T], timeout, pollInterval time.Duration) (T, error) {
	var zero T
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	freed := false
	free := func() {
		if !freed {
			freed = true
			fut.Free()
		}
	}
	defer free()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		if fut.Poll() {
			v, err := fut.Take()
			if err != nil {
				return zero, translate(err)
			}
			return v, nil
		}

		select {
		case <-ctx.Done():
			fut.Cancel()
			return zero, NewError(CodeCallCancelled, "caller cancelled: %v", context.Cause(ctx))
		case <-deadline.C:
			fut.Cancel()
			return zero, NewError(CodeCallTimeout, "no completion within %s", timeout)
		case <-tick.C:
		}
	}
}

// CallStreaming starts one streaming operation, relaying events to cb.
//
// Guarantees, regardless of boundary behavior:
//   - chunks are never delivered after a terminal event
//   - exactly one terminal event fires (OnComplete xor OnError), even if the
//     subsystem is torn down mid-stream or ctx is cancelled (a cancellation
//     error terminal is synthesized in those cases)
//
// The returned error is non-nil only when the operation could not start; no
// callbacks fire in that case.
func (a *Adapter) CallStreaming(ctx context.Context, h Handle, op string, req query.Request, cb StreamCallbacks) error {
	if h == nil {
		return NewError(CodeNotInitialized, "no subsystem handle")
	}

	guard := newStreamGuard(cb)

	_, span := tracer.Start(ctx, "native.stream",
		trace.WithAttributes(
			attribute.String("op", op),
			attribute.String("request_id", req.ID),
		))

	stop, err := a.boundary.InvokeStreaming(h, op, req, StreamCallbacks{
		OnChunk:    guard.chunk,
		OnComplete: guard.complete,
		OnError:    guard.fail,
	})
	if err != nil {
		err = translate(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return err
	}

	// Watch for caller cancellation until the stream settles. The boundary
	// may never deliver a terminal after teardown, so the watcher is what
	// keeps callers from waiting forever; the watchdog timer bounds the
	// watcher itself when the caller's ctx is also never cancelled.
	go func() {
		defer span.End()
		watchdog := time.NewTimer(a.streamTimeout)
		defer watchdog.Stop()
		select {
		case <-guard.settled():
		case <-ctx.Done():
			stop()
			span.SetStatus(codes.Error, "cancelled")
			guard.fail(NewError(CodeCallCancelled, "stream cancelled: %v", context.Cause(ctx)))
		case <-watchdog.C:
			guard.fail(NewError(CodeCallTimeout, "no terminal within %s", a.streamTimeout))
			span.SetStatus(codes.Error, "timeout")
			stop()
		}
	}()

	return nil
}

// translate lifts an arbitrary boundary error into *Error.
func translate(err error) error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return NewError(CodeNativeError, "%v", err)
}

// streamGuard serializes stream events and enforces the single-terminal rule.
type streamGuard struct {
	mu   sync.Mutex
	done bool
	ch   chan struct{}
	cb   StreamCallbacks
}

func newStreamGuard(cb StreamCallbacks) *streamGuard {
	return &streamGuard{ch: make(chan struct{}), cb: cb}
}

// settled is closed once a terminal event has fired.
func (g *streamGuard) settled() <-chan struct{} { return g.ch }

func (g *streamGuard) chunk(c query.Chunk) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	if g.cb.OnChunk != nil {
		g.cb.OnChunk(c)
	}
}

func (g *streamGuard) complete(resp *query.Response) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	close(g.ch)
	if g.cb.OnComplete != nil {
		g.cb.OnComplete(resp)
	}
}

func (g *streamGuard) fail(err *Error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	close(g.ch)
	if g.cb.OnError != nil {
		g.cb.OnError(err)
	}
}
