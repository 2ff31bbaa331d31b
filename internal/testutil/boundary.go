// Package testutil provides test doubles shared across fiqhbridge packages.
//
// The central piece is FakeBoundary, a scriptable native.Boundary that counts
// future allocate/free pairs so resource-safety tests can assert the
// free-exactly-once contract (no leak, no double free).
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// FakeHandle is the opaque handle type handed out by FakeBoundary.
type FakeHandle struct{ id int }

// NativeHandle marks FakeHandle as a native.Handle.
func (*FakeHandle) NativeHandle() {}

// FakeBoundary is a scriptable native.Boundary.
//
// Zero value behavior: Construct completes immediately, Invoke answers every
// request with a canned response, InvokeStreaming delivers no chunks and
// completes immediately.
type FakeBoundary struct {
	// ConstructDelay delays construction completion.
	ConstructDelay time.Duration

	// ConstructHang makes construction never complete (until cancelled).
	ConstructHang bool

	// ConstructErr fails construction with this error.
	ConstructErr error

	// InvokeDelay delays every Invoke future's completion.
	InvokeDelay time.Duration

	// InvokeHang makes Invoke futures never complete.
	InvokeHang bool

	// InvokeFn overrides the canned response per operation.
	InvokeFn func(op string, req query.Request) (*query.Response, error)

	// StreamScript is the chunk contents delivered per streaming call,
	// followed by OnComplete with StreamResponse (or the canned response).
	StreamScript   []string
	StreamResponse *query.Response

	// StreamHang delivers StreamScript but never a terminal event, until
	// the stream is stopped or the handle destroyed.
	StreamHang bool

	// StreamSequenceOffset shifts emitted sequence numbers, for tests that
	// need a protocol violation.
	StreamSequenceOffset uint64

	allocs      atomic.Int64
	frees       atomic.Int64
	doubleFrees atomic.Int64
	constructs  atomic.Int64
	destroys    atomic.Int64

	mu      sync.Mutex
	nextID  int
	streams map[int]*fakeStream
}

// Allocs reports how many futures have been handed out.
func (b *FakeBoundary) Allocs() int64 { return b.allocs.Load() }

// Frees reports how many futures have been freed.
func (b *FakeBoundary) Frees() int64 { return b.frees.Load() }

// DoubleFrees reports how many futures were freed more than once.
func (b *FakeBoundary) DoubleFrees() int64 { return b.doubleFrees.Load() }

// Constructs reports how many construction attempts were started.
func (b *FakeBoundary) Constructs() int64 { return b.constructs.Load() }

// Destroys reports how many handles were destroyed.
func (b *FakeBoundary) Destroys() int64 { return b.destroys.Load() }

// Construct implements native.Boundary.
func (b *FakeBoundary) Construct(_ context.Context, _ native.Config) native.Future[native.Handle] {
	b.constructs.Add(1)
	f := &fakeFuture[native.Handle]{shared: b.newShared()}
	switch {
	case b.ConstructErr != nil:
		f.set(nil, b.ConstructErr, b.ConstructDelay)
	case b.ConstructHang:
		// Never completes; Cancel unblocks Poll consumers by design.
	default:
		b.mu.Lock()
		b.nextID++
		h := &FakeHandle{id: b.nextID}
		b.mu.Unlock()
		f.set(h, nil, b.ConstructDelay)
	}
	return f
}

// Invoke implements native.Boundary.
func (b *FakeBoundary) Invoke(_ native.Handle, op string, req query.Request) (native.Future[*query.Response], error) {
	f := &fakeFuture[*query.Response]{shared: b.newShared()}

	if b.InvokeHang {
		return f, nil
	}

	resp, err := b.response(op, req)
	f.set(resp, err, b.InvokeDelay)
	return f, nil
}

// InvokeStreaming implements native.Boundary. Chunks are delivered from a
// goroutine in sequence order, then one terminal event, unless stopped or the
// handle is destroyed first.
func (b *FakeBoundary) InvokeStreaming(h native.Handle, op string, req query.Request, cb native.StreamCallbacks) (func(), error) {
	s := &fakeStream{stop: make(chan struct{})}

	b.mu.Lock()
	if b.streams == nil {
		b.streams = make(map[int]*fakeStream)
	}
	b.nextID++
	id := b.nextID
	b.streams[id] = s
	b.mu.Unlock()

	final := b.StreamResponse
	if final == nil {
		r, err := b.response(op, req)
		if err != nil {
			final = nil
		} else {
			final = r
		}
	}
	script := b.StreamScript
	offset := b.StreamSequenceOffset

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.streams, id)
			b.mu.Unlock()
		}()
		for i, content := range script {
			select {
			case <-s.stop:
				if cb.OnError != nil {
					cb.OnError(native.NewError(native.CodeCallCancelled, "stream stopped"))
				}
				return
			default:
			}
			if cb.OnChunk != nil {
				cb.OnChunk(query.Chunk{Sequence: uint64(i) + offset, Content: content})
			}
		}
		if b.StreamHang {
			<-s.stop
			if cb.OnError != nil {
				cb.OnError(native.NewError(native.CodeCallCancelled, "stream stopped"))
			}
			return
		}
		select {
		case <-s.stop:
			if cb.OnError != nil {
				cb.OnError(native.NewError(native.CodeCallCancelled, "stream stopped"))
			}
		default:
			if cb.OnComplete != nil {
				cb.OnComplete(final)
			}
		}
	}()

	return s.stopOnce, nil
}

// Destroy implements native.Boundary. Active streams observe a synthesized
// cancellation terminal, matching the boundary contract.
func (b *FakeBoundary) Destroy(native.Handle) {
	b.destroys.Add(1)
	b.mu.Lock()
	streams := make([]*fakeStream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()
	for _, s := range streams {
		s.stopOnce()
	}
}

func (b *FakeBoundary) response(op string, req query.Request) (*query.Response, error) {
	if b.InvokeFn != nil {
		return b.InvokeFn(op, req)
	}
	return query.NewResponse(req.ID, "canned answer for "+op, 0.9,
		[]string{"Islamic Finance Analysis"}, nil), nil
}

// newShared allocates the shared bookkeeping of one future.
func (b *FakeBoundary) newShared() *sharedFuture {
	b.allocs.Add(1)
	return &sharedFuture{b: b}
}

type sharedFuture struct {
	b         *FakeBoundary
	mu        sync.Mutex
	freed     bool
	cancelled bool
	readyAt   time.Time
	hasResult bool
}

type fakeStream struct {
	once sync.Once
	stop chan struct{}
}

func (s *fakeStream) stopOnce() {
	s.once.Do(func() { close(s.stop) })
}

// fakeFuture implements native.Future[T] over the shared bookkeeping.
type fakeFuture[T any] struct {
	shared *sharedFuture
	value  T
	err    error
}

func (f *fakeFuture[T]) set(v T, err error, delay time.Duration) {
	f.value = v
	f.err = err
	f.shared.mu.Lock()
	f.shared.hasResult = true
	f.shared.readyAt = time.Now().Add(delay)
	f.shared.mu.Unlock()
}

// Poll implements native.Future.
func (f *fakeFuture[T]) Poll() bool {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	return f.shared.hasResult && !time.Now().Before(f.shared.readyAt)
}

// Take implements native.Future.
func (f *fakeFuture[T]) Take() (T, error) {
	return f.value, f.err
}

// Cancel implements native.Future.
func (f *fakeFuture[T]) Cancel() {
	f.shared.mu.Lock()
	f.shared.cancelled = true
	f.shared.mu.Unlock()
}

// Free implements native.Future, detecting double frees.
func (f *fakeFuture[T]) Free() {
	f.shared.mu.Lock()
	already := f.shared.freed
	f.shared.freed = true
	f.shared.mu.Unlock()

	if already {
		f.shared.b.doubleFrees.Add(1)
		return
	}
	f.shared.b.frees.Add(1)
}

// Compile-time interface verification.
var _ native.Boundary = (*FakeBoundary)(nil)
