// Package advisor is the public query surface of the bridge.
//
// It decides, per request, between the native advisory engine and the local
// fallback generator, and normalizes both paths into one result shape: callers
// cannot tell a degraded session from a ready one by protocol, only by the
// answer's confidence and sources.
package advisor

import (
	"context"
	"sync"
	"time"

	"github.com/amanahlabs/fiqhbridge/internal/fallback"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
	"github.com/amanahlabs/fiqhbridge/internal/stream"
)

const (
	// DefaultCallTimeout bounds single-shot native calls.
	DefaultCallTimeout = 60 * time.Second

	// fallbackChunkRunes is the fragment size used when simulating a stream
	// from a canned answer.
	fallbackChunkRunes = 48

	// DefaultFallbackCadence is the delay between simulated chunks.
	DefaultFallbackCadence = 40 * time.Millisecond
)

// Callbacks receives the events of one streamed answer. OnChunk carries the
// cumulative text so far, not the raw fragment. Exactly one of OnComplete or
// OnError follows the chunks. Nil members are skipped.
type Callbacks struct {
	OnChunk    func(cumulativeText string)
	OnComplete func(*query.Response)
	OnError    func(error)
}

// Options tunes an Advisor. Zero values select the defaults.
type Options struct {
	CallTimeout     time.Duration
	FallbackCadence time.Duration
}

// Advisor routes queries through the lifecycle-owned engine handle when one
// exists and through the offline generator otherwise.
type Advisor struct {
	lc      *lifecycle.Lifecycle
	adapter *native.Adapter
	gen     *fallback.Generator
	logger  log.Logger
	opts    Options

	mu          sync.Mutex
	nextGen     uint64
	generations map[string]uint64
}

// New creates an Advisor. The lifecycle decides readiness; the adapter
// executes native calls; the generator answers when no handle exists.
func New(lc *lifecycle.Lifecycle, adapter *native.Adapter, gen *fallback.Generator, logger log.Logger, opts Options) *Advisor {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.FallbackCadence <= 0 {
		opts.FallbackCadence = DefaultFallbackCadence
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Advisor{
		lc:          lc,
		adapter:     adapter,
		gen:         gen,
		logger:      logger,
		opts:        opts,
		generations: make(map[string]uint64),
	}
}

// Analyze answers a single-shot request.
//
// An absent engine is not an error: the fallback generator answers instead,
// with reduced confidence and "fallback" as the only source. Per-call native
// failures (timeout, native-reported errors) surface to the caller without
// changing the lifecycle state.
func (a *Advisor) Analyze(ctx context.Context, req query.Request) (*query.Response, error) {
	h := a.lc.Handle()
	if h == nil {
		a.logger.Debug("answering offline", "kind", req.Kind.String(), "request_id", req.ID)
		return a.gen.Generate(req), nil
	}

	resp, err := a.adapter.CallOnce(ctx, h, req.Kind.String(), req, a.opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// AnalyzeStream answers a request incrementally.
//
// The native path feeds an aggregator and re-emits the running accumulated
// text per chunk; the completion payload is authoritative over the buffer.
// The fallback path chunks the canned answer at a fixed cadence so both paths
// present the same protocol shape.
//
// A new stream on the same conversation supersedes any in-flight one: the
// superseded stream's remaining callbacks are dropped silently.
func (a *Advisor) AnalyzeStream(ctx context.Context, req query.Request, cb Callbacks) error {
	em := a.newEmitter(req.ConversationID, cb)

	h := a.lc.Handle()
	if h == nil {
		go a.streamFallback(ctx, req, em)
		return nil
	}

	agg := stream.NewAggregator()
	return a.adapter.CallStreaming(ctx, h, req.Kind.String(), req, native.StreamCallbacks{
		OnChunk: func(c query.Chunk) {
			res := agg.Feed(c)
			switch {
			case res.Err != nil:
				em.fail(res.Err)
			case !res.IsFinal:
				em.chunk(res.AccumulatedText)
			}
		},
		OnComplete: func(resp *query.Response) {
			res := agg.Complete(resp)
			if res.Err != nil {
				em.fail(res.Err)
				return
			}
			em.complete(res.Response)
		},
		OnError: func(err *native.Error) {
			agg.Fail(err)
			em.fail(err)
		},
	})
}

// streamFallback simulates streaming from a deterministic canned answer.
// At least one chunk precedes the terminal so the caller-visible protocol
// matches the native path.
func (a *Advisor) streamFallback(ctx context.Context, req query.Request, em *emitter) {
	resp := a.gen.Generate(req)
	runes := []rune(resp.Text)

	ticker := time.NewTicker(a.opts.FallbackCadence)
	defer ticker.Stop()

	for i := 0; i == 0 || i < len(runes); i += fallbackChunkRunes {
		end := i + fallbackChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		if !em.chunk(string(runes[:end])) {
			return
		}
		select {
		case <-ctx.Done():
			em.fail(native.NewError(native.CodeCallCancelled, "stream cancelled: %v", context.Cause(ctx)))
			return
		case <-ticker.C:
		}
	}
	em.complete(resp)
}

// newEmitter registers a stream for the conversation and returns its guarded
// callback sink. An empty conversation ID opts out of supersession.
//
// Generations come from one advisor-wide counter, never per conversation: a
// released conversation entry can then never hand a stale emitter a matching
// generation again.
func (a *Advisor) newEmitter(conversationID string, cb Callbacks) *emitter {
	em := &emitter{a: a, key: conversationID, cb: cb}
	if conversationID != "" {
		a.mu.Lock()
		a.nextGen++
		em.gen = a.nextGen
		a.generations[conversationID] = em.gen
		a.mu.Unlock()
	}
	return em
}

func (a *Advisor) currentGeneration(key string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generations[key]
}

// release drops the conversation's generation entry once its current stream
// has settled, so long-lived advisors do not accumulate one counter per
// conversation. Superseded streams leave the newer entry alone.
func (a *Advisor) release(key string, gen uint64) {
	if key == "" {
		return
	}
	a.mu.Lock()
	if a.generations[key] == gen {
		delete(a.generations, key)
	}
	a.mu.Unlock()
}

// emitter delivers at most one terminal event and silently drops everything
// once its stream is superseded by a newer one on the same conversation.
type emitter struct {
	a   *Advisor
	key string
	gen uint64
	cb  Callbacks

	mu   sync.Mutex
	done bool
}

// live reports whether this stream may still deliver. Callers hold e.mu.
func (e *emitter) live() bool {
	if e.done {
		return false
	}
	if e.key != "" && e.a.currentGeneration(e.key) != e.gen {
		e.done = true
		return false
	}
	return true
}

func (e *emitter) chunk(cumulative string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live() {
		return false
	}
	if e.cb.OnChunk != nil {
		e.cb.OnChunk(cumulative)
	}
	return true
}

func (e *emitter) complete(resp *query.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live() {
		return
	}
	e.done = true
	e.a.release(e.key, e.gen)
	if e.cb.OnComplete != nil {
		e.cb.OnComplete(resp)
	}
}

func (e *emitter) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live() {
		return
	}
	e.done = true
	e.a.release(e.key, e.gen)
	if e.cb.OnError != nil {
		e.cb.OnError(err)
	}
}
