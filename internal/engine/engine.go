// Package engine implements the advisory subsystem behind the native
// boundary: provider-backed generation, optional rulings retrieval, optional
// chain lookups, and session history, all reached through the poll-based
// future protocol.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/amanahlabs/fiqhbridge/internal/history"
	"github.com/amanahlabs/fiqhbridge/internal/knowledge"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// Engine is the production native.Boundary. It is stateless between
// operations; all per-session state lives in the Subsystem handle.
type Engine struct {
	logger log.Logger

	// newGenerator is the provider factory; tests substitute it.
	newGenerator func(ctx context.Context, cfg native.Config) (generator, ai.Embedder, error)
}

// New returns an Engine.
func New(logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{logger: logger, newGenerator: newGenerator}
}

// Construct implements native.Boundary. The subsystem is assembled in a
// goroutine; cancelling the returned future aborts assembly and releases
// partial state.
func (e *Engine) Construct(ctx context.Context, cfg native.Config) native.Future[native.Handle] {
	buildCtx, cancel := context.WithCancel(ctx)
	p := newPromise[native.Handle](cancel)

	go func() {
		sub, err := e.build(buildCtx, cfg)
		if err != nil {
			p.settle(nil, err)
			return
		}
		if !p.settle(sub, nil) {
			// The consumer gave up (timeout or teardown) before assembly
			// finished; the subsystem belongs to nobody.
			sub.close()
		}
	}()

	return p
}

// build assembles a Subsystem from the construction config.
func (e *Engine) build(ctx context.Context, cfg native.Config) (_ *Subsystem, retErr error) {
	if err := ctx.Err(); err != nil {
		return nil, native.NewError(native.CodeCallCancelled, "construction aborted: %v", err)
	}

	gen, embedder, err := e.newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	root, cancel := context.WithCancel(context.Background())
	sub := &Subsystem{
		gen:      gen,
		limiter:  rate.NewLimiter(10, 30),
		retry:    defaultRetryPolicy(),
		language: cfg.Language,
		logger:   e.logger,
		root:     root,
		cancel:   cancel,
	}
	defer func() {
		if retErr != nil {
			sub.close()
		}
	}()

	if cfg.VectorStoreURL != "" && embedder != nil {
		know, err := knowledge.Open(ctx, cfg.VectorStoreURL, embedder, e.logger)
		if err != nil {
			return nil, native.NewError(native.CodeInitConfigInvalid,
				"opening rulings store: %v", err)
		}
		sub.know = know
	}

	if cfg.EnableChainFeatures && cfg.ChainRPCURL != "" {
		chain := newChainClient(cfg.ChainRPCURL)
		if err := chain.Health(ctx); err != nil {
			// A sick node disables chain enrichment, it does not block
			// the whole engine.
			e.logger.Warn("chain node health check failed, chain features disabled", "error", err)
		} else {
			sub.chain = chain
		}
	}

	if cfg.StoragePath != "" {
		hist, err := history.Open(cfg.StoragePath)
		if err != nil {
			return nil, native.NewError(native.CodeInitConfigInvalid,
				"opening history storage: %v", err)
		}
		sub.hist = hist
	}

	if err := ctx.Err(); err != nil {
		sub.close()
		return nil, native.NewError(native.CodeCallCancelled, "construction aborted: %v", err)
	}

	e.logger.Info("advisory engine constructed",
		"provider", cfg.PreferredProvider,
		"rulings_store", sub.know != nil,
		"chain", sub.chain != nil,
		"history", sub.hist != nil,
	)
	return sub, nil
}

// Invoke implements native.Boundary.
func (e *Engine) Invoke(h native.Handle, op string, req query.Request) (native.Future[*query.Response], error) {
	sub, ok := h.(*Subsystem)
	if !ok || sub == nil {
		return nil, native.NewError(native.CodeNotInitialized, "invalid subsystem handle")
	}

	opCtx, cancel := context.WithCancel(sub.root)
	p := newPromise[*query.Response](cancel)

	go func() {
		defer cancel()
		resp, err := sub.answer(opCtx, req)
		p.settle(resp, err)
	}()

	e.logger.Debug("operation started", "op", op, "request_id", req.ID)
	return p, nil
}

// InvokeStreaming implements native.Boundary. Chunks carry consecutive
// sequence numbers from zero; exactly one terminal event follows unless the
// stream is stopped first.
func (e *Engine) InvokeStreaming(h native.Handle, op string, req query.Request, cb native.StreamCallbacks) (func(), error) {
	sub, ok := h.(*Subsystem)
	if !ok || sub == nil {
		return nil, native.NewError(native.CodeNotInitialized, "invalid subsystem handle")
	}

	opCtx, cancel := context.WithCancel(sub.root)
	var once sync.Once
	stop := func() { once.Do(cancel) }

	go func() {
		defer cancel()

		var seq atomic.Uint64
		resp, err := sub.answerStream(opCtx, req, func(delta string) error {
			if delta == "" {
				return nil
			}
			if cb.OnChunk != nil {
				cb.OnChunk(query.Chunk{Sequence: seq.Add(1) - 1, Content: delta})
			}
			return opCtx.Err()
		})
		if err != nil {
			if cb.OnError != nil {
				cb.OnError(asBoundaryError(err))
			}
			return
		}
		if cb.OnComplete != nil {
			cb.OnComplete(resp)
		}
	}()

	e.logger.Debug("streaming operation started", "op", op, "request_id", req.ID)
	return stop, nil
}

// Destroy implements native.Boundary.
func (e *Engine) Destroy(h native.Handle) {
	if sub, ok := h.(*Subsystem); ok && sub != nil {
		sub.close()
	}
}

// asBoundaryError narrows an error to *native.Error for stream terminals.
func asBoundaryError(err error) *native.Error {
	if be, ok := err.(*native.Error); ok {
		return be
	}
	return native.NewError(native.CodeNativeError, "%v", err)
}

// Compile-time interface verification.
var _ native.Boundary = (*Engine)(nil)
