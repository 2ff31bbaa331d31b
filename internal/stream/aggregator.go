// Package stream turns an ordered chunk stream into a single growing answer
// with a defined terminal outcome.
//
// One Aggregator instance is scoped to exactly one logical request; a new
// request gets a fresh instance. The accumulated text is append-only until
// finalization and immutable afterwards.
package stream

import (
	"strings"
	"sync"

	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// Result is a snapshot of the aggregation.
//
// Non-final snapshots carry the text accumulated so far. A final snapshot
// carries either Response (success) or Err (failure), never both. On success
// the Response text is authoritative and may differ from AccumulatedText: the
// subsystem is allowed to revise the tail of a streamed answer at completion.
type Result struct {
	AccumulatedText string
	IsFinal         bool
	Response        *query.Response
	Err             *native.Error
}

// Aggregator accumulates ordered chunks for one request.
// It is safe for concurrent use; buffer mutation is single-writer behind a
// mutex even though the boundary is expected to deliver on one goroutine.
type Aggregator struct {
	mu       sync.Mutex
	buf      strings.Builder
	nextSeq  uint64
	finished bool
	final    Result
}

// NewAggregator creates an empty aggregator expecting sequence 0 first.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Feed appends chunk.Content and returns a non-final snapshot.
//
// A sequence number that is not exactly one greater than the last accepted
// one fails the aggregation with a protocol violation: gaps are corruption,
// not something to paper over. After any finalization Feed keeps returning
// the terminal result without mutating the buffer.
func (a *Aggregator) Feed(chunk query.Chunk) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return a.final
	}

	if chunk.Sequence != a.nextSeq {
		a.final = Result{
			AccumulatedText: a.buf.String(),
			IsFinal:         true,
			Err: native.NewError(native.CodeProtocolViolation,
				"chunk sequence %d, expected %d", chunk.Sequence, a.nextSeq),
		}
		a.finished = true
		return a.final
	}

	a.nextSeq++
	a.buf.WriteString(chunk.Content)
	return Result{AccumulatedText: a.buf.String()}
}

// Complete finalizes the aggregation with the authoritative response.
// Idempotent: once final, the first terminal result stands.
func (a *Aggregator) Complete(resp *query.Response) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return a.final
	}
	a.finished = true
	a.final = Result{
		AccumulatedText: a.buf.String(),
		IsFinal:         true,
		Response:        resp,
	}
	return a.final
}

// Fail finalizes the aggregation with an error and no response.
// Idempotent: once final, the first terminal result stands.
func (a *Aggregator) Fail(err *native.Error) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return a.final
	}
	a.finished = true
	a.final = Result{
		AccumulatedText: a.buf.String(),
		IsFinal:         true,
		Err:             err,
	}
	return a.final
}

// Text returns the accumulated text so far.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Finished reports whether a terminal result exists.
func (a *Aggregator) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}
