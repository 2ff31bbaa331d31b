// Package native defines the contract of the asynchronous advisory subsystem
// ("the boundary") and the adapter that translates its poll-based completion
// protocol into ordinary blocking Go calls with context cancellation.
//
// Everything above this package treats the subsystem as foreign: construction
// is asynchronous and cancellable, every operation yields a pollable future
// whose resources must be freed exactly once, and streaming operations deliver
// ordered chunks followed by exactly one terminal event.
package native

import (
	"context"

	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// Config is the construction configuration passed across the boundary.
type Config struct {
	// APIKeys maps provider name ("gemini", "openai", "groq") to its key.
	APIKeys map[string]string

	// PreferredProvider selects which configured provider answers queries.
	PreferredProvider string

	// VectorStoreURL enables the rulings knowledge store when set
	// (postgres:// URL to a pgvector-capable database).
	VectorStoreURL string

	// ChainRPCURL is the JSON-RPC endpoint used for on-chain token lookups.
	ChainRPCURL string

	// EnableChainFeatures gates on-chain connectivity.
	EnableChainFeatures bool

	// StoragePath is the directory for persistent session history.
	// Empty means a non-persistent in-memory store.
	StoragePath string

	// Language is the default answer language.
	Language string
}

// Minimal returns a copy of the config with optional subsystems disabled.
// Used for the secondary construction attempt after the primary one times out.
func (c Config) Minimal() Config {
	m := c
	m.VectorStoreURL = ""
	m.ChainRPCURL = ""
	m.EnableChainFeatures = false
	return m
}

// Handle is an opaque reference to one constructed subsystem instance.
// The lifecycle package is its sole owner; no other component may create or
// destroy one.
type Handle interface {
	NativeHandle()
}

// Future is the poll-based completion protocol of the boundary.
//
// Poll reports whether the operation has finished; it never blocks. Take may
// be called once after Poll reports true and returns the operation's result.
// Cancel is a best-effort abort of the underlying operation. Free releases
// the boundary-side resources of the future and must be called exactly once
// on every exit path: a leak exhausts subsystem memory over the process
// lifetime and a double free corrupts its state.
type Future[T any] interface {
	Poll() bool
	Take() (T, error)
	Cancel()
	Free()
}

// StreamCallbacks receives the events of one streaming operation: zero or
// more ordered chunks, then exactly one terminal event (OnComplete xor
// OnError). Nil members are skipped.
type StreamCallbacks struct {
	OnChunk    func(query.Chunk)
	OnComplete func(*query.Response)
	OnError    func(*Error)
}

// Boundary is the foreign subsystem contract.
type Boundary interface {
	// Construct begins asynchronous construction of a subsystem instance.
	// The returned future yields the handle; cancelling it aborts
	// construction and releases any partial state.
	Construct(ctx context.Context, cfg Config) Future[Handle]

	// Invoke starts one request/response operation. A non-nil error means
	// the operation could not start (no future was allocated).
	Invoke(h Handle, op string, req query.Request) (Future[*query.Response], error)

	// InvokeStreaming registers callbacks for one streaming operation and
	// returns a stop function that aborts delivery. The boundary delivers
	// chunks in sequence order and finishes with exactly one terminal
	// callback unless stopped first.
	InvokeStreaming(h Handle, op string, req query.Request, cb StreamCallbacks) (stop func(), err error)

	// Destroy tears down a subsystem instance. In-flight streaming
	// operations on the handle observe a synthesized cancellation terminal.
	Destroy(h Handle)
}
