package engine

import (
	"context"
	"sync"
)

// promise is the concrete future handed across the boundary. One promise
// backs exactly one asynchronous operation; the producing goroutine settles
// it once, and the consumer polls, takes, and frees it.
type promise[T any] struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	done      bool
	freed     bool
	abandoned bool
	val       T
	err       error
}

func newPromise[T any](cancel context.CancelFunc) *promise[T] {
	return &promise[T]{cancel: cancel}
}

// settle records the operation's outcome. It reports false when the consumer
// already freed the promise, in which case the producer owns the value and
// must release whatever it carries.
func (p *promise[T]) settle(v T, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return false
	}
	p.done = true
	if p.freed {
		p.abandoned = true
		return false
	}
	p.val = v
	p.err = err
	return true
}

// Poll implements native.Future.
func (p *promise[T]) Poll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Take implements native.Future.
func (p *promise[T]) Take() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.val, p.err
}

// Cancel implements native.Future. It aborts the producing operation; the
// promise still settles (with a cancellation error) so pollers unblock.
func (p *promise[T]) Cancel() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Free implements native.Future. Results arriving after Free belong to the
// producer, which releases them.
func (p *promise[T]) Free() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freed = true
	var zero T
	p.val = zero
	p.err = nil
}
