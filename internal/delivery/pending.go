package delivery

import (
	"context"
	"sync/atomic"
)

// Pending is the single-assignment result of a submission.
// It is resolved exactly once by the queue; a second resolve panics.
type Pending struct {
	resolved atomic.Bool
	done     chan struct{}

	receipt Receipt
	err     error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(r Receipt, err error) {
	if !p.resolved.CompareAndSwap(false, true) {
		panic("delivery: pending result resolved twice")
	}
	p.receipt = r
	p.err = err
	close(p.done)
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the item is resolved or ctx ends.
// A ctx error does not cancel the delivery itself.
func (p *Pending) Wait(ctx context.Context) (Receipt, error) {
	select {
	case <-p.done:
		return p.receipt, p.err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while unresolved.
func (p *Pending) Result() (r Receipt, err error, ok bool) {
	select {
	case <-p.done:
		return p.receipt, p.err, true
	default:
		return Receipt{}, nil, false
	}
}
