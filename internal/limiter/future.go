package limiter

import (
	"context"
	"sync"
)

// Future is the pending result of a submitted operation.
type Future struct {
	label string
	done  chan struct{}
	once  sync.Once
	err   error
}

func newFuture(label string) *Future {
	return &Future{label: label, done: make(chan struct{})}
}

// settle records the outcome. Only the first call has any effect; it reports
// whether it was that call.
func (f *Future) settle(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Label returns the label the operation was submitted with.
func (f *Future) Label() string {
	return f.label
}

// Done is closed once the operation has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the outcome of a settled operation, or nil while it is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation settles or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
