package taskgraph

import (
	"context"
	"sync"
)

// Future is the result of one task inside one invocation. It resolves
// exactly once, to nil on success or to the task's error.
type Future struct {
	name string
	done chan struct{}
	err  error
	once sync.Once
}

func newFuture(name string) *Future {
	return &Future{name: name, done: make(chan struct{})}
}

// Name returns the task the future belongs to.
func (f *Future) Name() string { return f.name }

// Done is closed once the task has completed, successfully or not.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the task's error. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task completes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
