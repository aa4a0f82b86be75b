package tasks

import (
	"context"
	"sync"
)

// Future is a handle on an asynchronous operation. The producer calls
// Complete exactly once; consumers wait through Done or Wait.
type Future struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete resolves the future. Later calls are ignored.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the outcome. Only valid after Done is closed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future resolves or the context expires.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
