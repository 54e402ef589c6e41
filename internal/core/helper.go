package core

import (
	"context"
	"sync"
)

// Helper is a function callable from templates. Returning an Awaitable
// defers the value until after the synchronous render pass.
type Helper func(args ...any) (any, error)

// Awaitable is a deferred helper result.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future is an Awaitable backed by a Go function. The function runs at most
// once; every Await observes the same value and error.
type Future struct {
	once sync.Once
	fn   func(ctx context.Context) (any, error)
	done chan struct{}
	val  any
	err  error
}

var _ Awaitable = (*Future)(nil)

// Defer returns a Future that runs fn on the first Await.
func Defer(fn func(ctx context.Context) (any, error)) *Future {
	return &Future{fn: fn, done: make(chan struct{})}
}

// Go starts fn immediately on its own goroutine.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := Defer(fn)
	go f.run(ctx)
	return f
}

// Resolved returns a Future that is already settled.
func Resolved(val any, err error) *Future {
	f := &Future{done: make(chan struct{}), val: val, err: err}
	f.once.Do(func() { close(f.done) })
	return f
}

func (f *Future) run(ctx context.Context) {
	f.once.Do(func() {
		defer close(f.done)
		f.val, f.err = f.fn(ctx)
	})
}

// Await runs the future if nobody has yet and waits for it to settle.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	go f.run(ctx)
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
