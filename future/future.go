// Package future provides a minimal completable future used to expose the
// non-blocking form of cache operations. A Future settles exactly once;
// continuations derived with Then run before the derived future resolves,
// so observers of the derived future always see their side effects applied.
package future

import (
	"context"
	"sync"
)

// Future holds the eventual result of an asynchronous operation.
// The zero value is not usable; construct with New, Completed, Failed or Go.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns an already-settled future carrying v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed returns an already-settled future carrying err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete settles the future with a value. Later settles are no-ops.
func (f *Future[T]) Complete(v T) {
	f.once.Do(func() {
		f.val = v
		close(f.done)
	})
}

// Fail settles the future with an error. Later settles are no-ops.
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future settles or ctx is done.
// A ctx error abandons the wait; it does not settle the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Then derives a future whose value is produced by fn once f settles.
// fn runs exactly once, receives f's outcome (value or error), and its
// own result settles the derived future. fn completes before any Await
// on the derived future returns.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	out := New[U]()
	go func() {
		<-f.done
		v, err := fn(f.val, f.err)
		if err != nil {
			out.Fail(err)
			return
		}
		out.Complete(v)
	}()
	return out
}

// Go runs fn on its own goroutine and returns a future settled by its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	out := New[T]()
	go func() {
		v, err := fn()
		if err != nil {
			out.Fail(err)
			return
		}
		out.Complete(v)
	}()
	return out
}
