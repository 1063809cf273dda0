// Package exec provides Future/Executor/Completer primitives for running
// cancelable, awaitable background work, the idiomatic-Go stand-in for the
// original's thread-pool-plus-future design.
package exec

import (
	"context"
	"sync"

	"github.com/s-emmerson/hycast/types"
)

// Task is a unit of cancelable work: it must return promptly once ctx is
// canceled.
type Task[V any] func(ctx context.Context) (V, error)

// Future is a handle to a Task's eventual result.
type Future[V any] struct {
	state *futureState[V]
}

type futureState[V any] struct {
	mu       sync.Mutex
	done     chan struct{}
	value    V
	err      error
	canceled bool
	cancel   context.CancelFunc
}

func newFuture[V any](cancel context.CancelFunc) Future[V] {
	return Future[V]{state: &futureState[V]{done: make(chan struct{}), cancel: cancel}}
}

func (f Future[V]) complete(v V, err error) {
	s := f.state
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.value, s.err = v, err
	close(s.done)
	s.mu.Unlock()
}

// Result blocks until the task has returned or ctx is done, whichever
// comes first. A canceled task's result is available once the task itself
// returns, and its error is then a types.LogicError.
func (f Future[V]) Result(ctx context.Context) (V, error) {
	s := f.state
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.value, s.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Cancel requests that the task stop. It returns true if this call is what
// triggered cancellation.
func (f Future[V]) Cancel() bool {
	s := f.state
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	if s.canceled {
		return false
	}
	s.canceled = true
	s.cancel()
	return true
}

// Canceled reports whether Cancel has been called on this future.
func (f Future[V]) Canceled() bool {
	s := f.state
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

type futureKey struct{}

// FutureFromContext returns the Future associated with the task currently
// running under ctx, or the zero Future and false if ctx wasn't derived
// from a task submitted to an Executor. This is the idiomatic substitute
// for looking up a future by the running goroutine's identity.
func FutureFromContext[V any](ctx context.Context) (Future[V], bool) {
	f, ok := ctx.Value(futureKey{}).(Future[V])
	return f, ok
}

// Executor runs submitted tasks on their own goroutine and hands back a
// Future for each.
type Executor[V any] struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	shutdown bool
}

// NewExecutor returns a ready Executor.
func NewExecutor[V any]() *Executor[V] {
	return &Executor[V]{}
}

// Submit starts task on a new goroutine and returns a Future for its
// result. It returns types.Shutdown if the executor has already been shut
// down.
func (e *Executor[V]) Submit(ctx context.Context, task Task[V]) (Future[V], error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return Future[V]{}, types.Shutdown("executor has been shut down")
	}
	e.wg.Add(1)
	e.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	future := newFuture[V](cancel)
	taskCtx = context.WithValue(taskCtx, futureKey{}, future)

	go func() {
		defer e.wg.Done()
		defer cancel()
		v, err := task(taskCtx)
		if future.Canceled() {
			err = types.LogicError("no result — canceled")
		}
		future.complete(v, err)
	}()
	return future, nil
}

// Shutdown marks the executor as no longer accepting new work. Running
// tasks are left to finish whatever mayInterrupt is: Shutdown does not
// cancel their contexts.
func (e *Executor[V]) Shutdown(mayInterrupt bool) {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
	_ = mayInterrupt
}

// AwaitTermination blocks until every submitted task has returned, or ctx
// is done first.
func (e *Executor[V]) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completer pairs an Executor with a channel that yields futures in
// completion order rather than submission order.
type Completer[V any] struct {
	exec *Executor[V]
	ch   chan Future[V]
}

// NewCompleter returns a ready Completer with the given completion-queue
// capacity.
func NewCompleter[V any](capacity int) *Completer[V] {
	return &Completer[V]{exec: NewExecutor[V](), ch: make(chan Future[V], capacity)}
}

// Submit starts task and arranges for its future to be pushed onto the
// completion queue once it finishes.
func (c *Completer[V]) Submit(ctx context.Context, task Task[V]) (Future[V], error) {
	future, err := c.exec.Submit(ctx, task)
	if err != nil {
		return Future[V]{}, err
	}
	go func() {
		_, _ = future.Result(context.Background())
		c.ch <- future
	}()
	return future, nil
}

// Get returns the next future to complete, blocking until one does or ctx
// is done.
func (c *Completer[V]) Get(ctx context.Context) (Future[V], error) {
	select {
	case f := <-c.ch:
		return f, nil
	case <-ctx.Done():
		return Future[V]{}, ctx.Err()
	}
}

// Shutdown delegates to the underlying Executor.
func (c *Completer[V]) Shutdown(mayInterrupt bool) {
	c.exec.Shutdown(mayInterrupt)
}

// AwaitTermination delegates to the underlying Executor.
func (c *Completer[V]) AwaitTermination(ctx context.Context) error {
	return c.exec.AwaitTermination(ctx)
}
