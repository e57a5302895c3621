package async

import (
	"context"
	"sync"
)

// Future is a one-shot asynchronous result carrier.
//
// A future starts unsettled and transitions to settled exactly once, either
// resolved with a value or rejected with an error. The transition is
// irreversible: subsequent Resolve/Reject calls are no-ops and return false.
//
// Thread-safety: all methods are safe for concurrent use. OnSettle
// callbacks run synchronously on the goroutine that settles the future
// (or immediately on the registering goroutine if already settled), so
// callbacks must not block and must do their own synchronization before
// touching shared state.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	settled   bool
	callbacks []func(T, error)
}

// NewFuture creates an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a future already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Rejected creates a future already settled with err.
func Rejected[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Go runs fn on a new goroutine and settles the returned future with its
// result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		v, err := fn()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}()
	return f
}

// Resolve settles the future with v. Returns false if the future was
// already settled (the call is then a no-op).
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. Returns false if the future was
// already settled (the call is then a no-op).
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = v
	f.err = err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	// Callbacks run outside the lock so they may inspect the future.
	for _, cb := range cbs {
		cb(v, err)
	}
	return true
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Peek returns the settled result without blocking.
// ok is false while the future is unsettled; value and err are then zero.
func (f *Future[T]) Peek() (value T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settled {
		var zero T
		return zero, nil, false
	}
	return f.value, f.err, true
}

// Done returns a channel closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is cancelled.
// On cancellation the context error is returned and the future stays live.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Peek()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle registers cb to run when the future settles. If the future is
// already settled, cb runs immediately on the calling goroutine.
// Callbacks registered before settlement run in registration order on the
// settling goroutine.
func (f *Future[T]) OnSettle(cb func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	cb(v, err)
}

// AnyFuture is the type-erased view of a Future. The render and wire
// layers traffic in futures of unknown element type; this interface lets
// them block on and inspect settlement without knowing T.
type AnyFuture interface {
	// Settled reports whether the future has settled.
	Settled() bool
	// Done returns a channel closed on settlement.
	Done() <-chan struct{}
	// PeekAny returns the erased result; ok is false while unsettled.
	PeekAny() (value any, err error, ok bool)
	// OnSettleAny registers an erased settlement callback.
	OnSettleAny(cb func(value any, err error))
}

// PeekAny implements AnyFuture.
func (f *Future[T]) PeekAny() (any, error, bool) {
	v, err, ok := f.Peek()
	if !ok {
		return nil, nil, false
	}
	return v, err, true
}

// OnSettleAny implements AnyFuture.
func (f *Future[T]) OnSettleAny(cb func(any, error)) {
	f.OnSettle(func(v T, err error) { cb(v, err) })
}

// AwaitAll blocks until every future has settled or ctx is cancelled.
// The first context error is returned; settlement errors are not, so
// callers inspect the futures themselves afterwards.
func AwaitAll(ctx context.Context, futures []AnyFuture) error {
	for _, f := range futures {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
