package hydrate

import (
	"context"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/patch"
	"github.com/roach88/limn/internal/reactive"
)

// The constructors below mirror the reactive package's, adding adoption:
// while the session is hydrating, each one peeks the id its computation
// is about to claim and checks the store for the server's serialized
// result. A hit revives the server state without running the compute; a
// miss (or a session that is no longer hydrating) falls through to the
// live constructor.

// NewSignal creates a writable signal. Signals claim no ids and are never
// serialized; construction is identical on both sides.
func NewSignal[T any](s *Session, v T, opts ...reactive.PrimitiveOption) *reactive.Signal[T] {
	return reactive.NewSignal(s.rt, v, opts...)
}

// NewMemo creates a computed value. Sync computes re-run during the walk:
// under snapshot capture they read adopted sources at their serialized
// values, so they reproduce the server result without needing records of
// their own.
func NewMemo[T any](s *Session, compute func(prev T) (T, error), opts ...reactive.PrimitiveOption) *reactive.Memo[T] {
	return reactive.NewMemo(s.rt, compute, opts...)
}

// NewStore creates a writable store. Like signals, stores are component
// inputs rather than computed results and are rebuilt identically from
// initial state.
func NewStore(s *Session, initial map[string]any, opts ...reactive.PrimitiveOption) *reactive.Store {
	return reactive.NewStore(s.rt, initial, opts...)
}

// NewProjection creates a derived store; sync like NewMemo, it re-runs
// over adopted sources during the walk.
func NewProjection(s *Session, generate func(d *patch.Draft) error, initial map[string]any, opts ...reactive.PrimitiveOption) *reactive.Projection {
	return reactive.NewProjection(s.rt, generate, initial, opts...)
}

// NewOptimistic wraps a committed source with an optimistic override.
func NewOptimistic[T any](s *Session, source func() (T, error), opts ...reactive.PrimitiveOption) *reactive.Optimistic[T] {
	return reactive.NewOptimistic(s.rt, source, opts...)
}

// NewFutureMemo creates a memo over a future-producing compute, adopting
// the server's promise record when one exists. A settled record commits
// immediately; a pending one suspends readers until its settlement
// arrives over the wire. The compute itself runs only on later re-runs.
func NewFutureMemo[T any](s *Session, compute func(prev T) (*async.Future[T], error), opts ...reactive.PrimitiveOption) *reactive.Memo[T] {
	rt := s.rt
	if !s.Hydrating() {
		return reactive.NewFutureMemo(rt, compute, opts...)
	}
	id := rt.PeekChildID()
	e, ok := s.store.Load(id)
	if !ok {
		return reactive.NewFutureMemo(rt, compute, opts...)
	}

	switch e := e.(type) {
	case ValueEntry:
		v, cerr := coerce[T](e.V)
		if cerr != nil {
			return failingFutureMemo(s, compute, cerr, opts)
		}
		s.store.Gather(id)
		return reactive.NewFutureMemo(rt, compute, append(opts, reactive.WithAdopted(v))...)

	case ErrorEntry:
		return failingFutureMemo(s, compute, e.Err, opts)

	case PromiseEntry:
		s.store.Gather(id)
		adopted := e.F
		first := true
		return reactive.NewFutureMemo(rt, func(prev T) (*async.Future[T], error) {
			if first {
				first = false
				return futureAs[T](adopted), nil
			}
			return compute(prev)
		}, opts...)
	}

	// A stream record at a future id is a shape mismatch; compute live.
	s.log.Warn("record shape mismatch", "id", id, "want", "promise")
	return reactive.NewFutureMemo(rt, compute, opts...)
}

// failingFutureMemo revives a serialized failure: the first run surfaces
// err exactly as the server saw it, re-runs go back to the compute.
func failingFutureMemo[T any](s *Session, compute func(prev T) (*async.Future[T], error), err error, opts []reactive.PrimitiveOption) *reactive.Memo[T] {
	s.store.Gather(s.rt.PeekChildID())
	first := true
	return reactive.NewFutureMemo(s.rt, func(prev T) (*async.Future[T], error) {
		if first {
			first = false
			return nil, err
		}
		return compute(prev)
	}, opts...)
}

// NewStreamMemo creates a memo over a stream source, resuming the
// server's serialization.
//
// A full stream record adopts the first yield as the memo value and
// follows later yields as they arrive; if the first yield is still in
// flight, readers suspend until it lands. A promise record (hybrid
// source) adopts the first value and re-runs the compute live once
// hydration ends.
func NewStreamMemo[T any](s *Session, compute func() (*async.Stream[T], error), opts ...reactive.PrimitiveOption) *reactive.Memo[T] {
	rt := s.rt
	if !s.Hydrating() {
		return reactive.NewStreamMemo(rt, compute, opts...)
	}
	id := rt.PeekChildID()
	e, ok := s.store.Load(id)
	if !ok {
		return reactive.NewStreamMemo(rt, compute, opts...)
	}

	switch e := e.(type) {
	case StreamEntry:
		s.store.Gather(id)
		firstFut, replay := async.Tap(e.S)
		it, err, settled := firstFut.Peek()
		if !settled {
			// First yield still in flight: follow the serialized stream
			// from the top, suspending readers until it produces.
			first := true
			return reactive.NewStreamMemo(rt, func() (*async.Stream[T], error) {
				if first {
					first = false
					return typedStream[T](replay), nil
				}
				return compute()
			}, opts...)
		}
		switch {
		case err != nil:
			return failingStreamMemo(s, compute, err, opts)
		case it.Done:
			return reactive.NewStreamMemo(rt, compute, append(opts, reactive.WithAdopted(nil))...)
		default:
			v, cerr := coerce[T](it.Value)
			if cerr != nil {
				return failingStreamMemo(s, compute, cerr, opts)
			}
			m := reactive.NewStreamMemo(rt, compute, append(opts, reactive.WithAdopted(v))...)
			m.FollowStream(typedStream[T](e.S))
			return m
		}

	case PromiseEntry:
		s.store.Gather(id)
		adopted := e.F
		if v, err, settled := adopted.Peek(); settled {
			if err != nil {
				return failingStreamMemo(s, compute, err, opts)
			}
			t, cerr := coerce[T](v)
			if cerr != nil {
				return failingStreamMemo(s, compute, cerr, opts)
			}
			m := reactive.NewStreamMemo(rt, compute, append(opts, reactive.WithAdopted(t))...)
			s.OnHydrationEnd(m.Invalidate)
			return m
		}
		// Pending first value: suspend on it, then go live.
		first := true
		m := reactive.NewStreamMemo(rt, func() (*async.Stream[T], error) {
			if first {
				first = false
				return futureStream[T](adopted), nil
			}
			return compute()
		}, opts...)
		s.OnHydrationEnd(m.Invalidate)
		return m

	case ValueEntry:
		s.store.Gather(id)
		v, cerr := coerce[T](e.V)
		if cerr != nil {
			return failingStreamMemo(s, compute, cerr, opts)
		}
		return reactive.NewStreamMemo(rt, compute, append(opts, reactive.WithAdopted(v))...)

	case ErrorEntry:
		return failingStreamMemo(s, compute, e.Err, opts)
	}
	return reactive.NewStreamMemo(rt, compute, opts...)
}

func failingStreamMemo[T any](s *Session, compute func() (*async.Stream[T], error), err error, opts []reactive.PrimitiveOption) *reactive.Memo[T] {
	s.store.Gather(s.rt.PeekChildID())
	first := true
	return reactive.NewStreamMemo(s.rt, func() (*async.Stream[T], error) {
		if first {
			first = false
			return nil, err
		}
		return compute()
	}, opts...)
}

// futureStream wraps a future as a one-item stream.
func futureStream[T any](f *async.Future[any]) *async.Stream[T] {
	typed := futureAs[T](f)
	return async.Generate(func(yield func(T) bool) error {
		v, err := typed.Await(context.Background())
		if err != nil {
			return err
		}
		yield(v)
		return nil
	})
}

// NewStreamStore creates a stream-fed store, resuming the server's
// serialization: the first revision is adopted as the state and later
// revisions replay as patch batches. A promise record (hybrid source)
// adopts the first revision and restarts the generator live once
// hydration ends.
func NewStreamStore(s *Session, initial map[string]any, generate func(d *patch.Draft, emit func() error) error, opts ...reactive.PrimitiveOption) *reactive.StreamStore {
	rt := s.rt
	if !s.Hydrating() {
		return reactive.NewStreamStore(rt, initial, generate, opts...)
	}
	id := rt.PeekChildID()
	e, ok := s.store.Load(id)
	if !ok {
		return reactive.NewStreamStore(rt, initial, generate, opts...)
	}

	switch e := e.(type) {
	case StreamEntry:
		s.store.Gather(id)
		firstFut, replay := async.Tap(e.S)
		it, err, settled := firstFut.Peek()
		if !settled {
			// Revisions still in flight: suspend readers, then fold them.
			return reactive.NewStreamStore(rt, initial, generate,
				append(opts, reactive.WithAdoptedStream(storeStream(replay)))...)
		}
		switch {
		case err != nil:
			return failingStreamStore(s, initial, generate, err, opts)
		case it.Done:
			return reactive.NewStreamStore(rt, initial, generate, append(opts, reactive.WithAdopted(nil))...)
		default:
			state, cerr := coerce[map[string]any](it.Value)
			if cerr != nil {
				return failingStreamStore(s, initial, generate, cerr, opts)
			}
			st := reactive.NewStreamStore(rt, initial, generate, append(opts, reactive.WithAdopted(state))...)
			st.Follow(batchStream(e.S))
			return st
		}

	case PromiseEntry:
		s.store.Gather(id)
		adopted := e.F
		if v, err, settled := adopted.Peek(); settled {
			if err != nil {
				return failingStreamStore(s, initial, generate, err, opts)
			}
			state, cerr := coerce[map[string]any](v)
			if cerr != nil {
				return failingStreamStore(s, initial, generate, cerr, opts)
			}
			st := reactive.NewStreamStore(rt, initial, generate, append(opts, reactive.WithAdopted(state))...)
			s.OnHydrationEnd(st.Invalidate)
			return st
		}
		st := reactive.NewStreamStore(rt, initial, generate,
			append(opts, reactive.WithAdoptedStream(futureRevision(adopted)))...)
		s.OnHydrationEnd(st.Invalidate)
		return st

	case ErrorEntry:
		return failingStreamStore(s, initial, generate, e.Err, opts)
	}
	return reactive.NewStreamStore(rt, initial, generate, opts...)
}

func failingStreamStore(s *Session, initial map[string]any, generate func(d *patch.Draft, emit func() error) error, err error, opts []reactive.PrimitiveOption) *reactive.StreamStore {
	s.store.Gather(s.rt.PeekChildID())
	first := true
	return reactive.NewStreamStore(s.rt, initial, func(d *patch.Draft, emit func() error) error {
		if first {
			first = false
			return err
		}
		return generate(d, emit)
	}, opts...)
}

// futureRevision wraps a pending first-revision future as a one-item
// store stream.
func futureRevision(f *async.Future[any]) *async.Stream[any] {
	return async.Generate(func(yield func(any) bool) error {
		v, err := f.Await(context.Background())
		if err != nil {
			return err
		}
		state, cerr := coerce[map[string]any](v)
		if cerr != nil {
			return cerr
		}
		yield(state)
		return nil
	})
}

// NewErrorBoundary runs fn under a dedicated owner, reviving a serialized
// boundary error: when the server caught a failure at this boundary, the
// client renders the same fallback without re-running the children. reset
// re-runs them live.
func NewErrorBoundary(s *Session, fn func() (any, error), fallback func(err error, reset func()) (any, error), opts ...reactive.BoundaryOption) reactive.Accessor {
	rt := s.rt
	if s.Hydrating() {
		id := rt.PeekChildID()
		if e, ok := s.store.Load(id); ok {
			if ee, isErr := e.(ErrorEntry); isErr {
				s.store.Gather(id)
				threw := false
				wrapped := func() (any, error) {
					if !threw {
						threw = true
						return nil, ee.Err
					}
					return fn()
				}
				return reactive.NewErrorBoundary(rt, wrapped, fallback, opts...)
			}
		}
	}
	return reactive.NewErrorBoundary(rt, fn, fallback, opts...)
}

// Errored is the reset-less error boundary form.
func Errored(s *Session, fn func() (any, error), fallback func(err error) (any, error), opts ...reactive.BoundaryOption) reactive.Accessor {
	return NewErrorBoundary(s, fn, func(err error, _ func()) (any, error) {
		return fallback(err)
	}, opts...)
}
