package hydrate

import (
	"context"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

// outcome is what a boundary accessor yields.
type outcome struct {
	v   any
	err error
}

// Loading hydrates a suspension boundary. The boundary owner claims the
// same deterministic id the server's boundary had, then resumes
// whichever way the server left it:
//
//   - no record, no placeholder: the subtree rendered inline; the
//     children hydrate right here during the walk.
//   - "$$f" record: the sync render deferred the subtree; the fallback
//     shows and the children run live once hydration ends.
//   - placeholder or announced fragment: the server streamed the
//     subtree. The fallback shows, the boundary waits for its fragment
//     off the walk, preloads the modules serialized alongside it, and
//     hydrates the children under the boundary's own snapshot scope. A
//     fragment that landed before the walk hydrates inline.
//
// fallback is a value, constructed by the caller before this call, same
// as on the server. The returned accessor reads the boundary's current
// state: the fallback while unresolved, then the children's result or
// error.
func Loading(s *Session, fallback any, children func() (any, error)) reactive.Accessor {
	rt := s.rt
	if !s.Hydrating() {
		return reactive.NewLoadBoundary(rt, children, func() (any, error) {
			return fallback, nil
		})
	}

	bo := rt.CreateOwner()
	b := &loadBoundary{
		s:        s,
		rt:       rt,
		bo:       bo,
		id:       bo.ID(),
		children: children,
		fallback: fallback,
	}

	var initial outcome
	switch {
	case b.deferred():
		initial = outcome{v: fallback}
		s.OnHydrationEnd(func() { b.rerun(false) })

	case s.fragmentExpected(b.id) && !s.store.FragmentSettled(b.id):
		initial = outcome{v: fallback}
		s.addPending()
		_ = rt.OnCleanup(func() { s.CleanupFragment(b.id) })
		go b.awaitFragment()

	default:
		initial = b.attempt()
	}

	b.out = reactive.NewSignal(rt, initial, reactive.WithAlwaysNotify())
	return b.read
}

type loadBoundary struct {
	s        *Session
	rt       *reactive.Runtime
	bo       *reactive.Owner
	id       string
	children func() (any, error)
	fallback any
	out      *reactive.Signal[outcome]
	watched  async.AnyFuture
}

// deferred reports (and consumes) a "$$f" record at the boundary id.
func (b *loadBoundary) deferred() bool {
	e, ok := b.s.store.Load(b.id)
	if !ok {
		return false
	}
	ve, isVal := e.(ValueEntry)
	if !isVal {
		return false
	}
	sv, isStr := ve.V.(string)
	if !isStr || sv != wire.DeferredFallback {
		return false
	}
	b.s.store.Gather(b.id)
	return true
}

func (b *loadBoundary) read() (any, error) {
	o := b.out.Get()
	return o.v, o.err
}

// attempt runs the children under the boundary owner, falling back and
// watching the blocking source when they suspend. Must hold the runtime
// slot.
func (b *loadBoundary) attempt() outcome {
	b.bo.Dispose(true)
	v, err := reactive.RunWithOwnerValue(b.rt, b.bo, b.children)
	if nr, ok := reactive.AsNotReady(err); ok {
		b.watch(nr.Source)
		return outcome{v: b.fallback}
	}
	return outcome{v: v, err: err}
}

// rerun re-executes the children and publishes the result. With adopt
// set the run re-enters hydration under the boundary's own scope, so the
// children revive the records that arrived with their fragment. Must
// hold the runtime slot.
func (b *loadBoundary) rerun(adopt bool) {
	if b.bo.Disposed() {
		return
	}
	var exit func()
	if adopt {
		exit = b.s.enterBoundary(b.bo)
	}
	o := b.attempt()
	if exit != nil {
		exit()
	}
	b.out.Set(o)
	b.rt.Flush()
}

// watch arms a one-shot rerun for the source that suspended the children.
// The rerun is live: a suspension surviving to this path means the
// serialized state cannot cover the subtree, so it computes for itself.
func (b *loadBoundary) watch(src async.AnyFuture) {
	if b.watched == src {
		return
	}
	b.watched = src
	src.OnSettleAny(func(any, error) {
		go func() {
			_ = b.rt.Run(func() error {
				b.rerun(false)
				return nil
			})
		}()
	})
}

// awaitFragment parks until the boundary's fragment arrives, preloads its
// module assets, and re-enters hydration to adopt the subtree. Runs off
// the walk goroutine; the pending counter keeps the session open.
func (b *loadBoundary) awaitFragment() {
	defer b.s.boundaryDone()

	f, err := b.s.store.AwaitFragment(b.id).Await(context.Background())
	if err != nil {
		// Cancelled: the boundary was disposed before its fragment landed.
		return
	}
	if f.Err != nil {
		_ = b.rt.Run(func() error {
			b.out.Set(outcome{err: f.Err})
			b.rt.Flush()
			return nil
		})
		return
	}
	if _, perr := b.s.preloadBoundaryAssets(b.id).Await(context.Background()); perr != nil {
		_ = b.rt.Run(func() error {
			b.out.Set(outcome{err: perr})
			b.rt.Flush()
			return nil
		})
		return
	}
	_ = b.rt.Run(func() error {
		b.rerun(true)
		return nil
	})
}
