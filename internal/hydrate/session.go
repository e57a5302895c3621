package hydrate

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

// ModuleLoader fetches client module code and assets ahead of a
// boundary's markup. Load is called once per URL per boundary; the
// future settles when the asset is usable (or failed).
type ModuleLoader interface {
	Load(url string) *async.Future[string]
}

// Session drives one hydration walk and the late-boundary resumptions
// that follow it.
//
// The walk runs with the runtime in client mode and snapshot capture on:
// every read binds to the value it saw first, so the client renders
// exactly what the server did even when writes land mid-walk. Finish
// releases the top-level scope and flushes; writes issued during the
// walk take effect there, exactly once.
//
// Boundaries the server streamed keep the session pending after the
// walk: each one waits for its fragment off-thread, re-enters hydration
// under its own scope, and reports back through the pending counter.
// OnHydrationEnd callbacks drain when the walk is done and the counter
// is zero.
type Session struct {
	rt     *reactive.Runtime
	store  *RecordStore
	doc    *Document
	loader ModuleLoader
	log    *slog.Logger

	mu       sync.Mutex
	pending  int
	walkDone bool
	finished bool
	onEnd    []func()
	expected map[string]struct{}
	doneCh   chan struct{}

	// hydrating and topScope are touched only under the runtime slot.
	hydrating bool
	topScope  bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDocument attaches the parsed server markup. Boundaries use it to
// spot their placeholders and splice arriving fragments.
func WithDocument(doc *Document) SessionOption {
	return func(s *Session) { s.doc = doc }
}

// WithModuleLoader installs the asset loader for boundary preloads. With
// no loader, asset records are consumed but nothing is fetched.
func WithModuleLoader(l ModuleLoader) SessionOption {
	return func(s *Session) { s.loader = l }
}

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session over a runtime and an ingested (or still
// filling) hydration store.
func NewSession(rt *reactive.Runtime, store *RecordStore, opts ...SessionOption) *Session {
	s := &Session{
		rt:     rt,
		store:  store,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Runtime returns the runtime this session hydrates into.
func (s *Session) Runtime() *reactive.Runtime { return s.rt }

// Records returns the session's record store.
func (s *Session) Records() *RecordStore { return s.store }

// Document returns the parsed server markup, or nil for headless runs.
func (s *Session) Document() *Document { return s.doc }

// Hydrating reports whether a hydration walk (or a late boundary
// resumption) is executing right now. Constructors consult it to decide
// between adopting serialized state and computing live.
func (s *Session) Hydrating() bool { return s.hydrating }

// Begin switches the runtime into hydration: client mode on, snapshot
// capture on, the root owner marked as the top-level scope. The caller
// must hold the runtime slot; Hydrate does this for you.
func (s *Session) Begin() {
	s.hydrating = true
	s.topScope = true
	s.rt.SetClientMode(true)
	s.rt.SetSnapshotCapture(true)
	s.rt.MarkSnapshotScope(s.rt.Root())
}

// Finish ends the walk: capture off, the top-level scope released, and
// queued writes flushed so mid-walk mutations land exactly once. When no
// boundary is still pending this also drains OnHydrationEnd callbacks.
func (s *Session) Finish() {
	s.hydrating = false
	s.rt.SetSnapshotCapture(false)
	if s.topScope {
		s.topScope = false
		s.rt.ReleaseSnapshotScope(s.rt.Root())
	}
	s.rt.Flush()

	s.mu.Lock()
	s.walkDone = true
	s.mu.Unlock()
	s.maybeComplete()
}

// Hydrate drives a full walk: Begin, run root under the root owner,
// Finish. Streamed boundaries may still be pending when it returns; Wait
// blocks until they resume.
func (s *Session) Hydrate(root func() (any, error)) (any, error) {
	s.rt.Enter()
	defer s.rt.Leave()
	s.Begin()
	v, err := reactive.RunWithOwnerValue(s.rt, s.rt.Root(), root)
	s.Finish()
	return v, err
}

// OnHydrationEnd registers fn to run once hydration has fully completed
// (walk done, every boundary resumed). Registration after completion
// runs fn immediately. Callbacks run while holding the runtime slot.
func (s *Session) OnHydrationEnd(fn func()) {
	s.mu.Lock()
	if !s.finished {
		s.onEnd = append(s.onEnd, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Done reports whether hydration has fully completed.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Wait blocks until hydration fully completes or ctx is cancelled.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maybeComplete drains hydration-end callbacks when the walk is done and
// no boundary is pending. Must hold the runtime slot.
func (s *Session) maybeComplete() {
	s.mu.Lock()
	if !s.walkDone || s.pending > 0 || s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	cbs := s.onEnd
	s.onEnd = nil
	s.mu.Unlock()

	for _, fn := range cbs {
		fn()
	}
	s.rt.Flush()
	close(s.doneCh)
}

// addPending counts a boundary that will resume after the walk.
func (s *Session) addPending() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
}

// boundaryDone retires one pending boundary, re-entering the runtime to
// drain completion callbacks when it was the last. Called off the walk
// goroutine.
func (s *Session) boundaryDone() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
	_ = s.rt.Run(func() error {
		s.maybeComplete()
		return nil
	})
}

// enterBoundary re-enters hydration for a late boundary: capture on and
// the boundary owner marked as its own snapshot scope. The returned exit
// flushes the boundary's writes, releases the scope, restores capture,
// and flushes again so drift re-runs execute live. Must hold the runtime
// slot.
func (s *Session) enterBoundary(bo *reactive.Owner) func() {
	prevHydrating := s.hydrating
	prevCapture := s.rt.SnapshotCapture()
	s.hydrating = true
	s.rt.SetSnapshotCapture(true)
	s.rt.MarkSnapshotScope(bo)
	return func() {
		s.rt.Flush()
		s.rt.ReleaseSnapshotScope(bo)
		s.rt.SetSnapshotCapture(prevCapture)
		s.hydrating = prevHydrating
		s.rt.Flush()
	}
}

// ApplyFragment delivers a streamed boundary fragment: the document
// placeholder is spliced (when markup is attached and the fragment
// succeeded) and the waiting boundary unparked.
func (s *Session) ApplyFragment(id, html string, err error) {
	s.markExpected(id)
	if err == nil && s.doc != nil {
		if serr := s.doc.SpliceFragment(id, html); serr != nil {
			s.log.Warn("fragment splice failed", "id", id, "error", serr)
		}
	}
	s.store.FragmentArrived(id, html, err)
}

// ExpectFragment announces that the transport will deliver a fragment
// for id. Headless sessions (no document) use it so boundaries know to
// wait instead of rendering inline.
func (s *Session) ExpectFragment(id string) {
	s.markExpected(id)
}

func (s *Session) markExpected(id string) {
	s.mu.Lock()
	if s.expected == nil {
		s.expected = make(map[string]struct{})
	}
	s.expected[id] = struct{}{}
	s.mu.Unlock()
}

// CleanupFragment abandons a fragment that will never be adopted: the
// waiter is released and the placeholder markup dropped from the
// document. Boundaries disposed before resumption call this so orphaned
// fragments do not leak.
func (s *Session) CleanupFragment(id string) {
	s.store.CancelFragment(id)
	if s.doc != nil {
		s.doc.RemovePlaceholder(id)
	}
	s.log.Debug("fragment cleaned up", "id", id)
}

// fragmentExpected reports whether the server streamed boundary id: its
// fragment already arrived, the transport announced it, or the document
// still shows its placeholder.
func (s *Session) fragmentExpected(id string) bool {
	if s.store.FragmentSettled(id) {
		return true
	}
	s.mu.Lock()
	_, ok := s.expected[id]
	s.mu.Unlock()
	if ok {
		return true
	}
	return s.doc != nil && s.doc.HasPlaceholder(id)
}

// preloadBoundaryAssets starts module preloads listed at "<id>_assets"
// and returns a future settling when every URL has loaded. Boundaries
// gate fragment adoption on it so code and styles land before markup.
func (s *Session) preloadBoundaryAssets(id string) *async.Future[any] {
	e, ok := s.store.Load(id + wire.AssetsSuffix)
	if !ok {
		return async.Resolved[any](nil)
	}
	s.store.Gather(id + wire.AssetsSuffix)
	ve, ok := e.(ValueEntry)
	if !ok {
		return async.Resolved[any](nil)
	}
	urls := assetURLs(ve.V)
	if len(urls) == 0 || s.loader == nil {
		return async.Resolved[any](nil)
	}
	futs := make([]async.AnyFuture, 0, len(urls))
	for _, u := range urls {
		futs = append(futs, s.loader.Load(u))
	}
	return async.Go(func() (any, error) {
		return nil, async.AwaitAll(context.Background(), futs)
	})
}

// assetURLs flattens a serialized module→urls map, module names sorted
// so load order is stable.
func assetURLs(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	var urls []string
	for _, name := range names {
		list, ok := m[name].([]any)
		if !ok {
			continue
		}
		for _, u := range list {
			if su, ok := u.(string); ok {
				urls = append(urls, su)
			}
		}
	}
	return urls
}
