package reactive

import "github.com/roach88/limn/internal/async"

// boundaryConfig carries boundary construction options.
type boundaryConfig struct {
	name      string
	noHydrate bool
}

// BoundaryOption configures error and loading boundaries.
type BoundaryOption func(*boundaryConfig)

// WithBoundaryName attaches a debug name.
func WithBoundaryName(name string) BoundaryOption {
	return func(c *boundaryConfig) { c.name = name }
}

// WithNoHydrate suppresses serialization of the caught error, for
// boundaries whose fallback re-renders fine from scratch on the client.
func WithNoHydrate() BoundaryOption {
	return func(c *boundaryConfig) { c.noHydrate = true }
}

// NewErrorBoundary runs fn under a dedicated owner and returns an accessor
// for its result. A failure (anything but a suspension) is caught, written
// to the side channel under the boundary's id so hydration can replay the
// fallback without re-failing, and replaced by fallback(err, reset).
// Suspensions pass through to the enclosing Loading boundary untouched;
// if the blocking source later rejects, the retried read lands here.
//
// reset disposes the subtree and re-runs fn. It is effective in client
// mode, where the rerun is queued and flushed.
func NewErrorBoundary(rt *Runtime, fn func() (any, error), fallback func(err error, reset func()) (any, error), opts ...BoundaryOption) Accessor {
	cfg := &boundaryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	bo := rt.CreateOwner()
	side := rt.side

	var inner *Memo[any]
	reset := func() {
		if inner != nil {
			inner.Invalidate()
			if rt.clientMode {
				rt.Flush()
			}
		}
	}

	err := rt.RunWithOwner(bo, func() error {
		inner = NewMemo(rt, func(prev any) (any, error) {
			v, err := fn()
			if err == nil || IsNotReady(err) {
				return v, err
			}
			if side != nil && !cfg.noHydrate {
				side.Serialize(bo.id, err, false)
			}
			rt.log.Debug("error boundary caught", "id", bo.id, "error", err)
			return fallback(err, reset)
		}, WithName(cfg.name))
		return nil
	})
	_ = err // RunWithOwner only relays fn's error; fn returns nil here

	return inner.Read
}

// Errored is the reset-less error boundary form.
func Errored(rt *Runtime, fn func() (any, error), fallback func(err error) (any, error), opts ...BoundaryOption) Accessor {
	return NewErrorBoundary(rt, fn, func(err error, _ func()) (any, error) {
		return fallback(err)
	}, opts...)
}

// NewLoadBoundary is the runtime-level Loading boundary used outside the
// server render pipeline (pure client graphs and post-hydration reruns):
// while children are suspended it yields the fallback, and in client mode
// it re-runs children once the blocking source settles.
//
// Server rendering replaces this with the render package's boundary, which
// adds placeholders, fragment streaming, and buffered serialization.
func NewLoadBoundary(rt *Runtime, children func() (any, error), fallback func() (any, error), opts ...BoundaryOption) Accessor {
	cfg := &boundaryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	bo := rt.CreateOwner()

	var inner *Memo[any]
	var pending async.AnyFuture
	var watched async.AnyFuture

	_ = rt.RunWithOwner(bo, func() error {
		inner = NewMemo(rt, func(prev any) (any, error) {
			v, err := children()
			if nr, ok := AsNotReady(err); ok {
				pending = nr.Source
				if rt.clientMode && watched != nr.Source {
					watched = nr.Source
					nr.Source.OnSettleAny(func(any, error) {
						go func() {
							_ = rt.Run(func() error {
								inner.Invalidate()
								rt.Flush()
								return nil
							})
						}()
					})
				}
				if fallback == nil {
					return nil, nil
				}
				return fallback()
			}
			pending = nil
			return v, err
		}, WithName(cfg.name))
		return nil
	})

	return func() (any, error) {
		// Pull path: retry once the source that suspended us has settled.
		if pending != nil && pending.Settled() {
			pending = nil
			inner.Invalidate()
		}
		return inner.Read()
	}
}
