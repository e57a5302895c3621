package reactive

// NewEffect registers a side-effecting computation. Effects never run
// during server rendering; in client mode the first run is queued for the
// next Flush and re-runs follow dependency writes. The computation is
// created in both modes so the id sequence matches across sides.
func NewEffect(rt *Runtime, fn func() error) {
	cfg := &primitiveConfig{lazy: true}
	c := newComputation(rt, cfg, compSync)
	c.compute = func(any) (any, error) {
		return nil, fn()
	}
	if !rt.clientMode {
		return
	}
	rt.markDirty(c)
}

// NewRenderEffect runs fn immediately (both modes) and, in client mode,
// re-runs it when its dependencies change. The server runs it once for its
// output side effects.
func NewRenderEffect(rt *Runtime, fn func() error) {
	cfg := &primitiveConfig{}
	c := newComputation(rt, cfg, compSync)
	c.compute = func(any) (any, error) {
		return nil, fn()
	}
	c.run()
	if c.err != nil {
		rt.log.Debug("render effect failed", "id", c.owner.id, "error", c.err)
	}
}
