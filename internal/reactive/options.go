package reactive

import "github.com/roach88/limn/internal/async"

// SourceMode controls where an async primitive computes and what it
// serializes.
type SourceMode int

const (
	// SourceServer computes on the server and serializes the full result:
	// settled or pending futures as promise snapshots, streams live yield
	// by yield. Live streams require an out-of-order transport.
	SourceServer SourceMode = iota

	// SourceHybrid computes on the server but serializes only the first
	// value as a future. The client re-runs the source and continues live.
	SourceHybrid

	// SourceInitial skips server compute: a scan pass records dependencies,
	// the initial value renders, and nothing is serialized. The client
	// keeps the initial value until a dependency write invalidates it.
	SourceInitial

	// SourceClient skips server compute like SourceInitial, but the client
	// flips to live compute as soon as its hydration scope releases.
	SourceClient
)

// primitiveConfig carries shared construction options.
type primitiveConfig struct {
	name          string
	equals        func(a, b any) bool
	alwaysNotify  bool
	lazy          bool
	source        SourceMode
	initial       any
	adopted       any
	hasAdopted    bool
	deferStream   bool
	adoptedStream *async.Stream[any]
}

// PrimitiveOption configures signals, memos, and stores.
type PrimitiveOption func(*primitiveConfig)

// WithName attaches a debug name used in log output.
func WithName(name string) PrimitiveOption {
	return func(c *primitiveConfig) { c.name = name }
}

// WithEquals overrides the equality used to suppress redundant writes.
func WithEquals(eq func(a, b any) bool) PrimitiveOption {
	return func(c *primitiveConfig) { c.equals = eq }
}

// WithAlwaysNotify disables the equality check so every write notifies.
// Boundary triggers use this to force reruns.
func WithAlwaysNotify() PrimitiveOption {
	return func(c *primitiveConfig) { c.alwaysNotify = true }
}

// WithLazy defers the first compute to the first read. The default is
// eager: computations run at creation so serialization happens in
// component order.
func WithLazy() PrimitiveOption {
	return func(c *primitiveConfig) { c.lazy = true }
}

// WithSource selects the primitive's compute/serialize mode.
func WithSource(m SourceMode) PrimitiveOption {
	return func(c *primitiveConfig) { c.source = m }
}

// WithInitial supplies the value rendered while SourceInitial or
// SourceClient skip the server compute, and the value reads return before
// an async source's first settlement.
func WithInitial(v any) PrimitiveOption {
	return func(c *primitiveConfig) { c.initial = v }
}

// WithAdopted seeds the computation as already-computed with v. Hydration
// uses this to revive serialized server state without running compute.
func WithAdopted(v any) PrimitiveOption {
	return func(c *primitiveConfig) {
		c.adopted = v
		c.hasAdopted = true
	}
}

// WithDeferStream suppresses the pending-promise placeholder for this
// primitive's serialization: nothing is written until the value settles.
// Useful for sources whose placeholder would force a hydration wait the
// client does not need.
func WithDeferStream() PrimitiveOption {
	return func(c *primitiveConfig) { c.deferStream = true }
}

// WithAdoptedStream hands a stream-fed store its already-flowing source:
// the first run follows s instead of starting the generator, suspending
// reads until its first item arrives. Re-runs fall back to the generator.
// Hydration uses this when a store's serialized revisions are still in
// flight.
func WithAdoptedStream(s *async.Stream[any]) PrimitiveOption {
	return func(c *primitiveConfig) { c.adoptedStream = s }
}

func applyPrimitiveOptions(opts []PrimitiveOption) *primitiveConfig {
	cfg := &primitiveConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// boxEquals resolves the effective equality function for the output cell.
func (c *primitiveConfig) boxEquals() func(a, b any) bool {
	if c.alwaysNotify {
		return neverEqual
	}
	return c.equals
}
