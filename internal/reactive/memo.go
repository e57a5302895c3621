package reactive

import (
	"errors"

	"github.com/roach88/limn/internal/async"
)

// ErrStreamNeedsAsync is returned by stream-backed memos when the render
// transport cannot deliver out-of-order chunks. Sync renders must use
// SourceHybrid or SourceInitial instead.
var ErrStreamNeedsAsync = errors.New("reactive: live stream source requires an out-of-order transport")

// compKind distinguishes the compute shapes a computation can carry.
type compKind int

const (
	compSync compKind = iota
	compAsync
)

// asyncResult is what an async compute hands back to the computation core.
type asyncResult struct {
	// gate is the future whose settlement produces (or unblocks) the value.
	// nil means the compute produced a plain value in payload.
	gate async.AnyFuture

	// payload is what the side channel serializes: the future itself, a
	// tapped stream, or nil when nothing should be written.
	payload any

	// watch registers a settle callback in client mode so the value commits
	// without a read. Stream drains manage their own commits and leave it
	// off.
	watch bool

	// start runs after the gate is adopted; client stream drains hook here.
	start func(c *computation)
}

// computation is a node in the reactive graph: an owner (which fixes its
// deterministic id), a compute function, an output cell, and the pending
// async source when the value is not available yet.
//
// Reads are pull-based. A computation whose last run suspended re-runs when
// the blocking future has settled and something reads it again; a pending
// gate settles into the output cell on the read that first observes it.
type computation struct {
	rt    *Runtime
	owner *Owner
	side  SideChannel // captured at creation
	kind  compKind
	seq   int64

	compute      func(prev any) (any, error)
	computeAsync func(prev any) (asyncResult, error)

	out *box

	ran         bool
	stale       bool
	hasValue    bool
	err         error
	gate        async.AnyFuture
	serialized  bool
	deferStream bool

	deps   []*box
	depSet map[*box]struct{}
	queued bool
}

// newComputation allocates a child owner (claiming the next deterministic
// id) and wires the output cell.
func newComputation(rt *Runtime, cfg *primitiveConfig, kind compKind) *computation {
	rt.seq++
	c := &computation{
		rt:          rt,
		owner:       rt.owner.newChild(),
		side:        rt.side,
		kind:        kind,
		seq:         rt.seq,
		out:         &box{equals: cfg.boxEquals(), name: cfg.name},
		deferStream: cfg.deferStream,
	}
	if cfg.hasAdopted {
		c.ran = true
		c.hasValue = true
		c.out.value = cfg.adopted
	}
	c.owner.teardown = c.clearDeps
	return c
}

// initialRun applies the construction-time mode handling: adopted values
// stand as-is, scan modes replace the server compute, lazy defers, and
// everything else runs eagerly.
func (c *computation) initialRun(cfg *primitiveConfig) {
	if cfg.hasAdopted {
		return
	}
	// Scan modes skip the real compute. SourceInitial holds its initial on
	// both sides until a dependency write invalidates it; SourceClient
	// scans only while hydration capture is on, flipping to live compute
	// when its snapshot scope releases (or immediately on a live client).
	if cfg.source == SourceInitial || (cfg.source == SourceClient && (!c.rt.clientMode || c.rt.snapshotCapture)) {
		c.scanRun(cfg.initial)
		if cfg.source == SourceClient && c.rt.clientMode {
			c.rt.registerFlip(c)
		}
		return
	}
	if cfg.lazy {
		return
	}
	c.run()
}

// scanRun records dependencies with a single pass under the scanning flag
// and installs the initial value. Nothing is serialized; children created
// by the pass are disposed so ids stay aligned with the client.
func (c *computation) scanRun(initial any) {
	c.rt.scan(func() {
		prevOwner, prevObs := c.rt.owner, c.rt.observer
		c.rt.owner, c.rt.observer = c.owner, c
		defer func() { c.rt.owner, c.rt.observer = prevOwner, prevObs }()

		switch c.kind {
		case compSync:
			_, _ = c.compute(initial)
		case compAsync:
			_, _ = c.computeAsync(initial)
		}
	})
	c.owner.Dispose(true)
	c.ran = true
	c.hasValue = true
	c.out.value = initial
}

// run executes the compute under the computation's owner. Re-runs dispose
// the owner's subtree first so regenerated children reclaim the same ids.
func (c *computation) run() {
	c.ran = true
	c.stale = false
	c.err = nil
	c.gate = nil
	prev := c.out.value

	c.clearDeps()

	prevOwner, prevObs := c.rt.owner, c.rt.observer
	c.rt.owner, c.rt.observer = c.owner, c
	defer func() { c.rt.owner, c.rt.observer = prevOwner, prevObs }()

	c.owner.Dispose(true)

	switch c.kind {
	case compSync:
		v, err := c.compute(prev)
		if err != nil {
			c.fail(err)
			return
		}
		c.commit(v)

	case compAsync:
		res, err := c.computeAsync(prev)
		if err != nil {
			c.fail(err)
			return
		}
		if res.gate == nil {
			c.commit(res.payload)
			return
		}
		c.adoptGate(res)
		if res.start != nil {
			res.start(c)
		}
	}
}

// adoptGate installs a pending async source: serializes its payload once,
// commits immediately when it is already settled, and (when watched) hooks
// client-mode settlement so the value lands without a read.
func (c *computation) adoptGate(res asyncResult) {
	gate := res.gate
	c.gate = gate
	if res.payload != nil {
		c.serializeOnce(res.payload)
	}

	if v, err, ok := gate.PeekAny(); ok {
		c.gate = nil
		if err != nil {
			c.fail(err)
			return
		}
		c.commit(v)
		return
	}

	if res.watch && c.rt.clientMode {
		gate.OnSettleAny(func(v any, err error) {
			// Hop goroutines: the callback may fire while the settling
			// goroutine already holds the execution slot.
			go func() {
				_ = c.rt.Run(func() error {
					if c.gate != gate {
						return nil // superseded by a rerun
					}
					c.gate = nil
					if err != nil {
						c.fail(err)
					} else {
						c.commit(v)
					}
					c.rt.Flush()
					return nil
				})
			}()
		})
	}
}

// settleGate folds a settled gate into the output cell. Called on reads so
// the pull path observes values without callbacks.
func (c *computation) settleGate() {
	if c.gate == nil {
		return
	}
	v, err, ok := c.gate.PeekAny()
	if !ok {
		return
	}
	c.gate = nil
	if err != nil {
		c.fail(err)
		return
	}
	c.commit(v)
}

func (c *computation) commit(v any) {
	c.hasValue = true
	c.rt.writeBox(c.out, v)
}

// fail records an error result. NotReady stays retryable; anything else is
// sticky until the next rerun. Subscribers are notified either way.
func (c *computation) fail(err error) {
	c.err = err
	if c.rt.clientMode {
		for sub := range c.out.subs {
			c.rt.markDirty(sub)
		}
	}
}

// read is the uniform pull path: re-run when the value is stale or a prior
// suspension has unblocked, settle any pending gate, then report error,
// suspension, or value.
func (c *computation) read() (any, error) {
	if !c.ran || c.stale {
		c.run()
	} else if nr, ok := AsNotReady(c.err); ok && nr.Source.Settled() {
		c.run()
	}
	c.settleGate()

	v := c.rt.readBox(c.out)
	if c.err != nil {
		return nil, c.err
	}
	if c.gate != nil {
		return nil, NotReady(c.gate)
	}
	return v, nil
}

func (c *computation) serializeOnce(v any) {
	if c.serialized || c.side == nil {
		return
	}
	c.serialized = true
	c.side.Serialize(c.owner.id, v, c.deferStream)
}

func (c *computation) recordDep(b *box) {
	if b == c.out {
		return
	}
	if c.depSet == nil {
		c.depSet = make(map[*box]struct{})
	}
	if _, ok := c.depSet[b]; ok {
		return
	}
	c.depSet[b] = struct{}{}
	c.deps = append(c.deps, b)
	if b.subs == nil {
		b.subs = make(map[*computation]struct{})
	}
	b.subs[c] = struct{}{}
}

func (c *computation) clearDeps() {
	for _, b := range c.deps {
		delete(b.subs, c)
	}
	c.deps = nil
	c.depSet = nil
}

// invalidate forces a rerun: immediately when the caller holds the slot in
// server mode, deferred to Flush in client mode.
func (c *computation) invalidate() {
	if c.rt.clientMode {
		c.rt.markDirty(c)
		return
	}
	c.run()
}

// Memo is a computed reactive value with a deterministic owner id.
type Memo[T any] struct {
	rt *Runtime
	c  *computation
}

// NewMemo creates a computed value. The compute receives the previous value
// (zero on the first run) and may read other primitives; suspensions inside
// it propagate to readers and retry once the blocking source settles.
func NewMemo[T any](rt *Runtime, compute func(prev T) (T, error), opts ...PrimitiveOption) *Memo[T] {
	cfg := applyPrimitiveOptions(opts)
	c := newComputation(rt, cfg, compSync)
	c.compute = func(prev any) (any, error) {
		v, err := compute(asValue[T](prev))
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	c.initialRun(cfg)
	return &Memo[T]{rt: rt, c: c}
}

// NewComputedSignal is the function-first signal form; it is a memo.
func NewComputedSignal[T any](rt *Runtime, compute func(prev T) (T, error), opts ...PrimitiveOption) *Memo[T] {
	return NewMemo(rt, compute, opts...)
}

// NewFutureMemo creates a memo over a future-producing compute. The future
// is serialized at creation (pending futures as snapshots that settle on
// the wire); reads return NotReady until settlement, then the resolution.
// A rejected future surfaces its error to readers as-is.
func NewFutureMemo[T any](rt *Runtime, compute func(prev T) (*async.Future[T], error), opts ...PrimitiveOption) *Memo[T] {
	cfg := applyPrimitiveOptions(opts)
	c := newComputation(rt, cfg, compAsync)
	c.computeAsync = func(prev any) (asyncResult, error) {
		fut, err := compute(asValue[T](prev))
		if err != nil {
			return asyncResult{}, err
		}
		if fut == nil {
			return asyncResult{payload: cfg.initial}, nil
		}
		return asyncResult{gate: fut, payload: fut, watch: true}, nil
	}
	c.initialRun(cfg)
	return &Memo[T]{rt: rt, c: c}
}

// NewStreamMemo creates a memo over a stream source.
//
// SourceServer locks the template value to the first yield and serializes
// the full stream live; SourceHybrid serializes only a future of the first
// value and lets the client continue the stream itself. In client mode the
// memo follows the stream: every yield writes through and flushes.
func NewStreamMemo[T any](rt *Runtime, compute func() (*async.Stream[T], error), opts ...PrimitiveOption) *Memo[T] {
	cfg := applyPrimitiveOptions(opts)
	c := newComputation(rt, cfg, compAsync)
	c.computeAsync = func(prev any) (asyncResult, error) {
		s, err := compute()
		if err != nil {
			return asyncResult{}, err
		}
		if s == nil {
			return asyncResult{payload: cfg.initial}, nil
		}
		_ = rt.OnCleanup(s.Stop)

		if rt.clientMode {
			gate := async.NewFuture[any]()
			return asyncResult{
				gate:  gate,
				start: func(c *computation) { followStream(c, s, gate) },
			}, nil
		}

		switch cfg.source {
		case SourceHybrid:
			gate := firstValueGate(s.Next(), s.Stop)
			return asyncResult{gate: gate, payload: gate}, nil
		default:
			if c.side != nil && !c.side.Async() {
				return asyncResult{}, ErrStreamNeedsAsync
			}
			first, tapped := async.Tap(s)
			gate := firstValueGate(first, nil)
			return asyncResult{gate: gate, payload: tapped}, nil
		}
	}
	c.initialRun(cfg)
	return &Memo[T]{rt: rt, c: c}
}

// firstValueGate adapts a first-item future into an erased value future.
// A stream that completes without yielding resolves the gate to nil.
func firstValueGate[T any](first *async.Future[async.Item[T]], after func()) async.AnyFuture {
	gate := async.NewFuture[any]()
	first.OnSettle(func(it async.Item[T], err error) {
		if err != nil {
			gate.Reject(err)
		} else if it.Done {
			gate.Resolve(nil)
		} else {
			gate.Resolve(it.Value)
		}
		if after != nil {
			after()
		}
	})
	return gate
}

// followStream drains a stream into the computation in client mode: the
// first yield resolves the gate, every yield commits and flushes, and the
// next pull is issued only after the previous value committed.
func followStream[T any](c *computation, s *async.Stream[T], gate *async.Future[any]) {
	var pull func()
	step := func(it async.Item[T], err error) {
		_ = c.rt.Run(func() error {
			// The drain owns commits from here on; drop the gate so a later
			// read cannot fold the first value back over a newer one.
			if c.gate == gate {
				c.gate = nil
			}
			switch {
			case err != nil:
				gate.Reject(err)
				c.fail(err)
			case it.Done:
				gate.Resolve(nil)
			default:
				gate.Resolve(any(it.Value))
				c.commit(it.Value)
				c.rt.Flush()
				pull()
			}
			return nil
		})
	}
	pull = func() {
		s.Next().OnSettle(func(it async.Item[T], err error) {
			go step(it, err)
		})
	}
	pull()
}

// Get reads the memo value, running or retrying the compute as needed.
func (m *Memo[T]) Get() (T, error) {
	v, err := m.c.read()
	if err != nil {
		var zero T
		return zero, err
	}
	return asValue[T](v), nil
}

// Latest returns the last committed value, or fallback when none exists
// yet. Useful for rendering stale content while a refresh is pending.
func (m *Memo[T]) Latest(fallback T) T {
	if !m.c.hasValue {
		return fallback
	}
	return asValue[T](m.rt.readBox(m.c.out))
}

// Pending reports whether a read right now would suspend.
func (m *Memo[T]) Pending() bool {
	_, err := m.c.read()
	return IsNotReady(err)
}

// Read is the Accessor-shaped read.
func (m *Memo[T]) Read() (any, error) {
	return m.c.read()
}

// Accessor returns the memo as a uniform read function.
func (m *Memo[T]) Accessor() Accessor {
	return m.Read
}

// ID returns the memo's deterministic owner id.
func (m *Memo[T]) ID() string {
	return m.c.owner.id
}

// Invalidate forces a rerun: queued for the next Flush in client mode,
// immediate otherwise.
func (m *Memo[T]) Invalidate() {
	m.c.invalidate()
}

// FollowStream feeds the memo from a stream that is already flowing:
// every yield commits as the memo's value and flushes dependents, exactly
// like the client branch of NewStreamMemo. Hydration uses it to continue
// a serialized stream into a memo adopted at the first yield. The stream
// stops when the memo's owner is disposed.
func (m *Memo[T]) FollowStream(s *async.Stream[T]) {
	m.c.owner.OnCleanup(s.Stop)
	followStream(m.c, s, async.NewFuture[any]())
}

// Accessor is the uniform read function shared by all primitives: it
// returns the current value, a NotReadyError while an async source is
// pending, or the source's failure.
type Accessor func() (any, error)

// IsPending reads fn and reports whether it suspended.
func IsPending(fn Accessor) bool {
	_, err := fn()
	return IsNotReady(err)
}

// PendingOr reads fn, substituting fallback while the read is suspended.
// Real errors pass through.
func PendingOr(fn Accessor, fallback any) (any, error) {
	v, err := fn()
	if IsNotReady(err) {
		return fallback, nil
	}
	return v, err
}
