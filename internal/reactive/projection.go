package reactive

import (
	"errors"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/patch"
)

// errStoreStopped tells a store generator its consumer went away.
var errStoreStopped = errors.New("reactive: stream store stopped")

// Projection is a derived store: a generate function mutates a draft of the
// current state and the recorded operations update it in place. State
// persists across re-runs, so generate sees its own previous output.
type Projection struct {
	rt    *Runtime
	c     *computation
	state map[string]any
}

// NewProjection creates a projection seeded with a deep clone of initial.
// generate runs eagerly and re-runs like a memo when its dependencies
// change in client mode.
func NewProjection(rt *Runtime, generate func(d *patch.Draft) error, initial map[string]any, opts ...PrimitiveOption) *Projection {
	cfg := applyPrimitiveOptions(opts)
	if cfg.equals == nil {
		// Drafts mutate state in place; value identity cannot signal change.
		cfg.alwaysNotify = true
	}
	p := &Projection{rt: rt, state: patch.CloneMap(initial)}
	c := newComputation(rt, cfg, compSync)
	c.compute = func(any) (any, error) {
		d := patch.NewDraft(p.state)
		if err := generate(d); err != nil {
			return nil, err
		}
		p.state = d.State()
		d.Take()
		return p.state, nil
	}
	p.c = c
	c.initialRun(cfg)
	return p
}

// Get reads the projected state.
func (p *Projection) Get() (map[string]any, error) {
	v, err := p.c.read()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(map[string]any), nil
}

// Read is the Accessor-shaped read.
func (p *Projection) Read() (any, error) { return p.c.read() }

// Accessor returns the projection as a uniform read function.
func (p *Projection) Accessor() Accessor { return p.Read }

// ID returns the projection's deterministic owner id.
func (p *Projection) ID() string { return p.c.owner.id }

// Store is a writable tree of plain data. Mutations go through a draft so
// every change is expressible as a patch batch; dependency granularity is
// whole-store.
type Store struct {
	rt    *Runtime
	b     *box
	state map[string]any
}

// NewStore creates a writable store seeded with a deep clone of initial.
func NewStore(rt *Runtime, initial map[string]any, opts ...PrimitiveOption) *Store {
	cfg := applyPrimitiveOptions(opts)
	state := patch.CloneMap(initial)
	return &Store{
		rt:    rt,
		state: state,
		b: &box{
			value:  state,
			equals: neverEqual,
			name:   cfg.name,
		},
	}
}

// Get reads the store state, tracking the read.
func (st *Store) Get() map[string]any {
	v := st.rt.readBox(st.b)
	if v == nil {
		return nil
	}
	return v.(map[string]any)
}

// Read is the Accessor-shaped read.
func (st *Store) Read() (any, error) { return st.rt.readBox(st.b), nil }

// Update applies mut to a draft of the state. When the draft recorded any
// operations the store notifies its dependents; the batch is returned so
// callers can forward it (optimistic queues, wire recording).
func (st *Store) Update(mut func(d *patch.Draft) error) (patch.Batch, error) {
	d := patch.NewDraft(st.state)
	if err := mut(d); err != nil {
		return nil, err
	}
	st.state = d.State()
	batch := d.Take()
	if len(batch) > 0 {
		st.rt.writeBox(st.b, st.state)
	}
	return batch, nil
}

// StreamStore is a store fed by a generator stream. The server renders the
// first emitted revision and serializes later revisions as patch batches;
// the client replays them over the same starting state.
type StreamStore struct {
	rt *Runtime
	c  *computation
}

// NewStreamStore creates a stream-fed store. generate runs on its own
// goroutine, mutates the draft, and calls emit after each consistent
// revision. The first emit becomes the server-rendered state (a deep
// clone); each later emit travels as the batch of operations recorded
// since the previous one. Empty revisions are skipped.
//
// In client mode the store follows the stream live: the first item seeds
// the state, each batch applies in place, and dependents flush per
// revision.
func NewStreamStore(rt *Runtime, initial map[string]any, generate func(d *patch.Draft, emit func() error) error, opts ...PrimitiveOption) *StreamStore {
	opts = append(opts, WithAlwaysNotify())
	cfg := applyPrimitiveOptions(opts)
	st := &StreamStore{rt: rt}
	c := newComputation(rt, cfg, compAsync)
	c.computeAsync = func(any) (asyncResult, error) {
		if src := cfg.adoptedStream; src != nil {
			cfg.adoptedStream = nil
			_ = rt.OnCleanup(src.Stop)
			gate := async.NewFuture[any]()
			return asyncResult{
				gate:  gate,
				start: func(c *computation) { followStore(c, src, gate) },
			}, nil
		}
		raw := async.Generate(func(yield func(any) bool) error {
			d := patch.NewDraft(patch.CloneMap(initial))
			first := true
			emit := func() error {
				batch := d.Take()
				if first {
					first = false
					if !yield(patch.CloneMap(d.State())) {
						return errStoreStopped
					}
					return nil
				}
				if len(batch) == 0 {
					return nil
				}
				if !yield(batch) {
					return errStoreStopped
				}
				return nil
			}
			err := generate(d, emit)
			if errors.Is(err, errStoreStopped) {
				return nil
			}
			return err
		})
		_ = rt.OnCleanup(raw.Stop)

		if rt.clientMode {
			gate := async.NewFuture[any]()
			return asyncResult{
				gate:  gate,
				start: func(c *computation) { followStore(c, raw, gate) },
			}, nil
		}

		switch cfg.source {
		case SourceHybrid:
			gate := firstValueGate(raw.Next(), raw.Stop)
			return asyncResult{gate: gate, payload: gate}, nil
		default:
			if c.side != nil && !c.side.Async() {
				return asyncResult{}, ErrStreamNeedsAsync
			}
			first, tapped := async.Tap(raw)
			gate := firstValueGate(first, nil)
			return asyncResult{gate: gate, payload: tapped}, nil
		}
	}
	st.c = c
	c.initialRun(cfg)
	return st
}

// followStore drains a store stream in client mode, folding batches into
// the state as they arrive. The state starts from whatever the cell
// already holds, so an adopted store applies batches over its serialized
// snapshot.
func followStore(c *computation, s *async.Stream[any], gate *async.Future[any]) {
	state, _ := c.out.value.(map[string]any)
	var pull func()
	step := func(it async.Item[any], err error) {
		_ = c.rt.Run(func() error {
			// The drain owns commits from here on; drop the gate so a later
			// read cannot fold a superseded value back over the state.
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
				switch v := it.Value.(type) {
				case map[string]any:
					state = v
				case patch.Batch:
					if state != nil {
						if err := patch.Apply(state, v); err != nil {
							gate.Reject(err)
							c.fail(err)
							return nil
						}
					}
				}
				gate.Resolve(any(state))
				c.commit(state)
				c.rt.Flush()
				pull()
			}
			return nil
		})
	}
	pull = func() {
		s.Next().OnSettle(func(it async.Item[any], err error) {
			go step(it, err)
		})
	}
	pull()
}

// Follow feeds the store from a stream that is already flowing. Items are
// full state maps (replacing the state) or patch batches (applied in
// place), as in the client branch of NewStreamStore. Hydration uses it to
// replay serialized revisions into a store adopted at its snapshot. The
// stream stops when the store's owner is disposed.
func (st *StreamStore) Follow(s *async.Stream[any]) {
	st.c.owner.OnCleanup(s.Stop)
	followStore(st.c, s, async.NewFuture[any]())
}

// Get reads the store state, suspending until the first revision.
func (st *StreamStore) Get() (map[string]any, error) {
	v, err := st.c.read()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(map[string]any), nil
}

// Read is the Accessor-shaped read.
func (st *StreamStore) Read() (any, error) { return st.c.read() }

// Accessor returns the store as a uniform read function.
func (st *StreamStore) Accessor() Accessor { return st.Read }

// ID returns the store's deterministic owner id.
func (st *StreamStore) ID() string { return st.c.owner.id }

// Invalidate restarts the generator: queued for the next Flush in client
// mode, immediate otherwise.
func (st *StreamStore) Invalidate() { st.c.invalidate() }

// Optimistic is a value that can be overridden locally while a mutation is
// in flight, reverting to its source when the transaction settles.
type Optimistic[T any] struct {
	rt       *Runtime
	source   func() (T, error)
	override *box // holds optimisticState
}

type optimisticState struct {
	active bool
	value  any
}

// NewOptimistic wraps a committed source with an optimistic override.
func NewOptimistic[T any](rt *Runtime, source func() (T, error), opts ...PrimitiveOption) *Optimistic[T] {
	cfg := applyPrimitiveOptions(opts)
	return &Optimistic[T]{
		rt:     rt,
		source: source,
		override: &box{
			value:  optimisticState{},
			equals: neverEqual,
			name:   cfg.name,
		},
	}
}

// Get returns the override while one is active, the source otherwise.
func (o *Optimistic[T]) Get() (T, error) {
	st := o.rt.readBox(o.override).(optimisticState)
	if st.active {
		return asValue[T](st.value), nil
	}
	return o.source()
}

// Set installs an optimistic override and notifies dependents.
func (o *Optimistic[T]) Set(v T) {
	o.rt.writeBox(o.override, optimisticState{active: true, value: v})
}

// Settle drops the override; reads fall back to the committed source.
func (o *Optimistic[T]) Settle() {
	st := o.override.value.(optimisticState)
	if !st.active {
		return
	}
	o.rt.writeBox(o.override, optimisticState{})
}

// Read is the Accessor-shaped read.
func (o *Optimistic[T]) Read() (any, error) {
	v, err := o.Get()
	if err != nil {
		return nil, err
	}
	return v, nil
}

// OptimisticStore pairs a Store with an optimistic overlay: optimistic
// updates mutate a scratch clone that reads prefer until settled.
type OptimisticStore struct {
	rt      *Runtime
	base    *Store
	overlay *box // map[string]any or nil
}

// NewOptimisticStore wraps base with an optimistic overlay.
func NewOptimisticStore(rt *Runtime, base *Store, opts ...PrimitiveOption) *OptimisticStore {
	cfg := applyPrimitiveOptions(opts)
	return &OptimisticStore{
		rt:   rt,
		base: base,
		overlay: &box{
			equals: neverEqual,
			name:   cfg.name,
		},
	}
}

// Get returns the overlay state while one is active, the base state
// otherwise.
func (o *OptimisticStore) Get() map[string]any {
	if v := o.rt.readBox(o.overlay); v != nil {
		return v.(map[string]any)
	}
	return o.base.Get()
}

// Update applies mut optimistically: the first optimistic update clones the
// base state, later ones build on the overlay.
func (o *OptimisticStore) Update(mut func(d *patch.Draft) error) (patch.Batch, error) {
	state, _ := o.overlay.value.(map[string]any)
	if state == nil {
		state = patch.CloneMap(o.base.Get())
	}
	d := patch.NewDraft(state)
	if err := mut(d); err != nil {
		return nil, err
	}
	batch := d.Take()
	o.rt.writeBox(o.overlay, d.State())
	return batch, nil
}

// Settle drops the overlay; reads fall back to the base store.
func (o *OptimisticStore) Settle() {
	if o.overlay.value == nil {
		return
	}
	o.rt.writeBox(o.overlay, nil)
}
