package reactive

import "reflect"

// box is the storage cell beneath every readable primitive. Signals own one
// directly; computations expose their output through one so that dependency
// tracking and hydration snapshots treat both uniformly.
type box struct {
	value  any
	equals func(a, b any) bool // nil means defaultEquals
	subs   map[*computation]struct{}
	name   string
}

// defaultEquals compares comparable values with ==, falling back to deep
// equality for maps and slices (store states).
func defaultEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// neverEqual forces notification on every write.
func neverEqual(any, any) bool { return false }

// readBox reads a cell, recording the dependency edge for the current
// observer and consulting the hydration snapshot for the current scope.
// A snapshot binding is recorded on first read and answered until the
// scope is released; live writes land in the box underneath.
func (rt *Runtime) readBox(b *box) any {
	obs := rt.observer
	if obs != nil && rt.clientMode {
		obs.recordDep(b)
	}
	if scope := rt.currentSnapshotScope(); scope != nil {
		if obs != nil {
			rt.bindScopeComp(scope, obs)
		}
		binds := rt.snapshots[scope]
		if binds == nil {
			binds = make(map[*box]any)
			rt.snapshots[scope] = binds
		}
		if v, ok := binds[b]; ok {
			return v
		}
		v := snapshotClone(b.value)
		binds[b] = v
		return v
	}
	return b.value
}

// writeBox updates a cell and, in client mode, queues its subscribers.
// Returns false when the equality check suppressed the write.
func (rt *Runtime) writeBox(b *box, v any) bool {
	eq := b.equals
	if eq == nil {
		eq = defaultEquals
	}
	if eq(b.value, v) {
		return false
	}
	b.value = v
	if rt.clientMode {
		for sub := range b.subs {
			rt.markDirty(sub)
		}
	}
	return true
}

// Signal is a writable reactive value. Signals do not claim owner ids:
// only computations participate in the deterministic id sequence.
type Signal[T any] struct {
	rt *Runtime
	b  *box
}

// NewSignal creates a writable signal holding initial.
func NewSignal[T any](rt *Runtime, initial T, opts ...PrimitiveOption) *Signal[T] {
	cfg := applyPrimitiveOptions(opts)
	return &Signal[T]{
		rt: rt,
		b: &box{
			value:  initial,
			equals: cfg.boxEquals(),
			name:   cfg.name,
		},
	}
}

// Get reads the current value, tracking the read.
func (s *Signal[T]) Get() T {
	return asValue[T](s.rt.readBox(s.b))
}

// Peek reads the live value without tracking and without snapshot
// indirection.
func (s *Signal[T]) Peek() T {
	return asValue[T](s.b.value)
}

// Set writes a new value. Equal writes (under the signal's equality) are
// dropped; in client mode real writes queue dependents for Flush.
func (s *Signal[T]) Set(v T) {
	s.rt.writeBox(s.b, v)
}

// Update applies fn to the live value and writes the result.
func (s *Signal[T]) Update(fn func(T) T) {
	s.Set(fn(s.Peek()))
}

// Read is the Accessor-shaped form of Get; signal reads cannot fail.
func (s *Signal[T]) Read() (any, error) {
	return s.rt.readBox(s.b), nil
}

// Accessor returns the signal as a uniform read function.
func (s *Signal[T]) Accessor() Accessor {
	return s.Read
}

// Untrack runs fn with dependency capture suspended, so reads inside it do
// not subscribe the current computation.
func Untrack[T any](rt *Runtime, fn func() T) T {
	prev := rt.observer
	rt.observer = nil
	defer func() { rt.observer = prev }()
	return fn()
}

// asValue converts an erased cell value back to T, mapping nil to the zero
// value.
func asValue[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}
