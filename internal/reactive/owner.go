package reactive

import "strconv"

// ownerState tracks an owner's lifecycle.
type ownerState int

const (
	ownerAlive ownerState = iota
	ownerDisposed
)

// Owner is a node in the ownership tree. Every computation runs under an
// owner; child owners receive deterministic ids derived from their parent's
// id plus the index at which they were created. Because both server and
// client execute components in the same order, the k-th child created under
// an owner carries the same id on both sides, which is what lets serialized
// state find its computation again during hydration.
//
// Owners also carry cleanup callbacks (run LIFO on dispose) and context
// values (looked up by walking toward the root).
type Owner struct {
	rt     *Runtime
	id     string
	parent *Owner

	children   []*Owner
	childCount int
	cleanups   []func()
	contexts   map[*contextID]any

	// teardown runs on full disposal only, never on keep-alive resets.
	// Computations hang their dependency unsubscription here so re-runs
	// and scan passes keep their edges while dead nodes release them.
	teardown func()

	state ownerState

	// snapshotScope marks this owner as a hydration snapshot scope root.
	snapshotScope bool
}

// ID returns the owner's deterministic id.
func (o *Owner) ID() string { return o.id }

// Parent returns the owning node, or nil for the root.
func (o *Owner) Parent() *Owner { return o.parent }

// Disposed reports whether the owner has been disposed.
func (o *Owner) Disposed() bool { return o.state == ownerDisposed }

// nextChildID allocates the next child id under o.
func (o *Owner) nextChildID() string {
	id := o.id + strconv.Itoa(o.childCount)
	o.childCount++
	return id
}

// peekChildID returns the id the next child would receive without
// allocating it.
func (o *Owner) peekChildID() string {
	return o.id + strconv.Itoa(o.childCount)
}

// newChild creates a child owner with the next deterministic id.
func (o *Owner) newChild() *Owner {
	child := &Owner{
		rt:     o.rt,
		id:     o.nextChildID(),
		parent: o,
	}
	o.children = append(o.children, child)
	return child
}

// OnCleanup registers fn to run when the owner is disposed. Callbacks run
// in reverse registration order.
func (o *Owner) OnCleanup(fn func()) {
	if o.state == ownerDisposed {
		// Late registration on a dead owner runs immediately so resources
		// are never leaked.
		fn()
		return
	}
	o.cleanups = append(o.cleanups, fn)
}

// Dispose tears down the owner's subtree: children are disposed fully,
// cleanups run LIFO, and the child counter resets so that a re-executed
// scope regenerates identical child ids.
//
// With keepAlive the owner itself stays attached to its parent and usable;
// only its subtree is reset. Without it the owner detaches and further use
// is invalid. Dispose is idempotent.
func (o *Owner) Dispose(keepAlive bool) {
	if o.state == ownerDisposed {
		return
	}

	// Children first, depth-first, so nested cleanups observe live parents.
	for i := len(o.children) - 1; i >= 0; i-- {
		o.children[i].Dispose(false)
	}
	o.children = nil

	for i := len(o.cleanups) - 1; i >= 0; i-- {
		o.cleanups[i]()
	}
	o.cleanups = nil

	// Reset unconditionally: a kept-alive owner that re-runs its scope must
	// hand out the same ids again.
	o.childCount = 0

	if keepAlive {
		return
	}

	o.state = ownerDisposed
	if o.teardown != nil {
		o.teardown()
		o.teardown = nil
	}
	o.contexts = nil
	if o.parent != nil {
		o.parent.detach(o)
	}
	if o.rt != nil {
		o.rt.dropOwner(o)
	}
}

func (o *Owner) detach(child *Owner) {
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}

// setContext stores a context value on this owner.
func (o *Owner) setContext(key *contextID, v any) {
	if o.contexts == nil {
		o.contexts = make(map[*contextID]any)
	}
	o.contexts[key] = v
}

// lookupContext walks toward the root looking for key.
func (o *Owner) lookupContext(key *contextID) (any, bool) {
	for cur := o; cur != nil; cur = cur.parent {
		if cur.contexts != nil {
			if v, ok := cur.contexts[key]; ok {
				return v, true
			}
		}
	}
	return nil, false
}
