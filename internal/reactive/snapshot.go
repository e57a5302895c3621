package reactive

import "github.com/roach88/limn/internal/patch"

// Hydration snapshot scopes.
//
// While a snapshot scope is active, the first read of any cell under it
// records a binding (cell, value-at-first-read); later reads under the same
// scope answer from the binding no matter what has been written underneath.
// Releasing the scope drops the bindings and re-runs the computations whose
// recorded values have drifted from the live cells, so writes issued during
// hydration take effect exactly once, afterwards.
//
// Scopes nest per boundary: the top-level hydration walk marks the root
// owner, and each Loading boundary that hydrates late marks its own owner,
// releasing it when its fragment completes.

// SetSnapshotCapture toggles snapshot capture globally. Hydration turns it
// on for the duration of the walk.
func (rt *Runtime) SetSnapshotCapture(on bool) {
	rt.snapshotCapture = on
}

// SnapshotCapture reports whether capture is active.
func (rt *Runtime) SnapshotCapture() bool {
	return rt.snapshotCapture
}

// MarkSnapshotScope makes o a snapshot scope root. Reads under o bind to it
// while capture is active.
func (rt *Runtime) MarkSnapshotScope(o *Owner) {
	o.snapshotScope = true
	if rt.snapshots[o] == nil {
		rt.snapshots[o] = make(map[*box]any)
	}
}

// ReleaseSnapshotScope drops o's bindings and queues re-runs for the
// computations whose snapshot values no longer match the live cells.
// Call Flush afterwards to run them.
func (rt *Runtime) ReleaseSnapshotScope(o *Owner) {
	binds := rt.snapshots[o]
	comps := rt.scopeComps[o]
	flips := rt.flips[o]
	delete(rt.snapshots, o)
	delete(rt.scopeComps, o)
	delete(rt.flips, o)
	o.snapshotScope = false

	for _, c := range comps {
		if c.owner.state == ownerDisposed {
			continue
		}
		for _, b := range c.deps {
			if snap, ok := binds[b]; ok && !defaultEquals(snap, b.value) {
				rt.markDirty(c)
				break
			}
		}
	}

	// Client-sourced nodes recompute unconditionally: their installed value
	// was a placeholder, not a server result.
	for _, c := range flips {
		if c.owner.state != ownerDisposed {
			rt.markDirty(c)
		}
	}
}

// ClearSnapshots drops every binding without triggering re-runs.
func (rt *Runtime) ClearSnapshots() {
	for o := range rt.snapshots {
		o.snapshotScope = false
	}
	rt.snapshots = make(map[*Owner]map[*box]any)
	rt.scopeComps = nil
	rt.flips = nil
}

// currentSnapshotScope finds the nearest marked ancestor of the current
// owner, or nil when capture is off.
func (rt *Runtime) currentSnapshotScope() *Owner {
	if !rt.snapshotCapture {
		return nil
	}
	for o := rt.owner; o != nil; o = o.parent {
		if o.snapshotScope {
			return o
		}
	}
	return nil
}

// bindScopeComp remembers that c read under scope, for drift detection on
// release.
func (rt *Runtime) bindScopeComp(scope *Owner, c *computation) {
	if rt.scopeComps == nil {
		rt.scopeComps = make(map[*Owner][]*computation)
	}
	for _, existing := range rt.scopeComps[scope] {
		if existing == c {
			return
		}
	}
	rt.scopeComps[scope] = append(rt.scopeComps[scope], c)
}

// snapshotClone isolates mutable values captured into a snapshot binding.
// Store states are maps mutated in place; binding the live reference would
// let later writes leak through the snapshot.
func snapshotClone(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return patch.Clone(v)
	default:
		return v
	}
}
