package patch

import (
	"fmt"
)

// Draft wraps an object root, applying mutations immediately while
// recording them as ops. Reads through the draft observe prior mutations.
// Take drains the recorded batch, typically once per replication window.
//
// Thread-safety: none. A draft belongs to a single writer at a time (a
// projection generator between yields, or a store update running on the
// runtime's execution slot).
type Draft struct {
	root map[string]any
	ops  Batch
}

// NewDraft wraps root. The draft takes ownership: callers that need the
// pre-mutation state must clone first. A nil root becomes an empty object.
func NewDraft(root map[string]any) *Draft {
	if root == nil {
		root = map[string]any{}
	}
	return &Draft{root: root}
}

// State returns the live (mutated) root.
func (d *Draft) State() map[string]any {
	return d.root
}

// Len returns the number of recorded ops not yet drained.
func (d *Draft) Len() int {
	return len(d.ops)
}

// Take drains and returns the recorded ops.
func (d *Draft) Take() Batch {
	ops := d.ops
	d.ops = nil
	return ops
}

func (d *Draft) record(op Op) error {
	if err := applyOp(d.root, op); err != nil {
		return err
	}
	op.Path = clonePath(op.Path)
	d.ops = append(d.ops, op)
	return nil
}

// Get reads the value at path. The synthetic final segment "length"
// reads an array's length.
func (d *Draft) Get(path Path) (any, bool) {
	var node any = d.root
	for _, seg := range path {
		switch n := node.(type) {
		case map[string]any:
			key, ok := seg.(string)
			if !ok {
				return nil, false
			}
			node, ok = n[key]
			if !ok {
				return nil, false
			}
		case []any:
			if key, ok := seg.(string); ok {
				if key != "length" {
					return nil, false
				}
				node = len(n)
				continue
			}
			idx, ok := seg.(int)
			if !ok || idx < 0 || idx >= len(n) {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	return node, true
}

// Set writes v at path.
func (d *Draft) Set(path Path, v any) error {
	return d.record(Op{Path: path, Value: v, Kind: OpSet})
}

// Delete removes the entry at path. On arrays this shifts later elements
// down.
func (d *Draft) Delete(path Path) error {
	return d.record(Op{Path: path, Kind: OpDelete})
}

// Insert inserts v at index idx of the array at path, shifting later
// elements up.
func (d *Draft) Insert(path Path, idx int, v any) error {
	return d.record(Op{Path: append(clonePath(path), idx), Value: v, Kind: OpInsert})
}

func (d *Draft) arrayAt(path Path) ([]any, error) {
	v, ok := d.Get(path)
	if !ok {
		return nil, fmt.Errorf("patch: no array at %s", path)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("patch: %s is %T, not an array", path, v)
	}
	return arr, nil
}

// Push appends vs to the array at path. Each element is recorded as a
// set at its new index, followed by a single set of "length".
func (d *Draft) Push(path Path, vs ...any) error {
	arr, err := d.arrayAt(path)
	if err != nil {
		return err
	}
	n := len(arr)
	for i, v := range vs {
		if err := d.Set(append(clonePath(path), n+i), v); err != nil {
			return err
		}
	}
	return d.Set(append(clonePath(path), "length"), n+len(vs))
}

// Pop removes and returns the last element of the array at path,
// recorded as a delete of the last index plus a set of "length".
// Popping an empty array returns nil and records nothing.
func (d *Draft) Pop(path Path) (any, error) {
	arr, err := d.arrayAt(path)
	if err != nil {
		return nil, err
	}
	n := len(arr)
	if n == 0 {
		return nil, nil
	}
	v := arr[n-1]
	if err := d.Delete(append(clonePath(path), n-1)); err != nil {
		return nil, err
	}
	if err := d.Set(append(clonePath(path), "length"), n-1); err != nil {
		return nil, err
	}
	return v, nil
}

// Shift removes and returns the first element of the array at path,
// recorded as a delete at index 0. Shifting an empty array returns nil
// and records nothing.
func (d *Draft) Shift(path Path) (any, error) {
	arr, err := d.arrayAt(path)
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, nil
	}
	v := arr[0]
	if err := d.Delete(append(clonePath(path), 0)); err != nil {
		return nil, err
	}
	return v, nil
}

// Unshift prepends vs to the array at path, recorded as inserts at
// ascending indices 0..len(vs)-1 so the final order matches vs.
func (d *Draft) Unshift(path Path, vs ...any) error {
	if _, err := d.arrayAt(path); err != nil {
		return err
	}
	for i, v := range vs {
		if err := d.Insert(path, i, v); err != nil {
			return err
		}
	}
	return nil
}

// Splice removes deleteCount elements of the array at path starting at
// start, then inserts items there. Recorded as deleteCount deletes at the
// same absolute index (each delete shifts the rest down) followed by
// inserts at ascending indices. Negative start counts from the end;
// out-of-range values clamp.
func (d *Draft) Splice(path Path, start, deleteCount int, items ...any) error {
	arr, err := d.arrayAt(path)
	if err != nil {
		return err
	}
	n := len(arr)
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if start > n {
		start = n
	}
	if deleteCount > n-start {
		deleteCount = n - start
	}
	for i := 0; i < deleteCount; i++ {
		if err := d.Delete(append(clonePath(path), start)); err != nil {
			return err
		}
	}
	for i, v := range items {
		if err := d.Insert(path, start+i, v); err != nil {
			return err
		}
	}
	return nil
}
