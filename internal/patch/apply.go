package patch

import (
	"errors"
	"fmt"
	"math"
)

// Apply applies batch to root in order, mutating root in place.
//
// Ops are interpreted left to right against the already-mutated state, so
// array indices mean what they meant at recording time: a delete shifts
// later elements down before the next op runs, an insert shifts them up.
func Apply(root map[string]any, batch Batch) error {
	for i, op := range batch {
		if err := applyOp(root, op); err != nil {
			return fmt.Errorf("patch: op %d at %s: %w", i, op.Path, err)
		}
	}
	return nil
}

func applyOp(root map[string]any, op Op) error {
	if len(op.Path) == 0 {
		return errors.New("empty path")
	}
	_, err := applyIn(root, op.Path, op)
	return err
}

// applyIn descends to the op's leaf and applies it, returning the
// (possibly replaced) node. Slices change length under mutation, so each
// level writes the returned child back into its parent.
func applyIn(node any, path Path, op Op) (any, error) {
	if len(path) == 1 {
		return applyLeaf(node, path[0], op)
	}

	head, rest := path[0], path[1:]
	switch n := node.(type) {
	case map[string]any:
		key, ok := head.(string)
		if !ok {
			return nil, fmt.Errorf("segment %v is not an object key", head)
		}
		child, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("missing key %q", key)
		}
		updated, err := applyIn(child, rest, op)
		if err != nil {
			return nil, err
		}
		n[key] = updated
		return n, nil

	case []any:
		idx, ok := head.(int)
		if !ok {
			return nil, fmt.Errorf("segment %v is not an array index", head)
		}
		if idx < 0 || idx >= len(n) {
			return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(n))
		}
		updated, err := applyIn(n[idx], rest, op)
		if err != nil {
			return nil, err
		}
		n[idx] = updated
		return n, nil

	default:
		return nil, fmt.Errorf("cannot descend into %T", node)
	}
}

func applyLeaf(node any, seg any, op Op) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		key, ok := seg.(string)
		if !ok {
			return nil, fmt.Errorf("segment %v is not an object key", seg)
		}
		switch op.Kind {
		case OpSet:
			n[key] = op.Value
		case OpDelete:
			delete(n, key)
		case OpInsert:
			return nil, errors.New("insert targets an array")
		}
		return n, nil

	case []any:
		if key, ok := seg.(string); ok {
			if key != "length" {
				return nil, fmt.Errorf("array segment %q is not an index", key)
			}
			if op.Kind != OpSet {
				return nil, errors.New(`only set applies to "length"`)
			}
			return resize(n, op.Value)
		}
		idx, ok := seg.(int)
		if !ok {
			return nil, fmt.Errorf("segment %v is not an array index", seg)
		}
		if idx < 0 {
			return nil, fmt.Errorf("negative index %d", idx)
		}
		switch op.Kind {
		case OpSet:
			if idx < len(n) {
				n[idx] = op.Value
				return n, nil
			}
			// Writing past the end pads the gap with nils.
			for len(n) < idx {
				n = append(n, nil)
			}
			return append(n, op.Value), nil

		case OpDelete:
			if idx >= len(n) {
				return n, nil
			}
			copy(n[idx:], n[idx+1:])
			// Nil out the vacated slot so the backing array does not
			// retain the shifted-out element.
			n[len(n)-1] = nil
			return n[:len(n)-1], nil

		case OpInsert:
			if idx > len(n) {
				idx = len(n)
			}
			n = append(n, nil)
			copy(n[idx+1:], n[idx:])
			n[idx] = op.Value
			return n, nil
		}
		return n, nil

	default:
		return nil, fmt.Errorf("cannot mutate %T", node)
	}
}

// resize truncates or nil-extends a slice to the requested length.
func resize(n []any, v any) ([]any, error) {
	ln, err := asLength(v)
	if err != nil {
		return nil, err
	}
	if ln <= len(n) {
		for i := ln; i < len(n); i++ {
			n[i] = nil
		}
		return n[:ln], nil
	}
	for len(n) < ln {
		n = append(n, nil)
	}
	return n, nil
}

func asLength(v any) (int, error) {
	switch t := v.(type) {
	case int:
		if t < 0 {
			return 0, fmt.Errorf("negative length %d", t)
		}
		return t, nil
	case float64:
		if t != math.Trunc(t) || t < 0 {
			return 0, fmt.Errorf("length %v is not a non-negative integer", t)
		}
		return int(t), nil
	default:
		return 0, fmt.Errorf("length value %T is not an integer", v)
	}
}
