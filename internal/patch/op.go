package patch

import (
	"encoding/json"
	"fmt"
	"math"
)

// OpKind distinguishes the three mutation kinds.
type OpKind int

const (
	// OpSet writes a value at the path (object key set, array element
	// set, or array "length" resize).
	OpSet OpKind = iota
	// OpDelete removes the entry at the path. Array deletes shift
	// subsequent elements down.
	OpDelete
	// OpInsert inserts an array element at the path's final index,
	// shifting subsequent elements up.
	OpInsert
)

// Path addresses a location in JSON-shaped state: string segments are
// object keys, int segments are array indices. The synthetic final
// segment "length" addresses an array's length.
type Path []any

// String renders the path for diagnostics, e.g. "items.2.name".
func (p Path) String() string {
	out := ""
	for i, seg := range p {
		if i > 0 {
			out += "."
		}
		out += fmt.Sprint(seg)
	}
	return out
}

// clonePath copies the path so a recorded op is immune to caller reuse
// of the backing slice.
func clonePath(p Path) Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Op is a single mutation.
//
// Wire form is a compact tuple keyed by arity:
//
//	[path]            delete
//	[path, value]     set
//	[path, value, 1]  insert
type Op struct {
	Path  Path
	Value any
	Kind  OpKind
}

// Batch is an ordered sequence of ops. Application order matters: array
// indices are interpreted against the state as already mutated by the
// preceding ops in the batch.
type Batch []Op

// MarshalJSON encodes the op in its tuple form.
func (o Op) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OpDelete:
		return json.Marshal([]any{o.Path})
	case OpSet:
		return json.Marshal([]any{o.Path, o.Value})
	case OpInsert:
		return json.Marshal([]any{o.Path, o.Value, 1})
	default:
		return nil, fmt.Errorf("patch: unknown op kind %d", o.Kind)
	}
}

// UnmarshalJSON decodes the tuple form. Numeric path segments arrive as
// JSON numbers and are normalized to int.
func (o *Op) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("patch: op is not a tuple: %w", err)
	}
	if len(tuple) < 1 || len(tuple) > 3 {
		return fmt.Errorf("patch: op tuple has %d elements, want 1-3", len(tuple))
	}

	var rawPath []any
	if err := json.Unmarshal(tuple[0], &rawPath); err != nil {
		return fmt.Errorf("patch: op path: %w", err)
	}
	path, err := normalizePath(rawPath)
	if err != nil {
		return err
	}
	o.Path = path

	switch len(tuple) {
	case 1:
		o.Kind = OpDelete
		o.Value = nil
	case 2:
		o.Kind = OpSet
		if err := json.Unmarshal(tuple[1], &o.Value); err != nil {
			return fmt.Errorf("patch: op value: %w", err)
		}
	case 3:
		var marker float64
		if err := json.Unmarshal(tuple[2], &marker); err != nil || marker != 1 {
			return fmt.Errorf("patch: op insert marker must be 1")
		}
		o.Kind = OpInsert
		if err := json.Unmarshal(tuple[1], &o.Value); err != nil {
			return fmt.Errorf("patch: op value: %w", err)
		}
	}
	return nil
}

// normalizePath converts decoded JSON path segments to their canonical
// in-memory types: float64 indices become int, strings pass through.
func normalizePath(raw []any) (Path, error) {
	path := make(Path, len(raw))
	for i, seg := range raw {
		switch s := seg.(type) {
		case string:
			path[i] = s
		case float64:
			if s != math.Trunc(s) || s < 0 {
				return nil, fmt.Errorf("patch: path index %v is not a non-negative integer", s)
			}
			path[i] = int(s)
		case int:
			path[i] = s
		default:
			return nil, fmt.Errorf("patch: path segment %T is neither key nor index", seg)
		}
	}
	return path, nil
}

// Clone deep-copies a JSON-shaped value. Maps and slices are copied
// recursively; scalars are shared (they are immutable).
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies an object root. A nil input yields an empty map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}
