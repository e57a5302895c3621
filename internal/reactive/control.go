package reactive

// Control-flow helpers. Each one is a memo, so it claims a deterministic
// owner id and its children re-render under stable ids. Granularity is
// coarse: a change to the driving value rebuilds the whole branch. Keyed
// reconciliation is a client rendering concern and lives above this layer.

// Show renders children while when() is true, fallback (or nil) otherwise.
func Show(rt *Runtime, when func() (bool, error), children func() (any, error), fallback func() (any, error)) Accessor {
	m := NewMemo(rt, func(prev any) (any, error) {
		ok, err := when()
		if err != nil {
			return nil, err
		}
		if ok {
			return children()
		}
		if fallback == nil {
			return nil, nil
		}
		return fallback()
	})
	return m.Read
}

// MapArray maps source items through mapFn, each item under its own owner
// so ids inside item bodies stay stable.
func MapArray[T any](rt *Runtime, source func() ([]T, error), mapFn func(rt *Runtime, item T, index int) (any, error)) Accessor {
	m := NewMemo(rt, func(prev any) (any, error) {
		items, err := source()
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			scope := rt.CreateOwner()
			v, err := RunWithOwnerValue(rt, scope, func() (any, error) {
				return mapFn(rt, item, i)
			})
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
	return m.Read
}

// For is MapArray with an empty-list fallback.
func For[T any](rt *Runtime, source func() ([]T, error), mapFn func(rt *Runtime, item T, index int) (any, error), fallback func() (any, error)) Accessor {
	inner := MapArray(rt, source, mapFn)
	return func() (any, error) {
		v, err := inner()
		if err != nil {
			return nil, err
		}
		if items, ok := v.([]any); ok && len(items) == 0 && fallback != nil {
			return fallback()
		}
		return v, nil
	}
}

// Repeat renders mapFn count() times, each iteration under its own owner.
func Repeat(rt *Runtime, count func() (int, error), mapFn func(rt *Runtime, index int) (any, error)) Accessor {
	m := NewMemo(rt, func(prev any) (any, error) {
		n, err := count()
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			scope := rt.CreateOwner()
			v, err := RunWithOwnerValue(rt, scope, func() (any, error) {
				return mapFn(rt, i)
			})
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
	return m.Read
}

// Match is one arm of a Switch.
type Match struct {
	When     func() (bool, error)
	Children func() (any, error)
}

// Switch renders the first arm whose condition holds, the fallback when
// none does.
func Switch(rt *Runtime, fallback func() (any, error), matches ...Match) Accessor {
	m := NewMemo(rt, func(prev any) (any, error) {
		for _, arm := range matches {
			ok, err := arm.When()
			if err != nil {
				return nil, err
			}
			if ok {
				return arm.Children()
			}
		}
		if fallback == nil {
			return nil, nil
		}
		return fallback()
	})
	return m.Read
}
