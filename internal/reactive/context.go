package reactive

// contextID is the identity token behind a Context. Pointer identity keys
// lookups, so two contexts with the same name stay distinct.
type contextID struct {
	name string
}

// Context is a typed key for values propagated down the owner tree.
type Context[T any] struct {
	id         *contextID
	def        T
	hasDefault bool
}

// NewContext creates a context key with no default; UseContext fails with
// ContextNotFoundError when no ancestor provides a value.
func NewContext[T any](name string) *Context[T] {
	return &Context[T]{id: &contextID{name: name}}
}

// NewContextWithDefault creates a context key whose lookups fall back to
// def.
func NewContextWithDefault[T any](name string, def T) *Context[T] {
	return &Context[T]{id: &contextID{name: name}, def: def, hasDefault: true}
}

// Name returns the context's debug name.
func (c *Context[T]) Name() string { return c.id.name }

// SetContext provides v under the current owner; descendants see it until
// a closer provider shadows it.
func SetContext[T any](rt *Runtime, c *Context[T], v T) error {
	if rt.owner == nil {
		return &NoOwnerError{Op: "SetContext"}
	}
	rt.owner.setContext(c.id, v)
	return nil
}

// UseContext resolves c from the current owner chain.
func UseContext[T any](rt *Runtime, c *Context[T]) (T, error) {
	if rt.owner != nil {
		if v, ok := rt.owner.lookupContext(c.id); ok {
			return v.(T), nil
		}
	}
	if c.hasDefault {
		return c.def, nil
	}
	var zero T
	return zero, &ContextNotFoundError{Name: c.id.name}
}
