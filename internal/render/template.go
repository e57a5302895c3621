package render

import (
	"fmt"
	"strings"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
)

// Template is partially rendered HTML. T holds the static runs, H the
// accessors for the holes between them, and P the futures gating those
// holes. len(T) == len(H)+1 always; a finished template has no holes and
// its HTML is T[0].
//
// H[i] sits between T[i] and T[i+1]. P[i] is the future whose settlement
// makes H[i] worth re-invoking.
type Template struct {
	T []string
	H []reactive.Accessor
	P []async.AnyFuture
}

// Raw is HTML that is already escaped (or trusted markup). Resolve passes
// it through verbatim where a plain string would be escaped.
type Raw string

// Finished reports whether the template has no holes left.
func (t *Template) Finished() bool { return len(t.H) == 0 }

// HTML returns the finished markup. It fails if holes remain.
func (t *Template) HTML() (string, error) {
	if !t.Finished() {
		return "", fmt.Errorf("render: template has %d unresolved holes", len(t.H))
	}
	return t.T[0], nil
}

// UnrenderableError reports a value Resolve has no rendering for.
type UnrenderableError struct {
	Value any
}

func (e *UnrenderableError) Error() string {
	return fmt.Sprintf("render: cannot render value of type %T", e.Value)
}

// builder accumulates template parts during resolution. Static text is
// appended to the current run; each hole closes the run and records the
// accessor plus its gating future.
type builder struct {
	parts []string
	cur   strings.Builder
	h     []reactive.Accessor
	p     []async.AnyFuture
}

func (b *builder) text(s string) {
	b.cur.WriteString(s)
}

func (b *builder) hole(fn reactive.Accessor, src async.AnyFuture) {
	b.parts = append(b.parts, b.cur.String())
	b.cur.Reset()
	b.h = append(b.h, fn)
	b.p = append(b.p, src)
}

func (b *builder) template() *Template {
	return &Template{
		T: append(b.parts, b.cur.String()),
		H: b.h,
		P: b.p,
	}
}

// resolveInto renders v into b. Dynamic strings are escaped; Raw and
// template statics pass through. Accessors are invoked: a NotReady result
// becomes a hole, a real error aborts resolution and propagates to the
// enclosing boundary.
func resolveInto(b *builder, v any) error {
	switch t := v.(type) {
	case nil:
		return nil
	case *Template:
		b.text(t.T[0])
		for i, h := range t.H {
			b.hole(h, t.P[i])
			b.text(t.T[i+1])
		}
		return nil
	case Raw:
		b.text(string(t))
		return nil
	case string:
		b.text(Escape(t, false))
		return nil
	case reactive.Accessor:
		return resolveHole(b, t)
	case func() (any, error):
		return resolveHole(b, t)
	case []any:
		for _, item := range t {
			if err := resolveInto(b, item); err != nil {
				return err
			}
		}
		return nil
	default:
		if s, ok := stringify(v); ok {
			b.text(Escape(s, false))
			return nil
		}
		return &UnrenderableError{Value: v}
	}
}

func resolveHole(b *builder, fn reactive.Accessor) error {
	v, err := fn()
	if err != nil {
		if nr, ok := reactive.AsNotReady(err); ok {
			b.hole(fn, nr.Source)
			return nil
		}
		return err
	}
	return resolveInto(b, v)
}
