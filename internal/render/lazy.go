package render

import (
	"fmt"
	"sync"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
)

// ModuleAssets is the asset bundle behind one lazy module: the entry
// script plus any stylesheets the client should preload before the
// module's markup lands.
type ModuleAssets struct {
	Entry string
	CSS   []string
}

// ModuleResolver maps a module name to its assets. The manifest package
// provides the production implementation.
type ModuleResolver interface {
	Resolve(name string) (ModuleAssets, bool)
}

// Lazy wraps a component behind an asynchronous module load. The load
// starts on first render and is shared by every subsequent render.
//
// Under streaming the pending load suspends like any async read, so an
// enclosing Loading boundary streams its fallback and re-runs once the
// module arrives. Under sync rendering the load is registered as a block:
// the pass finishes, awaits the module, and re-renders.
func Lazy(name string, load func() *async.Future[Component]) Component {
	var (
		mu  sync.Mutex
		fut *async.Future[Component]
	)
	start := func() *async.Future[Component] {
		mu.Lock()
		defer mu.Unlock()
		if fut == nil {
			fut = load()
		}
		return fut
	}

	return func(rt *reactive.Runtime, ctx *Context) (any, error) {
		f := start()
		ctx.RegisterModule(name)
		if comp, err, ok := f.Peek(); ok {
			if err != nil {
				return nil, fmt.Errorf("render: load module %s: %w", name, err)
			}
			return comp(rt, ctx)
		}
		if ctx.Async() {
			return nil, reactive.NotReady(f)
		}
		ctx.Block(f)
		return nil, nil
	}
}
