package render

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

// Context is the per-render state shared by every component in one pass:
// the serialization channel, the current boundary, module registration
// for asset preloading, and the fragment registry.
//
// It implements reactive.SideChannel, so primitives created during the
// pass serialize through it. All mutation happens while holding the
// runtime's execution slot; the only concurrent entry points are the
// first-error latch and the fragment registry, which carry their own
// locks.
type Context struct {
	rt   *reactive.Runtime
	log  *slog.Logger
	enc  *wire.Encoder
	sink ChunkSink

	async     bool
	noHydrate bool
	token     string

	resolver ModuleResolver

	// serialize is rebound by Loading boundaries to a per-attempt buffer;
	// the steady state writes straight to the encoder.
	serialize func(id string, v any, deferStream bool)
	boundary  string
	modules   map[string][]string

	blocks    []async.AnyFuture
	fragments *fragmentRegistry

	errMu    sync.Mutex
	firstErr error
}

func newContext(rt *reactive.Runtime, sink ChunkSink, enc *wire.Encoder, isAsync bool, cfg *config) *Context {
	c := &Context{
		rt:        rt,
		log:       cfg.log,
		enc:       enc,
		sink:      sink,
		async:     isAsync,
		noHydrate: cfg.noHydrate,
		token:     cfg.token,
		resolver:  cfg.resolver,
		modules:   make(map[string][]string),
		fragments: newFragmentRegistry(cfg.log, sink),
	}
	c.serialize = c.encodeNow
	return c
}

// Runtime returns the reactive runtime driving this pass.
func (c *Context) Runtime() *reactive.Runtime { return c.rt }

// Token returns the render token tagging this pass.
func (c *Context) Token() string { return c.token }

// Serialize implements reactive.SideChannel. It routes through the
// current serializer, which a Loading boundary may have rebound to a
// per-attempt buffer.
func (c *Context) Serialize(id string, v any, deferStream bool) {
	if c.noHydrate {
		return
	}
	c.serialize(id, v, deferStream)
}

// Async implements reactive.SideChannel: it reports whether out-of-order
// delivery (streaming) is available.
func (c *Context) Async() bool { return c.async }

// NoHydrate reports whether serialization is suppressed for this pass.
func (c *Context) NoHydrate() bool { return c.noHydrate }

// CurrentBoundaryID returns the id of the innermost Loading boundary, or
// "" at the root.
func (c *Context) CurrentBoundaryID() string { return c.boundary }

func (c *Context) encodeNow(id string, v any, deferStream bool) {
	if err := c.enc.Serialize(id, v, deferStream); err != nil {
		c.log.Error("serialize", "id", id, "error", err)
		c.fail(fmt.Errorf("serialize %s: %w", id, err))
	}
}

// fail latches the first render error observed outside the normal return
// path (encoder failures from settle callbacks, sink write errors).
func (c *Context) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.firstErr == nil {
		c.firstErr = err
	}
}

// Err returns the first latched render error, if any.
func (c *Context) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.firstErr
}

// bufferedWrite is one deferred Serialize call.
type bufferedWrite struct {
	id          string
	v           any
	deferStream bool
}

type serializeBuffer struct {
	writes []bufferedWrite
}

// pushBuffer rebinds the serializer to a fresh buffer and returns it with
// a restore callback. Restoring without flushing discards the attempt's
// writes; that is the re-attempt path.
func (c *Context) pushBuffer() (*serializeBuffer, func()) {
	buf := &serializeBuffer{}
	prev := c.serialize
	c.serialize = func(id string, v any, deferStream bool) {
		buf.writes = append(buf.writes, bufferedWrite{id: id, v: v, deferStream: deferStream})
	}
	return buf, func() { c.serialize = prev }
}

// flushBuffer replays buffered writes through the current serializer.
// Inside a nested boundary that is the enclosing buffer, so an outer
// re-attempt still discards them.
func (c *Context) flushBuffer(buf *serializeBuffer) {
	for _, w := range buf.writes {
		c.serialize(w.id, w.v, w.deferStream)
	}
	buf.writes = nil
}

// flushSettled replays only the writes a strict encoder can take: pending
// futures and live streams are dropped. Sync-mode boundaries use this on
// the deferred-fallback path, where the client refetches instead of
// hydrating the async values.
func (c *Context) flushSettled(buf *serializeBuffer) {
	for _, w := range buf.writes {
		switch t := w.v.(type) {
		case async.AnyFuture:
			if !t.Settled() {
				continue
			}
		case async.AnyStream:
			continue
		}
		c.serialize(w.id, w.v, w.deferStream)
	}
	buf.writes = nil
}

// RegisterFragment registers a streamed fragment for id and returns its
// settle-once done callback.
func (c *Context) RegisterFragment(id string) func(html string, err error) {
	return c.fragments.register(id)
}

// Block registers a future the sync render must await before re-running
// the page. Lazy components use it for module loads, which are not
// renderable suspensions.
func (c *Context) Block(f async.AnyFuture) {
	c.blocks = append(c.blocks, f)
}

func (c *Context) takeBlocks() []async.AnyFuture {
	blocks := c.blocks
	c.blocks = nil
	return blocks
}

// RegisterModule attributes a lazy module to the current boundary so its
// assets reach the client before the boundary's fragment does.
func (c *Context) RegisterModule(name string) {
	key := c.boundary
	for _, m := range c.modules[key] {
		if m == name {
			return
		}
	}
	c.modules[key] = append(c.modules[key], name)
}

// BoundaryModules returns the module names registered under boundaryID.
func (c *Context) BoundaryModules(boundaryID string) []string {
	return c.modules[boundaryID]
}

// ResolveAssets maps a module name to its asset bundle via the configured
// resolver.
func (c *Context) ResolveAssets(name string) (ModuleAssets, bool) {
	if c.resolver == nil {
		return ModuleAssets{}, false
	}
	return c.resolver.Resolve(name)
}

// emitAssets serializes the asset map for a boundary's registered modules
// at "<id>_assets". Unresolvable modules are skipped with a warning; no
// record is written when nothing resolves.
func (c *Context) emitAssets(id string) {
	names := c.modules[id]
	if len(names) == 0 || c.noHydrate {
		return
	}
	assets := make(map[string]any, len(names))
	for _, name := range names {
		a, ok := c.ResolveAssets(name)
		if !ok {
			c.log.Warn("module has no manifest entry", "module", name, "boundary", id)
			continue
		}
		urls := []any{a.Entry}
		for _, css := range a.CSS {
			urls = append(urls, css)
		}
		assets[name] = urls
	}
	if len(assets) == 0 {
		return
	}
	c.serialize(id+wire.AssetsSuffix, assets, false)
}

// Escape escapes a scalar for HTML output, in text or attribute mode.
func (c *Context) Escape(v any, attr bool) string {
	s, ok := stringify(v)
	if !ok {
		s = fmt.Sprint(v)
	}
	return Escape(s, attr)
}

// Resolve renders v into a template, capturing unresolved holes.
func (c *Context) Resolve(v any) (*Template, error) {
	b := &builder{}
	if err := resolveInto(b, v); err != nil {
		return nil, err
	}
	return b.template(), nil
}

// SSR interleaves compiled static slices with dynamic values. Statics are
// trusted markup; dynamics escape by default (wrap in Raw to opt out).
func (c *Context) SSR(statics []string, values ...any) (*Template, error) {
	if len(statics) != len(values)+1 {
		return nil, fmt.Errorf("render: ssr needs %d statics for %d values, got %d",
			len(values)+1, len(values), len(statics))
	}
	b := &builder{}
	for i, s := range statics {
		b.text(s)
		if i < len(values) {
			if err := resolveInto(b, values[i]); err != nil {
				return nil, err
			}
		}
	}
	return b.template(), nil
}

// resolveHoles re-invokes a template's holes, splicing settled values
// into the statics and re-capturing holes that are still pending.
func (c *Context) resolveHoles(t *Template) (*Template, error) {
	b := &builder{}
	for i, part := range t.T {
		b.text(part)
		if i < len(t.H) {
			if err := resolveHole(b, t.H[i]); err != nil {
				return nil, err
			}
		}
	}
	return b.template(), nil
}
