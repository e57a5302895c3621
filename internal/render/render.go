package render

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

// Component renders a subtree. It returns anything Resolve accepts:
// strings, templates, accessors, slices, nil.
type Component func(rt *reactive.Runtime, ctx *Context) (any, error)

// ErrSyncSuspend reports an async value that reached the root in sync
// mode. Sync rendering has no transport for late values, so every
// suspension must sit under a Loading boundary.
var ErrSyncSuspend = errors.New("render: async value reached the root in sync mode; wrap it in a Loading boundary")

// Lazy module loads re-run the sync pass; a component that keeps minting
// fresh modules would loop forever, so cap the passes.
const maxModulePasses = 32

type config struct {
	log       *slog.Logger
	tokens    TokenGenerator
	resolver  ModuleResolver
	noHydrate bool
	token     string
}

// Option configures a render pass.
type Option func(*config)

// WithLogger sets the pass logger. The default is the runtime's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithTokenGenerator sets the render token source. The default mints
// UUIDv7 tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *config) { c.tokens = g }
}

// WithToken pins the render token, bypassing the generator. Replay uses
// it to re-render under the original token.
func WithToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithModuleResolver installs the manifest lookup for lazy module assets.
func WithModuleResolver(r ModuleResolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithNoHydrate suppresses all side-channel serialization: the output is
// static HTML the client will not adopt.
func WithNoHydrate() Option {
	return func(c *config) { c.noHydrate = true }
}

func newConfig(rt *reactive.Runtime, opts []Option) *config {
	cfg := &config{
		log:    rt.Logger(),
		tokens: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.token == "" {
		cfg.token = cfg.tokens.Generate()
	}
	return cfg
}

// Result is the output of a sync render pass.
type Result struct {
	HTML    string
	Records []wire.Record
	Token   string
}

// RenderToString renders the page in sync mode.
//
// The wire encoder is strict: anything still pending at serialization
// time is an error. Suspensions must sit under Loading boundaries, which
// defer their subtrees to the client. Lazy module loads are awaited
// between passes; each extra pass re-renders from scratch with reset ids.
func RenderToString(rt *reactive.Runtime, root Component, opts ...Option) (*Result, error) {
	cfg := newConfig(rt, opts)
	rec := &Recorder{}
	enc := wire.NewEncoder(rec.WriteRecord, wire.Strict(), wire.WithLogger(cfg.log))
	ctx := newContext(rt, rec, enc, false, cfg)
	rt.SetSideChannel(ctx)

	rt.Enter()
	defer rt.Leave()

	var tpl *Template
	for pass := 0; ; pass++ {
		if pass == maxModulePasses {
			return nil, errors.New("render: lazy module loading did not converge")
		}
		if pass > 0 {
			rt.Root().Dispose(true)
		}
		t, err := reactive.RunWithOwnerValue(rt, rt.Root(), func() (*Template, error) {
			v, err := root(rt, ctx)
			if err != nil {
				return nil, err
			}
			return ctx.Resolve(v)
		})
		if err != nil {
			if reactive.IsNotReady(err) {
				return nil, ErrSyncSuspend
			}
			return nil, err
		}

		blocks := ctx.takeBlocks()
		if len(blocks) == 0 {
			if len(t.P) > 0 {
				return nil, ErrSyncSuspend
			}
			tpl = t
			break
		}
		rt.Leave()
		err = async.AwaitAll(context.Background(), blocks)
		rt.Enter()
		if err != nil {
			return nil, err
		}
	}

	html, err := tpl.HTML()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = rec.WriteHTML(html)
	return &Result{HTML: html, Records: rec.Records(), Token: ctx.Token()}, nil
}

// RenderToStream renders the page in streaming mode.
//
// The shell is written to the sink as soon as the root template settles;
// suspended boundaries stream their fragments out of order afterwards.
// Root-level suspensions outside any boundary delay the shell, since
// there is no placeholder to stand in for them.
func RenderToStream(rt *reactive.Runtime, root Component, sink ChunkSink, opts ...Option) (*StreamHandle, error) {
	cfg := newConfig(rt, opts)
	enc := wire.NewEncoder(sink.WriteRecord, wire.WithLogger(cfg.log))
	ctx := newContext(rt, sink, enc, true, cfg)
	rt.SetSideChannel(ctx)

	rt.Enter()
	tpl, err := streamRootPass(rt, ctx, root)
	rt.Leave()
	if err == nil {
		if werr := sink.WriteHTML(tpl.T[0]); werr != nil {
			err = werr
		} else if ferr := sink.Flush(); ferr != nil {
			err = ferr
		}
	}
	if err != nil {
		ctx.fragments.cancelAll()
		enc.Close()
		return nil, err
	}
	return &StreamHandle{ctx: ctx, enc: enc}, nil
}

// streamRootPass produces the shell template. Body suspensions re-run the
// root component (with reset ids) after their gates settle; root holes
// are awaited and re-resolved in place.
func streamRootPass(rt *reactive.Runtime, ctx *Context, root Component) (*Template, error) {
	run := func() (*Template, error) {
		return reactive.RunWithOwnerValue(rt, rt.Root(), func() (*Template, error) {
			v, err := root(rt, ctx)
			if err != nil {
				return nil, err
			}
			return ctx.Resolve(v)
		})
	}

	tpl, err := run()
	for err != nil {
		nr, ok := reactive.AsNotReady(err)
		if !ok {
			return nil, err
		}
		rt.Leave()
		werr := awaitFuture(context.Background(), nr.Source)
		rt.Enter()
		if werr != nil {
			return nil, werr
		}
		rt.Root().Dispose(true)
		tpl, err = run()
	}

	for len(tpl.P) > 0 {
		rt.Leave()
		werr := async.AwaitAll(context.Background(), tpl.P)
		rt.Enter()
		if werr != nil {
			return nil, werr
		}
		tpl, err = reactive.RunWithOwnerValue(rt, rt.Root(), func() (*Template, error) {
			return ctx.resolveHoles(tpl)
		})
		if err != nil {
			return nil, err
		}
	}
	return tpl, nil
}

// StreamHandle tracks a streaming render after the shell has been
// written.
type StreamHandle struct {
	ctx *Context
	enc *wire.Encoder
}

// Token returns the render token tagging this pass.
func (h *StreamHandle) Token() string { return h.ctx.Token() }

// PendingFragments reports how many boundary fragments have not settled.
func (h *StreamHandle) PendingFragments() int {
	return h.ctx.fragments.pendingCount()
}

// Wait blocks until every fragment has settled and background
// serialization has drained, then reports the first render error, if any.
func (h *StreamHandle) Wait(ctx context.Context) error {
	if err := h.ctx.fragments.wait(ctx); err != nil {
		return err
	}
	if err := h.enc.WaitIdle(ctx); err != nil {
		return err
	}
	return h.ctx.Err()
}

// Cancel abandons pending fragments and stops background serialization.
// The sink receives nothing further.
func (h *StreamHandle) Cancel() {
	h.ctx.fragments.cancelAll()
	h.enc.Close()
}
