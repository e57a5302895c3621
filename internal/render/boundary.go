package render

import (
	"context"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

// PlaceholderOpen returns the opening marker for a streamed boundary slot.
func PlaceholderOpen(id string) string {
	return `<template id="pl-` + id + `"></template>`
}

// PlaceholderClose returns the closing marker for a streamed boundary slot.
func PlaceholderClose(id string) string {
	return `<!--pl-` + id + `-->`
}

// Loading renders children behind a suspension boundary.
//
// If the subtree finishes synchronously it renders inline and nothing
// marks the HTML. If anything under it suspends, the behavior depends on
// the mode:
//
//   - streaming: the fallback is returned between placeholder markers, a
//     fragment is registered under the boundary owner's id, and a
//     resolution goroutine re-runs the subtree as gates settle until it
//     can deliver the finished HTML out of order.
//   - sync: the subtree is abandoned for this pass; a deferred-fallback
//     marker is serialized at the boundary id so the client renders the
//     subtree itself after hydration.
//
// Serializations from the subtree are buffered per attempt: only the
// attempt that produces the final markup commits its writes.
func Loading(rt *reactive.Runtime, ctx *Context, fallback any, children func() (any, error)) (any, error) {
	bo := rt.CreateOwner()
	id := bo.ID()

	prevBoundary := ctx.boundary
	ctx.boundary = id
	buf, restore := ctx.pushBuffer()
	exit := func() {
		restore()
		ctx.boundary = prevBoundary
	}

	tpl, err := runBoundaryBody(rt, ctx, bo, children)

	var bodyGate async.AnyFuture
	if err != nil {
		nr, ok := reactive.AsNotReady(err)
		if !ok {
			exit()
			return nil, err
		}
		bodyGate = nr.Source
	}

	if bodyGate == nil && len(tpl.P) == 0 {
		// Settled synchronously: commit the attempt and render inline.
		exit()
		ctx.flushBuffer(buf)
		ctx.emitAssets(id)
		return tpl, nil
	}

	if !ctx.async {
		// No out-of-order transport. Commit what a strict encoder can
		// take and hand the subtree to the client.
		exit()
		ctx.flushSettled(buf)
		ctx.emitAssets(id)
		ctx.Serialize(id, wire.DeferredFallback, false)
		return ctx.Resolve(fallback)
	}

	done := ctx.fragments.register(id)
	exit()
	if bodyGate == nil {
		// The body completed, so the holes (and their serializations)
		// are final; only hole re-resolution remains.
		ctx.flushBuffer(buf)
	}
	go resolveFragment(rt, ctx, bo, id, children, tpl, bodyGate, done)

	b := &builder{}
	b.text(PlaceholderOpen(id))
	if err := resolveInto(b, fallback); err != nil {
		return nil, err
	}
	b.text(PlaceholderClose(id))
	return b.template(), nil
}

// runBoundaryBody executes one attempt of the boundary's children under
// the boundary owner and resolves the returned value.
func runBoundaryBody(rt *reactive.Runtime, ctx *Context, bo *reactive.Owner, children func() (any, error)) (*Template, error) {
	return reactive.RunWithOwnerValue(rt, bo, func() (*Template, error) {
		v, err := children()
		if err != nil {
			return nil, err
		}
		return ctx.Resolve(v)
	})
}

// resolveFragment drives a suspended boundary to completion off the
// initial pass.
//
// Body loop: while the component body itself suspends, await the gate,
// discard the failed attempt's serializations, reset the boundary owner's
// child ids, and re-run. Hole loop: once a body attempt returns markup,
// await the hole gates and re-invoke the holes under the boundary owner;
// settled holes stringify, still-pending ones are re-captured with fresh
// gates. Each pass settles at least one gate, so the loop terminates.
func resolveFragment(rt *reactive.Runtime, ctx *Context, bo *reactive.Owner, id string, children func() (any, error), tpl *Template, bodyGate async.AnyFuture, done func(html string, err error)) {
	for bodyGate != nil {
		if err := awaitFuture(ctx.fragments.ctx, bodyGate); err != nil {
			done("", err)
			return
		}
		var (
			retry async.AnyFuture
			fatal error
		)
		_ = rt.Run(func() error {
			prev := ctx.boundary
			ctx.boundary = id
			buf, restore := ctx.pushBuffer()
			bo.Dispose(true)
			t, err := runBoundaryBody(rt, ctx, bo, children)
			restore()
			ctx.boundary = prev
			if err != nil {
				if nr, ok := reactive.AsNotReady(err); ok {
					retry = nr.Source
					return nil
				}
				fatal = err
				return nil
			}
			ctx.flushBuffer(buf)
			tpl = t
			return nil
		})
		if fatal != nil {
			done("", fatal)
			return
		}
		bodyGate = retry
	}

	for len(tpl.P) > 0 {
		if err := async.AwaitAll(ctx.fragments.ctx, tpl.P); err != nil {
			done("", err)
			return
		}
		var fatal error
		_ = rt.Run(func() error {
			prev := ctx.boundary
			ctx.boundary = id
			t, err := reactive.RunWithOwnerValue(rt, bo, func() (*Template, error) {
				return ctx.resolveHoles(tpl)
			})
			ctx.boundary = prev
			if err != nil {
				fatal = err
				return nil
			}
			tpl = t
			return nil
		})
		if fatal != nil {
			done("", fatal)
			return
		}
	}

	_ = rt.Run(func() error {
		ctx.emitAssets(id)
		return nil
	})
	done(tpl.T[0], nil)
}

func awaitFuture(ctx context.Context, f async.AnyFuture) error {
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
