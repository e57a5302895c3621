package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

func TestLoadingSyncSubtreeRendersInline(t *testing.T) {
	rt := reactive.New()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			m := reactive.NewMemo(rt, func(prev string) (string, error) {
				return "ready", nil
			})
			return ctx.SSR([]string{"<div>", "</div>"}, m.Accessor())
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)

	assert.Equal(t, "<div>ready</div>", rec.HTML())
	assert.NotContains(t, rec.HTML(), "pl-")
	assert.Equal(t, 0, h.PendingFragments())

	// A plain computed value needs no hydration record: the client
	// recomputes it under the snapshot.
	assert.Empty(t, rec.Records())
}

func TestLoadingStreamsFragment(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			return ctx.SSR([]string{"<div>", "</div>"}, m.Accessor())
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)

	html := rec.HTML()
	assert.Contains(t, html, PlaceholderOpen("t0"))
	assert.Contains(t, html, "Loading...")
	assert.Contains(t, html, PlaceholderClose("t0"))
	assert.Equal(t, 1, h.PendingFragments())

	// The memo serialized its pending promise when the shell flushed.
	recs := rec.RecordsFor("t00")
	require.Len(t, recs, 1)
	assert.Equal(t, wire.Promise{S: wire.StatePending}, recs[0].Entry)

	fut.Resolve("Hello World")
	require.NoError(t, h.Wait(context.Background()))

	frag, ok := rec.Fragment("t0")
	require.True(t, ok)
	require.NoError(t, frag.Err)
	assert.Equal(t, "<div>Hello World</div>", frag.HTML)

	recs = rec.RecordsFor("t00")
	require.Len(t, recs, 2)
	assert.Equal(t, wire.Promise{S: wire.StateResolved, V: "Hello World"}, recs[1].Entry)

	assert.Equal(t, "<div>Hello World</div>", rec.FinalHTML())
}

func TestLoadingBodyRerunKeepsIDsStable(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	var attempts int
	var ids []string

	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			attempts++
			m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			ids = append(ids, m.ID())
			v, err := m.Get()
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<p>", "</p>"}, v)
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)
	assert.Contains(t, rec.HTML(), PlaceholderOpen("t0"))

	fut.Resolve("after")
	require.NoError(t, h.Wait(context.Background()))

	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"t00", "t00"}, ids)

	frag, ok := rec.Fragment("t0")
	require.True(t, ok)
	assert.Equal(t, "<p>after</p>", frag.HTML)

	// The first attempt's serialization was discarded; the committed one
	// found the future already settled.
	recs := rec.RecordsFor("t00")
	require.Len(t, recs, 1)
	assert.Equal(t, wire.Promise{S: wire.StateResolved, V: "after"}, recs[0].Entry)
}

func TestLoadingRejectionFailsFragment(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			v, err := m.Get()
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<p>", "</p>"}, v)
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)

	fut.Reject(errors.New("backend down"))
	require.NoError(t, h.Wait(context.Background()))

	frag, ok := rec.Fragment("t0")
	require.True(t, ok)
	require.Error(t, frag.Err)
	assert.Contains(t, frag.Err.Error(), "backend down")
	assert.Empty(t, frag.HTML)

	// The fallback stays in place when the fragment errored.
	assert.Contains(t, rec.FinalHTML(), "Loading...")
}

func TestLoadingNestedBoundaries(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "outer...", func() (any, error) {
			inner, err := Loading(rt, ctx, "inner...", func() (any, error) {
				m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
					return fut, nil
				})
				return ctx.SSR([]string{"<i>", "</i>"}, m.Accessor())
			})
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<section>", "</section>"}, inner)
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)

	// Outer renders inline (the inner placeholder is plain markup); only
	// the inner boundary registered a fragment.
	html := rec.HTML()
	assert.Contains(t, html, "<section>")
	assert.NotContains(t, html, PlaceholderOpen("t0"))
	assert.Contains(t, html, PlaceholderOpen("t00"))
	assert.Contains(t, html, "inner...")
	assert.Equal(t, 1, h.PendingFragments())

	fut.Resolve("deep")
	require.NoError(t, h.Wait(context.Background()))

	frag, ok := rec.Fragment("t00")
	require.True(t, ok)
	assert.Equal(t, "<i>deep</i>", frag.HTML)
	assert.Equal(t, "<section><i>deep</i></section>", rec.FinalHTML())
}

func TestLoadingSyncModeDefersFallback(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			return ctx.SSR([]string{"<div>", "</div>"}, m.Accessor())
		})
	}

	res, err := RenderToString(rt, page)
	require.NoError(t, err)

	assert.Equal(t, "Loading...", res.HTML)
	assert.NotContains(t, res.HTML, "pl-")

	// The boundary wrote the deferred-fallback marker; the pending memo
	// write was dropped rather than fed to the strict encoder.
	var marker bool
	for _, r := range res.Records {
		switch r.ID {
		case "t0":
			assert.Equal(t, wire.Value{V: wire.DeferredFallback}, r.Entry)
			marker = true
		case "t00":
			t.Fatalf("pending promise must not be serialized in sync mode: %+v", r)
		}
	}
	assert.True(t, marker)
}

func TestLoadingCancelDropsFragment(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			return ctx.SSR([]string{"<div>", "</div>"}, m.Accessor())
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)
	require.Equal(t, 1, h.PendingFragments())

	h.Cancel()
	assert.Equal(t, 0, h.PendingFragments())

	fut.Resolve("too late")
	time.Sleep(20 * time.Millisecond)
	_, ok := rec.Fragment("t0")
	assert.False(t, ok)
}

func TestLoadingRealErrorPropagatesSynchronously(t *testing.T) {
	rt := reactive.New()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			return nil, errors.New("render exploded")
		})
	}

	rec := &Recorder{}
	_, err := RenderToStream(rt, page, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render exploded")
}
