package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/wire"
)

func TestRenderToStringStaticPage(t *testing.T) {
	rt := reactive.New()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		name := reactive.NewSignal(rt, "world")
		return ctx.SSR([]string{"<h1>hello ", "</h1>"}, name.Read)
	}

	res, err := RenderToString(rt, page, WithTokenGenerator(NewFixedGenerator("tok-1")))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hello world</h1>", res.HTML)
	assert.Equal(t, "tok-1", res.Token)
	assert.Empty(t, res.Records)
}

func TestRenderToStringPinnedToken(t *testing.T) {
	rt := reactive.New()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return "static", nil
	}

	res, err := RenderToString(rt, page, WithToken("replay-7"))
	require.NoError(t, err)
	assert.Equal(t, "replay-7", res.Token)
}

func TestRenderToStringRejectsRootSuspension(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
			return fut, nil
		})
		return ctx.SSR([]string{"<div>", "</div>"}, m.Accessor())
	}

	_, err := RenderToString(rt, page)
	require.ErrorIs(t, err, ErrSyncSuspend)
}

func TestRenderToStringAwaitsLazyModules(t *testing.T) {
	rt := reactive.New()
	mod := async.NewFuture[Component]()
	page := Lazy("hello", func() *async.Future[Component] { return mod })

	time.AfterFunc(10*time.Millisecond, func() {
		mod.Resolve(func(rt *reactive.Runtime, ctx *Context) (any, error) {
			return Raw("<b>loaded</b>"), nil
		})
	})

	res, err := RenderToString(rt, page)
	require.NoError(t, err)
	assert.Equal(t, "<b>loaded</b>", res.HTML)
}

func TestRenderToStreamRootSuspensionDelaysShell(t *testing.T) {
	rt := reactive.New()
	fut := async.NewFuture[string]()
	var ids []string
	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
			return fut, nil
		})
		ids = append(ids, m.ID())
		v, err := m.Get()
		if err != nil {
			return nil, err
		}
		return ctx.SSR([]string{"<main>", "</main>"}, v)
	}

	time.AfterFunc(10*time.Millisecond, func() { fut.Resolve("late shell") })

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec)
	require.NoError(t, err)

	assert.Equal(t, "<main>late shell</main>", rec.HTML())
	assert.NotContains(t, rec.HTML(), "pl-")
	assert.Equal(t, []string{"t0", "t0"}, ids)
	require.NoError(t, h.Wait(context.Background()))
}

func TestRenderToStreamLazyModuleAssets(t *testing.T) {
	rt := reactive.New()
	resolver := staticResolver{
		"detail": {Entry: "/js/detail.mjs", CSS: []string{"/css/detail.css"}},
	}
	mod := async.NewFuture[Component]()
	lazyDetail := Lazy("detail", func() *async.Future[Component] { return mod })

	page := func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Loading(rt, ctx, "Loading...", func() (any, error) {
			return lazyDetail(rt, ctx)
		})
	}

	rec := &Recorder{}
	h, err := RenderToStream(rt, page, rec, WithModuleResolver(resolver))
	require.NoError(t, err)
	assert.Contains(t, rec.HTML(), PlaceholderOpen("t0"))

	mod.Resolve(func(rt *reactive.Runtime, ctx *Context) (any, error) {
		return Raw("<b>detail pane</b>"), nil
	})
	require.NoError(t, h.Wait(context.Background()))

	frag, ok := rec.Fragment("t0")
	require.True(t, ok)
	assert.Equal(t, "<b>detail pane</b>", frag.HTML)

	got, ok := rec.Record("t0" + wire.AssetsSuffix)
	require.True(t, ok)
	val := got.Entry.(wire.Value).V.(map[string]any)
	assert.Equal(t, []any{"/js/detail.mjs", "/css/detail.css"}, val["detail"])
}

func TestRenderToStreamWaitHonorsContext(t *testing.T) {
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

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.Wait(waitCtx), context.DeadlineExceeded)

	h.Cancel()
}
