package hydrate

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

func TestLoadingHydratesInlineSubtree(t *testing.T) {
	rt := reactive.New()
	st := NewRecordStore()
	// The boundary claims t0; its first child memo claims t00.
	require.NoError(t, st.Ingest(wire.Record{ID: "t00", Entry: wire.Promise{S: wire.StateResolved, V: "inline"}}))
	s := NewSession(rt, st)

	var runs int
	v, err := s.Hydrate(func() (any, error) {
		acc := Loading(s, "fallback", func() (any, error) {
			m := NewFutureMemo(s, func(prev string) (*async.Future[string], error) {
				runs++
				return async.Resolved("live"), nil
			})
			return m.Get()
		})
		return acc()
	})
	require.NoError(t, err)
	assert.Equal(t, "inline", v, "an inline subtree resolves during the walk")
	assert.Zero(t, runs)
	assert.True(t, s.Done())
}

func TestLoadingDeferredSubtreeRunsAfterWalk(t *testing.T) {
	rt := reactive.New()
	st := NewRecordStore()
	require.NoError(t, st.Ingest(wire.Record{ID: "t0", Entry: wire.Value{V: wire.DeferredFallback}}))
	s := NewSession(rt, st)

	var runs int
	var acc reactive.Accessor
	var during any
	_, err := s.Hydrate(func() (any, error) {
		acc = Loading(s, "fallback", func() (any, error) {
			m := NewFutureMemo(s, func(prev string) (*async.Future[string], error) {
				runs++
				return async.Resolved("live"), nil
			})
			return m.Get()
		})
		during, _ = acc()
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", during, "a deferred boundary renders its fallback during the walk")
	assert.Zero(t, runs)

	// Finish drained the hydration-end queue, so the subtree already ran
	// live.
	require.NoError(t, rt.Run(func() error {
		v, aerr := acc()
		require.NoError(t, aerr)
		assert.Equal(t, "live", v)
		return nil
	}))
	assert.Equal(t, 1, runs)
	assert.True(t, s.Done())
}

func TestLoadingStreamedFragmentResumes(t *testing.T) {
	rt := reactive.New()
	doc, err := ParseDocument(`<div><template id="pl-t0"></template>pending<!--pl-t0--></div>`)
	require.NoError(t, err)
	st := NewRecordStore()
	s := NewSession(rt, st, WithDocument(doc))

	var runs int
	var acc reactive.Accessor
	var during any
	_, err = s.Hydrate(func() (any, error) {
		acc = Loading(s, "fallback", func() (any, error) {
			m := NewFutureMemo(s, func(prev string) (*async.Future[string], error) {
				runs++
				return async.Resolved("live"), nil
			})
			return m.Get()
		})
		during, _ = acc()
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", during)
	assert.False(t, s.Done(), "the boundary keeps the session open")

	// The fragment's records land first, then the fragment itself.
	require.NoError(t, st.Ingest(wire.Record{ID: "t00", Entry: wire.Promise{S: wire.StateResolved, V: "frag"}}))
	s.ApplyFragment("t0", "<span>frag</span>", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	require.NoError(t, rt.Run(func() error {
		v, aerr := acc()
		require.NoError(t, aerr)
		assert.Equal(t, "frag", v, "the children adopt the fragment's records")
		return nil
	}))
	assert.Zero(t, runs)

	body, err := doc.BodyHTML()
	require.NoError(t, err)
	assert.Contains(t, body, "<span>frag</span>")
	assert.NotContains(t, body, "pending")
}

func TestLoadingFragmentFailureSurfaces(t *testing.T) {
	rt := reactive.New()
	doc, err := ParseDocument(`<div><template id="pl-t0"></template>pending<!--pl-t0--></div>`)
	require.NoError(t, err)
	s := NewSession(rt, NewRecordStore(), WithDocument(doc))

	var acc reactive.Accessor
	_, err = s.Hydrate(func() (any, error) {
		acc = Loading(s, "fallback", func() (any, error) {
			return nil, reactive.NotReady(async.NewFuture[any]())
		})
		return nil, nil
	})
	require.NoError(t, err)

	s.ApplyFragment("t0", "", assert.AnError)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	require.NoError(t, rt.Run(func() error {
		_, aerr := acc()
		assert.ErrorIs(t, aerr, assert.AnError)
		return nil
	}))

	body, err := doc.BodyHTML()
	require.NoError(t, err)
	assert.Contains(t, body, "pending", "a failed fragment leaves the fallback markup in place")
}

func TestLoadingCancelledFragmentCompletesSession(t *testing.T) {
	rt := reactive.New()
	doc, err := ParseDocument(`<div><template id="pl-t0"></template>pending<!--pl-t0--></div>`)
	require.NoError(t, err)
	s := NewSession(rt, NewRecordStore(), WithDocument(doc))

	var acc reactive.Accessor
	_, err = s.Hydrate(func() (any, error) {
		acc = Loading(s, "fallback", func() (any, error) {
			return nil, reactive.NotReady(async.NewFuture[any]())
		})
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, s.Done())

	// Navigation away abandons the boundary before its fragment lands.
	s.CleanupFragment("t0")

	require.Eventually(t, s.Done, time.Second, time.Millisecond)
	assert.False(t, doc.HasPlaceholder("t0"))

	require.NoError(t, rt.Run(func() error {
		v, aerr := acc()
		require.NoError(t, aerr)
		assert.Equal(t, "fallback", v, "the fallback stays as the final content")
		return nil
	}))
}

func TestLoadingLiveSuspensionRerunsOnSettle(t *testing.T) {
	rt := reactive.New()
	s := NewSession(rt, NewRecordStore())

	// No record and no placeholder: the subtree computes live and the
	// boundary falls back until the source settles.
	fut := async.NewFuture[string]()
	var acc reactive.Accessor
	var during any
	_, err := s.Hydrate(func() (any, error) {
		acc = Loading(s, "fallback", func() (any, error) {
			m := NewFutureMemo(s, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			return m.Get()
		})
		during, _ = acc()
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", during)
	assert.True(t, s.Done(), "a live suspension does not hold the session open")

	fut.Resolve("settled")
	require.Eventually(t, func() bool {
		var v any
		_ = rt.Run(func() error {
			v, _ = acc()
			return nil
		})
		return v == "settled"
	}, time.Second, time.Millisecond)
}

func TestLoadingOutsideHydrationIsLive(t *testing.T) {
	rt := reactive.New()
	s := NewSession(rt, NewRecordStore())
	rt.SetClientMode(true)

	fut := async.NewFuture[string]()
	var acc reactive.Accessor
	require.NoError(t, rt.Run(func() error {
		acc = Loading(s, "fallback", func() (any, error) {
			m := reactive.NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
				return fut, nil
			})
			return m.Get()
		})
		v, aerr := acc()
		require.NoError(t, aerr)
		assert.Equal(t, "fallback", v)
		return nil
	}))

	fut.Resolve("ready")
	require.Eventually(t, func() bool {
		var v any
		_ = rt.Run(func() error {
			v, _ = acc()
			return nil
		})
		return v == "ready"
	}, time.Second, time.Millisecond)
}
