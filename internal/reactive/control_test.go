package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShowBranches(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	gate := NewSignal(rt, false)
	view := Show(rt,
		func() (bool, error) { return gate.Get(), nil },
		func() (any, error) { return "open", nil },
		func() (any, error) { return "closed", nil })

	v, err := view()
	require.NoError(t, err)
	assert.Equal(t, "closed", v)

	gate.Set(true)
	rt.Flush()

	v, err = view()
	require.NoError(t, err)
	assert.Equal(t, "open", v)
}

func TestShowNilFallback(t *testing.T) {
	rt := New()
	view := Show(rt,
		func() (bool, error) { return false, nil },
		func() (any, error) { return "x", nil },
		nil)

	v, err := view()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMapArrayStableItemIDs(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	items := NewSignal(rt, []string{"a", "b"})
	var itemIDs [][]string
	view := MapArray(rt,
		func() ([]string, error) { return items.Get(), nil },
		func(rt *Runtime, item string, index int) (any, error) {
			if index == 0 {
				itemIDs = append(itemIDs, nil)
			}
			itemIDs[len(itemIDs)-1] = append(itemIDs[len(itemIDs)-1], rt.Owner().ID())
			return item, nil
		})

	v, err := view()
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	items.Set([]string{"x", "y"})
	rt.Flush()

	v, err = view()
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, v)

	require.Len(t, itemIDs, 2)
	assert.Equal(t, itemIDs[0], itemIDs[1], "item owners reclaim the same ids per rerun")
}

func TestForFallsBackOnEmpty(t *testing.T) {
	rt := New()
	view := For(rt,
		func() ([]int, error) { return nil, nil },
		func(rt *Runtime, item int, index int) (any, error) { return item, nil },
		func() (any, error) { return "empty", nil })

	v, err := view()
	require.NoError(t, err)
	assert.Equal(t, "empty", v)
}

func TestRepeat(t *testing.T) {
	rt := New()
	view := Repeat(rt,
		func() (int, error) { return 3, nil },
		func(rt *Runtime, i int) (any, error) { return i * i, nil })

	v, err := view()
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 4}, v)
}

func TestSwitchFirstMatchWins(t *testing.T) {
	rt := New()
	n := NewSignal(rt, 5)

	view := Switch(rt,
		func() (any, error) { return "other", nil },
		Match{
			When:     func() (bool, error) { return n.Get() < 0, nil },
			Children: func() (any, error) { return "negative", nil },
		},
		Match{
			When:     func() (bool, error) { return n.Get() < 10, nil },
			Children: func() (any, error) { return "small", nil },
		},
	)

	v, err := view()
	require.NoError(t, err)
	assert.Equal(t, "small", v)
}

func TestEffectsRunOnFlushInClientMode(t *testing.T) {
	rt := New()

	serverRan := false
	NewEffect(rt, func() error {
		serverRan = true
		return nil
	})
	rt.Flush()
	assert.False(t, serverRan, "effects never run during server rendering")

	rt.SetClientMode(true)
	sig := NewSignal(rt, 1)
	var seen []int
	NewEffect(rt, func() error {
		seen = append(seen, sig.Get())
		return nil
	})

	rt.Flush()
	assert.Equal(t, []int{1}, seen, "first run happens on the next flush")

	sig.Set(2)
	rt.Flush()
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRenderEffectRunsImmediately(t *testing.T) {
	rt := New()
	ran := 0
	NewRenderEffect(rt, func() error {
		ran++
		return nil
	})
	assert.Equal(t, 1, ran)
}
