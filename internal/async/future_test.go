package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolveOnce(t *testing.T) {
	f := NewFuture[int]()
	assert.False(t, f.Settled())

	_, _, ok := f.Peek()
	assert.False(t, ok)

	require.True(t, f.Resolve(42))

	v, err, ok := f.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Later settles are no-ops.
	assert.False(t, f.Resolve(99))
	assert.False(t, f.Reject(errors.New("late")))

	v, err, ok = f.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFutureRejectOnce(t *testing.T) {
	boom := errors.New("boom")
	f := NewFuture[string]()
	require.True(t, f.Reject(boom))
	assert.False(t, f.Resolve("late"))

	v, err, ok := f.Peek()
	require.True(t, ok)
	assert.Equal(t, "", v)
	assert.ErrorIs(t, err, boom)
}

func TestFutureConstructors(t *testing.T) {
	r := Resolved("hi")
	v, err, ok := r.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	boom := errors.New("boom")
	j := Rejected[string](boom)
	_, err, ok = j.Peek()
	require.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestFutureAwait(t *testing.T) {
	f := NewFuture[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Resolve(7)
	}()

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFutureAwaitCancellation(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	// The future itself is untouched by a cancelled await.
	assert.False(t, f.Settled())
}

func TestFutureOnSettleOrderAndImmediate(t *testing.T) {
	f := NewFuture[int]()
	var order []int
	f.OnSettle(func(v int, err error) { order = append(order, 1) })
	f.OnSettle(func(v int, err error) { order = append(order, 2) })
	f.Resolve(1)
	assert.Equal(t, []int{1, 2}, order)

	// Registration after settlement fires immediately.
	fired := false
	f.OnSettle(func(v int, err error) {
		fired = true
		assert.Equal(t, 1, v)
		assert.NoError(t, err)
	})
	assert.True(t, fired)
}

func TestFutureGo(t *testing.T) {
	f := Go(func() (int, error) { return 10, nil })
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	boom := errors.New("boom")
	g := Go(func() (int, error) { return 0, boom })
	_, err = g.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFutureConcurrentSettle(t *testing.T) {
	f := NewFuture[int]()
	var wins sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if f.Resolve(n) {
				wins.Store(n, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	wins.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count, "exactly one settle must win")

	v, err, ok := f.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	_, won := wins.Load(v)
	assert.True(t, won, "stored value must belong to the winning settle")
}

func TestAnyFutureView(t *testing.T) {
	f := NewFuture[string]()
	var erased AnyFuture = f

	_, _, ok := erased.PeekAny()
	assert.False(t, ok)

	var got any
	erased.OnSettleAny(func(v any, err error) { got = v })
	f.Resolve("x")

	v, err, ok := erased.PeekAny()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	assert.Equal(t, "x", got)
}

func TestAwaitAll(t *testing.T) {
	a := NewFuture[int]()
	b := NewFuture[int]()
	go func() {
		a.Resolve(1)
		b.Reject(errors.New("boom"))
	}()

	err := AwaitAll(context.Background(), []AnyFuture{a, b})
	require.NoError(t, err, "settlement errors are reported via the futures, not AwaitAll")
	assert.True(t, a.Settled())
	assert.True(t, b.Settled())
}
