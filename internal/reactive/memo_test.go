package reactive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/limn/internal/async"
)

// recordingSide captures side-channel writes for assertions.
type recordingSide struct {
	mu      sync.Mutex
	isAsync bool
	writes  []sideWrite
}

type sideWrite struct {
	id string
	v  any
}

func (r *recordingSide) Serialize(id string, v any, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, sideWrite{id: id, v: v})
}

func (r *recordingSide) Async() bool { return r.isAsync }

func (r *recordingSide) all() []sideWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sideWrite(nil), r.writes...)
}

func TestMemoComputesEagerly(t *testing.T) {
	rt := New()
	runs := 0
	m := NewMemo(rt, func(prev int) (int, error) {
		runs++
		return prev + 1, nil
	})
	assert.Equal(t, 1, runs)
	assert.Equal(t, "t0", m.ID())

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, runs, "reads do not recompute a fresh memo")
}

func TestMemoLazy(t *testing.T) {
	rt := New()
	runs := 0
	m := NewMemo(rt, func(prev string) (string, error) {
		runs++
		return "v", nil
	}, WithLazy())
	assert.Equal(t, 0, runs)

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, runs)
}

func TestMemoErrorIsSticky(t *testing.T) {
	rt := New()
	boom := errors.New("boom")
	m := NewMemo(rt, func(prev int) (int, error) {
		return 0, boom
	})

	_, err := m.Get()
	assert.ErrorIs(t, err, boom)
	_, err = m.Get()
	assert.ErrorIs(t, err, boom)
}

func TestMemoIDsStableAcrossReruns(t *testing.T) {
	rt := New()
	var innerIDs []string
	m := NewMemo(rt, func(prev any) (any, error) {
		inner := NewMemo(rt, func(any) (any, error) { return "x", nil })
		innerIDs = append(innerIDs, inner.ID())
		return inner.Get()
	})

	_, err := m.Get()
	require.NoError(t, err)
	m.Invalidate() // immediate rerun outside client mode
	_, err = m.Get()
	require.NoError(t, err)

	require.Len(t, innerIDs, 2)
	assert.Equal(t, innerIDs[0], innerIDs[1])
}

func TestFutureMemoSuspendsThenResolves(t *testing.T) {
	rt := New()
	side := &recordingSide{isAsync: true}
	rt.SetSideChannel(side)

	fut := async.NewFuture[string]()
	m := NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
		return fut, nil
	})

	_, err := m.Get()
	nr, ok := AsNotReady(err)
	require.True(t, ok, "pending future must read as NotReady")
	assert.False(t, nr.Source.Settled())

	writes := side.all()
	require.Len(t, writes, 1)
	assert.Equal(t, "t0", writes[0].id)
	assert.Same(t, fut, writes[0].v, "the future itself is handed to the side channel")

	fut.Resolve("hello")

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	// Settled once; the value is locked.
	v, err = m.Get()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestFutureMemoRejectionSurfacesUserError(t *testing.T) {
	rt := New()
	boom := errors.New("fetch failed")
	m := NewFutureMemo(rt, func(prev int) (*async.Future[int], error) {
		return async.Rejected[int](boom), nil
	})

	_, err := m.Get()
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsNotReady(err), "rejections are user errors, not suspensions")
}

func TestSyncMemoRetriesAfterSourceSettles(t *testing.T) {
	rt := New()
	fut := async.NewFuture[string]()
	fm := NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
		return fut, nil
	})

	runs := 0
	m := NewMemo(rt, func(prev string) (string, error) {
		runs++
		v, err := fm.Get()
		if err != nil {
			return "", err
		}
		return v + "!", nil
	})

	_, err := m.Get()
	require.True(t, IsNotReady(err))
	before := runs

	fut.Resolve("hi")

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "hi!", v)
	assert.Equal(t, before+1, runs, "read after settlement re-runs the compute once")
}

func TestStreamMemoLocksFirstValue(t *testing.T) {
	rt := New()
	side := &recordingSide{isAsync: true}
	rt.SetSideChannel(side)

	m := NewStreamMemo(rt, func() (*async.Stream[string], error) {
		return async.StreamOf("a", "b", "c"), nil
	})

	require.Eventually(t, func() bool {
		v, err := m.Get()
		return err == nil && v == "a"
	}, time.Second, time.Millisecond)

	// Drain the serialized tap; the template value must not move.
	writes := side.all()
	require.Len(t, writes, 1)
	tap, ok := writes[0].v.(async.AnyStream)
	require.True(t, ok, "server stream memos serialize the tapped stream")

	for {
		it, err := tap.NextAny().Await(context.Background())
		require.NoError(t, err)
		if it.Done {
			break
		}
	}

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", v, "server value stays locked to the first yield")
}

func TestStreamMemoHybridSerializesFirstValueFuture(t *testing.T) {
	rt := New()
	side := &recordingSide{isAsync: true}
	rt.SetSideChannel(side)

	m := NewStreamMemo(rt, func() (*async.Stream[int], error) {
		return async.StreamOf(7, 8), nil
	}, WithSource(SourceHybrid))

	require.Eventually(t, func() bool {
		v, err := m.Get()
		return err == nil && v == 7
	}, time.Second, time.Millisecond)

	writes := side.all()
	require.Len(t, writes, 1)
	fut, ok := writes[0].v.(async.AnyFuture)
	require.True(t, ok, "hybrid serializes a future of the first value")

	v, err, settled := fut.PeekAny()
	require.True(t, settled)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestStreamMemoRejectsSyncTransport(t *testing.T) {
	rt := New()
	rt.SetSideChannel(&recordingSide{isAsync: false})

	m := NewStreamMemo(rt, func() (*async.Stream[int], error) {
		return async.StreamOf(1), nil
	})

	_, err := m.Get()
	assert.ErrorIs(t, err, ErrStreamNeedsAsync)
}

func TestSourceInitialSkipsComputeAndSerialization(t *testing.T) {
	rt := New()
	side := &recordingSide{isAsync: true}
	rt.SetSideChannel(side)

	sawScan := false
	m := NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
		sawScan = rt.Scanning()
		return nil, nil
	}, WithSource(SourceInitial), WithInitial("placeholder"))

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "placeholder", v)
	assert.True(t, sawScan, "the scan pass runs the compute under Scanning")
	assert.Empty(t, side.all(), "initial-sourced memos never serialize")
}

func TestMemoLatestKeepsPreviousWhilePending(t *testing.T) {
	rt := New()
	futs := []*async.Future[int]{async.Resolved(1), async.NewFuture[int]()}
	i := 0
	m := NewFutureMemo(rt, func(prev int) (*async.Future[int], error) {
		f := futs[i]
		if i < len(futs)-1 {
			i++
		}
		return f, nil
	})

	v, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	m.Invalidate() // rerun picks up the pending future
	assert.True(t, m.Pending())
	assert.Equal(t, 1, m.Latest(0), "stale value remains readable while pending")
}

func TestClientModeFlushRerunsInCreationOrder(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	sig := NewSignal(rt, 1)
	var order []string
	a := NewMemo(rt, func(prev any) (any, error) {
		order = append(order, "a")
		return sig.Get() * 2, nil
	})
	b := NewMemo(rt, func(prev any) (any, error) {
		order = append(order, "b")
		return sig.Get() * 3, nil
	})

	order = nil
	sig.Set(5)
	rt.Flush()
	assert.Equal(t, []string{"a", "b"}, order)

	va, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, 10, va)
	vb, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, 15, vb)
}

func TestClientModeEqualWritesDoNotNotify(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	sig := NewSignal(rt, "same")
	runs := 0
	_ = NewMemo(rt, func(prev any) (any, error) {
		runs++
		return sig.Get(), nil
	})

	sig.Set("same")
	rt.Flush()
	assert.Equal(t, 1, runs, "equal writes are suppressed")
}

func TestClientModeFutureMemoCommitsOnSettle(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	fut := async.NewFuture[string]()
	var m *Memo[string]
	require.NoError(t, rt.Run(func() error {
		m = NewFutureMemo(rt, func(prev string) (*async.Future[string], error) {
			return fut, nil
		})
		return nil
	}))

	fut.Resolve("live")

	require.Eventually(t, func() bool {
		var v string
		var err error
		_ = rt.Run(func() error {
			v, err = m.Get()
			return nil
		})
		return err == nil && v == "live"
	}, time.Second, time.Millisecond)
}

func TestClientModeStreamFollowsYields(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	var m *Memo[int]
	require.NoError(t, rt.Run(func() error {
		m = NewStreamMemo(rt, func() (*async.Stream[int], error) {
			return async.StreamOf(1, 2, 3), nil
		})
		return nil
	}))

	require.Eventually(t, func() bool {
		var v int
		var err error
		_ = rt.Run(func() error {
			v, err = m.Get()
			return nil
		})
		return err == nil && v == 3
	}, time.Second, time.Millisecond, "client streams follow to the latest yield")
}

func TestUntrackSkipsDependency(t *testing.T) {
	rt := New()
	rt.SetClientMode(true)

	tracked := NewSignal(rt, 1)
	ignored := NewSignal(rt, 1)
	runs := 0
	_ = NewMemo(rt, func(prev any) (any, error) {
		runs++
		_ = tracked.Get()
		_ = Untrack(rt, func() int { return ignored.Get() })
		return nil, nil
	})

	ignored.Set(2)
	rt.Flush()
	assert.Equal(t, 1, runs, "untracked reads do not subscribe")

	tracked.Set(2)
	rt.Flush()
	assert.Equal(t, 2, runs)
}
