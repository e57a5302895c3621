package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/limn/internal/render"
	"github.com/roach88/limn/internal/wire"
)

func TestBeginAndLookup(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, j.Begin(ctx, "r1", "/dashboard", ModeStream))

	r, err := j.Lookup(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", r.Token)
	assert.Equal(t, "/dashboard", r.Page)
	assert.Equal(t, ModeStream, r.Mode)
	assert.True(t, r.StartedAt.After(before))
	assert.False(t, r.Completed())
	assert.Empty(t, r.Error)
}

func TestBeginRejectsDuplicateToken(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, "r1", "/a", ModeSync))
	assert.Error(t, j.Begin(ctx, "r1", "/b", ModeSync))
}

func TestCompleteStampsOutcome(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, "ok", "/a", ModeSync))
	require.NoError(t, j.Begin(ctx, "bad", "/b", ModeSync))

	require.NoError(t, j.Complete(ctx, "ok", nil))
	require.NoError(t, j.Complete(ctx, "bad", errors.New("walk failed")))

	r, err := j.Lookup(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, r.Completed())
	assert.Empty(t, r.Error)

	r, err = j.Lookup(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, r.Completed())
	assert.Equal(t, "walk failed", r.Error)
}

func TestCompleteUnknownToken(t *testing.T) {
	j := openTestJournal(t)

	err := j.Complete(context.Background(), "missing", nil)
	assert.ErrorContains(t, err, "unknown token")
}

func TestLookupUnknownToken(t *testing.T) {
	j := openTestJournal(t)

	_, err := j.Lookup(context.Background(), "missing")
	assert.ErrorContains(t, err, "unknown render token")
}

func TestRendersListsOldestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, "a", "/one", ModeSync))
	require.NoError(t, j.Begin(ctx, "b", "/two", ModeStream))

	renders, err := j.Renders(ctx)
	require.NoError(t, err)
	require.Len(t, renders, 2)
	assert.Equal(t, "a", renders[0].Token)
	assert.Equal(t, "b", renders[1].Token)
}

func TestSinkJournalsAndForwards(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Begin(ctx, "r1", "/page", ModeStream))

	next := &render.Recorder{}
	sink, err := j.Sink(ctx, "r1", next)
	require.NoError(t, err)

	rec := wire.Record{ID: "t0", Entry: wire.Value{V: "hello"}}
	require.NoError(t, sink.WriteHTML("<div>"))
	require.NoError(t, sink.WriteRecord(rec))
	require.NoError(t, sink.FragmentArrived("t1", "<span>late</span>", nil))
	require.NoError(t, sink.WriteHTML("</div>"))
	require.NoError(t, sink.Flush())

	events, err := j.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, []int64{0, 1, 2, 3}, []int64{events[0].Seq, events[1].Seq, events[2].Seq, events[3].Seq})
	assert.Equal(t, KindHTML, events[0].Kind)
	assert.Equal(t, "<div>", events[0].Payload)

	assert.Equal(t, KindRecord, events[1].Kind)
	assert.Equal(t, "t0", events[1].BoundaryID)
	want, err := wire.MarshalRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, string(want), events[1].Payload)
	assert.Equal(t, `{"id":"t0","v":"hello"}`, events[1].Payload)

	assert.Equal(t, KindFragment, events[2].Kind)
	assert.Equal(t, "t1", events[2].BoundaryID)
	assert.Equal(t, "<span>late</span>", events[2].Payload)
	assert.Empty(t, events[2].Err)

	// Everything reached the downstream sink too.
	assert.Equal(t, "<div></div>", next.HTML())
	require.Len(t, next.Records(), 1)
	assert.Equal(t, rec, next.Records()[0])
	require.Len(t, next.Fragments(), 1)
	assert.Equal(t, "t1", next.Fragments()[0].ID)
}

func TestSinkWithoutNext(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Begin(ctx, "r1", "/page", ModeSync))

	sink, err := j.Sink(ctx, "r1", nil)
	require.NoError(t, err)

	require.NoError(t, sink.WriteHTML("<p>solo</p>"))
	require.NoError(t, sink.Flush())

	events, err := j.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "<p>solo</p>", events[0].Payload)
}

func TestSinkResumesSequence(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Begin(ctx, "r1", "/page", ModeStream))

	s1, err := j.Sink(ctx, "r1", nil)
	require.NoError(t, err)
	require.NoError(t, s1.WriteHTML("a"))
	require.NoError(t, s1.WriteHTML("b"))

	s2, err := j.Sink(ctx, "r1", nil)
	require.NoError(t, err)
	require.NoError(t, s2.WriteHTML("c"))

	events, err := j.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(2), events[2].Seq)
	assert.Equal(t, "c", events[2].Payload)
}

func TestFragmentArrivedRecordsOutcome(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Begin(ctx, "r1", "/page", ModeStream))

	sink, err := j.Sink(ctx, "r1", nil)
	require.NoError(t, err)

	require.NoError(t, sink.FragmentArrived("t2", "", errors.New("query timeout")))
	require.NoError(t, sink.FragmentArrived("t0", "<ul></ul>", nil))

	frags, err := j.Fragments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, frags, 2)

	assert.Equal(t, "t0", frags[0].BoundaryID)
	assert.Equal(t, "ok", frags[0].State)
	assert.Equal(t, "<ul></ul>", frags[0].HTML)

	assert.Equal(t, "t2", frags[1].BoundaryID)
	assert.Equal(t, "error", frags[1].State)
	assert.Equal(t, "query timeout", frags[1].Error)
}

func TestFragmentSettlesOnce(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Begin(ctx, "r1", "/page", ModeStream))

	sink, err := j.Sink(ctx, "r1", nil)
	require.NoError(t, err)

	require.NoError(t, sink.FragmentArrived("t0", "first", nil))
	require.NoError(t, sink.FragmentArrived("t0", "second", nil))

	// Both arrivals are in the chunk stream, but the settled state keeps
	// the first outcome.
	events, err := j.Events(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	frags, err := j.Fragments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "first", frags[0].HTML)
}
