package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantLoaderResolvesImmediately(t *testing.T) {
	l := &InstantLoader{}

	f := l.Load("/js/app.js")
	require.True(t, f.Settled())

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/js/app.js", v)

	l.Load("/css/app.css")
	assert.Equal(t, []string{"/js/app.js", "/css/app.css"}, l.Loaded())
}

func TestGatedLoaderHoldsUntilRelease(t *testing.T) {
	l := NewGatedLoader()

	f := l.Load("/js/chart.js")
	assert.False(t, f.Settled())
	assert.Equal(t, []string{"/js/chart.js"}, l.Requested())

	l.Release("/js/chart.js")
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/js/chart.js", v)
}

func TestGatedLoaderSharesFuturePerURL(t *testing.T) {
	l := NewGatedLoader()

	f1 := l.Load("/js/app.js")
	f2 := l.Load("/js/app.js")
	assert.Same(t, f1, f2)
	assert.Equal(t, []string{"/js/app.js"}, l.Requested())
}

func TestGatedLoaderReleaseAll(t *testing.T) {
	l := NewGatedLoader()

	f1 := l.Load("/a.js")
	f2 := l.Load("/b.js")
	l.ReleaseAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f1.Await(ctx)
	require.NoError(t, err)
	_, err = f2.Await(ctx)
	require.NoError(t, err)
}

func TestGatedLoaderFail(t *testing.T) {
	l := NewGatedLoader()

	f := l.Load("/broken.js")
	l.Fail("/broken.js", assert.AnError)

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGatedLoaderReleaseUnrequestedURL(t *testing.T) {
	l := NewGatedLoader()
	l.Release("/never-asked.js")
	l.Fail("/never-asked.js", assert.AnError)
	assert.Empty(t, l.Requested())
}
