// Package testutil provides deterministic test doubles shared by the
// hydration and harness tests.
package testutil

import (
	"sync"

	"github.com/roach88/limn/internal/async"
)

// InstantLoader resolves every module load immediately and records the
// requested URLs. Tests assert on Loaded() to check which assets a
// boundary preloaded.
//
// Thread-safety: all methods are safe for concurrent use.
type InstantLoader struct {
	mu   sync.Mutex
	urls []string
}

// Load implements hydrate.ModuleLoader.
func (l *InstantLoader) Load(url string) *async.Future[string] {
	l.mu.Lock()
	l.urls = append(l.urls, url)
	l.mu.Unlock()
	return async.Resolved(url)
}

// Loaded returns the requested URLs in request order.
func (l *InstantLoader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.urls))
	copy(out, l.urls)
	return out
}

// GatedLoader holds every module load pending until the test releases
// it, so tests can observe the state between "assets requested" and
// "assets ready". Loading the same URL twice shares one future.
//
// Thread-safety: all methods are safe for concurrent use.
type GatedLoader struct {
	mu      sync.Mutex
	order   []string
	pending map[string]*async.Future[string]
}

// NewGatedLoader creates a loader with no requests yet.
func NewGatedLoader() *GatedLoader {
	return &GatedLoader{pending: make(map[string]*async.Future[string])}
}

// Load implements hydrate.ModuleLoader.
func (l *GatedLoader) Load(url string) *async.Future[string] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.pending[url]; ok {
		return f
	}
	f := async.NewFuture[string]()
	l.pending[url] = f
	l.order = append(l.order, url)
	return f
}

// Requested returns the URLs requested so far, in request order.
func (l *GatedLoader) Requested() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Release settles the load for url. Releasing an unrequested URL is a
// no-op so tests can release ahead of the request without racing.
func (l *GatedLoader) Release(url string) {
	l.mu.Lock()
	f, ok := l.pending[url]
	l.mu.Unlock()
	if ok {
		f.Resolve(url)
	}
}

// ReleaseAll settles every load requested so far.
func (l *GatedLoader) ReleaseAll() {
	l.mu.Lock()
	urls := make([]string, len(l.order))
	copy(urls, l.order)
	futs := make([]*async.Future[string], 0, len(urls))
	for _, url := range urls {
		futs = append(futs, l.pending[url])
	}
	l.mu.Unlock()
	for i, f := range futs {
		f.Resolve(urls[i])
	}
}

// Fail rejects the load for url.
func (l *GatedLoader) Fail(url string, err error) {
	l.mu.Lock()
	f, ok := l.pending[url]
	l.mu.Unlock()
	if ok {
		f.Reject(err)
	}
}
