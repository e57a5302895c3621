package render

import (
	"context"
	"log/slog"
	"sync"
)

type fragmentState int

const (
	fragmentPending fragmentState = iota
	fragmentDone
	fragmentFailed
	fragmentCancelled
)

type fragmentEntry struct {
	state fragmentState
	gen   int
}

// fragmentRegistry tracks in-flight boundary fragments for one render
// pass. Each registration hands back a settle-once done callback; a
// boundary re-registration (after an enclosing boundary re-ran its body)
// bumps the generation so the superseded attempt's callback lands on the
// floor.
type fragmentRegistry struct {
	log  *slog.Logger
	sink ChunkSink

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*fragmentEntry
	pending int
	waiters []chan struct{}
}

func newFragmentRegistry(log *slog.Logger, sink ChunkSink) *fragmentRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &fragmentRegistry{
		log:     log,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*fragmentEntry),
	}
}

// register adds id to the in-flight set and returns its done callback.
// done delivers the fragment to the sink exactly once; later calls (a
// superseded attempt, a settle after cancel) are dropped.
func (r *fragmentRegistry) register(id string) func(html string, err error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	switch {
	case !ok:
		e = &fragmentEntry{state: fragmentPending}
		r.entries[id] = e
		r.pending++
	case e.state == fragmentPending:
		e.gen++
	default:
		// A settled boundary re-registered: an enclosing boundary re-ran
		// after this one already delivered. The client keeps the first
		// delivery; re-open so the new attempt can deliver again.
		r.log.Warn("fragment re-registered after settle", "id", id)
		e.state = fragmentPending
		e.gen++
		r.pending++
	}
	gen := e.gen
	r.mu.Unlock()

	return func(html string, err error) {
		r.settle(id, gen, html, err)
	}
}

// settle delivers one fragment. The registry lock is held across the
// sink write so that waiters released by the settle observe the fragment,
// and so concurrent settles reach the sink in settlement order.
func (r *fragmentRegistry) settle(id string, gen int, html string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != fragmentPending || e.gen != gen {
		return
	}
	if err != nil {
		e.state = fragmentFailed
	} else {
		e.state = fragmentDone
	}

	if werr := r.sink.FragmentArrived(id, html, err); werr != nil {
		r.log.Error("deliver fragment", "id", id, "error", werr)
	} else if ferr := r.sink.Flush(); ferr != nil {
		r.log.Error("flush fragment", "id", id, "error", ferr)
	}

	r.pending--
	r.notifyLocked()
}

// cancelAll abandons every pending fragment and unblocks resolution
// goroutines awaiting their sources.
func (r *fragmentRegistry) cancelAll() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.state == fragmentPending {
			e.state = fragmentCancelled
			r.pending--
		}
	}
	r.notifyLocked()
}

func (r *fragmentRegistry) notifyLocked() {
	if r.pending > 0 {
		return
	}
	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
}

// pendingCount reports how many fragments have not settled yet.
func (r *fragmentRegistry) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// wait blocks until every registered fragment settles or ctx expires.
func (r *fragmentRegistry) wait(ctx context.Context) error {
	r.mu.Lock()
	if r.pending == 0 {
		r.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
