package hydrate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/wire"
)

// ErrFragmentCancelled reports a fragment whose boundary was disposed (or
// whose transport was torn down) before the fragment arrived.
var ErrFragmentCancelled = errors.New("hydrate: fragment cancelled")

// Entry is the folded, client-side view of one id's record sequence. It
// is the sealed sum handed out by Store.Load; only ValueEntry, ErrorEntry,
// PromiseEntry, and StreamEntry implement it.
type Entry interface {
	hydrationEntry()
}

// ValueEntry is a plain serialized value, including the deferred-fallback
// sentinel and boundary asset maps.
type ValueEntry struct {
	V any
}

func (ValueEntry) hydrationEntry() {}

// ErrorEntry is a serialized error, written by server error boundaries.
type ErrorEntry struct {
	Err error
}

func (ErrorEntry) hydrationEntry() {}

// PromiseEntry is a promise snapshot. The future is settled already when
// the server serialized a settled promise; a pending snapshot settles
// when the settlement record lands.
type PromiseEntry struct {
	F *async.Future[any]
}

func (PromiseEntry) hydrationEntry() {}

// StreamEntry is a serialized stream. Yields that arrived before the
// walk reached the id are buffered; later records feed the stream live.
type StreamEntry struct {
	S *async.Stream[any]
}

func (StreamEntry) hydrationEntry() {}

// slot folds the records seen so far for one id. A slot keeps routing
// wire records into its pipe or future until the terminal record lands,
// even after the walk consumed its entry.
type slot struct {
	entry    Entry
	pipe     *async.Pipe[any]   // open stream slots
	future   *async.Future[any] // pending promise slots
	consumed bool
}

// routing reports whether later records for this id still have somewhere
// to land.
func (s *slot) routing() bool {
	return s.pipe != nil || s.future != nil
}

// RecordStore holds serialized server state during hydration, keyed by
// owner id. Records are folded in arrival order; the walk consumes
// entries as the matching constructors run.
//
// Thread-safety: the transport ingests from its own goroutine while the
// walk loads under the runtime slot, so all state is mutex-guarded.
type RecordStore struct {
	mu    sync.Mutex
	slots map[string]*slot
	frags map[string]*async.Future[Fragment]
}

// NewRecordStore returns an empty hydration store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		slots: make(map[string]*slot),
		frags: make(map[string]*async.Future[Fragment]),
	}
}

// Ingest folds one record into the store. Records for an id must arrive
// in a valid settlement order (the order the server emitted them);
// mixing kinds under one id is an error.
func (s *RecordStore) Ingest(rec wire.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slots[rec.ID]
	switch e := rec.Entry.(type) {
	case wire.Value:
		if sl != nil {
			return fmt.Errorf("hydrate: duplicate record for %s", rec.ID)
		}
		s.slots[rec.ID] = &slot{entry: ValueEntry{V: e.V}}

	case wire.Promise:
		return s.ingestPromise(rec.ID, sl, e)

	case wire.StreamNext:
		if sl == nil {
			pipe := async.NewPipe[any]()
			pipe.Push(e.V)
			s.slots[rec.ID] = &slot{entry: StreamEntry{S: pipe.Stream()}, pipe: pipe}
			return nil
		}
		if sl.pipe == nil {
			return fmt.Errorf("hydrate: stream record for non-stream id %s", rec.ID)
		}
		sl.pipe.Push(e.V)

	case wire.StreamDone:
		if sl == nil {
			// A stream that completed without yielding.
			pipe := async.NewPipe[any]()
			pipe.Finish(nil)
			s.slots[rec.ID] = &slot{entry: StreamEntry{S: pipe.Stream()}}
			return nil
		}
		if sl.pipe == nil {
			return fmt.Errorf("hydrate: stream done for unknown stream %s", rec.ID)
		}
		sl.pipe.Finish(nil)
		sl.pipe = nil
		s.reapLocked(rec.ID, sl)

	case wire.ErrValue:
		// A stream id terminates with the pull error; anywhere else this
		// is a boundary error value.
		if sl != nil && sl.pipe != nil {
			sl.pipe.Finish(e.Err.ToError())
			sl.pipe = nil
			s.reapLocked(rec.ID, sl)
			return nil
		}
		if sl != nil {
			return fmt.Errorf("hydrate: duplicate record for %s", rec.ID)
		}
		s.slots[rec.ID] = &slot{entry: ErrorEntry{Err: e.Err.ToError()}}

	default:
		return fmt.Errorf("hydrate: unknown entry type %T for %s", rec.Entry, rec.ID)
	}
	return nil
}

func (s *RecordStore) ingestPromise(id string, sl *slot, p wire.Promise) error {
	// Settlement for a snapshot that arrived earlier.
	if sl != nil {
		if sl.future == nil {
			return fmt.Errorf("hydrate: promise record for non-promise id %s", id)
		}
		switch p.S {
		case wire.StateResolved:
			sl.future.Resolve(p.V)
		case wire.StateRejected:
			sl.future.Reject(promiseError(p))
		default:
			return nil // duplicate pending snapshot
		}
		sl.future = nil
		s.reapLocked(id, sl)
		return nil
	}

	switch p.S {
	case wire.StateResolved:
		s.slots[id] = &slot{entry: PromiseEntry{F: async.Resolved[any](p.V)}}
	case wire.StateRejected:
		s.slots[id] = &slot{entry: PromiseEntry{F: async.Rejected[any](promiseError(p))}}
	default:
		f := async.NewFuture[any]()
		s.slots[id] = &slot{entry: PromiseEntry{F: f}, future: f}
	}
	return nil
}

func promiseError(p wire.Promise) error {
	if p.Err != nil {
		return p.Err.ToError()
	}
	return errors.New("hydrate: promise rejected without error info")
}

// IngestAll folds records in order, stopping at the first failure.
func (s *RecordStore) IngestAll(recs []wire.Record) error {
	for _, rec := range recs {
		if err := s.Ingest(rec); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether an unconsumed entry exists for id.
func (s *RecordStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	return ok && !sl.consumed
}

// Load returns the folded entry for id without consuming it.
func (s *RecordStore) Load(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok || sl.consumed {
		return nil, false
	}
	return sl.entry, true
}

// Gather marks id's entry as consumed. The slot is freed once nothing is
// routing into it anymore; open streams and pending promises keep
// receiving until their terminal record.
func (s *RecordStore) Gather(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return
	}
	sl.consumed = true
	s.reapLocked(id, sl)
}

// reapLocked frees a slot that is both consumed and terminally settled.
func (s *RecordStore) reapLocked(id string, sl *slot) {
	if sl.consumed && !sl.routing() {
		delete(s.slots, id)
	}
}

// Fragment is one streamed boundary fragment as delivered to the client:
// the finished HTML for the placeholder with the given boundary id, or
// the error that sank it on the server.
type Fragment struct {
	ID   string
	HTML string
	Err  error
}

// FragmentArrived records a boundary fragment and unparks its waiter.
func (s *RecordStore) FragmentArrived(id, html string, err error) {
	s.fragmentFuture(id).Resolve(Fragment{ID: id, HTML: html, Err: err})
}

// AwaitFragment returns the future that settles when id's fragment
// arrives. Arrival before the call settles it immediately.
func (s *RecordStore) AwaitFragment(id string) *async.Future[Fragment] {
	return s.fragmentFuture(id)
}

// FragmentSettled reports whether id's fragment has already arrived or
// been cancelled.
func (s *RecordStore) FragmentSettled(id string) bool {
	s.mu.Lock()
	f, ok := s.frags[id]
	s.mu.Unlock()
	return ok && f.Settled()
}

// CancelFragment rejects id's fragment future with ErrFragmentCancelled,
// releasing any boundary goroutine waiting on it. Used when a boundary is
// disposed before its fragment lands.
func (s *RecordStore) CancelFragment(id string) {
	s.fragmentFuture(id).Reject(ErrFragmentCancelled)
}

func (s *RecordStore) fragmentFuture(id string) *async.Future[Fragment] {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frags[id]
	if !ok {
		f = async.NewFuture[Fragment]()
		s.frags[id] = f
	}
	return f
}
