package async

import "sync"

// Item is one element of a stream. Done marks exhaustion; a done item
// carries no value.
type Item[T any] struct {
	Value T
	Done  bool
}

// Stream is a pull-based asynchronous sequence.
//
// Each Next call returns a future for the next item. Production is
// demand-driven: a generator's yield blocks until a consumer pulls, so an
// abandoned stream does no further work (call Stop to release the
// generator goroutine).
//
// After the generator returns, every pull settles with a done item, or
// with the generator's error if it returned one.
//
// Thread-safety: Next and Stop are safe for concurrent use, though pulls
// are served strictly in call order.
type Stream[T any] struct {
	mu     sync.Mutex
	prefix []*Future[Item[T]]
	base   *Stream[T]
	q      *pullQueue[T]
}

// Generate starts fn on a new goroutine and returns the stream it feeds.
//
// yield hands one value to the next pull and blocks until that pull
// arrives. It returns false once the stream has been stopped; fn should
// then return promptly. An error returned by fn rejects all outstanding
// and future pulls.
func Generate[T any](fn func(yield func(T) bool) error) *Stream[T] {
	q := newPullQueue[T]()
	go func() {
		yield := func(v T) bool {
			pull, ok := q.nextPull()
			if !ok {
				return false
			}
			pull.Resolve(Item[T]{Value: v})
			return true
		}
		q.finish(fn(yield))
	}()
	return &Stream[T]{q: q}
}

// StreamOf returns a stream that yields vs in order, then completes.
func StreamOf[T any](vs ...T) *Stream[T] {
	return Generate(func(yield func(T) bool) error {
		for _, v := range vs {
			if !yield(v) {
				return nil
			}
		}
		return nil
	})
}

// Next returns a future for the next item.
func (s *Stream[T]) Next() *Future[Item[T]] {
	s.mu.Lock()
	if len(s.prefix) > 0 {
		f := s.prefix[0]
		s.prefix = s.prefix[1:]
		s.mu.Unlock()
		return f
	}
	base, q := s.base, s.q
	s.mu.Unlock()

	if base != nil {
		return base.Next()
	}
	f := NewFuture[Item[T]]()
	q.push(f)
	return f
}

// Stop abandons the stream. The generator's next yield returns false,
// and all outstanding and future pulls settle as done. Idempotent.
func (s *Stream[T]) Stop() {
	s.mu.Lock()
	base, q := s.base, s.q
	s.mu.Unlock()
	if base != nil {
		base.Stop()
		return
	}
	q.stop()
}

// Tap eagerly pulls the first item of s and returns its future together
// with a replay stream that yields that same first item before delegating
// back to s. Server rendering uses this to lock a stream's first value
// while still handing consumers the full sequence.
func Tap[T any](s *Stream[T]) (*Future[Item[T]], *Stream[T]) {
	first := s.Next()
	return first, &Stream[T]{prefix: []*Future[Item[T]]{first}, base: s}
}

// Pipe is a push-driven stream producer, for sequences that arrive from
// outside the process rather than from a generator: serialized stream
// records landing during hydration, transport chunks, test scripts.
// Push never blocks; values are buffered until a pull drains them.
type Pipe[T any] struct {
	q *pullQueue[T]
	s *Stream[T]
}

// NewPipe returns an open pipe. No goroutine is started; production and
// consumption meet in the pull queue.
func NewPipe[T any]() *Pipe[T] {
	q := newPullQueue[T]()
	return &Pipe[T]{q: q, s: &Stream[T]{q: q}}
}

// Push delivers one value: the oldest waiting pull is resolved directly,
// otherwise the value is buffered. Pushes after Finish, or after the
// consumer stopped the stream, are dropped.
func (p *Pipe[T]) Push(v T) {
	p.q.feed(v)
}

// Finish completes the stream. Buffered values still drain to later
// pulls; only then do pulls observe the terminal state (done, or err if
// non-nil). Idempotent.
func (p *Pipe[T]) Finish(err error) {
	p.q.finish(err)
}

// Stream returns the consumer side of the pipe.
func (p *Pipe[T]) Stream() *Stream[T] {
	return p.s
}

// AnyItem is the type-erased form of Item.
type AnyItem struct {
	Value any
	Done  bool
}

// AnyStream is the type-erased view of a Stream, used by the wire layer
// to drain streams of unknown element type.
type AnyStream interface {
	// NextAny returns a future for the next erased item.
	NextAny() *Future[AnyItem]
	// Stop abandons the stream.
	Stop()
}

// NextAny implements AnyStream.
func (s *Stream[T]) NextAny() *Future[AnyItem] {
	out := NewFuture[AnyItem]()
	s.Next().OnSettle(func(it Item[T], err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(AnyItem{Value: it.Value, Done: it.Done})
	})
	return out
}

// pullQueue is an unbounded FIFO of pending pulls.
//
// Consumers push pull futures from any goroutine. Production comes from
// one of two sides, never both: a generator goroutine servicing pulls in
// order (Generate), or a pipe feeding values ahead of demand (NewPipe),
// which land in buf until pulled. A buffered size-1 signal channel
// coalesces wakeups so a generator can block without spinning.
type pullQueue[T any] struct {
	mu       sync.Mutex
	pulls    []*Future[Item[T]]
	buf      []T
	finished bool
	stopped  bool
	termErr  error
	signal   chan struct{}
	stopCh   chan struct{}
}

func newPullQueue[T any]() *pullQueue[T] {
	return &pullQueue[T]{
		signal: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// push registers a pull. Buffered values win over the terminal state, so
// a finished pipe still drains in order; only then does the pull settle
// terminally.
func (q *pullQueue[T]) push(f *Future[Item[T]]) {
	q.mu.Lock()
	if len(q.buf) > 0 {
		v := q.buf[0]
		var zero T
		q.buf[0] = zero
		if len(q.buf) == 1 {
			q.buf = q.buf[:0]
		} else {
			q.buf = q.buf[1:]
		}
		q.mu.Unlock()
		f.Resolve(Item[T]{Value: v})
		return
	}
	if q.finished || q.stopped {
		err := q.termErr
		q.mu.Unlock()
		settleTerminal(f, err)
		return
	}
	q.pulls = append(q.pulls, f)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// feed delivers a pipe value: the oldest waiting pull resolves directly,
// otherwise the value is buffered for the next pull. No-op after the
// stream has terminated.
func (q *pullQueue[T]) feed(v T) {
	q.mu.Lock()
	if q.finished || q.stopped {
		q.mu.Unlock()
		return
	}
	if len(q.pulls) > 0 {
		f := q.pulls[0]
		q.pulls[0] = nil
		if len(q.pulls) == 1 {
			q.pulls = q.pulls[:0]
		} else {
			q.pulls = q.pulls[1:]
		}
		q.mu.Unlock()
		f.Resolve(Item[T]{Value: v})
		return
	}
	q.buf = append(q.buf, v)
	q.mu.Unlock()
}

// nextPull blocks until a pull is available or the stream is stopped.
// Called only from the generator goroutine.
func (q *pullQueue[T]) nextPull() (*Future[Item[T]], bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pulls) > 0 {
			f := q.pulls[0]
			// Nil out the slot so the backing array does not retain the
			// settled future.
			q.pulls[0] = nil
			if len(q.pulls) == 1 {
				q.pulls = q.pulls[:0]
			} else {
				q.pulls = q.pulls[1:]
			}
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.stopCh:
		}
	}
}

// finish records generator completion and settles all queued pulls with
// the terminal state.
func (q *pullQueue[T]) finish(err error) {
	q.mu.Lock()
	if q.finished || q.stopped {
		q.mu.Unlock()
		return
	}
	q.finished = true
	q.termErr = err
	pending := q.pulls
	q.pulls = nil
	q.mu.Unlock()

	for _, f := range pending {
		settleTerminal(f, err)
	}
}

// stop abandons the stream from the consumer side.
func (q *pullQueue[T]) stop() {
	q.mu.Lock()
	if q.finished || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	pending := q.pulls
	q.pulls = nil
	q.buf = nil
	close(q.stopCh)
	q.mu.Unlock()

	for _, f := range pending {
		settleTerminal(f, nil)
	}
}

func settleTerminal[T any](f *Future[Item[T]], err error) {
	if err != nil {
		f.Reject(err)
		return
	}
	f.Resolve(Item[T]{Done: true})
}
