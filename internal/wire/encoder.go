package wire

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/limn/internal/async"
)

// Emit delivers one encoded record to the transport (or a buffer, or the
// journal). Implementations must tolerate calls from multiple goroutines;
// the encoder serializes them through its own lock.
type Emit func(Record) error

// Encoder turns serialized values into the record stream.
//
// Plain values emit immediately. Live futures and streams are drained in
// the background: a pending future emits a pending snapshot now and its
// settlement later; a stream emits one StreamNext per yield and a
// StreamDone at exhaustion. Strict mode (sync rendering) rejects anything
// still unsettled.
//
// Thread-safety: Serialize may be called from any goroutine; emission is
// serialized so the record order seen by the sink is a valid settlement
// order.
type Encoder struct {
	strict bool
	logger *slog.Logger

	mu     sync.Mutex
	emit   Emit
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	drains sync.WaitGroup

	streamMu sync.Mutex
	streams  []async.AnyStream
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// Strict makes the encoder reject pending futures and streams, the rule
// for sync (non-streaming) rendering.
func Strict() EncoderOption {
	return func(e *Encoder) { e.strict = true }
}

// WithLogger sets the encoder's logger.
func WithLogger(l *slog.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = l }
}

// NewEncoder creates an encoder that delivers records through emit.
func NewEncoder(emit Emit, opts ...EncoderOption) *Encoder {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Encoder{
		emit:   emit,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Serialize emits a side-channel entry for id.
//
// deferStream suppresses the pending-promise placeholder record, so the
// id's first record is the settlement itself. Streams always defer:
// their first record is their first yield.
func (e *Encoder) Serialize(id string, v any, deferStream bool) error {
	switch t := v.(type) {
	case async.AnyFuture:
		return e.serializeFuture(id, t, deferStream)
	case async.AnyStream:
		return e.serializeStream(id, t)
	case error:
		return e.write(Record{ID: id, Entry: ErrValue{Err: InfoFromError(t)}})
	default:
		return e.write(Record{ID: id, Entry: Value{V: v}})
	}
}

func (e *Encoder) serializeFuture(id string, f async.AnyFuture, deferStream bool) error {
	if v, err, ok := f.PeekAny(); ok {
		return e.write(Record{ID: id, Entry: settledPromise(v, err)})
	}
	if e.strict {
		return fmt.Errorf("wire: pending promise at %s cannot be serialized in sync mode", id)
	}
	if !deferStream {
		if err := e.write(Record{ID: id, Entry: Promise{S: StatePending}}); err != nil {
			return err
		}
	}
	e.drains.Add(1)
	f.OnSettleAny(func(v any, err error) {
		defer e.drains.Done()
		if werr := e.write(Record{ID: id, Entry: settledPromise(v, err)}); werr != nil {
			e.logger.Error("emit promise settlement", "id", id, "error", werr)
		}
	})
	return nil
}

func settledPromise(v any, err error) Promise {
	if err != nil {
		info := InfoFromError(err)
		return Promise{S: StateRejected, Err: &info}
	}
	return Promise{S: StateResolved, V: v}
}

func (e *Encoder) serializeStream(id string, s async.AnyStream) error {
	if e.strict {
		return fmt.Errorf("wire: stream at %s cannot be serialized in sync mode", id)
	}
	e.streamMu.Lock()
	e.streams = append(e.streams, s)
	e.streamMu.Unlock()

	e.drains.Add(1)
	go e.drainStream(id, s)
	return nil
}

// drainStream pulls the stream to exhaustion, emitting one record per
// yield. A pull error terminates the id with an error record.
func (e *Encoder) drainStream(id string, s async.AnyStream) {
	defer e.drains.Done()
	for {
		it, err := s.NextAny().Await(e.ctx)
		if e.ctx.Err() != nil {
			return
		}
		if err != nil {
			if werr := e.write(Record{ID: id, Entry: ErrValue{Err: InfoFromError(err)}}); werr != nil {
				e.logger.Error("emit stream error", "id", id, "error", werr)
			}
			return
		}
		if it.Done {
			if werr := e.write(Record{ID: id, Entry: StreamDone{}}); werr != nil {
				e.logger.Error("emit stream done", "id", id, "error", werr)
			}
			return
		}
		if werr := e.write(Record{ID: id, Entry: StreamNext{V: it.Value}}); werr != nil {
			e.logger.Error("emit stream value", "id", id, "error", werr)
			return
		}
	}
}

func (e *Encoder) write(rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.logger.Debug("record", "id", rec.ID, "kind", fmt.Sprintf("%T", rec.Entry))
	return e.emit(rec)
}

// WaitIdle blocks until all background drains (promise settlements and
// stream pulls) have finished, or ctx is cancelled.
func (e *Encoder) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.drains.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops background drains and abandons registered streams. Records
// written after Close are dropped.
func (e *Encoder) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	e.streamMu.Lock()
	streams := e.streams
	e.streams = nil
	e.streamMu.Unlock()
	for _, s := range streams {
		s.Stop()
	}
}
