package hydrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/wire"
)

// coerce converts a JSON-decoded wire value into T. Identity and numeric
// assertions are handled directly; structured values round-trip through
// JSON, matching how they were serialized.
func coerce[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if f, ok := v.(float64); ok {
		switch any(zero).(type) {
		case int:
			return any(int(f)).(T), nil
		case int64:
			return any(int64(f)).(T), nil
		case int32:
			return any(int32(f)).(T), nil
		case uint:
			return any(uint(f)).(T), nil
		case float32:
			return any(float32(f)).(T), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("hydrate: re-encode adopted value: %w", err)
	}
	var t T
	if err := json.Unmarshal(data, &t); err != nil {
		return zero, fmt.Errorf("hydrate: adopted value is not %T: %w", zero, err)
	}
	return t, nil
}

// futureAs adapts an untyped future into a typed one, coercing the
// resolution value.
func futureAs[T any](f *async.Future[any]) *async.Future[T] {
	out := async.NewFuture[T]()
	f.OnSettle(func(v any, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		t, cerr := coerce[T](v)
		if cerr != nil {
			out.Reject(cerr)
			return
		}
		out.Resolve(t)
	})
	return out
}

// typedStream adapts an untyped stream into a typed one, coercing every
// yield. Stopping the typed stream stops the source.
func typedStream[T any](s *async.Stream[any]) *async.Stream[T] {
	return async.Generate(func(yield func(T) bool) error {
		defer s.Stop()
		for {
			it, err := s.Next().Await(context.Background())
			if err != nil {
				return err
			}
			if it.Done {
				return nil
			}
			t, cerr := coerce[T](it.Value)
			if cerr != nil {
				return cerr
			}
			if !yield(t) {
				return nil
			}
		}
	})
}

// batchStream interprets every yield of s as a serialized patch batch,
// decoding it into the typed form a following store applies. Stopping the
// result stops the source.
func batchStream(s *async.Stream[any]) *async.Stream[any] {
	return async.Generate(func(yield func(any) bool) error {
		defer s.Stop()
		for {
			it, err := s.Next().Await(context.Background())
			if err != nil {
				return err
			}
			if it.Done {
				return nil
			}
			batch, derr := wire.DecodeBatch(it.Value)
			if derr != nil {
				return derr
			}
			if !yield(batch) {
				return nil
			}
		}
	})
}

// storeStream decodes a serialized store stream: the first yield is the
// full state map, every later yield a patch batch. Hydration follows it
// when the store's first revision had not arrived by walk time.
func storeStream(s *async.Stream[any]) *async.Stream[any] {
	return async.Generate(func(yield func(any) bool) error {
		defer s.Stop()
		first := true
		for {
			it, err := s.Next().Await(context.Background())
			if err != nil {
				return err
			}
			if it.Done {
				return nil
			}
			if first {
				first = false
				state, cerr := coerce[map[string]any](it.Value)
				if cerr != nil {
					return cerr
				}
				if !yield(state) {
					return nil
				}
				continue
			}
			batch, derr := wire.DecodeBatch(it.Value)
			if derr != nil {
				return derr
			}
			if !yield(batch) {
				return nil
			}
		}
	})
}
