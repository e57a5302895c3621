package wire

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/limn/internal/patch"
)

// Promise settlement states carried in the "s" field.
const (
	StatePending  = 0
	StateResolved = 1
	StateRejected = 2
)

// DeferredFallback is the sentinel value serialized at a boundary id in
// sync mode: the client shows the fallback and loads data itself.
const DeferredFallback = "$$f"

// AssetsSuffix is appended to a boundary id to key its module asset map.
const AssetsSuffix = "_assets"

// Entry is the sealed sum of record payloads. Only Value, Promise,
// StreamNext, StreamDone, and ErrValue implement it.
type Entry interface {
	entry()
}

// Value is a plain serialized value, including the "$$f" sentinel and
// "<id>_assets" maps.
type Value struct {
	V any
}

func (Value) entry() {}

// Promise is a promise snapshot. S is the settlement state; V carries
// the resolution value when S == StateResolved; Err carries the
// rejection when S == StateRejected.
type Promise struct {
	S   int
	V   any
	Err *ErrInfo
}

func (Promise) entry() {}

// StreamNext is one stream yield. The first StreamNext for an id opens
// the stream; projection continuations carry patch batches here.
type StreamNext struct {
	V any
}

func (StreamNext) entry() {}

// StreamDone marks stream exhaustion.
type StreamDone struct{}

func (StreamDone) entry() {}

// ErrValue is a serialized error, written by error boundaries so the
// client restores the same fallback without re-running children.
type ErrValue struct {
	Err ErrInfo
}

func (ErrValue) entry() {}

// ErrInfo is the wire form of an error.
type ErrInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ToError converts wire form back to a Go error.
func (e ErrInfo) ToError() error {
	if e.Name != "" && e.Name != "Error" {
		return fmt.Errorf("%s: %s", e.Name, e.Message)
	}
	return fmt.Errorf("%s", e.Message)
}

// InfoFromError converts a Go error to wire form.
func InfoFromError(err error) ErrInfo {
	return ErrInfo{Name: "Error", Message: err.Error()}
}

// Record pairs an owner id with one entry. The record sequence is
// ordered: replaying it through a hydration store reconstructs per-id
// state.
type Record struct {
	ID    string
	Entry Entry
}

// MarshalRecord encodes a record as one canonical JSON object. The
// payload key discriminates the entry kind:
//
//	{"id":X,"v":...}    plain value
//	{"id":X,"p":{...}}  promise snapshot {"s":0|1|2,"v":...,"e":{...}}
//	{"id":X,"n":...}    stream yield
//	{"id":X,"d":true}   stream done
//	{"id":X,"e":{...}}  error
func MarshalRecord(rec Record) ([]byte, error) {
	obj := map[string]any{"id": rec.ID}
	switch e := rec.Entry.(type) {
	case Value:
		obj["v"] = e.V
	case Promise:
		p := map[string]any{"s": e.S}
		if e.S == StateResolved {
			p["v"] = e.V
		}
		if e.S == StateRejected && e.Err != nil {
			p["e"] = errInfoMap(*e.Err)
		}
		obj["p"] = p
	case StreamNext:
		obj["n"] = e.V
	case StreamDone:
		obj["d"] = true
	case ErrValue:
		obj["e"] = errInfoMap(e.Err)
	default:
		return nil, fmt.Errorf("wire: unknown entry type %T", rec.Entry)
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("wire: record %s: %w", rec.ID, err)
	}
	return data, nil
}

func errInfoMap(e ErrInfo) map[string]any {
	return map[string]any{"name": e.Name, "message": e.Message}
}

// DecodeRecord parses one encoded record line.
func DecodeRecord(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("wire: record is not an object: %w", err)
	}

	var rec Record
	if idRaw, ok := raw["id"]; ok {
		if err := json.Unmarshal(idRaw, &rec.ID); err != nil {
			return Record{}, fmt.Errorf("wire: record id: %w", err)
		}
	}
	if rec.ID == "" {
		return Record{}, fmt.Errorf("wire: record has no id")
	}

	switch {
	case hasKey(raw, "v"):
		var v any
		if err := json.Unmarshal(raw["v"], &v); err != nil {
			return Record{}, fmt.Errorf("wire: record %s value: %w", rec.ID, err)
		}
		rec.Entry = Value{V: v}

	case hasKey(raw, "p"):
		var p struct {
			S int             `json:"s"`
			V any             `json:"v"`
			E json.RawMessage `json:"e"`
		}
		if err := json.Unmarshal(raw["p"], &p); err != nil {
			return Record{}, fmt.Errorf("wire: record %s promise: %w", rec.ID, err)
		}
		entry := Promise{S: p.S, V: p.V}
		if len(p.E) > 0 {
			var info ErrInfo
			if err := json.Unmarshal(p.E, &info); err != nil {
				return Record{}, fmt.Errorf("wire: record %s rejection: %w", rec.ID, err)
			}
			entry.Err = &info
		}
		rec.Entry = entry

	case hasKey(raw, "n"):
		var v any
		if err := json.Unmarshal(raw["n"], &v); err != nil {
			return Record{}, fmt.Errorf("wire: record %s stream value: %w", rec.ID, err)
		}
		rec.Entry = StreamNext{V: v}

	case hasKey(raw, "d"):
		rec.Entry = StreamDone{}

	case hasKey(raw, "e"):
		var info ErrInfo
		if err := json.Unmarshal(raw["e"], &info); err != nil {
			return Record{}, fmt.Errorf("wire: record %s error: %w", rec.ID, err)
		}
		rec.Entry = ErrValue{Err: info}

	default:
		return Record{}, fmt.Errorf("wire: record %s has no payload key", rec.ID)
	}
	return rec, nil
}

func hasKey(raw map[string]json.RawMessage, k string) bool {
	_, ok := raw[k]
	return ok
}

// DecodeBatch interprets a decoded stream value as a patch batch.
// Projection continuations arrive this way.
func DecodeBatch(v any) (patch.Batch, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: re-encode batch: %w", err)
	}
	var batch patch.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("wire: decode batch: %w", err)
	}
	return batch, nil
}
