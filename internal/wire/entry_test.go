package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/limn/internal/patch"
)

func TestMarshalRecordForms(t *testing.T) {
	boom := ErrInfo{Name: "Error", Message: "boom"}
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "value",
			rec:  Record{ID: "t0", Entry: Value{V: "hi"}},
			want: `{"id":"t0","v":"hi"}`,
		},
		{
			name: "deferred fallback sentinel",
			rec:  Record{ID: "t0", Entry: Value{V: DeferredFallback}},
			want: `{"id":"t0","v":"$$f"}`,
		},
		{
			name: "assets map",
			rec:  Record{ID: "t0" + AssetsSuffix, Entry: Value{V: map[string]any{"chart": "/js/chart.js"}}},
			want: `{"id":"t0_assets","v":{"chart":"/js/chart.js"}}`,
		},
		{
			name: "pending promise",
			rec:  Record{ID: "t0", Entry: Promise{S: StatePending}},
			want: `{"id":"t0","p":{"s":0}}`,
		},
		{
			name: "resolved promise",
			rec:  Record{ID: "t0", Entry: Promise{S: StateResolved, V: 42}},
			want: `{"id":"t0","p":{"s":1,"v":42}}`,
		},
		{
			name: "rejected promise",
			rec:  Record{ID: "t0", Entry: Promise{S: StateRejected, Err: &boom}},
			want: `{"id":"t0","p":{"e":{"message":"boom","name":"Error"},"s":2}}`,
		},
		{
			name: "stream yield",
			rec:  Record{ID: "t0", Entry: StreamNext{V: []any{1, "a"}}},
			want: `{"id":"t0","n":[1,"a"]}`,
		},
		{
			name: "stream done",
			rec:  Record{ID: "t0", Entry: StreamDone{}},
			want: `{"d":true,"id":"t0"}`,
		},
		{
			name: "error",
			rec:  Record{ID: "t0", Entry: ErrValue{Err: boom}},
			want: `{"e":{"message":"boom","name":"Error"},"id":"t0"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalRecord(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalRecordRejectsNilEntry(t *testing.T) {
	_, err := MarshalRecord(Record{ID: "t0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entry")
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	boom := ErrInfo{Name: "Error", Message: "boom"}
	recs := []Record{
		{ID: "t0", Entry: Value{V: "hi"}},
		{ID: "t0", Entry: Value{V: DeferredFallback}},
		{ID: "t0", Entry: Promise{S: StatePending}},
		{ID: "t0", Entry: Promise{S: StateResolved, V: "ok"}},
		{ID: "t0", Entry: Promise{S: StateRejected, Err: &boom}},
		{ID: "t0", Entry: StreamNext{V: "first"}},
		{ID: "t0", Entry: StreamDone{}},
		{ID: "t0", Entry: ErrValue{Err: boom}},
	}
	for _, rec := range recs {
		first, err := MarshalRecord(rec)
		require.NoError(t, err)

		decoded, err := DecodeRecord(first)
		require.NoError(t, err, "decode %s", first)
		assert.Equal(t, rec.ID, decoded.ID)
		assert.IsType(t, rec.Entry, decoded.Entry)

		// Re-encoding the decoded record reproduces the bytes.
		second, err := MarshalRecord(decoded)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	}
}

func TestDecodeRecordPayloads(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"id":"t00","p":{"s":1,"v":42}}`))
	require.NoError(t, err)
	p, ok := rec.Entry.(Promise)
	require.True(t, ok)
	assert.Equal(t, StateResolved, p.S)
	assert.Equal(t, float64(42), p.V)
	assert.Nil(t, p.Err)

	rec, err = DecodeRecord([]byte(`{"id":"t01","p":{"s":2,"e":{"name":"Error","message":"B failed"}}}`))
	require.NoError(t, err)
	p, ok = rec.Entry.(Promise)
	require.True(t, ok)
	assert.Equal(t, StateRejected, p.S)
	require.NotNil(t, p.Err)
	assert.Equal(t, "B failed", p.Err.Message)

	rec, err = DecodeRecord([]byte(`{"id":"t0","n":[[["items"],[1]]]}`))
	require.NoError(t, err)
	n, ok := rec.Entry.(StreamNext)
	require.True(t, ok)
	assert.NotNil(t, n.V)
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not an object", data: `[1,2]`},
		{name: "missing id", data: `{"v":1}`},
		{name: "empty id", data: `{"id":"","v":1}`},
		{name: "no payload key", data: `{"id":"t0"}`},
		{name: "malformed promise", data: `{"id":"t0","p":"nope"}`},
		{name: "malformed rejection", data: `{"id":"t0","p":{"s":2,"e":[1]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestErrInfoConversion(t *testing.T) {
	info := InfoFromError(errors.New("query failed"))
	assert.Equal(t, "Error", info.Name)
	assert.Equal(t, "query failed", info.Message)

	// The generic name round-trips to the bare message.
	assert.Equal(t, "query failed", info.ToError().Error())

	// A named error keeps its name as a prefix.
	typed := ErrInfo{Name: "TypeError", Message: "not a function"}
	assert.Equal(t, "TypeError: not a function", typed.ToError().Error())

	unnamed := ErrInfo{Message: "bare"}
	assert.Equal(t, "bare", unnamed.ToError().Error())
}

func TestDecodeBatchFromStreamValue(t *testing.T) {
	// A projection continuation arrives as the decoded JSON value of a
	// stream yield, not as typed ops.
	var v any
	require.NoError(t, json.Unmarshal([]byte(`[[["a"],1],[["items",0],"x",1],[["gone"]]]`), &v))

	batch, err := DecodeBatch(v)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, patch.OpSet, batch[0].Kind)
	assert.Equal(t, patch.Path{"a"}, batch[0].Path)
	assert.Equal(t, float64(1), batch[0].Value)

	assert.Equal(t, patch.OpInsert, batch[1].Kind)
	assert.Equal(t, patch.Path{"items", 0}, batch[1].Path)
	assert.Equal(t, "x", batch[1].Value)

	assert.Equal(t, patch.OpDelete, batch[2].Kind)
	assert.Equal(t, patch.Path{"gone"}, batch[2].Path)
}

func TestDecodeBatchRejectsNonBatch(t *testing.T) {
	_, err := DecodeBatch("not a batch")
	assert.Error(t, err)

	_, err = DecodeBatch([]any{[]any{}})
	assert.Error(t, err)
}
