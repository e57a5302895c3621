package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/limn/internal/render"
	"github.com/roach88/limn/internal/wire"
)

// AssertionError reports a failed outcome check with enough context to
// debug it: what was expected, what the run produced, and the record
// stream that led there.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Records  []wire.Record
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "\nrecords:\n")
		for i, r := range e.Records {
			if data, err := wire.MarshalRecord(r); err == nil {
				fmt.Fprintf(&buf, "  [%d] %s\n", i, data)
			} else {
				fmt.Fprintf(&buf, "  [%d] %s: %v\n", i, r.ID, err)
			}
		}
	}
	return buf.String()
}

// entryKind names a record's payload for assertion messages.
func entryKind(e wire.Entry) string {
	switch e.(type) {
	case wire.Value:
		return "value"
	case wire.Promise:
		return "promise"
	case wire.StreamNext:
		return "next"
	case wire.StreamDone:
		return "done"
	case wire.ErrValue:
		return "error"
	default:
		return fmt.Sprintf("%T", e)
	}
}

// ExpectRecordKinds checks that the records serialized for id, in
// transport order, have exactly the given payload kinds (value, promise,
// next, done, error).
func ExpectRecordKinds(o *Outcome, id string, kinds ...string) error {
	recs := o.RecordsFor(id)
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = entryKind(r.Entry)
	}
	if len(got) != len(kinds) {
		return &AssertionError{
			Type:     "record_kinds",
			Expected: fmt.Sprintf("%s: %v", id, kinds),
			Actual:   fmt.Sprintf("%s: %v", id, got),
			Records:  o.Records,
		}
	}
	for i := range kinds {
		if got[i] != kinds[i] {
			return &AssertionError{
				Type:     "record_kinds",
				Expected: fmt.Sprintf("%s: %v", id, kinds),
				Actual:   fmt.Sprintf("%s: %v", id, got),
				Records:  o.Records,
			}
		}
	}
	return nil
}

// ExpectPromise returns the idx-th record for id as a promise in the
// given settlement state.
func ExpectPromise(o *Outcome, id string, idx, state int) (wire.Promise, error) {
	recs := o.RecordsFor(id)
	if idx >= len(recs) {
		return wire.Promise{}, &AssertionError{
			Type:     "promise_record",
			Expected: fmt.Sprintf("%s: at least %d records", id, idx+1),
			Actual:   fmt.Sprintf("%s: %d records", id, len(recs)),
			Records:  o.Records,
		}
	}
	p, ok := recs[idx].Entry.(wire.Promise)
	if !ok {
		return wire.Promise{}, &AssertionError{
			Type:     "promise_record",
			Expected: fmt.Sprintf("%s[%d]: promise", id, idx),
			Actual:   fmt.Sprintf("%s[%d]: %s", id, idx, entryKind(recs[idx].Entry)),
			Records:  o.Records,
		}
	}
	if p.S != state {
		return wire.Promise{}, &AssertionError{
			Type:     "promise_state",
			Expected: fmt.Sprintf("%s[%d]: state %d", id, idx, state),
			Actual:   fmt.Sprintf("%s[%d]: state %d", id, idx, p.S),
			Records:  o.Records,
		}
	}
	return p, nil
}

// ExpectFragment returns the settled fragment for id, requiring that it
// carried markup rather than an error.
func ExpectFragment(o *Outcome, id string) (render.Fragment, error) {
	for _, f := range o.Fragments {
		if f.ID != id {
			continue
		}
		if f.Err != nil {
			return render.Fragment{}, &AssertionError{
				Type:     "fragment",
				Expected: fmt.Sprintf("%s: markup", id),
				Actual:   fmt.Sprintf("%s: error %q", id, f.Err),
				Records:  o.Records,
			}
		}
		return f, nil
	}
	return render.Fragment{}, &AssertionError{
		Type:     "fragment",
		Expected: fmt.Sprintf("%s: settled fragment", id),
		Actual:   fmt.Sprintf("fragments: %v", fragmentIDs(o.Fragments)),
		Records:  o.Records,
	}
}

// ExpectNoRecords checks that the run serialized nothing.
func ExpectNoRecords(o *Outcome) error {
	if len(o.Records) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     "no_records",
		Expected: "empty side channel",
		Actual:   fmt.Sprintf("%d records", len(o.Records)),
		Records:  o.Records,
	}
}

func fragmentIDs(fs []render.Fragment) []string {
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.ID
	}
	return ids
}
