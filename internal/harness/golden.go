package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/limn/internal/wire"
)

// Snapshot is the golden-file form of a scenario run: the server shell,
// the record stream, and the settled fragments, all in canonical JSON.
// The hydrated client side is deliberately absent; goldens pin what
// crossed the wire, not what the client computed from it.
type Snapshot struct {
	Scenario  string
	Page      string
	Mode      string
	Token     string
	HTML      string
	Records   []wire.Record
	Fragments []SnapshotFragment
}

// SnapshotFragment is the golden form of one streamed fragment.
type SnapshotFragment struct {
	ID   string
	HTML string
	Err  string
}

// toCanonicalMap flattens the snapshot for wire.MarshalCanonical, which
// handles maps and primitives but not structs. Records are re-encoded
// and re-parsed so their golden form is exactly their wire form.
func (s *Snapshot) toCanonicalMap() (map[string]any, error) {
	recs := make([]any, len(s.Records))
	for i, r := range s.Records {
		data, err := wire.MarshalRecord(r)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		recs[i] = m
	}

	out := map[string]any{
		"scenario": s.Scenario,
		"page":     s.Page,
		"mode":     s.Mode,
		"token":    s.Token,
		"html":     s.HTML,
		"records":  recs,
	}
	if len(s.Fragments) > 0 {
		frags := make([]any, len(s.Fragments))
		for i, f := range s.Fragments {
			fm := map[string]any{"id": f.ID}
			if f.HTML != "" {
				fm["html"] = f.HTML
			}
			if f.Err != "" {
				fm["err"] = f.Err
			}
			frags[i] = fm
		}
		out["fragments"] = frags
	}
	return out, nil
}

// RunWithGolden executes a scenario and compares the run against the
// golden file testdata/golden/<scenario.Name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the outcome so callers can layer structural assertions on top
// of the byte comparison; the error is the scenario's own run failure.
func RunWithGolden(t *testing.T, s *Scenario) (*Outcome, error) {
	t.Helper()
	out, err := Run(s)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssertGolden compares an already-run outcome against the golden file
// named by the scenario. Useful when the caller needs the outcome for
// other assertions and does not want to run twice.
func AssertGolden(t *testing.T, s *Scenario, out *Outcome) error {
	t.Helper()

	snap := Snapshot{
		Scenario: s.Name,
		Page:     s.Page,
		Mode:     out.Mode,
		Token:    out.Token,
		HTML:     out.HTML,
		Records:  out.Records,
	}
	for _, f := range out.Fragments {
		sf := SnapshotFragment{ID: f.ID, HTML: f.HTML}
		if f.Err != nil {
			sf.Err = f.Err.Error()
		}
		snap.Fragments = append(snap.Fragments, sf)
	}

	m, err := snap.toCanonicalMap()
	if err != nil {
		return err
	}
	data, err := wire.MarshalCanonical(m)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
	return nil
}
