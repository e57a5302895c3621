package journal

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Diff reports how two journaled renders differ. An empty Diff means the
// renders are equivalent.
type Diff struct {
	Details []string
}

// Equal reports whether no differences were found.
func (d Diff) Equal() bool { return len(d.Details) == 0 }

func (d *Diff) addf(format string, args ...any) {
	d.Details = append(d.Details, fmt.Sprintf(format, args...))
}

// Verify compares two journaled renders for equivalence.
//
// HTML chunks must match in content and order: the walk emits markup
// deterministically. Wire records must match as per-boundary payload
// sequences; boundaries that settle in the background may interleave
// across ids between runs, but each id's own records arrive in order.
// Fragments must match as settled outcomes per boundary id; arrival
// order between boundaries is scheduling, not behavior.
func (j *Journal) Verify(ctx context.Context, tokenA, tokenB string) (Diff, error) {
	eventsA, err := j.Events(ctx, tokenA)
	if err != nil {
		return Diff{}, fmt.Errorf("verify %s: %w", tokenA, err)
	}
	eventsB, err := j.Events(ctx, tokenB)
	if err != nil {
		return Diff{}, fmt.Errorf("verify %s: %w", tokenB, err)
	}

	var d Diff
	compareHTML(&d, eventsA, eventsB)
	compareRecords(&d, eventsA, eventsB)

	fragsA, err := j.Fragments(ctx, tokenA)
	if err != nil {
		return Diff{}, fmt.Errorf("verify %s: %w", tokenA, err)
	}
	fragsB, err := j.Fragments(ctx, tokenB)
	if err != nil {
		return Diff{}, fmt.Errorf("verify %s: %w", tokenB, err)
	}
	compareFragments(&d, fragsA, fragsB)

	return d, nil
}

func compareHTML(d *Diff, a, b []Event) {
	htmlA := joinHTML(a)
	htmlB := joinHTML(b)
	if htmlA != htmlB {
		d.addf("html differs: %d bytes vs %d bytes", len(htmlA), len(htmlB))
	}
}

func joinHTML(events []Event) string {
	var sb strings.Builder
	for _, e := range events {
		if e.Kind == KindHTML {
			sb.WriteString(e.Payload)
		}
	}
	return sb.String()
}

func compareRecords(d *Diff, a, b []Event) {
	recsA := groupRecords(a)
	recsB := groupRecords(b)

	for _, id := range sortedIDs(recsA) {
		seqA := recsA[id]
		seqB, ok := recsB[id]
		if !ok {
			d.addf("record %s: present in first render only", id)
			continue
		}
		if len(seqA) != len(seqB) {
			d.addf("record %s: %d entries vs %d entries", id, len(seqA), len(seqB))
			continue
		}
		for i := range seqA {
			if seqA[i] != seqB[i] {
				d.addf("record %s entry %d: %s vs %s", id, i, seqA[i], seqB[i])
			}
		}
	}
	for _, id := range sortedIDs(recsB) {
		if _, ok := recsA[id]; !ok {
			d.addf("record %s: present in second render only", id)
		}
	}
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// groupRecords collects canonical record payloads per boundary id,
// preserving each id's arrival order.
func groupRecords(events []Event) map[string][]string {
	groups := map[string][]string{}
	for _, e := range events {
		if e.Kind == KindRecord {
			groups[e.BoundaryID] = append(groups[e.BoundaryID], e.Payload)
		}
	}
	return groups
}

func compareFragments(d *Diff, a, b []FragmentState) {
	byID := func(frags []FragmentState) map[string]FragmentState {
		m := make(map[string]FragmentState, len(frags))
		for _, f := range frags {
			m[f.BoundaryID] = f
		}
		return m
	}
	mapA := byID(a)
	mapB := byID(b)

	for _, id := range sortedIDs(mapA) {
		fa := mapA[id]
		fb, ok := mapB[id]
		if !ok {
			d.addf("fragment %s: present in first render only", id)
			continue
		}
		if fa.State != fb.State {
			d.addf("fragment %s: state %s vs %s", id, fa.State, fb.State)
		}
		if fa.HTML != fb.HTML {
			d.addf("fragment %s: html differs", id)
		}
		if fa.Error != fb.Error {
			d.addf("fragment %s: error %q vs %q", id, fa.Error, fb.Error)
		}
	}
	for _, id := range sortedIDs(mapB) {
		if _, ok := mapA[id]; !ok {
			d.addf("fragment %s: present in second render only", id)
		}
	}
}
