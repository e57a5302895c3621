package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/limn/internal/patch"
)

// Patch fixtures are YAML-scripted projection replays: an initial state,
// a sequence of batches, and the expected state after each one. The test
// suite round-trips every batch through its canonical wire form before
// applying it, so a fixture exercises the tuple codec and the applier
// together.

// PatchFixture is one YAML fixture file.
type PatchFixture struct {
	Name    string         `yaml:"name"`
	Doc     string         `yaml:"doc"`
	Initial map[string]any `yaml:"initial"`
	Steps   []PatchStep    `yaml:"steps"`
}

// PatchStep is one batch plus the state it must produce.
type PatchStep struct {
	Ops   []PatchOp      `yaml:"ops"`
	State map[string]any `yaml:"state"`
}

// PatchOp is the YAML form of a single operation. Exactly one of the
// default (set), insert, or delete interpretations applies.
type PatchOp struct {
	Path   []any `yaml:"path"`
	Value  any   `yaml:"value"`
	Insert bool  `yaml:"insert"`
	Delete bool  `yaml:"delete"`
}

// Batch converts the step's ops to the typed form.
func (s PatchStep) Batch() (patch.Batch, error) {
	batch := make(patch.Batch, 0, len(s.Ops))
	for i, op := range s.Ops {
		if op.Insert && op.Delete {
			return nil, fmt.Errorf("op %d: insert and delete are exclusive", i)
		}
		path := make(patch.Path, len(op.Path))
		copy(path, op.Path)
		kind := patch.OpSet
		switch {
		case op.Delete:
			kind = patch.OpDelete
		case op.Insert:
			kind = patch.OpInsert
		}
		batch = append(batch, patch.Op{Path: path, Value: op.Value, Kind: kind})
	}
	return batch, nil
}

// LoadPatchFixtures reads every .yaml file under dir, in name order.
// Unknown fields are rejected: a typo in a fixture fails loudly instead
// of silently dropping an op.
func LoadPatchFixtures(dir string) ([]PatchFixture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var fixtures []PatchFixture
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		var fx PatchFixture
		derr := dec.Decode(&fx)
		f.Close()
		if derr != nil {
			return nil, fmt.Errorf("fixture %s: %w", e.Name(), derr)
		}
		if fx.Name == "" {
			return nil, fmt.Errorf("fixture %s: missing name", e.Name())
		}
		if len(fx.Steps) == 0 {
			return nil, fmt.Errorf("fixture %s: no steps", e.Name())
		}
		fixtures = append(fixtures, fx)
	}
	return fixtures, nil
}
