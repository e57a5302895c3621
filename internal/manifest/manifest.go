// Package manifest loads and validates CUE asset manifests: the mapping
// from lazy module specifiers to built asset URLs that the renderer
// serializes alongside streamed boundaries.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/limn/internal/render"
)

//go:embed schema.cue
var schemaSrc []byte

// Error code constants, reported by the validate command.
const (
	ErrCodeNotFound    = "E001" // path missing or not a directory
	ErrCodeNoFiles     = "E002" // no CUE files found
	ErrCodeLoadFailed  = "E003" // CUE loader failed
	ErrCodeBuildFailed = "E004" // CUE evaluation failed
	ErrCodeSchema      = "E101" // manifest does not satisfy the schema
)

// LoadError is a manifest loading failure with an error code and, when
// CUE can attribute one, a source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// positioned wraps a CUE error as a LoadError, keeping the first
// position CUE reports.
func positioned(code string, err error) *LoadError {
	le := &LoadError{Code: code, Message: err.Error()}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return le
	}
	le.Message = errs[0].Error()
	if positions := cueerrors.Positions(errs[0]); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// Asset is one module's built outputs.
type Asset struct {
	Entry   string   `json:"entry"`
	CSS     []string `json:"css,omitempty"`
	Preload bool     `json:"preload,omitempty"`
}

// Manifest maps module specifiers to assets. It implements
// render.ModuleResolver.
type Manifest struct {
	Modules map[string]Asset
}

var _ render.ModuleResolver = (*Manifest)(nil)

// Resolve maps a module name to its asset bundle.
func (m *Manifest) Resolve(name string) (render.ModuleAssets, bool) {
	a, ok := m.Modules[name]
	if !ok {
		return render.ModuleAssets{}, false
	}
	return render.ModuleAssets{Entry: a.Entry, CSS: append([]string(nil), a.CSS...)}, true
}

// Names returns the module specifiers in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Modules))
	for name := range m.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PreloadLinks renders head link tags for the given modules: a
// modulepreload for each entry followed by its stylesheets, duplicates
// dropped. With no modules given it covers every module marked
// preload: true, in name order.
func (m *Manifest) PreloadLinks(modules ...string) []string {
	if len(modules) == 0 {
		for _, name := range m.Names() {
			if m.Modules[name].Preload {
				modules = append(modules, name)
			}
		}
	}
	var links []string
	seen := make(map[string]struct{})
	add := func(link string) {
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	for _, name := range modules {
		a, ok := m.Modules[name]
		if !ok {
			continue
		}
		add(fmt.Sprintf(`<link rel="modulepreload" href="%s">`, render.Escape(a.Entry, true)))
		for _, css := range a.CSS {
			add(fmt.Sprintf(`<link rel="stylesheet" href="%s">`, render.Escape(css, true)))
		}
	}
	return links
}

// Load reads every CUE file in dir as one instance and decodes the
// validated manifest.
func Load(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("accessing manifest directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("scanning %s: %v", dir, err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, positioned(ErrCodeLoadFailed, inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, positioned(ErrCodeBuildFailed, err)
	}
	return decode(ctx, v)
}

// LoadFile reads a single CUE manifest file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return LoadBytes(path, data)
}

// LoadBytes parses CUE source as a manifest. filename is used in error
// positions.
func LoadBytes(filename string, data []byte) (*Manifest, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, positioned(ErrCodeBuildFailed, err)
	}
	return decode(ctx, v)
}

// decode unifies the loaded value with the embedded schema and extracts
// the asset map.
func decode(ctx *cue.Context, v cue.Value) (*Manifest, error) {
	schema := ctx.CompileBytes(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, positioned(ErrCodeBuildFailed, err)
	}
	unified := v.Unify(schema)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, positioned(ErrCodeSchema, err)
	}

	m := &Manifest{Modules: make(map[string]Asset)}
	assetsVal := unified.LookupPath(cue.ParsePath("assets"))
	if !assetsVal.Exists() {
		return m, nil
	}
	iter, err := assetsVal.Fields()
	if err != nil {
		return nil, positioned(ErrCodeSchema, err)
	}
	for iter.Next() {
		var a Asset
		if err := iter.Value().Decode(&a); err != nil {
			return nil, positioned(ErrCodeSchema, err)
		}
		m.Modules[iter.Label()] = a
	}
	return m, nil
}

// findCUEFiles walks dir and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
