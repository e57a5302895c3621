package harness

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/limn/internal/hydrate"
	"github.com/roach88/limn/internal/render"
)

// PageDef pairs a server component with its client hydration. The two
// sides must create owners and primitives in the same order: ids are
// positional, and hydration finds the server's records by id.
type PageDef struct {
	// Name keys the registry; scenarios and the CLI refer to pages by it.
	Name string

	// Doc is the one-line description listed by `limn pages`.
	Doc string

	// Render is the server component.
	Render render.Component

	// Hydrate rebuilds the reactive graph client-side and returns the
	// value the scenario's assertions inspect.
	Hydrate func(s *hydrate.Session) (any, error)
}

var (
	pageMu sync.RWMutex
	pages  = map[string]*PageDef{}
)

// RegisterPage adds a page to the registry. Registering the same name
// twice panics: pages are package-level declarations, so a collision is
// a programming error, not a runtime condition.
func RegisterPage(def *PageDef) {
	pageMu.Lock()
	defer pageMu.Unlock()
	if def.Name == "" {
		panic("harness: page has no name")
	}
	if _, dup := pages[def.Name]; dup {
		panic(fmt.Sprintf("harness: page %q registered twice", def.Name))
	}
	pages[def.Name] = def
}

// LookupPage returns the page registered under name.
func LookupPage(name string) (*PageDef, error) {
	pageMu.RLock()
	defer pageMu.RUnlock()
	def, ok := pages[name]
	if !ok {
		return nil, fmt.Errorf("harness: unknown page %q (have %v)", name, pageNamesLocked())
	}
	return def, nil
}

// PageNames lists registered page names in sorted order.
func PageNames() []string {
	pageMu.RLock()
	defer pageMu.RUnlock()
	return pageNamesLocked()
}

func pageNamesLocked() []string {
	names := make([]string, 0, len(pages))
	for name := range pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
