package hydrate

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const placeholderPrefix = "pl-"

// Document is the parsed server markup a session hydrates against.
// Splices mutate it the way the client runtime mutates the live DOM;
// sessions read placeholders to learn which boundaries streamed.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// ParseDocument parses server-rendered markup. Page fragments parse
// fine: the parser synthesizes the html/head/body shell around them.
func ParseDocument(markup string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("hydrate: parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// HasPlaceholder reports whether the open marker for boundary id is
// still in the tree.
func (d *Document) HasPlaceholder(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findOpen(id) != nil
}

// Placeholders lists the boundary ids whose markers are still in the
// tree, in document order.
func (d *Document) Placeholders() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	walk(d.root, func(n *html.Node) bool {
		if id, ok := placeholderID(n); ok {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// SpliceFragment replaces boundary id's fallback with the fragment
// markup: the nodes between the open template and the close comment are
// dropped, the fragment's nodes take their place, and both markers go.
func (d *Document) SpliceFragment(id, fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	open := d.findOpen(id)
	if open == nil {
		return fmt.Errorf("hydrate: no placeholder for %s", id)
	}
	parent := open.Parent
	end := closeMarker(open, id)
	if end == nil {
		return fmt.Errorf("hydrate: unterminated placeholder for %s", id)
	}

	nodes, err := parseInContext(fragment, parent)
	if err != nil {
		return fmt.Errorf("hydrate: parse fragment %s: %w", id, err)
	}

	for n := open.NextSibling; n != end; {
		next := n.NextSibling
		parent.RemoveChild(n)
		n = next
	}
	for _, n := range nodes {
		parent.InsertBefore(n, end)
	}
	parent.RemoveChild(open)
	parent.RemoveChild(end)
	return nil
}

// RemovePlaceholder drops boundary id's markers, leaving whatever sits
// between them: the fallback becomes final content. Used when an
// expected fragment will never arrive.
func (d *Document) RemovePlaceholder(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := d.findOpen(id)
	if open == nil {
		return
	}
	parent := open.Parent
	if end := closeMarker(open, id); end != nil {
		parent.RemoveChild(end)
	}
	parent.RemoveChild(open)
}

// HTML renders the whole document.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return "", fmt.Errorf("hydrate: render document: %w", err)
	}
	return b.String(), nil
}

// BodyHTML renders the body's contents, the natural comparison target
// for markup rendered as a page fragment.
func (d *Document) BodyHTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body := findAtom(d.root, atom.Body)
	if body == nil {
		return "", fmt.Errorf("hydrate: document has no body")
	}
	var b strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("hydrate: render document: %w", err)
		}
	}
	return b.String(), nil
}

// Text returns the document's concatenated text content.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		return true
	})
	return b.String()
}

// ElementByID renders the element carrying the given id attribute.
func (d *Document) ElementByID(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attrVal(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return "", false
	}
	var b strings.Builder
	if err := html.Render(&b, found); err != nil {
		return "", false
	}
	return b.String(), true
}

func (d *Document) findOpen(id string) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if pid, ok := placeholderID(n); ok && pid == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// closeMarker finds the matching close comment among open's following
// siblings.
func closeMarker(open *html.Node, id string) *html.Node {
	want := placeholderPrefix + id
	for n := open.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.CommentNode && strings.TrimSpace(n.Data) == want {
			return n
		}
	}
	return nil
}

// placeholderID extracts the boundary id from an open marker node.
func placeholderID(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return "", false
	}
	v := attrVal(n, "id")
	if !strings.HasPrefix(v, placeholderPrefix) {
		return "", false
	}
	return strings.TrimPrefix(v, placeholderPrefix), true
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// walk visits nodes depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(m *html.Node) bool {
		if m.Type == html.ElementNode && m.DataAtom == a {
			found = m
			return false
		}
		return true
	})
	return found
}

// parseInContext parses fragment markup as it would parse inside parent.
// The context is a detached copy so the parser never touches the live
// tree.
func parseInContext(fragment string, parent *html.Node) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	if parent != nil && parent.Type == html.ElementNode {
		ctx = &html.Node{Type: html.ElementNode, Data: parent.Data, DataAtom: parent.DataAtom}
	}
	return html.ParseFragment(strings.NewReader(fragment), ctx)
}
