// Package htmldoc implements page.Target over an in-memory HTML tree.
//
// The tree is parsed with golang.org/x/net/html and queried with cascadia
// selectors. Handlers and listeners are plain Go functions bound by the
// caller, so a fixture can stand in for the host page's scripts. Edits made
// through Append, SetAttribute, Remove and Replace are reported to mutation
// subscribers the way a MutationObserver would see them.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/entrhq/autonext/pkg/page"
)

// HandlerFunc stands in for a host-page function bound to an element.
type HandlerFunc func() error

type binding struct {
	handlers  map[page.HandlerKind]HandlerFunc
	listeners map[string][]HandlerFunc
	events    []page.Event
}

type subscriber struct {
	opts page.ObserveOptions
	fn   func([]page.MutationRecord)
}

// Document is a mutable in-memory page.
type Document struct {
	mu       sync.RWMutex
	root     *html.Node
	url      string
	bindings map[*html.Node]*binding
	selCache map[string]cascadia.Selector

	subMu  sync.Mutex
	subs   map[int]subscriber
	nextID int

	navs     chan string
	navsOnce sync.Once
}

var _ page.Target = (*Document)(nil)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		root:     root,
		url:      "about:blank",
		bindings: make(map[*html.Node]*binding),
		selCache: make(map[string]cascadia.Selector),
		subs:     make(map[int]subscriber),
		navs:     make(chan string, 16),
	}, nil
}

// ParseString is Parse for a literal.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// LoadFile parses the file at path and uses its file:// URL.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if abs, absErr := filepath.Abs(path); absErr == nil {
		doc.url = "file://" + filepath.ToSlash(abs)
	}
	return doc, nil
}

// URL implements page.Target.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Navigations implements page.Target.
func (d *Document) Navigations() <-chan string {
	return d.navs
}

// Navigate records a main-frame navigation to url. The tree is kept; call
// Replace to swap the content.
func (d *Document) Navigate(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	select {
	case d.navs <- url:
	default:
	}
}

// CloseNavigations closes the navigation channel, signalling that the page
// is gone.
func (d *Document) CloseNavigations() {
	d.navsOnce.Do(func() { close(d.navs) })
}

// compile returns a cached compiled selector. Callers hold d.mu.
func (d *Document) compile(selector string) (cascadia.Selector, error) {
	if sel, ok := d.selCache[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	d.selCache[selector] = sel
	return sel, nil
}

// QuerySelectorAll implements page.Document.
func (d *Document) QuerySelectorAll(ctx context.Context, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	nodes := sel.MatchAll(d.root)
	out := make([]page.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{doc: d, node: n})
	}
	return out, nil
}

// QuerySelector implements page.Document.
func (d *Document) QuerySelector(ctx context.Context, selector string) (page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	n := sel.MatchFirst(d.root)
	if n == nil {
		return nil, nil
	}
	return &Element{doc: d, node: n}, nil
}

// FindByText implements page.Document.
func (d *Document) FindByText(ctx context.Context, text string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []page.Element
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isOpaque(n.Data) {
				return
			}
			if strings.Contains(ownText(n), text) {
				out = append(out, &Element{doc: d, node: n})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out, nil
}

// Element returns the first element matching selector, for fixtures and
// assertions. It returns nil when nothing matches.
func (d *Document) Element(selector string) *Element {
	el, err := d.QuerySelector(context.Background(), selector)
	if err != nil || el == nil {
		return nil
	}
	return el.(*Element)
}

// Bind attaches fn as a handler of the given kind to the first element
// matching selector.
func (d *Document) Bind(selector string, kind page.HandlerKind, fn HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return err
	}
	d.bindingFor(n).handlers[kind] = fn
	return nil
}

// Listen adds an event listener for typ to the first element matching
// selector. Listeners run when a dispatched event reaches the element.
func (d *Document) Listen(selector, typ string, fn HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return err
	}
	b := d.bindingFor(n)
	b.listeners[typ] = append(b.listeners[typ], fn)
	return nil
}

// Events returns the synthetic events dispatched at the first element
// matching selector.
func (d *Document) Events(selector string) []page.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return nil
	}
	b, ok := d.bindings[n]
	if !ok {
		return nil
	}
	return append([]page.Event(nil), b.events...)
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

func (d *Document) first(selector string) (*html.Node, error) {
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	n := sel.MatchFirst(d.root)
	if n == nil {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return n, nil
}

func (d *Document) bindingFor(n *html.Node) *binding {
	b, ok := d.bindings[n]
	if !ok {
		b = &binding{
			handlers:  make(map[page.HandlerKind]HandlerFunc),
			listeners: make(map[string][]HandlerFunc),
		}
		d.bindings[n] = b
	}
	return b
}

func isOpaque(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func ownText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func textContent(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textContent(c, b)
	}
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
