package htmldoc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/entrhq/autonext/pkg/page"
)

// ErrNoHandler is returned by InvokeHandler when nothing is bound.
var ErrNoHandler = errors.New("no handler bound")

// Element is a node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ page.Element = (*Element)(nil)

// Node exposes the underlying node for assertions.
func (e *Element) Node() *html.Node {
	return e.node
}

// Attribute implements page.Element.
func (e *Element) Attribute(name string) (string, bool, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	v, ok := attr(e.node, name)
	return v, ok, nil
}

// TextContent implements page.Element.
func (e *Element) TextContent() (string, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var b strings.Builder
	textContent(e.node, &b)
	return b.String(), nil
}

// ComputedStyle implements page.Element from inline styles and the hidden
// attribute. Stylesheets are not evaluated.
func (e *Element) ComputedStyle(property string) (string, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	switch property {
	case "display":
		if _, hidden := attr(e.node, "hidden"); hidden {
			return "none", nil
		}
		if v, ok := inlineStyle(e.node, "display"); ok {
			return v, nil
		}
		return defaultDisplay(e.node.Data), nil
	case "visibility":
		// visibility is inherited.
		for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
			if v, ok := inlineStyle(n, "visibility"); ok {
				return v, nil
			}
		}
		return "visible", nil
	default:
		v, _ := inlineStyle(e.node, property)
		return v, nil
	}
}

// IsDisabled implements page.Element.
func (e *Element) IsDisabled() (bool, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	_, disabled := attr(e.node, "disabled")
	return disabled, nil
}

// Closest implements page.Element.
func (e *Element) Closest(selector string) (page.Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sel.Match(n) {
			return &Element{doc: e.doc, node: n}, nil
		}
	}
	return nil, nil
}

// HasHandler implements page.Element.
func (e *Element) HasHandler(kind page.HandlerKind) (bool, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	b, ok := e.doc.bindings[e.node]
	if !ok {
		return false, nil
	}
	_, ok = b.handlers[kind]
	return ok, nil
}

// InvokeHandler implements page.Element. The handler runs without the
// document lock held so it may edit the document.
func (e *Element) InvokeHandler(kind page.HandlerKind) error {
	e.doc.mu.RLock()
	var fn HandlerFunc
	if b, ok := e.doc.bindings[e.node]; ok {
		fn = b.handlers[kind]
	}
	e.doc.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("%s handler on %s: %w", kind, e, ErrNoHandler)
	}
	return fn()
}

// DispatchEvent implements page.Element.
//
// The event is recorded on the target, then listeners run along the
// propagation path (target only unless the event bubbles). A click also
// reaches the primary handler of each element on the path, as the onclick
// property would. Listener errors are swallowed like uncaught exceptions in
// a browser event listener.
func (e *Element) DispatchEvent(ev page.Event) error {
	e.doc.mu.Lock()
	e.doc.bindingFor(e.node).events = append(e.doc.bindingFor(e.node).events, ev)
	var calls []HandlerFunc
	for n := e.node; n != nil; n = n.Parent {
		if b, ok := e.doc.bindings[n]; ok {
			calls = append(calls, b.listeners[ev.Type]...)
			if ev.Type == "click" {
				if fn, ok := b.handlers[page.HandlerPrimary]; ok {
					calls = append(calls, fn)
				}
			}
		}
		if !ev.Bubbles {
			break
		}
	}
	e.doc.mu.Unlock()

	for _, fn := range calls {
		_ = fn()
	}
	return nil
}

func (e *Element) String() string {
	return page.Describe(e.node)
}

func inlineStyle(n *html.Node, property string) (string, bool) {
	style, ok := attr(n, "style")
	if !ok {
		return "", false
	}
	found, value := false, ""
	for _, decl := range strings.Split(style, ";") {
		name, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), property) {
			val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important"))
			found, value = true, strings.ToLower(val)
		}
	}
	return value, found
}

func defaultDisplay(tag string) string {
	switch tag {
	case "div", "p", "section", "article", "main", "header", "footer", "nav", "ul", "ol",
		"form", "h1", "h2", "h3", "h4", "h5", "h6", "body", "html", "aside", "fieldset":
		return "block"
	case "li":
		return "list-item"
	case "button", "input", "select", "textarea", "img":
		return "inline-block"
	case "table":
		return "table"
	case "head", "script", "style", "title", "meta", "link":
		return "none"
	default:
		return "inline"
	}
}
