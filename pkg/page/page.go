// Package page defines the narrow view of a host document that the watcher
// needs: element lookup, a handful of element properties, synthetic event
// dispatch, and a feed of structural mutations.
//
// Two implementations exist. htmldoc is an in-memory document used for
// fixtures, tests, and local files. The browser drivers (pkg/browser and
// pkg/browser/rodpage) forward the same calls to a live page.
package page

import (
	"context"
	"fmt"
)

// Element is a reference to a node in the host document.
//
// Every accessor can fail because a live element may be detached or its
// page may be gone between two calls.
type Element interface {
	// Attribute returns the attribute value and whether it is present.
	Attribute(name string) (string, bool, error)

	// TextContent returns the concatenated text of the element's subtree.
	TextContent() (string, error)

	// ComputedStyle returns the computed value of a CSS property
	// (only "display" and "visibility" are relied upon).
	ComputedStyle(property string) (string, error)

	// IsDisabled reports whether the element is marked disabled.
	IsDisabled() (bool, error)

	// Closest returns the nearest ancestor (or the element itself) that
	// matches selector, or nil when there is none.
	Closest(selector string) (Element, error)

	// HasHandler reports whether a handler of the given kind is attached.
	HasHandler(kind HandlerKind) (bool, error)

	// InvokeHandler calls the attached handler of the given kind.
	InvokeHandler(kind HandlerKind) error

	// DispatchEvent fires a synthetic event at the element.
	DispatchEvent(ev Event) error

	// String describes the element for diagnostics, e.g. div#id.cls.
	String() string
}

// Document is the query surface of the host page.
type Document interface {
	// QuerySelectorAll returns every match in document order.
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)

	// QuerySelector returns the first match in document order, or nil.
	QuerySelector(ctx context.Context, selector string) (Element, error)

	// FindByText returns, in document order, the elements whose own text
	// nodes contain text. Script and style contents are ignored.
	FindByText(ctx context.Context, text string) ([]Element, error)
}

// HandlerKind distinguishes the ways a host page can bind an action to a
// control.
type HandlerKind int

const (
	// HandlerPrimary is the element's onclick property.
	HandlerPrimary HandlerKind = iota
	// HandlerLegacy is the inline onclick attribute source, when it is not
	// the same function as the onclick property.
	HandlerLegacy
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerPrimary:
		return "primary"
	case HandlerLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("HandlerKind(%d)", int(k))
	}
}

// EventKind selects the DOM event constructor used for a synthetic event.
type EventKind string

const (
	EventMouse    EventKind = "MouseEvent"
	EventKeyboard EventKind = "KeyboardEvent"
)

// Event describes a synthetic DOM event.
type Event struct {
	Kind       EventKind
	Type       string
	Key        string
	Bubbles    bool
	Cancelable bool
}

// ClickEvent is a bubbling, cancelable pointer click.
func ClickEvent() Event {
	return Event{Kind: EventMouse, Type: "click", Bubbles: true, Cancelable: true}
}

// KeyEvent is a bubbling, cancelable key event of the given type
// ("keydown", "keypress", "keyup").
func KeyEvent(typ, key string) Event {
	return Event{Kind: EventKeyboard, Type: typ, Key: key, Bubbles: true, Cancelable: true}
}

func (e Event) String() string {
	if e.Key != "" {
		return fmt.Sprintf("%s(%s %q)", e.Kind, e.Type, e.Key)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Type)
}
