package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/autonext/pkg/browser/bridge"
	"github.com/entrhq/autonext/pkg/page"
)

// Element is a Playwright element handle seen as a page.Element.
type Element struct {
	handle playwright.ElementHandle
}

var _ page.Element = (*Element)(nil)

// Handle returns the underlying element handle.
func (e *Element) Handle() playwright.ElementHandle {
	return e.handle
}

func (e *Element) eval(js string, arg ...interface{}) (interface{}, error) {
	v, err := e.handle.Evaluate(js, arg...)
	if err != nil {
		return nil, fmt.Errorf("evaluate on %s: %w", e, err)
	}
	return v, nil
}

func (e *Element) evalString(js string, arg ...interface{}) (string, error) {
	v, err := e.eval(js, arg...)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *Element) evalBool(js string, arg ...interface{}) (bool, error) {
	v, err := e.eval(js, arg...)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Attribute implements page.Element.
func (e *Element) Attribute(name string) (string, bool, error) {
	v, err := e.eval(bridge.AttributeJS, name)
	if err != nil || v == nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

// TextContent implements page.Element.
func (e *Element) TextContent() (string, error) {
	return e.evalString(bridge.TextContentJS)
}

// ComputedStyle implements page.Element.
func (e *Element) ComputedStyle(property string) (string, error) {
	return e.evalString(bridge.ComputedStyleJS, property)
}

// IsDisabled implements page.Element.
func (e *Element) IsDisabled() (bool, error) {
	return e.evalBool(bridge.DisabledJS)
}

// Closest implements page.Element.
func (e *Element) Closest(selector string) (page.Element, error) {
	h, err := e.handle.EvaluateHandle(bridge.ClosestJS, selector)
	if err != nil {
		return nil, fmt.Errorf("closest %q on %s: %w", selector, e, err)
	}
	el := h.AsElement()
	if el == nil {
		_ = h.Dispose()
		return nil, nil
	}
	return &Element{handle: el}, nil
}

// HasHandler implements page.Element.
func (e *Element) HasHandler(kind page.HandlerKind) (bool, error) {
	return e.evalBool(bridge.HasHandlerJS, kind.String())
}

// InvokeHandler implements page.Element.
func (e *Element) InvokeHandler(kind page.HandlerKind) error {
	_, err := e.eval(bridge.InvokeHandlerJS, kind.String())
	return err
}

// DispatchEvent implements page.Element.
func (e *Element) DispatchEvent(ev page.Event) error {
	_, err := e.eval(bridge.DispatchEventJS, bridge.EventArgs(ev))
	return err
}

func (e *Element) String() string {
	v, err := e.handle.Evaluate(bridge.DescribeJS)
	if err != nil {
		return "<detached>"
	}
	s, _ := v.(string)
	return s
}
