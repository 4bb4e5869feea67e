package activate

import (
	"fmt"

	"github.com/entrhq/autonext/pkg/page"
)

// Technique is one way of making the host page follow the control. Apply
// reports fired=false when the technique does not apply to the control,
// e.g. no handler is attached.
type Technique struct {
	Name  string
	Apply func(el page.Element) (fired bool, err error)
}

// DefaultTechniques returns the techniques in firing order.
func DefaultTechniques() []Technique {
	return []Technique{
		{Name: "primary-handler", Apply: invoke(page.HandlerPrimary)},
		{Name: "click-event", Apply: dispatch(page.ClickEvent())},
		{Name: "legacy-handler", Apply: invoke(page.HandlerLegacy)},
		{Name: "enter-key", Apply: dispatch(
			page.KeyEvent("keydown", "Enter"),
			page.KeyEvent("keypress", "Enter"),
		)},
	}
}

func invoke(kind page.HandlerKind) func(page.Element) (bool, error) {
	return func(el page.Element) (bool, error) {
		ok, err := el.HasHandler(kind)
		if err != nil || !ok {
			return false, err
		}
		return true, el.InvokeHandler(kind)
	}
}

func dispatch(events ...page.Event) func(page.Element) (bool, error) {
	return func(el page.Element) (bool, error) {
		for _, ev := range events {
			if err := el.DispatchEvent(ev); err != nil {
				return true, err
			}
		}
		return true, nil
	}
}

// TechniquesByName selects default techniques by name, in the given order.
func TechniquesByName(names ...string) ([]Technique, error) {
	all := DefaultTechniques()
	out := make([]Technique, 0, len(names))
	for _, name := range names {
		found := false
		for _, t := range all {
			if t.Name == name {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown technique %q", name)
		}
	}
	return out, nil
}
