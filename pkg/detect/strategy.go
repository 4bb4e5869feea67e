package detect

import (
	"context"
	"fmt"

	"github.com/entrhq/autonext/pkg/page"
)

// Default criteria of the host course pages.
const (
	CompletedLabel        = "任务点已完成"
	MarkerSelector        = `[aria-label="任务点已完成"]`
	StructuralSelector    = ".ans-job-icon.ans-job-icon-clear"
	ClassFragmentSelector = `[class*="ans-job-finished"]`
	IconSelector          = `[class*="icon-finish"]`
	ContainerSelector     = ".ans-attach-ct"
)

// Strategy is one way of recognizing the task-complete signal. Find returns
// matching elements in document order.
type Strategy interface {
	Name() string
	Find(ctx context.Context, doc page.Document) ([]page.Element, error)
}

// Selective is implemented by strategies that reduce to a single CSS
// selector. Those are cheap enough to evaluate against every mutation.
type Selective interface {
	Strategy
	Selector() string
}

type selectorStrategy struct {
	name     string
	selector string
}

// BySelector matches every element the selector matches.
func BySelector(name, selector string) Selective {
	return &selectorStrategy{name: name, selector: selector}
}

func (s *selectorStrategy) Name() string     { return s.name }
func (s *selectorStrategy) Selector() string { return s.selector }

func (s *selectorStrategy) Find(ctx context.Context, doc page.Document) ([]page.Element, error) {
	return doc.QuerySelectorAll(ctx, s.selector)
}

type textStrategy struct {
	name string
	text string
}

// ByText matches elements whose own text contains text. It walks the whole
// document and runs late in the order.
func ByText(name, text string) Strategy {
	return &textStrategy{name: name, text: text}
}

func (s *textStrategy) Name() string { return s.name }

func (s *textStrategy) Find(ctx context.Context, doc page.Document) ([]page.Element, error) {
	return doc.FindByText(ctx, s.text)
}

type visibleIconStrategy struct {
	name      string
	icon      string
	container string
}

// ByVisibleIcon matches icons that are rendered (display not none,
// visibility not hidden) and resolves each to its enclosing container, or
// to the icon itself when it has none.
func ByVisibleIcon(name, iconSelector, containerSelector string) Strategy {
	return &visibleIconStrategy{name: name, icon: iconSelector, container: containerSelector}
}

func (s *visibleIconStrategy) Name() string { return s.name }

func (s *visibleIconStrategy) Find(ctx context.Context, doc page.Document) ([]page.Element, error) {
	icons, err := doc.QuerySelectorAll(ctx, s.icon)
	if err != nil {
		return nil, err
	}
	var out []page.Element
	for _, icon := range icons {
		visible, err := isVisible(icon)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", icon, err)
		}
		if !visible {
			continue
		}
		resolved := icon
		if s.container != "" {
			ct, err := icon.Closest(s.container)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", icon, err)
			}
			if ct != nil {
				resolved = ct
			}
		}
		out = append(out, resolved)
	}
	return out, nil
}

func isVisible(el page.Element) (bool, error) {
	display, err := el.ComputedStyle("display")
	if err != nil {
		return false, err
	}
	if display == "none" {
		return false, nil
	}
	visibility, err := el.ComputedStyle("visibility")
	if err != nil {
		return false, err
	}
	return visibility != "hidden", nil
}

// DefaultStrategies returns the built-in strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		BySelector("marker-attribute", MarkerSelector),
		BySelector("structural-class", StructuralSelector),
		ByText("text-scan", CompletedLabel),
		BySelector("class-fragment", ClassFragmentSelector),
		ByVisibleIcon("visible-icon", IconSelector, ContainerSelector),
	}
}

// Selectors returns the selectors of the cheap strategies, in order.
func Selectors(strategies []Strategy) []string {
	var out []string
	for _, s := range strategies {
		if sel, ok := s.(Selective); ok {
			out = append(out, sel.Selector())
		}
	}
	return out
}
