// Package activate advances the host page to the next unit by activating its
// navigation control, at most once per session.
package activate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/loop"
	"github.com/entrhq/autonext/pkg/page"
)

var (
	// ErrAlreadyHandled is returned once the session has activated.
	ErrAlreadyHandled = errors.New("already handled")

	// ErrControlNotFound is returned when no locator matches.
	ErrControlNotFound = errors.New("navigation control not found")

	// ErrControlIneligible is returned when the control is hidden or
	// disabled.
	ErrControlIneligible = errors.New("navigation control not visible or disabled")
)

// DefaultStagger separates consecutive techniques.
const DefaultStagger = 100 * time.Millisecond

// Locator finds the navigation control.
type Locator struct {
	Name     string
	Selector string
}

// DefaultLocators returns the locators in priority order.
func DefaultLocators() []Locator {
	return []Locator{
		{Name: "id", Selector: "#prevNextFocusNext"},
		{Name: "class", Selector: ".prevNextFocusNext"},
		{Name: "onclick", Selector: `[onclick*="PCount.next"]`},
	}
}

// Outcome records what one technique did.
type Outcome struct {
	Technique string
	Fired     bool
	Err       error
	At        time.Time
}

// Options configures a Dispatcher. Zero fields take defaults.
type Options struct {
	Locators   []Locator
	Techniques []Technique
	Stagger    time.Duration
}

// Dispatcher owns the handled flag of one session. It must only be used
// from the session's loop.
type Dispatcher struct {
	sched      loop.Scheduler
	logger     *logging.Logger
	locators   []Locator
	techniques []Technique
	stagger    time.Duration

	handled     bool
	foundLogged bool
	outcomes    []Outcome
	timers      []loop.Timer
}

// New creates a dispatcher that schedules techniques on sched.
func New(sched loop.Scheduler, logger *logging.Logger, opts Options) *Dispatcher {
	if len(opts.Locators) == 0 {
		opts.Locators = DefaultLocators()
	}
	if len(opts.Techniques) == 0 {
		opts.Techniques = DefaultTechniques()
	}
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		sched:      sched,
		logger:     logger,
		locators:   opts.Locators,
		techniques: opts.Techniques,
		stagger:    opts.Stagger,
	}
}

// Handled reports whether the session has activated.
func (d *Dispatcher) Handled() bool {
	return d.handled
}

// Outcomes returns the outcomes recorded so far.
func (d *Dispatcher) Outcomes() []Outcome {
	return append([]Outcome(nil), d.outcomes...)
}

// Locate returns the control and the locator that found it, or
// ErrControlNotFound.
func (d *Dispatcher) Locate(ctx context.Context, doc page.Document) (page.Element, Locator, error) {
	for _, l := range d.locators {
		el, err := doc.QuerySelector(ctx, l.Selector)
		if err != nil {
			d.logger.Warnf("locator %s (%s) failed: %v", l.Name, l.Selector, err)
			continue
		}
		if el != nil {
			return el, l, nil
		}
	}
	return nil, Locator{}, ErrControlNotFound
}

// Eligible reports whether el can be activated: rendered and enabled.
func Eligible(el page.Element) (bool, error) {
	display, err := el.ComputedStyle("display")
	if err != nil {
		return false, fmt.Errorf("read display of %s: %w", el, err)
	}
	disabled, err := el.IsDisabled()
	if err != nil {
		return false, fmt.Errorf("read disabled state of %s: %w", el, err)
	}
	return display != "none" && !disabled, nil
}

// Activate locates the control and, if it is eligible, sets the handled
// flag and schedules every technique. The flag is set before any technique
// runs, so a later call returns ErrAlreadyHandled even while techniques are
// still pending.
func (d *Dispatcher) Activate(ctx context.Context, doc page.Document) error {
	if d.handled {
		d.logger.Debugf("already handled, skipping activation")
		return ErrAlreadyHandled
	}

	el, loc, err := d.Locate(ctx, doc)
	if err != nil {
		d.logger.Warnf("navigation control not found")
		return err
	}
	if !d.foundLogged {
		d.logger.Infof("found navigation control %s via %s locator", el, loc.Name)
		d.foundLogged = true
	}

	ok, err := Eligible(el)
	if err != nil {
		d.logger.Warnf("cannot check navigation control: %v", err)
		return fmt.Errorf("%w: %v", ErrControlIneligible, err)
	}
	if !ok {
		d.logger.Warnf("navigation control %s is not visible or is disabled", el)
		return ErrControlIneligible
	}

	d.handled = true
	for i, tech := range d.techniques {
		tech := tech
		t := d.sched.After(time.Duration(i)*d.stagger, func() {
			d.run(tech, el)
		})
		d.timers = append(d.timers, t)
	}
	d.logger.Infof("activating navigation control with %d techniques", len(d.techniques))
	return nil
}

func (d *Dispatcher) run(tech Technique, el page.Element) {
	out := Outcome{Technique: tech.Name, At: d.sched.Now()}
	func() {
		defer func() {
			if r := recover(); r != nil {
				out.Fired = true
				out.Err = fmt.Errorf("panic: %v", r)
			}
		}()
		out.Fired, out.Err = tech.Apply(el)
	}()
	d.outcomes = append(d.outcomes, out)

	switch {
	case out.Err != nil:
		d.logger.Errorf("technique %s failed: %v", tech.Name, out.Err)
	case !out.Fired:
		d.logger.Debugf("technique %s skipped", tech.Name)
	default:
		d.logger.Infof("technique %s fired", tech.Name)
	}
}

// Stop cancels techniques that have not run yet.
func (d *Dispatcher) Stop() {
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}
