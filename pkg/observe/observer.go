// Package observe turns mutation batches into debounced completion
// re-checks.
//
// Only cheap criteria (single selectors) are evaluated against mutated
// nodes. A batch that contains any qualifying node schedules one re-check
// after the debounce delay; a later qualifying batch replaces the pending
// one.
package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/loop"
	"github.com/entrhq/autonext/pkg/page"
)

// DefaultDebounce is the delay between a qualifying batch and its re-check.
const DefaultDebounce = 500 * time.Millisecond

// DefaultAttributes are the attributes whose changes are reported.
var DefaultAttributes = []string{"class", "aria-label"}

// Options configures an Observer.
type Options struct {
	// Selectors are the cheap completion criteria.
	Selectors []string
	// Root selects the observed subtree, "body" by default.
	Root            string
	AttributeFilter []string
	Debounce        time.Duration
	// Recheck runs on the loop once the debounce delay has passed.
	Recheck func()
}

// Observer must only be used from its scheduler's loop, except for the
// subscription callback, which hands batches over with Post.
type Observer struct {
	sched    loop.Scheduler
	logger   *logging.Logger
	criteria []cascadia.Selector
	opts     Options

	pending   loop.Timer
	scheduled int
	stop      func()
	stopped   bool
}

// New compiles the criteria. It fails on a selector cascadia cannot parse.
func New(sched loop.Scheduler, logger *logging.Logger, opts Options) (*Observer, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Root == "" {
		opts.Root = "body"
	}
	if opts.AttributeFilter == nil {
		opts.AttributeFilter = DefaultAttributes
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	criteria := make([]cascadia.Selector, 0, len(opts.Selectors))
	for _, s := range opts.Selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("compile criterion %q: %w", s, err)
		}
		criteria = append(criteria, sel)
	}
	return &Observer{sched: sched, logger: logger, criteria: criteria, opts: opts}, nil
}

// Start subscribes to src. Batches are posted to the loop and handled there.
func (o *Observer) Start(ctx context.Context, src page.MutationSource) error {
	stop, err := src.ObserveMutations(ctx, page.ObserveOptions{
		Root:            o.opts.Root,
		AttributeFilter: o.opts.AttributeFilter,
	}, func(batch []page.MutationRecord) {
		o.sched.Post(func() { o.Handle(batch) })
	})
	if err != nil {
		return fmt.Errorf("observe mutations: %w", err)
	}
	o.stop = stop
	o.logger.Debugf("observing %s for completion markers", o.opts.Root)
	return nil
}

// Handle processes one batch and reports whether it scheduled a re-check.
func (o *Observer) Handle(batch []page.MutationRecord) bool {
	if o.stopped || !o.qualifies(batch) {
		return false
	}
	if o.pending != nil {
		o.pending.Stop()
	}
	o.scheduled++
	o.pending = o.sched.After(o.opts.Debounce, func() {
		o.pending = nil
		if o.stopped {
			return
		}
		o.logger.Debugf("completion marker appeared, re-checking")
		if o.opts.Recheck != nil {
			o.opts.Recheck()
		}
	})
	return true
}

func (o *Observer) qualifies(batch []page.MutationRecord) bool {
	for _, rec := range batch {
		switch rec.Type {
		case page.MutationChildList:
			for _, n := range rec.Added {
				if o.matchTree(n) {
					return true
				}
			}
		case page.MutationAttributes:
			if o.match(rec.Target) {
				return true
			}
		}
	}
	return false
}

func (o *Observer) matchTree(n *html.Node) bool {
	if o.match(n) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if o.matchTree(c) {
			return true
		}
	}
	return false
}

func (o *Observer) match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, sel := range o.criteria {
		if sel.Match(n) {
			return true
		}
	}
	return false
}

// Scheduled returns how many re-checks have been scheduled, including ones
// later replaced.
func (o *Observer) Scheduled() int {
	return o.scheduled
}

// Pending reports whether a re-check is waiting for its delay.
func (o *Observer) Pending() bool {
	return o.pending != nil
}

// Stop unsubscribes and cancels a pending re-check. Stop is idempotent.
func (o *Observer) Stop() {
	if o.stopped {
		return
	}
	o.stopped = true
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
	if o.stop != nil {
		o.stop()
	}
}
