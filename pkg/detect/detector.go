// Package detect decides whether the current content unit is complete.
//
// A Detector tries a fixed list of strategies in priority order. The first
// strategy that returns any element wins and its first element (in document
// order) is the match. Results are never cached: every call looks at the
// document as it is now.
package detect

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/page"
)

// Match is a positive detection.
type Match struct {
	Strategy string
	Element  page.Element
}

// Trace holds the outcome of every strategy a detection pass evaluated.
type Trace struct {
	Entries []TraceEntry
}

// TraceEntry is one strategy's result. Skipped entries were not evaluated
// because an earlier strategy already matched.
type TraceEntry struct {
	Strategy string
	Matches  int
	Err      error
	Skipped  bool
}

// Matched returns the winning entry, if any.
func (t *Trace) Matched() (TraceEntry, bool) {
	for _, e := range t.Entries {
		if e.Matches > 0 {
			return e, true
		}
	}
	return TraceEntry{}, false
}

// Format writes the trace as an aligned table.
func (t *Trace) Format(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tMATCHES\tRESULT")
	for _, e := range t.Entries {
		var result string
		switch {
		case e.Skipped:
			result = "skipped"
		case e.Err != nil:
			result = "error: " + e.Err.Error()
		case e.Matches > 0:
			result = "match"
		default:
			result = "none"
		}
		matches := fmt.Sprint(e.Matches)
		if e.Skipped {
			matches = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Strategy, matches, result)
	}
	return tw.Flush()
}

// Detector evaluates strategies against a document.
type Detector struct {
	strategies []Strategy
	logger     *logging.Logger
}

// New creates a detector. With no strategies it uses DefaultStrategies.
func New(logger *logging.Logger, strategies ...Strategy) *Detector {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{strategies: strategies, logger: logger}
}

// Strategies returns the strategies in priority order.
func (d *Detector) Strategies() []Strategy {
	return d.strategies
}

// Detect reports whether the unit is complete.
func (d *Detector) Detect(ctx context.Context, doc page.Document) (Match, bool) {
	m, _, ok := d.DetectTrace(ctx, doc)
	return m, ok
}

// DetectTrace is Detect with the per-strategy trace. A strategy that fails
// counts as no match and the next one runs.
func (d *Detector) DetectTrace(ctx context.Context, doc page.Document) (Match, *Trace, bool) {
	trace := &Trace{Entries: make([]TraceEntry, 0, len(d.strategies))}
	var (
		match Match
		found bool
	)
	for _, s := range d.strategies {
		if found {
			trace.Entries = append(trace.Entries, TraceEntry{Strategy: s.Name(), Skipped: true})
			continue
		}
		if err := ctx.Err(); err != nil {
			trace.Entries = append(trace.Entries, TraceEntry{Strategy: s.Name(), Err: err})
			continue
		}

		elements, err := s.Find(ctx, doc)
		entry := TraceEntry{Strategy: s.Name(), Matches: len(elements), Err: err}
		if err != nil {
			entry.Matches = 0
			d.logger.Warnf("strategy %s failed: %v", s.Name(), err)
		} else {
			d.logger.Debugf("strategy %s: %d match(es)", s.Name(), len(elements))
		}
		trace.Entries = append(trace.Entries, entry)

		if err == nil && len(elements) > 0 {
			match = Match{Strategy: s.Name(), Element: elements[0]}
			found = true
		}
	}

	if found {
		d.logger.Infof("task complete: %s matched %s", match.Strategy, match.Element)
	} else {
		d.logger.Infof("task not complete yet")
	}
	return match, trace, found
}
