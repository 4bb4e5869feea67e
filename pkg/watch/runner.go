// Package watch keeps one session running per page load of a target.
//
// The runner opens a session for the target's current URL when it matches
// the configured patterns, and on every navigation closes that session and
// opens a fresh one. Handled state never crosses a navigation.
package watch

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/page"
	"github.com/entrhq/autonext/pkg/session"
)

// Matcher decides which URLs get a session.
type Matcher struct {
	patterns []glob.Glob
	raw      []string
}

// NewMatcher compiles URL glob patterns. "*" matches any run of characters,
// slashes included.
func NewMatcher(patterns ...string) (*Matcher, error) {
	m := &Matcher{raw: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid match pattern '%s': %w", p, err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Match reports whether url matches any pattern.
func (m *Matcher) Match(url string) bool {
	for _, g := range m.patterns {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns.
func (m *Matcher) Patterns() []string {
	return m.raw
}

// Runner drives sessions over a target's navigations.
type Runner struct {
	target  page.Target
	matcher *Matcher
	opts    session.Options
	logger  *logging.Logger

	// OnSession, if set, is called from Run for every session opened.
	OnSession func(*session.Session)
	// OnSessionClosed, if set, is called from Run after a session's loop
	// has stopped.
	OnSessionClosed func(*session.Session)
}

// NewRunner creates a runner.
func NewRunner(target page.Target, matcher *Matcher, logger *logging.Logger, opts session.Options) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{target: target, matcher: matcher, opts: opts, logger: logger}
}

type running struct {
	s      *session.Session
	cancel context.CancelFunc
	done   chan error
}

// Run blocks until ctx is done or the target goes away.
func (r *Runner) Run(ctx context.Context) error {
	navs := r.target.Navigations()
	url := r.target.URL()
	r.logger.Infof("watching target, current url %s", url)

	for {
		cur, err := r.open(ctx, url)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			r.close(cur)
			return nil
		case next, ok := <-navs:
			r.close(cur)
			if !ok {
				r.logger.Infof("target closed")
				return nil
			}
			r.logger.Infof("navigated to %s", next)
			url = next
		}
	}
}

func (r *Runner) open(ctx context.Context, url string) (*running, error) {
	if !r.matcher.Match(url) {
		r.logger.Infof("%s does not match %v, not watching", url, r.matcher.Patterns())
		return nil, nil
	}
	s, err := session.Open(r.target, r.logger, r.opts)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	sctx, cancel := context.WithCancel(ctx)
	cur := &running{s: s, cancel: cancel, done: make(chan error, 1)}
	if r.OnSession != nil {
		r.OnSession(s)
	}
	r.logger.Infof("session %s started for %s", s.ID(), url)
	go func() {
		cur.done <- s.Serve(sctx)
	}()
	return cur, nil
}

func (r *Runner) close(cur *running) {
	if cur == nil {
		return
	}
	cur.cancel()
	if err := <-cur.done; err != nil {
		r.logger.Warnf("session %s ended with error: %v", cur.s.ID(), err)
	}
	r.logger.Infof("session %s closed (handled=%t)", cur.s.ID(), cur.s.Handled())
	if r.OnSessionClosed != nil {
		r.OnSessionClosed(cur.s)
	}
}
