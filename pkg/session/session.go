// Package session ties detection, activation, observation and polling to
// one page load.
//
// A Session is the context object for everything that happens between two
// navigations: it owns the handled flag (through its dispatcher), the poll
// timer and the mutation subscription, and all of them run on a single
// loop. When the host navigates, the session is closed and a new one is
// opened; nothing carries over.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/autonext/pkg/activate"
	"github.com/entrhq/autonext/pkg/detect"
	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/loop"
	"github.com/entrhq/autonext/pkg/observe"
	"github.com/entrhq/autonext/pkg/page"
	"github.com/entrhq/autonext/pkg/poll"
)

// Options configures the components of a session.
type Options struct {
	Strategies []detect.Strategy
	Activation activate.Options

	// ObserverRoot selects the observed subtree, "body" by default.
	ObserverRoot    string
	AttributeFilter []string
	Debounce        time.Duration
	// DisableObserver leaves detection to polling alone.
	DisableObserver bool

	Polling poll.Options
}

// Session is one page load. Except for Serve and ID, methods must be called
// on the session's loop, or after Serve has returned.
type Session struct {
	id     string
	url    string
	target page.Target
	sched  loop.Scheduler
	own    *loop.Loop
	logger *logging.Logger
	ctx    context.Context

	detector   *detect.Detector
	dispatcher *activate.Dispatcher
	observer   *observe.Observer
	poller     *poll.Scheduler
	policy     poll.Policy

	checks  int
	started bool
	closed  bool
}

// New creates a session that runs on sched.
func New(target page.Target, sched loop.Scheduler, logger *logging.Logger, opts Options) (*Session, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	id := uuid.NewString()
	s := &Session{
		id:     id,
		url:    target.URL(),
		target: target,
		sched:  sched,
		logger: logger.WithSession(id),
		ctx:    context.Background(),
	}

	s.detector = detect.New(s.logger.Named("detect"), opts.Strategies...)
	s.dispatcher = activate.New(sched, s.logger.Named("activate"), opts.Activation)

	if !opts.DisableObserver {
		obs, err := observe.New(sched, s.logger.Named("observe"), observe.Options{
			Selectors:       detect.Selectors(s.detector.Strategies()),
			Root:            opts.ObserverRoot,
			AttributeFilter: opts.AttributeFilter,
			Debounce:        opts.Debounce,
			Recheck:         s.Check,
		})
		if err != nil {
			return nil, fmt.Errorf("create observer: %w", err)
		}
		s.observer = obs
	}

	popts := opts.Polling
	popts.Check = s.Check
	popts.OnExhausted = s.exhausted
	poller, err := poll.New(sched, s.logger.Named("poll"), popts)
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}
	s.poller = poller
	s.policy = popts.Policy
	if s.policy == "" {
		s.policy = poll.PolicyPauseResume
	}
	return s, nil
}

// Open creates a session on a loop of its own. Run it with Serve.
func Open(target page.Target, logger *logging.Logger, opts Options) (*Session, error) {
	l := loop.New()
	s, err := New(target, l, logger, opts)
	if err != nil {
		return nil, err
	}
	s.own = l
	l.OnPanic = func(v any) {
		s.logger.Errorf("recovered panic on session loop: %v", v)
	}
	return s, nil
}

// Serve starts the session and runs its loop until ctx is done. The
// session is closed when Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	if s.own == nil {
		return errors.New("session has no loop of its own")
	}
	s.own.Post(func() { s.Start(ctx) })
	err := s.own.Run(ctx)
	s.Close()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Start subscribes the observer and starts polling. The first check runs
// right away.
func (s *Session) Start(ctx context.Context) {
	if s.started || s.closed {
		return
	}
	s.started = true
	s.ctx = ctx
	s.logger.Infof("watching %s", s.url)
	if s.observer != nil {
		if err := s.observer.Start(ctx, s.target); err != nil {
			s.logger.Warnf("mutation feed unavailable, polling only: %v", err)
			s.observer = nil
		}
	}
	s.poller.Start()
}

// Check runs one detection pass and, on a positive result, one activation
// attempt.
func (s *Session) Check() {
	if s.closed {
		return
	}
	s.checks++
	if _, ok := s.detector.Detect(s.ctx, s.target); !ok {
		return
	}

	err := s.dispatcher.Activate(s.ctx, s.target)
	switch {
	case err == nil:
		s.poller.Activated()
		if s.policy == poll.PolicyBounded && s.observer != nil {
			s.observer.Stop()
		}
	case errors.Is(err, activate.ErrAlreadyHandled):
		s.logger.Infof("unit already handled, waiting for navigation")
	}
}

func (s *Session) exhausted(error) {
	if s.observer != nil {
		s.observer.Stop()
	}
}

// Close tears the session down. Close is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.poller.Stop()
	if s.observer != nil {
		s.observer.Stop()
	}
	s.dispatcher.Stop()
	if s.own != nil {
		s.own.Close()
	}
	s.logger.Debugf("session closed after %d checks (handled=%t)", s.checks, s.dispatcher.Handled())
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// URL returns the URL the session was opened for.
func (s *Session) URL() string { return s.url }

// Handled reports whether the session activated the control.
func (s *Session) Handled() bool { return s.dispatcher.Handled() }

// Outcomes returns the recorded technique outcomes.
func (s *Session) Outcomes() []activate.Outcome { return s.dispatcher.Outcomes() }

// Checks returns how many detection passes ran.
func (s *Session) Checks() int { return s.checks }

// Poller exposes the polling scheduler.
func (s *Session) Poller() *poll.Scheduler { return s.poller }

// Observer exposes the change observer, nil when disabled.
func (s *Session) Observer() *observe.Observer { return s.observer }
