// Package poll runs the periodic completion check.
package poll

import (
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/loop"
)

// ErrExhausted is reported when the bounded policy runs out of ticks.
var ErrExhausted = errors.New("polling exhausted")

// Policy selects what happens around an activation and how long polling
// lasts.
type Policy string

const (
	// PolicyBounded stops after MaxTicks ticks, or for good after an
	// activation.
	PolicyBounded Policy = "bounded"
	// PolicyPauseResume polls until the session ends, pausing for the
	// cooldown after each activation.
	PolicyPauseResume Policy = "pause-resume"
)

// Defaults of the host page script.
const (
	DefaultInterval = 3 * time.Second
	DefaultCooldown = 10 * time.Second
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBounded, PolicyPauseResume:
		return p, nil
	}
	return "", fmt.Errorf("unknown polling policy %q (want %q or %q)", s, PolicyBounded, PolicyPauseResume)
}

// Options configures a Scheduler. Zero durations take defaults.
type Options struct {
	Policy   Policy
	Interval time.Duration
	Cooldown time.Duration
	// MaxTicks bounds PolicyBounded. It must be positive for that policy.
	MaxTicks int
	// Check runs on every tick.
	Check func()
	// OnExhausted runs once when the bounded policy gives up.
	OnExhausted func(err error)
}

// Scheduler ticks on a loop. All methods must be called from that loop.
type Scheduler struct {
	sched  loop.Scheduler
	logger *logging.Logger
	opts   Options

	timer     loop.Timer
	ticks     int
	running   bool
	paused    bool
	exhausted bool
	err       error
}

// New validates opts and creates a stopped scheduler.
func New(sched loop.Scheduler, logger *logging.Logger, opts Options) (*Scheduler, error) {
	if opts.Policy == "" {
		opts.Policy = PolicyPauseResume
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Policy == PolicyBounded && opts.MaxTicks <= 0 {
		return nil, fmt.Errorf("bounded polling needs a positive tick limit, got %d", opts.MaxTicks)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{sched: sched, logger: logger, opts: opts}, nil
}

// Start runs the first tick right away and then one every interval.
func (s *Scheduler) Start() {
	if s.running || s.exhausted {
		return
	}
	s.running = true
	s.logger.Infof("polling every %s (%s)", s.opts.Interval, s.opts.Policy)
	s.arm(0)
}

func (s *Scheduler) arm(d time.Duration) {
	s.timer = s.sched.After(d, s.tick)
}

func (s *Scheduler) tick() {
	s.timer = nil
	if !s.running || s.paused {
		return
	}
	s.ticks++
	s.logger.Debugf("checking completion (tick %d)", s.ticks)
	if s.opts.Check != nil {
		s.opts.Check()
	}
	// Check may have stopped or paused the scheduler.
	if !s.running || s.paused {
		return
	}
	if s.opts.Policy == PolicyBounded && s.ticks >= s.opts.MaxTicks {
		s.exhaust()
		return
	}
	s.arm(s.opts.Interval)
}

func (s *Scheduler) exhaust() {
	s.exhausted = true
	s.err = fmt.Errorf("%w after %d ticks", ErrExhausted, s.ticks)
	s.logger.Errorf("giving up: %v", s.err)
	s.Stop()
	if s.opts.OnExhausted != nil {
		s.opts.OnExhausted(s.err)
	}
}

// Activated tells the scheduler an activation succeeded. Bounded polling
// stops for good; pause-resume polling resumes after the cooldown.
func (s *Scheduler) Activated() {
	if !s.running {
		return
	}
	if s.opts.Policy == PolicyBounded {
		s.logger.Infof("activated, polling finished")
		s.Stop()
		return
	}
	if s.paused {
		return
	}
	s.paused = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.logger.Infof("activated, pausing polling for %s", s.opts.Cooldown)
	s.timer = s.sched.After(s.opts.Cooldown, func() {
		s.timer = nil
		if !s.running {
			return
		}
		s.paused = false
		s.logger.Infof("resuming polling")
		s.arm(s.opts.Interval)
	})
}

// Stop halts ticking. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.running = false
	s.paused = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() int { return s.ticks }

// Running reports whether the scheduler is started and not stopped.
func (s *Scheduler) Running() bool { return s.running }

// Paused reports whether the scheduler is in its post-activation cooldown.
func (s *Scheduler) Paused() bool { return s.paused }

// Exhausted reports whether the bounded policy gave up.
func (s *Scheduler) Exhausted() bool { return s.exhausted }

// Err returns the exhaustion error, if any.
func (s *Scheduler) Err() error { return s.err }
