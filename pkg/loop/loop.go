// Package loop provides the single execution timeline a watch session runs
// on. Every detection, dispatch, observer batch, and timer callback of a
// session executes on one goroutine, one task at a time, so session state
// needs no locks.
//
// Loop is the real implementation. Manual is a virtual-time implementation
// for tests: nothing runs until the test advances the clock.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrLoopAlreadyRunning is returned when Run is called twice.
	ErrLoopAlreadyRunning = errors.New("loop: already running")

	// ErrLoopTerminated is returned when Run is called after Close.
	ErrLoopTerminated = errors.New("loop: terminated")
)

// Timer is a pending After callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped it; false means it already ran or was already stopped.
	Stop() bool
}

// Scheduler is the surface sessions depend on.
type Scheduler interface {
	// Post queues fn to run on the timeline.
	Post(fn func())
	// After queues fn to run on the timeline once d has elapsed.
	After(d time.Duration, fn func()) Timer
	// Now returns the timeline's current time.
	Now() time.Time
}

// Loop runs posted tasks on the goroutine that calls Run.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	running atomic.Bool
	done    chan struct{}

	// OnPanic receives values recovered from panicking tasks. The loop
	// keeps running after a panic.
	OnPanic func(any)
}

var _ Scheduler = (*Loop)(nil)

// New creates a loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.mu.Unlock()
	defer l.Close()

	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return nil
		}
		for _, task := range tasks {
			l.runTask(task)
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if l.OnPanic != nil {
				l.OnPanic(r)
				return
			}
			panic(fmt.Sprintf("loop: unhandled panic in task: %v", r))
		}
	}()
	task()
}

// Post implements Scheduler. Tasks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After implements Scheduler. The wait happens off the loop; only the
// callback runs on it.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &realTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return t
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Close stops the loop. Queued tasks and pending timers are dropped.
// Close is idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// Done is closed once the loop is closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type realTimer struct {
	timer *time.Timer
	state atomic.Int32
}

func (t *realTimer) Stop() bool {
	if !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	t.timer.Stop()
	return true
}
