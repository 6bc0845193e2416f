// ABOUTME: Serialized execution context: every state mutation runs on one goroutine
// ABOUTME: Timers and foreign goroutines marshal work onto the loop with Post

package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Loop runs posted functions one at a time, in order
type Loop struct {
	clock clock.Clock
	ops   chan func()
	done  chan struct{}
}

// NewLoop creates a loop driven by clk. A nil clock uses wall time.
func NewLoop(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clock: clk,
		ops:   make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Clock returns the clock driving the loop's timers
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Run executes posted work until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.ops:
			fn()
		}
	}
}

// Post queues fn. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.ops <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it. Calling Do from loop work deadlocks.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Timer is a pending delayed call. Cancel must be called from loop work.
type Timer struct {
	timer     *clock.Timer
	cancelled bool
	fired     bool
}

// Cancel prevents the call from running. Safe on nil and already-fired timers.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Pending reports whether the call is still waiting to run
func (t *Timer) Pending() bool {
	return t != nil && !t.cancelled && !t.fired
}

// After runs fn on the loop once d has elapsed. Cancellation is checked on
// the loop just before fn would run.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// Sleep blocks for d or until ctx is done. It is used by run goroutines, never
// by loop work.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll calls check up to attempts times, sleeping interval between tries, and
// once more at the end. It stops early when ctx is done.
func Poll(ctx context.Context, clk clock.Clock, attempts int, interval time.Duration, check func() bool) (bool, error) {
	for range attempts {
		if check() {
			return true, nil
		}
		if err := Sleep(ctx, clk, interval); err != nil {
			return false, err
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return check(), nil
}
