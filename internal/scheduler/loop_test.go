// ABOUTME: Tests for the serialized loop, its timers, and the polling helpers
// ABOUTME: Uses a mock clock so timer firing is driven explicitly

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, clk clock.Clock) *Loop {
	t.Helper()
	l := NewLoop(clk)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestLoop_RunsInOrder(t *testing.T) {
	l := startLoop(t, nil)

	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	var snapshot []int
	require.True(t, l.Do(func() { snapshot = append(snapshot, got...) }))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, snapshot)
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.False(t, l.Post(func() {}))
	assert.False(t, l.Do(func() {}))
}

func TestAfter_FiresOnLoop(t *testing.T) {
	mock := clock.NewMock()
	l := startLoop(t, mock)

	var fired atomic.Int32
	var timer *Timer
	l.Do(func() { timer = l.After(150*time.Millisecond, func() { fired.Add(1) }) })

	mock.Add(100 * time.Millisecond)
	l.Do(func() {})
	assert.Equal(t, int32(0), fired.Load())

	mock.Add(50 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	var pending bool
	l.Do(func() { pending = timer.Pending() })
	assert.False(t, pending)
}

func TestAfter_CancelPreventsRun(t *testing.T) {
	mock := clock.NewMock()
	l := startLoop(t, mock)

	var fired atomic.Int32
	l.Do(func() {
		timer := l.After(time.Second, func() { fired.Add(1) })
		timer.Cancel()
		timer.Cancel()
	})

	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	l.Do(func() {})
	assert.Equal(t, int32(0), fired.Load())

	var nilTimer *Timer
	nilTimer.Cancel()
	assert.False(t, nilTimer.Pending())
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	clk := clock.New()

	calls := 0
	ok, err := Poll(ctx, clk, 5, time.Millisecond, func() bool {
		calls++
		return calls == 3
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)

	calls = 0
	ok, err = Poll(ctx, clk, 4, time.Millisecond, func() bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, calls, "attempts plus a final check")
}

func TestPoll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := Poll(ctx, clock.New(), 40, time.Hour, func() bool { return false })
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Sleep(ctx, clock.New(), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
