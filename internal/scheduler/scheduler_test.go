package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery_ReplacesTaskWithSameName(t *testing.T) {
	s := New(nil)
	defer s.Close()

	var first, second atomic.Int32
	s.Every("poll", 5*time.Millisecond, func(context.Context) { first.Add(1) })
	assert.Eventually(t, func() bool { return first.Load() > 0 }, time.Second, time.Millisecond)

	s.Every("poll", 5*time.Millisecond, func(context.Context) { second.Add(1) })
	assert.Equal(t, 1, s.Len())
	frozen := first.Load()
	assert.Eventually(t, func() bool { return second.Load() > 2 }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, first.Load(), frozen+1)
}

func TestStop_EndsTask(t *testing.T) {
	s := New(nil)
	defer s.Close()

	var n atomic.Int32
	s.Every("share", 2*time.Millisecond, func(context.Context) { n.Add(1) })
	assert.Eventually(t, func() bool { return n.Load() > 0 }, time.Second, time.Millisecond)
	s.Stop("share")
	assert.False(t, s.Active("share"))

	time.Sleep(10 * time.Millisecond)
	before := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, n.Load())
}

func TestAfter_FiresOnceAndIsInertWhenStopped(t *testing.T) {
	s := New(nil)
	defer s.Close()

	var fired atomic.Int32
	s.After("deadline", 5*time.Millisecond, func(context.Context) { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !s.Active("deadline") }, time.Second, time.Millisecond)

	var stopped atomic.Int32
	s.After("deadline", 20*time.Millisecond, func(context.Context) { stopped.Add(1) })
	s.Stop("deadline")
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, stopped.Load())
}

func TestCallbacksAreSerialized(t *testing.T) {
	s := New(nil)
	defer s.Close()

	var inFlight, maxInFlight, calls atomic.Int32
	body := func(context.Context) {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		calls.Add(1)
	}
	s.Every("a", time.Millisecond, body)
	s.Every("b", time.Millisecond, body)
	s.Every("c", time.Millisecond, body)
	assert.Eventually(t, func() bool { return calls.Load() > 20 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestClose_RejectsNewTasks(t *testing.T) {
	s := New(nil)
	s.Close()
	s.Every("poll", time.Millisecond, func(context.Context) {})
	assert.Zero(t, s.Len())
}
