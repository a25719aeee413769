// Package scheduler runs the client's background work (order polling,
// location sharing, payment sync and deadlines) as named tasks on one
// scheduler. Callbacks never run concurrently with each other.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/observability"
)

// Func is a task callback. ctx is cancelled as soon as the task is stopped or
// replaced; callbacks must check it before applying results.
type Func func(ctx context.Context)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	// run serializes callbacks across all tasks.
	run sync.Mutex

	parent context.Context
	stop   context.CancelFunc
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		parent: ctx,
		stop:   cancel,
		logger: logging.OrDefault(logger),
	}
}

// Every runs fn every interval until stopped. An existing task with the same
// name is stopped first, so at most one task per name is ever alive.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) {
	s.start(name, func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.invoke(ctx, fn)
			}
		}
	})
}

// After runs fn once after d unless the task is stopped first.
func (s *Scheduler) After(name string, d time.Duration, fn Func) {
	s.start(name, func(ctx context.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			s.invoke(ctx, fn)
			s.forget(ctx, name)
		}
	})
}

func (s *Scheduler) start(name string, loop func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(s.parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t
	s.mu.Unlock()
	observability.SchedulerTasks.Inc()
	s.logger.Debug("task started", "task", name)

	go func() {
		defer close(t.done)
		defer observability.SchedulerTasks.Dec()
		loop(ctx)
	}()
}

func (s *Scheduler) invoke(ctx context.Context, fn Func) {
	s.run.Lock()
	defer s.run.Unlock()
	if ctx.Err() != nil {
		return
	}
	fn(ctx)
}

// forget drops a finished one-shot task unless it was already replaced.
func (s *Scheduler) forget(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		select {
		case <-ctx.Done():
		default:
			t.cancel()
			delete(s.tasks, name)
		}
	}
}

// Stop cancels the named task. It does not wait for an in-flight callback.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.cancel()
		delete(s.tasks, name)
		s.logger.Debug("task stopped", "task", name)
	}
}

func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.tasks {
		t.cancel()
		delete(s.tasks, name)
	}
}

func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Len reports the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Do runs fn under the same lock as task callbacks, so callers outside the
// scheduler can mutate state the callbacks read.
func (s *Scheduler) Do(fn func()) {
	s.run.Lock()
	defer s.run.Unlock()
	fn()
}

// Close stops every task and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll()
	s.stop()
}
