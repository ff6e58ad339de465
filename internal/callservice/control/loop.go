package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sebas/callservice/internal/callservice/callerr"
)

// DefaultQueueSize is the default capacity of the loop's task queue.
const DefaultQueueSize = 256

// Loop runs posted tasks one at a time on a single goroutine. Every core
// mutation goes through it, so tasks never race each other.
type Loop struct {
	tasks chan func()

	mu      sync.RWMutex
	running bool
	stopped bool
	started chan struct{}
	done    chan struct{}
}

// NewLoop creates a loop with a bounded queue.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		tasks:   make(chan func(), size),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run consumes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return fmt.Errorf("loop already started")
	}
	l.running = true
	l.mu.Unlock()
	close(l.started)

	defer func() {
		l.mu.Lock()
		l.running = false
		l.stopped = true
		l.mu.Unlock()
		close(l.done)
	}()

	slog.Info("[Loop] Started", "queue_size", cap(l.tasks))
	for {
		select {
		case <-ctx.Done():
			slog.Info("[Loop] Stopped", "dropped", len(l.tasks))
			return nil
		case task := <-l.tasks:
			l.run(task)
		}
	}
}

// Started is closed once Run begins accepting tasks.
func (l *Loop) Started() <-chan struct{} {
	return l.started
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Loop] Task panicked", "panic", r)
		}
	}()
	task()
}

// Post queues task and returns immediately. It fails with Uninitialized
// before Run starts and with CapacityExceeded when the queue is full.
func (l *Loop) Post(task func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.running {
		return callerr.New("Loop.Post", callerr.KindUninitialized, callerr.ReasonNotStarted)
	}
	select {
	case l.tasks <- task:
		return nil
	default:
		slog.Warn("[Loop] Queue full, task dropped", "queue_size", cap(l.tasks))
		return callerr.New("Loop.Post", callerr.KindCapacityExceeded, callerr.ReasonQueueFull)
	}
}

// Sync runs fn on the loop and waits for its result. Calling Sync from a
// task deadlocks.
func (l *Loop) Sync(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("[Loop] Sync task panicked", "panic", r)
				result <- callerr.New("Loop.Sync", callerr.KindIllegalOperation, callerr.ReasonInvariantViolation)
			}
		}()
		result <- fn()
	}
	if err := l.Post(task); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		// Loop exited; the task may have run just before.
		select {
		case err := <-result:
			return err
		default:
			return callerr.New("Loop.Sync", callerr.KindUninitialized, callerr.ReasonNotStarted)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}
