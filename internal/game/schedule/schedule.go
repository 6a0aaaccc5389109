// Package schedule runs keyed, cancellable delayed tasks. Each key holds at
// most one pending task: scheduling a key replaces whatever was pending under
// it, and cancellation is idempotent.
package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the work run when a scheduled delay elapses.
type Task func()

// Handle cancels one specific scheduled task. Cancelling a task that already
// ran or was replaced is a no-op.
type Handle struct {
	cancel func() bool
}

// Cancel stops the task if it is still pending under its key.
//
// Postcondition: reports whether a pending task was removed.
func (h Handle) Cancel() bool {
	if h.cancel == nil {
		return false
	}
	return h.cancel()
}

// Scheduler is single-pending-task-per-key delayed execution.
type Scheduler interface {
	// ScheduleOnce runs task after delay, replacing any task pending under key.
	ScheduleOnce(key string, delay time.Duration, task Task) Handle
	// Cancel removes the task pending under key. It reports whether one was
	// pending.
	Cancel(key string) bool
	// Pending reports whether a task is pending under key.
	Pending(key string) bool
}

type entry struct {
	id    uint64
	timer *time.Timer
	due   time.Time
}

// Timers is a Scheduler backed by time.AfterFunc. It is safe for concurrent use.
type Timers struct {
	mu      sync.Mutex
	pending map[string]*entry
	seq     uint64
	stopped bool
	logger  *zap.Logger
}

// New returns a running Timers.
//
// Precondition: logger must be non-nil.
func New(logger *zap.Logger) *Timers {
	return &Timers{pending: make(map[string]*entry), logger: logger}
}

// ScheduleOnce runs task after delay unless the key is cancelled or
// rescheduled first. task runs on its own goroutine; a panic inside it is
// logged and does not affect other tasks.
//
// Precondition: task must not be nil.
// Postcondition: exactly one task is pending under key, unless Stop was called.
func (s *Timers) ScheduleOnce(key string, delay time.Duration, task Task) Handle {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Handle{}
	}
	if old, ok := s.pending[key]; ok {
		old.timer.Stop()
	}
	s.seq++
	e := &entry{id: s.seq, due: time.Now().Add(delay)}
	e.timer = time.AfterFunc(delay, func() {
		if !s.claim(key, e.id) {
			return
		}
		s.run(key, task)
	})
	s.pending[key] = e
	id := e.id
	return Handle{cancel: func() bool { return s.cancelID(key, id) }}
}

// claim removes the entry when it is still the current task for key. A task
// whose entry was replaced or cancelled must not run.
func (s *Timers) claim(key string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok || e.id != id {
		return false
	}
	delete(s.pending, key)
	return true
}

func (s *Timers) run(key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	task()
}

// Cancel removes the task pending under key.
func (s *Timers) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, key)
	return true
}

func (s *Timers) cancelID(key string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok || e.id != id {
		return false
	}
	e.timer.Stop()
	delete(s.pending, key)
	return true
}

// Pending reports whether a task is pending under key.
func (s *Timers) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Due returns when the task pending under key fires.
func (s *Timers) Due(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok {
		return time.Time{}, false
	}
	return e.due, true
}

// Len returns the number of pending tasks.
func (s *Timers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task and refuses new ones.
//
// Postcondition: no task scheduled before Stop will start after Stop returns.
func (s *Timers) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
	}
}
