package schedule

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by a virtual clock. Tasks run synchronously
// inside Advance, in due order. It is used by tests and simulations that need
// to step through timed transitions deterministically.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending map[string]*manualEntry
}

type manualEntry struct {
	id   uint64
	due  time.Time
	task Task
}

// NewManual returns a Manual whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, pending: make(map[string]*manualEntry)}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// ScheduleOnce implements Scheduler.
func (m *Manual) ScheduleOnce(key string, delay time.Duration, task Task) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.pending[key] = &manualEntry{id: id, due: m.now.Add(delay), task: task}
	return Handle{cancel: func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		e, ok := m.pending[key]
		if !ok || e.id != id {
			return false
		}
		delete(m.pending, key)
		return true
	}}
}

// Cancel implements Scheduler.
func (m *Manual) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	delete(m.pending, key)
	return ok
}

// Pending implements Scheduler.
func (m *Manual) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	return ok
}

// Due returns when the task pending under key fires.
func (m *Manual) Due(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pending[key]
	if !ok {
		return time.Time{}, false
	}
	return e.due, true
}

// Keys returns the pending keys in due order.
func (m *Manual) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.pending[keys[i]], m.pending[keys[j]]
		if !a.due.Equal(b.due) {
			return a.due.Before(b.due)
		}
		return a.id < b.id
	})
	return keys
}

// Advance moves the clock forward by d, running every task that falls due on
// the way. Tasks scheduled by a running task fire in the same call when they
// fall due before the new time.
//
// Postcondition: Now() == old Now() + d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		key, e, ok := m.nextDue(target)
		if !ok {
			break
		}
		m.mu.Lock()
		if cur, still := m.pending[key]; !still || cur.id != e.id {
			m.mu.Unlock()
			continue
		}
		delete(m.pending, key)
		if e.due.After(m.now) {
			m.now = e.due
		}
		m.mu.Unlock()
		e.task()
	}
	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// Fire runs the task pending under key immediately, regardless of its due
// time, without moving the clock.
func (m *Manual) Fire(key string) bool {
	m.mu.Lock()
	e, ok := m.pending[key]
	if ok {
		delete(m.pending, key)
	}
	m.mu.Unlock()
	if ok {
		e.task()
	}
	return ok
}

func (m *Manual) nextDue(target time.Time) (string, *manualEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		bestKey string
		best    *manualEntry
	)
	for k, e := range m.pending {
		if e.due.After(target) {
			continue
		}
		if best == nil || e.due.Before(best.due) || (e.due.Equal(best.due) && e.id < best.id) {
			bestKey, best = k, e
		}
	}
	return bestKey, best, best != nil
}
