// Package scheduler abstracts repeating timers so background loops can be
// driven manually in tests instead of waiting on the wall clock.
package scheduler

import (
	"sync"
	"time"
)

// CancelFunc stops a scheduled task. It is safe to call more than once; the
// first call blocks until the task goroutine has exited.
type CancelFunc func()

// Scheduler schedules a function to run repeatedly at a fixed interval.
type Scheduler interface {
	ScheduleRepeating(name string, interval time.Duration, fn func()) CancelFunc
}

// Ticker runs scheduled tasks on real time.Ticker goroutines.
type Ticker struct{}

// NewTicker returns the wall-clock scheduler used in production wiring.
func NewTicker() *Ticker {
	return &Ticker{}
}

// ScheduleRepeating launches a goroutine that invokes fn every interval until
// cancelled. The first invocation happens after one full interval; callers
// that need an eager first run perform it themselves before scheduling.
func (*Ticker) ScheduleRepeating(name string, interval time.Duration, fn func()) CancelFunc {
	if interval <= 0 {
		interval = time.Minute
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn()
			case <-stopCh:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

// Manual is a test scheduler whose ticks are fired explicitly.
type Manual struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]manualTask
}

type manualTask struct {
	name string
	fn   func()
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{tasks: make(map[int]manualTask)}
}

// ScheduleRepeating registers fn under name without starting any timer.
func (m *Manual) ScheduleRepeating(name string, interval time.Duration, fn func()) CancelFunc {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.tasks[id] = manualTask{name: name, fn: fn}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.tasks, id)
			m.mu.Unlock()
		})
	}
}

// Fire runs every active task registered under name, synchronously.
func (m *Manual) Fire(name string) {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.tasks))
	for _, task := range m.tasks {
		if task.name == name {
			fns = append(fns, task.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Active reports how many tasks are currently registered under name.
func (m *Manual) Active(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, task := range m.tasks {
		if task.name == name {
			count++
		}
	}
	return count
}
