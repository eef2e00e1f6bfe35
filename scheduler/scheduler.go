// Package scheduler fires callbacks after approximately accurate delays. It
// prefers a high-resolution clock and silently degrades to coarse timers.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urtextpiano-dev/urtext-sub005/constants"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
)

var ErrScheduling = errors.New("scheduling failed")

// Handle refers to one scheduled callback.
type Handle interface {
	// Cancel stops the callback. It reports whether the callback was still
	// pending.
	Cancel() bool
}

type Option func(*Scheduler)

func WithClockSource(source func() (Clock, error)) Option {
	return func(s *Scheduler) {
		s.source = source
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithSpinLead sets how early the high-resolution timer wakes before the
// deadline to yield its way to the exact instant.
func WithSpinLead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.lead = d
		}
	}
}

type Scheduler struct {
	mu       sync.Mutex
	logger   *slog.Logger
	source   func() (Clock, error)
	lead     time.Duration
	clock    Clock
	degraded bool
	start    time.Time
	last     time.Duration

	tasks  map[uint64]*task
	nextID uint64

	scheduled atomic.Uint64
	fallbacks atomic.Uint64
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		source: NewSystemClock,
		lead:   constants.DefaultSchedulerLead,
		tasks:  make(map[uint64]*task),
		start:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// StartSession acquires the clock and resumes it when suspended. Any failure
// leaves the scheduler in degraded coarse-timer mode.
func (s *Scheduler) StartSession() {
	clock, err := s.acquire()
	if err == nil && clock.Suspended() {
		err = s.resume(clock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = time.Now()
	s.last = 0
	if err != nil {
		s.clock, s.degraded = nil, true
		s.logger.Warn("scheduler: high-resolution clock unavailable, using coarse timers", "err", err)
		return
	}
	s.clock, s.degraded = clock, false
	s.logger.Debug("scheduler: session started", "spin_lead", s.lead)
}

func (s *Scheduler) acquire() (clock Clock, err error) {
	if s.source == nil {
		return nil, fmt.Errorf("%w: no clock source", ErrScheduling)
	}
	defer func() {
		if r := recover(); r != nil {
			clock, err = nil, fmt.Errorf("%w: clock source panic: %v", ErrScheduling, r)
		}
	}()
	clock, err = s.source()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScheduling, err)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock source returned nil", ErrScheduling)
	}
	return clock, nil
}

func (s *Scheduler) resume(clock Clock) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: resume panic: %v", ErrScheduling, r)
		}
	}()
	if err := clock.Resume(); err != nil {
		return fmt.Errorf("%w: resume: %v", ErrScheduling, err)
	}
	return nil
}

func (s *Scheduler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded || s.clock == nil
}

// CurrentTime is the time elapsed since the session started. It never goes
// backwards even when the clock source misbehaves.
func (s *Scheduler) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.readClock()
	if now < s.last {
		now = s.last
	}
	s.last = now
	return now
}

func (s *Scheduler) readClock() (now time.Duration) {
	if s.clock == nil {
		return time.Since(s.start)
	}
	defer func() {
		if r := recover(); r != nil {
			now = time.Since(s.start)
		}
	}()
	return s.clock.Now()
}

// ScheduleCallback runs fn after delay. It never panics; a failing
// high-resolution path falls back to a coarse timer.
func (s *Scheduler) ScheduleCallback(fn func(), delay time.Duration) Handle {
	if delay < 0 {
		delay = 0
	}
	t := s.track(fn)
	s.scheduled.Add(1)

	s.mu.Lock()
	clock, lead := s.clock, s.lead
	s.mu.Unlock()

	if clock != nil {
		err := s.scheduleHighRes(t, clock, delay, lead)
		if err == nil {
			return t
		}
		s.logger.Warn("scheduler: high-resolution schedule failed, using coarse timer", "err", err)
	}
	s.scheduleCoarse(t, delay)
	return t
}

func (s *Scheduler) scheduleHighRes(t *task, clock Clock, delay, lead time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrScheduling, r)
		}
	}()
	deadline := clock.Now() + delay
	wake := delay - lead
	if wake < 0 {
		wake = 0
	}
	timer, err := clock.AfterFunc(wake, func() {
		spinUntil(clock, deadline, lead, t)
		t.run()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScheduling, err)
	}
	if timer == nil {
		return fmt.Errorf("%w: clock returned no timer", ErrScheduling)
	}
	t.setTimer(timer)
	return nil
}

// spinUntil yields until the clock reaches deadline. The wall-clock guard
// stops a stalled clock from holding the goroutine forever.
func spinUntil(clock Clock, deadline, lead time.Duration, t *task) {
	if lead <= 0 {
		return
	}
	guard := time.Now().Add(2 * lead)
	for !t.cancelled() && time.Now().Before(guard) {
		if clock.Now() >= deadline {
			return
		}
		runtime.Gosched()
	}
}

func (s *Scheduler) scheduleCoarse(t *task, delay time.Duration) {
	s.fallbacks.Add(1)
	delay = delay.Round(constants.CoarseTimerResolution)
	t.setTimer(time.AfterFunc(delay, t.run))
}

func (s *Scheduler) track(fn func()) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &task{id: s.nextID, fn: fn, owner: s}
	s.tasks[t.id] = t
	return t
}

func (s *Scheduler) untrack(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Pending is the number of callbacks neither fired nor cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stats returns the total scheduled count and how many used the coarse path.
func (s *Scheduler) Stats() (scheduled, coarse uint64) {
	return s.scheduled.Load(), s.fallbacks.Load()
}

// Close cancels everything scheduled and ends the session.
func (s *Scheduler) Close() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.clock = nil
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	if len(tasks) > 0 {
		s.logger.Debug("scheduler: cancelled pending callbacks", "count", len(tasks))
	}
}

type task struct {
	id    uint64
	fn    func()
	owner *Scheduler

	mu    sync.Mutex
	timer Timer
	done  bool
}

func (t *task) setTimer(timer Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = timer
}

func (t *task) cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *task) Cancel() bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	timer := t.timer
	t.mu.Unlock()

	if timer != nil {
		func() {
			defer func() { recover() }()
			timer.Stop()
		}()
	}
	t.owner.untrack(t.id)
	return true
}

func (t *task) run() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()

	t.owner.untrack(t.id)
	defer func() {
		if r := recover(); r != nil {
			t.owner.logger.Error("scheduler: callback panicked", "panic", r)
		}
	}()
	t.fn()
}
