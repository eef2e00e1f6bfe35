package scheduler

import "time"

// Clock is a high-resolution time source. Suspended and Resume model audio
// style clocks that may be paused by the platform.
type Clock interface {
	Now() time.Duration
	Suspended() bool
	Resume() error
	AfterFunc(d time.Duration, fn func()) (Timer, error)
}

type Timer interface {
	Stop() bool
}

// SystemClock is the default Clock, backed by the runtime's monotonic time.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() (Clock, error) {
	return &SystemClock{start: time.Now()}, nil
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}

func (c *SystemClock) Suspended() bool { return false }

func (c *SystemClock) Resume() error { return nil }

func (c *SystemClock) AfterFunc(d time.Duration, fn func()) (Timer, error) {
	return time.AfterFunc(d, fn), nil
}
