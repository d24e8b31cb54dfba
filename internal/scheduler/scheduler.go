// Package scheduler abstracts timers so session logic can run against the
// wall clock in production and against virtual time in tests.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a scheduled callback. Stop is idempotent.
type Timer interface {
	Stop()
}

// Scheduler creates one-shot and periodic callbacks.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Real schedules on the wall clock. Callbacks run on their own goroutines.
type Real struct{}

func NewReal() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) After(d time.Duration, fn func()) Timer {
	return afterTimer{t: time.AfterFunc(d, fn)}
}

func (Real) Every(d time.Duration, fn func()) Timer {
	t := &tickerTimer{done: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return t
}

type afterTimer struct {
	t *time.Timer
}

func (a afterTimer) Stop() {
	a.t.Stop()
}

type tickerTimer struct {
	once sync.Once
	done chan struct{}
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() { close(t.done) })
}
