package supervisor

import (
	"errors"
	"sync"
	"time"
)

var ErrNotArmed = errors.New("watchdog not armed")

// Watchdog forces a reset when it is not fed within its timeout.
type Watchdog interface {
	Arm(timeout time.Duration) error
	Feed() error
	Disarm() error
}

// Notifier is implemented by watchdogs that expire inside the process
// and leave the reset to the supervisor.
type Notifier interface {
	OnExpire(func())
}

// TimerWatchdog is an in-process watchdog for boards without a hardware
// one.
type TimerWatchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	timeout  time.Duration
	onExpire func()
}

func NewTimerWatchdog() *TimerWatchdog {
	return &TimerWatchdog{}
}

func (w *TimerWatchdog) OnExpire(f func()) {
	w.mu.Lock()
	w.onExpire = f
	w.mu.Unlock()
}

func (w *TimerWatchdog) Arm(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timeout = timeout
	w.timer = time.AfterFunc(timeout, w.fire)
	return nil
}

func (w *TimerWatchdog) Feed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return ErrNotArmed
	}
	w.timer.Reset(w.timeout)
	return nil
}

func (w *TimerWatchdog) Disarm() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return nil
}

func (w *TimerWatchdog) fire() {
	w.mu.Lock()
	f := w.onExpire
	w.timer = nil
	w.mu.Unlock()
	if f != nil {
		f()
	}
}
