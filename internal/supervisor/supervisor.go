// Package supervisor runs the node's work under a watchdog and turns
// faults into a reload or reset of the process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Resetter performs the terminal recovery actions. On success neither
// method returns.
type Resetter interface {
	HardReset() error
	SoftReload() error
}

type Supervisor struct {
	wd      Watchdog
	reset   Resetter
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	sleep func(time.Duration)
	once  sync.Once
	// escalation error, set once
	resetErr error
}

// New builds a supervisor. grace must be shorter than timeout so that a
// pending reset does not collide with a second expiry.
func New(wd Watchdog, reset Resetter, timeout, grace time.Duration, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		wd:      wd,
		reset:   reset,
		timeout: timeout,
		grace:   grace,
		logger:  logger,
		sleep:   time.Sleep,
	}
	if n, ok := wd.(Notifier); ok {
		n.OnExpire(s.expired)
	}
	return s
}

// Feed acknowledges the watchdog.
func (s *Supervisor) Feed() {
	if err := s.wd.Feed(); err != nil {
		s.logger.Warn("watchdog feed failed", "error", err)
	}
}

// Run arms the watchdog and runs fn. It returns nil when fn succeeds or
// ctx is canceled. Configuration faults are returned for the caller to
// exit on; every other fault is escalated and, if the reset does not take
// the process down, returned.
func (s *Supervisor) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := s.wd.Arm(s.timeout); err != nil {
		return fmt.Errorf("arm watchdog: %w", err)
	}
	s.logger.Debug("watchdog armed", "timeout", s.timeout)

	err := s.protect(ctx, fn)
	if err == nil || errors.Is(err, context.Canceled) {
		s.disarm()
		return nil
	}

	f := &Fault{Class: Classify(err), Op: "cycle", Err: err}
	if f.Class == Configuration {
		s.disarm()
		return f
	}
	if rerr := s.escalate(f); rerr != nil {
		return errors.Join(f, rerr)
	}
	return f
}

func (s *Supervisor) disarm() {
	if err := s.wd.Disarm(); err != nil {
		s.logger.Warn("watchdog disarm failed", "error", err)
	}
}

func (s *Supervisor) protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic", "value", r, "stack", string(debug.Stack()))
			err = &Fault{Class: Unhandled, Op: "cycle", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) expired() {
	s.escalate(&Fault{Class: WatchdogExpiry, Op: "cycle", Err: ErrWatchdogExpired})
}

// escalate disarms, logs, waits out the grace period and then resets. Only
// the first fault is acted on.
func (s *Supervisor) escalate(f *Fault) error {
	s.once.Do(func() {
		s.disarm()
		action := f.Class.Action()
		s.logger.Error("fault",
			"class", f.Class.String(),
			"op", f.Op,
			"error", f.Err,
			"action", action.String(),
			"in", s.grace,
		)
		s.sleep(s.grace)

		s.logger.Warn("performing " + action.String())
		switch action {
		case HardReset:
			s.resetErr = s.reset.HardReset()
		case SoftReload:
			s.resetErr = s.reset.SoftReload()
		}
		if s.resetErr != nil {
			s.logger.Error(action.String()+" failed", "error", s.resetErr)
		}
	})
	return s.resetErr
}
