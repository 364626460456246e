// Package power decides how the node spends the time between cycles:
// looping on mains power, or a single cycle followed by deep sleep on
// battery.
package power

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloudpico-node/internal/command"
	"cloudpico-node/internal/config"
)

type SleepKind int

const (
	Light SleepKind = iota + 1
	Deep
)

func (k SleepKind) String() string {
	switch k {
	case Light:
		return "light"
	case Deep:
		return "deep"
	default:
		return "N/A"
	}
}

type Mode int

const (
	// Armed is mains power: publish, wait, repeat.
	Armed Mode = iota
	// Draining is battery power: one cycle, then deep sleep.
	Draining
)

func (m Mode) String() string {
	if m == Draining {
		return "draining"
	}
	return "armed"
}

// ModeFor infers the power source from the presence of a battery gauge.
func ModeFor(gauge bool) Mode {
	if gauge {
		return Draining
	}
	return Armed
}

// DeepSleepDuration picks the short sleep when the battery is above the
// configured threshold and the long one otherwise.
func DeepSleepDuration(cfg config.Config, capacity *float64) time.Duration {
	if cfg.SleepDurationShort == nil || cfg.BatteryCapacityThreshold == nil || capacity == nil {
		return cfg.DeepSleepDuration
	}
	if *capacity > *cfg.BatteryCapacityThreshold {
		return *cfg.SleepDurationShort
	}
	return cfg.DeepSleepDuration
}

// deepSleepCommandTimeout only matters when the command returns instead of
// powering the board off.
const deepSleepCommandTimeout = 30 * time.Second

// Feeder acknowledges the watchdog.
type Feeder interface {
	Feed()
}

type Scheduler struct {
	light  time.Duration
	deep   command.Template
	run    command.Runner
	wait   func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	wd Feeder
	// light sleep is split into slices no longer than this, feeding wd
	// after each
	feedEvery time.Duration
}

// New builds a scheduler. wd may be nil when no watchdog runs.
func New(cfg config.Config, wd Feeder, logger *slog.Logger) (*Scheduler, error) {
	tmpl, err := command.Parse(cfg.DeepSleepCommand)
	if err != nil {
		return nil, fmt.Errorf("deep sleep command: %w", err)
	}
	return &Scheduler{
		light:     cfg.LightSleepDuration,
		deep:      tmpl,
		run:       command.Exec(deepSleepCommandTimeout),
		wait:      wait,
		logger:    logger,
		wd:        wd,
		feedEvery: cfg.WatchdogTimeout / 2,
	}, nil
}

// Sleep suspends for d. Light sleep keeps the process; deep sleep hands
// the board to the wake timer and returns once the command has been
// issued, after which the process is expected to exit.
func (s *Scheduler) Sleep(ctx context.Context, kind SleepKind, d time.Duration) error {
	s.logger.Info("going to sleep", "kind", kind, "duration", d)

	switch kind {
	case Light:
		return s.lightSleep(ctx, d)
	case Deep:
		s.feed()
		secs := int(d / time.Second)
		if secs < 1 {
			secs = 1
		}
		argv := s.deep.Render(map[string]string{"seconds": strconv.Itoa(secs)})
		s.logger.Debug("deep sleep command", "argv", argv)
		if _, err := s.run(ctx, argv); err != nil {
			return fmt.Errorf("deep sleep: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown sleep kind %d", kind)
	}
}

// Suspend is the battery path's end of cycle: the light sleep grace window,
// skipped when zero, then deep sleep for d.
func (s *Scheduler) Suspend(ctx context.Context, d time.Duration) error {
	if s.light > 0 {
		if err := s.Sleep(ctx, Light, s.light); err != nil {
			return err
		}
	}
	return s.Sleep(ctx, Deep, d)
}

// lightSleep waits d in slices, feeding the watchdog after each.
func (s *Scheduler) lightSleep(ctx context.Context, d time.Duration) error {
	slice := s.feedEvery
	if s.wd == nil || slice <= 0 {
		slice = d
	}
	for d > 0 {
		step := min(d, slice)
		if err := s.wait(ctx, step); err != nil {
			return err
		}
		s.feed()
		d -= step
	}
	return nil
}

func (s *Scheduler) feed() {
	if s.wd != nil {
		s.wd.Feed()
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
