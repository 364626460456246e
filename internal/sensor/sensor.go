// Package sensor merges the readings of whatever sensors a board carries
// into one types.Reading per cycle.
package sensor

import (
	"context"
	"log/slog"
	"time"

	"cloudpico-node/internal/types"
)

// Source is a probed sensor. Each capability below is optional; a driver
// implements the ones its chip supports.
type Source interface {
	Name() string
}

type TemperatureSource interface {
	Source
	Temperature() (float64, error)
}

type HumiditySource interface {
	Source
	Humidity() (float64, error)
}

// CO2Source is polled for data ready before CO2 is read.
type CO2Source interface {
	Source
	DataReady() (bool, error)
	CO2() (uint32, error)
}

type LightSource interface {
	Source
	Lux() (float64, error)
}

// BatteryGauge reports the cell state of charge in percent.
type BatteryGauge interface {
	Source
	CellPercent() (float64, error)
}

// Sources holds the probed capabilities, highest priority first.
type Sources struct {
	Temperature []TemperatureSource
	Humidity    []HumiditySource
	CO2         []CO2Source
	Light       []LightSource
	Battery     BatteryGauge
}

// HasBattery reports whether a battery gauge answered at probe time.
func (s Sources) HasBattery() bool { return s.Battery != nil }

const (
	CO2PollAttempts        = 5
	DefaultCO2PollInterval = 500 * time.Millisecond
)

type Aggregator struct {
	src    Sources
	logger *slog.Logger

	co2Interval time.Duration
	wait        func(context.Context, time.Duration) error
}

func NewAggregator(src Sources, co2Interval time.Duration, logger *slog.Logger) *Aggregator {
	if co2Interval <= 0 {
		co2Interval = DefaultCO2PollInterval
	}
	return &Aggregator{
		src:         src,
		logger:      logger,
		co2Interval: co2Interval,
		wait:        sleepCtx,
	}
}

func (a *Aggregator) Sources() Sources { return a.src }

// Collect reads every quantity once. For each quantity the first source
// that answers wins; failing sources leave the quantity absent. Collect
// never fails: an empty Reading means nothing answered.
func (a *Aggregator) Collect(ctx context.Context) types.Reading {
	var r types.Reading

	for _, s := range a.src.Temperature {
		v, err := s.Temperature()
		if err != nil {
			a.logger.Warn("sensor read failed", "sensor", s.Name(), "quantity", "temperature", "error", err)
			continue
		}
		a.logger.Debug("acquired temperature", "sensor", s.Name(), "value", v)
		r.Temperature = &v
		break
	}

	for _, s := range a.src.Humidity {
		v, err := s.Humidity()
		if err != nil {
			a.logger.Warn("sensor read failed", "sensor", s.Name(), "quantity", "humidity", "error", err)
			continue
		}
		a.logger.Debug("acquired humidity", "sensor", s.Name(), "value", v)
		r.Humidity = &v
		break
	}

	for _, s := range a.src.CO2 {
		v, ok := a.pollCO2(ctx, s)
		if ok {
			r.CO2 = &v
			break
		}
	}

	for _, s := range a.src.Light {
		v, err := s.Lux()
		if err != nil {
			a.logger.Warn("sensor read failed", "sensor", s.Name(), "quantity", "lux", "error", err)
			continue
		}
		a.logger.Debug("acquired lux", "sensor", s.Name(), "value", v)
		r.Lux = &v
		break
	}

	if g := a.src.Battery; g != nil {
		v, err := g.CellPercent()
		if err != nil {
			a.logger.Warn("battery gauge read failed", "sensor", g.Name(), "error", err)
		} else {
			a.logger.Debug("acquired battery level", "sensor", g.Name(), "value", v)
			r.Battery = &v
		}
	}

	return r
}

// pollCO2 checks the data ready flag at most CO2PollAttempts times.
func (a *Aggregator) pollCO2(ctx context.Context, s CO2Source) (uint32, bool) {
	for attempt := 1; attempt <= CO2PollAttempts; attempt++ {
		ready, err := s.DataReady()
		if err != nil {
			a.logger.Warn("sensor read failed", "sensor", s.Name(), "quantity", "co2", "error", err)
			return 0, false
		}
		if ready {
			v, err := s.CO2()
			if err != nil {
				a.logger.Warn("sensor read failed", "sensor", s.Name(), "quantity", "co2", "error", err)
				return 0, false
			}
			a.logger.Debug("acquired co2", "sensor", s.Name(), "ppm", v, "attempt", attempt)
			return v, true
		}
		if attempt == CO2PollAttempts {
			break
		}
		a.logger.Debug("co2 data not ready", "sensor", s.Name(), "attempt", attempt, "retry_in", a.co2Interval)
		if err := a.wait(ctx, a.co2Interval); err != nil {
			return 0, false
		}
	}
	a.logger.Info("co2 data not ready, reporting it absent", "sensor", s.Name(), "attempts", CO2PollAttempts)
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
