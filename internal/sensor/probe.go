package sensor

import (
	"errors"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/drivers"
	"cloudpico-node/internal/drivers/aht20"
	"cloudpico-node/internal/drivers/lc709203f"
	"cloudpico-node/internal/drivers/scd4x"
	"cloudpico-node/internal/drivers/sht4x"
	"cloudpico-node/internal/drivers/tmp117"
	"cloudpico-node/internal/drivers/veml7700"
)

// Halter is implemented by drivers that should be stopped before the
// process goes to sleep.
type Halter interface {
	Halt() error
}

// Board is the set of sensors found on the I²C bus.
type Board struct {
	Sources
	halt []Halter
}

// Halt stops every driver that keeps measuring on its own.
func (b *Board) Halt() error {
	var errs []error
	for _, h := range b.halt {
		if err := h.Halt(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Probe tries every enabled driver once. A missing chip is logged at info
// level, a chip that answers but fails is logged as a warning; neither is
// fatal.
func Probe(bus i2c.Bus, cfg config.Config, logger *slog.Logger) *Board {
	b := &Board{}
	report := func(name string, err error) bool {
		switch {
		case err == nil:
			logger.Info("sensor found", "sensor", name)
			return true
		case errors.Is(err, drivers.ErrNotPresent):
			logger.Info("sensor not present", "sensor", name, "reason", err)
		default:
			logger.Warn("sensor init failed", "sensor", name, "error", err)
		}
		return false
	}

	// temperature: tmp117 > sht4x > aht20 > bme280
	// humidity: sht4x > aht20 > bme280
	if cfg.SensorEnabled("tmp117") {
		if d, err := tmp117.NewI2C(bus, tmp117.Address); report("tmp117", err) {
			b.Temperature = append(b.Temperature, d)
		}
	}
	if cfg.SensorEnabled("sht4x") {
		if d, err := sht4x.NewI2C(bus, sht4x.Address); report("sht4x", err) {
			b.Temperature = append(b.Temperature, d)
			b.Humidity = append(b.Humidity, d)
		}
	}
	if cfg.SensorEnabled("aht20") {
		if d, err := aht20.NewI2C(bus, aht20.Address, nil); report("aht20", err) {
			b.Temperature = append(b.Temperature, d)
			b.Humidity = append(b.Humidity, d)
		}
	}
	if cfg.SensorEnabled("bme280") {
		if d, err := newBME280(bus); report("bme280", err) {
			b.Temperature = append(b.Temperature, d)
			b.Humidity = append(b.Humidity, d)
			b.halt = append(b.halt, d.dev)
		}
	}

	if cfg.SensorEnabled("scd4x") {
		d, err := scd4x.NewI2C(bus, scd4x.Address)
		if err == nil {
			err = d.Start()
		}
		if report("scd4x", err) {
			logger.Info("waiting for the first measurement from the CO2 sensor")
			b.CO2 = append(b.CO2, d)
		}
	}

	if cfg.SensorEnabled("veml7700") {
		if d, err := veml7700.NewI2C(bus, veml7700.Address, cfg.LightGain); report("veml7700", err) {
			b.Light = append(b.Light, d)
			b.halt = append(b.halt, d)
		}
	}

	if cfg.SensorEnabled("lc709203f") {
		opts := lc709203f.DefaultOpts
		opts.PackSize = cfg.BatteryPackSize
		if d, err := lc709203f.NewI2C(bus, lc709203f.Address, &opts); report("lc709203f", err) {
			b.Battery = d
		}
	}

	return b
}

// bme280Fresh is how long one measurement serves both readings.
const bme280Fresh = time.Second

// bme280 adapts the periph.io bmxx80 driver. Temperature and humidity come
// from one Sense within a cycle.
type bme280 struct {
	dev   *bmxx80.Dev
	sense func(*physic.Env) error
	now   func() time.Time

	env    physic.Env
	sensed time.Time
}

func newBME280Dev(dev *bmxx80.Dev) *bme280 {
	return &bme280{dev: dev, sense: dev.Sense, now: time.Now}
}

func newBME280(bus i2c.Bus) (*bme280, error) {
	var errs []error
	for _, addr := range []uint16{0x76, 0x77} {
		dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
		if err == nil {
			return newBME280Dev(dev), nil
		}
		errs = append(errs, drivers.NotPresent("bme280", addr, err))
	}
	return nil, errors.Join(errs...)
}

func (b *bme280) Name() string { return "bme280" }

// Temperature always measures; Humidity reuses that measurement while it
// is fresh.
func (b *bme280) Temperature() (float64, error) {
	if err := b.measure(); err != nil {
		return 0, err
	}
	return b.env.Temperature.Celsius(), nil
}

func (b *bme280) Humidity() (float64, error) {
	if b.sensed.IsZero() || b.now().Sub(b.sensed) > bme280Fresh {
		if err := b.measure(); err != nil {
			return 0, err
		}
	}
	return float64(b.env.Humidity) / float64(physic.PercentRH), nil
}

func (b *bme280) measure() error {
	var env physic.Env
	if err := b.sense(&env); err != nil {
		b.sensed = time.Time{}
		return err
	}
	b.env, b.sensed = env, b.now()
	return nil
}
