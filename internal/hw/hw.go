// Package hw initializes the periph.io host drivers and opens the buses and
// pins the node uses.
package hw

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Init loads the host drivers. It is safe to call more than once.
func Init(logger *slog.Logger) error {
	state, err := host.Init()
	if err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	for _, f := range state.Failed {
		logger.Debug("host driver failed", "driver", f.D.String(), "error", f.Err)
	}
	logger.Debug("host initialized", "loaded", len(state.Loaded), "skipped", len(state.Skipped))
	return nil
}

// OpenI2C opens the named I²C bus; an empty name picks the first one,
// usually /dev/i2c-1.
func OpenI2C(name string) (i2c.BusCloser, error) {
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", name, err)
	}
	return bus, nil
}

// OpenSPI opens the named SPI port; an empty name picks the first one.
func OpenSPI(name string) (spi.PortCloser, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", name, err)
	}
	return port, nil
}

// Pin looks a GPIO up by name, e.g. "GPIO25".
func Pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}
