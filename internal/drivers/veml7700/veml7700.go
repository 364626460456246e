// Package veml7700 drives the Vishay VEML7700 ambient light sensor with a
// 100ms integration time.
package veml7700

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"

	"cloudpico-node/internal/drivers"
)

const Address = 0x10

const (
	regConf = 0x00
	regALS  = 0x04
	regID   = 0x07

	deviceID = 0x81

	confGainShift = 11
	confShutdown  = 1 << 0
	// integration time bits 9:6 are zero for 100ms
	integration = 100 * time.Millisecond
)

var sleep = time.Sleep

// lux per count at 100ms integration, keyed by gain
var resolution = map[int]float64{
	1: 0.0576,
	2: 0.0288,
}

var gainBits = map[int]uint16{
	1: 0b00,
	2: 0b01,
}

type Dev struct {
	d    *i2c.Dev
	gain int
}

// NewI2C checks the device ID, then powers the sensor on with the given
// gain (1 or 2) and waits for the first integration.
func NewI2C(bus i2c.Bus, addr uint16, gain int) (*Dev, error) {
	if addr == 0 {
		addr = Address
	}
	bits, ok := gainBits[gain]
	if !ok {
		return nil, fmt.Errorf("veml7700: unsupported gain %d", gain)
	}
	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}, gain: gain}

	id, err := d.readReg(regID)
	if err != nil {
		return nil, drivers.NotPresent("veml7700", addr, err)
	}
	if byte(id) != deviceID {
		return nil, drivers.NotPresent("veml7700", addr, fmt.Errorf("device id 0x%02X", byte(id)))
	}

	if err := d.writeReg(regConf, bits<<confGainShift); err != nil {
		return nil, fmt.Errorf("veml7700: configure: %w", err)
	}
	sleep(integration + integration/10)
	return d, nil
}

func (d *Dev) String() string { return fmt.Sprintf("veml7700(gain=%d)", d.gain) }

func (d *Dev) Name() string { return "veml7700" }

func (d *Dev) Lux() (float64, error) {
	raw, err := d.readReg(regALS)
	if err != nil {
		return 0, fmt.Errorf("veml7700: read als: %w", err)
	}
	return float64(raw) * resolution[d.gain], nil
}

// Halt puts the sensor into shutdown.
func (d *Dev) Halt() error {
	return d.writeReg(regConf, gainBits[d.gain]<<confGainShift|confShutdown)
}

// Registers are 16-bit little-endian.
func (d *Dev) readReg(reg byte) (uint16, error) {
	var b [2]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (d *Dev) writeReg(reg byte, v uint16) error {
	return d.d.Tx([]byte{reg, byte(v), byte(v >> 8)}, nil)
}
