// Package tmp117 drives the TI TMP117 precision temperature sensor.
package tmp117

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"

	"cloudpico-node/internal/drivers"
)

const Address = 0x48

const (
	regTemp     = 0x00
	regConfig   = 0x01
	regDeviceID = 0x0F

	deviceID = 0x0117

	cfgDataReady = 1 << 13

	// result register value before the first conversion completes
	resetValue = -256 * 128

	resolution = 0.0078125
)

var sleep = time.Sleep

// ReadyTimeout bounds the wait for the first conversion after power-up.
var ReadyTimeout = 1200 * time.Millisecond

type Dev struct {
	d *i2c.Dev
}

// NewI2C checks the device ID register.
func NewI2C(bus i2c.Bus, addr uint16) (*Dev, error) {
	if addr == 0 {
		addr = Address
	}
	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}}
	id, err := d.readReg(regDeviceID)
	if err != nil {
		return nil, drivers.NotPresent("tmp117", addr, err)
	}
	if id&0x0FFF != deviceID {
		return nil, drivers.NotPresent("tmp117", addr, fmt.Errorf("device id 0x%04X", id))
	}
	return d, nil
}

func (d *Dev) String() string { return "tmp117" }

func (d *Dev) Name() string { return "tmp117" }

// Temperature returns the latest continuous-mode conversion in °C.
func (d *Dev) Temperature() (float64, error) {
	raw, err := d.readReg(regTemp)
	if err != nil {
		return 0, fmt.Errorf("tmp117: read temperature: %w", err)
	}
	if int16(raw) != resetValue {
		return float64(int16(raw)) * resolution, nil
	}

	const poll = 50 * time.Millisecond
	for waited := time.Duration(0); waited < ReadyTimeout; waited += poll {
		cfg, err := d.readReg(regConfig)
		if err != nil {
			return 0, fmt.Errorf("tmp117: read config: %w", err)
		}
		if cfg&cfgDataReady != 0 {
			raw, err := d.readReg(regTemp)
			if err != nil {
				return 0, fmt.Errorf("tmp117: read temperature: %w", err)
			}
			return float64(int16(raw)) * resolution, nil
		}
		sleep(poll)
	}
	return 0, fmt.Errorf("tmp117: %w", drivers.ErrTimeout)
}

func (d *Dev) readReg(reg byte) (uint16, error) {
	var b [2]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
