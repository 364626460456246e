// Package scd4x drives the Sensirion SCD40/SCD41 CO2 sensors in periodic
// measurement mode.
package scd4x

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"

	"cloudpico-node/internal/drivers"
)

const Address = 0x62

const (
	cmdStartPeriodic = 0x21B1
	cmdStopPeriodic  = 0x3F86
	cmdSerial        = 0x3682
	cmdDataReady     = 0xE4B8
	cmdReadMeasure   = 0xEC05

	dataReadyMask = 0x07FF

	crcPoly = 0x31
	crcInit = 0xFF
)

var sleep = time.Sleep

type Dev struct {
	d       *i2c.Dev
	serial  uint64
	running bool
}

// Measurement is one periodic sample.
type Measurement struct {
	CO2         uint16
	Celsius     float64
	RelHumidity float64
}

// NewI2C stops any running measurement and reads the serial number.
func NewI2C(bus i2c.Bus, addr uint16) (*Dev, error) {
	if addr == 0 {
		addr = Address
	}
	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}}
	if err := d.command(cmdStopPeriodic); err != nil {
		return nil, drivers.NotPresent("scd4x", addr, err)
	}
	sleep(500 * time.Millisecond)

	w, err := d.read(cmdSerial, 3)
	if err != nil {
		return nil, drivers.NotPresent("scd4x", addr, err)
	}
	d.serial = uint64(w[0])<<32 | uint64(w[1])<<16 | uint64(w[2])
	return d, nil
}

func (d *Dev) String() string { return fmt.Sprintf("scd4x(%012X)", d.serial) }

func (d *Dev) Name() string { return "scd4x" }

func (d *Dev) Serial() uint64 { return d.serial }

// Start begins periodic measurement. The first sample is ready after about
// five seconds.
func (d *Dev) Start() error {
	if d.running {
		return nil
	}
	if err := d.command(cmdStartPeriodic); err != nil {
		return fmt.Errorf("scd4x: start periodic measurement: %w", err)
	}
	d.running = true
	return nil
}

func (d *Dev) Stop() error {
	if err := d.command(cmdStopPeriodic); err != nil {
		return fmt.Errorf("scd4x: stop periodic measurement: %w", err)
	}
	d.running = false
	sleep(500 * time.Millisecond)
	return nil
}

func (d *Dev) Halt() error { return d.Stop() }

func (d *Dev) DataReady() (bool, error) {
	w, err := d.read(cmdDataReady, 1)
	if err != nil {
		return false, fmt.Errorf("scd4x: data ready: %w", err)
	}
	return w[0]&dataReadyMask != 0, nil
}

func (d *Dev) Measure(out *Measurement) error {
	w, err := d.read(cmdReadMeasure, 3)
	if err != nil {
		return fmt.Errorf("scd4x: read measurement: %w", err)
	}
	out.CO2 = w[0]
	out.Celsius = -45 + 175*float64(w[1])/65535
	out.RelHumidity = 100 * float64(w[2]) / 65535
	return nil
}

// CO2 reads the latest sample in ppm. Callers check DataReady first.
func (d *Dev) CO2() (uint32, error) {
	var m Measurement
	if err := d.Measure(&m); err != nil {
		return 0, err
	}
	return uint32(m.CO2), nil
}

func (d *Dev) command(cmd uint16) error {
	return d.d.Tx([]byte{byte(cmd >> 8), byte(cmd)}, nil)
}

func (d *Dev) read(cmd uint16, words int) ([]uint16, error) {
	if err := d.command(cmd); err != nil {
		return nil, err
	}
	sleep(time.Millisecond)

	buf := make([]byte, words*3)
	if err := d.d.Tx(nil, buf); err != nil {
		return nil, err
	}
	out := make([]uint16, words)
	for i := range out {
		b := buf[i*3 : i*3+3]
		if drivers.CRC8(crcPoly, crcInit, b[0], b[1]) != b[2] {
			return nil, fmt.Errorf("word %d: %w", i, drivers.ErrCRC)
		}
		out[i] = uint16(b[0])<<8 | uint16(b[1])
	}
	return out, nil
}
