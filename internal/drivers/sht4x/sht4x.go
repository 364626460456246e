// Package sht4x drives the Sensirion SHT40/SHT41/SHT45 humidity sensors.
package sht4x

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"

	"cloudpico-node/internal/drivers"
)

const Address = 0x44

const (
	cmdMeasureHigh = 0xFD
	cmdSerial      = 0x89
	cmdSoftReset   = 0x94

	crcPoly = 0x31
	crcInit = 0xFF
)

var sleep = time.Sleep

type Dev struct {
	d      *i2c.Dev
	serial uint32
}

// Sample is one high-precision measurement.
type Sample struct {
	Celsius     float64
	RelHumidity float64
}

// NewI2C reads the serial number to confirm the chip is there.
func NewI2C(bus i2c.Bus, addr uint16) (*Dev, error) {
	if addr == 0 {
		addr = Address
	}
	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}}
	if err := d.d.Tx([]byte{cmdSerial}, nil); err != nil {
		return nil, drivers.NotPresent("sht4x", addr, err)
	}
	sleep(time.Millisecond)
	w, err := d.readWords()
	if err != nil {
		return nil, drivers.NotPresent("sht4x", addr, err)
	}
	d.serial = uint32(w[0])<<16 | uint32(w[1])
	return d, nil
}

func (d *Dev) String() string { return fmt.Sprintf("sht4x(%08X)", d.serial) }

func (d *Dev) Name() string { return "sht4x" }

func (d *Dev) Serial() uint32 { return d.serial }

func (d *Dev) Sense(out *Sample) error {
	if err := d.d.Tx([]byte{cmdMeasureHigh}, nil); err != nil {
		return fmt.Errorf("sht4x: measure: %w", err)
	}
	sleep(10 * time.Millisecond)
	w, err := d.readWords()
	if err != nil {
		return fmt.Errorf("sht4x: %w", err)
	}
	out.Celsius = -45 + 175*float64(w[0])/65535
	rh := -6 + 125*float64(w[1])/65535
	out.RelHumidity = min(max(rh, 0), 100)
	return nil
}

func (d *Dev) Temperature() (float64, error) {
	var s Sample
	if err := d.Sense(&s); err != nil {
		return 0, err
	}
	return s.Celsius, nil
}

func (d *Dev) Humidity() (float64, error) {
	var s Sample
	if err := d.Sense(&s); err != nil {
		return 0, err
	}
	return s.RelHumidity, nil
}

// readWords reads two CRC-protected 16-bit words.
func (d *Dev) readWords() ([2]uint16, error) {
	var buf [6]byte
	var w [2]uint16
	if err := d.d.Tx(nil, buf[:]); err != nil {
		return w, err
	}
	for i := range w {
		b := buf[i*3 : i*3+3]
		if drivers.CRC8(crcPoly, crcInit, b[0], b[1]) != b[2] {
			return w, fmt.Errorf("word %d: %w", i, drivers.ErrCRC)
		}
		w[i] = uint16(b[0])<<8 | uint16(b[1])
	}
	return w, nil
}
