// Package lc709203f drives the ON Semiconductor LC709203F battery fuel
// gauge. Every register word carries a CRC-8 computed over the bus
// addressing bytes as well as the data.
package lc709203f

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"cloudpico-node/internal/drivers"
)

const Address = 0x0B

const (
	regCellVoltage = 0x09
	regAPA         = 0x0B
	regRSOC        = 0x0D
	regITE         = 0x0F
	regICVersion   = 0x11
	regProfile     = 0x12
	regPowerMode   = 0x15

	powerOperational = 0x0001
	powerSleep       = 0x0002

	crcPoly = 0x07
)

// APA adjustment per battery pack size in mAh.
var apa = map[int]uint16{
	100:  0x08,
	200:  0x0B,
	500:  0x10,
	1000: 0x19,
	2000: 0x2D,
	3000: 0x36,
}

type Opts struct {
	// PackSize in mAh, one of 100, 200, 500, 1000, 2000, 3000.
	PackSize int
	// Profile selects the battery type table, 0 or 1.
	Profile uint16
}

var DefaultOpts = Opts{PackSize: 2000, Profile: 1}

type Dev struct {
	d       *i2c.Dev
	version uint16
}

// NewI2C reads the IC version, wakes the gauge and programs the pack size.
func NewI2C(bus i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if addr == 0 {
		addr = Address
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	adj, ok := apa[o.PackSize]
	if !ok {
		return nil, fmt.Errorf("lc709203f: unsupported pack size %d mAh", o.PackSize)
	}

	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}}
	v, err := d.readWord(regICVersion)
	if err != nil {
		return nil, drivers.NotPresent("lc709203f", addr, err)
	}
	d.version = v

	for _, w := range []struct {
		reg byte
		v   uint16
	}{
		{regPowerMode, powerOperational},
		{regAPA, adj},
		{regProfile, o.Profile},
	} {
		if err := d.writeWord(w.reg, w.v); err != nil {
			return nil, fmt.Errorf("lc709203f: write 0x%02X: %w", w.reg, err)
		}
	}
	return d, nil
}

func (d *Dev) String() string { return fmt.Sprintf("lc709203f(v%04X)", d.version) }

func (d *Dev) Name() string { return "lc709203f" }

// CellPercent returns the indicator-to-empty state of charge in percent,
// with 0.1% resolution.
func (d *Dev) CellPercent() (float64, error) {
	v, err := d.readWord(regITE)
	if err != nil {
		return 0, fmt.Errorf("lc709203f: read ite: %w", err)
	}
	return float64(v) / 10, nil
}

// RelativeCharge returns the relative state of charge in whole percent.
func (d *Dev) RelativeCharge() (int, error) {
	v, err := d.readWord(regRSOC)
	if err != nil {
		return 0, fmt.Errorf("lc709203f: read rsoc: %w", err)
	}
	return int(v), nil
}

// CellVoltage returns the cell voltage in volts.
func (d *Dev) CellVoltage() (float64, error) {
	v, err := d.readWord(regCellVoltage)
	if err != nil {
		return 0, fmt.Errorf("lc709203f: read voltage: %w", err)
	}
	return float64(v) / 1000, nil
}

// Halt puts the gauge into sleep mode.
func (d *Dev) Halt() error {
	return d.writeWord(regPowerMode, powerSleep)
}

func (d *Dev) readWord(reg byte) (uint16, error) {
	var b [3]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	addr := byte(d.d.Addr << 1)
	if drivers.CRC8(crcPoly, 0, addr, reg, addr|1, b[0], b[1]) != b[2] {
		return 0, fmt.Errorf("register 0x%02X: %w", reg, drivers.ErrCRC)
	}
	return uint16(b[1])<<8 | uint16(b[0]), nil
}

func (d *Dev) writeWord(reg byte, v uint16) error {
	lo, hi := byte(v), byte(v>>8)
	crc := drivers.CRC8(crcPoly, 0, byte(d.d.Addr<<1), reg, lo, hi)
	return d.d.Tx([]byte{reg, lo, hi, crc}, nil)
}
