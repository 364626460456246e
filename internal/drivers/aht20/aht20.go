// Package aht20 drives the AHT20 temperature/humidity sensor over periph.io
// I²C.
//
// A measurement is two-phase: Trigger starts a conversion, Collect fetches it
// and returns drivers.ErrNotReady while the chip is busy. Sense does both with
// bounded polling.
package aht20

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"

	"cloudpico-node/internal/drivers"
)

const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

// Opts controls polling. Zero fields take the DefaultOpts value.
type Opts struct {
	// TriggerHint is the nominal conversion time waited before the first
	// Collect.
	TriggerHint    time.Duration
	PollInterval   time.Duration
	CollectTimeout time.Duration
}

var DefaultOpts = Opts{
	TriggerHint:    80 * time.Millisecond,
	PollInterval:   15 * time.Millisecond,
	CollectTimeout: 250 * time.Millisecond,
}

var sleep = time.Sleep

type Dev struct {
	d    *i2c.Dev
	opts Opts
	buf  [7]byte
}

// Sample holds one raw measurement.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

func (s Sample) RelHumidity() float64 {
	return float64(s.RawHumidity) * 100 / 0x100000
}

func (s Sample) Celsius() float64 {
	return float64(s.RawTemp)*200/0x100000 - 50
}

// NewI2C probes the status register and calibrates the chip when needed.
// A chip that does not answer yields drivers.ErrNotPresent.
func NewI2C(bus i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if addr == 0 {
		addr = Address
	}
	o := DefaultOpts
	if opts != nil {
		if opts.TriggerHint > 0 {
			o.TriggerHint = opts.TriggerHint
		}
		if opts.PollInterval > 0 {
			o.PollInterval = opts.PollInterval
		}
		if opts.CollectTimeout > 0 {
			o.CollectTimeout = opts.CollectTimeout
		}
	}
	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}, opts: o}

	st, err := d.Status()
	if err != nil {
		return nil, drivers.NotPresent("aht20", addr, err)
	}
	if st&statusCalibrated == 0 {
		if err := d.d.Tx([]byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
			return nil, fmt.Errorf("aht20: initialize: %w", err)
		}
		sleep(10 * time.Millisecond)
	}
	return d, nil
}

func (d *Dev) String() string { return "aht20" }

func (d *Dev) Name() string { return "aht20" }

// Reset issues a soft reset. The chip needs about 20ms before the next
// command.
func (d *Dev) Reset() error {
	return d.d.Tx([]byte{cmdSoftReset}, nil)
}

func (d *Dev) Status() (byte, error) {
	var b [1]byte
	if err := d.d.Tx([]byte{cmdStatus}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) Trigger() error {
	return d.d.Tx([]byte{cmdTrigger, 0x33, 0x00}, nil)
}

// Collect reads the last conversion into out.
func (d *Dev) Collect(out *Sample) error {
	data := d.buf[:]
	if err := d.d.Tx(nil, data); err != nil {
		return err
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		return drivers.ErrNotReady
	}
	out.RawHumidity = uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4
	out.RawTemp = uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5])
	return nil
}

// Sense triggers a conversion and polls until it completes or the collect
// timeout elapses.
func (d *Dev) Sense(out *Sample) error {
	if err := d.Trigger(); err != nil {
		return fmt.Errorf("aht20: trigger: %w", err)
	}
	sleep(d.opts.TriggerHint)

	var waited time.Duration
	for {
		err := d.Collect(out)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, drivers.ErrNotReady):
			if waited >= d.opts.CollectTimeout {
				return fmt.Errorf("aht20: %w", drivers.ErrTimeout)
			}
			sleep(d.opts.PollInterval)
			waited += d.opts.PollInterval
		default:
			return fmt.Errorf("aht20: collect: %w", err)
		}
	}
}

func (d *Dev) Temperature() (float64, error) {
	var s Sample
	if err := d.Sense(&s); err != nil {
		return 0, err
	}
	return s.Celsius(), nil
}

func (d *Dev) Humidity() (float64, error) {
	var s Sample
	if err := d.Sense(&s); err != nil {
		return 0, err
	}
	return s.RelHumidity(), nil
}
