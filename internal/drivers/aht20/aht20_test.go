package aht20

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"

	"cloudpico-node/internal/drivers"
)

func noSleep(t *testing.T) {
	t.Helper()
	orig := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = orig })
}

// 50 %RH, 25 °C
var ready = []byte{0x1C, 0x80, 0x00, 0x06, 0x00, 0x00, 0x00}

func TestNewI2C_NotPresent(t *testing.T) {
	noSleep(t)
	bus := &i2ctest.Playback{DontPanic: true}
	_, err := NewI2C(bus, Address, nil)
	if !errors.Is(err, drivers.ErrNotPresent) {
		t.Fatalf("NewI2C() error = %v, want ErrNotPresent", err)
	}
}

func TestNewI2C_CalibratesWhenNeeded(t *testing.T) {
	noSleep(t)
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Address, W: []byte{cmdStatus}, R: []byte{0x10}},
			{Addr: Address, W: []byte{cmdInitialize, 0x08, 0x00}},
		},
	}
	if _, err := NewI2C(bus, Address, nil); err != nil {
		t.Fatalf("NewI2C() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSense(t *testing.T) {
	noSleep(t)
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Address, W: []byte{cmdStatus}, R: []byte{0x18}},
			{Addr: Address, W: []byte{cmdTrigger, 0x33, 0x00}},
			{Addr: Address, R: []byte{0x98, 0, 0, 0, 0, 0, 0}},
			{Addr: Address, R: ready},
		},
	}
	d, err := NewI2C(bus, Address, nil)
	if err != nil {
		t.Fatalf("NewI2C() error = %v", err)
	}
	var s Sample
	if err := d.Sense(&s); err != nil {
		t.Fatalf("Sense() error = %v", err)
	}
	if got := s.RelHumidity(); got != 50 {
		t.Errorf("RelHumidity() = %v, want 50", got)
	}
	if got := s.Celsius(); got != 25 {
		t.Errorf("Celsius() = %v, want 25", got)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSense_Timeout(t *testing.T) {
	noSleep(t)
	busy := []byte{0x98, 0, 0, 0, 0, 0, 0}
	ops := []i2ctest.IO{
		{Addr: Address, W: []byte{cmdStatus}, R: []byte{0x18}},
		{Addr: Address, W: []byte{cmdTrigger, 0x33, 0x00}},
	}
	opts := &Opts{PollInterval: 10 * time.Millisecond, CollectTimeout: 30 * time.Millisecond}
	// first read plus one per poll interval up to the timeout
	for i := 0; i < 4; i++ {
		ops = append(ops, i2ctest.IO{Addr: Address, R: busy})
	}
	bus := &i2ctest.Playback{Ops: ops}

	d, err := NewI2C(bus, Address, opts)
	if err != nil {
		t.Fatalf("NewI2C() error = %v", err)
	}
	_, err = d.Temperature()
	if !errors.Is(err, drivers.ErrTimeout) {
		t.Fatalf("Temperature() error = %v, want ErrTimeout", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}
