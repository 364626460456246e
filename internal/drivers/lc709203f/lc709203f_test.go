package lc709203f

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"

	"cloudpico-node/internal/drivers"
)

const (
	wr = Address << 1
	rd = wr | 1
)

func readIO(reg byte, v uint16) i2ctest.IO {
	lo, hi := byte(v), byte(v>>8)
	return i2ctest.IO{Addr: Address, W: []byte{reg}, R: []byte{lo, hi, drivers.CRC8(crcPoly, 0, wr, reg, rd, lo, hi)}}
}

func writeIO(reg byte, v uint16) i2ctest.IO {
	lo, hi := byte(v), byte(v>>8)
	return i2ctest.IO{Addr: Address, W: []byte{reg, lo, hi, drivers.CRC8(crcPoly, 0, wr, reg, lo, hi)}}
}

func TestNewI2C_ProgramsPackSize(t *testing.T) {
	tests := []struct {
		pack int
		apa  uint16
	}{
		{pack: 100, apa: 0x08},
		{pack: 500, apa: 0x10},
		{pack: 2000, apa: 0x2D},
		{pack: 3000, apa: 0x36},
	}
	for _, tt := range tests {
		bus := &i2ctest.Playback{
			Ops: []i2ctest.IO{
				readIO(regICVersion, 0x2717),
				writeIO(regPowerMode, powerOperational),
				writeIO(regAPA, tt.apa),
				writeIO(regProfile, 1),
			},
		}
		if _, err := NewI2C(bus, Address, &Opts{PackSize: tt.pack, Profile: 1}); err != nil {
			t.Fatalf("NewI2C(pack %d) error = %v", tt.pack, err)
		}
		if err := bus.Close(); err != nil {
			t.Fatalf("pack %d: %v", tt.pack, err)
		}
	}
}

func TestNewI2C_Errors(t *testing.T) {
	if _, err := NewI2C(&i2ctest.Playback{}, Address, &Opts{PackSize: 1500}); err == nil {
		t.Errorf("NewI2C(pack 1500) error = nil, want non-nil")
	}

	bus := &i2ctest.Playback{DontPanic: true}
	if _, err := NewI2C(bus, Address, nil); !errors.Is(err, drivers.ErrNotPresent) {
		t.Errorf("NewI2C(no chip) error = %v, want ErrNotPresent", err)
	}

	bad := &i2ctest.Playback{
		Ops: []i2ctest.IO{{Addr: Address, W: []byte{regICVersion}, R: []byte{0x17, 0x27, 0x00}}},
	}
	if _, err := NewI2C(bad, Address, nil); !errors.Is(err, drivers.ErrNotPresent) {
		t.Errorf("NewI2C(bad crc) error = %v, want ErrNotPresent", err)
	}
}

func TestCellPercent(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			readIO(regICVersion, 0x2717),
			writeIO(regPowerMode, powerOperational),
			writeIO(regAPA, 0x2D),
			writeIO(regProfile, 1),
			readIO(regITE, 801),
			readIO(regCellVoltage, 3987),
		},
	}
	d, err := NewI2C(bus, Address, nil)
	if err != nil {
		t.Fatalf("NewI2C() error = %v", err)
	}
	pct, err := d.CellPercent()
	if err != nil {
		t.Fatalf("CellPercent() error = %v", err)
	}
	if pct != 80.1 {
		t.Errorf("CellPercent() = %v, want 80.1", pct)
	}
	v, err := d.CellVoltage()
	if err != nil {
		t.Fatalf("CellVoltage() error = %v", err)
	}
	if v != 3.987 {
		t.Errorf("CellVoltage() = %v, want 3.987", v)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}
