// Package rfm69 drives a HopeRF RFM69 (H)CW packet radio over periph.io SPI
// in FSK packet mode, transmit only.
//
// Frames go out with the 4-byte RadioHead header (to, from, id, flags) so
// that RadioHead and CircuitPython receivers accept them.
package rfm69

import (
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrNotPresent means the version register did not read back as an
	// RFM69.
	ErrNotPresent = errors.New("rfm69: radio not present")
	// ErrBus wraps SPI and GPIO failures.
	ErrBus = errors.New("rfm69: bus error")
	// ErrTimeout means the chip did not reach a mode or finish sending in
	// time.
	ErrTimeout = errors.New("rfm69: timeout")
)

const (
	regFIFO          = 0x00
	regOpMode        = 0x01
	regDataModul     = 0x02
	regBitrateMsb    = 0x03
	regFdevMsb       = 0x05
	regFrfMsb        = 0x07
	regVersion       = 0x10
	regPaLevel       = 0x11
	regOcp           = 0x13
	regRxBw          = 0x19
	regAfcBw         = 0x1A
	regIrqFlags1     = 0x27
	regIrqFlags2     = 0x28
	regPreambleMsb   = 0x2C
	regSyncConfig    = 0x2E
	regSyncValue1    = 0x2F
	regPacketConfig1 = 0x37
	regPayloadLength = 0x38
	regFifoThresh    = 0x3C
	regPacketConfig2 = 0x3D
	regAesKey1       = 0x3E
	regTestPa1       = 0x5A
	regTestPa2       = 0x5C
	regTestDagc      = 0x6F

	writeBit = 0x80

	version = 0x24

	modeSleep   = 0x00
	modeStandby = 0x04
	modeTx      = 0x0C

	irq1ModeReady  = 0x80
	irq2PacketSent = 0x08

	paOcpOn  = 0x1A
	paOcpOff = 0x0F

	testPa1Normal = 0x55
	testPa2Normal = 0x70
	testPa1Boost  = 0x5D
	testPa2Boost  = 0x7C

	// Fstep = Fxosc / 2^19
	fxosc = 32_000_000
	fstep = fxosc / 524288.0

	headerLen = 4
	fifoLen   = 66

	// MaxPayload is the largest payload Send accepts.
	MaxPayload = 60

	KeyLen = 16

	Broadcast = 0xFF
)

// Opts configures the radio. Zero values take the DefaultOpts value.
type Opts struct {
	FrequencyMHz float64
	// HighPower is set for the (H)CW modules with the PA_BOOST output.
	HighPower   bool
	SendTimeout time.Duration
	// Node and Destination are the RadioHead addresses.
	Node        byte
	Destination byte
}

var DefaultOpts = Opts{
	FrequencyMHz: 433,
	HighPower:    true,
	SendTimeout:  2 * time.Second,
	Node:         Broadcast,
	Destination:  Broadcast,
}

var sleep = time.Sleep

type Dev struct {
	c     spi.Conn
	reset gpio.PinOut
	opts  Opts

	txPower int
	aes     bool
	id      byte
}

// Connect opens the SPI port at the radio's rated speed.
func Connect(port spi.Port) (spi.Conn, error) {
	c, err := port.Connect(5*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrBus, err)
	}
	return c, nil
}

// New resets the chip, checks its version and applies the packet mode
// configuration. reset may be nil when the reset line is not wired.
func New(c spi.Conn, reset gpio.PinOut, opts *Opts) (*Dev, error) {
	o := DefaultOpts
	if opts != nil {
		o.HighPower = opts.HighPower
		if opts.FrequencyMHz > 0 {
			o.FrequencyMHz = opts.FrequencyMHz
		}
		if opts.SendTimeout > 0 {
			o.SendTimeout = opts.SendTimeout
		}
		if opts.Node != 0 {
			o.Node = opts.Node
		}
		if opts.Destination != 0 {
			o.Destination = opts.Destination
		}
	}
	d := &Dev{c: c, reset: reset, opts: o}

	if err := d.Reset(); err != nil {
		return nil, err
	}
	v, err := d.read(regVersion)
	if err != nil {
		return nil, err
	}
	if v != version {
		return nil, fmt.Errorf("%w: version 0x%02X, check wiring", ErrNotPresent, v)
	}

	if err := d.setMode(modeStandby); err != nil {
		return nil, err
	}

	bitrate := uint16(fxosc / 250_000)
	fdev := uint16(250_000 / fstep)
	steps := []struct {
		reg byte
		v   []byte
	}{
		{regTestDagc, []byte{0x30}},
		{regDataModul, []byte{0x00}},
		{regBitrateMsb, []byte{byte(bitrate >> 8), byte(bitrate)}},
		{regFdevMsb, []byte{byte(fdev >> 8), byte(fdev)}},
		{regRxBw, []byte{0xE0}},
		{regAfcBw, []byte{0xE0}},
		{regPreambleMsb, []byte{0x00, 0x04}},
		// sync on, two bytes
		{regSyncConfig, []byte{0x88}},
		{regSyncValue1, []byte{0x2D, 0xD4}},
		// variable length, whitening, crc on
		{regPacketConfig1, []byte{0xD0}},
		{regPayloadLength, []byte{fifoLen}},
		{regFifoThresh, []byte{0x8F}},
		{regPacketConfig2, []byte{0x00}},
	}
	for _, s := range steps {
		if err := d.write(s.reg, s.v...); err != nil {
			return nil, err
		}
	}
	if err := d.SetFrequency(o.FrequencyMHz); err != nil {
		return nil, err
	}
	if err := d.SetTxPower(13); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("rfm69(%.0fMHz, %ddBm)", d.opts.FrequencyMHz, d.txPower)
}

func (d *Dev) HighPower() bool { return d.opts.HighPower }

func (d *Dev) TxPower() int { return d.txPower }

func (d *Dev) Encrypted() bool { return d.aes }

// Reset pulses the reset line.
func (d *Dev) Reset() error {
	if d.reset == nil {
		return nil
	}
	if err := d.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: reset pin: %v", ErrBus, err)
	}
	sleep(100 * time.Microsecond)
	if err := d.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: reset pin: %v", ErrBus, err)
	}
	sleep(5 * time.Millisecond)
	return nil
}

func (d *Dev) SetFrequency(mhz float64) error {
	frf := uint32(math.Round(mhz * 1e6 / fstep))
	return d.write(regFrfMsb, byte(frf>>16), byte(frf>>8), byte(frf))
}

// SetTxPower sets the output power in dBm: -2..20 on high power modules,
// -18..13 otherwise.
func (d *Dev) SetTxPower(dbm int) error {
	var pa byte
	if d.opts.HighPower {
		if dbm < -2 || dbm > 20 {
			return fmt.Errorf("rfm69: tx power %d outside [-2, 20]", dbm)
		}
		switch {
		case dbm <= 13:
			pa = 0x40 | byte(dbm+18)
		case dbm <= 17:
			pa = 0x60 | byte(dbm+14)
		default:
			pa = 0x60 | byte(dbm+11)
		}
	} else {
		if dbm < -18 || dbm > 13 {
			return fmt.Errorf("rfm69: tx power %d outside [-18, 13]", dbm)
		}
		pa = 0x80 | byte(dbm+18)
	}
	if err := d.write(regPaLevel, pa); err != nil {
		return err
	}
	d.txPower = dbm
	return nil
}

// SetEncryptionKey turns AES on with a 16 byte key, or off when key is nil.
func (d *Dev) SetEncryptionKey(key []byte) error {
	if key == nil {
		if err := d.write(regPacketConfig2, 0x00); err != nil {
			return err
		}
		d.aes = false
		return nil
	}
	if len(key) != KeyLen {
		return fmt.Errorf("rfm69: encryption key has length %d, want %d", len(key), KeyLen)
	}
	if err := d.write(regAesKey1, key...); err != nil {
		return err
	}
	if err := d.write(regPacketConfig2, 0x01); err != nil {
		return err
	}
	d.aes = true
	return nil
}

// Send transmits one packet and waits for PacketSent. There is no
// acknowledgment from the receiver.
func (d *Dev) Send(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("rfm69: payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	if err := d.setMode(modeStandby); err != nil {
		return err
	}

	pkt := make([]byte, 0, 1+headerLen+len(payload))
	pkt = append(pkt, byte(headerLen+len(payload)), d.opts.Destination, d.opts.Node, d.id, 0)
	pkt = append(pkt, payload...)
	if err := d.write(regFIFO, pkt...); err != nil {
		return err
	}
	d.id++

	boost := d.opts.HighPower && d.txPower >= 18
	if boost {
		if err := d.setBoost(true); err != nil {
			return err
		}
	}
	err := d.transmit()
	if boost {
		if berr := d.setBoost(false); err == nil {
			err = berr
		}
	}
	if serr := d.setMode(modeStandby); err == nil {
		err = serr
	}
	return err
}

// Halt puts the radio to sleep.
func (d *Dev) Halt() error {
	return d.write(regOpMode, modeSleep)
}

func (d *Dev) transmit() error {
	if err := d.write(regOpMode, modeTx); err != nil {
		return err
	}
	const poll = time.Millisecond
	for waited := time.Duration(0); waited < d.opts.SendTimeout; waited += poll {
		f, err := d.read(regIrqFlags2)
		if err != nil {
			return err
		}
		if f&irq2PacketSent != 0 {
			return nil
		}
		sleep(poll)
	}
	return fmt.Errorf("%w: packet not sent within %v", ErrTimeout, d.opts.SendTimeout)
}

func (d *Dev) setBoost(on bool) error {
	pa1, pa2, ocp := byte(testPa1Normal), byte(testPa2Normal), byte(paOcpOn)
	if on {
		pa1, pa2, ocp = testPa1Boost, testPa2Boost, paOcpOff
	}
	if err := d.write(regOcp, ocp); err != nil {
		return err
	}
	if err := d.write(regTestPa1, pa1); err != nil {
		return err
	}
	return d.write(regTestPa2, pa2)
}

func (d *Dev) setMode(mode byte) error {
	if err := d.write(regOpMode, mode); err != nil {
		return err
	}
	for i := 0; i < 100; i++ {
		f, err := d.read(regIrqFlags1)
		if err != nil {
			return err
		}
		if f&irq1ModeReady != 0 {
			return nil
		}
		sleep(100 * time.Microsecond)
	}
	return fmt.Errorf("%w: mode 0x%02X not ready", ErrTimeout, mode)
}

func (d *Dev) read(reg byte) (byte, error) {
	w := []byte{reg &^ writeBit, 0}
	r := make([]byte, 2)
	if err := d.c.Tx(w, r); err != nil {
		return 0, fmt.Errorf("%w: read 0x%02X: %v", ErrBus, reg, err)
	}
	return r[1], nil
}

func (d *Dev) write(reg byte, v ...byte) error {
	w := append([]byte{reg | writeBit}, v...)
	if err := d.c.Tx(w, nil); err != nil {
		return fmt.Errorf("%w: write 0x%02X: %v", ErrBus, reg, err)
	}
	return nil
}
