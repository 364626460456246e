// Package drivers holds what the register-level sensor drivers share:
// presence errors and the CRC used by the Sensirion and ON Semi parts.
package drivers

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPresent means the chip did not answer its identification step.
	// It is not a fault: the board simply lacks that capability.
	ErrNotPresent = errors.New("device not present")

	ErrCRC      = errors.New("crc mismatch")
	ErrNotReady = errors.New("measurement not ready")
	ErrTimeout  = errors.New("timeout")
)

// NotPresent wraps the identification failure of the named device.
func NotPresent(name string, addr uint16, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s at 0x%02X: %w", name, addr, ErrNotPresent)
	}
	return fmt.Errorf("%s at 0x%02X: %w: %v", name, addr, ErrNotPresent, cause)
}

// CRC8 is the MSB-first CRC-8 with the given polynomial and initial value.
func CRC8(poly, init byte, data ...byte) byte {
	crc := init
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
