//go:build !linux

package supervisor

import (
	"errors"
	"time"
)

type DeviceWatchdog struct{}

func OpenDevice(path string) (*DeviceWatchdog, error) {
	return nil, errors.ErrUnsupported
}

func (*DeviceWatchdog) Arm(time.Duration) error { return errors.ErrUnsupported }
func (*DeviceWatchdog) Feed() error             { return errors.ErrUnsupported }
func (*DeviceWatchdog) Disarm() error           { return nil }
