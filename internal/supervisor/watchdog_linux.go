//go:build linux

package supervisor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DeviceWatchdog drives a kernel watchdog device such as /dev/watchdog.
// On expiry the kernel resets the board.
type DeviceWatchdog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenDevice opens the device, which starts the kernel countdown with the
// driver's default timeout.
func OpenDevice(path string) (*DeviceWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog: %w", err)
	}
	return &DeviceWatchdog{path: path, f: f}, nil
}

func (w *DeviceWatchdog) Arm(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ErrNotArmed
	}
	fd := int(w.f.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.WDIOC_SETTIMEOUT, int(timeout/time.Second)); err != nil {
		return fmt.Errorf("%s: set timeout: %w", w.path, err)
	}
	return unix.IoctlWatchdogKeepalive(fd)
}

func (w *DeviceWatchdog) Feed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ErrNotArmed
	}
	if err := unix.IoctlWatchdogKeepalive(int(w.f.Fd())); err != nil {
		return fmt.Errorf("%s: keepalive: %w", w.path, err)
	}
	return nil
}

// Disarm writes the magic close character so drivers that support it stop
// the countdown, then closes the device.
func (w *DeviceWatchdog) Disarm() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	_, werr := w.f.Write([]byte("V"))
	cerr := w.f.Close()
	w.f = nil
	if werr != nil {
		return fmt.Errorf("%s: magic close: %w", w.path, werr)
	}
	return cerr
}
