//go:build linux

package supervisor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SystemResetter resets the board through the kernel. The process needs
// CAP_SYS_BOOT for HardReset.
type SystemResetter struct{}

func (SystemResetter) HardReset() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// SoftReload replaces the process image with a fresh copy of itself.
func (SystemResetter) SoftReload() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("reload %s: %w", exe, err)
	}
	return nil
}
