//go:build !linux

package supervisor

import "errors"

type SystemResetter struct{}

func (SystemResetter) HardReset() error  { return errors.ErrUnsupported }
func (SystemResetter) SoftReload() error { return errors.ErrUnsupported }
