//go:build !linux || tinygo

package main

import (
	"errors"
	"net/netip"
)

// tapDriver is the stub used on platforms with no Linux TAP device
// (mirrors internal's own tap_nolinux.go split): netstackd on such a
// target is expected to supply a real [ethernet.Driver] backed by its
// own MAC/PHY, which is out of scope here per spec.md's stated
// external-collaborator boundary.
type tapDriver struct{}

func newTapDriver(name string, addr netip.Prefix) (*tapDriver, error) {
	return nil, errors.ErrUnsupported
}

func (d *tapDriver) GetTxFrame() ([]byte, error)        { return nil, errors.ErrUnsupported }
func (d *tapDriver) SendTxFrame(buf []byte, n int) error { return errors.ErrUnsupported }
func (d *tapDriver) CancelTxFrame(buf []byte)            {}
func (d *tapDriver) GetRxFrame() ([]byte, bool)          { return nil, false }
func (d *tapDriver) ReleaseRxFrame(buf []byte)           {}
func (d *tapDriver) MTU() int                            { return 0 }
func (d *tapDriver) Close() error                        { return errors.ErrUnsupported }
func (d *tapDriver) HardwareAddress6() ([6]byte, error) {
	return [6]byte{}, errors.ErrUnsupported
}
