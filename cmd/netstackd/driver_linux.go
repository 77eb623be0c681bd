//go:build linux && !tinygo

package main

import (
	"net/netip"
	"time"

	"github.com/soypat/tinystack/internal"
)

// numDriverBufs sizes both the TX and RX free lists. A handful of frames
// in flight is plenty for a single administration connection; this
// driver never allocates a frame buffer beyond the two pools Init
// carves out of fixed backing arrays at construction.
const numDriverBufs = 8

// tapDriver adapts [internal.Tap]'s blocking Read/Write file-descriptor
// interface to [ethernet.Driver]'s non-blocking Get/Send/Cancel/Release
// buffer-ownership contract: a background goroutine blocks on tap.Read
// into pool buffers and hands completed frames to GetRxFrame through a
// small buffered channel, so Stack.PollRx's cooperative, non-blocking
// poll loop never itself blocks on the device.
type tapDriver struct {
	tap *internal.Tap
	mtu int

	txPool  internal.IOBufPool
	txStore []byte

	rxPool  internal.IOBufPool
	rxStore []byte
	rxReady chan []byte
	closeCh chan struct{}
}

// newTapDriver creates a Linux TAP device named name with static address
// addr and starts the background receive goroutine.
func newTapDriver(name string, addr netip.Prefix) (*tapDriver, error) {
	tap, err := internal.NewTap(name, addr)
	if err != nil {
		return nil, err
	}
	mtu, err := tap.MTU()
	if err != nil {
		tap.Close()
		return nil, err
	}
	frameSize := mtu + 14 // Ethernet header headroom, ethernet.Driver's documented contract.
	d := &tapDriver{
		tap:     tap,
		mtu:     mtu,
		txStore: make([]byte, numDriverBufs*frameSize),
		rxStore: make([]byte, numDriverBufs*frameSize),
		rxReady: make(chan []byte, numDriverBufs),
		closeCh: make(chan struct{}),
	}
	d.txPool.Init(d.txStore, numDriverBufs, frameSize)
	d.rxPool.Init(d.rxStore, numDriverBufs, frameSize)
	go d.readLoop()
	return d, nil
}

func (d *tapDriver) readLoop() {
	for {
		select {
		case <-d.closeCh:
			return
		default:
		}
		buf, ok := d.rxPool.Get()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		n, err := d.tap.Read(buf)
		if err != nil || n == 0 {
			d.rxPool.Put(buf)
			if err != nil {
				return
			}
			continue
		}
		select {
		case d.rxReady <- buf[:n]:
		default:
			d.rxPool.Put(buf) // consumer backed up; drop the frame.
		}
	}
}

func (d *tapDriver) GetTxFrame() ([]byte, error) {
	buf, ok := d.txPool.Get()
	if !ok {
		return nil, internal.ErrPoolExhausted
	}
	return buf, nil
}

func (d *tapDriver) SendTxFrame(buf []byte, n int) error {
	_, err := d.tap.Write(buf[:n])
	d.txPool.Put(buf)
	return err
}

func (d *tapDriver) CancelTxFrame(buf []byte) {
	d.txPool.Put(buf)
}

func (d *tapDriver) GetRxFrame() ([]byte, bool) {
	select {
	case buf := <-d.rxReady:
		return buf, true
	default:
		return nil, false
	}
}

func (d *tapDriver) ReleaseRxFrame(buf []byte) {
	d.rxPool.Put(buf)
}

func (d *tapDriver) MTU() int { return d.mtu }

func (d *tapDriver) Close() error {
	close(d.closeCh)
	return d.tap.Close()
}

func (d *tapDriver) HardwareAddress6() ([6]byte, error) {
	return d.tap.HardwareAddress6()
}
