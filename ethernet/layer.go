package ethernet

import (
	"errors"

	"github.com/soypat/tinystack"
)

// Driver is the capability a host platform provides to move whole Ethernet
// frames in and out of a physical or virtual NIC. It models exclusive
// ownership of a small set of fixed-size frame buffers: a buffer obtained
// from GetTxFrame/GetRxFrame is owned by the caller until it is returned
// via the matching Send/Cancel/Release call, at which point the driver
// (or a lower MAC/DMA layer) reclaims it. No allocation is implied on
// either side of this interface.
type Driver interface {
	// GetTxFrame returns a buffer the caller may fill with a full Ethernet
	// frame (header and payload) of up to MTU()+14 bytes.
	GetTxFrame() (buf []byte, err error)
	// SendTxFrame transmits the first n bytes of buf, previously obtained
	// from GetTxFrame, and releases it back to the driver.
	SendTxFrame(buf []byte, n int) error
	// CancelTxFrame releases buf, previously obtained from GetTxFrame,
	// without transmitting it.
	CancelTxFrame(buf []byte)
	// GetRxFrame returns the next received frame, if any, and ok=true.
	// The caller owns buf until it calls ReleaseRxFrame.
	GetRxFrame() (buf []byte, ok bool)
	// ReleaseRxFrame returns buf, previously obtained from GetRxFrame, to
	// the driver's free list.
	ReleaseRxFrame(buf []byte)
	// MTU returns the maximum Ethernet payload size the driver supports.
	MTU() int
}

// Handler processes frames of a single EtherType demultiplexed by Layer.
type Handler interface {
	EtherType() Type
	// Demux is called with the full Ethernet frame (buf starts at the
	// destination MAC, i.e. [Frame.RawData]) for a frame matching
	// EtherType. An implementation wishing to reply does so through the
	// same Layer via GetTxFrame/SendTxFrame.
	Demux(frm Frame) error
}

var (
	errNoHandler  = errors.New("ethernet: no handler registered for EtherType")
	errFrameSmall = errors.New("ethernet: frame smaller than minimum 60 octets")
	errFrameBig   = errors.New("ethernet: frame exceeds MTU+header")
)

const minFrameSize = 60 // 64 octets on the wire minus the 4 octet FCS, which the driver/MAC appends.

// Layer is the Ethernet demultiplexing/framing layer described by the
// design: it owns the local hardware address, validates received frames
// and dispatches them by EtherType to at most a handful of registered
// [Handler]s (ARP, IPv4, ...). Frames whose type field holds an 802.3
// length (LLC framing) are dropped; VLAN tags are not stripped, so a
// tagged frame reaches only a handler registered for [TypeVLAN]. Transmission is a
// thin pass-through to the configured [Driver], presenting the same
// acquire/release buffer contract to handlers.
type Layer struct {
	driver   Driver
	mac      [6]byte
	handlers []Handler
}

// Init configures the layer's driver and hardware address and clears any
// previously registered handlers.
func (l *Layer) Init(driver Driver, mac [6]byte) {
	l.driver = driver
	l.mac = mac
	l.handlers = l.handlers[:0]
}

// MAC returns the layer's configured hardware address.
func (l *Layer) MAC() [6]byte { return l.mac }

// Register adds h to the dispatch table for its EtherType, replacing any
// previously registered handler for the same type.
func (l *Layer) Register(h Handler) {
	et := h.EtherType()
	for i := range l.handlers {
		if l.handlers[i].EtherType() == et {
			l.handlers[i] = h
			return
		}
	}
	l.handlers = append(l.handlers, h)
}

func (l *Layer) handlerFor(et Type) Handler {
	for _, h := range l.handlers {
		if h.EtherType() == et {
			return h
		}
	}
	return nil
}

// PollRx drains at most one received frame from the driver, validates and
// demultiplexes it, and releases the buffer back to the driver before
// returning. It returns [errNoHandler] for EtherTypes with no registered
// handler and ok=false if the driver had no frame pending.
func (l *Layer) PollRx() (ok bool, err error) {
	buf, ok := l.driver.GetRxFrame()
	if !ok {
		return false, nil
	}
	defer l.driver.ReleaseRxFrame(buf)
	err = l.onRxFrame(buf)
	return true, err
}

func (l *Layer) onRxFrame(buf []byte) error {
	if len(buf) < minFrameSize {
		return errFrameSmall
	}
	frm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	var v lneto.Validator
	frm.ValidateSize(&v)
	if v.HasError() {
		return v.Err()
	}
	et := frm.EtherTypeOrSize()
	if et.IsSize() {
		return nil // LLC/802.3 length-field framing; not an EtherType we route, drop silently.
	}
	h := l.handlerFor(et)
	if h == nil {
		return errNoHandler
	}
	return h.Demux(frm)
}

// GetTxFrame acquires a transmit buffer from the driver and writes the
// Ethernet header (destination, our source address, and etype). The
// returned Frame's payload region is ready for the caller to fill;
// payloadLen is the number of payload bytes the caller intends to write,
// used only to size-check against the driver's MTU.
func (l *Layer) GetTxFrame(etype Type, dst [6]byte, payloadLen int) (Frame, error) {
	if sizeHeaderNoVLAN+payloadLen > sizeHeaderNoVLAN+l.driver.MTU() {
		return Frame{}, errFrameBig
	}
	buf, err := l.driver.GetTxFrame()
	if err != nil {
		return Frame{}, err
	}
	need := sizeHeaderNoVLAN + payloadLen
	if need < minFrameSize {
		need = minFrameSize
	}
	if len(buf) < need {
		l.driver.CancelTxFrame(buf)
		return Frame{}, errFrameBig
	}
	frm, err := NewFrame(buf[:need])
	if err != nil {
		l.driver.CancelTxFrame(buf)
		return Frame{}, err
	}
	*frm.DestinationHardwareAddr() = dst
	*frm.SourceHardwareAddr() = l.mac
	frm.SetEtherType(etype)
	for i := range frm.Payload() {
		frm.Payload()[i] = 0 // Zero the whole payload, including any padding up to the minimum frame size.
	}
	return frm, nil
}

// SendTxFrame transmits frm, previously obtained from GetTxFrame, with a
// payload of exactly payloadLen bytes (the frame is truncated/padded to
// the minimum Ethernet size as needed).
func (l *Layer) SendTxFrame(frm Frame, payloadLen int) error {
	n := sizeHeaderNoVLAN + payloadLen
	if n < minFrameSize {
		n = minFrameSize
	}
	return l.driver.SendTxFrame(frm.RawData(), n)
}

// CancelTxFrame releases frm, previously obtained from GetTxFrame, without
// transmitting it.
func (l *Layer) CancelTxFrame(frm Frame) {
	l.driver.CancelTxFrame(frm.RawData())
}
