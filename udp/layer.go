package udp

import (
	"errors"

	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/ipv4"
)

// IPLayer is the capability the UDP layer needs from IPv4 to send datagrams:
// acquire a transmit packet addressed to a peer, and hand it off (or cancel
// it) once filled in.
type IPLayer interface {
	GetTxPacket(dst [4]byte, proto lneto.IPProto, payloadLen int) (ipv4.TxPacket, error)
	SendTxPacket(p ipv4.TxPacket) error
	CancelTxPacket(p ipv4.TxPacket)
}

// Application processes datagrams received on a registered local port.
type Application interface {
	OnRecv(remoteIP [4]byte, remotePort uint16, payload []byte) error
}

type listener struct {
	port uint16
	app  Application
}

var (
	errNoListener   = errors.New("udp: no listener on destination port")
	errBadChecksum  = errors.New("udp: checksum mismatch")
	errZeroChecksum = errors.New("udp: zero checksum without offload flag")
)

// Layer dispatches incoming UDP datagrams to per-port [Application]
// handlers and provides a thin send helper building the pseudo-header
// checksum through the IPv4 layer. ChecksumOffload, when set, tolerates a
// zero incoming checksum (as produced by hardware checksum offload);
// otherwise a zero checksum is rejected as required by RFC 768 for IPv4.
type Layer struct {
	ip              IPLayer
	listeners       []listener
	ChecksumOffload bool
}

// Init configures the layer's IPv4 transport and clears registered listeners.
func (l *Layer) Init(ip IPLayer) {
	l.ip = ip
	l.listeners = l.listeners[:0]
}

// IPProto implements [ipv4.Handler].
func (l *Layer) IPProto() lneto.IPProto { return lneto.IPProtoUDP }

// Listen registers app to receive datagrams addressed to localPort,
// replacing any previously registered application on that port.
func (l *Layer) Listen(localPort uint16, app Application) {
	for i := range l.listeners {
		if l.listeners[i].port == localPort {
			l.listeners[i].app = app
			return
		}
	}
	l.listeners = append(l.listeners, listener{port: localPort, app: app})
}

func (l *Layer) appFor(port uint16) Application {
	for _, ls := range l.listeners {
		if ls.port == port {
			return ls.app
		}
	}
	return nil
}

// Demux implements [ipv4.Handler].
func (l *Layer) Demux(ifrm ipv4.Frame) error {
	ufrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return err
	}
	var v lneto.Validator
	ufrm.ValidateSize(&v)
	if v.HasError() {
		return v.Err()
	}
	if ufrm.CRC() == 0 {
		if !l.ChecksumOffload {
			return errZeroChecksum
		}
	} else if !l.verifyChecksum(ifrm, ufrm) {
		return errBadChecksum
	}
	app := l.appFor(ufrm.DestinationPort())
	if app == nil {
		return errNoListener
	}
	return app.OnRecv(*ifrm.SourceAddr(), ufrm.SourcePort(), ufrm.Payload())
}

func (l *Layer) verifyChecksum(ifrm ipv4.Frame, ufrm Frame) bool {
	got := ufrm.CRC()
	ufrm.SetCRC(0)
	want := ipv4.PseudoChecksum(ifrm, ufrm.Length(), ufrm.RawData())
	ufrm.SetCRC(got)
	return lneto.NeverZeroChecksum(want) == got
}

// Send builds and transmits a UDP datagram to dst:dstPort from srcPort,
// copying payload into the datagram.
func (l *Layer) Send(dst [4]byte, srcPort, dstPort uint16, payload []byte) error {
	pkt, err := l.ip.GetTxPacket(dst, lneto.IPProtoUDP, sizeHeader+len(payload))
	if err != nil {
		return err
	}
	ufrm, err := NewFrame(pkt.IP().Payload())
	if err != nil {
		l.ip.CancelTxPacket(pkt)
		return err
	}
	ufrm.ClearHeader()
	ufrm.SetSourcePort(srcPort)
	ufrm.SetDestinationPort(dstPort)
	ufrm.SetLength(uint16(sizeHeader + len(payload)))
	copy(ufrm.Payload(), payload)
	ufrm.SetCRC(0)
	crc := ipv4.PseudoChecksum(pkt.IP(), ufrm.Length(), ufrm.RawData())
	ufrm.SetCRC(lneto.NeverZeroChecksum(crc))
	return l.ip.SendTxPacket(pkt)
}
