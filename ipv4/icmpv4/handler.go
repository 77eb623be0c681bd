package icmpv4

import (
	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/ipv4"
)

// IPLayer is the capability EchoResponder needs from the IPv4 layer to send
// a reply: acquire a transmit packet addressed back to the echo request's
// source, and hand it off (or cancel it) once filled in.
type IPLayer interface {
	GetTxPacket(dst [4]byte, proto lneto.IPProto, payloadLen int) (ipv4.TxPacket, error)
	SendTxPacket(p ipv4.TxPacket) error
	CancelTxPacket(p ipv4.TxPacket)
}

// EchoResponder answers ICMPv4 echo requests (ping) with echo replies,
// copying the request's identifier, sequence number and data verbatim as
// required by RFC 792. Other ICMP message types are ignored.
type EchoResponder struct {
	ip IPLayer
}

// Init configures the responder's IPv4 transport.
func (r *EchoResponder) Init(ip IPLayer) {
	r.ip = ip
}

// IPProto implements [ipv4.Handler].
func (r *EchoResponder) IPProto() lneto.IPProto { return lneto.IPProtoICMP }

// Demux implements [ipv4.Handler].
func (r *EchoResponder) Demux(frm ipv4.Frame) error {
	in, err := NewFrame(frm.Payload())
	if err != nil {
		return err
	}
	if in.Type() != TypeEcho {
		return nil // Not an echo request; nothing to reply to.
	}
	echoIn := FrameEcho{Frame: in}
	data := echoIn.Data()

	pkt, err := r.ip.GetTxPacket(*frm.SourceAddr(), lneto.IPProtoICMP, 8+len(data))
	if err != nil {
		return err
	}
	out, err := NewFrame(pkt.IP().Payload())
	if err != nil {
		r.ip.CancelTxPacket(pkt)
		return err
	}
	echoOut := FrameEcho{Frame: out}
	echoOut.SetType(TypeEchoReply)
	echoOut.SetCode(0)
	echoOut.SetIdentifier(echoIn.Identifier())
	echoOut.SetSequenceNumber(echoIn.SequenceNumber())
	copy(echoOut.Data(), data)

	var crc lneto.CRC791
	echoOut.SetCRC(0)
	echoOut.CRCWrite(&crc)
	echoOut.SetCRC(crc.Sum16())

	return r.ip.SendTxPacket(pkt)
}
