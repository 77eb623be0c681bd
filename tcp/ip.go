package tcp

import (
	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/ipv4"
)

// IPLayer is the capability the TCP layer needs from IPv4 to send segments:
// acquire a transmit packet addressed to a peer, and hand it off (or cancel
// it) once filled in.
type IPLayer interface {
	GetTxPacket(dst [4]byte, proto lneto.IPProto, payloadLen int) (ipv4.TxPacket, error)
	SendTxPacket(p ipv4.TxPacket) error
	CancelTxPacket(p ipv4.TxPacket)
}

// Layer adapts [Server] to [ipv4.Handler]: it extracts the IPv4 source
// address from each demultiplexed datagram, drives the server's segment
// state machine, and transmits any reply segment the server produces
// through the configured IPv4 transport.
type Layer struct {
	ip     IPLayer
	Server Server
}

// Init configures the layer's IPv4 transport and resets the embedded
// server's connection table and listeners.
func (l *Layer) Init(ip IPLayer, ways, lines int, recvWindow Size, isnSeed uint32) {
	l.ip = ip
	l.Server.Reset(ways, lines, recvWindow, isnSeed)
}

// IPProto implements [ipv4.Handler].
func (l *Layer) IPProto() lneto.IPProto { return lneto.IPProtoTCP }

// Listen registers app on localPort. See [Server.Listen].
func (l *Layer) Listen(localPort uint16, app Application) { l.Server.Listen(localPort, app) }

// Demux implements [ipv4.Handler].
func (l *Layer) Demux(ifrm ipv4.Frame) error {
	remoteIP := *ifrm.SourceAddr()
	in := ifrm.Payload()
	inFrm, err := NewFrame(in)
	if err != nil {
		return err
	}
	localPort, remotePort := inFrm.DestinationPort(), inFrm.SourcePort()

	var payload [maxSegmentPayload]byte
	reply, send, n, err := l.Server.OnRxSegment(remoteIP, in, payload[:])
	if err != nil || !send {
		return err
	}
	return l.sendReply(remoteIP, localPort, remotePort, reply, payload[:n])
}

func (l *Layer) sendReply(remoteIP [4]byte, localPort, remotePort uint16, seg Segment, payload []byte) error {
	pkt, err := l.ip.GetTxPacket(remoteIP, lneto.IPProtoTCP, sizeHeaderTCP+len(payload))
	if err != nil {
		return err
	}
	tfrm, err := EncodeReply(pkt.IP().Payload(), localPort, remotePort, seg)
	if err != nil {
		l.ip.CancelTxPacket(pkt)
		return err
	}
	copy(tfrm.Payload(), payload)
	tfrm.SetCRC(0)
	crc := ipv4.PseudoChecksum(pkt.IP(), uint16(len(tfrm.RawData())), tfrm.RawData())
	tfrm.SetCRC(lneto.NeverZeroChecksum(crc))
	return l.ip.SendTxPacket(pkt)
}
