package ipv4

import (
	"errors"

	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/ethernet"
)

const (
	defaultTTL = 64
)

var (
	errNoRoute        = errors.New("ipv4: no route to destination (ARP pending)")
	errNoHandler      = errors.New("ipv4: no handler registered for protocol")
	errUnsupportedOpt = errors.New("ipv4: options/non-minimal header unsupported")
)

// ErrNoRoute is returned by GetTxPacket when the destination's link-layer
// address is not yet known; the caller is expected to have triggered (or
// trigger now) ARP resolution and retry once the cache is populated.
var ErrNoRoute = errNoRoute

// ARPResolver is the capability IPv4 routing needs from the ARP layer: a
// cache lookup from next-hop IPv4 address to hardware address. [arp.Cache]
// satisfies this interface directly.
type ARPResolver interface {
	Lookup(ip [4]byte) (mac [6]byte, ok bool)
}

// Handler processes datagrams of a single IP protocol number demultiplexed
// by Layer (ICMPv4, UDP, TCP).
type Handler interface {
	IPProto() lneto.IPProto
	Demux(frm Frame) error
}

// Config holds a Layer's local addressing: its own address, subnet mask,
// and default gateway (used when a destination falls outside the local
// subnet). Promiscuous disables the destination-address admission check,
// letting every datagram through regardless of destination (for packet
// capture / bridging use cases).
type Config struct {
	Addr        [4]byte
	Netmask     [4]byte
	Gateway     [4]byte
	Promiscuous bool
}

// Layer is the IPv4 routing and demultiplexing layer: it validates
// incoming datagrams, admits only those addressed to us (unicast,
// subnet/global broadcast, or multicast, unless Promiscuous), dispatches
// by protocol number to registered [Handler]s, and resolves outgoing
// packets' next-hop link address via an [ARPResolver] cache, falling back
// to the configured gateway for off-subnet destinations.
type Layer struct {
	eth      *ethernet.Layer
	arp      ARPResolver
	cfg      Config
	handlers []Handler
	ident    uint16
}

// EtherType implements [ethernet.Handler].
func (l *Layer) EtherType() ethernet.Type { return ethernet.TypeIPv4 }

// Init configures the layer's Ethernet transport, ARP resolver and local
// addressing, and clears any previously registered protocol handlers.
func (l *Layer) Init(eth *ethernet.Layer, arp ARPResolver, cfg Config) {
	l.eth = eth
	l.arp = arp
	l.cfg = cfg
	l.handlers = l.handlers[:0]
}

// Addr returns the layer's current local address.
func (l *Layer) Addr() [4]byte { return l.cfg.Addr }

// SetAddr updates the layer's local address, subnet mask and gateway in
// place, used once a DHCP lease is acquired or renewed.
func (l *Layer) SetAddr(addr, netmask, gateway [4]byte) {
	l.cfg.Addr = addr
	l.cfg.Netmask = netmask
	l.cfg.Gateway = gateway
}

// Register adds h to the dispatch table for its protocol number, replacing
// any previously registered handler for the same number.
func (l *Layer) Register(h Handler) {
	p := h.IPProto()
	for i := range l.handlers {
		if l.handlers[i].IPProto() == p {
			l.handlers[i] = h
			return
		}
	}
	l.handlers = append(l.handlers, h)
}

func (l *Layer) handlerFor(p lneto.IPProto) Handler {
	for _, h := range l.handlers {
		if h.IPProto() == p {
			return h
		}
	}
	return nil
}

type addrClass uint8

const (
	classNotForUs addrClass = iota
	classUnicast
	classBroadcast
	classMulticast
)

func (l *Layer) classify(dst [4]byte) addrClass {
	switch {
	case dst == l.cfg.Addr:
		return classUnicast
	case dst == [4]byte{255, 255, 255, 255}:
		return classBroadcast
	case l.cfg.Netmask != [4]byte{} && dst == subnetBroadcast(l.cfg.Addr, l.cfg.Netmask):
		return classBroadcast
	case dst[0] >= 224 && dst[0] <= 239:
		return classMulticast
	default:
		return classNotForUs
	}
}

func subnetBroadcast(addr, mask [4]byte) (b [4]byte) {
	for i := range b {
		b[i] = addr[i]&mask[i] | ^mask[i]
	}
	return b
}

// multicastMAC maps an IPv4 multicast address to its standard Ethernet
// multicast address per RFC 1112: 01:00:5e + low 23 bits of the group.
func multicastMAC(ip [4]byte) (mac [6]byte) {
	mac[0], mac[1], mac[2] = 0x01, 0x00, 0x5e
	mac[3] = ip[1] & 0x7f
	mac[4] = ip[2]
	mac[5] = ip[3]
	return mac
}

// Demux implements [ethernet.Handler]: efrm's payload is interpreted as an
// IPv4 datagram.
func (l *Layer) Demux(efrm ethernet.Frame) error {
	frm, err := NewFrame(efrm.Payload())
	if err != nil {
		return err
	}
	var v lneto.Validator
	frm.ValidateExceptCRC(&v)
	if v.HasError() {
		return v.Err()
	}
	if frm.HeaderLength() != sizeHeader {
		return errUnsupportedOpt // Options unsupported; drop rather than mis-parse.
	}
	class := l.classify(*frm.DestinationAddr())
	if class == classNotForUs && !l.cfg.Promiscuous {
		return nil // Not addressed to us; drop silently.
	}
	h := l.handlerFor(frm.Protocol())
	if h == nil {
		return errNoHandler
	}
	return h.Demux(frm)
}

// TxPacket is an in-flight outgoing IPv4 packet: the Ethernet frame buffer
// it was carved from, and the IPv4 view over its payload. Obtained from
// GetTxPacket and consumed by exactly one of SendTxPacket/CancelTxPacket.
type TxPacket struct {
	eth ethernet.Frame
	ip  Frame
}

// IP returns the IPv4 frame view, ready for the caller to fill in the
// protocol payload (starting at [Frame.Payload]) before sending.
func (p TxPacket) IP() Frame { return p.ip }

// NewTxPacket wraps ip as a TxPacket with no backing Ethernet frame. It is
// for alternative [Handler] transports (loopback, test doubles) that do not
// go through Layer's Ethernet-backed GetTxPacket/SendTxPacket pair.
func NewTxPacket(ip Frame) TxPacket { return TxPacket{ip: ip} }

// GetTxPacket acquires a transmit buffer sized for an IPv4 header plus
// payloadLen bytes of payload addressed to dst, and fills in the IPv4
// header (version/IHL, total length, identification, TTL, protocol,
// source/destination). The CRC is left to SendTxPacket.
//
// Resolution of dst's link-layer address follows the usual routing rule:
// broadcast and multicast destinations use their well-known Ethernet
// address directly; destinations inside the local subnet are resolved via
// the ARP cache; anything else is resolved via the configured gateway's
// ARP entry. [ErrNoRoute] is returned if the relevant ARP cache entry is
// not (yet) present.
func (l *Layer) GetTxPacket(dst [4]byte, proto lneto.IPProto, payloadLen int) (TxPacket, error) {
	dstMAC, ok := l.nextHopMAC(dst)
	if !ok {
		return TxPacket{}, errNoRoute
	}
	efrm, err := l.eth.GetTxFrame(ethernet.TypeIPv4, dstMAC, sizeHeader+payloadLen)
	if err != nil {
		return TxPacket{}, err
	}
	frm, err := NewFrame(efrm.Payload()[:sizeHeader+payloadLen])
	if err != nil {
		l.eth.CancelTxFrame(efrm)
		return TxPacket{}, err
	}
	frm.ClearHeader()
	frm.SetVersionAndIHL(4, 5)
	frm.SetTotalLength(uint16(sizeHeader + payloadLen))
	l.ident++
	frm.SetID(l.ident)
	frm.SetFlags(FlagDontFragment)
	frm.SetTTL(defaultTTL)
	frm.SetProtocol(proto)
	*frm.SourceAddr() = l.cfg.Addr
	*frm.DestinationAddr() = dst
	return TxPacket{eth: efrm, ip: frm}, nil
}

func (l *Layer) nextHopMAC(dst [4]byte) ([6]byte, bool) {
	switch l.classify(dst) {
	case classBroadcast:
		return ethernet.BroadcastAddr(), true
	case classMulticast:
		return multicastMAC(dst), true
	}
	target := dst
	if l.cfg.Netmask != [4]byte{} && subnetBroadcast(l.cfg.Addr, l.cfg.Netmask) != dst {
		local := true
		for i := range dst {
			if dst[i]&l.cfg.Netmask[i] != l.cfg.Addr[i]&l.cfg.Netmask[i] {
				local = false
				break
			}
		}
		if !local {
			target = l.cfg.Gateway
		}
	}
	return l.arp.Lookup(target)
}

// SendTxPacket finalizes p's header checksum and transmits it.
func (l *Layer) SendTxPacket(p TxPacket) error {
	p.ip.SetCRC(0)
	p.ip.SetCRC(p.ip.CalculateHeaderCRC())
	return l.eth.SendTxFrame(p.eth, int(p.ip.TotalLength()))
}

// CancelTxPacket releases p without transmitting it.
func (l *Layer) CancelTxPacket(p TxPacket) {
	l.eth.CancelTxFrame(p.eth)
}

// PseudoChecksum returns the ones'-complement checksum of ip's pseudo
// header (source, destination, zero/protocol, and protoLen) combined with
// segment, ready to assign to the UDP/TCP checksum field (after passing
// through [lneto.NeverZeroChecksum] for UDP). segment is the complete
// UDP/TCP header and payload with the checksum field itself set to zero;
// protoLen is its length (the UDP length field, or the TCP segment length).
func PseudoChecksum(ip Frame, protoLen uint16, segment []byte) uint16 {
	var crc lneto.CRC791
	crc.Write(ip.SourceAddr()[:])
	crc.Write(ip.DestinationAddr()[:])
	crc.AddUint16(uint16(ip.Protocol()))
	crc.AddUint16(protoLen)
	return crc.PayloadSum16(segment)
}
