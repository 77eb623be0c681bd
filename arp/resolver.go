package arp

import (
	"errors"

	"github.com/soypat/tinystack/ethernet"
	"github.com/soypat/tinystack/lneto2"
)

var errUnsupportedHW = errors.New("arp: unsupported hardware/protocol combination")

// EthernetLayer is the capability Resolver needs from the Ethernet layer
// to answer requests: acquiring a same-size TX frame to hold the in-place
// mutated reply and handing it back for transmission.
type EthernetLayer interface {
	GetTxFrame(etype ethernet.Type, dst [6]byte, payloadLen int) (ethernet.Frame, error)
	SendTxFrame(frm ethernet.Frame, payloadLen int) error
	CancelTxFrame(frm ethernet.Frame)
}

// Resolver answers ARP requests for a single configured IPv4/MAC pair and
// maintains the binding [Cache] populated from observed requests/replies.
// It implements the request/reply handling contract of the design's ARP
// component: a request targeting our address is answered and its sender
// cached; any reply is cached unconditionally. It also implements
// [ethernet.Handler] and [ipv4.ARPResolver], letting it register directly
// with an ethernet.Layer and an ipv4.Layer.
type Resolver struct {
	Cache  Cache
	HWAddr [6]byte
	IPAddr [4]byte
	eth    EthernetLayer
}

// SetEthernetLayer configures the Ethernet transport used to emit
// replies from Demux. Resolver works without it for test doubles driving
// OnRxRequestOrReply directly.
func (r *Resolver) SetEthernetLayer(eth EthernetLayer) { r.eth = eth }

// Lookup implements [ipv4.ARPResolver] by delegating to the cache.
func (r *Resolver) Lookup(ip [4]byte) (mac [6]byte, ok bool) { return r.Cache.Lookup(ip) }

// EtherType implements [ethernet.Handler].
func (r *Resolver) EtherType() ethernet.Type { return ethernet.TypeARP }

// Demux implements [ethernet.Handler]: it processes an inbound ARP frame
// carried by efrm and, for a request targeting our address, emits the
// reply through the configured EthernetLayer.
func (r *Resolver) Demux(efrm ethernet.Frame) error {
	payload := efrm.Payload()
	forUs, err := r.OnRxRequestOrReply(payload)
	if err != nil || !forUs || r.eth == nil {
		return err
	}
	src := efrm.SourceHardwareAddr()
	txfrm, err := r.eth.GetTxFrame(ethernet.TypeARP, *src, len(payload))
	if err != nil {
		return err
	}
	copy(txfrm.Payload(), payload)
	return r.eth.SendTxFrame(txfrm, len(payload))
}

// Init resets the resolver's cache to the given geometry (0,0 selects
// package defaults) and sets the address this resolver answers for.
func (r *Resolver) Init(hwAddr [6]byte, ipAddr [4]byte, ways, lines int, lifetimeSeconds uint32) {
	r.Cache.Reset(ways, lines, lifetimeSeconds)
	r.HWAddr = hwAddr
	r.IPAddr = ipAddr
}

// OnRxRequestOrReply processes an inbound ARP frame (buf is the raw ARP
// packet, i.e. starting at the hardware-type field). On a request
// targeting our address, buf is mutated in place into the reply frame
// (sender/target swapped, operation set to reply, our MAC filled in) and
// forUs=true is returned so the caller can hand buf straight back to the
// Ethernet layer as the TX frame body. On a reply, or a request not meant
// for us, forUs is false and buf is left as the (possibly cache-feeding)
// inbound frame.
func (r *Resolver) OnRxRequestOrReply(buf []byte) (forUs bool, err error) {
	frm, err := NewFrame(buf)
	if err != nil {
		return false, err
	}
	var v lneto2.Validator
	frm.ValidateSize(&v)
	if v.HasError() {
		return false, v.Err()
	}
	htype, hlen := frm.Hardware()
	ptype, plen := frm.Protocol()
	if htype != 1 || hlen != 6 || ptype != ethernet.TypeIPv4 || plen != 4 {
		return false, errUnsupportedHW
	}
	switch frm.Operation() {
	case OpRequest:
		_, targetProto := frm.Target4()
		if *targetProto != r.IPAddr {
			return false, nil // Not for us: no reply and no cache update.
		}
		senderHW, senderProto := frm.Sender4()
		r.Cache.Insert(*senderProto, *senderHW)
		frm.SwapTargetSender()
		newSenderHW, _ := frm.Sender4()
		*newSenderHW = r.HWAddr
		frm.SetOperation(OpReply)
		return true, nil

	case OpReply:
		senderHW, senderProto := frm.Sender4()
		r.Cache.Insert(*senderProto, *senderHW)
		return false, nil

	default:
		return false, errARPUnsupported
	}
}

// BuildRequest fills buf (which must be at least the IPv4 ARP header size)
// with an ARP request asking who has targetProto, from our own address.
func (r *Resolver) BuildRequest(buf []byte, targetProto [4]byte) error {
	frm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	frm.SetHardware(1, 6)
	frm.SetProtocol(ethernet.TypeIPv4, 4)
	frm.SetOperation(OpRequest)
	senderHW, senderProto := frm.Sender4()
	*senderHW = r.HWAddr
	*senderProto = r.IPAddr
	targetHW, targetProtoField := frm.Target4()
	*targetHW = [6]byte{}
	*targetProtoField = targetProto
	return nil
}
