package dhcpv4

import "github.com/soypat/tinystack/internal"

// UDPSender is the capability the client needs to transmit DHCP datagrams:
// a UDP send routed through the IPv4 layer, addressed by destination IP
// and port pair.
type UDPSender interface {
	Send(dst [4]byte, srcPort, dstPort uint16, payload []byte) error
}

const (
	discoverTimeoutSeconds = 5
	requestTimeoutSeconds  = 5
	renewLeadSeconds       = 30
	defaultLeaseSeconds    = 3600
)

var addrBroadcast = [4]byte{255, 255, 255, 255}

// StackClient drives [Client]'s packet encode/decode machinery from a 1 Hz
// aging tick and a [udp.Layer] listener, implementing the lease-acquisition
// state machine: NoLease broadcasts DISCOVER; DiscoverSent waits for a
// matching OFFER then sends REQUEST; RequestSent waits for ACK/NAK;
// LeaseActive counts the lease down and, inside the renewal lead time,
// unicasts a renewal REQUEST to the lease's server (LeaseRenew) instead of
// restarting discovery. A link-down notification or any unexpected
// condition forces NoLease, per the design's link-down invariant.
type StackClient struct {
	Client
	udp       UDPSender
	xidSeed   uint32
	timeout   uint32 // seconds remaining until retry/retransmit
	leaseLeft uint32 // seconds remaining on the current lease
	buf       [576]byte
}

// Init configures the client's hardware address, transport, and the seed
// for transaction ID generation (0 selects a fixed nonzero seed), and
// resets it to StateNoLease.
func (s *StackClient) Init(mac [6]byte, udp UDPSender, xidSeed uint32) {
	if xidSeed == 0 {
		xidSeed = 0x9e3779b9
	}
	s.udp = udp
	s.xidSeed = xidSeed
	s.Client = Client{}
	s.clientMAC = mac
	s.timeout = 0
	s.leaseLeft = 0
}

// nextXID advances the client's xorshift32 generator to produce the next
// transaction ID.
func (s *StackClient) nextXID() uint32 {
	s.xidSeed = internal.Prand32(s.xidSeed)
	if s.xidSeed == 0 {
		s.xidSeed = 1
	}
	return s.xidSeed
}

// OnLinkDown forces the client back to StateNoLease, discarding any lease
// or in-progress exchange, per the design's "link-down at any time" rule.
func (s *StackClient) OnLinkDown() {
	mac := s.clientMAC
	hostname := s.reqHostname
	clientID := append([]byte(nil), s.clientID...)
	s.Client = Client{}
	s.clientMAC = mac
	s.reqHostname = hostname
	s.clientID = clientID
	s.timeout = 0
	s.leaseLeft = 0
}

// OnAgingTick advances the client's timers by one second and drives
// whatever DISCOVER/REQUEST transmission or timeout retry the current
// state calls for.
func (s *StackClient) OnAgingTick() error {
	switch s.state {
	case StateNoLease:
		return s.beginDiscover()

	case StateDiscoverSent, StateRequestSent, StateLeaseRenew:
		if s.state == StateDiscoverSent {
			// Encapsulate writes a REQUEST only once an OFFER is locked in.
			n, err := s.Encapsulate(s.buf[:], -1, 0)
			if err != nil {
				return err
			} else if n > 0 {
				s.timeout = requestTimeoutSeconds
				return s.udp.Send(addrBroadcast, DefaultClientPort, DefaultServerPort, s.buf[:n])
			}
		}
		if s.timeout == 0 {
			return nil
		}
		s.timeout--
		if s.timeout == 0 {
			return s.retry()
		}

	case StateLeaseActive:
		if s.leaseLeft == 0 {
			return nil
		}
		s.leaseLeft--
		if s.leaseLeft < renewLeadSeconds {
			return s.beginRenew()
		}
	}
	return nil
}

func (s *StackClient) beginDiscover() error {
	xid := s.nextXID()
	err := s.BeginRequest(xid, RequestConfig{
		ClientHardwareAddr: s.clientMAC,
		Hostname:           s.reqHostname,
	})
	if err != nil {
		return err
	}
	n, err := s.Encapsulate(s.buf[:], -1, 0)
	if err != nil || n == 0 {
		return err
	}
	s.timeout = discoverTimeoutSeconds
	return s.udp.Send(addrBroadcast, DefaultClientPort, DefaultServerPort, s.buf[:n])
}

func (s *StackClient) retry() error {
	switch s.state {
	case StateDiscoverSent:
		s.state = StateNoLease
		return s.beginDiscover()
	case StateRequestSent:
		// REQUEST is not cached: fall back to a fresh DISCOVER.
		s.state = StateNoLease
		return s.beginDiscover()
	case StateLeaseRenew:
		return s.sendRenewRequest()
	}
	return nil
}

func (s *StackClient) beginRenew() error {
	s.state = StateLeaseRenew
	return s.sendRenewRequest()
}

func (s *StackClient) sendRenewRequest() error {
	frm, err := NewFrame(s.buf[:])
	if err != nil {
		return err
	}
	opts := frm.OptionsPayload()
	var n int
	nn, _ := EncodeOption(opts[n:], OptMessageType, byte(MsgRequest))
	n += nn
	nn, _ = EncodeOption(opts[n:], OptClientIdentifier, s.clientID...)
	n += nn
	opts[n] = byte(OptEnd)
	n++
	s.setHeader(frm)
	s.timeout = requestTimeoutSeconds
	svAddr, ok := s.ServerAddr()
	if !ok {
		s.state = StateNoLease
		return s.beginDiscover()
	}
	return s.udp.Send(svAddr, DefaultClientPort, DefaultServerPort, s.buf[:OptionsOffset+n])
}

// OnRecv implements [udp.Application]; it feeds an inbound DHCP datagram
// into the client's decode path and applies any resulting state
// transition, including entering StateLeaseActive from StateLeaseRenew and
// arming the next lease-renewal countdown.
func (s *StackClient) OnRecv(remoteIP [4]byte, remotePort uint16, payload []byte) error {
	err := s.Demux(payload, 0)
	if err != nil {
		return err
	}
	if s.state == StateLeaseActive {
		s.timeout = 0
		lease := s.tIPLease
		if lease == 0 {
			lease = defaultLeaseSeconds
		}
		s.leaseLeft = lease
	}
	return nil
}
