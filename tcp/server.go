package tcp

import (
	"errors"

	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/internal"
)

var (
	ErrTableFull = errors.New("tcp: connection table full")
)

// maxSegmentPayload bounds how much queued outbound data OnRxSegment asks
// PendingSegment to send in a single segment, independent of the send
// window clamp PendingSegment itself applies. 1460 matches the usual
// Ethernet MTU minus the IPv4/TCP headers, keeping replies unfragmented.
const maxSegmentPayload = 1460

// Application handles accepted connections and delivered data for a single
// listening port. An Application is expected to hand off its own reply
// data by driving the connection from OnRecv/OnAccept (e.g. queuing bytes
// for an upper protocol such as SSH); Server itself only carries control
// segments (SYN/ACK/FIN/RST), never payload framing decisions.
type Application interface {
	// OnAccept is called once the three-way handshake completes (entry
	// transitions into StateEstablished). Returning false closes the
	// connection with [ControlBlock.Close] (a FIN, not an RST) instead of
	// accepting it.
	OnAccept(e *Entry) bool
	// OnRecv delivers newly received, in-order payload bytes. Returning
	// a non-nil error closes the connection with [ControlBlock.Close]
	// (a FIN, not an RST).
	OnRecv(e *Entry, payload []byte) error
	// OnClose notifies the application that e is about to be removed
	// from the table, either via a normal FIN exchange or an RST.
	OnClose(e *Entry)
}

type listener struct {
	port uint16
	app  Application
}

// ISNFunc produces the local initial sequence number for a new passive
// connection. The default is a pseudo-random counter seeded at Reset;
// platforms with a hardware counter or entropy source can override it via
// [Server.SetISNFunc] for less predictable ISNs.
type ISNFunc func(remoteIP [4]byte, localPort, remotePort uint16) Value

// Server is a small TCP server built directly on [ControlBlock]: a fixed
// [Table] of connections dispatched by a short list of listening ports. It
// owns no network buffers of its own. [Server.OnRxSegment] consumes one
// inbound TCP segment and returns the (at most one) reply segment the
// caller must encode with [EncodeReply] into a packet it obtains and sends
// itself -- the same acquire/release buffer ownership used by the
// Ethernet and IPv4 layers.
type Server struct {
	Table     Table
	listeners []listener
	isn       ISNFunc
	isnSeed   uint32
	wnd       Size
	validator lneto.Validator
}

// Reset (re)initializes the server: connection table geometry (0 selects
// package defaults), the receive window advertised on new connections, and
// the seed for the default ISN generator (0 selects a fixed nonzero seed).
func (s *Server) Reset(ways, lines int, recvWindow Size, isnSeed uint32) {
	s.Table.Reset(ways, lines)
	s.listeners = s.listeners[:0]
	s.wnd = recvWindow
	if isnSeed == 0 {
		isnSeed = 0x2545f491
	}
	s.isnSeed = isnSeed
	s.isn = nil
}

// SetISNFunc overrides the default pseudo-random ISN generator.
func (s *Server) SetISNFunc(fn ISNFunc) { s.isn = fn }

func (s *Server) nextISN(remoteIP [4]byte, localPort, remotePort uint16) Value {
	if s.isn != nil {
		return s.isn(remoteIP, localPort, remotePort)
	}
	s.isnSeed = internal.Prand32(s.isnSeed)
	return Value(s.isnSeed)
}

// Listen registers app to handle connections addressed to localPort. A
// second call for the same port replaces the registered Application.
func (s *Server) Listen(localPort uint16, app Application) {
	for i := range s.listeners {
		if s.listeners[i].port == localPort {
			s.listeners[i].app = app
			return
		}
	}
	s.listeners = append(s.listeners, listener{localPort, app})
}

func (s *Server) appFor(port uint16) Application {
	for i := range s.listeners {
		if s.listeners[i].port == port {
			return s.listeners[i].app
		}
	}
	return nil
}

// OnRxSegment processes one inbound TCP segment (buf starting at the TCP
// header, i.e. the IPv4 payload) received from remoteIP. It returns the
// reply segment the caller must send, if any, and the number of bytes of
// application data it copied into payloadOut (which must be at least
// maxSegmentPayload long); the caller places those bytes immediately
// after the encoded TCP header. Any data queued by the connection's
// [Application] via [Entry.Write] is drained here, before the entry can
// be torn down below, so payloadOut is always complete even on the
// segment that closes the connection.
//
// A SYN addressed to a port with no registered Application is answered
// with RST|ACK and creates no table entry, per the design's requirement
// that unknown ports are rejected rather than silently dropped. A SYN
// addressed to a full table line is reported as [ErrTableFull] (the caller
// may still choose to answer with RST); table fullness never evicts a
// live connection to make room.
func (s *Server) OnRxSegment(remoteIP [4]byte, buf []byte, payloadOut []byte) (reply Segment, send bool, n int, err error) {
	tfrm, err := NewFrame(buf)
	if err != nil {
		return Segment{}, false, 0, err
	}
	s.validator.ResetErr()
	tfrm.ValidateExceptCRC(&s.validator)
	if err = s.validator.Err(); err != nil {
		return Segment{}, false, 0, err
	}
	localPort := tfrm.DestinationPort()
	remotePort := tfrm.SourcePort()
	payload := tfrm.Payload()
	segIn := tfrm.Segment(len(payload))

	entry, ok := s.Table.Lookup(remoteIP, localPort, remotePort)
	if !ok {
		if segIn.Flags.HasAny(FlagRST) {
			return Segment{}, false, 0, nil // Never answer an RST for an unknown connection.
		}
		if segIn.Flags != FlagSYN {
			return Segment{}, false, 0, nil // Anything but a bare SYN for an unknown connection is dropped silently.
		}
		app := s.appFor(localPort)
		if app == nil {
			return Segment{ACK: segIn.SEQ + Value(segIn.LEN()), Flags: FlagRST | FlagACK}, true, 0, nil
		}
		entry, ok = s.Table.Admit(remoteIP, localPort, remotePort)
		if !ok {
			return Segment{}, false, 0, ErrTableFull
		}
		entry.cb.Open(s.nextISN(remoteIP, localPort, remotePort), s.wnd)
	}

	wasEstablished := entry.cb.State() == StateEstablished
	rerr := entry.cb.Recv(segIn)
	if rerr != nil && rerr != errDropSegment {
		return Segment{}, false, 0, nil // Rejected by sequence-space checks; drop.
	}
	if !wasEstablished && entry.cb.State() == StateEstablished {
		if app := s.appFor(localPort); app != nil && !app.OnAccept(entry) {
			entry.cb.Close()
		}
	}
	if segIn.DATALEN != 0 && entry.cb.State().IsSynchronized() {
		if app := s.appFor(localPort); app != nil {
			if aerr := app.OnRecv(entry, payload); aerr != nil {
				entry.cb.Close()
			}
		}
	}

	avail := entry.pendingOut(min(int(maxSegmentPayload), len(payloadOut)))
	out, hasPending := entry.cb.PendingSegment(avail)
	if hasPending {
		if serr := entry.cb.Send(out); serr != nil {
			hasPending = false
		} else if out.DATALEN != 0 {
			entry.drainOut(payloadOut, int(out.DATALEN))
			n = int(out.DATALEN)
		}
	}

	if entry.cb.State().IsClosed() {
		if app := s.appFor(localPort); app != nil {
			app.OnClose(entry)
		}
		s.Table.Remove(remoteIP, localPort, remotePort)
	}
	return out, hasPending, n, nil
}

// EncodeReply writes seg's control fields into buf (a TCP header with no
// options, offset 5) addressed from localPort to remotePort. Checksum
// computation is left to the IPv4 pseudo-header helper, as with every
// other protocol frame in the stack.
func EncodeReply(buf []byte, localPort, remotePort uint16, seg Segment) (Frame, error) {
	tfrm, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	tfrm.ClearHeader()
	tfrm.SetSourcePort(localPort)
	tfrm.SetDestinationPort(remotePort)
	tfrm.SetSegment(seg, 5)
	tfrm.SetUrgentPtr(0)
	return tfrm, nil
}
