package internet

import (
	"testing"

	"github.com/soypat/tinystack/arp"
	"github.com/soypat/tinystack/ethernet"
)

// loopbackDriver is a tiny in-memory ethernet.Driver: rx holds frames
// queued for PollRx, tx records the frames handed to SendTxFrame.
type loopbackDriver struct {
	rx  [][]byte
	tx  [][]byte
	mtu int
}

func (d *loopbackDriver) MTU() int { return d.mtu }

func (d *loopbackDriver) GetTxFrame() ([]byte, error) {
	return make([]byte, 14+d.mtu), nil
}

func (d *loopbackDriver) SendTxFrame(buf []byte, n int) error {
	d.tx = append(d.tx, append([]byte(nil), buf[:n]...))
	return nil
}

func (d *loopbackDriver) CancelTxFrame(buf []byte) {}

func (d *loopbackDriver) GetRxFrame() ([]byte, bool) {
	if len(d.rx) == 0 {
		return nil, false
	}
	buf := d.rx[0]
	d.rx = d.rx[1:]
	return buf, true
}

func (d *loopbackDriver) ReleaseRxFrame(buf []byte) {}

func newTestStack(drv *loopbackDriver) *Stack {
	var s Stack
	s.Init(drv, Config{
		HWAddr:  [6]byte{0x02, 0, 0, 0, 0, 1},
		Addr:    [4]byte{10, 0, 0, 1},
		Netmask: [4]byte{255, 255, 255, 0},
		Gateway: [4]byte{10, 0, 0, 254},
	})
	return &s
}

// buildARPRequest returns a full Ethernet frame carrying an ARP request
// from senderMAC/senderIP asking who has targetIP.
func buildARPRequest(senderMAC [6]byte, senderIP [4]byte, targetIP [4]byte) []byte {
	buf := make([]byte, 60)
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	*efrm.SourceHardwareAddr() = senderMAC
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		panic(err)
	}
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	sHW, sIP := afrm.Sender4()
	*sHW, *sIP = senderMAC, senderIP
	tHW, tIP := afrm.Target4()
	*tHW, *tIP = [6]byte{}, targetIP
	return buf
}

func TestStackAnswersARPRequest(t *testing.T) {
	drv := &loopbackDriver{mtu: 1500}
	s := newTestStack(drv)

	peerMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	peerIP := [4]byte{10, 0, 0, 2}
	drv.rx = append(drv.rx, buildARPRequest(peerMAC, peerIP, s.ARP.IPAddr))

	ok, err := s.PollRx()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a frame to be processed")
	}
	if len(drv.tx) != 1 {
		t.Fatalf("expected one ARP reply transmitted, got %d", len(drv.tx))
	}

	reply, err := ethernet.NewFrame(drv.tx[0])
	if err != nil {
		t.Fatal(err)
	}
	if *reply.DestinationHardwareAddr() != peerMAC {
		t.Fatalf("reply destination = %x, want %x", *reply.DestinationHardwareAddr(), peerMAC)
	}
	afrm, err := arp.NewFrame(reply.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if afrm.Operation() != arp.OpReply {
		t.Fatalf("operation = %v, want reply", afrm.Operation())
	}
	senderHW, senderIP := afrm.Sender4()
	if *senderHW != s.ARP.HWAddr || *senderIP != s.ARP.IPAddr {
		t.Fatalf("reply sender = %x/%x, want %x/%x", *senderHW, *senderIP, s.ARP.HWAddr, s.ARP.IPAddr)
	}

	// The request also seeded the ARP cache with the peer's binding.
	mac, cached := s.ARP.Cache.Lookup(peerIP)
	if !cached || mac != peerMAC {
		t.Fatalf("expected peer binding cached, got %x,%v", mac, cached)
	}
}

func TestStackSetAddrUpdatesARPAndIPv4(t *testing.T) {
	drv := &loopbackDriver{mtu: 1500}
	s := newTestStack(drv)

	newAddr := [4]byte{192, 168, 1, 50}
	newMask := [4]byte{255, 255, 255, 0}
	newGw := [4]byte{192, 168, 1, 1}
	s.SetAddr(newAddr, newMask, newGw)

	if s.Addr().As4() != newAddr {
		t.Fatalf("Addr() = %v, want %v", s.Addr(), newAddr)
	}
	if s.IP.Addr() != newAddr {
		t.Fatalf("ipv4 layer address = %x, want %x", s.IP.Addr(), newAddr)
	}
}
