package ipv4

import (
	"bytes"
	"testing"

	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/ethernet"
)

type fakeDriver struct {
	tx  [][]byte
	mtu int
}

func (d *fakeDriver) MTU() int { return d.mtu }
func (d *fakeDriver) GetTxFrame() ([]byte, error) {
	return make([]byte, 14+d.mtu), nil
}
func (d *fakeDriver) SendTxFrame(buf []byte, n int) error {
	d.tx = append(d.tx, append([]byte(nil), buf[:n]...))
	return nil
}
func (d *fakeDriver) CancelTxFrame(buf []byte)      {}
func (d *fakeDriver) GetRxFrame() ([]byte, bool)    { return nil, false }
func (d *fakeDriver) ReleaseRxFrame(buf []byte)     {}

type fakeARP struct {
	m map[[4]byte][6]byte
}

func (a *fakeARP) Lookup(ip [4]byte) ([6]byte, bool) {
	mac, ok := a.m[ip]
	return mac, ok
}

type recordingHandler struct {
	proto lneto.IPProto
	seen  [][]byte
}

func (h *recordingHandler) IPProto() lneto.IPProto { return h.proto }
func (h *recordingHandler) Demux(frm Frame) error {
	h.seen = append(h.seen, append([]byte(nil), frm.Payload()...))
	return nil
}

func TestLayerGetTxPacketRouting(t *testing.T) {
	var eth ethernet.Layer
	drv := &fakeDriver{mtu: 1500}
	eth.Init(drv, [6]byte{2, 0, 0, 0, 0, 1})

	arp := &fakeARP{m: map[[4]byte][6]byte{
		{10, 0, 0, 2}:  {0xaa, 0, 0, 0, 0, 2},
		{10, 0, 0, 254}: {0xaa, 0, 0, 0, 0, 254},
	}}

	var l Layer
	l.Init(&eth, arp, Config{Addr: [4]byte{10, 0, 0, 1}, Netmask: [4]byte{255, 255, 255, 0}, Gateway: [4]byte{10, 0, 0, 254}})

	// Local subnet destination resolves directly.
	pkt, err := l.GetTxPacket([4]byte{10, 0, 0, 2}, lneto.IPProtoUDP, 4)
	if err != nil {
		t.Fatal(err)
	}
	copy(pkt.IP().Payload(), []byte("ping"))
	if err := l.SendTxPacket(pkt); err != nil {
		t.Fatal(err)
	}
	sent, _ := ethernet.NewFrame(drv.tx[0])
	if *sent.DestinationHardwareAddr() != ([6]byte{0xaa, 0, 0, 0, 0, 2}) {
		t.Fatalf("expected direct MAC resolution, got %x", *sent.DestinationHardwareAddr())
	}

	// Off-subnet destination routes via gateway's MAC.
	pkt2, err := l.GetTxPacket([4]byte{8, 8, 8, 8}, lneto.IPProtoUDP, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SendTxPacket(pkt2); err != nil {
		t.Fatal(err)
	}
	sent2, _ := ethernet.NewFrame(drv.tx[1])
	if *sent2.DestinationHardwareAddr() != ([6]byte{0xaa, 0, 0, 0, 0, 254}) {
		t.Fatalf("expected gateway MAC resolution, got %x", *sent2.DestinationHardwareAddr())
	}

	// Unknown next hop reports ErrNoRoute.
	_, err = l.GetTxPacket([4]byte{10, 0, 0, 99}, lneto.IPProtoUDP, 4)
	if err != ErrNoRoute {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestLayerDemuxDispatchAndAdmission(t *testing.T) {
	var eth ethernet.Layer
	drv := &fakeDriver{mtu: 1500}
	eth.Init(drv, [6]byte{2, 0, 0, 0, 0, 1})
	arp := &fakeARP{m: map[[4]byte][6]byte{}}
	var l Layer
	l.Init(&eth, arp, Config{Addr: [4]byte{10, 0, 0, 1}, Netmask: [4]byte{255, 255, 255, 0}})
	h := &recordingHandler{proto: lneto.IPProtoUDP}
	l.Register(h)

	buf := make([]byte, 14+20+4)
	efrm, _ := ethernet.NewFrame(buf)
	efrm.SetEtherType(ethernet.TypeIPv4)
	frm, _ := NewFrame(efrm.Payload())
	frm.ClearHeader()
	frm.SetVersionAndIHL(4, 5)
	frm.SetTotalLength(24)
	frm.SetProtocol(lneto.IPProtoUDP)
	*frm.SourceAddr() = [4]byte{10, 0, 0, 2}
	*frm.DestinationAddr() = [4]byte{10, 0, 0, 1}
	copy(frm.Payload(), []byte("data"))

	if err := l.Demux(efrm); err != nil {
		t.Fatal(err)
	}
	if len(h.seen) != 1 || !bytes.Equal(h.seen[0], []byte("data")) {
		t.Fatalf("handler not dispatched correctly: %v", h.seen)
	}

	// Not addressed to us and not promiscuous: dropped silently, no dispatch.
	*frm.DestinationAddr() = [4]byte{10, 0, 0, 9}
	if err := l.Demux(efrm); err != nil {
		t.Fatal(err)
	}
	if len(h.seen) != 1 {
		t.Fatalf("expected no further dispatch, got %d", len(h.seen))
	}
}
