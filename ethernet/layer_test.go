package ethernet

import "testing"

// fakeDriver is a tiny in-memory Driver for tests: rx holds frames queued
// for PollRx, tx records the frames handed to SendTxFrame.
type fakeDriver struct {
	rx  [][]byte
	tx  [][]byte
	mtu int
}

func (d *fakeDriver) MTU() int { return d.mtu }

func (d *fakeDriver) GetTxFrame() ([]byte, error) {
	return make([]byte, sizeHeaderNoVLAN+d.mtu), nil
}

func (d *fakeDriver) SendTxFrame(buf []byte, n int) error {
	d.tx = append(d.tx, append([]byte(nil), buf[:n]...))
	return nil
}

func (d *fakeDriver) CancelTxFrame(buf []byte) {}

func (d *fakeDriver) GetRxFrame() ([]byte, bool) {
	if len(d.rx) == 0 {
		return nil, false
	}
	buf := d.rx[0]
	d.rx = d.rx[1:]
	return buf, true
}

func (d *fakeDriver) ReleaseRxFrame(buf []byte) {}

type recordingHandler struct {
	et   Type
	seen []Frame
}

func (h *recordingHandler) EtherType() Type { return h.et }
func (h *recordingHandler) Demux(frm Frame) error {
	h.seen = append(h.seen, frm)
	return nil
}

func TestLayerDispatchByEtherType(t *testing.T) {
	var l Layer
	drv := &fakeDriver{mtu: 1500}
	l.Init(drv, [6]byte{2, 0, 0, 0, 0, 1})
	h := &recordingHandler{et: TypeARP}
	l.Register(h)

	buf := make([]byte, 60)
	frm, _ := NewFrame(buf)
	*frm.DestinationHardwareAddr() = [6]byte{2, 0, 0, 0, 0, 1}
	*frm.SourceHardwareAddr() = [6]byte{0xaa, 0, 0, 0, 0, 2}
	frm.SetEtherType(TypeARP)
	drv.rx = append(drv.rx, buf)

	ok, err := l.PollRx()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(h.seen) != 1 {
		t.Fatalf("expected handler dispatch, ok=%v seen=%d", ok, len(h.seen))
	}
}

func TestLayerUnregisteredEtherTypeErrors(t *testing.T) {
	var l Layer
	drv := &fakeDriver{mtu: 1500}
	l.Init(drv, [6]byte{2, 0, 0, 0, 0, 1})

	buf := make([]byte, 60)
	frm, _ := NewFrame(buf)
	frm.SetEtherType(TypeIPv6)
	drv.rx = append(drv.rx, buf)

	_, err := l.PollRx()
	if err != errNoHandler {
		t.Fatalf("err = %v, want errNoHandler", err)
	}
}

func TestLayerGetTxFrameSend(t *testing.T) {
	var l Layer
	drv := &fakeDriver{mtu: 1500}
	l.Init(drv, [6]byte{2, 0, 0, 0, 0, 1})

	frm, err := l.GetTxFrame(TypeIPv4, BroadcastAddr(), 30)
	if err != nil {
		t.Fatal(err)
	}
	copy(frm.Payload(), []byte("hello"))
	if err := l.SendTxFrame(frm, 30); err != nil {
		t.Fatal(err)
	}
	if len(drv.tx) != 1 {
		t.Fatalf("expected one transmitted frame, got %d", len(drv.tx))
	}
	sent, _ := NewFrame(drv.tx[0])
	if *sent.DestinationHardwareAddr() != BroadcastAddr() {
		t.Fatal("destination not set")
	}
	if sent.EtherTypeOrSize() != TypeIPv4 {
		t.Fatal("etype not set")
	}
}
