package udp

import (
	"bytes"
	"testing"

	"github.com/soypat/tinystack"
	"github.com/soypat/tinystack/ipv4"
)

type fakeIPLayer struct {
	sent []byte
}

func (f *fakeIPLayer) GetTxPacket(dst [4]byte, proto lneto.IPProto, payloadLen int) (ipv4.TxPacket, error) {
	buf := make([]byte, 20+payloadLen)
	frm, err := ipv4.NewFrame(buf)
	if err != nil {
		return ipv4.TxPacket{}, err
	}
	frm.ClearHeader()
	frm.SetVersionAndIHL(4, 5)
	frm.SetTotalLength(uint16(20 + payloadLen))
	frm.SetProtocol(proto)
	*frm.SourceAddr() = [4]byte{10, 0, 0, 1}
	*frm.DestinationAddr() = dst
	return ipv4.NewTxPacket(frm), nil
}

func (f *fakeIPLayer) SendTxPacket(p ipv4.TxPacket) error {
	f.sent = append(f.sent, p.IP().RawData()...)
	return nil
}

func (f *fakeIPLayer) CancelTxPacket(p ipv4.TxPacket) {}

type recordingApp struct {
	remoteIP   [4]byte
	remotePort uint16
	payload    []byte
}

func (a *recordingApp) OnRecv(remoteIP [4]byte, remotePort uint16, payload []byte) error {
	a.remoteIP = remoteIP
	a.remotePort = remotePort
	a.payload = append([]byte(nil), payload...)
	return nil
}

func TestLayerSendAndDemux(t *testing.T) {
	ip := &fakeIPLayer{}
	var l Layer
	l.Init(ip)
	if err := l.Send([4]byte{10, 0, 0, 2}, 5000, 69, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	sentIP, err := ipv4.NewFrame(ip.sent)
	if err != nil {
		t.Fatal(err)
	}

	app := &recordingApp{}
	l.Listen(69, app)
	if err := l.Demux(sentIP); err != nil {
		t.Fatal(err)
	}
	if app.remotePort != 5000 || !bytes.Equal(app.payload, []byte("hello")) {
		t.Fatalf("unexpected delivery: port=%d payload=%q", app.remotePort, app.payload)
	}
}

func TestLayerDemuxNoListener(t *testing.T) {
	ip := &fakeIPLayer{}
	var l Layer
	l.Init(ip)
	if err := l.Send([4]byte{10, 0, 0, 2}, 5000, 69, []byte("x")); err != nil {
		t.Fatal(err)
	}
	sentIP, _ := ipv4.NewFrame(ip.sent)
	if err := l.Demux(sentIP); err != errNoListener {
		t.Fatalf("err = %v, want errNoListener", err)
	}
}

func TestLayerDemuxRejectsZeroChecksumWithoutOffload(t *testing.T) {
	ip := &fakeIPLayer{}
	var l Layer
	l.Init(ip)
	l.Listen(69, &recordingApp{})
	if err := l.Send([4]byte{10, 0, 0, 2}, 5000, 69, []byte("x")); err != nil {
		t.Fatal(err)
	}
	sentIP, _ := ipv4.NewFrame(ip.sent)
	ufrm, _ := NewFrame(sentIP.Payload())
	ufrm.SetCRC(0)
	if err := l.Demux(sentIP); err != errZeroChecksum {
		t.Fatalf("err = %v, want errZeroChecksum", err)
	}
	l.ChecksumOffload = true
	if err := l.Demux(sentIP); err != nil {
		t.Fatalf("expected offload to tolerate zero checksum, got %v", err)
	}
}
