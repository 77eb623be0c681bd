package icmpv4

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
	*frm.DestinationAddr() = dst
	return ipv4.NewTxPacket(frm), nil
}

func (f *fakeIPLayer) SendTxPacket(p ipv4.TxPacket) error {
	f.sent = append(f.sent, p.IP().RawData()...)
	return nil
}

func (f *fakeIPLayer) CancelTxPacket(p ipv4.TxPacket) {}

func TestEchoResponderRepliesVerbatim(t *testing.T) {
	reqBuf := make([]byte, 20+8+4)
	reqIP, err := ipv4.NewFrame(reqBuf)
	if err != nil {
		t.Fatal(err)
	}
	reqIP.ClearHeader()
	reqIP.SetVersionAndIHL(4, 5)
	reqIP.SetTotalLength(uint16(len(reqBuf)))
	reqIP.SetProtocol(lneto.IPProtoICMP)
	*reqIP.SourceAddr() = [4]byte{10, 0, 0, 2}

	echo, err := NewFrame(reqIP.Payload())
	if err != nil {
		t.Fatal(err)
	}
	echoReq := FrameEcho{Frame: echo}
	echoReq.SetType(TypeEcho)
	echoReq.SetIdentifier(0x1234)
	echoReq.SetSequenceNumber(7)
	copy(echoReq.Data(), []byte("ping"))

	var r EchoResponder
	ip := &fakeIPLayer{}
	r.Init(ip)
	if err := r.Demux(reqIP); err != nil {
		t.Fatal(err)
	}
	if len(ip.sent) == 0 {
		t.Fatal("expected a reply to be sent")
	}
	replyIP, err := ipv4.NewFrame(ip.sent)
	if err != nil {
		t.Fatal(err)
	}
	replyEcho := FrameEcho{Frame: mustICMPFrame(t, replyIP.Payload())}
	if replyEcho.Type() != TypeEchoReply {
		t.Fatalf("type = %v, want TypeEchoReply", replyEcho.Type())
	}
	if replyEcho.Identifier() != 0x1234 || replyEcho.SequenceNumber() != 7 {
		t.Fatalf("identifier/sequence not copied: %v %v", replyEcho.Identifier(), replyEcho.SequenceNumber())
	}
	if !bytes.Equal(replyEcho.Data(), []byte("ping")) {
		t.Fatalf("data = %q, want %q", replyEcho.Data(), "ping")
	}
}

func mustICMPFrame(t *testing.T, buf []byte) Frame {
	t.Helper()
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	return frm
}
