package arp

import "testing"

func TestResolverRequestReply(t *testing.T) {
	var r Resolver
	ourMAC := [6]byte{0x02, 0, 0, 0, 0, 1}
	ourIP := [4]byte{10, 0, 0, 1}
	r.Init(ourMAC, ourIP, 0, 0, 0)

	senderMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	senderIP := [4]byte{10, 0, 0, 2}

	buf := make([]byte, sizeHeaderv4)
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetHardware(1, 6)
	frm.SetProtocol(0x0800, 4)
	frm.SetOperation(OpRequest)
	sHW, sIP := frm.Sender4()
	*sHW, *sIP = senderMAC, senderIP
	tHW, tIP := frm.Target4()
	*tHW, *tIP = [6]byte{}, ourIP

	forUs, err := r.OnRxRequestOrReply(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !forUs {
		t.Fatal("expected request targeting our address to produce a reply")
	}
	replyHW, replyIP := frm.Sender4()
	if *replyHW != ourMAC {
		t.Fatalf("reply sender HW = %x, want %x", *replyHW, ourMAC)
	}
	if *replyIP != ourIP {
		t.Fatalf("reply sender IP = %x, want %x", *replyIP, ourIP)
	}
	tHW2, tIP2 := frm.Target4()
	if *tHW2 != senderMAC || *tIP2 != senderIP {
		t.Fatalf("reply target mismatch: hw=%x ip=%x", *tHW2, *tIP2)
	}
	if frm.Operation() != OpReply {
		t.Fatalf("operation = %v, want reply", frm.Operation())
	}

	mac, ok := r.Cache.Lookup(senderIP)
	if !ok || mac != senderMAC {
		t.Fatalf("cache lookup = %x,%v want %x,true", mac, ok, senderMAC)
	}
}

func TestCacheEvictionRoundRobin(t *testing.T) {
	var c Cache
	c.Reset(2, 1, 0) // Single line, 2 ways, to force eviction deterministically.
	ip := func(n byte) [4]byte { return [4]byte{10, 0, 0, n} }
	mac := func(n byte) [6]byte { return [6]byte{0, 0, 0, 0, 0, n} }

	c.Insert(ip(1), mac(1))
	c.Insert(ip(2), mac(2))
	// Both ways full now; next insert evicts way 0 (round robin starts at 0).
	c.Insert(ip(3), mac(3))

	if _, ok := c.Lookup(ip(1)); ok {
		t.Fatal("expected ip(1) to have been evicted")
	}
	if m, ok := c.Lookup(ip(2)); !ok || m != mac(2) {
		t.Fatal("expected ip(2) to remain cached")
	}
	if m, ok := c.Lookup(ip(3)); !ok || m != mac(3) {
		t.Fatal("expected ip(3) to be newly cached")
	}
}

func TestCacheUpdateInPlace(t *testing.T) {
	var c Cache
	c.Reset(0, 0, 0)
	ip := [4]byte{192, 168, 1, 1}
	m1 := [6]byte{1, 1, 1, 1, 1, 1}
	m2 := [6]byte{2, 2, 2, 2, 2, 2}
	c.Insert(ip, m1)
	c.Insert(ip, m2)
	got, ok := c.Lookup(ip)
	if !ok || got != m2 {
		t.Fatalf("lookup = %x,%v want %x,true", got, ok, m2)
	}
}
