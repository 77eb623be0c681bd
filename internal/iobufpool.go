package internal

import (
	"errors"
	"unsafe"
)

// IOBufPool is a fixed set of equally-sized frame buffers handed out and
// reclaimed by index, the free-list a host platform's Ethernet driver
// uses to satisfy [ethernet.Driver]'s Get/Send/Cancel/Release buffer
// contract without ever allocating after Init: every buffer lives in one
// contiguous backing array, and "ownership" is tracked with one in-use
// flag per buffer rather than individual heap objects.
type IOBufPool struct {
	store    []byte // n*size contiguous backing storage
	size     int
	inUse    []bool
	lastFree int // hint: next index to probe for a free buffer
}

var (
	ErrPoolExhausted  = errors.New("lneto/internal: iobufpool exhausted")
	ErrPoolBadRelease = errors.New("lneto/internal: iobufpool release of unowned buffer")
)

// Init sizes the pool to hold n buffers of size bytes each, backed by
// store (len(store) must equal n*size). Init may be called once at
// startup with a package-level or struct-embedded array; its only
// allocation is the n-entry in-use table.
func (p *IOBufPool) Init(store []byte, n, size int) {
	if len(store) != n*size {
		panic("lneto/internal: iobufpool store size mismatch")
	}
	p.store = store
	p.size = size
	p.inUse = make([]bool, n)
}

// Get returns the next free buffer, or ok=false if every buffer is
// currently checked out.
func (p *IOBufPool) Get() (buf []byte, ok bool) {
	n := len(p.inUse)
	for i := 0; i < n; i++ {
		idx := (p.lastFree + i) % n
		if !p.inUse[idx] {
			p.inUse[idx] = true
			p.lastFree = (idx + 1) % n
			return p.store[idx*p.size : (idx+1)*p.size], true
		}
	}
	return nil, false
}

// Put returns buf, previously obtained from Get, to the free list. buf
// must be a slice of the pool's backing store at its original offset and
// length; passing any other slice is a programming error.
func (p *IOBufPool) Put(buf []byte) error {
	idx, err := p.indexOf(buf)
	if err != nil {
		return err
	}
	p.inUse[idx] = false
	return nil
}

func (p *IOBufPool) indexOf(buf []byte) (int, error) {
	if p.size == 0 || len(buf) == 0 || len(p.store) == 0 {
		return 0, ErrPoolBadRelease
	}
	base := uintptr(unsafe.Pointer(&p.store[0]))
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	if ptr < base {
		return 0, ErrPoolBadRelease
	}
	off := int(ptr - base)
	if off < 0 || off%p.size != 0 {
		return 0, ErrPoolBadRelease
	}
	idx := off / p.size
	if idx >= len(p.inUse) {
		return 0, ErrPoolBadRelease
	}
	return idx, nil
}
