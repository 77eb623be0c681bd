package internal

import "errors"

// CircularFIFO is a fixed-capacity byte FIFO with 16-bit head/tail indices
// that wrap modulo 2*len(buf). This doubled modulus lets ReadSize/WriteSize
// tell a full buffer apart from an empty one without a separate "full" flag,
// at the cost of requiring len(buf) <= 1<<15.
//
// The zero value is not usable; construct with [NewCircularFIFO] or set Buf
// directly with head=tail=0.
type CircularFIFO struct {
	Buf  []byte
	head uint16 // write index
	tail uint16 // read index
}

var (
	ErrFIFOFull  = errors.New("lneto/internal: fifo full")
	ErrFIFOShort = errors.New("lneto/internal: fifo underrun")
)

// NewCircularFIFO constructs a CircularFIFO backed by buf. len(buf) must be
// in (0, 1<<15] for the doubled-modulus wraparound arithmetic to stay within
// a uint16.
func NewCircularFIFO(buf []byte) CircularFIFO {
	if len(buf) == 0 || len(buf) > 1<<15 {
		panic("lneto/internal: bad CircularFIFO size")
	}
	return CircularFIFO{Buf: buf}
}

func (f *CircularFIFO) cap2() uint16 { return uint16(2 * len(f.Buf)) }

// ReadSize returns the number of unread bytes currently buffered.
func (f *CircularFIFO) ReadSize() int {
	c := 2 * len(f.Buf)
	return (int(f.head) - int(f.tail) + c) % c
}

// WriteSize returns the number of bytes that can currently be pushed.
func (f *CircularFIFO) WriteSize() int {
	return len(f.Buf) - f.ReadSize()
}

func (f *CircularFIFO) idx(v uint16) int {
	return int(v % uint16(len(f.Buf)))
}

// Push appends b to the FIFO. It returns [ErrFIFOFull] without writing any
// data if b does not fit in the remaining capacity.
func (f *CircularFIFO) Push(b []byte) error {
	if len(b) > f.WriteSize() {
		return ErrFIFOFull
	}
	for _, c := range b {
		f.Buf[f.idx(f.head)] = c
		f.head++
		if f.head == f.cap2() {
			f.head = 0
		}
	}
	return nil
}

// PushByte pushes a single byte, returning [ErrFIFOFull] if there is no room.
func (f *CircularFIFO) PushByte(b byte) error {
	return f.Push([]byte{b})
}

// Pop discards n bytes from the front of the FIFO (the oldest unread bytes).
// It returns [ErrFIFOShort] if fewer than n bytes are buffered.
func (f *CircularFIFO) Pop(n int) error {
	if n < 0 || n > f.ReadSize() {
		return ErrFIFOShort
	}
	f.tail = uint16((int(f.tail) + n) % (2 * len(f.Buf)))
	return nil
}

// Peek copies up to len(dst) unread bytes, starting at the front of the
// FIFO, into dst without advancing the read pointer. It returns the number
// of bytes copied.
func (f *CircularFIFO) Peek(dst []byte) int {
	n := min(len(dst), f.ReadSize())
	for i := 0; i < n; i++ {
		dst[i] = f.Buf[(f.idx(f.tail)+i)%len(f.Buf)]
	}
	return n
}

// Rewind contiguously relocates unread data to offset 0 of the backing
// buffer (performing the memmove only when the data actually wraps) and
// returns a slice over the relocated, unread bytes. After Rewind, the next
// Pop/Peek reads starting at Buf[0], i.e. the read pointer is logically 0
// and the write pointer is logically ReadSize().
func (f *CircularFIFO) Rewind() []byte {
	n := f.ReadSize()
	if n == 0 {
		f.head, f.tail = 0, 0
		return f.Buf[:0]
	}
	start := f.idx(f.tail)
	if start != 0 {
		rotateLeft(f.Buf, start)
	}
	f.tail = 0
	f.head = uint16(n)
	return f.Buf[:n]
}

// rotateLeft rotates buf left by k positions in place (no allocation) using
// the classic reversal algorithm: reverse both halves, then reverse the
// whole. After rotateLeft(buf, k), buf[i] == old buf[(i+k)%len(buf)].
func rotateLeft(buf []byte, k int) {
	n := len(buf)
	if n == 0 {
		return
	}
	k %= n
	if k == 0 {
		return
	}
	reverseBytes(buf[:k])
	reverseBytes(buf[k:])
	reverseBytes(buf)
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
