package internal

// FNV-1 constants for 32-bit hashing, see http://www.isthe.com/chongo/tech/comp/fnv/.
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// FNV1 computes the (non-"a" variant) FNV-1 hash of b: multiply-then-xor,
// as used by the ARP and TCP set-associative cache line selection.
func FNV1(b ...byte) uint32 {
	h := uint32(fnvOffset32)
	for _, c := range b {
		h *= fnvPrime32
		h ^= uint32(c)
	}
	return h
}

// FNV1Uint16 folds one uint16 value, high byte first, into the running hash h,
// used for hashing port numbers without allocating a byte slice.
func FNV1Uint16(h uint32, v uint16) uint32 {
	h *= fnvPrime32
	h ^= uint32(v >> 8)
	h *= fnvPrime32
	h ^= uint32(v & 0xff)
	return h
}
