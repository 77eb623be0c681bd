package lneto

import "errors"

// Generic errors common to internet functioning, shared across the
// ethernet/arp/ipv4/udp/tcp packages' frame accessors and validators.
var (
	ErrBug                = errors.New("lneto-bug (use build tag \"debugheaplog\")")
	ErrPacketDrop         = errors.New("packet dropped")
	ErrBadCRC             = errors.New("incorrect checksum")
	ErrZeroSource         = errors.New("zero source (port/addr)")
	ErrZeroDestination    = errors.New("zero destination (port/addr)")
	ErrUnsupported        = errors.New("unsupported")
	ErrShortBuffer        = errors.New("buffer too short")
	ErrInvalidLengthField = errors.New("invalid length field")
	ErrMismatch           = errors.New("mismatched value")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidAddr        = errors.New("invalid address")
	ErrInvalidField       = errors.New("invalid field")
)
