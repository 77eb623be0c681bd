package ssh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrAlgoMismatch is returned when a client's KEXINIT does not offer any of
// this server's single supported choice for a given negotiation slot. This
// server never attempts second-best negotiation per §4.9: an unsupported
// client leaves the connection unable to proceed past KEXINIT.
var ErrAlgoMismatch = errors.New("ssh: no common algorithm")

var errShortField = errors.New("ssh: truncated packet field")

// kexInitNameLists is the ten namelist fields of a KEXINIT payload, in
// wire order (RFC 4253 §7.1), plus its leading 16-byte cookie.
type kexInitNameLists struct {
	cookie                  [16]byte
	kexAlgorithms           string
	serverHostKeyAlgorithms string
	encryptionC2S           string
	encryptionS2C           string
	macC2S                  string
	macS2C                  string
	compressionC2S          string
	compressionS2C          string
	languagesC2S            string
	languagesS2C            string
	firstKexPacketFollows   bool
}

// EncodeKexInit writes this server's KEXINIT payload (message type not
// included; the caller passes it to EncodePlaintext/EncodeEncrypted
// separately) into dst, advertising exactly the single algorithm this
// server supports in each slot. cookie should be 16 bytes of fresh
// randomness per §7.1.
func EncodeKexInit(dst []byte, cookie [16]byte) []byte {
	dst = append(dst, cookie[:]...)
	dst = appendNameList(dst, AlgoKex)
	dst = appendNameList(dst, AlgoHostKey)
	dst = appendNameList(dst, AlgoCipher)
	dst = appendNameList(dst, AlgoCipher)
	dst = appendNameList(dst, AlgoMAC)
	dst = appendNameList(dst, AlgoMAC)
	dst = appendNameList(dst, AlgoCompress)
	dst = appendNameList(dst, AlgoCompress)
	dst = appendNameList(dst, "")
	dst = appendNameList(dst, "")
	dst = append(dst, 0) // first_kex_packet_follows = false
	dst = binary.BigEndian.AppendUint32(dst, 0)
	return dst
}

func appendNameList(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// ParseKexInit parses a peer's KEXINIT payload (as returned by
// DecodePlaintext/DecodeEncrypted, i.e. without the leading message type
// byte).
func ParseKexInit(payload []byte) (kexInitNameLists, error) {
	var k kexInitNameLists
	if len(payload) < 16 {
		return k, errShortField
	}
	copy(k.cookie[:], payload[:16])
	rest := payload[16:]
	fields := [...]*string{
		&k.kexAlgorithms, &k.serverHostKeyAlgorithms,
		&k.encryptionC2S, &k.encryptionS2C,
		&k.macC2S, &k.macS2C,
		&k.compressionC2S, &k.compressionS2C,
		&k.languagesC2S, &k.languagesS2C,
	}
	for _, f := range fields {
		s, tail, err := readNameList(rest)
		if err != nil {
			return k, err
		}
		*f, rest = s, tail
	}
	if len(rest) < 1 {
		return k, errShortField
	}
	k.firstKexPacketFollows = rest[0] != 0
	return k, nil
}

func readNameList(buf []byte) (s string, rest []byte, err error) {
	if len(buf) < 4 {
		return "", nil, errShortField
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < n {
		return "", nil, errShortField
	}
	return string(buf[4 : 4+n]), buf[4+n:], nil
}

// negotiate reports whether offered (a namelist as in the wire payload)
// contains want as one of its comma-separated entries.
func negotiate(offered, want string) bool {
	for _, name := range bytesSplitComma(offered) {
		if name == want {
			return true
		}
	}
	return false
}

func bytesSplitComma(s string) []string {
	if s == "" {
		return nil
	}
	return splitString(s, ',')
}

func splitString(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Negotiate validates that the client's KEXINIT offers this server's
// single supported algorithm in every slot this server cares about (kex,
// host key, both encryption directions); MAC/compression are fixed to
// "none" by the AEAD cipher and not separately checked, matching how
// aes128-gcm@openssh.com implies its own integrity and never layers a
// MAC. Returns ErrAlgoMismatch naming the first unmet slot.
func (k kexInitNameLists) Negotiate() error {
	switch {
	case !negotiate(k.kexAlgorithms, AlgoKex):
		return errAlgo("kex", k.kexAlgorithms)
	case !negotiate(k.serverHostKeyAlgorithms, AlgoHostKey):
		return errAlgo("host key", k.serverHostKeyAlgorithms)
	case !negotiate(k.encryptionC2S, AlgoCipher):
		return errAlgo("cipher c2s", k.encryptionC2S)
	case !negotiate(k.encryptionS2C, AlgoCipher):
		return errAlgo("cipher s2c", k.encryptionS2C)
	}
	return nil
}

func errAlgo(slot, offered string) error {
	return fmt.Errorf("%w for %s, client offered %s", ErrAlgoMismatch, slot, offered)
}

// exchangeHashInput holds the fields RFC 4253 §8 hashes together to form
// the session's exchange hash H, in wire order.
type exchangeHashInput struct {
	clientVersion, serverVersion string
	clientKexInit, serverKexInit []byte // full KEXINIT packet payload, including the message type byte.
	serverHostKey                []byte // the ssh-ed25519 public key blob, wire-encoded.
	clientECDHPub, serverECDHPub [32]byte
	sharedSecretMPInt            []byte // mpint-encoded K.
}

// appendHashInput writes h's fields into dst in the §8 order, each
// string/byte-slice field length-prefixed per the SSH wire format
// (string = uint32 length + bytes; mpint fields are pre-encoded by the
// caller since the sign-extension rule needs the raw secret, matching
// [crypto.Engine.DeriveSessionKey]'s own mpint handling).
func appendHashInput(dst []byte, h exchangeHashInput) []byte {
	dst = appendString(dst, h.clientVersion)
	dst = appendString(dst, h.serverVersion)
	dst = appendBytes(dst, h.clientKexInit)
	dst = appendBytes(dst, h.serverKexInit)
	dst = appendBytes(dst, h.serverHostKey)
	dst = appendBytes(dst, h.clientECDHPub[:])
	dst = appendBytes(dst, h.serverECDHPub[:])
	dst = append(dst, h.sharedSecretMPInt...)
	return dst
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// encodeMPInt appends a shared secret as an SSH mpint: a big-endian
// unsigned integer, sign-extended with a leading zero byte if its high
// bit is set, matching [crypto.Engine.DeriveSessionKey]'s own framing so
// the exchange hash and the derived keys agree on K's encoding.
func encodeMPInt(dst []byte, secret [32]byte) []byte {
	if secret[0]&0x80 != 0 {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(secret)+1))
		dst = append(dst, 0)
	} else {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(secret)))
	}
	return append(dst, secret[:]...)
}

// encodeEd25519HostKeyBlob wire-encodes an ssh-ed25519 public key the way
// RFC 4253 §6.6 and RFC 8709 define it: string "ssh-ed25519" followed by
// the 32-byte key as a string.
func encodeEd25519HostKeyBlob(pub [32]byte) []byte {
	var dst []byte
	dst = appendString(dst, AlgoHostKey)
	dst = appendBytes(dst, pub[:])
	return dst
}

// encodeEd25519Signature wire-encodes an ssh-ed25519 signature blob the
// same way: string "ssh-ed25519" followed by the 64-byte signature.
func encodeEd25519Signature(sig [64]byte) []byte {
	var dst []byte
	dst = appendString(dst, AlgoHostKey)
	dst = appendBytes(dst, sig[:])
	return dst
}
