package ssh

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/tinystack/crypto"
)

// Binary packet protocol constants, RFC 4253 §6.
const (
	minPaddingSize  = 4
	blockSize       = 8 // Padding block size before NEWKEYS; encrypted packets use crypto.AESBlockSize.
	maxPacketLength = 35000
)

var (
	ErrPacketTooShort = errors.New("ssh: packet shorter than length field")
	ErrPacketTooLong  = errors.New("ssh: packet exceeds maximum length")
	ErrBadPadding     = errors.New("ssh: padding length out of range")
)

// packetLen computes the padded length field for a payload of n bytes,
// given the cipher block size currently in effect: padding_length is
// chosen so that 1 (padding_length byte) + n + padding is a multiple of
// the block size, with at least minPaddingSize bytes of padding.
func packetLen(n int, block int) (length, padLen int) {
	padLen = block - (1+n)%block
	if padLen < minPaddingSize {
		padLen += block
	}
	length = 1 + n + padLen
	return length, padLen
}

// EncodePlaintext writes an unencrypted SSH packet (msg type plus payload)
// into dst, which must be long enough for the whole padded packet
// (ErrPacketTooShort otherwise). It returns the slice of dst actually used. rnd fills the
// padding bytes; during the pre-NEWKEYS phase any padding content is
// acceptable since it carries no secrecy requirement, but using the
// engine's random source keeps a single place honest.
func EncodePlaintext(dst []byte, msg Message, payload []byte, rnd func([]byte) error) ([]byte, error) {
	length, padLen := packetLen(1+len(payload), blockSize)
	total := 4 + length
	if len(dst) < total {
		return nil, ErrPacketTooShort
	}
	binary.BigEndian.PutUint32(dst[0:4], uint32(length))
	dst[4] = byte(padLen)
	dst[5] = byte(msg)
	n := copy(dst[6:], payload)
	pad := dst[6+n : 6+n+padLen]
	if rnd != nil {
		if err := rnd(pad); err != nil {
			return nil, err
		}
	}
	return dst[:total], nil
}

// DecodePlaintext parses an unencrypted SSH packet from the front of buf.
// It returns the message type, the payload (aliasing buf), and the total
// number of bytes consumed, or (0, nil, 0, nil) if buf does not yet hold a
// complete packet.
func DecodePlaintext(buf []byte) (msg Message, payload []byte, n int, err error) {
	if len(buf) < 5 {
		return 0, nil, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length > maxPacketLength {
		return 0, nil, 0, ErrPacketTooLong
	}
	total := 4 + int(length)
	if len(buf) < total {
		return 0, nil, 0, nil
	}
	padLen := int(buf[4])
	if padLen < minPaddingSize || 2+padLen > int(length) {
		return 0, nil, 0, ErrBadPadding
	}
	msg = Message(buf[5])
	payload = buf[6 : total-padLen]
	return msg, payload, total, nil
}

// EncodeEncryptedLen returns the total wire length (length field, its own
// 4 bytes, and the GCM tag included) an encrypted packet carrying n
// payload bytes will occupy.
func EncodeEncryptedLen(n int) int {
	length, _ := packetLen(1+n, crypto.AESBlockSize)
	return 4 + length + crypto.GCMTagSize
}

// EncodeEncrypted writes an AES-128-GCM protected SSH packet into dst
// (which must be at least EncodeEncryptedLen(len(payload)) bytes) using
// eng's server-to-client keys. The 4-byte length field is sent in the
// clear and used as the GCM associated data, per §4.9's length-is-AAD
// rule; everything from padding_length onward is encrypted and followed
// by the 16-byte tag.
func EncodeEncrypted(dst []byte, eng *crypto.Engine, msg Message, payload []byte, rnd func([]byte) error) ([]byte, error) {
	length, padLen := packetLen(1+len(payload), crypto.AESBlockSize)
	total := 4 + length + crypto.GCMTagSize
	if len(dst) < total {
		return nil, ErrPacketTooShort
	}
	binary.BigEndian.PutUint32(dst[0:4], uint32(length))
	body := dst[4 : 4+length]
	body[0] = byte(padLen)
	body[1] = byte(msg)
	n := copy(body[2:], payload)
	pad := body[2+n : 2+n+padLen]
	if rnd != nil {
		if err := rnd(pad); err != nil {
			return nil, err
		}
	}
	sealed, err := eng.EncryptAndMAC(body, dst[0:4])
	if err != nil {
		return nil, err
	}
	return dst[:4+len(sealed)], nil
}

// DecodeEncrypted parses one AES-128-GCM protected packet from the front
// of buf using eng's client-to-server keys. It returns the message type,
// the decrypted payload, and the number of input bytes consumed, or
// (0, nil, 0, nil) if buf does not yet hold a complete packet. The length
// field itself is never encrypted; only the block starting at
// padding_length is GCM-sealed, with the tag trailing it.
func DecodeEncrypted(buf []byte, eng *crypto.Engine) (msg Message, payload []byte, n int, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length > maxPacketLength {
		return 0, nil, 0, ErrPacketTooLong
	}
	total := 4 + int(length) + crypto.GCMTagSize
	if len(buf) < total {
		return 0, nil, 0, nil
	}
	sealed := buf[4:total]
	plain, err := eng.DecryptAndVerify(sealed, buf[0:4])
	if err != nil {
		return 0, nil, 0, err
	}
	padLen := int(plain[0])
	if padLen < minPaddingSize || 2+padLen > len(plain) {
		return 0, nil, 0, ErrBadPadding
	}
	msg = Message(plain[1])
	payload = plain[2 : len(plain)-padLen]
	return msg, payload, total, nil
}
