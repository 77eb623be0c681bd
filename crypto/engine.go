// Package crypto is the CryptoEngine capability backend for the SSH
// transport: host/ephemeral key management, curve25519-sha256 key
// exchange, ed25519 host-key signing, OpenSSH-style session key
// derivation, and AES-128-GCM per-direction ciphers. One Engine holds the
// per-connection state for a single SSH session; the host key pair is
// process-wide and shared across every Engine.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash"
	"sync"

	"golang.org/x/crypto/curve25519"
)

const (
	ECDHKeySize      = 32
	ECDSAKeySize     = 32
	SHA256DigestSize = 32
	AESBlockSize     = 16
	AESKeySize       = 16
	GCMIVSize        = 12
	GCMTagSize       = 16
)

var errAuthFailed = errors.New("crypto: GCM authentication failed")

var (
	hostMu     sync.Mutex
	hostPub    [ECDSAKeySize]byte
	hostPriv   [ECDSAKeySize]byte // ed25519 seed, not the expanded signing key
	hostKeySet bool
)

// SetHostKey installs the process-wide Ed25519 host key pair (priv is the
// 32-byte seed, matching the OpenSSH/NaCl private-key convention), the way
// a platform persists and reloads a generated key across reboots.
func SetHostKey(pub, priv [ECDSAKeySize]byte) {
	hostMu.Lock()
	defer hostMu.Unlock()
	hostPub, hostPriv = pub, priv
	hostKeySet = true
}

// GenerateHostKey creates a fresh random Ed25519 host key pair and installs
// it as the process-wide host key.
func GenerateHostKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	var seed [ECDSAKeySize]byte
	var pubArr [ECDSAKeySize]byte
	copy(seed[:], priv.Seed())
	copy(pubArr[:], pub)
	SetHostKey(pubArr, seed)
	return nil
}

// HostPublicKey returns the process-wide host public key.
func HostPublicKey() (pub [ECDSAKeySize]byte, ok bool) {
	hostMu.Lock()
	defer hostMu.Unlock()
	return hostPub, hostKeySet
}

// HostKeyFingerprint returns a log-only SHA-256 digest of the raw 32-byte
// host public key.
func HostKeyFingerprint() [sha256.Size]byte {
	hostMu.Lock()
	defer hostMu.Unlock()
	return sha256.Sum256(hostPub[:])
}

// ivState tracks one direction's AES-GCM IV: a 4-byte salt fixed for the
// life of the connection and an 8-byte big-endian counter that advances
// after every packet. The salt never changes across counter wraparound.
type ivState struct {
	salt    [4]byte
	counter uint64
}

func (iv *ivState) bytes() [GCMIVSize]byte {
	var out [GCMIVSize]byte
	copy(out[:4], iv.salt[:])
	binary.BigEndian.PutUint64(out[4:], iv.counter)
	return out
}

func (iv *ivState) advance() { iv.counter++ }

// Engine holds the per-connection cryptographic state for a single SSH
// transport: the ephemeral X25519 keypair used for this key exchange, an
// incremental SHA-256 context (reset and reused across exchange-hash
// construction and session key derivation), and the derived per-direction
// GCM keys/IVs. The host signing key is not part of Engine: it is
// process-wide, see [SetHostKey]/[GenerateHostKey].
type Engine struct {
	ephemeralPriv [ECDHKeySize]byte
	sha           hash.Hash

	ivC2S, ivS2C   ivState
	keyC2S, keyS2C [AESKeySize]byte
}

// Clear zeroizes per-connection key material (ephemeral private key,
// derived IVs and ciphers) so the Engine can be reused for a new
// connection. The host key is untouched.
func (e *Engine) Clear() {
	for i := range e.ephemeralPriv {
		e.ephemeralPriv[i] = 0
	}
	e.ivC2S, e.ivS2C = ivState{}, ivState{}
	e.keyC2S, e.keyS2C = [AESKeySize]byte{}, [AESKeySize]byte{}
	e.SHA256Init()
}

// GenerateRandom fills buf with cryptographic randomness.
func (e *Engine) GenerateRandom(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// SHA256Init resets the engine's incremental SHA-256 context.
func (e *Engine) SHA256Init() {
	if e.sha == nil {
		e.sha = sha256.New()
	} else {
		e.sha.Reset()
	}
}

// SHA256Update feeds data into the running hash.
func (e *Engine) SHA256Update(data []byte) {
	e.sha.Write(data)
}

// SHA256Final returns the running hash's digest. It does not reset the
// context; callers that intend to start a fresh hash must call
// SHA256Init first.
func (e *Engine) SHA256Final() [SHA256DigestSize]byte {
	var out [SHA256DigestSize]byte
	copy(out[:], e.sha.Sum(nil))
	return out
}

// GenerateX25519KeyPair creates a fresh ephemeral X25519 keypair, keeping
// the private scalar internal to the Engine and returning the public key.
func (e *Engine) GenerateX25519KeyPair() (pub [ECDHKeySize]byte, err error) {
	if _, err = rand.Read(e.ephemeralPriv[:]); err != nil {
		return pub, err
	}
	p, err := curve25519.X25519(e.ephemeralPriv[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], p)
	return pub, nil
}

// SharedSecret computes the ECDH shared secret between our ephemeral
// private key and the peer's public key.
func (e *Engine) SharedSecret(peerPublic [ECDHKeySize]byte) (secret [ECDHKeySize]byte, err error) {
	s, err := curve25519.X25519(e.ephemeralPriv[:], peerPublic[:])
	if err != nil {
		return secret, err
	}
	copy(secret[:], s)
	return secret, nil
}

// SignExchangeHash signs a 32-byte exchange hash with the process-wide
// Ed25519 host key.
func SignExchangeHash(exchangeHash [SHA256DigestSize]byte) (sig [ed25519.SignatureSize]byte, err error) {
	hostMu.Lock()
	seed := hostPriv
	set := hostKeySet
	hostMu.Unlock()
	if !set {
		return sig, errors.New("crypto: host key not set")
	}
	priv := ed25519.NewKeyFromSeed(seed[:])
	s := ed25519.Sign(priv, exchangeHash[:])
	copy(sig[:], s)
	return sig, nil
}

// DeriveSessionKeys derives the four OpenSSH session key-derivation
// outputs ('A'..'D': IV_c2s, IV_s2c, KEY_c2s, KEY_s2c) from the ECDH
// shared secret, the session's exchange hash, and the session
// identifier, and installs them as this Engine's per-direction GCM
// state. IV counters start at zero; the salt is the derivation's first
// four digest bytes, per this design's IV layout (salt || counter).
func (e *Engine) DeriveSessionKeys(sharedSecret, exchangeHash, sessionID [SHA256DigestSize]byte) {
	ivc := e.DeriveSessionKey(sharedSecret, exchangeHash, sessionID, 'A')
	e.ivC2S = ivState{salt: [4]byte{ivc[0], ivc[1], ivc[2], ivc[3]}}
	ivs := e.DeriveSessionKey(sharedSecret, exchangeHash, sessionID, 'B')
	e.ivS2C = ivState{salt: [4]byte{ivs[0], ivs[1], ivs[2], ivs[3]}}
	kc := e.DeriveSessionKey(sharedSecret, exchangeHash, sessionID, 'C')
	copy(e.keyC2S[:], kc[:AESKeySize])
	ks := e.DeriveSessionKey(sharedSecret, exchangeHash, sessionID, 'D')
	copy(e.keyS2C[:], ks[:AESKeySize])
}

// DeriveSessionKey derives a single labeled session key material digest,
// matching the OpenSSH key-derivation function: SHA256(mpint(sharedSecret)
// || exchangeHash || keyid || sessionID). The shared secret is encoded as
// an SSH mpint: a 4-byte big-endian length (extended to 5 bytes with a
// leading zero pad byte if the secret's high bit is set, since mpints are
// signed).
func (e *Engine) DeriveSessionKey(sharedSecret, exchangeHash, sessionID [SHA256DigestSize]byte, keyid byte) [SHA256DigestSize]byte {
	e.SHA256Init()
	bignumLen := [5]byte{0, 0, 0, ECDHKeySize, 0}
	if sharedSecret[0]&0x80 != 0 {
		bignumLen[3]++
		e.SHA256Update(bignumLen[:5])
	} else {
		e.SHA256Update(bignumLen[:4])
	}
	e.SHA256Update(sharedSecret[:])
	e.SHA256Update(exchangeHash[:])
	e.SHA256Update([]byte{keyid})
	e.SHA256Update(sessionID[:])
	return e.SHA256Final()
}

func newGCM(key [AESKeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DecryptAndVerify decrypts an inbound client-to-server packet in place:
// ciphertext is the packet body (not including the 4-byte length field),
// aad is the associated data (the wire length field, unencrypted but
// authenticated), and the trailing GCMTagSize bytes of ciphertext are the
// authentication tag. On success it returns the plaintext (aliasing
// ciphertext's backing array) and advances the client-to-server IV
// counter; on failure the packet must be discarded and the connection
// closed.
func (e *Engine) DecryptAndVerify(ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(e.keyC2S)
	if err != nil {
		return nil, err
	}
	iv := e.ivC2S.bytes()
	plain, err := gcm.Open(ciphertext[:0], iv[:], ciphertext, aad)
	if err != nil {
		return nil, errAuthFailed
	}
	e.ivC2S.advance()
	return plain, nil
}

// EncryptAndMAC encrypts an outbound server-to-client packet in place and
// appends the GCM tag, advancing the server-to-client IV counter. aad is
// the wire length field.
func (e *Engine) EncryptAndMAC(plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(e.keyS2C)
	if err != nil {
		return nil, err
	}
	iv := e.ivS2C.bytes()
	out := gcm.Seal(plaintext[:0], iv[:], plaintext, aad)
	e.ivS2C.advance()
	return out, nil
}
