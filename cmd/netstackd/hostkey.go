package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/soypat/tinystack/crypto"
)

// loadOrGenerateHostKey installs the process-wide SSH host key used by
// every [ssh.Transport] connection: if path is set and a 32-byte Ed25519
// seed already exists there, it is loaded; otherwise a fresh key pair is
// generated and, if path is set, persisted so the host-key fingerprint
// an operator has pinned stays valid across restarts.
func loadOrGenerateHostKey(path string) error {
	if path != "" {
		if seed, err := os.ReadFile(path); err == nil {
			return installHostKeySeed(seed)
		}
	}
	priv, err := generateHostKeySeed()
	if err != nil {
		return fmt.Errorf("generate host key: %w", err)
	}
	if err := installHostKeySeed(priv[:]); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	return os.WriteFile(path, priv[:], 0600)
}

func generateHostKeySeed() ([crypto.ECDSAKeySize]byte, error) {
	var seed [crypto.ECDSAKeySize]byte
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return seed, err
	}
	copy(seed[:], priv.Seed())
	return seed, nil
}

func installHostKeySeed(seed []byte) error {
	if len(seed) != crypto.ECDSAKeySize {
		return fmt.Errorf("netstackd: host key seed must be %d bytes, got %d", crypto.ECDSAKeySize, len(seed))
	}
	var seedArr [crypto.ECDSAKeySize]byte
	copy(seedArr[:], seed)
	priv := ed25519.NewKeyFromSeed(seedArr[:])
	pub := priv.Public().(ed25519.PublicKey)
	var pubArr, privArr [crypto.ECDSAKeySize]byte
	copy(pubArr[:], pub)
	copy(privArr[:], seedArr[:])
	crypto.SetHostKey(pubArr, privArr)
	return nil
}
