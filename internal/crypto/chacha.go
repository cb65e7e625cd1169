package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaChaKeySize is the key size chacha20poly1305.New requires.
const ChaChaKeySize = chacha20poly1305.KeySize

// RandomChaChaKey generates a fresh one-shot ChaCha20-Poly1305 key, the
// device-sync archive's randomly generated export key (spec §4.5).
func RandomChaChaKey() ([]byte, error) {
	key := make([]byte, ChaChaKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: random chacha key: %w", err)
	}
	return key, nil
}

// ChaChaSealAt encrypts plaintext under key with an explicit 12-byte nonce,
// the archive-frame path where the nonce is derived per-frame from the
// archive header's seed rather than drawn from the system RNG.
func ChaChaSealAt(key []byte, nonce [12]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: chacha20poly1305 new: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// ChaChaOpenAt reverses ChaChaSealAt.
func ChaChaOpenAt(key []byte, nonce [12]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: chacha20poly1305 new: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: chacha20poly1305 open: %w", err)
	}
	return plaintext, nil
}
