package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	x25519KeySize = 32
	eciesOverhead = x25519KeySize + IVSize + TagSize
)

// SealCurve25519 implements the Curve25519 half of the welcome-wrapping
// algorithm (spec §6): ephemeral X25519 keypair, ECDH with the recipient's
// public key, HKDF-SHA256 under label into an AES-256 key, then AES-GCM.
// Output is ephPub(32) || nonce(12) || ciphertext+tag, mirroring mlsgit's
// EncryptWelcome.
func SealCurve25519(recipientPub, plaintext []byte, label string) ([]byte, error) {
	if len(recipientPub) != x25519KeySize {
		return nil, fmt.Errorf("crypto: recipient public key must be %d bytes", x25519KeySize)
	}

	ephPriv := make([]byte, x25519KeySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive ephemeral public key: %w", err)
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}
	aesKey, err := deriveSealKey(shared, label)
	if err != nil {
		return nil, err
	}
	nonce, ct, err := AESGCMEncrypt(aesKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ct))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// OpenCurve25519 reverses SealCurve25519.
func OpenCurve25519(recipientPriv, sealed []byte, label string) ([]byte, error) {
	if len(sealed) < eciesOverhead {
		return nil, fmt.Errorf("crypto: sealed welcome too short: %d bytes (minimum %d)", len(sealed), eciesOverhead)
	}
	ephPub := sealed[:x25519KeySize]
	nonce := sealed[x25519KeySize : x25519KeySize+IVSize]
	ct := sealed[x25519KeySize+IVSize:]

	shared, err := curve25519.X25519(recipientPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}
	aesKey, err := deriveSealKey(shared, label)
	if err != nil {
		return nil, err
	}
	plaintext, err := AESGCMDecrypt(aesKey, nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}

func deriveSealKey(shared []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, nil, []byte(label))
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf: %w", err)
	}
	return key, nil
}

// X25519PublicFromSeed returns the Curve25519 public key for a 32-byte
// private seed.
func X25519PublicFromSeed(seed []byte) ([]byte, error) {
	if len(seed) != x25519KeySize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes", x25519KeySize)
	}
	return curve25519.X25519(seed, curve25519.Basepoint)
}
