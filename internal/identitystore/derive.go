package identitystore

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning    = "xmtp/identitystore/signing/v1"
	hkdfInfoEncryption = "xmtp/identitystore/encryption/v1"
	hkdfInfoInboxNonce = "xmtp/identitystore/inbox-nonce/v1"
)

// DerivedKeys bundles the installation signing keypair and the X25519 seed
// used for MLS welcome wrapping, both derived from one BIP-39 seed.
type DerivedKeys struct {
	SigningPrivateKey []byte // Ed25519 private key bytes (64)
	SigningPublicKey  []byte // Ed25519 public key bytes (32)
	EncryptionSeed    []byte // X25519 private seed bytes (32)
}

// DeriveKeys expands a BIP-39 seed into the installation's signing and
// encryption material via independent HKDF labels, following the teacher's
// identity.DeriveKeys pattern.
func DeriveKeys(seedBytes []byte) (*DerivedKeys, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, 32)
	if err != nil {
		return nil, err
	}
	encryptionSeed, err := hkdfExpand(seedBytes, hkdfInfoEncryption, 32)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)

	return &DerivedKeys{
		SigningPrivateKey: signingPriv,
		SigningPublicKey:  signingPub,
		EncryptionSeed:    encryptionSeed,
	}, nil
}

// deriveInboxNonce derives a stable per-seed nonce so re-importing the same
// mnemonic against the same initial identifier reproduces the same inbox id.
func deriveInboxNonce(seedBytes []byte) ([]byte, error) {
	return hkdfExpand(seedBytes, hkdfInfoInboxNonce, 16)
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
