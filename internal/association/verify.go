package association

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ContractWalletVerifier validates ERC-1271 signatures by delegating to an
// injected eth_call against the contract at a pinned block number, per spec
// §4.1. No implementation ships in this module; tests supply a stub.
type ContractWalletVerifier interface {
	VerifyERC1271(ctx context.Context, contractAddress [20]byte, digest [32]byte, signature []byte, atBlock uint64) (bool, error)
}

// SignatureVerifier checks one Signature over an IdentityUpdate's digest and
// reports whether it is valid; the resolver derives the signer's identifier
// from the signature's kind and public key separately.
type SignatureVerifier struct {
	Contracts ContractWalletVerifier
	// PinnedBlock is the block number ERC-1271 checks are evaluated at. It
	// stays fixed for the verifier's lifetime, so every replay through it
	// evaluates contract signatures at the same block.
	PinnedBlock uint64
}

// Verify validates sig over update's domain-separated preamble and returns
// whether the signature is valid for the identifier it claims.
func (v *SignatureVerifier) Verify(ctx context.Context, update *IdentityUpdate, sig Signature) (bool, error) {
	preamble := fmtDomainPreamble(update.InboxID, update.Kind, update.Identifier, sig.ClientTS)
	digest := sha256.Sum256(preamble)

	switch sig.Kind {
	case SignatureED25519:
		if len(sig.PublicKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("association: bad ed25519 key size %d", len(sig.PublicKey))
		}
		return ed25519.Verify(sig.PublicKey, preamble, sig.Bytes), nil

	case SignaturePasskey:
		pub, err := parsePasskeyPublicKey(sig.PublicKey)
		if err != nil {
			return false, err
		}
		return ecdsa.VerifyASN1(pub, digest[:], sig.Bytes), nil

	case SignatureECDSA:
		return verifyRecoverableECDSA(sig.PublicKey, digest, sig.Bytes)

	case SignatureERC1271:
		if v.Contracts == nil {
			return false, fmt.Errorf("association: no contract verifier configured for erc1271 signature")
		}
		var addr [20]byte
		if len(sig.PublicKey) != 20 {
			return false, fmt.Errorf("association: erc1271 signer must be a 20-byte address, got %d", len(sig.PublicKey))
		}
		copy(addr[:], sig.PublicKey)
		return v.Contracts.VerifyERC1271(ctx, addr, digest, sig.Bytes, v.PinnedBlock)

	default:
		return false, fmt.Errorf("association: unknown signature kind %q", sig.Kind)
	}
}

// verifyRecoverableECDSA checks a recoverable secp256k1 signature (65 bytes:
// r||s||v) against an expected uncompressed public key, the same primitive
// an on-chain account signature uses.
func verifyRecoverableECDSA(expectedPub []byte, digest [32]byte, sig []byte) (bool, error) {
	if len(sig) != 65 {
		return false, fmt.Errorf("association: recoverable ecdsa signature must be 65 bytes, got %d", len(sig))
	}
	recovered, err := gethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return false, fmt.Errorf("association: recover pubkey: %w", err)
	}
	recoveredBytes := gethcrypto.FromECDSAPub(recovered)
	if len(expectedPub) != len(recoveredBytes) {
		return false, nil
	}
	for i := range expectedPub {
		if expectedPub[i] != recoveredBytes[i] {
			return false, nil
		}
	}
	return true, nil
}

// parsePasskeyPublicKey decodes an uncompressed P-256 point (0x04 || X || Y),
// WebAuthn's advertised public key encoding.
func parsePasskeyPublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("association: passkey public key must be an uncompressed P-256 point")
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, fmt.Errorf("association: passkey public key is not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
