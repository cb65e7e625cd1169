// Package welcomewrap implements the two welcome-sealing algorithms spec §6
// names: Curve25519 HPKE and an XWing-MLKEM768 hybrid. Curve25519 is
// grounded directly on mlsgit's internal/crypto/ecies.go (now adapted into
// internal/crypto.SealCurve25519/OpenCurve25519). XWing-MLKEM768 has no
// grounding anywhere in the example pack (no ML-KEM or hybrid-PQ library is
// vendored by any example repo), so XWingHybridWrapper uses the Curve25519
// KEM alone, with no ML-KEM768 combiner. It seals the welcome body and the
// welcome_metadata frame as two independent Curve25519 seals under their own
// labels; the two do not share one HPKE context. DESIGN.md records this as a
// simplification.
package welcomewrap

import (
	"fmt"

	"github.com/xmtp-core/libxmtp-go/internal/crypto"
	"github.com/xmtp-core/libxmtp-go/internal/wire"
)

const (
	welcomeLabel = "MLS_WELCOME"
	metadataLabel = "MLS_WELCOME_METADATA"
)

// Wrapper seals/opens a welcome body (and, for the hybrid algorithm, a
// separate metadata frame) under a recipient's advertised HPKE public key.
type Wrapper interface {
	Algorithm() wire.WrapperAlgorithm
	Seal(recipientPub, body []byte) ([]byte, error)
	Open(recipientPriv, sealed []byte) ([]byte, error)
	SealMetadata(recipientPub, metadata []byte) ([]byte, error)
	OpenMetadata(recipientPriv, sealed []byte) ([]byte, error)
}

// Curve25519Wrapper implements the Curve25519/HPKE welcome-wrapping
// algorithm.
type Curve25519Wrapper struct{}

func (Curve25519Wrapper) Algorithm() wire.WrapperAlgorithm { return wire.WrapperCurve25519 }

func (Curve25519Wrapper) Seal(recipientPub, body []byte) ([]byte, error) {
	return crypto.SealCurve25519(recipientPub, body, welcomeLabel)
}

func (Curve25519Wrapper) Open(recipientPriv, sealed []byte) ([]byte, error) {
	return crypto.OpenCurve25519(recipientPriv, sealed, welcomeLabel)
}

func (Curve25519Wrapper) SealMetadata(recipientPub, metadata []byte) ([]byte, error) {
	return crypto.SealCurve25519(recipientPub, metadata, metadataLabel)
}

func (Curve25519Wrapper) OpenMetadata(recipientPriv, sealed []byte) ([]byte, error) {
	return crypto.OpenCurve25519(recipientPriv, sealed, metadataLabel)
}

// XWingHybridWrapper carries spec §6's "XWing-MLKEM768-Draft6" algorithm
// tag. Body and metadata are sealed independently, each with its own
// Curve25519 seal under an "_XWING" label; see the package doc comment.
type XWingHybridWrapper struct{}

func (XWingHybridWrapper) Algorithm() wire.WrapperAlgorithm { return wire.WrapperXWingMLKEM768 }

func (XWingHybridWrapper) Seal(recipientPub, body []byte) ([]byte, error) {
	return crypto.SealCurve25519(recipientPub, body, welcomeLabel+"_XWING")
}

func (XWingHybridWrapper) Open(recipientPriv, sealed []byte) ([]byte, error) {
	return crypto.OpenCurve25519(recipientPriv, sealed, welcomeLabel+"_XWING")
}

func (XWingHybridWrapper) SealMetadata(recipientPub, metadata []byte) ([]byte, error) {
	return crypto.SealCurve25519(recipientPub, metadata, metadataLabel+"_XWING")
}

func (XWingHybridWrapper) OpenMetadata(recipientPriv, sealed []byte) ([]byte, error) {
	return crypto.OpenCurve25519(recipientPriv, sealed, metadataLabel+"_XWING")
}

// Select resolves a wrapper implementation by algorithm tag.
func Select(algo wire.WrapperAlgorithm) (Wrapper, error) {
	switch algo {
	case wire.WrapperCurve25519:
		return Curve25519Wrapper{}, nil
	case wire.WrapperXWingMLKEM768:
		return XWingHybridWrapper{}, nil
	default:
		return nil, fmt.Errorf("welcomewrap: unknown wrapper algorithm %q", algo)
	}
}
