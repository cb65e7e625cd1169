// Package ids derives the stable string identifiers used across the rest of
// this module: inbox ids, installation ids, and group ids. Each id is a
// short ASCII prefix plus a base58 body, after the teacher's
// identity.BuildIdentityID convention; installation ids hash with blake2b,
// inbox and group ids with sha256.
package ids

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	inboxPrefix       = "xmtp1"
	installationPrefix = "inst1"
	groupPrefix       = "grp1"
)

// InboxID is the stable identifier derived from an account's initial
// on-chain identifier and a nonce supplied at inbox creation time
// (internal/identitystore derives that nonce from the seed).
type InboxID string

// InstallationID identifies one device's MLS leaf within an inbox.
type InstallationID string

// GroupID identifies one MLS group (including DM-backed groups).
type GroupID string

// NewInboxID computes sha256(initialIdentifier || nonce) and renders it as
// "xmtp1" + base58(hash), matching spec's inbox id construction.
func NewInboxID(initialIdentifier []byte, nonce []byte) InboxID {
	h := sha256.New()
	h.Write(initialIdentifier)
	h.Write(nonce)
	return InboxID(inboxPrefix + base58.Encode(h.Sum(nil)))
}

// NewInstallationID derives an installation id from an Ed25519 public key,
// the same blake2b+base58 scheme the teacher uses for identity ids.
func NewInstallationID(signingPublicKey []byte) (InstallationID, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("ids: invalid signing public key size %d", len(signingPublicKey))
	}
	sum := blake2b.Sum256(signingPublicKey)
	return InstallationID(installationPrefix + base58.Encode(sum[:])), nil
}

// NewGroupID derives a group id from a caller-chosen seed (sha256, then
// base58) behind a short prefix so group ids are distinguishable from
// inbox/installation ids in logs.
func NewGroupID(seed []byte) GroupID {
	sum := sha256.Sum256(seed)
	return GroupID(groupPrefix + base58.Encode(sum[:]))
}

// VerifyInstallationID reports whether id was derived from signingPublicKey.
func VerifyInstallationID(id InstallationID, signingPublicKey []byte) bool {
	expect, err := NewInstallationID(signingPublicKey)
	if err != nil {
		return false
	}
	return expect == id
}

func (id InboxID) String() string        { return string(id) }
func (id InstallationID) String() string { return string(id) }
func (id GroupID) String() string        { return string(id) }
