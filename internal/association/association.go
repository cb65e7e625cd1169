// Package association implements the identity-update replay described in
// spec §3/§4.1: derives and caches the current member set of an inbox by
// applying a signed, ordered sequence of add/revoke/recover actions.
// Grounded on the teacher's identity package's signature-over-domain-
// separated-preamble pattern (internal/identity/manager.go, now retired)
// generalized from a single revocable Ed25519 identity to a multi-signer
// association graph.
package association

import (
	"fmt"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

// SignatureKind enumerates the signer types an IdentityUpdate may carry.
type SignatureKind string

const (
	SignatureECDSA   SignatureKind = "ecdsa"
	SignatureERC1271 SignatureKind = "erc1271"
	SignatureED25519 SignatureKind = "ed25519"
	SignaturePasskey SignatureKind = "passkey"
)

// Signature is one signer's attestation over an IdentityUpdate. PublicKey
// holds the raw verifying key (ECDSA/Ed25519/Passkey) or the smart-contract
// wallet address (ERC1271, as its 20-byte form).
type Signature struct {
	Kind      SignatureKind
	PublicKey []byte
	Bytes     []byte
	ClientTS  int64
}

// Member is one entry in the materialized association state.
type Member struct {
	Identifier string
	AddedBy    string
	ClientTS   int64
}

// AssociationState is the materialized view of an inbox at a given sequence
// id: its member set and designated recovery identifier.
type AssociationState struct {
	InboxID            ids.InboxID
	Members            map[string]Member
	RecoveryIdentifier string
	LastAppliedSeq     uint64
}

// clone returns a deep copy so callers (and the cache) never alias mutable
// member maps across resolve calls.
func (s *AssociationState) clone() *AssociationState {
	out := &AssociationState{
		InboxID:            s.InboxID,
		RecoveryIdentifier: s.RecoveryIdentifier,
		LastAppliedSeq:     s.LastAppliedSeq,
		Members:            make(map[string]Member, len(s.Members)),
	}
	for k, v := range s.Members {
		out.Members[k] = v
	}
	return out
}

func emptyState(inbox ids.InboxID) *AssociationState {
	return &AssociationState{InboxID: inbox, Members: make(map[string]Member)}
}

// UpdateKind enumerates the identity-update action types, per spec §3.
type UpdateKind string

const (
	UpdateCreateInbox           UpdateKind = "CreateInbox"
	UpdateAddAssociation        UpdateKind = "AddAssociation"
	UpdateRevokeAssociation     UpdateKind = "RevokeAssociation"
	UpdateChangeRecoveryAddress UpdateKind = "ChangeRecoveryAddress"
)

// IdentityUpdate is one signed delta in an inbox's association graph.
type IdentityUpdate struct {
	SequenceID uint64
	InboxID    ids.InboxID
	Kind       UpdateKind
	Identifier string // subject of Add/Revoke, or the new recovery identifier
	ClientTS   int64
	Signatures []Signature
}

// Diff reports the set difference between two association states by member
// identifier, per spec §4.1's diff(old, new) operation.
func Diff(oldState, newState *AssociationState) (added, removed []string) {
	for id := range newState.Members {
		if _, ok := oldState.Members[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range oldState.Members {
		if _, ok := newState.Members[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func fmtDomainPreamble(inbox ids.InboxID, update UpdateKind, identifier string, clientTS int64) []byte {
	return []byte(fmt.Sprintf("XMTP_IDENTITY_UPDATE\ninbox:%s\nkind:%s\nidentifier:%s\nclient_ts:%d", inbox, update, identifier, clientTS))
}
