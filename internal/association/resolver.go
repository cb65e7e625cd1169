package association

import (
	"context"
	"fmt"
	"sort"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	"github.com/xmtp-core/libxmtp-go/internal/xmtperrors"
)

// UpdateSource fetches identity updates for an inbox starting after
// afterSeq (exclusive), matching the transport's get_identity_updates call.
type UpdateSource interface {
	GetIdentityUpdates(ctx context.Context, inbox ids.InboxID, afterSeq uint64) ([]IdentityUpdate, error)
}

// Resolver replays identity updates to derive the current member set of an
// inbox, caching materialized states additively (spec §4.1: "a cache row
// for sequence N remains valid forever; resolving for M>N always extends
// it").
type Resolver struct {
	source UpdateSource
	cache  *kv.Store
	verify *SignatureVerifier
}

// NewResolver constructs a Resolver. cache may be a shared internal/kv
// store; keys are namespaced under "association/<inbox_id>".
func NewResolver(source UpdateSource, cache *kv.Store, verify *SignatureVerifier) *Resolver {
	return &Resolver{source: source, cache: cache, verify: verify}
}

func cacheKey(inbox ids.InboxID) string {
	return "association/" + string(inbox)
}

// errBadSignature builds spec §6's "AssociationError::BadSignature".
func errBadSignature(seq uint64, cause error) *xmtperrors.CodedError {
	return xmtperrors.New("AssociationError", "BadSignature", xmtperrors.CategoryValidation,
		fmt.Sprintf("identity update %d failed signature verification", seq), cause)
}

// Resolve loads the cached state at or below toSequenceID (0 meaning "no
// cap"), fetches any remaining updates from the source, applies them in
// order, and writes back the extended cache row.
func (r *Resolver) Resolve(ctx context.Context, inbox ids.InboxID, toSequenceID uint64) (*AssociationState, error) {
	state, err := r.loadCached(inbox)
	if err != nil {
		return nil, err
	}
	// The cache holds one row per inbox; a row past the cap cannot be
	// rewound, so replay from empty and leave that row untouched.
	capped := toSequenceID != 0 && state.LastAppliedSeq > toSequenceID
	if capped {
		state = emptyState(inbox)
	}

	updates, err := r.source.GetIdentityUpdates(ctx, inbox, state.LastAppliedSeq)
	if err != nil {
		return nil, fmt.Errorf("association: fetch identity updates: %w", err)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].SequenceID < updates[j].SequenceID })

	for i := range updates {
		u := &updates[i]
		if toSequenceID != 0 && u.SequenceID > toSequenceID {
			break
		}
		if u.SequenceID <= state.LastAppliedSeq {
			continue
		}
		if err := r.applyUpdate(ctx, state, u); err != nil {
			return nil, err
		}
		state.LastAppliedSeq = u.SequenceID
	}

	if !capped {
		if err := r.storeCached(inbox, state); err != nil {
			return nil, err
		}
	}
	return state.clone(), nil
}

// ResolveRequest identifies one batch_resolve request.
type ResolveRequest struct {
	InboxID      ids.InboxID
	ToSequenceID uint64
}

// BatchResolve resolves a list of (inbox_id, to_sequence_id) requests,
// deduplicating identical requests, per spec §4.1.
func (r *Resolver) BatchResolve(ctx context.Context, requests []ResolveRequest) ([]*AssociationState, error) {
	results := make(map[ResolveRequest]*AssociationState, len(requests))
	out := make([]*AssociationState, len(requests))

	for i, req := range requests {
		if cached, ok := results[req]; ok {
			out[i] = cached
			continue
		}
		state, err := r.Resolve(ctx, req.InboxID, req.ToSequenceID)
		if err != nil {
			return nil, err
		}
		results[req] = state
		out[i] = state
	}
	return out, nil
}

// applyUpdate verifies every signature in u against state as of u's
// predecessor, then applies the mutation, per spec §4.1's per-update
// algorithm.
func (r *Resolver) applyUpdate(ctx context.Context, state *AssociationState, u *IdentityUpdate) error {
	if u.Kind == UpdateCreateInbox {
		if len(state.Members) != 0 || state.LastAppliedSeq != 0 {
			return errBadSignature(u.SequenceID, fmt.Errorf("CreateInbox must be the first update"))
		}
		state.Members[u.Identifier] = Member{Identifier: u.Identifier, AddedBy: u.Identifier, ClientTS: u.ClientTS}
		state.RecoveryIdentifier = u.Identifier
		return nil
	}

	if len(u.Signatures) == 0 {
		return errBadSignature(u.SequenceID, fmt.Errorf("no signatures present"))
	}

	for _, sig := range u.Signatures {
		signer, ok, err := r.signerIdentifier(ctx, u, sig)
		if err != nil {
			return errBadSignature(u.SequenceID, err)
		}
		if !ok {
			return errBadSignature(u.SequenceID, fmt.Errorf("signature did not verify"))
		}
		isRecovery := signer == state.RecoveryIdentifier
		_, isMember := state.Members[signer]
		if !isRecovery && !isMember {
			return errBadSignature(u.SequenceID, fmt.Errorf("signer %q is not a current member or recovery identifier", signer))
		}
		if u.Kind == UpdateRevokeAssociation && !isRecovery {
			return errBadSignature(u.SequenceID, fmt.Errorf("revocation requires the recovery identifier's signature"))
		}
	}

	switch u.Kind {
	case UpdateAddAssociation:
		state.Members[u.Identifier] = Member{Identifier: u.Identifier, AddedBy: u.Signatures[0].Kind.signerHint(u.Signatures[0]), ClientTS: u.ClientTS}
	case UpdateRevokeAssociation:
		delete(state.Members, u.Identifier)
	case UpdateChangeRecoveryAddress:
		state.RecoveryIdentifier = u.Identifier
	default:
		return errBadSignature(u.SequenceID, fmt.Errorf("unknown update kind %q", u.Kind))
	}
	return nil
}

// signerHint renders a stable identifier string for AddedBy bookkeeping.
// Identifier derivation for ECDSA/ERC1271/Passkey signers is transport-
// specific (address/credential id); this module only needs a stable string,
// so it renders the raw key/address as-is.
func (k SignatureKind) signerHint(sig Signature) string {
	return fmt.Sprintf("%s:%x", k, sig.PublicKey)
}

func (r *Resolver) signerIdentifier(ctx context.Context, u *IdentityUpdate, sig Signature) (string, bool, error) {
	ok, err := r.verify.Verify(ctx, u, sig)
	if err != nil || !ok {
		return "", ok, err
	}
	return sig.Kind.signerHint(sig), true, nil
}

func (r *Resolver) loadCached(inbox ids.InboxID) (*AssociationState, error) {
	var stored cachedState
	if err := r.cache.GetJSON(cacheKey(inbox), &stored); err != nil {
		return emptyState(inbox), nil
	}
	return stored.toState(inbox), nil
}

func (r *Resolver) storeCached(inbox ids.InboxID, state *AssociationState) error {
	return r.cache.PutJSON(cacheKey(inbox), fromState(state))
}

// cachedState is the JSON-serializable form of AssociationState (Member map
// keys must be encoded, not relied on as object keys, to keep AddedBy/Identifier
// symmetric across round-trips).
type cachedState struct {
	Members            []Member `json:"members"`
	RecoveryIdentifier string   `json:"recovery_identifier"`
	LastAppliedSeq     uint64   `json:"last_applied_seq"`
}

func fromState(s *AssociationState) cachedState {
	members := make([]Member, 0, len(s.Members))
	for _, m := range s.Members {
		members = append(members, m)
	}
	return cachedState{Members: members, RecoveryIdentifier: s.RecoveryIdentifier, LastAppliedSeq: s.LastAppliedSeq}
}

func (c cachedState) toState(inbox ids.InboxID) *AssociationState {
	s := emptyState(inbox)
	s.RecoveryIdentifier = c.RecoveryIdentifier
	s.LastAppliedSeq = c.LastAppliedSeq
	for _, m := range c.Members {
		s.Members[m.Identifier] = m
	}
	return s
}
