package mls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/association"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/wire"
	"github.com/xmtp-core/libxmtp-go/internal/xmtperrors"
)

// WelcomeWrapper unseals a welcome's encrypted body, abstracting over the
// Curve25519/XWing-MLKEM768 choice of internal/mls/welcomewrap.
type WelcomeWrapper interface {
	Seal(recipientPub, body []byte) ([]byte, error)
	Open(recipientPrivateKey []byte, sealed []byte) ([]byte, error)
	Algorithm() wire.WrapperAlgorithm
}

// WelcomePayload is the decrypted welcome body: enough to reconstruct the
// group the recipient is being admitted into.
type WelcomePayload struct {
	GroupID          ids.GroupID
	ConversationType ConversationType
	Epoch            uint64
	Membership       MembershipExtension
	Installations    []InstallationLeaf
	Metadata         MutableMetadata
	Policy           PermissionsPolicy
	AdminList        []ids.InboxID
	SuperAdminList   []ids.InboxID
	DMID             string
	AddedByInboxID   ids.InboxID
}

// SealWelcome marshals payload and seals it under the recipient's
// advertised HPKE public key, the producer side of ProcessWelcome.
func SealWelcome(wrapper WelcomeWrapper, recipientPub []byte, payload WelcomePayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mls: marshal welcome payload: %w", err)
	}
	return wrapper.Seal(recipientPub, body)
}

// ErrWelcomeDataNotFound mirrors spec §4.2/§8's WelcomeDataNotFound: the
// welcome pointer's referenced group-message hasn't arrived yet.
var ErrWelcomeDataNotFound = xmtperrors.New("GroupError", "WelcomeDataNotFound", xmtperrors.CategoryStorage, "welcome pointer's referenced message has not arrived yet", nil)

// ProcessWelcome implements spec §4.2's process_welcome: unwraps the
// welcome, checks that addedBy is currently associated with the advertised
// inbox via the resolver, and constructs the resulting local Group at the
// welcome's epoch.
func ProcessWelcome(ctx context.Context, wrapper WelcomeWrapper, sealed []byte, recipientHPKEPriv []byte, resolver *association.Resolver, ownInstallation ids.InstallationID, welcomeID string, nowNS int64) (*Group, error) {
	body, err := wrapper.Open(recipientHPKEPriv, sealed)
	if err != nil {
		return nil, fmt.Errorf("mls: open welcome: %w", err)
	}
	var payload WelcomePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("mls: unmarshal welcome payload: %w", err)
	}

	if resolver != nil {
		state, err := resolver.Resolve(ctx, payload.AddedByInboxID, 0)
		if err != nil {
			return nil, fmt.Errorf("mls: resolve adder association state: %w", err)
		}
		if _, ok := state.Members[string(payload.AddedByInboxID)]; !ok {
			return nil, xmtperrors.New("GroupError", "AddedByNotAssociated", xmtperrors.CategoryValidation,
				fmt.Sprintf("adder %s is not currently associated with the advertised inbox", payload.AddedByInboxID), nil)
		}
	}

	g := &Group{
		GroupID:          payload.GroupID,
		ConversationType: payload.ConversationType,
		Epoch:            payload.Epoch,
		Membership:       payload.Membership.clone(),
		Installations:    payload.Installations,
		Metadata:         payload.Metadata,
		Policy:           payload.Policy,
		AdminList:        payload.AdminList,
		SuperAdminList:   payload.SuperAdminList,
		DMID:             payload.DMID,
		WelcomeID:        welcomeID,
		OwnLeaf:          ownInstallation,
		CreatedAtNS:      nowNS,
		LastMessageNS:    nowNS,
		State:            StateActive,
	}
	return g, nil
}

// WelcomePointer is a reference to a not-yet-visible group-message carrying
// the actual welcome ciphertext, per spec §4.2's welcome reliability
// section.
type WelcomePointer struct {
	WelcomeID     string
	GroupID       ids.GroupID
	SymmetricKey  []byte
	Nonce         []byte
	FirstSeenAt   time.Time
	Attempts      int
}

const (
	welcomePointerInitialBackoff = 5 * time.Minute
	welcomePointerMaxBackoff     = 2 * time.Hour
	welcomePointerMaxAttempts    = 100
	welcomePointerExpiry         = 72 * time.Hour
)

// NextRetry computes when a pending welcome pointer should next be
// reconsidered, per spec §4.2: exponential backoff from 5 minutes, capped
// at 2 hours, abandoned after 100 attempts or 3 days since first seen.
func (p *WelcomePointer) NextRetry(now time.Time) (time.Time, bool) {
	if p.Attempts >= welcomePointerMaxAttempts {
		return time.Time{}, false
	}
	if now.Sub(p.FirstSeenAt) > welcomePointerExpiry {
		return time.Time{}, false
	}
	delay := welcomePointerInitialBackoff << p.Attempts
	if delay <= 0 || delay > welcomePointerMaxBackoff {
		delay = welcomePointerMaxBackoff
	}
	return now.Add(delay), true
}
