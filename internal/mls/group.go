// Package mls implements the group engine described in spec §3/§4.2:
// group creation, welcome processing, commit application/validation, and
// epoch progression. Grounded directly on mlsgit's internal/mls/group.go
// (GenerateMLSKeys/Create/AddMember/RemoveMember/ApplyCommit/advanceEpoch)
// and epoch.go (ExportEpochSecret), generalized from mlsgit's single
// Ed25519+HKDF "MLS-like" repo-group to the multi-conversation-type,
// membership-extension-bearing group this module needs, and wired to the
// association resolver for membership-diff validation instead of trusting
// the committer.
package mls

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/xmtp-core/libxmtp-go/internal/crypto"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

// ConversationType mirrors spec §3's group conversation_type field.
type ConversationType string

const (
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeDM      ConversationType = "dm"
	ConversationTypeSync    ConversationType = "sync"
	ConversationTypeOneshot ConversationType = "oneshot"
)

// Permission names a per-action policy value, per spec §3's permissions_policy.
type Permission string

const (
	PermissionAllowAll            Permission = "allow_all"
	PermissionAdminOnly           Permission = "admin_only"
	PermissionSuperAdminOnly      Permission = "super_admin_only"
	PermissionAllowIfActorCreator Permission = "allow_if_actor_creator"
)

// Action names a mutating group operation a PermissionsPolicy gates.
type Action string

const (
	ActionAddMember      Action = "add_member"
	ActionRemoveMember   Action = "remove_member"
	ActionUpdateMetadata Action = "update_metadata"
	ActionUpdateAdmins   Action = "update_admins"
	ActionSendMessage    Action = "send_message"
)

// PermissionsPolicy maps each Action to the Permission gating it.
type PermissionsPolicy map[Action]Permission

// DefaultPolicy lets any actor add members and send messages, limits member
// removal and metadata updates to admins and super admins, and limits admin
// list updates to super admins. It is an explicit map so callers can
// override it per action.
func DefaultPolicy() PermissionsPolicy {
	return PermissionsPolicy{
		ActionAddMember:      PermissionAllowAll,
		ActionRemoveMember:   PermissionAdminOnly,
		ActionUpdateMetadata: PermissionAdminOnly,
		ActionUpdateAdmins:   PermissionSuperAdminOnly,
		ActionSendMessage:    PermissionAllowAll,
	}
}

// DMPolicy is the fixed policy spec §3 requires for DM groups: only the two
// members may send, and no admin concept applies.
func DMPolicy() PermissionsPolicy {
	return PermissionsPolicy{
		ActionAddMember:      PermissionSuperAdminOnly,
		ActionRemoveMember:   PermissionSuperAdminOnly,
		ActionUpdateMetadata: PermissionAllowAll,
		ActionSendMessage:    PermissionAllowAll,
	}
}

// MutableMetadata is the group's editable display metadata.
type MutableMetadata struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	ImageURL     string            `json:"image_url"`
	PinnedFrame  string            `json:"pinned_frame"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// MembershipExtension is the group-context extension carrying the
// inbox_id → last_sequence_id map plus installations that failed to join.
type MembershipExtension struct {
	InboxSequence       map[string]uint64 `json:"inbox_sequence"`
	FailedInstallations []string          `json:"failed_installations,omitempty"`
}

func newMembershipExtension() MembershipExtension {
	return MembershipExtension{InboxSequence: make(map[string]uint64)}
}

// clone deep-copies the extension so commit staging never mutates the
// persisted group in place before a commit is confirmed applied.
func (m MembershipExtension) clone() MembershipExtension {
	out := MembershipExtension{InboxSequence: make(map[string]uint64, len(m.InboxSequence))}
	for k, v := range m.InboxSequence {
		out.InboxSequence[k] = v
	}
	out.FailedInstallations = append([]string(nil), m.FailedInstallations...)
	return out
}

// State is the per-group lifecycle state machine of spec §4.2.
type State string

const (
	StateAllowed  State = "allowed"
	StateRejected State = "rejected"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateInactive State = "inactive"
)

// InstallationLeaf is one MLS leaf: an installation's signing and
// encryption (HPKE) key material, mirroring mlsgit's memberEntry but keyed
// by installation id instead of array index so removes don't shift leaves.
type InstallationLeaf struct {
	InstallationID ids.InstallationID `json:"installation_id"`
	InboxID        ids.InboxID        `json:"inbox_id"`
	SigningKey     []byte             `json:"signing_key"`
	HPKEPublicKey  []byte             `json:"hpke_public_key"`
	Active         bool               `json:"active"`
}

// Group is the in-memory/persisted MLS group state this engine manages.
type Group struct {
	GroupID          ids.GroupID          `json:"group_id"`
	ConversationType ConversationType     `json:"conversation_type"`
	Epoch            uint64               `json:"epoch"`
	Membership       MembershipExtension  `json:"membership_extension"`
	Metadata         MutableMetadata      `json:"mutable_metadata"`
	Policy           PermissionsPolicy    `json:"permissions_policy"`
	AdminList        []ids.InboxID        `json:"admin_list"`
	SuperAdminList   []ids.InboxID        `json:"super_admin_list"`
	DMID             string               `json:"dm_id,omitempty"`
	WelcomeID        string               `json:"welcome_id,omitempty"`
	CreatedAtNS      int64                `json:"created_at_ns"`
	LastMessageNS    int64                `json:"last_message_ns"`
	State            State                `json:"state"`

	Installations []InstallationLeaf `json:"installations"`
	EpochSecret   []byte             `json:"epoch_secret"`
	OwnLeaf       ids.InstallationID `json:"own_leaf"`
	CreatorInbox  ids.InboxID        `json:"creator_inbox"`
}

// Create seeds a fresh group at epoch 0, admitting the creating installation
// plus otherCreatorInstallations (the creator inbox's remaining
// installations, per spec §4.2's "create(creator_inbox, ...)" — a creator may
// already have more than one installation registered against its
// association state), mirroring mlsgit's Create but generating a random
// epoch secret per the same pattern and seeding the membership extension
// with the creator's inbox/sequence instead of a bare member list. It
// returns one WelcomePayload per entry in otherCreatorInstallations, in the
// same order, for the caller to seal (internal/mls/welcomewrap) and deliver —
// spec §4.2: "produces welcome for each non-creator installation".
func Create(groupID ids.GroupID, convType ConversationType, creator InstallationLeaf, otherCreatorInstallations []InstallationLeaf, creatorSeq uint64, metadata MutableMetadata, policy PermissionsPolicy, nowNS int64) (*Group, []WelcomePayload, error) {
	epochSecret := make([]byte, 32)
	if _, err := rand.Read(epochSecret); err != nil {
		return nil, nil, fmt.Errorf("mls: generate epoch secret: %w", err)
	}
	creator.Active = true

	installations := make([]InstallationLeaf, 0, 1+len(otherCreatorInstallations))
	installations = append(installations, creator)
	for _, leaf := range otherCreatorInstallations {
		leaf.Active = true
		installations = append(installations, leaf)
	}

	membership := newMembershipExtension()
	membership.InboxSequence[string(creator.InboxID)] = creatorSeq

	if policy == nil {
		if convType == ConversationTypeDM {
			policy = DMPolicy()
		} else {
			policy = DefaultPolicy()
		}
	}

	g := &Group{
		GroupID:          groupID,
		ConversationType: convType,
		Epoch:            0,
		Membership:       membership,
		Metadata:         metadata,
		Policy:           policy,
		Installations:    installations,
		EpochSecret:      epochSecret,
		OwnLeaf:          creator.InstallationID,
		CreatorInbox:     creator.InboxID,
		CreatedAtNS:      nowNS,
		LastMessageNS:    nowNS,
		State:            StateActive,
	}
	if convType == ConversationTypeDM {
		g.AdminList = nil
		g.SuperAdminList = nil
	} else {
		g.AdminList = []ids.InboxID{creator.InboxID}
		g.SuperAdminList = []ids.InboxID{creator.InboxID}
	}

	welcomes := make([]WelcomePayload, 0, len(otherCreatorInstallations))
	for range otherCreatorInstallations {
		welcomes = append(welcomes, g.welcomePayload(creator.InboxID))
	}
	return g, welcomes, nil
}

// welcomePayload snapshots the group's current state into a WelcomePayload
// addressed from addedBy, the shape every non-creator installation's welcome
// carries regardless of whether it was produced by Create or a later
// add-member commit.
func (g *Group) welcomePayload(addedBy ids.InboxID) WelcomePayload {
	return WelcomePayload{
		GroupID:          g.GroupID,
		ConversationType: g.ConversationType,
		Epoch:            g.Epoch,
		Membership:       g.Membership.clone(),
		Installations:    append([]InstallationLeaf(nil), g.Installations...),
		Metadata:         g.Metadata,
		Policy:           g.Policy,
		AdminList:        append([]ids.InboxID(nil), g.AdminList...),
		SuperAdminList:   append([]ids.InboxID(nil), g.SuperAdminList...),
		DMID:             g.DMID,
		AddedByInboxID:   addedBy,
	}
}

// DMGroupID computes the canonical dm_id per spec §3: "min(a,b)+':'+max(a,b)".
func DMGroupID(a, b ids.InboxID) string {
	if a < b {
		return string(a) + ":" + string(b)
	}
	return string(b) + ":" + string(a)
}

// activeInstallation finds the active leaf with the given id, or nil.
func (g *Group) activeInstallation(id ids.InstallationID) *InstallationLeaf {
	for i := range g.Installations {
		if g.Installations[i].InstallationID == id && g.Installations[i].Active {
			return &g.Installations[i]
		}
	}
	return nil
}

// InstallationIDs returns the ids of all active leaves.
func (g *Group) InstallationIDs() []ids.InstallationID {
	out := make([]ids.InstallationID, 0, len(g.Installations))
	for _, leaf := range g.Installations {
		if leaf.Active {
			out = append(out, leaf.InstallationID)
		}
	}
	return out
}

// advanceEpoch derives the next epoch secret via HKDF over the current
// secret salted with the big-endian epoch counter, the same construction
// as mlsgit's advanceEpoch.
func (g *Group) advanceEpoch() error {
	epochBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(epochBytes, g.Epoch)
	r := hkdf.New(sha256.New, g.EpochSecret, epochBytes, []byte("xmtp-mls-epoch-advance"))
	newSecret := make([]byte, 32)
	if _, err := io.ReadFull(r, newSecret); err != nil {
		return fmt.Errorf("mls: advance epoch: %w", err)
	}
	g.EpochSecret = newSecret
	g.Epoch++
	return nil
}

// ExportSecret derives an application secret from the current epoch secret,
// the same HKDF-export construction as mlsgit's ExportEpochSecret but
// parameterized by purpose/length so the HMAC-key and archive-key paths can
// both use it.
func (g *Group) ExportSecret(label string, length int) []byte {
	info := []byte(label)
	r := hkdf.New(sha256.New, g.EpochSecret, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("mls: export secret: %v", err))
	}
	return out
}

// StateFingerprint hashes the group's currently applied membership/metadata
// state — deliberately excluding EpochSecret, which advances the same way
// regardless of a commit's content, so it can't distinguish two
// installations that reached the same epoch via divergent commit histories.
// Two installations whose commit logs share a prefix and then fork will
// compute matching fingerprints up to the fork point and non-matching ones
// after it, which is what spec §8's commit-log replay fork-detection
// scenario checks for.
func (g *Group) StateFingerprint() string {
	type fingerprintView struct {
		Epoch          uint64
		Membership     MembershipExtension
		Installations  []InstallationLeaf
		Metadata       MutableMetadata
		AdminList      []ids.InboxID
		SuperAdminList []ids.InboxID
	}
	data, err := json.Marshal(fingerprintView{
		Epoch:          g.Epoch,
		Membership:     g.Membership,
		Installations:  g.Installations,
		Metadata:       g.Metadata,
		AdminList:      g.AdminList,
		SuperAdminList: g.SuperAdminList,
	})
	if err != nil {
		panic(fmt.Sprintf("mls: compute state fingerprint: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Marshal serializes the group's full state.
func (g *Group) Marshal() ([]byte, error) {
	return json.Marshal(g)
}

// Unmarshal restores a group from its serialized state.
func Unmarshal(data []byte) (*Group, error) {
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("mls: unmarshal group: %w", err)
	}
	return &g, nil
}

// GenerateInstallationKeys produces a fresh Ed25519 signing keypair and an
// X25519 HPKE keypair for a new installation, mirroring mlsgit's
// GenerateMLSKeys split into signing and encryption material.
func GenerateInstallationKeys() (signingPub, signingPriv, hpkePub, hpkePriv []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("mls: generate signing key: %w", err)
	}
	hpkePriv = make([]byte, 32)
	if _, err := rand.Read(hpkePriv); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("mls: generate hpke key: %w", err)
	}
	hpkePub, err = crypto.X25519PublicFromSeed(hpkePriv)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("mls: derive hpke public key: %w", err)
	}
	return pub, priv, hpkePub, hpkePriv, nil
}
