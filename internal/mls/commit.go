package mls

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xmtp-core/libxmtp-go/internal/association"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/xmtperrors"
)

// CommitResult is the outcome recorded in a LocalCommitLog row, per spec §3.
type CommitResult string

const (
	CommitSuccess   CommitResult = "success"
	CommitWrongEpoch CommitResult = "wrong_epoch"
	CommitInvalid   CommitResult = "invalid"
	CommitUnknown   CommitResult = "unknown"
)

// CommitLogEntry is one row of the per-group audit list spec §3 describes.
type CommitLogEntry struct {
	SequenceID         uint64
	CommitType         string
	CommitResult       CommitResult
	AppliedEpoch       uint64
	SenderInboxID      ids.InboxID
	SenderInstallation ids.InstallationID

	// AppliedEpochAuthenticator is Group.StateFingerprint() taken right
	// after this commit was applied, set only on CommitSuccess rows — the
	// supplemented commit-log-fork-detection feature (SPEC_FULL §4):
	// replaying two installations' logs side by side and comparing this
	// field at each sequence id finds the exact row where their histories
	// diverged.
	AppliedEpochAuthenticator string `json:"applied_epoch_authenticator,omitempty"`
}

// CommitPayload is the decrypted, parsed form of a commit envelope: the
// proposed membership delta plus the action it represents, mirroring
// mlsgit's groupState diff but carrying adds/removes explicitly instead of
// inferring them from array membership.
type CommitPayload struct {
	Epoch                   uint64
	NewMembershipExtension  MembershipExtension
	AddedInstallations      []InstallationLeaf
	RemovedInstallations    []ids.InstallationID
	ActorInboxID            ids.InboxID
	ActorInstallationID     ids.InstallationID
	Action                  Action
	NewMetadata             *MutableMetadata
}

// errCommit renders a spec §6-shaped "GroupError::..." coded error.
func errCommit(variant, message string, cause error) *xmtperrors.CodedError {
	return xmtperrors.New("GroupError", variant, xmtperrors.CategoryValidation, message, cause)
}

// ApplyRemoteCommit runs the seven-step commit-application algorithm of
// spec §4.2 against an already-decrypted CommitPayload (decryption itself
// is the MLS library's job, out of this engine's scope per spec §1's
// non-goals).
func ApplyRemoteCommit(ctx context.Context, g *Group, payload CommitPayload, resolver *association.Resolver, seqID uint64) (CommitLogEntry, error) {
	entry := CommitLogEntry{
		SequenceID:         seqID,
		CommitType:         string(payload.Action),
		SenderInboxID:      payload.ActorInboxID,
		SenderInstallation: payload.ActorInstallationID,
	}

	if payload.Epoch != g.Epoch {
		entry.CommitResult = CommitWrongEpoch
		entry.AppliedEpoch = g.Epoch
		return entry, nil
	}

	expectedAdds, expectedRemoves, err := expectedInstallationDiff(ctx, g, payload, resolver)
	if err != nil {
		entry.CommitResult = CommitInvalid
		return entry, errCommit("MembershipMismatch", "failed to compute expected membership diff", err)
	}
	if !installationSetsEqual(payload.AddedInstallations, expectedAdds) || !idSetsEqual(payload.RemovedInstallations, expectedRemoves) {
		entry.CommitResult = CommitInvalid
		return entry, errCommit("MembershipMismatch", "commit's add/remove set does not match the association-derived diff", nil)
	}

	if !g.permits(payload.ActorInboxID, payload.Action) {
		entry.CommitResult = CommitInvalid
		return entry, errCommit("PermissionDenied", fmt.Sprintf("actor %s is not permitted to perform %s", payload.ActorInboxID, payload.Action), nil)
	}

	applyMembershipDelta(g, payload)
	if payload.NewMetadata != nil {
		g.Metadata = *payload.NewMetadata
	}
	if err := g.advanceEpoch(); err != nil {
		entry.CommitResult = CommitInvalid
		return entry, errCommit("EpochAdvanceFailed", "failed to advance epoch", err)
	}

	entry.CommitResult = CommitSuccess
	entry.AppliedEpoch = g.Epoch
	entry.AppliedEpochAuthenticator = g.StateFingerprint()
	return entry, nil
}

// expectedInstallationDiff computes the adds and removes a commit is expected
// to carry. It resolves association state for each {inbox_id, sequence_id}
// in the new extension and fails if a resolve fails, but it does not read
// installations from that state: an add is expected when its inbox is in
// the new extension and the installation is not already active, and a
// remove is expected for every active installation whose inbox is absent
// from the new extension.
func expectedInstallationDiff(ctx context.Context, g *Group, payload CommitPayload, resolver *association.Resolver) ([]InstallationLeaf, []ids.InstallationID, error) {
	currentIDs := make(map[ids.InstallationID]bool)
	for _, leaf := range g.Installations {
		if leaf.Active {
			currentIDs[leaf.InstallationID] = true
		}
	}

	expectedInboxes := make(map[ids.InboxID]bool)
	for inboxStr, seq := range payload.NewMembershipExtension.InboxSequence {
		inbox := ids.InboxID(inboxStr)
		if resolver != nil {
			if _, err := resolver.Resolve(ctx, inbox, seq); err != nil {
				return nil, nil, fmt.Errorf("resolve association state for %s@%d: %w", inbox, seq, err)
			}
		}
		expectedInboxes[inbox] = true
	}

	adds := make([]InstallationLeaf, 0)
	for _, leaf := range payload.AddedInstallations {
		if !currentIDs[leaf.InstallationID] && expectedInboxes[leaf.InboxID] {
			adds = append(adds, leaf)
		}
	}

	removes := make([]ids.InstallationID, 0)
	for _, leaf := range g.Installations {
		if leaf.Active && !expectedInboxes[leaf.InboxID] {
			removes = append(removes, leaf.InstallationID)
		}
	}
	return adds, removes, nil
}

func applyMembershipDelta(g *Group, payload CommitPayload) {
	removeSet := make(map[ids.InstallationID]bool, len(payload.RemovedInstallations))
	for _, id := range payload.RemovedInstallations {
		removeSet[id] = true
	}
	for i := range g.Installations {
		if removeSet[g.Installations[i].InstallationID] {
			g.Installations[i].Active = false
		}
	}
	g.Installations = append(g.Installations, payload.AddedInstallations...)
	g.Membership = payload.NewMembershipExtension.clone()
}

// permits checks actorInbox against g.Policy for action, per spec §4.2 step 5.
func (g *Group) permits(actorInbox ids.InboxID, action Action) bool {
	policy, ok := g.Policy[action]
	if !ok {
		policy = PermissionAllowAll
	}
	switch policy {
	case PermissionAllowAll:
		return true
	case PermissionAllowIfActorCreator:
		return actorInbox == g.CreatorInbox
	case PermissionAdminOnly:
		return containsInbox(g.AdminList, actorInbox) || containsInbox(g.SuperAdminList, actorInbox)
	case PermissionSuperAdminOnly:
		return containsInbox(g.SuperAdminList, actorInbox)
	default:
		return false
	}
}

func containsInbox(list []ids.InboxID, id ids.InboxID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func installationSetsEqual(a, b []InstallationLeaf) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[ids.InstallationID]bool, len(a))
	for _, leaf := range a {
		seen[leaf.InstallationID] = true
	}
	for _, leaf := range b {
		if !seen[leaf.InstallationID] {
			return false
		}
	}
	return true
}

func idSetsEqual(a, b []ids.InstallationID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[ids.InstallationID]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			return false
		}
	}
	return true
}

// MarshalCommitPayload/UnmarshalCommitPayload let the intent pipeline and
// stream processor pass staged commits through storage as opaque bytes.
func MarshalCommitPayload(p CommitPayload) ([]byte, error) { return json.Marshal(p) }

func UnmarshalCommitPayload(data []byte) (CommitPayload, error) {
	var p CommitPayload
	err := json.Unmarshal(data, &p)
	return p, err
}

// IntentPayload is the kind-specific request data an Intent carries from
// enqueue time through to staging (internal/intent.Intent.Payload), decoded
// by whatever Stager adapts this engine to the intent pipeline. MessageContent
// is used for ActionSendMessage; the membership/metadata fields are used for
// every other action spec §3's intent kinds name.
type IntentPayload struct {
	MessageContent         []byte                 `json:"message_content,omitempty"`
	NewMembershipExtension MembershipExtension    `json:"new_membership_extension,omitempty"`
	AddedInstallations     []InstallationLeaf     `json:"added_installations,omitempty"`
	RemovedInstallations   []ids.InstallationID   `json:"removed_installations,omitempty"`
	NewMetadata            *MutableMetadata       `json:"new_metadata,omitempty"`
}

// MarshalIntentPayload/UnmarshalIntentPayload let callers store an
// IntentPayload as the opaque bytes internal/intent.Intent.Payload carries.
func MarshalIntentPayload(p IntentPayload) ([]byte, error) { return json.Marshal(p) }

func UnmarshalIntentPayload(data []byte) (IntentPayload, error) {
	var p IntentPayload
	err := json.Unmarshal(data, &p)
	return p, err
}

// StageRequest is the resolved form of a pending Intent: everything
// StageCommit needs to build the bytes to publish, after the caller has
// decoded the intent's Kind/Payload into concrete actor and delta fields.
type StageRequest struct {
	Action              Action
	ActorInboxID        ids.InboxID
	ActorInstallationID ids.InstallationID
	Payload             IntentPayload
}

// StageCommit implements spec §4.2's stage_commit(intent) → (commit_bytes,
// welcome?, post_commit): it builds the bytes the intent pipeline will
// publish for a pending local mutation, without mutating g. Applying the
// resulting commit — and any epoch advance — happens later, in
// ApplyRemoteCommit, once the stream processor observes it published and
// confirmed, the same crash-safety split spec §4.3 describes between staging
// and applying. ActionSendMessage has no membership delta and never advances
// the epoch, so it returns the message bytes verbatim with no welcomes.
func (g *Group) StageCommit(req StageRequest) (payload []byte, welcomes []WelcomePayload, postCommitAction string, err error) {
	if !g.permits(req.ActorInboxID, req.Action) {
		return nil, nil, "", errCommit("PermissionDenied", fmt.Sprintf("actor %s is not permitted to perform %s", req.ActorInboxID, req.Action), nil)
	}

	if req.Action == ActionSendMessage {
		return req.Payload.MessageContent, nil, "", nil
	}

	commitPayload := CommitPayload{
		Epoch:                  g.Epoch,
		NewMembershipExtension: req.Payload.NewMembershipExtension,
		AddedInstallations:     req.Payload.AddedInstallations,
		RemovedInstallations:   req.Payload.RemovedInstallations,
		ActorInboxID:           req.ActorInboxID,
		ActorInstallationID:    req.ActorInstallationID,
		Action:                 req.Action,
		NewMetadata:            req.Payload.NewMetadata,
	}
	payload, err = MarshalCommitPayload(commitPayload)
	if err != nil {
		return nil, nil, "", fmt.Errorf("mls: marshal staged commit: %w", err)
	}

	welcomes = make([]WelcomePayload, 0, len(req.Payload.AddedInstallations))
	for range req.Payload.AddedInstallations {
		welcomes = append(welcomes, g.welcomePayload(req.ActorInboxID))
	}

	return payload, welcomes, string(req.Action), nil
}

// IntentPublisher is the subset of internal/intent.Publisher's behavior Sync
// needs. Declared as an interface here, rather than importing
// internal/intent directly, because internal/intent already imports
// internal/grouprepo which imports this package — importing internal/intent
// back would be a cycle.
type IntentPublisher interface {
	Kick(groupID ids.GroupID)
}

// MessagePuller is the subset of internal/stream.Processor's behavior Sync
// needs, declared locally for the same reason as IntentPublisher.
type MessagePuller interface {
	PullAndApply(ctx context.Context, entityID string) (applied int, err error)
}

// SyncSummary reports what Sync did, per spec §4.2's sync() → SyncSummary.
type SyncSummary struct {
	IntentsKicked   bool
	MessagesApplied int
}

// Sync implements spec §4.2's sync(): publishes any pending intents for the
// group, then pulls and applies any new messages, in that order so a
// just-kicked commit is on its way out before this installation asks the
// transport for anything newer than what it already has.
func Sync(ctx context.Context, groupID ids.GroupID, publisher IntentPublisher, puller MessagePuller) (SyncSummary, error) {
	publisher.Kick(groupID)
	applied, err := puller.PullAndApply(ctx, string(groupID))
	if err != nil {
		return SyncSummary{IntentsKicked: true}, err
	}
	return SyncSummary{IntentsKicked: true, MessagesApplied: applied}, nil
}
