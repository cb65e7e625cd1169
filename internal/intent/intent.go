// Package intent implements the local-mutation queue of spec §3/§4.3: local
// actions stage commits, publish them, and confirm them against the stream
// processor's observed commits, with epoch-bump rewind and bounded retry.
// Whether intents survive a restart depends on the Store a Publisher is
// given; MemStore, the only Store in this package, keeps them in process
// memory. The per-group worker pool is grounded on the teacher's
// internal/waku.Node runtime-monitor goroutine pattern (one supervising
// goroutine per resource, cancelled via context and waited on via
// sync.WaitGroup), generalized from one node-wide monitor to one worker per
// group.
package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

// Kind enumerates the local mutations an Intent can represent, per spec §3.
type Kind string

const (
	KindSendMessage            Kind = "send_message"
	KindKeyUpdate              Kind = "key_update"
	KindUpdateGroupMembership  Kind = "update_group_membership"
	KindMetadataUpdate         Kind = "metadata_update"
	KindUpdateAdminList        Kind = "update_admin_list"
	KindUpdatePermission       Kind = "update_permission"
	KindReaddInstallations     Kind = "readd_installations"
)

// State is the intent lifecycle state, per spec §4.3's state machine.
type State string

const (
	StateToPublish State = "to_publish"
	StatePublished State = "published"
	StateCommitted State = "committed"
	StateError     State = "error"
	StateProcessed State = "processed"
)

// MaxPublishAttempts is the default K after which a stalled intent
// transitions to Error, per spec §4.3.
const MaxPublishAttempts = 5

// Intent is a durable record of a pending local mutation.
type Intent struct {
	ID                string      `json:"id"`
	GroupID           ids.GroupID `json:"group_id"`
	Kind              Kind        `json:"kind"`
	State             State       `json:"state"`
	PayloadHash       string      `json:"payload_hash,omitempty"`
	StagedCommitBytes []byte      `json:"staged_commit_bytes,omitempty"`
	PostCommitAction  string      `json:"post_commit_action,omitempty"`
	PublishAttempts   int         `json:"publish_attempts"`
	GroupEpoch        uint64      `json:"group_epoch"`
	CreatedAtNS       int64       `json:"created_at_ns"`

	// Payload carries the not-yet-staged request data a Stager needs to
	// build staged_commit_bytes (e.g. message content, or a mls.IntentPayload
	// for membership/metadata mutations) — set once at enqueue time and
	// never touched again once MarkStaged has produced the real
	// StagedCommitBytes from it.
	Payload []byte `json:"payload,omitempty"`
}

// New constructs a fresh ToPublish intent with a fresh uuid. Within a group
// the pipeline orders ToPublish intents by CreatedAtNS, not by id, since
// uuid v4 strings do not sort chronologically (spec §4.3's FIFO-by-id read
// as intent insertion order).
func New(groupID ids.GroupID, kind Kind, payload []byte, nowNS int64) *Intent {
	return &Intent{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		Kind:        kind,
		State:       StateToPublish,
		CreatedAtNS: nowNS,
		Payload:     payload,
	}
}

// PayloadHash computes sha256(payload) hex-encoded, per spec §4.3 step 2b.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// CanRetry reports whether the intent may still be re-staged after an
// epoch conflict, per spec §4.3's "K attempts (default 5)" cap.
func (i *Intent) CanRetry() bool {
	return i.PublishAttempts < MaxPublishAttempts
}

// Rewind transitions a Published intent back to ToPublish after an epoch
// conflict, incrementing publish_attempts and clearing the staged commit so
// it will be re-staged fresh at the new epoch, per spec §4.3.
func (i *Intent) Rewind(newEpoch uint64) error {
	if i.State != StatePublished && i.State != StateToPublish {
		return fmt.Errorf("intent: cannot rewind intent %s in state %q", i.ID, i.State)
	}
	i.PublishAttempts++
	i.StagedCommitBytes = nil
	i.PostCommitAction = ""
	i.GroupEpoch = newEpoch
	if !i.CanRetry() {
		i.State = StateError
		return nil
	}
	i.State = StateToPublish
	return nil
}

// MarkStaged transitions ToPublish → Published once a commit has been
// staged and the payload hash computed, per spec §4.3 step 2c.
func (i *Intent) MarkStaged(payloadHash string, stagedCommit []byte, postCommitAction string) error {
	if i.State != StateToPublish {
		return fmt.Errorf("intent: cannot stage intent %s in state %q", i.ID, i.State)
	}
	i.PayloadHash = payloadHash
	i.StagedCommitBytes = stagedCommit
	i.PostCommitAction = postCommitAction
	i.State = StatePublished
	return nil
}

// Confirm transitions Published → Committed when the stream processor
// observes a commit whose payload hash matches, per spec §4.3.
func (i *Intent) Confirm() error {
	if i.State != StatePublished {
		return fmt.Errorf("intent: cannot confirm intent %s in state %q", i.ID, i.State)
	}
	i.State = StateCommitted
	return nil
}
