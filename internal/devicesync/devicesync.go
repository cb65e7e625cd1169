// Package devicesync implements the dedicated sync-group and encrypted
// archive exchange of spec §4.5: a new installation requests a backfill
// from an existing one, exactly one of which replies, and the requester
// restores conversations/consent/HMAC keys from the resulting archive.
// Grounded on the teacher's internal/securestore envelope (argon2id +
// XChaCha20-Poly1305 password-based sealing), generalized here to a
// one-shot random key instead of a password, and on internal/waku's
// randomized-delay patterns for avoiding thundering-herd replies.
package devicesync

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/mls"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// SyncRequest is broadcast into an inbox's sync group by a newly created
// installation, per spec §4.5.
type SyncRequest struct {
	RequestingInstallationID ids.InstallationID
	RequestedAtSequenceID    uint64
}

// SyncReply is published by the installation that won the mutual-exclusion
// race, per spec §4.5.
type SyncReply struct {
	URL string
	Key []byte
	Pin string
}

// MutualExclusionDelay is the upper bound D of the randomized 0–D delay
// each installation waits before checking whether a reply already landed,
// per spec §4.5.
const MutualExclusionDelay = 3 * time.Second

// PickDelay returns a random duration in [0, MutualExclusionDelay), the
// per-installation jitter spec §4.5's mutual-exclusion algorithm requires.
func PickDelay() (time.Duration, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(MutualExclusionDelay)))
	if err != nil {
		return 0, fmt.Errorf("devicesync: pick delay: %w", err)
	}
	return time.Duration(n.Int64()), nil
}

// ReplyObserver checks whether a SyncReply has already landed in the sync
// group for a given request, the check each installation performs after
// its randomized delay before publishing its own reply.
type ReplyObserver interface {
	HasReply(syncGroupID ids.GroupID, requestSeq uint64) (bool, error)
}

// ReplyPublisher publishes this installation's SyncReply into the sync
// group.
type ReplyPublisher interface {
	PublishReply(syncGroupID ids.GroupID, reply SyncReply) error
}

// RespondToRequest implements spec §4.5's mutual-exclusion algorithm:
// sleep a random delay, then check for an existing reply before publishing
// one of its own. Returns whether this installation published the reply.
func RespondToRequest(syncGroupID ids.GroupID, req SyncRequest, observer ReplyObserver, publisher ReplyPublisher, build func() (SyncReply, error), sleep func(time.Duration)) (bool, error) {
	delay, err := PickDelay()
	if err != nil {
		return false, err
	}
	sleep(delay)

	alreadyReplied, err := observer.HasReply(syncGroupID, req.RequestedAtSequenceID)
	if err != nil {
		return false, err
	}
	if alreadyReplied {
		return false, nil
	}

	reply, err := build()
	if err != nil {
		return false, err
	}
	if err := publisher.PublishReply(syncGroupID, reply); err != nil {
		return false, err
	}
	return true, nil
}

// EligibleForWelcome implements spec §4.5's key-rotation gating: a new
// installation may only be welcomed into groups whose consent is Allowed
// or Unknown (never Denied), and only into groups modified at or after the
// new installation's creation time.
func EligibleForWelcome(consent xmtptypes.ConsentState, groupLastModifiedNS, installationCreatedNS int64) bool {
	if consent == xmtptypes.ConsentDenied {
		return false
	}
	return groupLastModifiedNS >= installationCreatedNS
}

// HMACKeyForEpochWindow derives the rotating per-group HMAC key for the
// epoch window containing epoch, via the group's MLS export-secret
// primitive, per spec §4.5.
func HMACKeyForEpochWindow(g *mls.Group, epochWindowSize uint64) []byte {
	window := g.Epoch / epochWindowSize
	label := fmt.Sprintf("xmtp-hmac-window-%d", window)
	return g.ExportSecret(label, 32)
}
