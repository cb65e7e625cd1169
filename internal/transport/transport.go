// Package transport defines the external-transport boundary of spec §6: the
// unary and streaming calls the rest of this module needs from whatever
// backend carries envelopes between installations. Grounded on the
// teacher's internal/waku.goWakuBackend interface (Start/Stop/PeerCount/
// SubscribePrivate/PublishPrivate/FetchPrivateSince), generalized from a
// single private-message channel into the full unary/streaming surface this
// spec's association/MLS/intent layers depend on.
package transport

import (
	"context"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// Direction names a paginated query's traversal order.
type Direction string

const (
	DirectionAscending  Direction = "ascending"
	DirectionDescending Direction = "descending"
)

// MaxQueryLimit is the hard ceiling spec §6 places on query_group_messages.
const MaxQueryLimit = 100

// IdentityUpdateRequest names one inbox's identity-log backfill request, per
// spec §6's get_identity_updates({inbox_id, sequence_id_low}).
type IdentityUpdateRequest struct {
	InboxID        ids.InboxID
	SequenceIDLow  uint64
}

// ContractWalletSignatureCheck is one entry in a verify_smart_contract_
// wallet_signatures batch.
type ContractWalletSignatureCheck struct {
	ContractAddress string
	Digest          [32]byte
	Signature       []byte
	BlockNumber     uint64
}

// CommitLogUpload is one row handed to publish_commit_log.
type CommitLogUpload struct {
	GroupID ids.GroupID
	Entry   []byte
}

// GroupMessageFilter names one group's cursor for subscribe_group_messages.
type GroupMessageFilter struct {
	GroupID ids.GroupID
	Cursor  uint64
}

// Transport is the client surface spec §6 requires of the transport layer.
// Concrete adapters (the in-memory mock, the go-waku-backed implementation)
// satisfy it; every other package in this module depends only on this
// interface, never on a concrete backend.
type Transport interface {
	UploadKeyPackage(ctx context.Context, kp xmtptypes.KeyPackage) error
	FetchKeyPackages(ctx context.Context, installationIDs []ids.InstallationID) ([]xmtptypes.KeyPackage, error)

	SendGroupMessages(ctx context.Context, envelopes []xmtptypes.Envelope) error
	SendWelcomeMessages(ctx context.Context, envelopes []xmtptypes.Envelope) error

	QueryGroupMessages(ctx context.Context, groupID ids.GroupID, cursor *uint64, limit int, dir Direction) ([]xmtptypes.Envelope, error)
	QueryWelcomeMessages(ctx context.Context, installationKey ids.InstallationID, cursor *uint64) ([]xmtptypes.Envelope, error)

	PublishIdentityUpdate(ctx context.Context, inboxID ids.InboxID, update []byte) error
	GetIdentityUpdates(ctx context.Context, requests []IdentityUpdateRequest) (map[ids.InboxID][][]byte, error)
	GetInboxIDs(ctx context.Context, identifiers []string) (map[string]ids.InboxID, error)

	VerifySmartContractWalletSignatures(ctx context.Context, batch []ContractWalletSignatureCheck) ([]bool, error)

	PublishCommitLog(ctx context.Context, rows []CommitLogUpload) error
	QueryCommitLog(ctx context.Context, groupID ids.GroupID) ([][]byte, error)

	SubscribeGroupMessages(ctx context.Context, filters []GroupMessageFilter) (<-chan xmtptypes.Envelope, error)
	SubscribeWelcomeMessages(ctx context.Context, installationKeys []ids.InstallationID) (<-chan xmtptypes.Envelope, error)
}

// CallTimeout is the default per-call unary timeout spec §5 requires
// ("transport unary calls carry a per-call timeout").
const CallTimeout = 10 * time.Second

// ArchiveUploadTimeout is the fixed device-sync archive upload timeout spec
// §5 names explicitly.
const ArchiveUploadTimeout = 60 * time.Second
