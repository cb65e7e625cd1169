// Package xmtptypes holds the DTOs shared across packages, the way the
// teacher's pkg/models does for its domains.
package xmtptypes

import "time"

// ConversationType distinguishes the MLS group flavors this repo tracks.
type ConversationType string

const (
	ConversationGroup   ConversationType = "group"
	ConversationDM      ConversationType = "dm"
	ConversationOneshot ConversationType = "oneshot"
)

// ConsentState is the tri-state consent value attached to an entity.
type ConsentState string

const (
	ConsentUnknown ConsentState = "unknown"
	ConsentAllowed ConsentState = "allowed"
	ConsentDenied  ConsentState = "denied"
)

// ConsentEntityType names what a ConsentRecord's Entity field identifies.
type ConsentEntityType string

const (
	ConsentEntityInboxID      ConsentEntityType = "inbox_id"
	ConsentEntityGroupID      ConsentEntityType = "group_id"
	ConsentEntityAddress      ConsentEntityType = "address"
)

// ConsentRecord is the (entity_type, entity, state) tuple mirrored between
// installations via the device-sync group.
type ConsentRecord struct {
	EntityType ConsentEntityType `json:"entity_type"`
	Entity     string            `json:"entity"`
	State      ConsentState      `json:"state"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Envelope is the generic (group_id, sequence_id, payload) unit the
// transport and stream layers pass around, per spec §4.4/§6.
type Envelope struct {
	GroupID      string    `json:"group_id"`
	SequenceID   uint64    `json:"sequence_id"`
	Payload      []byte    `json:"payload"`
	IsWelcome    bool      `json:"is_welcome"`
	SenderHint   string    `json:"sender_hint,omitempty"`
	ReceivedAtNS int64     `json:"received_at_ns"`
	InsertedAt   time.Time `json:"inserted_at"`
}

// OperationMetric tracks per-RPC-method call counters, mirroring the
// teacher's pkg/models.OperationMetric, consumed by internal/api's stats
// layer and the original source's api_stats.rs snapshot shape.
type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}

// MetricsSnapshot is the façade-level stats dump returned by internal/api.
type MetricsSnapshot struct {
	OperationStats   map[string]OperationMetric `json:"operation_stats"`
	StreamLagSeconds float64                    `json:"stream_lag_seconds"`
	PendingIntents   int                        `json:"pending_intents"`
	LastUpdatedAt    time.Time                  `json:"last_updated_at"`
}

// KeyPackage is the wire-level identity/init key bundle published so other
// installations can add this installation to a group.
type KeyPackage struct {
	InstallationID string    `json:"installation_id"`
	InboxID        string    `json:"inbox_id"`
	SigningKey     []byte    `json:"signing_key"`
	InitKey        []byte    `json:"init_key"`
	WrapperAlgo    string    `json:"wrapper_algo"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// BackupElement is one length-prefixed record in a device-sync archive
// stream, per spec §4.5.
type BackupElement struct {
	Kind    string `json:"kind"`
	GroupID string `json:"group_id,omitempty"`
	Payload []byte `json:"payload"`
}
