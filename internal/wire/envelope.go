// Package wire defines the envelope shapes and topic-derivation scheme used
// when publishing to and subscribing from the decentralized transport,
// grounded on the teacher's waku content-topic convention (a fixed pubsub
// topic plus a type-tagged content topic, internal/waku/gowaku_enabled.go)
// generalized to per-addressee topics as the domain requires.
package wire

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58/base58"
)

// WrapperAlgorithm names the HPKE construction used to seal a welcome.
type WrapperAlgorithm string

const (
	WrapperCurve25519     WrapperAlgorithm = "Curve25519"
	WrapperXWingMLKEM768  WrapperAlgorithm = "XWing-MLKEM768"
)

// GroupMessageV1 is the wire-compatible application/commit envelope shape.
type GroupMessageV1 struct {
	ID          uint64 `json:"id"`
	CreatedNS   uint64 `json:"created_ns"`
	GroupID     []byte `json:"group_id"`
	Data        []byte `json:"data"`
	SenderHMAC  []byte `json:"sender_hmac"`
	ShouldPush  bool   `json:"should_push"`
}

// WelcomeMessageV1 is the wire-compatible welcome envelope shape.
type WelcomeMessageV1 struct {
	ID              uint64           `json:"id"`
	CreatedNS       uint64           `json:"created_ns"`
	InstallationKey []byte           `json:"installation_key"`
	Data            []byte           `json:"data"`
	HPKEPublicKey   []byte           `json:"hpke_public_key"`
	WrapperAlgo     WrapperAlgorithm `json:"wrapper_algorithm"`
	WelcomeMetadata []byte           `json:"welcome_metadata,omitempty"`
}

// ClientEnvelopeKind tags the payload carried by a ClientEnvelope.
type ClientEnvelopeKind string

const (
	KindGroupMessage    ClientEnvelopeKind = "GroupMessage"
	KindWelcomeMessage  ClientEnvelopeKind = "WelcomeMessage"
	KindUploadKeyPackage ClientEnvelopeKind = "UploadKeyPackage"
	KindIdentityUpdate  ClientEnvelopeKind = "IdentityUpdate"
)

// ClientEnvelope is the outer frame published to the transport. Topic is
// derived from a type-tagged hash of the addressee id (DeriveTopic) rather
// than carried inline, matching spec §6.
type ClientEnvelope struct {
	Kind    ClientEnvelopeKind `json:"kind"`
	Payload []byte             `json:"payload"`
}

const topicVersion = "1"

// DeriveTopic computes the content topic an envelope of the given kind,
// addressed to addresseeID, is published/subscribed under. It follows the
// teacher's fixed-prefix content-topic shape
// ("/<app>/<version>/<kind>/proto") but tags each topic with a hash of the
// addressee so distinct groups/installations/inboxes don't share one topic.
func DeriveTopic(kind ClientEnvelopeKind, addresseeID []byte) string {
	h := sha256.Sum256(addresseeID)
	return fmt.Sprintf("/xmtp/%s/%s/%s/proto", topicVersion, kindSegment(kind), base58.Encode(h[:]))
}

func kindSegment(kind ClientEnvelopeKind) string {
	switch kind {
	case KindGroupMessage:
		return "group-message"
	case KindWelcomeMessage:
		return "welcome-message"
	case KindUploadKeyPackage:
		return "key-package"
	case KindIdentityUpdate:
		return "identity-update"
	default:
		return "unknown"
	}
}

// PubsubTopic is the single shared relay topic every content topic above
// rides on, mirroring the teacher's privatePubsubTopic constant.
const PubsubTopic = "/waku/2/default-waku/proto"

// EncodeSequenceID renders a big-endian 8-byte sequence id, the sort order
// the transport's cursor comparisons rely on.
func EncodeSequenceID(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// DecodeSequenceID reverses EncodeSequenceID.
func DecodeSequenceID(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("wire: sequence id must be 8 bytes, got %d", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}
