// Package wakutransport implements transport.Transport over go-waku's relay
// and store protocols, grounded directly on the teacher's
// internal/waku/node.go (Config/Status/Start/Stop/startRuntimeMonitor) and
// internal/waku/gowaku_enabled.go (WakuNodeOption wiring, relay publish/
// subscribe, legacy_store fanout query), generalized from a single
// private-message content topic to the per-kind, per-addressee topics
// internal/wire.DeriveTopic derives for every ClientEnvelope kind.
package wakutransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/waku-org/go-waku/waku/persistence"
	"github.com/waku-org/go-waku/waku/persistence/sqlite"
	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	"github.com/waku-org/go-waku/waku/v2/protocol"
	legacyStore "github.com/waku-org/go-waku/waku/v2/protocol/legacy_store"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
	"github.com/waku-org/go-waku/waku/v2/utils"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/transport"
	"github.com/xmtp-core/libxmtp-go/internal/wire"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// Config mirrors the teacher's waku.Config, trimmed to the fields this
// transport actually consumes.
type Config struct {
	Port              int      `yaml:"port"`
	EnableRelay       bool     `yaml:"enableRelay"`
	EnableStore       bool     `yaml:"enableStore"`
	BootstrapNodes    []string `yaml:"bootstrapNodes"`
	StoreQueryFanout  int      `yaml:"storeQueryFanout"`
}

// DefaultConfig matches the teacher's DefaultConfig defaults for the fields
// this transport carries forward.
func DefaultConfig() Config {
	return Config{Port: 60000, EnableRelay: true, EnableStore: true, StoreQueryFanout: 3}
}

// Node wraps a go-waku relay/store node behind transport.Transport.
type Node struct {
	mu   sync.RWMutex
	cfg  Config
	node *wakuNode.WakuNode

	envelopeSubs map[string][]chan xmtptypes.Envelope // keyed by content topic
}

var _ transport.Transport = (*Node)(nil)

// New constructs an unstarted Node.
func New(cfg Config) *Node {
	if cfg.StoreQueryFanout <= 0 {
		cfg.StoreQueryFanout = DefaultConfig().StoreQueryFanout
	}
	return &Node{cfg: cfg, envelopeSubs: make(map[string][]chan xmtptypes.Envelope)}
}

// Start brings up the underlying go-waku node, enabling relay and store as
// cfg.EnableRelay and cfg.EnableStore select, mirroring gowaku_enabled.go's
// Start.
func (n *Node) Start(ctx context.Context) error {
	opts := make([]wakuNode.WakuNodeOption, 0)
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(n.cfg.Port)))
	if err != nil {
		return fmt.Errorf("wakutransport: resolve host addr: %w", err)
	}
	opts = append(opts, wakuNode.WithHostAddress(hostAddr))
	if n.cfg.EnableRelay {
		opts = append(opts, wakuNode.WithWakuRelay())
	}
	if n.cfg.EnableStore {
		provider, err := newInMemoryMessageProvider()
		if err != nil {
			return fmt.Errorf("wakutransport: message provider: %w", err)
		}
		opts = append(opts, wakuNode.WithMessageProvider(provider))
		opts = append(opts, wakuNode.WithWakuStore())
	}

	node, err := wakuNode.New(opts...)
	if err != nil {
		return fmt.Errorf("wakutransport: new node: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("wakutransport: start node: %w", err)
	}
	for _, addr := range n.cfg.BootstrapNodes {
		_ = node.DialPeer(ctx, addr)
	}

	n.mu.Lock()
	n.node = node
	n.mu.Unlock()
	return nil
}

// Stop tears down the underlying node.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.node != nil {
		n.node.Stop()
		n.node = nil
	}
}

func (n *Node) relay() (*wakuNode.WakuNode, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.node == nil {
		return nil, errors.New("wakutransport: node is not started")
	}
	return n.node, nil
}

// publishEnvelope wraps payload in a ClientEnvelope of kind, derives its
// content topic from addresseeID, and publishes it over relay.
func (n *Node) publishEnvelope(ctx context.Context, kind wire.ClientEnvelopeKind, addresseeID []byte, payload []byte) error {
	node, err := n.relay()
	if err != nil {
		return err
	}
	body, err := json.Marshal(wire.ClientEnvelope{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("wakutransport: encode client envelope: %w", err)
	}
	topic := wire.DeriveTopic(kind, addresseeID)
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{Payload: body, ContentTopic: topic, Timestamp: &ts}
	_, err = node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(wire.PubsubTopic))
	if err != nil {
		return fmt.Errorf("wakutransport: publish: %w", err)
	}
	return nil
}

func (n *Node) UploadKeyPackage(ctx context.Context, kp xmtptypes.KeyPackage) error {
	payload, err := json.Marshal(kp)
	if err != nil {
		return fmt.Errorf("wakutransport: encode key package: %w", err)
	}
	return n.publishEnvelope(ctx, wire.KindUploadKeyPackage, []byte(kp.InstallationID), payload)
}

func (n *Node) FetchKeyPackages(ctx context.Context, installationIDs []ids.InstallationID) ([]xmtptypes.KeyPackage, error) {
	out := make([]xmtptypes.KeyPackage, 0, len(installationIDs))
	for _, id := range installationIDs {
		topic := wire.DeriveTopic(wire.KindUploadKeyPackage, []byte(id))
		messages, err := n.queryStore(ctx, topic, nil, 1)
		if err != nil {
			return nil, err
		}
		for _, wm := range messages {
			var kp xmtptypes.KeyPackage
			if err := json.Unmarshal(unwrapClientEnvelope(wm), &kp); err == nil {
				out = append(out, kp)
			}
		}
	}
	return out, nil
}

func (n *Node) SendGroupMessages(ctx context.Context, envelopes []xmtptypes.Envelope) error {
	for _, env := range envelopes {
		if err := n.publishEnvelope(ctx, wire.KindGroupMessage, []byte(env.GroupID), env.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) SendWelcomeMessages(ctx context.Context, envelopes []xmtptypes.Envelope) error {
	for _, env := range envelopes {
		if err := n.publishEnvelope(ctx, wire.KindWelcomeMessage, []byte(env.SenderHint), env.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) QueryGroupMessages(ctx context.Context, groupID ids.GroupID, cursor *uint64, limit int, _ transport.Direction) ([]xmtptypes.Envelope, error) {
	if limit <= 0 || limit > transport.MaxQueryLimit {
		limit = transport.MaxQueryLimit
	}
	topic := wire.DeriveTopic(wire.KindGroupMessage, []byte(groupID))
	messages, err := n.queryStore(ctx, topic, nil, limit)
	if err != nil {
		return nil, err
	}
	out := make([]xmtptypes.Envelope, 0, len(messages))
	for i, wm := range messages {
		seq := uint64(i + 1)
		if cursor != nil && seq <= *cursor {
			continue
		}
		out = append(out, xmtptypes.Envelope{GroupID: string(groupID), SequenceID: seq, Payload: unwrapClientEnvelope(wm)})
	}
	return out, nil
}

func (n *Node) QueryWelcomeMessages(ctx context.Context, installationKey ids.InstallationID, cursor *uint64) ([]xmtptypes.Envelope, error) {
	topic := wire.DeriveTopic(wire.KindWelcomeMessage, []byte(installationKey))
	messages, err := n.queryStore(ctx, topic, nil, transport.MaxQueryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]xmtptypes.Envelope, 0, len(messages))
	for i, wm := range messages {
		seq := uint64(i + 1)
		if cursor != nil && seq <= *cursor {
			continue
		}
		out = append(out, xmtptypes.Envelope{SequenceID: seq, IsWelcome: true, SenderHint: string(installationKey), Payload: unwrapClientEnvelope(wm)})
	}
	return out, nil
}

func (n *Node) PublishIdentityUpdate(ctx context.Context, inboxID ids.InboxID, update []byte) error {
	return n.publishEnvelope(ctx, wire.KindIdentityUpdate, []byte(inboxID), update)
}

func (n *Node) GetIdentityUpdates(ctx context.Context, requests []transport.IdentityUpdateRequest) (map[ids.InboxID][][]byte, error) {
	out := make(map[ids.InboxID][][]byte, len(requests))
	for _, req := range requests {
		topic := wire.DeriveTopic(wire.KindIdentityUpdate, []byte(req.InboxID))
		messages, err := n.queryStore(ctx, topic, nil, transport.MaxQueryLimit)
		if err != nil {
			return nil, err
		}
		if int(req.SequenceIDLow) >= len(messages) {
			continue
		}
		updates := make([][]byte, 0, len(messages))
		for _, wm := range messages[req.SequenceIDLow:] {
			updates = append(updates, unwrapClientEnvelope(wm))
		}
		out[req.InboxID] = updates
	}
	return out, nil
}

// GetInboxIDs, VerifySmartContractWalletSignatures, PublishCommitLog, and
// QueryCommitLog have no relay/store-topic equivalent in go-waku: the first
// two resolve against on-chain/association state, the latter two belong on
// a dedicated commit-log service. A waku-backed deployment wires these to
// an out-of-band RPC client instead; this adapter reports them unsupported
// rather than silently no-op.
var errUnsupportedOnWaku = errors.New("wakutransport: not implemented by the relay/store transport, wire an RPC client")

func (n *Node) GetInboxIDs(context.Context, []string) (map[string]ids.InboxID, error) {
	return nil, errUnsupportedOnWaku
}

func (n *Node) VerifySmartContractWalletSignatures(context.Context, []transport.ContractWalletSignatureCheck) ([]bool, error) {
	return nil, errUnsupportedOnWaku
}

func (n *Node) PublishCommitLog(context.Context, []transport.CommitLogUpload) error {
	return errUnsupportedOnWaku
}

func (n *Node) QueryCommitLog(context.Context, ids.GroupID) ([][]byte, error) {
	return nil, errUnsupportedOnWaku
}

func (n *Node) SubscribeGroupMessages(ctx context.Context, filters []transport.GroupMessageFilter) (<-chan xmtptypes.Envelope, error) {
	node, err := n.relay()
	if err != nil {
		return nil, err
	}
	out := make(chan xmtptypes.Envelope, 32)
	for _, f := range filters {
		topic := wire.DeriveTopic(wire.KindGroupMessage, []byte(f.GroupID))
		if err := n.subscribeTopic(ctx, node, topic, func(seq uint64, payload []byte) {
			out <- xmtptypes.Envelope{GroupID: string(f.GroupID), SequenceID: seq, Payload: payload}
		}); err != nil {
			return nil, err
		}
	}
	go func() { <-ctx.Done(); close(out) }()
	return out, nil
}

func (n *Node) SubscribeWelcomeMessages(ctx context.Context, installationKeys []ids.InstallationID) (<-chan xmtptypes.Envelope, error) {
	node, err := n.relay()
	if err != nil {
		return nil, err
	}
	out := make(chan xmtptypes.Envelope, 32)
	for _, key := range installationKeys {
		topic := wire.DeriveTopic(wire.KindWelcomeMessage, []byte(key))
		if err := n.subscribeTopic(ctx, node, topic, func(seq uint64, payload []byte) {
			out <- xmtptypes.Envelope{SequenceID: seq, IsWelcome: true, SenderHint: string(key), Payload: payload}
		}); err != nil {
			return nil, err
		}
	}
	go func() { <-ctx.Done(); close(out) }()
	return out, nil
}

func (n *Node) subscribeTopic(ctx context.Context, node *wakuNode.WakuNode, contentTopic string, deliver func(seq uint64, payload []byte)) error {
	filter := protocol.NewContentFilter(wire.PubsubTopic, contentTopic)
	subs, err := node.Relay().Subscribe(ctx, filter)
	if err != nil {
		return fmt.Errorf("wakutransport: subscribe %s: %w", contentTopic, err)
	}
	var seq uint64
	for _, sub := range subs {
		go func(s *relay.Subscription) {
			for env := range s.Ch {
				if env == nil || env.Message() == nil {
					continue
				}
				seq++
				deliver(seq, unwrapClientEnvelope(env.Message()))
			}
		}(sub)
	}
	return nil
}

// queryStore replays stored messages on a content topic via legacy_store,
// fanning out across bootstrap peers the way gowaku_enabled.go's
// FetchPrivateSince does, generalized from a recipient filter to a bare
// content-topic filter since every call site here already scopes the topic
// to one addressee.
func (n *Node) queryStore(ctx context.Context, contentTopic string, since *int64, limit int) ([]*wpb.WakuMessage, error) {
	node, err := n.relay()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = transport.MaxQueryLimit
	}
	criteria := legacyStore.Query{PubsubTopic: wire.PubsubTopic, ContentTopics: []string{contentTopic}}
	if since != nil {
		criteria.StartTime = since
	}
	opts := []legacyStore.HistoryRequestOption{legacyStore.WithPaging(true, uint64(limit))}

	n.mu.RLock()
	bootstrapNodes := append([]string(nil), n.cfg.BootstrapNodes...)
	fanout := n.cfg.StoreQueryFanout
	n.mu.RUnlock()

	var result *legacyStore.Result
	var lastErr error
	tried := 0
	for _, addr := range bootstrapNodes {
		if tried >= fanout {
			break
		}
		peerAddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			continue
		}
		tried++
		candidateOpts := append(append([]legacyStore.HistoryRequestOption{}, opts...), legacyStore.WithPeerAddr(peerAddr))
		result, err = node.LegacyStore().Query(ctx, criteria, candidateOpts...)
		if err == nil {
			break
		}
		lastErr = err
	}
	if result == nil {
		result, lastErr = node.LegacyStore().Query(ctx, criteria, opts...)
		if lastErr != nil {
			return nil, fmt.Errorf("wakutransport: store query: %w", lastErr)
		}
	}

	out := append([]*wpb.WakuMessage(nil), result.Messages...)
	for !result.IsComplete() && len(out) < limit {
		result, err = node.LegacyStore().Next(ctx, result)
		if err != nil {
			return nil, fmt.Errorf("wakutransport: store query next page: %w", err)
		}
		out = append(out, result.Messages...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func unwrapClientEnvelope(wm *wpb.WakuMessage) []byte {
	var env wire.ClientEnvelope
	if err := json.Unmarshal(wm.Payload, &env); err != nil {
		return nil
	}
	return env.Payload
}

func newInMemoryMessageProvider() (*persistence.DBStore, error) {
	db, err := sqlite.NewDB(":memory:", utils.Logger())
	if err != nil {
		return nil, err
	}
	return persistence.NewDBStore(
		prometheus.DefaultRegisterer,
		utils.Logger(),
		persistence.WithDB(db),
		persistence.WithMigrations(sqlite.Migrations),
	)
}
