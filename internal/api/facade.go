// Package api is the thin façade spec.md §2 and the original Rust source's
// xmtp_api_d14n crate describe: it sits in front of internal/transport and
// internal/grouprepo, enforces the per-call unary timeout (spec §5), and
// instruments every call with a prometheus-backed stats layer mirroring
// pkg/models.OperationMetric/MetricsSnapshot (the original source's
// api_stats.rs snapshot shape). Grounded on the teacher's internal/api.Server
// being a thin wrapper over a service/transport pair plus
// internal/adapters/rpc's handler dispatch, generalized here from an RPC
// transport wrapper to an in-process call façade instrumented with metrics.
package api

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/intent"
	"github.com/xmtp-core/libxmtp-go/internal/transport"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// Page is one cursor-paginated slice of group messages, per spec §6's
// query_group_messages contract (cursor, limit<=MaxQueryLimit, direction).
type Page struct {
	Envelopes  []xmtptypes.Envelope
	NextCursor *uint64
}

// Facade is the call surface the daemon's outer layers (CLI, RPC, tests) use
// instead of reaching into internal/transport or internal/grouprepo
// directly. Every method that calls the transport or the repo is timed and
// counted by the Stats layer; KickPublisher and Stats are not.
type Facade struct {
	transport transport.Transport
	repo      *grouprepo.Repo
	publisher *intent.Publisher
	stats     *Stats
}

// New constructs a Facade. publisher may be nil if this façade instance is
// read-only (e.g. a query-serving replica).
func New(t transport.Transport, repo *grouprepo.Repo, publisher *intent.Publisher) *Facade {
	return &Facade{transport: t, repo: repo, publisher: publisher, stats: NewStats()}
}

// Stats exposes the façade's stats layer for /metrics wiring and for
// Snapshot() calls from diagnostics.
func (f *Facade) Stats() *Stats {
	return f.stats
}

// QueryGroupMessages fetches one cursor-bounded page of group messages,
// clamping limit to transport.MaxQueryLimit and honoring transport.CallTimeout.
func (f *Facade) QueryGroupMessages(ctx context.Context, groupID ids.GroupID, cursor *uint64, limit int, dir transport.Direction) (Page, error) {
	if limit <= 0 || limit > transport.MaxQueryLimit {
		limit = transport.MaxQueryLimit
	}
	ctx, cancel := context.WithTimeout(ctx, transport.CallTimeout)
	defer cancel()

	var page Page
	err := f.stats.Observe("query_group_messages", func() error {
		envs, err := f.transport.QueryGroupMessages(ctx, groupID, cursor, limit, dir)
		if err != nil {
			return err
		}
		page.Envelopes = envs
		if len(envs) == limit {
			next := envs[len(envs)-1].SequenceID
			page.NextCursor = &next
		}
		return nil
	})
	return page, err
}

// SendGroupMessages publishes pre-staged envelopes, per spec §6's
// send_group_messages, counted under that RPC name.
func (f *Facade) SendGroupMessages(ctx context.Context, envelopes []xmtptypes.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, transport.CallTimeout)
	defer cancel()
	return f.stats.Observe("send_group_messages", func() error {
		return f.transport.SendGroupMessages(ctx, envelopes)
	})
}

// KickPublisher wakes the intent publisher worker for a group, per spec
// §4.3's publish step, after the caller has queued a new ToPublish intent.
func (f *Facade) KickPublisher(groupID ids.GroupID) error {
	if f.publisher == nil {
		return fmt.Errorf("api: facade has no publisher wired")
	}
	f.publisher.Kick(groupID)
	return nil
}

// ListMessages returns every locally stored message for a group, bypassing
// the transport entirely — a read against internal/grouprepo's local cache.
func (f *Facade) ListMessages(ctx context.Context, groupID ids.GroupID) ([]*grouprepo.Message, error) {
	var out []*grouprepo.Message
	err := f.stats.Observe("list_messages", func() error {
		msgs, err := f.repo.ListMessages(groupID)
		out = msgs
		return err
	})
	return out, err
}

// PublishIdentityUpdate publishes an identity-log entry, per spec §6's
// publish_identity_update.
func (f *Facade) PublishIdentityUpdate(ctx context.Context, inboxID ids.InboxID, update []byte) error {
	ctx, cancel := context.WithTimeout(ctx, transport.CallTimeout)
	defer cancel()
	return f.stats.Observe("publish_identity_update", func() error {
		return f.transport.PublishIdentityUpdate(ctx, inboxID, update)
	})
}

// registerCollector is a test/diagnostics seam so a caller can register the
// façade's stats with a non-default prometheus.Registerer.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	return reg.Register(c)
}
