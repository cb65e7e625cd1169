package intent

import (
	"context"
	"sync"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/platform/ratelimiter"
)

// Store holds intent rows. MemStore, which keeps them in process memory, is
// the only implementation in this module; the interface keeps the
// publisher decoupled from storage shape.
type Store interface {
	ListByGroupAndState(groupID ids.GroupID, state State) ([]*Intent, error)
	Save(i *Intent) error
	Delete(id string) error
}

// Stager stages a commit for one intent inside an MLS "savepoint" that
// writes no state until the stage succeeds, per spec §4.3 step 2a — the
// group engine (internal/mls) implements this.
type Stager interface {
	StageCommit(ctx context.Context, groupID ids.GroupID, i *Intent) (payload []byte, postCommitAction string, err error)
}

// Transport publishes a staged commit/message, per spec §6's
// send_group_messages.
type Transport interface {
	PublishIntent(ctx context.Context, groupID ids.GroupID, payload []byte) error
}

// Publisher runs the per-group publish step of spec §4.3, serialized by the
// grouprepo advisory lock, one worker goroutine per group — the same
// supervising-goroutine-per-resource shape as the teacher's
// internal/waku.Node runtime monitor (startRuntimeMonitor/stopRuntimeMonitor),
// generalized from one node-wide monitor to one worker per active group.
type Publisher struct {
	store   Store
	repo    *grouprepo.Repo
	stager  Stager
	transport Transport
	limiter *ratelimiter.MapLimiter

	// LogInfo mirrors the teacher's Service.LogInfo field (internal/domains/
	// group/usecase/service.go): an optional structured logging hook, never
	// called if nil, so tests can construct a Publisher without a logger.
	LogInfo func(message string, args ...any)

	mu      sync.Mutex
	workers map[ids.GroupID]context.CancelFunc
	wg      sync.WaitGroup
}

func (p *Publisher) logInfo(message string, args ...any) {
	if p.LogInfo != nil {
		p.LogInfo(message, args...)
	}
}

// New constructs a Publisher. limiter may be nil to disable abuse protection.
func New(store Store, repo *grouprepo.Repo, stager Stager, transport Transport, limiter *ratelimiter.MapLimiter) *Publisher {
	return &Publisher{
		store:     store,
		repo:      repo,
		stager:    stager,
		transport: transport,
		limiter:   limiter,
		workers:   make(map[ids.GroupID]context.CancelFunc),
	}
}

// Kick ensures a worker is running for groupID, starting one if needed. It
// returns immediately; the worker drains ToPublish intents for the group
// and exits once the queue is empty.
func (p *Publisher) Kick(groupID ids.GroupID) {
	p.mu.Lock()
	if _, running := p.workers[groupID]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.workers[groupID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.workers, groupID)
			p.mu.Unlock()
		}()
		p.drain(ctx, groupID)
	}()
}

// Stop cancels all running workers and waits for them to exit.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.workers))
	for _, c := range p.workers {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	p.wg.Wait()
}

// drain implements the publish step: acquire the group lock, stage and
// publish every ToPublish intent at the group's current epoch in FIFO
// order, then release.
func (p *Publisher) drain(ctx context.Context, groupID ids.GroupID) {
	if p.limiter != nil && !p.limiter.Allow(string(groupID), time.Now()) {
		return
	}

	release, err := p.repo.AcquireGroupLock(ctx, groupID, "publisher", grouprepo.DefaultLockExpiry)
	if err != nil {
		return
	}
	defer release()

	pending, err := p.store.ListByGroupAndState(groupID, StateToPublish)
	if err != nil {
		return
	}

	for _, i := range pending {
		if ctx.Err() != nil {
			return
		}
		payload, postCommitAction, err := p.stager.StageCommit(ctx, groupID, i)
		if err != nil {
			continue
		}
		hash := PayloadHash(payload)
		if err := i.MarkStaged(hash, payload, postCommitAction); err != nil {
			continue
		}
		if err := p.store.Save(i); err != nil {
			continue
		}
		if err := p.transport.PublishIntent(ctx, groupID, payload); err != nil {
			continue
		}
		p.logInfo("intent published", "group_id", string(groupID), "intent_id", i.ID, "post_commit_action", postCommitAction)
	}
}

// HandleEpochConflict implements spec §4.3's epoch-conflict handling: the
// stream processor calls this when a remote commit lands at the intent's
// epoch before the intent's own commit is confirmed. Rewinds to ToPublish
// (or Error after K attempts) and re-kicks the group's worker.
func (p *Publisher) HandleEpochConflict(groupID ids.GroupID, intentID string, newEpoch uint64) error {
	pending, err := p.store.ListByGroupAndState(groupID, StatePublished)
	if err != nil {
		return err
	}
	for _, i := range pending {
		if i.ID != intentID {
			continue
		}
		if err := i.Rewind(newEpoch); err != nil {
			return err
		}
		if err := p.store.Save(i); err != nil {
			return err
		}
		if i.State == StateToPublish {
			p.Kick(groupID)
		}
		return nil
	}
	return nil
}

// ConfirmCommit implements spec §4.3's commit-confirmation step: called by
// the stream processor when it applies a commit whose payload_hash matches
// a Published intent. Transitions to Committed, then deletes the row (the
// post-commit action itself is the caller's responsibility, since it needs
// the MLS engine and transport, not just the intent store).
func (p *Publisher) ConfirmCommit(groupID ids.GroupID, payloadHash string) (*Intent, error) {
	pending, err := p.store.ListByGroupAndState(groupID, StatePublished)
	if err != nil {
		return nil, err
	}
	for _, i := range pending {
		if i.PayloadHash != payloadHash {
			continue
		}
		if err := i.Confirm(); err != nil {
			return nil, err
		}
		if err := p.store.Delete(i.ID); err != nil {
			return nil, err
		}
		return i, nil
	}
	return nil, nil
}
