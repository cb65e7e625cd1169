// Package stream implements the ordered envelope-ingestion and recovery
// logic of spec §4.4: cursor-driven, idempotent application of group
// messages and welcomes, with gap-triggered resynchronization. The
// subscription lifecycle flags are grounded on the teacher's
// internal/waku.Status/State machine (StateDisconnected/Connecting/
// Connected/Degraded), generalized from a connectivity state to the
// Started/CatchupComplete/Waiting flags spec §4.4 names.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// ErrMessageAlreadyProcessed is absorbed as success, per spec §4.4 step 3.
var ErrMessageAlreadyProcessed = errors.New("stream: message already processed")

// ErrWrongEpoch triggers recovery sync, per spec §4.4 step 4.
var ErrWrongEpoch = errors.New("stream: wrong epoch")

// ErrDecryptGap triggers recovery sync: a message could not be decrypted
// because intermediate commits are missing.
var ErrDecryptGap = errors.New("stream: missing intermediate commits")

// Applier applies one envelope's payload to local state: a commit via the
// MLS engine, or an application message via decrypt-and-store. It returns
// ErrMessageAlreadyProcessed/ErrWrongEpoch/ErrDecryptGap for the processor
// to special-case, or any other error as a hard failure.
type Applier interface {
	ApplyEnvelope(ctx context.Context, env xmtptypes.Envelope) error
}

// Source fetches envelopes for a group/installation in a sequence range,
// implementing spec §6's query_group_messages/query_welcome_messages for
// the recovery-sync path.
type Source interface {
	QueryEnvelopes(ctx context.Context, entityID string, fromSeqExclusive uint64) ([]xmtptypes.Envelope, error)
}

// LifecyclePhase mirrors spec §4.4's subscription lifecycle flags, grounded
// on the teacher's connectivity State enum.
type LifecyclePhase string

const (
	PhaseWaiting         LifecyclePhase = "waiting"
	PhaseStarted         LifecyclePhase = "started"
	PhaseCatchupComplete LifecyclePhase = "catchup_complete"
)

// Status is the observable subscription health snapshot, per spec §4.4.
type Status struct {
	HasStarted      bool
	CatchupComplete bool
	LastPingMS      int64
}

// Processor consumes envelopes for one entity kind (Group or Welcome) and
// advances its refresh-state cursor, per spec §3/§4.4.
type Processor struct {
	repo    *grouprepo.Repo
	applier Applier
	source  Source
	kind    grouprepo.RefreshEntityKind

	mu              sync.Mutex
	knownWelcomeIDs map[string]struct{}
	status          map[string]*Status
}

// New constructs a Processor for one refresh-entity-kind (Group or Welcome).
func New(repo *grouprepo.Repo, applier Applier, source Source, kind grouprepo.RefreshEntityKind) *Processor {
	return &Processor{
		repo:            repo,
		applier:         applier,
		source:          source,
		kind:            kind,
		knownWelcomeIDs: make(map[string]struct{}),
		status:          make(map[string]*Status),
	}
}

func (p *Processor) statusFor(entityID string) *Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.status[entityID]
	if !ok {
		s = &Status{}
		p.status[entityID] = s
	}
	return s
}

// Status returns the observable lifecycle flags for an entity (group id or
// installation key), per spec §4.4.
func (p *Processor) Status(entityID string) Status {
	return *p.statusFor(entityID)
}

// SetPhase updates the observable lifecycle flags when the underlying
// subscription emits a Started/CatchupComplete/Waiting status update.
func (p *Processor) SetPhase(entityID string, phase LifecyclePhase, lastPingMS int64) {
	s := p.statusFor(entityID)
	switch phase {
	case PhaseStarted:
		s.HasStarted = true
	case PhaseCatchupComplete:
		s.CatchupComplete = true
	case PhaseWaiting:
	}
	s.LastPingMS = lastPingMS
}

// ProcessEnvelope implements spec §4.4's per-envelope algorithm.
func (p *Processor) ProcessEnvelope(ctx context.Context, entityID string, env xmtptypes.Envelope) error {
	if p.kind == grouprepo.RefreshWelcome && env.IsWelcome {
		if dup := p.markWelcomeSeen(welcomeKey(entityID, env.SequenceID)); dup {
			return nil
		}
	}

	lastCursor := p.repo.Cursor(p.kind, entityID)
	if env.SequenceID <= lastCursor {
		return nil
	}

	err := p.applier.ApplyEnvelope(ctx, env)
	switch {
	case err == nil:
		p.repo.AdvanceCursor(p.kind, entityID, env.SequenceID)
		return nil
	case errors.Is(err, ErrMessageAlreadyProcessed):
		p.repo.AdvanceCursor(p.kind, entityID, env.SequenceID)
		return nil
	case errors.Is(err, ErrWrongEpoch) || errors.Is(err, ErrDecryptGap):
		_, err := p.recoverySync(ctx, entityID, lastCursor)
		return err
	default:
		return err
	}
}

// PullAndApply queries the source for every envelope after the current
// cursor and applies them in order — the same replay recoverySync performs
// on a gap, exposed as a direct entry point for spec §4.2's sync(): "pulls
// new messages for this group, applies them in order."
func (p *Processor) PullAndApply(ctx context.Context, entityID string) (int, error) {
	return p.recoverySync(ctx, entityID, p.repo.Cursor(p.kind, entityID))
}

func welcomeKey(entityID string, seq uint64) string { return fmt.Sprintf("%s:%d", entityID, seq) }

func (p *Processor) markWelcomeSeen(key string) (wasDuplicate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.knownWelcomeIDs[key]; ok {
		return true
	}
	p.knownWelcomeIDs[key] = struct{}{}
	return false
}

// recoverySync implements spec §4.4 step 4: query every envelope in
// (lastCursor, ∞) for this entity, apply in order, update the cursor to the
// last envelope successfully applied. Returns how many envelopes were
// actually applied.
func (p *Processor) recoverySync(ctx context.Context, entityID string, lastCursor uint64) (int, error) {
	envelopes, err := p.source.QueryEnvelopes(ctx, entityID, lastCursor)
	if err != nil {
		return 0, fmt.Errorf("stream: recovery sync query: %w", err)
	}
	sort.Slice(envelopes, func(i, j int) bool { return envelopes[i].SequenceID < envelopes[j].SequenceID })

	applied := 0
	for _, env := range envelopes {
		if env.SequenceID <= p.repo.Cursor(p.kind, entityID) {
			continue
		}
		err := p.applier.ApplyEnvelope(ctx, env)
		if err == nil || errors.Is(err, ErrMessageAlreadyProcessed) {
			p.repo.AdvanceCursor(p.kind, entityID, env.SequenceID)
			applied++
			continue
		}
		// A commit still not applicable (e.g. another gap) stops recovery
		// here; cursor holds at the last successfully applied envelope.
		return applied, fmt.Errorf("stream: recovery sync stalled at sequence %d: %w", env.SequenceID, err)
	}
	return applied, nil
}

// FilterWelcomeBeforeMessage implements spec §5's welcome-vs-message
// ordering guarantee: a welcome for group G at sequence W must be processed
// before any message for G at sequence M>W. Callers route welcome envelopes
// through a Processor configured with RefreshWelcome before releasing
// queued group-message envelopes with SequenceID > W for the same group.
func FilterWelcomeBeforeMessage(welcomeProcessed bool, welcomeSeq uint64, messageSeq uint64) bool {
	if welcomeProcessed {
		return true
	}
	return messageSeq <= welcomeSeq
}
