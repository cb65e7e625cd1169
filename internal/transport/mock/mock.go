// Package mock is an in-memory transport.Transport, grounded on the
// teacher's internal/waku.messageBus (map+mutex subscriber/mailbox pattern)
// generalized from a single private-message channel into every unary and
// streaming call spec §6 names. It exists for tests and for running the
// daemon without a live waku network.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/transport"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// Transport is an in-process transport.Transport backed by maps, suitable
// for tests that exercise more than one simulated installation.
type Transport struct {
	mu sync.Mutex

	keyPackages map[ids.InstallationID]xmtptypes.KeyPackage

	groupMessages   map[ids.GroupID][]xmtptypes.Envelope
	welcomeMessages map[ids.InstallationID][]xmtptypes.Envelope

	identityUpdates map[ids.InboxID][][]byte
	inboxByIdentity map[string]ids.InboxID

	commitLog map[ids.GroupID][][]byte

	groupSubs   map[ids.GroupID][]chan xmtptypes.Envelope
	welcomeSubs map[ids.InstallationID][]chan xmtptypes.Envelope

	nextGroupSeq   map[ids.GroupID]uint64
	nextWelcomeSeq map[ids.InstallationID]uint64
}

// New constructs an empty mock transport.
func New() *Transport {
	return &Transport{
		keyPackages:     make(map[ids.InstallationID]xmtptypes.KeyPackage),
		groupMessages:   make(map[ids.GroupID][]xmtptypes.Envelope),
		welcomeMessages: make(map[ids.InstallationID][]xmtptypes.Envelope),
		identityUpdates: make(map[ids.InboxID][][]byte),
		inboxByIdentity: make(map[string]ids.InboxID),
		commitLog:       make(map[ids.GroupID][][]byte),
		groupSubs:       make(map[ids.GroupID][]chan xmtptypes.Envelope),
		welcomeSubs:     make(map[ids.InstallationID][]chan xmtptypes.Envelope),
		nextGroupSeq:    make(map[ids.GroupID]uint64),
		nextWelcomeSeq:  make(map[ids.InstallationID]uint64),
	}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) UploadKeyPackage(_ context.Context, kp xmtptypes.KeyPackage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyPackages[ids.InstallationID(kp.InstallationID)] = kp
	return nil
}

func (t *Transport) FetchKeyPackages(_ context.Context, installationIDs []ids.InstallationID) ([]xmtptypes.KeyPackage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]xmtptypes.KeyPackage, 0, len(installationIDs))
	for _, id := range installationIDs {
		if kp, ok := t.keyPackages[id]; ok {
			out = append(out, kp)
		}
	}
	return out, nil
}

func (t *Transport) SendGroupMessages(_ context.Context, envelopes []xmtptypes.Envelope) error {
	t.mu.Lock()
	for i := range envelopes {
		groupID := ids.GroupID(envelopes[i].GroupID)
		t.nextGroupSeq[groupID]++
		envelopes[i].SequenceID = t.nextGroupSeq[groupID]
		t.groupMessages[groupID] = append(t.groupMessages[groupID], envelopes[i])
	}
	subsByGroup := make(map[ids.GroupID][]chan xmtptypes.Envelope, len(envelopes))
	for i := range envelopes {
		groupID := ids.GroupID(envelopes[i].GroupID)
		if _, ok := subsByGroup[groupID]; !ok {
			subsByGroup[groupID] = append([]chan xmtptypes.Envelope(nil), t.groupSubs[groupID]...)
		}
	}
	t.mu.Unlock()

	for i := range envelopes {
		groupID := ids.GroupID(envelopes[i].GroupID)
		for _, ch := range subsByGroup[groupID] {
			ch <- envelopes[i]
		}
	}
	return nil
}

func (t *Transport) SendWelcomeMessages(_ context.Context, envelopes []xmtptypes.Envelope) error {
	t.mu.Lock()
	for i := range envelopes {
		instKey := ids.InstallationID(envelopes[i].SenderHint)
		t.nextWelcomeSeq[instKey]++
		envelopes[i].SequenceID = t.nextWelcomeSeq[instKey]
		t.welcomeMessages[instKey] = append(t.welcomeMessages[instKey], envelopes[i])
	}
	subsByInst := make(map[ids.InstallationID][]chan xmtptypes.Envelope, len(envelopes))
	for i := range envelopes {
		instKey := ids.InstallationID(envelopes[i].SenderHint)
		if _, ok := subsByInst[instKey]; !ok {
			subsByInst[instKey] = append([]chan xmtptypes.Envelope(nil), t.welcomeSubs[instKey]...)
		}
	}
	t.mu.Unlock()

	for i := range envelopes {
		instKey := ids.InstallationID(envelopes[i].SenderHint)
		for _, ch := range subsByInst[instKey] {
			ch <- envelopes[i]
		}
	}
	return nil
}

func (t *Transport) QueryGroupMessages(_ context.Context, groupID ids.GroupID, cursor *uint64, limit int, dir transport.Direction) ([]xmtptypes.Envelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > transport.MaxQueryLimit {
		limit = transport.MaxQueryLimit
	}
	all := t.groupMessages[groupID]
	from := uint64(0)
	if cursor != nil {
		from = *cursor
	}
	out := make([]xmtptypes.Envelope, 0, limit)
	for _, env := range all {
		if env.SequenceID <= from {
			continue
		}
		out = append(out, env)
	}
	sortEnvelopes(out, dir)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *Transport) QueryWelcomeMessages(_ context.Context, installationKey ids.InstallationID, cursor *uint64) ([]xmtptypes.Envelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.welcomeMessages[installationKey]
	from := uint64(0)
	if cursor != nil {
		from = *cursor
	}
	out := make([]xmtptypes.Envelope, 0)
	for _, env := range all {
		if env.SequenceID > from {
			out = append(out, env)
		}
	}
	sortEnvelopes(out, transport.DirectionAscending)
	return out, nil
}

func (t *Transport) PublishIdentityUpdate(_ context.Context, inboxID ids.InboxID, update []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identityUpdates[inboxID] = append(t.identityUpdates[inboxID], update)
	return nil
}

func (t *Transport) GetIdentityUpdates(_ context.Context, requests []transport.IdentityUpdateRequest) (map[ids.InboxID][][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[ids.InboxID][][]byte, len(requests))
	for _, req := range requests {
		updates := t.identityUpdates[req.InboxID]
		if int(req.SequenceIDLow) < len(updates) {
			out[req.InboxID] = updates[req.SequenceIDLow:]
		}
	}
	return out, nil
}

func (t *Transport) GetInboxIDs(_ context.Context, identifiers []string) (map[string]ids.InboxID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ids.InboxID, len(identifiers))
	for _, id := range identifiers {
		if inbox, ok := t.inboxByIdentity[id]; ok {
			out[id] = inbox
		}
	}
	return out, nil
}

// RegisterIdentifier is a test/setup hook with no spec-level equivalent call
// (real transports resolve this via on-chain/association state); it lets
// mock-transport tests seed GetInboxIDs results directly.
func (t *Transport) RegisterIdentifier(identifier string, inbox ids.InboxID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inboxByIdentity[identifier] = inbox
}

func (t *Transport) VerifySmartContractWalletSignatures(_ context.Context, batch []transport.ContractWalletSignatureCheck) ([]bool, error) {
	// No chain to call in-process; the mock always reports valid so tests
	// that don't exercise ERC-1271 paths aren't blocked on it.
	out := make([]bool, len(batch))
	for i := range out {
		out[i] = true
	}
	return out, nil
}

func (t *Transport) PublishCommitLog(_ context.Context, rows []transport.CommitLogUpload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		t.commitLog[row.GroupID] = append(t.commitLog[row.GroupID], row.Entry)
	}
	return nil
}

func (t *Transport) QueryCommitLog(_ context.Context, groupID ids.GroupID) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.commitLog[groupID]...), nil
}

func (t *Transport) SubscribeGroupMessages(ctx context.Context, filters []transport.GroupMessageFilter) (<-chan xmtptypes.Envelope, error) {
	out := make(chan xmtptypes.Envelope, 16)
	t.mu.Lock()
	registered := make([]chan xmtptypes.Envelope, 0, len(filters))
	for _, f := range filters {
		ch := make(chan xmtptypes.Envelope, 16)
		t.groupSubs[f.GroupID] = append(t.groupSubs[f.GroupID], ch)
		registered = append(registered, ch)
	}
	t.mu.Unlock()

	for i, f := range filters {
		go t.replayGroupBacklog(ctx, f.GroupID, f.Cursor, out)
		go fanIn(ctx, registered[i], out)
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (t *Transport) replayGroupBacklog(ctx context.Context, groupID ids.GroupID, cursor uint64, out chan<- xmtptypes.Envelope) {
	t.mu.Lock()
	backlog := append([]xmtptypes.Envelope(nil), t.groupMessages[groupID]...)
	t.mu.Unlock()
	sortEnvelopes(backlog, transport.DirectionAscending)
	for _, env := range backlog {
		if env.SequenceID <= cursor {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- env:
		}
	}
}

func (t *Transport) SubscribeWelcomeMessages(ctx context.Context, installationKeys []ids.InstallationID) (<-chan xmtptypes.Envelope, error) {
	out := make(chan xmtptypes.Envelope, 16)
	t.mu.Lock()
	registered := make([]chan xmtptypes.Envelope, 0, len(installationKeys))
	for _, key := range installationKeys {
		ch := make(chan xmtptypes.Envelope, 16)
		t.welcomeSubs[key] = append(t.welcomeSubs[key], ch)
		registered = append(registered, ch)
	}
	t.mu.Unlock()

	for _, ch := range registered {
		go fanIn(ctx, ch, out)
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func fanIn(ctx context.Context, in <-chan xmtptypes.Envelope, out chan<- xmtptypes.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- env:
			}
		}
	}
}

func sortEnvelopes(envs []xmtptypes.Envelope, dir transport.Direction) {
	sort.Slice(envs, func(i, j int) bool {
		if dir == transport.DirectionDescending {
			return envs[i].SequenceID > envs[j].SequenceID
		}
		return envs[i].SequenceID < envs[j].SequenceID
	})
}

// DebugSummary renders one line with the number of groups, welcome
// installation keys and inboxes holding stored entries, useful in tests that
// assert on fan-out without reaching into the unexported maps.
func (t *Transport) DebugSummary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("groups=%d welcomes=%d identities=%d", len(t.groupMessages), len(t.welcomeMessages), len(t.identityUpdates))
}
