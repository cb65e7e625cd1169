package stream

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

type fakeApplier struct {
	mu       sync.Mutex
	applied  []uint64
	failWith map[uint64]error
}

func (f *fakeApplier) ApplyEnvelope(_ context.Context, env xmtptypes.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[env.SequenceID]; ok {
		delete(f.failWith, env.SequenceID)
		return err
	}
	f.applied = append(f.applied, env.SequenceID)
	return nil
}

type fakeSource struct {
	envelopes []xmtptypes.Envelope
}

func (f *fakeSource) QueryEnvelopes(_ context.Context, _ string, fromSeqExclusive uint64) ([]xmtptypes.Envelope, error) {
	out := make([]xmtptypes.Envelope, 0)
	for _, e := range f.envelopes {
		if e.SequenceID > fromSeqExclusive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func TestProcessEnvelopeAdvancesCursor(t *testing.T) {
	repo := grouprepo.New(kv.New())
	applier := &fakeApplier{}
	p := New(repo, applier, &fakeSource{}, grouprepo.RefreshGroup)

	err := p.ProcessEnvelope(context.Background(), "grp1test", xmtptypes.Envelope{GroupID: "grp1test", SequenceID: 1})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if repo.Cursor(grouprepo.RefreshGroup, "grp1test") != 1 {
		t.Fatal("expected cursor to advance to 1")
	}
}

func TestProcessEnvelopeSkipsAlreadyApplied(t *testing.T) {
	repo := grouprepo.New(kv.New())
	applier := &fakeApplier{}
	p := New(repo, applier, &fakeSource{}, grouprepo.RefreshGroup)

	_ = p.ProcessEnvelope(context.Background(), "grp1test", xmtptypes.Envelope{SequenceID: 5})
	_ = p.ProcessEnvelope(context.Background(), "grp1test", xmtptypes.Envelope{SequenceID: 3})

	if len(applier.applied) != 1 {
		t.Fatalf("expected only sequence 5 to be applied, got %v", applier.applied)
	}
}

func TestProcessEnvelopeAbsorbsAlreadyProcessedError(t *testing.T) {
	repo := grouprepo.New(kv.New())
	applier := &fakeApplier{failWith: map[uint64]error{1: ErrMessageAlreadyProcessed}}
	p := New(repo, applier, &fakeSource{}, grouprepo.RefreshGroup)

	if err := p.ProcessEnvelope(context.Background(), "grp1test", xmtptypes.Envelope{SequenceID: 1}); err != nil {
		t.Fatalf("expected idempotent absorption, got %v", err)
	}
	if repo.Cursor(grouprepo.RefreshGroup, "grp1test") != 1 {
		t.Fatal("expected cursor to still advance on already-processed")
	}
}

func TestWrongEpochTriggersRecoverySync(t *testing.T) {
	repo := grouprepo.New(kv.New())
	applier := &fakeApplier{failWith: map[uint64]error{3: ErrWrongEpoch}}
	source := &fakeSource{envelopes: []xmtptypes.Envelope{{SequenceID: 1}, {SequenceID: 2}, {SequenceID: 3}}}
	p := New(repo, applier, source, grouprepo.RefreshGroup)

	if err := p.ProcessEnvelope(context.Background(), "grp1test", xmtptypes.Envelope{SequenceID: 3}); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if repo.Cursor(grouprepo.RefreshGroup, "grp1test") != 3 {
		t.Fatalf("got cursor %d, want 3 after recovery sync", repo.Cursor(grouprepo.RefreshGroup, "grp1test"))
	}
	if len(applier.applied) != 3 {
		t.Fatalf("got %d applied from recovery, want 3 (seq 1,2,3)", len(applier.applied))
	}
}

func TestPullAndApplyAppliesEverythingAfterCursor(t *testing.T) {
	repo := grouprepo.New(kv.New())
	applier := &fakeApplier{}
	source := &fakeSource{envelopes: []xmtptypes.Envelope{{SequenceID: 1}, {SequenceID: 2}, {SequenceID: 3}}}
	p := New(repo, applier, source, grouprepo.RefreshGroup)

	applied, err := p.PullAndApply(context.Background(), "grp1test")
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if applied != 3 {
		t.Fatalf("got %d applied, want 3", applied)
	}
	if repo.Cursor(grouprepo.RefreshGroup, "grp1test") != 3 {
		t.Fatal("expected cursor to advance to the last applied sequence")
	}

	applied, err = p.PullAndApply(context.Background(), "grp1test")
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	if applied != 0 {
		t.Fatalf("got %d applied on an empty re-pull, want 0", applied)
	}
}

func TestWelcomeDedupRejectsSecondInsert(t *testing.T) {
	repo := grouprepo.New(kv.New())
	applier := &fakeApplier{}
	p := New(repo, applier, &fakeSource{}, grouprepo.RefreshWelcome)

	env := xmtptypes.Envelope{GroupID: "grp1test", SequenceID: 10, IsWelcome: true}
	_ = p.ProcessEnvelope(context.Background(), "inst1bob", env)
	_ = p.ProcessEnvelope(context.Background(), "inst1bob", env)

	if len(applier.applied) != 1 {
		t.Fatalf("expected duplicate welcome to be absorbed, got %d applications", len(applier.applied))
	}
}

func TestFilterWelcomeBeforeMessage(t *testing.T) {
	if FilterWelcomeBeforeMessage(false, 5, 6) {
		t.Fatal("expected message after unseen welcome to be held back")
	}
	if !FilterWelcomeBeforeMessage(false, 5, 5) {
		t.Fatal("expected message at or before the welcome sequence to pass")
	}
	if !FilterWelcomeBeforeMessage(true, 5, 99) {
		t.Fatal("expected any message to pass once the welcome has been processed")
	}
}
