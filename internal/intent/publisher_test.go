package intent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
)

type fakeStager struct{}

func (fakeStager) StageCommit(_ context.Context, _ ids.GroupID, i *Intent) ([]byte, string, error) {
	return []byte("payload-for-" + i.ID), "", nil
}

type fakeTransport struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakeTransport) PublishIntent(_ context.Context, _ ids.GroupID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func waitForState(t *testing.T, store *MemStore, groupID ids.GroupID, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		intents, _ := store.ListByGroupAndState(groupID, want)
		for _, i := range intents {
			if i.ID == id {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("intent %s never reached state %q", id, want)
}

func TestPublisherDrainsToPublishedState(t *testing.T) {
	store := NewMemStore()
	repo := grouprepo.New(kv.New())
	transport := &fakeTransport{}
	pub := New(store, repo, fakeStager{}, transport, nil)
	defer pub.Stop()

	groupID := ids.GroupID("grp1test")
	i := New(groupID, KindSendMessage, nil, 100)
	_ = store.Save(i)

	pub.Kick(groupID)
	waitForState(t, store, groupID, i.ID, StatePublished)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.published) != 1 {
		t.Fatalf("got %d published payloads, want 1", len(transport.published))
	}
}

func TestPublisherLogsOnSuccessfulPublish(t *testing.T) {
	store := NewMemStore()
	repo := grouprepo.New(kv.New())
	pub := New(store, repo, fakeStager{}, &fakeTransport{}, nil)
	defer pub.Stop()

	var mu sync.Mutex
	var messages []string
	pub.LogInfo = func(message string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, message)
	}

	groupID := ids.GroupID("grp1test")
	i := New(groupID, KindSendMessage, nil, 100)
	_ = store.Save(i)

	pub.Kick(groupID)
	waitForState(t, store, groupID, i.ID, StatePublished)

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 || messages[0] != "intent published" {
		t.Fatalf("got log messages %v, want one \"intent published\"", messages)
	}
}

func TestConfirmCommitDeletesIntent(t *testing.T) {
	store := NewMemStore()
	repo := grouprepo.New(kv.New())
	pub := New(store, repo, fakeStager{}, &fakeTransport{}, nil)

	groupID := ids.GroupID("grp1test")
	i := New(groupID, KindSendMessage, nil, 100)
	_ = i.MarkStaged("hash-x", []byte("c"), "")
	_ = store.Save(i)

	confirmed, err := pub.ConfirmCommit(groupID, "hash-x")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed == nil || confirmed.ID != i.ID {
		t.Fatalf("expected to confirm intent %s, got %+v", i.ID, confirmed)
	}
	remaining, _ := store.ListByGroupAndState(groupID, StatePublished)
	if len(remaining) != 0 {
		t.Fatalf("expected intent to be deleted after confirmation, got %d remaining", len(remaining))
	}
}

func TestHandleEpochConflictRewindsAndRekicks(t *testing.T) {
	store := NewMemStore()
	repo := grouprepo.New(kv.New())
	transport := &fakeTransport{}
	pub := New(store, repo, fakeStager{}, transport, nil)
	defer pub.Stop()

	groupID := ids.GroupID("grp1test")
	i := New(groupID, KindSendMessage, nil, 100)
	_ = i.MarkStaged("hash-y", []byte("c"), "")
	_ = store.Save(i)

	if err := pub.HandleEpochConflict(groupID, i.ID, 3); err != nil {
		t.Fatalf("handle epoch conflict failed: %v", err)
	}

	waitForState(t, store, groupID, i.ID, StatePublished)
}
