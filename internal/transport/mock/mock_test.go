package mock

import (
	"context"
	"testing"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/transport"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

func TestSendAndQueryGroupMessagesAssignsSequence(t *testing.T) {
	tr := New()
	ctx := context.Background()

	envs := []xmtptypes.Envelope{
		{GroupID: "grp1test", Payload: []byte("one")},
		{GroupID: "grp1test", Payload: []byte("two")},
	}
	if err := tr.SendGroupMessages(ctx, envs); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if envs[0].SequenceID != 1 || envs[1].SequenceID != 2 {
		t.Fatalf("got sequence ids %d,%d, want 1,2", envs[0].SequenceID, envs[1].SequenceID)
	}

	got, err := tr.QueryGroupMessages(ctx, "grp1test", nil, 10, transport.DirectionAscending)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(got))
	}
}

func TestSubscribeGroupMessagesReceivesLiveSends(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.SubscribeGroupMessages(ctx, []transport.GroupMessageFilter{{GroupID: "grp1test"}})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := tr.SendGroupMessages(ctx, []xmtptypes.Envelope{{GroupID: "grp1test", Payload: []byte("hi")}}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case env := <-ch:
		if string(env.Payload) != "hi" {
			t.Fatalf("got payload %q, want hi", env.Payload)
		}
	case <-ctx.Done():
		t.Fatal("context done before receiving message")
	}
}

func TestGetInboxIDsUsesRegisteredIdentifiers(t *testing.T) {
	tr := New()
	tr.RegisterIdentifier("0xabc", ids.InboxID("xmtp1alice"))

	out, err := tr.GetInboxIDs(context.Background(), []string{"0xabc", "0xmissing"})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if out["0xabc"] != ids.InboxID("xmtp1alice") {
		t.Fatalf("got %v", out)
	}
	if _, ok := out["0xmissing"]; ok {
		t.Fatal("expected unregistered identifier to be absent")
	}
}

func TestPublishAndQueryCommitLog(t *testing.T) {
	tr := New()
	ctx := context.Background()
	err := tr.PublishCommitLog(ctx, []transport.CommitLogUpload{
		{GroupID: "grp1test", Entry: []byte("entry-1")},
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	rows, err := tr.QueryCommitLog(ctx, "grp1test")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || string(rows[0]) != "entry-1" {
		t.Fatalf("got %v", rows)
	}
}
