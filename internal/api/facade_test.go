package api

import (
	"context"
	"testing"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	mocktransport "github.com/xmtp-core/libxmtp-go/internal/transport/mock"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

func TestSendThenQueryGroupMessagesRoundTrips(t *testing.T) {
	tr := mocktransport.New()
	repo := grouprepo.New(kv.New())
	f := New(tr, repo, nil)

	groupID := ids.GroupID("grp1test")
	err := f.SendGroupMessages(context.Background(), []xmtptypes.Envelope{
		{GroupID: string(groupID), Payload: []byte("hello")},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	page, err := f.QueryGroupMessages(context.Background(), groupID, nil, 10, "ascending")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(page.Envelopes) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(page.Envelopes))
	}
	if page.NextCursor != nil {
		t.Fatal("expected no next cursor when page is short of the limit")
	}

	snap := f.Stats().Snapshot(0)
	if snap.OperationStats["send_group_messages"].Count != 1 {
		t.Fatalf("got send stats %+v", snap.OperationStats["send_group_messages"])
	}
	if snap.OperationStats["query_group_messages"].Count != 1 {
		t.Fatalf("got query stats %+v", snap.OperationStats["query_group_messages"])
	}
}

func TestQueryGroupMessagesSetsNextCursorWhenPageIsFull(t *testing.T) {
	tr := mocktransport.New()
	repo := grouprepo.New(kv.New())
	f := New(tr, repo, nil)

	groupID := ids.GroupID("grp1test")
	for i := 0; i < 3; i++ {
		if err := f.SendGroupMessages(context.Background(), []xmtptypes.Envelope{{GroupID: string(groupID), Payload: []byte("m")}}); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	page, err := f.QueryGroupMessages(context.Background(), groupID, nil, 2, "ascending")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(page.Envelopes) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(page.Envelopes))
	}
	if page.NextCursor == nil {
		t.Fatal("expected a next cursor when the page is full")
	}
}

func TestKickPublisherWithoutOneReturnsError(t *testing.T) {
	f := New(mocktransport.New(), grouprepo.New(kv.New()), nil)
	if err := f.KickPublisher(ids.GroupID("grp1test")); err == nil {
		t.Fatal("expected error when no publisher is wired")
	}
}
