package consent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

func TestSetConsentPersistsAndBuildsMirrorMessage(t *testing.T) {
	m := New(grouprepo.New(kv.New()))
	msg, err := m.SetConsent(xmtptypes.ConsentEntityInboxID, "xmtp1bob", xmtptypes.ConsentAllowed, 1000)
	if err != nil {
		t.Fatalf("set consent failed: %v", err)
	}
	if msg.ContentType != MirrorContentType {
		t.Fatalf("got content type %q", msg.ContentType)
	}

	records, err := m.ListConsent()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].State != xmtptypes.ConsentAllowed {
		t.Fatalf("got %+v", records)
	}
}

func TestApplyMirroredMessageNewerWins(t *testing.T) {
	repo := grouprepo.New(kv.New())
	m := New(repo)

	older := mirrorMessage(t, xmtptypes.ConsentAllowed, time.Unix(100, 0))
	newer := mirrorMessage(t, xmtptypes.ConsentDenied, time.Unix(200, 0))

	if err := m.ApplyMirroredMessage(newer); err != nil {
		t.Fatalf("apply newer failed: %v", err)
	}
	if err := m.ApplyMirroredMessage(older); err != nil {
		t.Fatalf("apply older failed: %v", err)
	}

	rec, err := repo.GetConsent(xmtptypes.ConsentEntityInboxID, "xmtp1bob")
	if err != nil {
		t.Fatalf("get consent failed: %v", err)
	}
	if rec.State != xmtptypes.ConsentDenied {
		t.Fatalf("got state %q, want denied (newer write must win)", rec.State)
	}
}

func TestApplyMirroredMessageRejectsWrongContentType(t *testing.T) {
	m := New(grouprepo.New(kv.New()))
	err := m.ApplyMirroredMessage(grouprepo.Message{ContentType: "something-else"})
	if err == nil {
		t.Fatal("expected error for non-mirror content type")
	}
}

func TestSyncGroupIDIsStablePerInbox(t *testing.T) {
	a := SyncGroupID(ids.InboxID("xmtp1alice"))
	b := SyncGroupID(ids.InboxID("xmtp1alice"))
	c := SyncGroupID(ids.InboxID("xmtp1bob"))
	if a != b {
		t.Fatal("expected deterministic sync group id for the same inbox")
	}
	if a == c {
		t.Fatal("expected distinct inboxes to get distinct sync group ids")
	}
}

func mirrorMessage(t *testing.T, state xmtptypes.ConsentState, updatedAt time.Time) grouprepo.Message {
	t.Helper()
	rec := xmtptypes.ConsentRecord{EntityType: xmtptypes.ConsentEntityInboxID, Entity: "xmtp1bob", State: state, UpdatedAt: updatedAt}
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return grouprepo.Message{ContentType: MirrorContentType, ContentBytes: payload}
}
