package mls

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/crypto"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/mls/welcomewrap"
)

func TestProcessWelcomeRoundTrip(t *testing.T) {
	recipientPriv := make([]byte, 32)
	_, _ = rand.Read(recipientPriv)
	recipientPub, err := crypto.X25519PublicFromSeed(recipientPriv)
	if err != nil {
		t.Fatalf("derive pub: %v", err)
	}

	alice := mustInstallation(t, ids.InboxID("xmtp1alice"))
	payload := WelcomePayload{
		GroupID:          ids.GroupID("grp1test"),
		ConversationType: ConversationTypeGroup,
		Epoch:            0,
		Membership:       newMembershipExtension(),
		Installations:    []InstallationLeaf{alice},
		AddedByInboxID:   alice.InboxID,
	}

	wrapper := welcomewrap.Curve25519Wrapper{}
	sealed, err := SealWelcome(wrapper, recipientPub, payload)
	if err != nil {
		t.Fatalf("seal welcome: %v", err)
	}

	g, err := ProcessWelcome(context.Background(), wrapper, sealed, recipientPriv, nil, "inst1bob", "welcome-1", 2000)
	if err != nil {
		t.Fatalf("process welcome failed: %v", err)
	}
	if g.GroupID != payload.GroupID || g.Epoch != 0 || g.WelcomeID != "welcome-1" {
		t.Fatalf("unexpected group state: %+v", g)
	}
	if len(g.Installations) != 1 || g.Installations[0].InstallationID != alice.InstallationID {
		t.Fatalf("expected installations to carry over from welcome payload")
	}
}

func TestWelcomePointerBackoffSchedule(t *testing.T) {
	now := time.Unix(0, 0)
	p := &WelcomePointer{FirstSeenAt: now}

	next, ok := p.NextRetry(now)
	if !ok {
		t.Fatal("expected a retry to be scheduled")
	}
	if next.Sub(now) != welcomePointerInitialBackoff {
		t.Fatalf("got initial delay %v, want %v", next.Sub(now), welcomePointerInitialBackoff)
	}

	p.Attempts = 10
	next, ok = p.NextRetry(now)
	if !ok {
		t.Fatal("expected a retry to still be scheduled within attempt cap")
	}
	if next.Sub(now) != welcomePointerMaxBackoff {
		t.Fatalf("got delay %v, want capped %v", next.Sub(now), welcomePointerMaxBackoff)
	}
}

func TestWelcomePointerAbandonedAfterMaxAttempts(t *testing.T) {
	p := &WelcomePointer{FirstSeenAt: time.Unix(0, 0), Attempts: welcomePointerMaxAttempts}
	if _, ok := p.NextRetry(time.Unix(0, 0)); ok {
		t.Fatal("expected no retry after max attempts")
	}
}

func TestWelcomePointerAbandonedAfterExpiry(t *testing.T) {
	start := time.Unix(0, 0)
	p := &WelcomePointer{FirstSeenAt: start}
	if _, ok := p.NextRetry(start.Add(welcomePointerExpiry + time.Hour)); ok {
		t.Fatal("expected no retry past the 3-day expiry")
	}
}
