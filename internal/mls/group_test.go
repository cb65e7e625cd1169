package mls

import (
	"bytes"
	"testing"

	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

func mustInstallation(t *testing.T, inbox ids.InboxID) InstallationLeaf {
	t.Helper()
	signingPub, _, hpkePub, _, err := GenerateInstallationKeys()
	if err != nil {
		t.Fatalf("generate installation keys: %v", err)
	}
	id, err := ids.NewInstallationID(signingPub)
	if err != nil {
		t.Fatalf("derive installation id: %v", err)
	}
	return InstallationLeaf{InstallationID: id, InboxID: inbox, SigningKey: signingPub, HPKEPublicKey: hpkePub, Active: true}
}

func TestCreateSeedsEpochZero(t *testing.T) {
	creator := mustInstallation(t, ids.InboxID("xmtp1alice"))
	g, _, err := Create(ids.GroupID("grp1test"), ConversationTypeGroup, creator, nil, 1, MutableMetadata{Name: "chat"}, nil, 1000)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if g.Epoch != 0 {
		t.Fatalf("got epoch %d, want 0", g.Epoch)
	}
	if len(g.Installations) != 1 || g.Installations[0].InstallationID != creator.InstallationID {
		t.Fatalf("expected sole creator installation, got %+v", g.Installations)
	}
	if g.Membership.InboxSequence[string(creator.InboxID)] != 1 {
		t.Fatalf("expected creator sequence seeded to 1")
	}
}

func TestCreateEmitsOneWelcomePerOtherCreatorInstallation(t *testing.T) {
	creator := mustInstallation(t, ids.InboxID("xmtp1alice"))
	other1 := mustInstallation(t, ids.InboxID("xmtp1alice"))
	other2 := mustInstallation(t, ids.InboxID("xmtp1alice"))

	g, welcomes, err := Create(ids.GroupID("grp1test"), ConversationTypeGroup, creator, []InstallationLeaf{other1, other2}, 1, MutableMetadata{Name: "chat"}, nil, 1000)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(welcomes) != 2 {
		t.Fatalf("got %d welcomes, want one per non-creator installation", len(welcomes))
	}
	if len(g.Installations) != 3 {
		t.Fatalf("got %d installations, want creator + 2 others", len(g.Installations))
	}
	for _, w := range welcomes {
		if w.AddedByInboxID != creator.InboxID {
			t.Fatalf("expected welcome added_by %q, got %q", creator.InboxID, w.AddedByInboxID)
		}
		if len(w.Installations) != 3 {
			t.Fatalf("expected welcome to carry the full post-create installation set, got %d", len(w.Installations))
		}
	}
}

func TestAdvanceEpochChangesSecretDeterministically(t *testing.T) {
	creator := mustInstallation(t, ids.InboxID("xmtp1alice"))
	g, _, _ := Create(ids.GroupID("grp1test"), ConversationTypeGroup, creator, nil, 1, MutableMetadata{}, nil, 1000)
	secret0 := append([]byte(nil), g.EpochSecret...)
	if err := g.advanceEpoch(); err != nil {
		t.Fatalf("advance epoch: %v", err)
	}
	if g.Epoch != 1 {
		t.Fatalf("got epoch %d, want 1", g.Epoch)
	}
	if bytes.Equal(secret0, g.EpochSecret) {
		t.Fatal("expected epoch secret to change")
	}
}

func TestExportSecretDeterministicPerLabel(t *testing.T) {
	creator := mustInstallation(t, ids.InboxID("xmtp1alice"))
	g, _, _ := Create(ids.GroupID("grp1test"), ConversationTypeGroup, creator, nil, 1, MutableMetadata{}, nil, 1000)
	a := g.ExportSecret("hmac", 32)
	b := g.ExportSecret("hmac", 32)
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic export for same label")
	}
	c := g.ExportSecret("archive", 32)
	if bytes.Equal(a, c) {
		t.Fatal("expected distinct labels to export distinct secrets")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	creator := mustInstallation(t, ids.InboxID("xmtp1alice"))
	g, _, _ := Create(ids.GroupID("grp1test"), ConversationTypeGroup, creator, nil, 1, MutableMetadata{Name: "chat"}, nil, 1000)
	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	g2, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if g2.GroupID != g.GroupID || g2.Epoch != g.Epoch || g2.Metadata.Name != "chat" {
		t.Fatalf("round trip mismatch: %+v", g2)
	}
}

func TestDMGroupIDIsCanonicalRegardlessOfOrder(t *testing.T) {
	a := DMGroupID("xmtp1alice", "xmtp1bob")
	b := DMGroupID("xmtp1bob", "xmtp1alice")
	if a != b {
		t.Fatalf("expected canonical dm id, got %q vs %q", a, b)
	}
}

func TestDMGroupUsesFixedPolicy(t *testing.T) {
	alice := mustInstallation(t, ids.InboxID("xmtp1alice"))
	g, _, _ := Create(ids.GroupID("grp1dm"), ConversationTypeDM, alice, nil, 1, MutableMetadata{}, nil, 1000)
	if len(g.AdminList) != 0 || len(g.SuperAdminList) != 0 {
		t.Fatal("expected empty admin lists for DM group")
	}
	if g.Policy[ActionAddMember] != PermissionSuperAdminOnly {
		t.Fatalf("got %q, want super_admin_only (no one else may add to a dm)", g.Policy[ActionAddMember])
	}
}
