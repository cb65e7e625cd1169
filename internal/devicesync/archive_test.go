package devicesync

import (
	"bytes"
	"testing"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	"github.com/xmtp-core/libxmtp-go/internal/mls"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

func newTestGroup(t *testing.T) *mls.Group {
	t.Helper()
	creator := mls.InstallationLeaf{
		InstallationID: ids.InstallationID("inst1alice"),
		InboxID:        ids.InboxID("xmtp1alice"),
		SigningKey:     bytes.Repeat([]byte{1}, 32),
		HPKEPublicKey:  bytes.Repeat([]byte{2}, 32),
	}
	g, _, err := mls.Create(ids.GroupID("grp1test"), mls.ConversationTypeGroup, creator, nil, 1, mls.MutableMetadata{Name: "test"}, nil, 1000)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return g
}

func TestExportImportArchiveRoundTrip(t *testing.T) {
	repo := grouprepo.New(kv.New())
	g := newTestGroup(t)
	if err := repo.SaveGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}
	msg := &grouprepo.Message{ID: "msg1", GroupID: g.GroupID, SequenceID: 1, ContentBytes: []byte("hi"), Kind: grouprepo.MessageApplication}
	if err := repo.SaveMessage(msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	material, err := BuildArchiveKeyMaterial()
	if err != nil {
		t.Fatalf("build key material: %v", err)
	}
	body, err := ExportArchive(repo, material, nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	restored := grouprepo.New(kv.New())
	if err := ImportArchive(restored, material, body, nil); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := restored.LoadGroup(g.GroupID)
	if err != nil {
		t.Fatalf("load restored group: %v", err)
	}
	if got.GroupID != g.GroupID || got.Metadata.Name != "test" {
		t.Fatalf("got %+v, want restored group matching original", got)
	}

	messages, err := restored.ListMessages(g.GroupID)
	if err != nil {
		t.Fatalf("list restored messages: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "msg1" {
		t.Fatalf("got %+v, want one restored message", messages)
	}
}

func TestImportArchiveDoesNotClobberExistingRows(t *testing.T) {
	source := grouprepo.New(kv.New())
	g := newTestGroup(t)
	if err := source.SaveGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}
	exportedMsg := &grouprepo.Message{ID: "msg1", GroupID: g.GroupID, SequenceID: 1, ContentBytes: []byte("archived"), Kind: grouprepo.MessageApplication}
	if err := source.SaveMessage(exportedMsg); err != nil {
		t.Fatalf("save message: %v", err)
	}
	material, err := BuildArchiveKeyMaterial()
	if err != nil {
		t.Fatalf("build key material: %v", err)
	}
	body, err := ExportArchive(source, material, nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	dest := grouprepo.New(kv.New())
	// A newer local group (epoch advanced past the archive's snapshot) must
	// survive import untouched.
	newerGroup, err := mls.Unmarshal(mustMarshal(t, g))
	if err != nil {
		t.Fatalf("unmarshal group copy: %v", err)
	}
	newerGroup.Epoch = 7
	if err := dest.SaveGroup(newerGroup); err != nil {
		t.Fatalf("save newer group: %v", err)
	}
	// An existing message at the same id must not be overwritten either.
	localMsg := &grouprepo.Message{ID: "msg1", GroupID: g.GroupID, SequenceID: 1, ContentBytes: []byte("local"), Kind: grouprepo.MessageApplication}
	if err := dest.SaveMessage(localMsg); err != nil {
		t.Fatalf("save local message: %v", err)
	}

	if err := ImportArchive(dest, material, body, nil); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	gotGroup, err := dest.LoadGroup(g.GroupID)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if gotGroup.Epoch != 7 {
		t.Fatalf("got epoch %d, want the pre-existing local group's epoch 7 preserved", gotGroup.Epoch)
	}

	messages, err := dest.ListMessages(g.GroupID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 || string(messages[0].ContentBytes) != "local" {
		t.Fatalf("got %+v, want the pre-existing local message preserved", messages)
	}
}

func TestImportArchiveConsentInsertsOnlyIfNewer(t *testing.T) {
	source := grouprepo.New(kv.New())
	material, err := BuildArchiveKeyMaterial()
	if err != nil {
		t.Fatalf("build key material: %v", err)
	}

	older := xmtptypes.ConsentRecord{EntityType: xmtptypes.ConsentEntityInboxID, Entity: "xmtp1bob", State: xmtptypes.ConsentAllowed, UpdatedAt: time.Unix(100, 0)}
	body, err := ExportArchive(source, material, fakeConsentLister{records: []xmtptypes.ConsentRecord{older}})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	dest := grouprepo.New(kv.New())
	newer := xmtptypes.ConsentRecord{EntityType: xmtptypes.ConsentEntityInboxID, Entity: "xmtp1bob", State: xmtptypes.ConsentDenied, UpdatedAt: time.Unix(200, 0)}
	if err := dest.PutConsent(newer); err != nil {
		t.Fatalf("put newer consent: %v", err)
	}

	if err := ImportArchive(dest, material, body, nil); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := dest.GetConsent(xmtptypes.ConsentEntityInboxID, "xmtp1bob")
	if err != nil {
		t.Fatalf("get consent: %v", err)
	}
	if got.State != xmtptypes.ConsentDenied {
		t.Fatalf("got state %q, want the newer local record's state %q preserved", got.State, xmtptypes.ConsentDenied)
	}
}

func mustMarshal(t *testing.T, g *mls.Group) []byte {
	t.Helper()
	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("marshal group: %v", err)
	}
	return data
}

func TestImportArchiveRejectsMismatchedKeyMaterial(t *testing.T) {
	repo := grouprepo.New(kv.New())
	g := newTestGroup(t)
	_ = repo.SaveGroup(g)

	material, _ := BuildArchiveKeyMaterial()
	body, err := ExportArchive(repo, material, nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	wrongMaterial, _ := BuildArchiveKeyMaterial()
	if err := ImportArchive(grouprepo.New(kv.New()), wrongMaterial, body, nil); err == nil {
		t.Fatal("expected import with mismatched key material to fail")
	}
}

func TestExportArchiveIncludesConsentElements(t *testing.T) {
	repo := grouprepo.New(kv.New())
	material, _ := BuildArchiveKeyMaterial()

	lister := fakeConsentLister{records: []xmtptypes.ConsentRecord{
		{EntityType: xmtptypes.ConsentEntityInboxID, Entity: "xmtp1bob", State: xmtptypes.ConsentAllowed},
	}}
	body, err := ExportArchive(repo, material, lister)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var seen []xmtptypes.ConsentRecord
	restored := grouprepo.New(kv.New())
	err = ImportArchive(restored, material, body, func(rec xmtptypes.ConsentRecord) error {
		seen = append(seen, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(seen) != 1 || seen[0].Entity != "xmtp1bob" {
		t.Fatalf("got %+v, want one mirrored consent record", seen)
	}
}

func TestHMACKeyForEpochWindowRotatesAcrossWindows(t *testing.T) {
	g := newTestGroup(t)
	a := HMACKeyForEpochWindow(g, 4)
	g.Epoch = 4
	b := HMACKeyForEpochWindow(g, 4)
	if bytes.Equal(a, b) {
		t.Fatal("expected key to rotate once epoch crosses a window boundary")
	}

	g.Epoch = 1
	c := HMACKeyForEpochWindow(g, 4)
	if !bytes.Equal(a, c) {
		t.Fatal("expected key to stay stable within the same window")
	}
}

type fakeConsentLister struct{ records []xmtptypes.ConsentRecord }

func (f fakeConsentLister) ListConsent() ([]xmtptypes.ConsentRecord, error) { return f.records, nil }
