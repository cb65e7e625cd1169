package devicesync

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/xmtp-core/libxmtp-go/internal/crypto"
	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	"github.com/xmtp-core/libxmtp-go/internal/mls"
	"github.com/xmtp-core/libxmtp-go/internal/wire"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// BackupElementKind values for the archive's length-prefixed element
// stream, per spec §4.5.
const (
	ElementGroup   = "group"
	ElementMessage = "message"
	ElementConsent = "consent"
)

// ExportedArchive is a sealed device-sync archive ready to publish at the
// URL a SyncReply points to.
type ExportedArchive struct {
	Header ArchiveKeyMaterial
	Body   []byte
}

// ArchiveKeyMaterial bundles the one-shot key and header the SyncReply
// carries so the requester can decrypt the archive body.
type ArchiveKeyMaterial struct {
	Key    []byte
	Header wire.ArchiveHeader
}

// BuildArchiveKeyMaterial generates a fresh one-shot ChaCha20-Poly1305 key
// and archive header, the per-export material a SyncReply embeds.
func BuildArchiveKeyMaterial() (ArchiveKeyMaterial, error) {
	key, err := crypto.RandomChaChaKey()
	if err != nil {
		return ArchiveKeyMaterial{}, err
	}
	var seed [12]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return ArchiveKeyMaterial{}, fmt.Errorf("devicesync: generate nonce seed: %w", err)
	}
	return ArchiveKeyMaterial{Key: key, Header: wire.NewArchiveHeader(seed)}, nil
}

// ExportArchive serializes every group, message, and consent record this
// repo holds into a sealed, length-prefixed frame stream, per spec §4.5's
// archive format: a plaintext ArchiveHeader followed by ChaCha20-Poly1305
// frames whose nonces are derived from the header's seed and frame index.
func ExportArchive(repo *grouprepo.Repo, material ArchiveKeyMaterial, consents ConsentLister) ([]byte, error) {
	elements, err := collectElements(repo)
	if err != nil {
		return nil, err
	}
	if consents != nil {
		records, err := consents.ListConsent()
		if err != nil {
			return nil, fmt.Errorf("devicesync: list consent: %w", err)
		}
		for _, rec := range records {
			payload, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("devicesync: marshal consent record: %w", err)
			}
			elements = append(elements, xmtptypes.BackupElement{Kind: ElementConsent, Payload: payload})
		}
	}

	out := make([]byte, 0, len(elements)*64)
	out = append(out, material.Header.Marshal()...)

	for i, el := range elements {
		plaintext, err := json.Marshal(el)
		if err != nil {
			return nil, fmt.Errorf("devicesync: encode backup element: %w", err)
		}
		nonce := wire.FrameNonce(material.Header.NonceSeed, uint32(i))
		sealed, err := crypto.ChaChaSealAt(material.Key, nonce, plaintext)
		if err != nil {
			return nil, fmt.Errorf("devicesync: seal frame %d: %w", i, err)
		}
		out = append(out, wire.EncodeFrame(sealed)...)
	}
	return out, nil
}

// ConsentLister exposes the consent rows a repo holds so ExportArchive can
// include them as ElementConsent backup elements. ExportArchive does not read
// consent from repo itself; callers pass a lister (internal/consent.Mirror,
// or grouprepo.Repo, which has a ListConsent method of the same shape);
// nil means "skip consent export".
type ConsentLister interface {
	ListConsent() ([]xmtptypes.ConsentRecord, error)
}

func collectElements(repo *grouprepo.Repo) ([]xmtptypes.BackupElement, error) {
	elements := make([]xmtptypes.BackupElement, 0)

	groups, err := repo.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("devicesync: list groups: %w", err)
	}
	for _, g := range groups {
		payload, err := g.Marshal()
		if err != nil {
			return nil, fmt.Errorf("devicesync: marshal group %s: %w", g.GroupID, err)
		}
		elements = append(elements, xmtptypes.BackupElement{Kind: ElementGroup, GroupID: string(g.GroupID), Payload: payload})

		messages, err := repo.ListMessages(g.GroupID)
		if err != nil {
			return nil, fmt.Errorf("devicesync: list messages for %s: %w", g.GroupID, err)
		}
		for _, m := range messages {
			payload, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("devicesync: marshal message %s: %w", m.ID, err)
			}
			elements = append(elements, xmtptypes.BackupElement{Kind: ElementMessage, GroupID: string(g.GroupID), Payload: payload})
		}
	}
	return elements, nil
}

// ImportArchive reverses ExportArchive into repo: it decrypts each frame,
// dispatches on BackupElement.Kind, and merges groups and messages per
// restoreElement. Consent elements are handed to onConsent when it is
// non-nil, for the caller to mirror into its own consent store (spec §4.5's
// consent-mirroring step); with a nil onConsent they are merged into repo
// under the insert-if-newer rule.
func ImportArchive(repo *grouprepo.Repo, material ArchiveKeyMaterial, body []byte, onConsent func(xmtptypes.ConsentRecord) error) error {
	if len(body) < 13 {
		return fmt.Errorf("devicesync: archive body too short: %d bytes", len(body))
	}
	header, err := wire.UnmarshalArchiveHeader(body[:13])
	if err != nil {
		return fmt.Errorf("devicesync: parse archive header: %w", err)
	}
	if header != material.Header {
		return fmt.Errorf("devicesync: archive header does not match key material")
	}

	rest := body[13:]
	for i := 0; len(rest) > 0; i++ {
		sealed, consumed, err := wire.DecodeFrame(rest)
		if err != nil {
			return fmt.Errorf("devicesync: decode frame %d: %w", i, err)
		}
		rest = rest[consumed:]

		nonce := wire.FrameNonce(material.Header.NonceSeed, uint32(i))
		plaintext, err := crypto.ChaChaOpenAt(material.Key, nonce, sealed)
		if err != nil {
			return fmt.Errorf("devicesync: open frame %d: %w", i, err)
		}

		var el xmtptypes.BackupElement
		if err := json.Unmarshal(plaintext, &el); err != nil {
			return fmt.Errorf("devicesync: decode backup element %d: %w", i, err)
		}
		if err := restoreElement(repo, el, onConsent); err != nil {
			return fmt.Errorf("devicesync: restore element %d: %w", i, err)
		}
	}
	return nil
}

// restoreElement applies one decoded backup element using the merge
// strategy spec §4.5 assigns its kind: groups are "insert if missing" (an
// existing local group row always wins, since it may be ahead of the
// archive's snapshot), messages are "store-or-ignore" (never overwrite a
// row that's already there), and consent is "insert if newer" (the same
// UpdatedAt comparison internal/consent's live sync-group mirroring uses).
func restoreElement(repo *grouprepo.Repo, el xmtptypes.BackupElement, onConsent func(xmtptypes.ConsentRecord) error) error {
	switch el.Kind {
	case ElementGroup:
		g, err := mls.Unmarshal(el.Payload)
		if err != nil {
			return fmt.Errorf("decode group: %w", err)
		}
		if _, err := repo.LoadGroup(g.GroupID); err == nil {
			return nil
		} else if err != kv.ErrNotFound {
			return fmt.Errorf("check existing group %s: %w", g.GroupID, err)
		}
		return repo.SaveGroup(g)
	case ElementMessage:
		var m grouprepo.Message
		if err := json.Unmarshal(el.Payload, &m); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		if _, err := repo.LoadMessage(m.GroupID, m.ID); err == nil {
			return nil
		} else if err != kv.ErrNotFound {
			return fmt.Errorf("check existing message %s: %w", m.ID, err)
		}
		return repo.SaveMessage(&m)
	case ElementConsent:
		var rec xmtptypes.ConsentRecord
		if err := json.Unmarshal(el.Payload, &rec); err != nil {
			return fmt.Errorf("decode consent: %w", err)
		}
		if onConsent != nil {
			return onConsent(rec)
		}
		current, err := repo.GetConsent(rec.EntityType, rec.Entity)
		if err != nil {
			return fmt.Errorf("check existing consent for %s: %w", rec.Entity, err)
		}
		if !rec.UpdatedAt.After(current.UpdatedAt) {
			return nil
		}
		return repo.PutConsent(rec)
	default:
		return fmt.Errorf("unknown backup element kind %q", el.Kind)
	}
}
