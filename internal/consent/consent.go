// Package consent layers sync-group mirroring on top of internal/grouprepo's
// (entity_type, entity, state) consent storage (spec §3/§4.5): every local
// consent change is also published as a dedicated-content-type group message
// into the inbox's sync group, and incoming mirrored messages are applied
// locally with "newer wins" semantics. Grounded on the now-removed teacher
// internal/domains/privacy blocklist's map+mutex+persist shape, adapted here
// to ride on grouprepo's already-persisted consent rows instead of a second
// store.
package consent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// MirrorContentType is the dedicated group-message content type spec §4.5
// names for consent mirroring into the sync group.
const MirrorContentType = "xmtp.org/consent-mirror/1.0"

// Mirror wraps a Repo with sync-group publication. The zero value has no
// repo and is not usable; construct one with New.
type Mirror struct {
	repo *grouprepo.Repo
}

// New constructs a Mirror over an existing grouprepo.
func New(repo *grouprepo.Repo) *Mirror {
	return &Mirror{repo: repo}
}

// ListConsent satisfies internal/devicesync.ConsentLister, so a sync archive
// export can include every consent row this installation holds.
func (m *Mirror) ListConsent() ([]xmtptypes.ConsentRecord, error) {
	return m.repo.ListConsent()
}

// SetConsent upserts a consent record locally and returns the group message
// a caller should publish into the sync group to mirror it to the inbox's
// other installations.
func (m *Mirror) SetConsent(entityType xmtptypes.ConsentEntityType, entity string, state xmtptypes.ConsentState, nowNS int64) (*grouprepo.Message, error) {
	rec := xmtptypes.ConsentRecord{EntityType: entityType, Entity: entity, State: state, UpdatedAt: time.Unix(0, nowNS)}
	if err := m.repo.PutConsent(rec); err != nil {
		return nil, fmt.Errorf("consent: put: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("consent: encode mirror message: %w", err)
	}
	return &grouprepo.Message{
		SentAtNS:     nowNS,
		ContentBytes: payload,
		ContentType:  MirrorContentType,
		Kind:         grouprepo.MessageApplication,
	}, nil
}

// ApplyMirroredMessage applies a consent-mirror group message received from
// another of this inbox's installations, with "newer wins" semantics: a
// mirrored record older than (or equal to) the locally stored UpdatedAt is
// ignored, matching the archive-import "insert if newer" rule spec §4.5
// states for consent.
func (m *Mirror) ApplyMirroredMessage(msg grouprepo.Message) error {
	if msg.ContentType != MirrorContentType {
		return fmt.Errorf("consent: message content type %q is not a consent mirror", msg.ContentType)
	}
	var incoming xmtptypes.ConsentRecord
	if err := json.Unmarshal(msg.ContentBytes, &incoming); err != nil {
		return fmt.Errorf("consent: decode mirror message: %w", err)
	}
	current, err := m.repo.GetConsent(incoming.EntityType, incoming.Entity)
	if err != nil {
		return fmt.Errorf("consent: read current: %w", err)
	}
	if !incoming.UpdatedAt.After(current.UpdatedAt) {
		return nil
	}
	return m.repo.PutConsent(incoming)
}

// SyncGroupID derives the canonical sync-group id for an inbox, a group of
// type ConversationTypeSync containing exactly that inbox's installations,
// per spec §4.5.
func SyncGroupID(inbox ids.InboxID) ids.GroupID {
	return ids.NewGroupID([]byte("xmtp-sync-group:" + string(inbox)))
}
