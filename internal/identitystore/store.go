// Package identitystore holds one installation's long-lived state: its
// BIP-39-backed signing seed, its inbox id, its installation id, and the
// per-group cursor high-water marks the stream processor needs to resume
// after a restart (spec §3 "Installation").
package identitystore

import (
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/tyler-smith/go-bip39"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
)

var ErrInboxNotInitialized = errors.New("identitystore: inbox not initialized")

// Store is the per-installation identity and cursor state. It is safe for
// concurrent use.
type Store struct {
	mu             sync.RWMutex
	seeds          *SeedManager
	inboxID        ids.InboxID
	installationID ids.InstallationID
	keys           *DerivedKeys
	cursors        map[string]uint64
}

// NewStore creates an uninitialized store; call CreateInbox or ImportInbox
// before using it for signing. Cursor tracking works before that.
func NewStore() *Store {
	return &Store{
		seeds:   NewSeedManager(),
		cursors: make(map[string]uint64),
	}
}

// CreateInbox generates a fresh 24-word mnemonic, derives installation keys
// from it, and assigns an inbox id derived from initialIdentifier plus a
// nonce bound to the seed (so re-importing reproduces the same inbox id).
func (s *Store) CreateInbox(initialIdentifier []byte, password string) (ids.InboxID, string, error) {
	mnemonic, keys, err := s.seeds.Create(password)
	if err != nil {
		return "", "", err
	}
	return s.bindKeys(initialIdentifier, mnemonic, keys)
}

// ImportInbox restores an installation from an existing mnemonic, reproducing
// the inbox id that CreateInbox assigned on the device that generated it.
func (s *Store) ImportInbox(initialIdentifier []byte, mnemonic, password string) (ids.InboxID, error) {
	normalized, keys, err := s.seeds.Import(mnemonic, password)
	if err != nil {
		return "", err
	}
	inboxID, _, err := s.bindKeys(initialIdentifier, normalized, keys)
	return inboxID, err
}

func (s *Store) bindKeys(initialIdentifier []byte, mnemonic string, keys *DerivedKeys) (ids.InboxID, string, error) {
	seedBytes := bip39.NewSeed(mnemonic, "")
	nonce, err := deriveInboxNonce(seedBytes)
	if err != nil {
		return "", "", err
	}
	installationID, err := ids.NewInstallationID(keys.SigningPublicKey)
	if err != nil {
		return "", "", err
	}
	inboxID := ids.NewInboxID(initialIdentifier, nonce)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxID = inboxID
	s.installationID = installationID
	s.keys = keys
	return inboxID, mnemonic, nil
}

// ExportSeed reveals the mnemonic behind the current installation, subject to
// the seed manager's password-lockout policy.
func (s *Store) ExportSeed(password string) (string, error) {
	return s.seeds.Export(password)
}

// ChangePassword re-encrypts the seed envelope under a new password.
func (s *Store) ChangePassword(oldPassword, newPassword string) error {
	return s.seeds.ChangePassword(oldPassword, newPassword)
}

// InboxID returns the installation's inbox id, or "" if uninitialized.
func (s *Store) InboxID() ids.InboxID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inboxID
}

// InstallationID returns this device's installation id.
func (s *Store) InstallationID() ids.InstallationID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installationID
}

// SigningPublicKey returns a copy of the Ed25519 public key.
func (s *Store) SigningPublicKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil {
		return nil, ErrInboxNotInitialized
	}
	return append([]byte(nil), s.keys.SigningPublicKey...), nil
}

// EncryptionSeed returns a copy of the X25519 seed used for welcome wrapping.
func (s *Store) EncryptionSeed() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil {
		return nil, ErrInboxNotInitialized
	}
	return append([]byte(nil), s.keys.EncryptionSeed...), nil
}

// Sign signs payload with the installation's Ed25519 signing key.
func (s *Store) Sign(payload []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil {
		return nil, ErrInboxNotInitialized
	}
	return ed25519.Sign(ed25519.PrivateKey(s.keys.SigningPrivateKey), payload), nil
}

// Cursor returns the last sequence id processed for groupID, 0 if unseen.
func (s *Store) Cursor(groupID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[groupID]
}

// AdvanceCursor records seq as the high-water mark for groupID if it is
// greater than what's stored, matching the stream processor's
// cursor-read/compare/advance contract. Returns whether it advanced.
func (s *Store) AdvanceCursor(groupID string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.cursors[groupID] {
		return false
	}
	s.cursors[groupID] = seq
	return true
}
