// Package crypto holds the symmetric and ECIES primitives the MLS engine and
// device-sync archive build on, grounded on mlsgit's internal/crypto package
// (symmetric.go, ecies.go) but generalized for multiple groups/epochs
// instead of mlsgit's single repo-scoped group.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	AESKeySize = 32
	IVSize     = 12
	TagSize    = 16
)

// DeriveEpochKey derives a per-purpose AES-256 key from an MLS epoch secret,
// matching mlsgit's DeriveFileKey construction:
// HKDF-SHA256(secret=epochSecret, salt=purpose, info=label||epoch_be64).
func DeriveEpochKey(epochSecret []byte, purpose string, epoch uint64, label string) []byte {
	salt := []byte(purpose)
	info := make([]byte, len(label)+8)
	copy(info, label)
	binary.BigEndian.PutUint64(info[len(label):], epoch)

	r := hkdf.New(sha256.New, epochSecret, salt, info)
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("crypto: hkdf derive epoch key: %v", err))
	}
	return key
}

// AESGCMEncrypt encrypts plaintext with AES-256-GCM under a random nonce.
func AESGCMEncrypt(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: random nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// AESGCMDecrypt decrypts a ciphertext produced by AESGCMEncrypt.
func AESGCMDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm open: %w", err)
	}
	return plaintext, nil
}
