package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestAESGCMRoundTrip(t *testing.T) {
	key := make([]byte, AESKeySize)
	_, _ = rand.Read(key)
	nonce, ct, err := AESGCMEncrypt(key, []byte("hello epoch secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	pt, err := AESGCMDecrypt(key, nonce, ct)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(pt, []byte("hello epoch secret")) {
		t.Fatalf("got %q", pt)
	}
}

func TestDeriveEpochKeyDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	a := DeriveEpochKey(secret, "sync-archive", 3, "MLS_EXPORT")
	b := DeriveEpochKey(secret, "sync-archive", 3, "MLS_EXPORT")
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic derivation")
	}
	c := DeriveEpochKey(secret, "sync-archive", 4, "MLS_EXPORT")
	if bytes.Equal(a, c) {
		t.Fatal("expected different epochs to derive different keys")
	}
}

func TestSealOpenCurve25519RoundTrip(t *testing.T) {
	recipientPriv := make([]byte, 32)
	_, _ = rand.Read(recipientPriv)
	recipientPub, err := X25519PublicFromSeed(recipientPriv)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}

	sealed, err := SealCurve25519(recipientPub, []byte("welcome payload"), "MLS_WELCOME")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	opened, err := OpenCurve25519(recipientPriv, sealed, "MLS_WELCOME")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, []byte("welcome payload")) {
		t.Fatalf("got %q", opened)
	}
}

func TestOpenCurve25519RejectsWrongLabel(t *testing.T) {
	recipientPriv := make([]byte, 32)
	_, _ = rand.Read(recipientPriv)
	recipientPub, _ := X25519PublicFromSeed(recipientPriv)
	sealed, err := SealCurve25519(recipientPub, []byte("payload"), "MLS_WELCOME")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := OpenCurve25519(recipientPriv, sealed, "MLS_OTHER"); err == nil {
		t.Fatal("expected authentication failure for mismatched label")
	}
}
