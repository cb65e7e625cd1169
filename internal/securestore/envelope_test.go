package securestore

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("a sync archive one-shot key")
	data, err := Encrypt("passphrase", plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	got, err := Decrypt("passphrase", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsWrongPassphrase(t *testing.T) {
	data, err := Encrypt("correct", []byte("secret bytes"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt("incorrect", data); err == nil {
		t.Fatal("expected authentication failure for wrong passphrase")
	}
}

func TestDecryptRejectsLegacyPlaintext(t *testing.T) {
	if _, err := Decrypt("anything", []byte("not an envelope")); err != ErrLegacyData {
		t.Fatalf("expected ErrLegacyData, got %v", err)
	}
}

func TestEncryptEnvelopeRejectsDowngradedKDF(t *testing.T) {
	env, err := EncryptEnvelope("pass", []byte("data"))
	if err != nil {
		t.Fatalf("encrypt envelope failed: %v", err)
	}
	downgraded := *env
	downgraded.KDFMemoryKB = 1024
	if _, err := DecryptEnvelope("pass", &downgraded); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for downgraded kdf params, got %v", err)
	}
}

func TestDecryptEnvelopeRejectsMalformedSalt(t *testing.T) {
	env, err := EncryptEnvelope("pass", []byte("data"))
	if err != nil {
		t.Fatalf("encrypt envelope failed: %v", err)
	}
	malformed := *env
	malformed.Salt = []byte{1, 2, 3}
	if _, err := DecryptEnvelope("pass", &malformed); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for malformed salt, got %v", err)
	}
}
