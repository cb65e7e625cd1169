package welcomewrap

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/xmtp-core/libxmtp-go/internal/crypto"
)

func TestCurve25519WrapperRoundTrip(t *testing.T) {
	priv := make([]byte, 32)
	_, _ = rand.Read(priv)
	pub, err := crypto.X25519PublicFromSeed(priv)
	if err != nil {
		t.Fatalf("derive pub: %v", err)
	}

	w := Curve25519Wrapper{}
	sealed, err := w.Seal(pub, []byte("welcome body"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	opened, err := w.Open(priv, sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, []byte("welcome body")) {
		t.Fatalf("got %q", opened)
	}
}

func TestXWingHybridWrapperSealsBodyAndMetadataIndependently(t *testing.T) {
	priv := make([]byte, 32)
	_, _ = rand.Read(priv)
	pub, _ := crypto.X25519PublicFromSeed(priv)

	w := XWingHybridWrapper{}
	sealedBody, err := w.Seal(pub, []byte("body"))
	if err != nil {
		t.Fatalf("seal body: %v", err)
	}
	sealedMeta, err := w.SealMetadata(pub, []byte("meta"))
	if err != nil {
		t.Fatalf("seal metadata: %v", err)
	}

	if _, err := w.OpenMetadata(priv, sealedBody); err == nil {
		t.Fatal("expected body ciphertext to not decrypt as metadata (distinct labels)")
	}

	body, err := w.Open(priv, sealedBody)
	if err != nil || !bytes.Equal(body, []byte("body")) {
		t.Fatalf("open body failed: %v %q", err, body)
	}
	meta, err := w.OpenMetadata(priv, sealedMeta)
	if err != nil || !bytes.Equal(meta, []byte("meta")) {
		t.Fatalf("open metadata failed: %v %q", err, meta)
	}
}

func TestSelectUnknownAlgorithm(t *testing.T) {
	if _, err := Select("bogus"); err == nil {
		t.Fatal("expected error for unknown wrapper algorithm")
	}
}
