package xmtperrors

import (
	"errors"
	"testing"
)

func TestCodedErrorRendersStableCode(t *testing.T) {
	err := New("Association", "BadSignature", CategoryCrypto, "signature did not verify", nil)
	if got, want := err.Code(), "Association::BadSignature"; got != want {
		t.Fatalf("Code() = %q, want %q", got, want)
	}
	if got, want := err.Error(), "[Association::BadSignature] signature did not verify"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCodedErrorDefaultsMessageFromCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("MLS", "WrongEpoch", CategoryValidation, "", cause)
	if err.Message != "boom" {
		t.Fatalf("expected message to default to cause, got %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to unwrap to cause")
	}
}

func TestCodedErrorIsMatchesByModuleAndVariant(t *testing.T) {
	sentinel := Sentinel("Intent", "Error", CategoryStorage, "publish attempts exhausted")
	wrapped := New("Intent", "Error", CategoryStorage, "", errors.New("k=5 attempts exceeded"))
	if !errors.Is(wrapped, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel by module+variant")
	}
	other := Sentinel("Intent", "Rewound", CategoryStorage, "epoch bumped")
	if errors.Is(wrapped, other) {
		t.Fatalf("did not expect wrapped error to match a different variant")
	}
}

func TestAsExtractsCodedError(t *testing.T) {
	coded := New("Stream", "MessageAlreadyProcessed", CategoryStorage, "dup", nil)
	wrapped := errors_Wrap(coded)
	got, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected As to find the wrapped CodedError")
	}
	if got.Code() != "Stream::MessageAlreadyProcessed" {
		t.Fatalf("unexpected code: %s", got.Code())
	}
}

func errors_Wrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
