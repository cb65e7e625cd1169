package intent

import "testing"

func TestNewIntentStartsToPublish(t *testing.T) {
	i := New("grp1test", KindSendMessage, nil, 100)
	if i.State != StateToPublish {
		t.Fatalf("got state %q, want to_publish", i.State)
	}
	if i.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestMarkStagedThenConfirm(t *testing.T) {
	i := New("grp1test", KindSendMessage, nil, 100)
	if err := i.MarkStaged("hash1", []byte("commit"), "send-welcome"); err != nil {
		t.Fatalf("mark staged failed: %v", err)
	}
	if i.State != StatePublished {
		t.Fatalf("got state %q, want published", i.State)
	}
	if err := i.Confirm(); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if i.State != StateCommitted {
		t.Fatalf("got state %q, want committed", i.State)
	}
}

func TestRewindIncrementsAttemptsAndResets(t *testing.T) {
	i := New("grp1test", KindSendMessage, nil, 100)
	_ = i.MarkStaged("hash1", []byte("commit"), "")
	if err := i.Rewind(1); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}
	if i.State != StateToPublish || i.PublishAttempts != 1 || i.GroupEpoch != 1 {
		t.Fatalf("unexpected state after rewind: %+v", i)
	}
	if i.StagedCommitBytes != nil {
		t.Fatal("expected staged commit to be cleared on rewind")
	}
}

func TestRewindTransitionsToErrorAfterMaxAttempts(t *testing.T) {
	i := New("grp1test", KindSendMessage, nil, 100)
	i.PublishAttempts = MaxPublishAttempts - 1
	if err := i.Rewind(2); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}
	if i.State != StateError {
		t.Fatalf("got state %q, want error after %d attempts", i.State, MaxPublishAttempts)
	}
}

func TestPayloadHashDeterministic(t *testing.T) {
	a := PayloadHash([]byte("hello"))
	b := PayloadHash([]byte("hello"))
	if a != b {
		t.Fatal("expected deterministic payload hash")
	}
	if a == PayloadHash([]byte("other")) {
		t.Fatal("expected distinct payloads to hash differently")
	}
}
