package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMetadataRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveMetadata(ctx, "schema_version", "3"); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}
	v, err := s.GetMetadata(ctx, "schema_version")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if v != "3" {
		t.Errorf("value = %q, want %q", v, "3")
	}

	// Missing keys come back empty without error.
	v, err = s.GetMetadata(ctx, "missing")
	if err != nil {
		t.Fatalf("GetMetadata for missing key failed: %v", err)
	}
	if v != "" {
		t.Errorf("missing key value = %q, want empty", v)
	}
}

func TestRetryCAS(t *testing.T) {
	calls := 0
	err := RetryCAS(func() error {
		calls++
		if calls < 2 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryCAS failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	err = RetryCAS(func() error {
		calls++
		return ErrConflict
	})
	if err != ErrBusy {
		t.Errorf("persistent conflict error = %v, want ErrBusy", err)
	}
	if calls != casRetries {
		t.Errorf("calls = %d, want %d", calls, casRetries)
	}
}

func TestNullTimeRoundtrip(t *testing.T) {
	if nullTime(time.Time{}).Valid {
		t.Error("zero time should map to NULL")
	}
	now := time.Now()
	nt := nullTime(now)
	if !nt.Valid || !fromNullTime(nt).Equal(now) {
		t.Error("non-zero time should round-trip")
	}
}
