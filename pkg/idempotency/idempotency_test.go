package idempotency

import (
	"context"
	"log/slog"
	"testing"

	"github.com/design-smith/vocalbridge/pkg/store"
)

func newTestProtocol() (*Protocol, *store.MemoryStore) {
	s := store.NewMemoryStore()
	logger := slog.Default()
	return NewProtocol(s, nil, logger, 0, Ignore), s
}

func TestBeginFreshKeyInserts(t *testing.T) {
	p, _ := newTestProtocol()
	ctx := context.Background()

	result, err := p.Begin(ctx, "t1", "K1", nil, Fingerprint("t1", "s1", "hello"))
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if result.Replayed {
		t.Error("fresh key should not be replayed")
	}
}

func TestBeginReplaysCompletedKey(t *testing.T) {
	p, _ := newTestProtocol()
	ctx := context.Background()

	fp := Fingerprint("t1", "s1", "hello")
	if _, err := p.Begin(ctx, "t1", "K1", nil, fp); err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	if err := p.Complete(ctx, "t1", "K1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Complete(): %v", err)
	}

	result, err := p.Begin(ctx, "t1", "K1", nil, Fingerprint("t1", "s1", "world"))
	if err != nil {
		t.Fatalf("Begin() replay error: %v", err)
	}
	if !result.Replayed {
		t.Error("expected replay=true for completed key")
	}
	if string(result.Response) != `{"ok":true}` {
		t.Errorf("unexpected replayed response: %s", result.Response)
	}
}

func TestBeginInFlightReturnsConflict(t *testing.T) {
	p, s := newTestProtocol()
	ctx := context.Background()

	// Simulate a concurrent in-flight request by inserting a placeholder
	// directly, bypassing Begin's own insert.
	if _, err := s.IdempotencyInsert(ctx, "t1", "send_message", "K2", nil, "fp"); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	_, err := p.Begin(ctx, "t1", "K2", nil, "fp")
	if err != ErrInFlight {
		t.Errorf("expected ErrInFlight, got %v", err)
	}
}

func TestBeginFingerprintMismatchIgnoredByDefault(t *testing.T) {
	p, _ := newTestProtocol()
	ctx := context.Background()

	if _, err := p.Begin(ctx, "t1", "K1", nil, "fp-original"); err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	if err := p.Complete(ctx, "t1", "K1", []byte(`{}`)); err != nil {
		t.Fatalf("Complete(): %v", err)
	}

	result, err := p.Begin(ctx, "t1", "K1", nil, "fp-different")
	if err != nil {
		t.Fatalf("expected mismatch to be ignored, got error: %v", err)
	}
	if !result.Replayed {
		t.Error("expected replay despite fingerprint mismatch under Ignore policy")
	}
}

func TestBeginFingerprintMismatchFailClosed(t *testing.T) {
	s := store.NewMemoryStore()
	p := NewProtocol(s, nil, slog.Default(), 0, FailClosed)
	ctx := context.Background()

	if _, err := p.Begin(ctx, "t1", "K1", nil, "fp-original"); err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	if err := p.Complete(ctx, "t1", "K1", []byte(`{}`)); err != nil {
		t.Fatalf("Complete(): %v", err)
	}

	_, err := p.Begin(ctx, "t1", "K1", nil, "fp-different")
	if err != ErrFingerprintMismatch {
		t.Errorf("expected ErrFingerprintMismatch, got %v", err)
	}
}
