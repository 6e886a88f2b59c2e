package store

import (
	"context"
	"testing"
)

func TestMemoryStoreTenantIsolation(t *testing.T) {
	m := NewMemoryStore()
	m.SeedAgent(Agent{ID: "a1", TenantID: "t1", Name: "agent-1"})

	ctx := context.Background()
	if _, err := m.FindAgent(ctx, "t2", "a1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound when querying a1 under wrong tenant, got %v", err)
	}
	if _, err := m.FindAgent(ctx, "t1", "a1"); err != nil {
		t.Errorf("expected to find a1 under correct tenant, got %v", err)
	}
}

func TestMemoryStoreIdempotencyInsertConflict(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	first, err := m.IdempotencyInsert(ctx, "t1", "send_message", "K1", nil, "fp1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Inserted {
		t.Fatal("expected first insert to succeed")
	}

	second, err := m.IdempotencyInsert(ctx, "t1", "send_message", "K1", nil, "fp2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Inserted {
		t.Error("expected second insert to report conflict, not fresh insert")
	}
	if second.Record.RequestFingerprint != "fp1" {
		t.Errorf("conflicting record should retain original fingerprint, got %q", second.Record.RequestFingerprint)
	}
}

func TestMemoryStoreIdempotencyCompleteOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, err := m.IdempotencyInsert(ctx, "t1", "send_message", "K1", nil, "fp1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := m.IdempotencyComplete(ctx, "t1", "send_message", "K1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := m.IdempotencyComplete(ctx, "t1", "send_message", "K1", []byte(`{"ok":true}`)); err == nil {
		t.Error("expected second completion to fail")
	}
}

func TestMemoryStoreMessageOrdering(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.SeedSession(Session{ID: "s1", TenantID: "t1", AgentID: "a1"})

	if _, err := m.AppendMessage(ctx, "t1", "s1", RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := m.AppendMessage(ctx, "t1", "s1", RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := m.ListSessionMessagesAscending(ctx, "t1", "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("unexpected ordering: %+v", msgs)
	}
}

func TestMemoryStoreRecordUsageDuplicateRequestID(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	event := UsageEvent{SessionID: "s1", AgentID: "a1", Vendor: "vendorA", RequestID: "r1"}
	if err := m.RecordUsage(ctx, "t1", event); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := m.RecordUsage(ctx, "t1", event); err == nil {
		t.Error("expected duplicate request id to fail")
	}
}
