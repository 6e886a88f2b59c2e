package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/design-smith/vocalbridge/pkg/idempotency"
	"github.com/design-smith/vocalbridge/pkg/retry"
	"github.com/design-smith/vocalbridge/pkg/store"
	"github.com/design-smith/vocalbridge/pkg/vendor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       3,
		PerAttemptTimeout: time.Second,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		JitterFraction:    0,
	}
}

type fixture struct {
	s        *store.MemoryStore
	vendors  *vendor.Registry
	pipeline *Pipeline
}

func newFixture(t *testing.T, vendorA, vendorB vendor.Adapter) fixture {
	t.Helper()
	s := store.NewMemoryStore()
	reg := vendor.NewRegistry()
	if vendorA != nil {
		reg.Register(vendorA)
	}
	if vendorB != nil {
		reg.Register(vendorB)
	}

	idem := idempotency.NewProtocol(s, nil, testLogger(), time.Minute, idempotency.Ignore)
	p := New(s, idem, reg, fastPolicy(), nil, testLogger())

	fallbackVendor := ""
	if vendorB != nil {
		fallbackVendor = "vendorB"
	}
	s.SeedAgent(store.Agent{ID: "agent-1", TenantID: "t1", Name: "support", PrimaryVendor: "vendorA", FallbackVendor: fallbackVendor, SystemPrompt: "be helpful"})
	s.SeedSession(store.Session{ID: "sess-1", TenantID: "t1", AgentID: "agent-1", CustomerID: "cust-1", Status: store.SessionActive})

	return fixture{s: s, vendors: reg, pipeline: p}
}

func TestSendHappyPath(t *testing.T) {
	fx := newFixture(t, &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Response: &vendor.NormalizedResponse{Text: "hello back", TokensIn: 10, TokensOut: 20}}},
	}, nil)

	env, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hello", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if env.Message.Content != "hello back" {
		t.Errorf("Content = %q, want %q", env.Message.Content, "hello back")
	}
	if env.Metadata.ProviderUsed != "vendorA" {
		t.Errorf("ProviderUsed = %q, want vendorA", env.Metadata.ProviderUsed)
	}
	if env.Metadata.FallbackUsed {
		t.Error("FallbackUsed = true, want false")
	}
	if env.Metadata.Usage.CostUSD != 0.00006 {
		t.Errorf("CostUSD = %v, want 0.00006", env.Metadata.Usage.CostUSD)
	}
	if env.Metadata.Idempotency.Replayed {
		t.Error("Replayed = true on first send")
	}

	usage := fx.s.UsageEvents()
	if len(usage) != 1 {
		t.Fatalf("len(usage) = %d, want 1", len(usage))
	}

	msgs, _ := fx.s.ListSessionMessagesAscending(context.Background(), "t1", "sess-1")
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (user + assistant)", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Errorf("message roles = %v, %v; want user, assistant", msgs[0].Role, msgs[1].Role)
	}
}

func TestSendRetryThenSuccess(t *testing.T) {
	fx := newFixture(t, &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results: []vendor.FakeResult{
			{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "INTERNAL"}},
			{Response: &vendor.NormalizedResponse{Text: "recovered", TokensIn: 5, TokensOut: 5}},
		},
	}, nil)

	env, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if env.Message.Content != "recovered" {
		t.Errorf("Content = %q, want recovered", env.Message.Content)
	}
	if len(env.Metadata.Attempts) != 2 {
		t.Errorf("len(Attempts) = %d, want 2", len(env.Metadata.Attempts))
	}

	attempts := fx.s.AttemptLogEntries()
	if len(attempts) != 2 {
		t.Errorf("len(attempt log) = %d, want 2", len(attempts))
	}
}

func TestSendFallsBackToSecondaryVendor(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "INTERNAL"}}},
	}
	secondary := &vendor.FakeAdapter{
		VendorName: "vendorB",
		Results:    []vendor.FakeResult{{Response: &vendor.NormalizedResponse{Text: "from B", TokensIn: 1, TokensOut: 1}}},
	}
	fx := newFixture(t, primary, secondary)

	env, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if env.Metadata.ProviderUsed != "vendorB" {
		t.Errorf("ProviderUsed = %q, want vendorB", env.Metadata.ProviderUsed)
	}
	if !env.Metadata.FallbackUsed {
		t.Error("FallbackUsed = false, want true")
	}
	if primary.Calls != 3 {
		t.Errorf("primary.Calls = %d, want 3", primary.Calls)
	}
	if secondary.Calls != 1 {
		t.Errorf("secondary.Calls = %d, want 1", secondary.Calls)
	}
}

func TestSendAllProvidersFailedDoesNotMaterializeResponse(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "INTERNAL"}}},
	}
	secondary := &vendor.FakeAdapter{
		VendorName: "vendorB",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 503, ErrorCode: "UNAVAILABLE"}}},
	}
	fx := newFixture(t, primary, secondary)

	_, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-1",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if usage := fx.s.UsageEvents(); len(usage) != 0 {
		t.Errorf("len(usage) = %d, want 0 on total failure", len(usage))
	}

	msgs, _ := fx.s.ListSessionMessagesAscending(context.Background(), "t1", "sess-1")
	for _, m := range msgs {
		if m.Role == store.RoleAssistant {
			t.Error("assistant message recorded on total failure")
		}
	}

	// The idempotency key was not completed, so a retry is permitted and
	// independently re-runs the full send.
	primary.Calls, secondary.Calls = 0, 0
	primary.Results = []vendor.FakeResult{{Response: &vendor.NormalizedResponse{Text: "second try", TokensIn: 1, TokensOut: 1}}}
	env, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-2",
	})
	if err != nil {
		t.Fatalf("retry Send() error: %v", err)
	}
	if env.Message.Content != "second try" {
		t.Errorf("Content = %q, want %q", env.Message.Content, "second try")
	}
}

func TestSendReplaysCompletedIdempotencyKey(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Response: &vendor.NormalizedResponse{Text: "only once", TokensIn: 1, TokensOut: 1}}},
	}
	fx := newFixture(t, primary, nil)

	first, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("first Send() error: %v", err)
	}

	second, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-2",
	})
	if err != nil {
		t.Fatalf("second Send() error: %v", err)
	}

	if !second.Metadata.Idempotency.Replayed {
		t.Error("second send: Replayed = false, want true")
	}
	if second.Message.ID != first.Message.ID {
		t.Errorf("replayed message ID = %q, want %q", second.Message.ID, first.Message.ID)
	}
	if primary.Calls != 1 {
		t.Errorf("primary.Calls = %d, want 1 (no vendor call on replay)", primary.Calls)
	}
	if usage := fx.s.UsageEvents(); len(usage) != 1 {
		t.Errorf("len(usage) = %d, want 1 (no double billing on replay)", len(usage))
	}
}

func TestSendMissingIdempotencyKeyRejected(t *testing.T) {
	fx := newFixture(t, &vendor.FakeAdapter{VendorName: "vendorA"}, nil)

	_, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "sess-1", IdempotencyKey: "", UserContent: "hi", RequestID: "req-1",
	})
	if err == nil {
		t.Fatal("expected error for missing idempotency key")
	}
}

func TestSendUnknownSessionReturnsNotFound(t *testing.T) {
	fx := newFixture(t, &vendor.FakeAdapter{VendorName: "vendorA"}, nil)

	_, err := fx.pipeline.Send(context.Background(), SendInput{
		TenantID: "t1", SessionID: "does-not-exist", IdempotencyKey: "key-1", UserContent: "hi", RequestID: "req-1",
	})
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}
