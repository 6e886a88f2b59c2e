package retry

import (
	"context"
	"testing"
	"time"

	"github.com/design-smith/vocalbridge/pkg/vendor"
)

type recordingObserver struct {
	attempts []Attempt
}

func (r *recordingObserver) OnAttempt(_ context.Context, a Attempt) {
	r.attempts = append(r.attempts, a)
}

func noSleep(_ context.Context, _ time.Duration) {}

func fixedJitter() float64 { return 0.5 } // midpoint => zero jitter offset

func TestRunHappyPath(t *testing.T) {
	adapter := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results: []vendor.FakeResult{
			{Response: &vendor.NormalizedResponse{Text: "hi", TokensIn: 100, TokensOut: 200}},
		},
	}
	obs := &recordingObserver{}

	result := run(context.Background(), adapter, vendor.NormalizedRequest{}, DefaultPolicy(), obs, noSleep, fixedJitter)

	if result.Failure != nil {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if result.Response == nil || result.Response.Text != "hi" {
		t.Fatalf("unexpected response: %+v", result.Response)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(result.Attempts))
	}
	if result.Attempts[0].RetryIndex != 0 || result.Attempts[0].Outcome != OutcomeSuccess {
		t.Errorf("unexpected attempt: %+v", result.Attempts[0])
	}
	if len(obs.attempts) != 1 {
		t.Errorf("observer saw %d attempts, want 1", len(obs.attempts))
	}
}

func TestRunRetryThenSuccess(t *testing.T) {
	adapter := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results: []vendor.FakeResult{
			{Failure: &vendor.Failure{StatusCode: 503, ErrorCode: "SERVER_ERROR"}},
			{Failure: &vendor.Failure{StatusCode: 503, ErrorCode: "SERVER_ERROR"}},
			{Response: &vendor.NormalizedResponse{Text: "ok"}},
		},
	}

	result := run(context.Background(), adapter, vendor.NormalizedRequest{}, DefaultPolicy(), nil, noSleep, fixedJitter)

	if result.Failure != nil {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(result.Attempts))
	}
	for i, a := range result.Attempts {
		if a.RetryIndex != i {
			t.Errorf("attempt %d has RetryIndex %d", i, a.RetryIndex)
		}
	}
	if result.Attempts[2].Outcome != OutcomeSuccess {
		t.Errorf("final attempt should be success, got %v", result.Attempts[2].Outcome)
	}
}

func TestRunNonRetryableStopsImmediately(t *testing.T) {
	adapter := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results: []vendor.FakeResult{
			{Failure: &vendor.Failure{StatusCode: 400, ErrorCode: "BAD_REQUEST"}},
		},
	}

	result := run(context.Background(), adapter, vendor.NormalizedRequest{}, DefaultPolicy(), nil, noSleep, fixedJitter)

	if result.Response != nil {
		t.Fatalf("expected no response")
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (non-retryable stops immediately)", len(result.Attempts))
	}
}

func TestRunExhaustsMaxAttempts(t *testing.T) {
	adapter := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results: []vendor.FakeResult{
			{Failure: &vendor.Failure{StatusCode: 503, ErrorCode: "SERVER_ERROR"}},
		},
	}

	result := run(context.Background(), adapter, vendor.NormalizedRequest{}, DefaultPolicy(), nil, noSleep, fixedJitter)

	if len(result.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3 (default maxAttempts)", len(result.Attempts))
	}
	if result.Failure == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
}

func TestRunMaxAttemptsOneDisablesRetry(t *testing.T) {
	adapter := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results: []vendor.FakeResult{
			{Failure: &vendor.Failure{StatusCode: 503, ErrorCode: "SERVER_ERROR"}},
		},
	}

	policy := DefaultPolicy()
	policy.MaxAttempts = 1

	result := run(context.Background(), adapter, vendor.NormalizedRequest{}, policy, nil, noSleep, fixedJitter)

	if len(result.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(result.Attempts))
	}
}

func TestBackoffForHonorsRetryAfterWithoutJitter(t *testing.T) {
	policy := DefaultPolicy()
	failure := &vendor.Failure{RetryAfterMs: 750}

	d := backoffFor(policy, 0, failure, func() float64 { return 0.99 })

	if d != 750*time.Millisecond {
		t.Errorf("backoffFor() = %v, want 750ms exactly (no jitter with retryAfterMs)", d)
	}
}

func TestBackoffForExponentialWithinJitterBounds(t *testing.T) {
	policy := DefaultPolicy() // base 200ms, max 10s, jitter 0.1

	for i, want := range []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond} {
		lo := time.Duration(float64(want) * 0.9)
		hi := time.Duration(float64(want) * 1.1)

		dLow := backoffFor(policy, i, nil, func() float64 { return 0 })
		dHigh := backoffFor(policy, i, nil, func() float64 { return 1 })

		if dLow < lo || dLow > hi {
			t.Errorf("attempt %d low-jitter backoff %v out of [%v,%v]", i, dLow, lo, hi)
		}
		if dHigh < lo || dHigh > hi {
			t.Errorf("attempt %d high-jitter backoff %v out of [%v,%v]", i, dHigh, lo, hi)
		}
	}
}

func TestBackoffForCapsAtMaxBackoff(t *testing.T) {
	policy := DefaultPolicy()
	d := backoffFor(policy, 10, nil, fixedJitter) // 200ms * 2^10 far exceeds 10s cap
	if d > policy.MaxBackoff {
		t.Errorf("backoffFor() = %v, want capped at %v", d, policy.MaxBackoff)
	}
}
