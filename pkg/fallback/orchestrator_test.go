package fallback

import (
	"context"
	"testing"

	"github.com/design-smith/vocalbridge/pkg/retry"
	"github.com/design-smith/vocalbridge/pkg/vendor"
)

func testPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 3
	return p
}

func TestRunPrimarySuccess(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Response: &vendor.NormalizedResponse{Text: "ok"}}},
	}
	fallbackAdapter := &vendor.FakeAdapter{VendorName: "vendorB"}

	result := Run(context.Background(), primary, fallbackAdapter, vendor.NormalizedRequest{}, testPolicy(), nil)

	if result.FallbackUsed {
		t.Error("FallbackUsed should be false when primary succeeds")
	}
	if result.WinningVendor != "vendorA" {
		t.Errorf("WinningVendor = %q, want vendorA", result.WinningVendor)
	}
	if fallbackAdapter.Calls != 0 {
		t.Errorf("fallback was called %d times, want 0", fallbackAdapter.Calls)
	}
}

func TestRunFallsBackOnPrimaryExhaustion(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "SERVER_ERROR"}}},
	}
	fallbackAdapter := &vendor.FakeAdapter{
		VendorName: "vendorB",
		Results:    []vendor.FakeResult{{Response: &vendor.NormalizedResponse{Text: "ok"}}},
	}

	result := Run(context.Background(), primary, fallbackAdapter, vendor.NormalizedRequest{}, testPolicy(), nil)

	if !result.FallbackUsed {
		t.Error("FallbackUsed should be true")
	}
	if result.WinningVendor != "vendorB" {
		t.Errorf("WinningVendor = %q, want vendorB", result.WinningVendor)
	}
	// 3 primary attempts (default maxAttempts) + 1 fallback success.
	if len(result.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(result.Attempts))
	}
}

func TestRunNoFallbackConfiguredReturnsPrimaryFailure(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "SERVER_ERROR"}}},
	}

	result := Run(context.Background(), primary, nil, vendor.NormalizedRequest{}, testPolicy(), nil)

	if result.Response != nil {
		t.Fatal("expected failure")
	}
	if result.FallbackUsed {
		t.Error("FallbackUsed should be false with no fallback adapter")
	}
	if len(result.Attempts) != 3 {
		t.Errorf("attempts = %d, want 3 (only primary)", len(result.Attempts))
	}
}

func TestRunBothVendorsFail(t *testing.T) {
	primary := &vendor.FakeAdapter{
		VendorName: "vendorA",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "SERVER_ERROR"}}},
	}
	fallbackAdapter := &vendor.FakeAdapter{
		VendorName: "vendorB",
		Results:    []vendor.FakeResult{{Failure: &vendor.Failure{StatusCode: 500, ErrorCode: "SERVER_ERROR"}}},
	}

	result := Run(context.Background(), primary, fallbackAdapter, vendor.NormalizedRequest{}, testPolicy(), nil)

	if result.Response != nil {
		t.Fatal("expected failure when both vendors exhaust")
	}
	if len(result.Attempts) != 6 {
		t.Errorf("attempts = %d, want 6 (3 primary + 3 fallback)", len(result.Attempts))
	}
}
