// Package fallback implements the fallback orchestrator (C3): primary vendor
// is always tried first; the fallback vendor is invoked only on total
// primary exhaustion. The two are never run concurrently — there is no
// tie-break because primary always goes first — so this package has no use
// for a fan-out primitive like errgroup.
package fallback

import (
	"context"

	"github.com/design-smith/vocalbridge/pkg/retry"
	"github.com/design-smith/vocalbridge/pkg/vendor"
)

// Result is what Run returns: exactly one of Response or Failure is set.
type Result struct {
	WinningVendor string
	Response      *vendor.NormalizedResponse
	Failure       *vendor.Failure
	FallbackUsed  bool
	Attempts      []retry.Attempt
}

// Run executes the retry engine against primary; if primary exhausts its
// attempt budget and fallback is non-nil, it then runs the retry engine
// against fallback. Attempt logs are concatenated in invocation order.
func Run(ctx context.Context, primary vendor.Adapter, fallbackAdapter vendor.Adapter, req vendor.NormalizedRequest, policy retry.Policy, observer retry.Observer) Result {
	primaryResult := retry.Run(ctx, primary, req, policy, observer)

	if primaryResult.Response != nil {
		return Result{
			WinningVendor: primary.Name(),
			Response:      primaryResult.Response,
			FallbackUsed:  false,
			Attempts:      primaryResult.Attempts,
		}
	}

	if fallbackAdapter == nil {
		return Result{
			Failure:  primaryResult.Failure,
			Attempts: primaryResult.Attempts,
		}
	}

	fallbackResult := retry.Run(ctx, fallbackAdapter, req, policy, observer)

	attempts := make([]retry.Attempt, 0, len(primaryResult.Attempts)+len(fallbackResult.Attempts))
	attempts = append(attempts, primaryResult.Attempts...)
	attempts = append(attempts, fallbackResult.Attempts...)

	if fallbackResult.Response != nil {
		return Result{
			WinningVendor: fallbackAdapter.Name(),
			Response:      fallbackResult.Response,
			FallbackUsed:  true,
			Attempts:      attempts,
		}
	}

	return Result{
		Failure:      fallbackResult.Failure,
		FallbackUsed: true,
		Attempts:     attempts,
	}
}
