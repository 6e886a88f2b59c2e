package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/design-smith/vocalbridge/pkg/vendor"
)

// Outcome labels a single attempt's result for metrics and audit rows.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt is one invocation of a vendor adapter, in the shape the observer
// receives it and the tenant-scoped store persists it as an AttemptLog.
type Attempt struct {
	Vendor     string
	Outcome    Outcome
	HTTPStatus int
	LatencyMs  int64
	RetryIndex int
	ErrorCode  string
	Message    string
}

// Observer is notified of each attempt as it completes, in invocation
// order, so a crash mid-send leaves a truthful partial audit trail.
type Observer interface {
	OnAttempt(ctx context.Context, a Attempt)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(ctx context.Context, a Attempt)

func (f ObserverFunc) OnAttempt(ctx context.Context, a Attempt) { f(ctx, a) }

// Result is what the engine returns: exactly one of Response or Failure is set.
type Result struct {
	Response *vendor.NormalizedResponse
	Failure  *vendor.Failure
	Attempts []Attempt
}

// sleeper abstracts time.Sleep for deterministic tests.
type sleeper func(ctx context.Context, d time.Duration)

// defaultSleep blocks for d or until ctx is done, whichever comes first.
func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Run executes adapter under policy against req, observing each attempt.
// It returns the first successful response, or the last failure once the
// attempt budget is exhausted or a non-retryable failure is hit.
func Run(ctx context.Context, adapter vendor.Adapter, req vendor.NormalizedRequest, policy Policy, observer Observer) Result {
	return run(ctx, adapter, req, policy, observer, defaultSleep, rand.Float64)
}

func run(ctx context.Context, adapter vendor.Adapter, req vendor.NormalizedRequest, policy Policy, observer Observer, sleep sleeper, jitterRand func() float64) Result {
	var attempts []Attempt
	var lastFailure *vendor.Failure

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, policy.PerAttemptTimeout)
		start := time.Now()
		resp, failure := adapter.Call(callCtx, req)
		latency := time.Since(start).Milliseconds()
		cancel()

		if failure == nil {
			attempt := Attempt{
				Vendor:     adapter.Name(),
				Outcome:    OutcomeSuccess,
				HTTPStatus: 200,
				LatencyMs:  latency,
				RetryIndex: i,
			}
			attempts = append(attempts, attempt)
			if observer != nil {
				observer.OnAttempt(ctx, attempt)
			}
			return Result{Response: resp, Attempts: attempts}
		}

		if callCtx.Err() == context.DeadlineExceeded {
			failure = vendor.TimeoutFailure()
		}

		attempt := Attempt{
			Vendor:     adapter.Name(),
			Outcome:    OutcomeFailed,
			HTTPStatus: failure.StatusCode,
			LatencyMs:  latency,
			RetryIndex: i,
			ErrorCode:  failure.ErrorCode,
			Message:    failure.Message,
		}
		attempts = append(attempts, attempt)
		if observer != nil {
			observer.OnAttempt(ctx, attempt)
		}
		lastFailure = failure

		if i == maxAttempts-1 || !failure.Retryable() {
			break
		}

		if ctx.Err() != nil {
			break
		}

		sleep(ctx, backoffFor(policy, i, failure, jitterRand))
	}

	return Result{Failure: lastFailure, Attempts: attempts}
}

// backoffFor computes the wait before the next attempt. A failure-supplied
// retryAfterMs wins outright, with no jitter applied. Otherwise the wait is
// an exponential backoff capped at MaxBackoff and jittered by ±JitterFraction.
func backoffFor(policy Policy, attemptIndex int, failure *vendor.Failure, jitterRand func() float64) time.Duration {
	if failure != nil && failure.RetryAfterMs > 0 {
		return time.Duration(failure.RetryAfterMs) * time.Millisecond
	}

	base := policy.BaseBackoff << attemptIndex
	if base > policy.MaxBackoff || base < 0 {
		base = policy.MaxBackoff
	}

	if policy.JitterFraction <= 0 {
		return base
	}

	// jitterRand returns [0,1); map to [-JitterFraction, +JitterFraction].
	jitter := (jitterRand()*2 - 1) * policy.JitterFraction
	return time.Duration(float64(base) * (1 + jitter))
}
