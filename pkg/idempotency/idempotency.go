// Package idempotency implements the idempotency protocol (C6): a
// unique-key guarded insert, lookup-and-replay, and response materialization
// on completion. Postgres (via the Store) is the single source of truth;
// Redis is a short-TTL accelerator in front of it, never authoritative.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/design-smith/vocalbridge/pkg/store"
)

const scopeSendMessage = "send_message"

// redisKeyPrefix namespaces idempotency completion markers in Redis.
const redisKeyPrefix = "idempotency:send_message:"

// FingerprintMismatchPolicy controls whether a replayed key whose stored
// fingerprint disagrees with the current request's is tolerated (matching
// the original system's behavior) or rejected.
type FingerprintMismatchPolicy int

const (
	// Ignore reproduces the original system's behavior: fingerprint
	// mismatches are stored but never enforced.
	Ignore FingerprintMismatchPolicy = iota
	// FailClosed rejects a replay whose fingerprint disagrees with the
	// current request's with ErrFingerprintMismatch.
	FailClosed
)

// ErrFingerprintMismatch is returned under FailClosed when a reused key's
// stored fingerprint disagrees with the current request's.
var ErrFingerprintMismatch = fmt.Errorf("idempotency: key reused with different payload")

// ErrInFlight is returned when a concurrent request for the same key is
// still being processed (the stored record's response is not yet set).
// The core neither waits nor retries; the transport maps this to a
// retryable client-visible signal.
var ErrInFlight = fmt.Errorf("idempotency: request with this key is already in flight")

// CheckResult is the outcome of Begin.
type CheckResult struct {
	// Replayed is true when a completed record already existed; Response
	// holds its materialized bytes and no further processing should occur.
	Replayed bool
	Response []byte
	// Record is the (possibly freshly inserted) placeholder to complete
	// later via Complete, valid only when Replayed is false.
	Record store.IdempotencyRecord
}

// Protocol implements the lookup/insert/complete idempotency algorithm of
// spec §4.6 against a Store, with a Redis completion-marker cache in front
// of the lookup path.
type Protocol struct {
	store          store.Store
	redis          *redis.Client
	logger         *slog.Logger
	ttl            time.Duration
	mismatchPolicy FingerprintMismatchPolicy
}

// NewProtocol creates a Protocol. rdb may be nil, in which case the Redis
// fast-path is skipped and every check falls through to the store.
func NewProtocol(s store.Store, rdb *redis.Client, logger *slog.Logger, ttl time.Duration, mismatchPolicy FingerprintMismatchPolicy) *Protocol {
	return &Protocol{store: s, redis: rdb, logger: logger, ttl: ttl, mismatchPolicy: mismatchPolicy}
}

// Fingerprint computes H(tenantId ∥ sessionId ∥ content), the fingerprint
// stored alongside an idempotency record to detect (and optionally reject)
// key reuse with a different payload.
func Fingerprint(tenantID, sessionID, content string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

func redisKey(tenantID, key string) string {
	return redisKeyPrefix + tenantID + ":" + key
}

// Begin runs steps 1-3 of the protocol: lookup, then (if nothing found or
// nothing populated) insert with one retry on a concurrent-insert race.
func (p *Protocol) Begin(ctx context.Context, tenantID, key string, sessionID *string, fingerprint string) (CheckResult, error) {
	if result, ok, err := p.checkCompleted(ctx, tenantID, key, fingerprint); err != nil {
		return CheckResult{}, err
	} else if ok {
		return result, nil
	}

	insertResult, err := p.store.IdempotencyInsert(ctx, tenantID, scopeSendMessage, key, sessionID, fingerprint)
	if err != nil {
		return CheckResult{}, fmt.Errorf("inserting idempotency record: %w", err)
	}

	if insertResult.Inserted {
		return CheckResult{Record: insertResult.Record}, nil
	}

	// Unique-violation: a concurrent insert won the race. Exactly one retry
	// of the lookup, per spec §4.6 step 3.
	rec := insertResult.Record
	if rec.Completed() {
		if mismatch := p.checkFingerprint(rec, fingerprint); mismatch != nil {
			return CheckResult{}, mismatch
		}
		p.cacheResponse(ctx, tenantID, key, rec.Response)
		return CheckResult{Replayed: true, Response: rec.Response}, nil
	}

	return CheckResult{}, ErrInFlight
}

// checkCompleted consults the Redis marker first, falling back to the
// store. It returns ok=true when a final disposition (replay) was reached.
func (p *Protocol) checkCompleted(ctx context.Context, tenantID, key, fingerprint string) (CheckResult, bool, error) {
	// The Redis marker holds only the response bytes, not the fingerprint,
	// so under FailClosed the lookup always goes to the store.
	if p.redis != nil && p.mismatchPolicy != FailClosed {
		if val, err := p.redis.Get(ctx, redisKey(tenantID, key)).Result(); err == nil {
			return CheckResult{Replayed: true, Response: []byte(val)}, true, nil
		} else if err != redis.Nil {
			p.logger.Warn("idempotency redis lookup failed, falling back to store", "error", err)
		}
	}

	rec, err := p.store.IdempotencyLookup(ctx, tenantID, scopeSendMessage, key)
	if err == store.ErrNotFound {
		return CheckResult{}, false, nil
	}
	if err != nil {
		return CheckResult{}, false, fmt.Errorf("looking up idempotency record: %w", err)
	}

	if !rec.Completed() {
		return CheckResult{}, false, ErrInFlight
	}

	if mismatch := p.checkFingerprint(rec, fingerprint); mismatch != nil {
		return CheckResult{}, false, mismatch
	}

	// Warm the Redis marker so the next replay hits the fast path.
	p.cacheResponse(ctx, tenantID, key, rec.Response)
	return CheckResult{Replayed: true, Response: rec.Response}, true, nil
}

func (p *Protocol) checkFingerprint(rec store.IdempotencyRecord, fingerprint string) error {
	if p.mismatchPolicy == FailClosed && rec.RequestFingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	return nil
}

// Complete is step 4 of the protocol: serialize the response exactly once
// and materialize it, the single visibility point after which replays of
// this key observe a completed response.
func (p *Protocol) Complete(ctx context.Context, tenantID, key string, responseBytes []byte) error {
	if err := p.store.IdempotencyComplete(ctx, tenantID, scopeSendMessage, key, responseBytes); err != nil {
		return fmt.Errorf("completing idempotency record: %w", err)
	}
	p.cacheResponse(ctx, tenantID, key, responseBytes)
	return nil
}

func (p *Protocol) cacheResponse(ctx context.Context, tenantID, key string, responseBytes []byte) {
	if p.redis == nil {
		return
	}
	if err := p.redis.Set(ctx, redisKey(tenantID, key), responseBytes, p.ttl).Err(); err != nil {
		p.logger.Warn("failed to cache idempotency completion", "error", err)
	}
}

