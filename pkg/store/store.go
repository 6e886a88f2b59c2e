package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrIdempotencyKeyConflict names a unique-key conflict on (tenantId, scope,
// key). Neither MemoryStore nor PostgresStore returns it: their
// IdempotencyInsert reports a conflict as IdempotencyInsertResult with
// Inserted=false and the existing record, which is what the idempotency
// protocol (C6) checks.
var ErrIdempotencyKeyConflict = errors.New("store: idempotency key already exists")

// IdempotencyInsertResult is what IdempotencyInsert returns: either the row
// this call inserted (Inserted=true) or the pre-existing row that caused
// the unique-key conflict (Inserted=false).
type IdempotencyInsertResult struct {
	Record   IdempotencyRecord
	Inserted bool
}

// Store is the tenant-scoped persistence contract consumed by the
// conversation pipeline (C7), retry engine's observer, and idempotency
// protocol (C6). Every method takes a tenantId and must not return or
// mutate rows belonging to a different tenant.
type Store interface {
	FindAgent(ctx context.Context, tenantID, agentID string) (Agent, error)
	FindSession(ctx context.Context, tenantID, sessionID string) (Session, error)
	ListSessionMessagesAscending(ctx context.Context, tenantID, sessionID string) ([]Message, error)
	AppendMessage(ctx context.Context, tenantID, sessionID string, role MessageRole, content string) (Message, error)
	TouchSessionActivity(ctx context.Context, tenantID, sessionID string) error

	RecordAttempts(ctx context.Context, tenantID string, entries []AttemptLogEntry) error
	RecordUsage(ctx context.Context, tenantID string, event UsageEvent) error

	IdempotencyLookup(ctx context.Context, tenantID, scope, key string) (IdempotencyRecord, error)
	IdempotencyInsert(ctx context.Context, tenantID, scope, key string, sessionID *string, fingerprint string) (IdempotencyInsertResult, error)
	IdempotencyComplete(ctx context.Context, tenantID, scope, key string, responseBytes []byte) error

	// ResolveCredential looks up a credential by its hash, returning the
	// owning tenant. Used by the identity/auth gate (C8).
	ResolveCredential(ctx context.Context, secretHash string) (Credential, error)
	// TouchCredentialLastUsed updates a credential's last-used timestamp.
	// Called best-effort and asynchronously by the auth gate; failures here
	// must never fail an otherwise-authenticated request.
	TouchCredentialLastUsed(ctx context.Context, credentialID string) error
}
