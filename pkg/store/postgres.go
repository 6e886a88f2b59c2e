package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store implementation backed by the tenant-scoped
// Postgres schema of §3.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given global
// connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindAgent(ctx context.Context, tenantID, agentID string) (Agent, error) {
	const q = `SELECT id, tenant_id, name, primary_vendor, COALESCE(fallback_vendor, ''), system_prompt, enabled_tools
	           FROM agents WHERE tenant_id = $1 AND id = $2`

	var a Agent
	err := s.pool.QueryRow(ctx, q, tenantID, agentID).Scan(
		&a.ID, &a.TenantID, &a.Name, &a.PrimaryVendor, &a.FallbackVendor, &a.SystemPrompt, &a.EnabledTools,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("finding agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindSession(ctx context.Context, tenantID, sessionID string) (Session, error) {
	const q = `SELECT id, tenant_id, agent_id, customer_id, status, created_at, last_activity_at, metadata
	           FROM sessions WHERE tenant_id = $1 AND id = $2`

	var sess Session
	err := s.pool.QueryRow(ctx, q, tenantID, sessionID).Scan(
		&sess.ID, &sess.TenantID, &sess.AgentID, &sess.CustomerID, &sess.Status,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("finding session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessionMessagesAscending(ctx context.Context, tenantID, sessionID string) ([]Message, error) {
	const q = `SELECT id, tenant_id, session_id, role, content, created_at
	           FROM messages WHERE tenant_id = $1 AND session_id = $2
	           ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, q, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing session messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, tenantID, sessionID string, role MessageRole, content string) (Message, error) {
	const q = `INSERT INTO messages (id, tenant_id, session_id, role, content, created_at)
	           VALUES ($1, $2, $3, $4, $5, clock_timestamp())
	           RETURNING id, tenant_id, session_id, role, content, created_at`

	var m Message
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), tenantID, sessionID, role, content).Scan(
		&m.ID, &m.TenantID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("appending message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) TouchSessionActivity(ctx context.Context, tenantID, sessionID string) error {
	const q = `UPDATE sessions SET last_activity_at = clock_timestamp() WHERE tenant_id = $1 AND id = $2`
	if _, err := s.pool.Exec(ctx, q, tenantID, sessionID); err != nil {
		return fmt.Errorf("touching session activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordAttempts(ctx context.Context, tenantID string, entries []AttemptLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const q = `INSERT INTO attempt_logs
	           (id, tenant_id, session_id, agent_id, vendor, outcome, http_status, latency_ms, retry_index, error_code, error_message, request_id, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, clock_timestamp())`

	for _, e := range entries {
		batch.Queue(q, uuid.NewString(), tenantID, e.SessionID, e.AgentID, e.Vendor, e.Outcome,
			e.HTTPStatus, e.LatencyMs, e.RetryIndex, e.ErrorCode, e.ErrorMessage, e.RequestID)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording attempt log: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, tenantID string, event UsageEvent) error {
	const q = `INSERT INTO usage_events (id, tenant_id, session_id, agent_id, vendor, tokens_in, tokens_out, cost_usd, request_id, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp())`

	_, err := s.pool.Exec(ctx, q, uuid.NewString(), tenantID, event.SessionID, event.AgentID,
		event.Vendor, event.TokensIn, event.TokensOut, event.CostUSD, event.RequestID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("recording usage: duplicate request id %q: %w", event.RequestID, err)
		}
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) IdempotencyLookup(ctx context.Context, tenantID, scope, key string) (IdempotencyRecord, error) {
	const q = `SELECT tenant_id, scope, key, session_id, request_fingerprint, response, created_at
	           FROM idempotency_records WHERE tenant_id = $1 AND scope = $2 AND key = $3`

	var rec IdempotencyRecord
	err := s.pool.QueryRow(ctx, q, tenantID, scope, key).Scan(
		&rec.TenantID, &rec.Scope, &rec.Key, &rec.SessionID, &rec.RequestFingerprint, &rec.Response, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, ErrNotFound
	}
	if err != nil {
		return IdempotencyRecord{}, fmt.Errorf("looking up idempotency record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) IdempotencyInsert(ctx context.Context, tenantID, scope, key string, sessionID *string, fingerprint string) (IdempotencyInsertResult, error) {
	const q = `INSERT INTO idempotency_records (tenant_id, scope, key, session_id, request_fingerprint, created_at)
	           VALUES ($1, $2, $3, $4, $5, clock_timestamp())
	           ON CONFLICT (tenant_id, scope, key) DO NOTHING
	           RETURNING tenant_id, scope, key, session_id, request_fingerprint, response, created_at`

	var rec IdempotencyRecord
	err := s.pool.QueryRow(ctx, q, tenantID, scope, key, sessionID, fingerprint).Scan(
		&rec.TenantID, &rec.Scope, &rec.Key, &rec.SessionID, &rec.RequestFingerprint, &rec.Response, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// ON CONFLICT DO NOTHING produced no row: a concurrent insert won
		// the race. Fetch the existing record for the caller.
		existing, lookupErr := s.IdempotencyLookup(ctx, tenantID, scope, key)
		if lookupErr != nil {
			return IdempotencyInsertResult{}, fmt.Errorf("fetching conflicting idempotency record: %w", lookupErr)
		}
		return IdempotencyInsertResult{Record: existing, Inserted: false}, nil
	}
	if err != nil {
		return IdempotencyInsertResult{}, fmt.Errorf("inserting idempotency record: %w", err)
	}
	return IdempotencyInsertResult{Record: rec, Inserted: true}, nil
}

func (s *PostgresStore) IdempotencyComplete(ctx context.Context, tenantID, scope, key string, responseBytes []byte) error {
	const q = `UPDATE idempotency_records SET response = $4
	           WHERE tenant_id = $1 AND scope = $2 AND key = $3 AND response IS NULL`

	tag, err := s.pool.Exec(ctx, q, tenantID, scope, key, responseBytes)
	if err != nil {
		return fmt.Errorf("completing idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("completing idempotency record: already completed or missing")
	}
	return nil
}

func (s *PostgresStore) ResolveCredential(ctx context.Context, secretHash string) (Credential, error) {
	const q = `SELECT id, tenant_id, secret_hash, last_used_at, created_at FROM credentials WHERE secret_hash = $1`

	var c Credential
	err := s.pool.QueryRow(ctx, q, secretHash).Scan(&c.ID, &c.TenantID, &c.SecretHash, &c.LastUsedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("resolving credential: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) TouchCredentialLastUsed(ctx context.Context, credentialID string) error {
	const q = `UPDATE credentials SET last_used_at = clock_timestamp() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, credentialID); err != nil {
		return fmt.Errorf("touching credential last used: %w", err)
	}
	return nil
}

// SweepExpiredIdempotencyRecords deletes completed idempotency records
// created before the given time. Not required for correctness — an
// operator-triggered or cron-driven retention cleanup, unused by the send path.
func (s *PostgresStore) SweepExpiredIdempotencyRecords(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM idempotency_records WHERE response IS NOT NULL AND created_at < $1`
	tag, err := s.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("sweeping idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
