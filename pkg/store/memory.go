package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation used as a test fixture
// for the pipeline, idempotency, identity, and HTTP handler suites, in place
// of a running Postgres instance. It enforces the same tenant-scoping contract as
// PostgresStore.
type MemoryStore struct {
	mu sync.Mutex

	agents      map[string]Agent // key: tenantID+"/"+agentID
	sessions    map[string]Session
	messages    map[string][]Message // key: tenantID+"/"+sessionID
	attempts    []AttemptLogEntry
	usage       []UsageEvent
	idempotency map[string]IdempotencyRecord // key: tenantID+"/"+scope+"/"+key
	credentials map[string]Credential        // key: secretHash
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      make(map[string]Agent),
		sessions:    make(map[string]Session),
		messages:    make(map[string][]Message),
		idempotency: make(map[string]IdempotencyRecord),
		credentials: make(map[string]Credential),
	}
}

func compositeKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	return key
}

// SeedAgent adds an Agent directly, bypassing the (out-of-scope) management
// plane, for test setup.
func (m *MemoryStore) SeedAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[compositeKey(a.TenantID, a.ID)] = a
}

// SeedSession adds a Session directly, bypassing the (out-of-scope)
// management plane, for test setup.
func (m *MemoryStore) SeedSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[compositeKey(s.TenantID, s.ID)] = s
}

// SeedCredential adds a Credential directly for test setup.
func (m *MemoryStore) SeedCredential(c Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.SecretHash] = c
}

// UsageEvents returns a snapshot of all recorded usage events, for assertions.
func (m *MemoryStore) UsageEvents() []UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UsageEvent, len(m.usage))
	copy(out, m.usage)
	return out
}

// AttemptLogEntries returns a snapshot of all recorded attempt log entries,
// in the order they were written, for assertions.
func (m *MemoryStore) AttemptLogEntries() []AttemptLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AttemptLogEntry, len(m.attempts))
	copy(out, m.attempts)
	return out
}

func (m *MemoryStore) FindAgent(_ context.Context, tenantID, agentID string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[compositeKey(tenantID, agentID)]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) FindSession(_ context.Context, tenantID, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[compositeKey(tenantID, sessionID)]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ListSessionMessagesAscending(_ context.Context, tenantID, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[compositeKey(tenantID, sessionID)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, tenantID, sessionID string, role MessageRole, content string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := compositeKey(tenantID, sessionID)
	existing := m.messages[key]

	now := time.Now().UTC()
	// Guarantee strict monotonicity w.r.t. the session even under
	// sub-millisecond clock resolution in tight test loops.
	if len(existing) > 0 && !now.After(existing[len(existing)-1].CreatedAt) {
		now = existing[len(existing)-1].CreatedAt.Add(time.Nanosecond)
	}

	msg := Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	m.messages[key] = append(existing, msg)
	return msg, nil
}

func (m *MemoryStore) TouchSessionActivity(_ context.Context, tenantID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := compositeKey(tenantID, sessionID)
	s, ok := m.sessions[key]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	m.sessions[key] = s
	return nil
}

func (m *MemoryStore) RecordAttempts(_ context.Context, tenantID string, entries []AttemptLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.ID = uuid.NewString()
		e.TenantID = tenantID
		e.CreatedAt = time.Now().UTC()
		m.attempts = append(m.attempts, e)
	}
	return nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, tenantID string, event UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.usage {
		if u.RequestID == event.RequestID {
			return fmt.Errorf("recording usage: duplicate request id %q", event.RequestID)
		}
	}
	event.ID = uuid.NewString()
	event.TenantID = tenantID
	event.CreatedAt = time.Now().UTC()
	m.usage = append(m.usage, event)
	return nil
}

func (m *MemoryStore) IdempotencyLookup(_ context.Context, tenantID, scope, key string) (IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[compositeKey(tenantID, scope, key)]
	if !ok {
		return IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) IdempotencyInsert(_ context.Context, tenantID, scope, key string, sessionID *string, fingerprint string) (IdempotencyInsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck := compositeKey(tenantID, scope, key)
	if existing, ok := m.idempotency[ck]; ok {
		return IdempotencyInsertResult{Record: existing, Inserted: false}, nil
	}

	rec := IdempotencyRecord{
		TenantID:           tenantID,
		Scope:              scope,
		Key:                key,
		SessionID:          sessionID,
		RequestFingerprint: fingerprint,
		CreatedAt:          time.Now().UTC(),
	}
	m.idempotency[ck] = rec
	return IdempotencyInsertResult{Record: rec, Inserted: true}, nil
}

func (m *MemoryStore) IdempotencyComplete(_ context.Context, tenantID, scope, key string, responseBytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck := compositeKey(tenantID, scope, key)
	rec, ok := m.idempotency[ck]
	if !ok {
		return fmt.Errorf("completing idempotency record: not found")
	}
	if rec.Response != nil {
		return fmt.Errorf("completing idempotency record: already completed")
	}
	rec.Response = responseBytes
	m.idempotency[ck] = rec
	return nil
}

func (m *MemoryStore) ResolveCredential(_ context.Context, secretHash string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[secretHash]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) TouchCredentialLastUsed(_ context.Context, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, c := range m.credentials {
		if c.ID == credentialID {
			now := time.Now().UTC()
			c.LastUsedAt = &now
			m.credentials[hash] = c
			return nil
		}
	}
	return ErrNotFound
}
