package identity

import (
	"context"
	"fmt"

	"github.com/design-smith/vocalbridge/pkg/credential"
	"github.com/design-smith/vocalbridge/pkg/store"
)

// ErrInvalidCredential is returned when the credential cannot be resolved
// to a tenant. The transport maps this to the client-visible INVALID_API_KEY
// code; the core itself never sees requests past this point.
var ErrInvalidCredential = fmt.Errorf("identity: invalid credential")

// Gate resolves an opaque credential string to a tenant identity.
type Gate struct {
	store store.Store
}

// NewGate creates a Gate backed by the given tenant-scoped store.
func NewGate(s store.Store) *Gate {
	return &Gate{store: s}
}

// Resolve hashes rawKey and looks it up, never comparing credentials in
// plaintext. On success it fires an async, best-effort update of the
// credential's last-used timestamp that must not block or fail the request.
func (g *Gate) Resolve(ctx context.Context, rawKey string) (Identity, error) {
	if rawKey == "" {
		return Identity{}, ErrInvalidCredential
	}

	hash := credential.Hash(rawKey)

	cred, err := g.store.ResolveCredential(ctx, hash)
	if err == store.ErrNotFound {
		return Identity{}, ErrInvalidCredential
	}
	if err != nil {
		return Identity{}, fmt.Errorf("resolving credential: %w", err)
	}

	go func() {
		_ = g.store.TouchCredentialLastUsed(context.Background(), cred.ID)
	}()

	return Identity{TenantID: cred.TenantID, CredentialID: cred.ID}, nil
}
