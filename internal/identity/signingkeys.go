package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// SigningKeyStore manages the per-org Ed25519 keypairs used to sign node
// tokens and bundle checksums (spec.md §4.2).
type SigningKeyStore struct {
	store store.Store
}

func NewSigningKeyStore(s store.Store) *SigningKeyStore {
	return &SigningKeyStore{store: s}
}

// Generate creates and persists a new active signing key for orgID.
func (s *SigningKeyStore) Generate(ctx context.Context, orgID uuid.UUID, expiresAt *time.Time) (store.SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return store.SigningKey{}, fmt.Errorf("generating signing key: %w", err)
	}
	return s.store.CreateSigningKey(ctx, store.SigningKey{
		OrgID:      orgID,
		PublicKey:  pub,
		PrivateKey: priv,
		Active:     true,
		ExpiresAt:  expiresAt,
	})
}

// MostRecentActive returns the signing key new tokens should be signed
// with: the org's most-recent active, non-expired key.
func (s *SigningKeyStore) MostRecentActive(ctx context.Context, orgID uuid.UUID) (store.SigningKey, error) {
	return s.store.MostRecentActiveSigningKey(ctx, orgID)
}

// Resolve looks a key up by id for verification, rejecting deactivated
// or expired keys.
func (s *SigningKeyStore) Resolve(ctx context.Context, id uuid.UUID) (store.SigningKey, error) {
	k, err := s.store.GetSigningKey(ctx, id)
	if err != nil {
		return store.SigningKey{}, err
	}
	if !k.Active {
		return store.SigningKey{}, apperr.New(apperr.KeyDeactivated, "signing key is deactivated")
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return store.SigningKey{}, apperr.New(apperr.KeyDeactivated, "signing key has expired")
	}
	return k, nil
}
