package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// APIKeyService hashes and verifies operator API keys (spec.md §4.2). Key
// issuance and storage is owned by the external operator surface
// (spec.md §1 "out of scope"); this type is the shared hashing primitive
// nightowl's pkg/apikey/service.go used directly against its own store,
// grounded here the same way.
type APIKeyService struct{}

func NewAPIKeyService() *APIKeyService { return &APIKeyService{} }

// Generate returns a new raw API key (prefixed "scp_" for at-a-glance
// recognition in logs) and its SHA-256 hex hash.
func (k *APIKeyService) Generate() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating api key: %w", err)
	}
	raw = "scp_" + hex.EncodeToString(b)
	hash = HashKey(raw)
	return raw, hash, nil
}

// APIKeyRecord is the minimal shape an external API-key store is
// expected to provide for Active to evaluate.
type APIKeyRecord struct {
	KeyHash   string
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Active reports whether a looked-up key record is usable: not revoked
// and not expired (spec.md §4.2 "identical hashing model plus optional
// expires_at and revoked_at").
func (r APIKeyRecord) Active() bool {
	if r.RevokedAt != nil {
		return false
	}
	if r.ExpiresAt != nil && r.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

// Verify hashes raw and compares it against rec, returning whether it
// matches and is active.
func (k *APIKeyService) Verify(raw string, rec APIKeyRecord) bool {
	return HashKey(raw) == rec.KeyHash && rec.Active()
}
