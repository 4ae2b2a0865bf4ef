package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// NodeKeyService issues the raw node key returned once at registration
// and authenticates it when the node presents it on later calls
// (spec.md §4.2, §4.4).
type NodeKeyService struct {
	store store.Store
}

func NewNodeKeyService(s store.Store) *NodeKeyService {
	return &NodeKeyService{store: s}
}

// Generate returns a new raw node key and its SHA-256 hex hash. The raw
// value is returned once and never persisted.
func (k *NodeKeyService) Generate() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating node key: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	hash = HashKey(raw)
	return raw, hash, nil
}

// HashKey returns the SHA-256 hex digest of a raw key, the form stored
// and looked up by.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Authenticate resolves a raw node key to its owning node's Identity.
func (k *NodeKeyService) Authenticate(ctx context.Context, raw string) (Identity, error) {
	n, err := k.store.GetNodeByKeyHash(ctx, HashKey(raw))
	if err != nil {
		return Identity{}, apperr.New(apperr.InvalidKey, "unrecognized node key")
	}
	return Identity{
		Method:    MethodNodeKey,
		NodeID:    n.ID,
		ProjectID: n.ProjectID,
	}, nil
}
