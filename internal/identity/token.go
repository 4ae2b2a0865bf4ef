package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
)

// nodeClaims is the JWS payload for a node bearer token (spec.md §4.2).
type nodeClaims struct {
	Subject   uuid.UUID `json:"sub"`
	ProjectID uuid.UUID `json:"prj"`
	OrgID     uuid.UUID `json:"org"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
}

// NodeTokenIssuer signs node bearer tokens with an org's active Ed25519
// signing key.
type NodeTokenIssuer struct {
	keys *SigningKeyStore
	ttl  time.Duration
}

func NewNodeTokenIssuer(keys *SigningKeyStore, ttl time.Duration) *NodeTokenIssuer {
	return &NodeTokenIssuer{keys: keys, ttl: ttl}
}

// Issue signs a bearer token for nodeID scoped to projectID/orgID, using
// the org's most-recent active signing key. The key's id is carried in
// the JWS header as "kid" so the verifier can resolve it without a trial
// decrypt.
func (i *NodeTokenIssuer) Issue(ctx context.Context, nodeID, projectID, orgID uuid.UUID) (string, error) {
	key, err := i.keys.MostRecentActive(ctx, orgID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := nodeClaims{
		Subject:   nodeID,
		ProjectID: projectID,
		OrgID:     orgID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encoding node claims: %w", err)
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.EdDSA,
		Key:       key.PrivateKey,
	}, (&jose.SignerOptions{}).WithHeader("kid", key.ID.String()))
	if err != nil {
		return "", fmt.Errorf("constructing signer: %w", err)
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("signing node token: %w", err)
	}
	compact, err := sig.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serializing node token: %w", err)
	}
	return compact, nil
}

// NodeTokenVerifier verifies a node bearer token, resolving its signing
// key by the "kid" header.
type NodeTokenVerifier struct {
	keys *SigningKeyStore
}

func NewNodeTokenVerifier(keys *SigningKeyStore) *NodeTokenVerifier {
	return &NodeTokenVerifier{keys: keys}
}

// Verify checks the token's signature, key activation state, and
// expiry, returning the resolved Identity on success.
func (v *NodeTokenVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	sig, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return Identity{}, apperr.New(apperr.InvalidClaims, "malformed node token")
	}
	if len(sig.Signatures) != 1 {
		return Identity{}, apperr.New(apperr.InvalidClaims, "node token must have exactly one signature")
	}

	kid := sig.Signatures[0].Header.KeyID
	keyID, err := uuid.Parse(kid)
	if err != nil {
		return Identity{}, apperr.New(apperr.InvalidClaims, "node token missing kid")
	}

	key, err := v.keys.Resolve(ctx, keyID)
	if err != nil {
		return Identity{}, err
	}

	payload, err := sig.Verify(key.PublicKey)
	if err != nil {
		return Identity{}, apperr.New(apperr.InvalidClaims, "node token signature invalid")
	}

	var claims nodeClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Identity{}, apperr.New(apperr.InvalidClaims, "node token claims malformed")
	}
	if claims.OrgID != key.OrgID {
		return Identity{}, apperr.New(apperr.InvalidClaims, "node token org mismatch")
	}
	if time.Now().UTC().Unix() > claims.ExpiresAt {
		return Identity{}, apperr.New(apperr.InvalidClaims, "node token expired")
	}

	return Identity{
		Method:    MethodNodeToken,
		NodeID:    claims.Subject,
		ProjectID: claims.ProjectID,
		OrgID:     claims.OrgID,
	}, nil
}
