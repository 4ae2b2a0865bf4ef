package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/store/memory"
)

func TestNodeKeyGenerateHashAuthenticateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := identity.NewNodeKeyService(s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})

	raw, hash, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if raw == hash {
		t.Fatalf("raw key and hash must differ")
	}
	if identity.HashKey(raw) != hash {
		t.Fatalf("HashKey(raw) must equal the returned hash")
	}

	n, err := s.CreateNode(ctx, store.Node{ProjectID: p.ID, Name: "n1", NodeKeyHash: hash})
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}

	id, err := keys.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.NodeID != n.ID || id.ProjectID != p.ID || id.Method != identity.MethodNodeKey {
		t.Fatalf("unexpected identity: %+v", id)
	}

	if _, err := keys.Authenticate(ctx, "not-a-real-key"); !apperr.Is(err, apperr.InvalidKey) {
		t.Fatalf("expected InvalidKey for an unrecognized raw key, got %v", err)
	}
}

func TestNodeTokenIssueVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := identity.NewSigningKeyStore(s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	if _, err := keys.Generate(ctx, org.ID, nil); err != nil {
		t.Fatalf("generating signing key: %v", err)
	}

	issuer := identity.NewNodeTokenIssuer(keys, time.Hour)
	verifier := identity.NewNodeTokenVerifier(keys)

	nodeID, projectID := uuid.New(), uuid.New()
	token, err := issuer.Issue(ctx, nodeID, projectID, org.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := verifier.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.NodeID != nodeID || id.ProjectID != projectID || id.OrgID != org.ID || id.Method != identity.MethodNodeToken {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestNodeTokenVerifyRejectsExpired(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := identity.NewSigningKeyStore(s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	if _, err := keys.Generate(ctx, org.ID, nil); err != nil {
		t.Fatalf("generating signing key: %v", err)
	}

	issuer := identity.NewNodeTokenIssuer(keys, -time.Second) // already-expired ttl
	verifier := identity.NewNodeTokenVerifier(keys)

	token, err := issuer.Issue(ctx, uuid.New(), uuid.New(), org.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(ctx, token); !apperr.Is(err, apperr.InvalidClaims) {
		t.Fatalf("expected InvalidClaims for expired token, got %v", err)
	}
}

func TestNodeTokenVerifyRejectsDeactivatedKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := identity.NewSigningKeyStore(s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	key, err := keys.Generate(ctx, org.ID, nil)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}

	issuer := identity.NewNodeTokenIssuer(keys, time.Hour)
	verifier := identity.NewNodeTokenVerifier(keys)
	token, err := issuer.Issue(ctx, uuid.New(), uuid.New(), org.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	key.Active = false
	if _, err := s.CreateSigningKey(ctx, key); err != nil {
		t.Fatalf("deactivating key: %v", err)
	}

	if _, err := verifier.Verify(ctx, token); !apperr.Is(err, apperr.KeyDeactivated) {
		t.Fatalf("expected KeyDeactivated for a deactivated key, got %v", err)
	}
}

func TestSigningKeyStoreResolveRejectsExpired(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := identity.NewSigningKeyStore(s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	expiresAt := time.Now().Add(-time.Hour)
	key, err := keys.Generate(ctx, org.ID, &expiresAt)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}

	if _, err := keys.Resolve(ctx, key.ID); !apperr.Is(err, apperr.KeyDeactivated) {
		t.Fatalf("expected KeyDeactivated for an expired key, got %v", err)
	}
}

func TestBundleSignerSignVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := identity.NewSigningKeyStore(s)
	signer := identity.NewBundleSigner(keys)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	if _, err := keys.Generate(ctx, org.ID, nil); err != nil {
		t.Fatalf("generating signing key: %v", err)
	}

	sig, keyID, err := signer.Sign(ctx, org.ID, "deadbeef")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := signer.Verify(ctx, "deadbeef", sig, keyID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := signer.Verify(ctx, "tampered", sig, keyID); err == nil {
		t.Fatalf("expected verification failure for a tampered checksum")
	}
}

func TestAPIKeyGenerateVerifyAndActive(t *testing.T) {
	svc := identity.NewAPIKeyService()
	raw, hash, err := svc.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	rec := identity.APIKeyRecord{KeyHash: hash}
	if !svc.Verify(raw, rec) {
		t.Fatalf("expected matching raw key to verify")
	}
	if svc.Verify("wrong-key", rec) {
		t.Fatalf("expected mismatched raw key to fail verification")
	}

	revokedAt := time.Now()
	revoked := identity.APIKeyRecord{KeyHash: hash, RevokedAt: &revokedAt}
	if svc.Verify(raw, revoked) {
		t.Fatalf("expected a revoked key to fail verification")
	}

	expiredAt := time.Now().Add(-time.Hour)
	expired := identity.APIKeyRecord{KeyHash: hash, ExpiresAt: &expiredAt}
	if svc.Verify(raw, expired) {
		t.Fatalf("expected an expired key to fail verification")
	}
}
