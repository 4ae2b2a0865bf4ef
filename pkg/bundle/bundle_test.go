package bundle_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/objectstore"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/store/memory"
	"github.com/sentinelcp/control-plane/internal/validatorclient"
	"github.com/sentinelcp/control-plane/pkg/bundle"
)

func noRules(context.Context, uuid.UUID) ([]bundle.ValidationRule, error) {
	return nil, nil
}

func newService(s store.Store, objects objectstore.ObjectStore, v validatorclient.Validator, signer *identity.BundleSigner, signBundles bool) *bundle.Service {
	return bundle.NewService(s, objects, v, signer, signBundles, noRules, slog.Default())
}

const sampleConfig = `
listener "public" {
}
route "/checkout"
route "/cart"
upstream "payments"
upstream "inventory"
`

func TestCreateCompileHappyPath(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, err := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	if err != nil {
		t.Fatalf("creating org: %v", err)
	}
	p, err := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}

	b, err := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != store.BundlePending {
		t.Fatalf("expected pending status, got %q", b.Status)
	}

	compiled, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !compiled.IsCompiled() {
		t.Fatalf("expected bundle to be compiled, got status %q", compiled.Status)
	}
	if compiled.Checksum == "" || compiled.StorageKey == "" {
		t.Fatalf("expected checksum and storage key to be set")
	}
	if compiled.Manifest == nil || len(compiled.Manifest.Files) == 0 {
		t.Fatalf("expected a manifest with at least one file")
	}
	if _, ok := objects.Get(compiled.StorageKey); !ok {
		t.Fatalf("expected archive to be uploaded under %q", compiled.StorageKey)
	}
	// First bundle in a project: sampleConfig has no auth, tls or
	// rate_limit block and only a few routes, so risk is low.
	if compiled.RiskLevel != store.RiskLow {
		t.Fatalf("expected low risk for first bundle, got %q", compiled.RiskLevel)
	}
}

func TestCompileIsIdempotentUnderConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	b, err := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("first compile: %v", err)
	}
	second, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	if second.Checksum != first.Checksum || second.Status != first.Status {
		t.Fatalf("expected second compile call to be a no-op read, got %+v vs %+v", first, second)
	}
}

func TestCompileFailsOnValidatorRejection(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{
		Result: &validatorclient.Result{Issues: []validatorclient.Issue{
			{Rule: "kdl_syntax", Severity: validatorclient.SeverityError, Message: "unexpected token"},
		}},
	}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	b, _ := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")

	out, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("compile should report failure via bundle status, not error: %v", err)
	}
	if out.Status != store.BundleFailed {
		t.Fatalf("expected failed status, got %q", out.Status)
	}
	if !strings.Contains(out.CompilerOutput, "unexpected token") {
		t.Fatalf("expected compiler output to mention validator issue, got %q", out.CompilerOutput)
	}
}

func TestCompileAppliesProjectValidationRules(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	rules := func(context.Context, uuid.UUID) ([]bundle.ValidationRule, error) {
		return []bundle.ValidationRule{
			{Name: "require-listener", Kind: bundle.RuleRequiredField, Severity: validatorclient.SeverityError, Field: "listener"},
		}, nil
	}
	svc := bundle.NewService(s, objects, &validatorclient.Static{}, nil, false, rules, slog.Default())

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	b, _ := svc.Create(ctx, p.ID, "1.0.0", "route \"/x\"", store.BundleSourceAPI, "")

	out, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if out.Status != store.BundleFailed {
		t.Fatalf("expected failed status for missing required field, got %q", out.Status)
	}
}

func TestCompileSignsWhenEnabled(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	keys := identity.NewSigningKeyStore(s)
	signer := identity.NewBundleSigner(keys)
	svc := newService(s, objects, &validatorclient.Static{}, signer, true)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	if _, err := keys.Generate(ctx, org.ID, nil); err != nil {
		t.Fatalf("generating signing key: %v", err)
	}
	b, _ := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")

	out, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if out.Signature == "" || out.SigningKeyID == nil {
		t.Fatalf("expected bundle to carry a signature and signing key id")
	}
	if err := signer.Verify(ctx, out.Checksum, out.Signature, *out.SigningKeyID); err != nil {
		t.Fatalf("verifying bundle signature: %v", err)
	}
}

func TestPromoteEnforcesEnvironmentChain(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	dev, _ := s.CreateEnvironment(ctx, store.Environment{ProjectID: p.ID, Name: "dev", Ordinal: 0})
	staging, _ := s.CreateEnvironment(ctx, store.Environment{ProjectID: p.ID, Name: "staging", Ordinal: 1})
	prod, _ := s.CreateEnvironment(ctx, store.Environment{ProjectID: p.ID, Name: "prod", Ordinal: 2})

	b, _ := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")
	b, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// Promoting straight to prod should fail: dev and staging haven't happened.
	if _, err := svc.Promote(ctx, b.ID, prod.ID); !apperr.Is(err, apperr.InvalidState) {
		t.Fatalf("expected InvalidState promoting out of order, got %v", err)
	}

	if _, err := svc.Promote(ctx, b.ID, dev.ID); err != nil {
		t.Fatalf("promoting to dev: %v", err)
	}
	if _, err := svc.Promote(ctx, b.ID, staging.ID); err != nil {
		t.Fatalf("promoting to staging: %v", err)
	}
	if _, err := svc.Promote(ctx, b.ID, prod.ID); err != nil {
		t.Fatalf("promoting to prod after chain satisfied: %v", err)
	}
}

func TestPromoteRejectsUncompiledBundle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	dev, _ := s.CreateEnvironment(ctx, store.Environment{ProjectID: p.ID, Name: "dev", Ordinal: 0})
	b, _ := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")

	if _, err := svc.Promote(ctx, b.ID, dev.ID); !apperr.Is(err, apperr.BundleNotCompiled) {
		t.Fatalf("expected BundleNotCompiled, got %v", err)
	}
}

func TestRevokeClearsStagedNodes(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	b, _ := svc.Create(ctx, p.ID, "1.0.0", sampleConfig, store.BundleSourceAPI, "")
	b, err := svc.Compile(ctx, org.ID, b.ID)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	n, err := s.CreateNode(ctx, store.Node{ProjectID: p.ID, Name: "n1"})
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}
	if err := s.SetNodeStaged(ctx, n.ID, b.ID); err != nil {
		t.Fatalf("staging node: %v", err)
	}

	revoked, err := svc.Revoke(ctx, b.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != store.BundleRevoked {
		t.Fatalf("expected revoked status, got %q", revoked.Status)
	}

	got, err := s.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("getting node: %v", err)
	}
	if got.StagedBundleID != nil {
		t.Fatalf("expected staged bundle id to be cleared, got %v", *got.StagedBundleID)
	}
}

func TestDiffReportsConfigAndManifestChanges(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})

	b1, _ := svc.Create(ctx, p.ID, "1.0.0", "route \"/a\"\n", store.BundleSourceAPI, "")
	b1, err := svc.Compile(ctx, org.ID, b1.ID)
	if err != nil {
		t.Fatalf("compile b1: %v", err)
	}
	b2, _ := svc.Create(ctx, p.ID, "1.0.1", "route \"/a\"\nroute \"/b\"\n", store.BundleSourceAPI, "")
	b2, err = svc.Compile(ctx, org.ID, b2.ID)
	if err != nil {
		t.Fatalf("compile b2: %v", err)
	}

	configDiff, manifestDiff, err := svc.Diff(ctx, b1.ID, b2.ID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !strings.Contains(configDiff.Patch, "/b") {
		t.Fatalf("expected config diff to mention the added route, got %q", configDiff.Patch)
	}
	// Both bundles only ever declare a single sentinel.kdl file, whose
	// checksum differs since its content changed.
	if len(manifestDiff.Changed) != 1 {
		t.Fatalf("expected exactly one changed manifest file, got %+v", manifestDiff)
	}
}

func TestRiskTierHighOnAuthBlockChange(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})

	b1, _ := svc.Create(ctx, p.ID, "1.0.0", "auth {\n  mode \"none\"\n}\n", store.BundleSourceAPI, "")
	if _, err := svc.Compile(ctx, org.ID, b1.ID); err != nil {
		t.Fatalf("compile b1: %v", err)
	}

	b2, _ := svc.Create(ctx, p.ID, "1.0.1", "auth {\n  mode \"mtls\"\n}\n", store.BundleSourceAPI, "")
	b2, err := svc.Compile(ctx, org.ID, b2.ID)
	if err != nil {
		t.Fatalf("compile b2: %v", err)
	}
	if b2.RiskLevel != store.RiskHigh {
		t.Fatalf("expected high risk for changed auth block, got %q (%v)", b2.RiskLevel, b2.RiskReasons)
	}
}

func TestRiskTierMediumOnRemovedUpstream(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})

	b1, _ := svc.Create(ctx, p.ID, "1.0.0", "upstream \"payments\"\nupstream \"inventory\"\n", store.BundleSourceAPI, "")
	if _, err := svc.Compile(ctx, org.ID, b1.ID); err != nil {
		t.Fatalf("compile b1: %v", err)
	}

	b2, _ := svc.Create(ctx, p.ID, "1.0.1", "upstream \"payments\"\n", store.BundleSourceAPI, "")
	b2, err := svc.Compile(ctx, org.ID, b2.ID)
	if err != nil {
		t.Fatalf("compile b2: %v", err)
	}
	if b2.RiskLevel != store.RiskMedium {
		t.Fatalf("expected medium risk for removed upstream, got %q (%v)", b2.RiskLevel, b2.RiskReasons)
	}
}

func TestRiskTierLowOnMinorRouteChange(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	objects := objectstore.NewMemory()
	svc := newService(s, objects, &validatorclient.Static{}, nil, false)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})

	b1, _ := svc.Create(ctx, p.ID, "1.0.0", "route \"/a\"\n", store.BundleSourceAPI, "")
	if _, err := svc.Compile(ctx, org.ID, b1.ID); err != nil {
		t.Fatalf("compile b1: %v", err)
	}

	b2, _ := svc.Create(ctx, p.ID, "1.0.1", "route \"/a\"\nroute \"/b\"\n", store.BundleSourceAPI, "")
	b2, err := svc.Compile(ctx, org.ID, b2.ID)
	if err != nil {
		t.Fatalf("compile b2: %v", err)
	}
	if b2.RiskLevel != store.RiskLow {
		t.Fatalf("expected low risk for a single added route, got %q (%v)", b2.RiskLevel, b2.RiskReasons)
	}
}
