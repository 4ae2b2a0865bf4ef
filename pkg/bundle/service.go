// Package bundle implements Sentinel-CP's bundle lifecycle: create,
// compile into a signed, content-addressed archive, promote through an
// environment chain, revoke, and diff.
package bundle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/objectstore"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/validatorclient"
)

// Service encapsulates bundle business logic.
type Service struct {
	store     store.Store
	objects   objectstore.ObjectStore
	validator validatorclient.Validator
	signer    *identity.BundleSigner
	rules     func(ctx context.Context, projectID uuid.UUID) ([]ValidationRule, error)
	signBundles bool
	logger    *slog.Logger
}

// NewService creates a bundle Service. rules supplies the project's
// validation rules (owned by the external operator surface per
// spec.md §1; this package only evaluates them).
func NewService(
	s store.Store,
	objects objectstore.ObjectStore,
	validator validatorclient.Validator,
	signer *identity.BundleSigner,
	signBundles bool,
	rules func(ctx context.Context, projectID uuid.UUID) ([]ValidationRule, error),
	logger *slog.Logger,
) *Service {
	return &Service{
		store:       s,
		objects:     objects,
		validator:   validator,
		signer:      signer,
		signBundles: signBundles,
		rules:       rules,
		logger:      logger,
	}
}

// Create writes a pending bundle row. The caller is responsible for
// enqueueing the CompileJob that will drive it to compiled or failed.
func (s *Service) Create(ctx context.Context, projectID uuid.UUID, version, configSource string, sourceType store.BundleSourceType, sourceRef string) (store.Bundle, error) {
	return s.store.CreateBundle(ctx, store.Bundle{
		ProjectID:    projectID,
		Version:      version,
		ConfigSource: configSource,
		SourceType:   sourceType,
		SourceRef:    sourceRef,
	})
}

// Compile claims a pending bundle and drives it to compiled or failed
// (spec.md §4.3 "Compile"). It is safe to call concurrently for the
// same bundle id: only the caller that wins ClaimBundleForCompile does
// any work.
func (s *Service) Compile(ctx context.Context, orgID, bundleID uuid.UUID) (store.Bundle, error) {
	claimed, err := s.store.ClaimBundleForCompile(ctx, bundleID)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("claiming bundle: %w", err)
	}
	if !claimed {
		return s.store.GetBundle(ctx, bundleID)
	}

	b, err := s.store.GetBundle(ctx, bundleID)
	if err != nil {
		return store.Bundle{}, err
	}

	if out, failErr := s.compileClaimed(ctx, orgID, b); failErr != nil {
		s.logger.Warn("bundle compile failed", "bundle_id", bundleID, "error", failErr)
		return s.store.UpdateBundleFailed(ctx, bundleID, failErr.Error())
	} else {
		return out, nil
	}
}

func (s *Service) compileClaimed(ctx context.Context, orgID uuid.UUID, b store.Bundle) (store.Bundle, error) {
	rules, err := s.rules(ctx, b.ProjectID)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("loading validation rules: %w", err)
	}
	issues, err := ApplyRules(rules, b.ConfigSource)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("applying validation rules: %w", err)
	}
	for _, issue := range issues {
		if issue.Severity == validatorclient.SeverityError {
			return store.Bundle{}, fmt.Errorf("validation rule %q failed: %s", issue.Rule, issue.Message)
		}
	}

	result, err := s.validator.Validate(ctx, b.ConfigSource)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("external validation: %w", err)
	}
	if result.Failed() {
		var msgs []string
		for _, issue := range result.Issues {
			if issue.Severity == validatorclient.SeverityError {
				msgs = append(msgs, issue.Message)
			}
		}
		return store.Bundle{}, fmt.Errorf("external validator rejected config source: %s", strings.Join(msgs, "; "))
	}

	manifest := buildManifest(b.ID, b.ConfigSource)
	archiveResult, err := buildArchive(b.ConfigSource, manifest)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("building archive: %w", err)
	}

	key := storageKey(b.ProjectID, b.ID)
	if err := s.objects.Put(ctx, key, bytes.NewReader(archiveResult.Data), archiveResult.SizeBytes); err != nil {
		return store.Bundle{}, fmt.Errorf("uploading archive: %w", err)
	}

	sbom, err := buildSBOM(b.ConfigSource)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("building SBOM: %w", err)
	}

	previous, err := s.store.GetLatestCompiledBundle(ctx, b.ProjectID)
	previousSource := ""
	if err == nil {
		previousSource = previous.ConfigSource
	} else if !apperr.Is(err, apperr.BundleNotFound) {
		return store.Bundle{}, fmt.Errorf("loading previous bundle: %w", err)
	}
	risk := assessRisk(previousSource, b.ConfigSource)

	fields := store.BundleCompiledFields{
		Checksum:       archiveResult.Checksum,
		SizeBytes:      archiveResult.SizeBytes,
		StorageKey:     key,
		Manifest:       &manifest,
		CompilerOutput: "",
		RiskLevel:      risk.Level,
		RiskReasons:    risk.Reasons,
		SBOM:           sbom,
	}

	if s.signBundles {
		// Signs the checksum, not the archive bytes — see
		// identity.BundleSigner.Sign.
		sig, keyID, err := s.signer.Sign(ctx, orgID, archiveResult.Checksum)
		if err != nil {
			return store.Bundle{}, fmt.Errorf("signing bundle: %w", err)
		}
		fields.Signature = sig
		fields.SigningKeyID = &keyID
	}

	return s.store.UpdateBundleCompiled(ctx, b.ID, fields)
}

// Promote enforces the environment chain rule: an environment of
// ordinal k > 0 may only receive a promotion once the bundle is already
// promoted to every environment of lower ordinal (spec.md §4.3
// "Promote").
func (s *Service) Promote(ctx context.Context, bundleID, environmentID uuid.UUID) (store.BundlePromotion, error) {
	b, err := s.store.GetBundle(ctx, bundleID)
	if err != nil {
		return store.BundlePromotion{}, err
	}
	if !b.IsCompiled() {
		return store.BundlePromotion{}, apperr.New(apperr.BundleNotCompiled, "bundle is not compiled")
	}

	env, err := s.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return store.BundlePromotion{}, err
	}

	if env.Ordinal > 0 {
		envs, err := s.store.ListEnvironmentsByProject(ctx, env.ProjectID)
		if err != nil {
			return store.BundlePromotion{}, err
		}
		for _, e := range envs {
			if e.Ordinal >= env.Ordinal {
				continue
			}
			promoted, err := s.store.IsPromoted(ctx, bundleID, e.ID)
			if err != nil {
				return store.BundlePromotion{}, err
			}
			if !promoted {
				return store.BundlePromotion{}, apperr.New(apperr.InvalidState,
					fmt.Sprintf("bundle not yet promoted to environment %q (ordinal %d)", e.Name, e.Ordinal))
			}
		}
	}

	return s.store.CreateBundlePromotion(ctx, store.BundlePromotion{BundleID: bundleID, EnvironmentID: environmentID})
}

// Revoke transitions a compiled bundle to revoked and clears it as any
// node's staged bundle (spec.md §4.3 "Revoke").
func (s *Service) Revoke(ctx context.Context, bundleID uuid.UUID) (store.Bundle, error) {
	b, err := s.store.RevokeBundle(ctx, bundleID)
	if err != nil {
		return store.Bundle{}, err
	}
	if _, err := s.store.ResetStagedForBundle(ctx, bundleID); err != nil {
		return store.Bundle{}, fmt.Errorf("resetting staged nodes: %w", err)
	}
	return b, nil
}

// Diff computes both the config-source diff and the manifest file-set
// diff between two bundles.
func (s *Service) Diff(ctx context.Context, fromID, toID uuid.UUID) (ConfigDiff, ManifestDiff, error) {
	from, err := s.store.GetBundle(ctx, fromID)
	if err != nil {
		return ConfigDiff{}, ManifestDiff{}, err
	}
	to, err := s.store.GetBundle(ctx, toID)
	if err != nil {
		return ConfigDiff{}, ManifestDiff{}, err
	}

	var fromManifest, toManifest store.Manifest
	if from.Manifest != nil {
		fromManifest = *from.Manifest
	}
	if to.Manifest != nil {
		toManifest = *to.Manifest
	}

	return DiffConfig(from.ConfigSource, to.ConfigSource), DiffManifests(fromManifest, toManifest), nil
}
