// Package app wires Sentinel-CP's configuration, infrastructure, and
// domain services into either of its two runtime modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelcp/control-plane/internal/config"
	"github.com/sentinelcp/control-plane/internal/httpserver"
	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/objectstore"
	"github.com/sentinelcp/control-plane/internal/platform"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/store/postgres"
	"github.com/sentinelcp/control-plane/internal/telemetry"
	"github.com/sentinelcp/control-plane/internal/validatorclient"
	"github.com/sentinelcp/control-plane/internal/version"
	"github.com/sentinelcp/control-plane/pkg/bundle"
	"github.com/sentinelcp/control-plane/pkg/dispatcher"
	"github.com/sentinelcp/control-plane/pkg/drift"
	"github.com/sentinelcp/control-plane/pkg/messaging"
	"github.com/sentinelcp/control-plane/pkg/nodeproto"
	"github.com/sentinelcp/control-plane/pkg/noderegistry"
	"github.com/sentinelcp/control-plane/pkg/rollout"
	"github.com/sentinelcp/control-plane/pkg/slack"
	"github.com/sentinelcp/control-plane/pkg/webhook"
)

// Run reads configuration, connects to infrastructure, and starts the
// mode selected by cfg.Mode ("api" or "dispatcher").
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sentinel-cp",
		"mode", cfg.Mode,
		"version", version.Version,
		"commit", version.Commit,
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	deps, err := buildDeps(ctx, cfg, db, rdb, logger)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, deps)
	case "dispatcher":
		return runDispatcher(ctx, cfg, logger, rdb, deps)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// deps holds every domain collaborator shared between modes.
type deps struct {
	store        store.Store
	signingKeys  *identity.SigningKeyStore
	nodeKeys     *identity.NodeKeyService
	tokenIssuer  *identity.NodeTokenIssuer
	tokenVerify  *identity.NodeTokenVerifier
	bundleSigner *identity.BundleSigner
	objects      objectstore.ObjectStore
	validator    validatorclient.Validator
	bundles      *bundle.Service
	nodes        *noderegistry.Service
	driftEngine  *drift.Engine
	rollouts     *rollout.Engine
	msgRegistry  *messaging.Registry
	tokenTTL     time.Duration
	pollInterval time.Duration
	presignTTL   time.Duration
}

func buildDeps(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*deps, error) {
	s := postgres.New(db)

	signingKeys := identity.NewSigningKeyStore(s)
	nodeKeys := identity.NewNodeKeyService(s)
	bundleSigner := identity.NewBundleSigner(signingKeys)

	nodeTokenTTL, err := time.ParseDuration(cfg.NodeTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("parsing node token ttl %q: %w", cfg.NodeTokenTTL, err)
	}
	tokenIssuer := identity.NewNodeTokenIssuer(signingKeys, nodeTokenTTL)
	tokenVerify := identity.NewNodeTokenVerifier(signingKeys)

	var objects objectstore.ObjectStore
	if cfg.ObjectStoreEndpoint != "" || cfg.ObjectStoreBucket != "" {
		s3Store, err := objectstore.NewS3Store(ctx, cfg.ObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("creating object store: %w", err)
		}
		objects = s3Store
	} else {
		logger.Warn("object store endpoint not configured, using in-memory object store")
		objects = objectstore.NewMemory()
	}

	var validator validatorclient.Validator
	if cfg.ValidatorURL != "" {
		validator = validatorclient.NewHTTPValidator(cfg.ValidatorURL)
	}

	bundles := bundle.NewService(s, objects, validator, bundleSigner, cfg.BundleSigningEnabled, noValidationRules, logger)

	driftRateLimiter := drift.NewRateLimiter(rdb, logger)

	rollouts := rollout.New(s, nil, logger)
	driftEngine := drift.New(s, driftRateLimiter, rollouts, logger)

	staleAfter, err := time.ParseDuration(cfg.NodeStaleThreshold)
	if err != nil {
		return nil, fmt.Errorf("parsing node stale threshold %q: %w", cfg.NodeStaleThreshold, err)
	}
	nodes := noderegistry.New(s, nodeKeys, driftEngine, staleAfter, cfg.HeartbeatRowCap, logger)

	msgRegistry := messaging.NewRegistry()
	if cfg.SlackBotToken != "" {
		slackNotifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
		msgRegistry.Register(slack.NewProvider(slackNotifier, logger))
		logger.Info("slack notifications enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	presignTTL := time.Duration(cfg.PresignTTLSeconds) * time.Second
	pollInterval := time.Duration(cfg.NodePollIntervalSec) * time.Second

	return &deps{
		store:        s,
		signingKeys:  signingKeys,
		nodeKeys:     nodeKeys,
		tokenIssuer:  tokenIssuer,
		tokenVerify:  tokenVerify,
		bundleSigner: bundleSigner,
		objects:      objects,
		validator:    validator,
		bundles:      bundles,
		nodes:        nodes,
		driftEngine:  driftEngine,
		rollouts:     rollouts,
		msgRegistry:  msgRegistry,
		tokenTTL:     nodeTokenTTL,
		pollInterval: pollInterval,
		presignTTL:   presignTTL,
	}, nil
}

// noValidationRules is the default rule source until project-level
// validation rules are wired from the external operator surface
// (spec.md §1).
func noValidationRules(_ context.Context, _ uuid.UUID) ([]bundle.ValidationRule, error) {
	return nil, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, d *deps) error {
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	nodeHandler := nodeproto.New(
		d.store, d.nodes, d.tokenVerify, d.tokenIssuer, d.objects,
		d.pollInterval, d.presignTTL, d.tokenTTL, cfg.EventRowCap,
		logger,
	)
	nodeHandler.Mount(srv.NodeRouter)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client, d *deps) error {
	periods, err := parsePeriods(cfg)
	if err != nil {
		return err
	}

	webhookTimeout, err := time.ParseDuration(cfg.WebhookTimeout)
	if err != nil {
		return fmt.Errorf("parsing webhook timeout %q: %w", cfg.WebhookTimeout, err)
	}
	webhooks := webhook.New(webhookTimeout, cfg.WebhookSigningSecret, cfg.WebhookMaxRetries, logger)

	disp := dispatcher.New(
		d.store, d.bundles, d.rollouts, d.driftEngine, d.nodes, webhooks, rdb,
		periods, cfg.DispatcherWorkers, cfg.HeartbeatRowCap, cfg.EventRowCap,
		logger,
	)
	return disp.Run(ctx)
}

func parsePeriods(cfg *config.Config) (dispatcher.Periods, error) {
	durations := map[string]string{
		"rollout tick period":      cfg.RolloutTickPeriod,
		"scheduled rollout period": cfg.ScheduledRolloutPeriod,
		"compile scan period":      cfg.CompileScanPeriod,
		"drift scan period":        cfg.DriftScanPeriod,
		"liveness sweep period":    cfg.LivenessSweepPeriod,
		"cleanup period":           cfg.CleanupPeriod,
		"tick debounce":            cfg.TickDebounce,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for name, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return dispatcher.Periods{}, fmt.Errorf("parsing %s %q: %w", name, raw, err)
		}
		parsed[name] = d
	}

	return dispatcher.Periods{
		RolloutTick:      parsed["rollout tick period"],
		ScheduledRollout: parsed["scheduled rollout period"],
		CompileScan:      parsed["compile scan period"],
		DriftScan:        parsed["drift scan period"],
		LivenessSweep:    parsed["liveness sweep period"],
		Cleanup:          parsed["cleanup period"],
		TickDebounce:     parsed["tick debounce"],
	}, nil
}
