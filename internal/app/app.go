// Package app wires configuration, infrastructure, and domain packages into
// the gateway's two runtime modes (api and sweeper) and runs them to
// completion or cancellation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/design-smith/vocalbridge/internal/config"
	"github.com/design-smith/vocalbridge/internal/httpserver"
	"github.com/design-smith/vocalbridge/internal/platform"
	"github.com/design-smith/vocalbridge/internal/telemetry"
	"github.com/design-smith/vocalbridge/pkg/idempotency"
	"github.com/design-smith/vocalbridge/pkg/identity"
	"github.com/design-smith/vocalbridge/pkg/opsalert"
	"github.com/design-smith/vocalbridge/pkg/pipeline"
	"github.com/design-smith/vocalbridge/pkg/retry"
	"github.com/design-smith/vocalbridge/pkg/store"
	"github.com/design-smith/vocalbridge/pkg/vendor"
)

const serviceName = "vocalbridge"

// Run reads config, connects to infrastructure, and starts the mode
// selected by cfg.Mode ("api" or "sweeper").
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting vocalbridge", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

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

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)
	httpserver.RegisterMetrics(metricsReg)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "sweeper":
		return runSweeper(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	pgStore := store.NewPostgresStore(db)

	idempotencyTTL, err := time.ParseDuration(cfg.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("parsing idempotency TTL %q: %w", cfg.IdempotencyTTL, err)
	}
	mismatchPolicy := idempotency.Ignore
	if cfg.FingerprintMismatchPolicy == "fail_closed" {
		mismatchPolicy = idempotency.FailClosed
	}
	idem := idempotency.NewProtocol(pgStore, rdb, logger, idempotencyTTL, mismatchPolicy)

	vendors := vendor.NewRegistry()
	vendors.Register(vendor.NewVendorAAdapter(cfg.VendorABaseURL, cfg.VendorAAPIKey))
	vendors.Register(vendor.NewVendorBAdapter(cfg.VendorBBaseURL, cfg.VendorBAPIKey))

	perAttemptTimeout, err := time.ParseDuration(cfg.RetryPerAttemptTimeout)
	if err != nil {
		return fmt.Errorf("parsing retry per-attempt timeout %q: %w", cfg.RetryPerAttemptTimeout, err)
	}
	baseBackoff, err := time.ParseDuration(cfg.RetryBaseBackoff)
	if err != nil {
		return fmt.Errorf("parsing retry base backoff %q: %w", cfg.RetryBaseBackoff, err)
	}
	maxBackoff, err := time.ParseDuration(cfg.RetryMaxBackoff)
	if err != nil {
		return fmt.Errorf("parsing retry max backoff %q: %w", cfg.RetryMaxBackoff, err)
	}
	policy := retry.Policy{
		MaxAttempts:       cfg.RetryMaxAttempts,
		PerAttemptTimeout: perAttemptTimeout,
		BaseBackoff:       baseBackoff,
		MaxBackoff:        maxBackoff,
		JitterFraction:    cfg.RetryJitterFraction,
	}

	notifier := opsalert.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	notifier.Start(ctx)
	defer notifier.Close()
	if notifier.IsEnabled() {
		logger.Info("vendor outage alerting enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("vendor outage alerting disabled (SLACK_BOT_TOKEN or SLACK_ALERT_CHANNEL not set)")
	}

	pl := pipeline.New(pgStore, idem, vendors, policy, notifier, logger)

	gate := identity.NewGate(pgStore)
	sendMessageHandler := httpserver.NewSendMessageHandler(pl)
	messageHistoryHandler := httpserver.NewMessageHistoryHandler(pgStore)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, gate, sendMessageHandler, messageHistoryHandler)

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

// runSweeper periodically purges expired idempotency records so the
// idempotency_records table doesn't grow unbounded. It runs until ctx is
// cancelled.
func runSweeper(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	pgStore := store.NewPostgresStore(db)

	idempotencyTTL, err := time.ParseDuration(cfg.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("parsing idempotency TTL %q: %w", cfg.IdempotencyTTL, err)
	}

	interval := idempotencyTTL / 2
	logger.Info("sweeper started", "interval", interval, "retention", idempotencyTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		before := time.Now().Add(-idempotencyTTL)
		n, err := pgStore.SweepExpiredIdempotencyRecords(ctx, before)
		if err != nil {
			logger.Error("sweeping expired idempotency records", "error", err)
			return
		}
		logger.Info("swept expired idempotency records", "count", n)
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}
