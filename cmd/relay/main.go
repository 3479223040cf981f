package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/relayhq/relay/internal/authgate"
	"github.com/relayhq/relay/internal/config"
	"github.com/relayhq/relay/internal/httpapi"
	"github.com/relayhq/relay/internal/ledger"
	"github.com/relayhq/relay/internal/manifest"
	"github.com/relayhq/relay/internal/policyclient"
	"github.com/relayhq/relay/internal/sealengine"
	"github.com/relayhq/relay/internal/seallifecycle"
	"github.com/relayhq/relay/internal/tenancy"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("relay exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	// ── Domain components ────────────────────────────────────────────────────
	seals, err := sealengine.New(cfg.PrivateKeyB64, cfg.SealTTL)
	if err != nil {
		return fmt.Errorf("init seal engine: %w", err)
	}
	led := ledger.New(db)
	policy := policyclient.New(cfg.OPAURL, cfg.PolicyPath, cfg.PolicyVersion)

	tenancyRepo := tenancy.New(db)
	tenancySvc := tenancy.NewService(tenancyRepo)

	gate := authgate.New(cfg.JWTSecret, cfg.JWTExpiry, cfg.AuthRequired, tenancySvc, led)

	validator := manifest.New(policy, seals, led)
	lifecycle := seallifecycle.New(led, seals)

	// ── HTTP handlers ────────────────────────────────────────────────────────
	manifestHandler := httpapi.NewManifestHandler(validator, gate, policy, logger)
	sealHandler := httpapi.NewSealHandler(lifecycle, logger)
	tenancyHandler := httpapi.NewTenancyHandler(tenancySvc, gate, logger)
	auditHandler := httpapi.NewAuditHandler(led, gate, logger)

	router := httpapi.NewRouter(httpapi.Deps{
		Manifest: manifestHandler,
		Seal:     sealHandler,
		Tenancy:  tenancyHandler,
		Audit:    auditHandler,

		DB:     db,
		Policy: policy,

		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,

		Logger: logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("relay HTTP listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("relay stopped")
	return nil
}
