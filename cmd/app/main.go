package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mentora/internal/auth"
	"mentora/internal/cache"
	"mentora/internal/config"
	"mentora/internal/gateway"
	"mentora/internal/httpserver"
	"mentora/internal/logging"
	"mentora/internal/metrics"
	"mentora/internal/repo"
	"mentora/internal/settlement"
	"mentora/internal/verify"
	"mentora/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting mentora", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	verifier := verify.New(verify.Config{
		BaseURL:    cfg.TwilioBaseURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		ServiceSID: cfg.TwilioVerifyServiceID,
		Timeout:    cfg.TwilioTimeout,
		Cooldown:   cfg.OTPResendCooldown,
	}, logger, metricRegistry, redisClient)

	gatewayClient := gateway.New(gateway.Config{
		BaseURL:   cfg.RazorpayBaseURL,
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		Timeout:   cfg.RazorpayTimeout,
	}, logger, metricRegistry)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)

	settlementSvc := settlement.New(repository, gatewayClient, redisClient, metricRegistry, logger, settlement.Config{
		Currency:        cfg.Currency,
		ReferralReward:  cfg.ReferralReward,
		MinDisbursement: cfg.MinDisbursement,
	})

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Repository:  repository,
		Verifier:    verifier,
		Tokens:      tokens,
		Settlement:  settlementSvc,
		AdminPhones: cfg.AdminPhoneNumbers,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	case "sqlite":
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	case "memory":
		logger.Warn("using in-memory repository; data will not survive restarts")
		return repo.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
