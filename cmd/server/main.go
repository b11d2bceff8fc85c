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

	"openinvoice/backend/internal/cache"
	"openinvoice/backend/internal/config"
	"openinvoice/backend/internal/events"
	"openinvoice/backend/internal/httpapi"
	"openinvoice/backend/internal/logging"
	"openinvoice/backend/internal/metrics"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/service"
	"openinvoice/backend/internal/store"
	"openinvoice/backend/internal/store/memory"
	pgstore "openinvoice/backend/internal/store/postgres"
)

func main() {
	loaded := config.LoadEnvFiles()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if len(loaded) > 0 {
		logger.WithField("files", loaded).Info("loaded env files")
	}

	if err := setupCurrencies(cfg); err != nil {
		logger.WithError(err).Fatal("invalid currency configuration")
	}
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("postgres schema setup failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	snapshots := cache.SnapshotCache(cache.NoopSnapshotCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop snapshot cache")
			_ = redisCache.Close()
		} else {
			snapshots = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	publisher := events.Publisher(events.LogPublisher{Logger: logger})
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.WithError(err).Warn("amqp unavailable, events will only be logged")
		} else {
			publisher = amqpPublisher
			closers = append(closers, amqpPublisher.Close)
			logger.WithField("exchange", cfg.EventsExchange).Info("events: amqp")
		}
	}

	m := metrics.New()
	svc := service.New(repo, service.Options{
		Snapshots:   snapshots,
		SnapshotTTL: time.Duration(cfg.SnapshotTTLSeconds) * time.Second,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Metrics:       m,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("openinvoice backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when DATABASE_URL is set")
	}
	return nil
}

// setupCurrencies installs the currency registry, extended by CURRENCIES_FILE
// when set, and checks that DEFAULT_CURRENCY is known.
func setupCurrencies(cfg config.Config) error {
	registry := money.NewRegistry()
	if cfg.CurrenciesFile != "" {
		loaded, err := money.LoadRegistryFile(cfg.CurrenciesFile)
		if err != nil {
			return err
		}
		registry = loaded
	}
	if _, err := registry.Lookup(money.Currency(cfg.DefaultCurrency)); err != nil {
		return fmt.Errorf("DEFAULT_CURRENCY: %w", err)
	}
	money.SetDefault(registry)
	return nil
}
