package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/config"
	"github.com/example/ride-hailing/internal/gateway"
	"github.com/example/ride-hailing/internal/httpapi"
	"github.com/example/ride-hailing/internal/identity"
	"github.com/example/ride-hailing/internal/ingest"
	"github.com/example/ride-hailing/internal/logging"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/routing"
	"github.com/example/ride-hailing/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := applyMigrations(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	var store storage.RideStore
	var directory identity.Directory
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		store = ps
		dir, err := identity.NewPostgresDirectory(cfg.PGDSN)
		if err != nil {
			return err
		}
		directory = dir
	} else {
		logger.Warn("no PG_DSN configured, using in-memory store and empty identity directory")
		store = storage.NewMemoryStore()
		directory = identity.NewStaticDirectory()
	}

	var oracle routing.Oracle = routing.Fallback{}
	if cfg.OSRMEndpoint != "" {
		oracle = routing.NewCache(routing.NewOSRMClient(cfg.OSRMEndpoint), cfg.RouteCacheTTL)
	}

	engine := &ride.Engine{
		Presence:      presence.NewRegistry(),
		Store:         store,
		Identity:      directory,
		Routing:       oracle,
		Logger:        logger,
		ProximityKm:   cfg.ProximityKm,
		SearchTimeout: cfg.SearchTimeout,
	}
	defer engine.Close()

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		engine.Locations = producer
	}

	var pay *payments.StripeClient
	if os.Getenv("STRIPE_API_KEY") != "" {
		pay = payments.NewStripeClient(cfg.StripeCurrency)
	}

	gw := &gateway.Gateway{Engine: engine, Logger: logger}
	api := httpapi.NewServer(gw, store, pay, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func applyMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	if _, err := db.Exec(string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_create_rides.sql")
	return nil
}
