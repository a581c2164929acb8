/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bakery operations server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the document store (SQLite or memory)
  4. Build the auth service with its revocation store (memory or Redis)
  5. Ensure the bootstrap admin account
  6. Create API handler, scheduler and router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/bakery.db"

  # Run fully in memory
  STORE_BACKEND=memory ./server

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  See package config for every key.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/bakery-ops/api"
	"github.com/warp/bakery-ops/auth"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/config"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/docstore/memory"
	"github.com/warp/bakery-ops/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		cfg.Store.SQLitePath = *dbPath
	}

	logger, err := config.NewLogger(cfg.Logger, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize auth
	revoked, closeRevoked, err := openRevocations(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeRevoked()

	authSvc, err := auth.NewService(store, revoked, auth.Options{
		Secret: []byte(cfg.JWT.Secret),
		TTL:    cfg.JWT.TTL,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if cfg.Bootstrap.AdminEmail != "" {
		created, err := authSvc.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("email", cfg.Bootstrap.AdminEmail))
		}
	}

	// Initialize handler
	handler := api.NewHandler(store, authSvc, bakery.Options{
		Logger:  logger,
		Timeout: cfg.Store.Timeout,
	})

	scheduler := api.NewReconciliationScheduler(handler.Ledger, logger)
	scheduler.Enabled = cfg.Reconcile.Enabled
	scheduler.CheckInterval = cfg.Reconcile.Interval
	if cfg.Reconcile.Enabled {
		handler.Scheduler = scheduler
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		Scenarios:   !cfg.IsProduction(),
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.HTTPPort),
			zap.String("env", cfg.Server.AppEnv),
			zap.String("store", cfg.Store.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (docstore.TxStore, func(), error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	default:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize database: %w", err)
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("close database", zap.Error(err))
			}
		}, nil
	}
}

func openRevocations(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (auth.RevocationStore, func(), error) {
	if !cfg.Revocation {
		return auth.NewMemoryRevocations(), func() {}, nil
	}
	client, err := auth.NewRedisClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("token revocations in redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return auth.NewRedisRevocations(client, ""), func() {
		if err := client.Close(); err != nil {
			logger.Error("close redis", zap.Error(err))
		}
	}, nil
}
