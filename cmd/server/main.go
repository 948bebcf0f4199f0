/*
main.go - Application entry point

PURPOSE:
  Starts the back-office HTTP server. Reads configuration, opens the store,
  wires the services and runs the reconciliation scheduler until a signal
  arrives.

STARTUP SEQUENCE:
  1. Load config (.env, environment, then flags)
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL) and migrate
  4. Load the access policy
  5. Create the API handler and router
  6. Start the reconciliation scheduler
  7. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -env     .env file to read (default: .env, missing is fine)
  -port    HTTP server port, overrides PORT
  -db      database path or URL, overrides DATABASE_URL
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a pass in flight)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database

EXAMPLES:
  # Local development without tokens
  AUTH_DISABLED=true ./server -db="./data/backoffice.db"

  # PostgreSQL
  DB_DRIVER=pgx DATABASE_URL=postgres://app@localhost/backoffice ./server

SEE ALSO:
  - config/config.go: every environment key
  - api/server.go: router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/access"
	"github.com/warp/backoffice/api"
	"github.com/warp/backoffice/config"
	"github.com/warp/backoffice/metrics"
	"github.com/warp/backoffice/store/sqldb"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file")
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	dbURL := flag.String("db", "", "database path or URL (overrides DATABASE_URL)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	logger := config.NewLogger(cfg)
	if cfg.AuthDisabled {
		logger.Warn("AUTH_DISABLED is set; actors come from X-Actor-* headers")
	}

	store, err := sqldb.Open(cfg.DBDriver, cfg.DatabaseURL, cfg.StoreOptions(logger))
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer store.Close()

	policy, err := access.LoadPolicy(cfg.AccessPolicyFile)
	if err != nil {
		logger.WithError(err).Fatal("failed to load access policy")
	}

	m := metrics.New()
	handler := api.NewHandler(store, api.Options{
		Logger:          logger,
		Metrics:         m,
		Policy:          policy,
		ReceiveFallback: cfg.ReceiveFallback,
		Auth:            api.AuthOptions{JWTSecret: cfg.JWTSecret, Disabled: cfg.AuthDisabled},
		CORSOrigins:     cfg.CORSOrigins,
	})
	router := api.NewRouter(handler)

	scheduler := api.NewReconciliationScheduler(handler.Reconciler, logger)
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.AutoRepair = cfg.ReconcileAutoRepair
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"driver":   cfg.DBDriver,
			"fallback": cfg.ReceiveFallback,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	logger.Info("server stopped")
}
