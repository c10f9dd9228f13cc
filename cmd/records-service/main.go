package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/medvault/dlt-phr/internal/access"
	"github.com/medvault/dlt-phr/internal/exchange"
	"github.com/medvault/dlt-phr/internal/vault"
	"github.com/medvault/dlt-phr/pkg/auth"
	"github.com/medvault/dlt-phr/pkg/blobstore"
	"github.com/medvault/dlt-phr/pkg/config"
	"github.com/medvault/dlt-phr/pkg/database"
	"github.com/medvault/dlt-phr/pkg/ledger"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/monitoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("records-service", cfg.LogLevel)
	log.Info("Starting records service")

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.CreateSchema(context.Background()); err != nil {
		log.WithError(err).Fatal("Failed to create schema")
	}

	blobs, err := blobstore.NewBadgerStore(&cfg.BlobStore, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open blob store")
	}
	defer blobs.Close()

	ledgerClient := ledger.NewFabricClient(&cfg.Ledger, log)
	if err := ledgerClient.Connect(context.Background()); err != nil {
		// The ledger is a non-critical dependency: anchoring degrades, the
		// service still runs.
		log.WithError(err).Warn("Ledger unavailable at startup, continuing degraded")
	}

	metrics := monitoring.NewMetricsCollector()

	recordRepo := vault.NewRepository(db, log)
	requestRepo := access.NewRepository(db, log)
	keyRepo := exchange.NewRepository(db, log)

	accessService := access.NewService(requestRepo, recordRepo, &cfg.Access, log, metrics)
	vaultService := vault.NewService(recordRepo, blobs, ledgerClient, requestRepo, log, metrics)
	exchangeService := exchange.NewService(keyRepo, log)

	sweepInterval := time.Duration(cfg.Access.SweepIntervalMins) * time.Minute
	sweeper := access.NewSweeper(accessService, sweepInterval, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	tokenValidator := auth.NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	authMiddleware := auth.NewMiddleware(tokenValidator, log)
	monitoringMiddleware := monitoring.NewMiddleware(metrics, log)

	health := monitoring.NewHealthChecker()
	health.Register(monitoring.ComponentCheck{
		Name:     "database",
		Check:    db.Health,
		Critical: true,
	})
	health.Register(monitoring.ComponentCheck{
		Name: "ledger",
		Check: func() error {
			return ledgerClient.Connect(context.Background())
		},
	})

	router := mux.NewRouter()
	router.Handle(cfg.Monitoring.HealthPath, health.Handler()).Methods("GET")
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(monitoringMiddleware.Handler)
	api.Use(authMiddleware.Handler)
	vault.NewHandlers(vaultService, log).RegisterRoutes(api)
	access.NewHandlers(accessService, log).RegisterRoutes(api)
	exchange.NewHandlers(exchangeService, log).RegisterRoutes(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}

	log.Info("Records service stopped")
}
