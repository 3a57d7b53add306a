// Package main provides a standalone chunk-processing worker. It runs
// the same scan engine as the API server without exposing HTTP routes,
// for deployments that separate request serving from mailbox scanning.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/newsletter-scanner/internal/config"
	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/mailbox"
	"github.com/newsletter-scanner/internal/scan"
	"github.com/newsletter-scanner/internal/storage"
	"github.com/newsletter-scanner/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	jobRepo := storage.NewScanJobRepository(postgres)
	statusCache := storage.NewStatusCache(redis, 2*time.Second, logger)

	gmail := mailbox.NewGmailClientFactory(&mailbox.StaticTokenProvider{
		Config: &oauth2.Config{
			ClientID:     cfg.Gmail.ClientID,
			ClientSecret: cfg.Gmail.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
		},
		RefreshToken: cfg.Gmail.RefreshToken,
	})
	clients := mailbox.NewBreakerFactory(gmail, nil, logger)

	scanner := scan.NewScanner(jobRepo, clients, scan.Options{
		PageSize:     cfg.Scan.PageSize,
		SubBatchSize: cfg.Scan.SubBatchSize,
	}, logger)
	scanner.SetStatusInvalidator(statusCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := scan.NewDispatcher(scanner, cfg.Scan.DispatchBuffer, logger)
	scanner.SetTrigger(dispatcher)
	dispatcher.Start(ctx)

	sweeper, err := worker.NewSweeper(&worker.SweeperConfig{
		Store:        jobRepo,
		Trigger:      dispatcher,
		Interval:     cfg.Scan.SweepInterval,
		StaleTimeout: cfg.Scan.StaleTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sweeper")
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sweeper")
	}

	logger.Info("Worker started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	sweeper.Stop()
	cancel()
	dispatcher.Stop()
	logger.Info("Shutdown complete")
}
