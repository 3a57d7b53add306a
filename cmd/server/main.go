// Package main provides the API server entry point for the newsletter
// scanner service.
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

	"github.com/newsletter-scanner/internal/api"
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

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

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

	logger.Info("Database connections established")

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

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		InternalToken:   cfg.Server.InternalToken,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, scanner, statusCache, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Info("API server stopped")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	sweeper.Stop()
	cancel()
	dispatcher.Stop()

	logger.Info("Shutdown complete")
}
