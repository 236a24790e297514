// Package main wires together the social listening service.
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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/api"
	"github.com/senseworks/social-listening/internal/clock/system"
	"github.com/senseworks/social-listening/internal/cluster"
	"github.com/senseworks/social-listening/internal/config"
	"github.com/senseworks/social-listening/internal/events"
	"github.com/senseworks/social-listening/internal/id/uuid"
	"github.com/senseworks/social-listening/internal/ingest"
	"github.com/senseworks/social-listening/internal/logging"
	"github.com/senseworks/social-listening/internal/metrics"
	"github.com/senseworks/social-listening/internal/scrape"
	"github.com/senseworks/social-listening/internal/warehouse"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wh, err := warehouse.NewBigQueryProvider(ctx, cfg.Warehouse.ProjectID, cfg.Warehouse.Dataset, cfg.Warehouse.Location)
	if err != nil {
		logger.Fatal("warehouse client init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := wh.Close(); closeErr != nil {
			logger.Warn("warehouse client close failed", zap.Error(closeErr))
		}
	}()

	clock := system.New()
	idGen := uuid.New()
	brightData := scrape.NewAPIClient(cfg.BrightData, logger.Named("brightdata"))
	initiator := scrape.NewInitiator(brightData, wh, cfg.Warehouse, cfg.BrightData, idGen, clock, logger.Named("scrape"))
	orchestrator := cluster.NewOrchestrator(wh, cfg.Warehouse, clock, logger.Named("cluster"))
	normalizer := ingest.NewNormalizer(wh, cfg.Warehouse, logger.Named("ingest"))

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.Subscription != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psClient.Close(); closeErr != nil {
				logger.Warn("pubsub client close failed", zap.Error(closeErr))
			}
		}()

		subscriber := events.NewSubscriber(psClient, cfg.PubSub.Subscription, normalizer, logger.Named("events"))
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				logger.Error("subscriber stopped", zap.Error(err))
				stop()
			}
		}()
	} else {
		logger.Warn("pubsub not configured, scrape deliveries will not be ingested")
	}

	apiServer := api.NewServer(orchestrator, initiator, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
