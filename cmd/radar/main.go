package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kapu/artist-radar/internal/app"
	"github.com/kapu/artist-radar/internal/config"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/util"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Artist radar starting...",
		zap.String("algorithm", constants.ScoringConfig.AlgorithmName),
		zap.String("algorithm_version", constants.ScoringConfig.AlgorithmVersion),
		zap.String("log_level", cfg.Logging.Level),
	)

	buildCtx, buildCancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := app.Build(buildCtx, cfg, logger)
	buildCancel()
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		os.Exit(1)
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	container.Hub.Run()
	if container.Scheduler != nil {
		container.Scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := container.Server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server error", zap.Error(err))
	}

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.JobConfig.ShutdownTimeout)
	defer shutdownCancel()

	if container.Scheduler != nil {
		container.Scheduler.Stop()
	}
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	if err := container.Orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("Running job did not stop in time", zap.Error(err))
	}
	container.Hub.Stop()

	logger.Info("Shutdown complete")
}
