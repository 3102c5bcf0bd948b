// Command migrate applies the database schema and optionally prunes old jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kapu/artist-radar/internal/repository"
	"github.com/kapu/artist-radar/internal/service/database"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/internal/util"
	"go.uber.org/zap"
)

var (
	dbHost     = flag.String("db-host", envOr("POSTGRES_HOST", "localhost"), "PostgreSQL host")
	dbPort     = flag.Int("db-port", 5432, "PostgreSQL port")
	dbUser     = flag.String("db-user", envOr("POSTGRES_USER", "radar"), "PostgreSQL user")
	dbPass     = flag.String("db-pass", os.Getenv("POSTGRES_PASSWORD"), "PostgreSQL password")
	dbName     = flag.String("db-name", envOr("POSTGRES_DB", "artist_radar"), "PostgreSQL database")
	sslMode    = flag.String("sslmode", envOr("POSTGRES_SSLMODE", "disable"), "PostgreSQL sslmode")
	pruneDays  = flag.Int("prune-days", 0, "Delete finished jobs older than this many days (0 keeps all)")
	recoverRun = flag.Bool("recover", false, "Mark jobs left running by a crashed process as failed")
	verbose    = flag.Bool("verbose", false, "Verbose output")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := util.NewLogger(level, "", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("Migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	postgresSvc, err := database.NewPostgresService(database.PostgresConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPass,
		Database: *dbName,
		SSLMode:  *sslMode,
	}, logger)
	if err != nil {
		return err
	}
	store := repository.NewPostgresStore(postgresSvc, logger)
	defer store.Close()

	if err := postgresSvc.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("Schema is up to date", zap.String("database", *dbName))

	orchestrator := jobs.NewOrchestrator(store, logger, nil)
	if *recoverRun {
		n, err := orchestrator.RecoverStale(ctx)
		if err != nil {
			return err
		}
		logger.Info("Stale jobs recovered", zap.Int("jobs", n))
	}
	if *pruneDays > 0 {
		deleted, err := orchestrator.CleanupOld(ctx, time.Duration(*pruneDays)*24*time.Hour)
		if err != nil {
			return err
		}
		logger.Info("Finished jobs pruned", zap.Int64("deleted", deleted), zap.Int("older_than_days", *pruneDays))
	}
	return nil
}
