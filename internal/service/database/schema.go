package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS artists (
		id                     BIGSERIAL PRIMARY KEY,
		name                   TEXT NOT NULL,
		normalized_name        TEXT NOT NULL UNIQUE,
		genre                  TEXT NOT NULL DEFAULT '',
		spotify_id             TEXT,
		youtube_channel_id     TEXT,
		spotify_followers      BIGINT NOT NULL DEFAULT 0,
		spotify_popularity     INTEGER NOT NULL DEFAULT 0,
		monthly_listeners      BIGINT NOT NULL DEFAULT 0,
		spotify_genres         TEXT[] NOT NULL DEFAULT '{}',
		youtube_subscribers    BIGINT NOT NULL DEFAULT 0,
		youtube_views          BIGINT NOT NULL DEFAULT 0,
		youtube_videos         BIGINT NOT NULL DEFAULT 0,
		most_recent_appearance TIMESTAMPTZ,
		last_seen_at           TIMESTAMPTZ,
		needs_scoring          BOOLEAN NOT NULL DEFAULT TRUE,
		is_active              BOOLEAN NOT NULL DEFAULT TRUE,
		discovered_via         TEXT NOT NULL DEFAULT '',
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artists_needs_scoring
		ON artists (most_recent_appearance DESC NULLS LAST) WHERE needs_scoring AND is_active`,
	`CREATE TABLE IF NOT EXISTS scores (
		id                    BIGSERIAL PRIMARY KEY,
		artist_id             BIGINT NOT NULL REFERENCES artists(id),
		algorithm_name        TEXT NOT NULL,
		algorithm_version     TEXT NOT NULL,
		demand_score          DOUBLE PRECISION NOT NULL,
		competition_intensity DOUBLE PRECISION NOT NULL,
		optimization_score    DOUBLE PRECISION NOT NULL,
		overall_score         DOUBLE PRECISION NOT NULL,
		category              TEXT NOT NULL,
		breakdown             JSONB NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_artist_created
		ON scores (artist_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id                  TEXT PRIMARY KEY,
		kind                TEXT NOT NULL,
		state               TEXT NOT NULL,
		progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_step        TEXT NOT NULL DEFAULT '',
		current_source      TEXT NOT NULL DEFAULT '',
		counters            JSONB NOT NULL DEFAULT '{}',
		errors              TEXT[] NOT NULL DEFAULT '{}',
		error_message       TEXT NOT NULL DEFAULT '',
		result              JSONB,
		cancellable         BOOLEAN NOT NULL DEFAULT TRUE,
		cancel_requested    BOOLEAN NOT NULL DEFAULT FALSE,
		started_at          TIMESTAMPTZ NOT NULL,
		completed_at        TIMESTAMPTZ,
		last_update         TIMESTAMPTZ NOT NULL
	)`,
	// at most one running job, enforced by the database as well
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_single_running
		ON jobs (state) WHERE state = 'running'`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs (started_at DESC)`,
}

// EnsureSchema creates the tables and indexes when missing. It is idempotent.
func (ps *PostgresService) EnsureSchema(ctx context.Context) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	ps.logger.Info("Database schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}
