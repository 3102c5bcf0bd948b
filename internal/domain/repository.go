package domain

import (
	"context"
	"time"
)

// ArtistStore persists discovered artists. Lookups return nil, nil when absent.
type ArtistStore interface {
	GetArtist(ctx context.Context, id int64) (*Artist, error)
	FindArtistByName(ctx context.Context, normalizedName string) (*Artist, error)
	CreateArtist(ctx context.Context, artist *Artist) error
	// UpdateArtist rewrites every mutable column, the normalized name included.
	UpdateArtist(ctx context.Context, artist *Artist) error
	// ListArtists pages by id. Inactive artists are skipped unless includeInactive.
	ListArtists(ctx context.Context, offset, limit int, includeInactive bool) ([]*Artist, error)
	CountArtists(ctx context.Context, includeInactive bool) (int, error)
	// SetArtistActive reports false when no artist has id.
	SetArtistActive(ctx context.Context, id int64, active bool) (bool, error)
	// ListArtistsNeedingScoring orders by most recent appearance, newest first. limit <= 0 means all.
	ListArtistsNeedingScoring(ctx context.Context, limit int) ([]*Artist, error)
	CountArtistsNeedingScoring(ctx context.Context) (int, error)
	ListTopArtists(ctx context.Context, algorithm string, limit int) ([]ArtistWithScore, error)
}

// ScoreStore is append-only.
type ScoreStore interface {
	// SaveScore appends record and clears the artist's needs-scoring flag in one unit.
	SaveScore(ctx context.Context, record *ScoreRecord) error
	LatestScore(ctx context.Context, artistID int64, algorithm string) (*ScoreRecord, error)
	ListScores(ctx context.Context, artistID int64, limit int) ([]*ScoreRecord, error)
}

type JobStore interface {
	// CreateJob fails with a job-already-running error when a running record exists.
	CreateJob(ctx context.Context, job *JobStatus) error
	UpdateJob(ctx context.Context, job *JobStatus) error
	GetJob(ctx context.Context, id string) (*JobStatus, error)
	FindRunningJob(ctx context.Context) (*JobStatus, error)
	LatestJob(ctx context.Context) (*JobStatus, error)
	ListJobs(ctx context.Context, limit int) ([]*JobStatus, error)
	DeleteJobsFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles every persistence boundary the pipeline needs.
type Store interface {
	ArtistStore
	ScoreStore
	JobStore
	Close() error
}
