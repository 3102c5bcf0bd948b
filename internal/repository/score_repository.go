package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/kapu/artist-radar/internal/domain"
	"go.uber.org/zap"
)

var scoreColumns = []string{
	"id", "artist_id", "algorithm_name", "algorithm_version",
	"demand_score", "competition_intensity", "optimization_score", "overall_score",
	"category", "breakdown", "created_at",
}

// ScoreRepository is append-only: records are inserted, never updated.
type ScoreRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewScoreRepository(db *sql.DB, logger *zap.Logger) *ScoreRepository {
	return &ScoreRepository{db: db, logger: logger}
}

func scanScore(row rowScanner) (*domain.ScoreRecord, error) {
	var (
		s         domain.ScoreRecord
		breakdown []byte
	)
	if err := row.Scan(
		&s.ID, &s.ArtistID, &s.AlgorithmName, &s.AlgorithmVersion,
		&s.DemandScore, &s.CompetitionScore, &s.OptimizationScore, &s.OverallScore,
		&s.Category, &breakdown, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.Breakdown = breakdown
	return &s, nil
}

// SaveScore inserts record and clears the artist's needs_scoring flag in the
// same transaction.
func (r *ScoreRepository) SaveScore(ctx context.Context, record *domain.ScoreRecord) error {
	insert, insertArgs, err := psql.Insert("scores").
		Columns(
			"artist_id", "algorithm_name", "algorithm_version",
			"demand_score", "competition_intensity", "optimization_score", "overall_score",
			"category", "breakdown", "created_at",
		).
		Values(
			record.ArtistID, record.AlgorithmName, record.AlgorithmVersion,
			record.DemandScore, record.CompetitionScore, record.OptimizationScore, record.OverallScore,
			record.Category, []byte(record.Breakdown), record.CreatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build score insert: %w", err)
	}

	clearQuery, clearArgs, err := psql.Update("artists").
		Set("needs_scoring", false).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": record.ArtistID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build artist flag update: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin score transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, insert, insertArgs...).Scan(&record.ID); err != nil {
		return fmt.Errorf("failed to insert score for artist %d: %w", record.ArtistID, err)
	}
	if _, err := tx.ExecContext(ctx, clearQuery, clearArgs...); err != nil {
		return fmt.Errorf("failed to clear needs_scoring for artist %d: %w", record.ArtistID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit score: %w", err)
	}
	return nil
}

func (r *ScoreRepository) LatestScore(ctx context.Context, artistID int64, algorithm string) (*domain.ScoreRecord, error) {
	builder := psql.Select(scoreColumns...).
		From("scores").
		Where(sq.Eq{"artist_id": artistID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1)
	if algorithm != "" {
		builder = builder.Where(sq.Eq{"algorithm_name": algorithm})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build latest score query: %w", err)
	}

	s, err := scanScore(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest score: %w", err)
	}
	return s, nil
}

func (r *ScoreRepository) ListScores(ctx context.Context, artistID int64, limit int) ([]*domain.ScoreRecord, error) {
	builder := psql.Select(scoreColumns...).
		From("scores").
		Where(sq.Eq{"artist_id": artistID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build score history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	scores := make([]*domain.ScoreRecord, 0)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
