package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var artistColumns = []string{
	"id", "name", "normalized_name", "genre",
	"spotify_id", "youtube_channel_id",
	"spotify_followers", "spotify_popularity", "monthly_listeners", "spotify_genres",
	"youtube_subscribers", "youtube_views", "youtube_videos",
	"most_recent_appearance", "last_seen_at", "needs_scoring", "is_active",
	"discovered_via", "created_at", "updated_at",
}

type ArtistRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewArtistRepository(db *sql.DB, logger *zap.Logger) *ArtistRepository {
	return &ArtistRepository{db: db, logger: logger}
}

func scanArtist(row rowScanner) (*domain.Artist, error) {
	var (
		a                domain.Artist
		spotifyID        sql.NullString
		youtubeChannelID sql.NullString
		mostRecent       sql.NullTime
		lastSeen         sql.NullTime
		discoveredVia    string
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.NormalizedName, &a.Genre,
		&spotifyID, &youtubeChannelID,
		&a.Metrics.SpotifyFollowers, &a.Metrics.SpotifyPopularity, &a.Metrics.MonthlyListeners,
		pq.Array(&a.Metrics.SpotifyGenres),
		&a.Metrics.YouTubeSubscribers, &a.Metrics.YouTubeViews, &a.Metrics.YouTubeVideos,
		&mostRecent, &lastSeen, &a.NeedsScoring, &a.IsActive,
		&discoveredVia, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.SpotifyID = nullString(spotifyID)
	a.YouTubeChannelID = nullString(youtubeChannelID)
	if mostRecent.Valid {
		a.MostRecentAppearance = util.TimePtr(mostRecent.Time)
	}
	if lastSeen.Valid {
		a.LastSeenAt = util.TimePtr(lastSeen.Time)
	}
	a.DiscoveredVia = domain.SourceKind(discoveredVia)
	return &a, nil
}

func (r *ArtistRepository) getOne(ctx context.Context, builder sq.SelectBuilder) (*domain.Artist, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build artist query: %w", err)
	}
	artist, err := scanArtist(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return artist, nil
}

func (r *ArtistRepository) GetArtist(ctx context.Context, id int64) (*domain.Artist, error) {
	return r.getOne(ctx, psql.Select(artistColumns...).From("artists").Where(sq.Eq{"id": id}))
}

func (r *ArtistRepository) FindArtistByName(ctx context.Context, normalizedName string) (*domain.Artist, error) {
	key := util.NormalizeName(normalizedName)
	return r.getOne(ctx, psql.Select(artistColumns...).From("artists").Where(sq.Eq{"normalized_name": key}))
}

func (r *ArtistRepository) CreateArtist(ctx context.Context, artist *domain.Artist) error {
	if artist.NormalizedName == "" {
		artist.NormalizedName = util.NormalizeName(artist.Name)
	}

	query, args, err := psql.Insert("artists").
		Columns(
			"name", "normalized_name", "genre", "spotify_id", "youtube_channel_id",
			"spotify_followers", "spotify_popularity", "monthly_listeners", "spotify_genres",
			"youtube_subscribers", "youtube_views", "youtube_videos",
			"most_recent_appearance", "last_seen_at", "needs_scoring", "is_active", "discovered_via",
		).
		Values(
			artist.Name, artist.NormalizedName, artist.Genre, artist.SpotifyID, artist.YouTubeChannelID,
			artist.Metrics.SpotifyFollowers, artist.Metrics.SpotifyPopularity, artist.Metrics.MonthlyListeners,
			pq.Array(nonNil(artist.Metrics.SpotifyGenres)),
			artist.Metrics.YouTubeSubscribers, artist.Metrics.YouTubeViews, artist.Metrics.YouTubeVideos,
			artist.MostRecentAppearance, artist.LastSeenAt, artist.NeedsScoring, artist.IsActive,
			string(artist.DiscoveredVia),
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build artist insert: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&artist.ID, &artist.CreatedAt, &artist.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create artist %q: %w", artist.Name, err)
	}

	r.logger.Debug("Artist created",
		zap.Int64("id", artist.ID),
		zap.String("name", artist.Name))
	return nil
}

func (r *ArtistRepository) UpdateArtist(ctx context.Context, artist *domain.Artist) error {
	artist.NormalizedName = util.NormalizeName(artist.Name)

	query, args, err := psql.Update("artists").
		Set("name", artist.Name).
		Set("normalized_name", artist.NormalizedName).
		Set("genre", artist.Genre).
		Set("spotify_id", artist.SpotifyID).
		Set("youtube_channel_id", artist.YouTubeChannelID).
		Set("spotify_followers", artist.Metrics.SpotifyFollowers).
		Set("spotify_popularity", artist.Metrics.SpotifyPopularity).
		Set("monthly_listeners", artist.Metrics.MonthlyListeners).
		Set("spotify_genres", pq.Array(nonNil(artist.Metrics.SpotifyGenres))).
		Set("youtube_subscribers", artist.Metrics.YouTubeSubscribers).
		Set("youtube_views", artist.Metrics.YouTubeViews).
		Set("youtube_videos", artist.Metrics.YouTubeVideos).
		Set("most_recent_appearance", artist.MostRecentAppearance).
		Set("last_seen_at", artist.LastSeenAt).
		Set("needs_scoring", artist.NeedsScoring).
		Set("is_active", artist.IsActive).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": artist.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build artist update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return errors.NewValidationError("artist already exists", "normalized_name", artist.NormalizedName)
		}
		return fmt.Errorf("failed to update artist %d: %w", artist.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("artist", strconv.FormatInt(artist.ID, 10))
	}
	return nil
}

func (r *ArtistRepository) ListArtists(ctx context.Context, offset, limit int, includeInactive bool) ([]*domain.Artist, error) {
	builder := psql.Select(artistColumns...).From("artists").OrderBy("id")
	if !includeInactive {
		builder = builder.Where(sq.Eq{"is_active": true})
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build artist list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artists: %w", err)
	}
	defer rows.Close()

	artists := make([]*domain.Artist, 0)
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

func (r *ArtistRepository) CountArtists(ctx context.Context, includeInactive bool) (int, error) {
	builder := psql.Select("COUNT(*)").From("artists")
	if !includeInactive {
		builder = builder.Where(sq.Eq{"is_active": true})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count artists: %w", err)
	}
	return n, nil
}

// SetArtistActive toggles soft deletion. Scores are kept either way.
func (r *ArtistRepository) SetArtistActive(ctx context.Context, id int64, active bool) (bool, error) {
	query, args, err := psql.Update("artists").
		Set("is_active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build artist status update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to set artist %d active=%t: %w", id, active, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *ArtistRepository) pendingQuery() sq.SelectBuilder {
	return psql.Select(artistColumns...).
		From("artists").
		Where(sq.Eq{"needs_scoring": true, "is_active": true})
}

func (r *ArtistRepository) ListArtistsNeedingScoring(ctx context.Context, limit int) ([]*domain.Artist, error) {
	builder := r.pendingQuery().OrderBy("most_recent_appearance DESC NULLS LAST", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build pending query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending artists: %w", err)
	}
	defer rows.Close()

	artists := make([]*domain.Artist, 0)
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

func (r *ArtistRepository) CountArtistsNeedingScoring(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("artists").
		Where(sq.Eq{"needs_scoring": true, "is_active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending artists: %w", err)
	}
	return n, nil
}

// ListTopArtists ranks active artists by their latest score for algorithm.
func (r *ArtistRepository) ListTopArtists(ctx context.Context, algorithm string, limit int) ([]domain.ArtistWithScore, error) {
	latest := "JOIN LATERAL (SELECT * FROM scores sc WHERE sc.artist_id = a.id ORDER BY sc.created_at DESC LIMIT 1) s ON TRUE"
	var joinArgs []any
	if algorithm != "" {
		latest = "JOIN LATERAL (SELECT * FROM scores sc WHERE sc.artist_id = a.id AND sc.algorithm_name = ? ORDER BY sc.created_at DESC LIMIT 1) s ON TRUE"
		joinArgs = append(joinArgs, algorithm)
	}

	columns := append(prefixed("a", artistColumns), prefixed("s", scoreColumns)...)
	builder := psql.Select(columns...).
		From("artists a").
		JoinClause(latest, joinArgs...).
		Where(sq.Eq{"a.is_active": true}).
		OrderBy("s.overall_score DESC", "a.id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ranking query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list top artists: %w", err)
	}
	defer rows.Close()

	ranked := make([]domain.ArtistWithScore, 0)
	for rows.Next() {
		a, s, err := scanArtistWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranking row: %w", err)
		}
		ranked = append(ranked, domain.ArtistWithScore{Artist: a, Score: s})
	}
	return ranked, rows.Err()
}

// scanArtistWithScore reads one joined row; columns follow artistColumns then scoreColumns.
func scanArtistWithScore(row rowScanner) (*domain.Artist, *domain.ScoreRecord, error) {
	var (
		a                domain.Artist
		s                domain.ScoreRecord
		spotifyID        sql.NullString
		youtubeChannelID sql.NullString
		mostRecent       sql.NullTime
		lastSeen         sql.NullTime
		discoveredVia    string
		breakdown        []byte
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.NormalizedName, &a.Genre,
		&spotifyID, &youtubeChannelID,
		&a.Metrics.SpotifyFollowers, &a.Metrics.SpotifyPopularity, &a.Metrics.MonthlyListeners,
		pq.Array(&a.Metrics.SpotifyGenres),
		&a.Metrics.YouTubeSubscribers, &a.Metrics.YouTubeViews, &a.Metrics.YouTubeVideos,
		&mostRecent, &lastSeen, &a.NeedsScoring, &a.IsActive,
		&discoveredVia, &a.CreatedAt, &a.UpdatedAt,

		&s.ID, &s.ArtistID, &s.AlgorithmName, &s.AlgorithmVersion,
		&s.DemandScore, &s.CompetitionScore, &s.OptimizationScore, &s.OverallScore,
		&s.Category, &breakdown, &s.CreatedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	a.SpotifyID = nullString(spotifyID)
	a.YouTubeChannelID = nullString(youtubeChannelID)
	if mostRecent.Valid {
		a.MostRecentAppearance = util.TimePtr(mostRecent.Time)
	}
	if lastSeen.Valid {
		a.LastSeenAt = util.TimePtr(lastSeen.Time)
	}
	a.DiscoveredVia = domain.SourceKind(discoveredVia)
	s.Breakdown = breakdown
	return &a, &s, nil
}
