package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestSaveScoreClearsFlagInTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScoreRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO scores").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec("UPDATE artists SET needs_scoring").
		WithArgs(false, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := &domain.ScoreRecord{ArtistID: 7, AlgorithmName: "opportunity", AlgorithmVersion: "2.0.0", Breakdown: []byte(`{}`), CreatedAt: time.Now()}
	if err := repo.SaveScore(context.Background(), rec); err != nil {
		t.Fatalf("SaveScore returned error: %v", err)
	}
	if rec.ID != 9 {
		t.Fatalf("expected id 9, got %d", rec.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveScoreRollsBackOnFlagFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScoreRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO scores").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("UPDATE artists SET needs_scoring").
		WillReturnError(stderrors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.SaveScore(context.Background(), &domain.ScoreRecord{ArtistID: 3, Breakdown: []byte(`{}`)})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindArtistByNameMissingReturnsNil(t *testing.T) {
	db, mock := newMock(t)
	repo := NewArtistRepository(db, zap.NewNop())

	mock.ExpectQuery("FROM artists WHERE normalized_name").
		WithArgs("lil baby").
		WillReturnError(sql.ErrNoRows)

	a, err := repo.FindArtistByName(context.Background(), "  Lil   Baby ")
	if err != nil || a != nil {
		t.Fatalf("expected nil, nil; got %v / %v", a, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListArtistsNeedingScoringScansRows(t *testing.T) {
	db, mock := newMock(t)
	repo := NewArtistRepository(db, zap.NewNop())

	appeared := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(artistColumns).
		AddRow(int64(4), "Gunna", "gunna", "trap",
			"sp-4", nil,
			int64(1000), 70, int64(5_000_000), []byte("{trap,rap}"),
			int64(0), int64(0), int64(0),
			appeared, nil, true, true,
			"spotify", appeared, appeared)

	mock.ExpectQuery("FROM artists WHERE").
		WithArgs(true, true).
		WillReturnRows(rows)

	artists, err := repo.ListArtistsNeedingScoring(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(artists) != 1 {
		t.Fatalf("expected 1 artist, got %d", len(artists))
	}
	a := artists[0]
	if a.SpotifyID == nil || *a.SpotifyID != "sp-4" || a.YouTubeChannelID != nil {
		t.Fatalf("unexpected external ids %+v", a)
	}
	if len(a.Metrics.SpotifyGenres) != 2 || a.Metrics.MonthlyListeners != 5_000_000 {
		t.Fatalf("unexpected metrics %+v", a.Metrics)
	}
	if a.MostRecentAppearance == nil || !a.MostRecentAppearance.Equal(appeared) || a.LastSeenAt != nil {
		t.Fatalf("unexpected timestamps %+v", a)
	}
	if a.DiscoveredVia != domain.SourceSpotify {
		t.Fatalf("expected spotify, got %s", a.DiscoveredVia)
	}
}

func TestCreateJobMapsUniqueViolation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_jobs_single_running"})

	now := time.Now()
	mock.ExpectQuery("FROM jobs WHERE state").
		WithArgs("running").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", "rescoring", "running", 40.0, "scoring", "",
			[]byte(`{"sources_processed":2,"total_sources":5}`), []byte("{}"), "", nil,
			true, false, now, nil, now))

	err := repo.CreateJob(context.Background(), &domain.JobStatus{ID: "job-2", Kind: domain.JobFullExtraction, State: domain.JobRunning, StartedAt: now, LastUpdate: now})
	if !errors.IsJobAlreadyRunning(err) {
		t.Fatalf("expected JobAlreadyRunning, got %v", err)
	}
	var running *errors.JobAlreadyRunningError
	if !stderrors.As(err, &running) || running.RunningID != "job-1" {
		t.Fatalf("expected running id job-1, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetJobDecodesCounters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery("FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", "full_extraction", "completed", 100.0, "completed", "",
			[]byte(`{"sources_processed":5,"total_sources":5,"new_entities":3}`), []byte(`{"a","b"}`), "", []byte(`{"new":3}`),
			false, false, now, now, now))

	j, err := repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Counters.NewEntities != 3 || len(j.Errors) != 2 || j.CompletedAt == nil || string(j.Result) != `{"new":3}` {
		t.Fatalf("unexpected job %+v", j)
	}
}

func TestUpdateJobMissingIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateJob(context.Background(), &domain.JobStatus{ID: "gone"})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteJobsFinishedBefore(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM jobs WHERE state IN").
		WithArgs("completed", "error", "cancelled", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteJobsFinishedBefore(context.Background(), cutoff)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deleted, got %d / %v", n, err)
	}
}

func TestListArtistsPagesActiveOnly(t *testing.T) {
	db, mock := newMock(t)
	repo := NewArtistRepository(db, zap.NewNop())

	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(artistColumns).
		AddRow(int64(5), "Future", "future", "trap",
			nil, "UC-future",
			int64(0), 0, int64(0), []byte("{}"),
			int64(12_000_000), int64(900_000_000), int64(340),
			nil, nil, false, true,
			"youtube", created, created)

	mock.ExpectQuery(`FROM artists WHERE is_active = \$1 ORDER BY id LIMIT 2 OFFSET 4`).
		WithArgs(true).
		WillReturnRows(rows)

	artists, err := repo.ListArtists(context.Background(), 4, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(artists) != 1 || artists[0].YouTubeChannelID == nil || artists[0].Metrics.YouTubeSubscribers != 12_000_000 {
		t.Fatalf("unexpected artists %+v", artists)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetArtistActiveReportsMissingRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewArtistRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE artists SET is_active").
		WithArgs(false, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetArtistActive(context.Background(), 5, false)
	if err != nil || ok {
		t.Fatalf("expected false, nil; got %v / %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateArtistNameClashIsValidationError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewArtistRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE artists SET name").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "artists_normalized_name_key"})

	a := &domain.Artist{ID: 3, Name: "  Lil   Durk ", IsActive: true}
	err := repo.UpdateArtist(context.Background(), a)
	if errors.StatusCode(err) != 400 {
		t.Fatalf("expected validation error, got %v", err)
	}
	if a.NormalizedName != "lil durk" {
		t.Fatalf("expected normalized name recomputed, got %q", a.NormalizedName)
	}
}
