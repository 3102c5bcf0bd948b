package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
)

// MemoryStore keeps everything in process. It backs tests and runs without a
// database; the running-job check is atomic under its mutex.
type MemoryStore struct {
	mu sync.Mutex

	nextArtistID int64
	artists      map[int64]*domain.Artist
	byName       map[string]int64

	nextScoreID int64
	scores      []*domain.ScoreRecord

	jobs     map[string]*domain.JobStatus
	jobOrder []string

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artists: make(map[int64]*domain.Artist),
		byName:  make(map[string]int64),
		jobs:    make(map[string]*domain.JobStatus),
		now:     time.Now,
	}
}

func cloneArtist(a *domain.Artist) *domain.Artist {
	if a == nil {
		return nil
	}
	c := *a
	if a.Metrics.SpotifyGenres != nil {
		c.Metrics.SpotifyGenres = append([]string(nil), a.Metrics.SpotifyGenres...)
	}
	return &c
}

func cloneScore(s *domain.ScoreRecord) *domain.ScoreRecord {
	c := *s
	c.Breakdown = append([]byte(nil), s.Breakdown...)
	return &c
}

func (m *MemoryStore) GetArtist(_ context.Context, id int64) (*domain.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneArtist(m.artists[id]), nil
}

func (m *MemoryStore) FindArtistByName(_ context.Context, normalizedName string) (*domain.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[util.NormalizeName(normalizedName)]
	if !ok {
		return nil, nil
	}
	return cloneArtist(m.artists[id]), nil
}

func (m *MemoryStore) CreateArtist(_ context.Context, artist *domain.Artist) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := util.NormalizeName(artist.Name)
	if artist.NormalizedName != "" {
		key = artist.NormalizedName
	}
	if _, exists := m.byName[key]; exists {
		return errors.NewValidationError("artist already exists", "normalized_name", key)
	}

	m.nextArtistID++
	now := m.now()
	artist.ID = m.nextArtistID
	artist.NormalizedName = key
	artist.CreatedAt = now
	artist.UpdatedAt = now

	m.artists[artist.ID] = cloneArtist(artist)
	m.byName[key] = artist.ID
	return nil
}

func (m *MemoryStore) UpdateArtist(_ context.Context, artist *domain.Artist) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.artists[artist.ID]
	if !ok {
		return errors.NewNotFoundError("artist", strconv.FormatInt(artist.ID, 10))
	}
	key := util.NormalizeName(artist.Name)
	if key != current.NormalizedName {
		if other, taken := m.byName[key]; taken && other != artist.ID {
			return errors.NewValidationError("artist already exists", "normalized_name", key)
		}
		delete(m.byName, current.NormalizedName)
		m.byName[key] = artist.ID
	}
	artist.NormalizedName = key
	artist.UpdatedAt = m.now()
	m.artists[artist.ID] = cloneArtist(artist)
	return nil
}

func (m *MemoryStore) filteredLocked(includeInactive bool) []*domain.Artist {
	out := make([]*domain.Artist, 0, len(m.artists))
	for _, a := range m.artists {
		if includeInactive || a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) ListArtists(_ context.Context, offset, limit int, includeInactive bool) ([]*domain.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.filteredLocked(includeInactive)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*domain.Artist{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*domain.Artist, 0, len(all))
	for _, a := range all {
		out = append(out, cloneArtist(a))
	}
	return out, nil
}

func (m *MemoryStore) CountArtists(_ context.Context, includeInactive bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filteredLocked(includeInactive)), nil
}

func (m *MemoryStore) SetArtistActive(_ context.Context, id int64, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.artists[id]
	if !ok {
		return false, nil
	}
	a.IsActive = active
	a.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) pendingLocked() []*domain.Artist {
	pending := make([]*domain.Artist, 0)
	for _, a := range m.artists {
		if a.NeedsScoring && a.IsActive {
			pending = append(pending, a)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		ti, tj := pending[i].MostRecentAppearance, pending[j].MostRecentAppearance
		switch {
		case ti == nil && tj == nil:
			return pending[i].ID < pending[j].ID
		case ti == nil:
			return false
		case tj == nil:
			return true
		case ti.Equal(*tj):
			return pending[i].ID < pending[j].ID
		default:
			return ti.After(*tj)
		}
	})
	return pending
}

func (m *MemoryStore) ListArtistsNeedingScoring(_ context.Context, limit int) ([]*domain.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.pendingLocked()
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*domain.Artist, 0, len(pending))
	for _, a := range pending {
		out = append(out, cloneArtist(a))
	}
	return out, nil
}

func (m *MemoryStore) CountArtistsNeedingScoring(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingLocked()), nil
}

func (m *MemoryStore) latestScoreLocked(artistID int64, algorithm string) *domain.ScoreRecord {
	var latest *domain.ScoreRecord
	for _, s := range m.scores {
		if s.ArtistID != artistID || (algorithm != "" && s.AlgorithmName != algorithm) {
			continue
		}
		if latest == nil || !s.CreatedAt.Before(latest.CreatedAt) {
			latest = s
		}
	}
	return latest
}

func (m *MemoryStore) ListTopArtists(_ context.Context, algorithm string, limit int) ([]domain.ArtistWithScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ranked := make([]domain.ArtistWithScore, 0)
	for _, a := range m.artists {
		if !a.IsActive {
			continue
		}
		s := m.latestScoreLocked(a.ID, algorithm)
		if s == nil {
			continue
		}
		ranked = append(ranked, domain.ArtistWithScore{Artist: cloneArtist(a), Score: cloneScore(s)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score.OverallScore == ranked[j].Score.OverallScore {
			return ranked[i].Artist.ID < ranked[j].Artist.ID
		}
		return ranked[i].Score.OverallScore > ranked[j].Score.OverallScore
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (m *MemoryStore) SaveScore(_ context.Context, record *domain.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	artist, ok := m.artists[record.ArtistID]
	if !ok {
		return errors.NewNotFoundError("artist", strconv.FormatInt(record.ArtistID, 10))
	}

	m.nextScoreID++
	record.ID = m.nextScoreID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = m.now()
	}
	m.scores = append(m.scores, cloneScore(record))

	artist.NeedsScoring = false
	artist.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) LatestScore(_ context.Context, artistID int64, algorithm string) (*domain.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.latestScoreLocked(artistID, algorithm)
	if s == nil {
		return nil, nil
	}
	return cloneScore(s), nil
}

func (m *MemoryStore) ListScores(_ context.Context, artistID int64, limit int) ([]*domain.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.ScoreRecord, 0)
	for i := len(m.scores) - 1; i >= 0; i-- {
		if m.scores[i].ArtistID == artistID {
			out = append(out, cloneScore(m.scores[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountScores is a test helper.
func (m *MemoryStore) CountScores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scores)
}

func (m *MemoryStore) CreateJob(_ context.Context, job *domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.State == domain.JobRunning {
		for _, existing := range m.jobs {
			if existing.State == domain.JobRunning {
				return errors.NewJobAlreadyRunningError(existing.ID, string(existing.Kind))
			}
		}
	}
	if _, exists := m.jobs[job.ID]; exists {
		return errors.NewValidationError("job id already used", "id", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	m.jobOrder = append(m.jobOrder, job.ID)
	return nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return errors.NewNotFoundError("job", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Clone(), nil
}

func (m *MemoryStore) FindRunningJob(_ context.Context) (*domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.jobOrder {
		if j := m.jobs[id]; j.State == domain.JobRunning {
			return j.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) LatestJob(_ context.Context) (*domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobOrder) == 0 {
		return nil, nil
	}
	return m.jobs[m.jobOrder[len(m.jobOrder)-1]].Clone(), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, limit int) ([]*domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.JobStatus, 0, len(m.jobOrder))
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		out = append(out, m.jobs[m.jobOrder[i]].Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteJobsFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	kept := m.jobOrder[:0]
	for _, id := range m.jobOrder {
		j := m.jobs[id]
		if j.State.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	m.jobOrder = kept
	return deleted, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
