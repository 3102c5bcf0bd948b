package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/repository"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/internal/service/pipeline"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/service/scoring"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubScorer struct {
	mu    sync.Mutex
	names []string
	fail  map[string]error
}

func (s *stubScorer) Score(_ context.Context, name, genre string) (*domain.ScoreBreakdown, error) {
	s.mu.Lock()
	s.names = append(s.names, name)
	err := s.fail[name]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b := scoring.Compute(name, scoring.Query(name), genre, scoring.Signals{Trend: 40, TrendAvailable: true}, time.Now())
	return &b, nil
}

func (s *stubScorer) ScoreBatch(ctx context.Context, names []string, genre string, _ int) []scoring.BatchResult {
	out := make([]scoring.BatchResult, len(names))
	for i, n := range names {
		out[i].Name = n
		b, err := s.Score(ctx, n, genre)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Breakdown = b
	}
	return out
}

type stubCollector struct {
	names []string
}

func (c *stubCollector) Collect(_ context.Context, name string) (*pipeline.CollectResult, error) {
	c.names = append(c.names, name)
	return &pipeline.CollectResult{Success: true, SpotifyCollected: true}, nil
}

// blockingProcessor holds the job open until release is closed.
type blockingProcessor struct {
	release chan struct{}
}

func (p *blockingProcessor) Kind() domain.JobKind { return domain.JobRescoring }

func (p *blockingProcessor) TotalUnits(context.Context) (int, error) { return 1, nil }

func (p *blockingProcessor) Run(ctx context.Context, progress jobs.ProgressFunc, cancelled jobs.CancelFunc) (domain.JobSummary, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	progress(domain.JobUpdate{SourcesProcessed: domain.Ptr(1)})
	return domain.JobSummary{"done": true}, nil
}

type fixture struct {
	svc    *Service
	store  *repository.MemoryStore
	scorer *stubScorer
	proc   *blockingProcessor
	orch   *jobs.Orchestrator
	yt     *quota.Pool
	coll   *stubCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	proc := &blockingProcessor{release: make(chan struct{})}
	orch := jobs.NewOrchestrator(store, zap.NewNop(), nil, proc)
	scorer := &stubScorer{fail: map[string]error{}}

	yt, err := quota.NewKeyPool("youtube", []string{"k1", "k2"}, zap.NewNop())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	sp, err := quota.NewKeyPool("spotify", []string{"s1"}, zap.NewNop())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	coll := &stubCollector{}
	svc := NewService(store, orch, scorer, coll, []*quota.Pool{yt, sp}, cache.NewDisabledCache(zap.NewNop()), Config{}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &fixture{svc: svc, store: store, scorer: scorer, proc: proc, orch: orch, yt: yt, coll: coll}
}

func (f *fixture) addArtist(t *testing.T, name string) *domain.Artist {
	t.Helper()
	a := &domain.Artist{Name: name, Genre: "drill", NeedsScoring: true, IsActive: true}
	if err := f.store.CreateArtist(context.Background(), a); err != nil {
		t.Fatalf("create artist: %v", err)
	}
	return a
}

func TestParseJobKind(t *testing.T) {
	cases := map[string]domain.JobKind{
		"full_extraction":        domain.JobFullExtraction,
		"Full":                   domain.JobFullExtraction,
		"incremental":            domain.JobIncrementalExtraction,
		"incremental_extraction": domain.JobIncrementalExtraction,
		" rescoring ":            domain.JobRescoring,
	}
	for raw, want := range cases {
		got, err := ParseJobKind(raw)
		if err != nil {
			t.Fatalf("ParseJobKind(%q) failed: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseJobKind(%q): expected %s, got %s", raw, want, got)
		}
	}
	if _, err := ParseJobKind("purge"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestStartJobSingleFlightAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetJobStatus(ctx, ""); !errors.IsNotFound(err) {
		t.Fatalf("expected not found before any job, got %v", err)
	}

	st, err := f.svc.StartJob(ctx, "rescoring")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.svc.StartJob(ctx, "rescoring"); !errors.IsJobAlreadyRunning(err) {
		t.Fatalf("expected job already running, got %v", err)
	}

	cur, err := f.svc.GetJobStatus(ctx, "")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if cur.ID != st.ID || cur.State != domain.JobRunning {
		t.Fatalf("expected running job %s, got %s in %s", st.ID, cur.ID, cur.State)
	}

	close(f.proc.release)
	if err := f.orch.Wait(ctx, st.ID); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	done, err := f.svc.GetJobStatus(ctx, st.ID)
	if err != nil {
		t.Fatalf("status by id failed: %v", err)
	}
	if done.State != domain.JobCompleted {
		t.Fatalf("expected completed, got %s", done.State)
	}

	history, err := f.svc.JobHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 job in history, got %d", len(history))
	}

	if _, err := f.svc.GetJobStatus(ctx, "missing"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.StartJob(ctx, "rescoring")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.svc.CancelJob(ctx, st.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(f.proc.release)
	if err := f.orch.Wait(ctx, st.ID); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	done, _ := f.svc.GetJobStatus(ctx, st.ID)
	if done.State != domain.JobCancelled {
		t.Fatalf("expected cancelled, got %s", done.State)
	}
}

func TestScoreOnePersistsKnownArtist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	artist := f.addArtist(t, "Central Cee")

	res, err := f.svc.ScoreOne(ctx, "  central   cee ", "")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if !res.Persisted || res.ArtistID != artist.ID {
		t.Fatalf("expected persisted record for artist %d, got %+v", artist.ID, res)
	}
	if res.Breakdown.Genre != "drill" {
		t.Fatalf("expected stored genre to be used, got %q", res.Breakdown.Genre)
	}

	view, err := f.svc.GetEntity(ctx, artist.ID)
	if err != nil {
		t.Fatalf("get entity failed: %v", err)
	}
	if view.Score == nil {
		t.Fatalf("expected latest score on entity")
	}
	if view.Artist.NeedsScoring {
		t.Fatalf("expected needs_scoring cleared after persisted score")
	}

	unknown, err := f.svc.ScoreOne(ctx, "Nobody Known", "pop")
	if err != nil {
		t.Fatalf("score unknown failed: %v", err)
	}
	if unknown.Persisted {
		t.Fatalf("expected unknown name not to be persisted")
	}
	if f.store.CountScores() != 1 {
		t.Fatalf("expected 1 stored score, got %d", f.store.CountScores())
	}

	if _, err := f.svc.ScoreOne(ctx, "   ", ""); err == nil {
		t.Fatalf("expected validation error for blank name")
	}
}

func TestRescoreArtistAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	artist := f.addArtist(t, "Dave")

	for i := 0; i < 2; i++ {
		if _, err := f.svc.RescoreArtist(ctx, artist.ID); err != nil {
			t.Fatalf("rescore failed: %v", err)
		}
	}
	scores, err := f.svc.ScoreHistory(ctx, artist.ID, 1)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("expected 1 record with limit 1, got %d", len(scores))
	}
	scores, _ = f.svc.ScoreHistory(ctx, artist.ID, 0)
	if len(scores) != 2 {
		t.Fatalf("expected 2 records, got %d", len(scores))
	}

	if _, err := f.svc.RescoreArtist(ctx, 999); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.GetEntity(ctx, 999); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	top, err := f.svc.ListTopByScore(ctx, 0)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(top) != 1 || top[0].Artist.ID != artist.ID {
		t.Fatalf("expected the scored artist in top list, got %+v", top)
	}
}

func TestScoreBatchLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ScoreBatch(ctx, []string{" ", ""}, ""); err == nil {
		t.Fatalf("expected error for empty batch")
	}

	names := make([]string, 51)
	for i := range names {
		names[i] = fmt.Sprintf("Artist %d", i)
	}
	if _, err := f.svc.ScoreBatch(ctx, names, ""); err == nil {
		t.Fatalf("expected error for 51 names")
	}

	f.scorer.fail["Bad"] = errors.NewUpstreamError("youtube", "search", 500, nil)
	results, err := f.svc.ScoreBatch(ctx, []string{"Good", "Bad", "Other"}, "")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Name != "Good" || results[0].Breakdown == nil {
		t.Fatalf("expected first result scored, got %+v", results[0])
	}
	if results[1].Error == "" {
		t.Fatalf("expected failure recorded for Bad")
	}
}

func TestInterpretationAndWeights(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Interpretation(85)
	if err != nil {
		t.Fatalf("interpretation failed: %v", err)
	}
	if got.Category != "Excellent" {
		t.Fatalf("expected Excellent, got %q", got.Category)
	}
	if _, err := f.svc.Interpretation(120); err == nil {
		t.Fatalf("expected error for out-of-range score")
	}

	w := f.svc.Weights()
	if w.AlgorithmName != "opportunity" {
		t.Fatalf("expected opportunity weights, got %q", w.AlgorithmName)
	}
}

func TestQuotaStatusAndReset(t *testing.T) {
	f := newFixture(t)

	f.yt.MarkExhausted(0)
	status := f.svc.QuotaStatus()
	if len(status) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(status))
	}
	if status[0].Exhausted != 1 {
		t.Fatalf("expected 1 exhausted youtube key, got %d", status[0].Exhausted)
	}

	if _, err := f.svc.ResetQuota("lastfm"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown provider, got %v", err)
	}

	after, err := f.svc.ResetQuota("youtube")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if after[0].Exhausted != 0 || after[0].Available != 2 {
		t.Fatalf("expected youtube pool reset, got %+v", after[0])
	}
}

func TestCacheStatsDisabled(t *testing.T) {
	f := newFixture(t)
	stats, err := f.svc.CacheStats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("expected empty stats for disabled cache, got %v", stats)
	}
}

func TestClearCacheDropsOneCategory(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.cache = cache.NewCacheServiceWithClient(client, zap.NewNop(), nil)

	ctx := context.Background()
	f.svc.cache.Put(ctx, cache.CategoryTrends, "a", []byte("1"))
	f.svc.cache.Put(ctx, cache.CategoryTrends, "b", []byte("2"))
	f.svc.cache.Put(ctx, cache.CategorySearch, "q", []byte("3"))

	deleted, err := f.svc.ClearCache(ctx, " Trends ")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	if _, ok := f.svc.cache.Get(ctx, cache.CategorySearch, "q"); !ok {
		t.Fatalf("expected search entry to survive")
	}

	if _, err := f.svc.ClearCache(ctx, "everything"); errors.StatusCode(err) != 400 {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListArtistsPagesAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.addArtist(t, fmt.Sprintf("Artist %d", i))
	}

	page, err := f.svc.ListArtists(ctx, 2, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 5 || len(page.Artists) != 2 || page.Artists[0].Name != "Artist 2" {
		t.Fatalf("expected artists 2-3 of 5, got %+v", page)
	}

	page, err = f.svc.ListArtists(ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Limit != 100 || len(page.Artists) != 5 {
		t.Fatalf("expected default limit 100 with all artists, got limit %d and %d artists", page.Limit, len(page.Artists))
	}

	if _, err := f.svc.ListArtists(ctx, -1, 10, false); errors.StatusCode(err) != 400 {
		t.Fatalf("expected validation error for negative offset, got %v", err)
	}
}

func TestUpdateArtistQueuesRescoreOnRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addArtist(t, "Digga D")
	a.NeedsScoring = false
	if err := f.store.UpdateArtist(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	subs := int64(120000)
	channel := "UC123"
	updated, err := f.svc.UpdateArtist(ctx, a.ID, ArtistUpdate{YouTubeSubscribers: &subs, YouTubeChannelID: &channel})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.NeedsScoring {
		t.Fatalf("expected metric-only edit to leave scoring flag clear")
	}
	if updated.Metrics.YouTubeSubscribers != subs || updated.YouTubeChannelID == nil || *updated.YouTubeChannelID != channel {
		t.Fatalf("expected metrics and channel id applied, got %+v", updated)
	}

	name := "  Digga   D Official "
	updated, err = f.svc.UpdateArtist(ctx, a.ID, ArtistUpdate{Name: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Digga D Official" || !updated.NeedsScoring {
		t.Fatalf("expected collapsed name and rescoring queued, got %+v", updated)
	}
	found, _ := f.store.FindArtistByName(ctx, "digga d official")
	if found == nil || found.ID != a.ID {
		t.Fatalf("expected rename to be findable under the new name")
	}

	negative := int64(-1)
	if _, err := f.svc.UpdateArtist(ctx, a.ID, ArtistUpdate{YouTubeViews: &negative}); errors.StatusCode(err) != 400 {
		t.Fatalf("expected validation error for negative views, got %v", err)
	}
	blank := " "
	if _, err := f.svc.UpdateArtist(ctx, a.ID, ArtistUpdate{Name: &blank}); errors.StatusCode(err) != 400 {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := f.svc.UpdateArtist(ctx, 999, ArtistUpdate{Name: &name}); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeactivateArtistHidesFromListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addArtist(t, "Headie One")
	f.addArtist(t, "Central Cee")

	if err := f.svc.DeactivateArtist(ctx, a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	page, _ := f.svc.ListArtists(ctx, 0, 10, false)
	if page.Total != 1 || page.Artists[0].Name != "Central Cee" {
		t.Fatalf("expected only the active artist, got %+v", page)
	}
	page, _ = f.svc.ListArtists(ctx, 0, 10, true)
	if page.Total != 2 {
		t.Fatalf("expected both artists with inactive included, got %d", page.Total)
	}
	if err := f.svc.DeactivateArtist(ctx, 999); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCollectArtistDelegates(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CollectArtist(context.Background(), "Knucks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || len(f.coll.names) != 1 || f.coll.names[0] != "Knucks" {
		t.Fatalf("expected collector called once for Knucks, got %+v (%v)", res, f.coll.names)
	}
}
