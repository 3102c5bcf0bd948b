package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/repository"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/discovery"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/internal/service/pipeline"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/service/scoring"
	"go.uber.org/zap"
)

type stubScorer struct{}

func (stubScorer) Score(_ context.Context, name, genre string) (*domain.ScoreBreakdown, error) {
	b := scoring.Compute(name, scoring.Query(name), genre, scoring.Signals{Trend: 60, TrendAvailable: true}, time.Now())
	return &b, nil
}

func (s stubScorer) ScoreBatch(ctx context.Context, names []string, genre string, _ int) []scoring.BatchResult {
	out := make([]scoring.BatchResult, len(names))
	for i, n := range names {
		b, _ := s.Score(ctx, n, genre)
		out[i] = scoring.BatchResult{Name: n, Breakdown: b}
	}
	return out
}

type stubCollector struct{}

func (stubCollector) Collect(_ context.Context, name string) (*pipeline.CollectResult, error) {
	if name == "Unknown" {
		return &pipeline.CollectResult{Errors: []string{"no spotify data found"}}, nil
	}
	artist := &domain.Artist{ID: 77, Name: name, Genre: "drill", IsActive: true}
	return &pipeline.CollectResult{Success: true, Created: true, Artist: artist, SpotifyCollected: true}, nil
}

type gateProcessor struct {
	release chan struct{}
}

func (p *gateProcessor) Kind() domain.JobKind { return domain.JobFullExtraction }

func (p *gateProcessor) TotalUnits(context.Context) (int, error) { return 2, nil }

func (p *gateProcessor) Run(ctx context.Context, progress jobs.ProgressFunc, _ jobs.CancelFunc) (domain.JobSummary, error) {
	progress(domain.JobUpdate{SourcesProcessed: domain.Ptr(1)})
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return domain.JobSummary{"sources_processed": 2}, nil
}

type harness struct {
	router *gin.Engine
	store  *repository.MemoryStore
	orch   *jobs.Orchestrator
	proc   *gateProcessor
	hub    *Hub
}

func setup(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	proc := &gateProcessor{release: make(chan struct{})}
	orch := jobs.NewOrchestrator(store, zap.NewNop(), nil, proc)
	pool, err := quota.NewKeyPool("youtube", []string{"a", "b"}, zap.NewNop())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	svc := discovery.NewService(store, orch, stubScorer{}, stubCollector{}, []*quota.Pool{pool}, cache.NewDisabledCache(zap.NewNop()), discovery.Config{}, zap.NewNop())
	hub := NewHub(orch, zap.NewNop())
	hub.Run()

	health := map[string]HealthChecker{"store": func(context.Context) error { return nil }}
	srv := NewServer(Config{}, svc, hub, metrics.New(), health, zap.NewNop())

	t.Cleanup(func() {
		select {
		case <-proc.release:
		default:
			close(proc.release)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		hub.Stop()
	})
	return &harness{router: srv.router, store: store, orch: orch, proc: proc, hub: hub}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		buf = bytes.NewBuffer(raw)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode %q: %v", resp.Body.String(), err)
	}
}

func TestJobLifecycleEndpoints(t *testing.T) {
	h := setup(t)

	resp := h.do(http.MethodGet, "/api/v1/jobs/status", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any job, got %d", resp.Code)
	}

	resp = h.do(http.MethodPost, "/api/v1/jobs/full_extraction", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var started domain.JobStatus
	decode(t, resp, &started)
	if started.State != domain.JobRunning {
		t.Fatalf("expected running, got %s", started.State)
	}

	resp = h.do(http.MethodPost, "/api/v1/jobs/full_extraction", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", resp.Code)
	}
	var conflict map[string]any
	decode(t, resp, &conflict)
	if conflict["running_job_id"] != started.ID {
		t.Fatalf("expected running_job_id %s, got %v", started.ID, conflict["running_job_id"])
	}

	resp = h.do(http.MethodPost, "/api/v1/jobs/"+started.ID+"/cancel", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for cancel, got %d: %s", resp.Code, resp.Body.String())
	}

	close(h.proc.release)
	if err := h.orch.Wait(context.Background(), started.ID); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	resp = h.do(http.MethodGet, "/api/v1/jobs/status?id="+started.ID, nil)
	var final domain.JobStatus
	decode(t, resp, &final)
	if final.State != domain.JobCancelled {
		t.Fatalf("expected cancelled, got %s", final.State)
	}

	resp = h.do(http.MethodGet, "/api/v1/jobs/history?limit=5", nil)
	var history struct {
		Count int `json:"count"`
	}
	decode(t, resp, &history)
	if history.Count != 1 {
		t.Fatalf("expected 1 job in history, got %d", history.Count)
	}
}

func TestStartJobRejectsUnknownKind(t *testing.T) {
	h := setup(t)
	resp := h.do(http.MethodPost, "/api/v1/jobs/purge", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestUnregisteredKindIsRejected(t *testing.T) {
	h := setup(t)
	resp := h.do(http.MethodPost, "/api/v1/jobs/rescoring", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for kind without processor, got %d", resp.Code)
	}
}

func TestArtistAndScoreEndpoints(t *testing.T) {
	h := setup(t)
	artist := &domain.Artist{Name: "Digga D", Genre: "drill", NeedsScoring: true, IsActive: true}
	if err := h.store.CreateArtist(context.Background(), artist); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := h.do(http.MethodPost, "/api/v1/scores", map[string]string{"name": "Digga D"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var scored discovery.ScoreResult
	decode(t, resp, &scored)
	if !scored.Persisted || scored.ArtistID != artist.ID {
		t.Fatalf("expected persisted score for %d, got %+v", artist.ID, scored)
	}

	resp = h.do(http.MethodGet, fmt.Sprintf("/api/v1/artists/%d", artist.ID), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view discovery.EntityView
	decode(t, resp, &view)
	if view.Score == nil || view.Artist.NeedsScoring {
		t.Fatalf("expected scored artist with flag cleared, got %+v", view)
	}

	resp = h.do(http.MethodPost, fmt.Sprintf("/api/v1/artists/%d/score", artist.ID), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for rescore, got %d", resp.Code)
	}

	resp = h.do(http.MethodGet, fmt.Sprintf("/api/v1/artists/%d/scores", artist.ID), nil)
	var scores struct {
		Count int `json:"count"`
	}
	decode(t, resp, &scores)
	if scores.Count != 2 {
		t.Fatalf("expected 2 score records, got %d", scores.Count)
	}

	resp = h.do(http.MethodGet, "/api/v1/artists/top?limit=5", nil)
	var top struct {
		Count int `json:"count"`
	}
	decode(t, resp, &top)
	if top.Count != 1 {
		t.Fatalf("expected 1 ranked artist, got %d", top.Count)
	}

	if resp := h.do(http.MethodGet, "/api/v1/artists/999", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := h.do(http.MethodGet, "/api/v1/artists/abc", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestArtistManagementEndpoints(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	var ids []int64
	for _, name := range []string{"Digga D", "Headie One", "Central Cee"} {
		a := &domain.Artist{Name: name, Genre: "drill", IsActive: true}
		if err := h.store.CreateArtist(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, a.ID)
	}

	resp := h.do(http.MethodGet, "/api/v1/artists?offset=1&limit=1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var page discovery.ArtistPage
	decode(t, resp, &page)
	if page.Total != 3 || len(page.Artists) != 1 || page.Artists[0].Name != "Headie One" {
		t.Fatalf("expected second of three artists, got %+v", page)
	}

	resp = h.do(http.MethodPut, fmt.Sprintf("/api/v1/artists/%d", ids[0]), map[string]any{"genre": "UK Drill", "youtube_views": 5000})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var updated domain.Artist
	decode(t, resp, &updated)
	if updated.Genre != "uk drill" || updated.Metrics.YouTubeViews != 5000 || !updated.NeedsScoring {
		t.Fatalf("expected genre and views applied with rescoring queued, got %+v", updated)
	}
	if resp := h.do(http.MethodPut, fmt.Sprintf("/api/v1/artists/%d", ids[0]), map[string]any{"name": "Headie One"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for name clash, got %d", resp.Code)
	}
	if resp := h.do(http.MethodPut, "/api/v1/artists/999", map[string]any{"genre": "grime"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	if resp := h.do(http.MethodDelete, fmt.Sprintf("/api/v1/artists/%d", ids[1]), nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	stored, _ := h.store.GetArtist(ctx, ids[1])
	if stored == nil || stored.IsActive {
		t.Fatalf("expected artist kept but inactive, got %+v", stored)
	}
	decode(t, h.do(http.MethodGet, "/api/v1/artists", nil), &page)
	if page.Total != 2 {
		t.Fatalf("expected 2 active artists, got %d", page.Total)
	}
	decode(t, h.do(http.MethodGet, "/api/v1/artists?include_inactive=true", nil), &page)
	if page.Total != 3 {
		t.Fatalf("expected 3 artists with inactive included, got %d", page.Total)
	}
	if resp := h.do(http.MethodDelete, "/api/v1/artists/999", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := h.do(http.MethodGet, "/api/v1/artists?limit=x", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCollectArtistEndpoint(t *testing.T) {
	h := setup(t)

	resp := h.do(http.MethodPost, "/api/v1/collection/artist", map[string]string{"artist_name": "Knucks"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var res pipeline.CollectResult
	decode(t, resp, &res)
	if !res.Success || res.Artist == nil || res.Artist.Name != "Knucks" {
		t.Fatalf("expected collected artist, got %+v", res)
	}

	resp = h.do(http.MethodPost, "/api/v1/collection/artist", map[string]string{"artist_name": "Unknown"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	res = pipeline.CollectResult{}
	decode(t, resp, &res)
	if res.Success || len(res.Errors) != 1 {
		t.Fatalf("expected unsuccessful collection with one error, got %+v", res)
	}

	if resp := h.do(http.MethodPost, "/api/v1/collection/artist", map[string]string{}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestScoreEndpointsValidateInput(t *testing.T) {
	h := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scores", strings.NewReader("{bad json"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.Code)
	}

	names := make([]string, 51)
	for i := range names {
		names[i] = fmt.Sprintf("n%d", i)
	}
	if resp := h.do(http.MethodPost, "/api/v1/scores/batch", map[string]any{"names": names}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch, got %d", resp.Code)
	}

	resp = h.do(http.MethodPost, "/api/v1/scores/batch", map[string]any{"names": []string{"A", "B"}})
	var batch struct {
		Requested int `json:"requested"`
		Failed    int `json:"failed"`
	}
	decode(t, resp, &batch)
	if batch.Requested != 2 || batch.Failed != 0 {
		t.Fatalf("expected 2 scored names, got %+v", batch)
	}

	if resp := h.do(http.MethodGet, "/api/v1/scores/interpretation?score=abc", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	resp = h.do(http.MethodGet, "/api/v1/scores/interpretation?score=55", nil)
	var interp struct {
		Interpretation domain.Interpretation `json:"interpretation"`
	}
	decode(t, resp, &interp)
	if interp.Interpretation.Category != "Average" {
		t.Fatalf("expected Average, got %q", interp.Interpretation.Category)
	}

	resp = h.do(http.MethodGet, "/api/v1/scores/weights", nil)
	var weights domain.ScoringWeights
	decode(t, resp, &weights)
	if weights.AlgorithmName != "opportunity" {
		t.Fatalf("expected opportunity, got %q", weights.AlgorithmName)
	}
}

func TestQuotaCacheHealthAndMetrics(t *testing.T) {
	h := setup(t)

	resp := h.do(http.MethodGet, "/api/v1/quota", nil)
	var quotaResp struct {
		Pools []domain.PoolStatus `json:"pools"`
	}
	decode(t, resp, &quotaResp)
	if len(quotaResp.Pools) != 1 || quotaResp.Pools[0].Total != 2 {
		t.Fatalf("expected one pool of two keys, got %+v", quotaResp.Pools)
	}

	if resp := h.do(http.MethodPost, "/api/v1/quota/reset?provider=spotify", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", resp.Code)
	}
	if resp := h.do(http.MethodPost, "/api/v1/quota/reset", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := h.do(http.MethodGet, "/api/v1/cache/stats", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := h.do(http.MethodDelete, "/api/v1/cache/trends", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 clearing a known category, got %d", resp.Code)
	}
	if resp := h.do(http.MethodDelete, "/api/v1/cache/nope", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", resp.Code)
	}
	if resp := h.do(http.MethodGet, "/healthz", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = h.do(http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestJobStreamSendsCurrentJob(t *testing.T) {
	h := setup(t)
	ts := httptest.NewServer(h.router)
	defer ts.Close()

	resp := h.do(http.MethodPost, "/api/v1/jobs/full_extraction", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/jobs/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Type != "job_status" || ev.Job == nil || ev.Job.Kind != domain.JobFullExtraction {
		t.Fatalf("expected current job frame, got %+v", ev)
	}

	close(h.proc.release)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected terminal frame, read failed: %v", err)
		}
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if ev.Job != nil && ev.Job.State.Terminal() {
			break
		}
	}
	if ev.Job.State != domain.JobCompleted {
		t.Fatalf("expected completed, got %s", ev.Job.State)
	}
}

func TestServerCarriesTimeouts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(Config{Port: 8080, ReadTimeout: 5 * time.Second, WriteTimeout: 7 * time.Second}, nil, nil, metrics.New(), nil, zap.NewNop())
	if srv.http == nil {
		t.Fatalf("expected http server for a configured port")
	}
	if srv.http.ReadTimeout != 5*time.Second || srv.http.WriteTimeout != 7*time.Second {
		t.Fatalf("expected 5s/7s timeouts, got %v/%v", srv.http.ReadTimeout, srv.http.WriteTimeout)
	}
	if srv.http.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", srv.http.Addr)
	}
}
