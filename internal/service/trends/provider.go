package trends

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/util"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Provider yields a 0-100 recent-popularity signal for a search phrase.
type Provider interface {
	Interest(ctx context.Context, phrase string) (float64, error)
}

var ErrCircuitOpen = stderrors.New("trend provider circuit open")

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("trend provider returned status %d", e.status)
}

type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	MinInterval time.Duration
	Timeframe   string
	Geo         string
	Language    string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// GoogleTrends talks to the public explore/widgetdata endpoints. Calls are
// serialised and spaced by MinInterval.
type GoogleTrends struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	retry   retrypolicy.RetryPolicy[*http.Response]
	breaker *util.CircuitBreaker
	cache   *cache.CacheService
	logger  *zap.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

type exploreResponse struct {
	Widgets []struct {
		ID      string          `json:"id"`
		Token   string          `json:"token"`
		Request json.RawMessage `json:"request"`
	} `json:"widgets"`
}

type multilineResponse struct {
	Default struct {
		TimelineData []struct {
			Value   []float64 `json:"value"`
			HasData []bool    `json:"hasData"`
		} `json:"timelineData"`
	} `json:"default"`
}

func NewGoogleTrends(cfg Config, cacheSvc *cache.CacheService, logger *zap.Logger, m *metrics.Metrics) *GoogleTrends {
	if cfg.BaseURL == "" {
		cfg.BaseURL = constants.APIConfig.TrendsBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: constants.APIConfig.HTTPTimeout}
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = constants.TrendsConfig.Timeframe
	}
	if cfg.Geo == "" {
		cfg.Geo = constants.TrendsConfig.Geo
	}
	if cfg.Language == "" {
		cfg.Language = constants.TrendsConfig.Language
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = constants.RetryConfig.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewDisabledCache(logger)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &GoogleTrends{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(limit, 1),
		retry: retrypolicy.NewBuilder[*http.Response]().
			WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
			WithMaxRetries(cfg.MaxRetries).
			WithJitterFactor(0.1).
			HandleIf(func(_ *http.Response, err error) bool {
				var se *statusError
				if stderrors.As(err, &se) {
					return se.status == http.StatusTooManyRequests || se.status >= 500
				}
				return err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
			}).
			Build(),
		breaker: util.NewCircuitBreaker("trends",
			constants.CircuitBreakerConfig.FailureThreshold,
			constants.CircuitBreakerConfig.ResetTimeout,
			logger),
		cache:   cacheSvc,
		logger:  logger,
		metrics: m,
	}
}

func (g *GoogleTrends) CircuitStatus() util.CircuitBreakerStatus {
	return g.breaker.GetStatus()
}

// Interest returns the mean of the most recent interest points for phrase.
// Results are cached per lower-cased phrase.
func (g *GoogleTrends) Interest(ctx context.Context, phrase string) (float64, error) {
	key := strings.ToLower(strings.TrimSpace(phrase))
	if key == "" {
		return 0, fmt.Errorf("empty trend phrase")
	}

	var cached float64
	if g.cache.GetJSON(ctx, cache.CategoryTrends, key, &cached) {
		g.metrics.TrendCall("cache_hit")
		return cached, nil
	}

	if !g.breaker.Allow() {
		g.metrics.TrendCall("circuit_open")
		return 0, ErrCircuitOpen
	}

	score, status, err := g.fetch(ctx, phrase)
	if err != nil {
		if ctx.Err() != nil {
			g.breaker.RecordSuccess()
			return 0, ctx.Err()
		}
		timeout := time.Duration(0)
		if status == http.StatusTooManyRequests {
			timeout = constants.CircuitBreakerConfig.RateLimitTimeout
		}
		g.breaker.RecordFailure(timeout)
		g.metrics.TrendCall("error")
		g.logger.Warn("Trend lookup failed",
			zap.String("phrase", phrase),
			zap.Int("status", status),
			zap.Error(err))
		return 0, err
	}

	g.breaker.RecordSuccess()
	g.metrics.TrendCall("ok")
	g.cache.PutJSON(ctx, cache.CategoryTrends, key, score)

	g.logger.Debug("Trend interest fetched",
		zap.String("phrase", phrase),
		zap.Float64("score", score))

	return score, nil
}

func (g *GoogleTrends) fetch(ctx context.Context, phrase string) (float64, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	exploreReq, err := json.Marshal(map[string]any{
		"comparisonItem": []map[string]string{{
			"keyword": phrase,
			"geo":     g.cfg.Geo,
			"time":    g.cfg.Timeframe,
		}},
		"category": 0,
		"property": "",
	})
	if err != nil {
		return 0, 0, err
	}

	body, status, err := g.get(ctx, "/trends/api/explore", url.Values{
		"hl":  {g.cfg.Language},
		"tz":  {"360"},
		"req": {string(exploreReq)},
	})
	if err != nil {
		return 0, status, err
	}

	var explore exploreResponse
	if err := json.Unmarshal(stripGuard(body), &explore); err != nil {
		return 0, status, fmt.Errorf("failed to decode explore response: %w", err)
	}

	var token string
	var widgetReq json.RawMessage
	for _, w := range explore.Widgets {
		if w.ID == "TIMESERIES" {
			token, widgetReq = w.Token, w.Request
			break
		}
	}
	if token == "" {
		return 0, status, fmt.Errorf("no timeseries widget for %q", phrase)
	}

	body, status, err = g.get(ctx, "/trends/api/widgetdata/multiline", url.Values{
		"hl":    {g.cfg.Language},
		"tz":    {"360"},
		"req":   {string(widgetReq)},
		"token": {token},
	})
	if err != nil {
		return 0, status, err
	}

	var series multilineResponse
	if err := json.Unmarshal(stripGuard(body), &series); err != nil {
		return 0, status, fmt.Errorf("failed to decode timeline: %w", err)
	}

	points := make([]float64, 0, len(series.Default.TimelineData))
	for _, p := range series.Default.TimelineData {
		v := 0.0
		if len(p.Value) > 0 && (len(p.HasData) == 0 || p.HasData[0]) {
			v = p.Value[0]
		}
		points = append(points, v)
	}
	return RecentMean(points, constants.TrendsConfig.RecentPoints), status, nil
}

// get waits for the limiter before every attempt, including retries.
func (g *GoogleTrends) get(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	var lastStatus int
	var body []byte

	_, err := failsafe.With(g.retry).WithContext(ctx).Get(func() (*http.Response, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ArtistRadar/1.0)")

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		lastStatus = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &statusError{status: resp.StatusCode}
		}
		body = data
		return resp, nil
	})
	if err != nil {
		return nil, lastStatus, err
	}
	return body, lastStatus, nil
}

// stripGuard drops the anti-JSON-hijacking prefix.
func stripGuard(body []byte) []byte {
	if i := bytes.IndexByte(body, '{'); i > 0 {
		return body[i:]
	}
	return body
}

// RecentMean averages the last n points. No points yields 0.
func RecentMean(points []float64, n int) float64 {
	if len(points) == 0 {
		return 0
	}
	if n > 0 && len(points) > n {
		points = points[len(points)-n:]
	}
	return util.Clamp(util.Mean(points), 0, 100)
}
