package spotify

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/service/cache"
	"go.uber.org/zap"
)

var listenersPattern = regexp.MustCompile(`(?i)([\d][\d.,]*)\s*([KMB])?\s+monthly listeners`)

// ListenersScraper reads the monthly-listener figure from the public artist
// page, which the Web API does not expose.
type ListenersScraper struct {
	httpClient *http.Client
	cache      *cache.CacheService
	logger     *zap.Logger
	baseURL    string
}

func NewListenersScraper(cacheSvc *cache.CacheService, httpClient *http.Client, baseURL string, logger *zap.Logger) *ListenersScraper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.APIConfig.ScraperTimeout}
	}
	if baseURL == "" {
		baseURL = constants.APIConfig.SpotifyWebURL
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewDisabledCache(logger)
	}
	return &ListenersScraper{
		httpClient: httpClient,
		cache:      cacheSvc,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (s *ListenersScraper) MonthlyListeners(ctx context.Context, artistID string) (int64, error) {
	cacheKey := "listeners:" + artistID
	var cached int64
	if s.cache.GetJSON(ctx, cache.CategoryProfile, cacheKey, &cached) {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/artist/"+artistID, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ArtistRadar/1.0)")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("HTML parse failed: %w", err)
	}

	candidates := []string{
		doc.Find(`meta[property="og:description"]`).AttrOr("content", ""),
		doc.Find(`meta[name="description"]`).AttrOr("content", ""),
	}
	for _, text := range candidates {
		if n, ok := ParseMonthlyListeners(text); ok {
			s.cache.PutJSON(ctx, cache.CategoryProfile, cacheKey, n)
			s.logger.Debug("Monthly listeners scraped",
				zap.String("artist_id", artistID),
				zap.Int64("listeners", n))
			return n, nil
		}
	}

	return 0, fmt.Errorf("monthly listeners not found for %s", artistID)
}

// ParseMonthlyListeners understands "1,234,567 monthly listeners" and the
// abbreviated "1.2M monthly listeners".
func ParseMonthlyListeners(text string) (int64, bool) {
	m := listenersPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	number, suffix := m[1], strings.ToUpper(m[2])
	if suffix == "" {
		digits := strings.NewReplacer(",", "", ".", "").Replace(number)
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	switch suffix {
	case "K":
		value *= 1e3
	case "M":
		value *= 1e6
	case "B":
		value *= 1e9
	}
	return int64(value + 0.5), true
}
