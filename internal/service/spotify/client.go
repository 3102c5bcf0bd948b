package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/service/upstream"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const ProviderName = "spotify"

// ParseCredential splits a "client_id:client_secret" pair.
func ParseCredential(secret string) (clientID, clientSecret string, err error) {
	id, sec, ok := strings.Cut(secret, ":")
	if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(sec) == "" {
		return "", "", fmt.Errorf("spotify credential must be client_id:client_secret")
	}
	return strings.TrimSpace(id), strings.TrimSpace(sec), nil
}

// TokenAuthorizer keeps one client-credentials token source per pool slot.
// Sources cache their token until expiry.
type TokenAuthorizer struct {
	tokenURL   string
	httpClient *http.Client

	mu      sync.Mutex
	sources map[int]oauth2.TokenSource
}

func NewTokenAuthorizer(tokenURL string, httpClient *http.Client) *TokenAuthorizer {
	if tokenURL == "" {
		tokenURL = constants.APIConfig.SpotifyTokenURL
	}
	return &TokenAuthorizer{
		tokenURL:   tokenURL,
		httpClient: httpClient,
		sources:    make(map[int]oauth2.TokenSource),
	}
}

func (a *TokenAuthorizer) Authorize(_ context.Context, req *http.Request, lease quota.Lease) error {
	src, err := a.source(lease)
	if err != nil {
		return err
	}
	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("spotify token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

func (a *TokenAuthorizer) source(lease quota.Lease) (oauth2.TokenSource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if src, ok := a.sources[lease.Index]; ok {
		return src, nil
	}

	clientID, clientSecret, err := ParseCredential(lease.Credential.Secret)
	if err != nil {
		return nil, err
	}

	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     a.tokenURL,
	}

	// The token source outlives any single request context.
	tokenCtx := context.Background()
	if a.httpClient != nil {
		tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, a.httpClient)
	}
	src := cfg.TokenSource(tokenCtx)
	a.sources[lease.Index] = src
	return src, nil
}

type ClientConfig struct {
	BaseURL    string
	TokenURL   string
	HTTPClient *http.Client
}

// NewRateLimitedClient builds the credential-rotating Web API client. Only 429
// exhausts a slot.
func NewRateLimitedClient(cfg ClientConfig, pool *quota.Pool, cacheSvc *cache.CacheService, logger *zap.Logger, m *metrics.Metrics) *upstream.Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = constants.APIConfig.SpotifyBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: constants.APIConfig.HTTPTimeout}
	}
	return upstream.NewClient(upstream.Config{
		Provider:        ProviderName,
		BaseURL:         cfg.BaseURL,
		HTTPClient:      cfg.HTTPClient,
		Authorizer:      NewTokenAuthorizer(cfg.TokenURL, cfg.HTTPClient),
		IsQuotaRejected: upstream.StatusQuotaClassifier(http.StatusTooManyRequests),
	}, pool, cacheSvc, logger, m)
}
