package youtube

import (
	"bytes"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/service/upstream"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

const (
	ProviderName = "youtube"
	apiKeyParam  = "key"
)

// 403 reasons that are about the resource, not the key's allotment.
var nonQuotaReasons = map[string]bool{
	"forbidden":                  true,
	"channelClosed":              true,
	"channelSuspended":           true,
	"videoNotFound":              true,
	"playlistItemsNotAccessible": true,
}

// IsQuotaRejection classifies YouTube Data API failures. 429 and quota-style
// 403 answers exhaust the calling key.
func IsQuotaRejection(status int, body []byte) (bool, string) {
	if status != http.StatusForbidden && status != http.StatusTooManyRequests {
		return false, ""
	}

	reason := http.StatusText(status)
	err := googleapi.CheckResponse(&http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{},
	})
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Reason != "" {
			reason = apiErr.Errors[0].Reason
		} else if apiErr.Message != "" {
			reason = apiErr.Message
		}
	}

	if status == http.StatusForbidden && nonQuotaReasons[reason] {
		return false, reason
	}
	return true, reason
}

// NewRateLimitedClient builds the key-rotating client for the Data API.
func NewRateLimitedClient(pool *quota.Pool, cacheSvc *cache.CacheService, httpClient *http.Client, baseURL string, logger *zap.Logger, m *metrics.Metrics) *upstream.Client {
	if baseURL == "" {
		baseURL = constants.APIConfig.YouTubeBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.APIConfig.HTTPTimeout}
	}
	return upstream.NewClient(upstream.Config{
		Provider:        ProviderName,
		BaseURL:         baseURL,
		CredentialParam: apiKeyParam,
		HTTPClient:      httpClient,
		Authorizer:      upstream.QueryParamAuthorizer(apiKeyParam),
		IsQuotaRejected: IsQuotaRejection,
	}, pool, cacheSvc, logger, m)
}
