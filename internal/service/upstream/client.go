package upstream

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// Requester is the call surface providers build on.
type Requester interface {
	Call(ctx context.Context, endpoint string, params url.Values, category cache.Category) ([]byte, error)
}

// Authorizer applies a leased credential to an outgoing request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request, lease quota.Lease) error
}

type AuthorizerFunc func(ctx context.Context, req *http.Request, lease quota.Lease) error

func (f AuthorizerFunc) Authorize(ctx context.Context, req *http.Request, lease quota.Lease) error {
	return f(ctx, req, lease)
}

// QueryParamAuthorizer sets the credential as a query parameter.
func QueryParamAuthorizer(param string) Authorizer {
	return AuthorizerFunc(func(_ context.Context, req *http.Request, lease quota.Lease) error {
		q := req.URL.Query()
		q.Set(param, lease.Credential.Secret)
		req.URL.RawQuery = q.Encode()
		return nil
	})
}

// QuotaClassifier decides whether a non-2xx response is a quota rejection.
// The returned reason is only used for logging.
type QuotaClassifier func(status int, body []byte) (bool, string)

// StatusQuotaClassifier treats the listed statuses as quota rejections.
func StatusQuotaClassifier(statuses ...int) QuotaClassifier {
	return func(status int, _ []byte) (bool, string) {
		for _, s := range statuses {
			if s == status {
				return true, http.StatusText(status)
			}
		}
		return false, ""
	}
}

type Config struct {
	Provider string
	BaseURL  string
	// CredentialParam is stripped from cache keys.
	CredentialParam string
	HTTPClient      *http.Client
	Authorizer      Authorizer
	IsQuotaRejected QuotaClassifier
}

// Client is a cache-aside, credential-rotating HTTP client for one provider.
type Client struct {
	provider        string
	baseURL         string
	credentialParam string
	httpClient      *http.Client
	authorizer      Authorizer
	isQuotaRejected QuotaClassifier
	pool            *quota.Pool
	cache           *cache.CacheService
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

func NewClient(cfg Config, pool *quota.Pool, cacheSvc *cache.CacheService, logger *zap.Logger, m *metrics.Metrics) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	classifier := cfg.IsQuotaRejected
	if classifier == nil {
		classifier = StatusQuotaClassifier(http.StatusTooManyRequests)
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewDisabledCache(logger)
	}
	return &Client{
		provider:        cfg.Provider,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		credentialParam: cfg.CredentialParam,
		httpClient:      httpClient,
		authorizer:      cfg.Authorizer,
		isQuotaRejected: classifier,
		pool:            pool,
		cache:           cacheSvc,
		logger:          logger,
		metrics:         m,
	}
}

func (c *Client) Pool() *quota.Pool {
	return c.pool
}

// Call returns the raw response body for endpoint+params. A cache hit touches
// no credential. Attempts are bounded by the pool size.
func (c *Client) Call(ctx context.Context, endpoint string, params url.Values, category cache.Category) ([]byte, error) {
	key := CacheKey(c.provider, endpoint, params, c.credentialParam)
	if body, ok := c.cache.Get(ctx, category, key); ok {
		c.metrics.UpstreamCall(c.provider, "cache_hit")
		return body, nil
	}

	var lastErr error
	maxAttempts := c.pool.Size()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lease, err := c.pool.Acquire()
		if err != nil {
			c.metrics.UpstreamCall(c.provider, "exhausted")
			return nil, err
		}

		status, body, err := c.do(ctx, endpoint, params, lease)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.pool.Rotate(lease.Index)
			c.metrics.UpstreamCall(c.provider, "transport_error")
			c.logger.Warn("Upstream request failed, rotating credential",
				zap.String("provider", c.provider),
				zap.String("endpoint", endpoint),
				zap.String("credential", lease.Credential.Label),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		if status >= 400 {
			if quotaRejected, reason := c.isQuotaRejected(status, body); quotaRejected {
				c.pool.MarkExhausted(lease.Index)
				c.metrics.UpstreamCall(c.provider, "quota_rejected")
				c.metrics.CredentialExhausted(c.provider)
				c.logger.Warn("Quota rejection, rotating credential",
					zap.String("provider", c.provider),
					zap.String("endpoint", endpoint),
					zap.String("credential", lease.Credential.Label),
					zap.Int("status", status),
					zap.String("reason", reason),
				)
				lastErr = errors.NewUpstreamError(c.provider, endpoint, status, fmt.Errorf("quota rejected: %s", reason))
				continue
			}

			if status >= 500 {
				c.pool.Rotate(lease.Index)
				c.metrics.UpstreamCall(c.provider, "server_error")
				c.logger.Warn("Upstream server error, rotating credential",
					zap.String("provider", c.provider),
					zap.String("endpoint", endpoint),
					zap.Int("status", status),
					zap.Int("attempt", attempt+1),
				)
				lastErr = errors.NewUpstreamError(c.provider, endpoint, status, nil)
				continue
			}

			c.metrics.UpstreamCall(c.provider, "client_error")
			upstreamErr := errors.NewUpstreamError(c.provider, endpoint, status, nil)
			upstreamErr.Context["body"] = util.TruncateString(string(body), 300)
			return nil, upstreamErr
		}

		c.pool.RecordSuccess(lease.Index)
		c.metrics.UpstreamCall(c.provider, "ok")
		c.cache.Put(ctx, category, key, body)
		return body, nil
	}

	if c.pool.Available() == 0 {
		c.metrics.UpstreamCall(c.provider, "exhausted")
		return nil, errors.NewQuotaExhaustedError(c.provider, c.pool.Size())
	}
	return nil, errors.NewUpstreamError(c.provider, endpoint, 0, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, lease quota.Lease) (int, []byte, error) {
	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	if c.authorizer != nil {
		if err := c.authorizer.Authorize(ctx, req, lease); err != nil {
			return 0, nil, fmt.Errorf("authorize %s: %w", lease.Credential.Label, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// CacheKey derives a credential-free key from provider, endpoint and parameters.
func CacheKey(provider, endpoint string, params url.Values, credentialParam string) string {
	clean := url.Values{}
	for k, v := range params {
		if credentialParam != "" && k == credentialParam {
			continue
		}
		clean[k] = v
	}
	sum := sha1.Sum([]byte(clean.Encode()))
	return provider + ":" + strings.Trim(endpoint, "/") + ":" + hex.EncodeToString(sum[:])
}
