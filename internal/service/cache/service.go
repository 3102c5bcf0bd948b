package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Category selects the TTL of an entry.
type Category string

const (
	CategorySearch       Category = "search"
	CategoryVideoStats   Category = "video_stats"
	CategoryChannelStats Category = "channel_stats"
	CategoryTrends       Category = "trends"
	CategoryProfile      Category = "profile"
)

var AllCategories = []Category{
	CategorySearch,
	CategoryVideoStats,
	CategoryChannelStats,
	CategoryTrends,
	CategoryProfile,
}

func (c Category) TTL() time.Duration {
	switch c {
	case CategorySearch:
		return constants.CacheTTL.Search
	case CategoryVideoStats:
		return constants.CacheTTL.VideoStats
	case CategoryChannelStats:
		return constants.CacheTTL.ChannelStats
	case CategoryTrends:
		return constants.CacheTTL.Trends
	case CategoryProfile:
		return constants.CacheTTL.Profile
	default:
		return constants.CacheTTL.Search
	}
}

// CacheService is a best-effort accelerator. Every failure is reported to the
// caller as a miss; nothing here can fail a primary operation.
type CacheService struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
	prefix  string
}

type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func NewCacheService(cfg CacheConfig, logger *zap.Logger, m *metrics.Metrics) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constants.CacheConfig.ReadyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewCacheError("failed to connect to Redis", "ping", "", err)
	}

	logger.Info("Redis connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB),
	)

	return NewCacheServiceWithClient(client, logger, m), nil
}

func NewCacheServiceWithClient(client *redis.Client, logger *zap.Logger, m *metrics.Metrics) *CacheService {
	return &CacheService{
		client:  client,
		logger:  logger,
		metrics: m,
		prefix:  constants.CacheConfig.KeyPrefix,
	}
}

// NewDisabledCache returns a cache that always misses.
func NewDisabledCache(logger *zap.Logger) *CacheService {
	return &CacheService{logger: logger, prefix: constants.CacheConfig.KeyPrefix}
}

func (c *CacheService) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *CacheService) key(category Category, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, category, key)
}

func (c *CacheService) Get(ctx context.Context, category Category, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}

	fullKey := c.key(category, key)
	value, err := c.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			c.logger.Warn("Cache get failed, treating as miss", zap.String("key", fullKey), zap.Error(err))
		}
		c.metrics.CacheLookup(string(category), false)
		return nil, false
	}

	c.metrics.CacheLookup(string(category), true)
	return value, true
}

func (c *CacheService) Put(ctx context.Context, category Category, key string, value []byte) {
	if !c.Enabled() {
		return
	}

	fullKey := c.key(category, key)
	if err := c.client.Set(ctx, fullKey, value, category.TTL()).Err(); err != nil {
		c.logger.Warn("Cache set failed", zap.String("key", fullKey), zap.Error(err))
	}
}

func (c *CacheService) GetJSON(ctx context.Context, category Category, key string, dest any) bool {
	raw, ok := c.Get(ctx, category, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("Cache unmarshal failed, treating as miss", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CacheService) PutJSON(ctx context.Context, category Category, key string, value any) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.Put(ctx, category, key, raw)
}

func (c *CacheService) Delete(ctx context.Context, category Category, key string) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, c.key(category, key)).Err(); err != nil {
		c.logger.Warn("Cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Stats counts live entries per category.
func (c *CacheService) Stats(ctx context.Context) (map[Category]int64, error) {
	stats := make(map[Category]int64, len(AllCategories))
	if !c.Enabled() {
		return stats, nil
	}

	for _, category := range AllCategories {
		var count int64
		iter := c.client.Scan(ctx, 0, c.key(category, "*"), constants.CacheConfig.ScanCount).Iterator()
		for iter.Next(ctx) {
			count++
		}
		if err := iter.Err(); err != nil {
			return nil, errors.NewCacheError("scan failed", "scan", string(category), err)
		}
		stats[category] = count
	}
	return stats, nil
}

// Clear drops every entry of a category and reports how many were removed.
func (c *CacheService) Clear(ctx context.Context, category Category) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}

	var keys []string
	iter := c.client.Scan(ctx, 0, c.key(category, "*"), constants.CacheConfig.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, errors.NewCacheError("scan failed", "scan", string(category), err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewCacheError("delete many failed", "del", fmt.Sprintf("%d keys", len(keys)), err)
	}

	c.logger.Info("Cache category cleared", zap.String("category", string(category)), zap.Int64("deleted", deleted))
	return deleted, nil
}

func (c *CacheService) IsConnected(ctx context.Context) bool {
	return c.Enabled() && c.client.Ping(ctx).Err() == nil
}

func (c *CacheService) Close() error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection", zap.Error(err))
		return err
	}
	c.logger.Info("Redis disconnected")
	return nil
}
