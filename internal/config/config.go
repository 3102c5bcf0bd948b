package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
	"gopkg.in/yaml.v3"
)

const maxCredentialSlots = 12

type Config struct {
	Server    ServerConfig
	YouTube   YouTubeConfig
	Spotify   SpotifyConfig
	Trends    TrendsConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Storage   StorageConfig
	Scoring   ScoringConfig
	Jobs      JobsConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
	Sources   domain.SourcesConfig
}

type ServerConfig struct {
	Port        int
	ReleaseMode bool
}

type YouTubeConfig struct {
	APIKeys []string
	BaseURL string
}

// SpotifyConfig holds client credentials as "client_id:client_secret" pairs.
type SpotifyConfig struct {
	Credentials []string
	BaseURL     string
	TokenURL    string
	WebURL      string
}

type TrendsConfig struct {
	Enabled     bool
	BaseURL     string
	MinInterval time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend      string
	EnsureSchema bool
}

type ScoringConfig struct {
	BatchSize   int
	Concurrency int
	BatchPause  time.Duration
}

type JobsConfig struct {
	IncrementalWindow time.Duration
	Retention         time.Duration
}

type SchedulerConfig struct {
	Enabled                bool
	Interval               time.Duration
	RescoreAfterExtraction bool
}

type LoggingConfig struct {
	Level  string
	File   string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 8080),
			ReleaseMode: getEnv("GIN_MODE", "release") == "release",
		},
		YouTube: YouTubeConfig{
			APIKeys: collectAPIKeys("YOUTUBE_API_KEY"),
			BaseURL: getEnv("YOUTUBE_BASE_URL", constants.APIConfig.YouTubeBaseURL),
		},
		Spotify: SpotifyConfig{
			Credentials: collectClientCredentials("SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET"),
			BaseURL:     getEnv("SPOTIFY_BASE_URL", constants.APIConfig.SpotifyBaseURL),
			TokenURL:    getEnv("SPOTIFY_TOKEN_URL", constants.APIConfig.SpotifyTokenURL),
			WebURL:      getEnv("SPOTIFY_WEB_URL", constants.APIConfig.SpotifyWebURL),
		},
		Trends: TrendsConfig{
			Enabled:     getEnvBool("TRENDS_ENABLED", true),
			BaseURL:     getEnv("TRENDS_BASE_URL", constants.APIConfig.TrendsBaseURL),
			MinInterval: getEnvDuration("TRENDS_MIN_INTERVAL", constants.TrendsConfig.MinInterval),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "radar"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "artist_radar"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvInt("POSTGRES_MAX_CONNS", 10),
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(getEnv("STORAGE_BACKEND", "postgres")),
			EnsureSchema: getEnvBool("ENSURE_SCHEMA", true),
		},
		Scoring: ScoringConfig{
			BatchSize:   getEnvInt("SCORING_BATCH_SIZE", constants.ScoringConfig.BatchSize),
			Concurrency: util.ClampInt(getEnvInt("SCORING_CONCURRENCY", constants.ScoringConfig.Concurrency), 1, constants.ScoringConfig.MaxConcurrency),
			BatchPause:  getEnvDuration("SCORING_BATCH_PAUSE", constants.ScoringConfig.BatchPause),
		},
		Jobs: JobsConfig{
			IncrementalWindow: time.Duration(getEnvInt("INCREMENTAL_WINDOW_HOURS", 24)) * time.Hour,
			Retention:         time.Duration(getEnvInt("JOB_RETENTION_DAYS", 7)) * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:                getEnvBool("SCHEDULER_ENABLED", false),
			Interval:               getEnvDuration("SCHEDULER_INTERVAL", constants.JobConfig.SchedulerInterval),
			RescoreAfterExtraction: getEnvBool("SCHEDULER_RESCORE", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			File:   getEnv("LOG_FILE", ""),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	sources, err := LoadSources(getEnv("SOURCES_FILE", "config/sources.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources
	// the environment overrides the file
	if os.Getenv("ENRICH_NEW_ARTISTS") != "" {
		cfg.Sources.Settings.EnrichNewArtists = getEnvBool("ENRICH_NEW_ARTISTS", sources.Settings.EnrichNewArtists)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadSources reads the monitored playlists and channels. A missing file
// yields an empty source list.
func LoadSources(path string) (domain.SourcesConfig, error) {
	var sources domain.SourcesConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sources, nil
		}
		return sources, fmt.Errorf("failed to read sources file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &sources); err != nil {
		return sources, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}
	return sources, nil
}

func (c *Config) Validate() error {
	if len(c.YouTube.APIKeys) == 0 {
		return fmt.Errorf("at least one YOUTUBE_API_KEY is required")
	}
	switch c.Storage.Backend {
	case "postgres":
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be postgres or memory, got %q", c.Storage.Backend)
	}
	if c.Scoring.BatchSize <= 0 {
		return fmt.Errorf("SCORING_BATCH_SIZE must be positive")
	}
	if c.Jobs.IncrementalWindow <= 0 {
		return fmt.Errorf("INCREMENTAL_WINDOW_HOURS must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1m")
	}
	for _, ref := range append(append([]domain.SourceRef{}, c.Sources.SpotifyPlaylists...), c.Sources.YouTubeChannels...) {
		if strings.TrimSpace(ref.ID) == "" {
			return fmt.Errorf("source %q has no id", ref.Name)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// collectAPIKeys reads PREFIX and PREFIX_1..PREFIX_12, skipping duplicates.
func collectAPIKeys(prefix string) []string {
	keys := make([]string, 0)
	if value := strings.TrimSpace(os.Getenv(prefix)); value != "" {
		keys = append(keys, value)
	}
	for i := 1; i <= maxCredentialSlots; i++ {
		envKey := fmt.Sprintf("%s_%d", prefix, i)
		if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
			keys = append(keys, value)
		}
	}
	return util.UniqueStrings(keys)
}

func collectClientCredentials(idPrefix, secretPrefix string) []string {
	creds := make([]string, 0)
	for i := 0; i <= maxCredentialSlots; i++ {
		idKey, secretKey := idPrefix, secretPrefix
		if i > 0 {
			idKey = fmt.Sprintf("%s_%d", idPrefix, i)
			secretKey = fmt.Sprintf("%s_%d", secretPrefix, i)
		}
		id := strings.TrimSpace(os.Getenv(idKey))
		secret := strings.TrimSpace(os.Getenv(secretKey))
		if id != "" && secret != "" {
			creds = append(creds, id+":"+secret)
		}
	}
	return util.UniqueStrings(creds)
}
