package constants

import "time"

var CacheTTL = struct {
	Search       time.Duration
	VideoStats   time.Duration
	ChannelStats time.Duration
	Trends       time.Duration
	Profile      time.Duration
}{
	Search:       1 * time.Hour,      // search result pages
	VideoStats:   24 * time.Hour,     // per-video statistics
	ChannelStats: 7 * 24 * time.Hour, // channel aggregates
	Trends:       24 * time.Hour,
	Profile:      7 * 24 * time.Hour, // spotify artist profiles, monthly listeners
}

var CacheConfig = struct {
	KeyPrefix    string
	ReadyTimeout time.Duration
	ScanCount    int64
}{
	KeyPrefix:    "radar",
	ReadyTimeout: 5 * time.Second,
	ScanCount:    500,
}

var RetryConfig = struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Jitter:      250 * time.Millisecond,
}

var DatabaseConfig = struct {
	ApplicationName string
	MaxOpenConns    int
	IdleConnRatio   int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	PingRetries     int
}{
	ApplicationName: "artist-radar",
	MaxOpenConns:    10,
	IdleConnRatio:   2, // keep half the pool warm
	ConnMaxLifetime: 30 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
	ConnectTimeout:  5 * time.Second,
	PingRetries:     3,
}

var CircuitBreakerConfig = struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	RateLimitTimeout    time.Duration
	HealthCheckInterval time.Duration
}{
	FailureThreshold:    3,                // consecutive failures before OPEN
	ResetTimeout:        30 * time.Second, // OPEN -> HALF_OPEN without health check
	RateLimitTimeout:    10 * time.Minute, // trend provider answered 429
	HealthCheckInterval: 5 * time.Minute,
}

var APIConfig = struct {
	YouTubeBaseURL       string
	SpotifyBaseURL       string
	SpotifyTokenURL      string
	SpotifyWebURL        string
	TrendsBaseURL        string
	HTTPTimeout          time.Duration
	ScraperTimeout       time.Duration
	MaxIDsPerStatsCall   int
	RelatedSampleSize    int
	RelatedQuerySuffix   string
	MaxPlaylistPageSize  int
	ChannelSearchResults int
	DefaultPageSize      int
	MaxPageSize          int
}{
	YouTubeBaseURL:       "https://www.googleapis.com/youtube/v3",
	SpotifyBaseURL:       "https://api.spotify.com/v1",
	SpotifyTokenURL:      "https://accounts.spotify.com/api/token",
	SpotifyWebURL:        "https://open.spotify.com",
	TrendsBaseURL:        "https://trends.google.com",
	HTTPTimeout:          15 * time.Second,
	ScraperTimeout:       10 * time.Second,
	MaxIDsPerStatsCall:   50,
	RelatedSampleSize:    50,
	RelatedQuerySuffix:   "type beat",
	MaxPlaylistPageSize:  100,
	ChannelSearchResults: 5,
	DefaultPageSize:      100,
	MaxPageSize:          500,
}

var ScoringConfig = struct {
	AlgorithmName      string
	AlgorithmVersion   string
	BatchSize          int
	Concurrency        int
	MaxConcurrency     int
	BatchPause         time.Duration
	MaxBatchNames      int
	OptimizationScore  float64
	DemandWeight       float64
	CompetitionWeight  float64
	OptimizationWeight float64
}{
	AlgorithmName:      "opportunity",
	AlgorithmVersion:   "2.0.0",
	BatchSize:          20,
	Concurrency:        5,
	MaxConcurrency:     10,
	BatchPause:         1 * time.Second,
	MaxBatchNames:      50,
	OptimizationScore:  50,
	DemandWeight:       0.4,
	CompetitionWeight:  0.4,
	OptimizationWeight: 0.2,
}

var TrendsConfig = struct {
	MinInterval  time.Duration
	Timeframe    string
	Geo          string
	Language     string
	RecentPoints int
}{
	MinInterval:  2 * time.Second,
	Timeframe:    "today 3-m",
	Geo:          "US",
	Language:     "en-US",
	RecentPoints: 12,
}

var JobConfig = struct {
	MaxRetainedErrors int
	RetentionPeriod   time.Duration
	IncrementalWindow time.Duration
	DefaultHistory    int
	MaxHistory        int
	ShutdownTimeout   time.Duration
	SchedulerInterval time.Duration
}{
	MaxRetainedErrors: 10,
	RetentionPeriod:   7 * 24 * time.Hour,
	IncrementalWindow: 24 * time.Hour,
	DefaultHistory:    20,
	MaxHistory:        200,
	ShutdownTimeout:   10 * time.Second,
	SchedulerInterval: 24 * time.Hour,
}

var ExtractionConfig = struct {
	MinNameLength     int
	MaxNameLength     int
	MaxNameWords      int
	TracksPerPlaylist int
	VideosPerChannel  int
}{
	MinNameLength:     2,
	MaxNameLength:     60,
	MaxNameWords:      4,
	TracksPerPlaylist: 50,
	VideosPerChannel:  50,
}

var WebSocketConfig = struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}{
	WriteTimeout: 10 * time.Second,
	PingInterval: 30 * time.Second,
	SendBuffer:   64,
}
