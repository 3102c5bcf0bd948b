package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "artist_radar"

// Metrics owns every collector of the service on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamCalls        *prometheus.CounterVec
	credentialsExhausted *prometheus.CounterVec
	cacheLookups         *prometheus.CounterVec
	trendCalls           *prometheus.CounterVec
	jobsTotal            *prometheus.CounterVec
	jobProgress          *prometheus.GaugeVec
	entitiesMerged       *prometheus.CounterVec
	entitiesScored       prometheus.Counter
	scoreDistribution    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	m.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	m.upstreamCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_calls_total",
		Help:      "Upstream API calls by provider and outcome",
	}, []string{"provider", "outcome"})

	m.credentialsExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credentials_exhausted_total",
		Help:      "Credentials flagged exhausted after a quota rejection",
	}, []string{"provider"})

	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by category and result",
	}, []string{"category", "result"})

	m.trendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trend_calls_total",
		Help:      "Trend provider lookups by outcome",
	}, []string{"outcome"})

	m.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Jobs reaching a state, by kind",
	}, []string{"kind", "state"})

	m.jobProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_progress_percent",
		Help:      "Progress of the running job",
	}, []string{"kind"})

	m.entitiesMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_merged_total",
		Help:      "Artists created or updated by extraction",
	}, []string{"result"})

	m.entitiesScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_scored_total",
		Help:      "Score records written",
	})

	m.scoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "composite_score",
		Help:      "Distribution of composite scores",
		Buckets:   []float64{10, 20, 30, 40, 50, 65, 80, 90, 100},
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamCalls,
		m.credentialsExhausted,
		m.cacheLookups,
		m.trendCalls,
		m.jobsTotal,
		m.jobProgress,
		m.entitiesMerged,
		m.entitiesScored,
		m.scoreDistribution,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) UpstreamCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) CredentialExhausted(provider string) {
	if m == nil {
		return
	}
	m.credentialsExhausted.WithLabelValues(provider).Inc()
}

func (m *Metrics) CacheLookup(category string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(category, result).Inc()
}

func (m *Metrics) TrendCall(outcome string) {
	if m == nil {
		return
	}
	m.trendCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobState(kind, state string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) JobProgress(kind string, pct float64) {
	if m == nil {
		return
	}
	m.jobProgress.WithLabelValues(kind).Set(pct)
}

func (m *Metrics) EntityMerged(result string) {
	if m == nil {
		return
	}
	m.entitiesMerged.WithLabelValues(result).Inc()
}

func (m *Metrics) EntityScored(composite float64) {
	if m == nil {
		return
	}
	m.entitiesScored.Inc()
	m.scoreDistribution.Observe(composite)
}
