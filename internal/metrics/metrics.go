// Package metrics exposes the process-scoped metrics aggregate for the
// scraping service: Prometheus collectors plus the JSON counters document
// served by the API. A single Metrics value is created at startup and
// passed to the components that record events.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxTrackedResponseTimes bounds the rolling window used for the snapshot's
// average response time.
const maxTrackedResponseTimes = 1000

// PlatformStats aggregates per-platform counters for the snapshot document.
type PlatformStats struct {
	Requests int `json:"requests"`
	Reviews  int `json:"reviews"`
	Failures int `json:"failures"`
}

// Summary is the JSON metrics document returned by GET /metrics.
type Summary struct {
	TotalRequests       int                      `json:"total_requests"`
	SuccessfulScrapes   int                      `json:"successful_scrapes"`
	FailedScrapes       int                      `json:"failed_scrapes"`
	SuccessRate         float64                  `json:"success_rate"`
	TotalReviewsScraped int                      `json:"total_reviews_scraped"`
	AvgResponseTime     float64                  `json:"avg_response_time"`
	CacheHits           int                      `json:"cache_hits"`
	CacheMisses         int                      `json:"cache_misses"`
	CacheHitRate        float64                  `json:"cache_hit_rate"`
	RateLimitHits       int                      `json:"rate_limit_hits"`
	RobotsTxtBlocks     int                      `json:"robots_txt_blocks"`
	SecurityBlocks      int                      `json:"security_blocks"`
	PlatformStats       map[string]PlatformStats `json:"platform_stats"`
	ErrorTypes          map[string]int           `json:"error_types"`
}

// Metrics records scraping events into Prometheus collectors and an
// in-process aggregate for the JSON snapshot.
type Metrics struct {
	registry *prometheus.Registry

	scrapeRequestsTotal  *prometheus.CounterVec
	scrapesTotal         *prometheus.CounterVec
	reviewsScrapedTotal  *prometheus.CounterVec
	cacheRequestsTotal   *prometheus.CounterVec
	rateLimitHitsTotal   prometheus.Counter
	robotsBlocksTotal    prometheus.Counter
	securityBlocksTotal  prometheus.Counter
	jobsTotal            *prometheus.CounterVec
	scrapeDurationSecs   prometheus.Histogram
	activeRenderSessions prometheus.Gauge

	mu            sync.Mutex
	totalRequests int
	successful    int
	failed        int
	totalReviews  int
	cacheHits     int
	cacheMisses   int
	rateLimitHits int
	robotsBlocks  int
	secBlocks     int
	platforms     map[string]*PlatformStats
	errorTypes    map[string]int
	responseTimes []float64
}

// New creates a Metrics aggregate with its own Prometheus registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:   registry,
		platforms:  make(map[string]*PlatformStats),
		errorTypes: make(map[string]int),
	}

	m.scrapeRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total number of scrape fetches initiated, labeled by platform.",
		},
		[]string{"platform"},
	)
	m.scrapesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_scrapes_total",
			Help: "Total number of scrape fetches finished, labeled by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
	m.reviewsScrapedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_reviews_scraped_total",
			Help: "Total number of review records extracted, labeled by platform.",
		},
		[]string{"platform"},
	)
	m.cacheRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_requests_total",
			Help: "Cache lookups, labeled by result (hit or miss).",
		},
		[]string{"result"},
	)
	m.rateLimitHitsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_rate_limit_hits_total",
			Help: "Admissions rejected by the per-domain rate limiter.",
		},
	)
	m.robotsBlocksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_robots_txt_blocks_total",
			Help: "Fetches blocked by robots.txt policy.",
		},
	)
	m.securityBlocksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_security_blocks_total",
			Help: "Requests rejected by target policy (allowlist, blocked patterns).",
		},
	)
	m.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Jobs reaching a terminal status, labeled by status.",
		},
		[]string{"status"},
	)
	m.scrapeDurationSecs = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Histogram of end-to-end fetch durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	m.activeRenderSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_render_sessions",
			Help: "Render sessions currently checked out of the pool.",
		},
	)

	return m
}

// ObserveRequest counts a scrape fetch being initiated.
func (m *Metrics) ObserveRequest(platform string) {
	m.scrapeRequestsTotal.WithLabelValues(platform).Inc()
	m.mu.Lock()
	m.totalRequests++
	m.platformStats(platform).Requests++
	m.mu.Unlock()
}

// ObserveScrapeSuccess counts a finished fetch and its extracted reviews.
func (m *Metrics) ObserveScrapeSuccess(platform string, reviews int, duration time.Duration) {
	m.scrapesTotal.WithLabelValues(platform, "success").Inc()
	m.reviewsScrapedTotal.WithLabelValues(platform).Add(float64(reviews))
	m.scrapeDurationSecs.Observe(duration.Seconds())

	m.mu.Lock()
	m.successful++
	m.totalReviews += reviews
	m.platformStats(platform).Reviews += reviews
	m.responseTimes = append(m.responseTimes, duration.Seconds())
	if len(m.responseTimes) > maxTrackedResponseTimes {
		m.responseTimes = m.responseTimes[len(m.responseTimes)-maxTrackedResponseTimes:]
	}
	m.mu.Unlock()
}

// ObserveScrapeFailure counts a failed fetch with its error classification.
func (m *Metrics) ObserveScrapeFailure(platform, errType string) {
	m.scrapesTotal.WithLabelValues(platform, "failure").Inc()
	m.mu.Lock()
	m.failed++
	m.platformStats(platform).Failures++
	if errType != "" {
		m.errorTypes[errType]++
	}
	m.mu.Unlock()
}

// ObserveCacheHit counts a cache lookup that returned a live entry.
func (m *Metrics) ObserveCacheHit() {
	m.cacheRequestsTotal.WithLabelValues("hit").Inc()
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

// ObserveCacheMiss counts a cache lookup that required an upstream fetch.
func (m *Metrics) ObserveCacheMiss() {
	m.cacheRequestsTotal.WithLabelValues("miss").Inc()
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

// ObserveRateLimitHit counts a rejected rate-limiter admission.
func (m *Metrics) ObserveRateLimitHit() {
	m.rateLimitHitsTotal.Inc()
	m.mu.Lock()
	m.rateLimitHits++
	m.mu.Unlock()
}

// ObserveRobotsBlock counts a robots.txt denial.
func (m *Metrics) ObserveRobotsBlock() {
	m.robotsBlocksTotal.Inc()
	m.mu.Lock()
	m.robotsBlocks++
	m.mu.Unlock()
}

// ObserveSecurityBlock counts a target-policy rejection.
func (m *Metrics) ObserveSecurityBlock() {
	m.securityBlocksTotal.Inc()
	m.mu.Lock()
	m.secBlocks++
	m.mu.Unlock()
}

// ObserveJob counts a job reaching a terminal status.
func (m *Metrics) ObserveJob(status string) {
	m.jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveSessions marks a render session checked out.
func (m *Metrics) IncActiveSessions() {
	m.activeRenderSessions.Inc()
}

// DecActiveSessions marks a render session returned.
func (m *Metrics) DecActiveSessions() {
	m.activeRenderSessions.Dec()
}

// Snapshot builds the JSON counters document.
func (m *Metrics) Snapshot() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		TotalRequests:       m.totalRequests,
		SuccessfulScrapes:   m.successful,
		FailedScrapes:       m.failed,
		TotalReviewsScraped: m.totalReviews,
		CacheHits:           m.cacheHits,
		CacheMisses:         m.cacheMisses,
		RateLimitHits:       m.rateLimitHits,
		RobotsTxtBlocks:     m.robotsBlocks,
		SecurityBlocks:      m.secBlocks,
		PlatformStats:       make(map[string]PlatformStats, len(m.platforms)),
		ErrorTypes:          make(map[string]int, len(m.errorTypes)),
	}
	for name, stats := range m.platforms {
		s.PlatformStats[name] = *stats
	}
	for name, count := range m.errorTypes {
		s.ErrorTypes[name] = count
	}
	if finished := m.successful + m.failed; finished > 0 {
		s.SuccessRate = float64(m.successful) / float64(finished)
	}
	if lookups := m.cacheHits + m.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(m.cacheHits) / float64(lookups)
	}
	if len(m.responseTimes) > 0 {
		var sum float64
		for _, rt := range m.responseTimes {
			sum += rt
		}
		s.AvgResponseTime = sum / float64(len(m.responseTimes))
	}
	return s
}

// Handler returns an http.Handler exposing the Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// platformStats must be called with mu held.
func (m *Metrics) platformStats(platform string) *PlatformStats {
	if platform == "" {
		platform = "unknown"
	}
	stats, ok := m.platforms[platform]
	if !ok {
		stats = &PlatformStats{}
		m.platforms[platform] = stats
	}
	return stats
}
