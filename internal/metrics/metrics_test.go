package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRates(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRequest("yelp")
	m.ObserveRequest("google")
	m.ObserveRequest("yelp")
	m.ObserveScrapeSuccess("yelp", 12, 2*time.Second)
	m.ObserveScrapeSuccess("google", 8, 4*time.Second)
	m.ObserveScrapeFailure("yelp", "render_failure")
	m.ObserveCacheHit()
	m.ObserveCacheHit()
	m.ObserveCacheMiss()
	m.ObserveRateLimitHit()
	m.ObserveRobotsBlock()
	m.ObserveSecurityBlock()

	s := m.Snapshot()
	require.Equal(t, 3, s.TotalRequests)
	require.Equal(t, 2, s.SuccessfulScrapes)
	require.Equal(t, 1, s.FailedScrapes)
	require.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	require.Equal(t, 20, s.TotalReviewsScraped)
	require.InDelta(t, 3.0, s.AvgResponseTime, 1e-9)
	require.Equal(t, 2, s.CacheHits)
	require.Equal(t, 1, s.CacheMisses)
	require.InDelta(t, 2.0/3.0, s.CacheHitRate, 1e-9)
	require.Equal(t, 1, s.RateLimitHits)
	require.Equal(t, 1, s.RobotsTxtBlocks)
	require.Equal(t, 1, s.SecurityBlocks)

	require.Equal(t, 2, s.PlatformStats["yelp"].Requests)
	require.Equal(t, 12, s.PlatformStats["yelp"].Reviews)
	require.Equal(t, 1, s.PlatformStats["yelp"].Failures)
	require.Equal(t, 1, s.PlatformStats["google"].Requests)
	require.Equal(t, 1, s.ErrorTypes["render_failure"])
}

func TestSnapshotEmpty(t *testing.T) {
	t.Parallel()

	s := New().Snapshot()
	require.Zero(t, s.TotalRequests)
	require.Zero(t, s.SuccessRate)
	require.Zero(t, s.CacheHitRate)
	require.Zero(t, s.AvgResponseTime)
	require.Empty(t, s.PlatformStats)
	require.Empty(t, s.ErrorTypes)
}

func TestUnknownPlatformBucket(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRequest("")
	s := m.Snapshot()
	require.Equal(t, 1, s.PlatformStats["unknown"].Requests)
}

func TestHandlerExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRequest("yelp")
	m.ObserveScrapeSuccess("yelp", 5, time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "scraper_requests_total")
	require.Contains(t, body, `scraper_scrapes_total{outcome="success",platform="yelp"} 1`)
}
