package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/metrics"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

type fakeService struct {
	submit  func(ctx context.Context, target scraper.Target, maxPages int) (scraper.Job, error)
	cancel  func(ctx context.Context, jobID string) error
	job     func(ctx context.Context, jobID string) (scraper.Job, error)
	results func(ctx context.Context, jobID string) ([]scraper.Review, error)
	scrape  func(ctx context.Context, rawURL string, maxPages int) ([]scraper.Review, error)
	extract func(ctx context.Context, rawURL string) (scraper.BusinessInfo, error)
}

func (f *fakeService) Submit(ctx context.Context, target scraper.Target, maxPages int) (scraper.Job, error) {
	return f.submit(ctx, target, maxPages)
}

func (f *fakeService) Cancel(ctx context.Context, jobID string) error {
	return f.cancel(ctx, jobID)
}

func (f *fakeService) Job(ctx context.Context, jobID string) (scraper.Job, error) {
	return f.job(ctx, jobID)
}

func (f *fakeService) Results(ctx context.Context, jobID string) ([]scraper.Review, error) {
	return f.results(ctx, jobID)
}

func (f *fakeService) ScrapeNow(ctx context.Context, rawURL string, maxPages int) ([]scraper.Review, error) {
	return f.scrape(ctx, rawURL, maxPages)
}

func (f *fakeService) ExtractBusiness(ctx context.Context, rawURL string) (scraper.BusinessInfo, error) {
	return f.extract(ctx, rawURL)
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:              8080,
		ClientRPM:         600,
		ClientBurst:       100,
		RequestTimeoutSec: 30,
	}
}

func newTestServer(svc *fakeService) *Server {
	return NewServer(svc, metrics.New(), zap.NewNop(), serverConfig())
}

func sampleReviews() []scraper.Review {
	return []scraper.Review{
		{
			Text:      "Great carnitas.",
			Rating:    5,
			Date:      "2024-03-01",
			Author:    "Alice",
			Platform:  scraper.PlatformYelp,
			SourceURL: "https://www.yelp.com/biz/taqueria-el-sol",
		},
	}
}

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	var gotTarget scraper.Target
	var gotPages int
	svc := &fakeService{
		submit: func(_ context.Context, target scraper.Target, maxPages int) (scraper.Job, error) {
			gotTarget = target
			gotPages = maxPages
			return scraper.Job{ID: "job-1", Status: scraper.JobStatusPending, Target: target}, nil
		},
	}
	server := newTestServer(svc)

	body := []byte(`{"url":"https://www.yelp.com/biz/taqueria-el-sol","max_pages":3}`)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job-1", resp["job_id"])
	require.Equal(t, "pending", resp["status"])
	require.Equal(t, "https://www.yelp.com/biz/taqueria-el-sol", gotTarget.URL)
	require.Equal(t, 3, gotPages)
}

func TestServer_SubmitJob_DefaultsMaxPages(t *testing.T) {
	t.Parallel()

	var gotPages int
	svc := &fakeService{
		submit: func(_ context.Context, target scraper.Target, maxPages int) (scraper.Job, error) {
			gotPages = maxPages
			return scraper.Job{ID: "job-2", Status: scraper.JobStatusPending}, nil
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/jobs",
		bytes.NewBufferString(`{"business_name":"Taqueria El Sol","location":"Austin, TX","platform":"yelp"}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, gotPages)
}

func TestServer_SubmitJob_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "detail")
}

func TestServer_SubmitJob_RejectsNonJSONContentType(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("url=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestServer_SubmitJob_ValidationAndForbidden(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", fmt.Errorf("%w: exactly one of url or business search", scraper.ErrValidation), http.StatusBadRequest},
		{"forbidden", fmt.Errorf("%w: domain evil.com", scraper.ErrForbiddenTarget), http.StatusForbidden},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{
				submit: func(context.Context, scraper.Target, int) (scraper.Job, error) {
					return scraper.Job{}, tc.err
				},
			}
			server := newTestServer(svc)
			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"url":"x"}`))
			rec := httptest.NewRecorder()

			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			require.Contains(t, rec.Body.String(), "detail")
		})
	}
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{
		job: func(_ context.Context, jobID string) (scraper.Job, error) {
			if jobID != "job-1" {
				return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
			}
			return scraper.Job{
				ID:        "job-1",
				Status:    scraper.JobStatusInProgress,
				MaxPages:  2,
				CreatedAt: created,
				Progress:  1,
			}, nil
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var job scraper.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, scraper.JobStatusInProgress, job.Status)
	require.Equal(t, 1, job.Progress)

	req = httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetResults(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		results: func(_ context.Context, jobID string) ([]scraper.Review, error) {
			switch jobID {
			case "done":
				return sampleReviews(), nil
			case "running":
				return nil, fmt.Errorf("%w: job running is in_progress, not completed", scraper.ErrValidation)
			default:
				return nil, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
			}
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/jobs/done/results", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reviews []scraper.Review
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reviews))
	require.Len(t, reviews, 1)
	require.Equal(t, "Alice", reviews[0].Author)

	req = httptest.NewRequest(http.MethodGet, "/jobs/running/results", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs/missing/results", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		cancel: func(_ context.Context, jobID string) error {
			switch jobID {
			case "job-1":
				return nil
			case "finished":
				return fmt.Errorf("%w: job finished is already completed", scraper.ErrInvalidState)
			default:
				return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
			}
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cancelled"`)

	req = httptest.NewRequest(http.MethodDelete, "/jobs/finished", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/jobs/missing", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ScrapeNow(t *testing.T) {
	t.Parallel()

	var gotURL string
	var gotPages int
	svc := &fakeService{
		scrape: func(_ context.Context, rawURL string, maxPages int) ([]scraper.Review, error) {
			gotURL = rawURL
			gotPages = maxPages
			return sampleReviews(), nil
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost,
		"/scrape?url=https%3A%2F%2Fwww.yelp.com%2Fbiz%2Ftaqueria-el-sol&max_pages=2", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://www.yelp.com/biz/taqueria-el-sol", gotURL)
	require.Equal(t, 2, gotPages)
	var reviews []scraper.Review
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reviews))
	require.Len(t, reviews, 1)
}

func TestServer_ScrapeNow_BadMaxPages(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/scrape?url=x&max_pages=lots", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "max_pages")
}

func TestServer_ScrapeNow_RateLimited(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		scrape: func(context.Context, string, int) ([]scraper.Review, error) {
			return nil, &scraper.RateLimitError{Domain: "www.yelp.com", RetryAfter: 42 * time.Second}
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/scrape?url=https%3A%2F%2Fwww.yelp.com%2Fbiz%2Fx", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "42", rec.Header().Get("Retry-After"))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 42, resp["retry_after"])
}

func TestServer_ExtractBusiness(t *testing.T) {
	t.Parallel()

	addr := "123 Main St"
	svc := &fakeService{
		extract: func(_ context.Context, rawURL string) (scraper.BusinessInfo, error) {
			return scraper.BusinessInfo{
				Name:       "Taqueria El Sol",
				Address:    &addr,
				Categories: []string{"Mexican"},
				URL:        rawURL,
			}, nil
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/extract?url=https%3A%2F%2Fwww.yelp.com%2Fbiz%2Fx", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info scraper.BusinessInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "Taqueria El Sol", info.Name)
	require.Equal(t, []string{"Mexican"}, info.Categories)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp["status"])
	require.Equal(t, "scraping", resp["service"])
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveRequest("yelp")
	m.ObserveScrapeSuccess("yelp", 4, 2*time.Second)
	server := NewServer(&fakeService{}, m, zap.NewNop(), serverConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary metrics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 1, summary.TotalRequests)
	require.Equal(t, 4, summary.TotalReviewsScraped)

	req = httptest.NewRequest(http.MethodGet, "/metrics?format=prometheus", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scraper_requests_total")
}

func TestServer_ClientRateLimit(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		scrape: func(context.Context, string, int) ([]scraper.Review, error) {
			return sampleReviews(), nil
		},
	}
	cfg := serverConfig()
	cfg.ClientBurst = 2
	server := NewServer(svc, metrics.New(), zap.NewNop(), cfg)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/scrape?url=https%3A%2F%2Fwww.yelp.com%2Fbiz%2Fx", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		rec = httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, "600", rec.Header().Get("X-RateLimit-Limit"))
		require.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
		require.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "retry_after")

	// probes stay exempt from the client budget
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
