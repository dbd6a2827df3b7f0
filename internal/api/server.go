// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/metrics"
	"github.com/reviewlens/reviewlens/internal/ratelimit"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

// Service is the orchestration surface the HTTP layer exposes.
type Service interface {
	Submit(ctx context.Context, target scraper.Target, maxPages int) (scraper.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Job(ctx context.Context, jobID string) (scraper.Job, error)
	Results(ctx context.Context, jobID string) ([]scraper.Review, error)
	ScrapeNow(ctx context.Context, rawURL string, maxPages int) ([]scraper.Review, error)
	ExtractBusiness(ctx context.Context, rawURL string) (scraper.BusinessInfo, error)
}

// Server wires HTTP handlers to the orchestrator and metrics.
type Server struct {
	router  chi.Router
	svc     Service
	metrics *metrics.Metrics
	clients *ratelimit.Limiter
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, m *metrics.Metrics, logger *zap.Logger, cfg config.ServerConfig) *Server {
	s := &Server{
		svc:     svc,
		metrics: m,
		clients: ratelimit.New(ratelimit.Limits{
			PerMinute: cfg.ClientRPM,
			Burst:     cfg.ClientBurst,
		}),
		logger: logger,
	}

	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	r.Use(s.rateLimitMiddleware)

	r.Get("/health", s.health)
	r.Get("/metrics", s.metricsDoc)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.submitJob)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/results", s.getResults)
			r.Delete("/", s.cancelJob)
		})
	})

	r.Post("/scrape", s.scrapeNow)
	r.Post("/extract", s.extractBusiness)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type jobRequest struct {
	URL          string `json:"url"`
	BusinessName string `json:"business_name"`
	Location     string `json:"location"`
	Platform     string `json:"platform"`
	MaxPages     int    `json:"max_pages"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if err := requireJSONBody(r); err != nil {
		s.writeDomainError(w, err)
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MaxPages == 0 {
		req.MaxPages = 1
	}
	target := scraper.Target{
		URL:          req.URL,
		BusinessName: req.BusinessName,
		Location:     req.Location,
		Platform:     scraper.Platform(req.Platform),
	}
	job, err := s.svc.Submit(r.Context(), target, req.MaxPages)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Job(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.svc.Results(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if reviews == nil {
		reviews = []scraper.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.svc.Cancel(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(scraper.JobStatusCancelled),
	})
}

func (s *Server) scrapeNow(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	maxPages := 1
	if raw := r.URL.Query().Get("max_pages"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_pages must be an integer")
			return
		}
		maxPages = n
	}
	reviews, err := s.svc.ScrapeNow(r.Context(), rawURL, maxPages)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if reviews == nil {
		reviews = []scraper.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) extractBusiness(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.ExtractBusiness(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "scraping",
	})
}

func (s *Server) metricsDoc(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// requireJSONBody rejects request bodies declared with a non-JSON media
// type. A missing Content-Type is accepted.
func requireJSONBody(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return scraper.ErrUnsupportedMedia
	}
	return nil
}

// writeDomainError maps pipeline errors onto HTTP statuses. Unrecognized
// errors become an opaque 500 so internals never leak to clients.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	if rle, ok := scraper.IsRateLimited(err); ok {
		secs := int(math.Ceil(rle.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"detail":      err.Error(),
			"retry_after": secs,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scraper.ErrValidation), errors.Is(err, scraper.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, scraper.ErrForbiddenTarget):
		status = http.StatusForbidden
	case errors.Is(err, scraper.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scraper.ErrUnsupportedMedia):
		status = http.StatusUnsupportedMediaType
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
