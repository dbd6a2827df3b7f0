// Package orchestrator sequences the scrape pipeline: job lifecycle,
// rate-limit admission, cache single-flight, render pool checkout,
// extraction and result persistence. All status transitions flow
// through here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/cache"
	"github.com/reviewlens/reviewlens/internal/extract"
	"github.com/reviewlens/reviewlens/internal/metrics"
	"github.com/reviewlens/reviewlens/internal/ratelimit"
	"github.com/reviewlens/reviewlens/internal/renderpool"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

// completionTopic is the event topic for finished jobs.
const completionTopic = "jobs.finished"

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Reviews int    `json:"reviews"`
	Error   string `json:"error,omitempty"`
}

// Config tunes orchestrator behavior.
type Config struct {
	Workers     int
	MaxRequeues int
	PageTimeout time.Duration
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Store      scraper.JobStore
	Queue      scraper.Queue
	Limiter    *ratelimit.Limiter
	Cache      *cache.Cache
	Pool       *renderpool.Pool
	Static     scraper.StaticFetcher
	Robots     scraper.RobotsPolicy
	Normalizer *extract.Normalizer
	Retry      scraper.RetryPolicy
	Publisher  scraper.Publisher
	IDs        scraper.IDGenerator
	Clock      scraper.Clock
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Orchestrator runs the job state machine and the scrape pipeline.
type Orchestrator struct {
	cfg  Config
	deps Deps

	runCtx context.Context
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator. Start must be called before jobs run.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker goroutines. They exit when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runCtx = ctx
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func(id int) {
			defer o.wg.Done()
			o.workerLoop(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Submit validates the target, persists a pending job and enqueues it.
func (o *Orchestrator) Submit(ctx context.Context, target scraper.Target, maxPages int) (scraper.Job, error) {
	if err := scraper.ValidateTarget(target, maxPages); err != nil {
		if errors.Is(err, scraper.ErrForbiddenTarget) {
			o.deps.Metrics.ObserveSecurityBlock()
		}
		return scraper.Job{}, err
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scraper.Job{
		ID:        id,
		Status:    scraper.JobStatusPending,
		Target:    target,
		MaxPages:  maxPages,
		CreatedAt: o.deps.Clock.Now(),
	}
	if err := o.deps.Store.CreateJob(ctx, job); err != nil {
		return scraper.Job{}, err
	}
	if err := o.deps.Queue.Enqueue(ctx, scraper.QueueItem{
		JobID:     job.ID,
		Submitted: job.CreatedAt.Unix(),
	}); err != nil {
		// the job exists but cannot run; fail it rather than strand it
		_ = o.deps.Store.UpdateStatus(ctx, job.ID, scraper.JobStatusFailed, "internal_error")
		return scraper.Job{}, err
	}

	o.deps.Logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.Bool("search", target.IsSearch()),
		zap.Int("max_pages", maxPages))
	return job, nil
}

// Cancel moves a pending or running job to cancelled and interrupts its
// work at the next page boundary.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", scraper.ErrInvalidState, jobID, job.Status)
	}
	if err := o.deps.Store.UpdateStatus(ctx, jobID, scraper.JobStatusCancelled, ""); err != nil {
		return err
	}

	o.mu.Lock()
	cancel, running := o.cancels[jobID]
	o.mu.Unlock()
	if running {
		cancel()
	}

	o.deps.Metrics.ObserveJob(string(scraper.JobStatusCancelled))
	o.deps.Logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// Job returns the stored job record.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (scraper.Job, error) {
	return o.deps.Store.GetJob(ctx, jobID)
}

// Results returns a completed job's reviews. Asking for results of an
// unfinished job is a validation error.
func (o *Orchestrator) Results(ctx context.Context, jobID string) ([]scraper.Review, error) {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != scraper.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s, not completed", scraper.ErrValidation, jobID, job.Status)
	}
	return o.deps.Store.Results(ctx, jobID)
}

func (o *Orchestrator) registerCancel(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterCancel(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID int) {
	logger := o.deps.Logger.With(zap.Int("worker", workerID))
	for {
		item, err := o.deps.Queue.Dequeue(ctx)
		if err != nil {
			logger.Debug("worker exiting", zap.Error(err))
			return
		}
		o.process(ctx, item)
	}
}
