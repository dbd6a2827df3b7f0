package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/cache"
	"github.com/reviewlens/reviewlens/internal/extract"
	"github.com/reviewlens/reviewlens/internal/renderpool"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

// minRequeueDelay floors the wait before a rate-limited job runs again.
const minRequeueDelay = time.Second

// process runs one dequeued job end to end.
func (o *Orchestrator) process(ctx context.Context, item scraper.QueueItem) {
	logger := o.deps.Logger.With(zap.String("job_id", item.JobID))

	job, err := o.deps.Store.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Warn("dequeued unknown job", zap.Error(err))
		return
	}
	if job.Status != scraper.JobStatusPending {
		// cancelled while queued
		return
	}
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scraper.JobStatusInProgress, ""); err != nil {
		logger.Debug("job no longer runnable", zap.Error(err))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.registerCancel(job.ID, cancel)
	defer func() {
		o.unregisterCancel(job.ID)
		cancel()
	}()

	targetURL, platform, err := o.resolveTarget(jobCtx, job.Target)
	if err != nil {
		o.fail(ctx, job, err)
		return
	}

	if rle := o.deps.Limiter.Admit(scraper.Domain(targetURL)); rle != nil {
		o.deps.Metrics.ObserveRateLimitHit()
		o.requeue(ctx, job, item, rle)
		return
	}

	if !o.deps.Robots.Allowed(jobCtx, targetURL) {
		o.deps.Metrics.ObserveRobotsBlock()
		o.fail(ctx, job, fmt.Errorf("%w: disallowed by robots.txt", scraper.ErrForbiddenTarget))
		return
	}

	reviews, hit, err := o.cachedReviews(jobCtx, job.ID, targetURL, platform, job.MaxPages)
	if err != nil {
		if errors.Is(err, context.Canceled) && jobCtx.Err() != nil {
			// Cancel already moved the job to its terminal state
			return
		}
		o.fail(ctx, job, err)
		return
	}
	if hit {
		o.deps.Metrics.ObserveCacheHit()
	} else {
		o.deps.Metrics.ObserveCacheMiss()
	}

	_ = o.deps.Store.SetProgress(ctx, job.ID, 100)
	if err := o.deps.Store.SetResults(ctx, job.ID, reviews); err != nil {
		o.fail(ctx, job, err)
		return
	}
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scraper.JobStatusCompleted, ""); err != nil {
		logger.Debug("job finished but not completable", zap.Error(err))
		return
	}

	o.deps.Metrics.ObserveJob(string(scraper.JobStatusCompleted))
	o.publish(JobEvent{JobID: job.ID, Status: string(scraper.JobStatusCompleted), Reviews: len(reviews)})
	logger.Info("job completed", zap.Int("reviews", len(reviews)), zap.Bool("cache_hit", hit))
}

// requeue returns a rate-limited job to pending and schedules another
// attempt after the advised delay.
func (o *Orchestrator) requeue(ctx context.Context, job scraper.Job, item scraper.QueueItem, rle *scraper.RateLimitError) {
	if item.Attempt >= o.cfg.MaxRequeues {
		o.fail(ctx, job, rle)
		return
	}
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scraper.JobStatusPending, ""); err != nil {
		return
	}

	delay := rle.RetryAfter
	if delay < minRequeueDelay {
		delay = minRequeueDelay
	}
	next := scraper.QueueItem{JobID: job.ID, Attempt: item.Attempt + 1, Submitted: item.Submitted}
	o.deps.Logger.Info("job rate limited, requeueing",
		zap.String("job_id", job.ID),
		zap.String("domain", rle.Domain),
		zap.Duration("delay", delay),
		zap.Int("attempt", next.Attempt))

	time.AfterFunc(delay, func() {
		runCtx := o.runCtx
		if runCtx == nil {
			runCtx = context.Background()
		}
		if err := o.deps.Queue.Enqueue(runCtx, next); err != nil {
			o.deps.Logger.Warn("requeue failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	})
}

// fail moves a job to failed with its error classification.
func (o *Orchestrator) fail(ctx context.Context, job scraper.Job, cause error) {
	classification := scraper.Classify(cause)
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scraper.JobStatusFailed, classification); err != nil {
		// lost a race with Cancel; the terminal state stands
		return
	}
	o.deps.Metrics.ObserveJob(string(scraper.JobStatusFailed))
	o.publish(JobEvent{JobID: job.ID, Status: string(scraper.JobStatusFailed), Error: classification})
	o.deps.Logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("classification", classification),
		zap.Error(cause))
}

func (o *Orchestrator) publish(event JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.deps.Publisher.Publish(ctx, completionTopic, event); err != nil {
		o.deps.Logger.Warn("publish job event", zap.String("job_id", event.JobID), zap.Error(err))
	}
}

// resolveTarget turns a job target into a concrete review-page URL.
// Search tuples are resolved through the platform's search page.
func (o *Orchestrator) resolveTarget(ctx context.Context, target scraper.Target) (string, scraper.Platform, error) {
	if !target.IsSearch() {
		platform, err := scraper.PlatformFromURL(target.URL)
		if err != nil {
			return "", "", err
		}
		return target.URL, platform, nil
	}

	searchURL, err := extract.SearchURL(target.Platform, target.BusinessName, target.Location)
	if err != nil {
		return "", "", err
	}
	status, body, err := o.deps.Static.Fetch(ctx, searchURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: search fetch: %v", scraper.ErrRenderFailure, err)
	}
	if status >= 400 {
		return "", "", fmt.Errorf("%w: search page returned status %d", scraper.ErrNotFound, status)
	}
	resultURL, err := o.deps.Normalizer.FirstResultURL(target.Platform, string(body))
	if err != nil {
		return "", "", err
	}
	if err := scraper.ValidateURL(resultURL); err != nil {
		o.deps.Metrics.ObserveSecurityBlock()
		return "", "", err
	}
	return resultURL, target.Platform, nil
}

// cachedReviews fetches reviews through the cache; concurrent calls
// with equal keys share one underlying scrape.
func (o *Orchestrator) cachedReviews(ctx context.Context, jobID, targetURL string, platform scraper.Platform, maxPages int) ([]scraper.Review, bool, error) {
	key := cache.Key(map[string]string{
		"op":        "reviews",
		"platform":  string(platform),
		"url":       targetURL,
		"max_pages": strconv.Itoa(maxPages),
	})
	payload, hit, err := o.deps.Cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		reviews, err := o.scrapeReviews(ctx, jobID, targetURL, platform, maxPages)
		if err != nil {
			return nil, err
		}
		return json.Marshal(reviews)
	})
	if err != nil {
		return nil, false, err
	}
	var reviews []scraper.Review
	if err := json.Unmarshal(payload, &reviews); err != nil {
		return nil, false, fmt.Errorf("decode cached reviews: %w", err)
	}
	return reviews, hit, nil
}

// scrapeReviews renders and extracts up to maxPages of reviews. The
// first page must succeed; later page failures stop pagination and
// keep what was collected.
func (o *Orchestrator) scrapeReviews(ctx context.Context, jobID, targetURL string, platform scraper.Platform, maxPages int) ([]scraper.Review, error) {
	o.deps.Metrics.ObserveRequest(string(platform))
	start := time.Now()

	session, err := o.acquireSession(ctx)
	if err != nil {
		o.deps.Metrics.ObserveScrapeFailure(string(platform), scraper.Classify(err))
		return nil, err
	}
	crashed := false
	defer func() {
		if session != nil {
			o.deps.Pool.Release(session, crashed)
		}
	}()

	pages := maxPages
	if extract.SinglePage(platform) {
		pages = 1
	}

	var all []scraper.Review
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			crashed = true
			return nil, err
		}
		pageURL, err := extract.PageURL(platform, targetURL, page)
		if err != nil {
			o.deps.Metrics.ObserveScrapeFailure(string(platform), scraper.Classify(err))
			return nil, err
		}

		html, next, err := o.renderPage(ctx, session, pageURL)
		session = next
		if err != nil {
			crashed = true
			if page == 1 {
				o.deps.Metrics.ObserveScrapeFailure(string(platform), scraper.Classify(err))
				return nil, err
			}
			o.deps.Logger.Warn("page render failed, keeping earlier pages",
				zap.String("url", pageURL), zap.Int("page", page), zap.Error(err))
			break
		}

		reviews, skipped, err := o.deps.Normalizer.Reviews(platform, html, pageURL)
		if err != nil {
			if page == 1 {
				o.deps.Metrics.ObserveScrapeFailure(string(platform), scraper.Classify(err))
				return nil, err
			}
			o.deps.Logger.Warn("page yielded no reviews, stopping pagination",
				zap.String("url", pageURL), zap.Int("page", page), zap.Error(err))
			break
		}
		if skipped > 0 {
			o.deps.Logger.Debug("skipped malformed review blocks",
				zap.String("url", pageURL), zap.Int("skipped", skipped))
		}

		all = append(all, reviews...)
		if jobID != "" {
			_ = o.deps.Store.SetProgress(ctx, jobID, page*100/pages)
		}
	}

	all = scraper.DeduplicateReviews(all)
	o.deps.Metrics.ObserveScrapeSuccess(string(platform), len(all), time.Since(start))
	return all, nil
}

// acquireSession checks out a render slot, retrying transient
// exhaustion per the retry policy.
func (o *Orchestrator) acquireSession(ctx context.Context) (*renderpool.Session, error) {
	for attempt := 1; ; attempt++ {
		session, err := o.deps.Pool.Acquire(ctx)
		if err == nil {
			return session, nil
		}
		if !o.deps.Retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		select {
		case <-time.After(o.deps.Retry.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// renderPage renders one page with a per-page deadline. A failed
// attempt discards its session and retries on a fresh one per the
// retry policy, so a crashed browser never serves the next attempt.
// The returned session replaces the caller's; it is nil when the
// final error left no session checked out.
func (o *Orchestrator) renderPage(ctx context.Context, session *renderpool.Session, pageURL string) (string, *renderpool.Session, error) {
	for attempt := 1; ; attempt++ {
		pageCtx, cancel := context.WithTimeout(ctx, o.cfg.PageTimeout)
		html, err := session.Render(pageCtx, pageURL)
		cancel()
		if err == nil {
			return html, session, nil
		}
		if !o.deps.Retry.ShouldRetry(err, attempt) {
			return "", session, err
		}
		o.deps.Logger.Debug("retrying page render on a fresh session",
			zap.String("url", pageURL), zap.Int("attempt", attempt), zap.Error(err))
		o.deps.Pool.Release(session, true)
		session = nil
		select {
		case <-time.After(o.deps.Retry.Backoff(attempt)):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
		session, err = o.acquireSession(ctx)
		if err != nil {
			return "", nil, err
		}
	}
}
