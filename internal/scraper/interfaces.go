package scraper

import (
	"context"
	"time"
)

// JobStore persists jobs and their results. All status mutation flows
// through the orchestrator; the store validates lifecycle transitions and
// rejects any that would leave a terminal state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	SetProgress(ctx context.Context, jobID string, progress int) error
	SetResults(ctx context.Context, jobID string, reviews []Review) error
	Results(ctx context.Context, jobID string) ([]Review, error)
}

// Renderer is the external rendering collaborator: it loads a URL in a
// browser session and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// RendererFactory creates fresh renderer sessions for the pool.
type RendererFactory interface {
	NewRenderer(ctx context.Context) (Renderer, error)
}

// StaticFetcher performs plain HTTP fetches (robots.txt, search pages)
// without a browser.
type StaticFetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// RobotsPolicy answers whether a URL may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Publisher pushes job completion events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Queue provides enqueue/dequeue semantics for job dispatch.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RetryPolicy governs per-page retry behavior.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}
