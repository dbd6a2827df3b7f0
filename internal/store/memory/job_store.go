// Package memory implements the job store with process-local maps.
// It is the default backend and the reference for transition rules.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// JobStore keeps jobs and results in memory, guarded by one mutex.
type JobStore struct {
	clock scraper.Clock

	mu      sync.RWMutex
	jobs    map[string]scraper.Job
	results map[string][]scraper.Review
}

// New creates an empty JobStore.
func New(clock scraper.Clock) *JobStore {
	return &JobStore{
		clock:   clock,
		jobs:    make(map[string]scraper.Job),
		results: make(map[string][]scraper.Review),
	}
}

// CreateJob implements scraper.JobStore.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", scraper.ErrInvalidState, job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob implements scraper.JobStore.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	return job, nil
}

// UpdateStatus implements scraper.JobStore. Transitions out of terminal
// states are rejected; moving to in_progress stamps StartedAt and
// reaching a terminal state stamps CompletedAt.
func (s *JobStore) UpdateStatus(_ context.Context, jobID string, status scraper.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("%w: cannot transition job %s from %s to %s",
			scraper.ErrInvalidState, jobID, job.Status, status)
	}

	now := s.clock.Now()
	job.Status = status
	job.Error = errText
	if status == scraper.JobStatusInProgress && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}
	s.jobs[jobID] = job
	return nil
}

// SetProgress implements scraper.JobStore. Progress only moves forward.
func (s *JobStore) SetProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if progress > job.Progress {
		job.Progress = progress
		s.jobs[jobID] = job
	}
	return nil
}

// SetResults implements scraper.JobStore.
func (s *JobStore) SetResults(_ context.Context, jobID string, reviews []scraper.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	s.results[jobID] = append([]scraper.Review(nil), reviews...)
	job.ResultKey = jobID
	s.jobs[jobID] = job
	return nil
}

// Results implements scraper.JobStore.
func (s *JobStore) Results(_ context.Context, jobID string) ([]scraper.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	reviews, ok := s.results[jobID]
	if !ok {
		return nil, nil
	}
	return append([]scraper.Review(nil), reviews...), nil
}
