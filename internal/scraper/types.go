// Package scraper defines core types shared across subsystems.
package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// JobStatus represents the lifecycle state of a scraping job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusInProgress || next == JobStatusCancelled ||
			next == JobStatusFailed || next == JobStatusPending
	case JobStatusInProgress:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusCancelled || next == JobStatusPending
	default:
		return false
	}
}

// Platform identifies a supported review site.
type Platform string

// Supported platforms. The set is closed; dispatch happens through
// per-platform normalizer tables rather than open-ended inheritance.
const (
	PlatformYelp        Platform = "yelp"
	PlatformGoogle      Platform = "google"
	PlatformTripAdvisor Platform = "tripadvisor"
)

// KnownPlatform reports whether p is one of the supported platforms.
func KnownPlatform(p Platform) bool {
	switch p {
	case PlatformYelp, PlatformGoogle, PlatformTripAdvisor:
		return true
	default:
		return false
	}
}

// Target describes what a job should scrape: either a direct URL or a
// (business, location, platform) search tuple. Exactly one form is set.
type Target struct {
	URL          string   `json:"url,omitempty"`
	BusinessName string   `json:"business_name,omitempty"`
	Location     string   `json:"location,omitempty"`
	Platform     Platform `json:"platform,omitempty"`
}

// IsSearch reports whether the target is a business search tuple.
func (t Target) IsSearch() bool {
	return t.URL == "" && t.BusinessName != ""
}

// Job represents the metadata persisted for each submitted scrape request.
// Results are stored separately and referenced by ResultKey.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Target      Target     `json:"target"`
	MaxPages    int        `json:"max_pages"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	ResultKey   string     `json:"result_key,omitempty"`
}

// Review is a normalized review record. Produced only by the extraction
// normalizer; immutable once created.
type Review struct {
	Text      string   `json:"text"`
	Rating    float64  `json:"rating"`
	Date      string   `json:"date"`
	Author    string   `json:"author"`
	Platform  Platform `json:"platform"`
	SourceURL string   `json:"url"`
	Response  *string  `json:"response,omitempty"`
}

// Hash returns the dedup fingerprint for the review (author + text).
func (r Review) Hash() string {
	sum := sha256.Sum256([]byte(r.Author + ":" + r.Text))
	return hex.EncodeToString(sum[:])
}

// BusinessInfo is a normalized business profile record.
type BusinessInfo struct {
	Name        string   `json:"name"`
	Address     *string  `json:"address,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	Categories  []string `json:"categories"`
	URL         string   `json:"url"`
}

// DeduplicateReviews removes reviews whose author+text fingerprint repeats,
// preserving first-seen order.
func DeduplicateReviews(reviews []Review) []Review {
	if len(reviews) < 2 {
		return reviews
	}
	seen := make(map[string]struct{}, len(reviews))
	out := reviews[:0]
	for _, r := range reviews {
		h := r.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, r)
	}
	return out
}
