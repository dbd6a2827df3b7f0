package scraper

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced by the orchestration pipeline. Transient kinds
// (render failures, pool exhaustion) are retried locally and only escape
// once attempts are exhausted; user-input kinds surface immediately.
var (
	ErrValidation       = errors.New("validation error")
	ErrForbiddenTarget  = errors.New("target not allowed")
	ErrNotFound         = errors.New("not found")
	ErrPoolExhausted    = errors.New("render pool exhausted")
	ErrRenderFailure    = errors.New("render failure")
	ErrParsingFailure   = errors.New("parsing failure")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrInvalidState     = errors.New("invalid job state")
)

// RateLimitError reports a rejected admission together with the delay the
// limiter advises before the next attempt.
type RateLimitError struct {
	Domain     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Domain, e.RetryAfter)
}

// IsRateLimited extracts a RateLimitError from an error chain.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// Classify maps an error chain to the short classification string recorded
// on failed jobs and counted in metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrForbiddenTarget):
		return "forbidden_target"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, ErrRenderFailure):
		return "render_failure"
	case errors.Is(err, ErrParsingFailure):
		return "parsing_failure"
	case errors.Is(err, ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		if _, ok := IsRateLimited(err); ok {
			return "rate_limit_exceeded"
		}
		return "internal_error"
	}
}
