// Package ratelimit provides a keyed, non-blocking admission limiter.
// The scrape pipeline keys it by target domain; the HTTP layer keys it
// by client address. Each key gets three tiers: a token bucket refilled
// continuously over a minute, a short anti-burst window, and an hourly
// cap.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// burstWindow is the span over which the Burst limit applies.
const burstWindow = 5 * time.Second

// Limits configures the per-key admission tiers. A zero value disables
// that tier.
type Limits struct {
	PerMinute int
	PerHour   int
	Burst     int
}

// Limiter admits or rejects requests per key without blocking.
type Limiter struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	minute   *rate.Limiter
	burstHit []time.Time
	hourHit  []time.Time
}

// New creates a Limiter with the given per-key limits.
func New(limits Limits) *Limiter {
	return &Limiter{
		limits:  limits,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Admit consumes one admission for key. It returns nil when admitted,
// or a RateLimitError carrying the wait until the next slot opens.
// Admit never blocks.
func (l *Limiter) Admit(key string) *scraper.RateLimitError {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucket(key)
	b.prune(now)

	if l.limits.PerHour > 0 && len(b.hourHit) >= l.limits.PerHour {
		return &scraper.RateLimitError{
			Domain:     key,
			RetryAfter: b.hourHit[0].Add(time.Hour).Sub(now),
		}
	}
	if l.limits.Burst > 0 && len(b.burstHit) >= l.limits.Burst {
		return &scraper.RateLimitError{
			Domain:     key,
			RetryAfter: b.burstHit[0].Add(burstWindow).Sub(now),
		}
	}
	if b.minute != nil {
		res := b.minute.ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			return &scraper.RateLimitError{Domain: key, RetryAfter: delay}
		}
	}

	b.burstHit = append(b.burstHit, now)
	b.hourHit = append(b.hourHit, now)
	return nil
}

// Remaining reports how many admissions key has left in the current
// minute, floored at zero.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucket(key)
	if b.minute == nil {
		return l.limits.PerMinute
	}
	tokens := int(b.minute.TokensAt(l.now()))
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Limit returns the configured per-minute limit.
func (l *Limiter) Limit() int {
	return l.limits.PerMinute
}

func (l *Limiter) bucket(key string) *bucket {
	b, ok := l.buckets[key]
	if ok {
		return b
	}
	b = &bucket{}
	if l.limits.PerMinute > 0 {
		burst := l.limits.Burst
		if burst <= 0 || burst > l.limits.PerMinute {
			burst = l.limits.PerMinute
		}
		b.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.limits.PerMinute)), burst)
	}
	l.buckets[key] = b
	return b
}

func (b *bucket) prune(now time.Time) {
	b.burstHit = trimBefore(b.burstHit, now.Add(-burstWindow))
	b.hourHit = trimBefore(b.hourHit, now.Add(-time.Hour))
}

func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
