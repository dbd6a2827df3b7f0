package static

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// RobotsEnforcer answers robots.txt questions per host. Parsed rule
// sets are cached for the life of the process; fetch failures fail
// open so a flaky robots endpoint never stalls scraping.
type RobotsEnforcer struct {
	fetcher   scraper.StaticFetcher
	userAgent string
	logger    *zap.Logger
	cache     sync.Map
}

// NewRobotsPolicy builds a RobotsPolicy. With respect disabled it
// returns a policy that allows everything.
func NewRobotsPolicy(respect bool, fetcher scraper.StaticFetcher, userAgent string, logger *zap.Logger) scraper.RobotsPolicy {
	if !respect {
		return allowAllPolicy{}
	}
	return &RobotsEnforcer{fetcher: fetcher, userAgent: userAgent, logger: logger}
}

// Allowed implements scraper.RobotsPolicy.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed, allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := r.cache.Load(hostKey); ok {
		return cached.(*robotstxt.RobotsData), nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	status, body, err := r.fetcher.Fetch(ctx, robotsURL.String())
	if err != nil {
		return nil, err
	}
	if status == 0 {
		status = http.StatusOK
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, err
	}
	r.cache.Store(hostKey, data)
	return data, nil
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string) bool { return true }
