package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reviewlens/reviewlens/internal/cache"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

// ScrapeNow scrapes a URL synchronously, bypassing the job queue but
// sharing the rate limiter, robots gate, cache and render pool with
// asynchronous jobs.
func (o *Orchestrator) ScrapeNow(ctx context.Context, rawURL string, maxPages int) ([]scraper.Review, error) {
	if err := scraper.ValidateURL(rawURL); err != nil {
		if errors.Is(err, scraper.ErrForbiddenTarget) {
			o.deps.Metrics.ObserveSecurityBlock()
		}
		return nil, err
	}
	if maxPages < scraper.MinPages || maxPages > scraper.MaxPages {
		return nil, fmt.Errorf("%w: max_pages must be between %d and %d",
			scraper.ErrValidation, scraper.MinPages, scraper.MaxPages)
	}
	platform, err := scraper.PlatformFromURL(rawURL)
	if err != nil {
		return nil, err
	}

	if rle := o.deps.Limiter.Admit(scraper.Domain(rawURL)); rle != nil {
		o.deps.Metrics.ObserveRateLimitHit()
		return nil, rle
	}
	if !o.deps.Robots.Allowed(ctx, rawURL) {
		o.deps.Metrics.ObserveRobotsBlock()
		return nil, fmt.Errorf("%w: disallowed by robots.txt", scraper.ErrForbiddenTarget)
	}

	reviews, hit, err := o.cachedReviews(ctx, "", rawURL, platform, maxPages)
	if err != nil {
		return nil, err
	}
	if hit {
		o.deps.Metrics.ObserveCacheHit()
	} else {
		o.deps.Metrics.ObserveCacheMiss()
	}
	return reviews, nil
}

// ExtractBusiness renders a business page and returns its profile.
func (o *Orchestrator) ExtractBusiness(ctx context.Context, rawURL string) (scraper.BusinessInfo, error) {
	if err := scraper.ValidateURL(rawURL); err != nil {
		if errors.Is(err, scraper.ErrForbiddenTarget) {
			o.deps.Metrics.ObserveSecurityBlock()
		}
		return scraper.BusinessInfo{}, err
	}
	platform, err := scraper.PlatformFromURL(rawURL)
	if err != nil {
		return scraper.BusinessInfo{}, err
	}

	if rle := o.deps.Limiter.Admit(scraper.Domain(rawURL)); rle != nil {
		o.deps.Metrics.ObserveRateLimitHit()
		return scraper.BusinessInfo{}, rle
	}
	if !o.deps.Robots.Allowed(ctx, rawURL) {
		o.deps.Metrics.ObserveRobotsBlock()
		return scraper.BusinessInfo{}, fmt.Errorf("%w: disallowed by robots.txt", scraper.ErrForbiddenTarget)
	}

	key := cache.Key(map[string]string{
		"op":       "business",
		"platform": string(platform),
		"url":      rawURL,
	})
	payload, hit, err := o.deps.Cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		info, err := o.renderBusiness(ctx, rawURL, platform)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)
	})
	if err != nil {
		return scraper.BusinessInfo{}, err
	}
	if hit {
		o.deps.Metrics.ObserveCacheHit()
	} else {
		o.deps.Metrics.ObserveCacheMiss()
	}

	var info scraper.BusinessInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return scraper.BusinessInfo{}, fmt.Errorf("decode cached business info: %w", err)
	}
	return info, nil
}

func (o *Orchestrator) renderBusiness(ctx context.Context, rawURL string, platform scraper.Platform) (scraper.BusinessInfo, error) {
	session, err := o.acquireSession(ctx)
	if err != nil {
		return scraper.BusinessInfo{}, err
	}
	crashed := false
	defer func() {
		if session != nil {
			o.deps.Pool.Release(session, crashed)
		}
	}()

	html, next, err := o.renderPage(ctx, session, rawURL)
	session = next
	if err != nil {
		crashed = true
		return scraper.BusinessInfo{}, err
	}
	return o.deps.Normalizer.Business(platform, html, rawURL)
}
