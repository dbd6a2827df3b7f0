package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// UserAgent identifies the service to target sites.
const UserAgent = "Mozilla/5.0 (compatible; ReviewLensBot/1.0; +https://example.com/bot)"

// Bounds on job parameters.
const (
	MinPages     = 1
	MaxPages     = 20
	maxURLLength = 2048
)

// allowedDomains are the review sites the service will touch. Subdomains of
// each entry are allowed too.
var allowedDomains = map[string]struct{}{
	"yelp.com":        {},
	"www.yelp.com":    {},
	"google.com":      {},
	"www.google.com":  {},
	"maps.google.com": {},
	"tripadvisor.com": {},
	"www.tripadvisor.com": {},
}

// blockedPatterns reject URLs that are never legitimate scrape targets.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.(exe|dll|bat|cmd|sh|ps1)$`),
	regexp.MustCompile(`/(admin|login|auth|api-key|token)`),
	regexp.MustCompile(`\.(zip|tar|gz|rar|7z)$`),
	regexp.MustCompile(`^file://`),
	regexp.MustCompile(`localhost`),
	regexp.MustCompile(`127\.0\.0\.1`),
	regexp.MustCompile(`::1`),
	regexp.MustCompile(`\.(onion|i2p)$`),
}

// ValidateTarget checks that exactly one target form is present and that
// the form is internally valid. It does not check the allowlist; use
// ValidateURL for that.
func ValidateTarget(t Target, maxPages int) error {
	hasURL := t.URL != ""
	hasSearch := t.BusinessName != "" || t.Location != "" || t.Platform != ""
	switch {
	case hasURL && hasSearch:
		return fmt.Errorf("%w: provide either url or business search fields, not both", ErrValidation)
	case !hasURL && !hasSearch:
		return fmt.Errorf("%w: either url or business_name/location/platform is required", ErrValidation)
	case hasSearch && (t.BusinessName == "" || t.Location == "" || t.Platform == ""):
		return fmt.Errorf("%w: business_name, location and platform are all required for search", ErrValidation)
	case hasSearch && !KnownPlatform(t.Platform):
		return fmt.Errorf("%w: invalid platform %q, must be one of yelp, google, tripadvisor", ErrValidation, t.Platform)
	}
	if maxPages < MinPages || maxPages > MaxPages {
		return fmt.Errorf("%w: max_pages must be between %d and %d", ErrValidation, MinPages, MaxPages)
	}
	if hasURL {
		return ValidateURL(t.URL)
	}
	return nil
}

// ValidateURL enforces scheme, length, the domain allowlist and the blocked
// URL patterns. Violations map to validation or forbidden-target errors.
func ValidateURL(rawURL string) error {
	if rawURL == "" || len(rawURL) > maxURLLength {
		return fmt.Errorf("%w: invalid URL length", ErrValidation)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrValidation)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: only HTTP/HTTPS URLs are allowed", ErrValidation)
	}
	host := strings.ToLower(parsed.Hostname())
	if !domainAllowed(host) {
		return fmt.Errorf("%w: domain %s is not in the allowed list", ErrForbiddenTarget, host)
	}
	lower := strings.ToLower(rawURL)
	for _, pattern := range blockedPatterns {
		if pattern.MatchString(lower) {
			return fmt.Errorf("%w: URL matches blocked pattern", ErrForbiddenTarget)
		}
	}
	return nil
}

func domainAllowed(host string) bool {
	if _, ok := allowedDomains[host]; ok {
		return true
	}
	for allowed := range allowedDomains {
		if strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// Domain extracts the lowercase hostname used for rate-limit bucketing.
// It returns "unknown" for unparseable URLs.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Hostname())
}

// PlatformFromURL maps a review-site URL to its platform.
func PlatformFromURL(rawURL string) (Platform, error) {
	host := Domain(rawURL)
	switch {
	case strings.Contains(host, "yelp"):
		return PlatformYelp, nil
	case strings.Contains(host, "google"):
		return PlatformGoogle, nil
	case strings.Contains(host, "tripadvisor"):
		return PlatformTripAdvisor, nil
	default:
		return "", fmt.Errorf("%w: unsupported platform for %s", ErrValidation, host)
	}
}
