package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// reviewsPerPage is the review page stride shared by Yelp and
// TripAdvisor listings.
const reviewsPerPage = 10

// PageURL builds the URL for the 1-based page of a business's reviews.
// Google Maps serves all reviews on one surface, so every page maps to
// the base URL and the caller stops after page one.
func PageURL(platform scraper.Platform, base string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("%w: page must be >= 1", scraper.ErrValidation)
	}
	if page == 1 {
		return base, nil
	}
	offset := (page - 1) * reviewsPerPage

	switch platform {
	case scraper.PlatformYelp:
		parsed, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: parse base url: %v", scraper.ErrValidation, err)
		}
		q := parsed.Query()
		q.Set("start", strconv.Itoa(offset))
		parsed.RawQuery = q.Encode()
		return parsed.String(), nil
	case scraper.PlatformTripAdvisor:
		// Reviews-g60713-d123 becomes Reviews-or10-g60713-d123
		if strings.Contains(base, "-Reviews-") {
			return strings.Replace(base, "-Reviews-", fmt.Sprintf("-Reviews-or%d-", offset), 1), nil
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: parse base url: %v", scraper.ErrValidation, err)
		}
		q := parsed.Query()
		q.Set("offset", strconv.Itoa(offset))
		parsed.RawQuery = q.Encode()
		return parsed.String(), nil
	case scraper.PlatformGoogle:
		return base, nil
	default:
		return "", fmt.Errorf("%w: unsupported platform %q", scraper.ErrValidation, platform)
	}
}

// SinglePage reports whether the platform serves all reviews on one
// rendered surface.
func SinglePage(platform scraper.Platform) bool {
	return platform == scraper.PlatformGoogle
}

// SearchURL builds the business search page URL for a name and
// location.
func SearchURL(platform scraper.Platform, name, location string) (string, error) {
	switch platform {
	case scraper.PlatformYelp:
		return "https://www.yelp.com/search?" + url.Values{
			"find_desc": {name},
			"find_loc":  {location},
		}.Encode(), nil
	case scraper.PlatformGoogle:
		return "https://www.google.com/maps/search/" + url.PathEscape(name+" "+location), nil
	case scraper.PlatformTripAdvisor:
		return "https://www.tripadvisor.com/Search?" + url.Values{
			"q": {name + " " + location},
		}.Encode(), nil
	default:
		return "", fmt.Errorf("%w: unsupported platform %q", scraper.ErrValidation, platform)
	}
}

// FirstResultURL pulls the first business link out of a rendered
// search page.
func (n *Normalizer) FirstResultURL(platform scraper.Platform, html string) (string, error) {
	r, err := rulesFor(platform)
	if err != nil {
		return "", err
	}
	doc, err := newDocument(html)
	if err != nil {
		return "", err
	}

	for _, selector := range r.firstResult {
		node := doc.Find(selector).First()
		href, ok := node.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		return absoluteURL(r.resultBase, href)
	}
	return "", fmt.Errorf("%w: no business found in search results", scraper.ErrNotFound)
}

func absoluteURL(base, href string) (string, error) {
	parsed, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: parse result url: %v", scraper.ErrParsingFailure, err)
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: parse base url: %v", scraper.ErrParsingFailure, err)
	}
	return baseURL.ResolveReference(parsed).String(), nil
}
