// Package extract normalizes rendered review pages into canonical
// records. Platform support is a closed dispatch table of goquery
// selector sets; malformed review blocks are skipped individually so
// one bad block never discards a page.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// dateLayouts are tried in order when canonicalizing review dates.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2006",
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Normalizer converts raw page HTML into Review and BusinessInfo
// records.
type Normalizer struct {
	logger *zap.Logger
}

// New creates a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Reviews extracts the valid reviews from one rendered page. It
// returns the valid subset and the number of skipped blocks. A page
// with no valid reviews is a parsing failure.
func (n *Normalizer) Reviews(platform scraper.Platform, html, sourceURL string) ([]scraper.Review, int, error) {
	r, err := rulesFor(platform)
	if err != nil {
		return nil, 0, err
	}
	doc, err := newDocument(html)
	if err != nil {
		return nil, 0, err
	}

	var (
		reviews []scraper.Review
		skipped int
	)
	doc.Find(r.review.block).Each(func(i int, block *goquery.Selection) {
		review, reason := n.reviewFromBlock(r, block, platform, sourceURL)
		if reason != "" {
			skipped++
			n.logger.Debug("skipping review block",
				zap.String("platform", string(platform)),
				zap.Int("block", i),
				zap.String("reason", reason))
			return
		}
		reviews = append(reviews, review)
	})

	if len(reviews) == 0 {
		return nil, skipped, fmt.Errorf("%w: no valid reviews on page", scraper.ErrParsingFailure)
	}
	return reviews, skipped, nil
}

// reviewFromBlock maps one review block to a Review, or returns a skip
// reason.
func (n *Normalizer) reviewFromBlock(r platformRules, block *goquery.Selection, platform scraper.Platform, sourceURL string) (scraper.Review, string) {
	text, ok := firstText(block, r.review.text)
	if !ok {
		return scraper.Review{}, "missing review text"
	}
	author, ok := firstText(block, r.review.author)
	if !ok {
		return scraper.Review{}, "missing author"
	}
	rating, ok := r.review.rating(block)
	if !ok {
		return scraper.Review{}, "missing rating"
	}

	review := scraper.Review{
		Text:      text,
		Rating:    clampRating(rating),
		Author:    author,
		Platform:  platform,
		SourceURL: sourceURL,
	}
	if date, ok := firstText(block, r.review.date); ok {
		review.Date = canonicalDate(date)
	}
	if resp, ok := firstText(block, r.review.response); ok {
		review.Response = &resp
	}
	return review, ""
}

// Business extracts business details from a rendered page. A page with
// no recognizable business name yields NotFound.
func (n *Normalizer) Business(platform scraper.Platform, html, pageURL string) (scraper.BusinessInfo, error) {
	r, err := rulesFor(platform)
	if err != nil {
		return scraper.BusinessInfo{}, err
	}
	doc, err := newDocument(html)
	if err != nil {
		return scraper.BusinessInfo{}, err
	}

	root := doc.Selection
	name, ok := firstText(root, r.business.name)
	if !ok {
		return scraper.BusinessInfo{}, fmt.Errorf("%w: no business name on page", scraper.ErrNotFound)
	}

	info := scraper.BusinessInfo{Name: name, URL: pageURL}
	if address, ok := firstText(root, r.business.address); ok {
		info.Address = &address
	}
	if phone, ok := firstText(root, r.business.phone); ok {
		info.Phone = &phone
	}
	if raw, ok := firstText(root, r.business.rating); ok {
		if rating, ok := parseFloat(raw); ok {
			clamped := clampRating(rating)
			info.Rating = &clamped
		}
	}
	if raw, ok := firstText(root, r.business.reviewCount); ok {
		if count, ok := parseInt(raw); ok {
			info.ReviewCount = &count
		}
	}
	doc.Find(r.business.categories).Each(func(_ int, s *goquery.Selection) {
		if category := strings.TrimSpace(s.Text()); category != "" {
			info.Categories = append(info.Categories, category)
		}
	})
	return info, nil
}

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse page: %v", scraper.ErrParsingFailure, err)
	}
	return doc, nil
}

// fieldSelectors are candidate CSS selectors tried in order.
type fieldSelectors []string

// firstText returns the first non-empty text (or aria-label) matched
// by the candidate selectors.
func firstText(s *goquery.Selection, selectors fieldSelectors) (string, bool) {
	for _, selector := range selectors {
		node := s.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text, true
		}
		if label, ok := node.Attr("aria-label"); ok {
			if label = strings.TrimSpace(label); label != "" {
				return label, true
			}
		}
		if title, ok := node.Attr("title"); ok {
			if title = strings.TrimSpace(title); title != "" {
				return title, true
			}
		}
	}
	return "", false
}

func clampRating(rating float64) float64 {
	if rating < 0 {
		return 0
	}
	if rating > 5 {
		return 5
	}
	return rating
}

// canonicalDate converts a platform date string to 2006-01-02 when one
// of the known layouts matches, otherwise keeps the raw string.
func canonicalDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}

func parseFloat(raw string) (float64, bool) {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func parseInt(raw string) (int, bool) {
	match := numberPattern.FindString(strings.ReplaceAll(raw, ",", ""))
	if match == "" {
		return 0, false
	}
	value, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return value, true
}
