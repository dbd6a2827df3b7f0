package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// reviewRules locates and reads one platform's review blocks.
type reviewRules struct {
	block    string
	text     fieldSelectors
	author   fieldSelectors
	date     fieldSelectors
	response fieldSelectors
	rating   func(*goquery.Selection) (float64, bool)
}

// businessRules locates one platform's business header fields.
type businessRules struct {
	name        fieldSelectors
	address     fieldSelectors
	phone       fieldSelectors
	rating      fieldSelectors
	reviewCount fieldSelectors
	categories  string
}

type platformRules struct {
	review      reviewRules
	business    businessRules
	firstResult fieldSelectors
	resultBase  string
}

var platformTable = map[scraper.Platform]platformRules{
	scraper.PlatformYelp: {
		review: reviewRules{
			block:    `div.review, li[class*="review"]`,
			text:     fieldSelectors{`p[class*="comment"]`, `span.raw__review-text`, `p.review-text`},
			author:   fieldSelectors{`a[class*="user-display-name"]`, `.user-passport-info a`, `.author`},
			date:     fieldSelectors{`span[class*="review-date"]`, `.rating-qualifier`},
			response: fieldSelectors{`div[class*="owner-reply"] p`, `.biz-owner-reply p`},
			rating:   ariaLabelRating(`div[role="img"][aria-label*="star"]`, `div[class*="stars"]`),
		},
		business: businessRules{
			name:        fieldSelectors{`h1`},
			address:     fieldSelectors{`address`, `p[class*="address"]`},
			phone:       fieldSelectors{`p[class*="phone"]`, `span[class*="phone"]`},
			rating:      fieldSelectors{`div[role="img"][aria-label*="star"]`, `span[class*="rating"]`},
			reviewCount: fieldSelectors{`a[href*="#reviews"]`, `span[class*="review-count"]`},
			categories:  `span[class*="category"] a`,
		},
		firstResult: fieldSelectors{`a[href^="/biz/"]`, `a[href*="yelp.com/biz/"]`},
		resultBase:  "https://www.yelp.com",
	},
	scraper.PlatformGoogle: {
		review: reviewRules{
			block:    `div[data-review-id], div.jftiEf`,
			text:     fieldSelectors{`span.wiI7pd`, `span[class*="review-full-text"]`, `span[class*="review-text"]`},
			author:   fieldSelectors{`div.d4r55`, `div[class*="reviewer-name"]`, `.author`},
			date:     fieldSelectors{`span.rsqaWe`, `span[class*="review-date"]`},
			response: fieldSelectors{`div[class*="owner-response"] span`, `div.CDe7pd span`},
			rating:   ariaLabelRating(`span[role="img"][aria-label*="star"]`, `span.kvMYJc`),
		},
		business: businessRules{
			name:        fieldSelectors{`h1`},
			address:     fieldSelectors{`button[data-item-id="address"]`, `div[class*="address"]`},
			phone:       fieldSelectors{`button[data-item-id*="phone"]`, `span[class*="phone"]`},
			rating:      fieldSelectors{`div.F7nice span[aria-hidden]`, `span[class*="rating"]`},
			reviewCount: fieldSelectors{`div.F7nice span[aria-label*="review"]`, `span[class*="review-count"]`},
			categories:  `button[jsaction*="category"]`,
		},
		firstResult: fieldSelectors{`a[href*="/maps/place/"]`},
		resultBase:  "https://www.google.com",
	},
	scraper.PlatformTripAdvisor: {
		review: reviewRules{
			block:    `div[data-reviewid], div.review-container`,
			text:     fieldSelectors{`q span`, `p.partial_entry`, `div[class*="review-text"]`},
			author:   fieldSelectors{`a.ui_header_link`, `div[class*="member-name"]`, `.author`},
			date:     fieldSelectors{`span.ratingDate`, `div[class*="review-date"]`},
			response: fieldSelectors{`div.mgrRspnInline p`, `span[class*="owner-response"]`},
			rating:   bubbleRating,
		},
		business: businessRules{
			name:        fieldSelectors{`h1`},
			address:     fieldSelectors{`a[href*="#MAPVIEW"]`, `span[class*="address"]`},
			phone:       fieldSelectors{`a[href^="tel:"]`, `span[class*="phone"]`},
			rating:      fieldSelectors{`span[class*="overallRating"]`, `span[class*="rating"]`},
			reviewCount: fieldSelectors{`span[class*="reviewCount"]`, `a[href*="#REVIEWS"]`},
			categories:  `span[class*="cuisine"] a`,
		},
		firstResult: fieldSelectors{`a[href*="Restaurant_Review"]`},
		resultBase:  "https://www.tripadvisor.com",
	},
}

func rulesFor(platform scraper.Platform) (platformRules, error) {
	r, ok := platformTable[platform]
	if !ok {
		return platformRules{}, fmt.Errorf("%w: unsupported platform %q", scraper.ErrValidation, platform)
	}
	return r, nil
}

// ariaLabelRating reads ratings from aria-labels like "4.5 star rating".
func ariaLabelRating(selectors ...string) func(*goquery.Selection) (float64, bool) {
	return func(block *goquery.Selection) (float64, bool) {
		raw, ok := firstText(block, selectors)
		if !ok {
			return 0, false
		}
		return parseFloat(raw)
	}
}

// bubbleRating reads TripAdvisor's bubble classes, e.g. bubble_40 is
// four stars.
func bubbleRating(block *goquery.Selection) (float64, bool) {
	node := block.Find(`span[class*="bubble_"]`).First()
	class, ok := node.Attr("class")
	if !ok {
		return 0, false
	}
	for _, part := range strings.Fields(class) {
		if !strings.HasPrefix(part, "bubble_") {
			continue
		}
		value, err := strconv.Atoi(strings.TrimPrefix(part, "bubble_"))
		if err != nil {
			continue
		}
		return float64(value) / 10, true
	}
	return 0, false
}
