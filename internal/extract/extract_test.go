package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

const yelpPage = `
<html><body>
  <div class="review">
    <a class="user-display-name">Alice</a>
    <div role="img" aria-label="4 star rating"></div>
    <span class="review-date">3/15/2024</span>
    <p class="comment__text">Great tacos, friendly staff.</p>
    <div class="owner-reply"><p>Thanks Alice!</p></div>
  </div>
  <div class="review">
    <div role="img" aria-label="5 star rating"></div>
    <span class="review-date">3/16/2024</span>
    <p class="comment__text">No author on this one.</p>
  </div>
  <div class="review">
    <a class="user-display-name">Bob</a>
    <div role="img" aria-label="7 star rating"></div>
    <span class="review-date">not a date</span>
    <p class="comment__text">Rating out of range upstream.</p>
  </div>
</body></html>`

func TestReviewsYelp(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	reviews, skipped, err := n.Reviews(scraper.PlatformYelp, yelpPage, "https://www.yelp.com/biz/tacos")
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, reviews, 2)

	first := reviews[0]
	require.Equal(t, "Great tacos, friendly staff.", first.Text)
	require.Equal(t, "Alice", first.Author)
	require.InDelta(t, 4.0, first.Rating, 1e-9)
	require.Equal(t, "2024-03-15", first.Date)
	require.Equal(t, scraper.PlatformYelp, first.Platform)
	require.Equal(t, "https://www.yelp.com/biz/tacos", first.SourceURL)
	require.NotNil(t, first.Response)
	require.Equal(t, "Thanks Alice!", *first.Response)

	// out-of-range ratings clamp, unparseable dates stay raw
	second := reviews[1]
	require.InDelta(t, 5.0, second.Rating, 1e-9)
	require.Equal(t, "not a date", second.Date)
	require.Nil(t, second.Response)
}

func TestReviewsGoogle(t *testing.T) {
	t.Parallel()

	page := `
<html><body>
  <div data-review-id="abc">
    <div class="d4r55">Carol</div>
    <span role="img" aria-label="5 stars"></span>
    <span class="rsqaWe">January 2, 2025</span>
    <span class="wiI7pd">Best pizza in town.</span>
  </div>
</body></html>`

	n := New(zap.NewNop())
	reviews, skipped, err := n.Reviews(scraper.PlatformGoogle, page, "https://maps.google.com/place/x")
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, reviews, 1)
	require.Equal(t, "Carol", reviews[0].Author)
	require.InDelta(t, 5.0, reviews[0].Rating, 1e-9)
	require.Equal(t, "2025-01-02", reviews[0].Date)
}

func TestReviewsTripAdvisorBubbles(t *testing.T) {
	t.Parallel()

	page := `
<html><body>
  <div class="review-container">
    <a class="ui_header_link">Dave</a>
    <span class="ui_bubble_rating bubble_45"></span>
    <span class="ratingDate" title="March 15, 2024"></span>
    <p class="partial_entry">Lovely view from the terrace.</p>
  </div>
</body></html>`

	n := New(zap.NewNop())
	reviews, _, err := n.Reviews(scraper.PlatformTripAdvisor, page, "https://www.tripadvisor.com/Restaurant_Review-x")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	require.InDelta(t, 4.5, reviews[0].Rating, 1e-9)
	require.Equal(t, "2024-03-15", reviews[0].Date)
}

func TestReviewsNoValidBlocks(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	_, _, err := n.Reviews(scraper.PlatformYelp, "<html><body><p>nothing here</p></body></html>", "u")
	require.ErrorIs(t, err, scraper.ErrParsingFailure)

	// blocks exist but none are complete
	_, skipped, err := n.Reviews(scraper.PlatformYelp, `<div class="review"><p class="comment__text">text only</p></div>`, "u")
	require.ErrorIs(t, err, scraper.ErrParsingFailure)
	require.Equal(t, 1, skipped)
}

func TestReviewsUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	_, _, err := n.Reviews(scraper.Platform("myspace"), "<html></html>", "u")
	require.ErrorIs(t, err, scraper.ErrValidation)
}

func TestBusinessYelp(t *testing.T) {
	t.Parallel()

	page := `
<html><body>
  <h1>Taqueria El Sol</h1>
  <address>12 Mission St, San Francisco, CA</address>
  <p class="phone-number">(415) 555-0134</p>
  <div role="img" aria-label="4.5 star rating"></div>
  <a href="#reviews">128 reviews</a>
  <span class="category-links"><a>Mexican</a><a>Tacos</a></span>
</body></html>`

	n := New(zap.NewNop())
	info, err := n.Business(scraper.PlatformYelp, page, "https://www.yelp.com/biz/taqueria-el-sol")
	require.NoError(t, err)
	require.Equal(t, "Taqueria El Sol", info.Name)
	require.NotNil(t, info.Address)
	require.Equal(t, "12 Mission St, San Francisco, CA", *info.Address)
	require.NotNil(t, info.Phone)
	require.NotNil(t, info.Rating)
	require.InDelta(t, 4.5, *info.Rating, 1e-9)
	require.NotNil(t, info.ReviewCount)
	require.Equal(t, 128, *info.ReviewCount)
	require.Equal(t, []string{"Mexican", "Tacos"}, info.Categories)
	require.Equal(t, "https://www.yelp.com/biz/taqueria-el-sol", info.URL)
}

func TestBusinessMissingName(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	_, err := n.Business(scraper.PlatformYelp, "<html><body><p>empty</p></body></html>", "u")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		platform scraper.Platform
		base     string
		page     int
		want     string
	}{
		{"yelp first page", scraper.PlatformYelp, "https://www.yelp.com/biz/tacos", 1, "https://www.yelp.com/biz/tacos"},
		{"yelp third page", scraper.PlatformYelp, "https://www.yelp.com/biz/tacos", 3, "https://www.yelp.com/biz/tacos?start=20"},
		{"tripadvisor second page", scraper.PlatformTripAdvisor,
			"https://www.tripadvisor.com/Restaurant_Review-g60713-d123-Reviews-El_Sol.html", 2,
			"https://www.tripadvisor.com/Restaurant_Review-g60713-d123-Reviews-or10-El_Sol.html"},
		{"google any page", scraper.PlatformGoogle, "https://maps.google.com/place/x", 4, "https://maps.google.com/place/x"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := PageURL(tc.platform, tc.base, tc.page)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := PageURL(scraper.PlatformYelp, "https://www.yelp.com/biz/tacos", 0)
	require.ErrorIs(t, err, scraper.ErrValidation)
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	got, err := SearchURL(scraper.PlatformYelp, "El Sol", "San Francisco")
	require.NoError(t, err)
	require.Equal(t, "https://www.yelp.com/search?find_desc=El+Sol&find_loc=San+Francisco", got)

	got, err = SearchURL(scraper.PlatformGoogle, "El Sol", "SF")
	require.NoError(t, err)
	require.Equal(t, "https://www.google.com/maps/search/El%20Sol%20SF", got)

	_, err = SearchURL(scraper.Platform("myspace"), "a", "b")
	require.ErrorIs(t, err, scraper.ErrValidation)
}

func TestFirstResultURL(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())

	page := `<html><body><a href="/biz/taqueria-el-sol">Taqueria El Sol</a></body></html>`
	got, err := n.FirstResultURL(scraper.PlatformYelp, page)
	require.NoError(t, err)
	require.Equal(t, "https://www.yelp.com/biz/taqueria-el-sol", got)

	_, err = n.FirstResultURL(scraper.PlatformYelp, "<html><body>no results</body></html>")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}
