package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otodom-stats/browser/browsertest"
	"otodom-stats/models"
	"otodom-stats/utils"
)

func testStrategies() Strategies {
	return Strategies{
		CountSelectors:       []string{"[data-cy='search.listing-panel.label.ads-number']", "h1 + div strong"},
		CardSelectors:        []string{"[data-cy='listing-item']", "article"},
		PriceSelectors:       []string{"[data-testid='ad-price']", ".price"},
		AreaSelectors:        []string{"[data-testid='ad-area']"},
		LinkSelectors:        []string{"a[data-cy='listing-item-link']", "a"},
		ConsentWallSelectors: []string{"#onetrust-banner-sdk"},
		NextSelectors:        []string{"li[aria-label='Go to next Page']", "[data-cy='pagination.next-page']"},
		PageParam:            "page",
	}
}

func newTestEngine() *Engine {
	return NewEngine(testStrategies(), DefaultBounds, Pagination{PollInterval: time.Millisecond, WaitTimeout: 20 * time.Millisecond}, utils.NewDiscardLogger())
}

const resultsFixture = `<html><body>
<div id="onetrust-banner-sdk"></div>
<div data-cy="search.listing-panel.label.ads-number">Liczba ogłoszeń: <strong>1 234</strong></div>
<ul>
  <li data-cy="listing-item">
    <a data-cy="listing-item-link" href="/pl/oferta/a-1"></a>
    <span data-testid="ad-price">1 234 567 zł</span>
    <span data-testid="ad-area">54,5 m²</span>
  </li>
  <li data-cy="listing-item">
    <a data-cy="listing-item-link" href="/pl/oferta/a-2"></a>
    <span data-testid="ad-price">Zapytaj o cenę</span>
    <span data-testid="ad-area">48 m²</span>
  </li>
  <li data-cy="listing-item">
    <a data-cy="listing-item-link" href="/pl/oferta/a-3"></a>
    <span data-testid="ad-price">30 000 zł</span>
    <span data-testid="ad-area">40 m²</span>
  </li>
</ul>
</body></html>`

func TestParseLocaleNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1 234 567 zł", 1234567, true},
		{"1 234 567 zł", 1234567, true},
		{"1 234 zł", 1234, true},
		{"54,5 m²", 54.5, true},
		{"54.5 m²", 54.5, true},
		{"599 000,00 zł", 599000, true},
		{"1.234,50", 1234.5, true},
		{"1,234.50", 1234.5, true},
		{"450.000 zł", 450000, true},
		{"1.250.000", 1250000, true},
		{"1,250,000", 1250000, true},
		{"0.750", 0.75, true},
		{"Cena: 720 000 zł", 720000, true},
		{"Zapytaj o cenę", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLocaleNumber(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseLocaleNumber(%q) ok", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "ParseLocaleNumber(%q)", tt.in)
		}
	}
}

func TestParseReportedCount(t *testing.T) {
	assert.Equal(t, 1234, ParseReportedCount("Liczba ogłoszeń: 1 234"))
	assert.Equal(t, 57, ParseReportedCount("57 ogłoszeń"))
	assert.Equal(t, 12000, ParseReportedCount("12 000 wyników"))
	assert.Equal(t, 0, ParseReportedCount("brak wyników"))
}

func TestExtractHTMLFixture(t *testing.T) {
	e := newTestEngine()

	res, err := e.ExtractHTML(resultsFixture)
	require.NoError(t, err)

	require.Len(t, res.Listings, 1)
	l := res.Listings[0]
	assert.Equal(t, 1234567, l.Price)
	assert.InDelta(t, 54.5, l.Area, 1e-9)
	assert.Equal(t, 22653, l.PricePerSqm)
	assert.Equal(t, "/pl/oferta/a-1", l.URL)

	assert.Equal(t, 1234, res.ReportedCount)
	assert.Equal(t, 3, res.Diagnostics.CardsSeen)
	assert.Equal(t, 2, res.Diagnostics.DiscardedCards)
	assert.Equal(t, "[data-cy='listing-item']", res.Diagnostics.CardSelector)
	assert.True(t, res.Diagnostics.ConsentWall)
	assert.Equal(t, 3, res.Diagnostics.ElementCounts["[data-cy='listing-item']"])
}

func TestExtractHTMLAllOutOfRange(t *testing.T) {
	e := newTestEngine()
	html := `<html><body>
		<article><span class="price">12 zł</span> 45 m²</article>
		<article><span class="price">450 000 zł</span> 2 m²</article>
		<article><span class="price">99 000 000 zł</span> 60 m²</article>
	</body></html>`

	res, err := e.ExtractHTML(html)
	require.NoError(t, err)
	assert.Empty(t, res.Listings)
	assert.NotNil(t, res.Listings)
	assert.Equal(t, 3, res.Diagnostics.CardsSeen)
	assert.Equal(t, "article", res.Diagnostics.CardSelector)
}

func TestExtractHTMLNoCards(t *testing.T) {
	res, err := newTestEngine().ExtractHTML(`<html><body><main>Nic tu nie ma</main></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, res.Listings)
	assert.Equal(t, 0, res.ReportedCount)
	assert.Equal(t, "", res.Diagnostics.CardSelector)
}

func TestExtractHTMLRegexFallback(t *testing.T) {
	e := newTestEngine()
	html := `<html><body>
		<article><a href="/pl/oferta/b-1">Mieszkanie 3 pokoje</a>
			<p>15 000 zł/m²</p><p>720 000 zł</p><p>48 m²</p></article>
	</body></html>`

	res, err := e.ExtractHTML(html)
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	assert.Equal(t, 720000, res.Listings[0].Price)
	assert.InDelta(t, 48.0, res.Listings[0].Area, 1e-9)
	assert.Equal(t, 15000, res.Listings[0].PricePerSqm)
	assert.Equal(t, "/pl/oferta/b-1", res.Listings[0].URL)
}

func TestCleanerDeduplicatesURL(t *testing.T) {
	c := NewCleaner(DefaultBounds, utils.NewDiscardLogger())
	raw := []models.RawListing{
		{RawPrice: "500 000 zł", RawArea: "50 m²", URL: "https://www.otodom.pl/pl/oferta/1"},
		{RawPrice: "500 000 zł", RawArea: "50 m²", URL: "https://www.otodom.pl/pl/oferta/1"},
		{RawPrice: "600 000 zł", RawArea: "60 m²"},
	}

	cleaned, dropped := c.Clean(raw)
	require.Len(t, cleaned, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 10000, cleaned[0].PricePerSqm)
}

func TestCleanerRejectsMissingArea(t *testing.T) {
	c := NewCleaner(DefaultBounds, utils.NewDiscardLogger())
	cleaned, dropped := c.Clean([]models.RawListing{{RawPrice: "500 000 zł", RawArea: ""}})
	assert.Empty(t, cleaned)
	assert.Equal(t, 1, dropped)
}

func TestNormaliseText(t *testing.T) {
	assert.Equal(t, "54,5 m²", normaliseText("  54,5\n\t m²  "))
	assert.Equal(t, "", normaliseText("   "))
}

func TestWithPageParam(t *testing.T) {
	got, err := WithPageParam("https://www.otodom.pl/pl/wyniki?page=1", "page", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://www.otodom.pl/pl/wyniki?page=2", got)

	got, err = WithPageParam("https://www.otodom.pl/pl/wyniki", "page", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://www.otodom.pl/pl/wyniki?page=3", got)
}

func pageHTML(next string) string {
	return `<html><body><article><span class="price">500 000 zł</span> 50 m²</article>` + next + `</body></html>`
}

func TestHasNextPage(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	page := browsertest.NewPage("https://x.test/s?page=1", pageHTML(`<li aria-label="Go to next Page">›</li>`))
	ok, err := e.HasNextPage(ctx, page)
	require.NoError(t, err)
	assert.True(t, ok)

	page.SetContent(pageHTML(`<li aria-label="Go to next Page" aria-disabled="true">›</li>`))
	ok, err = e.HasNextPage(ctx, page)
	require.NoError(t, err)
	assert.False(t, ok)

	page.SetContent(pageHTML(`<button data-cy="pagination.next-page" disabled>›</button>`))
	ok, err = e.HasNextPage(ctx, page)
	require.NoError(t, err)
	assert.False(t, ok)

	page.SetContent(pageHTML(""))
	ok, err = e.HasNextPage(ctx, page)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGoToNextPageClick(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	page := browsertest.NewPage("https://x.test/s?page=1", pageHTML(""))
	page.Sites["https://x.test/s?page=2"] = pageHTML("")
	page.EvalFunc = func(js string) (any, error) {
		if strings.Contains(js, "el.click()") {
			require.NoError(t, page.Navigate(ctx, "https://x.test/s?page=2"))
			return true, nil
		}
		return nil, nil
	}

	ok, err := e.GoToNextPage(ctx, page, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"https://x.test/s?page=2"}, page.Navigations)
}

func TestGoToNextPageFallsBackToURL(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	page := browsertest.NewPage("https://x.test/s?page=1", pageHTML(""))
	page.Sites["https://x.test/s?page=2"] = pageHTML("")

	ok, err := e.GoToNextPage(ctx, page, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"https://x.test/s?page=2"}, page.Navigations)
}

func TestGoToNextPageWithoutCards(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	page := browsertest.NewPage("https://x.test/s?page=1", pageHTML(""))
	page.Sites["https://x.test/s?page=2"] = `<html><body><main>Brak wyników</main></body></html>`

	ok, err := e.GoToNextPage(ctx, page, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractPageDiagnostics(t *testing.T) {
	e := newTestEngine()
	page := browsertest.NewPage("https://x.test/s?page=2", resultsFixture)
	target := models.TargetDescriptor{City: "warszawa", District: "Mokotów", DistrictSlug: "mokotow", RoomType: models.RoomsTwo, FetchDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)}

	res, err := e.ExtractPage(context.Background(), page, target, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Diagnostics.PageNumber)
	assert.Equal(t, "https://x.test/s?page=2", res.Diagnostics.URL)
	assert.Len(t, res.Listings, 1)
}
