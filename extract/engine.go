package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"otodom-stats/browser"
	"otodom-stats/models"
	"otodom-stats/utils"
)

// Engine applies a Strategies table to rendered results pages.
type Engine struct {
	strat   Strategies
	paging  Pagination
	cleaner *Cleaner
	logger  *utils.Logger
}

// NewEngine builds an engine. Missing regexps fall back to the defaults.
func NewEngine(strat Strategies, bounds Bounds, paging Pagination, logger *utils.Logger) *Engine {
	if strat.PriceRegexp == nil {
		strat.PriceRegexp = DefaultPriceRegexp
	}
	if strat.AreaRegexp == nil {
		strat.AreaRegexp = DefaultAreaRegexp
	}
	if strat.PageParam == "" {
		strat.PageParam = "page"
	}
	return &Engine{
		strat:   strat,
		paging:  paging,
		cleaner: NewCleaner(bounds, logger),
		logger:  logger,
	}
}

// ExtractPage snapshots the page HTML and extracts it.
func (e *Engine) ExtractPage(ctx context.Context, page browser.Page, target models.TargetDescriptor, pageNumber int) (models.PageExtractionResult, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return models.PageExtractionResult{}, fmt.Errorf("extract: read page html: %w", err)
	}
	url, err := page.URL(ctx)
	if err != nil {
		e.logger.Debug("[extract] Could not read page URL: %v", err)
	}

	result, err := e.ExtractHTML(html)
	if err != nil {
		return result, err
	}
	result.Diagnostics.PageNumber = pageNumber
	result.Diagnostics.URL = url

	e.logger.Info("[extract] %s page %d: %d listings from %d cards (selector %q, reported %d)",
		target.Key(), pageNumber, len(result.Listings), result.Diagnostics.CardsSeen,
		result.Diagnostics.CardSelector, result.ReportedCount)
	return result, nil
}

// ExtractHTML runs every strategy over an HTML document.
func (e *Engine) ExtractHTML(html string) (models.PageExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.PageExtractionResult{}, fmt.Errorf("extract: parse html: %w", err)
	}

	result := models.PageExtractionResult{
		Listings: []models.ExtractedListing{},
		Diagnostics: models.PageDiagnostics{
			ElementCounts: make(map[string]int),
		},
	}
	diag := &result.Diagnostics

	for _, sel := range e.strat.ConsentWallSelectors {
		if doc.Find(sel).Length() > 0 {
			diag.ConsentWall = true
			break
		}
	}

	for _, sel := range e.strat.CountSelectors {
		text := normaliseText(doc.Find(sel).First().Text())
		diag.ElementCounts[sel] = doc.Find(sel).Length()
		if text == "" {
			continue
		}
		result.ReportedCount = ParseReportedCount(text)
		diag.CountSelector = sel
		break
	}

	var cards *goquery.Selection
	for _, sel := range e.strat.CardSelectors {
		found := doc.Find(sel)
		diag.ElementCounts[sel] = found.Length()
		if found.Length() > 0 {
			cards = found
			diag.CardSelector = sel
			break
		}
	}
	if cards == nil {
		return result, nil
	}

	raw := make([]models.RawListing, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		raw = append(raw, e.rawListing(card))
	})
	diag.CardsSeen = len(raw)

	result.Listings, diag.DiscardedCards = e.cleaner.Clean(raw)
	return result, nil
}

func (e *Engine) rawListing(card *goquery.Selection) models.RawListing {
	text := normaliseText(card.Text())
	r := models.RawListing{CardText: text}

	r.RawPrice = firstText(card, e.strat.PriceSelectors)
	if _, ok := ParseLocaleNumber(r.RawPrice); !ok {
		r.RawPrice = e.priceFromText(text)
	}
	r.RawArea = firstText(card, e.strat.AreaSelectors)
	if _, ok := ParseLocaleNumber(r.RawArea); !ok {
		if m := e.strat.AreaRegexp.FindStringSubmatch(text); len(m) > 1 {
			r.RawArea = m[1]
		}
	}

	if href, ok := card.Attr("href"); ok {
		r.URL = href
	}
	for _, sel := range e.strat.LinkSelectors {
		if r.URL != "" {
			break
		}
		if href, ok := card.Find(sel).First().Attr("href"); ok {
			r.URL = href
		}
	}
	return r
}

// priceFromText returns the first total price in text, skipping per-area
// prices such as "12 500 zł/m²".
func (e *Engine) priceFromText(text string) string {
	for _, m := range e.strat.PriceRegexp.FindAllStringSubmatch(text, -1) {
		if len(m) > 2 && m[2] != "" {
			continue
		}
		if len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// firstText returns the first non-empty text among selectors within s.
func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := normaliseText(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
