package extract

import (
	"math"
	"strings"
	"unicode"

	"otodom-stats/models"
	"otodom-stats/utils"
)

// Cleaner turns raw card text into validated listings. Values that do not
// parse or fall outside the bounds drop the whole card; nothing is
// coerced to zero.
type Cleaner struct {
	bounds Bounds
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given bounds.
func NewCleaner(bounds Bounds, logger *utils.Logger) *Cleaner {
	return &Cleaner{bounds: bounds, logger: logger}
}

// Clean processes raw cards and returns the valid listings plus the number
// of discarded cards. Cards repeating a URL already seen on the page are
// discarded too.
func (c *Cleaner) Clean(raw []models.RawListing) ([]models.ExtractedListing, int) {
	seen := make(map[string]struct{})
	result := make([]models.ExtractedListing, 0, len(raw))

	for _, r := range raw {
		url := strings.TrimSpace(r.URL)
		if url != "" {
			if _, dup := seen[url]; dup {
				c.logger.Debug("[cleaner] Duplicate URL skipped: %s", url)
				continue
			}
			seen[url] = struct{}{}
		}

		price, ok := c.parsePrice(r.RawPrice)
		if !ok {
			c.logger.Debug("[cleaner] Dropping card with invalid price %q", normaliseText(r.RawPrice))
			continue
		}
		area, ok := c.parseArea(r.RawArea)
		if !ok {
			c.logger.Debug("[cleaner] Dropping card with invalid area %q", normaliseText(r.RawArea))
			continue
		}

		result = append(result, models.ExtractedListing{
			Price:       price,
			Area:        area,
			PricePerSqm: int(math.Round(float64(price) / area)),
			URL:         url,
		})
	}

	dropped := len(raw) - len(result)
	c.logger.Debug("[cleaner] Cleaned %d → %d listings (dropped %d)", len(raw), len(result), dropped)
	return result, dropped
}

// parsePrice extracts a whole-currency price.
// Examples:
//
//	"1 234 567 zł" → 1234567
//	"599 000,00 zł" → 599000
//	"Zapytaj o cenę" → invalid
func (c *Cleaner) parsePrice(raw string) (int, bool) {
	v, ok := ParseLocaleNumber(raw)
	if !ok {
		return 0, false
	}
	price := int(math.Round(v))
	if price < c.bounds.MinPrice || price > c.bounds.MaxPrice {
		return 0, false
	}
	return price, true
}

// parseArea extracts an area in square metres, e.g. "54,5 m²" → 54.5.
func (c *Cleaner) parseArea(raw string) (float64, bool) {
	v, ok := ParseLocaleNumber(raw)
	if !ok {
		return 0, false
	}
	if v < c.bounds.MinArea || v > c.bounds.MaxArea {
		return 0, false
	}
	return v, true
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
