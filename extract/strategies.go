package extract

import (
	"regexp"
	"time"
)

// Strategies is the ordered, data-driven selector table for one site.
// Within each list the first selector that yields a value wins, so new
// fallbacks are appended rather than coded.
type Strategies struct {
	CountSelectors []string
	CardSelectors  []string
	PriceSelectors []string
	AreaSelectors  []string
	LinkSelectors  []string
	// ConsentWallSelectors are only used for diagnostics.
	ConsentWallSelectors []string

	// PriceRegexp and AreaRegexp run over the whole card text when no
	// selector produced a value. The first submatch is the number.
	PriceRegexp *regexp.Regexp
	AreaRegexp  *regexp.Regexp

	NextSelectors []string
	PageParam     string
}

// Bounds are the accepted ranges for extracted values.
type Bounds struct {
	MinPrice int
	MaxPrice int
	MinArea  float64
	MaxArea  float64
}

// DefaultBounds match a sane Polish flat market.
var DefaultBounds = Bounds{MinPrice: 50000, MaxPrice: 10000000, MinArea: 10, MaxArea: 1000}

// Pagination controls how long GoToNextPage waits for a URL change.
type Pagination struct {
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

var (
	// DefaultPriceRegexp matches a total price; per-area prices are
	// filtered out by the caller.
	DefaultPriceRegexp = regexp.MustCompile(`(\d[\d\s\x{00a0}\x{202f}.,]*\d|\d)\s*zł(\s*/\s*m(?:²|2))?`)
	DefaultAreaRegexp  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m(?:²|2)`)
)
