package models

// RawListing holds the unprocessed text pulled from one listing card.
// Nothing in it has been validated yet; the extract cleaner decides
// whether it becomes an ExtractedListing or is dropped.
type RawListing struct {
	RawPrice string
	RawArea  string
	CardText string
	URL      string
}

// ExtractedListing is one validated advertisement from a results page.
type ExtractedListing struct {
	Price       int     `json:"price"`
	Area        float64 `json:"area"`
	PricePerSqm int     `json:"pricePerSqm"`
	URL         string  `json:"url,omitempty"`
}

// PageDiagnostics is observability data about one results page. It never
// influences correctness.
type PageDiagnostics struct {
	PageNumber     int            `json:"pageNumber"`
	URL            string         `json:"url,omitempty"`
	CardSelector   string         `json:"cardSelector,omitempty"`
	CountSelector  string         `json:"countSelector,omitempty"`
	ConsentWall    bool           `json:"consentWall"`
	ElementCounts  map[string]int `json:"elementCounts,omitempty"`
	CardsSeen      int            `json:"cardsSeen"`
	DiscardedCards int            `json:"discardedCards"`
}

// PageExtractionResult is the yield of a single results page.
type PageExtractionResult struct {
	Listings      []ExtractedListing `json:"listings"`
	ReportedCount int                `json:"reportedCount"`
	Diagnostics   PageDiagnostics    `json:"diagnostics"`
}

// AggregateDiagnostics collects task-level observability data.
type AggregateDiagnostics struct {
	BotDetected     bool              `json:"botDetected"`
	ConsentStrategy string            `json:"consentStrategy,omitempty"`
	ConsentHandled  bool              `json:"consentHandled"`
	PagesVisited    int               `json:"pagesVisited"`
	Engine          string            `json:"engine,omitempty"`
	Duplicates      int               `json:"duplicates,omitempty"`
	Errors          []string          `json:"errors,omitempty"`
	Pages           []PageDiagnostics `json:"pages,omitempty"`
}

// AggregateResult is the final statistic for one task. The raw arrays are
// kept so downstream consumers can compute percentiles.
type AggregateResult struct {
	Count          int                  `json:"count"`
	ReportedCount  int                  `json:"reportedCount"`
	AvgPrice       float64              `json:"avgPrice"`
	AvgPricePerSqm float64              `json:"avgPricePerSqm"`
	Prices         []int                `json:"prices"`
	PricesPerSqm   []int                `json:"pricesPerSqm"`
	Diagnostics    AggregateDiagnostics `json:"diagnostics"`
}

// AddError appends a message to the diagnostics error list.
func (r *AggregateResult) AddError(msg string) {
	r.Diagnostics.Errors = append(r.Diagnostics.Errors, msg)
}
