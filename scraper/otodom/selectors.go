package otodom

import (
	"time"

	"otodom-stats/antibot"
	"otodom-stats/extract"
)

// Selector tables for otodom.pl result pages. Each list is ordered; the
// first selector that yields a value wins, so markup changes are handled
// by appending a new entry.

var countSelectors = []string{
	"[data-cy='search.listing-panel.label.ads-number']",
	"[data-sentry-element='StyledListingResultsHeader'] strong",
	"div[role='main'] h1 + div strong",
	"strong[data-cy='search-listing.total-count']",
}

var cardSelectors = []string{
	"[data-cy='search.listing.organic'] [data-cy='listing-item']",
	"[data-cy='listing-item']",
	"[data-cy='search.listing.organic'] li article",
	"article[data-sentry-component='AdvertCard']",
}

var priceSelectors = []string{
	"[data-sentry-element='MainPrice']",
	"[data-testid='ad-price']",
	"p[data-testid='ad-price-container'] span",
}

var areaSelectors = []string{
	"[data-testid='ad-area']",
	"dl dt:contains('Powierzchnia') + dd",
	"span[aria-label='Powierzchnia']",
}

var linkSelectors = []string{
	"a[data-cy='listing-item-link']",
	"a[href*='/pl/oferta/']",
	"a",
}

var nextSelectors = []string{
	"li[aria-label='Go to next Page']",
	"[data-cy='pagination.next-page']",
	"button[aria-label='następna strona']",
}

// DefaultStrategies is the extraction table for otodom result pages.
func DefaultStrategies() extract.Strategies {
	return extract.Strategies{
		CountSelectors:       countSelectors,
		CardSelectors:        cardSelectors,
		PriceSelectors:       priceSelectors,
		AreaSelectors:        areaSelectors,
		LinkSelectors:        linkSelectors,
		ConsentWallSelectors: consentWallSelectors,
		PriceRegexp:          extract.DefaultPriceRegexp,
		AreaRegexp:           extract.DefaultAreaRegexp,
		NextSelectors:        nextSelectors,
		PageParam:            "page",
	}
}

var consentWallSelectors = []string{
	"#onetrust-banner-sdk",
	"#onetrust-consent-sdk .onetrust-pc-dark-filter",
	"[data-testid='cookies-overlay']",
}

// DefaultConsentRules handle the OneTrust banner served by the site.
func DefaultConsentRules() antibot.ConsentRules {
	return antibot.ConsentRules{
		WallSelectors: consentWallSelectors,
		AcceptSelectors: []string{
			"#onetrust-accept-btn-handler",
			"button[data-cy='accept-cookies']",
			"button[id*='accept']",
			"#onetrust-banner-sdk button:last-of-type",
		},
		Cookies: map[string]string{
			"OptanonAlertBoxClosed": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			"OptanonConsent":        "isGpcEnabled=0&datestamp=&version=202401.1.0&isIABGlobal=false&hosts=&consentId=&interactionCount=1&landingPath=NotLandingPage&groups=C0001%3A1%2CC0002%3A1%2CC0003%3A1%2CC0004%3A1",
		},
		LocalStorage: map[string]string{
			"OptanonAlertBoxClosed": "true",
		},
		Settle: 1500 * time.Millisecond,
	}
}

// DefaultBlockRules recognise challenge pages in front of the site.
func DefaultBlockRules() antibot.BlockRules {
	return antibot.BlockRules{
		Phrases: antibot.DefaultBlockPhrases,
		MainLandmarks: []string{
			"[data-cy='search.listing.organic']",
			"[data-cy='search.listing-panel']",
			"[data-cy='listing-item']",
			"main",
		},
		MinContentLength: 500,
	}
}

// HoverSelectors are the elements behaviour simulation hovers over.
var HoverSelectors = []string{
	"[data-cy='listing-item']",
	"[data-cy='search.listing-panel.label.ads-number']",
	"header a",
}
