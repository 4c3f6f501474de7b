package antibot

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"otodom-stats/browser"
)

// BlockRules describe what a blocked or challenge page looks like.
type BlockRules struct {
	Phrases []string
	// MainLandmarks match the content area of a normal results page.
	MainLandmarks []string
	// MinContentLength is the visible-text length below which a page
	// without a landmark is considered blocked.
	MinContentLength int
}

// DefaultBlockPhrases cover the challenge pages seen in front of Polish
// classifieds sites.
var DefaultBlockPhrases = []string{
	"complete the captcha",
	"rozwiąż captcha",
	"are you a robot",
	"verify you are human",
	"access denied",
	"request unsuccessful. incapsula",
	"incapsula incident id",
	"this request was blocked",
	"attention required! | cloudflare",
	"checking your browser",
	"jesteś robotem",
	"potwierdź, że nie jesteś robotem",
	"dostęp zablokowany",
	"zbyt wiele zapytań",
}

// BlockReport explains a DetectBlock verdict.
type BlockReport struct {
	Blocked       bool   `json:"blocked"`
	Reason        string `json:"reason,omitempty"`
	Phrase        string `json:"phrase,omitempty"`
	ContentLength int    `json:"contentLength"`
	LandmarkFound bool   `json:"landmarkFound"`
}

// DetectBlock inspects the rendered page for signs of a bot wall.
func (g *Guard) DetectBlock(ctx context.Context, page browser.Page) (BlockReport, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return BlockReport{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return BlockReport{}, err
	}
	report := classifyBlock(doc, g.opts.Block)
	if report.Blocked {
		g.logger.Warn("[antibot] Block detected: %s", report.Reason)
	}
	return report, nil
}

func classifyBlock(doc *goquery.Document, rules BlockRules) BlockReport {
	phrases := rules.Phrases
	if len(phrases) == 0 {
		phrases = DefaultBlockPhrases
	}

	doc.Find("script, style, noscript").Remove()
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").Text()))
	body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	lowerBody := strings.ToLower(body)

	report := BlockReport{ContentLength: len([]rune(body))}
	for _, sel := range rules.MainLandmarks {
		if doc.Find(sel).Length() > 0 {
			report.LandmarkFound = true
			break
		}
	}

	for _, phrase := range phrases {
		p := strings.ToLower(phrase)
		if strings.Contains(title, p) || strings.Contains(lowerBody, p) {
			report.Blocked = true
			report.Phrase = phrase
			report.Reason = "block phrase: " + phrase
			return report
		}
	}

	if !report.LandmarkFound && report.ContentLength < rules.MinContentLength {
		report.Blocked = true
		report.Reason = "small page without main content"
	}
	return report
}
