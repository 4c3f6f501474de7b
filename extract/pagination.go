package extract

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"otodom-stats/browser"
	"otodom-stats/utils"
)

// HasNextPage reports whether an enabled "next" control is on the page.
func (e *Engine) HasNextPage(ctx context.Context, page browser.Page) (bool, error) {
	doc, err := e.snapshot(ctx, page)
	if err != nil {
		return false, err
	}
	for _, sel := range e.strat.NextSelectors {
		next := doc.Find(sel).First()
		if next.Length() == 0 {
			continue
		}
		if _, disabled := next.Attr("disabled"); disabled {
			continue
		}
		if v, _ := next.Attr("aria-disabled"); v == "true" {
			continue
		}
		return true, nil
	}
	return false, nil
}

// GoToNextPage moves from page currentPage to currentPage+1. It clicks the
// next control first and falls back to rewriting the page query parameter.
// It only reports success when the URL changed and listing cards are
// present afterwards.
func (e *Engine) GoToNextPage(ctx context.Context, page browser.Page, currentPage int) (bool, error) {
	before, err := page.URL(ctx)
	if err != nil {
		return false, fmt.Errorf("extract: read url: %w", err)
	}

	for _, sel := range e.strat.NextSelectors {
		clicked, err := browser.Click(ctx, page, sel)
		if err != nil {
			e.logger.Debug("[extract] Next click %q failed: %v", sel, err)
			continue
		}
		if !clicked {
			continue
		}
		if e.waitForURLChange(ctx, page, before) && e.cardsPresent(ctx, page) {
			return true, nil
		}
		break
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	next, err := WithPageParam(before, e.strat.PageParam, currentPage+1)
	if err != nil {
		return false, err
	}
	e.logger.Debug("[extract] Falling back to direct navigation: %s", next)
	if err := page.Navigate(ctx, next); err != nil {
		return false, err
	}

	after, err := page.URL(ctx)
	if err != nil {
		return false, fmt.Errorf("extract: read url: %w", err)
	}
	if after == before || !e.cardsPresent(ctx, page) {
		return false, nil
	}
	return true, nil
}

func (e *Engine) waitForURLChange(ctx context.Context, page browser.Page, before string) bool {
	poll := e.paging.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := time.Now().Add(e.paging.WaitTimeout)

	for {
		if current, err := page.URL(ctx); err == nil && current != before {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		if err := utils.Sleep(ctx, poll); err != nil {
			return false
		}
	}
}

func (e *Engine) cardsPresent(ctx context.Context, page browser.Page) bool {
	doc, err := e.snapshot(ctx, page)
	if err != nil {
		return false
	}
	for _, sel := range e.strat.CardSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func (e *Engine) snapshot(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// WithPageParam returns rawURL with its page query parameter set to n.
func WithPageParam(rawURL, param string, n int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("extract: parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
