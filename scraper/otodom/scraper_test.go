package otodom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otodom-stats/browser"
	"otodom-stats/browser/browsertest"
	"otodom-stats/config"
	"otodom-stats/models"
	"otodom-stats/queue"
	"otodom-stats/storage"
	"otodom-stats/utils"
)

var fetchDate = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Scrape.BaseURL = "https://www.otodom.pl"
	cfg.Scrape.MaxPagesPerTask = 5
	cfg.Scrape.TaskTimeout = 5 * time.Second
	cfg.Scrape.NavTimeout = 300 * time.Millisecond
	cfg.Scrape.MaxRetries = 3
	cfg.Scrape.RetryBaseDelay = time.Second
	cfg.Scrape.RetryMaxDelay = time.Minute
	cfg.Scrape.RetryOffset = 3
	cfg.Scrape.PollInterval = 10 * time.Millisecond
	cfg.Bounds.MinPrice = 50000
	cfg.Bounds.MaxPrice = 10000000
	cfg.Bounds.MinArea = 10
	cfg.Bounds.MaxArea = 1000
	return cfg
}

type recordingSink struct {
	mu    sync.Mutex
	saved []models.TargetDescriptor
	last  *models.AggregateResult
	err   error
}

func (s *recordingSink) DeleteAggregatesForCity(ctx context.Context, city string) error { return nil }

func (s *recordingSink) SaveAggregate(ctx context.Context, target models.TargetDescriptor, result *models.AggregateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, target)
	s.last = result
	return nil
}

type harness struct {
	cfg     *config.Config
	queue   *queue.Queue
	engine  *browsertest.Engine
	manager *browser.Manager
	sink    *recordingSink
	scraper *Scraper
}

func newHarness(t *testing.T, cfg *config.Config, pageFunc func() *browsertest.Page) *harness {
	t.Helper()
	logger := utils.NewDiscardLogger()

	q := queue.New(storage.NewMemoryTaskStore(), queue.Options{
		MaxRetries:   cfg.Scrape.MaxRetries,
		BaseDelay:    cfg.Scrape.RetryBaseDelay,
		MaxDelay:     cfg.Scrape.RetryMaxDelay,
		RetryOffset:  cfg.Scrape.RetryOffset,
		HistoryLimit: 50,
	}, logger)
	_, err := q.Recover(context.Background())
	require.NoError(t, err)

	engine := &browsertest.Engine{EngineName: "fake", PageFunc: pageFunc}
	manager := browser.NewManager([]browser.Engine{engine}, browser.HealthLimits{}, logger)
	sink := &recordingSink{}

	s := New(cfg, q, manager, NewGuard(cfg, logger), NewEngine(cfg, logger), sink, logger)
	return &harness{cfg: cfg, queue: q, engine: engine, manager: manager, sink: sink, scraper: s}
}

func mokotowTwo() models.TargetDescriptor {
	return models.TargetDescriptor{
		City:         "warszawa",
		District:     "Mokotów",
		DistrictSlug: "mokotow",
		RoomType:     models.RoomsTwo,
		FetchDate:    fetchDate,
	}
}

func searchURL(t *testing.T, page int) string {
	t.Helper()
	u, err := SearchURL("https://www.otodom.pl", *config.GetCityByCode("warszawa"), mokotowTwo(), page)
	require.NoError(t, err)
	return u
}

type card struct {
	url   string
	price string
	area  string
}

func resultsPage(reported int, hasNext bool, cards ...card) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Mieszkania na sprzedaż</title></head><body><main>`)
	fmt.Fprintf(&b, `<div data-cy="search.listing-panel.label.ads-number">Liczba ogłoszeń: <strong>%d</strong></div>`, reported)
	b.WriteString(`<div data-cy="search.listing.organic"><ul>`)
	for _, c := range cards {
		fmt.Fprintf(&b, `<li data-cy="listing-item"><article>
			<a data-cy="listing-item-link" href="%s">Mieszkanie</a>
			<span data-sentry-element="MainPrice">%s</span>
			<dl><dt>Powierzchnia</dt><dd>%s</dd></dl>
		</article></li>`, c.url, c.price, c.area)
	}
	b.WriteString(`</ul></div>`)
	if hasNext {
		b.WriteString(`<ul><li aria-label="Go to next Page">›</li></ul>`)
	}
	b.WriteString(`</main></body></html>`)
	return b.String()
}

func sitePage(t *testing.T, pages map[int]string) func() *browsertest.Page {
	return func() *browsertest.Page {
		p := browsertest.NewPage("about:blank", "")
		for n, html := range pages {
			p.Sites[searchURL(t, n)] = html
		}
		return p
	}
}

func TestProcessNextCompletesTask(t *testing.T) {
	page1 := resultsPage(3, true,
		card{"/pl/oferta/a-1", "1 234 567 zł", "54,5 m²"},
		card{"/pl/oferta/a-2", "Zapytaj o cenę", "48 m²"},
	)
	page2 := resultsPage(3, false,
		card{"/pl/oferta/a-1", "1 234 567 zł", "54,5 m²"},
		card{"/pl/oferta/a-3", "600 000 zł", "40 m²"},
	)
	h := newHarness(t, testConfig(), sitePage(t, map[int]string{1: page1, 2: page2}))
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)

	worked, err := h.scraper.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	done, err := h.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)

	res := done.Result
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 3, res.ReportedCount)
	assert.Equal(t, []int{1234567, 600000}, res.Prices)
	assert.Equal(t, []int{22653, 15000}, res.PricesPerSqm)
	assert.Equal(t, 2, res.Diagnostics.PagesVisited)
	assert.Equal(t, 1, res.Diagnostics.Duplicates)
	assert.Equal(t, "fake", res.Diagnostics.Engine)
	assert.Equal(t, "absent", res.Diagnostics.ConsentStrategy)

	require.Len(t, h.sink.saved, 1)
	assert.Equal(t, mokotowTwo().Key(), h.sink.saved[0].Key())
	assert.Nil(t, h.queue.InProgress())

	worked, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestPageCapStopsPagination(t *testing.T) {
	cfg := testConfig()
	cfg.Scrape.MaxPagesPerTask = 1
	page1 := resultsPage(100, true, card{"/pl/oferta/a-1", "500 000 zł", "50 m²"})
	h := newHarness(t, cfg, sitePage(t, map[int]string{1: page1, 2: page1}))
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	done, err := h.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 1, done.Result.Diagnostics.PagesVisited)
}

func TestZeroListingsIsSuccess(t *testing.T) {
	h := newHarness(t, testConfig(), sitePage(t, map[int]string{1: resultsPage(0, false)}))
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	done, err := h.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 0, done.Result.Count)
	assert.Empty(t, done.Result.Prices)
}

func TestBlockedPageFailsWithoutRetry(t *testing.T) {
	blocked := `<html><head><title>Access Denied</title></head><body>Are you a robot? Complete the CAPTCHA.</body></html>`
	h := newHarness(t, testConfig(), sitePage(t, map[int]string{1: blocked}))
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	done, err := h.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, models.FailBotDetected, done.LastErrorKind)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Diagnostics.BotDetected)
	assert.Empty(t, h.queue.Pending())
	assert.Empty(t, h.sink.saved)
}

func TestNavigationFailureIsRetried(t *testing.T) {
	var mu sync.Mutex
	var tried []string
	h := newHarness(t, testConfig(), func() *browsertest.Page {
		p := browsertest.NewPage("about:blank", "")
		p.NavigateFunc = func(ctx context.Context, url string) error {
			mu.Lock()
			tried = append(tried, url)
			mu.Unlock()
			return errors.New("page load error net::ERR_CONNECTION_RESET")
		}
		return p
	})
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].ID)
	assert.Equal(t, models.StatusRetry, pending[0].Status)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, models.FailConnectionError, pending[0].LastErrorKind)
	assert.True(t, pending[0].NotBefore.After(time.Now()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, tried, 3, "every candidate URL is tried")
}

func TestTaskTimeoutRecyclesSession(t *testing.T) {
	cfg := testConfig()
	cfg.Scrape.TaskTimeout = 50 * time.Millisecond
	cfg.Scrape.NavTimeout = time.Second
	h := newHarness(t, cfg, func() *browsertest.Page {
		p := browsertest.NewPage("about:blank", "")
		p.NavigateFunc = func(ctx context.Context, url string) error {
			<-ctx.Done()
			return ctx.Err()
		}
		return p
	})
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.FailTimeoutAtPageLoad, pending[0].LastErrorKind)
	assert.Nil(t, h.manager.Current())
	require.Len(t, h.engine.Browsers, 1)
	assert.True(t, h.engine.Browsers[0].IsClosed())
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, testConfig(), func() *browsertest.Page {
		p := browsertest.NewPage("about:blank", "")
		p.NavigateFunc = func(ctx context.Context, url string) error {
			panic("renderer exploded")
		}
		return p
	})
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	done, err := h.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, models.FailUnknown, done.LastErrorKind)
	assert.Contains(t, done.LastError, "renderer exploded")

	assert.Nil(t, h.manager.Current(), "session is not reused after a panic")
	require.Len(t, h.engine.Browsers, 1)
	assert.True(t, h.engine.Browsers[0].IsClosed())
}

func TestExhaustedRetriesKeepDiagnostics(t *testing.T) {
	cfg := testConfig()
	cfg.Scrape.MaxRetries = 1
	h := newHarness(t, cfg, func() *browsertest.Page {
		p := browsertest.NewPage("about:blank", "")
		p.NavigateFunc = func(ctx context.Context, url string) error {
			return errors.New("page load error net::ERR_CONNECTION_RESET")
		}
		return p
	})
	ctx := context.Background()

	task, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	done, err := h.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, models.FailConnectionError, done.LastErrorKind)
	require.NotNil(t, done.Result)
	assert.Equal(t, "fake", done.Result.Diagnostics.Engine)
	assert.NotEmpty(t, done.Result.Diagnostics.Errors)
}

func TestMemoryPressureStopsTask(t *testing.T) {
	page1 := resultsPage(100, true, card{"/pl/oferta/a-1", "500 000 zł", "50 m²"})
	h := newHarness(t, testConfig(), sitePage(t, map[int]string{1: page1, 2: page1}))
	h.manager = browser.NewManager([]browser.Engine{h.engine},
		browser.HealthLimits{MemoryCriticalMB: 1000}, utils.NewDiscardLogger()).
		WithMemoryProbe(func(int) (uint64, error) { return 1500 << 20, nil })
	h.scraper.sessions = h.manager
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusRetry, pending[0].Status)
	assert.Equal(t, models.FailMemoryLimitReached, pending[0].LastErrorKind)
	assert.Nil(t, h.manager.Current())
	assert.Empty(t, h.sink.saved)
}

func TestSinkFailureRetriesTask(t *testing.T) {
	h := newHarness(t, testConfig(), sitePage(t, map[int]string{1: resultsPage(1, false, card{"/pl/oferta/a-1", "500 000 zł", "50 m²"})}))
	h.sink.err = errors.New("dial tcp: connection refused")
	h.scraper.save.BaseDelay = time.Millisecond
	h.scraper.save.MaxDelay = time.Millisecond
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.scraper.ProcessNext(ctx)
	require.NoError(t, err)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.FailConnectionError, pending[0].LastErrorKind)
}

func TestSessionReusedAcrossTasks(t *testing.T) {
	page1 := resultsPage(1, false, card{"/pl/oferta/a-1", "500 000 zł", "50 m²"})
	h := newHarness(t, testConfig(), sitePage(t, map[int]string{1: page1}))
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, mokotowTwo(), 0)
	require.NoError(t, err)
	_, err = h.queue.Enqueue(ctx, mokotowTwo(), 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		worked, err := h.scraper.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, worked)
	}
	assert.Equal(t, 1, h.engine.Launches)
	assert.Len(t, h.sink.saved, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig(), sitePage(t, nil))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.scraper.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSearchURL(t *testing.T) {
	city := *config.GetCityByCode("warszawa")

	u, err := SearchURL("https://www.otodom.pl/", city, mokotowTwo(), 2)
	require.NoError(t, err)
	assert.Equal(t,
		"https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa/warszawa/warszawa/mokotow?limit=72&page=2&roomsNumber=%5BTWO%5D",
		u)

	bad := mokotowTwo()
	bad.RoomType = "five"
	_, err = SearchURL("https://www.otodom.pl", city, bad, 1)
	assert.Error(t, err)
}

func TestCandidateURLs(t *testing.T) {
	urls, err := CandidateURLs("https://www.otodom.pl", *config.GetCityByCode("warszawa"), mokotowTwo())
	require.NoError(t, err)
	require.Len(t, urls, 3)
	assert.Contains(t, urls[0], "page=1")
	assert.Equal(t, "https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa/warszawa/warszawa/mokotow?roomsNumber=%5BTWO%5D", urls[1])
	assert.Equal(t, "https://www.otodom.pl/pl/oferty/sprzedaz/mieszkanie/warszawa/mokotow?roomsNumber=%5BTWO%5D", urls[2])
}

func TestDefaultStrategiesOnResultsPage(t *testing.T) {
	e := NewEngine(testConfig(), utils.NewDiscardLogger())
	html := resultsPage(412, true,
		card{"/pl/oferta/a-1", "1 234 567 zł", "54,5 m²"},
		card{"/pl/oferta/a-2", "Zapytaj o cenę", "48 m²"},
		card{"/pl/oferta/a-3", "30 000 zł", "40 m²"},
	)

	res, err := e.ExtractHTML(html)
	require.NoError(t, err)
	assert.Equal(t, 412, res.ReportedCount)
	require.Len(t, res.Listings, 1)
	assert.Equal(t, 1234567, res.Listings[0].Price)
	assert.Equal(t, 22653, res.Listings[0].PricePerSqm)
	assert.Equal(t, "/pl/oferta/a-1", res.Listings[0].URL)
}
