package otodom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"otodom-stats/antibot"
	"otodom-stats/browser"
	"otodom-stats/config"
	"otodom-stats/extract"
	"otodom-stats/models"
	"otodom-stats/queue"
	"otodom-stats/services"
	"otodom-stats/storage"
	"otodom-stats/utils"
)

// Scraper drains the task queue one task at a time, driving a single
// browser session through each target's result pages.
type Scraper struct {
	cfg      *config.Config
	logger   *utils.Logger
	queue    *queue.Queue
	sessions *browser.Manager
	guard    *antibot.Guard
	engine   *extract.Engine
	sink     storage.AggregateWriter
	limiter  *rate.Limiter
	save     *utils.RetryConfig
}

// New wires a Scraper. sink may be nil when results only live in history.
func New(cfg *config.Config, q *queue.Queue, sessions *browser.Manager, guard *antibot.Guard,
	engine *extract.Engine, sink storage.AggregateWriter, logger *utils.Logger) *Scraper {
	limit := rate.Inf
	if cfg.Scrape.NavPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.Scrape.NavPerMinute))
	}
	return &Scraper{
		cfg:      cfg,
		logger:   logger,
		queue:    q,
		sessions: sessions,
		guard:    guard,
		engine:   engine,
		sink:     sink,
		limiter:  rate.NewLimiter(limit, 1),
		save: &utils.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Second,
			Logger:      logger,
		},
	}
}

// NewGuard builds the anti-detection layer with the site's tables.
func NewGuard(cfg *config.Config, logger *utils.Logger) *antibot.Guard {
	return antibot.NewGuard(antibot.Options{
		Consent:        DefaultConsentRules(),
		Block:          DefaultBlockRules(),
		MinDelay:       cfg.Scrape.MinDelay,
		MaxDelay:       cfg.Scrape.MaxDelay,
		HoverSelectors: HoverSelectors,
	}, logger, nil)
}

// NewEngine builds the extraction engine with the site's tables.
func NewEngine(cfg *config.Config, logger *utils.Logger) *extract.Engine {
	bounds := extract.Bounds{
		MinPrice: cfg.Bounds.MinPrice,
		MaxPrice: cfg.Bounds.MaxPrice,
		MinArea:  cfg.Bounds.MinArea,
		MaxArea:  cfg.Bounds.MaxArea,
	}
	paging := extract.Pagination{
		PollInterval: 250 * time.Millisecond,
		WaitTimeout:  cfg.Scrape.NavTimeout / 3,
	}
	return extract.NewEngine(DefaultStrategies(), bounds, paging, logger)
}

// Run processes tasks until ctx is cancelled, polling when idle.
func (s *Scraper) Run(ctx context.Context) error {
	s.logger.Info("[otodom] Orchestrator started (page cap %d, task timeout %v)",
		s.cfg.Scrape.MaxPagesPerTask, s.cfg.Scrape.TaskTimeout)

	for {
		worked, err := s.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("[otodom] Queue error: %v", err)
		}
		if worked {
			continue
		}
		if err := utils.Sleep(ctx, s.cfg.Scrape.PollInterval); err != nil {
			break
		}
	}

	s.logger.Info("[otodom] Orchestrator stopped")
	return ctx.Err()
}

// ProcessNext runs the next eligible task, if any, to a terminal or retry
// state. It reports whether a task was taken.
func (s *Scraper) ProcessNext(ctx context.Context) (bool, error) {
	task, err := s.queue.DequeueNext(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return true, s.process(ctx, *task)
}

func (s *Scraper) process(ctx context.Context, task models.ScrapeTask) error {
	log := s.logger.WithFields(map[string]interface{}{
		"task":   task.ID,
		"target": task.Target.Key(),
		"retry":  task.RetryCount,
	})
	log.Info("[otodom] Starting task %s", task.Target.Key())
	started := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.Scrape.TaskTimeout)
	defer cancel()

	result, err := s.scrapeTask(taskCtx, task)
	if err == nil {
		err = s.persist(taskCtx, task.Target, result)
	}

	// Shutdown: the task stays in the in-progress slot and is recovered on
	// the next start.
	if err != nil && ctx.Err() != nil {
		s.sessions.Invalidate("shutdown during task")
		return ctx.Err()
	}

	if err == nil {
		log.Info("[otodom] Task done in %v: %d listings (reported %d) over %d pages",
			time.Since(started).Round(time.Millisecond), result.Count, result.ReportedCount, result.Diagnostics.PagesVisited)
		return s.queue.Complete(ctx, task.ID, result)
	}

	kind := services.Classify(err)
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		kind = models.FailTimeoutAtPageLoad
		err = fmt.Errorf("task exceeded %v: %w", s.cfg.Scrape.TaskTimeout, err)
	}
	if result != nil {
		result.AddError(err.Error())
	}

	// unknown_error covers recovered panics, after which the browser state
	// cannot be trusted either.
	switch kind {
	case models.FailTimeoutAtPageLoad, models.FailBrowserCrashed,
		models.FailSessionClosed, models.FailMemoryLimitReached, models.FailUnknown:
		s.sessions.Invalidate(string(kind))
	}

	log.Warn("[otodom] Task failed (%s): %v", kind, err)
	if kind.Retriable() {
		_, qerr := s.queue.Retry(ctx, task.ID, err, kind, result)
		return qerr
	}
	return s.queue.Fail(ctx, task.ID, err, kind, result)
}

// scrapeTask walks one target. A non-nil result may accompany an error and
// carries the diagnostics gathered so far.
func (s *Scraper) scrapeTask(ctx context.Context, task models.ScrapeTask) (result *models.AggregateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(models.FailUnknown, fmt.Errorf("panic: %v", r))
		}
	}()

	target := task.Target
	city := config.GetCityByCode(target.City)
	if city == nil {
		return nil, services.Wrap(models.FailUnknown, fmt.Errorf("unsupported city %q", target.City))
	}
	urls, err := CandidateURLs(s.cfg.Scrape.BaseURL, *city, target)
	if err != nil {
		return nil, services.Wrap(models.FailUnknown, err)
	}

	session, err := s.sessions.AcquireSession(ctx)
	if err != nil {
		return nil, err
	}
	defer s.sessions.Release(session)

	pc, err := s.guard.PrepareSession(ctx, session, city.Center)
	if err != nil {
		return nil, err
	}
	page := pc.Page
	defer func() {
		if cerr := page.Close(); cerr != nil {
			s.logger.Debug("[otodom] Closing page: %v", cerr)
		}
	}()

	partial := &models.AggregateResult{}
	partial.Diagnostics.Engine = session.Engine

	if err := s.navigateFirst(ctx, page, urls); err != nil {
		return partial, err
	}

	consent := s.guard.ResolveConsentWall(ctx, page)
	partial.Diagnostics.ConsentStrategy = consent.Strategy
	partial.Diagnostics.ConsentHandled = consent.Handled
	if !consent.Handled {
		s.logger.Warn("[otodom] %s: consent wall not dismissed (%s), extracting anyway",
			target.Key(), models.FailCookieNotAccepted)
	}

	block, err := s.guard.DetectBlock(ctx, page)
	if err != nil {
		return partial, err
	}
	if block.Blocked {
		partial.Diagnostics.BotDetected = true
		return partial, services.Wrap(models.FailBotDetected,
			fmt.Errorf("%w: %s", services.ErrBotDetected, block.Reason))
	}

	first, err := s.engine.ExtractPage(ctx, page, target, 1)
	if err != nil {
		return partial, err
	}
	pages := []models.PageExtractionResult{first}
	var pageErrs []string

	for current := 1; current < s.cfg.Scrape.MaxPagesPerTask; current++ {
		more, err := s.engine.HasNextPage(ctx, page)
		if err != nil {
			if fatal := s.pageError(ctx, err); fatal != nil {
				return partial, fatal
			}
			pageErrs = append(pageErrs, fmt.Sprintf("page %d: next check: %v", current, err))
			break
		}
		if !more {
			break
		}

		if err := s.sessions.CheckMemory(session); err != nil {
			return partial, err
		}

		s.guard.SimulateBrowsing(ctx, page)
		if err := s.limiter.Wait(ctx); err != nil {
			return partial, err
		}

		moved, err := s.engine.GoToNextPage(ctx, page, current)
		if err != nil {
			if fatal := s.pageError(ctx, err); fatal != nil {
				return partial, fatal
			}
			pageErrs = append(pageErrs, fmt.Sprintf("page %d: %v", current+1, err))
			break
		}
		if !moved {
			s.logger.Debug("[otodom] %s: pagination stopped after page %d", target.Key(), current)
			break
		}

		next, err := s.engine.ExtractPage(ctx, page, target, current+1)
		if err != nil {
			if fatal := s.pageError(ctx, err); fatal != nil {
				return partial, fatal
			}
			pageErrs = append(pageErrs, fmt.Sprintf("page %d: %v", current+1, err))
			break
		}
		pages = append(pages, next)
	}

	result = services.Aggregate(pages)
	result.Diagnostics.Engine = partial.Diagnostics.Engine
	result.Diagnostics.ConsentStrategy = partial.Diagnostics.ConsentStrategy
	result.Diagnostics.ConsentHandled = partial.Diagnostics.ConsentHandled
	for _, msg := range pageErrs {
		result.AddError(msg)
	}
	if result.Count == 0 {
		s.logger.Info("[otodom] %s: %s (reported %d)", target.Key(), models.FailNoListingsFound, result.ReportedCount)
	}
	return result, nil
}

// navigateFirst tries each candidate URL under its own timeout until one
// loads.
func (s *Scraper) navigateFirst(ctx context.Context, page browser.Page, urls []string) error {
	var errs []error
	var last error

	for _, u := range urls {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		navCtx, cancel := context.WithTimeout(ctx, s.cfg.Scrape.NavTimeout)
		err := page.Navigate(navCtx, u)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, browser.ErrSessionClosed) {
			return err
		}

		s.logger.Warn("[otodom] Navigation to %s failed: %v", u, err)
		errs = append(errs, fmt.Errorf("%s: %w", u, err))
		last = err
	}

	kind := services.Classify(last)
	if kind == models.FailUnknown {
		kind = models.FailNavigationError
	}
	return services.Wrap(kind, fmt.Errorf("%w: %w", services.ErrNoFirstPage, errors.Join(errs...)))
}

// pageError returns the error to abort with for a failure after the first
// page, or nil when pagination should merely stop.
func (s *Scraper) pageError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch services.Classify(err) {
	case models.FailSessionClosed, models.FailBrowserCrashed, models.FailMemoryLimitReached:
		return err
	}
	return nil
}

func (s *Scraper) persist(ctx context.Context, target models.TargetDescriptor, result *models.AggregateResult) error {
	if s.sink == nil {
		return nil
	}
	err := s.save.Do(ctx, "save aggregate "+target.Key(), func(int) error {
		return s.sink.SaveAggregate(ctx, target, result)
	})
	if err != nil {
		return services.Wrap(models.FailConnectionError, err)
	}
	return nil
}
