package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otodom-stats/api"
	"otodom-stats/browser"
	"otodom-stats/config"
	"otodom-stats/queue"
	"otodom-stats/scraper/otodom"
	"otodom-stats/services"
	"otodom-stats/storage"
	"otodom-stats/utils"
)

func main() {
	report := flag.String("report", "", "print the stored price insights for a city and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		utils.NewLogger().Error("Invalid configuration: %v", err)
		os.Exit(1)
	}
	logger := utils.NewLoggerWith(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	pgStore, err := storage.NewPostgresAggregateStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer pgStore.Close()

	if *report != "" {
		code := printReport(pgStore, *report, logger)
		pgStore.Close()
		os.Exit(code)
	}

	logger.Info("=== Otodom statistics collector starting ===")
	logger.Info("Config: engines %v | page cap %d | retries %d | queue backend %s",
		cfg.Browser.Engines, cfg.Scrape.MaxPagesPerTask, cfg.Scrape.MaxRetries, cfg.QueueStore.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openTaskStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open %s task store: %v", cfg.QueueStore.Backend, err)
		os.Exit(1)
	}
	defer store.Close()

	q := queue.New(store, queue.Options{
		MaxRetries:   cfg.Scrape.MaxRetries,
		BaseDelay:    cfg.Scrape.RetryBaseDelay,
		MaxDelay:     cfg.Scrape.RetryMaxDelay,
		RetryOffset:  cfg.Scrape.RetryOffset,
		HistoryLimit: cfg.QueueStore.HistoryLimit,
	}, logger)
	orphans, err := q.Recover(ctx)
	if err != nil {
		logger.Error("Queue recovery failed: %v", err)
		os.Exit(1)
	}
	st := q.Status(ctx)
	logger.Info("Queue recovered: %d pending, %d in history, %d interrupted task(s) requeued",
		st.Pending, st.Completed+st.Failed, orphans)

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		logger.Error("Failed to create CSV writer: %v", err)
		os.Exit(1)
	}
	defer csvWriter.Close()
	sink := storage.MultiWriter{pgStore, csvWriter}

	engines, err := browser.EnginesFromNames(cfg.Browser.Engines, browser.LaunchOptions{
		ExecPath:     cfg.Browser.ChromeBin,
		Headless:     cfg.Browser.Headless,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
	})
	if err != nil {
		logger.Error("Invalid browser engine list: %v", err)
		os.Exit(1)
	}
	sessions := browser.NewManager(engines, browser.HealthLimits{
		MemoryWarnMB:     cfg.Health.MemoryWarnMB,
		MemoryCriticalMB: cfg.Health.MemoryCriticalMB,
		MaxPages:         cfg.Health.MaxPages,
		MaxAge:           cfg.Health.MaxAge,
	}, logger)
	defer sessions.Close()

	scraper := otodom.New(cfg, q, sessions,
		otodom.NewGuard(cfg, logger), otodom.NewEngine(cfg, logger), sink, logger)

	handler := api.NewHandler(q, sink, pgStore, sessions, logger)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(handler, cfg.HTTP.CORSOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = scraper.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	<-done
	logger.Info("Stopped.")
}

func openTaskStore(ctx context.Context, cfg *config.Config) (storage.TaskStore, error) {
	switch cfg.QueueStore.Backend {
	case "sqlite":
		return storage.NewGormTaskStore(cfg.QueueStore.SQLitePath)
	case "redis":
		return storage.NewRedisTaskStore(ctx, cfg.QueueStore.RedisAddr, cfg.QueueStore.RedisPrefix)
	case "memory":
		return storage.NewMemoryTaskStore(), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueStore.Backend)
}

func printReport(reader storage.AggregateReader, cityCode string, logger *utils.Logger) int {
	city := config.GetCityByCode(cityCode)
	if city == nil {
		logger.Error("Unknown city %q; supported: %v", cityCode, config.GetCityNames())
		return 1
	}
	records, err := reader.ListAggregates(context.Background(), city.Code)
	if err != nil {
		logger.Error("Failed to fetch aggregates from DB: %v", err)
		return 1
	}
	if len(records) == 0 {
		logger.Warn("No aggregates stored for %s yet", city.Code)
	}

	insightSvc := services.NewInsightService(logger)
	insightSvc.Print(os.Stdout, insightSvc.Generate(city.Code, records))
	return 0
}
