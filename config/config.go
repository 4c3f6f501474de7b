package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Postgres struct {
		Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
		Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
		User     string `env:"POSTGRES_USER" envDefault:"scraper"`
		Password string `env:"POSTGRES_PASSWORD" envDefault:"scraper123"`
		DB       string `env:"POSTGRES_DB" envDefault:"kalkulator"`
		SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	}

	QueueStore struct {
		// Backend is one of "sqlite", "redis" or "memory".
		Backend      string `env:"QUEUE_BACKEND" envDefault:"sqlite"`
		SQLitePath   string `env:"QUEUE_SQLITE_PATH" envDefault:"./data/queue.db"`
		RedisAddr    string `env:"QUEUE_REDIS_ADDR" envDefault:"localhost:6379"`
		RedisPrefix  string `env:"QUEUE_REDIS_PREFIX" envDefault:"otodom:queue:"`
		HistoryLimit int    `env:"QUEUE_HISTORY_LIMIT" envDefault:"500"`
	}

	Browser struct {
		// Engines is the ordered list of engines tried on launch.
		Engines      []string `env:"BROWSER_ENGINES" envDefault:"chromedp,rod"`
		ChromeBin    string   `env:"CHROME_BIN"`
		Headless     bool     `env:"BROWSER_HEADLESS" envDefault:"true"`
		WindowWidth  int      `env:"BROWSER_WINDOW_WIDTH" envDefault:"1920"`
		WindowHeight int      `env:"BROWSER_WINDOW_HEIGHT" envDefault:"1080"`
	}

	Health struct {
		MemoryWarnMB     int           `env:"HEALTH_MEMORY_WARN_MB" envDefault:"700"`
		MemoryCriticalMB int           `env:"HEALTH_MEMORY_CRITICAL_MB" envDefault:"1200"`
		MaxPages         int           `env:"HEALTH_MAX_PAGES" envDefault:"60"`
		MaxAge           time.Duration `env:"HEALTH_MAX_AGE" envDefault:"30m"`
	}

	Scrape struct {
		BaseURL         string        `env:"SCRAPE_BASE_URL" envDefault:"https://www.otodom.pl"`
		MaxPagesPerTask int           `env:"SCRAPE_MAX_PAGES_PER_TASK" envDefault:"5"`
		TaskTimeout     time.Duration `env:"SCRAPE_TASK_TIMEOUT" envDefault:"5m"`
		NavTimeout      time.Duration `env:"SCRAPE_NAV_TIMEOUT" envDefault:"45s"`
		MaxRetries      int           `env:"SCRAPE_MAX_RETRIES" envDefault:"3"`
		RetryBaseDelay  time.Duration `env:"SCRAPE_RETRY_BASE_DELAY" envDefault:"30s"`
		RetryMaxDelay   time.Duration `env:"SCRAPE_RETRY_MAX_DELAY" envDefault:"10m"`
		RetryOffset     int           `env:"SCRAPE_RETRY_OFFSET" envDefault:"3"`
		MinDelay        time.Duration `env:"SCRAPE_MIN_DELAY" envDefault:"800ms"`
		MaxDelay        time.Duration `env:"SCRAPE_MAX_DELAY" envDefault:"2500ms"`
		PollInterval    time.Duration `env:"SCRAPE_POLL_INTERVAL" envDefault:"2s"`
		NavPerMinute    int           `env:"SCRAPE_NAV_PER_MINUTE" envDefault:"12"`
	}

	Bounds struct {
		MinPrice int     `env:"BOUNDS_MIN_PRICE" envDefault:"50000"`
		MaxPrice int     `env:"BOUNDS_MAX_PRICE" envDefault:"10000000"`
		MinArea  float64 `env:"BOUNDS_MIN_AREA" envDefault:"10"`
		MaxArea  float64 `env:"BOUNDS_MAX_AREA" envDefault:"1000"`
	}

	HTTP struct {
		Addr        string   `env:"HTTP_ADDR" envDefault:":8080"`
		CORSOrigins []string `env:"HTTP_CORS_ORIGINS" envDefault:"*"`
	}

	CSVOutputPath string `env:"CSV_OUTPUT_PATH" envDefault:"./output/aggregates.csv"`

	Log struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"text"`
	}
}

// Load reads the .env file and returns a populated Config struct.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the scraper cannot run with.
func (c *Config) Validate() error {
	if c.Scrape.MaxPagesPerTask < 1 {
		return fmt.Errorf("config: SCRAPE_MAX_PAGES_PER_TASK must be >= 1")
	}
	if c.Scrape.MaxRetries < 1 {
		return fmt.Errorf("config: SCRAPE_MAX_RETRIES must be >= 1")
	}
	if c.Scrape.MaxDelay < c.Scrape.MinDelay {
		return fmt.Errorf("config: SCRAPE_MAX_DELAY must not be below SCRAPE_MIN_DELAY")
	}
	if c.Bounds.MinPrice >= c.Bounds.MaxPrice || c.Bounds.MinArea >= c.Bounds.MaxArea {
		return fmt.Errorf("config: bounds must satisfy min < max")
	}
	if len(c.Browser.Engines) == 0 {
		return fmt.Errorf("config: BROWSER_ENGINES must name at least one engine")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.Postgres.Host +
		" port=" + c.Postgres.Port +
		" user=" + c.Postgres.User +
		" password=" + c.Postgres.Password +
		" dbname=" + c.Postgres.DB +
		" sslmode=" + c.Postgres.SSLMode
}
