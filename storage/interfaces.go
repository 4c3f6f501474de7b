package storage

import (
	"context"
	"time"

	"otodom-stats/models"
)

// TaskStore persists the three queue collections. Each collection is saved
// as a whole and independently, so a crash between two saves leaves every
// collection in a consistent (if slightly stale) state.
type TaskStore interface {
	LoadQueue(ctx context.Context) ([]models.ScrapeTask, error)
	SaveQueue(ctx context.Context, tasks []models.ScrapeTask) error

	LoadInProgress(ctx context.Context) (*models.ScrapeTask, error)
	SaveInProgress(ctx context.Context, task *models.ScrapeTask) error

	LoadHistory(ctx context.Context) ([]models.ScrapeTask, error)
	SaveHistory(ctx context.Context, tasks []models.ScrapeTask) error

	Close() error
}

// AggregateWriter is the storage collaborator the orchestrator reports to.
type AggregateWriter interface {
	DeleteAggregatesForCity(ctx context.Context, city string) error
	SaveAggregate(ctx context.Context, target models.TargetDescriptor, result *models.AggregateResult) error
}

// AggregateRecord is one persisted per-district, per-room-type statistic.
type AggregateRecord struct {
	City           string          `json:"city"`
	District       string          `json:"district"`
	RoomType       models.RoomType `json:"roomType"`
	FetchDate      time.Time       `json:"fetchDate"`
	Count          int             `json:"count"`
	ReportedCount  int             `json:"reportedCount"`
	AvgPrice       float64         `json:"avgPrice"`
	AvgPricePerSqm float64         `json:"avgPricePerSqm"`
	Prices         []int           `json:"prices"`
	PricesPerSqm   []int           `json:"pricesPerSqm"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AggregateReader serves persisted statistics to the HTTP layer.
type AggregateReader interface {
	ListAggregates(ctx context.Context, city string) ([]AggregateRecord, error)
}

const (
	collectionQueue      = "queue"
	collectionInProgress = "in_progress"
	collectionHistory    = "history"
)
