package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"otodom-stats/models"
)

// queueCollection is one row per collection; the payload is the JSON of
// the whole collection so a save is a single atomic upsert.
type queueCollection struct {
	Name      string `gorm:"primaryKey;size:32"`
	Payload   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (queueCollection) TableName() string { return "queue_collections" }

// GormTaskStore persists the queue collections in SQLite through gorm.
type GormTaskStore struct {
	db *gorm.DB
}

// NewGormTaskStore opens (creating if needed) the SQLite file at path and
// migrates the schema. Use "file::memory:?cache=shared" for an in-memory DB.
func NewGormTaskStore(path string) (*GormTaskStore, error) {
	if path != "" && path[0] != ':' && filepath.Dir(path) != "." {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	if err := db.AutoMigrate(&queueCollection{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &GormTaskStore{db: db}, nil
}

func (s *GormTaskStore) save(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sqlite: marshal %s: %w", name, err)
	}

	row := queueCollection{Name: name, Payload: string(payload), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", name, err)
	}
	return nil
}

func (s *GormTaskStore) load(ctx context.Context, name string, v any) error {
	var row queueCollection
	err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: load %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(row.Payload), v); err != nil {
		return fmt.Errorf("sqlite: decode %s: %w", name, err)
	}
	return nil
}

func (s *GormTaskStore) LoadQueue(ctx context.Context) ([]models.ScrapeTask, error) {
	var tasks []models.ScrapeTask
	err := s.load(ctx, collectionQueue, &tasks)
	return tasks, err
}

func (s *GormTaskStore) SaveQueue(ctx context.Context, tasks []models.ScrapeTask) error {
	return s.save(ctx, collectionQueue, tasks)
}

func (s *GormTaskStore) LoadInProgress(ctx context.Context) (*models.ScrapeTask, error) {
	var task *models.ScrapeTask
	err := s.load(ctx, collectionInProgress, &task)
	return task, err
}

func (s *GormTaskStore) SaveInProgress(ctx context.Context, task *models.ScrapeTask) error {
	return s.save(ctx, collectionInProgress, task)
}

func (s *GormTaskStore) LoadHistory(ctx context.Context) ([]models.ScrapeTask, error) {
	var tasks []models.ScrapeTask
	err := s.load(ctx, collectionHistory, &tasks)
	return tasks, err
}

func (s *GormTaskStore) SaveHistory(ctx context.Context, tasks []models.ScrapeTask) error {
	return s.save(ctx, collectionHistory, tasks)
}

// Close releases the underlying connection pool.
func (s *GormTaskStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
