package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"otodom-stats/models"
)

// RedisTaskStore stores each queue collection as a JSON value under a
// prefixed key. Keys never expire.
type RedisTaskStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTaskStore initializes a Redis-backed TaskStore and pings it.
func NewRedisTaskStore(ctx context.Context, addr, prefix string) (*RedisTaskStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return &RedisTaskStore{client: client, prefix: prefix}, nil
}

func (s *RedisTaskStore) save(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", name, err)
	}
	if err := s.client.Set(ctx, s.prefix+name, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis: save %s: %w", name, err)
	}
	return nil
}

func (s *RedisTaskStore) load(ctx context.Context, name string, v any) error {
	val, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis: load %s: %w", name, err)
	}
	if err := json.Unmarshal(val, v); err != nil {
		return fmt.Errorf("redis: decode %s: %w", name, err)
	}
	return nil
}

func (s *RedisTaskStore) LoadQueue(ctx context.Context) ([]models.ScrapeTask, error) {
	var tasks []models.ScrapeTask
	err := s.load(ctx, collectionQueue, &tasks)
	return tasks, err
}

func (s *RedisTaskStore) SaveQueue(ctx context.Context, tasks []models.ScrapeTask) error {
	return s.save(ctx, collectionQueue, tasks)
}

func (s *RedisTaskStore) LoadInProgress(ctx context.Context) (*models.ScrapeTask, error) {
	var task *models.ScrapeTask
	err := s.load(ctx, collectionInProgress, &task)
	return task, err
}

func (s *RedisTaskStore) SaveInProgress(ctx context.Context, task *models.ScrapeTask) error {
	return s.save(ctx, collectionInProgress, task)
}

func (s *RedisTaskStore) LoadHistory(ctx context.Context) ([]models.ScrapeTask, error) {
	var tasks []models.ScrapeTask
	err := s.load(ctx, collectionHistory, &tasks)
	return tasks, err
}

func (s *RedisTaskStore) SaveHistory(ctx context.Context, tasks []models.ScrapeTask) error {
	return s.save(ctx, collectionHistory, tasks)
}

// Close closes the Redis client.
func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}
