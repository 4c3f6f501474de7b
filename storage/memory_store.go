package storage

import (
	"context"
	"encoding/json"
	"sync"

	"otodom-stats/models"
)

// MemoryTaskStore keeps the collections in process memory. It survives
// nothing but is useful for tests and throwaway runs. Payloads are stored
// JSON-encoded so callers never share slices with the store.
type MemoryTaskStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryTaskStore creates an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{blobs: make(map[string][]byte)}
}

func (m *MemoryTaskStore) put(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = payload
	return nil
}

func (m *MemoryTaskStore) get(name string, v any) (bool, error) {
	m.mu.Lock()
	payload, ok := m.blobs[name]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(payload, v)
}

func (m *MemoryTaskStore) LoadQueue(ctx context.Context) ([]models.ScrapeTask, error) {
	var tasks []models.ScrapeTask
	_, err := m.get(collectionQueue, &tasks)
	return tasks, err
}

func (m *MemoryTaskStore) SaveQueue(ctx context.Context, tasks []models.ScrapeTask) error {
	return m.put(collectionQueue, tasks)
}

func (m *MemoryTaskStore) LoadInProgress(ctx context.Context) (*models.ScrapeTask, error) {
	var task *models.ScrapeTask
	_, err := m.get(collectionInProgress, &task)
	return task, err
}

func (m *MemoryTaskStore) SaveInProgress(ctx context.Context, task *models.ScrapeTask) error {
	return m.put(collectionInProgress, task)
}

func (m *MemoryTaskStore) LoadHistory(ctx context.Context) ([]models.ScrapeTask, error) {
	var tasks []models.ScrapeTask
	_, err := m.get(collectionHistory, &tasks)
	return tasks, err
}

func (m *MemoryTaskStore) SaveHistory(ctx context.Context, tasks []models.ScrapeTask) error {
	return m.put(collectionHistory, tasks)
}

func (m *MemoryTaskStore) Close() error { return nil }
