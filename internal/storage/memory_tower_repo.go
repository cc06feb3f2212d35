package storage

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/voxel-tower/internal/tower"
)

// MemoryTowerRepo хранит закодированную башню в памяти процесса.
// Используется для разработки и в тестах.
type MemoryTowerRepo struct {
	mu        sync.RWMutex
	data      []byte
	saves     int
	savedAt   time.Time
	loadError error
	saveError error
}

// NewMemoryTowerRepo создает пустой in-memory репозиторий
func NewMemoryTowerRepo() *MemoryTowerRepo {
	return &MemoryTowerRepo{}
}

// Load реализует TowerRepo
func (m *MemoryTowerRepo) Load(ctx context.Context) (*tower.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.loadError != nil {
		return nil, false, m.loadError
	}
	if m.data == nil {
		return nil, false, nil
	}
	snap, err := decodeRecord(m.data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save реализует TowerRepo
func (m *MemoryTowerRepo) Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveError != nil {
		return m.saveError
	}
	data, err := encodeRecord(snap, timestamp)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	m.savedAt = timestamp
	return nil
}

// Close реализует TowerRepo
func (m *MemoryTowerRepo) Close() error {
	return nil
}

// SaveCount возвращает количество успешных сохранений
func (m *MemoryTowerRepo) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// LastSavedAt возвращает метку времени последнего сохранения
func (m *MemoryTowerRepo) LastSavedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.savedAt
}

// FailLoads заставляет Load возвращать err (nil: снять ошибку)
func (m *MemoryTowerRepo) FailLoads(err error) {
	m.mu.Lock()
	m.loadError = err
	m.mu.Unlock()
}

// FailSaves заставляет Save возвращать err (nil: снять ошибку)
func (m *MemoryTowerRepo) FailSaves(err error) {
	m.mu.Lock()
	m.saveError = err
	m.mu.Unlock()
}
