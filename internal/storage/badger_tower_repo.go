package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/dgraph-io/badger/v3"
)

var badgerTowerKey = []byte("tower:tower")

// BadgerTowerRepo хранит башню во встраиваемой BadgerDB
type BadgerTowerRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerTowerRepo открывает BadgerDB в <dataPath>/tower
func NewBadgerTowerRepo(dataPath string) (*BadgerTowerRepo, error) {
	dbPath := filepath.Join(dataPath, "tower")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerTowerRepo{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Load реализует TowerRepo
func (b *BadgerTowerRepo) Load(ctx context.Context) (*tower.Snapshot, bool, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if !b.isReady {
		return nil, false, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerTowerKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	snap, err := decodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save реализует TowerRepo
func (b *BadgerTowerRepo) Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if !b.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data, err := encodeRecord(snap, timestamp)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerTowerKey, data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Close реализует TowerRepo
func (b *BadgerTowerRepo) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isReady {
		return nil
	}
	b.isReady = false
	return b.db.Close()
}
