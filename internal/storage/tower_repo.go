package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/annel0/voxel-tower/internal/tower"
)

// ErrNotFound: в хранилище ещё нет сохранённой башни.
// LoadOrCreate считает его равнозначным found == false.
var ErrNotFound = errors.New("tower not found")

// TowerRepo: контракт хранилища башни.
// Load вызывается один раз при старте, Save: после периода затишья.
type TowerRepo interface {
	// Load возвращает сохранённый снимок; found == false, если его ещё нет
	Load(ctx context.Context) (snap *tower.Snapshot, found bool, err error)

	// Save перезаписывает сохранённый снимок целиком
	Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error

	// Close закрывает соединение с хранилищем
	Close() error
}

// Record описывает сохраняемый документ: метка времени плюс поля снимка
type Record struct {
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	tower.Snapshot `bson:",inline"`
}

func encodeRecord(snap *tower.Snapshot, timestamp time.Time) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	data, err := json.Marshal(Record{Timestamp: timestamp.UTC(), Snapshot: *snap})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации башни: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*tower.Snapshot, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации башни: %w", err)
	}
	snap := rec.Snapshot
	return &snap, nil
}

// LoadOrCreate загружает башню из хранилища. Если снимка нет, он повреждён
// или хранилище недоступно, создаётся и сразу сохраняется башня по умолчанию.
// Второе значение сообщает, была ли башня загружена.
func LoadOrCreate(ctx context.Context, repo TowerRepo, cfg tower.Config) (*tower.Tower, bool) {
	snap, found, err := repo.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		found, err = false, nil
	}
	switch {
	case err != nil:
		logging.Warn("⚠️ Не удалось загрузить башню: %v, создаём новую", err)
	case !found:
		logging.Info("🆕 Сохранённой башни нет, создаём новую")
	default:
		t, err := tower.FromSnapshot(snap, cfg.MaximumLevels)
		if err == nil {
			logging.Info("📦 Башня загружена: уровни %d..%d, dimension=%d",
				t.MinHeight(), t.MaxHeight(), t.Dimension())
			return t, true
		}
		logging.Warn("⚠️ Сохранённый снимок отклонён: %v, создаём новую", err)
	}

	t := tower.New(cfg)
	if err := repo.Save(ctx, t.Export(), time.Now()); err != nil {
		logging.Error("❌ Не удалось сохранить новую башню: %v", err)
	}
	return t, false
}
