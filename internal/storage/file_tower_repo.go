package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/klauspost/compress/zstd"
)

const towerFileName = "tower.json.zst"

// FileTowerRepo хранит башню в одном zstd-сжатом JSON файле.
// Запись атомарна: временный файл + rename.
type FileTowerRepo struct {
	basePath     string
	mu           sync.Mutex
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewFileTowerRepo создаёт файловый репозиторий в каталоге basePath
func NewFileTowerRepo(basePath string) (*FileTowerRepo, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", basePath, err)
	}

	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &FileTowerRepo{
		basePath:     basePath,
		compressor:   compressor,
		decompressor: decompressor,
	}, nil
}

// Path возвращает путь к файлу башни
func (f *FileTowerRepo) Path() string {
	return filepath.Join(f.basePath, towerFileName)
}

// Load реализует TowerRepo
func (f *FileTowerRepo) Load(ctx context.Context) (*tower.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	compressed, err := os.ReadFile(f.Path())
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения файла %s: %w", f.Path(), err)
	}

	data, err := f.decompressor.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка распаковки %s: %w", f.Path(), err)
	}

	snap, err := decodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save реализует TowerRepo
func (f *FileTowerRepo) Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error {
	data, err := encodeRecord(snap, timestamp)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	compressed := f.compressor.EncodeAll(data, nil)

	tmp, err := os.CreateTemp(f.basePath, towerFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ошибка записи %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ошибка закрытия %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ошибка переименования %s: %w", tmpName, err)
	}
	return nil
}

// Close реализует TowerRepo
func (f *FileTowerRepo) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.decompressor.Close()
	return f.compressor.Close()
}
