package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/annel0/voxel-tower/internal/logging"
)

// Backend: тип хранилища башни
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
	BackendRedis  Backend = "redis"
	BackendMongo  Backend = "mongo"
	BackendMaria  Backend = "maria"
)

// Config: секция storage конфигурации
type Config struct {
	Backend Backend     `yaml:"backend"`
	Path    string      `yaml:"path"` // каталог для file и badger
	Redis   RedisConfig `yaml:"redis"`
	Mongo   MongoConfig `yaml:"mongo"`
	Maria   MariaConfig `yaml:"maria"`
}

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	DSN string `yaml:"dsn"`
}

// DefaultConfig возвращает конфигурацию хранилища по умолчанию
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Path:    "data",
		Redis:   DefaultRedisConfig(),
	}
}

// NewTowerRepo открывает хранилище выбранного типа.
// Неизвестный тип: ошибка конфигурации.
func NewTowerRepo(ctx context.Context, cfg Config) (TowerRepo, error) {
	backend := Backend(strings.ToLower(string(cfg.Backend)))
	if backend == "" {
		backend = BackendMemory
	}
	path := cfg.Path
	if path == "" {
		path = "data"
	}

	switch backend {
	case BackendMemory:
		return NewMemoryTowerRepo(), nil
	case BackendFile:
		return NewFileTowerRepo(path)
	case BackendBadger:
		return NewBadgerTowerRepo(path)
	case BackendRedis:
		return NewRedisTowerRepo(ctx, cfg.Redis)
	case BackendMongo:
		return NewMongoTowerRepo(ctx, cfg.Mongo)
	case BackendMaria:
		if cfg.Maria.DSN == "" {
			return nil, fmt.Errorf("storage.maria.dsn не задан")
		}
		return NewMariaTowerRepo(ctx, cfg.Maria.DSN)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %q", cfg.Backend)
	}
}

// OpenTowerRepo работает как NewTowerRepo, но не падает: при ошибке открытия
// хранилища сервис продолжает работу с памятью процесса.
func OpenTowerRepo(ctx context.Context, cfg Config) TowerRepo {
	repo, err := NewTowerRepo(ctx, cfg)
	if err != nil {
		logging.Error("❌ Хранилище %q недоступно: %v, используем память процесса", cfg.Backend, err)
		return NewMemoryTowerRepo()
	}
	logging.Info("💾 Хранилище башни: %s", describeBackend(cfg.Backend))
	return repo
}

func describeBackend(b Backend) string {
	if b == "" {
		return string(BackendMemory)
	}
	return string(b)
}
