package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string `yaml:"addr"`       // Адрес Redis сервера
	Password  string `yaml:"password"`   // Пароль (пустой если не требуется)
	DB        int    `yaml:"db"`         // Номер базы данных
	KeyPrefix string `yaml:"key_prefix"` // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "voxel:",
	}
}

// RedisTowerRepo хранит башню одним ключом в Redis
type RedisTowerRepo struct {
	client *redis.Client
	key    string
}

// NewRedisTowerRepo подключается к Redis и проверяет соединение
func NewRedisTowerRepo(ctx context.Context, config RedisConfig) (*RedisTowerRepo, error) {
	if config.Addr == "" {
		config.Addr = DefaultRedisConfig().Addr
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🔴 Connected to Redis at %s", config.Addr)
	return &RedisTowerRepo{
		client: client,
		key:    config.KeyPrefix + "tower",
	}, nil
}

// Load реализует TowerRepo
func (r *RedisTowerRepo) Load(ctx context.Context) (*tower.Snapshot, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get tower: %w", err)
	}

	snap, err := decodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save реализует TowerRepo
func (r *RedisTowerRepo) Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error {
	data, err := encodeRecord(snap, timestamp)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save tower: %w", err)
	}
	return nil
}

// Close реализует TowerRepo
func (r *RedisTowerRepo) Close() error {
	return r.client.Close()
}
