package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/voxel-tower/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsWithoutPath(t *testing.T) {
	t.Setenv("TOWER_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Tower.DefaultHeight)
	assert.Equal(t, 5, cfg.Tower.Dimension)
	assert.Equal(t, 100, cfg.Tower.MaximumLevels)
	assert.Equal(t, 10, cfg.Sync.SaveDelaySeconds)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.False(t, cfg.Sync.NotifyRejections)
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
tower:
  default_height: 20
sync:
  save_delay_seconds: 3
  notify_rejections: true
storage:
  backend: file
  path: /tmp/tower
server:
  port: 9000
  static_dir: dist
eventbus:
  url: nats://localhost:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Tower.DefaultHeight)
	assert.Equal(t, 5, cfg.Tower.Dimension, "незаданные поля остаются по умолчанию")
	assert.Equal(t, 3, cfg.Sync.SaveDelaySeconds)
	assert.True(t, cfg.Sync.NotifyRejections)
	assert.Equal(t, storage.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/tower", cfg.Storage.Path)
	assert.Equal(t, 9000, cfg.Server.GetPort())
	assert.Equal(t, "dist", cfg.Server.StaticDir)
	assert.Equal(t, "nats://localhost:4222", cfg.EventBus.URL)
	assert.Equal(t, "TOWER", cfg.EventBus.Stream)
}

func TestLoad_FromEnv(t *testing.T) {
	path := writeConfig(t, "tower:\n  dimension: 7\n")
	t.Setenv("TOWER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Tower.Dimension)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "tower: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "tower:\n  dimension: 4\n"))
	assert.Error(t, err)
}

func TestPortFallbacks(t *testing.T) {
	var s ServerConfig

	t.Setenv("PORT", "")
	t.Setenv("TOWER_METRICS_PORT", "")
	assert.Equal(t, DefaultPort, s.GetPort())
	assert.Equal(t, 0, s.GetMetricsPort())

	t.Setenv("PORT", "8123")
	t.Setenv("TOWER_METRICS_PORT", "2112")
	assert.Equal(t, 8123, s.GetPort())
	assert.Equal(t, 2112, s.GetMetricsPort())

	t.Setenv("PORT", "not-a-port")
	assert.Equal(t, DefaultPort, s.GetPort())

	s.Port = 9999
	assert.Equal(t, 9999, s.GetPort())
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Tower, cfg.Tower)
	assert.Equal(t, Default().Sync, cfg.Sync)
	assert.Equal(t, storage.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "voxel:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, "tower", cfg.Storage.Mongo.Collection)
	assert.Equal(t, 256, cfg.Server.SendBufferSize)
	assert.Empty(t, cfg.EventBus.URL)
}
