package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/annel0/voxel-tower/internal/eventbus"
	"github.com/annel0/voxel-tower/internal/observability"
	"github.com/annel0/voxel-tower/internal/storage"
	towersync "github.com/annel0/voxel-tower/internal/sync"
	"github.com/annel0/voxel-tower/internal/tower"
	"gopkg.in/yaml.v3"
)

// DefaultPort: порт HTTP и websocket по умолчанию
const DefaultPort = 8000

// Config корневая структура конфигурации приложения
type Config struct {
	Tower     tower.Config         `yaml:"tower"`
	Server    ServerConfig         `yaml:"server"`
	Sync      towersync.Config     `yaml:"sync"`
	Storage   storage.Config       `yaml:"storage"`
	EventBus  eventbus.Config      `yaml:"eventbus"`
	Telemetry observability.Config `yaml:"telemetry"`
	LogLevel  string               `yaml:"log_level"`
}

// ServerConfig: секция server
type ServerConfig struct {
	ID             string   `yaml:"id"`           // идентификатор узла в событиях шины
	Port           int      `yaml:"port"`         // HTTP + websocket
	MetricsPort    int      `yaml:"metrics_port"` // отдельный /metrics; 0, только на основном порту
	StaticDir      string   `yaml:"static_dir"`   // каталог собранного клиента
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBufferSize int      `yaml:"send_buffer_size"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Tower:    tower.DefaultConfig(),
		Sync:     towersync.DefaultConfig(),
		Storage:  storage.DefaultConfig(),
		EventBus: eventbus.DefaultConfig(),
		Telemetry: observability.Config{
			ServiceName: "voxel-tower",
		},
		LogLevel: "INFO",
	}
}

// GetPort возвращает порт HTTP с приоритетом: config -> env PORT -> 8000
func (s *ServerConfig) GetPort() int {
	return getPortWithEnvFallback(s.Port, "PORT", DefaultPort)
}

// GetMetricsPort возвращает порт отдельного /metrics: config -> env TOWER_METRICS_PORT -> 0
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "TOWER_METRICS_PORT", 0)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Validate проверяет значения, которые нельзя исправить умолчаниями
func (c *Config) Validate() error {
	if c.Tower.Dimension > 0 && c.Tower.Dimension%2 == 0 {
		return fmt.Errorf("tower.dimension должен быть нечётным, получено %d", c.Tower.Dimension)
	}
	if c.Tower.MaximumLevels < 0 {
		return fmt.Errorf("tower.maximum_levels не может быть отрицательным")
	}
	if c.Tower.DefaultHeight < 0 {
		return fmt.Errorf("tower.default_height не может быть отрицательным")
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", используется ENV TOWER_CONFIG; если и он пуст, умолчания.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TOWER_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
