package eventbus

import (
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
)

// Config: секция eventbus конфигурации
type Config struct {
	URL            string `yaml:"url"`             // nats://host:4222; пусто, in-memory шина
	Stream         string `yaml:"stream"`          // имя JetStream стрима
	RetentionHours int    `yaml:"retention_hours"` // срок хранения событий
	BufferSize     int    `yaml:"buffer_size"`     // буфер in-memory шины
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Stream:         "TOWER",
		RetentionHours: 24,
		BufferSize:     1024,
	}
}

// New создаёт шину по конфигурации. Если NATS недоступен, используется
// in-memory шина: события, вспомогательный канал, сервис без них работает.
func New(cfg Config) EventBus {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		logging.Info("📨 EventBus: in-memory (буфер %d)", bufferSize)
		return NewMemoryBus(bufferSize)
	}

	retention := time.Duration(cfg.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	bus, err := NewJetStreamBus(cfg.URL, cfg.Stream, retention)
	if err != nil {
		logging.Warn("⚠️ EventBus: JetStream %s недоступен: %v, используем in-memory", cfg.URL, err)
		return NewMemoryBus(bufferSize)
	}
	logging.Info("📨 EventBus: JetStream %s, stream=%s", cfg.URL, cfg.Stream)
	return bus
}
