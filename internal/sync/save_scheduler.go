package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/annel0/voxel-tower/internal/storage"
	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultSaveDelay   = 10 * time.Second
	DefaultSaveTimeout = 5 * time.Second
)

// Config: секция sync конфигурации
type Config struct {
	SaveDelaySeconds   int  `yaml:"save_delay_seconds"`
	SaveTimeoutSeconds int  `yaml:"save_timeout_seconds"`
	NotifyRejections   bool `yaml:"notify_rejections"` // отвечать blockrejected на отклонённые блоки
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		SaveDelaySeconds:   int(DefaultSaveDelay / time.Second),
		SaveTimeoutSeconds: int(DefaultSaveTimeout / time.Second),
	}
}

// SaveDelay возвращает задержку сохранения
func (c Config) SaveDelay() time.Duration {
	if c.SaveDelaySeconds <= 0 {
		return DefaultSaveDelay
	}
	return time.Duration(c.SaveDelaySeconds) * time.Second
}

// SaveTimeout возвращает таймаут одного сохранения
func (c Config) SaveTimeout() time.Duration {
	if c.SaveTimeoutSeconds <= 0 {
		return DefaultSaveTimeout
	}
	return time.Duration(c.SaveTimeoutSeconds) * time.Second
}

// Exporter: источник снимков для сохранения (*tower.Tower)
type Exporter interface {
	Export() *tower.Snapshot
}

// SaveStats: счётчики планировщика сохранений
type SaveStats struct {
	Scheduled   int64     `json:"scheduled"`
	Saved       int64     `json:"saved"`
	Failed      int64     `json:"failed"`
	Pending     bool      `json:"pending"`
	LastSavedAt time.Time `json:"last_saved_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// SaveScheduler сохраняет башню после периода затишья.
// Schedule не блокирует: сохранение выполняется в горутине таймера,
// ошибки только логируются.
type SaveScheduler struct {
	source    Exporter
	repo      storage.TowerRepo
	timeout   time.Duration
	debouncer *Debouncer

	saveMu sync.Mutex // сохранения не перекрываются

	scheduled atomic.Int64
	saved     atomic.Int64
	failed    atomic.Int64

	statsMu     sync.RWMutex
	lastSavedAt time.Time
	lastError   string
}

// NewSaveScheduler создаёт планировщик для башни source и хранилища repo
func NewSaveScheduler(source Exporter, repo storage.TowerRepo, cfg Config) *SaveScheduler {
	s := &SaveScheduler{
		source:  source,
		repo:    repo,
		timeout: cfg.SaveTimeout(),
	}
	s.debouncer = NewDebouncer(cfg.SaveDelay(), s.save)
	logging.Info("⏱️ SaveScheduler: задержка сохранения %v", cfg.SaveDelay())
	return s
}

// Schedule откладывает сохранение до конца периода затишья
func (s *SaveScheduler) Schedule() {
	s.scheduled.Add(1)
	s.debouncer.Trigger()
}

// Flush синхронно выполняет ожидающее сохранение (при остановке сервера)
func (s *SaveScheduler) Flush() bool {
	return s.debouncer.Flush()
}

// Stop отменяет ожидающее сохранение
func (s *SaveScheduler) Stop() {
	s.debouncer.Stop()
}

// Stats возвращает текущие счётчики
func (s *SaveScheduler) Stats() SaveStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	return SaveStats{
		Scheduled:   s.scheduled.Load(),
		Saved:       s.saved.Load(),
		Failed:      s.failed.Load(),
		Pending:     s.debouncer.Pending(),
		LastSavedAt: s.lastSavedAt,
		LastError:   s.lastError,
	}
}

func (s *SaveScheduler) save() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap := s.source.Export()
	now := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.repo.Save(ctx, snap, now)

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if err != nil {
		s.failed.Add(1)
		s.lastError = err.Error()
		logging.GetSyncLogger().Error("❌ Ошибка сохранения башни: %v", err)
		return
	}
	s.saved.Add(1)
	s.lastSavedAt = now
	s.lastError = ""
	logging.GetSyncLogger().Debug("💾 Башня сохранена: уровни %d..%d", snap.MinHeight, snap.MaxHeight)
}

// Collectors возвращает prometheus-метрики планировщика для регистрации
func (s *SaveScheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "tower",
			Name:        "saves_total",
			Help:        "Сохранения башни по результату.",
			ConstLabels: prometheus.Labels{"result": "ok"},
		}, func() float64 { return float64(s.saved.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "tower",
			Name:        "saves_total",
			Help:        "Сохранения башни по результату.",
			ConstLabels: prometheus.Labels{"result": "error"},
		}, func() float64 { return float64(s.failed.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tower",
			Name:      "save_requests_total",
			Help:      "Запросы на отложенное сохранение (принятые блоки).",
		}, func() float64 { return float64(s.scheduled.Load()) }),
	}
}
