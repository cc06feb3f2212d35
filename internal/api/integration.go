package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
)

// ServerIntegration управляет жизненным циклом HTTP-сервера башни
type ServerIntegration struct {
	restServer *RestServer
	httpServer *http.Server
	listener   net.Listener
	errs       chan error
}

// NewServerIntegration создает HTTP-сервер по конфигурации
func NewServerIntegration(config Config) *ServerIntegration {
	return &ServerIntegration{
		restServer: NewRestServer(config),
		errs:       make(chan error, 1),
	}
}

// Start открывает порт и запускает сервер в отдельной горутине
func (si *ServerIntegration) Start() error {
	ln, err := net.Listen("tcp", si.restServer.addr)
	if err != nil {
		return err
	}
	si.listener = ln

	// Создаем HTTP сервер для graceful shutdown
	si.httpServer = &http.Server{
		Handler:           si.restServer.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := si.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Ошибка HTTP сервера: %v", err)
			si.errs <- err
		}
	}()

	logging.Info("✅ HTTP сервер запущен на %s", ln.Addr())
	logging.Info("📋 Доступные эндпоинты:")
	logging.Info("   GET  /tower.json  - Снимок башни")
	logging.Info("   GET  /socket      - WebSocket синхронизация")
	logging.Info("   GET  /health      - Проверка состояния")
	logging.Info("   GET  /api/stats   - Статистика сервера")
	logging.Info("   GET  /metrics     - Prometheus метрики")
	return nil
}

// Addr возвращает фактический адрес после Start
func (si *ServerIntegration) Addr() string {
	if si.listener == nil {
		return si.restServer.addr
	}
	return si.listener.Addr().String()
}

// Errors возвращает канал фатальных ошибок сервера
func (si *ServerIntegration) Errors() <-chan error {
	return si.errs
}

// Stop останавливает HTTP сервер, дожидаясь текущих запросов
func (si *ServerIntegration) Stop(ctx context.Context) error {
	logging.Info("🛑 Остановка HTTP сервера...")

	if si.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := si.httpServer.Shutdown(ctx); err != nil {
		logging.Error("❌ Ошибка при остановке HTTP сервера: %v", err)
		return err
	}

	logging.Info("✅ HTTP сервер остановлен")
	return nil
}

// GetRestServer возвращает REST сервер
func (si *ServerIntegration) GetRestServer() *RestServer {
	return si.restServer
}
