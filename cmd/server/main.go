package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-tower/internal/api"
	"github.com/annel0/voxel-tower/internal/config"
	"github.com/annel0/voxel-tower/internal/eventbus"
	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/annel0/voxel-tower/internal/network"
	"github.com/annel0/voxel-tower/internal/observability"
	"github.com/annel0/voxel-tower/internal/storage"
	towersync "github.com/annel0/voxel-tower/internal/sync"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $TOWER_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if level, ok := logging.ParseLevel(cfg.LogLevel); ok && os.Getenv("TOWER_LOG_LEVEL") == "" {
		logging.SetConsoleLevel(level)
	}

	serverID := cfg.Server.ID
	if serverID == "" {
		serverID = "tower-" + uuid.NewString()[:8]
	}
	logging.Info("🧱 Запуск сервера башни %s", serverID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === НАБЛЮДАЕМОСТЬ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === СОСТОЯНИЕ БАШНИ ===
	repo := storage.OpenTowerRepo(ctx, cfg.Storage)
	tw, loaded := storage.LoadOrCreate(ctx, repo, cfg.Tower)
	if !loaded {
		logging.Info("🆕 Создана новая башня высотой %d", tw.MaxHeight())
	}

	scheduler := towersync.NewSaveScheduler(tw, repo, cfg.Sync)
	registry.MustRegister(scheduler.Collectors()...)

	// === ШИНА СОБЫТИЙ ===
	bus := eventbus.New(cfg.EventBus)
	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus, registry)
	metricsAddr := ""
	if port := cfg.Server.GetMetricsPort(); port > 0 {
		metricsAddr = fmt.Sprintf(":%d", port)
	}
	busMetrics.Start(metricsAddr, registry)

	// === СИНХРОНИЗАЦИЯ ===
	sockets := network.NewTowerServer(network.ServerConfig{
		SendBufferSize: cfg.Server.SendBufferSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	handler := network.NewTowerHandler(tw, sockets, scheduler, network.HandlerOptions{
		ServerID:         serverID,
		Bus:              bus,
		Metrics:          network.NewMetrics(registry, sockets.GetConnectedClients),
		NotifyRejections: cfg.Sync.NotifyRejections,
	})
	sockets.SetHandler(handler)

	// === HTTP ===
	httpServer := api.NewServerIntegration(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Server.GetPort()),
		ServiceName: "tower_http",
		StaticDir:   cfg.Server.StaticDir,
		Registry:    registry,
		Tower:       tw,
		Sockets:     sockets,
		Placements:  handler,
		Saves:       scheduler,
		Bus:         bus,
	})
	if err := httpServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска HTTP сервера: %v", err)
		log.Fatalf("❌ Ошибка запуска HTTP сервера: %v", err)
	}

	logging.Info("✅ Сервер готов: башня %d..%d, dimension=%d, хранилище=%s",
		tw.MinHeight(), tw.MaxHeight(), tw.Dimension(), cfg.Storage.Backend)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case err := <-httpServer.Errors():
		logging.Error("❌ HTTP сервер завершился с ошибкой: %v", err)
	}

	// === GRACEFUL SHUTDOWN ===
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()

	if err := httpServer.Stop(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки HTTP сервера: %v", err)
	}
	// Stop дожидается начатой обработки сообщений: после него новых
	// Schedule не будет, и Flush сохранит последний принятый блок
	sockets.Stop()

	// Несохранённые изменения записываем сразу, не дожидаясь таймера
	if scheduler.Flush() {
		logging.Info("💾 Отложенное сохранение выполнено при остановке")
	}
	scheduler.Stop()

	busMetrics.Stop()
	if err := bus.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия шины событий: %v", err)
	}
	if err := repo.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия хранилища: %v", err)
	}
	if err := shutdownTelemetry(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки OpenTelemetry: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
