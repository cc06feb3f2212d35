package api

import (
	"net/http"
	"time"

	"github.com/annel0/voxel-tower/internal/eventbus"
	"github.com/annel0/voxel-tower/internal/middleware"
	"github.com/annel0/voxel-tower/internal/network"
	towersync "github.com/annel0/voxel-tower/internal/sync"
	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SocketServer принимает websocket-подключения (network.TowerServer)
type SocketServer interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
	GetConnectedClients() int
}

// PlacementStatsProvider отдаёт счётчики блоков (network.TowerHandler)
type PlacementStatsProvider interface {
	Stats() network.PlacementStats
}

// SaveStatsProvider отдаёт счётчики сохранений (sync.SaveScheduler)
type SaveStatsProvider interface {
	Stats() towersync.SaveStats
}

// RestServer обслуживает HTTP: снимок башни, состояние, метрики и websocket
type RestServer struct {
	router     *gin.Engine
	tower      *tower.Tower
	sockets    SocketServer
	placements PlacementStatsProvider
	saves      SaveStatsProvider
	bus        eventbus.EventBus
	addr       string
	metrics    *ServerMetrics
}

// Config содержит конфигурацию для REST сервера.
// Любая зависимость, кроме Addr, может быть nil.
type Config struct {
	Addr        string               // адрес для запуска сервера, например ":8000"
	ServiceName string               // имя сервиса для otel и prometheus
	StaticDir   string               // каталог клиента; пусто: статика не раздаётся
	Registry    *prometheus.Registry // регистр метрик для /metrics

	Tower      *tower.Tower
	Sockets    SocketServer
	Placements PlacementStatsProvider
	Saves      SaveStatsProvider
	Bus        eventbus.EventBus
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.ServiceName == "" {
		config.ServiceName = "tower_http"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))

	loggerMw := middleware.NewRequestLogger("/health", "/metrics")
	router.Use(loggerMw.Handler())

	promMw := middleware.NewPrometheusMiddleware(config.ServiceName, config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	router.Use(middleware.CORS())

	server := &RestServer{
		router:     router,
		tower:      config.Tower,
		sockets:    config.Sockets,
		placements: config.Placements,
		saves:      config.Saves,
		bus:        config.Bus,
		addr:       config.Addr,
		metrics:    NewServerMetrics(),
	}

	server.setupRoutes(config.StaticDir)
	return server
}

// setupRoutes настраивает маршруты
func (rs *RestServer) setupRoutes(staticDir string) {
	rs.router.GET("/tower.json", rs.handleTower)
	rs.router.GET("/health", rs.handleHealth)

	if rs.sockets != nil {
		rs.router.GET("/socket", gin.WrapF(rs.sockets.HandleConnection))
	}

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
	}

	// Клиент башни раздаётся со всех остальных путей
	if staticDir != "" {
		rs.router.NoRoute(gin.WrapH(http.FileServer(http.Dir(staticDir))))
	}
}

// Handler возвращает http.Handler со всеми маршрутами
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Addr возвращает адрес, на котором будет запущен сервер
func (rs *RestServer) Addr() string {
	return rs.addr
}

// handleTower отдаёт текущий снимок башни
func (rs *RestServer) handleTower(c *gin.Context) {
	if rs.tower == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Башня не загружена",
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, rs.tower.Export())
}

// handleHealth возвращает состояние сервиса
func (rs *RestServer) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if rs.tower == nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"time":   time.Now().Unix(),
	})
}

// handleStats возвращает статистику сервера и башни
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	if rs.tower != nil {
		stats["tower"] = map[string]interface{}{
			"min_height":     rs.tower.MinHeight(),
			"max_height":     rs.tower.MaxHeight(),
			"dimension":      rs.tower.Dimension(),
			"maximum_levels": rs.tower.MaximumLevels(),
			"filled_cells":   rs.tower.FilledCount(),
		}
	}
	if rs.sockets != nil {
		stats["connected_clients"] = rs.sockets.GetConnectedClients()
	}
	if rs.placements != nil {
		stats["placements"] = rs.placements.Stats()
	}
	if rs.saves != nil {
		stats["saves"] = rs.saves.Stats()
	}
	if rs.bus != nil {
		stats["eventbus"] = rs.bus.Metrics()
	}

	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   memoryMB,
		"cpu_percent": cpuPercent,
		"server_time": time.Now().Unix(),
	}
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}
