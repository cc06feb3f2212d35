package eventbus

import (
	"context"
	"net/http"
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsExporter периодически переносит Stats шины в Prometheus-метрики.
// Экспортер опирается только на интерфейс EventBus.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
	server   *http.Server
	// Prometheus metrics
	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg.
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	me := &MetricsExporter{
		bus:      bus,
		interval: time.Second,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
		}),
	}

	if reg != nil {
		reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	}
	return me
}

// Start запускает обновление метрик. Если addr не пуст, дополнительно
// поднимается отдельный HTTP-эндпоинт /metrics для gatherer.
func (m *MetricsExporter) Start(addr string, gatherer prometheus.Gatherer) {
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		m.server = &http.Server{Addr: addr, Handler: mux}
		go func() {
			logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
			}
		}()
	}
	go m.loop()
}

// Stop останавливает обновление метрик и HTTP-эндпоинт.
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.server.Shutdown(ctx)
	}
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	// Counter только растёт: храним прошлое значение и прибавляем дельту.
	var prev Stats

	for {
		select {
		case <-ticker.C:
			prev = m.update(prev)
		case <-m.quit:
			m.update(prev)
			return
		}
	}
}

func (m *MetricsExporter) update(prev Stats) Stats {
	stats := m.bus.Metrics()

	if d := stats.Published - prev.Published; stats.Published > prev.Published {
		m.published.Add(float64(d))
	}
	if d := stats.Consumed - prev.Consumed; stats.Consumed > prev.Consumed {
		m.consumed.Add(float64(d))
	}
	if d := stats.Dropped - prev.Dropped; stats.Dropped > prev.Dropped {
		m.dropped.Add(float64(d))
	}
	m.inflight.Set(float64(stats.InFlight))

	return stats
}
