package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Результаты обработки newblock
const (
	ResultAccepted  = "accepted"
	ResultRejected  = "rejected"
	ResultMalformed = "malformed"
)

// Metrics: prometheus-метрики синхронизации башни (namespace tower)
type Metrics struct {
	placements *prometheus.CounterVec
	messages   *prometheus.CounterVec
	broadcasts prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации).
// connected: источник числа подключений для gauge connected_clients.
func NewMetrics(reg prometheus.Registerer, connected func() int) *Metrics {
	m := &Metrics{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tower",
			Name:      "placements_total",
			Help:      "Запросы на установку блока по результату.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tower",
			Name:      "messages_received_total",
			Help:      "Входящие websocket-сообщения по типу.",
		}, []string{"type"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tower",
			Name:      "broadcast_deliveries_total",
			Help:      "Сообщения newblock, поставленные в очереди клиентов.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.placements, m.messages, m.broadcasts)
		if connected != nil {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "tower",
				Name:      "connected_clients",
				Help:      "Текущее число websocket-подключений.",
			}, func() float64 { return float64(connected()) }))
		}
	}
	return m
}

func (m *Metrics) placement(result string) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(result).Inc()
}

func (m *Metrics) message(msgType string) {
	if m == nil {
		return
	}
	switch msgType {
	case MsgTypeNewBlock:
	default:
		msgType = "other"
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) delivered(n int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(float64(n))
}
