package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the board's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so packages and tests can skip wiring it.
type Metrics struct {
	mutations     *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	notifications *prometheus.CounterVec
	subscribers   prometheus.Gauge
	pushes        *prometheus.CounterVec
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capyboard",
			Name:      "mutations_total",
			Help:      "Board mutations by operation and result code.",
		}, []string{"op", "result"}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capyboard",
			Name:      "storage_errors_total",
			Help:      "Record store failures by operation.",
		}, []string{"op"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capyboard",
			Name:      "notifications_total",
			Help:      "State change notifications by trigger.",
		}, []string{"trigger"}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "capyboard",
			Name:      "stream_subscribers",
			Help:      "Open streaming channels.",
		}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capyboard",
			Name:      "stream_pushes_total",
			Help:      "Frames pushed to streaming channels by kind and result.",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) Mutation(op, result string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Notification(trigger string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) Push(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pushes.WithLabelValues(kind, result).Inc()
}
