// Package metrics содержит метрики Prometheus сервиса сверки платежей.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payrecon"

// Metrics объединяет счётчики воркера и клиента банка. Методы безопасны для nil-получателя.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	ordersCompleted *prometheus.CounterVec
	partialMatches  prometheus.Counter
	bankRequests    *prometheus.CounterVec
}

// New создаёт метрики на отдельном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles, including skipped and failed ones.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		ordersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_completed_total",
			Help:      "Orders moved to completed, by source.",
		}, []string{"source"}),
		partialMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_matches_total",
			Help:      "Bank transactions that matched an order code but not amount or direction.",
		}),
		bankRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bank",
			Name:      "requests_total",
			Help:      "Bank portal requests by operation and outcome.",
		}, []string{"op", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.ordersCompleted,
		m.partialMatches,
		m.bankRequests,
	)

	return m
}

// Handler возвращает HTTP-обработчик для выдачи метрик.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// CycleFinished учитывает завершённый цикл сверки.
func (m *Metrics) CycleFinished(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	if took > 0 {
		m.cycleDuration.Observe(took.Seconds())
	}
}

// OrderCompleted учитывает заказ, переведённый в completed.
func (m *Metrics) OrderCompleted(source string) {
	if m == nil {
		return
	}
	m.ordersCompleted.WithLabelValues(source).Inc()
}

// PartialMatch учитывает частичное совпадение.
func (m *Metrics) PartialMatch() {
	if m == nil {
		return
	}
	m.partialMatches.Inc()
}

// BankRequest учитывает обращение к банку.
func (m *Metrics) BankRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.bankRequests.WithLabelValues(op, outcome).Inc()
}
