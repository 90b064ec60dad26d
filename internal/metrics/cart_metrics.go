package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result для операций со снимками.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultHydrated  = "hydrated"
	ResultEmpty     = "empty"
	ResultDiscarded = "discarded"
)

// CartMetrics содержит метрики движка корзины.
// Все методы безопасны для nil-получателя, чтобы компоненты работали без метрик.
type CartMetrics struct {
	// Счётчики операций
	operations *prometheus.CounterVec
	noops      *prometheus.CounterVec

	notifications *prometheus.CounterVec

	// Персистентность
	snapshotLoads *prometheus.CounterVec
	snapshotSaves *prometheus.CounterVec
	saveDuration  prometheus.Histogram

	activeSessions prometheus.Gauge

	cleanupRuns    *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
}

// NewCartMetrics создаёт метрики в глобальном реестре Prometheus.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer создаёт метрики в переданном реестре (удобно для тестов).
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Total number of applied cart mutations grouped by operation",
		}, []string{"operation"}),
		noops: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_noop_operations_total",
			Help: "Total number of cart operations ignored because the item id was unknown",
		}, []string{"operation"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_notifications_total",
			Help: "Total number of toast notifications emitted by cart operations",
		}, []string{"kind"}),
		snapshotLoads: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_snapshot_loads_total",
			Help: "Total number of cart snapshot loads grouped by result",
		}, []string{"result"}),
		snapshotSaves: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_snapshot_saves_total",
			Help: "Total number of cart snapshot saves grouped by result",
		}, []string{"result"}),
		saveDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_cart_snapshot_save_duration_seconds",
			Help:    "Duration of cart snapshot writes in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		activeSessions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_cart_active_sessions",
			Help: "Number of cart sessions currently held in memory",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_snapshot_cleanup_runs_total",
			Help: "Total number of stale snapshot cleanup runs grouped by result",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_snapshot_cleanup_deleted_total",
			Help: "Total number of stale cart snapshots deleted",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation увеличивает счётчик применённых мутаций.
func (m *CartMetrics) RecordOperation(operation string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation).Inc()
}

// RecordNoop увеличивает счётчик операций над неизвестной позицией.
func (m *CartMetrics) RecordNoop(operation string) {
	if m == nil {
		return
	}
	m.noops.WithLabelValues(operation).Inc()
}

// RecordNotification увеличивает счётчик уведомлений.
func (m *CartMetrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// RecordSnapshotLoad фиксирует результат загрузки снимка.
func (m *CartMetrics) RecordSnapshotLoad(result string) {
	if m == nil {
		return
	}
	m.snapshotLoads.WithLabelValues(result).Inc()
}

// RecordSnapshotSave фиксирует результат и длительность записи снимка.
func (m *CartMetrics) RecordSnapshotSave(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
	m.saveDuration.Observe(duration.Seconds())
}

// RecordSessionOpened увеличивает количество активных сессий.
func (m *CartMetrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// RecordSessionClosed уменьшает количество активных сессий.
func (m *CartMetrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RecordCleanupRun фиксирует результат прогона очистки и число удалённых снимков.
func (m *CartMetrics) RecordCleanupRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}
