package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MutationKind маркирует тип мутации заказа в метриках.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// ReconcilerMetrics содержит метрики мутаций заказов и согласования остатков.
type ReconcilerMetrics struct {
	// Счётчики жизненного цикла мутаций
	mutationsStarted   *prometheus.CounterVec
	mutationsCommitted *prometheus.CounterVec
	mutationsRejected  *prometheus.CounterVec

	// Счётчик перезапусков мутации после конфликта остатков
	conflictRetries *prometheus.CounterVec

	// Гистограмма времени выполнения мутации (включая retry)
	mutationDuration *prometheus.HistogramVec

	// Счётчик событий, записанных в transactional outbox
	outboxEvents prometheus.Counter

	// Gauge для активных unit of work
	activeMutations prometheus.Gauge
}

// NewReconcilerMetrics создаёт новый экземпляр метрик reconciler.
func NewReconcilerMetrics() *ReconcilerMetrics {
	return newReconcilerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newReconcilerMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcilerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcilerMetrics{
		mutationsStarted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_mutations_started_total",
			Help: "Total number of order mutations started",
		}, []string{"kind"}),
		mutationsCommitted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_mutations_committed_total",
			Help: "Total number of order mutations committed",
		}, []string{"kind"}),
		mutationsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_mutations_rejected_total",
			Help: "Total number of order mutations rejected without side effects",
		}, []string{"kind", "reason"}),
		conflictRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_conflict_retries_total",
			Help: "Total number of whole-mutation retries caused by stock conflicts",
		}, []string{"kind"}),
		mutationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_mutation_duration_seconds",
			Help:    "Duration of order mutations in seconds, retries included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"kind"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of events enqueued into transactional outbox",
		}),
		activeMutations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_active_order_mutations",
			Help: "Number of currently executing order mutations",
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

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordMutationStarted увеличивает счётчик запущенных мутаций.
func (m *ReconcilerMetrics) RecordMutationStarted(kind MutationKind) {
	m.mutationsStarted.WithLabelValues(string(kind)).Inc()
	m.activeMutations.Inc()
}

// RecordMutationCommitted увеличивает счётчик успешно зафиксированных мутаций.
func (m *ReconcilerMetrics) RecordMutationCommitted(kind MutationKind) {
	m.mutationsCommitted.WithLabelValues(string(kind)).Inc()
}

// RecordMutationRejected увеличивает счётчик отклонённых мутаций.
func (m *ReconcilerMetrics) RecordMutationRejected(kind MutationKind, reason string) {
	m.mutationsRejected.WithLabelValues(string(kind), reason).Inc()
}

// RecordConflictRetry увеличивает счётчик перезапусков после конфликта остатков.
func (m *ReconcilerMetrics) RecordConflictRetry(kind MutationKind) {
	m.conflictRetries.WithLabelValues(string(kind)).Inc()
}

// RecordMutationFinished уменьшает количество активных мутаций.
func (m *ReconcilerMetrics) RecordMutationFinished(kind MutationKind) {
	m.activeMutations.Dec()
}

// RecordMutationDuration записывает время выполнения мутации.
func (m *ReconcilerMetrics) RecordMutationDuration(kind MutationKind, duration time.Duration) {
	m.mutationDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReconcilerMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
