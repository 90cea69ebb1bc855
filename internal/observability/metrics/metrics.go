package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics exposes counters/histograms for scheduling flows.
// A nil *SchedulerMetrics is valid and records nothing.
type SchedulerMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	notifications     *prometheus.CounterVec
	notifyDropped     prometheus.Counter
	outboxTotal       *prometheus.CounterVec
	txRetries         prometheus.Counter
	cacheLookups      *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduler",
			Name:      "operations_total",
			Help:      "Scheduler operations by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduler",
			Name:      "operation_duration_seconds",
			Help:      "Latency of scheduler operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Patient notifications by channel and delivery status",
		}, []string{"channel", "status"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notifications",
			Name:      "dropped_total",
			Help:      "Notification tasks dropped because the dispatch queue was full",
		}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts by event type and result",
		}, []string{"event_type", "result"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "db",
			Name:      "tx_retries_total",
			Help:      "Serializable transactions retried after a transient conflict",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "directory",
			Name:      "cache_lookups_total",
			Help:      "Treatment catalog cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.notifications,
		m.notifyDropped,
		m.outboxTotal,
		m.txRetries,
		m.cacheLookups,
	)
	return m
}

func (m *SchedulerMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *SchedulerMetrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *SchedulerMetrics) ObserveNotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

func (m *SchedulerMetrics) ObserveOutbox(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(eventType, result).Inc()
}

func (m *SchedulerMetrics) ObserveTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *SchedulerMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
