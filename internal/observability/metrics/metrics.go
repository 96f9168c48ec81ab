package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinic"

// ClinicMetrics exposes counters/histograms for booking, reminder and chat flows.
type ClinicMetrics struct {
	bookingTotal       *prometheus.CounterVec
	reminderTotal      *prometheus.CounterVec
	chatSendTotal      *prometheus.CounterVec
	offlineQueueTotal  *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

func NewClinicMetrics(reg prometheus.Registerer) *ClinicMetrics {
	m := &ClinicMetrics{
		bookingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "operations_total",
			Help:      "Appointment operations by outcome",
		}, []string{"operation", "outcome"}),
		reminderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "processed_total",
			Help:      "Reminder candidates by outcome",
		}, []string{"outcome"}),
		chatSendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat sends by delivery outcome",
		}, []string{"outcome"}),
		offlineQueueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "offline_queue_ops_total",
			Help:      "Offline queue operations",
		}, []string{"op"}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "async",
			Name:      "side_effect_failures_total",
			Help:      "Detached side effects that failed or panicked",
		}, []string{"task"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingTotal, m.reminderTotal, m.chatSendTotal, m.offlineQueueTotal, m.sideEffectFailures, m.httpLatency)
	return m
}

func (m *ClinicMetrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *ClinicMetrics) ObserveReminder(outcome string) {
	if m == nil {
		return
	}
	m.reminderTotal.WithLabelValues(outcome).Inc()
}

func (m *ClinicMetrics) ObserveChatSend(outcome string) {
	if m == nil {
		return
	}
	m.chatSendTotal.WithLabelValues(outcome).Inc()
}

func (m *ClinicMetrics) ObserveOfflineQueue(op string) {
	if m == nil {
		return
	}
	m.offlineQueueTotal.WithLabelValues(op).Inc()
}

func (m *ClinicMetrics) ObserveSideEffectFailure(task string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(task).Inc()
}

// ObserveHTTP records one request. route is the matched pattern, not the
// raw path, to keep label cardinality bounded.
func (m *ClinicMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, statusClass(status)).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
