package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := labels[pair.GetName()]; ok && v == pair.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestClinicMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClinicMetrics(reg)

	m.ObserveBooking("create", "conflict")
	m.ObserveBooking("create", "conflict")
	m.ObserveReminder("sent")
	m.ObserveChatSend("queued")
	m.ObserveOfflineQueue("ack")
	m.ObserveSideEffectFailure("appointment.email")
	m.ObserveHTTP("GET", "/doctors/{doctorID}/slots", 200, 12*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, reg, "clinic_appointments_operations_total", map[string]string{"operation": "create", "outcome": "conflict"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "clinic_reminders_processed_total", map[string]string{"outcome": "sent"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "clinic_chat_messages_total", map[string]string{"outcome": "queued"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "clinic_chat_offline_queue_ops_total", map[string]string{"op": "ack"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "clinic_async_side_effect_failures_total", map[string]string{"task": "appointment.email"}))
}

func TestClinicMetricsNilSafe(t *testing.T) {
	var m *ClinicMetrics
	m.ObserveBooking("create", "ok")
	m.ObserveReminder("sent")
	m.ObserveChatSend("delivered")
	m.ObserveOfflineQueue("fetch")
	m.ObserveSideEffectFailure("task")
	m.ObserveHTTP("GET", "/", 500, time.Second)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(503))
}
