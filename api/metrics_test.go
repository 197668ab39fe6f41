package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []AlertEvent
}

func (r *alertRecorder) record(e AlertEvent) {
	r.mu.Lock()
	r.alerts = append(r.alerts, e)
	r.mu.Unlock()
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestLoginFailureSpikeAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.loginThreshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Zero(t, rec.count(), "no alert below threshold")

	collector.recordEvent(AuditLoginFailure)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, AlertLoginFailureSpike, rec.alerts[0].Type)
	assert.Equal(t, 5, rec.alerts[0].Count)
	assert.Equal(t, 5, rec.alerts[0].Threshold)
}

func TestOtherEventsDoNotAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.loginThreshold = 1

	collector.recordEvent(AuditLoginSuccess)
	collector.recordEvent(AuditRegisterFailure)
	assert.Zero(t, rec.count())
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	collector := newMetricsCollector(nil, nil)
	collector.loginThreshold = 1
	assert.NotPanics(t, func() { collector.recordEvent(AuditLoginFailure) })
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *metricsCollector
	assert.NotPanics(t, func() { collector.recordEvent(AuditLoginFailure) })
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.loginThreshold = 5
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	collector.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	now = now.Add(collector.loginWindow + time.Second)
	collector.recordEvent(AuditLoginFailure)
	assert.Zero(t, rec.count(), "failures outside the window must not count")
}

func TestMetricsResetAfterAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.loginThreshold = 3

	for i := 0; i < 3; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	require.Equal(t, 1, rec.count())

	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Equal(t, 1, rec.count(), "no second alert yet")

	collector.recordEvent(AuditLoginFailure)
	assert.Equal(t, 2, rec.count())
}

func TestEventCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := newMetricsCollector(reg, nil)

	collector.recordEvent(AuditRegister)
	collector.recordEvent(AuditLoginSuccess)
	collector.recordEvent(AuditLoginSuccess)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.events.WithLabelValues(string(AuditRegister))))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.events.WithLabelValues(string(AuditLoginSuccess))))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.events.WithLabelValues(string(AuditLogout))))
}

func TestInstrumentLabelsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := newMetricsCollector(reg, nil)

	r := chi.NewRouter()
	r.Use(collector.instrument)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/plain", func(http.ResponseWriter, *http.Request) {})

	for _, path := range []string{"/items/secret-1", "/items/secret-2", "/plain"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]uint64{}
	for _, mf := range families {
		if mf.GetName() != "chorus_http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			got[labels["route"]+" "+labels["status"]] = m.GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, map[string]uint64{"/items/{id} 418": 2, "/plain 200": 1}, got)
}
