package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertLoginFailureSpike AlertType = "login_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is invoked when an anomaly is detected. It runs with the
// collector's lock held and must not block.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = time.Minute
	defaultLoginFailureThreshold = 50
)

// metricsCollector counts audit events in Prometheus and watches the login
// failure rate over a sliding window.
type metricsCollector struct {
	events   *prometheus.CounterVec
	requests *prometheus.HistogramVec

	mu             sync.Mutex
	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int
	alertFn        AlertFunc
	now            func() time.Time
}

func newMetricsCollector(reg prometheus.Registerer, alertFn AlertFunc) *metricsCollector {
	m := &metricsCollector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_auth_events_total",
			Help: "Authentication events by type.",
		}, []string{"event"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chorus_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		alertFn:        alertFn,
		now:            time.Now,
	}
	if reg != nil {
		reg.MustRegister(m.events, m.requests)
	}
	return m
}

// recordEvent counts event and, for login failures, checks the spike
// threshold. Safe on a nil collector.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event)).Inc()
	if event == AuditLoginFailure && m.alertFn != nil {
		m.recordLoginFailure()
	}
}

func (m *metricsCollector) recordLoginFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.loginFailures = trimWindow(append(m.loginFailures, now), now, m.loginWindow)
	if len(m.loginFailures) < m.loginThreshold {
		return
	}
	m.alertFn(AlertEvent{
		Type:      AlertLoginFailureSpike,
		Message:   "login failure rate exceeds threshold",
		Count:     len(m.loginFailures),
		Threshold: m.loginThreshold,
		Timestamp: now,
	})
	// One alert per spike.
	m.loginFailures = m.loginFailures[:0]
}

// trimWindow drops entries older than now-window from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}

// instrument observes request latency labelled with the matched chi route
// pattern, so token values never become label values.
func (m *metricsCollector) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
