package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webrelay/webrelay/internal/common/cnst"
	"github.com/webrelay/webrelay/internal/common/config"
)

// Metrics holds the prometheus instruments for the gateway: browser
// command outcomes, admission-control pressure, session occupancy and
// control-connection health.
type Metrics struct {
	registry *prometheus.Registry

	cmdCnt  *prometheus.CounterVec
	cmdDur  *prometheus.HistogramVec
	cmdInfl prometheus.Gauge

	queueDepth    prometheus.Gauge
	queueRejected prometheus.Counter

	sessionsActive prometheus.Gauge

	reconnects        prometheus.Counter
	heartbeatFailures prometheus.Counter
	connStatus        *prometheus.GaugeVec
}

// New builds a Metrics instance with its own registry.
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = cnst.AppName
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	cmdCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "browser_commands_total"}, []string{"action", "status"})
	cmdDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "browser_command_duration_seconds", Buckets: buckets}, []string{"action"})
	cmdInfl := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "browser_commands_inflight"})
	r.MustRegister(cmdCnt, cmdDur, cmdInfl)

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "admission_queue_depth"})
	queueRejected := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "admission_rejected_total"})
	r.MustRegister(queueDepth, queueRejected)

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_active"})
	r.MustRegister(sessionsActive)

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "connection_reconnects_total"})
	heartbeatFailures := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "connection_heartbeat_failures_total"})
	connStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "connection_status"}, []string{"status"})
	r.MustRegister(reconnects, heartbeatFailures, connStatus)

	return &Metrics{
		registry:          r,
		cmdCnt:            cmdCnt,
		cmdDur:            cmdDur,
		cmdInfl:           cmdInfl,
		queueDepth:        queueDepth,
		queueRejected:     queueRejected,
		sessionsActive:    sessionsActive,
		reconnects:        reconnects,
		heartbeatFailures: heartbeatFailures,
		connStatus:        connStatus,
	}
}

// HTTPHandler returns the prometheus scrape handler for this registry.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one browser command outcome.
func (m *Metrics) ObserveCommand(action, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.cmdCnt.WithLabelValues(action, status).Inc()
	m.cmdDur.WithLabelValues(action).Observe(dur.Seconds())
}

// CommandStarted increments the in-flight command gauge.
func (m *Metrics) CommandStarted() {
	if m == nil {
		return
	}
	m.cmdInfl.Inc()
}

// CommandFinished decrements the in-flight command gauge.
func (m *Metrics) CommandFinished() {
	if m == nil {
		return
	}
	m.cmdInfl.Dec()
}

// SetQueueDepth reports the current admission queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// QueueRejected counts a fail-fast overload rejection.
func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.queueRejected.Inc()
}

// SetActiveSessions reports the current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// Reconnected counts a scheduled reconnection attempt.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// HeartbeatFailed counts a heartbeat-triggered forced close.
func (m *Metrics) HeartbeatFailed() {
	if m == nil {
		return
	}
	m.heartbeatFailures.Inc()
}

// SetConnStatus reports the current connection status as a one-hot gauge.
func (m *Metrics) SetConnStatus(status string) {
	if m == nil {
		return
	}
	m.connStatus.Reset()
	m.connStatus.WithLabelValues(status).Set(1)
}
