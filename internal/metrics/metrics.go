package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sentrygate service.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	AccessEventsTotal  *prometheus.CounterVec
	FindingsTotal      *prometheus.CounterVec
	DeviceErrorsTotal  prometheus.Counter
	ScansTotal         prometheus.Counter
	ScanDuration       prometheus.Histogram
	PublishErrorsTotal prometheus.Counter
	StreamClients      prometheus.Gauge
}

// NewMetrics registers and returns all service metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrygate_decisions_total",
			Help: "Total number of access decisions by result and reason",
		}, []string{"result", "reason"}),
		AccessEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrygate_access_events_total",
			Help: "Total number of emitted access events by type",
		}, []string{"event_type"}),
		FindingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrygate_findings_total",
			Help: "Total number of emitted security findings by kind and severity",
		}, []string{"kind", "severity"}),
		DeviceErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentrygate_device_errors_total",
			Help: "Total number of terminal transport failures",
		}),
		ScansTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentrygate_scans_total",
			Help: "Total number of completed security audit cycles",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentrygate_scan_duration_seconds",
			Help:    "Duration of one security audit cycle",
			Buckets: prometheus.DefBuckets,
		}),
		PublishErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentrygate_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sentrygate_stream_clients",
			Help: "Number of connected event stream clients",
		}),
	}
}

// ObserveDecision records one access decision.
func (m *Metrics) ObserveDecision(granted bool, reason string) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.DecisionsTotal.WithLabelValues(result, reason).Inc()
}

// ObserveAccessEvent records one emitted access event.
func (m *Metrics) ObserveAccessEvent(eventType string) {
	if m == nil {
		return
	}
	m.AccessEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveFinding records one emitted security finding.
func (m *Metrics) ObserveFinding(kind, severity string) {
	if m == nil {
		return
	}
	m.FindingsTotal.WithLabelValues(kind, severity).Inc()
}

// ObserveDeviceError records one transport failure.
func (m *Metrics) ObserveDeviceError() {
	if m == nil {
		return
	}
	m.DeviceErrorsTotal.Inc()
}

// ObserveScan records one completed audit cycle and its duration.
func (m *Metrics) ObserveScan(seconds float64) {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(seconds)
}

// ObservePublishError records one NATS publish failure.
func (m *Metrics) ObservePublishError() {
	if m == nil {
		return
	}
	m.PublishErrorsTotal.Inc()
}

// StreamClientConnected adjusts the connected client gauge.
func (m *Metrics) StreamClientConnected(delta float64) {
	if m == nil {
		return
	}
	m.StreamClients.Add(delta)
}
