package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "heartbeat"

// Metrics contains all Prometheus metrics for the heartbeat listener
type Metrics struct {
	// Pulse metrics
	PulsesReceived prometheus.Counter
	BytesReceived  prometheus.Counter
	LastPulse      prometheus.Gauge
	PulseGap       prometheus.Histogram

	// Error metrics
	DecodeErrors  prometheus.Counter
	ReceiveErrors prometheus.Counter
	Timeouts      prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the metrics instance registered on the default registry
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics and registers them on reg
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PulsesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulses_received_total",
			Help:      "Total number of heartbeat pulses received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total number of pulse payload bytes received",
		}),
		LastPulse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pulse_timestamp_seconds",
			Help:      "Unix time of the last received pulse",
		}),
		PulseGap: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pulse_gap_seconds",
			Help:      "Time between consecutive pulses",
			Buckets:   prometheus.LinearBuckets(1, 1, 10), // 1s to 10s
		}),

		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of pulses whose payload could not be decoded",
		}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total number of socket receive errors other than timeouts",
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_timeouts_total",
			Help:      "Total number of silence timeouts that stopped the listener",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordPulse records a received pulse. A zero gap means there was no previous pulse.
func (m *Metrics) RecordPulse(sizeBytes int, at time.Time, gap time.Duration) {
	m.PulsesReceived.Inc()
	m.BytesReceived.Add(float64(sizeBytes))
	m.LastPulse.Set(float64(at.UnixNano()) / float64(time.Second))
	if gap > 0 {
		m.PulseGap.Observe(gap.Seconds())
	}
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordReceiveError increments the receive errors counter
func (m *Metrics) RecordReceiveError() {
	m.ReceiveErrors.Inc()
}

// RecordTimeout increments the silence timeouts counter
func (m *Metrics) RecordTimeout() {
	m.Timeouts.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
