// Package prometheus provides the Prometheus-backed implementation of the
// metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wentianbu/sft/pkg/metrics"
)

// sftMetrics is the Prometheus implementation of metrics.SFTMetrics.
type sftMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	bytesTransferred    *prometheus.CounterVec
	transfersTotal      *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	activeSessions      prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewSFTMetrics creates a Prometheus-backed metrics.SFTMetrics. Returns the
// no-op implementation if metrics are disabled (InitRegistry not called).
func NewSFTMetrics() metrics.SFTMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSFTMetrics()
	}

	reg := metrics.GetRegistry()

	return &sftMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sft_requests_total",
				Help: "Total number of protocol requests by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "sft_request_duration_milliseconds",
				Help: "Duration of protocol requests in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"command"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sft_bytes_transferred_total",
				Help: "Total transfer payload bytes by direction",
			},
			[]string{"direction"},
		),
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sft_transfers_total",
				Help: "Total finished transfer tasks by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "sft_active_connections",
				Help: "Current number of open client connections",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "sft_active_sessions",
				Help: "Current number of logged-in sessions",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sft_connections_accepted_total",
				Help: "Total number of accepted client connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sft_connections_closed_total",
				Help: "Total number of closed client connections",
			},
		),
	}
}

func (m *sftMetrics) RecordRequest(command string, duration time.Duration, outcome string) {
	m.requestsTotal.WithLabelValues(command, outcome).Inc()
	m.requestDuration.WithLabelValues(command).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *sftMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *sftMetrics) RecordTransfer(direction string, outcome string) {
	m.transfersTotal.WithLabelValues(direction, outcome).Inc()
}

func (m *sftMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *sftMetrics) SetActiveSessions(count int32) {
	m.activeSessions.Set(float64(count))
}

func (m *sftMetrics) ConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *sftMetrics) ConnectionClosed() {
	m.connectionsClosed.Inc()
}
