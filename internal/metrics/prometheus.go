package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var statusKinds = []string{"disconnected", "connecting", "connected", "error"}

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	status             *prometheus.GaugeVec
	reconnects         prometheus.Counter
	reconnectDelay     prometheus.Histogram
	reconnectExhausted prometheus.Counter
	heartRate          prometheus.Gauge
	samples            prometheus.Counter
	framesSent         *prometheus.CounterVec
	framesReceived     *prometheus.CounterVec
	decodeErrors       prometheus.Counter
	transportFailures  *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates the collector and registers its metrics with reg
// (prometheus.DefaultRegisterer if nil). namespace defaults to "hyperate".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "hyperate"
	}

	p := &PrometheusCollector{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "status",
			Help:      "Current connection status (1 for the active kind).",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Total automatic reconnect attempts scheduled.",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt.",
			Buckets:   []float64{2, 4, 8, 16, 32, 60},
		}),
		reconnectExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_exhausted_total",
			Help:      "Times automatic reconnection gave up.",
		}),
		heartRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heart_rate_bpm",
			Help:      "Last received heart rate in beats per minute.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heart_rate_samples_total",
			Help:      "Total heart-rate updates received.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "frames_sent_total",
			Help:      "Outbound frames by event.",
		}, []string{"event"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "frames_received_total",
			Help:      "Inbound frames by event.",
		}, []string{"event"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transport_failures_total",
			Help:      "Unexpected transport closes and errors by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		p.status,
		p.reconnects,
		p.reconnectDelay,
		p.reconnectExhausted,
		p.heartRate,
		p.samples,
		p.framesSent,
		p.framesReceived,
		p.decodeErrors,
		p.transportFailures,
	)
	return p
}

// RecordStatus sets the gauge of the given kind to 1 and the others to 0.
func (p *PrometheusCollector) RecordStatus(status string) {
	for _, kind := range statusKinds {
		v := 0.0
		if kind == status {
			v = 1
		}
		p.status.WithLabelValues(kind).Set(v)
	}
}

// RecordReconnectScheduled counts the attempt and observes its delay.
func (p *PrometheusCollector) RecordReconnectScheduled(_ int, delay time.Duration) {
	p.reconnects.Inc()
	p.reconnectDelay.Observe(delay.Seconds())
}

// RecordReconnectExhausted counts a give-up.
func (p *PrometheusCollector) RecordReconnectExhausted() {
	p.reconnectExhausted.Inc()
}

// RecordHeartRate sets the heart-rate gauge.
func (p *PrometheusCollector) RecordHeartRate(bpm int) {
	p.heartRate.Set(float64(bpm))
	p.samples.Inc()
}

// RecordFrameSent counts an outbound frame.
func (p *PrometheusCollector) RecordFrameSent(event string) {
	p.framesSent.WithLabelValues(event).Inc()
}

// RecordFrameReceived counts an inbound frame.
func (p *PrometheusCollector) RecordFrameReceived(event string) {
	p.framesReceived.WithLabelValues(event).Inc()
}

// RecordDecodeError counts an undecodable frame.
func (p *PrometheusCollector) RecordDecodeError() {
	p.decodeErrors.Inc()
}

// RecordTransportFailure counts a transport failure.
func (p *PrometheusCollector) RecordTransportFailure(reason string) {
	p.transportFailures.WithLabelValues(reason).Inc()
}
