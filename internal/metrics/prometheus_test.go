package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/hyperate-agent/internal/metrics"
)

func TestNop(t *testing.T) {
	m := metrics.NewNop()

	require.NotPanics(t, func() {
		m.RecordStatus("connected")
		m.RecordReconnectScheduled(1, 2*time.Second)
		m.RecordReconnectExhausted()
		m.RecordHeartRate(72)
		m.RecordFrameSent("phx_join")
		m.RecordFrameReceived("phx_reply")
		m.RecordDecodeError()
		m.RecordTransportFailure("error")
	})
}

// metricValue returns the value of the single gauge or counter sample named name.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetValue() == label {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg, "test")

	m.RecordStatus("connecting")
	m.RecordStatus("connected")
	m.RecordReconnectScheduled(1, 2*time.Second)
	m.RecordReconnectScheduled(2, 4*time.Second)
	m.RecordHeartRate(72)
	m.RecordFrameSent("phx_join")
	m.RecordDecodeError()

	assert.Equal(t, 1.0, metricValue(t, reg, "test_connection_status", "connected"))
	assert.Equal(t, 0.0, metricValue(t, reg, "test_connection_status", "connecting"))
	assert.Equal(t, 2.0, metricValue(t, reg, "test_connection_reconnect_attempts_total", ""))
	assert.Equal(t, 72.0, metricValue(t, reg, "test_heart_rate_bpm", ""))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_protocol_frames_sent_total", "phx_join"))

	count, err := testutil.GatherAndCount(reg, "test_protocol_decode_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
