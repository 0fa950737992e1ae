package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DepositsMinted.Inc()
	m.DepositsMinted.Inc()
	require.Equal(t, float64(2), counterValue(t, m.DepositsMinted))

	m.RpcQuorumFailures.WithLabelValues("eth_getLogs").Inc()
	require.Equal(t, float64(1), counterValue(t, m.RpcQuorumFailures.WithLabelValues("eth_getLogs")))
}

func TestGaugesSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LastScrapedBlock.Set(113)
	require.Equal(t, float64(113), gaugeValue(t, m.LastScrapedBlock))
}

func TestNewRegistersDistinctMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { New(reg) })
}
