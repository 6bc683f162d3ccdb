package observability_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/internal/observability"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := observability.Init(context.Background(), observability.Config{}, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.False(t, observability.MetricsEnabled())
	assert.False(t, observability.TracingEnabled())

	// no-ops while disabled
	observability.IncFrame("SEND", "in")
	observability.AddSessions(1)

	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Metrics(t *testing.T) {
	cfg := observability.Config{
		Metrics: observability.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"},
	}
	shutdown, err := observability.Init(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	assert.True(t, observability.MetricsEnabled())

	observability.IncFrame("SEND", "in")
	observability.IncFrame("SEND", "in")
	observability.IncError("unknown_subscription")
	observability.ObserveProduceLatency("broker", 0)

	n, err := testutil.GatherAndCount(observability.Registry(), "stompbridge_frames_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, shutdown(context.Background()))
	assert.False(t, observability.MetricsEnabled())
}

func TestConfig_SetDefaults(t *testing.T) {
	var cfg observability.Config
	cfg.SetDefaults()
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "stompbridge", cfg.Tracing.Resource.ServiceName)
}

func TestConfig_Validate(t *testing.T) {
	c := observability.Config{}
	c.SetDefaults()
	require.NoError(t, c.Validate())

	c.Tracing.SampleRatio = 1.5
	assert.Error(t, c.Validate())

	c.Tracing.SampleRatio = 1
	c.Metrics.Enabled = true
	c.Metrics.Path = "metrics"
	assert.Error(t, c.Validate())
}
