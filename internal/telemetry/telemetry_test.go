package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate(), "disabled config is always valid")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"local grpc", func(c *Config) {}, false},
		{"local http", func(c *Config) { c.Protocol = "http"; c.Endpoint = "http://127.0.0.1:4318" }, false},
		{"ipv6 loopback", func(c *Config) { c.Endpoint = "[::1]:4317" }, false},
		{"insecure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, true},
		{"bad rate", func(c *Config) { c.SampleRate = 2 }, true},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tel.Degraded())

	_, span := tel.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsSampled())

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.Degraded())
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(ctx, "autodevops.stage.review")
	span.End()
	tel.AssertSpanExists(t, "autodevops.stage.review")

	counter, err := tel.Meter("test").Int64Counter("autodevops.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	m, ok := tel.Metric(ctx, "autodevops.test.count")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}
