package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigReadsEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_RESOURCE_ENVIRONMENT", "")
	t.Setenv("BOOKKEEPER_ENV", "Staging")
	t.Setenv("OTEL_ENABLED", "")

	cfg := DefaultConfig()
	require.Equal(t, "localhost:4318", cfg.OTLPEndpoint)
	require.Equal(t, "Staging", cfg.Environment)
	require.Equal(t, serviceName, cfg.ServiceName)
	require.False(t, cfg.Enabled)
}

func TestDisabledProviderUsesGlobalMeter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Environment = "Test"

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Meter("test"))
	require.Equal(t, "test", Environment())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestAttributeHelpers(t *testing.T) {
	attrs := FrameAttributes("dev", "orderBookL2", "partial")
	require.Len(t, attrs, 3)
	require.Equal(t, "orderBookL2", attrs[1].Value.AsString())

	req := RequestAttributes("dev", "GET", "/position", ResultApplied)
	require.Equal(t, "/position", req[2].Value.AsString())
}
