package otel

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_ExportsMetricsToRegistry(t *testing.T) {
	ctx := context.Background()
	reg := promclient.NewRegistry()
	shutdown, err := Setup(ctx, Config{ServiceName: "toolbox-test", MetricsEnabled: true, Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { shutdown(context.Background()) })

	counter, err := otel.Meter("test").Int64Counter("toolbox.test.calls")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rr := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "toolbox_test_calls")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("METRICS_ENABLED", "false")
	cfg := ConfigFromEnv("gateway")
	assert.Equal(t, "gateway", cfg.ServiceName)
	assert.True(t, cfg.TracingEnabled)
	assert.False(t, cfg.MetricsEnabled)
}
