package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
)

func TestInitTelemetry_Metrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel, err := InitTelemetry(config.TelemetryConfig{ServiceName: "hdxscraper-test", Metrics: true}, logger)
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	counter, err := tel.MeterProvider.Meter("test").Int64Counter("units_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	require.NotNil(t, tel.MetricsHandler)
	rec := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "units_total")
	assert.Contains(t, rec.Body.String(), "process_goroutines")
}

func TestInitTelemetry_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel, err := InitTelemetry(config.TelemetryConfig{ServiceName: "hdxscraper-test"}, logger)
	require.NoError(t, err)
	assert.Nil(t, tel.MetricsHandler)
	assert.NotNil(t, tel.TracerProvider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
