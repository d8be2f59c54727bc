package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := SetupWithOptions("test-service", Options{})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	m := GetGlobalMetrics()
	assert.NotNil(t, m.OrdersPlacedTotal)
	m.IncOrdersPlaced(context.Background(), "SOL_USDC_PERP", "Bid")
	m.RecordCycleDuration(context.Background(), "maker", 12.5)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestMetricsHolder_Gauges(t *testing.T) {
	m := GetGlobalMetrics()

	m.SetActiveOrders("SOL_USDC_PERP", 4)
	m.SetPositionSize("backpack", "SOL", -1.5)
	m.SetPositionSize("lighter", "SOL", 1.2)
	m.SetHedgeDeltas(map[string]float64{"SOL": 0.3, "ETH": -1})
	m.SetHedgeDeltas(map[string]float64{"SOL": 0.1})

	assert.Equal(t, int64(4), m.GetActiveOrders()["SOL_USDC_PERP"])
	assert.Equal(t, -1.5, m.GetPositionSize("backpack")["SOL"])
	assert.Equal(t, 1.2, m.GetPositionSize("lighter")["SOL"])
	assert.Equal(t, map[string]float64{"SOL": 0.1}, m.GetHedgeDeltas())
}
