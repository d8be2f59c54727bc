package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal    = "hedged_mm_orders_placed_total"
	MetricOrdersCancelledTotal = "hedged_mm_orders_cancelled_total"
	MetricOrdersFailedTotal    = "hedged_mm_orders_failed_total"
	MetricHedgeOrdersTotal     = "hedged_mm_hedge_orders_total"
	MetricCycleErrorsTotal     = "hedged_mm_cycle_errors_total"
	MetricOrderUpdatesTotal    = "hedged_mm_order_updates_total"
	MetricCycleDuration        = "hedged_mm_cycle_duration_ms"
	MetricLatencyExchange      = "hedged_mm_latency_exchange_ms"
	MetricOrdersActive         = "hedged_mm_orders_active"
	MetricPositionSize         = "hedged_mm_position_size"
	MetricHedgeDelta           = "hedged_mm_hedge_delta"
)

// MetricsHolder holds initialized instruments. Recording helpers are no-ops
// until InitMetrics has run, so components can be used without telemetry.
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersCancelledTotal metric.Int64Counter
	OrdersFailedTotal    metric.Int64Counter
	HedgeOrdersTotal     metric.Int64Counter
	CycleErrorsTotal     metric.Int64Counter
	OrderUpdatesTotal    metric.Int64Counter
	CycleDuration        metric.Float64Histogram
	LatencyExchange      metric.Float64Histogram
	OrdersActive         metric.Int64ObservableGauge
	PositionSize         metric.Float64ObservableGauge
	HedgeDelta           metric.Float64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	activeOrdersMap map[string]int64
	positionSizeMap map[positionKey]float64
	hedgeDeltaMap   map[string]float64
}

type positionKey struct {
	venue string
	asset string
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap: make(map[string]int64),
			positionSizeMap: make(map[positionKey]float64),
			hedgeDeltaMap:   make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Quotes accepted by the primary venue"))
	if err != nil {
		return err
	}

	m.OrdersCancelledTotal, err = meter.Int64Counter(MetricOrdersCancelledTotal, metric.WithDescription("Quotes cancelled on the primary venue"))
	if err != nil {
		return err
	}

	m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal, metric.WithDescription("Order placements or cancels that did not succeed"))
	if err != nil {
		return err
	}

	m.HedgeOrdersTotal, err = meter.Int64Counter(MetricHedgeOrdersTotal, metric.WithDescription("Hedge orders submitted to the secondary venue"))
	if err != nil {
		return err
	}

	m.CycleErrorsTotal, err = meter.Int64Counter(MetricCycleErrorsTotal, metric.WithDescription("Loop iterations that ended with an error"))
	if err != nil {
		return err
	}

	m.OrderUpdatesTotal, err = meter.Int64Counter(MetricOrderUpdatesTotal, metric.WithDescription("Order update events received from the primary venue"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("Duration of one loop iteration excluding sleep"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of venue API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Quotes resting after the last ladder submission"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Signed net position per venue and asset"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(
					attribute.String("venue", key.venue),
					attribute.String("asset", key.asset),
				))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.HedgeDelta, err = meter.Float64ObservableGauge(MetricHedgeDelta, metric.WithDescription("Last computed hedge delta per asset"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for asset, val := range m.hedgeDeltaMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("asset", asset)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to record counters

func (m *MetricsHolder) IncOrdersPlaced(ctx context.Context, symbol, side string) {
	if m.OrdersPlacedTotal != nil {
		m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol), attribute.String("side", side)))
	}
}

func (m *MetricsHolder) IncOrdersCancelled(ctx context.Context, symbol string) {
	if m.OrdersCancelledTotal != nil {
		m.OrdersCancelledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	}
}

func (m *MetricsHolder) IncOrdersFailed(ctx context.Context, symbol, op, kind string) {
	if m.OrdersFailedTotal != nil {
		m.OrdersFailedTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("op", op),
			attribute.String("kind", kind),
		))
	}
}

func (m *MetricsHolder) IncHedgeOrders(ctx context.Context, asset, outcome string) {
	if m.HedgeOrdersTotal != nil {
		m.HedgeOrdersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("asset", asset), attribute.String("outcome", outcome)))
	}
}

func (m *MetricsHolder) IncCycleErrors(ctx context.Context, loop, kind string) {
	if m.CycleErrorsTotal != nil {
		m.CycleErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop), attribute.String("kind", kind)))
	}
}

func (m *MetricsHolder) IncOrderUpdates(ctx context.Context, symbol string) {
	if m.OrderUpdatesTotal != nil {
		m.OrderUpdatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	}
}

func (m *MetricsHolder) RecordCycleDuration(ctx context.Context, loop string, ms float64) {
	if m.CycleDuration != nil {
		m.CycleDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("loop", loop)))
	}
}

func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, venue, op string, ms float64) {
	if m.LatencyExchange != nil {
		m.LatencyExchange.Record(ctx, ms, metric.WithAttributes(attribute.String("venue", venue), attribute.String("op", op)))
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetPositionSize(venue, asset string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[positionKey{venue: venue, asset: asset}] = size
}

// SetHedgeDeltas replaces the delta gauge set; assets no longer needing a hedge drop out.
func (m *MetricsHolder) SetHedgeDeltas(deltas map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hedgeDeltaMap = make(map[string]float64, len(deltas))
	for k, v := range deltas {
		m.hedgeDeltaMap[k] = v
	}
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionSize(venue string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.positionSizeMap {
		if k.venue == venue {
			res[k.asset] = v
		}
	}
	return res
}

func (m *MetricsHolder) GetHedgeDeltas() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.hedgeDeltaMap {
		res[k] = v
	}
	return res
}
