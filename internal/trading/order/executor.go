// Package order provides paced order submission to the primary venue
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// OrderExecutor implements the IOrderExecutor interface.
// It never retries: a failed call is reported and the next maker cycle requotes.
type OrderExecutor struct {
	venue  core.IPrimaryVenue
	logger core.ILogger

	mu          sync.RWMutex
	rateLimiter *rate.Limiter

	// Health status
	errorTimestamps []time.Time
	errorIndex      int // Current write index for ring buffer
	errorCapacity   int
	errorMu         sync.Mutex

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewOrderExecutor creates a new order executor instance
func NewOrderExecutor(venue core.IPrimaryVenue, logger core.ILogger) *OrderExecutor {
	return &OrderExecutor{
		venue:           venue,
		logger:          logger.WithField("component", "order_executor"),
		rateLimiter:     rate.NewLimiter(rate.Limit(25), 30), // 25/sec with burst of 30
		errorCapacity:   1000,
		errorTimestamps: make([]time.Time, 0, 1000),
		tracer:          telemetry.GetTracer("order-executor"),
		metrics:         telemetry.GetGlobalMetrics(),
	}
}

// SetRateLimit updates the rate limit
func (oe *OrderExecutor) SetRateLimit(limit float64, burst int) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	oe.rateLimiter = rate.NewLimiter(rate.Limit(limit), burst)
}

func (oe *OrderExecutor) wait(ctx context.Context) error {
	oe.mu.RLock()
	limiter := oe.rateLimiter
	oe.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}
	return nil
}

// PlaceLimitOrder submits one post-only GTC quote
func (oe *OrderExecutor) PlaceLimitOrder(ctx context.Context, req core.PlaceLimitOrderRequest) (core.OrderResult, error) {
	ctx, span := oe.tracer.Start(ctx, "PlaceLimitOrder",
		trace.WithAttributes(
			attribute.String("symbol", req.ContractID),
			attribute.String("side", string(req.Side)),
			attribute.String("price", req.Price.String()),
		),
	)
	defer span.End()

	if err := oe.wait(ctx); err != nil {
		return core.OrderResult{}, err
	}

	start := time.Now()
	res, err := oe.venue.PlaceLimitOrder(ctx, req)
	oe.metrics.RecordExchangeLatency(ctx, oe.venue.GetName(), "place", float64(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		oe.recordError()
		oe.metrics.IncOrdersFailed(ctx, req.ContractID, "place", "transport")
		oe.logger.Warn("Order placement failed",
			"symbol", req.ContractID,
			"side", req.Side,
			"price", req.Price,
			"error", err)
		return res, err
	}

	switch res.Kind {
	case core.ResultSuccess:
		oe.metrics.IncOrdersPlaced(ctx, req.ContractID, string(req.Side))
		oe.logger.Debug("Order placed",
			"symbol", req.ContractID,
			"side", req.Side,
			"price", req.Price,
			"quantity", req.Quantity,
			"order_id", res.Order.OrderID)
	case core.ResultVenueError:
		oe.recordError()
		oe.metrics.IncOrdersFailed(ctx, req.ContractID, "place", res.Kind.String())
		oe.logger.Warn("Order rejected by venue",
			"symbol", req.ContractID,
			"side", req.Side,
			"price", req.Price,
			"code", res.Code,
			"message", res.Message)
	case core.ResultMalformed:
		oe.recordError()
		oe.metrics.IncOrdersFailed(ctx, req.ContractID, "place", res.Kind.String())
		oe.logger.Error("Order response malformed",
			"symbol", req.ContractID,
			"side", req.Side,
			"message", res.Message,
			"raw", res.Raw)
	}
	return res, nil
}

// CancelOrder cancels one resting quote
func (oe *OrderExecutor) CancelOrder(ctx context.Context, contractID, orderID string) (core.OrderResult, error) {
	ctx, span := oe.tracer.Start(ctx, "CancelOrder",
		trace.WithAttributes(
			attribute.String("symbol", contractID),
			attribute.String("order_id", orderID),
		),
	)
	defer span.End()

	if err := oe.wait(ctx); err != nil {
		return core.OrderResult{}, err
	}

	start := time.Now()
	res, err := oe.venue.CancelOrder(ctx, contractID, orderID)
	oe.metrics.RecordExchangeLatency(ctx, oe.venue.GetName(), "cancel", float64(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		oe.recordError()
		oe.metrics.IncOrdersFailed(ctx, contractID, "cancel", "transport")
		return res, err
	}
	if res.OK() {
		oe.metrics.IncOrdersCancelled(ctx, contractID)
	} else {
		oe.metrics.IncOrdersFailed(ctx, contractID, "cancel", res.Kind.String())
	}
	return res, nil
}

// CheckHealth returns an error if the order executor is unhealthy
func (oe *OrderExecutor) CheckHealth() error {
	errCount := oe.getRecentErrorCount(5 * time.Minute)
	if errCount > 50 {
		return fmt.Errorf("high error rate: %d errors in last 5 minutes", errCount)
	}
	return nil
}

// recordError adds an error timestamp to track recent errors (Ring Buffer)
func (oe *OrderExecutor) recordError() {
	oe.errorMu.Lock()
	defer oe.errorMu.Unlock()

	if len(oe.errorTimestamps) < oe.errorCapacity {
		oe.errorTimestamps = append(oe.errorTimestamps, time.Now())
	} else {
		oe.errorTimestamps[oe.errorIndex] = time.Now()
		oe.errorIndex = (oe.errorIndex + 1) % oe.errorCapacity
	}
}

// getRecentErrorCount returns number of errors within duration
func (oe *OrderExecutor) getRecentErrorCount(duration time.Duration) int {
	oe.errorMu.Lock()
	defer oe.errorMu.Unlock()

	cutoff := time.Now().Add(-duration)
	count := 0
	for _, t := range oe.errorTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}
