package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/internal/trading/hedge"
	"hedged_mm/internal/trading/position"
	"hedged_mm/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHedgeInterval is the pause between hedging iterations.
const DefaultHedgeInterval = 5 * time.Second

// ErrPartialSnapshot is returned when a venue's positions could not be read and
// the hedger is configured not to act on half a picture.
var ErrPartialSnapshot = errors.New("position snapshot incomplete")

// HedgeReport summarises one hedging iteration.
type HedgeReport struct {
	CycleID      string
	Instructions []core.HedgeInstruction
	Submitted    int
	Failed       int
}

// Hedger keeps combined exposure across both venues near flat by trading on the secondary venue.
type Hedger struct {
	secondary  core.ISecondaryVenue
	aggregator *position.Aggregator
	calculator *hedge.Calculator
	journal    core.IJournal
	alerter    core.IAlerter
	clock      core.Clock
	logger     core.ILogger
	tracer     trace.Tracer
	metrics    *telemetry.MetricsHolder

	interval      time.Duration
	skipOnPartial bool

	lastIteration atomic.Int64
}

// HedgerOption customises a Hedger
type HedgerOption func(*Hedger)

func WithHedgerClock(c core.Clock) HedgerOption      { return func(h *Hedger) { h.clock = c } }
func WithHedgerJournal(j core.IJournal) HedgerOption { return func(h *Hedger) { h.journal = j } }
func WithHedgerAlerter(a core.IAlerter) HedgerOption { return func(h *Hedger) { h.alerter = a } }
func WithHedgeInterval(d time.Duration) HedgerOption { return func(h *Hedger) { h.interval = d } }
func WithSkipOnPartial(skip bool) HedgerOption       { return func(h *Hedger) { h.skipOnPartial = skip } }

// NewHedger creates a hedger. minAction is the smallest |delta| that is traded.
func NewHedger(primary core.IPrimaryVenue, secondary core.ISecondaryVenue, minAction decimal.Decimal, logger core.ILogger, opts ...HedgerOption) *Hedger {
	h := &Hedger{
		secondary:     secondary,
		calculator:    hedge.NewCalculator(minAction),
		clock:         core.RealClock{},
		logger:        logger.WithField("component", "hedger"),
		tracer:        telemetry.GetTracer("hedger"),
		metrics:       telemetry.GetGlobalMetrics(),
		interval:      DefaultHedgeInterval,
		skipOnPartial: true,
	}
	h.aggregator = position.NewAggregator(primary.GetAllPositions, secondary.GetPositions, logger)
	for _, opt := range opts {
		opt(h)
	}
	if h.interval <= 0 {
		h.interval = DefaultHedgeInterval
	}
	return h
}

// Run drives the hedging loop until ctx is cancelled or an iteration panics.
func (h *Hedger) Run(ctx context.Context) error {
	h.logger.Info("Starting hedging loop", "interval", h.interval, "skip_on_partial", h.skipOnPartial)

	for {
		if ctx.Err() != nil {
			h.logger.Info("Hedging loop stopped")
			return nil
		}

		err := guard(func() error {
			_, e := h.Iterate(ctx)
			return e
		})

		if isPanic(err) {
			h.logger.Error("Hedging iteration panicked", "error", err, "stack", panicStack(err))
			h.metrics.IncCycleErrors(ctx, loopHedge, "panic")
			h.notify(ctx, "Hedger terminated", err.Error(), core.AlertCritical, nil)
			return err
		}
		if err != nil && ctx.Err() == nil {
			kind := errorKind(err)
			h.metrics.IncCycleErrors(ctx, loopHedge, kind)
			h.logger.Warn("Hedging iteration failed", "kind", kind, "error", err)
		}

		if !sleep(ctx, h.clock, h.interval) {
			h.logger.Info("Hedging loop stopped")
			return nil
		}
	}
}

// Iterate reads both venues, computes deltas and submits one market order per
// asset. A failed submission is logged and does not stop the others.
func (h *Hedger) Iterate(ctx context.Context) (HedgeReport, error) {
	report := HedgeReport{CycleID: uuid.NewString()}
	logger := h.logger.WithField("cycle_id", report.CycleID)

	ctx, span := h.tracer.Start(ctx, "HedgeIteration", trace.WithAttributes(attribute.String("cycle_id", report.CycleID)))
	defer span.End()

	start := h.clock.Now()
	defer func() {
		h.metrics.RecordCycleDuration(ctx, loopHedge, float64(h.clock.Now().Sub(start).Milliseconds()))
		h.lastIteration.Store(h.clock.Now().UnixNano())
	}()

	snap := h.aggregator.Collect(ctx)
	h.publishPositions(snap)

	if !snap.Complete && h.skipOnPartial {
		return report, fmt.Errorf("%w: missing %s", ErrPartialSnapshot, strings.Join(missingVenues(snap), ", "))
	}

	deltas := h.calculator.Deltas(snap.Primary, snap.Secondary)
	gauge := make(map[string]float64, len(deltas))
	for k, v := range deltas {
		gauge[k], _ = v.Float64()
	}
	h.metrics.SetHedgeDeltas(gauge)

	report.Instructions = h.calculator.Compute(snap.Primary, snap.Secondary)
	if len(report.Instructions) == 0 {
		logger.Debug("Positions hedged", "assets", len(deltas))
		return report, nil
	}

	for _, inst := range report.Instructions {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if h.submit(ctx, report.CycleID, inst, logger) {
			report.Submitted++
		} else {
			report.Failed++
		}
	}

	if report.Failed > 0 {
		return report, fmt.Errorf("%d of %d hedge orders failed", report.Failed, len(report.Instructions))
	}
	return report, nil
}

func (h *Hedger) submit(ctx context.Context, cycleID string, inst core.HedgeInstruction, logger core.ILogger) bool {
	logger.Info("Submitting hedge",
		"asset", inst.AssetKey,
		"side", inst.Side(),
		"quantity", inst.Quantity)

	start := time.Now()
	res, err := h.secondary.PlaceMarketOrder(ctx, inst.AssetKey, inst.Quantity)
	h.metrics.RecordExchangeLatency(ctx, h.secondary.GetName(), "market_order", float64(time.Since(start).Milliseconds()))

	if err != nil {
		h.metrics.IncHedgeOrders(ctx, inst.AssetKey, "error")
		logger.Error("Hedge order failed", "asset", inst.AssetKey, "quantity", inst.Quantity, "error", err)
		h.notify(ctx, "Hedge order failed", err.Error(), core.AlertError, map[string]string{
			"asset":    inst.AssetKey,
			"quantity": inst.Quantity.String(),
		})
		return false
	}

	if h.journal != nil {
		if jerr := h.journal.RecordHedge(ctx, cycleID, inst, res); jerr != nil {
			logger.Warn("Failed to journal hedge", "error", jerr)
		}
	}

	h.metrics.IncHedgeOrders(ctx, inst.AssetKey, res.Kind.String())
	switch res.Kind {
	case core.ResultSuccess:
		logger.Info("Hedge order accepted", "asset", inst.AssetKey, "order_id", res.Order.OrderID)
		return true
	case core.ResultVenueError:
		logger.Error("Hedge order rejected", "asset", inst.AssetKey, "code", res.Code, "message", res.Message)
	default:
		logger.Error("Hedge order response malformed", "asset", inst.AssetKey, "message", res.Message, "raw", res.Raw)
	}
	h.notify(ctx, "Hedge order rejected", res.Message, core.AlertError, map[string]string{
		"asset":    inst.AssetKey,
		"quantity": inst.Quantity.String(),
		"kind":     res.Kind.String(),
	})
	return false
}

func (h *Hedger) publishPositions(snap position.Snapshot) {
	for asset, qty := range snap.Primary {
		v, _ := qty.Float64()
		h.metrics.SetPositionSize(string(core.VenuePrimary), asset, v)
	}
	for asset, qty := range snap.Secondary {
		v, _ := qty.Float64()
		h.metrics.SetPositionSize(string(core.VenueSecondary), asset, v)
	}
}

func (h *Hedger) notify(ctx context.Context, title, message string, level core.AlertLevel, fields map[string]string) {
	if h.alerter == nil {
		return
	}
	h.alerter.Alert(context.WithoutCancel(ctx), title, message, level, fields)
}

func missingVenues(snap position.Snapshot) []string {
	var missing []string
	if snap.Primary == nil {
		missing = append(missing, string(core.VenuePrimary))
	}
	if snap.Secondary == nil {
		missing = append(missing, string(core.VenueSecondary))
	}
	return missing
}

// CheckHealth fails when no iteration has finished within maxAge.
func (h *Hedger) CheckHealth(maxAge time.Duration) error {
	last := h.lastIteration.Load()
	if last == 0 {
		return fmt.Errorf("hedger has not completed an iteration")
	}
	if age := h.clock.Now().Sub(time.Unix(0, last)); age > maxAge {
		return fmt.Errorf("hedger stalled: last iteration %s ago", age.Truncate(time.Second))
	}
	return nil
}
