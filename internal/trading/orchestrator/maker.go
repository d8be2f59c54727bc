package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/internal/trading/ladder"
	apperrors "hedged_mm/pkg/errors"
	"hedged_mm/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStatusInterval = 60 * time.Second
	shutdownCancelTimeout = 10 * time.Second
)

// MarketMaker quotes a ladder on the primary venue, requoting from scratch every iteration.
type MarketMaker struct {
	venue    core.IPrimaryVenue
	executor core.IOrderExecutor
	journal  core.IJournal
	alerter  core.IAlerter
	updates  *OrderUpdateLog
	clock    core.Clock
	logger   core.ILogger
	tracer   trace.Tracer
	metrics  *telemetry.MetricsHolder

	cfg          core.TradingConfig
	resolved     bool
	cancelOnExit bool

	lastIteration atomic.Int64 // unix nanos of the last finished iteration
}

// MakerOption customises a MarketMaker
type MakerOption func(*MarketMaker)

func WithMakerClock(c core.Clock) MakerOption        { return func(m *MarketMaker) { m.clock = c } }
func WithMakerJournal(j core.IJournal) MakerOption   { return func(m *MarketMaker) { m.journal = j } }
func WithMakerAlerter(a core.IAlerter) MakerOption   { return func(m *MarketMaker) { m.alerter = a } }
func WithOrderUpdates(l *OrderUpdateLog) MakerOption { return func(m *MarketMaker) { m.updates = l } }
func WithCancelOnExit(enabled bool) MakerOption      { return func(m *MarketMaker) { m.cancelOnExit = enabled } }

// NewMarketMaker creates a maker for cfg. Contract attributes are resolved by Init.
// Resting quotes are swept whenever Run returns unless WithCancelOnExit(false) is given.
func NewMarketMaker(cfg core.TradingConfig, venue core.IPrimaryVenue, executor core.IOrderExecutor, logger core.ILogger, opts ...MakerOption) *MarketMaker {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	m := &MarketMaker{
		venue:    venue,
		executor: executor,
		clock:    core.RealClock{},
		logger:   logger.WithFields(map[string]interface{}{"component": "market_maker", "ticker": cfg.Ticker}),
		tracer:   telemetry.GetTracer("market-maker"),
		metrics:  telemetry.GetGlobalMetrics(),
		cfg:      cfg,

		cancelOnExit: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the trading config, including resolved contract attributes after Init.
func (m *MarketMaker) Config() core.TradingConfig {
	return m.cfg
}

// Init resolves contract id, tick size and lot size once. Any failure is a ConfigurationError.
func (m *MarketMaker) Init(ctx context.Context) error {
	if m.cfg.Ticker == "" {
		return apperrors.NewConfigurationError("ticker", "ticker is empty")
	}
	attrs, err := m.venue.GetContractAttributes(ctx, m.cfg.Ticker, m.cfg.Quantity)
	if err != nil {
		if apperrors.IsConfiguration(err) {
			return err
		}
		return &apperrors.ConfigurationError{Field: "ticker", Message: "failed to resolve contract attributes", Err: err}
	}
	if !attrs.TickSize.IsPositive() {
		return apperrors.NewConfigurationError("tick_size", "venue reported tick size %s for %s", attrs.TickSize, attrs.ContractID)
	}
	if !attrs.MinQuantity.IsPositive() {
		return apperrors.NewConfigurationError("min_quantity", "venue reported minimum quantity %s for %s", attrs.MinQuantity, attrs.ContractID)
	}
	if m.cfg.Quantity.LessThan(attrs.MinQuantity) {
		return apperrors.NewConfigurationError("quantity", "order quantity %s is below venue minimum %s", m.cfg.Quantity, attrs.MinQuantity)
	}

	m.cfg = m.cfg.WithAttributes(attrs)
	m.resolved = true
	m.logger.Info("Resolved contract attributes",
		"contract_id", attrs.ContractID,
		"tick_size", attrs.TickSize,
		"min_quantity", attrs.MinQuantity)
	return nil
}

// Run drives the maker loop until ctx is cancelled or a catastrophic failure occurs.
func (m *MarketMaker) Run(ctx context.Context) (err error) {
	if !m.resolved {
		if err := m.Init(ctx); err != nil {
			m.notify(ctx, "Market maker failed to start", err)
			return err
		}
	}

	if m.updates != nil {
		if err := m.venue.StartOrderStream(ctx, m.cfg.ContractID, m.updates.Record); err != nil {
			m.logger.Warn("Order update stream unavailable", "error", err)
		}
	}

	defer func() {
		if err != nil || m.cancelOnExit {
			m.shutdownCancel()
		}
	}()

	m.logger.Info("Starting market maker loop",
		"contract_id", m.cfg.ContractID,
		"max_orders", m.cfg.MaxOrders,
		"wait_time", m.cfg.WaitTime)

	state := MakerState{}
	for {
		if ctx.Err() != nil {
			m.logger.Info("Market maker loop stopped")
			return nil
		}

		var next MakerState
		iterErr := guard(func() error {
			var e error
			next, e = m.Iterate(ctx, state)
			return e
		})

		if isPanic(iterErr) {
			m.logger.Error("Market maker iteration panicked", "error", iterErr, "stack", panicStack(iterErr))
			m.metrics.IncCycleErrors(ctx, loopMaker, "panic")
			m.notify(ctx, "Market maker terminated", iterErr)
			return iterErr
		}
		state = next

		if iterErr != nil && ctx.Err() == nil {
			kind := errorKind(iterErr)
			m.metrics.IncCycleErrors(ctx, loopMaker, kind)
			if kind == "configuration" {
				m.logger.Error("Market maker configuration error", "error", iterErr)
				m.notify(ctx, "Market maker terminated", iterErr)
				return fmt.Errorf("%w: %w", ErrCatastrophic, iterErr)
			}
			m.logger.Warn("Market maker iteration failed", "kind", kind, "error", iterErr, "iteration", state.Iteration)
		}

		if !sleep(ctx, m.clock, m.cfg.WaitTime) {
			m.logger.Info("Market maker loop stopped")
			return nil
		}
	}
}

// Iterate runs one cancel, read position, quote pass and returns the state for the next one.
func (m *MarketMaker) Iterate(ctx context.Context, state MakerState) (MakerState, error) {
	if !m.resolved {
		return state, apperrors.NewConfigurationError("contract_id", "contract attributes not resolved")
	}

	state.Iteration++
	cycleID := uuid.NewString()
	logger := m.logger.WithFields(map[string]interface{}{"cycle_id": cycleID, "iteration": state.Iteration})

	ctx, span := m.tracer.Start(ctx, "MakerIteration", trace.WithAttributes(
		attribute.String("cycle_id", cycleID),
		attribute.Int64("iteration", state.Iteration),
	))
	defer span.End()

	start := m.clock.Now()
	defer func() {
		m.metrics.RecordCycleDuration(ctx, loopMaker, float64(m.clock.Now().Sub(start).Milliseconds()))
		m.lastIteration.Store(m.clock.Now().UnixNano())
	}()

	cancelled := m.cancelAll(ctx, state, logger)

	positioned, err := m.readPosition(ctx, cancelled)
	if err != nil {
		return cancelled.state, err
	}

	next, err := m.quote(ctx, positioned, cycleID, logger)
	next = m.logStatus(next, positioned, logger)
	return next, err
}

// cancelAll cancels every resting quote. The venue's open-order list is
// authoritative; tracked ids are the fallback when it cannot be read. Orders
// whose cancel failed stay tracked.
func (m *MarketMaker) cancelAll(ctx context.Context, state MakerState, logger core.ILogger) cancelledBook {
	ids := state.OpenOrderIDs
	open, err := m.venue.GetOpenOrders(ctx, m.cfg.ContractID)
	if err != nil {
		logger.Warn("Failed to fetch open orders, cancelling tracked orders", "tracked", len(ids), "error", err)
	} else {
		ids = make([]string, 0, len(open))
		for _, o := range open {
			ids = append(ids, o.OrderID)
		}
	}

	remaining := make([]string, 0)
	for _, id := range ids {
		res, err := m.executor.CancelOrder(ctx, m.cfg.ContractID, id)
		switch {
		case err != nil:
			logger.Warn("Failed to cancel order", "order_id", id, "error", err)
			remaining = append(remaining, id)
		case !res.OK():
			logger.Warn("Cancel not accepted", "order_id", id, "kind", res.Kind.String(), "code", res.Code, "message", res.Message)
			remaining = append(remaining, id)
		default:
			logger.Debug("Cancelled order", "order_id", id)
		}
	}

	if len(ids) > 0 {
		logger.Info("Cancelled open orders", "count", len(ids)-len(remaining), "failed", len(remaining))
	}

	state.OpenOrderIDs = remaining
	return cancelledBook{state: state}
}

// readPosition reads the signed position on the quoted contract. A missing entry is flat.
func (m *MarketMaker) readPosition(ctx context.Context, cb cancelledBook) (positionedBook, error) {
	positions, err := m.venue.GetAllPositions(ctx)
	if err != nil {
		return positionedBook{}, fmt.Errorf("fetch position: %w", err)
	}

	qty := decimal.Zero
	for _, p := range positions {
		if p.Symbol == m.cfg.ContractID {
			qty = p.Quantity
			break
		}
	}
	pos, _ := qty.Float64()
	m.metrics.SetPositionSize(string(core.VenuePrimary), m.cfg.ContractID, pos)

	return positionedBook{
		state:    cb.state,
		position: qty,
		skew:     ladder.ComputeSkew(qty, m.cfg.MaxPosition),
	}, nil
}

// quote reads a fresh book, builds the ladder for the current skew and places it.
func (m *MarketMaker) quote(ctx context.Context, pb positionedBook, cycleID string, logger core.ILogger) (MakerState, error) {
	state := pb.state

	book, err := m.venue.GetTopOfBook(ctx, m.cfg.ContractID)
	if err != nil {
		return state, fmt.Errorf("fetch book: %w", err)
	}

	levels, err := ladder.Generate(book, ladder.ParamsFromConfig(m.cfg), pb.skew.Mode)
	if err != nil {
		return state, fmt.Errorf("generate ladder: %w", err)
	}

	if pb.skew.Mode != ladder.TwoSided {
		logger.Info("Inventory limit reached, quoting one side",
			"position", pb.position,
			"max_position", m.cfg.MaxPosition,
			"mode", pb.skew.Mode.String())
	}
	logger.Debug("Quoting ladder",
		"levels", len(levels),
		"position_rate", pb.skew.PositionRate,
		"mode", pb.skew.Mode.String())

	placed := 0
	for _, level := range levels {
		req := core.PlaceLimitOrderRequest{
			ContractID: m.cfg.ContractID,
			Side:       level.Side,
			Price:      level.Price,
			Quantity:   level.Quantity,
		}
		res, err := m.executor.PlaceLimitOrder(ctx, req)
		if err != nil {
			logger.Warn("Failed to place quote", "side", level.Side, "price", level.Price, "error", err)
			continue
		}
		m.journalQuote(ctx, cycleID, level, res, logger)
		if res.OK() {
			state.OpenOrderIDs = append(state.OpenOrderIDs, res.Order.OrderID)
			placed++
		}
	}

	m.metrics.SetActiveOrders(m.cfg.ContractID, int64(len(state.OpenOrderIDs)))
	logger.Debug("Ladder placed", "placed", placed, "requested", len(levels))
	return state, nil
}

func (m *MarketMaker) journalQuote(ctx context.Context, cycleID string, level core.LadderLevel, res core.OrderResult, logger core.ILogger) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordQuote(ctx, cycleID, level, res); err != nil {
		logger.Warn("Failed to journal quote", "error", err)
	}
}

// logStatus emits the periodic status line.
func (m *MarketMaker) logStatus(state MakerState, pb positionedBook, logger core.ILogger) MakerState {
	now := m.clock.Now()
	if !state.LastStatusLog.IsZero() && now.Sub(state.LastStatusLog) < m.cfg.StatusInterval {
		return state
	}
	logger.Info("Market maker status",
		"position", pb.position,
		"position_rate", pb.skew.PositionRate,
		"mode", pb.skew.Mode.String(),
		"open_orders", len(state.OpenOrderIDs))
	state.LastStatusLog = now
	return state
}

// shutdownCancel makes a best-effort sweep of resting quotes with a fresh context.
func (m *MarketMaker) shutdownCancel() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownCancelTimeout)
	defer cancel()

	open, err := m.venue.GetOpenOrders(ctx, m.cfg.ContractID)
	if err != nil {
		m.logger.Error("Failed to list open orders on shutdown", "error", err)
		return
	}
	for _, o := range open {
		if _, err := m.executor.CancelOrder(ctx, m.cfg.ContractID, o.OrderID); err != nil {
			m.logger.Error("Failed to cancel order on shutdown", "order_id", o.OrderID, "error", err)
		}
	}
	m.logger.Info("Cancelled resting orders on shutdown", "count", len(open))
}

func (m *MarketMaker) notify(ctx context.Context, title string, err error) {
	if m.alerter == nil {
		return
	}
	m.alerter.Alert(context.WithoutCancel(ctx), title, err.Error(), core.AlertCritical, map[string]string{
		"ticker": m.cfg.Ticker,
		"kind":   errorKind(err),
	})
}

// CheckHealth fails when no iteration has finished within maxAge.
func (m *MarketMaker) CheckHealth(maxAge time.Duration) error {
	last := m.lastIteration.Load()
	if last == 0 {
		return fmt.Errorf("market maker has not completed an iteration")
	}
	if age := m.clock.Now().Sub(time.Unix(0, last)); age > maxAge {
		return fmt.Errorf("market maker stalled: last iteration %s ago", age.Truncate(time.Second))
	}
	return nil
}
