package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/internal/mock"
	"hedged_mm/internal/trading/order"
	apperrors "hedged_mm/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
	infos []string
}

func (m *mockLogger) Debug(msg string, fields ...interface{}) {}
func (m *mockLogger) Info(msg string, fields ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}
func (m *mockLogger) Warn(msg string, fields ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func (m *mockLogger) count(msgs []string, msg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range msgs {
		if s == msg {
			n++
		}
	}
	return n
}

type mockAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *mockAlerter) Alert(ctx context.Context, title, message string, level core.AlertLevel, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

func (a *mockAlerter) Titles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.titles...)
}

// stopAfterClock cancels the run after a fixed number of sleeps.
type stopAfterClock struct {
	*mock.ManualClock
	mu     sync.Mutex
	left   int
	cancel context.CancelFunc
}

func (c *stopAfterClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.left--
	if c.left <= 0 {
		c.cancel()
	}
	c.mu.Unlock()
	return c.ManualClock.After(d)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const contract = "SOL_USDC_PERP"

func tradingConfig() core.TradingConfig {
	return core.TradingConfig{
		Ticker:       "SOL",
		Quantity:     d("1"),
		MaxPosition:  d("3"),
		MaxOrders:    1,
		BaseMultiple: d("2"),
		WaitTime:     3 * time.Second,
	}
}

func newPrimary() *mock.MockPrimaryVenue {
	v := mock.NewMockPrimaryVenue("backpack")
	v.SetMarket(core.ContractAttributes{Ticker: "SOL", ContractID: contract, TickSize: d("1"), MinQuantity: d("1")})
	v.SetBook(&core.TopOfBook{
		ContractID: contract,
		Bids: []core.PriceLevel{
			{Price: d("100"), Size: d("1")},
			{Price: d("99"), Size: d("1")},
			{Price: d("98"), Size: d("1")},
		},
		Asks: []core.PriceLevel{{Price: d("101"), Size: d("1")}},
	})
	return v
}

func newMaker(t *testing.T, venue *mock.MockPrimaryVenue, logger core.ILogger, opts ...MakerOption) *MarketMaker {
	t.Helper()
	exec := order.NewOrderExecutor(venue, logger)
	exec.SetRateLimit(10000, 100)
	opts = append([]MakerOption{WithMakerClock(mock.NewManualClock(time.Unix(1_700_000_000, 0)))}, opts...)
	m := NewMarketMaker(tradingConfig(), venue, exec, logger, opts...)
	require.NoError(t, m.Init(context.Background()))
	return m
}

func TestMarketMaker_Init(t *testing.T) {
	m := newMaker(t, newPrimary(), &mockLogger{})
	cfg := m.Config()
	assert.Equal(t, contract, cfg.ContractID)
	assert.True(t, d("1").Equal(cfg.TickSize))
	assert.True(t, d("1").Equal(cfg.MinQuantity))
}

func TestMarketMaker_InitFailuresAreConfigurationErrors(t *testing.T) {
	logger := &mockLogger{}

	unknown := NewMarketMaker(core.TradingConfig{Ticker: "DOGE", Quantity: d("1")}, newPrimary(), nil, logger)
	assert.True(t, apperrors.IsConfiguration(unknown.Init(context.Background())))

	small := NewMarketMaker(core.TradingConfig{Ticker: "SOL", Quantity: d("0.5")}, newPrimary(), nil, logger)
	assert.True(t, apperrors.IsConfiguration(small.Init(context.Background())))

	zeroTick := newPrimary()
	zeroTick.SetMarket(core.ContractAttributes{Ticker: "SOL", ContractID: contract, TickSize: decimal.Zero, MinQuantity: d("1")})
	noTick := NewMarketMaker(tradingConfig(), zeroTick, nil, logger)
	assert.True(t, apperrors.IsConfiguration(noTick.Init(context.Background())))

	empty := NewMarketMaker(core.TradingConfig{}, newPrimary(), nil, logger)
	assert.True(t, apperrors.IsConfiguration(empty.Init(context.Background())))
}

func TestMarketMaker_RunFailsBeforeTradingOnBadConfig(t *testing.T) {
	venue := newPrimary()
	alerter := &mockAlerter{}
	m := NewMarketMaker(core.TradingConfig{Ticker: "DOGE", Quantity: d("1")}, venue, nil, &mockLogger{}, WithMakerAlerter(alerter))

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Empty(t, venue.Placed())
	assert.Equal(t, []string{"Market maker failed to start"}, alerter.Titles())
}

func TestMarketMaker_IterateQuotesLadder(t *testing.T) {
	venue := newPrimary()
	m := newMaker(t, venue, &mockLogger{})

	state, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)

	placed := venue.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, core.SideBid, placed[0].Side)
	assert.True(t, d("96").Equal(placed[0].Price))
	assert.Equal(t, core.SideAsk, placed[1].Side)
	assert.True(t, d("103").Equal(placed[1].Price))

	assert.Len(t, state.OpenOrderIDs, 2)
	assert.Equal(t, int64(1), state.Iteration)
	assert.False(t, state.LastStatusLog.IsZero())
}

func TestMarketMaker_CancelsBeforeRequoting(t *testing.T) {
	venue := newPrimary()
	venue.AddOpenOrder(core.OrderInfo{OrderID: "stale-1", Side: core.SideBid, Price: d("90"), Size: d("1")})
	m := newMaker(t, venue, &mockLogger{})
	venue.ResetCalls()

	state, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	_, err = m.Iterate(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"open_orders", "cancel", "positions", "book", "place", "place",
		"open_orders", "cancel", "cancel", "positions", "book", "place", "place",
	}, venue.Calls())
	assert.Contains(t, venue.Cancelled(), "stale-1")
	assert.Equal(t, 2, venue.OpenOrderCount(), "only the latest ladder rests")
}

func TestMarketMaker_FallsBackToTrackedIDs(t *testing.T) {
	venue := newPrimary()
	m := newMaker(t, venue, &mockLogger{})

	state, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	ids := state.OpenOrderIDs

	venue.SetOpenOrdersError(errors.New("timeout"))
	venue.SetCancelError(ids[0], errors.New("503"))

	state, err = m.Iterate(context.Background(), state)
	require.NoError(t, err)

	assert.Contains(t, venue.Cancelled(), ids[1])
	assert.NotContains(t, venue.Cancelled(), ids[0])
	assert.Contains(t, state.OpenOrderIDs, ids[0], "failed cancels stay tracked")
	assert.Len(t, state.OpenOrderIDs, 3)
}

func TestMarketMaker_PositionFetchFailureAbortsIteration(t *testing.T) {
	venue := newPrimary()
	m := newMaker(t, venue, &mockLogger{})
	venue.SetPositionsError(apperrors.NewTransientVenueError("backpack", "position", errors.New("502")))

	_, err := m.Iterate(context.Background(), MakerState{})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Empty(t, venue.Placed())
}

func TestMarketMaker_SkewAtInventoryLimit(t *testing.T) {
	venue := newPrimary()
	m := newMaker(t, venue, &mockLogger{})

	venue.SetPosition(contract, d("3"))
	_, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	for _, p := range venue.Placed() {
		assert.Equal(t, core.SideAsk, p.Side)
	}

	venue2 := newPrimary()
	m2 := newMaker(t, venue2, &mockLogger{})
	venue2.SetPosition(contract, d("-3"))
	_, err = m2.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	for _, p := range venue2.Placed() {
		assert.Equal(t, core.SideBid, p.Side)
	}
}

func TestMarketMaker_RejectedQuotesAreNotTracked(t *testing.T) {
	venue := newPrimary()
	m := newMaker(t, venue, &mockLogger{})
	rejected := core.VenueError("INVALID_ORDER", "post only would cross")
	venue.SetPlaceResult(&rejected)

	state, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	assert.Empty(t, state.OpenOrderIDs)
	assert.Len(t, venue.Placed(), 2)
}

func TestMarketMaker_StatusLogIsPeriodic(t *testing.T) {
	venue := newPrimary()
	clock := mock.NewManualClock(time.Unix(1_700_000_000, 0))
	logger := &mockLogger{}
	m := newMaker(t, venue, logger, WithMakerClock(clock))

	state, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	state, err = m.Iterate(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, logger.count(logger.infos, "Market maker status"))

	clock.Advance(61 * time.Second)
	_, err = m.Iterate(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, logger.count(logger.infos, "Market maker status"))
}

func TestMarketMaker_RunSurvivesIterationErrors(t *testing.T) {
	venue := newPrimary()
	venue.SetBookError(apperrors.NewTransientVenueError("backpack", "depth", errors.New("timeout")))
	logger := &mockLogger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &stopAfterClock{ManualClock: mock.NewManualClock(time.Unix(1_700_000_000, 0)), left: 3, cancel: cancel}
	m := newMaker(t, venue, logger, WithMakerClock(clock))

	err := m.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, logger.count(logger.warns, "Market maker iteration failed"))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestMarketMaker_PanicCancelsAndTerminates(t *testing.T) {
	venue := newPrimary()
	venue.SetPanicAfterPlacements(1)
	alerter := &mockAlerter{}
	m := newMaker(t, venue, &mockLogger{}, WithMakerAlerter(alerter))

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatastrophic))
	assert.Len(t, venue.Placed(), 2)
	assert.Equal(t, 0, venue.OpenOrderCount(), "the quote placed before the panic is swept")
	assert.Equal(t, []string{"Market maker terminated"}, alerter.Titles())
}

func TestMarketMaker_CancelOnExit(t *testing.T) {
	venue := newPrimary()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &stopAfterClock{ManualClock: mock.NewManualClock(time.Unix(1_700_000_000, 0)), left: 1, cancel: cancel}
	m := newMaker(t, venue, &mockLogger{}, WithMakerClock(clock), WithCancelOnExit(true))

	require.NoError(t, m.Run(ctx))
	assert.Len(t, venue.Placed(), 2)
	assert.Equal(t, 0, venue.OpenOrderCount())
}

func TestMarketMaker_SweepsWhenSiblingFails(t *testing.T) {
	venue := newPrimary()
	placed := make(chan struct{})
	clock := &signalClock{ManualClock: mock.NewManualClock(time.Unix(1_700_000_000, 0)), first: placed}
	m := newMaker(t, venue, &mockLogger{}, WithMakerClock(clock))

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })
	g.Go(func() error {
		<-placed
		return errors.New("hedger panicked")
	})

	require.EqualError(t, g.Wait(), "hedger panicked")
	assert.Len(t, venue.Placed(), 2)
	assert.Equal(t, 0, venue.OpenOrderCount(), "resting quotes are swept by default")
}

func TestMarketMaker_CancelOnExitDisabled(t *testing.T) {
	venue := newPrimary()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &stopAfterClock{ManualClock: mock.NewManualClock(time.Unix(1_700_000_000, 0)), left: 1, cancel: cancel}
	m := newMaker(t, venue, &mockLogger{}, WithMakerClock(clock), WithCancelOnExit(false))

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, 2, venue.OpenOrderCount())
}

// signalClock closes first on the first sleep and then blocks until the run is cancelled.
type signalClock struct {
	*mock.ManualClock
	once  sync.Once
	first chan struct{}
}

func (c *signalClock) After(d time.Duration) <-chan time.Time {
	c.once.Do(func() { close(c.first) })
	return make(chan time.Time)
}

func TestMarketMaker_OrderUpdatesAreRecorded(t *testing.T) {
	venue := newPrimary()
	updates := NewOrderUpdateLog(2, &mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &stopAfterClock{ManualClock: mock.NewManualClock(time.Unix(1_700_000_000, 0)), left: 1, cancel: cancel}
	m := newMaker(t, venue, &mockLogger{}, WithMakerClock(clock), WithOrderUpdates(updates))

	require.NoError(t, m.Run(ctx))
	venue.EmitOrderUpdate(contract, "1", []byte(`{"e":"orderAccepted"}`))
	venue.EmitOrderUpdate(contract, "2", []byte(`{"e":"orderFill"}`))
	venue.EmitOrderUpdate(contract, "3", []byte(`{"e":"orderCancelled"}`))

	recent := updates.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[0].OrderID)
	assert.Equal(t, "3", recent[1].OrderID)
	assert.Equal(t, int64(3), updates.Total())
}

func TestMarketMaker_CheckHealth(t *testing.T) {
	venue := newPrimary()
	clock := mock.NewManualClock(time.Unix(1_700_000_000, 0))
	m := newMaker(t, venue, &mockLogger{}, WithMakerClock(clock))

	assert.Error(t, m.CheckHealth(time.Minute))
	_, err := m.Iterate(context.Background(), MakerState{})
	require.NoError(t, err)
	assert.NoError(t, m.CheckHealth(time.Minute))
	clock.Advance(2 * time.Minute)
	assert.Error(t, m.CheckHealth(time.Minute))
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}
