package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hedged_mm/internal/core"
	apperrors "hedged_mm/pkg/errors"

	"github.com/shopspring/decimal"
)

// MockPrimaryVenue implements IPrimaryVenue for testing
type MockPrimaryVenue struct {
	name           string
	mu             sync.RWMutex
	markets        map[string]core.ContractAttributes
	book           *core.TopOfBook
	orders         map[string]core.OrderInfo
	orderIDCounter int64
	positions      []core.Position
	orderCallbacks []func(core.OrderUpdate)

	// Failure injection
	bookErr       error
	positionsErr  error
	openOrdersErr error
	placeErr      error
	placeResult   *core.OrderResult
	cancelErrs    map[string]error
	panicAfter    int

	// Recorded traffic
	calls     []string
	placed    []core.PlaceLimitOrderRequest
	cancelled []string
}

func NewMockPrimaryVenue(name string) *MockPrimaryVenue {
	return &MockPrimaryVenue{
		name:           name,
		markets:        make(map[string]core.ContractAttributes),
		orders:         make(map[string]core.OrderInfo),
		cancelErrs:     make(map[string]error),
		orderIDCounter: 1000,
	}
}

func (m *MockPrimaryVenue) SetMarket(attrs core.ContractAttributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[attrs.Ticker] = attrs
}

func (m *MockPrimaryVenue) SetBook(book *core.TopOfBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = book
}

// SetSimpleBook installs a one-level book.
func (m *MockPrimaryVenue) SetSimpleBook(contractID string, bid, ask decimal.Decimal) {
	m.SetBook(&core.TopOfBook{
		ContractID: contractID,
		Bids:       []core.PriceLevel{{Price: bid, Size: decimal.NewFromInt(1)}},
		Asks:       []core.PriceLevel{{Price: ask, Size: decimal.NewFromInt(1)}},
	})
}

func (m *MockPrimaryVenue) SetPosition(contractID string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.positions {
		if p.Symbol == contractID {
			m.positions[i].Quantity = qty
			return
		}
	}
	m.positions = append(m.positions, core.Position{Venue: core.VenuePrimary, Symbol: contractID, Quantity: qty})
}

func (m *MockPrimaryVenue) SetBookError(err error)       { m.withLock(func() { m.bookErr = err }) }
func (m *MockPrimaryVenue) SetPositionsError(err error)  { m.withLock(func() { m.positionsErr = err }) }
func (m *MockPrimaryVenue) SetOpenOrdersError(err error) { m.withLock(func() { m.openOrdersErr = err }) }
func (m *MockPrimaryVenue) SetPlaceError(err error)      { m.withLock(func() { m.placeErr = err }) }

// SetPanicAfterPlacements makes every placement after the first n panic.
func (m *MockPrimaryVenue) SetPanicAfterPlacements(n int) { m.withLock(func() { m.panicAfter = n }) }

// SetPlaceResult forces every placement to return r.
func (m *MockPrimaryVenue) SetPlaceResult(r *core.OrderResult) { m.withLock(func() { m.placeResult = r }) }

func (m *MockPrimaryVenue) SetCancelError(orderID string, err error) {
	m.withLock(func() {
		if err == nil {
			delete(m.cancelErrs, orderID)
			return
		}
		m.cancelErrs[orderID] = err
	})
}

// AddOpenOrder seeds a resting order that the maker did not place itself.
func (m *MockPrimaryVenue) AddOpenOrder(o core.OrderInfo) {
	m.withLock(func() { m.orders[o.OrderID] = o })
}

func (m *MockPrimaryVenue) withLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *MockPrimaryVenue) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *MockPrimaryVenue) GetName() string {
	return m.name
}

func (m *MockPrimaryVenue) GetContractAttributes(ctx context.Context, ticker string, quantity decimal.Decimal) (core.ContractAttributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("attrs")
	attrs, ok := m.markets[ticker]
	if !ok {
		return core.ContractAttributes{}, apperrors.NewConfigurationError("ticker", "no perpetual market for %s", ticker)
	}
	if attrs.TickSize.IsZero() {
		return core.ContractAttributes{}, apperrors.NewConfigurationError("tick_size", "zero tick size for %s", ticker)
	}
	if quantity.LessThan(attrs.MinQuantity) {
		return core.ContractAttributes{}, apperrors.NewConfigurationError("quantity", "%s below minimum %s", quantity, attrs.MinQuantity)
	}
	return attrs, nil
}

func (m *MockPrimaryVenue) GetTopOfBook(ctx context.Context, contractID string) (*core.TopOfBook, error) {
	m.mu.Lock()
	m.record("book")
	book, err := m.book, m.bookErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, apperrors.NewTransientVenueError(m.name, "depth", apperrors.ErrEmptyBook)
	}
	cp := *book
	return &cp, nil
}

func (m *MockPrimaryVenue) PlaceLimitOrder(ctx context.Context, req core.PlaceLimitOrderRequest) (core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("place")
	m.placed = append(m.placed, req)

	if m.panicAfter > 0 && len(m.placed) > m.panicAfter {
		panic("mock placement panic")
	}
	if m.placeErr != nil {
		return core.OrderResult{}, m.placeErr
	}
	if m.placeResult != nil {
		return *m.placeResult, nil
	}

	m.orderIDCounter++
	info := core.OrderInfo{
		OrderID:       fmt.Sprintf("%d", m.orderIDCounter),
		Side:          req.Side,
		Size:          req.Quantity,
		Price:         req.Price,
		Status:        "New",
		RemainingSize: req.Quantity,
	}
	m.orders[info.OrderID] = info
	return core.Success(info), nil
}

func (m *MockPrimaryVenue) CancelOrder(ctx context.Context, contractID, orderID string) (core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cancel")

	if err, ok := m.cancelErrs[orderID]; ok {
		return core.OrderResult{}, err
	}
	info, ok := m.orders[orderID]
	if !ok {
		return core.VenueError("RESOURCE_NOT_FOUND", "Order not found"), nil
	}
	delete(m.orders, orderID)
	m.cancelled = append(m.cancelled, orderID)
	info.Status = "Cancelled"
	return core.Success(info), nil
}

func (m *MockPrimaryVenue) GetOpenOrders(ctx context.Context, contractID string) ([]core.OrderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("open_orders")
	if m.openOrdersErr != nil {
		return nil, m.openOrdersErr
	}
	out := make([]core.OrderInfo, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

func (m *MockPrimaryVenue) GetAllPositions(ctx context.Context) ([]core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("positions")
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return append([]core.Position(nil), m.positions...), nil
}

func (m *MockPrimaryVenue) StartOrderStream(ctx context.Context, contractID string, callback func(update core.OrderUpdate)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderCallbacks = append(m.orderCallbacks, callback)
	return nil
}

// EmitOrderUpdate pushes a raw payload to every stream subscriber.
func (m *MockPrimaryVenue) EmitOrderUpdate(contractID, orderID string, raw []byte) {
	m.mu.RLock()
	cbs := append([]func(core.OrderUpdate){}, m.orderCallbacks...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(core.OrderUpdate{ContractID: contractID, OrderID: orderID, Event: "orderUpdate", Raw: raw, ReceivedAt: time.Now()})
	}
}

// Calls returns the ordered list of venue operations seen so far.
func (m *MockPrimaryVenue) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

func (m *MockPrimaryVenue) ResetCalls() {
	m.withLock(func() { m.calls = nil })
}

func (m *MockPrimaryVenue) Placed() []core.PlaceLimitOrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.PlaceLimitOrderRequest(nil), m.placed...)
}

func (m *MockPrimaryVenue) Cancelled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.cancelled...)
}

func (m *MockPrimaryVenue) OpenOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// HedgeOrder is a market order recorded by MockSecondaryVenue.
type HedgeOrder struct {
	Asset    string
	Quantity decimal.Decimal
}

// MockSecondaryVenue implements ISecondaryVenue for testing
type MockSecondaryVenue struct {
	name         string
	mu           sync.RWMutex
	positions    []core.Position
	positionsErr error
	placeErrs    map[string]error
	orders       []HedgeOrder
	nextID       int64
}

func NewMockSecondaryVenue(name string) *MockSecondaryVenue {
	return &MockSecondaryVenue{
		name:      name,
		placeErrs: make(map[string]error),
		nextID:    1,
	}
}

func (m *MockSecondaryVenue) SetPosition(symbol string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.positions {
		if p.Symbol == symbol {
			m.positions[i].Quantity = qty
			return
		}
	}
	m.positions = append(m.positions, core.Position{Venue: core.VenueSecondary, Symbol: symbol, Quantity: qty})
}

func (m *MockSecondaryVenue) SetPositionsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionsErr = err
}

func (m *MockSecondaryVenue) SetPlaceError(asset string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.placeErrs, asset)
		return
	}
	m.placeErrs[asset] = err
}

func (m *MockSecondaryVenue) GetName() string {
	return m.name
}

func (m *MockSecondaryVenue) GetPositions(ctx context.Context) ([]core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return append([]core.Position(nil), m.positions...), nil
}

// PlaceMarketOrder records the order and, like a filled market order, moves the position.
func (m *MockSecondaryVenue) PlaceMarketOrder(ctx context.Context, asset string, quantity decimal.Decimal) (core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.placeErrs[asset]; ok {
		return core.OrderResult{}, err
	}
	m.orders = append(m.orders, HedgeOrder{Asset: asset, Quantity: quantity})

	filled := false
	for i, p := range m.positions {
		if p.Symbol == asset {
			m.positions[i].Quantity = p.Quantity.Add(quantity)
			filled = true
			break
		}
	}
	if !filled {
		m.positions = append(m.positions, core.Position{Venue: core.VenueSecondary, Symbol: asset, Quantity: quantity})
	}

	m.nextID++
	side := core.SideBid
	if quantity.IsNegative() {
		side = core.SideAsk
	}
	return core.Success(core.OrderInfo{
		OrderID:    fmt.Sprintf("%d", m.nextID),
		Side:       side,
		Size:       quantity.Abs(),
		Status:     "Filled",
		FilledSize: quantity.Abs(),
	}), nil
}

func (m *MockSecondaryVenue) Orders() []HedgeOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HedgeOrder(nil), m.orders...)
}

// ManualClock is a Clock whose sleeps return immediately and whose time only moves when told.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to After.
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
