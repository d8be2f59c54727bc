// Package backpack provides the primary venue adapter: a Backpack perpetual
// market quoted with post-only limit orders.
package backpack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/internal/trading/symbol"
	apperrors "hedged_mm/pkg/errors"
	apphttp "hedged_mm/pkg/http"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.backpack.exchange"
	defaultWSURL   = "wss://ws.backpack.exchange"
)

// Config holds the connection settings of the primary venue.
type Config struct {
	APIKey     string
	SecretKey  string
	BaseURL    string
	WSURL      string
	Quote      string
	MarketType string
	Window     time.Duration
	Timeout    time.Duration
}

// Exchange implements core.IPrimaryVenue for Backpack.
type Exchange struct {
	cfg    Config
	http   *apphttp.Client
	signer *Signer
	logger core.ILogger
}

// NewExchange validates credentials and builds the adapter.
func NewExchange(cfg Config, logger core.ILogger) (*Exchange, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, apperrors.NewConfigurationError("venues.primary", "api_key and secret_key are required")
	}
	signer, err := NewSigner(cfg.APIKey, cfg.SecretKey, cfg.Window)
	if err != nil {
		return nil, &apperrors.ConfigurationError{Field: "venues.primary.secret_key", Message: "invalid ED25519 secret", Err: err}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDC"
	}
	if cfg.MarketType == "" {
		cfg.MarketType = "PERP"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Exchange{
		cfg:    cfg,
		http:   apphttp.NewClient(strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout),
		signer: signer,
		logger: logger.WithField("exchange", string(core.VenuePrimary)),
	}, nil
}

// GetName returns the venue name
func (e *Exchange) GetName() string {
	return string(core.VenuePrimary)
}

type marketResponse struct {
	Symbol      string `json:"symbol"`
	BaseSymbol  string `json:"baseSymbol"`
	QuoteSymbol string `json:"quoteSymbol"`
	MarketType  string `json:"marketType"`
	Filters     struct {
		Price struct {
			TickSize string `json:"tickSize"`
		} `json:"price"`
		Quantity struct {
			MinQuantity string `json:"minQuantity"`
		} `json:"quantity"`
	} `json:"filters"`
}

// GetContractAttributes resolves the perpetual market for ticker. Every failure
// is a ConfigurationError: the maker cannot quote without these values.
func (e *Exchange) GetContractAttributes(ctx context.Context, ticker string, quantity decimal.Decimal) (core.ContractAttributes, error) {
	if ticker == "" {
		return core.ContractAttributes{}, apperrors.NewConfigurationError("trading.ticker", "ticker is empty")
	}

	body, err := e.http.Get(ctx, "/api/v1/markets", nil)
	if err != nil {
		return core.ContractAttributes{}, &apperrors.ConfigurationError{Field: "trading.ticker", Message: "failed to load markets", Err: err}
	}

	var markets []marketResponse
	if err := json.Unmarshal(body, &markets); err != nil {
		return core.ContractAttributes{}, &apperrors.ConfigurationError{Field: "trading.ticker", Message: "failed to decode markets", Err: err}
	}

	for _, m := range markets {
		if m.MarketType != e.cfg.MarketType || m.BaseSymbol != ticker || m.QuoteSymbol != e.cfg.Quote {
			continue
		}
		e.logger.Info("Resolved contract", "ticker", ticker, "symbol", m.Symbol,
			"tick_size", m.Filters.Price.TickSize, "min_quantity", m.Filters.Quantity.MinQuantity)

		tick, err := decimal.NewFromString(m.Filters.Price.TickSize)
		if err != nil || !tick.IsPositive() {
			return core.ContractAttributes{}, apperrors.NewConfigurationError("tick_size", "invalid tick size %q for %s", m.Filters.Price.TickSize, m.Symbol)
		}
		minQty, err := decimal.NewFromString(m.Filters.Quantity.MinQuantity)
		if err != nil || !minQty.IsPositive() {
			return core.ContractAttributes{}, apperrors.NewConfigurationError("min_quantity", "invalid min quantity %q for %s", m.Filters.Quantity.MinQuantity, m.Symbol)
		}
		if quantity.LessThan(minQty) {
			return core.ContractAttributes{}, apperrors.NewConfigurationError("trading.quantity", "order quantity %s is less than min quantity %s", quantity, minQty)
		}
		return core.ContractAttributes{
			Ticker:      ticker,
			ContractID:  m.Symbol,
			TickSize:    tick,
			MinQuantity: minQty,
		}, nil
	}

	return core.ContractAttributes{}, apperrors.NewConfigurationError("trading.ticker", "no %s market for %s/%s", e.cfg.MarketType, ticker, e.cfg.Quote)
}

type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// GetTopOfBook fetches a fresh depth snapshot, normalised best-first on both sides.
func (e *Exchange) GetTopOfBook(ctx context.Context, contractID string) (*core.TopOfBook, error) {
	body, err := e.http.Get(ctx, "/api/v1/depth", url.Values{"symbol": {contractID}})
	if err != nil {
		return nil, e.transient("depth", err)
	}

	var depth depthResponse
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "depth", err.Error(), body)
	}

	bids, err := parseLevels(depth.Bids)
	if err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "depth", err.Error(), body)
	}
	asks, err := parseLevels(depth.Asks)
	if err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "depth", err.Error(), body)
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return &core.TopOfBook{ContractID: contractID, Bids: bids, Asks: asks}, nil
}

func parseLevels(raw [][2]string) ([]core.PriceLevel, error) {
	levels := make([]core.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := decimal.NewFromString(l[0])
		if err != nil {
			return nil, fmt.Errorf("bad price %q", l[0])
		}
		size, err := decimal.NewFromString(l[1])
		if err != nil {
			return nil, fmt.Errorf("bad size %q", l[1])
		}
		levels = append(levels, core.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	PostOnly    bool   `json:"postOnly"`
	TimeInForce string `json:"timeInForce"`
}

type cancelRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
}

type orderResponse struct {
	ID               string `json:"id"`
	Side             string `json:"side"`
	Quantity         string `json:"quantity"`
	Price            string `json:"price"`
	Status           string `json:"status"`
	ExecutedQuantity string `json:"executedQuantity"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlaceLimitOrder submits a post-only GTC limit order. Venue error payloads are
// returned as a VenueError result; transport failures as a TransientVenueError.
func (e *Exchange) PlaceLimitOrder(ctx context.Context, req core.PlaceLimitOrderRequest) (core.OrderResult, error) {
	payload := orderRequest{
		Symbol:      req.ContractID,
		Side:        string(req.Side),
		OrderType:   "Limit",
		Quantity:    req.Quantity.String(),
		Price:       req.Price.String(),
		PostOnly:    true,
		TimeInForce: "GTC",
	}

	body, err := e.http.Post(ctx, "/api/v1/order", payload, apphttp.WithSigner(apphttp.SignerFunc(e.signer.For(instructionOrderExecute))))
	return e.orderResult("place", body, err)
}

// CancelOrder cancels orderID on contractID.
func (e *Exchange) CancelOrder(ctx context.Context, contractID, orderID string) (core.OrderResult, error) {
	payload := cancelRequest{Symbol: contractID, OrderID: orderID}
	body, err := e.http.Delete(ctx, "/api/v1/order", payload, apphttp.WithSigner(apphttp.SignerFunc(e.signer.For(instructionOrderCancel))))
	return e.orderResult("cancel", body, err)
}

func (e *Exchange) orderResult(op string, body []byte, err error) (core.OrderResult, error) {
	if err != nil {
		if venueErr, ok := decodeVenueError(err); ok {
			return core.VenueError(venueErr.Code, venueErr.Message), nil
		}
		return core.OrderResult{}, e.transient(op, err)
	}

	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Code != "" {
		return core.VenueError(errResp.Code, errResp.Message), nil
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Malformed("undecodable order response", truncate(body)), nil
	}
	if resp.ID == "" {
		return core.Malformed("no order id in response", truncate(body)), nil
	}
	return core.Success(resp.toOrderInfo()), nil
}

// GetOpenOrders lists resting orders on contractID.
func (e *Exchange) GetOpenOrders(ctx context.Context, contractID string) ([]core.OrderInfo, error) {
	body, err := e.http.Get(ctx, "/api/v1/orders", url.Values{"symbol": {contractID}},
		apphttp.WithSigner(apphttp.SignerFunc(e.signer.For(instructionOrderQueryAll))))
	if err != nil {
		return nil, e.transient("open_orders", err)
	}

	var raw []orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "open_orders", err.Error(), body)
	}

	orders := make([]core.OrderInfo, 0, len(raw))
	for _, o := range raw {
		if o.ID == "" {
			e.logger.Error("Open order without id dropped", "raw", o)
			continue
		}
		orders = append(orders, o.toOrderInfo())
	}
	return orders, nil
}

type positionResponse struct {
	Symbol      string `json:"symbol"`
	NetQuantity string `json:"netQuantity"`
}

// GetAllPositions returns every open perpetual position with its signed net quantity.
func (e *Exchange) GetAllPositions(ctx context.Context) ([]core.Position, error) {
	body, err := e.http.Get(ctx, "/api/v1/position", nil,
		apphttp.WithSigner(apphttp.SignerFunc(e.signer.For(instructionPositionQuery))))
	if err != nil {
		return nil, e.transient("positions", err)
	}

	var raw []positionResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "positions", err.Error(), body)
	}

	positions := make([]core.Position, 0, len(raw))
	for _, p := range raw {
		qty, err := decimal.NewFromString(p.NetQuantity)
		if err != nil {
			e.logger.Error("Position with bad netQuantity dropped", "symbol", p.Symbol, "net_quantity", p.NetQuantity)
			continue
		}
		positions = append(positions, core.Position{
			Venue:    core.VenuePrimary,
			Symbol:   p.Symbol,
			AssetKey: symbol.Unify(p.Symbol, core.VenuePrimary),
			Quantity: qty,
		})
	}
	return positions, nil
}

func (o orderResponse) toOrderInfo() core.OrderInfo {
	size := decimalOrZero(o.Quantity)
	filled := decimalOrZero(o.ExecutedQuantity)
	return core.OrderInfo{
		OrderID:       o.ID,
		Side:          core.Side(o.Side),
		Size:          size,
		Price:         decimalOrZero(o.Price),
		Status:        o.Status,
		FilledSize:    filled,
		RemainingSize: size.Sub(filled),
	}
}

func (e *Exchange) transient(op string, err error) error {
	te := &apperrors.TransientVenueError{Venue: e.GetName(), Op: op, Err: err}
	if venueErr, ok := decodeVenueError(err); ok {
		te.Code = venueErr.Code
		te.Err = fmt.Errorf("%w: %s", mapCode(venueErr.Code), venueErr.Message)
	}
	return te
}

// decodeVenueError extracts a {code, message} payload from a non-2xx response.
func decodeVenueError(err error) (errorResponse, bool) {
	var apiErr *apphttp.APIError
	if !errors.As(err, &apiErr) {
		return errorResponse{}, false
	}
	var resp errorResponse
	if json.Unmarshal(apiErr.Body, &resp) != nil || resp.Code == "" {
		return errorResponse{}, false
	}
	return resp, true
}

func mapCode(code string) error {
	switch code {
	case "INSUFFICIENT_FUNDS", "INSUFFICIENT_MARGIN":
		return apperrors.ErrInsufficientFunds
	case "TOO_MANY_REQUESTS", "RATE_LIMIT_EXCEEDED":
		return apperrors.ErrRateLimitExceeded
	case "UNAUTHORIZED", "INVALID_SIGNATURE":
		return apperrors.ErrAuthenticationFailed
	case "RESOURCE_NOT_FOUND":
		return apperrors.ErrOrderNotFound
	case "INVALID_CLIENT_REQUEST", "INVALID_ORDER":
		return apperrors.ErrInvalidOrderParameter
	case "MAINTENANCE":
		return apperrors.ErrExchangeMaintenance
	default:
		return apperrors.ErrOrderRejected
	}
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func truncate(b []byte) string {
	if len(b) > 512 {
		return string(b[:512])
	}
	return string(b)
}
