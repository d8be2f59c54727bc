// Package lighter provides the secondary (hedging) venue adapter.
package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/internal/trading/symbol"
	apperrors "hedged_mm/pkg/errors"
	apphttp "hedged_mm/pkg/http"
	"hedged_mm/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL     = "https://mainnet.zklighter.elliot.ai"
	defaultMaxSlippage = "0.1"
	codeOK             = 200
)

// Result codes for hedge orders refused before reaching the venue.
const (
	CodeUnknownMarket = "UNKNOWN_MARKET"
	CodeBelowMinimum  = "BELOW_MIN_BASE_AMOUNT"
	CodeEmptyBook     = "EMPTY_BOOK"
)

// Config holds the connection settings of the secondary venue.
type Config struct {
	BaseURL      string
	AccountIndex int64
	APIKeyIndex  int
	SignerURL    string
	MaxSlippage  decimal.Decimal
	Timeout      time.Duration
}

// Market is the per-symbol metadata used to scale orders into integer units.
type Market struct {
	Symbol        string
	MarketID      int
	SizeDecimals  int32
	PriceDecimals int32
	MinBaseAmount decimal.Decimal
}

// Exchange implements core.ISecondaryVenue for Lighter.
type Exchange struct {
	cfg    Config
	http   *apphttp.Client
	signer TxSigner
	logger core.ILogger

	mu      sync.Mutex
	markets map[string]Market

	clientOrderIndex atomic.Int64
}

// NewExchange builds the adapter. signer may be nil, in which case the sidecar at cfg.SignerURL is used.
func NewExchange(cfg Config, signer TxSigner, logger core.ILogger) (*Exchange, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if !cfg.MaxSlippage.IsPositive() {
		cfg.MaxSlippage = decimal.RequireFromString(defaultMaxSlippage)
	}
	if cfg.AccountIndex < 0 {
		return nil, apperrors.NewConfigurationError("venues.secondary.account_index", "must be >= 0")
	}
	if signer == nil {
		if cfg.SignerURL == "" {
			return nil, apperrors.NewConfigurationError("venues.secondary.signer_url", "a transaction signer is required")
		}
		signer = NewHTTPTxSigner(cfg.SignerURL, cfg.Timeout)
	}

	e := &Exchange{
		cfg:    cfg,
		http:   apphttp.NewClient(strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout),
		signer: signer,
		logger: logger.WithField("exchange", string(core.VenueSecondary)),
	}
	e.clientOrderIndex.Store(time.Now().UnixMilli())
	return e, nil
}

// GetName returns the venue name
func (e *Exchange) GetName() string {
	return string(core.VenueSecondary)
}

type orderBookDetailsResponse struct {
	Code             int `json:"code"`
	OrderBookDetails []struct {
		Symbol        string `json:"symbol"`
		MarketID      int    `json:"market_id"`
		Status        string `json:"status"`
		SizeDecimals  int32  `json:"size_decimals"`
		PriceDecimals int32  `json:"price_decimals"`
		MinBaseAmount string `json:"min_base_amount"`
	} `json:"order_book_details"`
}

// Market returns the metadata for asset, loading the market list on first use.
func (e *Exchange) Market(ctx context.Context, asset string) (Market, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.markets == nil {
		markets, err := e.loadMarkets(ctx)
		if err != nil {
			return Market{}, false, err
		}
		e.markets = markets
	}
	m, ok := e.markets[symbol.Unify(asset, core.VenueSecondary)]
	return m, ok, nil
}

func (e *Exchange) loadMarkets(ctx context.Context) (map[string]Market, error) {
	body, err := e.http.Get(ctx, "/api/v1/orderBookDetails", nil)
	if err != nil {
		return nil, apperrors.NewTransientVenueError(e.GetName(), "markets", err)
	}

	var resp orderBookDetailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "markets", err.Error(), body)
	}

	markets := make(map[string]Market, len(resp.OrderBookDetails))
	for _, d := range resp.OrderBookDetails {
		minBase, err := decimal.NewFromString(d.MinBaseAmount)
		if err != nil {
			e.logger.Error("Market with bad min_base_amount dropped", "symbol", d.Symbol, "min_base_amount", d.MinBaseAmount)
			continue
		}
		key := symbol.Unify(d.Symbol, core.VenueSecondary)
		markets[key] = Market{
			Symbol:        d.Symbol,
			MarketID:      d.MarketID,
			SizeDecimals:  d.SizeDecimals,
			PriceDecimals: d.PriceDecimals,
			MinBaseAmount: minBase,
		}
	}
	e.logger.Info("Loaded markets", "count", len(markets))
	return markets, nil
}

type accountResponse struct {
	Code     int `json:"code"`
	Accounts []struct {
		Positions []struct {
			MarketID int    `json:"market_id"`
			Symbol   string `json:"symbol"`
			Position string `json:"position"`
			Sign     int    `json:"sign"`
		} `json:"positions"`
	} `json:"accounts"`
}

// GetPositions returns the account's positions. The venue reports an unsigned
// size with a separate sign (-1 short, 1 long).
func (e *Exchange) GetPositions(ctx context.Context) ([]core.Position, error) {
	params := url.Values{
		"by":    {"index"},
		"value": {strconv.FormatInt(e.cfg.AccountIndex, 10)},
	}
	body, err := e.http.Get(ctx, "/api/v1/account", params)
	if err != nil {
		return nil, apperrors.NewTransientVenueError(e.GetName(), "positions", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "positions", err.Error(), body)
	}
	if len(resp.Accounts) == 0 {
		return nil, apperrors.NewMalformedResponseError(e.GetName(), "positions", "no account in response", body)
	}

	var positions []core.Position
	for _, p := range resp.Accounts[0].Positions {
		size, err := decimal.NewFromString(p.Position)
		if err != nil {
			e.logger.Error("Position with bad size dropped", "symbol", p.Symbol, "position", p.Position)
			continue
		}
		if p.Sign < 0 {
			size = size.Neg()
		}
		positions = append(positions, core.Position{
			Venue:    core.VenueSecondary,
			Symbol:   p.Symbol,
			AssetKey: symbol.Unify(p.Symbol, core.VenueSecondary),
			Quantity: size,
		})
	}
	return positions, nil
}

type orderBookOrdersResponse struct {
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`
}

// bestPrice returns the price a taker order on the given side would hit first.
func (e *Exchange) bestPrice(ctx context.Context, marketID int, isAsk bool) (decimal.Decimal, bool, error) {
	params := url.Values{
		"market_id": {strconv.Itoa(marketID)},
		"limit":     {"1"},
	}
	body, err := e.http.Get(ctx, "/api/v1/orderBookOrders", params)
	if err != nil {
		return decimal.Zero, false, apperrors.NewTransientVenueError(e.GetName(), "book", err)
	}

	var resp orderBookOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, false, apperrors.NewMalformedResponseError(e.GetName(), "book", err.Error(), body)
	}

	raw := ""
	if isAsk && len(resp.Bids) > 0 {
		raw = resp.Bids[0].Price
	} else if !isAsk && len(resp.Asks) > 0 {
		raw = resp.Asks[0].Price
	}
	if raw == "" {
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, apperrors.NewMalformedResponseError(e.GetName(), "book", "bad price "+raw, body)
	}
	return price, true, nil
}

type sendTxRequest struct {
	TxType int    `json:"tx_type"`
	TxInfo string `json:"tx_info"`
}

type sendTxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

// PlaceMarketOrder trades |quantity| of asset with a limited-slippage market
// order. Amounts below the market minimum are refused, never rounded up.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, asset string, quantity decimal.Decimal) (core.OrderResult, error) {
	market, ok, err := e.Market(ctx, asset)
	if err != nil {
		return core.OrderResult{}, err
	}
	if !ok {
		return core.VenueError(CodeUnknownMarket, fmt.Sprintf("no market for %s", asset)), nil
	}

	amount := quantity.Abs()
	if amount.LessThan(market.MinBaseAmount) {
		return core.VenueError(CodeBelowMinimum,
			fmt.Sprintf("amount %s is below min base amount %s", amount, market.MinBaseAmount)), nil
	}
	baseAmount := tradingutils.ToScaledInt(amount, market.SizeDecimals)
	if baseAmount <= 0 {
		return core.VenueError(CodeBelowMinimum, fmt.Sprintf("amount %s scales to zero lots", amount)), nil
	}

	isAsk := quantity.IsNegative()
	best, ok, err := e.bestPrice(ctx, market.MarketID, isAsk)
	if err != nil {
		return core.OrderResult{}, err
	}
	if !ok {
		return core.VenueError(CodeEmptyBook, "no liquidity on "+market.Symbol), nil
	}

	one := decimal.NewFromInt(1)
	limit := best.Mul(one.Add(e.cfg.MaxSlippage))
	if isAsk {
		limit = best.Mul(one.Sub(e.cfg.MaxSlippage))
	}

	params := CreateOrderParams{
		AccountIndex:     e.cfg.AccountIndex,
		APIKeyIndex:      e.cfg.APIKeyIndex,
		MarketIndex:      market.MarketID,
		ClientOrderIndex: e.clientOrderIndex.Add(1),
		BaseAmount:       baseAmount,
		Price:            tradingutils.ToScaledInt(limit, market.PriceDecimals),
		IsAsk:            isAsk,
		OrderType:        "market",
		TimeInForce:      "ioc",
	}

	e.logger.Info("Placing market order",
		"asset", asset,
		"market_id", market.MarketID,
		"quantity", quantity,
		"base_amount", baseAmount,
		"price", params.Price)

	tx, err := e.signer.SignCreateOrder(ctx, params)
	if err != nil {
		return core.OrderResult{}, apperrors.NewTransientVenueError(e.GetName(), "sign", err)
	}

	body, err := e.http.Post(ctx, "/api/v1/sendTx", sendTxRequest{TxType: tx.TxType, TxInfo: tx.TxInfo})
	if err != nil {
		if res, decoded := decodeSendTxError(err); decoded {
			return res, nil
		}
		return core.OrderResult{}, apperrors.NewTransientVenueError(e.GetName(), "send_tx", err)
	}

	var resp sendTxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Malformed("undecodable sendTx response", string(body)), nil
	}
	if resp.Code != codeOK {
		return core.VenueError(strconv.Itoa(resp.Code), resp.Message), nil
	}
	if resp.TxHash == "" {
		return core.Malformed("no tx_hash in response", string(body)), nil
	}

	side := core.SideBid
	if isAsk {
		side = core.SideAsk
	}
	return core.Success(core.OrderInfo{
		OrderID:       resp.TxHash,
		Side:          side,
		Size:          amount,
		Price:         limit,
		Status:        "submitted",
		RemainingSize: amount,
	}), nil
}

// decodeSendTxError turns a non-2xx response carrying a venue code into a VenueError result.
func decodeSendTxError(err error) (core.OrderResult, bool) {
	var apiErr *apphttp.APIError
	if !errors.As(err, &apiErr) {
		return core.OrderResult{}, false
	}
	var resp sendTxResponse
	if json.Unmarshal(apiErr.Body, &resp) != nil || resp.Code == 0 {
		return core.OrderResult{}, false
	}
	return core.VenueError(strconv.Itoa(resp.Code), resp.Message), true
}
