package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hedged_mm/internal/core"
	apperrors "hedged_mm/pkg/errors"
	"hedged_mm/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	mu     sync.Mutex
	params []CreateOrderParams
	err    error
}

func (f *fakeSigner) SignCreateOrder(ctx context.Context, params CreateOrderParams) (SignedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SignedTx{}, f.err
	}
	f.params = append(f.params, params)
	return SignedTx{TxType: 14, TxInfo: `{"signed":true}`}, nil
}

const marketsBody = `{"code":200,"order_book_details":[
	{"symbol":"ETH","market_id":0,"status":"active","size_decimals":4,"price_decimals":2,"min_base_amount":"0.0050"},
	{"symbol":"SOL","market_id":2,"status":"active","size_decimals":3,"price_decimals":3,"min_base_amount":"0.050"}
]}`

type venueServer struct {
	mu          sync.Mutex
	accountBody string
	marketsBody string
	marketCalls int
	sendTx      []sendTxRequest
	sendTxReply string
	sendStatus  int
}

func (v *venueServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()
		switch r.URL.Path {
		case "/api/v1/orderBookDetails":
			v.marketCalls++
			body := v.marketsBody
			if body == "" {
				body = marketsBody
			}
			_, _ = w.Write([]byte(body))
		case "/api/v1/orderBookOrders":
			_, _ = w.Write([]byte(`{"asks":[{"price":"100.00"}],"bids":[{"price":"99.00"}]}`))
		case "/api/v1/account":
			assert.Equal(t, "index", r.URL.Query().Get("by"))
			assert.Equal(t, "7", r.URL.Query().Get("value"))
			if v.accountBody != "" {
				_, _ = w.Write([]byte(v.accountBody))
				return
			}
			_, _ = w.Write([]byte(`{"code":200,"accounts":[{"positions":[
				{"market_id":0,"symbol":"ETH","position":"0.3000","sign":-1},
				{"market_id":2,"symbol":"SOL","position":"1.000","sign":1}
			]}]}`))
		case "/api/v1/sendTx":
			var req sendTxRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			v.sendTx = append(v.sendTx, req)
			if v.sendStatus != 0 {
				w.WriteHeader(v.sendStatus)
			}
			reply := v.sendTxReply
			if reply == "" {
				reply = `{"code":200,"tx_hash":"0xabc"}`
			}
			_, _ = w.Write([]byte(reply))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestExchange(t *testing.T, v *venueServer, signer TxSigner) *Exchange {
	t.Helper()
	server := httptest.NewServer(v.handler(t))
	t.Cleanup(server.Close)

	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	ex, err := NewExchange(Config{
		BaseURL:      server.URL,
		AccountIndex: 7,
		APIKeyIndex:  3,
		Timeout:      2 * time.Second,
	}, signer, logger)
	require.NoError(t, err)
	return ex
}

func TestNewExchange_RequiresSigner(t *testing.T) {
	logger, _ := logging.NewZapLogger("ERROR")
	_, err := NewExchange(Config{}, nil, logger)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestGetPositions_AppliesSign(t *testing.T) {
	ex := newTestExchange(t, &venueServer{}, &fakeSigner{})

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "ETH", positions[0].AssetKey)
	assert.True(t, positions[0].Quantity.Equal(decimal.RequireFromString("-0.3")))
	assert.Equal(t, core.VenueSecondary, positions[0].Venue)
	assert.True(t, positions[1].Quantity.Equal(decimal.NewFromInt(1)))
}

func TestGetPositions_DropsUnparseableEntry(t *testing.T) {
	v := &venueServer{accountBody: `{"code":200,"accounts":[{"positions":[
		{"market_id":0,"symbol":"ETH","position":"garbage","sign":1},
		{"market_id":2,"symbol":"SOL","position":"2.500","sign":-1}
	]}]}`}
	ex := newTestExchange(t, v, &fakeSigner{})

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SOL", positions[0].AssetKey)
	assert.True(t, positions[0].Quantity.Equal(decimal.RequireFromString("-2.5")))
}

func TestMarket_DropsUnparseableMarket(t *testing.T) {
	v := &venueServer{marketsBody: `{"code":200,"order_book_details":[
		{"symbol":"ETH","market_id":0,"status":"active","size_decimals":4,"price_decimals":2,"min_base_amount":"n/a"},
		{"symbol":"SOL","market_id":2,"status":"active","size_decimals":3,"price_decimals":3,"min_base_amount":"0.050"}
	]}`}
	ex := newTestExchange(t, v, &fakeSigner{})

	_, ok, err := ex.Market(context.Background(), "ETH")
	require.NoError(t, err)
	assert.False(t, ok)

	sol, ok, err := ex.Market(context.Background(), "SOL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, sol.MarketID)
}

func TestPlaceMarketOrder_ScalesToLots(t *testing.T) {
	v := &venueServer{}
	signer := &fakeSigner{}
	ex := newTestExchange(t, v, signer)

	res, err := ex.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.31239"))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "0xabc", res.Order.OrderID)
	assert.Equal(t, core.SideBid, res.Order.Side)

	require.Len(t, signer.params, 1)
	p := signer.params[0]
	assert.Equal(t, int64(3123), p.BaseAmount, "size is floored to size_decimals")
	assert.False(t, p.IsAsk)
	assert.Equal(t, 0, p.MarketIndex)
	assert.Equal(t, int64(7), p.AccountIndex)
	assert.Equal(t, 3, p.APIKeyIndex)
	assert.Equal(t, int64(11000), p.Price, "buy limit is best ask plus slippage")

	require.Len(t, v.sendTx, 1)
	assert.Equal(t, 14, v.sendTx[0].TxType)
}

func TestPlaceMarketOrder_SellUsesBidMinusSlippage(t *testing.T) {
	signer := &fakeSigner{}
	ex := newTestExchange(t, &venueServer{}, signer)

	res, err := ex.PlaceMarketOrder(context.Background(), "SOL", decimal.NewFromInt(-1))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, core.SideAsk, res.Order.Side)

	p := signer.params[0]
	assert.True(t, p.IsAsk)
	assert.Equal(t, int64(1000), p.BaseAmount)
	assert.Equal(t, int64(89100), p.Price)
	assert.Equal(t, 2, p.MarketIndex)
}

func TestPlaceMarketOrder_BelowMinimumIsRejected(t *testing.T) {
	v := &venueServer{}
	signer := &fakeSigner{}
	ex := newTestExchange(t, v, signer)

	res, err := ex.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	assert.Equal(t, core.ResultVenueError, res.Kind)
	assert.Equal(t, CodeBelowMinimum, res.Code)
	assert.Empty(t, signer.params, "nothing may be signed for a refused amount")
	assert.Empty(t, v.sendTx)
}

func TestPlaceMarketOrder_UnknownMarket(t *testing.T) {
	ex := newTestExchange(t, &venueServer{}, &fakeSigner{})

	res, err := ex.PlaceMarketOrder(context.Background(), "DOGE", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, CodeUnknownMarket, res.Code)
}

func TestPlaceMarketOrder_MarketsCached(t *testing.T) {
	v := &venueServer{}
	ex := newTestExchange(t, v, &fakeSigner{})

	for i := 0; i < 3; i++ {
		_, err := ex.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.01"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, v.marketCalls)
}

func TestPlaceMarketOrder_VenueErrors(t *testing.T) {
	v := &venueServer{sendTxReply: `{"code":21120,"message":"invalid nonce"}`}
	ex := newTestExchange(t, v, &fakeSigner{})

	res, err := ex.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, core.ResultVenueError, res.Kind)
	assert.Equal(t, "21120", res.Code)

	v2 := &venueServer{sendStatus: http.StatusBadRequest, sendTxReply: `{"code":21701,"message":"not enough margin"}`}
	ex2 := newTestExchange(t, v2, &fakeSigner{})
	res, err = ex2.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, "21701", res.Code)

	v3 := &venueServer{sendTxReply: `{"code":200}`}
	ex3 := newTestExchange(t, v3, &fakeSigner{})
	res, err = ex3.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, core.ResultMalformed, res.Kind)
}

func TestPlaceMarketOrder_SignerFailureIsTransient(t *testing.T) {
	ex := newTestExchange(t, &venueServer{}, &fakeSigner{err: errors.New("sidecar down")})

	_, err := ex.PlaceMarketOrder(context.Background(), "ETH", decimal.RequireFromString("0.01"))
	assert.True(t, apperrors.IsTransient(err))
}

func TestHTTPTxSigner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sign/create_order", r.URL.Path)
		var p CreateOrderParams
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, int64(50), p.BaseAmount)
		_, _ = w.Write([]byte(`{"tx_type":14,"tx_info":"signed-blob"}`))
	}))
	defer server.Close()

	s := NewHTTPTxSigner(server.URL, time.Second)
	tx, err := s.SignCreateOrder(context.Background(), CreateOrderParams{BaseAmount: 50})
	require.NoError(t, err)
	assert.Equal(t, "signed-blob", tx.TxInfo)
	assert.Equal(t, 14, tx.TxType)
}
