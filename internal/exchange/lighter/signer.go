package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apphttp "hedged_mm/pkg/http"
)

// CreateOrderParams are the integer-scaled fields of a market order transaction.
type CreateOrderParams struct {
	AccountIndex     int64  `json:"account_index"`
	APIKeyIndex      int    `json:"api_key_index"`
	MarketIndex      int    `json:"market_index"`
	ClientOrderIndex int64  `json:"client_order_index"`
	BaseAmount       int64  `json:"base_amount"`
	Price            int64  `json:"price"`
	IsAsk            bool   `json:"is_ask"`
	OrderType        string `json:"order_type"`
	TimeInForce      string `json:"time_in_force"`
	ReduceOnly       bool   `json:"reduce_only"`
}

// SignedTx is a transaction ready for /api/v1/sendTx.
type SignedTx struct {
	TxType int    `json:"tx_type"`
	TxInfo string `json:"tx_info"`
}

// TxSigner signs order transactions. The venue's signature scheme lives outside
// this process, so the default implementation calls a signing sidecar.
type TxSigner interface {
	SignCreateOrder(ctx context.Context, params CreateOrderParams) (SignedTx, error)
}

// HTTPTxSigner delegates signing to a sidecar exposing POST /sign/create_order.
type HTTPTxSigner struct {
	client *apphttp.Client
}

// NewHTTPTxSigner creates a sidecar signer rooted at baseURL.
func NewHTTPTxSigner(baseURL string, timeout time.Duration) *HTTPTxSigner {
	return &HTTPTxSigner{client: apphttp.NewClient(strings.TrimRight(baseURL, "/"), timeout)}
}

// SignCreateOrder implements TxSigner
func (s *HTTPTxSigner) SignCreateOrder(ctx context.Context, params CreateOrderParams) (SignedTx, error) {
	body, err := s.client.Post(ctx, "/sign/create_order", params)
	if err != nil {
		return SignedTx{}, fmt.Errorf("signer sidecar: %w", err)
	}

	var tx SignedTx
	if err := json.Unmarshal(body, &tx); err != nil {
		return SignedTx{}, fmt.Errorf("decode signed tx: %w", err)
	}
	if tx.TxInfo == "" {
		return SignedTx{}, fmt.Errorf("signer sidecar returned empty tx_info")
	}
	return tx, nil
}
