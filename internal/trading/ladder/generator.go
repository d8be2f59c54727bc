// Package ladder builds the multi-level quote ladder placed on the primary venue.
package ladder

import (
	"fmt"

	"hedged_mm/internal/core"
	apperrors "hedged_mm/pkg/errors"
	"hedged_mm/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Params are the static inputs of ladder generation.
type Params struct {
	Quantity     decimal.Decimal
	Levels       int
	BaseMultiple decimal.Decimal
	TickSize     decimal.Decimal
	MinQuantity  decimal.Decimal
}

// ParamsFromConfig extracts ladder parameters from a resolved trading config.
func ParamsFromConfig(cfg core.TradingConfig) Params {
	return Params{
		Quantity:     cfg.Quantity,
		Levels:       cfg.MaxOrders,
		BaseMultiple: cfg.BaseMultiple,
		TickSize:     cfg.TickSize,
		MinQuantity:  cfg.MinQuantity,
	}
}

// Generate builds the ladder for mode from a fresh book.
//
// The spacing is BaseMultiple times the top-of-book spread. Bid i sits i
// spacings below the deepest returned bid and ask i sits i spacings above the
// best ask. Bids that would price at or below zero are dropped. All levels share
// one floored quantity.
func Generate(book *core.TopOfBook, p Params, mode Mode) ([]core.LadderLevel, error) {
	if !p.BaseMultiple.IsPositive() {
		return nil, apperrors.NewConfigurationError("base_multiple", "must be positive, got %s", p.BaseMultiple)
	}
	if book == nil {
		return nil, apperrors.ErrEmptyBook
	}

	bestBid, okBid := book.BestBid()
	bestAsk, okAsk := book.BestAsk()
	deepestBid, _ := book.DeepestBid()
	if !okBid || !okAsk {
		return nil, fmt.Errorf("%s: %w", book.ContractID, apperrors.ErrEmptyBook)
	}
	if bestAsk.LessThanOrEqual(bestBid) {
		return nil, fmt.Errorf("%s bid %s ask %s: %w", book.ContractID, bestBid, bestAsk, apperrors.ErrCrossedBook)
	}

	qty, err := tradingutils.FloorQuantity(p.Quantity, p.MinQuantity)
	if err != nil {
		return nil, err
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("quantity %s floors to zero on lot %s: %w", p.Quantity, p.MinQuantity, apperrors.ErrInvalidOrderParameter)
	}

	base := p.BaseMultiple.Mul(bestAsk.Sub(bestBid))
	levels := make([]core.LadderLevel, 0, 2*p.Levels)

	if mode.quotesBids() {
		for _, raw := range tradingutils.CalculatePriceLevels(deepestBid, base.Neg(), p.Levels) {
			price, err := tradingutils.QuantizePrice(raw, p.TickSize)
			if err != nil {
				return nil, err
			}
			if !price.IsPositive() {
				continue
			}
			levels = append(levels, core.LadderLevel{Side: core.SideBid, Price: price, Quantity: qty})
		}
	}

	if mode.quotesAsks() {
		for _, raw := range tradingutils.CalculatePriceLevels(bestAsk, base, p.Levels) {
			price, err := tradingutils.QuantizePrice(raw, p.TickSize)
			if err != nil {
				return nil, err
			}
			levels = append(levels, core.LadderLevel{Side: core.SideAsk, Price: price, Quantity: qty})
		}
	}

	return levels, nil
}
