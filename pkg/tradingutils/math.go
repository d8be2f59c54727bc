// Package tradingutils holds the exact decimal helpers shared by the quoting and hedging paths.
package tradingutils

import (
	apperrors "hedged_mm/pkg/errors"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// QuantizePrice snaps price to the nearest multiple of tick.
// Ties go away from zero, so 100.125 on a 0.25 grid becomes 100.25.
func QuantizePrice(price, tick decimal.Decimal) (decimal.Decimal, error) {
	if !tick.IsPositive() {
		return decimal.Zero, apperrors.NewConfigurationError("tick_size", "tick size must be positive, got %s", tick)
	}
	q, r := price.QuoRem(tick, 0)
	if r.Abs().Mul(two).GreaterThanOrEqual(tick) {
		if price.IsNegative() {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.Mul(tick), nil
}

// FloorQuantity truncates qty toward zero to a multiple of lot.
func FloorQuantity(qty, lot decimal.Decimal) (decimal.Decimal, error) {
	if !lot.IsPositive() {
		return decimal.Zero, apperrors.NewConfigurationError("min_quantity", "lot size must be positive, got %s", lot)
	}
	q, _ := qty.QuoRem(lot, 0)
	return q.Mul(lot), nil
}

// ToScaledInt converts amount into integer units with the given number of decimals,
// truncating any excess precision.
func ToScaledInt(amount decimal.Decimal, decimals int32) int64 {
	return amount.Shift(decimals).Truncate(0).IntPart()
}

// CalculatePriceLevels generates count prices stepping away from anchor by interval.
// A negative interval walks down the book.
func CalculatePriceLevels(anchorPrice, interval decimal.Decimal, count int) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, count)
	for i := 1; i <= count; i++ {
		prices = append(prices, anchorPrice.Add(interval.Mul(decimal.NewFromInt(int64(i)))))
	}
	return prices
}

// PositionRate is position/max rounded to two decimals, half away from zero.
func PositionRate(position, maxPosition decimal.Decimal) decimal.Decimal {
	if maxPosition.IsZero() {
		return decimal.Zero
	}
	return position.DivRound(maxPosition, 16).Round(2)
}
