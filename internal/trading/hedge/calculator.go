// Package hedge computes the secondary-venue trades that bring each asset to net flat.
package hedge

import (
	"sort"

	"hedged_mm/internal/core"
	"hedged_mm/internal/trading/position"

	"github.com/shopspring/decimal"
)

// DefaultMinAction is the smallest |delta| worth trading.
var DefaultMinAction = decimal.RequireFromString("0.001")

// Calculator turns per-venue exposure into hedge instructions.
type Calculator struct {
	minAction decimal.Decimal
}

// NewCalculator creates a calculator. A non-positive threshold falls back to DefaultMinAction.
func NewCalculator(minAction decimal.Decimal) *Calculator {
	if !minAction.IsPositive() {
		minAction = DefaultMinAction
	}
	return &Calculator{minAction: minAction}
}

// Deltas returns delta = -primary - secondary for every asset seen on either
// venue, including assets whose delta is below the action threshold.
func (c *Calculator) Deltas(primary, secondary position.Exposure) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(primary)+len(secondary))
	for k := range primary {
		out[k] = decimal.Zero
	}
	for k := range secondary {
		out[k] = decimal.Zero
	}
	for k := range out {
		out[k] = primary[k].Neg().Sub(secondary[k])
	}
	return out
}

// Compute returns the instructions whose |delta| strictly exceeds the threshold,
// ordered by asset key.
func (c *Calculator) Compute(primary, secondary position.Exposure) []core.HedgeInstruction {
	deltas := c.Deltas(primary, secondary)
	keys := make([]string, 0, len(deltas))
	for k, d := range deltas {
		if d.Abs().GreaterThan(c.minAction) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]core.HedgeInstruction, 0, len(keys))
	for _, k := range keys {
		out = append(out, core.HedgeInstruction{AssetKey: k, Quantity: deltas[k]})
	}
	return out
}
