package ladder

import (
	"hedged_mm/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Mode selects which sides of the ladder are quoted.
type Mode int

const (
	TwoSided Mode = iota
	AskOnly
	BidOnly
)

func (m Mode) String() string {
	switch m {
	case TwoSided:
		return "two_sided"
	case AskOnly:
		return "ask_only"
	case BidOnly:
		return "bid_only"
	default:
		return "unknown"
	}
}

// quotesBids and quotesAsks report which sides this mode quotes.
func (m Mode) quotesBids() bool { return m == TwoSided || m == BidOnly }
func (m Mode) quotesAsks() bool { return m == TwoSided || m == AskOnly }

// Skew is the inventory decision for one maker iteration.
type Skew struct {
	Mode         Mode
	PositionRate decimal.Decimal
}

// ComputeSkew picks the quoting mode from the current position.
// Below the limit both sides are quoted; at or beyond it only the side that
// reduces inventory is.
func ComputeSkew(position, maxPosition decimal.Decimal) Skew {
	s := Skew{PositionRate: tradingutils.PositionRate(position, maxPosition)}
	switch {
	case position.Abs().LessThan(maxPosition):
		s.Mode = TwoSided
	case position.GreaterThanOrEqual(maxPosition):
		s.Mode = AskOnly
	default:
		s.Mode = BidOnly
	}
	return s
}
