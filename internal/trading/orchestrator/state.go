package orchestrator

import (
	"time"

	"hedged_mm/internal/trading/ladder"

	"github.com/shopspring/decimal"
)

// MakerState is everything the maker loop carries from one iteration to the next.
type MakerState struct {
	// OpenOrderIDs are quotes this process believes are resting. Used only when
	// the venue's open-order list cannot be fetched.
	OpenOrderIDs  []string
	Iteration     int64
	LastStatusLog time.Time
}

// cancelledBook is the state after the cancel sweep. Only it can read the position.
type cancelledBook struct {
	state MakerState
}

// positionedBook carries the position read after cancelling. Only it can be quoted.
type positionedBook struct {
	state    MakerState
	position decimal.Decimal
	skew     ladder.Skew
}
