package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one of the two trading venues.
type Venue string

const (
	VenuePrimary   Venue = "backpack"
	VenueSecondary Venue = "lighter"
)

// Side of a resting quote or hedge order.
type Side string

const (
	SideBid Side = "Bid"
	SideAsk Side = "Ask"
)

// PriceLevel is one (price, size) rung of an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// TopOfBook is a fresh order book snapshot.
// Bids are best-first (descending), asks best-first (ascending).
type TopOfBook struct {
	ContractID string
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// BestBid returns the highest bid, false when the bid side is empty.
func (b *TopOfBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, false when the ask side is empty.
func (b *TopOfBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// DeepestBid returns the lowest bid in the returned ladder.
func (b *TopOfBook) DeepestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[len(b.Bids)-1].Price, true
}

// ContractAttributes are resolved once at startup from the primary venue.
type ContractAttributes struct {
	Ticker      string
	ContractID  string
	TickSize    decimal.Decimal
	MinQuantity decimal.Decimal
}

// TradingConfig is the immutable parameter set of one maker run.
type TradingConfig struct {
	Ticker         string
	ContractID     string
	Quantity       decimal.Decimal
	MaxPosition    decimal.Decimal
	TickSize       decimal.Decimal
	MinQuantity    decimal.Decimal
	MaxOrders      int
	BaseMultiple   decimal.Decimal
	WaitTime       time.Duration
	StatusInterval time.Duration
}

// WithAttributes returns a copy of c carrying the resolved contract attributes.
func (c TradingConfig) WithAttributes(attrs ContractAttributes) TradingConfig {
	c.ContractID = attrs.ContractID
	c.TickSize = attrs.TickSize
	c.MinQuantity = attrs.MinQuantity
	return c
}

// Position is one venue's signed net exposure on a symbol. Zero means flat.
type Position struct {
	Venue    Venue
	Symbol   string
	AssetKey string
	Quantity decimal.Decimal
}

// LadderLevel is one resting quote to place.
type LadderLevel struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// HedgeInstruction is the signed quantity to trade on the secondary venue. Positive buys.
type HedgeInstruction struct {
	AssetKey string
	Quantity decimal.Decimal
}

// Side returns the trading direction of the instruction.
func (h HedgeInstruction) Side() Side {
	if h.Quantity.IsNegative() {
		return SideAsk
	}
	return SideBid
}

// OrderInfo describes a live order on the primary venue.
type OrderInfo struct {
	OrderID       string
	Side          Side
	Size          decimal.Decimal
	Price         decimal.Decimal
	Status        string
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
}

// ResultKind tags the variant held by an OrderResult.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultVenueError
	ResultMalformed
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultVenueError:
		return "venue_error"
	case ResultMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// OrderResult is the outcome of a single placement or cancel.
// Exactly one of the variant payloads is meaningful, selected by Kind.
type OrderResult struct {
	Kind ResultKind

	// Success
	Order OrderInfo

	// VenueError
	Code    string
	Message string

	// Malformed
	Raw string
}

// Success builds a successful result.
func Success(order OrderInfo) OrderResult {
	return OrderResult{Kind: ResultSuccess, Order: order}
}

// VenueError builds a result for an error payload returned by the venue.
func VenueError(code, message string) OrderResult {
	return OrderResult{Kind: ResultVenueError, Code: code, Message: message}
}

// Malformed builds a result for a payload that could not be interpreted.
func Malformed(message, raw string) OrderResult {
	return OrderResult{Kind: ResultMalformed, Message: message, Raw: raw}
}

// OK reports whether the result is a success.
func (r OrderResult) OK() bool { return r.Kind == ResultSuccess }

// PlaceLimitOrderRequest is a post-only GTC limit order for the primary venue.
type PlaceLimitOrderRequest struct {
	ContractID string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
}

// OrderUpdate is a raw order event pushed by the primary venue.
type OrderUpdate struct {
	ContractID string
	Event      string
	OrderID    string
	Raw        []byte
	ReceivedAt time.Time
}
