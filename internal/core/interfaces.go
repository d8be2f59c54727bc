// Package core defines the core types and interfaces of the hedged market maker
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IPrimaryVenue is the venue the maker quotes on
type IPrimaryVenue interface {
	GetName() string
	GetContractAttributes(ctx context.Context, ticker string, quantity decimal.Decimal) (ContractAttributes, error)
	GetTopOfBook(ctx context.Context, contractID string) (*TopOfBook, error)
	PlaceLimitOrder(ctx context.Context, req PlaceLimitOrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, contractID, orderID string) (OrderResult, error)
	GetOpenOrders(ctx context.Context, contractID string) ([]OrderInfo, error)
	GetAllPositions(ctx context.Context) ([]Position, error)
	StartOrderStream(ctx context.Context, contractID string, callback func(update OrderUpdate)) error
}

// ISecondaryVenue is the venue hedges are executed on
type ISecondaryVenue interface {
	GetName() string
	GetPositions(ctx context.Context) ([]Position, error)
	// PlaceMarketOrder trades |quantity| of asset; the sign selects the side.
	PlaceMarketOrder(ctx context.Context, asset string, quantity decimal.Decimal) (OrderResult, error)
}

// IOrderExecutor paces and records order traffic to the primary venue
type IOrderExecutor interface {
	PlaceLimitOrder(ctx context.Context, req PlaceLimitOrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, contractID, orderID string) (OrderResult, error)
}

// IJournal records submitted orders for audit. It is never read back by the trading loops.
type IJournal interface {
	RecordQuote(ctx context.Context, cycleID string, level LadderLevel, result OrderResult) error
	RecordHedge(ctx context.Context, cycleID string, inst HedgeInstruction, result OrderResult) error
}

// AlertLevel grades an operator notification
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// IAlerter delivers operator notifications without blocking the caller
type IAlerter interface {
	Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// Clock abstracts time so loop sleeps can be driven from tests
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

// RealClock is the wall clock
type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
