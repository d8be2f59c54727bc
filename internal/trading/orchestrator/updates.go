package orchestrator

import (
	"context"
	"sync"

	"hedged_mm/internal/core"
	"hedged_mm/pkg/telemetry"

	"github.com/gammazero/deque"
)

const defaultUpdateHistory = 256

// OrderUpdateLog keeps the most recent order events pushed by the primary venue.
// Events are informational: the maker never reconciles its quotes from them.
type OrderUpdateLog struct {
	mu       sync.Mutex
	recent   deque.Deque[core.OrderUpdate]
	capacity int
	total    int64
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
}

// NewOrderUpdateLog creates a log retaining up to capacity events
func NewOrderUpdateLog(capacity int, logger core.ILogger) *OrderUpdateLog {
	if capacity <= 0 {
		capacity = defaultUpdateHistory
	}
	return &OrderUpdateLog{
		capacity: capacity,
		logger:   logger.WithField("component", "order_updates"),
		metrics:  telemetry.GetGlobalMetrics(),
	}
}

// Record is the stream callback.
func (l *OrderUpdateLog) Record(update core.OrderUpdate) {
	l.logger.Info("Order update",
		"symbol", update.ContractID,
		"event", update.Event,
		"order_id", update.OrderID,
		"payload", string(update.Raw))
	l.metrics.IncOrderUpdates(context.Background(), update.ContractID)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	l.recent.PushBack(update)
	for l.recent.Len() > l.capacity {
		l.recent.PopFront()
	}
}

// Recent returns retained events, oldest first.
func (l *OrderUpdateLog) Recent() []core.OrderUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.OrderUpdate, 0, l.recent.Len())
	for i := 0; i < l.recent.Len(); i++ {
		out = append(out, l.recent.At(i))
	}
	return out
}

// Total is the number of events seen since start.
func (l *OrderUpdateLog) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
