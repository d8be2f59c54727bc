// Package alert fans operator notifications out to Slack and Telegram without
// blocking the trading loops.
package alert

import (
	"context"
	"sync"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/pkg/concurrency"
)

type AlertLevel = core.AlertLevel

const (
	Info     = core.AlertInfo
	Warning  = core.AlertWarning
	Error    = core.AlertError
	Critical = core.AlertCritical
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager implements core.IAlerter. Each channel delivery is a task on
// the worker pool; a full pool drops the delivery with a log line.
type AlertManager struct {
	channels []AlertChannel
	pool     *concurrency.WorkerPool
	timeout  time.Duration
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(pool *concurrency.WorkerPool, logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		pool:     pool,
		timeout:  10 * time.Second,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Channels returns the names of the configured channels.
func (am *AlertManager) Channels() []string {
	am.mu.RLock()
	defer am.mu.RUnlock()
	names := make([]string, 0, len(am.channels))
	for _, ch := range am.channels {
		names = append(names, ch.Name())
	}
	return names
}

func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	channels := append([]AlertChannel(nil), am.channels...)
	am.mu.RUnlock()

	// Delivery outlives the caller's context, e.g. during shutdown.
	base := context.WithoutCancel(ctx)
	for _, ch := range channels {
		c := ch
		err := am.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(base, am.timeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		})
		if err != nil {
			am.logger.Warn("Alert dropped", "channel", c.Name(), "title", title, "error", err)
		}
	}
}
