package bootstrap

import (
	"context"

	"hedged_mm/internal/core"
	"hedged_mm/pkg/telemetry"
)

// status is the body of GET /status.
func (a *App) status(ctx context.Context) interface{} {
	m := telemetry.GetGlobalMetrics()
	out := map[string]interface{}{
		"mode":          a.Cfg.App.Mode,
		"ticker":        a.Cfg.TradingParams().Ticker,
		"healthy":       a.health.IsHealthy(),
		"active_orders": m.GetActiveOrders(),
		"positions": map[string]interface{}{
			string(core.VenuePrimary):   m.GetPositionSize(string(core.VenuePrimary)),
			string(core.VenueSecondary): m.GetPositionSize(string(core.VenueSecondary)),
		},
		"hedge_deltas":   m.GetHedgeDeltas(),
		"alert_channels": a.alerts.Channels(),
	}

	if a.Maker != nil {
		cfg := a.Maker.Config()
		out["contract_id"] = cfg.ContractID
		out["tick_size"] = cfg.TickSize.String()
	}
	if a.updates != nil {
		out["order_updates"] = a.updates.Total()
	}
	if a.journal != nil {
		if counts, err := a.journal.Counts(ctx); err == nil {
			out["journal"] = counts
		}
	}
	if a.pool != nil {
		out["alert_pool"] = a.pool.Stats()
	}
	return out
}
