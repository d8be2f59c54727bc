// Package position nets venue positions per canonical asset.
package position

import (
	"context"

	"hedged_mm/internal/core"
	"hedged_mm/internal/trading/symbol"

	"github.com/shopspring/decimal"
)

// Exposure maps canonical asset key to a venue's signed net quantity.
type Exposure map[string]decimal.Decimal

// Snapshot holds both venues' exposure for one hedging cycle.
// A venue whose fetch failed has a nil Exposure and Complete is false.
type Snapshot struct {
	Primary   Exposure
	Secondary Exposure
	Complete  bool
}

// Aggregate folds one venue's positions into an Exposure. Zero quantities are
// skipped; entries that unify to the same key are summed. Positions from other
// venues are ignored.
func Aggregate(venue core.Venue, positions []core.Position) Exposure {
	out := make(Exposure)
	for _, p := range positions {
		if p.Venue != "" && p.Venue != venue {
			continue
		}
		if p.Quantity.IsZero() {
			continue
		}
		key := p.AssetKey
		if key == "" {
			key = symbol.Unify(p.Symbol, venue)
		}
		out[key] = out[key].Add(p.Quantity)
	}
	for k, v := range out {
		if v.IsZero() {
			delete(out, k)
		}
	}
	return out
}

// Fetcher returns the current positions of one venue.
type Fetcher func(ctx context.Context) ([]core.Position, error)

// Aggregator collects exposure from both venues.
type Aggregator struct {
	primary   Fetcher
	secondary Fetcher
	logger    core.ILogger
}

// NewAggregator creates an aggregator over the two venue position fetchers
func NewAggregator(primary, secondary Fetcher, logger core.ILogger) *Aggregator {
	return &Aggregator{
		primary:   primary,
		secondary: secondary,
		logger:    logger.WithField("component", "position_aggregator"),
	}
}

// Collect fetches both venues. A failed fetch leaves that venue's exposure nil
// and is logged; the other venue is still collected.
func (a *Aggregator) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{Complete: true}

	if ps, err := a.primary(ctx); err != nil {
		a.logger.Warn("Failed to fetch positions", "venue", core.VenuePrimary, "error", err)
		snap.Complete = false
	} else {
		snap.Primary = Aggregate(core.VenuePrimary, ps)
	}

	if ps, err := a.secondary(ctx); err != nil {
		a.logger.Warn("Failed to fetch positions", "venue", core.VenueSecondary, "error", err)
		snap.Complete = false
	} else {
		snap.Secondary = Aggregate(core.VenueSecondary, ps)
	}

	return snap
}
