package symbol

import (
	"testing"

	"hedged_mm/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestUnify(t *testing.T) {
	tests := []struct {
		raw   string
		venue core.Venue
		want  string
	}{
		{"ETH_USDC_PERP", core.VenuePrimary, "ETH"},
		{"SOL_USDC_PERP", core.VenuePrimary, "SOL"},
		{"ETHUSDT", core.VenueSecondary, "ETH"},
		{"ETH_USDT_PERP", core.VenueSecondary, "ETH"},
		{"eth", core.VenueSecondary, "ETH"},
		{"BTCUSD", core.VenueSecondary, "BTC"},
		{"BTCUSDC", core.VenueSecondary, "BTC"},
		{"DOGE", core.VenueSecondary, "DOGE"},
		{"1000PEPE", core.VenueSecondary, "1000PEPE"},
		{"ETH-PERP", core.VenueSecondary, "ETH-PERP"},
		{"USDC", core.VenueSecondary, "USDC"},
		{"USDT_PERP", core.VenuePrimary, "USDT"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Unify(tt.raw, tt.venue))
		})
	}
}

func TestUnify_Idempotent(t *testing.T) {
	for _, raw := range []string{"ETH_USDC_PERP", "ETHUSDT", "eth", "USDCUSDT", "XUSDUSDT", "BTC", "USD"} {
		once := Unify(raw, core.VenuePrimary)
		assert.Equal(t, once, Unify(once, core.VenuePrimary), raw)
		assert.NotEmpty(t, once)
	}
}

func TestUnify_CrossVenueAgreement(t *testing.T) {
	assert.Equal(t, Unify("ETHUSDT", core.VenueSecondary), Unify("ETH_USDT_PERP", core.VenuePrimary))
}
