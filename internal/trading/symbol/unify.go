// Package symbol maps venue ticker spellings onto a canonical asset key.
package symbol

import (
	"strings"

	"hedged_mm/internal/core"
)

// quoteSuffixes are tried longest first so USDT never degrades to a stray T.
var quoteSuffixes = []string{"USDT", "USDC", "USD"}

// Unify returns the canonical asset key for a venue symbol.
// ETH_USDC_PERP, ETHUSDT and eth all become ETH. Unknown suffixes pass through.
// Both venues currently share one rule set, so the venue is unused.
func Unify(raw string, _ core.Venue) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(s, '_'); i > 0 {
		s = s[:i]
	}
	for {
		stripped := stripQuote(s)
		if stripped == s {
			return s
		}
		s = stripped
	}
}

func stripQuote(s string) string {
	for _, q := range quoteSuffixes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}
