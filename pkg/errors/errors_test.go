package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cfg := NewConfigurationError("trading.ticker", "market %s not found", "DOGE")
	transient := &TransientVenueError{Venue: "backpack", Op: "CancelOrder", Code: "RATE_LIMIT_EXCEEDED", Err: ErrRateLimitExceeded}
	malformed := NewMalformedResponseError("lighter", "GetPositions", "missing accounts", []byte("{}"))

	wrapped := fmt.Errorf("iteration: %w", transient)

	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsConfiguration(transient))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, errors.Is(wrapped, ErrRateLimitExceeded))
	assert.True(t, IsMalformed(malformed))
	assert.False(t, IsTransient(malformed))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "configuration error [trading.ticker]: market DOGE not found",
		NewConfigurationError("trading.ticker", "market %s not found", "DOGE").Error())

	err := &TransientVenueError{Venue: "backpack", Op: "PlaceLimitOrder", Code: "INVALID_CLIENT_REQUEST", Err: ErrOrderRejected}
	assert.Equal(t, "backpack PlaceLimitOrder failed (code INVALID_CLIENT_REQUEST): order rejected", err.Error())
}

func TestMalformedResponseTruncatesRaw(t *testing.T) {
	err := NewMalformedResponseError("backpack", "GetTopOfBook", "bad price", []byte(strings.Repeat("x", 2000)))

	var me *MalformedResponseError
	assert.True(t, errors.As(err, &me))
	assert.Len(t, me.Raw, 512)
}
