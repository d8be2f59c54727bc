package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `app:
  mode: all

venues:
  primary:
    api_key: "${TEST_BP_API_KEY}"
    secret_key: "${TEST_BP_SECRET_KEY}"
  secondary:
    account_index: 42
    api_key_index: 2
    signer_url: "http://127.0.0.1:8081"

trading:
  ticker: eth
  quantity: 0.01
  max_position_count: 0.1
  max_orders: 1
  base_multiple: 2
  wait_time: 2.95s

hedge:
  interval: 5s
  min_action_quantity: 0.001

system:
  log_level: INFO
  cancel_on_exit: true
`

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_API_KEY}",
			envVars:  map[string]string{"TEST_API_KEY": "test_key_123"},
			expected: "api_key: test_key_123",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "static_value: 123\napi_key: ${TEST_KEY}",
			envVars:  map[string]string{"TEST_KEY": "dynamic_key"},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("TEST_BP_API_KEY", "api_key_from_env")
	t.Setenv("TEST_BP_SECRET_KEY", "secret_from_env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, Secret("api_key_from_env"), cfg.Venues.Primary.APIKey)
	assert.Equal(t, Secret("secret_from_env"), cfg.Venues.Primary.SecretKey)
	assert.Equal(t, int64(42), cfg.Venues.Secondary.AccountIndex)
	assert.True(t, cfg.Trading.Quantity.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 2950*time.Millisecond, cfg.Trading.WaitTime)
	assert.Equal(t, 5*time.Second, cfg.Hedge.Interval)

	params := cfg.TradingParams()
	assert.Equal(t, "ETH", params.Ticker)
	assert.True(t, params.MaxPosition.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, time.Minute, params.StatusInterval)
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, ModeAll, cfg.App.Mode)
	assert.Equal(t, "USDC", cfg.Venues.Primary.Quote)
	assert.Equal(t, "PERP", cfg.Venues.Primary.MarketType)
	assert.Equal(t, 5000, cfg.Venues.Primary.WindowMs)
	assert.True(t, cfg.Hedge.SkipOnPartial())
	assert.True(t, cfg.System.CancelsOnExit())
	assert.True(t, cfg.Hedge.MinActionQuantity.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, 100, cfg.System.LogMaxSizeMB)
	assert.Equal(t, 3, cfg.System.LogMaxBackups)
	assert.Equal(t, float64(25), cfg.RateLimit.OrdersPerSecond)
}

func TestSkipOnPartialCanBeDisabled(t *testing.T) {
	t.Setenv("TEST_BP_API_KEY", "k")
	t.Setenv("TEST_BP_SECRET_KEY", "s")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.True(t, cfg.Hedge.SkipOnPartial())

	doc := `app: {mode: hedge}
venues:
  primary: {api_key: k, secret_key: s}
  secondary: {signer_url: "http://signer"}
hedge:
  skip_on_partial_snapshot: false
system:
  cancel_on_exit: false
`
	cfg, err = Parse([]byte(doc))
	require.NoError(t, err)
	assert.False(t, cfg.Hedge.SkipOnPartial())
	assert.False(t, cfg.System.CancelsOnExit())
	assert.False(t, cfg.RunsMaker())
	assert.True(t, cfg.RunsHedger())
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.System.LogLevel = "VERBOSE"

	err := cfg.Validate()
	require.Error(t, err)

	fields := map[string]bool{}
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	for _, e := range joined.Unwrap() {
		var ve ValidationError
		require.True(t, errors.As(e, &ve))
		fields[ve.Field] = true
	}

	for _, f := range []string{
		"venues.primary.api_key",
		"venues.primary.secret_key",
		"venues.secondary.signer_url",
		"trading.ticker",
		"trading.quantity",
		"trading.max_position_count",
		"system.log_level",
	} {
		assert.True(t, fields[f], "expected violation for %s", f)
	}
}

func TestValidate_ModeScopesChecks(t *testing.T) {
	cfg := &Config{App: AppConfig{Mode: ModeMaker}}
	cfg.Venues.Primary.APIKey = "k"
	cfg.Venues.Primary.SecretKey = "s"
	cfg.Trading.Ticker = "SOL"
	cfg.Trading.Quantity = decimal.NewFromInt(1)
	cfg.Trading.MaxPositionCount = decimal.NewFromInt(10)
	cfg.ApplyDefaults()

	assert.NoError(t, cfg.Validate(), "maker-only mode needs no signer")

	cfg.App.Mode = "both"
	var ve ValidationError
	require.ErrorAs(t, cfg.Validate(), &ve)
	assert.Equal(t, "app.mode", ve.Field)
}

func TestValidate_TelegramPairing(t *testing.T) {
	cfg := &Config{App: AppConfig{Mode: ModeMaker}}
	cfg.Venues.Primary.APIKey = "k"
	cfg.Venues.Primary.SecretKey = "s"
	cfg.Trading.Ticker = "SOL"
	cfg.Trading.Quantity = decimal.NewFromInt(1)
	cfg.Trading.MaxPositionCount = decimal.NewFromInt(10)
	cfg.Alert.TelegramBotToken = "token"
	cfg.ApplyDefaults()

	var ve ValidationError
	require.ErrorAs(t, cfg.Validate(), &ve)
	assert.Equal(t, "alert.telegram_chat_id", ve.Field)
}

func TestConfigString_RedactsSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Venues.Primary.APIKey = "my_super_secret_api_key"
	cfg.Venues.Primary.SecretKey = "my_super_secret_secret_key"
	cfg.Alert.SlackWebhook = "https://hooks.slack.com/services/secret"

	output := cfg.String()
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_secret_key")
	assert.NotContains(t, output, "hooks.slack.com")
	assert.Contains(t, output, "[REDACTED]")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HEDGED_MM_DOTENV_TEST=from_file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("HEDGED_MM_DOTENV_TEST") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from_file", os.Getenv("HEDGED_MM_DOTENV_TEST"))
}

func TestLoadConfigForMode_OverridesBeforeValidation(t *testing.T) {
	doc := `venues:
  primary: {api_key: k, secret_key: s}
trading:
  ticker: sol
  quantity: 1
  max_position_count: 10
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err, "mode all requires the secondary signer")

	cfg, err := LoadConfigForMode(path, "MAKER")
	require.NoError(t, err)
	assert.Equal(t, ModeMaker, cfg.App.Mode)
	assert.False(t, cfg.RunsHedger())
}
