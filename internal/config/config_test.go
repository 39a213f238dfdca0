package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[app]
status_every_seconds = 30

[log]
level = "debug"

[manager]
health_check_interval_seconds = 15
startup_delay_seconds = -1
auto_reconnect = false
heartbeat_max_failures = 5

[symbols]
min_exchange_count = 3
include_patterns = ["*-USDT-PERP"]
quote_aliases = { USDC = "USDT" }

[[exchanges]]
id = "Binance"
priority = 2
api_key = "${EXHUB_TEST_KEY}"
api_secret = "secret"
[exchanges.subscription]
mode = "dynamic"
batch_delay_ms = 250
[exchanges.subscription.dynamic]
data_types = { ticker = true, order_book = true }
max_symbols = 50
auto_discovery_interval_seconds = 120

[[exchanges]]
id = "hyperliquid"
kind = "sim"
priority = 1
auto_reconnect = false
symbols = ["BTC/USDC:PERP"]
[exchanges.subscription.predefined]
symbols = ["BTC/USDC:PERP"]
data_types = { ticker = true, user_data = false }
`

const sampleYAML = `
http:
  disabled: true
exchanges:
  - id: backpack
    priority: 1
    subscription:
      predefined:
        symbols: [BTC_USDC_PERP]
        data_types: {trades: true}
  - id: edgex
    disabled: true
`

func TestParseTOML(t *testing.T) {
	t.Setenv("EXHUB_TEST_KEY", "from-env")
	cfg, err := Parse([]byte(sampleTOML), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "exhub", cfg.App.Name)
	assert.Equal(t, 30*time.Second, cfg.StatusEvery())
	assert.Equal(t, ":9992", cfg.HTTPAddr())
	assert.Equal(t, "debug", cfg.LoggerOptions().Level)
	assert.Equal(t, []string{"hyperliquid", "binance"}, cfg.EnabledExchangeIDs())

	mc := cfg.ManagerConfig()
	assert.Equal(t, 15*time.Second, mc.HealthCheckInterval)
	assert.Equal(t, -time.Second, mc.StartupDelay)
	assert.True(t, mc.DisableAutoReconnect)
	assert.Equal(t, 5, mc.HeartbeatMaxFailures)

	oc := cfg.OverlapConfig()
	assert.Equal(t, 3, oc.MinExchangeCount)
	assert.Equal(t, []string{"*-USDT-PERP"}, oc.IncludePatterns)
	assert.Equal(t, []string{"hyperliquid", "binance"}, oc.ExchangePriority)
	assert.Equal(t, map[string]string{"USDC": "USDT"}, cfg.QuoteAliases())

	bin := cfg.AdapterConfig(0)
	assert.Equal(t, "binance", bin.ID)
	assert.Equal(t, "binance", bin.Kind)
	assert.Equal(t, "from-env", bin.APIKey)
	assert.True(t, bin.AutoReconnect)
	assert.True(t, bin.EnableWebsocket)
	assert.Equal(t, 15*time.Second, bin.Timeout)

	hl := cfg.AdapterConfig(1)
	assert.Equal(t, "sim", hl.Kind)
	assert.False(t, hl.AutoReconnect)
	assert.Equal(t, []string{"BTC/USDC:PERP"}, hl.Symbols)

	sc, err := cfg.SubscriptionConfig(0)
	require.NoError(t, err)
	assert.Equal(t, subscription.ModeDynamic, sc.Mode)
	assert.Equal(t, map[exchange.DataKind]bool{exchange.KindTicker: true, exchange.KindOrderBook: true}, sc.Dynamic.DataTypes)
	assert.Equal(t, 50, sc.Dynamic.MaxSymbols)
	assert.Equal(t, 2*time.Minute, sc.Dynamic.AutoDiscoveryInterval)
	assert.Equal(t, 250*time.Millisecond, sc.Batch.Delay)

	sc, err = cfg.SubscriptionConfig(1)
	require.NoError(t, err)
	assert.Equal(t, subscription.ModePredefined, sc.Mode)
	assert.Equal(t, []string{"BTC/USDC:PERP"}, sc.Predefined.Symbols)
	assert.False(t, sc.Predefined.DataTypes[exchange.KindUserData])
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTPAddr())
	assert.Equal(t, []string{"backpack"}, cfg.EnabledExchangeIDs())
	assert.True(t, cfg.AdapterConfig(1).Disabled)
	assert.False(t, cfg.ManagerConfig().DisableAutoReconnect)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"missing id":     "exchanges:\n  - priority: 1\n",
		"bad mode":       "exchanges:\n  - id: a\n    subscription:\n      mode: sometimes\n",
		"duplicate id":   "exchanges:\n  - id: a\n  - id: A\n",
		"bad data type":  "exchanges:\n  - id: a\n    subscription:\n      predefined:\n        data_types: {candles: true}\n",
		"bad log level":  "log:\n  level: loud\n",
		"negative count": "symbols:\n  min_exchange_count: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), FormatYAML)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("EXHUB_TEST_SECRET=s3cret\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("EXHUB_TEST_SECRET") })

	cfgPath := filepath.Join(dir, "exhub.yaml")
	doc := "exchanges:\n  - id: binance\n    api_key: k\n    api_secret: ${EXHUB_TEST_SECRET}\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o600))

	cfg, err := Load(cfgPath, envPath, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Exchanges[0].APISecret)
	assert.True(t, cfg.AdapterConfig(0).HasCredentials())

	red := cfg.Redacted()
	assert.Equal(t, "***", red.Exchanges[0].APISecret)
	assert.Equal(t, "s3cret", cfg.Exchanges[0].APISecret)

	_, err = Load(filepath.Join(dir, "exhub.ini"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExpandEnvOnlyBraces(t *testing.T) {
	t.Setenv("EXHUB_X", "1")
	assert.Equal(t, "a1 $EXHUB_X b", ExpandEnv("a${EXHUB_X} $EXHUB_X b"))
	assert.Equal(t, "", ExpandEnv("${EXHUB_UNSET_VAR_FOR_TEST}"))
}

func TestDefaultAndDryRun(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Exchanges, 3)
	assert.Equal(t, "binance", cfg.AdapterConfig(0).Kind)

	cfg.App.DryRun = true
	for i := range cfg.Exchanges {
		assert.Equal(t, "sim", cfg.AdapterConfig(i).Kind)
	}
	for i := range cfg.Exchanges {
		_, err := cfg.SubscriptionConfig(i)
		require.NoError(t, err)
	}
}
