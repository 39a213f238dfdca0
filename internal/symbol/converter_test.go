package symbol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStandard(t *testing.T) {
	conv := NewConverter(nil)
	cases := []struct {
		native, exchange, want string
	}{
		{"BTC_USDT_PERP", "exchange1", "BTC-USDT-PERP"},
		{"BTC-USDT-PERP", "exchange2", "BTC-USDT-PERP"},
		{"BTCUSDT", "exchange3", "BTC-USDT-PERP"},
		{"btcusdt", "binance", "BTC-USDT-PERP"},
		{"1000PEPEUSDT", "binance", "1000PEPE-USDT-PERP"},
		{"BTCUSDT_250328", "binance", "BTC-USDT-FUTURES"},
		{"ETHBTC", "binance", "ETH-BTC-PERP"},
		{"BTC/USDC:PERP", "hyperliquid", "BTC-USDC-PERP"},
		{"BTC/USDC", "hyperliquid", "BTC-USDC-SPOT"},
		{"SOL", "hyperliquid", "SOL-USDC-PERP"},
		{"SOL_USDC_PERP", "backpack", "SOL-USDC-PERP"},
		{"SOL_USDC", "backpack", "SOL-USDC-SPOT"},
		{"SOL_USDT", "edgex", "SOL-USDT-PERP"},
		{"ETH", "edgex", "ETH-USDT-PERP"},
		{"ETH-USDT-SWAP", "okx", "ETH-USDT-SWAP"},
		{"ETH/USDT:PERPETUAL", "whatever", "ETH-USDT-PERP"},
	}
	for _, tc := range cases {
		got, err := conv.ToStandard(tc.native, tc.exchange)
		require.NoError(t, err, tc.native)
		assert.Equal(t, tc.want, got.String(), "%s@%s", tc.native, tc.exchange)
	}
}

func TestToStandardUnrecognized(t *testing.T) {
	conv := NewConverter(nil)
	for _, native := range []string{"", "FOO", "BTC_XYZ", "USDT", "BTC_USDT_WEEKLYX"} {
		_, err := conv.ToStandard(native, "generic")
		if native == "BTC_USDT_WEEKLYX" {
			// 未知的尾段被忽略，按默认合约类型处理。
			require.NoError(t, err)
			continue
		}
		assert.True(t, errors.Is(err, ErrUnrecognized), native)
	}
}

func TestQuoteAliasesFoldEquivalentQuotes(t *testing.T) {
	conv := NewConverter(map[string]string{"usdc": "usdt"})
	a, err := conv.ToStandard("BTC/USDC:PERP", "hyperliquid")
	require.NoError(t, err)
	b, err := conv.ToStandard("BTCUSDT", "binance")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestConversionIsPure(t *testing.T) {
	conv := NewConverter(nil)
	first, err := conv.ToStandard("ETH_USDT_PERP", "edgex")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := conv.ToStandard("ETH_USDT_PERP", "edgex")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	conv.SetFormat("custom", Format{Style: StyleConcat, DefaultKind: KindSpot})
	got, err := conv.ToStandard("ETHUSDT", "custom")
	require.NoError(t, err)
	assert.Equal(t, "ETH-USDT-SPOT", got.String())
}

func TestParseStandard(t *testing.T) {
	std, err := ParseStandard("btc-usdt-perp")
	require.NoError(t, err)
	assert.Equal(t, Standard{Base: "BTC", Quote: "USDT", Kind: KindPerp}, std)
	_, err = ParseStandard("BTCUSDT")
	assert.Error(t, err)
}
