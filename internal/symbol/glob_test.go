package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"BTC*", "BTCUSDT_PERP", true},
		{"*PERP", "BTCUSDT_PERP", true},
		{"*USDT*", "BTCUSDT_PERP", true},
		{"BTC", "BTCUSDT", false},
		{"btc*", "BTCUSDT", false},
		{"BTC?", "BTC1", false},
		{"BTC?", "BTC?", true},
		{"USDT", "BTCUSDT", false},
		{"A*A", "A", false},
		{"A*B*C", "ABC", true},
		{"*", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.s), "%q ~ %q", tc.pattern, tc.s)
	}
}

func TestFilterExcludeWins(t *testing.T) {
	got := Filter([]string{"BTCUSDT_PERP", "BTCUSDT", "ETHUSDT"}, []string{"BTC*"}, []string{"*PERP"}, 0)
	assert.Equal(t, []string{"BTCUSDT"}, got)
}

func TestFilterCapAppliesAfterPatterns(t *testing.T) {
	in := []string{"AAA", "BTC1", "BTC2", "BTC3"}
	assert.Equal(t, []string{"BTC1", "BTC2"}, Filter(in, []string{"BTC*"}, nil, 2))
	assert.Equal(t, in, Filter(in, []string{" "}, nil, 0))
}

func TestFallbackIsACopy(t *testing.T) {
	a := Fallback()
	a[0] = "X"
	assert.Equal(t, "BTC_USDT_PERP", Fallback()[0])
	assert.Len(t, Fallback(), 10)
}
