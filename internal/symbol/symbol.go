// Package symbol 把各交易所的原生品种名统一为 BASE-QUOTE-KIND 标准形式。
package symbol

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 是合约类型。
type Kind string

const (
	KindSpot    Kind = "SPOT"
	KindPerp    Kind = "PERP"
	KindFutures Kind = "FUTURES"
	KindSwap    Kind = "SWAP"
)

var ErrUnrecognized = errors.New("symbol: unrecognized native symbol")

var kindAliases = map[string]Kind{
	"SPOT":      KindSpot,
	"PERP":      KindPerp,
	"PERPETUAL": KindPerp,
	"SWAP":      KindSwap,
	"FUTURES":   KindFutures,
	"FUTURE":    KindFutures,
}

// knownQuotes 按长度降序，拼接式品种名（BTCUSDT）从后缀识别计价货币。
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

func isQuote(s string) bool {
	for _, q := range knownQuotes {
		if q == s {
			return true
		}
	}
	return false
}

// Standard 是交易所无关的标准品种。
type Standard struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Kind  Kind   `json:"kind"`
}

func (s Standard) String() string {
	return s.Base + "-" + s.Quote + "-" + string(s.Kind)
}

func (s Standard) IsZero() bool { return s.Base == "" }

// ParseStandard 解析 BASE-QUOTE-KIND 字符串。
func ParseStandard(v string) (Standard, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(v)), "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Standard{}, fmt.Errorf("%w: %q is not BASE-QUOTE-KIND", ErrUnrecognized, v)
	}
	kind, ok := kindAliases[parts[2]]
	if !ok {
		return Standard{}, fmt.Errorf("%w: unknown contract kind %q", ErrUnrecognized, parts[2])
	}
	return Standard{Base: parts[0], Quote: parts[1], Kind: kind}, nil
}
