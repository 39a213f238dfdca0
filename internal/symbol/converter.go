package symbol

import (
	"fmt"
	"strings"
	"sync"
)

// Style 描述交易所原生品种名的书写格式。
type Style int

const (
	StyleAuto       Style = iota // 按分隔符自动识别
	StyleSlash                   // BTC/USDC:PERP
	StyleUnderscore              // BTC_USDC_PERP
	StyleConcat                  // BTCUSDT
)

// Format 是单个交易所的解析规则。
type Format struct {
	Style        Style
	DefaultQuote string // 原生名缺少计价货币时使用
	DefaultKind  Kind   // 原生名缺少合约类型时使用
	PairKind     Kind   // 只有 BASE+QUOTE 两段时的合约类型
}

var builtinFormats = map[string]Format{
	"hyperliquid": {Style: StyleSlash, DefaultQuote: "USDC", DefaultKind: KindPerp, PairKind: KindSpot},
	"backpack":    {Style: StyleUnderscore, DefaultQuote: "USDC", DefaultKind: KindPerp, PairKind: KindSpot},
	"edgex":       {Style: StyleUnderscore, DefaultQuote: "USDT", DefaultKind: KindPerp, PairKind: KindPerp},
	"binance":     {Style: StyleConcat, DefaultKind: KindPerp, PairKind: KindPerp},
}

var genericFormat = Format{Style: StyleAuto, DefaultKind: KindPerp, PairKind: KindPerp}

// Converter 把 (原生品种, 交易所) 映射为 Standard；结果只取决于输入与静态配置。
type Converter struct {
	mu      sync.RWMutex
	formats map[string]Format
	aliases map[string]string
}

// NewConverter 创建转换器；quoteAliases 把等价计价货币折叠到同一个（如 USDC -> USDT）。
func NewConverter(quoteAliases map[string]string) *Converter {
	c := &Converter{
		formats: make(map[string]Format, len(builtinFormats)),
		aliases: make(map[string]string, len(quoteAliases)),
	}
	for id, f := range builtinFormats {
		c.formats[id] = f
	}
	for from, to := range quoteAliases {
		from = strings.ToUpper(strings.TrimSpace(from))
		to = strings.ToUpper(strings.TrimSpace(to))
		if from != "" && to != "" {
			c.aliases[from] = to
		}
	}
	return c
}

// SetFormat 覆盖某交易所的解析规则。
func (c *Converter) SetFormat(exchangeID string, f Format) {
	c.mu.Lock()
	c.formats[strings.ToLower(strings.TrimSpace(exchangeID))] = f
	c.mu.Unlock()
}

func (c *Converter) format(exchangeID string) Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.formats[strings.ToLower(strings.TrimSpace(exchangeID))]; ok {
		return f
	}
	return genericFormat
}

// ToStandard 解析原生品种名；无法识别时返回 ErrUnrecognized。
func (c *Converter) ToStandard(native, exchangeID string) (Standard, error) {
	sym := strings.ToUpper(strings.TrimSpace(native))
	if sym == "" {
		return Standard{}, fmt.Errorf("%w: empty symbol", ErrUnrecognized)
	}
	f := c.format(exchangeID)
	style := f.Style
	if style == StyleAuto {
		style = detectStyle(sym)
	}
	var (
		std Standard
		err error
	)
	switch style {
	case StyleSlash:
		std, err = parseSlash(sym, f)
	case StyleConcat:
		std, err = parseConcat(sym, f)
	default:
		std, err = parseDelimited(sym, f)
	}
	if err != nil {
		return Standard{}, fmt.Errorf("%s@%s: %w", native, exchangeID, err)
	}
	if alias, ok := c.aliases[std.Quote]; ok {
		std.Quote = alias
	}
	return std, nil
}

func detectStyle(sym string) Style {
	switch {
	case strings.Contains(sym, "/"):
		return StyleSlash
	case strings.ContainsAny(sym, "_-"):
		return StyleUnderscore
	default:
		return StyleConcat
	}
}

// parseSlash: BTC/USDC:PERP、BTC/USDC、BTC
func parseSlash(sym string, f Format) (Standard, error) {
	base, rest, hasQuote := strings.Cut(sym, "/")
	if base == "" {
		return Standard{}, ErrUnrecognized
	}
	if !hasQuote {
		return withDefaults(base, "", "", f, false)
	}
	quote, kind, hasKind := strings.Cut(rest, ":")
	if !hasKind {
		return withDefaults(base, quote, "", f, true)
	}
	return withDefaults(base, quote, kind, f, false)
}

// parseDelimited: BTC_USDT_PERP、BTC-USDT-PERP、ETH-USDT-SWAP、BTC_USDC
func parseDelimited(sym string, f Format) (Standard, error) {
	parts := strings.FieldsFunc(sym, func(r rune) bool { return r == '_' || r == '-' })
	if len(parts) == 0 {
		return Standard{}, ErrUnrecognized
	}
	base := parts[0]
	if len(parts) == 1 {
		return withDefaults(base, "", "", f, false)
	}
	quote, kind := "", ""
	for _, p := range parts[1:] {
		if quote == "" && isQuote(p) {
			quote = p
			continue
		}
		if kind == "" {
			if _, ok := kindAliases[p]; ok {
				kind = p
			}
		}
	}
	if quote == "" {
		return Standard{}, fmt.Errorf("%w: no quote currency in %q", ErrUnrecognized, sym)
	}
	return withDefaults(base, quote, kind, f, len(parts) == 2)
}

// parseConcat: BTCUSDT、1000PEPEUSDT、BTCUSDT_250328
func parseConcat(sym string, f Format) (Standard, error) {
	body, suffix, dated := strings.Cut(sym, "_")
	for _, q := range knownQuotes {
		if len(body) > len(q) && strings.HasSuffix(body, q) {
			kind := ""
			if dated && suffix != "" {
				kind = string(KindFutures)
			}
			return withDefaults(strings.TrimSuffix(body, q), q, kind, f, false)
		}
	}
	return Standard{}, fmt.Errorf("%w: no known quote suffix in %q", ErrUnrecognized, sym)
}

func withDefaults(base, quote, kind string, f Format, pairOnly bool) (Standard, error) {
	if base == "" {
		return Standard{}, ErrUnrecognized
	}
	if quote == "" {
		quote = f.DefaultQuote
	}
	if quote == "" {
		return Standard{}, fmt.Errorf("%w: no quote currency for %q", ErrUnrecognized, base)
	}
	var k Kind
	switch {
	case kind != "":
		alias, ok := kindAliases[kind]
		if !ok {
			return Standard{}, fmt.Errorf("%w: unknown contract kind %q", ErrUnrecognized, kind)
		}
		k = alias
	case pairOnly && f.PairKind != "":
		k = f.PairKind
	default:
		k = f.DefaultKind
	}
	if k == "" {
		k = KindPerp
	}
	return Standard{Base: base, Quote: quote, Kind: k}, nil
}
