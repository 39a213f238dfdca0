package symbol

// fallbackSymbols 是任何交易所都拿不到品种列表时的保底集合。
var fallbackSymbols = []string{
	"BTC_USDT_PERP",
	"ETH_USDT_PERP",
	"SOL_USDT_PERP",
	"AVAX_USDT_PERP",
	"DOGE_USDT_PERP",
	"ADA_USDT_PERP",
	"DOT_USDT_PERP",
	"MATIC_USDT_PERP",
	"LINK_USDT_PERP",
	"UNI_USDT_PERP",
}

// Fallback 返回保底列表的副本。
func Fallback() []string {
	out := make([]string, len(fallbackSymbols))
	copy(out, fallbackSymbols)
	return out
}
