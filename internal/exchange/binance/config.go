package binance

import (
	"strconv"
	"strings"
	"time"

	"exhub/internal/exchange"
)

// settings 是从 exchange.Config 派生出的 Binance 专用参数。
type settings struct {
	RESTBaseURL string
	WSBaseURL   string // 组合流地址，形如 wss://host/stream
	WSBatchSize int
	SymbolsTTL  time.Duration
	KeepAlive   time.Duration
}

func settingsFrom(cfg exchange.Config) settings {
	s := settings{
		RESTBaseURL: strings.TrimRight(strings.TrimSpace(cfg.RESTURL), "/"),
		WSBaseURL:   strings.TrimSpace(cfg.WSURL),
	}
	if v, err := strconv.Atoi(cfg.ExtraValue("ws_batch_size", "")); err == nil {
		s.WSBatchSize = v
	}
	if d, err := time.ParseDuration(cfg.ExtraValue("symbols_ttl", "")); err == nil {
		s.SymbolsTTL = d
	}
	return s.withDefaults(cfg.Testnet)
}

func (s settings) withDefaults(testnet bool) settings {
	out := s
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
		if testnet {
			out.RESTBaseURL = "https://testnet.binancefuture.com"
		}
	}
	if out.WSBaseURL == "" {
		out.WSBaseURL = "wss://fstream.binance.com/stream"
		if testnet {
			out.WSBaseURL = "wss://stream.binancefuture.com/stream"
		}
	}
	if out.WSBatchSize <= 0 {
		out.WSBatchSize = 150
	}
	if out.SymbolsTTL <= 0 {
		out.SymbolsTTL = 5 * time.Minute
	}
	if out.KeepAlive <= 0 {
		out.KeepAlive = 30 * time.Minute
	}
	return out
}

// userStreamURL 把组合流地址换成单流地址：.../stream -> .../ws/<listenKey>
func (s settings) userStreamURL(listenKey string) string {
	base := strings.TrimSuffix(strings.TrimRight(s.WSBaseURL, "/"), "/stream")
	return base + "/ws/" + listenKey
}
