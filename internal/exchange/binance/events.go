package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"exhub/internal/exchange"

	"github.com/shopspring/decimal"
)

const depthLevels = 20

// streamName 返回 (品种, 类别) 对应的组合流名称。
func streamName(symbol string, kind exchange.DataKind) (string, bool) {
	sym := strings.ToLower(strings.TrimSpace(symbol))
	if sym == "" {
		return "", false
	}
	switch kind {
	case exchange.KindTicker:
		return sym + "@ticker", true
	case exchange.KindOrderBook:
		return fmt.Sprintf("%s@depth%d@100ms", sym, depthLevels), true
	case exchange.KindTrades:
		return sym + "@aggTrade", true
	}
	return "", false
}

// parseStreamName 是 streamName 的逆运算。
func parseStreamName(stream string) (string, exchange.DataKind, bool) {
	sym, rest, ok := strings.Cut(stream, "@")
	if !ok || sym == "" {
		return "", "", false
	}
	sym = strings.ToUpper(sym)
	switch {
	case rest == "ticker":
		return sym, exchange.KindTicker, true
	case strings.HasPrefix(rest, "depth"):
		return sym, exchange.KindOrderBook, true
	case rest == "aggTrade":
		return sym, exchange.KindTrades, true
	}
	return "", "", false
}

type tickerEvent struct {
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Last      decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
}

func parseTicker(exchangeID string, raw json.RawMessage) (exchange.Ticker, error) {
	var ev tickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return exchange.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	if ev.Symbol == "" {
		return exchange.Ticker{}, fmt.Errorf("decode ticker: missing symbol")
	}
	return exchange.Ticker{
		Exchange:  exchangeID,
		Symbol:    ev.Symbol,
		Last:      ev.Last,
		Volume:    ev.Volume,
		Timestamp: time.UnixMilli(ev.EventTime),
	}, nil
}

type depthEvent struct {
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

func parseDepth(exchangeID string, raw json.RawMessage) (exchange.OrderBook, error) {
	var ev depthEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return exchange.OrderBook{}, fmt.Errorf("decode depth: %w", err)
	}
	bids, err := levels(ev.Bids)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	asks, err := levels(ev.Asks)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	return exchange.OrderBook{
		Exchange:  exchangeID,
		Symbol:    ev.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMilli(ev.EventTime),
	}, nil
}

func levels(rows [][2]string) ([]exchange.Level, error) {
	out := make([]exchange.Level, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("decode depth price %q: %w", row[0], err)
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("decode depth size %q: %w", row[1], err)
		}
		out = append(out, exchange.Level{Price: price, Size: size})
	}
	return out, nil
}

type aggTradeEvent struct {
	TradeTime    int64           `json:"T"`
	Symbol       string          `json:"s"`
	ID           int64           `json:"a"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	BuyerIsMaker bool            `json:"m"`
}

func parseAggTrade(exchangeID string, raw json.RawMessage) (exchange.Trade, error) {
	var ev aggTradeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return exchange.Trade{}, fmt.Errorf("decode aggTrade: %w", err)
	}
	// 买方是 maker 说明主动方是卖方。
	side := "buy"
	if ev.BuyerIsMaker {
		side = "sell"
	}
	return exchange.Trade{
		Exchange:  exchangeID,
		Symbol:    ev.Symbol,
		ID:        fmt.Sprintf("%d", ev.ID),
		Price:     ev.Price,
		Size:      ev.Quantity,
		Side:      side,
		Timestamp: time.UnixMilli(ev.TradeTime),
	}, nil
}

func parseUserEvent(exchangeID string, raw json.RawMessage) (exchange.UserEvent, error) {
	var head struct {
		Type      string `json:"e"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return exchange.UserEvent{}, fmt.Errorf("decode user event: %w", err)
	}
	if head.Type == "" {
		return exchange.UserEvent{}, fmt.Errorf("decode user event: missing type")
	}
	payload := make(json.RawMessage, len(raw))
	copy(payload, raw)
	return exchange.UserEvent{
		Exchange:  exchangeID,
		Type:      head.Type,
		Payload:   payload,
		Timestamp: time.UnixMilli(head.EventTime),
	}, nil
}
