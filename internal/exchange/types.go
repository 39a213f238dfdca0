package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DataKind 是可订阅的数据类别。
type DataKind string

const (
	KindTicker    DataKind = "ticker"
	KindOrderBook DataKind = "orderbook"
	KindTrades    DataKind = "trades"
	KindUserData  DataKind = "user_data"
)

// AllKinds 按固定顺序列出全部数据类别。
var AllKinds = []DataKind{KindTicker, KindOrderBook, KindTrades, KindUserData}

// ParseDataKind 接受常见别名（order_book、trade 等）。
func ParseDataKind(v string) (DataKind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ticker", "tickers":
		return KindTicker, nil
	case "orderbook", "order_book", "depth":
		return KindOrderBook, nil
	case "trades", "trade":
		return KindTrades, nil
	case "user_data", "userdata", "user":
		return KindUserData, nil
	}
	return "", fmt.Errorf("unknown data kind %q", v)
}

type Ticker struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type OrderBook struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

type Trade struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      string          `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserEvent 是账户/订单推送，Payload 保留交易所原始结构。
type UserEvent struct {
	Exchange  string          `json:"exchange"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type (
	TickerHandler    func(Ticker)
	OrderBookHandler func(OrderBook)
	TradeHandler     func(Trade)
	UserDataHandler  func(UserEvent)
)

// Handlers 聚合各类回调，批量订阅时使用。
type Handlers struct {
	Ticker    TickerHandler
	OrderBook OrderBookHandler
	Trades    TradeHandler
	UserData  UserDataHandler
}

// For 判断 kind 对应的回调是否存在。
func (h Handlers) For(kind DataKind) bool {
	switch kind {
	case KindTicker:
		return h.Ticker != nil
	case KindOrderBook:
		return h.OrderBook != nil
	case KindTrades:
		return h.Trades != nil
	case KindUserData:
		return h.UserData != nil
	}
	return false
}
