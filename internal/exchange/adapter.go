package exchange

import (
	"context"
	"errors"
)

var (
	ErrNilCallback       = errors.New("exchange: callback is required")
	ErrIllegalTransition = errors.New("exchange: illegal status transition")
	ErrNotConnected      = errors.New("exchange: not connected")
	ErrMaintenance       = errors.New("exchange: under maintenance")
	ErrAuthFailed        = errors.New("exchange: authentication failed")
	ErrUnknownExchange   = errors.New("exchange: unknown exchange kind")
	ErrStreamingDisabled = errors.New("exchange: streaming disabled")
)

// Adapter 是每个交易所实现必须满足的统一接口。
//
// 同一个适配器上的 Connect/Disconnect 由实现自行串行化，调用方无需加锁。
type Adapter interface {
	ID() string
	Config() Config
	Status() Status
	IsConnected() bool

	// Connect 建立 REST/WS 会话；已连接时直接返回 nil，不会创建第二个会话。
	Connect(ctx context.Context) error
	// Disconnect 释放全部资源，从未连接过也返回 nil。
	Disconnect(ctx context.Context) error
	// Authenticate 仅在 Connected 之后有意义，不产生行情副作用。
	Authenticate(ctx context.Context) error
	// HealthCheck 不返回错误，不可达通过 Reachable=false 表达。
	HealthCheck(ctx context.Context) HealthReport
	// Heartbeat 轻量存活探测，失败只记录，不会触发断线。
	Heartbeat(ctx context.Context) error

	// Subscribe* 在连接建立之前调用时登记为待订阅，连上后补发，不会丢弃。
	SubscribeTicker(ctx context.Context, symbol string, h TickerHandler) error
	SubscribeOrderBook(ctx context.Context, symbol string, h OrderBookHandler) error
	SubscribeTrades(ctx context.Context, symbol string, h TradeHandler) error
	SubscribeUserData(ctx context.Context, h UserDataHandler) error
	Unsubscribe(ctx context.Context, symbol string, kind DataKind) error

	// SupportedSymbols 返回交易所原生格式的品种列表。
	SupportedSymbols(ctx context.Context) ([]string, error)

	// SetMaintenance 由外部通知进入/退出维护状态，维护期间不自动重连。
	SetMaintenance(on bool, reason string)
}

// BatchSubscriber 是可选扩展：一次请求订阅多个品种。
type BatchSubscriber interface {
	SubscribeBatch(ctx context.Context, kind DataKind, symbols []string, h Handlers) error
}

// Subscribe 按 kind 分派到对应的 Subscribe* 方法。
func Subscribe(ctx context.Context, a Adapter, kind DataKind, symbol string, h Handlers) error {
	switch kind {
	case KindTicker:
		return a.SubscribeTicker(ctx, symbol, h.Ticker)
	case KindOrderBook:
		return a.SubscribeOrderBook(ctx, symbol, h.OrderBook)
	case KindTrades:
		return a.SubscribeTrades(ctx, symbol, h.Trades)
	case KindUserData:
		return a.SubscribeUserData(ctx, h.UserData)
	}
	return errors.New("exchange: unsupported data kind " + string(kind))
}
