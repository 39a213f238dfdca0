// Package binance 实现 Binance U 本位合约的交易所适配器：REST 走 go-binance，行情走组合流 WebSocket。
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/cenkalti/backoff/v5"
)

const Kind = "binance"

var errNoCredentials = errors.New("binance: api credentials required")

type Adapter struct {
	*exchange.Base

	set    settings
	client *futures.Client
	stream *streamClient

	mu   sync.Mutex
	user *userStream

	symMu      sync.Mutex
	symbols    []string
	symbolsAt  time.Time
	symbolsTTL time.Duration
}

var (
	_ exchange.Adapter         = (*Adapter)(nil)
	_ exchange.BatchSubscriber = (*Adapter)(nil)
)

func New(cfg exchange.Config) (exchange.Adapter, error) {
	return newAdapter(cfg), nil
}

func newAdapter(cfg exchange.Config) *Adapter {
	set := settingsFrom(cfg)
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = set.RESTBaseURL
	if cfg.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	a := &Adapter{
		Base:       exchange.NewBase(cfg),
		set:        set,
		client:     client,
		symbolsTTL: set.SymbolsTTL,
	}
	a.stream = newStreamClient(set.WSBaseURL, set.WSBatchSize, a.onFrame)
	return a
}

// Register 把 Binance 适配器登记到工厂。
func Register(r *exchange.Registry) { r.Register(Kind, New) }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch st := a.Status(); {
	case st.Live():
		return nil
	case st == exchange.StatusMaintenance:
		return exchange.ErrMaintenance
	}
	if err := a.Transition(exchange.StatusConnecting); err != nil {
		return err
	}
	if err := a.client.NewPingService().Do(ctx); err != nil {
		return a.Fail(fmt.Errorf("binance ping: %w", err))
	}
	if !a.Config().EnableWebsocket {
		// 仅 REST：品种列表、健康检查与心跳可用，不建立行情流。
		return a.Transition(exchange.StatusConnected)
	}
	a.stream.Reset()
	if err := a.stream.Connect(ctx, a.onDrop); err != nil {
		return a.Fail(fmt.Errorf("binance ws: %w", err))
	}
	if err := a.Transition(exchange.StatusConnected); err != nil {
		a.releaseLocked(ctx)
		return err
	}
	a.wirePending(ctx)
	logger.Infof("[binance] %s 已连接 %s", a.ID(), a.set.WSBaseURL)
	return nil
}

// wirePending 把待订阅的登记补发到当前会话。
func (a *Adapter) wirePending(ctx context.Context) {
	var streams []string
	var wired []exchange.Subscription
	userPending := false
	for _, sub := range a.Pending() {
		if sub.Kind == exchange.KindUserData {
			userPending = true
			continue
		}
		if name, ok := streamName(sub.Symbol, sub.Kind); ok {
			streams = append(streams, name)
			wired = append(wired, sub)
		}
	}
	if len(streams) > 0 {
		if err := a.stream.Subscribe(streams); err != nil {
			logger.Warnf("[binance] %s 补发订阅失败: %v", a.ID(), err)
		} else {
			for _, sub := range wired {
				a.MarkWired(sub.Symbol, sub.Kind)
			}
		}
	}
	if userPending {
		if err := a.startUserStreamLocked(ctx); err != nil {
			logger.Warnf("[binance] %s 用户数据流启动失败: %v", a.ID(), err)
		}
	}
}

// onDrop 由读循环在连接意外断开时调用。
func (a *Adapter) onDrop(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.Status().Live() {
		return
	}
	a.releaseLocked(context.Background())
	_ = a.Fail(fmt.Errorf("binance ws: %w", err))
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(ctx)
	st := a.Status()
	if st.Live() || st == exchange.StatusConnecting {
		return a.Transition(exchange.StatusDisconnected)
	}
	return nil
}

func (a *Adapter) releaseLocked(ctx context.Context) {
	a.stream.Close()
	if a.user != nil {
		a.user.close(ctx)
		a.user = nil
	}
	a.ResetWired()
}

func (a *Adapter) Authenticate(ctx context.Context) error {
	if !a.IsConnected() {
		return exchange.ErrNotConnected
	}
	if !a.Config().HasCredentials() {
		logger.Debugf("[binance] %s 未配置密钥，仅使用公共行情", a.ID())
		return nil
	}
	if _, err := a.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("%w: %v", exchange.ErrAuthFailed, err)
	}
	if a.Status() == exchange.StatusAuthenticated {
		return nil
	}
	return a.Transition(exchange.StatusAuthenticated)
}

func (a *Adapter) HealthCheck(ctx context.Context) exchange.HealthReport {
	report := a.NewHealthReport()
	start := time.Now()
	serverMs, err := a.client.NewServerTimeService().Do(ctx)
	report.Latency = time.Since(start)
	if err != nil {
		report.Reachable = false
		report.Status = exchange.HealthUnhealthy
		report.Error = err.Error()
		return report
	}
	report.Reachable = true
	local := start.Add(report.Latency / 2)
	report.ClockSkew = time.UnixMilli(serverMs).Sub(local)
	a.symMu.Lock()
	report.InstrumentCount = len(a.symbols)
	a.symMu.Unlock()
	if a.Config().EnableWebsocket && a.IsConnected() && !a.stream.Connected() {
		report.Status = exchange.HealthUnhealthy
		report.Error = errStreamClosed.Error()
	}
	return report
}

func (a *Adapter) Heartbeat(ctx context.Context) error {
	err := a.client.NewPingService().Do(ctx)
	a.RecordHeartbeat(err)
	return err
}

func (a *Adapter) SubscribeTicker(_ context.Context, symbol string, h exchange.TickerHandler) error {
	if err := a.streaming(); err != nil {
		return err
	}
	live, err := a.AddTicker(symbol, h)
	return a.wire(live, err, symbol, exchange.KindTicker)
}

func (a *Adapter) SubscribeOrderBook(_ context.Context, symbol string, h exchange.OrderBookHandler) error {
	if err := a.streaming(); err != nil {
		return err
	}
	live, err := a.AddOrderBook(symbol, h)
	return a.wire(live, err, symbol, exchange.KindOrderBook)
}

func (a *Adapter) SubscribeTrades(_ context.Context, symbol string, h exchange.TradeHandler) error {
	if err := a.streaming(); err != nil {
		return err
	}
	live, err := a.AddTrades(symbol, h)
	return a.wire(live, err, symbol, exchange.KindTrades)
}

func (a *Adapter) streaming() error {
	if !a.Config().EnableWebsocket {
		return fmt.Errorf("binance %s: %w", a.ID(), exchange.ErrStreamingDisabled)
	}
	return nil
}

func (a *Adapter) wire(live bool, err error, symbol string, kind exchange.DataKind) error {
	if err != nil || !live {
		return err
	}
	name, ok := streamName(symbol, kind)
	if !ok {
		return fmt.Errorf("binance: invalid symbol %q", symbol)
	}
	if err := a.stream.Subscribe([]string{name}); err != nil {
		return err
	}
	a.MarkWired(symbol, kind)
	return nil
}

// SubscribeUserData 需要密钥；未连接时登记为待订阅。
func (a *Adapter) SubscribeUserData(ctx context.Context, h exchange.UserDataHandler) error {
	if !a.Config().HasCredentials() {
		return fmt.Errorf("%w: %v", exchange.ErrAuthFailed, errNoCredentials)
	}
	if err := a.streaming(); err != nil {
		return err
	}
	live, err := a.AddUserData(h)
	if err != nil || !live {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startUserStreamLocked(ctx)
}

// SubscribeBatch 一次发送多个流，按 WSBatchSize 分包。
func (a *Adapter) SubscribeBatch(ctx context.Context, kind exchange.DataKind, symbols []string, h exchange.Handlers) error {
	if !h.For(kind) {
		return exchange.ErrNilCallback
	}
	if err := a.streaming(); err != nil {
		return err
	}
	if kind == exchange.KindUserData {
		return a.SubscribeUserData(ctx, h.UserData)
	}
	var (
		streams []string
		wired   []string
		errs    []error
	)
	for _, sym := range symbols {
		var (
			live bool
			err  error
		)
		switch kind {
		case exchange.KindTicker:
			live, err = a.AddTicker(sym, h.Ticker)
		case exchange.KindOrderBook:
			live, err = a.AddOrderBook(sym, h.OrderBook)
		case exchange.KindTrades:
			live, err = a.AddTrades(sym, h.Trades)
		default:
			err = fmt.Errorf("binance: unsupported data kind %s", kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		if !live {
			continue
		}
		if name, ok := streamName(sym, kind); ok {
			streams = append(streams, name)
			wired = append(wired, sym)
		}
	}
	if len(streams) > 0 {
		if err := a.stream.Subscribe(streams); err != nil {
			errs = append(errs, err)
		} else {
			for _, sym := range wired {
				a.MarkWired(sym, kind)
			}
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) Unsubscribe(ctx context.Context, symbol string, kind exchange.DataKind) error {
	found, wired := a.Remove(symbol, kind)
	if !found || !wired {
		return nil
	}
	if kind == exchange.KindUserData {
		a.mu.Lock()
		if a.user != nil {
			a.user.close(ctx)
			a.user = nil
		}
		a.mu.Unlock()
		return nil
	}
	name, ok := streamName(symbol, kind)
	if !ok {
		return nil
	}
	return a.stream.Unsubscribe([]string{name})
}

// SupportedSymbols 返回处于 TRADING 状态的永续合约，结果缓存 symbolsTTL。
func (a *Adapter) SupportedSymbols(ctx context.Context) ([]string, error) {
	a.symMu.Lock()
	if len(a.symbols) > 0 && time.Since(a.symbolsAt) < a.symbolsTTL {
		out := append([]string(nil), a.symbols...)
		a.symMu.Unlock()
		return out, nil
	}
	a.symMu.Unlock()

	info, err := a.exchangeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}
	list := tradablePerpetuals(info)
	a.symMu.Lock()
	a.symbols = list
	a.symbolsAt = time.Now()
	a.symMu.Unlock()
	logger.Debugf("[binance] %s 可交易永续合约 %d 个", a.ID(), len(list))
	return append([]string(nil), list...), nil
}

// exchangeInfo 按 MaxRetries/RetryDelay 重试，ctx 取消时立即返回。
func (a *Adapter) exchangeInfo(ctx context.Context) (*futures.ExchangeInfo, error) {
	cfg := a.Config()
	tries := cfg.MaxRetries
	if tries < 1 {
		tries = 1
	}
	notify := func(err error, wait time.Duration) {
		logger.Debugf("[binance] %s exchange info 失败: %v，%s 后重试", a.ID(), err, wait)
	}
	return backoff.Retry(ctx, func() (*futures.ExchangeInfo, error) {
		return a.client.NewExchangeInfoService().Do(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.RetryDelay)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(notify),
	)
}

func tradablePerpetuals(info *futures.ExchangeInfo) []string {
	if info == nil {
		return nil
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || string(s.ContractType) != "PERPETUAL" {
			continue
		}
		out = append(out, s.Symbol)
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) SetMaintenance(on bool, reason string) {
	if on {
		a.mu.Lock()
		a.releaseLocked(context.Background())
		if a.Status().Live() {
			_ = a.Transition(exchange.StatusDisconnected)
		}
		a.mu.Unlock()
	}
	a.Base.SetMaintenance(on, reason)
}

// StreamStats 返回行情流的统计。
func (a *Adapter) StreamStats() streamStats { return a.stream.Stats() }

func (a *Adapter) onFrame(stream string, data json.RawMessage) {
	_, kind, ok := parseStreamName(stream)
	if !ok {
		logger.Debugf("[binance] 忽略未知流 %s", stream)
		return
	}
	switch kind {
	case exchange.KindTicker:
		t, err := parseTicker(a.ID(), data)
		if err != nil {
			logger.Debugf("[binance] %v", err)
			return
		}
		a.DeliverTicker(t)
	case exchange.KindOrderBook:
		ob, err := parseDepth(a.ID(), data)
		if err != nil {
			logger.Debugf("[binance] %v", err)
			return
		}
		a.DeliverOrderBook(ob)
	case exchange.KindTrades:
		tr, err := parseAggTrade(a.ID(), data)
		if err != nil {
			logger.Debugf("[binance] %v", err)
			return
		}
		a.DeliverTrade(tr)
	}
}

func (a *Adapter) onUserFrame(data json.RawMessage) {
	ev, err := parseUserEvent(a.ID(), data)
	if err != nil {
		logger.Debugf("[binance] %v", err)
		return
	}
	if ev.Type == "listenKeyExpired" {
		logger.Warnf("[binance] %s listenKey 已过期", a.ID())
	}
	a.DeliverUserEvent(ev)
}
