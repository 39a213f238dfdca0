// Package sim 提供内存中的模拟交易所，用于 dry-run 与测试。
package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"

	"github.com/shopspring/decimal"
)

const Kind = "sim"

var ErrConnectionLost = errors.New("sim: connection lost")

var defaultSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT", "LINKUSDT"}

// Options 控制模拟行为，运行期可通过 Set* 修改。
type Options struct {
	Symbols      []string
	SymbolsErr   error
	SymbolsDelay time.Duration
	ConnectErr   error
	ConnectDelay time.Duration
	AuthErr      error
	HealthErr    error
	HeartbeatErr error
	TickInterval time.Duration // 0 表示不生成行情
}

type Adapter struct {
	*exchange.Base

	optMu sync.RWMutex
	opts  Options

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sessions     atomic.Int64
	connectCalls atomic.Int64
}

func New(cfg exchange.Config, opts Options) *Adapter {
	if opts.Symbols == nil {
		opts.Symbols = append([]string(nil), cfg.Symbols...)
	}
	return &Adapter{Base: exchange.NewBase(cfg), opts: opts}
}

// NewFromConfig 作为 Registry 构造函数：品种取自 cfg.Symbols，extra.tick_interval 控制行情频率。
func NewFromConfig(cfg exchange.Config) (exchange.Adapter, error) {
	opts := Options{Symbols: cfg.Symbols, TickInterval: time.Second}
	if len(opts.Symbols) == 0 {
		opts.Symbols = defaultSymbols
	}
	if raw := cfg.ExtraValue("tick_interval", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("sim: invalid tick_interval %q: %w", raw, err)
		}
		opts.TickInterval = d
	}
	return New(cfg, opts), nil
}

// Register 把模拟交易所登记到工厂。
func Register(r *exchange.Registry) { r.Register(Kind, NewFromConfig) }

func (a *Adapter) options() Options {
	a.optMu.RLock()
	defer a.optMu.RUnlock()
	return a.opts
}

func (a *Adapter) update(fn func(*Options)) {
	a.optMu.Lock()
	fn(&a.opts)
	a.optMu.Unlock()
}

func (a *Adapter) SetConnectError(err error) { a.update(func(o *Options) { o.ConnectErr = err }) }

func (a *Adapter) SetConnectDelay(d time.Duration) { a.update(func(o *Options) { o.ConnectDelay = d }) }

func (a *Adapter) SetSymbols(list []string) {
	a.update(func(o *Options) { o.Symbols = append([]string(nil), list...) })
}

func (a *Adapter) SetSymbolsError(err error) { a.update(func(o *Options) { o.SymbolsErr = err }) }

func (a *Adapter) SetSymbolsDelay(d time.Duration) { a.update(func(o *Options) { o.SymbolsDelay = d }) }

func (a *Adapter) SetHealthError(err error) { a.update(func(o *Options) { o.HealthErr = err }) }

func (a *Adapter) SetHeartbeatError(err error) { a.update(func(o *Options) { o.HeartbeatErr = err }) }

// Sessions 返回累计建立的会话数。
func (a *Adapter) Sessions() int64 { return a.sessions.Load() }

func (a *Adapter) ConnectCalls() int64 { return a.connectCalls.Load() }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCalls.Add(1)
	switch st := a.Status(); {
	case st.Live():
		return nil
	case st == exchange.StatusMaintenance:
		return exchange.ErrMaintenance
	}
	if err := a.Transition(exchange.StatusConnecting); err != nil {
		return err
	}
	opts := a.options()
	if opts.ConnectDelay > 0 {
		timer := time.NewTimer(opts.ConnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return a.Fail(fmt.Errorf("sim connect: %w", ctx.Err()))
		}
	}
	if opts.ConnectErr != nil {
		return a.Fail(fmt.Errorf("sim connect: %w", opts.ConnectErr))
	}
	a.sessions.Add(1)
	if err := a.Transition(exchange.StatusConnected); err != nil {
		return err
	}
	for _, sub := range a.Pending() {
		a.MarkWired(sub.Symbol, sub.Kind)
	}
	if opts.TickInterval > 0 {
		feedCtx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.wg.Add(1)
		go a.feed(feedCtx, opts.TickInterval)
	}
	logger.Debugf("[%s] sim 会话已建立 (#%d)", a.ID(), a.sessions.Load())
	return nil
}

func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release()
	st := a.Status()
	if st.Live() || st == exchange.StatusConnecting {
		return a.Transition(exchange.StatusDisconnected)
	}
	return nil
}

func (a *Adapter) release() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()
	a.ResetWired()
}

// Drop 模拟传输层断开：释放会话并进入 Error。
func (a *Adapter) Drop(err error) {
	if err == nil {
		err = ErrConnectionLost
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release()
	_ = a.Fail(err)
}

func (a *Adapter) Authenticate(_ context.Context) error {
	if !a.IsConnected() {
		return exchange.ErrNotConnected
	}
	if err := a.options().AuthErr; err != nil {
		return fmt.Errorf("%w: %v", exchange.ErrAuthFailed, err)
	}
	if !a.Config().HasCredentials() {
		logger.Debugf("[%s] 未配置密钥，跳过认证", a.ID())
		return nil
	}
	return a.Transition(exchange.StatusAuthenticated)
}

func (a *Adapter) HealthCheck(_ context.Context) exchange.HealthReport {
	report := a.NewHealthReport()
	opts := a.options()
	if !a.IsConnected() {
		return report
	}
	report.Reachable = true
	report.Latency = time.Millisecond
	report.InstrumentCount = len(opts.Symbols)
	if opts.HealthErr != nil {
		report.Status = exchange.HealthUnhealthy
		report.Reachable = false
		report.Error = opts.HealthErr.Error()
	}
	return report
}

func (a *Adapter) Heartbeat(_ context.Context) error {
	err := a.options().HeartbeatErr
	if !a.IsConnected() {
		err = exchange.ErrNotConnected
	}
	a.RecordHeartbeat(err)
	return err
}

func (a *Adapter) wire(live bool, err error, symbol string, kind exchange.DataKind) error {
	if err != nil {
		return err
	}
	if live {
		a.MarkWired(symbol, kind)
	}
	return nil
}

func (a *Adapter) SubscribeTicker(_ context.Context, symbol string, h exchange.TickerHandler) error {
	live, err := a.AddTicker(symbol, h)
	return a.wire(live, err, symbol, exchange.KindTicker)
}

func (a *Adapter) SubscribeOrderBook(_ context.Context, symbol string, h exchange.OrderBookHandler) error {
	live, err := a.AddOrderBook(symbol, h)
	return a.wire(live, err, symbol, exchange.KindOrderBook)
}

func (a *Adapter) SubscribeTrades(_ context.Context, symbol string, h exchange.TradeHandler) error {
	live, err := a.AddTrades(symbol, h)
	return a.wire(live, err, symbol, exchange.KindTrades)
}

func (a *Adapter) SubscribeUserData(_ context.Context, h exchange.UserDataHandler) error {
	live, err := a.AddUserData(h)
	return a.wire(live, err, "", exchange.KindUserData)
}

// SubscribeBatch 实现 exchange.BatchSubscriber。
func (a *Adapter) SubscribeBatch(ctx context.Context, kind exchange.DataKind, symbols []string, h exchange.Handlers) error {
	if !h.For(kind) {
		return exchange.ErrNilCallback
	}
	var errs []error
	for _, sym := range symbols {
		if err := exchange.Subscribe(ctx, a, kind, sym, h); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) Unsubscribe(_ context.Context, symbol string, kind exchange.DataKind) error {
	a.Remove(symbol, kind)
	return nil
}

func (a *Adapter) SupportedSymbols(ctx context.Context) ([]string, error) {
	opts := a.options()
	if opts.SymbolsDelay > 0 {
		timer := time.NewTimer(opts.SymbolsDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if opts.SymbolsErr != nil {
		return nil, opts.SymbolsErr
	}
	return append([]string(nil), opts.Symbols...), nil
}

func (a *Adapter) SetMaintenance(on bool, reason string) {
	if on {
		a.mu.Lock()
		a.release()
		if a.Status().Live() {
			_ = a.Transition(exchange.StatusDisconnected)
		}
		a.mu.Unlock()
	}
	a.Base.SetMaintenance(on, reason)
}

// feed 为已订阅的品种生成随机游走行情。
func (a *Adapter) feed(ctx context.Context, every time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	prices := make(map[string]float64)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sub := range a.Subscriptions() {
				if !sub.Wired || sub.Kind == exchange.KindUserData {
					continue
				}
				p, ok := prices[sub.Symbol]
				if !ok {
					p = seedPrice(sub.Symbol)
				}
				p *= 1 + (rand.Float64()-0.5)/500
				prices[sub.Symbol] = p
				a.emit(sub, p, now)
			}
		}
	}
}

func (a *Adapter) emit(sub exchange.Subscription, p float64, now time.Time) {
	price := decimal.NewFromFloat(p).Round(4)
	spread := price.Mul(decimal.RequireFromString("0.0001"))
	switch sub.Kind {
	case exchange.KindTicker:
		a.DeliverTicker(exchange.Ticker{
			Symbol:    sub.Symbol,
			Last:      price,
			Bid:       price.Sub(spread),
			Ask:       price.Add(spread),
			Volume:    decimal.NewFromInt(int64(rand.IntN(1000) + 1)),
			Timestamp: now,
		})
	case exchange.KindOrderBook:
		a.DeliverOrderBook(exchange.OrderBook{
			Symbol:    sub.Symbol,
			Bids:      []exchange.Level{{Price: price.Sub(spread), Size: decimal.NewFromInt(1)}},
			Asks:      []exchange.Level{{Price: price.Add(spread), Size: decimal.NewFromInt(1)}},
			Timestamp: now,
		})
	case exchange.KindTrades:
		side := "buy"
		if rand.IntN(2) == 0 {
			side = "sell"
		}
		a.DeliverTrade(exchange.Trade{
			Symbol:    sub.Symbol,
			ID:        fmt.Sprintf("%d", now.UnixNano()),
			Price:     price,
			Size:      decimal.NewFromFloat(rand.Float64()).Round(3),
			Side:      side,
			Timestamp: now,
		})
	}
}

func seedPrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return float64(h.Sum32()%50000) + 1
}
