package exchange

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"exhub/internal/logger"
)

type subKey struct {
	symbol string
	kind   DataKind
}

type registration struct {
	symbol  string
	kind    DataKind
	handler any
	wired   bool
	since   time.Time
}

// Subscription 是一条订阅登记的只读快照。
type Subscription struct {
	Symbol string    `json:"symbol"`
	Kind   DataKind  `json:"kind"`
	Wired  bool      `json:"wired"`
	Since  time.Time `json:"since"`
}

// BaseStats 记录适配器运行期的通用指标。
type BaseStats struct {
	Subscriptions     int       `json:"subscriptions"`
	Pending           int       `json:"pending"`
	Delivered         int64     `json:"delivered"`
	CallbackPanics    int64     `json:"callback_panics"`
	HeartbeatFailures int       `json:"heartbeat_failures"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	LastError         string    `json:"last_error,omitempty"`
}

// Base 供具体适配器嵌入：状态机、待订阅登记、回调隔离与心跳记录。
type Base struct {
	cfg Config
	sm  *StateMachine

	mu            sync.Mutex
	subs          map[subKey]*registration
	lastErr       string
	lastHeartbeat time.Time
	hbFailures    int

	delivered atomic.Int64
	panics    atomic.Int64
}

func NewBase(cfg Config) *Base {
	return &Base{
		cfg:  cfg.WithDefaults(),
		sm:   NewStateMachine(),
		subs: make(map[subKey]*registration),
	}
}

func (b *Base) ID() string { return b.cfg.ID }

func (b *Base) Config() Config { return b.cfg }

func (b *Base) Status() Status { return b.sm.Current() }

func (b *Base) IsConnected() bool { return b.sm.Current().Live() }

func (b *Base) State() *StateMachine { return b.sm }

func (b *Base) Transition(to Status) error {
	from := b.sm.Current()
	if err := b.sm.Transition(to); err != nil {
		return err
	}
	if from != to {
		logger.Debugf("[%s] 状态 %s -> %s", b.cfg.ID, from, to)
	}
	return nil
}

// Fail 将状态置为 Error 并记录原因，返回原错误便于直接 return。
func (b *Base) Fail(err error) error {
	if err == nil {
		return nil
	}
	b.mu.Lock()
	b.lastErr = err.Error()
	b.mu.Unlock()
	if b.sm.Current() == StatusMaintenance {
		return err
	}
	if terr := b.sm.TransitionWithReason(StatusError, err.Error()); terr != nil {
		logger.Warnf("[%s] 无法进入 error 状态: %v", b.cfg.ID, terr)
	}
	return err
}

// SetMaintenance 进入或退出维护状态；具体适配器应先释放连接再调用。
func (b *Base) SetMaintenance(on bool, reason string) {
	if on {
		if err := b.sm.TransitionWithReason(StatusMaintenance, reason); err != nil {
			logger.Warnf("[%s] 进入维护失败: %v", b.cfg.ID, err)
			return
		}
		b.ResetWired()
		logger.Warnf("[%s] 进入维护状态: %s", b.cfg.ID, reason)
		return
	}
	if b.sm.Current() != StatusMaintenance {
		return
	}
	if err := b.sm.Transition(StatusDisconnected); err == nil {
		logger.Infof("[%s] 维护结束", b.cfg.ID)
	}
}

func normalizeKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AddTicker 登记 ticker 回调，返回值表示当前是否已连接（需立即下发订阅）。
func (b *Base) AddTicker(symbol string, h TickerHandler) (bool, error) {
	if h == nil {
		return false, ErrNilCallback
	}
	return b.add(symbol, KindTicker, h), nil
}

func (b *Base) AddOrderBook(symbol string, h OrderBookHandler) (bool, error) {
	if h == nil {
		return false, ErrNilCallback
	}
	return b.add(symbol, KindOrderBook, h), nil
}

func (b *Base) AddTrades(symbol string, h TradeHandler) (bool, error) {
	if h == nil {
		return false, ErrNilCallback
	}
	return b.add(symbol, KindTrades, h), nil
}

func (b *Base) AddUserData(h UserDataHandler) (bool, error) {
	if h == nil {
		return false, ErrNilCallback
	}
	return b.add("", KindUserData, h), nil
}

func (b *Base) add(symbol string, kind DataKind, handler any) bool {
	key := subKey{symbol: normalizeKey(symbol), kind: kind}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[key]; ok {
		cur.handler = handler
		return b.IsConnected() && !cur.wired
	}
	b.subs[key] = &registration{symbol: key.symbol, kind: kind, handler: handler, since: time.Now()}
	return b.IsConnected()
}

// Remove 删除登记，返回是否存在以及是否已下发到线上。
func (b *Base) Remove(symbol string, kind DataKind) (found, wired bool) {
	key := subKey{symbol: normalizeKey(symbol), kind: kind}
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.subs[key]
	if !ok {
		return false, false
	}
	delete(b.subs, key)
	return true, reg.wired
}

// MarkWired 标记登记已在当前会话上完成订阅。
func (b *Base) MarkWired(symbol string, kind DataKind) {
	key := subKey{symbol: normalizeKey(symbol), kind: kind}
	b.mu.Lock()
	if reg, ok := b.subs[key]; ok {
		reg.wired = true
	}
	b.mu.Unlock()
}

// ResetWired 会话失效后把所有登记重新置为待订阅。
func (b *Base) ResetWired() {
	b.mu.Lock()
	for _, reg := range b.subs {
		reg.wired = false
	}
	b.mu.Unlock()
}

// Pending 返回尚未下发的登记，按 kind、symbol 排序。
func (b *Base) Pending() []Subscription {
	return b.snapshot(func(r *registration) bool { return !r.wired })
}

func (b *Base) Subscriptions() []Subscription {
	return b.snapshot(func(*registration) bool { return true })
}

func (b *Base) snapshot(keep func(*registration) bool) []Subscription {
	b.mu.Lock()
	out := make([]Subscription, 0, len(b.subs))
	for _, reg := range b.subs {
		if keep(reg) {
			out = append(out, Subscription{Symbol: reg.symbol, Kind: reg.kind, Wired: reg.wired, Since: reg.since})
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (b *Base) handler(symbol string, kind DataKind) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok := b.subs[subKey{symbol: normalizeKey(symbol), kind: kind}]; ok {
		return reg.handler
	}
	return nil
}

// DeliverTicker 调用登记的回调；回调 panic 会被恢复并计数。
func (b *Base) DeliverTicker(t Ticker) bool {
	h, _ := b.handler(t.Symbol, KindTicker).(TickerHandler)
	if h == nil {
		return false
	}
	if t.Exchange == "" {
		t.Exchange = b.cfg.ID
	}
	return b.invoke(KindTicker, t.Symbol, func() { h(t) })
}

func (b *Base) DeliverOrderBook(ob OrderBook) bool {
	h, _ := b.handler(ob.Symbol, KindOrderBook).(OrderBookHandler)
	if h == nil {
		return false
	}
	if ob.Exchange == "" {
		ob.Exchange = b.cfg.ID
	}
	return b.invoke(KindOrderBook, ob.Symbol, func() { h(ob) })
}

func (b *Base) DeliverTrade(tr Trade) bool {
	h, _ := b.handler(tr.Symbol, KindTrades).(TradeHandler)
	if h == nil {
		return false
	}
	if tr.Exchange == "" {
		tr.Exchange = b.cfg.ID
	}
	return b.invoke(KindTrades, tr.Symbol, func() { h(tr) })
}

func (b *Base) DeliverUserEvent(ev UserEvent) bool {
	h, _ := b.handler("", KindUserData).(UserDataHandler)
	if h == nil {
		return false
	}
	if ev.Exchange == "" {
		ev.Exchange = b.cfg.ID
	}
	return b.invoke(KindUserData, ev.Type, func() { h(ev) })
}

func (b *Base) invoke(kind DataKind, symbol string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			logger.Errorf("[%s] %s %s 回调 panic: %v", b.cfg.ID, kind, symbol, r)
			ok = false
		}
	}()
	fn()
	b.delivered.Add(1)
	return true
}

// RecordHeartbeat 记录心跳结果，连续失败只计数与告警。
func (b *Base) RecordHeartbeat(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.lastHeartbeat = time.Now()
		b.hbFailures = 0
		return
	}
	b.hbFailures++
	b.lastErr = err.Error()
	logger.Warnf("[%s] 心跳失败(连续 %d 次): %v", b.cfg.ID, b.hbFailures, err)
}

// NewHealthReport 预填通用字段，具体适配器再补充可达性与时钟偏差。
func (b *Base) NewHealthReport() HealthReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.sm.Current()
	report := HealthReport{
		Exchange:          b.cfg.ID,
		AdapterStatus:     st,
		LastHeartbeat:     b.lastHeartbeat,
		HeartbeatFailures: b.hbFailures,
		CheckedAt:         time.Now(),
	}
	switch st {
	case StatusMaintenance:
		report.Status = HealthMaintenance
		report.Error = b.sm.Reason()
	case StatusConnected, StatusAuthenticated:
		report.Status = HealthHealthy
	default:
		report.Status = HealthDisconnected
	}
	return report
}

func (b *Base) Stats() BaseStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := 0
	for _, reg := range b.subs {
		if !reg.wired {
			pending++
		}
	}
	return BaseStats{
		Subscriptions:     len(b.subs),
		Pending:           pending,
		Delivered:         b.delivered.Load(),
		CallbackPanics:    b.panics.Load(),
		HeartbeatFailures: b.hbFailures,
		LastHeartbeat:     b.lastHeartbeat,
		LastError:         b.lastErr,
	}
}
