// Package subscription 决定每个交易所订阅哪些品种和数据类别，并跟踪每条订阅的状态。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"
	"exhub/internal/metrics"
	"exhub/internal/symbol"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// CacheReader 是 symbolcache.Service 的只读子集。
type CacheReader interface {
	IsCacheValid() bool
	SymbolsForExchange(id string) []string
}

// DiscoveryFunc 直接向交易所查询品种，通常是 adapter.SupportedSymbols。
type DiscoveryFunc func(ctx context.Context) ([]string, error)

type Option func(*Manager)

func WithCache(c CacheReader) Option {
	return func(m *Manager) { m.cache = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager 一个交易所一个实例。
type Manager struct {
	exchangeID string
	cfg        Config
	cache      CacheReader
	metrics    *metrics.Metrics
	now        func() time.Time

	discoverMu sync.Mutex

	mu            sync.Mutex
	records       map[string]*Record
	lastUpdate    time.Time
	cached        []string
	lastDiscovery time.Time
}

func NewManager(exchangeID string, cfg Config, opts ...Option) (*Manager, error) {
	if exchangeID == "" {
		return nil, fmt.Errorf("%w: exchange id is required", ErrInvalidConfig)
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		exchangeID: exchangeID,
		cfg:        cfg,
		now:        time.Now,
		records:    make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastUpdate = m.now()
	logger.Infof("[subscription] %s 初始化完成，模式: %s", exchangeID, cfg.Mode)
	return m, nil
}

func (m *Manager) ExchangeID() string { return m.exchangeID }

func (m *Manager) Mode() Mode { return m.cfg.Mode }

// SubscriptionSymbols predefined 返回固定列表，dynamic 返回最近一次发现的结果。
func (m *Manager) SubscriptionSymbols() []string {
	if m.cfg.Mode == ModePredefined {
		return append([]string{}, m.cfg.Predefined.Symbols...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.cached...)
}

func (m *Manager) dataTypes() map[exchange.DataKind]bool {
	if m.cfg.Mode == ModePredefined {
		return m.cfg.Predefined.DataTypes
	}
	return m.cfg.Dynamic.DataTypes
}

// ShouldSubscribeDataType 未在配置中开启的类别一律返回 false。
func (m *Manager) ShouldSubscribeDataType(kind exchange.DataKind) bool {
	return m.dataTypes()[kind]
}

func (m *Manager) EnabledDataTypes() []exchange.DataKind {
	out := make([]exchange.DataKind, 0, len(exchange.AllKinds))
	for _, k := range exchange.AllKinds {
		if m.ShouldSubscribeDataType(k) {
			out = append(out, k)
		}
	}
	return out
}

// DiscoverSymbols 解析 dynamic 模式下的订阅品种，失败返回空列表，不返回错误。
func (m *Manager) DiscoverSymbols(ctx context.Context, fallback DiscoveryFunc) []string {
	return m.discover(ctx, fallback, false)
}

func (m *Manager) discover(ctx context.Context, fallback DiscoveryFunc, force bool) []string {
	if m.cfg.Mode == ModePredefined {
		logger.Debugf("[subscription] %s 为 predefined 模式，返回固定列表", m.exchangeID)
		return m.SubscriptionSymbols()
	}
	m.discoverMu.Lock()
	defer m.discoverMu.Unlock()

	if !force {
		m.mu.Lock()
		fresh := len(m.cached) > 0 && m.now().Sub(m.lastDiscovery) < m.cfg.Dynamic.AutoDiscoveryInterval
		cached := append([]string{}, m.cached...)
		m.mu.Unlock()
		if fresh {
			logger.Debugf("[subscription] %s 使用缓存的品种列表 (%d)", m.exchangeID, len(cached))
			m.metrics.ObserveDiscovery(m.exchangeID, "cached")
			return cached
		}
	}

	if m.cache != nil && m.cache.IsCacheValid() {
		if list := m.cache.SymbolsForExchange(m.exchangeID); len(list) > 0 {
			out := m.filter(list)
			m.store(out)
			m.metrics.ObserveDiscovery(m.exchangeID, "cache")
			logger.Infof("[subscription] %s 从品种缓存获得 %d 个品种", m.exchangeID, len(out))
			return append([]string{}, out...)
		}
	}

	list, err := m.callFallback(ctx, fallback)
	if err != nil || len(list) == 0 {
		if err == nil {
			err = errors.New("no symbols returned")
		}
		logger.Warnf("[subscription] %s 品种发现失败: %v", m.exchangeID, err)
		m.store([]string{})
		m.metrics.ObserveDiscovery(m.exchangeID, "failed")
		return []string{}
	}
	out := m.filter(list)
	m.store(out)
	m.metrics.ObserveDiscovery(m.exchangeID, "fallback")
	logger.Infof("[subscription] %s 直接发现 %d 个品种", m.exchangeID, len(out))
	return append([]string{}, out...)
}

func (m *Manager) callFallback(ctx context.Context, fallback DiscoveryFunc) ([]string, error) {
	if fallback == nil {
		return nil, errors.New("no discovery function")
	}
	attempt := 0
	op := func() (list []string, err error) {
		attempt++
		defer func() {
			if r := recover(); r != nil {
				err = backoff.Permanent(fmt.Errorf("discovery panic: %v", r))
			}
		}()
		return fallback(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Debugf("[subscription] %s 第 %d 次发现失败: %v，%s 后重试", m.exchangeID, attempt, err, wait)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.Dynamic.RetryDelay)),
		backoff.WithMaxTries(uint(m.cfg.Dynamic.MaxRetryAttempts)),
		backoff.WithNotify(notify),
	)
}

func (m *Manager) filter(list []string) []string {
	d := m.cfg.Dynamic
	return symbol.Filter(list, d.IncludePatterns, d.ExcludePatterns, d.MaxSymbols)
}

func (m *Manager) store(list []string) {
	m.mu.Lock()
	m.cached = append([]string{}, list...)
	m.lastDiscovery = m.now()
	m.mu.Unlock()
}

// StartAutoDiscovery 仅 dynamic 模式有效：立即发现一次，之后按间隔强制刷新，ctx 结束后退出。
func (m *Manager) StartAutoDiscovery(ctx context.Context, fallback DiscoveryFunc) bool {
	if m.cfg.Mode != ModeDynamic {
		return false
	}
	go func() {
		ticker := time.NewTicker(m.cfg.Dynamic.AutoDiscoveryInterval)
		defer ticker.Stop()
		m.safeDiscover(ctx, fallback, false)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.safeDiscover(ctx, fallback, true)
			}
		}
	}()
	return true
}

func (m *Manager) safeDiscover(ctx context.Context, fallback DiscoveryFunc, force bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[subscription] %s 自动发现 panic: %v", m.exchangeID, r)
		}
	}()
	m.discover(ctx, fallback, force)
}

// AddSubscription 新增一条 pending 记录；已存在时返回原记录和 false。
func (m *Manager) AddSubscription(sym string, kind exchange.DataKind, h exchange.Handlers) (Record, bool) {
	k := key(sym, kind)
	m.mu.Lock()
	if rec, ok := m.records[k]; ok {
		out := *rec
		m.mu.Unlock()
		logger.Debugf("[subscription] %s 订阅已存在: %s", m.exchangeID, k)
		return out, false
	}
	now := m.now()
	rec := &Record{
		ID:        uuid.NewString(),
		Exchange:  m.exchangeID,
		Symbol:    sym,
		Kind:      kind,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		handlers:  h,
	}
	m.records[k] = rec
	m.lastUpdate = now
	out := *rec
	m.mu.Unlock()
	m.publish()
	logger.Debugf("[subscription] %s 添加订阅: %s", m.exchangeID, k)
	return out, true
}

// RemoveSubscription 不存在时静默返回 false。
func (m *Manager) RemoveSubscription(sym string, kind exchange.DataKind) bool {
	k := key(sym, kind)
	m.mu.Lock()
	_, ok := m.records[k]
	if ok {
		delete(m.records, k)
		m.lastUpdate = m.now()
	}
	m.mu.Unlock()
	if ok {
		m.publish()
		logger.Debugf("[subscription] %s 移除订阅: %s", m.exchangeID, k)
	}
	return ok
}

func (m *Manager) MarkActive(sym string, kind exchange.DataKind) bool {
	return m.setState(sym, kind, StateActive, nil)
}

func (m *Manager) MarkFailed(sym string, kind exchange.DataKind, err error) bool {
	return m.setState(sym, kind, StateFailed, err)
}

func (m *Manager) setState(sym string, kind exchange.DataKind, state State, err error) bool {
	m.mu.Lock()
	rec, ok := m.records[key(sym, kind)]
	if ok {
		rec.State = state
		rec.Error = ""
		if err != nil {
			rec.Error = err.Error()
		}
		rec.UpdatedAt = m.now()
		m.lastUpdate = rec.UpdatedAt
	}
	m.mu.Unlock()
	if ok {
		m.publish()
	}
	return ok
}

// SubscriptionInfo 查询单条订阅。
func (m *Manager) SubscriptionInfo(sym string, kind exchange.DataKind) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(sym, kind)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records 按品种、类别排序返回全部订阅。
func (m *Manager) Records() []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// ActiveSymbols 返回至少有一条订阅的品种（不含 user_data 的空品种）。
func (m *Manager) ActiveSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSymbolsLocked()
}

func (m *Manager) activeSymbolsLocked() []string {
	seen := make(map[string]struct{})
	for _, rec := range m.records {
		if rec.Symbol != "" {
			seen[rec.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ClearSubscriptions 清空订阅表，断线或退出时调用。
func (m *Manager) ClearSubscriptions() {
	m.mu.Lock()
	n := len(m.records)
	m.records = make(map[string]*Record)
	m.lastUpdate = m.now()
	m.mu.Unlock()
	m.publish()
	logger.Infof("[subscription] %s 清除全部订阅 (%d)", m.exchangeID, n)
}

type Stats struct {
	Exchange           string                    `json:"exchange"`
	Mode               Mode                      `json:"mode"`
	TotalSymbols       int                       `json:"total_symbols"`
	TotalSubscriptions int                       `json:"total_subscriptions"`
	Active             int                       `json:"active_subscriptions"`
	Failed             int                       `json:"failed_subscriptions"`
	Pending            int                       `json:"pending_subscriptions"`
	LastUpdate         time.Time                 `json:"last_update"`
	CachedSymbols      int                       `json:"cached_symbols_count"`
	LastDiscovery      time.Time                 `json:"last_discovery_time"`
	ByKind             map[exchange.DataKind]int `json:"by_kind"`
}

func (m *Manager) SubscriptionStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Exchange:           m.exchangeID,
		Mode:               m.cfg.Mode,
		TotalSymbols:       len(m.activeSymbolsLocked()),
		TotalSubscriptions: len(m.records),
		LastUpdate:         m.lastUpdate,
		CachedSymbols:      len(m.cached),
		LastDiscovery:      m.lastDiscovery,
		ByKind:             make(map[exchange.DataKind]int),
	}
	for _, rec := range m.records {
		st.ByKind[rec.Kind]++
		switch rec.State {
		case StateActive:
			st.Active++
		case StateFailed:
			st.Failed++
		default:
			st.Pending++
		}
	}
	return st
}

func (m *Manager) publish() {
	if m.metrics == nil {
		return
	}
	st := m.SubscriptionStats()
	m.metrics.SetSubscriptions(m.exchangeID, st.Active, st.Failed, st.Pending)
}
