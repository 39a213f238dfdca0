// Package manager 负责交易所适配器的注册、按优先级启动、健康检查与断线重连。
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"
	"exhub/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidConfig   = errors.New("manager: invalid config")
	ErrAlreadyRunning  = errors.New("manager: already running")
	ErrStarting        = errors.New("manager: start or stop in progress")
	ErrNotRunning      = errors.New("manager: not running")
	ErrUnknownExchange = errors.New("manager: unknown exchange")
)

// Factory 按配置构造适配器，exchange.Registry 满足该接口。
type Factory interface {
	Build(id string, cfg exchange.Config) (exchange.Adapter, error)
}

type runState int

const (
	stateIdle runState = iota
	stateStarting
	stateRunning
	stateStopping
)

type registration struct {
	cfg      exchange.Config
	priority int
}

// Info 描述一个已注册交易所。
type Info struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

type retryState struct {
	bo       *backoff.ExponentialBackOff
	next     time.Time
	inflight bool
}

type Option func(*Manager)

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

type Manager struct {
	cfg     Config
	factory Factory
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	regs       map[string]registration
	order      []string
	adapters   map[string]exchange.Adapter
	state      runState
	health     map[string]exchange.HealthReport
	loopCancel context.CancelFunc
	tasks      *taskSet
	loops      sync.WaitGroup

	restarts singleflight.Group

	retryMu sync.Mutex
	retries map[string]*retryState
}

func New(cfg Config, factory Factory, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		factory:  factory,
		now:      time.Now,
		regs:     make(map[string]registration),
		adapters: make(map[string]exchange.Adapter),
		health:   make(map[string]exchange.HealthReport),
		retries:  make(map[string]*retryState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterExchange 保存配置并重新计算启动顺序（priority 升序，相同时按 id）。
// 覆盖已有注册只影响下次 Start，不会动正在运行的实例。
func (m *Manager) RegisterExchange(id string, cfg exchange.Config, priority int) error {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return fmt.Errorf("%w: exchange id is required", ErrInvalidConfig)
	}
	cfg.ID = id
	cfg.Priority = priority
	m.mu.Lock()
	if _, ok := m.regs[id]; ok {
		logger.Warnf("[manager] 交易所 %s 已注册，覆盖配置", id)
	}
	m.regs[id] = registration{cfg: cfg, priority: priority}
	m.reorderLocked()
	m.mu.Unlock()
	logger.Infof("[manager] 注册交易所 %s (kind=%s priority=%d)", id, cfg.Kind, priority)
	return nil
}

// UnregisterExchange 移除注册；运行中的实例会先断开。
func (m *Manager) UnregisterExchange(ctx context.Context, id string) bool {
	m.mu.Lock()
	_, ok := m.regs[id]
	delete(m.regs, id)
	a := m.adapters[id]
	delete(m.adapters, id)
	delete(m.health, id)
	m.reorderLocked()
	m.mu.Unlock()
	if !ok {
		return false
	}
	if a != nil {
		if err := callWithTimeout(ctx, m.cfg.ConnectionTimeout, a.Disconnect); err != nil {
			logger.Warnf("[manager] 注销 %s 时断开失败: %v", id, err)
		}
	}
	m.retryMu.Lock()
	delete(m.retries, id)
	m.retryMu.Unlock()
	logger.Infof("[manager] 注销交易所 %s", id)
	return true
}

func (m *Manager) reorderLocked() {
	order := make([]string, 0, len(m.regs))
	for id := range m.regs {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		pi, pj := m.regs[order[i]].priority, m.regs[order[j]].priority
		if pi != pj {
			return pi < pj
		}
		return order[i] < order[j]
	})
	m.order = order
}

// Start 构造全部启用的适配器并按优先级连接，之后启动健康检查与连接监控。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateRunning:
		m.mu.Unlock()
		return ErrAlreadyRunning
	case stateStarting, stateStopping:
		m.mu.Unlock()
		return ErrStarting
	}
	if m.factory == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no adapter factory", ErrInvalidConfig)
	}
	m.state = stateStarting
	ids := m.configuredLocked()
	cfgs := make(map[string]exchange.Config, len(ids))
	for _, id := range ids {
		cfgs[id] = m.regs[id].cfg
	}
	m.mu.Unlock()

	logger.Infof("[manager] 启动 %d 个交易所: %v", len(ids), ids)
	built := make(map[string]exchange.Adapter, len(ids))
	for _, id := range ids {
		a, err := m.factory.Build(id, cfgs[id])
		if err != nil {
			m.abortStart(ctx, ids, built)
			return fmt.Errorf("manager: build %s: %w", id, err)
		}
		built[id] = a
	}
	m.mu.Lock()
	m.adapters = built
	m.mu.Unlock()

	if err := m.startAdapters(ctx, ids, built); err != nil {
		m.abortStart(ctx, ids, built)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.loopCancel = cancel
	m.tasks = newTaskSet(loopCtx)
	m.state = stateRunning
	m.mu.Unlock()

	m.loops.Add(2)
	go m.healthLoop(loopCtx)
	go m.monitorLoop(loopCtx)
	m.startHeartbeats(ids, built)
	logger.Infof("[manager] 启动完成，已连接 %d/%d", len(m.ActiveExchanges()), len(ids))
	return nil
}

func (m *Manager) startAdapters(ctx context.Context, ids []string, built map[string]exchange.Adapter) error {
	sem := semaphore.NewWeighted(int64(m.cfg.MaxConcurrentConnections))
	var g errgroup.Group
	for i, id := range ids {
		if i > 0 && m.cfg.StartupDelay > 0 {
			if err := sleepCtx(ctx, m.cfg.StartupDelay); err != nil {
				_ = g.Wait()
				return fmt.Errorf("manager: start interrupted: %w", err)
			}
		}
		a := built[id]
		// 在派发前占用名额，保证按优先级顺序开始连接。
		if err := sem.Acquire(ctx, 1); err != nil {
			_ = g.Wait()
			return fmt.Errorf("manager: start %s: %w", id, err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := m.connectOne(ctx, id, a); err != nil && m.cfg.RequireAllConnected {
				return fmt.Errorf("manager: start %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// abortStart 断开已构造的适配器并回到空闲状态。
func (m *Manager) abortStart(ctx context.Context, ids []string, built map[string]exchange.Adapter) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	for i := len(ids) - 1; i >= 0; i-- {
		a, ok := built[ids[i]]
		if !ok {
			continue
		}
		if err := callWithTimeout(cctx, m.cfg.ConnectionTimeout, a.Disconnect); err != nil {
			logger.Warnf("[manager] 清理 %s 失败: %v", ids[i], err)
		}
	}
	m.mu.Lock()
	m.adapters = make(map[string]exchange.Adapter)
	m.state = stateIdle
	m.mu.Unlock()
	logger.Warnf("[manager] 启动失败，已清理 %d 个适配器", len(built))
}

func (m *Manager) connectOne(ctx context.Context, id string, a exchange.Adapter) error {
	logger.Infof("[manager] 启动交易所适配器: %s", id)
	start := time.Now()
	if err := callWithTimeout(ctx, m.cfg.ConnectionTimeout, a.Connect); err != nil {
		m.observeStatus(id, a)
		logger.Warnf("[manager] %s 连接失败: %v", id, err)
		return err
	}
	m.metrics.ObserveConnect(id, time.Since(start))
	if err := callWithTimeout(ctx, m.cfg.ConnectionTimeout, a.Authenticate); err != nil {
		m.observeStatus(id, a)
		logger.Warnf("[manager] %s 认证失败: %v", id, err)
		return fmt.Errorf("authenticate: %w", err)
	}
	m.observeStatus(id, a)
	logger.Infof("[manager] %s 启动成功，状态 %s", id, a.Status())
	return nil
}

func (m *Manager) observeStatus(id string, a exchange.Adapter) {
	st := a.Status()
	m.metrics.SetStatus(id, int(st), st.Live())
}

// Stop 停止监控循环与重连任务，再按优先级逆序逐个断开，整体受 ShutdownTimeout 约束。
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateIdle:
		m.mu.Unlock()
		return nil
	case stateStarting, stateStopping:
		m.mu.Unlock()
		return ErrStarting
	}
	m.state = stateStopping
	cancel := m.loopCancel
	tasks := m.tasks
	order := make([]string, 0, len(m.adapters))
	for _, id := range m.order {
		if _, ok := m.adapters[id]; ok {
			order = append(order, id)
		}
	}
	adapters := make(map[string]exchange.Adapter, len(m.adapters))
	for id, a := range m.adapters {
		adapters[id] = a
	}
	m.mu.Unlock()

	logger.Infof("[manager] 停止 %d 个交易所", len(order))
	sctx, scancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer scancel()

	if cancel != nil {
		cancel()
	}
	if err := waitGroup(sctx, &m.loops); err != nil {
		logger.Warnf("[manager] 等待监控循环退出超时")
	}
	if tasks != nil {
		if err := tasks.Close(sctx); err != nil {
			logger.Warnf("[manager] 等待重连任务退出超时: %v", err)
		}
	}

	var abandoned []string
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if sctx.Err() != nil {
			abandoned = append(abandoned, order[:i+1]...)
			break
		}
		logger.Infof("[manager] 停止交易所适配器: %s", id)
		a := adapters[id]
		if err := callWithTimeout(sctx, m.cfg.ShutdownTimeout, a.Disconnect); err != nil {
			logger.Errorf("[manager] 停止 %s 失败: %v", id, err)
		}
		m.observeStatus(id, a)
	}

	m.mu.Lock()
	m.adapters = make(map[string]exchange.Adapter)
	m.health = make(map[string]exchange.HealthReport)
	m.loopCancel = nil
	m.tasks = nil
	m.state = stateIdle
	m.mu.Unlock()
	m.retryMu.Lock()
	m.retries = make(map[string]*retryState)
	m.retryMu.Unlock()

	if len(abandoned) > 0 {
		logger.Warnf("[manager] 关闭超时，放弃断开: %v", abandoned)
		return fmt.Errorf("manager: shutdown abandoned %v: %w", abandoned, context.DeadlineExceeded)
	}
	logger.Infof("[manager] 已停止")
	return nil
}

// Restart 先 Stop 再 Start。
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	return m.Start(ctx)
}

// RestartExchange 断开、等待 RestartSettleDelay、重新连接并认证。同一交易所的并发调用合并为一次。
func (m *Manager) RestartExchange(ctx context.Context, id string) error {
	a, ok := m.Adapter(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, id)
	}
	if a.Status() == exchange.StatusMaintenance {
		logger.Infof("[manager] %s 维护中，跳过重启", id)
		return exchange.ErrMaintenance
	}
	_, err, shared := m.restarts.Do(id, func() (any, error) {
		return nil, m.restartOne(ctx, id, a)
	})
	if shared {
		logger.Debugf("[manager] %s 重启请求已合并", id)
	}
	return err
}

func (m *Manager) restartOne(ctx context.Context, id string, a exchange.Adapter) error {
	logger.Infof("[manager] 重启交易所适配器: %s", id)
	if err := callWithTimeout(ctx, m.cfg.ConnectionTimeout, a.Disconnect); err != nil {
		logger.Warnf("[manager] %s 断开失败: %v", id, err)
	}
	if err := sleepCtx(ctx, m.cfg.RestartSettleDelay); err != nil {
		m.metrics.ObserveRestart(id, err)
		return err
	}
	err := m.connectOne(ctx, id, a)
	m.metrics.ObserveRestart(id, err)
	if err != nil {
		logger.Errorf("[manager] 重启 %s 失败: %v", id, err)
		return err
	}
	logger.Infof("[manager] 重启交易所适配器完成: %s", id)
	return nil
}

// TriggerRestart 以后台任务方式重启，立即返回。
func (m *Manager) TriggerRestart(id string) error {
	m.mu.RLock()
	tasks := m.tasks
	_, ok := m.adapters[id]
	running := m.state == stateRunning
	m.mu.RUnlock()
	if !running || tasks == nil {
		return ErrNotRunning
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, id)
	}
	if !tasks.Go("restart:"+id, func(ctx context.Context) {
		_ = m.RestartExchange(ctx, id)
	}) {
		return ErrNotRunning
	}
	return nil
}

// SetMaintenance 通知适配器进入或退出维护；维护中的交易所不会被自动重连。
func (m *Manager) SetMaintenance(id string, on bool, reason string) error {
	a, ok := m.Adapter(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, id)
	}
	a.SetMaintenance(on, reason)
	m.observeStatus(id, a)
	if !on {
		m.retryMu.Lock()
		delete(m.retries, id)
		m.retryMu.Unlock()
	}
	logger.Infof("[manager] %s 维护状态=%v %s", id, on, reason)
	return nil
}

func callWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(cctx)
	}()
	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
