package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"

	"golang.org/x/sync/errgroup"
)

func (m *Manager) Adapter(id string) (exchange.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[id]
	return a, ok
}

func (m *Manager) Adapters() map[string]exchange.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]exchange.Adapter, len(m.adapters))
	for id, a := range m.adapters {
		out[id] = a
	}
	return out
}

// ConnectedAdapters 只包含 Connected/Authenticated 的适配器。
func (m *Manager) ConnectedAdapters() map[string]exchange.Adapter {
	out := m.Adapters()
	for id, a := range out {
		if !a.IsConnected() {
			delete(out, id)
		}
	}
	return out
}

func (m *Manager) Status(id string) (exchange.Status, bool) {
	a, ok := m.Adapter(id)
	if !ok {
		return exchange.StatusDisconnected, false
	}
	return a.Status(), true
}

func (m *Manager) Statuses() map[string]exchange.Status {
	out := make(map[string]exchange.Status)
	for id, a := range m.Adapters() {
		out[id] = a.Status()
	}
	return out
}

// RegisteredExchanges 按启动顺序返回全部注册的交易所。
func (m *Manager) RegisteredExchanges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.order...)
}

// ConfiguredExchanges 返回已注册且启用的交易所，不论是否已连接。
func (m *Manager) ConfiguredExchanges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configuredLocked()
}

func (m *Manager) configuredLocked() []string {
	out := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if !m.regs[id].cfg.Disabled {
			out = append(out, id)
		}
	}
	return out
}

// ActiveExchanges 返回当前已连接的交易所，按启动顺序。
func (m *Manager) ActiveExchanges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for _, id := range m.order {
		if a, ok := m.adapters[id]; ok && a.IsConnected() {
			out = append(out, id)
		}
	}
	return out
}

func (m *Manager) Registrations() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		r := m.regs[id]
		kind := r.cfg.Kind
		if kind == "" {
			kind = id
		}
		out = append(out, Info{ID: id, Kind: kind, Priority: r.priority, Enabled: !r.cfg.Disabled})
	}
	return out
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateRunning
}

// LastHealth 返回健康检查循环最近一次的结果。
func (m *Manager) LastHealth() map[string]exchange.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]exchange.HealthReport, len(m.health))
	for id, r := range m.health {
		out[id] = r
	}
	return out
}

// ConnectAll 并发连接全部适配器，单个 panic 只影响自己的结果。
func (m *Manager) ConnectAll(ctx context.Context) map[string]error {
	return m.each(ctx, func(ctx context.Context, id string, a exchange.Adapter) error {
		return m.connectOne(ctx, id, a)
	})
}

func (m *Manager) DisconnectAll(ctx context.Context) map[string]error {
	return m.each(ctx, func(ctx context.Context, id string, a exchange.Adapter) error {
		err := callWithTimeout(ctx, m.cfg.ConnectionTimeout, a.Disconnect)
		m.observeStatus(id, a)
		if err != nil {
			logger.Warnf("[manager] %s 断开失败: %v", id, err)
		}
		return err
	})
}

func (m *Manager) each(ctx context.Context, fn func(context.Context, string, exchange.Adapter) error) map[string]error {
	adapters := m.Adapters()
	var (
		mu  sync.Mutex
		out = make(map[string]error, len(adapters))
		g   errgroup.Group
	)
	for id, a := range adapters {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				mu.Lock()
				out[id] = err
				mu.Unlock()
			}()
			return fn(ctx, id, a)
		})
	}
	_ = g.Wait()
	return out
}

// HealthCheckAll 并发检查全部适配器，超时或 panic 记为 unhealthy。
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]exchange.HealthReport {
	adapters := m.Adapters()
	var (
		mu  sync.Mutex
		out = make(map[string]exchange.HealthReport, len(adapters))
		g   errgroup.Group
	)
	for id, a := range adapters {
		g.Go(func() error {
			report, err := healthWithTimeout(ctx, m.cfg.ConnectionTimeout, a)
			if err != nil {
				report = exchange.HealthReport{
					Exchange:      id,
					Status:        exchange.HealthUnhealthy,
					AdapterStatus: a.Status(),
					CheckedAt:     time.Now(),
					Error:         err.Error(),
				}
			}
			mu.Lock()
			out[id] = report
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func healthWithTimeout(ctx context.Context, d time.Duration, a exchange.Adapter) (exchange.HealthReport, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	reports := make(chan exchange.HealthReport, 1)
	panics := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panics <- fmt.Errorf("panic: %v", r)
			}
		}()
		reports <- a.HealthCheck(cctx)
	}()
	select {
	case r := <-reports:
		return r, nil
	case err := <-panics:
		return exchange.HealthReport{}, err
	case <-cctx.Done():
		return exchange.HealthReport{}, cctx.Err()
	}
}
