package manager

import (
	"context"
	"fmt"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"

	"github.com/cenkalti/backoff/v5"
)

func (m *Manager) healthLoop(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safe("health", func() { m.runHealthChecks(ctx) })
		}
	}
}

func (m *Manager) monitorLoop(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.cfg.ConnectionMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safe("monitor", m.checkConnections)
		}
	}
}

// failer 由嵌入 exchange.Base 的适配器实现。
type failer interface {
	Fail(err error) error
}

func (m *Manager) startHeartbeats(ids []string, built map[string]exchange.Adapter) {
	m.mu.RLock()
	tasks := m.tasks
	m.mu.RUnlock()
	if tasks == nil {
		return
	}
	for _, id := range ids {
		a, ok := built[id]
		if !ok || !a.Config().EnableHeartbeat {
			continue
		}
		tasks.Go("heartbeat:"+id, func(ctx context.Context) { m.heartbeatLoop(ctx, id, a) })
	}
}

// heartbeatLoop 按适配器的 HeartbeatInterval 发送心跳；连续失败达到上限时置为 Error，由连接监控负责重启。
func (m *Manager) heartbeatLoop(ctx context.Context, id string, a exchange.Adapter) {
	interval := a.Config().HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// 注销或重建后的实例由新的循环负责。
		if cur, ok := m.Adapter(id); !ok || cur != a {
			return
		}
		if !a.IsConnected() {
			failures = 0
			continue
		}
		err := callWithTimeout(ctx, m.cfg.ConnectionTimeout, a.Heartbeat)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			continue
		}
		failures++
		if failures < m.cfg.HeartbeatMaxFailures {
			continue
		}
		failures = 0
		m.escalateHeartbeat(id, a, err)
	}
}

func (m *Manager) escalateHeartbeat(id string, a exchange.Adapter, err error) {
	f, ok := a.(failer)
	if !ok {
		logger.Warnf("[manager] %s 心跳连续失败 %d 次，但适配器不支持标记错误: %v", id, m.cfg.HeartbeatMaxFailures, err)
		return
	}
	logger.Warnf("[manager] %s 心跳连续失败 %d 次，标记为 error: %v", id, m.cfg.HeartbeatMaxFailures, err)
	_ = f.Fail(fmt.Errorf("heartbeat: %w", err))
	m.observeStatus(id, a)
}

func (m *Manager) safe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[manager] %s 循环 panic: %v", name, r)
		}
	}()
	fn()
}

func (m *Manager) runHealthChecks(ctx context.Context) {
	reports := m.HealthCheckAll(ctx)
	for id, r := range reports {
		m.metrics.ObserveHealth(id, r.Status)
		if !r.IsGood(m.cfg.HealthyStatuses) {
			logger.Warnf("[manager] %s 健康检查异常: status=%s err=%s", id, r.Status, r.Error)
		}
	}
	m.mu.Lock()
	for id, r := range reports {
		if _, ok := m.adapters[id]; ok {
			m.health[id] = r
		}
	}
	m.mu.Unlock()
}

// checkConnections 为断开的交易所调度后台重启，本身从不阻塞在网络调用上。
func (m *Manager) checkConnections() {
	if m.cfg.DisableAutoReconnect {
		return
	}
	m.mu.RLock()
	tasks := m.tasks
	adapters := make(map[string]exchange.Adapter, len(m.adapters))
	for id, a := range m.adapters {
		adapters[id] = a
	}
	m.mu.RUnlock()
	if tasks == nil {
		return
	}
	now := m.now()
	for id, a := range adapters {
		if a.IsConnected() || a.Status() == exchange.StatusMaintenance || !a.Config().AutoReconnect {
			continue
		}
		if !m.reserveRetry(id, now) {
			continue
		}
		logger.Infof("[manager] %s 连接断开 (%s)，调度重启", id, a.Status())
		if !tasks.Go("reconnect:"+id, func(ctx context.Context) {
			err := m.RestartExchange(ctx, id)
			m.finishRetry(id, err)
		}) {
			m.finishRetry(id, nil)
		}
	}
}

// reserveRetry 在未到退避截止时间或已有重启在进行时返回 false。
func (m *Manager) reserveRetry(id string, now time.Time) bool {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	st, ok := m.retries[id]
	if !ok {
		st = &retryState{bo: m.newBackoff()}
		m.retries[id] = st
	}
	if st.inflight || now.Before(st.next) {
		return false
	}
	st.inflight = true
	return true
}

func (m *Manager) finishRetry(id string, err error) {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	st, ok := m.retries[id]
	if !ok {
		return
	}
	st.inflight = false
	if err == nil {
		st.bo.Reset()
		st.next = time.Time{}
		return
	}
	wait := st.bo.NextBackOff()
	st.next = m.now().Add(wait)
	logger.Debugf("[manager] %s 重启失败，%s 后再试", id, wait)
}

func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectInitialDelay
	b.MaxInterval = m.cfg.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}
