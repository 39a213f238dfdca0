package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/exchange/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitoredConfig() Config {
	cfg := quietConfig()
	cfg.ConnectionMonitorInterval = 10 * time.Millisecond
	cfg.ReconnectInitialDelay = time.Hour
	return cfg
}

func TestMonitorReconnectsDroppedExchange(t *testing.T) {
	f := newFactory()
	m := New(monitoredConfig(), f)
	register(t, m, map[string]int{"a": 1})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	f.sim("a").Drop(nil)
	assert.Equal(t, exchange.StatusError, f.sim("a").Status())
	assert.Eventually(t, func() bool { return f.sim("a").IsConnected() }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, f.sim("a").Sessions())
}

func TestReconnectDoesNotBlockMonitor(t *testing.T) {
	f := newFactory()
	m := New(monitoredConfig(), f)
	register(t, m, map[string]int{"slow": 1, "fast": 2})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	slow, fast := f.sim("slow"), f.sim("fast")
	slow.SetConnectDelay(400 * time.Millisecond)
	slow.Drop(nil)
	time.Sleep(30 * time.Millisecond)
	fast.Drop(nil)

	assert.Eventually(t, fast.IsConnected, 200*time.Millisecond, 5*time.Millisecond)
	assert.False(t, slow.IsConnected())
	// 进行中的重启不会被重复调度。
	assert.EqualValues(t, 2, slow.ConnectCalls())
	assert.Eventually(t, slow.IsConnected, 2*time.Second, 10*time.Millisecond)
}

func TestFailedRestartWaitsForBackoff(t *testing.T) {
	f := newFactory()
	m := New(monitoredConfig(), f)
	register(t, m, map[string]int{"a": 1})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	a := f.sim("a")
	a.SetConnectError(errors.New("503"))
	a.Drop(nil)
	assert.Eventually(t, func() bool { return a.ConnectCalls() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 2, a.ConnectCalls())

	// 退出维护会清掉退避状态。
	a.SetConnectError(nil)
	require.NoError(t, m.SetMaintenance("a", true, ""))
	require.NoError(t, m.SetMaintenance("a", false, ""))
	assert.Eventually(t, a.IsConnected, time.Second, 5*time.Millisecond)
}

func TestMonitorSkipsMaintenanceAndOptOut(t *testing.T) {
	f := newFactory()
	m := New(monitoredConfig(), f)
	require.NoError(t, m.RegisterExchange("maint", exchange.Config{AutoReconnect: true}, 1))
	require.NoError(t, m.RegisterExchange("manual", exchange.Config{AutoReconnect: false}, 2))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	require.NoError(t, m.SetMaintenance("maint", true, "upgrade"))
	f.sim("manual").Drop(nil)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, exchange.StatusMaintenance, f.sim("maint").Status())
	assert.EqualValues(t, 1, f.sim("maint").ConnectCalls())
	assert.EqualValues(t, 1, f.sim("manual").ConnectCalls())
}

func TestStopCancelsInflightReconnect(t *testing.T) {
	f := newFactory()
	m := New(monitoredConfig(), f)
	register(t, m, map[string]int{"a": 1})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	a := f.sim("a")
	a.SetConnectDelay(time.Minute)
	a.Drop(nil)
	assert.Eventually(t, func() bool { return a.ConnectCalls() == 2 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Stop(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, m.IsRunning())
}

func TestHealthLoopKeepsLastReport(t *testing.T) {
	f := newFactory()
	f.prepare = func(id string, a *sim.Adapter) {
		if id == "sick" {
			a.SetHealthError(errors.New("ping timeout"))
		}
	}
	cfg := quietConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	m := New(cfg, f)
	register(t, m, map[string]int{"ok": 1, "sick": 2})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	assert.Eventually(t, func() bool { return len(m.LastHealth()) == 2 }, time.Second, 5*time.Millisecond)
	reports := m.LastHealth()
	assert.True(t, reports["ok"].IsGood(exchange.DefaultHealthyStatuses))
	assert.Equal(t, exchange.HealthUnhealthy, reports["sick"].Status)
	assert.Contains(t, reports["sick"].Error, "ping timeout")
}

type panicky struct {
	*sim.Adapter
}

func (p *panicky) Connect(context.Context) error { panic("driver bug") }

func (p *panicky) HealthCheck(context.Context) exchange.HealthReport { panic("driver bug") }

type panickyFactory struct{ *fakeFactory }

func (f panickyFactory) Build(id string, cfg exchange.Config) (exchange.Adapter, error) {
	if id == "boom" {
		return &panicky{Adapter: sim.New(exchange.Config{ID: id}, sim.Options{})}, nil
	}
	return f.fakeFactory.Build(id, cfg)
}

func TestBatchOperationsIsolatePanics(t *testing.T) {
	f := panickyFactory{newFactory()}
	m := New(quietConfig(), f)
	register(t, m, map[string]int{"a": 1, "boom": 2})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	results := m.ConnectAll(ctx)
	require.Len(t, results, 2)
	assert.NoError(t, results["a"])
	require.Error(t, results["boom"])
	assert.Contains(t, results["boom"].Error(), "panic")

	health := m.HealthCheckAll(ctx)
	assert.Equal(t, exchange.HealthHealthy, health["a"].Status)
	assert.Equal(t, exchange.HealthUnhealthy, health["boom"].Status)

	off := m.DisconnectAll(ctx)
	assert.NoError(t, off["a"])
	assert.NoError(t, off["boom"])
	assert.Empty(t, m.ActiveExchanges())
}

func TestHeartbeatFailuresEscalateToRestart(t *testing.T) {
	f := newFactory()
	cfg := monitoredConfig()
	cfg.HeartbeatMaxFailures = 3
	m := New(cfg, f)
	require.NoError(t, m.RegisterExchange("a", exchange.Config{AutoReconnect: true, EnableHeartbeat: true, HeartbeatInterval: 5 * time.Millisecond}, 1))
	require.NoError(t, m.RegisterExchange("quiet", exchange.Config{AutoReconnect: true, HeartbeatInterval: 5 * time.Millisecond}, 2))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	a := f.sim("a")
	assert.Eventually(t, func() bool { return !a.HealthCheck(ctx).LastHeartbeat.IsZero() }, time.Second, 5*time.Millisecond)

	a.SetHeartbeatError(errors.New("pong timeout"))
	assert.Eventually(t, func() bool { return a.Sessions() >= 2 }, 2*time.Second, 5*time.Millisecond)

	a.SetHeartbeatError(nil)
	assert.Eventually(t, a.IsConnected, time.Second, 5*time.Millisecond)
	assert.True(t, f.sim("quiet").HealthCheck(ctx).LastHeartbeat.IsZero())
}

func TestHeartbeatFailuresBelowLimitAreObservational(t *testing.T) {
	f := newFactory()
	cfg := monitoredConfig()
	cfg.HeartbeatMaxFailures = 1000
	m := New(cfg, f)
	require.NoError(t, m.RegisterExchange("a", exchange.Config{AutoReconnect: true, EnableHeartbeat: true, HeartbeatInterval: 5 * time.Millisecond}, 1))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	a := f.sim("a")
	a.SetHeartbeatError(errors.New("pong timeout"))
	assert.Eventually(t, func() bool { return a.HealthCheck(ctx).HeartbeatFailures >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, a.IsConnected())
	assert.EqualValues(t, 1, a.Sessions())
}
