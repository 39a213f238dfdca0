package manager

import (
	"time"

	"exhub/internal/exchange"
)

// Config 控制管理器的启动、监控与关闭节奏，零值字段取默认值。
type Config struct {
	HealthCheckInterval       time.Duration
	ConnectionMonitorInterval time.Duration
	ConnectionTimeout         time.Duration
	MaxConcurrentConnections  int
	StartupDelay              time.Duration
	ShutdownTimeout           time.Duration
	RestartSettleDelay        time.Duration
	// 重连退避：首次 ReconnectInitialDelay，逐次翻倍直到 ReconnectMaxDelay。
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	// HeartbeatMaxFailures 为连续心跳失败的上限，达到后适配器被置为 Error。
	HeartbeatMaxFailures int
	// DisableAutoReconnect 关闭连接监控中的自动重启。
	DisableAutoReconnect bool
	RequireAllConnected  bool
	HealthyStatuses      []string
}

func (c Config) withDefaults() Config {
	out := c
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = 60 * time.Second
	}
	if out.ConnectionMonitorInterval <= 0 {
		out.ConnectionMonitorInterval = 30 * time.Second
	}
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = 30 * time.Second
	}
	if out.MaxConcurrentConnections <= 0 {
		out.MaxConcurrentConnections = 10
	}
	if out.StartupDelay < 0 {
		out.StartupDelay = 0
	} else if out.StartupDelay == 0 {
		out.StartupDelay = time.Second
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 30 * time.Second
	}
	if out.RestartSettleDelay < 0 {
		out.RestartSettleDelay = 0
	} else if out.RestartSettleDelay == 0 {
		out.RestartSettleDelay = 2 * time.Second
	}
	if out.ReconnectInitialDelay <= 0 {
		out.ReconnectInitialDelay = 5 * time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 5 * time.Minute
	}
	if out.HeartbeatMaxFailures <= 0 {
		out.HeartbeatMaxFailures = 3
	}
	if len(out.HealthyStatuses) == 0 {
		out.HealthyStatuses = append([]string(nil), exchange.DefaultHealthyStatuses...)
	} else {
		out.HealthyStatuses = append([]string(nil), c.HealthyStatuses...)
	}
	return out
}
