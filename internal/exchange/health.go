package exchange

import (
	"strings"
	"time"
)

const (
	HealthHealthy      = "healthy"
	HealthUnhealthy    = "unhealthy"
	HealthMaintenance  = "maintenance"
	HealthDisconnected = "disconnected"
)

// HealthReport 是一次健康检查的结构化结果。
type HealthReport struct {
	Exchange          string        `json:"exchange"`
	Status            string        `json:"status"`
	AdapterStatus     Status        `json:"adapter_status"`
	Reachable         bool          `json:"reachable"`
	Latency           time.Duration `json:"latency"`
	ClockSkew         time.Duration `json:"clock_skew"`
	InstrumentCount   int           `json:"instrument_count"`
	LastHeartbeat     time.Time     `json:"last_heartbeat"`
	HeartbeatFailures int           `json:"heartbeat_failures"`
	CheckedAt         time.Time     `json:"checked_at"`
	Error             string        `json:"error,omitempty"`
}

// IsGood 判断 Status 是否属于 good 集合（大小写不敏感）。
func (r HealthReport) IsGood(good []string) bool {
	st := strings.ToLower(strings.TrimSpace(r.Status))
	for _, g := range good {
		if st == strings.ToLower(strings.TrimSpace(g)) {
			return true
		}
	}
	return false
}

// DefaultHealthyStatuses 是默认的 good 状态集合。
var DefaultHealthyStatuses = []string{"healthy", "connected", "ok", "authenticated"}
