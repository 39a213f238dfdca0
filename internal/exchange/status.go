package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status 是适配器的生命周期状态。
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
	StatusError
	StatusMaintenance
)

var statusNames = map[Status]string{
	StatusDisconnected:  "disconnected",
	StatusConnecting:    "connecting",
	StatusConnected:     "connected",
	StatusAuthenticated: "authenticated",
	StatusError:         "error",
	StatusMaintenance:   "maintenance",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText 让 JSON/YAML 输出使用小写名称。
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStatus 解析小写状态名。
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for st, name := range statusNames {
		if name == v {
			return st, nil
		}
	}
	return StatusDisconnected, fmt.Errorf("unknown status %q", v)
}

// Live 表示会话已建立（Connected 或 Authenticated）。
func (s Status) Live() bool {
	return s == StatusConnected || s == StatusAuthenticated
}

// transitions 列出合法的状态迁移，自迁移单独处理。
var transitions = map[Status][]Status{
	StatusDisconnected:  {StatusConnecting, StatusError, StatusMaintenance},
	StatusConnecting:    {StatusConnected, StatusDisconnected, StatusError, StatusMaintenance},
	StatusConnected:     {StatusAuthenticated, StatusDisconnected, StatusError, StatusMaintenance},
	StatusAuthenticated: {StatusDisconnected, StatusError, StatusMaintenance},
	StatusError:         {StatusConnecting, StatusMaintenance},
	StatusMaintenance:   {StatusDisconnected},
}

// CanTransition 判断 from -> to 是否合法。
func CanTransition(from, to Status) bool {
	if from == to {
		// Connecting 不允许重入，其余自迁移视为 no-op。
		return from != StatusConnecting
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine 持有单个适配器的状态，所有修改都必须经过 Transition。
type StateMachine struct {
	mu     sync.RWMutex
	status Status
	since  time.Time
	reason string
}

func NewStateMachine() *StateMachine {
	return &StateMachine{status: StatusDisconnected, since: time.Now()}
}

func (m *StateMachine) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Since 返回进入当前状态的时间。
func (m *StateMachine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Reason 返回最近一次进入 Error/Maintenance 的原因。
func (m *StateMachine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition 迁移到 to；非法迁移返回 ErrIllegalTransition，状态保持不变。
func (m *StateMachine) Transition(to Status) error {
	return m.TransitionWithReason(to, "")
}

func (m *StateMachine) TransitionWithReason(to Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.status, to)
	}
	if m.status == to {
		return nil
	}
	m.status = to
	m.since = time.Now()
	m.reason = reason
	return nil
}
