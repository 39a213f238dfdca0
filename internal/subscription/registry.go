package subscription

import (
	"context"
	"sort"
	"sync"
)

// Registry 按交易所 id 保存订阅管理器。
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Add 同 id 已存在时替换。
func (r *Registry) Add(m *Manager) {
	r.mu.Lock()
	r.managers[m.ExchangeID()] = m
	r.mu.Unlock()
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.managers, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[id]
	return m, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.managers))
	for id := range r.managers {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Managers() map[string]*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Manager, len(r.managers))
	for id, m := range r.managers {
		out[id] = m
	}
	return out
}

// StartAutoDiscovery 为所有 dynamic 模式的管理器启动自动发现，返回启动的数量。
func (r *Registry) StartAutoDiscovery(ctx context.Context, fallback func(id string) DiscoveryFunc) int {
	n := 0
	for id, m := range r.Managers() {
		if m.Mode() != ModeDynamic {
			continue
		}
		var fn DiscoveryFunc
		if fallback != nil {
			fn = fallback(id)
		}
		if m.StartAutoDiscovery(ctx, fn) {
			n++
		}
	}
	return n
}

func (r *Registry) ClearAll() {
	for _, m := range r.Managers() {
		m.ClearSubscriptions()
	}
}

func (r *Registry) Stats() map[string]Stats {
	out := make(map[string]Stats)
	for id, m := range r.Managers() {
		out[id] = m.SubscriptionStats()
	}
	return out
}
