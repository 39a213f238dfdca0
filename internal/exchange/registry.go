package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor 根据配置构造一个适配器实例。
type Constructor func(cfg Config) (Adapter, error)

// Registry 是按 kind 索引的适配器工厂。
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register 登记构造函数，同名覆盖。
func (r *Registry) Register(kind string, ctor Constructor) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || ctor == nil {
		return
	}
	r.mu.Lock()
	r.ctors[kind] = ctor
	r.mu.Unlock()
}

// Kinds 返回已登记的 kind，按字母序。
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build 以 id 为实例标识、cfg.Kind 为工厂键构造适配器。
func (r *Registry) Build(id string, cfg Config) (Adapter, error) {
	cfg.ID = id
	cfg = cfg.WithDefaults()
	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (id=%s)", ErrUnknownExchange, cfg.Kind, cfg.ID)
	}
	adapter, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.ID, err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("build %s: constructor returned nil", cfg.ID)
	}
	return adapter, nil
}
