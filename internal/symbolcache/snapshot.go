package symbolcache

import (
	"sort"
	"time"
)

// Snapshot 是一次初始化的完整结果，发布后只读。
type Snapshot struct {
	Exchanges        []string                     `json:"exchanges"`
	ExchangeSymbols  map[string][]string          `json:"exchange_symbols"`
	NativeToStandard map[string]map[string]string `json:"native_to_standard"`
	StandardToNative map[string]map[string]string `json:"standard_to_native"`
	Coverage         map[string][]string          `json:"coverage"`
	Overlap          []string                     `json:"overlap"`
	Candidates       map[string][]string          `json:"candidates"`
	Unconverted      int                          `json:"unconverted"`
	Fallback         bool                         `json:"fallback"`
	CreatedAt        time.Time                    `json:"created_at"`
	InitDuration     time.Duration                `json:"init_duration"`
	Config           OverlapConfig                `json:"-"`
}

// TotalSymbols 是各交易所原生品种数量之和。
func (s *Snapshot) TotalSymbols() int {
	n := 0
	for _, list := range s.ExchangeSymbols {
		n += len(list)
	}
	return n
}

// orderExchanges 先按 priority 列表，再按字母序排列剩余交易所。
func orderExchanges(ids, priority []string) []string {
	rank := make(map[string]int, len(priority))
	for i, id := range priority {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

func dedupSorted(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func copyList(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// limit 返回前 max 个元素的副本，max <= 0 表示不限。
func limit(list []string, max int) []string {
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return copyList(list)
}
