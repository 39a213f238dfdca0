package symbolcache

import (
	"time"

	"exhub/internal/logger"
)

const (
	StatusInitialized    = "initialized"
	StatusNotInitialized = "not_initialized"
)

// Stats 是缓存概况。
type Stats struct {
	Status       string         `json:"status"`
	TotalSymbols int            `json:"total_symbols"`
	OverlapCount int            `json:"overlap_count"`
	Exchanges    []string       `json:"exchanges"`
	PerExchange  map[string]int `json:"per_exchange"`
	Unconverted  int            `json:"unconverted"`
	Timestamp    time.Time      `json:"timestamp"`
	InitDuration time.Duration  `json:"initialization_time"`
	Fallback     bool           `json:"is_fallback"`
}

// Snapshot 返回当前快照（只读，调用方不得修改）；未初始化时为 nil。
func (s *Service) Snapshot() *Snapshot { return s.snap.Load() }

func (s *Service) IsCacheValid() bool { return s.snap.Load() != nil }

// ClearCache 丢弃快照，下次 InitializeCache 从头构建。
func (s *Service) ClearCache() {
	if s.snap.Swap(nil) != nil {
		s.metrics.SetOverlap(0, nil)
		logger.Infof("[symbolcache] 缓存已清空")
	}
}

// SymbolsForExchange 返回该交易所的订阅候选（原生格式），未初始化时为空。
func (s *Service) SymbolsForExchange(id string) []string {
	snap := s.snap.Load()
	if snap == nil {
		return []string{}
	}
	return copyList(snap.Candidates[id])
}

// HasSymbols 表示快照中是否有该交易所的候选。
func (s *Service) HasSymbols(id string) bool {
	snap := s.snap.Load()
	return snap != nil && len(snap.Candidates[id]) > 0
}

func (s *Service) OverlapSymbols() []string {
	snap := s.snap.Load()
	if snap == nil {
		return []string{}
	}
	return copyList(snap.Overlap)
}

// AllExchangeSymbols 返回各交易所的原生品种全集。
func (s *Service) AllExchangeSymbols() map[string][]string {
	snap := s.snap.Load()
	if snap == nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(snap.ExchangeSymbols))
	for id, list := range snap.ExchangeSymbols {
		out[id] = copyList(list)
	}
	return out
}

// StandardFor 查询原生品种对应的标准名。
func (s *Service) StandardFor(exchangeID, native string) (string, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return "", false
	}
	std, ok := snap.NativeToStandard[exchangeID][native]
	return std, ok
}

// NativeFor 查询标准名在该交易所的原生品种。
func (s *Service) NativeFor(exchangeID, standard string) (string, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return "", false
	}
	native, ok := snap.StandardToNative[exchangeID][standard]
	return native, ok
}

// Coverage 返回支持该标准品种的交易所。
func (s *Service) Coverage(standard string) []string {
	snap := s.snap.Load()
	if snap == nil {
		return []string{}
	}
	return copyList(snap.Coverage[standard])
}

func (s *Service) CacheStats() Stats {
	snap := s.snap.Load()
	if snap == nil {
		return Stats{Status: StatusNotInitialized, Exchanges: []string{}, PerExchange: map[string]int{}}
	}
	return Stats{
		Status:       StatusInitialized,
		TotalSymbols: snap.TotalSymbols(),
		OverlapCount: len(snap.Overlap),
		Exchanges:    copyList(snap.Exchanges),
		PerExchange:  candidateCounts(snap),
		Unconverted:  snap.Unconverted,
		Timestamp:    snap.CreatedAt,
		InitDuration: snap.InitDuration,
		Fallback:     snap.Fallback,
	}
}
