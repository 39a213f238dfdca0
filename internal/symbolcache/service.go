// Package symbolcache 在启动时一次性计算跨交易所的品种重叠，并为每个交易所生成订阅候选。
package symbolcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"
	"exhub/internal/metrics"
	"exhub/internal/symbol"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidConfig   = errors.New("symbolcache: invalid config")
	ErrUnknownExchange = errors.New("symbolcache: unknown exchange")
)

// AdapterSource 提供已连接的适配器，通常由 Exchange Manager 实现。
type AdapterSource interface {
	ConnectedAdapters() map[string]exchange.Adapter
	RegisteredExchanges() []string
}

// Service 持有唯一的 Snapshot；读取无锁，重建时整体替换。
type Service struct {
	source  AdapterSource
	conv    *symbol.Converter
	metrics *metrics.Metrics

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(source AdapterSource, conv *symbol.Converter, opts ...Option) *Service {
	if conv == nil {
		conv = symbol.NewConverter(nil)
	}
	s := &Service{source: source, conv: conv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeCache 构建快照；已初始化时直接返回 nil。需要刷新请先 ClearCache。
func (s *Service) InitializeCache(ctx context.Context, exchangeIDs []string, cfg OverlapConfig) error {
	if s.IsCacheValid() {
		logger.Debugf("[symbolcache] 已初始化，跳过")
		return nil
	}
	if len(exchangeIDs) == 0 {
		return fmt.Errorf("%w: no exchanges requested", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		logger.Warnf("[symbolcache] 配置无效: %v", err)
		return err
	}
	if err := s.checkKnown(exchangeIDs); err != nil {
		logger.Warnf("[symbolcache] %v", err)
		return err
	}
	_, err, _ := s.group.Do("init", func() (any, error) {
		if s.IsCacheValid() {
			return nil, nil
		}
		snap := s.build(ctx, exchangeIDs, cfg)
		s.snap.Store(snap)
		s.metrics.SetOverlap(len(snap.Overlap), candidateCounts(snap))
		logger.Infof("[symbolcache] 初始化完成: 交易所 %d 个, 重叠 %d 个, fallback=%v, 耗时 %s",
			len(snap.Exchanges), len(snap.Overlap), snap.Fallback, snap.InitDuration)
		return nil, nil
	})
	return err
}

func (s *Service) checkKnown(ids []string) error {
	if s.source == nil {
		return fmt.Errorf("%w: no adapter source", ErrInvalidConfig)
	}
	known := make(map[string]struct{})
	for _, id := range s.source.RegisteredExchanges() {
		known[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownExchange, id)
		}
	}
	return nil
}

func (s *Service) build(ctx context.Context, ids []string, cfg OverlapConfig) *Snapshot {
	start := time.Now()
	ordered := orderExchanges(ids, cfg.ExchangePriority)
	lists := s.fetchAll(ctx, ordered, cfg.FetchTimeout)

	nonEmpty := false
	for _, list := range lists {
		if len(list) > 0 {
			nonEmpty = true
			break
		}
	}
	var snap *Snapshot
	if nonEmpty {
		snap = s.analyze(ordered, lists, cfg)
	} else {
		logger.Warnf("[symbolcache] 所有交易所均未返回品种，使用 fallback 列表")
		snap = fallbackSnapshot(ordered)
	}
	snap.Config = cfg
	snap.CreatedAt = time.Now()
	snap.InitDuration = time.Since(start)
	return snap
}

// fetchAll 并发拉取每个交易所的品种，失败或超时记为空列表。
func (s *Service) fetchAll(ctx context.Context, ids []string, timeout time.Duration) map[string][]string {
	adapters := s.source.ConnectedAdapters()
	results := make([][]string, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		adapter, ok := adapters[id]
		if !ok {
			logger.Warnf("[symbolcache] %s 未连接，贡献空列表", id)
			continue
		}
		g.Go(func() error {
			list, err := fetchWithTimeout(ctx, adapter, timeout)
			if err != nil {
				s.metrics.SymbolFetchFailed(id)
				logger.Warnf("[symbolcache] %s 获取品种失败: %v", id, err)
				return nil
			}
			results[i] = dedupSorted(list)
			logger.Debugf("[symbolcache] %s 返回 %d 个品种", id, len(results[i]))
			return nil
		})
	}
	_ = g.Wait()
	out := make(map[string][]string, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

func fetchWithTimeout(ctx context.Context, a exchange.Adapter, timeout time.Duration) ([]string, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type result struct {
		list []string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		list, err := a.SupportedSymbols(fctx)
		ch <- result{list: list, err: err}
	}()
	select {
	case res := <-ch:
		return res.list, res.err
	case <-fctx.Done():
		return nil, fctx.Err()
	}
}

func (s *Service) analyze(ids []string, lists map[string][]string, cfg OverlapConfig) *Snapshot {
	snap := &Snapshot{
		Exchanges:        ids,
		ExchangeSymbols:  make(map[string][]string, len(ids)),
		NativeToStandard: make(map[string]map[string]string, len(ids)),
		StandardToNative: make(map[string]map[string]string, len(ids)),
		Coverage:         make(map[string][]string),
		Candidates:       make(map[string][]string, len(ids)),
	}
	coverage := make(map[string]map[string]struct{})
	for _, id := range ids {
		natives := copyList(lists[id])
		toStd := make(map[string]string, len(natives))
		toNative := make(map[string]string, len(natives))
		for _, native := range natives {
			std := native
			if parsed, err := s.conv.ToStandard(native, id); err == nil {
				std = parsed.String()
			} else {
				// 无法识别时以原生名作为标准名，不丢弃品种。
				snap.Unconverted++
				logger.Debugf("[symbolcache] %v，按原生名处理", err)
			}
			toStd[native] = std
			if _, ok := toNative[std]; !ok {
				toNative[std] = native
			}
			if coverage[std] == nil {
				coverage[std] = make(map[string]struct{})
			}
			coverage[std][id] = struct{}{}
		}
		snap.ExchangeSymbols[id] = natives
		snap.NativeToStandard[id] = toStd
		snap.StandardToNative[id] = toNative
	}

	overlap := make([]string, 0)
	for std, exs := range coverage {
		list := make([]string, 0, len(exs))
		for ex := range exs {
			list = append(list, ex)
		}
		snap.Coverage[std] = orderExchanges(list, cfg.ExchangePriority)
		if len(exs) >= cfg.MinExchangeCount {
			overlap = append(overlap, std)
		}
	}
	// 覆盖交易所越多越靠前，其次按名称，保证上限裁剪结果确定。
	sort.Slice(overlap, func(i, j int) bool {
		ci, cj := len(coverage[overlap[i]]), len(coverage[overlap[j]])
		if ci != cj {
			return ci > cj
		}
		return overlap[i] < overlap[j]
	})
	snap.Overlap = symbol.Filter(overlap, cfg.IncludePatterns, cfg.ExcludePatterns, cfg.MaxSymbolsPerExchange)

	for _, id := range ids {
		if cfg.UseOverlapOnly {
			natives := make([]string, 0, len(snap.Overlap))
			for _, std := range snap.Overlap {
				if native, ok := snap.StandardToNative[id][std]; ok {
					natives = append(natives, native)
				}
			}
			snap.Candidates[id] = natives
			continue
		}
		// 非 overlap 模式取该交易所的完整原生列表，只做数量上限，不套用标准格式的过滤规则。
		snap.Candidates[id] = limit(snap.ExchangeSymbols[id], cfg.MaxSymbolsPerExchange)
	}
	return snap
}

func fallbackSnapshot(ids []string) *Snapshot {
	fb := symbol.Fallback()
	snap := &Snapshot{
		Exchanges:        ids,
		ExchangeSymbols:  make(map[string][]string, len(ids)),
		NativeToStandard: make(map[string]map[string]string, len(ids)),
		StandardToNative: make(map[string]map[string]string, len(ids)),
		Coverage:         make(map[string][]string, len(fb)),
		Overlap:          copyList(fb),
		Candidates:       make(map[string][]string, len(ids)),
		Fallback:         true,
	}
	identity := make(map[string]string, len(fb))
	for _, s := range fb {
		identity[s] = s
		snap.Coverage[s] = copyList(ids)
	}
	for _, id := range ids {
		snap.ExchangeSymbols[id] = copyList(fb)
		snap.Candidates[id] = copyList(fb)
		snap.NativeToStandard[id] = identity
		snap.StandardToNative[id] = identity
	}
	return snap
}

func candidateCounts(snap *Snapshot) map[string]int {
	out := make(map[string]int, len(snap.Candidates))
	for id, list := range snap.Candidates {
		out[id] = len(list)
	}
	return out
}
