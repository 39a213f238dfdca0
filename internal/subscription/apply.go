package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"
)

// ApplyResult 汇总一次 Apply 的结果；Err 合并了所有失败原因。
type ApplyResult struct {
	Active  int   `json:"active"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"`
	Err     error `json:"-"`
}

// Plan 把品种列表展开为 (品种, 类别) 对，只包含已开启的类别；user_data 只出现一次。
func (m *Manager) Plan(symbols []string) []Target {
	uniq := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		uniq = append(uniq, s)
	}
	var out []Target
	for _, kind := range m.EnabledDataTypes() {
		if kind == exchange.KindUserData {
			out = append(out, Target{Kind: kind})
			continue
		}
		for _, s := range uniq {
			out = append(out, Target{Symbol: s, Kind: kind})
		}
	}
	return out
}

// Apply 登记并执行订阅计划。单条失败只标记该记录，不中断其余订阅。
func (m *Manager) Apply(ctx context.Context, a exchange.Adapter, plan []Target, h exchange.Handlers) ApplyResult {
	var (
		res    ApplyResult
		errs   []error
		byKind = make(map[exchange.DataKind][]string)
	)
	for _, t := range plan {
		if !m.ShouldSubscribeDataType(t.Kind) {
			res.Skipped++
			continue
		}
		rec, added := m.AddSubscription(t.Symbol, t.Kind, h)
		if !added && rec.State == StateActive {
			res.Skipped++
			continue
		}
		if !h.For(t.Kind) {
			err := fmt.Errorf("%s %s: %w", t.Kind, t.Symbol, exchange.ErrNilCallback)
			m.MarkFailed(t.Symbol, t.Kind, err)
			res.Failed++
			errs = append(errs, err)
			continue
		}
		byKind[t.Kind] = append(byKind[t.Kind], t.Symbol)
	}

	batcher, canBatch := a.(exchange.BatchSubscriber)
	for _, kind := range exchange.AllKinds {
		syms := byKind[kind]
		if len(syms) == 0 {
			continue
		}
		if canBatch && kind != exchange.KindUserData {
			err := batcher.SubscribeBatch(ctx, kind, syms, h)
			if err != nil {
				errs = append(errs, fmt.Errorf("batch %s: %w", kind, err))
			}
			for _, s := range syms {
				m.mark(&res, s, kind, err)
			}
			continue
		}
		errs = append(errs, m.subscribeEach(ctx, a, kind, syms, h, &res)...)
	}

	res.Err = errors.Join(errs...)
	logger.Infof("[subscription] %s 订阅完成: active=%d failed=%d skipped=%d",
		m.exchangeID, res.Active, res.Failed, res.Skipped)
	return res
}

func (m *Manager) subscribeEach(ctx context.Context, a exchange.Adapter, kind exchange.DataKind, syms []string, h exchange.Handlers, res *ApplyResult) []error {
	var errs []error
	size := m.cfg.Batch.Size
	for i, s := range syms {
		if i > 0 && i%size == 0 && m.cfg.Batch.Delay > 0 {
			if err := sleep(ctx, m.cfg.Batch.Delay); err != nil {
				for _, rest := range syms[i:] {
					m.mark(res, rest, kind, err)
				}
				return append(errs, err)
			}
		}
		err := exchange.Subscribe(ctx, a, kind, s, h)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", kind, s, err))
		}
		m.mark(res, s, kind, err)
	}
	return errs
}

func (m *Manager) mark(res *ApplyResult, sym string, kind exchange.DataKind, err error) {
	if err != nil {
		m.MarkFailed(sym, kind, err)
		res.Failed++
		logger.Warnf("[subscription] %s 订阅失败 %s %s: %v", m.exchangeID, kind, sym, err)
		return
	}
	m.MarkActive(sym, kind)
	res.Active++
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
