package runner

import (
	"context"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"
	"exhub/internal/subscription"
)

const reconcileEvery = 30 * time.Second

// applyOne 计算交易所当前应有的订阅并下发；dynamic 模式下移除已不在列表中的品种。
func (r *Runner) applyOne(ctx context.Context, id string) {
	sm, ok := r.subs.Get(id)
	if !ok {
		return
	}
	a, ok := r.manager.Adapter(id)
	if !ok {
		logger.Debugf("[runner] %s 无适配器实例，跳过订阅", id)
		return
	}
	var symbols []string
	if sm.Mode() == subscription.ModeDynamic {
		symbols = sm.DiscoverSymbols(ctx, r.discovery(id))
		r.prune(ctx, sm, a, symbols)
	} else {
		symbols = sm.SubscriptionSymbols()
	}
	plan := sm.Plan(symbols)
	if len(plan) == 0 {
		return
	}
	res := sm.Apply(ctx, a, plan, r.quotes.Handlers(id))
	if res.Err != nil {
		logger.Warnf("[runner] %s 部分订阅失败: %v", id, res.Err)
	}
}

func (r *Runner) prune(ctx context.Context, sm *subscription.Manager, a exchange.Adapter, keep []string) {
	want := make(map[string]bool, len(keep))
	for _, s := range keep {
		want[s] = true
	}
	for _, rec := range sm.Records() {
		if rec.Kind == exchange.KindUserData || want[rec.Symbol] {
			continue
		}
		if err := a.Unsubscribe(ctx, rec.Symbol, rec.Kind); err != nil {
			logger.Warnf("[runner] %s 退订 %s %s 失败: %v", sm.ExchangeID(), rec.Kind, rec.Symbol, err)
			continue
		}
		sm.RemoveSubscription(rec.Symbol, rec.Kind)
	}
}

// reconcileLoop 周期性补齐订阅：重试失败的记录，并跟进自动发现的结果。
func (r *Runner) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.subs.IDs() {
				r.safeApply(ctx, id)
			}
		}
	}
}

func (r *Runner) safeApply(ctx context.Context, id string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[runner] %s 订阅补齐 panic: %v", id, rec)
		}
	}()
	r.applyOne(ctx, id)
}
