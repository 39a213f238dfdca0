package runner

import (
	"context"
	"fmt"
	"time"

	"exhub/internal/logger"

	"github.com/jedib0t/go-pretty/v6/table"
)

// StatusTable 渲染各交易所的连接、健康与订阅概况。
func (r *Runner) StatusTable() string {
	health := r.manager.LastHealth()
	statuses := r.manager.Statuses()
	subs := r.subs.Stats()
	quotes := r.quotes.Stats()

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Exchange", "Kind", "Status", "Health", "Latency", "Symbols", "Active", "Failed", "Pending", "Tickers"})
	for _, info := range r.manager.Registrations() {
		status := "-"
		if st, ok := statuses[info.ID]; ok {
			status = st.String()
		}
		if !info.Enabled {
			status = "disabled"
		}
		hs, latency := "-", "-"
		if h, ok := health[info.ID]; ok {
			hs = h.Status
			latency = h.Latency.Round(time.Millisecond).String()
		}
		st := subs[info.ID]
		t.AppendRow(table.Row{
			info.ID, info.Kind, status, hs, latency,
			len(r.cache.SymbolsForExchange(info.ID)),
			st.Active, st.Failed, st.Pending,
			quotes[info.ID].Tickers,
		})
	}
	cs := r.cache.CacheStats()
	t.AppendFooter(table.Row{"overlap", "", "", "", "", cs.OverlapCount, "", "", "", ""})
	return t.Render()
}

func (r *Runner) statusLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprintln(r.statusOut, r.StatusTable()); err != nil {
				logger.Warnf("[runner] 输出状态表失败: %v", err)
			}
		}
	}
}
