// Package status 提供交易所、品种缓存、订阅与行情的只读查询接口，以及重启/维护两个运维操作。
package status

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"exhub/internal/exchange"
	"exhub/internal/exchange/manager"
	"exhub/internal/logger"
	"exhub/internal/store"
	"exhub/internal/subscription"
	"exhub/internal/symbolcache"

	"github.com/gin-gonic/gin"
)

// Exchanges 是路由依赖的交易所管理器能力。
type Exchanges interface {
	Registrations() []manager.Info
	Adapter(id string) (exchange.Adapter, bool)
	LastHealth() map[string]exchange.HealthReport
	TriggerRestart(id string) error
	SetMaintenance(id string, on bool, reason string) error
}

// SymbolCache 是路由依赖的品种缓存能力。
type SymbolCache interface {
	OverlapSymbols() []string
	SymbolsForExchange(id string) []string
	CacheStats() symbolcache.Stats
}

// Subscriptions 是路由依赖的订阅注册表能力。
type Subscriptions interface {
	Get(id string) (*subscription.Manager, bool)
	Stats() map[string]subscription.Stats
}

type Router struct {
	exchanges Exchanges
	cache     SymbolCache
	subs      Subscriptions
	quotes    store.QuoteReader
}

func NewRouter(ex Exchanges, cache SymbolCache, subs Subscriptions, quotes store.QuoteReader) *Router {
	return &Router{exchanges: ex, cache: cache, subs: subs, quotes: quotes}
}

// Register 挂载全部路由。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/exchanges", r.handleExchanges)
	group.GET("/exchanges/:id/health", r.handleHealth)
	group.POST("/exchanges/:id/restart", r.handleRestart)
	group.POST("/exchanges/:id/maintenance", r.handleMaintenance)
	group.GET("/symbols/overlap", r.handleOverlap)
	group.GET("/symbols/stats", r.handleSymbolStats)
	group.GET("/symbols/:exchange", r.handleExchangeSymbols)
	group.GET("/subscriptions", r.handleSubscriptionStats)
	group.GET("/subscriptions/:exchange", r.handleSubscriptionRecords)
	group.GET("/quotes/:exchange", r.handleQuotes)
}

// ExchangeView 是 /exchanges 列表中的一项。
type ExchangeView struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	Priority   int                    `json:"priority"`
	Enabled    bool                   `json:"enabled"`
	Status     string                 `json:"status"`
	Connected  bool                   `json:"connected"`
	LastHealth *exchange.HealthReport `json:"last_health,omitempty"`
}

func (r *Router) handleExchanges(c *gin.Context) {
	health := r.exchanges.LastHealth()
	regs := r.exchanges.Registrations()
	out := make([]ExchangeView, 0, len(regs))
	for _, info := range regs {
		view := ExchangeView{
			ID:       info.ID,
			Kind:     info.Kind,
			Priority: info.Priority,
			Enabled:  info.Enabled,
			Status:   "not_started",
		}
		if a, ok := r.exchanges.Adapter(info.ID); ok {
			view.Status = a.Status().String()
			view.Connected = a.IsConnected()
		}
		if h, ok := health[info.ID]; ok {
			view.LastHealth = &h
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": out})
}

func exchangeID(c *gin.Context, name string) string {
	return strings.ToLower(strings.TrimSpace(c.Param(name)))
}

func (r *Router) handleHealth(c *gin.Context) {
	id := exchangeID(c, "id")
	a, ok := r.exchanges.Adapter(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "exchange not running: " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"health": a.HealthCheck(c.Request.Context())})
}

func (r *Router) handleRestart(c *gin.Context) {
	id := exchangeID(c, "id")
	if err := r.exchanges.TriggerRestart(id); err != nil {
		logger.Warnf("[status-api] restart %s failed: %v", id, err)
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"exchange": id, "restart": "scheduled"})
}

type maintenanceRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	Reason  string `json:"reason"`
}

func (r *Router) handleMaintenance(c *gin.Context) {
	id := exchangeID(c, "id")
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.exchanges.SetMaintenance(id, *req.Enabled, req.Reason); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	status := ""
	if a, ok := r.exchanges.Adapter(id); ok {
		status = a.Status().String()
	}
	c.JSON(http.StatusOK, gin.H{"exchange": id, "maintenance": *req.Enabled, "status": status})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, manager.ErrUnknownExchange):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrNotRunning), errors.Is(err, exchange.ErrMaintenance):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (r *Router) handleOverlap(c *gin.Context) {
	list := r.cache.OverlapSymbols()
	c.JSON(http.StatusOK, gin.H{"symbols": list, "count": len(list)})
}

func (r *Router) handleSymbolStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": r.cache.CacheStats()})
}

func (r *Router) handleExchangeSymbols(c *gin.Context) {
	id := exchangeID(c, "exchange")
	list := r.cache.SymbolsForExchange(id)
	c.JSON(http.StatusOK, gin.H{"exchange": id, "symbols": list, "count": len(list)})
}

func (r *Router) handleSubscriptionStats(c *gin.Context) {
	stats := r.subs.Stats()
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, gin.H{"exchanges": ids, "stats": stats})
}

func (r *Router) handleSubscriptionRecords(c *gin.Context) {
	id := exchangeID(c, "exchange")
	m, ok := r.subs.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no subscription manager for " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange":   id,
		"mode":       m.Mode(),
		"data_types": m.EnabledDataTypes(),
		"records":    m.Records(),
		"stats":      m.SubscriptionStats(),
		"symbols":    m.ActiveSymbols(),
	})
}

func (r *Router) handleQuotes(c *gin.Context) {
	id := exchangeID(c, "exchange")
	tickers := r.quotes.Tickers(id)
	c.JSON(http.StatusOK, gin.H{"exchange": id, "tickers": tickers, "count": len(tickers)})
}
