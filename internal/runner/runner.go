// Package runner 是 exhub 的组装入口：按配置构建各组件并管理它们的生命周期。
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"exhub/internal/config"
	"exhub/internal/exchange"
	"exhub/internal/exchange/binance"
	"exhub/internal/exchange/manager"
	"exhub/internal/exchange/sim"
	"exhub/internal/logger"
	"exhub/internal/metrics"
	"exhub/internal/store"
	"exhub/internal/subscription"
	"exhub/internal/symbol"
	"exhub/internal/symbolcache"
	httpapi "exhub/internal/transport/http"
	"exhub/internal/transport/http/status"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config *config.Config
	// Factory 为 nil 时使用内置的 binance 与 sim 适配器。
	Factory *exchange.Registry
	// Prometheus 为 nil 时新建独立 Registry。
	Prometheus *prometheus.Registry
	// StatusOut 接收周期性状态表，nil 时写 stdout。
	StatusOut io.Writer
}

type Runner struct {
	cfg       *config.Config
	prom      *prometheus.Registry
	metrics   *metrics.Metrics
	manager   *manager.Manager
	cache     *symbolcache.Service
	subs      *subscription.Registry
	quotes    *store.MemoryQuoteStore
	statusOut io.Writer
}

// DefaultFactory 返回登记了内置适配器的工厂。
func DefaultFactory() *exchange.Registry {
	reg := exchange.NewRegistry()
	binance.Register(reg)
	sim.Register(reg)
	return reg
}

func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("runner: config is required")
	}
	cfg := opts.Config
	factory := opts.Factory
	if factory == nil {
		factory = DefaultFactory()
	}
	prom := opts.Prometheus
	if prom == nil {
		prom = prometheus.NewRegistry()
	}
	out := opts.StatusOut
	if out == nil {
		out = os.Stdout
	}
	mt := metrics.New(prom)

	r := &Runner{
		cfg:       cfg,
		prom:      prom,
		metrics:   mt,
		manager:   manager.New(cfg.ManagerConfig(), factory, manager.WithMetrics(mt)),
		subs:      subscription.NewRegistry(),
		quotes:    store.NewMemoryQuoteStore(0),
		statusOut: out,
	}
	r.cache = symbolcache.NewService(r.manager, symbol.NewConverter(cfg.QuoteAliases()), symbolcache.WithMetrics(mt))

	for i := range cfg.Exchanges {
		acfg := cfg.AdapterConfig(i)
		if err := r.manager.RegisterExchange(acfg.ID, acfg, acfg.Priority); err != nil {
			return nil, err
		}
		if acfg.Disabled {
			continue
		}
		scfg, err := cfg.SubscriptionConfig(i)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", acfg.ID, err)
		}
		sm, err := subscription.NewManager(acfg.ID, scfg, subscription.WithCache(r.cache), subscription.WithMetrics(mt))
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", acfg.ID, err)
		}
		r.subs.Add(sm)
	}
	return r, nil
}

func (r *Runner) Manager() *manager.Manager { return r.manager }

func (r *Runner) Cache() *symbolcache.Service { return r.cache }

func (r *Runner) Subscriptions() *subscription.Registry { return r.subs }

func (r *Runner) Quotes() *store.MemoryQuoteStore { return r.quotes }

// Run 启动全部组件并阻塞到 ctx 结束，然后按相反顺序关闭。
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	if addr := r.cfg.HTTPAddr(); addr != "" {
		srv, err := httpapi.NewServer(httpapi.Config{Addr: addr, Gatherer: r.prom},
			status.NewRouter(r.manager, r.cache, r.subs, r.quotes))
		if err != nil {
			r.shutdown()
			return err
		}
		g.Go(func() error { return srv.Start(gctx) })
	}
	if every := r.cfg.StatusEvery(); every > 0 {
		g.Go(func() error {
			r.statusLoop(gctx, every)
			return nil
		})
	}
	g.Go(func() error {
		r.reconcileLoop(gctx)
		return nil
	})
	err := g.Wait()
	r.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start 连接交易所、初始化品种缓存并下发首轮订阅。
func (r *Runner) Start(ctx context.Context) error {
	if err := r.manager.Start(ctx); err != nil {
		return fmt.Errorf("启动交易所管理器失败: %w", err)
	}
	ids := r.cfg.EnabledExchangeIDs()
	if len(ids) > 0 {
		if err := r.cache.InitializeCache(ctx, ids, r.cfg.OverlapConfig()); err != nil {
			if errors.Is(err, symbolcache.ErrInvalidConfig) {
				r.shutdown()
				return err
			}
			logger.Warnf("[runner] 品种缓存初始化失败: %v", err)
		}
	}
	for _, id := range r.subs.IDs() {
		r.applyOne(ctx, id)
	}
	n := r.subs.StartAutoDiscovery(ctx, r.discovery)
	logger.Infof("[runner] 启动完成: 交易所 %d 个, 自动发现 %d 个", len(ids), n)
	return nil
}

func (r *Runner) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ManagerConfig().ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := r.manager.Stop(ctx); err != nil {
		logger.Warnf("[runner] 关闭交易所管理器: %v", err)
	}
	r.subs.ClearAll()
	r.cache.ClearCache()
	logger.Infof("[runner] 已关闭")
}

// discovery 返回直接查询适配器的发现函数。
func (r *Runner) discovery(id string) subscription.DiscoveryFunc {
	return func(ctx context.Context) ([]string, error) {
		a, ok := r.manager.Adapter(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", manager.ErrUnknownExchange, id)
		}
		return a.SupportedSymbols(ctx)
	}
}
