package symbolcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/exchange/sim"
	"exhub/internal/symbol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 把一组模拟交易所当作已连接的适配器。
type fakeSource struct {
	adapters map[string]exchange.Adapter
	extra    []string
}

func (f *fakeSource) ConnectedAdapters() map[string]exchange.Adapter {
	out := make(map[string]exchange.Adapter)
	for id, a := range f.adapters {
		if a.IsConnected() {
			out[id] = a
		}
	}
	return out
}

func (f *fakeSource) RegisteredExchanges() []string {
	out := append([]string(nil), f.extra...)
	for id := range f.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func newSource(t *testing.T, lists map[string][]string) (*fakeSource, map[string]*sim.Adapter) {
	t.Helper()
	src := &fakeSource{adapters: make(map[string]exchange.Adapter)}
	sims := make(map[string]*sim.Adapter)
	for id, syms := range lists {
		a := sim.New(exchange.Config{ID: id}, sim.Options{Symbols: syms})
		require.NoError(t, a.Connect(context.Background()))
		src.adapters[id] = a
		sims[id] = a
	}
	return src, sims
}

func ids(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var scenario = map[string][]string{
	"exchange1": {"BTC_USDT_PERP", "ETH_USDT_PERP"},
	"exchange2": {"BTC-USDT-PERP", "SOL-USDT-PERP"},
	"exchange3": {"BTCUSDT", "ETHUSDT"},
}

func TestThreeExchangeScenario(t *testing.T) {
	ctx := context.Background()
	src, _ := newSource(t, scenario)

	svc := NewService(src, symbol.NewConverter(nil))
	require.NoError(t, svc.InitializeCache(ctx, ids(scenario), OverlapConfig{MinExchangeCount: 2, UseOverlapOnly: true}))
	assert.Equal(t, []string{"BTC-USDT-PERP", "ETH-USDT-PERP"}, svc.OverlapSymbols())
	assert.Equal(t, []string{"BTC_USDT_PERP", "ETH_USDT_PERP"}, svc.SymbolsForExchange("exchange1"))
	assert.Equal(t, []string{"BTC-USDT-PERP"}, svc.SymbolsForExchange("exchange2"))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, svc.SymbolsForExchange("exchange3"))
	assert.Equal(t, []string{"exchange1", "exchange2", "exchange3"}, svc.Coverage("BTC-USDT-PERP"))

	std, ok := svc.StandardFor("exchange3", "ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, "ETH-USDT-PERP", std)
	native, ok := svc.NativeFor("exchange2", "BTC-USDT-PERP")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-PERP", native)

	strict := NewService(src, nil)
	require.NoError(t, strict.InitializeCache(ctx, ids(scenario), OverlapConfig{MinExchangeCount: 3, UseOverlapOnly: true}))
	assert.Equal(t, []string{"BTC-USDT-PERP"}, strict.OverlapSymbols())
	assert.Equal(t, []string{"BTC_USDT_PERP"}, strict.SymbolsForExchange("exchange1"))
}

func TestFallbackWhenEveryExchangeIsEmpty(t *testing.T) {
	lists := map[string][]string{"a": {}, "b": nil}
	src, sims := newSource(t, lists)
	sims["b"].SetSymbolsError(errors.New("503"))

	svc := NewService(src, nil)
	require.NoError(t, svc.InitializeCache(context.Background(), []string{"a", "b"}, OverlapConfig{}))
	assert.Equal(t, symbol.Fallback(), svc.OverlapSymbols())
	assert.Equal(t, symbol.Fallback(), svc.SymbolsForExchange("a"))
	assert.Equal(t, symbol.Fallback(), svc.SymbolsForExchange("b"))
	stats := svc.CacheStats()
	assert.True(t, stats.Fallback)
	assert.Equal(t, StatusInitialized, stats.Status)
}

func TestInitializeIsIdempotentAndDeterministic(t *testing.T) {
	ctx := context.Background()
	src, _ := newSource(t, scenario)
	svc := NewService(src, nil)
	cfg := OverlapConfig{MinExchangeCount: 2, UseOverlapOnly: true}

	require.NoError(t, svc.InitializeCache(ctx, ids(scenario), cfg))
	first := svc.Snapshot()
	require.NoError(t, svc.InitializeCache(ctx, ids(scenario), OverlapConfig{MinExchangeCount: 3}))
	assert.Same(t, first, svc.Snapshot())

	svc.ClearCache()
	assert.False(t, svc.IsCacheValid())
	assert.Empty(t, svc.SymbolsForExchange("exchange1"))
	assert.Equal(t, StatusNotInitialized, svc.CacheStats().Status)

	require.NoError(t, svc.InitializeCache(ctx, ids(scenario), cfg))
	second := svc.Snapshot()
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Overlap, second.Overlap)
	assert.Equal(t, first.Candidates, second.Candidates)
	assert.Equal(t, first.NativeToStandard, second.NativeToStandard)
	assert.Equal(t, first.Coverage, second.Coverage)
}

func TestOverlapMonotonicity(t *testing.T) {
	ctx := context.Background()
	base := map[string][]string{
		"a": {"BTCUSDT", "ETHUSDT"},
		"b": {"BTC_USDT_PERP", "ETH_USDT_PERP"},
		"c": {"BTC-USDT-PERP"},
	}
	cfg := OverlapConfig{MinExchangeCount: 2}

	src, _ := newSource(t, base)
	svc := NewService(src, nil)
	require.NoError(t, svc.InitializeCache(ctx, []string{"a", "b", "c"}, cfg))
	assert.Contains(t, svc.OverlapSymbols(), "ETH-USDT-PERP")

	// 增加一个支持 ETH 的交易所，ETH 仍在重叠集中。
	grown := map[string][]string{"d": {"ETH/USDT:PERP"}}
	for k, v := range base {
		grown[k] = v
	}
	src2, _ := newSource(t, grown)
	svc2 := NewService(src2, nil)
	require.NoError(t, svc2.InitializeCache(ctx, []string{"a", "b", "c", "d"}, cfg))
	assert.Contains(t, svc2.OverlapSymbols(), "ETH-USDT-PERP")

	// 移除恰好 k 个贡献者之一，ETH 离开重叠集。
	svc3 := NewService(src, nil)
	require.NoError(t, svc3.InitializeCache(ctx, []string{"a", "c"}, cfg))
	assert.NotContains(t, svc3.OverlapSymbols(), "ETH-USDT-PERP")
	assert.Contains(t, svc3.OverlapSymbols(), "BTC-USDT-PERP")
}

func TestPartialFailuresDoNotAbort(t *testing.T) {
	lists := map[string][]string{
		"ok1":  {"BTCUSDT", "ETHUSDT"},
		"ok2":  {"BTC_USDT_PERP"},
		"slow": {"BTCUSDT"},
		"err":  {"BTCUSDT"},
		"down": {"BTCUSDT"},
	}
	src, sims := newSource(t, lists)
	sims["slow"].SetSymbolsDelay(time.Second)
	sims["err"].SetSymbolsError(errors.New("rate limited"))
	require.NoError(t, sims["down"].Disconnect(context.Background()))

	svc := NewService(src, nil)
	start := time.Now()
	require.NoError(t, svc.InitializeCache(context.Background(), ids(lists), OverlapConfig{FetchTimeout: 50 * time.Millisecond}))
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	assert.Equal(t, []string{"BTC-USDT-PERP"}, svc.OverlapSymbols())
	all := svc.AllExchangeSymbols()
	assert.Empty(t, all["slow"])
	assert.Empty(t, all["err"])
	assert.Empty(t, all["down"])
	assert.False(t, svc.CacheStats().Fallback)
}

func TestFiltersAndCapApplyAfterOverlap(t *testing.T) {
	lists := map[string][]string{
		"a": {"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT", "XRPUSDT"},
		"b": {"BTC_USDT_PERP", "ETH_USDT_PERP", "SOL_USDT_PERP", "DOGE_USDT_PERP"},
	}
	src, _ := newSource(t, lists)
	svc := NewService(src, nil)
	cfg := OverlapConfig{
		UseOverlapOnly:        true,
		ExcludePatterns:       []string{"DOGE*"},
		MaxSymbolsPerExchange: 2,
	}
	require.NoError(t, svc.InitializeCache(context.Background(), []string{"a", "b"}, cfg))
	// 重叠 = BTC/DOGE/ETH/SOL，排除 DOGE 后按名称取前两个。
	assert.Equal(t, []string{"BTC-USDT-PERP", "ETH-USDT-PERP"}, svc.OverlapSymbols())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, svc.SymbolsForExchange("a"))

	full := NewService(src, nil)
	cfg.UseOverlapOnly = false
	cfg.MaxSymbolsPerExchange = 0
	require.NoError(t, full.InitializeCache(context.Background(), []string{"a", "b"}, cfg))
	// 非 overlap 模式下候选是完整原生列表，排除规则只作用于重叠集。
	assert.Equal(t, []string{"BTCUSDT", "DOGEUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}, full.SymbolsForExchange("a"))
}

func TestFullListCandidatesIgnorePatterns(t *testing.T) {
	lists := map[string][]string{
		"binance": {"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		"edgex":   {"BTC_USDT_PERP", "ETH_USDT_PERP"},
	}
	src, _ := newSource(t, lists)
	svc := NewService(src, nil)
	cfg := OverlapConfig{IncludePatterns: []string{"BTC-*"}, MaxSymbolsPerExchange: 10}
	require.NoError(t, svc.InitializeCache(context.Background(), []string{"binance", "edgex"}, cfg))

	assert.Equal(t, []string{"BTC-USDT-PERP"}, svc.OverlapSymbols())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, svc.SymbolsForExchange("binance"))
	assert.Equal(t, []string{"BTC_USDT_PERP", "ETH_USDT_PERP"}, svc.SymbolsForExchange("edgex"))

	capped := NewService(src, nil)
	cfg.MaxSymbolsPerExchange = 2
	require.NoError(t, capped.InitializeCache(context.Background(), []string{"binance", "edgex"}, cfg))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, capped.SymbolsForExchange("binance"))
}

func TestUnconvertibleSymbolsKeepNativeForm(t *testing.T) {
	lists := map[string][]string{
		"a": {"WEIRD", "BTCUSDT"},
		"b": {"WEIRD"},
	}
	src, _ := newSource(t, lists)
	svc := NewService(src, nil)
	require.NoError(t, svc.InitializeCache(context.Background(), []string{"a", "b"}, OverlapConfig{}))
	// 两个交易所各自无法识别的同名字符串会被当作同一品种。
	assert.Equal(t, []string{"WEIRD"}, svc.OverlapSymbols())
	assert.Equal(t, 2, svc.CacheStats().Unconverted)
	std, _ := svc.StandardFor("a", "WEIRD")
	assert.Equal(t, "WEIRD", std)
}

func TestConfigErrors(t *testing.T) {
	src, _ := newSource(t, map[string][]string{"a": {"BTCUSDT"}})
	svc := NewService(src, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.InitializeCache(ctx, nil, OverlapConfig{}), ErrInvalidConfig)
	assert.ErrorIs(t, svc.InitializeCache(ctx, []string{"a"}, OverlapConfig{MinExchangeCount: -1}), ErrInvalidConfig)
	assert.ErrorIs(t, svc.InitializeCache(ctx, []string{"a"}, OverlapConfig{IncludePatterns: []string{"BTC?"}}), ErrInvalidConfig)
	assert.ErrorIs(t, svc.InitializeCache(ctx, []string{"a", "kraken"}, OverlapConfig{}), ErrUnknownExchange)
	assert.False(t, svc.IsCacheValid())
}

func TestRegisteredButDisconnectedContributesEmpty(t *testing.T) {
	src, _ := newSource(t, map[string][]string{"a": {"BTCUSDT"}, "b": {"BTCUSDT"}})
	src.extra = []string{"later"}
	svc := NewService(src, nil)
	require.NoError(t, svc.InitializeCache(context.Background(), []string{"a", "b", "later"}, OverlapConfig{}))
	assert.Equal(t, []string{"BTC-USDT-PERP"}, svc.OverlapSymbols())
	assert.Empty(t, svc.SymbolsForExchange("later"))
}

type countingAdapter struct {
	*sim.Adapter
	calls atomic.Int32
}

func (c *countingAdapter) SupportedSymbols(ctx context.Context) ([]string, error) {
	c.calls.Add(1)
	return c.Adapter.SupportedSymbols(ctx)
}

func TestConcurrentInitializeBuildsOnce(t *testing.T) {
	inner := sim.New(exchange.Config{ID: "a"}, sim.Options{Symbols: []string{"BTCUSDT"}, SymbolsDelay: 20 * time.Millisecond})
	require.NoError(t, inner.Connect(context.Background()))
	counting := &countingAdapter{Adapter: inner}
	src := &fakeSource{adapters: map[string]exchange.Adapter{"a": counting}}
	svc := NewService(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.InitializeCache(context.Background(), []string{"a"}, OverlapConfig{MinExchangeCount: 1}))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, counting.calls.Load())
	assert.Equal(t, []string{"BTC-USDT-PERP"}, svc.OverlapSymbols())
}

func TestExchangePriorityOrdersStats(t *testing.T) {
	src, _ := newSource(t, scenario)
	svc := NewService(src, nil)
	cfg := OverlapConfig{ExchangePriority: []string{"exchange3", "exchange1"}}
	require.NoError(t, svc.InitializeCache(context.Background(), ids(scenario), cfg))
	stats := svc.CacheStats()
	assert.Equal(t, []string{"exchange3", "exchange1", "exchange2"}, stats.Exchanges)
	assert.Equal(t, 6, stats.TotalSymbols)
	assert.Equal(t, 2, stats.OverlapCount)
}
