package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"exhub/internal/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ QuoteReader = (*MemoryQuoteStore)(nil)

func TestTickerKeepsNewest(t *testing.T) {
	s := NewMemoryQuoteStore(0)
	now := time.Now()
	h := s.Handlers("Binance")
	h.Ticker(exchange.Ticker{Symbol: "ETHUSDT", Last: decimal.NewFromInt(2), Timestamp: now})
	h.Ticker(exchange.Ticker{Symbol: "BTCUSDT", Last: decimal.NewFromInt(1), Timestamp: now})
	h.Ticker(exchange.Ticker{Symbol: "ETHUSDT", Last: decimal.NewFromInt(3), Timestamp: now.Add(-time.Second)})

	got := s.Tickers("binance")
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, "binance", got[0].Exchange)
	assert.True(t, got[1].Last.Equal(decimal.NewFromInt(2)))

	tk, ok := s.Ticker("BINANCE", "ethusdt")
	require.True(t, ok)
	assert.True(t, tk.Last.Equal(decimal.NewFromInt(2)))

	h.Ticker(exchange.Ticker{Symbol: ""})
	assert.Len(t, s.Tickers("binance"), 2)
}

func TestTradesTrimmed(t *testing.T) {
	s := NewMemoryQuoteStore(3)
	h := s.Handlers("sim")
	for i := 0; i < 5; i++ {
		h.Trades(exchange.Trade{Symbol: "BTCUSDT", ID: fmt.Sprint(i)})
	}
	h.Trades(exchange.Trade{Symbol: "BTCUSDT", ID: "4", Side: "sell"})

	all := s.Trades("sim", "BTCUSDT", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "2", all[0].ID)
	assert.Equal(t, "sell", all[2].Side)

	last := s.Trades("sim", "BTCUSDT", 1)
	assert.Equal(t, "4", last[0].ID)
	assert.Empty(t, s.Trades("sim", "ETHUSDT", 10))
}

func TestStatsAndClear(t *testing.T) {
	s := NewMemoryQuoteStore(10)
	a := s.Handlers("a")
	a.Ticker(exchange.Ticker{Symbol: "BTCUSDT"})
	a.OrderBook(exchange.OrderBook{Symbol: "BTCUSDT"})
	a.Trades(exchange.Trade{Symbol: "BTCUSDT", ID: "1"})
	a.Trades(exchange.Trade{Symbol: "ETHUSDT", ID: "1"})
	a.UserData(exchange.UserEvent{Type: "ACCOUNT_UPDATE"})
	s.Handlers("b").Ticker(exchange.Ticker{Symbol: "BTCUSDT"})

	stats := s.Stats()
	assert.Equal(t, 1, stats["a"].Tickers)
	assert.Equal(t, 1, stats["a"].OrderBooks)
	assert.Equal(t, 2, stats["a"].Trades)
	assert.Equal(t, 1, stats["a"].UserEvents)
	assert.False(t, stats["a"].LastUpdate.IsZero())
	assert.Equal(t, 1, stats["b"].Tickers)

	_, ok := s.OrderBook("a", "BTCUSDT")
	assert.True(t, ok)
	assert.Len(t, s.UserEvents("a"), 1)

	s.Clear("a")
	_, ok = s.Stats()["a"]
	assert.False(t, ok)
	assert.Empty(t, s.Tickers("a"))
	assert.Len(t, s.Tickers("b"), 1)
}

func TestConcurrentWrites(t *testing.T) {
	s := NewMemoryQuoteStore(50)
	h := s.Handlers("sim")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Ticker(exchange.Ticker{Symbol: "BTCUSDT", Timestamp: time.Now()})
				h.Trades(exchange.Trade{Symbol: "BTCUSDT", ID: fmt.Sprintf("%d-%d", i, j)})
				_ = s.Tickers("sim")
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Trades("sim", "BTCUSDT", 0), 50)
}
