// Package store 保存各交易所最新的行情快照，供状态接口查询。
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"exhub/internal/exchange"
)

const defaultMaxTrades = 100

// QuoteReader 是只读视图，HTTP 层依赖它。
type QuoteReader interface {
	Tickers(exchangeID string) []exchange.Ticker
	OrderBook(exchangeID, symbol string) (exchange.OrderBook, bool)
	Trades(exchangeID, symbol string, limit int) []exchange.Trade
	Stats() map[string]Counts
}

// Counts 汇总单个交易所的存储情况。
type Counts struct {
	Tickers    int       `json:"tickers"`
	OrderBooks int       `json:"order_books"`
	Trades     int       `json:"trades"`
	UserEvents int       `json:"user_events"`
	LastUpdate time.Time `json:"last_update"`
}

type quoteKey struct {
	exchange string
	symbol   string
}

func key(exchangeID, symbol string) quoteKey {
	return quoteKey{exchange: strings.ToLower(exchangeID), symbol: strings.ToUpper(symbol)}
}

// MemoryQuoteStore 内存实现：ticker/盘口只保留最新一条，成交与账户事件保留最近 maxTrades 条。
type MemoryQuoteStore struct {
	mu        sync.RWMutex
	maxTrades int
	tickers   map[quoteKey]exchange.Ticker
	books     map[quoteKey]exchange.OrderBook
	trades    map[quoteKey][]exchange.Trade
	events    map[string][]exchange.UserEvent
	updated   map[string]time.Time
}

func NewMemoryQuoteStore(maxTrades int) *MemoryQuoteStore {
	if maxTrades <= 0 {
		maxTrades = defaultMaxTrades
	}
	return &MemoryQuoteStore{
		maxTrades: maxTrades,
		tickers:   make(map[quoteKey]exchange.Ticker),
		books:     make(map[quoteKey]exchange.OrderBook),
		trades:    make(map[quoteKey][]exchange.Trade),
		events:    make(map[string][]exchange.UserEvent),
		updated:   make(map[string]time.Time),
	}
}

// Handlers 返回写入本存储的回调集合，交给订阅管理器使用。
func (s *MemoryQuoteStore) Handlers(exchangeID string) exchange.Handlers {
	exchangeID = strings.ToLower(exchangeID)
	return exchange.Handlers{
		Ticker: func(t exchange.Ticker) {
			t.Exchange = exchangeID
			s.PutTicker(t)
		},
		OrderBook: func(ob exchange.OrderBook) {
			ob.Exchange = exchangeID
			s.PutOrderBook(ob)
		},
		Trades: func(tr exchange.Trade) {
			tr.Exchange = exchangeID
			s.PutTrade(tr)
		},
		UserData: func(ev exchange.UserEvent) {
			ev.Exchange = exchangeID
			s.PutUserEvent(ev)
		},
	}
}

func (s *MemoryQuoteStore) touch(exchangeID string) {
	s.updated[strings.ToLower(exchangeID)] = time.Now()
}

func (s *MemoryQuoteStore) PutTicker(t exchange.Ticker) {
	if t.Symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(t.Exchange, t.Symbol)
	// 乱序到达的旧数据不覆盖新数据。
	if cur, ok := s.tickers[k]; ok && t.Timestamp.Before(cur.Timestamp) {
		return
	}
	s.tickers[k] = t
	s.touch(t.Exchange)
}

func (s *MemoryQuoteStore) PutOrderBook(ob exchange.OrderBook) {
	if ob.Symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(ob.Exchange, ob.Symbol)
	if cur, ok := s.books[k]; ok && ob.Timestamp.Before(cur.Timestamp) {
		return
	}
	s.books[k] = ob
	s.touch(ob.Exchange)
}

// PutTrade 追加并裁剪；同一 ID 的重复推送覆盖末尾。
func (s *MemoryQuoteStore) PutTrade(tr exchange.Trade) {
	if tr.Symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tr.Exchange, tr.Symbol)
	cur := s.trades[k]
	if n := len(cur); n > 0 && tr.ID != "" && cur[n-1].ID == tr.ID {
		cur[n-1] = tr
	} else {
		cur = append(cur, tr)
	}
	if len(cur) > s.maxTrades {
		cur = append([]exchange.Trade(nil), cur[len(cur)-s.maxTrades:]...)
	}
	s.trades[k] = cur
	s.touch(tr.Exchange)
}

func (s *MemoryQuoteStore) PutUserEvent(ev exchange.UserEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.ToLower(ev.Exchange)
	cur := append(s.events[id], ev)
	if len(cur) > s.maxTrades {
		cur = append([]exchange.UserEvent(nil), cur[len(cur)-s.maxTrades:]...)
	}
	s.events[id] = cur
	s.touch(ev.Exchange)
}

func (s *MemoryQuoteStore) Ticker(exchangeID, symbol string) (exchange.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[key(exchangeID, symbol)]
	return t, ok
}

// Tickers 返回交易所全部最新 ticker，按品种排序。
func (s *MemoryQuoteStore) Tickers(exchangeID string) []exchange.Ticker {
	id := strings.ToLower(exchangeID)
	s.mu.RLock()
	out := make([]exchange.Ticker, 0)
	for k, t := range s.tickers {
		if k.exchange == id {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *MemoryQuoteStore) OrderBook(exchangeID, symbol string) (exchange.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ob, ok := s.books[key(exchangeID, symbol)]
	return ob, ok
}

// Trades 返回最近 limit 条成交（按时间升序），limit<=0 返回全部。
func (s *MemoryQuoteStore) Trades(exchangeID, symbol string, limit int) []exchange.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.trades[key(exchangeID, symbol)]
	if limit <= 0 || limit > len(cur) {
		limit = len(cur)
	}
	out := make([]exchange.Trade, limit)
	copy(out, cur[len(cur)-limit:])
	return out
}

func (s *MemoryQuoteStore) UserEvents(exchangeID string) []exchange.UserEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]exchange.UserEvent(nil), s.events[strings.ToLower(exchangeID)]...)
}

func (s *MemoryQuoteStore) Stats() map[string]Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Counts, len(s.updated))
	for id, at := range s.updated {
		out[id] = Counts{LastUpdate: at, UserEvents: len(s.events[id])}
	}
	for k := range s.tickers {
		c := out[k.exchange]
		c.Tickers++
		out[k.exchange] = c
	}
	for k := range s.books {
		c := out[k.exchange]
		c.OrderBooks++
		out[k.exchange] = c
	}
	for k, list := range s.trades {
		c := out[k.exchange]
		c.Trades += len(list)
		out[k.exchange] = c
	}
	return out
}

// Clear 删除某交易所的全部数据。
func (s *MemoryQuoteStore) Clear(exchangeID string) {
	id := strings.ToLower(exchangeID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.tickers {
		if k.exchange == id {
			delete(s.tickers, k)
		}
	}
	for k := range s.books {
		if k.exchange == id {
			delete(s.books, k)
		}
	}
	for k := range s.trades {
		if k.exchange == id {
			delete(s.trades, k)
		}
	}
	delete(s.events, id)
	delete(s.updated, id)
}
