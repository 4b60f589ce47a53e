// Package market holds the latest pushed exchange snapshots for one symbol.
// It is a pure data holder: every setter replaces the previous snapshot
// wholesale, and no business logic lives here.
package market

import (
	"sync"

	"github.com/rustyeddy/futures/broker"
)

// Cache stores the most recent account, order, book, ticker and kline
// snapshots. Each engine owns one Cache; push handlers write, the decision
// tick reads.
type Cache struct {
	mu sync.RWMutex

	symbol string

	account    broker.AccountSnapshot
	hasAccount bool

	orders    []broker.Order
	hasOrders bool

	book    broker.BookTop
	hasBook bool

	ticker    broker.Ticker
	hasTicker bool

	klines []broker.Kline
}

func NewCache(symbol string) *Cache {
	return &Cache{symbol: symbol}
}

func (c *Cache) Symbol() string { return c.symbol }

func (c *Cache) SetAccount(a broker.AccountSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = a
	c.hasAccount = true
}

// Account returns the latest account snapshot; ok is false until the first
// push arrives.
func (c *Cache) Account() (broker.AccountSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account, c.hasAccount
}

func (c *Cache) SetOpenOrders(orders []broker.Order) {
	cp := make([]broker.Order, len(orders))
	copy(cp, orders)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = cp
	c.hasOrders = true
}

// OpenOrders returns a copy of the latest open-order snapshot. ok is false
// until the order stream has reported at least one complete snapshot, which
// is what gates the maker's startup sweep.
func (c *Cache) OpenOrders() ([]broker.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]broker.Order, len(c.orders))
	copy(cp, c.orders)
	return cp, c.hasOrders
}

func (c *Cache) SetBookTop(b broker.BookTop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.book = b
	c.hasBook = true
}

func (c *Cache) BookTop() (broker.BookTop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book, c.hasBook
}

func (c *Cache) SetTicker(t broker.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = t
	c.hasTicker = true
}

func (c *Cache) Ticker() (broker.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticker, c.hasTicker
}

// LastPrice returns the last traded price, or 0 before the first ticker.
func (c *Cache) LastPrice() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasTicker {
		return 0
	}
	return c.ticker.Last
}

func (c *Cache) SetKlines(ks []broker.Kline) {
	cp := make([]broker.Kline, len(ks))
	copy(cp, ks)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.klines = cp
}

// Klines returns a copy of the latest kline series.
func (c *Cache) Klines() []broker.Kline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]broker.Kline, len(c.klines))
	copy(cp, c.klines)
	return cp
}
