package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/journal"
	"github.com/rustyeddy/futures/market"
	"github.com/rustyeddy/futures/metrics"
	"github.com/rustyeddy/futures/pkg/id"
	"github.com/rustyeddy/futures/pkg/logger"
	"github.com/rustyeddy/futures/statestore"
	"github.com/rustyeddy/futures/tradelog"
)

// Options carries everything an engine shares with its siblings. Journal
// and Store are optional; nil disables them.
type Options struct {
	Symbol       string
	Transport    broker.Transport
	Streams      broker.Streams
	Journal      journal.Journal
	Store        *statestore.Store
	TickInterval time.Duration
	LockTTL      time.Duration
	LogCapacity  int
}

// core is the state machine chassis both engines run on: one mutex, one
// tick loop, one reentrancy guard. Strategy code never blocks a push
// handler, and push handlers never run a strategy decision.
type core struct {
	strategy string
	symbol   string

	transport broker.Transport
	cache     *market.Cache
	coord     *Coordinator
	log       *tradelog.Log
	emitter   *emitter
	journal   journal.Journal
	store     *statestore.Store

	interval time.Duration

	// snapshotFn is set by the concrete engine before Start.
	snapshotFn func() Snapshot

	mu         sync.Mutex
	processing bool
	running    bool
	stop       chan struct{}
	wg         sync.WaitGroup

	totalTrades   int
	realizedPL    float64
	sessionVolume float64

	notes map[string]bool

	restoredIDs    []int64
	restoreChecked bool
}

func newCore(strategy string, opts Options) *core {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	cap := opts.LogCapacity
	if cap <= 0 {
		cap = tradelog.DefaultCapacity
	}
	log := tradelog.New(cap)

	c := &core{
		strategy:  strategy,
		symbol:    opts.Symbol,
		transport: opts.Transport,
		cache:     market.NewCache(opts.Symbol),
		coord:     NewCoordinator(strategy, opts.Symbol, opts.Transport, log, opts.LockTTL),
		log:       log,
		emitter:   newEmitter(),
		journal:   opts.Journal,
		store:     opts.Store,
		interval:  opts.TickInterval,
		notes:     make(map[string]bool),
	}
	c.restore()
	return c
}

// restore pre-seeds counters from the optional state mirror. Exchange
// pushes supersede everything here; the mirror only survives the gap
// between process restarts.
func (c *core) restore() {
	if c.store == nil {
		return
	}
	st, ok, err := c.store.Load()
	if err != nil {
		logger.Error("%s: state restore: %v", c.strategy, err)
		return
	}
	if !ok {
		return
	}
	c.totalTrades = st.TotalTrades
	c.realizedPL = st.RealizedPL
	c.sessionVolume = st.SessionVolume
	c.restoredIDs = st.OpenOrderIDs
	c.log.Restore(st.Log)
	c.log.Appendf(tradelog.Info, "restored session: %d trades, pnl %.4f", st.TotalTrades, st.RealizedPL)
}

// attach wires push handlers into the cache. onAccount, when non-nil, runs
// after each account snapshot lands (used for session volume tracking).
func (c *core) attach(s broker.Streams, onAccount func(broker.AccountSnapshot)) {
	s.OnAccount(c.symbol, func(a broker.AccountSnapshot) {
		c.cache.SetAccount(a)
		if onAccount != nil {
			onAccount(a)
		}
		c.emitUpdate()
	})
	s.OnOpenOrders(c.symbol, func(orders []broker.Order) {
		c.cache.SetOpenOrders(orders)
		c.reconcileRestored(orders)
		c.emitUpdate()
	})
	s.OnOrderUpdate(c.symbol, func(o broker.Order) {
		c.coord.SynchronizeLocks(o)
	})
	s.OnBookTop(c.symbol, func(b broker.BookTop) {
		c.cache.SetBookTop(b)
		c.emitUpdate()
	})
	s.OnTicker(c.symbol, func(t broker.Ticker) {
		c.cache.SetTicker(t)
		c.emitUpdate()
	})
	s.OnKlines(c.symbol, func(ks []broker.Kline) {
		c.cache.SetKlines(ks)
		c.emitUpdate()
	})
}

// reconcileRestored runs once against the first authoritative open-orders
// snapshot. Mirrored ids the venue no longer reports filled or died while
// we were down; live orders carrying this engine's client-id prefix that
// the mirror never saw are ours too, surviving from a session whose mirror
// write never landed. Both cases are only worth a note.
func (c *core) reconcileRestored(orders []broker.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restoreChecked {
		return
	}
	c.restoreChecked = true

	live := make(map[int64]bool, len(orders))
	for _, o := range orders {
		live[o.OrderID] = true
	}
	mirrored := make(map[int64]bool, len(c.restoredIDs))
	for _, oid := range c.restoredIDs {
		mirrored[oid] = true
		if !live[oid] {
			c.log.Appendf(tradelog.Info, "order %d from last session is gone", oid)
		}
	}
	for _, o := range orders {
		if !mirrored[o.OrderID] && id.HasPrefix(o.ClientOrderID, c.strategy) {
			c.log.Appendf(tradelog.Info, "found working order %d from a previous session", o.OrderID)
		}
	}
	c.restoredIDs = nil
}

// start runs tick on the interval until Stop. tick is the concrete
// engine's decision pass.
func (c *core) start(tick func(context.Context)) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.mu.Unlock()

	logger.Info("%s engine started for %s (tick %s)", c.strategy, c.symbol, c.interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.runTick(tick)
			}
		}
	}()
}

// Stop halts the tick loop and flushes the state mirror.
func (c *core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	if c.store != nil {
		c.persistLocked()
		if err := c.store.Close(); err != nil {
			logger.Error("%s: state flush: %v", c.strategy, err)
		}
	}
	logger.Info("%s engine stopped", c.strategy)
}

// runTick guards a decision pass. If the previous pass is still blocked on
// the network the tick is skipped, not queued. A panic in strategy code
// poisons one tick, not the process.
func (c *core) runTick(tick func(context.Context)) {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return
	}
	c.processing = true
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("%s: tick panic: %v", c.strategy, r)
			c.log.Appendf(tradelog.Error, "tick recovered: %v", r)
		}
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
		c.emitUpdate()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.interval*3)
	defer cancel()
	tick(ctx)
	c.persist()
}

// noteOnce logs a condition the first time it appears; repeats stay quiet
// until clearNote resets it.
func (c *core) noteOnce(key, format string, args ...any) {
	c.mu.Lock()
	seen := c.notes[key]
	c.notes[key] = true
	c.mu.Unlock()
	if !seen {
		c.log.Appendf(tradelog.Info, format, args...)
	}
}

func (c *core) clearNote(key string) {
	c.mu.Lock()
	delete(c.notes, key)
	c.mu.Unlock()
}

// On subscribes an observer; Off cancels the subscription.
func (c *core) On(event string, fn Handler) int { return c.emitter.On(event, fn) }
func (c *core) Off(event string, id int)        { c.emitter.Off(event, id) }

func (c *core) emitUpdate() {
	if c.snapshotFn == nil {
		return
	}
	c.emitter.emit(UpdateEvent, c.snapshotFn())
}

// baseSnapshot fills the fields every engine shares; concrete engines add
// their own on top.
func (c *core) baseSnapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Strategy:      c.strategy,
		Symbol:        c.symbol,
		TotalTrades:   c.totalTrades,
		RealizedPL:    c.realizedPL,
		SessionVolume: c.sessionVolume,
		Time:          time.Now(),
	}
	c.mu.Unlock()

	s.LastPrice = c.cache.LastPrice()
	if acct, ok := c.cache.Account(); ok {
		s.Balance = acct.Balance
		s.AvailableBalance = acct.AvailableBalance
	}
	if orders, ok := c.cache.OpenOrders(); ok {
		s.OpenOrders = orders
	}
	s.Log = c.log.Entries()
	return s
}

// persist mirrors counters and the log through the debounced store.
func (c *core) persist() {
	if c.store == nil {
		return
	}
	c.persistLocked()
}

func (c *core) persistLocked() {
	c.mu.Lock()
	st := statestore.State{
		Strategy:      c.strategy,
		Symbol:        c.symbol,
		TotalTrades:   c.totalTrades,
		RealizedPL:    c.realizedPL,
		SessionVolume: c.sessionVolume,
		UpdatedAt:     time.Now(),
	}
	c.mu.Unlock()

	if orders, ok := c.cache.OpenOrders(); ok {
		ids := make([]int64, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.OrderID)
		}
		st.OpenOrderIDs = ids
	}
	st.Log = c.log.Entries()
	c.store.Put(st)
}

// recordTrade bumps the session counters and writes the journal row.
func (c *core) recordTrade(rec journal.TradeRecord) {
	c.mu.Lock()
	c.totalTrades++
	c.realizedPL += rec.RealizedPL
	total := c.realizedPL
	c.mu.Unlock()

	metrics.Trades.WithLabelValues(c.strategy).Inc()
	metrics.RealizedPnL.WithLabelValues(c.strategy).Set(total)

	if c.journal != nil {
		if err := c.journal.RecordTrade(rec); err != nil {
			logger.Error("%s: journal: %v", c.strategy, err)
		}
	}
}
