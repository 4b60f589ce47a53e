package engine

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/config"
	"github.com/rustyeddy/futures/journal"
	"github.com/rustyeddy/futures/metrics"
	"github.com/rustyeddy/futures/pkg/id"
	"github.com/rustyeddy/futures/risk"
	"github.com/rustyeddy/futures/tradelog"
)

// Maker engine states.
const (
	StateQuoting     = "QUOTING"
	StateClosingOnly = "CLOSING_ONLY"
)

// desiredOrder is one side of the quote the maker wants resting right now.
type desiredOrder struct {
	side       broker.Side
	price      float64
	qty        float64
	reduceOnly bool
}

// Maker runs a two-sided passive quote around the book top while flat and
// collapses to a single reduce-only exit quote while holding. Resting
// orders chase the touch only when they drift past the chase tolerance, so
// small moves cost nothing.
type Maker struct {
	*core
	cfg config.MakerConfig

	// guarded by core.mu
	sweepDone     bool
	pendingCancel map[int64]struct{}
	lastPosAmt    float64
	havePosAmt    bool
	closing       bool
	closePL       float64
	openSide      broker.Side
	openEntry     float64
	openQty       float64
	openTime      time.Time
}

func NewMaker(cfg config.MakerConfig, opts Options) *Maker {
	m := &Maker{
		core:          newCore("maker", opts),
		cfg:           cfg,
		pendingCancel: make(map[int64]struct{}),
	}
	m.snapshotFn = m.Snapshot
	if opts.Streams != nil {
		m.attach(opts.Streams, m.trackVolume)
	}
	return m
}

func (m *Maker) Start() { m.start(m.tick) }

// State reports QUOTING while flat and CLOSING_ONLY while holding.
func (m *Maker) State() string {
	acct, ok := m.cache.Account()
	if !ok {
		return StateQuoting
	}
	pos, _ := risk.GetPosition(acct, m.symbol)
	if pos.Flat() {
		return StateQuoting
	}
	return StateClosingOnly
}

func (m *Maker) Snapshot() Snapshot {
	s := m.baseSnapshot()
	s.State = StateQuoting
	if acct, ok := m.cache.Account(); ok {
		if pos, found := risk.GetPosition(acct, m.symbol); found {
			s.PositionAmt = pos.Amt
			s.EntryPrice = pos.EntryPrice
			s.ReportedPL = pos.UnrealizedProfit
			if s.LastPrice > 0 {
				s.DerivedPL = pos.DerivedPL(s.LastPrice)
			}
			if !pos.Flat() {
				s.State = StateClosingOnly
			}
		}
	}
	return s
}

// trackVolume runs on every account push and attributes position churn to
// session volume at the book midpoint (last price when the book is empty).
func (m *Maker) trackVolume(acct broker.AccountSnapshot) {
	pos, _ := risk.GetPosition(acct, m.symbol)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.havePosAmt {
		m.havePosAmt = true
		m.lastPosAmt = pos.Amt
		return
	}
	delta := math.Abs(pos.Amt - m.lastPosAmt)
	m.lastPosAmt = pos.Amt
	if delta == 0 {
		return
	}
	ref := 0.0
	if book, ok := m.cache.BookTop(); ok {
		ref = book.Mid()
	}
	if ref <= 0 {
		ref = m.cache.LastPrice()
	}
	if ref <= 0 {
		return
	}
	m.sessionVolume += delta * ref
	metrics.SessionVolume.WithLabelValues(m.strategy).Set(m.sessionVolume)
}

func (m *Maker) tick(ctx context.Context) {
	orders, haveOrders := m.cache.OpenOrders()
	if !haveOrders {
		m.noteOnce("orders", "waiting for first open-orders snapshot")
		return
	}
	m.clearNote("orders")

	// the very first pass clears whatever survived the last run; quoting
	// starts from a clean book
	m.mu.Lock()
	swept := m.sweepDone
	m.mu.Unlock()
	if !swept {
		if len(orders) > 0 {
			if err := m.coord.CancelAll(ctx); err != nil {
				return
			}
			m.log.Appendf(tradelog.Info, "startup sweep: cleared %d working orders", len(orders))
		}
		m.mu.Lock()
		m.sweepDone = true
		m.mu.Unlock()
		return
	}

	m.pruneCanceled(orders)

	acct, ok := m.cache.Account()
	if !ok {
		m.noteOnce("account", "waiting for first account snapshot")
		return
	}
	m.clearNote("account")

	last := m.cache.LastPrice()
	pos, _ := risk.GetPosition(acct, m.symbol)
	m.trackRoundTrip(pos, last)

	if !pos.Flat() {
		if pos.EntryPrice <= 0 {
			m.noteOnce("entry", "position has no entry price yet, risk check deferred")
		} else if last > 0 {
			m.clearNote("entry")
			derived := pos.DerivedPL(last)
			reported := pos.UnrealizedProfit
			metrics.UnrealizedPnL.WithLabelValues(m.strategy, "derived").Set(derived)
			metrics.UnrealizedPnL.WithLabelValues(m.strategy, "reported").Set(reported)
			if risk.ShouldLiquidate(derived, reported, m.cfg.LossLimit) {
				m.forceClose(ctx, pos, derived, reported)
				return
			}
		}
	}

	book, haveBook := m.cache.BookTop()
	if !haveBook || book.BidPrice <= 0 || book.AskPrice <= 0 {
		m.noteOnce("book", "waiting for book top")
		return
	}
	m.clearNote("book")

	m.reconcile(ctx, orders, m.desired(pos, book))
}

// pruneCanceled drops pending-cancel markers for orders the authoritative
// snapshot no longer contains.
func (m *Maker) pruneCanceled(orders []broker.Order) {
	live := make(map[int64]bool, len(orders))
	for _, o := range orders {
		live[o.OrderID] = true
	}
	m.mu.Lock()
	for id := range m.pendingCancel {
		if !live[id] {
			delete(m.pendingCancel, id)
		}
	}
	m.mu.Unlock()
}

// trackRoundTrip books a completed flat-to-flat cycle into the session
// counters and the journal.
func (m *Maker) trackRoundTrip(pos risk.Position, last float64) {
	m.mu.Lock()
	holding := m.openQty > 0
	m.mu.Unlock()

	if !holding && !pos.Flat() {
		m.mu.Lock()
		m.openSide = pos.Side()
		m.openQty = math.Abs(pos.Amt)
		m.openEntry = pos.EntryPrice
		m.openTime = time.Now()
		m.mu.Unlock()
		m.log.Appendf(tradelog.Open, "filled into %s %.8g @ %.8g", pos.Side(), math.Abs(pos.Amt), pos.EntryPrice)
		return
	}

	if holding && pos.Flat() {
		m.mu.Lock()
		pl := m.closePL
		reason := "MakerFill"
		if m.closing {
			reason = "ForcedClose"
		} else if m.openEntry > 0 && last > 0 {
			if m.openSide == broker.Sell {
				pl = m.openQty * (m.openEntry - last)
			} else {
				pl = m.openQty * (last - m.openEntry)
			}
		}
		rec := journal.TradeRecord{
			TradeID:    id.New(),
			Strategy:   m.strategy,
			Symbol:     m.symbol,
			Side:       string(m.openSide),
			Quantity:   m.openQty,
			EntryPrice: m.openEntry,
			ExitPrice:  last,
			OpenTime:   m.openTime,
			CloseTime:  time.Now(),
			RealizedPL: pl,
			Reason:     reason,
		}
		m.openSide, m.openEntry, m.openQty = "", 0, 0
		m.openTime = time.Time{}
		m.closing, m.closePL = false, 0
		m.mu.Unlock()

		m.recordTrade(rec)
		m.log.Appendf(tradelog.Close, "round trip closed, pnl %.4f (%s)", pl, reason)
		metrics.UnrealizedPnL.WithLabelValues(m.strategy, "derived").Set(0)
		metrics.UnrealizedPnL.WithLabelValues(m.strategy, "reported").Set(0)
	}
}

// desired is the quote set for the current exposure: two passive orders
// while flat, one reduce-only exit at the touch while holding.
func (m *Maker) desired(pos risk.Position, book broker.BookTop) []desiredOrder {
	if pos.Flat() {
		return []desiredOrder{
			{side: broker.Buy, price: book.BidPrice - m.cfg.QuoteOffset, qty: m.cfg.Quantity},
			{side: broker.Sell, price: book.AskPrice + m.cfg.QuoteOffset, qty: m.cfg.Quantity},
		}
	}
	qty := math.Abs(pos.Amt)
	if pos.Amt > 0 {
		return []desiredOrder{{side: broker.Sell, price: book.AskPrice, qty: qty, reduceOnly: true}}
	}
	return []desiredOrder{{side: broker.Buy, price: book.BidPrice, qty: qty, reduceOnly: true}}
}

// reconcile greedily matches resting orders against the desired set: a
// resident within the chase tolerance on the right side is kept, everything
// else is canceled, and unmatched desired orders are placed.
func (m *Maker) reconcile(ctx context.Context, orders []broker.Order, desired []desiredOrder) {
	matched := make([]bool, len(desired))
	var stale []int64

	for _, o := range orders {
		if o.Type != broker.Limit {
			continue
		}
		m.mu.Lock()
		_, dying := m.pendingCancel[o.OrderID]
		m.mu.Unlock()
		if dying {
			continue
		}

		kept := false
		for i, d := range desired {
			if matched[i] {
				continue
			}
			if o.Side == d.side && o.ReduceOnly == d.reduceOnly &&
				math.Abs(o.Price-d.price) <= m.cfg.ChaseTolerance {
				matched[i] = true
				kept = true
				break
			}
		}
		if !kept {
			stale = append(stale, o.OrderID)
		}
	}

	for _, oid := range stale {
		m.mu.Lock()
		m.pendingCancel[oid] = struct{}{}
		m.mu.Unlock()
		if err := m.coord.CancelOrder(ctx, oid); err != nil {
			// real failure: drop the marker so the next tick retries
			m.mu.Lock()
			delete(m.pendingCancel, oid)
			m.mu.Unlock()
		}
	}

	for i, d := range desired {
		if matched[i] {
			continue
		}
		m.coord.PlaceLimit(ctx, d.side, d.price, d.qty, d.reduceOnly)
	}
}

// forceClose sweeps the quotes and markets out of the position once the
// loss limit trips.
func (m *Maker) forceClose(ctx context.Context, pos risk.Position, derived, reported float64) {
	metrics.ForcedLiquidations.WithLabelValues(m.strategy).Inc()
	m.log.Appendf(tradelog.Stop, "loss limit hit: derived %.4f reported %.4f limit %.4f",
		derived, reported, m.cfg.LossLimit)

	if err := m.coord.CancelAll(ctx); err != nil {
		return
	}
	if err := m.coord.PlaceMarket(ctx, pos.Side().Opposite(), math.Abs(pos.Amt), true); err != nil {
		return
	}

	m.mu.Lock()
	m.closing = true
	m.closePL = derived
	m.mu.Unlock()
}
