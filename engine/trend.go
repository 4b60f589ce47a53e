package engine

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/config"
	"github.com/rustyeddy/futures/indicators"
	"github.com/rustyeddy/futures/journal"
	"github.com/rustyeddy/futures/metrics"
	"github.com/rustyeddy/futures/pkg/id"
	"github.com/rustyeddy/futures/risk"
	"github.com/rustyeddy/futures/tradelog"
)

// Trend engine states.
const (
	StateFlat     = "FLAT"
	StateOpening  = "OPENING"
	StateManaging = "MANAGING"
	StateClosing  = "CLOSING"
)

// stopReplaceTolerance is the price drift below which a resident
// protective order is left alone instead of being replaced.
const stopReplaceTolerance = 0.01

// Trend trades moving-average crossovers: market in on a cross, then a
// resident stop-loss plus optional trailing stop while the position runs,
// and a market close when the dual-source loss check trips.
type Trend struct {
	*core
	cfg config.TrendConfig

	// guarded by core.mu
	state       string
	prevLast    float64
	sma         float64
	smaReady    bool
	openSide    broker.Side
	openEntry   float64
	openQty     float64
	openTime    time.Time
	closeReason string
	closePL     float64
}

func NewTrend(cfg config.TrendConfig, opts Options) *Trend {
	if cfg.KlinePeriod <= 0 {
		cfg.KlinePeriod = 30
	}
	t := &Trend{
		core:  newCore("trend", opts),
		cfg:   cfg,
		state: StateFlat,
	}
	t.snapshotFn = t.Snapshot
	if opts.Streams != nil {
		t.attach(opts.Streams, nil)
	}
	return t
}

func (t *Trend) Start() { t.start(t.tick) }

// State returns the current lifecycle state.
func (t *Trend) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot projects the engine into an observer-safe value.
func (t *Trend) Snapshot() Snapshot {
	s := t.baseSnapshot()
	t.mu.Lock()
	s.State = t.state
	s.SMA = t.sma
	s.SMAReady = t.smaReady
	t.mu.Unlock()

	if acct, ok := t.cache.Account(); ok {
		if pos, found := risk.GetPosition(acct, t.symbol); found {
			s.PositionAmt = pos.Amt
			s.EntryPrice = pos.EntryPrice
			s.ReportedPL = pos.UnrealizedProfit
			if s.LastPrice > 0 {
				s.DerivedPL = pos.DerivedPL(s.LastPrice)
			}
		}
	}
	return s
}

// tick is one decision pass. It reads cached state only; every outbound
// action goes through the coordinator.
func (t *Trend) tick(ctx context.Context) {
	acct, ok := t.cache.Account()
	if !ok {
		t.noteOnce("account", "waiting for first account snapshot")
		return
	}
	t.clearNote("account")

	last := t.cache.LastPrice()
	if last <= 0 {
		t.noteOnce("price", "waiting for market data")
		return
	}
	t.clearNote("price")

	pos, _ := risk.GetPosition(acct, t.symbol)
	state := t.State()

	if pos.Flat() {
		switch state {
		case StateClosing:
			// the close we initiated has settled
			t.mu.Lock()
			reason, pl := t.closeReason, t.closePL
			t.mu.Unlock()
			t.finalize(ctx, last, reason, pl)
		case StateManaging:
			// a resident stop or trailing order took the position out
			t.finalize(ctx, last, "StopLoss", t.residualPL(last))
		case StateOpening:
			// entry never materialized and nothing is in flight anymore
			if !t.coord.Locked(broker.Market) {
				t.setState(StateFlat)
			}
		}
		if t.State() == StateFlat {
			t.seekEntry(ctx, last)
		}
		metrics.UnrealizedPnL.WithLabelValues(t.strategy, "derived").Set(0)
		metrics.UnrealizedPnL.WithLabelValues(t.strategy, "reported").Set(0)
	} else {
		t.manage(ctx, pos, last)
	}

	t.mu.Lock()
	t.prevLast = last
	t.mu.Unlock()
}

func (t *Trend) setState(s string) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// residualPL estimates the realized result of a stop fill we only observe
// after the fact, from the stored entry and the current price.
func (t *Trend) residualPL(last float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openEntry <= 0 || t.openQty <= 0 {
		return 0
	}
	if t.openSide == broker.Sell {
		return t.openQty * (t.openEntry - last)
	}
	return t.openQty * (last - t.openEntry)
}

// finalize books the finished round trip and returns to FLAT.
func (t *Trend) finalize(ctx context.Context, last float64, reason string, pl float64) {
	if orders, ok := t.cache.OpenOrders(); ok && len(orders) > 0 {
		ids := make([]int64, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.OrderID)
		}
		t.coord.CancelOrders(ctx, ids)
	}

	t.mu.Lock()
	rec := journal.TradeRecord{
		TradeID:    id.New(),
		Strategy:   t.strategy,
		Symbol:     t.symbol,
		Side:       string(t.openSide),
		Quantity:   t.openQty,
		EntryPrice: t.openEntry,
		ExitPrice:  last,
		OpenTime:   t.openTime,
		CloseTime:  time.Now(),
		RealizedPL: pl,
		Reason:     reason,
	}
	t.state = StateFlat
	t.openEntry, t.openQty, t.openTime = 0, 0, time.Time{}
	t.closeReason, t.closePL = "", 0
	t.mu.Unlock()

	t.recordTrade(rec)
	t.log.Appendf(tradelog.Close, "closed %s %.8g @ %.8g pnl %.4f (%s)",
		rec.Side, rec.Quantity, last, pl, reason)
}

// seekEntry watches for the last price crossing the moving average and
// opens with a market order when it does.
func (t *Trend) seekEntry(ctx context.Context, last float64) {
	sma, err := indicators.SMA(t.cache.Klines(), t.cfg.KlinePeriod)
	if err != nil {
		t.mu.Lock()
		t.smaReady = false
		t.mu.Unlock()
		t.noteOnce("sma", "indicator warming up: %v", err)
		return
	}
	t.clearNote("sma")

	t.mu.Lock()
	t.sma = sma
	t.smaReady = true
	prev := t.prevLast
	t.mu.Unlock()

	if prev <= 0 {
		return
	}

	var side broker.Side
	switch {
	case prev <= sma && last > sma:
		side = broker.Buy
	case prev >= sma && last < sma:
		side = broker.Sell
	default:
		return
	}

	// sweep anything left over from a previous round trip before entering
	if orders, ok := t.cache.OpenOrders(); ok && len(orders) > 0 {
		ids := make([]int64, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.OrderID)
		}
		if err := t.coord.CancelOrders(ctx, ids); err != nil {
			return
		}
	}

	if err := t.coord.PlaceMarket(ctx, side, t.cfg.Quantity, false); err != nil {
		return
	}

	t.mu.Lock()
	t.state = StateOpening
	t.openSide = side
	t.openQty = t.cfg.Quantity
	t.openTime = time.Now()
	t.mu.Unlock()
	t.log.Appendf(tradelog.Open, "crossover %s: last %.8g vs sma %.8g", side, last, sma)
}

// manage runs the resident protective orders and the loss check while a
// position is open.
func (t *Trend) manage(ctx context.Context, pos risk.Position, last float64) {
	t.mu.Lock()
	if t.state == StateFlat || t.state == StateOpening {
		t.state = StateManaging
		t.openSide = pos.Side()
		t.openQty = math.Abs(pos.Amt)
		if t.openEntry == 0 {
			t.openEntry = pos.EntryPrice
		}
		if t.openTime.IsZero() {
			t.openTime = time.Now()
		}
	}
	state := t.state
	t.mu.Unlock()

	if state == StateClosing {
		// close order is working; nothing to manage
		return
	}

	if pos.EntryPrice == 0 {
		t.noteOnce("entry", "position has no entry price yet, risk checks deferred")
		return
	}
	t.clearNote("entry")

	derived := pos.DerivedPL(last)
	reported := pos.UnrealizedProfit
	metrics.UnrealizedPnL.WithLabelValues(t.strategy, "derived").Set(derived)
	metrics.UnrealizedPnL.WithLabelValues(t.strategy, "reported").Set(reported)

	if risk.ShouldLiquidate(derived, reported, t.cfg.LossLimit) {
		t.forceClose(ctx, pos, derived, reported)
		return
	}

	long := pos.Amt > 0
	qty := math.Abs(pos.Amt)
	entry := pos.EntryPrice
	closeSide := pos.Side().Opposite()

	want := risk.StopPrice(entry, qty, t.cfg.LossLimit, long)
	if t.cfg.ProfitLockTrigger > 0 &&
		(derived >= t.cfg.ProfitLockTrigger || reported >= t.cfg.ProfitLockTrigger) {
		want = risk.ProfitLockStop(entry, qty, t.cfg.ProfitLockOffset, long)
	}
	t.maintainStop(ctx, closeSide, want, qty, last)

	if t.cfg.TrailingProfit > 0 && t.cfg.CallbackRate > 0 {
		act := risk.ActivationPrice(entry, qty, t.cfg.TrailingProfit, long)
		t.maintainTrailing(ctx, closeSide, act, qty)
	}
}

// maintainStop keeps exactly one stop-market order at the wanted price,
// replacing cancel-first when it has drifted past the tolerance.
func (t *Trend) maintainStop(ctx context.Context, side broker.Side, want, qty, last float64) {
	orders, ok := t.cache.OpenOrders()
	if !ok {
		return
	}
	var resident *broker.Order
	for i := range orders {
		if orders[i].Type == broker.StopMarket {
			resident = &orders[i]
			break
		}
	}
	if resident == nil {
		t.coord.PlaceStopLoss(ctx, side, want, qty, last)
		return
	}
	if math.Abs(resident.StopPrice-want) <= stopReplaceTolerance {
		return
	}
	if err := t.coord.CancelOrder(ctx, resident.OrderID); err != nil {
		return
	}
	t.coord.PlaceStopLoss(ctx, side, want, qty, last)
}

// maintainTrailing does the same for the trailing stop, keyed on its
// activation price.
func (t *Trend) maintainTrailing(ctx context.Context, side broker.Side, act, qty float64) {
	orders, ok := t.cache.OpenOrders()
	if !ok {
		return
	}
	var resident *broker.Order
	for i := range orders {
		if orders[i].Type == broker.TrailingStop {
			resident = &orders[i]
			break
		}
	}
	if resident == nil {
		t.coord.PlaceTrailingStop(ctx, side, act, qty, t.cfg.CallbackRate)
		return
	}
	if math.Abs(resident.ActivatePrice-act) <= stopReplaceTolerance {
		return
	}
	if err := t.coord.CancelOrder(ctx, resident.OrderID); err != nil {
		return
	}
	t.coord.PlaceTrailingStop(ctx, side, act, qty, t.cfg.CallbackRate)
}

// forceClose flattens immediately once the loss limit trips: sweep the
// protective orders, then market out reduce-only.
func (t *Trend) forceClose(ctx context.Context, pos risk.Position, derived, reported float64) {
	metrics.ForcedLiquidations.WithLabelValues(t.strategy).Inc()
	t.log.Appendf(tradelog.Stop, "loss limit hit: derived %.4f reported %.4f limit %.4f",
		derived, reported, t.cfg.LossLimit)

	if err := t.coord.CancelAll(ctx); err != nil {
		return
	}
	qty := math.Abs(pos.Amt)
	if err := t.coord.PlaceMarket(ctx, pos.Side().Opposite(), qty, true); err != nil {
		return
	}

	t.mu.Lock()
	t.state = StateClosing
	t.closeReason = "ForcedClose"
	t.closePL = derived
	t.mu.Unlock()
}
