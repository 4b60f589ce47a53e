package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/config"
	"github.com/rustyeddy/futures/tradelog"
)

func newTestTrend(t *testing.T, cfg config.TrendConfig, tr *fakeTransport) *Trend {
	t.Helper()
	if cfg.Quantity == 0 {
		cfg.Quantity = 1
	}
	if cfg.KlinePeriod == 0 {
		cfg.KlinePeriod = 3
	}
	return NewTrend(cfg, Options{
		Symbol:       "BTCUSDT",
		Transport:    tr,
		TickInterval: time.Second,
	})
}

func flatAccount() broker.AccountSnapshot {
	return broker.AccountSnapshot{Balance: 1000, AvailableBalance: 1000, Time: time.Now()}
}

func heldAccount(amt, entry, reported float64) broker.AccountSnapshot {
	a := flatAccount()
	a.Positions = []broker.PositionRecord{{
		Symbol:           "BTCUSDT",
		PositionSide:     "BOTH",
		PositionAmt:      amt,
		EntryPrice:       entry,
		UnrealizedProfit: reported,
	}}
	return a
}

func flatKlines(n int, close float64) []broker.Kline {
	ks := make([]broker.Kline, n)
	for i := range ks {
		ks[i] = broker.Kline{Close: close, Closed: true}
	}
	return ks
}

func seedFlatMarket(e *Trend, last float64) {
	e.cache.SetAccount(flatAccount())
	e.cache.SetOpenOrders(nil)
	e.cache.SetKlines(flatKlines(3, 100))
	e.cache.SetTicker(broker.Ticker{Last: last})
}

func countEntries(log *tradelog.Log, typ tradelog.EntryType, substr string) int {
	n := 0
	for _, e := range log.Entries() {
		if e.Type == typ && strings.Contains(e.Detail, substr) {
			n++
		}
	}
	return n
}

func TestTrendCrossUpOpensLong(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	seedFlatMarket(e, 99)
	e.tick(ctx) // records prevLast below the average
	if got := tr.placeCount(); got != 0 {
		t.Fatalf("no cross yet, got %d orders", got)
	}

	e.cache.SetTicker(broker.Ticker{Last: 101})
	e.tick(ctx)

	if got := tr.placeCount(); got != 1 {
		t.Fatalf("want 1 market order, got %d", got)
	}
	req := tr.placed[0]
	if req.Type != broker.Market || req.Side != broker.Buy {
		t.Fatalf("want market buy, got %s %s", req.Type, req.Side)
	}
	if e.State() != StateOpening {
		t.Fatalf("want OPENING, got %s", e.State())
	}
}

func TestTrendCrossDownOpensShort(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	seedFlatMarket(e, 101)
	e.tick(ctx)
	e.cache.SetTicker(broker.Ticker{Last: 99})
	e.tick(ctx)

	if got := tr.placeCount(); got != 1 {
		t.Fatalf("want 1 market order, got %d", got)
	}
	if tr.placed[0].Side != broker.Sell {
		t.Fatalf("want sell, got %s", tr.placed[0].Side)
	}
}

func TestTrendNoEntryWithoutCross(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	seedFlatMarket(e, 101)
	e.tick(ctx)
	e.cache.SetTicker(broker.Ticker{Last: 102})
	e.tick(ctx)

	if got := tr.placeCount(); got != 0 {
		t.Fatalf("price stayed on one side, want no orders, got %d", got)
	}
}

func TestTrendIndicatorNotReadyBlocksEntry(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	seedFlatMarket(e, 99)
	e.cache.SetKlines(flatKlines(2, 100)) // below the period
	e.tick(ctx)
	e.cache.SetTicker(broker.Ticker{Last: 101})
	e.tick(ctx)

	if got := tr.placeCount(); got != 0 {
		t.Fatalf("undefined average must block entries, got %d orders", got)
	}
	if e.Snapshot().SMAReady {
		t.Fatal("snapshot should report the average as not ready")
	}
}

func TestTrendPlacesMissingStop(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, -4))
	e.cache.SetOpenOrders(nil)
	e.cache.SetTicker(broker.Ticker{Last: 98})
	e.tick(ctx)

	if e.State() != StateManaging {
		t.Fatalf("want MANAGING, got %s", e.State())
	}
	if got := tr.placeCount(); got != 1 {
		t.Fatalf("want 1 stop order, got %d", got)
	}
	req := tr.placed[0]
	if req.Type != broker.StopMarket || req.Side != broker.Sell || !req.ReduceOnly {
		t.Fatalf("want reduce-only sell stop, got %+v", req)
	}
	if req.StopPrice != 95 {
		t.Fatalf("want stop at 95, got %v", req.StopPrice)
	}
}

func TestTrendStopWithinToleranceKept(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, -4))
	e.cache.SetOpenOrders([]broker.Order{{
		OrderID: 5, Type: broker.StopMarket, Side: broker.Sell, StopPrice: 95.005,
	}})
	e.cache.SetTicker(broker.Ticker{Last: 98})
	e.tick(ctx)

	tr.mu.Lock()
	cancels := len(tr.canceled)
	tr.mu.Unlock()
	if cancels != 0 || tr.placeCount() != 0 {
		t.Fatalf("resident within tolerance must be kept, cancels=%d places=%d", cancels, tr.placeCount())
	}
}

func TestTrendStopDriftReplacedCancelFirst(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, -4))
	e.cache.SetOpenOrders([]broker.Order{{
		OrderID: 5, Type: broker.StopMarket, Side: broker.Sell, StopPrice: 95.5,
	}})
	e.cache.SetTicker(broker.Ticker{Last: 98})
	e.tick(ctx)

	tr.mu.Lock()
	canceled := append([]int64(nil), tr.canceled...)
	tr.mu.Unlock()
	if len(canceled) != 1 || canceled[0] != 5 {
		t.Fatalf("want old stop canceled first, got %v", canceled)
	}
	if tr.placeCount() != 1 || tr.placed[0].StopPrice != 95 {
		t.Fatalf("want replacement at 95, got %+v", tr.placed)
	}
}

func TestTrendForcedLiquidation(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 20}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, -22))
	e.cache.SetOpenOrders(nil)
	e.cache.SetTicker(broker.Ticker{Last: 89}) // derived 2*(89-100) = -22
	e.tick(ctx)

	if tr.cancelAlls != 1 {
		t.Fatalf("want protective orders swept, got %d cancel-alls", tr.cancelAlls)
	}
	if tr.placeCount() != 1 {
		t.Fatalf("want 1 close order, got %d", tr.placeCount())
	}
	req := tr.placed[0]
	if req.Type != broker.Market || req.Side != broker.Sell || !req.ReduceOnly {
		t.Fatalf("want reduce-only market sell, got %+v", req)
	}
	if e.State() != StateClosing {
		t.Fatalf("want CLOSING, got %s", e.State())
	}
}

func TestTrendNoLiquidationInsideLimit(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 20}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, -18))
	e.cache.SetOpenOrders([]broker.Order{{
		OrderID: 5, Type: broker.StopMarket, Side: broker.Sell, StopPrice: 90,
	}})
	e.cache.SetTicker(broker.Ticker{Last: 91}) // derived -18, inside the limit
	e.tick(ctx)

	if tr.cancelAlls != 0 {
		t.Fatal("no liquidation expected inside the limit")
	}
	for _, req := range tr.placed {
		if req.Type == broker.Market {
			t.Fatalf("no market close expected, got %+v", req)
		}
	}
}

func TestTrendFinalizesAfterForcedClose(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 20}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, -22))
	e.cache.SetOpenOrders(nil)
	e.cache.SetTicker(broker.Ticker{Last: 89})
	e.tick(ctx)
	if e.State() != StateClosing {
		t.Fatalf("want CLOSING, got %s", e.State())
	}

	// the close fills and the next account push shows us flat
	e.cache.SetAccount(flatAccount())
	e.tick(ctx)

	if e.State() != StateFlat {
		t.Fatalf("want FLAT after settlement, got %s", e.State())
	}
	snap := e.Snapshot()
	if snap.TotalTrades != 1 {
		t.Fatalf("want the round trip counted, got %d", snap.TotalTrades)
	}
	if snap.RealizedPL > -21 || snap.RealizedPL < -23 {
		t.Fatalf("want realized pnl near -22, got %v", snap.RealizedPL)
	}
}

func TestTrendStopFillBooksTrade(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	// holding long 2 @ 100
	e.cache.SetAccount(heldAccount(2, 100, -4))
	e.cache.SetOpenOrders(nil)
	e.cache.SetTicker(broker.Ticker{Last: 98})
	e.tick(ctx)
	if e.State() != StateManaging {
		t.Fatalf("want MANAGING, got %s", e.State())
	}

	// the resident stop fires: next push shows us flat at 95
	e.cache.SetAccount(flatAccount())
	e.cache.SetTicker(broker.Ticker{Last: 95})
	e.tick(ctx)

	if e.State() != StateFlat {
		t.Fatalf("want FLAT, got %s", e.State())
	}
	if got := e.Snapshot().TotalTrades; got != 1 {
		t.Fatalf("stop fill should count as a trade, got %d", got)
	}
}

func TestTrendMissingEntryPriceGuardFiresOnce(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{LossLimit: 10}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 0, 0))
	e.cache.SetOpenOrders(nil)
	e.cache.SetTicker(broker.Ticker{Last: 98})

	e.tick(ctx)
	e.tick(ctx)
	e.tick(ctx)

	if got := tr.placeCount(); got != 0 {
		t.Fatalf("risk checks must be deferred without an entry price, got %d orders", got)
	}
	if n := countEntries(e.log, tradelog.Info, "no entry price"); n != 1 {
		t.Fatalf("want exactly one guard entry, got %d", n)
	}
}

func TestTrendTrailingStopPlaced(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{
		LossLimit:      10,
		TrailingProfit: 10,
		CallbackRate:   0.5,
	}, tr)
	ctx := context.Background()

	e.cache.SetAccount(heldAccount(2, 100, 2))
	e.cache.SetOpenOrders([]broker.Order{{
		OrderID: 5, Type: broker.StopMarket, Side: broker.Sell, StopPrice: 95,
	}})
	e.cache.SetTicker(broker.Ticker{Last: 101})
	e.tick(ctx)

	if tr.placeCount() != 1 {
		t.Fatalf("want the trailing stop placed, got %d orders", tr.placeCount())
	}
	req := tr.placed[0]
	if req.Type != broker.TrailingStop || req.ActivationPrice != 105 || req.CallbackRate != 0.5 {
		t.Fatalf("want trailing activation at 105 cb 0.5, got %+v", req)
	}
}

func TestTrendProfitLockMovesStop(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestTrend(t, config.TrendConfig{
		LossLimit:         10,
		ProfitLockTrigger: 4,
		ProfitLockOffset:  2,
	}, tr)
	ctx := context.Background()

	// derived 2*(103-100) = 6 > trigger 4: stop moves to entry + 2/2 = 101
	e.cache.SetAccount(heldAccount(2, 100, 6))
	e.cache.SetOpenOrders([]broker.Order{{
		OrderID: 5, Type: broker.StopMarket, Side: broker.Sell, StopPrice: 95,
	}})
	e.cache.SetTicker(broker.Ticker{Last: 103})
	e.tick(ctx)

	if tr.placeCount() != 1 || tr.placed[0].StopPrice != 101 {
		t.Fatalf("want stop moved to 101, got %+v", tr.placed)
	}
}
