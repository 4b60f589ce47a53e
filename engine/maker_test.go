package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/config"
	"github.com/rustyeddy/futures/tradelog"
)

func newTestMaker(t *testing.T, cfg config.MakerConfig, tr *fakeTransport) *Maker {
	t.Helper()
	if cfg.Quantity == 0 {
		cfg.Quantity = 1
	}
	if cfg.ChaseTolerance == 0 {
		cfg.ChaseTolerance = 0.4
	}
	return NewMaker(cfg, Options{
		Symbol:       "BTCUSDT",
		Transport:    tr,
		TickInterval: time.Second,
	})
}

func seedMakerMarket(m *Maker) {
	m.cache.SetAccount(flatAccount())
	m.cache.SetBookTop(broker.BookTop{Symbol: "BTCUSDT", BidPrice: 100, AskPrice: 101})
	m.cache.SetTicker(broker.Ticker{Last: 100.5})
}

// sweep runs the unconditional first pass so the test can focus on quoting.
func sweep(t *testing.T, m *Maker) {
	t.Helper()
	m.cache.SetOpenOrders(nil)
	m.tick(context.Background())
	if !m.sweepDone {
		t.Fatal("first pass should complete the sweep")
	}
}

func TestMakerFirstTickSweepsEverything(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	m.cache.SetOpenOrders([]broker.Order{
		{OrderID: 1, Type: broker.Limit, Side: broker.Buy, Price: 99.5},
		{OrderID: 2, Type: broker.Limit, Side: broker.Sell, Price: 101.5},
	})
	m.tick(ctx)

	if tr.cancelAlls != 1 {
		t.Fatalf("want unconditional sweep, got %d cancel-alls", tr.cancelAlls)
	}
	if tr.placeCount() != 0 {
		t.Fatalf("no quoting on the sweep pass, got %d orders", tr.placeCount())
	}

	// quoting starts on the next pass
	m.cache.SetOpenOrders(nil)
	m.tick(ctx)
	if tr.placeCount() == 0 {
		t.Fatal("quoting should start after the sweep")
	}
}

func TestMakerQuotesBothSides(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	m.tick(ctx)
	if tr.placeCount() != 1 {
		t.Fatalf("one placement per pass through the shared slot, got %d", tr.placeCount())
	}
	bid := tr.placed[0]
	if bid.Side != broker.Buy || bid.Price != 99.5 || bid.ReduceOnly {
		t.Fatalf("want passive buy at 99.5, got %+v", bid)
	}

	// venue confirms the bid; the ask goes out on the next pass
	m.coord.SynchronizeLocks(broker.Order{OrderID: 1, Type: broker.Limit, Status: broker.StatusNew})
	m.cache.SetOpenOrders([]broker.Order{
		{OrderID: 1, Type: broker.Limit, Side: broker.Buy, Price: 99.5},
	})
	m.tick(ctx)

	if tr.placeCount() != 2 {
		t.Fatalf("want the ask placed, got %d orders", tr.placeCount())
	}
	ask := tr.placed[1]
	if ask.Side != broker.Sell || ask.Price != 101.5 {
		t.Fatalf("want passive sell at 101.5, got %+v", ask)
	}
}

func TestMakerKeepsQuoteWithinChaseTolerance(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, ChaseTolerance: 0.4}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	// desired 99.5 / 101.5; residents drifted by 0.3, inside the tolerance
	m.cache.SetOpenOrders([]broker.Order{
		{OrderID: 1, Type: broker.Limit, Side: broker.Buy, Price: 99.2},
		{OrderID: 2, Type: broker.Limit, Side: broker.Sell, Price: 101.8},
	})
	m.tick(ctx)

	tr.mu.Lock()
	cancels := len(tr.canceled)
	tr.mu.Unlock()
	if cancels != 0 || tr.placeCount() != 0 {
		t.Fatalf("quotes inside tolerance must rest, cancels=%d places=%d", cancels, tr.placeCount())
	}
}

func TestMakerChasesDriftedQuote(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, ChaseTolerance: 0.4}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	// bid drifted by 0.5, past the tolerance; ask is fine
	m.cache.SetOpenOrders([]broker.Order{
		{OrderID: 1, Type: broker.Limit, Side: broker.Buy, Price: 99.0},
		{OrderID: 2, Type: broker.Limit, Side: broker.Sell, Price: 101.5},
	})
	m.tick(ctx)

	tr.mu.Lock()
	canceled := append([]int64(nil), tr.canceled...)
	tr.mu.Unlock()
	if len(canceled) != 1 || canceled[0] != 1 {
		t.Fatalf("want only the drifted bid canceled, got %v", canceled)
	}
	if tr.placeCount() != 1 || tr.placed[0].Price != 99.5 {
		t.Fatalf("want replacement bid at 99.5, got %+v", tr.placed)
	}
}

func TestMakerPendingCancelNotRecanceled(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, ChaseTolerance: 0.4}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	stale := []broker.Order{{OrderID: 1, Type: broker.Limit, Side: broker.Buy, Price: 99.0}}
	m.cache.SetOpenOrders(stale)
	m.tick(ctx)

	// the venue is slow: the canceled order is still in the next snapshot
	m.cache.SetOpenOrders(stale)
	m.tick(ctx)

	tr.mu.Lock()
	cancels := len(tr.canceled)
	tr.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("pending-cancel order must not be canceled twice, got %d", cancels)
	}
}

func TestMakerClosingOnlyQuote(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, LossLimit: 50}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	m.cache.SetAccount(heldAccount(2, 100, 1))
	m.cache.SetOpenOrders(nil)
	m.tick(ctx)

	if tr.placeCount() != 1 {
		t.Fatalf("want a single exit quote, got %d", tr.placeCount())
	}
	req := tr.placed[0]
	if req.Side != broker.Sell || !req.ReduceOnly || req.Price != 101 {
		t.Fatalf("want reduce-only sell at the ask, got %+v", req)
	}
	if m.State() != StateClosingOnly {
		t.Fatalf("want CLOSING_ONLY, got %s", m.State())
	}
}

func TestMakerForcedLiquidation(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, LossLimit: 20}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	m.cache.SetAccount(heldAccount(2, 100, -22))
	m.cache.SetOpenOrders(nil)
	m.cache.SetTicker(broker.Ticker{Last: 89})
	m.tick(ctx)

	if tr.cancelAlls != 1 {
		t.Fatalf("want quotes swept before the close, got %d cancel-alls", tr.cancelAlls)
	}
	if tr.placeCount() != 1 || tr.placed[0].Type != broker.Market || !tr.placed[0].ReduceOnly {
		t.Fatalf("want reduce-only market close, got %+v", tr.placed)
	}
}

func TestMakerMissingEntryPriceGuardFiresOnce(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, LossLimit: 20}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	// deep drawdown against the last price, but the venue has not reported
	// an entry price yet: the risk check must wait, not liquidate
	m.cache.SetAccount(heldAccount(2, 0, 0))
	m.cache.SetOpenOrders(nil)
	m.cache.SetTicker(broker.Ticker{Last: 89})
	m.tick(ctx)
	m.tick(ctx)

	if tr.cancelAlls != 0 {
		t.Fatal("no liquidation without an entry price")
	}
	if got := countEntries(m.log, tradelog.Info, "position has no entry price yet"); got != 1 {
		t.Fatalf("want the guard noted exactly once, got %d", got)
	}

	// entry price arrives, guard resets, risk checks resume
	m.cache.SetAccount(heldAccount(2, 100, -22))
	m.tick(ctx)
	if tr.cancelAlls != 1 {
		t.Fatal("risk check should run once the entry price is known")
	}
}

func TestMakerSessionVolume(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5}, tr)

	seedMakerMarket(m)

	m.trackVolume(flatAccount())          // baseline
	m.trackVolume(heldAccount(1, 100, 0)) // +1 at mid 100.5
	m.trackVolume(flatAccount())          // -1 at mid 100.5

	snap := m.Snapshot()
	if snap.SessionVolume < 200.9 || snap.SessionVolume > 201.1 {
		t.Fatalf("want session volume near 201, got %v", snap.SessionVolume)
	}
}

func TestMakerRoundTripCounted(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestMaker(t, config.MakerConfig{QuoteOffset: 0.5, LossLimit: 50}, tr)
	ctx := context.Background()

	seedMakerMarket(m)
	sweep(t, m)

	m.cache.SetAccount(heldAccount(1, 100, 0))
	m.cache.SetOpenOrders(nil)
	m.tick(ctx)

	m.coord.SynchronizeLocks(broker.Order{OrderID: 1, Type: broker.Limit, Status: broker.StatusFilled})
	m.cache.SetAccount(flatAccount())
	m.cache.SetTicker(broker.Ticker{Last: 101})
	m.tick(ctx)

	snap := m.Snapshot()
	if snap.TotalTrades != 1 {
		t.Fatalf("want the round trip counted, got %d", snap.TotalTrades)
	}
	if snap.RealizedPL < 0.9 || snap.RealizedPL > 1.1 {
		t.Fatalf("want realized pnl near 1, got %v", snap.RealizedPL)
	}
}
