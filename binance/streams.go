package binance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/pkg/logger"
)

// Streams multiplexes the market and user-data websocket feeds for one
// symbol into broker.Streams callbacks. Each callback receives a
// whole-snapshot replacement; the incremental venue events are folded into
// snapshots here so the core never sees partial merges.
type Streams struct {
	client        *Client
	symbol        string
	klineInterval string
	klineLimit    int

	dialer *websocket.Dialer

	mu           sync.Mutex
	accountFns   []func(broker.AccountSnapshot)
	openOrderFns []func([]broker.Order)
	orderFns     []func(broker.Order)
	bookFns      []func(broker.BookTop)
	tickerFns    []func(broker.Ticker)
	klineFns     []func([]broker.Kline)

	// folded state
	klines     []broker.Kline
	openOrders map[int64]broker.Order
	balance    float64
	available  float64
	positions  map[string]broker.PositionRecord // keyed symbol|side
}

// NewStreams creates the stream fan-out for one symbol.
func NewStreams(c *Client, symbol, klineInterval string, klineLimit int) *Streams {
	if klineLimit <= 0 {
		klineLimit = 100
	}
	return &Streams{
		client:        c,
		symbol:        symbol,
		klineInterval: klineInterval,
		klineLimit:    klineLimit,
		dialer:        &websocket.Dialer{},
		openOrders:    make(map[int64]broker.Order),
		positions:     make(map[string]broker.PositionRecord),
	}
}

// --- broker.Streams ---

func (s *Streams) OnAccount(symbol string, fn func(broker.AccountSnapshot)) {
	if symbol != s.symbol {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountFns = append(s.accountFns, fn)
}

func (s *Streams) OnOpenOrders(symbol string, fn func([]broker.Order)) {
	if symbol != s.symbol {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openOrderFns = append(s.openOrderFns, fn)
}

func (s *Streams) OnOrderUpdate(symbol string, fn func(broker.Order)) {
	if symbol != s.symbol {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderFns = append(s.orderFns, fn)
}

func (s *Streams) OnBookTop(symbol string, fn func(broker.BookTop)) {
	if symbol != s.symbol {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookFns = append(s.bookFns, fn)
}

func (s *Streams) OnTicker(symbol string, fn func(broker.Ticker)) {
	if symbol != s.symbol {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickerFns = append(s.tickerFns, fn)
}

func (s *Streams) OnKlines(symbol string, fn func([]broker.Kline)) {
	if symbol != s.symbol {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.klineFns = append(s.klineFns, fn)
}

// Run seeds the folded state over REST, then serves both websocket loops
// until ctx is done. Reconnects are handled internally.
func (s *Streams) Run(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return fmt.Errorf("seed streams: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.marketLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.userLoop(ctx)
	}()
	wg.Wait()
	return nil
}

// seed pulls the initial klines, open orders and account over REST so the
// first pushes already see complete snapshots.
func (s *Streams) seed(ctx context.Context) error {
	klines, err := s.client.Klines(ctx, s.symbol, s.klineInterval, s.klineLimit)
	if err != nil {
		return err
	}
	orders, err := s.client.OpenOrders(ctx, s.symbol)
	if err != nil {
		return err
	}
	acct, err := s.client.Account(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.klines = klines
	for _, o := range orders {
		s.openOrders[o.OrderID] = o
	}
	s.balance = acct.Balance
	s.available = acct.AvailableBalance
	for _, p := range acct.Positions {
		s.positions[p.Symbol+"|"+p.PositionSide] = p
	}
	s.mu.Unlock()

	s.pushKlines()
	s.pushOpenOrders()
	s.pushAccount()
	return nil
}

func (s *Streams) marketLoop(ctx context.Context) {
	sym := strings.ToLower(s.symbol)
	streams := strings.Join([]string{
		sym + "@bookTicker",
		sym + "@aggTrade",
		sym + "@kline_" + s.klineInterval,
	}, "/")
	url := s.wsBase() + "/stream?streams=" + streams

	for ctx.Err() == nil {
		conn, _, err := s.dialer.DialContext(ctx, url, nil)
		if err != nil {
			logger.Error("market stream dial: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		logger.Info("market stream connected: %s", s.symbol)

		s.readMarket(ctx, conn)
		_ = conn.Close()
		sleep(ctx, time.Second)
	}
}

func (s *Streams) readMarket(ctx context.Context, conn *websocket.Conn) {
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("market stream read: %v", err)
			}
			return
		}

		var env streamEnvelope
		if err := sonic.Unmarshal(msg, &env); err != nil {
			logger.Error("market stream decode: %v", err)
			continue
		}

		switch {
		case strings.HasSuffix(env.Stream, "@bookTicker"):
			var bt wsBookTicker
			if err := sonic.Unmarshal(env.Data, &bt); err != nil {
				continue
			}
			s.pushBook(broker.BookTop{
				Symbol:   bt.Symbol,
				BidPrice: atof(bt.BidPrice),
				BidQty:   atof(bt.BidQty),
				AskPrice: atof(bt.AskPrice),
				AskQty:   atof(bt.AskQty),
				Time:     time.UnixMilli(bt.Time),
			})

		case strings.HasSuffix(env.Stream, "@aggTrade"):
			var at wsAggTrade
			if err := sonic.Unmarshal(env.Data, &at); err != nil {
				continue
			}
			s.pushTicker(broker.Ticker{
				Symbol: at.Symbol,
				Last:   atof(at.Price),
				Time:   time.UnixMilli(at.Time),
			})

		case strings.Contains(env.Stream, "@kline_"):
			var ev wsKlineEvent
			if err := sonic.Unmarshal(env.Data, &ev); err != nil {
				continue
			}
			s.foldKline(ev.Kline.kline())
			s.pushKlines()
		}
	}
}

// foldKline merges one streamed candle into the rolling series, keyed by
// open time, and trims the window.
func (s *Streams) foldKline(k broker.Kline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.klines)
	if n > 0 && s.klines[n-1].OpenTime.Equal(k.OpenTime) {
		s.klines[n-1] = k
	} else {
		s.klines = append(s.klines, k)
	}
	if len(s.klines) > s.klineLimit {
		s.klines = s.klines[len(s.klines)-s.klineLimit:]
	}
}

func (s *Streams) userLoop(ctx context.Context) {
	for ctx.Err() == nil {
		key, err := s.client.listenKey(ctx)
		if err != nil {
			logger.Error("listen key: %v", err)
			sleep(ctx, time.Second)
			continue
		}

		conn, _, err := s.dialer.DialContext(ctx, s.wsBase()+"/ws/"+key, nil)
		if err != nil {
			logger.Error("user stream dial: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		logger.Info("user stream connected")

		// The listen key lease expires after 60 minutes without keepalive.
		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(25 * time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					if err := s.client.keepAliveListenKey(ctx); err != nil {
						logger.Error("listen key keepalive: %v", err)
					}
				}
			}
		}()

		s.readUser(ctx, conn)
		close(stopPing)
		_ = conn.Close()
		sleep(ctx, time.Second)
	}
}

func (s *Streams) readUser(ctx context.Context, conn *websocket.Conn) {
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("user stream read: %v", err)
			}
			return
		}

		var ev userEvent
		if err := sonic.Unmarshal(msg, &ev); err != nil {
			continue
		}

		switch ev.EventType {
		case "ACCOUNT_UPDATE":
			var au wsAccountUpdate
			if err := sonic.Unmarshal(msg, &au); err != nil {
				continue
			}
			s.foldAccount(au)
			s.pushAccount()

		case "ORDER_TRADE_UPDATE":
			var ou wsOrderUpdate
			if err := sonic.Unmarshal(msg, &ou); err != nil {
				continue
			}
			ord := ou.order()
			if ord.Symbol != s.symbol {
				continue
			}
			s.foldOrder(ord)
			s.pushOrder(ord)
			s.pushOpenOrders()

		case "listenKeyExpired":
			logger.Info("listen key expired, reconnecting user stream")
			return
		}
	}
}

func (s *Streams) foldAccount(au wsAccountUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range au.Data.Balances {
		if b.Asset == "USDT" {
			s.balance = atof(b.WalletBalance)
			// the push has no availableBalance field; cross wallet
			// balance is its stream-side counterpart
			if b.CrossWalletBalance != "" {
				s.available = atof(b.CrossWalletBalance)
			}
		}
	}
	for _, p := range au.Data.Positions {
		s.positions[p.Symbol+"|"+p.PositionSide] = broker.PositionRecord{
			Symbol:           p.Symbol,
			PositionSide:     p.PositionSide,
			PositionAmt:      atof(p.PositionAmt),
			EntryPrice:       atof(p.EntryPrice),
			UnrealizedProfit: atof(p.UnrealizedProfit),
		}
	}
}

func (s *Streams) foldOrder(o broker.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Status.Terminal() {
		delete(s.openOrders, o.OrderID)
	} else {
		s.openOrders[o.OrderID] = o
	}
}

// --- push helpers ---

func (s *Streams) pushAccount() {
	s.mu.Lock()
	snap := broker.AccountSnapshot{
		Balance:          s.balance,
		AvailableBalance: s.available,
		Time:             time.Now(),
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	fns := append([]func(broker.AccountSnapshot){}, s.accountFns...)
	s.mu.Unlock()

	sort.Slice(snap.Positions, func(i, j int) bool {
		if snap.Positions[i].Symbol != snap.Positions[j].Symbol {
			return snap.Positions[i].Symbol < snap.Positions[j].Symbol
		}
		return snap.Positions[i].PositionSide < snap.Positions[j].PositionSide
	})
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Streams) pushOpenOrders() {
	s.mu.Lock()
	orders := make([]broker.Order, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		orders = append(orders, o)
	}
	fns := append([]func([]broker.Order){}, s.openOrderFns...)
	s.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	for _, fn := range fns {
		fn(orders)
	}
}

func (s *Streams) pushOrder(o broker.Order) {
	s.mu.Lock()
	fns := append([]func(broker.Order){}, s.orderFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(o)
	}
}

func (s *Streams) pushBook(b broker.BookTop) {
	s.mu.Lock()
	fns := append([]func(broker.BookTop){}, s.bookFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(b)
	}
}

func (s *Streams) pushTicker(t broker.Ticker) {
	s.mu.Lock()
	fns := append([]func(broker.Ticker){}, s.tickerFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

func (s *Streams) pushKlines() {
	s.mu.Lock()
	cp := make([]broker.Kline, len(s.klines))
	copy(cp, s.klines)
	fns := append([]func([]broker.Kline){}, s.klineFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(cp)
	}
}

func (s *Streams) wsBase() string {
	return s.client.wsURL
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
