// Package engine contains the order-lifecycle coordinator and the two
// strategy engines built on top of it. Everything here assumes the venue is
// the only source of truth: local state is a cache, and any action can be
// answered with "that order no longer exists" without it being an error.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/metrics"
	"github.com/rustyeddy/futures/pkg/id"
	"github.com/rustyeddy/futures/tradelog"
)

// pendingPlaceholder marks a slot that is locked for a request whose venue
// id is not known yet (the network call has not returned).
const pendingPlaceholder int64 = -1

// DefaultLockTTL bounds how long a slot can stay locked without a
// confirming push.
const DefaultLockTTL = 10 * time.Second

type slot struct {
	locked    bool
	pendingID int64
	timer     *time.Timer
}

// Coordinator serializes order mutations per order-type slot and owns the
// unknown-order-is-benign error policy.
//
// The invariant: a slot is locked iff it has a pending identifier. The lock
// is taken before the network call is issued (closing the race between
// "decide to submit" and "receive confirmation") and is released when the
// order stream reports the pending identifier, when a failure resolves the
// request, or when the TTL force-clears a wedged slot.
type Coordinator struct {
	strategy  string
	symbol    string
	transport broker.Transport
	log       *tradelog.Log
	lockTTL   time.Duration

	mu    sync.Mutex
	slots map[broker.OrderType]*slot
}

func NewCoordinator(strategy, symbol string, t broker.Transport, log *tradelog.Log, lockTTL time.Duration) *Coordinator {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Coordinator{
		strategy:  strategy,
		symbol:    symbol,
		transport: t,
		log:       log,
		lockTTL:   lockTTL,
		slots:     make(map[broker.OrderType]*slot),
	}
}

// slotFor creates slot state lazily on first use.
func (c *Coordinator) slotFor(key broker.OrderType) *slot {
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

// reserve locks the slot ahead of the network call. A false return means a
// mutation is already in flight and the caller's request is a no-op.
func (c *Coordinator) reserve(key broker.OrderType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slotFor(key)
	if s.locked {
		return false
	}
	s.locked = true
	s.pendingID = pendingPlaceholder
	s.timer = time.AfterFunc(c.lockTTL, func() {
		if c.Unlock(key) {
			c.log.Appendf(tradelog.Order, "%s slot lock timed out, cleared", key)
		}
	})
	return true
}

// commit swaps the placeholder for the real venue id once submission
// succeeds.
func (c *Coordinator) commit(key broker.OrderType, orderID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slotFor(key)
	if s.locked {
		s.pendingID = orderID
	}
}

// Unlock force-clears a slot. Reports whether the slot was locked.
func (c *Coordinator) Unlock(key broker.OrderType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slotFor(key)
	if !s.locked {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.locked = false
	s.pendingID = 0
	return true
}

// Locked reports whether a mutation is in flight for the slot.
func (c *Coordinator) Locked(key broker.OrderType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	return ok && s.locked
}

// SynchronizeLocks releases the slot whose pending identifier the order
// stream just reported. Any status releases, not just terminal ones: the
// slot guards the request/cache race, and a resting stop or maker quote
// never goes terminal while it is being managed — waiting for FILLED or
// CANCELED would wedge every replacement behind the TTL.
//
// Match and clear happen under one mutex hold; checking in one critical
// section and unlocking in another would let a TTL expiry plus a fresh
// reserve slip between them, and the stale clear would then break slot
// exclusivity for the new request.
func (c *Coordinator) SynchronizeLocks(o broker.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[o.Type]
	if !ok || !s.locked || s.pendingID != o.OrderID {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.locked = false
	s.pendingID = 0
}

// --- placement ---

// PlaceLimit submits a GTC limit order through the LIMIT slot.
func (c *Coordinator) PlaceLimit(ctx context.Context, side broker.Side, price, amount float64, reduceOnly bool) error {
	const key = broker.Limit
	if !c.reserve(key) {
		return nil
	}

	ord, err := c.transport.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        c.symbol,
		Side:          side,
		Type:          key,
		Quantity:      amount,
		Price:         price,
		ReduceOnly:    reduceOnly,
		TimeInForce:   "GTC",
		ClientOrderID: id.ClientOrderID(c.strategy),
	})
	if err != nil {
		c.Unlock(key)
		return c.fail(fmt.Sprintf("place LIMIT %s %.8g @ %.8g", side, amount, price), err)
	}

	c.commit(key, ord.OrderID)
	metrics.Orders.WithLabelValues(c.strategy, string(key)).Inc()
	ro := ""
	if reduceOnly {
		ro = " reduceOnly"
	}
	c.log.Appendf(tradelog.Order, "LIMIT %s %.8g @ %.8g%s (id=%d)", side, amount, price, ro, ord.OrderID)
	return nil
}

// PlaceMarket submits a market order through the MARKET slot.
func (c *Coordinator) PlaceMarket(ctx context.Context, side broker.Side, amount float64, reduceOnly bool) error {
	const key = broker.Market
	if !c.reserve(key) {
		return nil
	}

	ord, err := c.transport.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        c.symbol,
		Side:          side,
		Type:          key,
		Quantity:      amount,
		ReduceOnly:    reduceOnly,
		ClientOrderID: id.ClientOrderID(c.strategy),
	})
	if err != nil {
		c.Unlock(key)
		return c.fail(fmt.Sprintf("place MARKET %s %.8g", side, amount), err)
	}

	c.commit(key, ord.OrderID)
	metrics.Orders.WithLabelValues(c.strategy, string(key)).Inc()
	c.log.Appendf(tradelog.Order, "MARKET %s %.8g (id=%d)", side, amount, ord.OrderID)
	return nil
}

// PlaceStopLoss submits a reduce-only stop-market order. referencePrice is
// the current market price; a stop that would trigger the moment it rests
// is skipped rather than submitted.
func (c *Coordinator) PlaceStopLoss(ctx context.Context, side broker.Side, stopPrice, amount, referencePrice float64) error {
	if referencePrice > 0 {
		if (side == broker.Sell && stopPrice >= referencePrice) ||
			(side == broker.Buy && stopPrice <= referencePrice) {
			c.log.Appendf(tradelog.Info, "stop %s @ %.8g would trigger immediately (ref %.8g), skipped", side, stopPrice, referencePrice)
			return nil
		}
	}

	const key = broker.StopMarket
	if !c.reserve(key) {
		return nil
	}

	ord, err := c.transport.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        c.symbol,
		Side:          side,
		Type:          key,
		Quantity:      amount,
		StopPrice:     stopPrice,
		ReduceOnly:    true,
		ClientOrderID: id.ClientOrderID(c.strategy),
	})
	if err != nil {
		c.Unlock(key)
		return c.fail(fmt.Sprintf("place STOP_MARKET %s @ %.8g", side, stopPrice), err)
	}

	c.commit(key, ord.OrderID)
	metrics.Orders.WithLabelValues(c.strategy, string(key)).Inc()
	c.log.Appendf(tradelog.Stop, "STOP %s %.8g @ %.8g (id=%d)", side, amount, stopPrice, ord.OrderID)
	return nil
}

// PlaceTrailingStop submits a reduce-only trailing stop with the given
// activation price and callback percentage.
func (c *Coordinator) PlaceTrailingStop(ctx context.Context, side broker.Side, activationPrice, amount, callbackRate float64) error {
	const key = broker.TrailingStop
	if !c.reserve(key) {
		return nil
	}

	ord, err := c.transport.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:          c.symbol,
		Side:            side,
		Type:            key,
		Quantity:        amount,
		ActivationPrice: activationPrice,
		CallbackRate:    callbackRate,
		ReduceOnly:      true,
		ClientOrderID:   id.ClientOrderID(c.strategy),
	})
	if err != nil {
		c.Unlock(key)
		return c.fail(fmt.Sprintf("place TRAILING_STOP %s act=%.8g cb=%.4g%%", side, activationPrice, callbackRate), err)
	}

	c.commit(key, ord.OrderID)
	metrics.Orders.WithLabelValues(c.strategy, string(key)).Inc()
	c.log.Appendf(tradelog.Stop, "TRAILING %s %.8g act=%.8g cb=%.4g%% (id=%d)", side, amount, activationPrice, callbackRate, ord.OrderID)
	return nil
}

// --- cancellation ---

// CancelOrder cancels one order. An unknown-order response means the order
// already filled, expired or was canceled elsewhere; that resolves the
// request successfully.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID int64) error {
	metrics.Cancels.WithLabelValues(c.strategy).Inc()
	err := c.transport.CancelOrder(ctx, c.symbol, orderID)
	if err == nil {
		c.log.Appendf(tradelog.Order, "canceled order %d", orderID)
		return nil
	}
	if broker.IsUnknownOrder(err) {
		metrics.UnknownOrders.WithLabelValues(c.strategy).Inc()
		c.log.Appendf(tradelog.Order, "cancel %d: already gone", orderID)
		return nil
	}
	return c.fail(fmt.Sprintf("cancel order %d", orderID), err)
}

// CancelOrders cancels a batch with the same benign-error policy.
func (c *Coordinator) CancelOrders(ctx context.Context, orderIDs []int64) error {
	if len(orderIDs) == 0 {
		return nil
	}
	metrics.Cancels.WithLabelValues(c.strategy).Inc()
	err := c.transport.CancelOrders(ctx, c.symbol, orderIDs)
	if err == nil {
		c.log.Appendf(tradelog.Order, "canceled %d orders", len(orderIDs))
		return nil
	}
	if broker.IsUnknownOrder(err) {
		metrics.UnknownOrders.WithLabelValues(c.strategy).Inc()
		c.log.Appendf(tradelog.Order, "batch cancel: some orders already gone")
		return nil
	}
	return c.fail("batch cancel", err)
}

// CancelAll cancels every open order for the symbol.
func (c *Coordinator) CancelAll(ctx context.Context) error {
	metrics.Cancels.WithLabelValues(c.strategy).Inc()
	err := c.transport.CancelAllOrders(ctx, c.symbol)
	if err == nil {
		c.log.Appendf(tradelog.Order, "canceled all open orders")
		return nil
	}
	if broker.IsUnknownOrder(err) {
		metrics.UnknownOrders.WithLabelValues(c.strategy).Inc()
		c.log.Appendf(tradelog.Order, "cancel all: nothing to cancel")
		return nil
	}
	return c.fail("cancel all", err)
}

// fail logs a transport failure. Unknown-order races stay at order level;
// everything else is an error the caller retries from fresh state on the
// next tick.
func (c *Coordinator) fail(what string, err error) error {
	if broker.IsUnknownOrder(err) {
		metrics.UnknownOrders.WithLabelValues(c.strategy).Inc()
		c.log.Appendf(tradelog.Order, "%s: order unknown to venue: %v", what, err)
		return nil
	}
	metrics.TransportErrors.WithLabelValues(c.strategy).Inc()
	c.log.Appendf(tradelog.Error, "%s: %v", what, err)
	return err
}
