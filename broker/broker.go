package broker

import (
	"context"
	"errors"
)

// Transport is the request side of an exchange adapter. Implementations own
// signing and transport-level retry/backoff; callers only ever distinguish
// the unknown-order condition from plain errors.
type Transport interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelOrders(ctx context.Context, symbol string, orderIDs []int64) error
	CancelAllOrders(ctx context.Context, symbol string) error
}

// Streams is the push side of an exchange adapter. Every callback delivers a
// whole-snapshot replacement; handlers must copy anything they retain.
type Streams interface {
	OnAccount(symbol string, fn func(AccountSnapshot))
	OnOpenOrders(symbol string, fn func([]Order))
	OnOrderUpdate(symbol string, fn func(Order))
	OnBookTop(symbol string, fn func(BookTop))
	OnTicker(symbol string, fn func(Ticker))
	OnKlines(symbol string, fn func([]Kline))
}

// ErrUnknownOrder marks the venue's "order/symbol does not exist" response.
// It is an expected race between observation and action (the order filled or
// was canceled in between), never a fault.
var ErrUnknownOrder = errors.New("broker: unknown order")

// IsUnknownOrder reports whether err resolves to the benign unknown-order
// condition.
func IsUnknownOrder(err error) bool {
	return errors.Is(err, ErrUnknownOrder)
}
