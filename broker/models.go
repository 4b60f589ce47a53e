package broker

import "time"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the venue order type. It doubles as the coordinator's slot
// key: at most one mutation per type is ever in flight.
type OrderType string

const (
	Limit        OrderType = "LIMIT"
	Market       OrderType = "MARKET"
	StopMarket   OrderType = "STOP_MARKET"
	TrailingStop OrderType = "TRAILING_STOP_MARKET"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the status can never transition again. A terminal
// status on a pending order releases its coordinator slot.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order is an exchange-reported order. Identity belongs to the venue; the
// engine only observes it.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Price         float64
	StopPrice     float64
	ActivatePrice float64
	CallbackRate  float64
	Quantity      float64
	ReduceOnly    bool
	Time          time.Time
}

// OrderRequest is a placement request. Exactly one of Quantity or
// ClosePosition is meaningful; Price/StopPrice/ActivationPrice apply per
// Type.
type OrderRequest struct {
	Symbol          string
	Side            Side
	Type            OrderType
	Quantity        float64
	ClosePosition   bool
	Price           float64
	StopPrice       float64
	ActivationPrice float64
	CallbackRate    float64
	ReduceOnly      bool
	TimeInForce     string
	ClientOrderID   string
}

// PositionRecord is one position row from an account snapshot. Hedge-mode
// accounts report up to three rows per symbol (BOTH, LONG, SHORT).
type PositionRecord struct {
	Symbol           string
	PositionSide     string // "BOTH", "LONG" or "SHORT"
	PositionAmt      float64
	EntryPrice       float64
	UnrealizedProfit float64
}

// AccountSnapshot is the venue's whole-account push: balances collapsed to
// the quote asset plus every position row.
type AccountSnapshot struct {
	Balance          float64
	AvailableBalance float64
	Positions        []PositionRecord
	Time             time.Time
}

// BookTop is the top of the order book.
type BookTop struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	Time     time.Time
}

// Mid returns the bid/ask midpoint, or 0 when either side is empty.
func (b BookTop) Mid() float64 {
	if b.BidPrice <= 0 || b.AskPrice <= 0 {
		return 0
	}
	return (b.BidPrice + b.AskPrice) / 2
}

// Ticker carries the last traded price.
type Ticker struct {
	Symbol string
	Last   float64
	Time   time.Time
}

// Kline is one OHLCV candle. Closed is false for the still-forming candle.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}
