// Package journal records closed trades to durable storage. It is an
// optional collaborator: the engines work unchanged with a nil journal.
package journal

import "time"

type TradeRecord struct {
	TradeID    string
	Strategy   string // "trend" or "maker"
	Symbol     string
	Side       string // side of the closed exposure: BUY for longs
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string // Crossover, StopLoss, TrailingStop, ForcedClose, ...
}

type Journal interface {
	RecordTrade(TradeRecord) error
	Close() error
}
