package engine

import (
	"time"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/tradelog"
)

// Snapshot is the self-describing view an engine hands to observers. It is
// a value copy; observers may keep it, mutate it or marshal it without
// touching live state.
type Snapshot struct {
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	State    string `json:"state"`

	LastPrice   float64 `json:"lastPrice"`
	PositionAmt float64 `json:"positionAmt"`
	EntryPrice  float64 `json:"entryPrice"`
	DerivedPL   float64 `json:"derivedPL"`
	ReportedPL  float64 `json:"reportedPL"`

	SMA      float64 `json:"sma,omitempty"`
	SMAReady bool    `json:"smaReady,omitempty"`

	OpenOrders []broker.Order `json:"openOrders"`

	TotalTrades   int     `json:"totalTrades"`
	RealizedPL    float64 `json:"realizedPL"`
	SessionVolume float64 `json:"sessionVolume,omitempty"`

	Balance          float64 `json:"balance"`
	AvailableBalance float64 `json:"availableBalance"`

	Log []tradelog.Entry `json:"log"`

	Time time.Time `json:"time"`
}
