// Package risk holds the stateless position and stop math shared by the
// strategy engines: position extraction from account snapshots, stop and
// trailing-activation price derivation, and the dual-source liquidation
// check.
package risk

import (
	"math"

	"github.com/rustyeddy/futures/broker"
)

// FlatEpsilon is the position magnitude below which the engine treats
// itself as flat.
const FlatEpsilon = 1e-5

// Position is the engine's view of current exposure, derived fresh from the
// latest account snapshot on every read. Sign of Amt encodes direction.
type Position struct {
	Amt              float64
	EntryPrice       float64
	UnrealizedProfit float64
}

// Flat reports whether the exposure is below the flat epsilon.
func (p Position) Flat() bool {
	return math.Abs(p.Amt) < FlatEpsilon
}

// Side returns the direction of the held position. Meaningless when flat.
func (p Position) Side() broker.Side {
	if p.Amt < 0 {
		return broker.Sell
	}
	return broker.Buy
}

// DerivedPL is the profit measured against the last traded price. It is the
// first of the two PnL sources; the exchange-reported UnrealizedProfit is
// the second, and the two can disagree transiently.
func (p Position) DerivedPL(lastPrice float64) float64 {
	return p.Amt * (lastPrice - p.EntryPrice)
}

// GetPosition extracts the position for symbol from an account snapshot.
//
// Hedge-mode residue can leave multiple rows per symbol. The pick is a
// deterministic tie-break, not an aggregation: the one-way "BOTH" row wins
// if present, else the largest-magnitude exposure, else the first row.
// ok is false when the snapshot has no row for the symbol.
func GetPosition(acct broker.AccountSnapshot, symbol string) (Position, bool) {
	var rows []broker.PositionRecord
	for _, r := range acct.Positions {
		if r.Symbol == symbol {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return Position{}, false
	}

	pick := rows[0]
	for _, r := range rows {
		if r.PositionSide == "BOTH" {
			pick = r
			return position(pick), true
		}
	}
	for _, r := range rows[1:] {
		if math.Abs(r.PositionAmt) > math.Abs(pick.PositionAmt) {
			pick = r
		}
	}
	return position(pick), true
}

func position(r broker.PositionRecord) Position {
	return Position{
		Amt:              r.PositionAmt,
		EntryPrice:       r.EntryPrice,
		UnrealizedProfit: r.UnrealizedProfit,
	}
}
