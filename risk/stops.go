package risk

// StopPrice derives the fixed stop-loss price for a position: the price at
// which the loss on qty reaches lossLimit (account currency).
//
//	long:  entry - lossLimit/qty
//	short: entry + lossLimit/qty
func StopPrice(entry, qty, lossLimit float64, long bool) float64 {
	if qty <= 0 {
		return 0
	}
	dist := lossLimit / qty
	if long {
		return entry - dist
	}
	return entry + dist
}

// ActivationPrice derives the trailing-stop activation price: the profit
// level at which the trailing stop starts tracking the market.
//
//	long:  entry + trailingProfit/qty
//	short: entry - trailingProfit/qty
func ActivationPrice(entry, qty, trailingProfit float64, long bool) float64 {
	if qty <= 0 {
		return 0
	}
	dist := trailingProfit / qty
	if long {
		return entry + dist
	}
	return entry - dist
}

// ProfitLockStop derives the stop price that locks in lockOffset of profit
// once the profit-lock trigger has fired: the stop moves past entry in the
// profitable direction.
func ProfitLockStop(entry, qty, lockOffset float64, long bool) float64 {
	if qty <= 0 {
		return 0
	}
	dist := lockOffset / qty
	if long {
		return entry + dist
	}
	return entry - dist
}

// ShouldLiquidate implements the dual-source forced-liquidation check.
//
// A stop fires when the derived (against-last-price) loss exceeds the
// limit outright, or when the exchange-reported loss exceeds it while the
// derived PnL is simultaneously non-positive. The second clause guards
// against closing on a transient one-sided reading.
func ShouldLiquidate(derivedPL, reportedPL, lossLimit float64) bool {
	if lossLimit <= 0 {
		return false
	}
	if derivedPL < -lossLimit {
		return true
	}
	return reportedPL < -lossLimit && derivedPL <= 0
}
