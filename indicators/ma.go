package indicators

import (
	"fmt"

	"github.com/rustyeddy/futures/broker"
)

// SMA calculates the simple moving average of the close prices of the last
// period closed klines. The still-forming kline is excluded.
//
// An error means the average is undefined (not enough history); callers
// treat that as not-ready rather than a fault.
func SMA(klines []broker.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}

	closed := make([]broker.Kline, 0, len(klines))
	for _, k := range klines {
		if k.Closed {
			closed = append(closed, k)
		}
	}
	if len(closed) < period {
		return 0, fmt.Errorf("not enough closed klines: need %d, got %d", period, len(closed))
	}

	sum := 0.0
	for i := len(closed) - period; i < len(closed); i++ {
		sum += closed[i].Close
	}
	return sum / float64(period), nil
}
