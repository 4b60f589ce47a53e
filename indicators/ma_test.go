package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/futures/broker"
)

func closedKlines(closes ...float64) []broker.Kline {
	ks := make([]broker.Kline, len(closes))
	for i, c := range closes {
		ks[i] = broker.Kline{Close: c, Closed: true}
	}
	return ks
}

func TestSMA_Mean(t *testing.T) {
	t.Parallel()

	ks := closedKlines(1, 2, 3, 4, 5)
	got, err := SMA(ks, 5)
	assert.NoError(t, err)
	assert.InDelta(t, 3, got, 1e-12)
}

func TestSMA_UsesLastPeriodOnly(t *testing.T) {
	t.Parallel()

	ks := closedKlines(1000, 1000, 10, 20, 30)
	got, err := SMA(ks, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 20, got, 1e-12)
}

func TestSMA_InsufficientHistory(t *testing.T) {
	t.Parallel()

	ks := closedKlines(1, 2, 3)
	_, err := SMA(ks, 30)
	assert.Error(t, err)
}

func TestSMA_ExcludesFormingKline(t *testing.T) {
	t.Parallel()

	ks := closedKlines(10, 20, 30)
	ks = append(ks, broker.Kline{Close: 9999, Closed: false})

	got, err := SMA(ks, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 20, got, 1e-12)

	// with the forming kline excluded there are only 3 closed rows
	_, err = SMA(ks, 4)
	assert.Error(t, err)
}

func TestSMA_BadPeriod(t *testing.T) {
	t.Parallel()

	_, err := SMA(closedKlines(1, 2), 0)
	assert.Error(t, err)
}
