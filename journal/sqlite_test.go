package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func newTestSQLite(t *testing.T) (*SQLiteJournal, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	assert.NoError(t, err)
	return j, path
}

func sampleTrade(id string, closed time.Time, pl float64) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		Strategy:   "trend",
		Symbol:     "BTCUSDT",
		Side:       "BUY",
		Quantity:   0.002,
		EntryPrice: 50000,
		ExitPrice:  50500,
		OpenTime:   closed.Add(-time.Hour),
		CloseTime:  closed,
		RealizedPL: pl,
		Reason:     "StopLoss",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='trades'`).Scan(&name)
	assert.NoError(t, err)
	assert.Equal(t, "trades", name)
}

func TestSQLiteRecordAndGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	closed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.NoError(t, j.RecordTrade(sampleTrade("T1", closed, 1)))

	got, err := j.GetTrade("T1")
	assert.NoError(t, err)
	assert.Equal(t, "trend", got.Strategy)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.InDelta(t, 1, got.RealizedPL, 1e-9)
	assert.True(t, got.CloseTime.Equal(closed))

	_, err = j.GetTrade("missing")
	assert.Error(t, err)
}

func TestSQLiteListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, j.RecordTrade(sampleTrade("T1", base.Add(1*time.Hour), 1)))
	assert.NoError(t, j.RecordTrade(sampleTrade("T2", base.Add(2*time.Hour), 2)))
	assert.NoError(t, j.RecordTrade(sampleTrade("T3", base.Add(25*time.Hour), 3)))

	got, err := j.ListTradesClosedBetween(base, base.Add(24*time.Hour))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "T1", got[0].TradeID)
	assert.Equal(t, "T2", got[1].TradeID)
}

func TestSQLiteTotalRealizedPL(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, j.RecordTrade(sampleTrade("T1", base, 1.5)))
	assert.NoError(t, j.RecordTrade(sampleTrade("T2", base.Add(time.Hour), -0.5)))

	other := sampleTrade("T3", base, 100)
	other.Strategy = "maker"
	assert.NoError(t, j.RecordTrade(other))

	total, err := j.TotalRealizedPL("trend")
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, total, 1e-9)

	empty, err := j.TotalRealizedPL("unknown")
	assert.NoError(t, err)
	assert.Zero(t, empty)
}
