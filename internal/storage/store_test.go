package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/backtest"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/performance"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrderRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendOrderRecord(ctx, types.OrderRecord{
		ID: "a", Time: base, StrategyID: "grid", StrategyName: "Grid", Symbol: "BTC-USDT",
		SignalType: "buy", OrderID: "o-1", Side: types.SideBuy, Size: 0.25, Price: 100, Success: true,
	}))
	require.NoError(t, s.AppendOrderRecord(ctx, types.OrderRecord{
		ID: "b", Time: base.Add(time.Minute), StrategyID: "grid", Symbol: "BTC-USDT",
		SignalType: "sell", Side: types.SideSell, Size: 0.25, Price: 101, ErrorMessage: "rejected",
	}))

	recs, err := s.ListOrderRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "b", recs[0].ID)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "rejected", recs[0].ErrorMessage)
	assert.Equal(t, types.SideSell, recs[0].Side)

	assert.Equal(t, "a", recs[1].ID)
	assert.True(t, recs[1].Success)
	assert.Equal(t, base, recs[1].Time)
	assert.Equal(t, 0.25, recs[1].Size)
	assert.Equal(t, "o-1", recs[1].OrderID)

	recs, err = s.ListOrderRecords(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestAppendOrderRecordFillsIDAndTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendOrderRecord(ctx, types.OrderRecord{Symbol: "ETH-USDT", Side: types.SideBuy}))
	recs, err := s.ListOrderRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].Time.IsZero())
}

func TestBacktestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	report := backtest.Report{
		StrategyID:   "dual_ma",
		StrategyName: "Dual MA",
		Symbol:       "BTC-USDT",
		Timeframe:    "1H",
		StartTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
		DurationDays: 11,
		Metrics: performance.Metrics{
			InitialCapital: 10000,
			FinalCapital:   10500,
			TotalReturn:    5,
			MaxDrawdown:    2.5,
			SharpeRatio:    1.2,
			TotalTrades:    4,
		},
		EquityCurve: []backtest.EquityPoint{{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Equity: 10000, Cash: 10000}},
	}

	id, err := s.SaveBacktest(ctx, report)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetBacktest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report.StrategyID, got.StrategyID)
	assert.Equal(t, report.Metrics, got.Metrics)
	assert.True(t, report.EndTime.Equal(got.EndTime))
	require.Len(t, got.EquityCurve, 1)

	runs, err := s.ListBacktests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, 5.0, runs[0].TotalReturn)
	assert.Equal(t, 4, runs[0].TotalTrades)

	missing, err := s.GetBacktest(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &Store{dialect: dialectSQLite}
	assert.Equal(t, "WHERE b = ?", lite.rebind("WHERE b = ?"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", "")
	assert.Error(t, err)
}
