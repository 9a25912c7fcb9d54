package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(token string, ret float64) *backtest.Report {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &backtest.Report{
		Token:          token,
		Start:          start,
		End:            start.Add(200 * time.Hour),
		Bars:           200,
		InitialCapital: 10000,
		FinalValue:     10000 * (1 + ret),
		TotalReturn:    ret,
		SharpeRatio:    1.2,
		MaxDrawdown:    -0.05,
		WinRate:        0.6,
		ProfitFactor:   math.Inf(1),
		TotalTrades:    4,
		Trades: []backtest.Trade{
			{Timestamp: start, Side: backtest.SideBuy, Price: 100, Quantity: 1},
		},
	}
}

func TestRunStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, sampleReport("BTCUSDT", 0.12))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sum, report, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sum.ID)
	assert.Equal(t, "BTCUSDT", sum.Token)
	assert.InDelta(t, 0.12, sum.TotalReturn, 1e-12)
	assert.Equal(t, 200, sum.Bars)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), sum.Start)

	assert.Equal(t, 4, report.TotalTrades)
	assert.True(t, math.IsInf(report.ProfitFactor, 1))
	require.Len(t, report.Trades, 1)
	assert.Equal(t, backtest.SideBuy, report.Trades[0].Side)
}

func TestRunStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for i, token := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT", "BTCUSDT"} {
		_, err := s.SaveRun(ctx, sampleReport(token, float64(i)/100))
		require.NoError(t, err)
	}

	btc, err := s.ListRuns(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.InDelta(t, 0.03, btc[0].TotalReturn, 1e-12)
	assert.InDelta(t, 0.02, btc[1].TotalReturn, 1e-12)
	assert.True(t, btc[0].CreatedAt.After(btc[1].CreatedAt))

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.ListRuns(ctx, "SOLUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
