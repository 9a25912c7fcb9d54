package main

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

type recordingNotifier struct {
	levels   []notifications.Level
	messages []string
}

func (r *recordingNotifier) SendAlert(_ context.Context, level notifications.Level, msg string) error {
	r.levels = append(r.levels, level)
	r.messages = append(r.messages, msg)
	return nil
}

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, parseSymbols(" btcusdt, ,ethusdt", "X"))
	assert.Equal(t, []string{"SOLUSDT"}, parseSymbols("", "solusdt"))
}

func TestAlerterThreshold(t *testing.T) {
	rec := &recordingNotifier{}
	a := &alerter{notifier: rec, minLevel: risk.LevelHigh, logger: zerolog.Nop()}
	rep := &backtest.Report{Token: "BTCUSDT", TotalReturn: -0.12, MaxDrawdown: 0.3}

	a.reviewed(context.Background(), rep, &reporting.RiskSummary{Assessment: &risk.Assessment{Level: risk.LevelMedium}})
	a.reviewed(context.Background(), rep, nil)
	assert.Empty(t, rec.messages)

	summary := &reporting.RiskSummary{
		Assessment: &risk.Assessment{Level: risk.LevelHigh, Score: 7, Warnings: []string{"drawdown 30.0% exceeds limit"}},
		Stress:     &risk.StressReport{WorstScenario: "crash", WorstLossPct: 0.4},
	}
	a.reviewed(context.Background(), rep, summary)
	require.Len(t, rec.messages, 1)
	assert.Equal(t, notifications.LevelWarning, rec.levels[0])
	assert.Contains(t, rec.messages[0], "*BTCUSDT* risk HIGH (score 7)")
	assert.Contains(t, rec.messages[0], "Return -12.00%")
	assert.Contains(t, rec.messages[0], "Worst stress: crash (40.00%)")
	assert.Contains(t, rec.messages[0], "drawdown 30.0% exceeds limit")

	a.failed(context.Background(), "ETHUSDT", errors.New("boom"))
	assert.Equal(t, notifications.LevelError, rec.levels[1])
	assert.Contains(t, rec.messages[1], "ETHUSDT")
}

func TestAlignedReturnsUsesCommonTail(t *testing.T) {
	curve := func(values ...float64) []backtest.EquityPoint {
		out := make([]backtest.EquityPoint, len(values))
		for i, v := range values {
			out[i].PortfolioValue = v
		}
		return out
	}
	reports := []*backtest.Report{
		{Token: "A", Equity: curve(50, 100, 110, 121)},
		{Token: "B", Equity: curve(200, 100, 100)},
	}

	returns, tokens := alignedReturns(reports)
	assert.Equal(t, []string{"A", "B"}, tokens)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0][0], 1e-12)
	assert.InDelta(t, -0.5, returns[0][1], 1e-12)
	assert.InDelta(t, 0.1, returns[1][0], 1e-12)
	assert.InDelta(t, 0.0, returns[1][1], 1e-12)

	short := []*backtest.Report{{Token: "A", Equity: curve(1, 2)}}
	returns, _ = alignedReturns(short)
	assert.Nil(t, returns)
}
