package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

var seriesStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seriesFromCloses builds hourly bars whose open is the previous close.
func seriesFromCloses(closes []float64) types.Series {
	series := make(types.Series, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		series[i] = types.OHLCV{
			Timestamp: seriesStart.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, c) * 1.002,
			Low:       math.Min(open, c) * 0.998,
			Close:     c,
			Volume:    1000 + float64(i%7)*10,
		}
	}
	return series
}

func randomWalk(n int, seed uint64) types.Series {
	rng := rand.New(rand.NewPCG(seed, seed+11))
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 1 + 0.01*rng.NormFloat64()
		closes[i] = price
	}
	return seriesFromCloses(closes)
}

func uptrend(n int, seed uint64) types.Series {
	rng := rand.New(rand.NewPCG(seed, seed+3))
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i) + 0.4*(rng.Float64()-0.5)
	}
	return seriesFromCloses(closes)
}

// scriptedSignals returns directions from a function of the call index.
type scriptedSignals struct {
	direction   func(i int) model.Direction
	failAt      int
	calls       int
	probability float64 // 0.9 when unset
}

func (s *scriptedSignals) GenerateSignal(row features.Row, threshold, minProbability float64) (model.TradingSignal, error) {
	i := s.calls
	s.calls++
	if i == s.failAt {
		return model.TradingSignal{}, errors.New("feature schema drift")
	}
	p := s.probability
	if p == 0 {
		p = 0.9
	}
	return model.TradingSignal{
		Direction:   s.direction(i),
		Confidence:  0.8,
		Probability: p,
		Timestamp:   row.Timestamp,
	}, nil
}

// gatedSignals holds the first signal until release is closed.
type gatedSignals struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSignals) GenerateSignal(row features.Row, threshold, minProbability float64) (model.TradingSignal, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return model.TradingSignal{Direction: model.DirectionHold, Probability: 0.5, Timestamp: row.Timestamp}, nil
}

func alwaysBuy() *scriptedSignals {
	return &scriptedSignals{direction: func(int) model.Direction { return model.DirectionBuy }, failAt: -1}
}

func alternating(period int) *scriptedSignals {
	return &scriptedSignals{
		direction: func(i int) model.Direction {
			switch i % period {
			case 0:
				return model.DirectionBuy
			case period / 2:
				return model.DirectionSell
			}
			return model.DirectionHold
		},
		failAt: -1,
	}
}

func assertCapitalConserved(t *testing.T, r *Report) {
	t.Helper()
	lhs := r.FinalCash + r.FinalPositionValue + r.TotalCommission + r.TotalSlippage
	rhs := r.InitialCapital + r.RealizedPnL + r.UnrealizedPnL
	assert.InDelta(t, rhs, lhs, 1e-6)
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.InitialCapital = 0
	assert.ErrorIs(t, cfg.Validate(), engineerrors.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.Sizing = "martingale"
	assert.ErrorIs(t, cfg.Validate(), engineerrors.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.MinProbability = 1.2
	assert.ErrorIs(t, cfg.Validate(), engineerrors.ErrInvalidProbability)

	_, err := NewBacktester(DefaultConfig(), nil)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}

// TestRun_CapitalConservation tests that costs and P&L account for every unit of capital
func TestRun_CapitalConservation(t *testing.T) {
	for _, mode := range []SizingMode{SizingRisk, SizingKelly, SizingFixedFractional} {
		for _, closeAtEnd := range []bool{true, false} {
			cfg := DefaultConfig()
			cfg.Sizing = mode
			cfg.CloseAtEnd = closeAtEnd
			cfg.StopLoss = 0.02
			cfg.TakeProfit = 0.03

			bt, err := NewBacktester(cfg, alternating(12))
			require.NoError(t, err)
			report, err := bt.Run(context.Background(), randomWalk(400, 5))
			require.NoError(t, err, mode)

			assert.Greater(t, report.TotalTrades, 0, mode)
			assert.Greater(t, report.TotalCommission, 0.0)
			assert.Greater(t, report.TotalSlippage, 0.0)
			assertCapitalConserved(t, report)
			if closeAtEnd {
				assert.Equal(t, 0.0, report.FinalPositionValue)
				assert.Equal(t, 0.0, report.UnrealizedPnL)
			}

			for _, p := range report.Equity {
				assert.InDelta(t, p.PortfolioValue, p.Cash+p.PositionValue, 1e-9)
			}
			assert.LessOrEqual(t, report.MaxDrawdown, 0.0)
		}
	}
}

// TestRun_InsufficientData tests that short histories fail before any state change
func TestRun_InsufficientData(t *testing.T) {
	bt, err := NewBacktester(DefaultConfig(), alwaysBuy())
	require.NoError(t, err)

	_, err = bt.Run(context.Background(), randomWalk(120, 1))
	assert.ErrorIs(t, err, engineerrors.ErrInsufficientData)
	assert.Equal(t, StateIdle, bt.State())
	assert.Equal(t, DefaultConfig().InitialCapital, bt.Account().Cash)
	assert.Zero(t, bt.Account().Trades)

	_, err = bt.Run(context.Background(), randomWalk(20, 1))
	assert.ErrorIs(t, err, engineerrors.ErrInsufficientData)
	assert.Equal(t, StateIdle, bt.State())
}

// TestRun_AbortsOnBarError tests that a failing bar aborts with context
func TestRun_AbortsOnBarError(t *testing.T) {
	signals := alwaysBuy()
	signals.failAt = 30
	bt, err := NewBacktester(DefaultConfig(), signals)
	require.NoError(t, err)

	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 100 + 0.01*float64(i)
	}
	series := seriesFromCloses(closes)
	report, err := bt.Run(context.Background(), series)
	require.Error(t, err)
	assert.Nil(t, report)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 30, runErr.BarIndex)
	assert.Equal(t, series[features.WarmupBars+30].Timestamp, runErr.Timestamp)
	assert.NotNil(t, runErr.Snapshot.Position)
	assert.Contains(t, err.Error(), "feature schema drift")

	assert.Equal(t, StateClosed, bt.State())
	assert.Nil(t, bt.Report())
	assert.Equal(t, 1, bt.Account().Trades)
}

// TestRun_ContextCancelled tests that cancellation aborts the run
func TestRun_ContextCancelled(t *testing.T) {
	bt, err := NewBacktester(DefaultConfig(), alwaysBuy())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bt.Run(ctx, randomWalk(300, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRun_StopLossTakesPriority tests forced exits and no re-entry on the same bar
func TestRun_StopLossTakesPriority(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 0.05*float64(i)
		if i >= 150 {
			closes[i] *= 0.9
		}
	}
	cfg := DefaultConfig()
	bt, err := NewBacktester(cfg, alwaysBuy())
	require.NoError(t, err)

	report, err := bt.Run(context.Background(), seriesFromCloses(closes))
	require.NoError(t, err)
	require.Len(t, report.Trades, 4)

	assert.Equal(t, SideBuy, report.Trades[0].Side)
	assert.Equal(t, SideSell, report.Trades[1].Side)
	assert.Equal(t, ReasonStopLoss, report.Trades[1].Reason)
	assert.Less(t, report.Trades[1].PnL, 0.0)
	assert.Equal(t, SideBuy, report.Trades[2].Side)
	assert.True(t, report.Trades[2].Timestamp.After(report.Trades[1].Timestamp))
	assert.Equal(t, ReasonEndOfRun, report.Trades[3].Reason)

	assert.Equal(t, 2, report.ClosedTrades)
	assertCapitalConserved(t, report)
}

// TestRun_RequiresReset tests the idle/running/closed lifecycle
func TestRun_RequiresReset(t *testing.T) {
	signals := alternating(10)
	bt, err := NewBacktester(DefaultConfig(), signals)
	require.NoError(t, err)
	series := randomWalk(200, 4)

	first, err := bt.Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, bt.State())

	_, err = bt.Run(context.Background(), series)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)

	require.NoError(t, bt.Reset())
	assert.Equal(t, StateIdle, bt.State())
	signals.calls = 0

	second, err := bt.Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, first.FinalValue, second.FinalValue)
	assert.Equal(t, len(first.Trades), len(second.Trades))
}

// TestRun_KellyWithCertainSignal tests that a probability of one sizes instead of aborting
func TestRun_KellyWithCertainSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sizing = SizingKelly
	signals := alternating(12)
	signals.probability = 1

	bt, err := NewBacktester(cfg, signals)
	require.NoError(t, err)
	report, err := bt.Run(context.Background(), randomWalk(300, 3))
	require.NoError(t, err)
	assert.Greater(t, report.TotalTrades, 0)
	assertCapitalConserved(t, report)
}

// TestRun_ConcurrentRunIsRejected tests that only one Run owns an instance at a time
func TestRun_ConcurrentRunIsRejected(t *testing.T) {
	gate := &gatedSignals{entered: make(chan struct{}), release: make(chan struct{})}
	bt, err := NewBacktester(DefaultConfig(), gate)
	require.NoError(t, err)
	series := randomWalk(200, 4)

	done := make(chan error, 1)
	go func() {
		_, err := bt.Run(context.Background(), series)
		done <- err
	}()
	<-gate.entered

	assert.Equal(t, StateRunning, bt.State())
	_, err = bt.Run(context.Background(), series)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, bt.State())
}

// TestUptrendScenario tests the end-to-end path from features to a profitable backtest
func TestUptrendScenario(t *testing.T) {
	series := uptrend(300, 9)

	table, err := features.NewEngineer().CreateFeatures(series)
	require.NoError(t, err)

	m := model.NewSignalModel(model.DefaultParams())
	_, err = m.Train(table.Matrix(), nil)
	require.NoError(t, err)

	last := table.Rows[len(table.Rows)-1]
	signal, err := m.GenerateSignal(last, 0.1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, model.DirectionBuy, signal.Direction)
	assert.Greater(t, signal.Confidence, 0.0)

	again, err := m.GenerateSignal(last, 0.1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, signal.Probability, again.Probability)

	bt, err := NewBacktester(DefaultConfig(), m)
	require.NoError(t, err)
	report, err := bt.Run(context.Background(), series)
	require.NoError(t, err)

	assert.Greater(t, report.TotalReturn, 0.0)
	assert.LessOrEqual(t, report.MaxDrawdown, 0.0)
	assert.Greater(t, report.ClosedTrades, 0)
	assert.Greater(t, report.Signals[string(model.DirectionBuy)], 0)
	assertCapitalConserved(t, report)
}

// TestReportJSON tests that infinite ratios survive encoding as null
func TestReportJSON(t *testing.T) {
	r := Report{Token: "BTCUSDT", ProfitFactor: math.Inf(1), SortinoRatio: 1.5, CalmarRatio: math.Inf(1)}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":null`)
	assert.Contains(t, string(data), `"sortino_ratio":1.5`)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(back.ProfitFactor, 1))
	assert.True(t, math.IsInf(back.CalmarRatio, 1))
	assert.Equal(t, 1.5, back.SortinoRatio)
	assert.Equal(t, "BTCUSDT", back.Token)
}
