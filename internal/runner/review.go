package runner

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// fallbackStopLoss sizes the hypothetical entry when stops are disabled.
const fallbackStopLoss = 0.05

// Review is the post-run risk picture of a backtest.
type Review struct {
	Assessment risk.Assessment   `json:"assessment"`
	Stress     risk.StressReport `json:"stress"`
	// Hypothetical is set when the book was flat at the end and the
	// assessed position is the next entry the limits would allow.
	Hypothetical bool `json:"hypothetical"`
}

// ReviewRun replays the equity curve of rep into rm and assesses the
// resulting book. rm must be fresh and built with rep's initial capital.
func ReviewRun(rm *risk.Manager, rep *backtest.Report, series types.Series, stopLoss float64, logger zerolog.Logger) (*Review, error) {
	if len(series) < 2 {
		return nil, engineerrors.NewInsufficientData("runner", "ReviewRun", len(series), 2)
	}
	if !(stopLoss > 0 && stopLoss < 1) {
		stopLoss = fallbackStopLoss
	}
	for _, p := range rep.Equity {
		if err := rm.UpdatePortfolioMetrics(p.PortfolioValue, p.Timestamp); err != nil {
			return nil, err
		}
	}

	returns := closeReturns(series)
	// per-period volatility, the unit risk limits are expressed in
	vol := 0.0
	if len(returns) > 1 {
		vol = stat.StdDev(returns, nil)
	}

	review := &Review{}
	last := series[len(series)-1]
	position := risk.Position{
		Token:        rep.Token,
		CurrentPrice: last.Close,
		Volatility:   vol,
		OpenedAt:     last.Timestamp,
		Returns:      returns,
	}

	switch {
	case rep.FinalPositionValue > 0:
		position.EntryPrice = lastEntryPrice(rep)
		position.Quantity = rep.FinalPositionValue / last.Close
	case rep.FinalValue > 0:
		size, err := rm.CalculatePositionSize(0.5, last.Close, vol, rep.FinalValue, stopLoss)
		if err != nil {
			return nil, err
		}
		position.EntryPrice = last.Close
		position.Quantity = size.Quantity
		position.RiskAmount = size.RiskAmount
		review.Hypothetical = true
	}

	if position.EntryPrice > 0 && position.Quantity > 0 {
		if err := rm.AddPosition(position); err != nil {
			return nil, err
		}
	}

	review.Assessment = rm.AssessPortfolioRisk()
	review.Stress = rm.RunStressTest(nil)

	logger.Info().
		Str("token", rep.Token).
		Str("level", string(review.Assessment.Level)).
		Bool("hypothetical", review.Hypothetical).
		Str("worst_scenario", review.Stress.WorstScenario).
		Float64("worst_loss", review.Stress.WorstLoss).
		Msg("Risk review complete")
	return review, nil
}

func closeReturns(series types.Series) []float64 {
	closes := series.Closes()
	out := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

func lastEntryPrice(rep *backtest.Report) float64 {
	for i := len(rep.Trades) - 1; i >= 0; i-- {
		if rep.Trades[i].Side == backtest.SideBuy {
			return rep.Trades[i].Price
		}
	}
	if n := len(rep.Equity); n > 0 {
		return rep.Equity[n-1].Price
	}
	return 0
}
