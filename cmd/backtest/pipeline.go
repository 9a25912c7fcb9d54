package main

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/crypto-risk-engine/cmd/common"
	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/modelstore"
	"github.com/ducminhle1904/crypto-risk-engine/internal/runner"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// resolveModel loads the requested model version. With version 0 and no
// stored model, or with retrain set, a new model is trained and saved.
func resolveModel(ctx context.Context, env *common.Env, models *modelstore.Store, token string, series types.Series, version int, retrain bool) (*model.SignalModel, error) {
	log := env.Logger
	if !retrain {
		var (
			m    *model.SignalModel
			meta *modelstore.Metadata
			err  error
		)
		if version > 0 {
			m, meta, err = models.Load(token, version)
		} else {
			m, meta, err = models.LoadLatest(token)
		}
		if err != nil {
			return nil, err
		}
		if m != nil {
			log.Info().Str("token", token).Int("version", meta.Version).
				Time("trained", meta.TrainingDate).Msg("Model loaded")
			return m, nil
		}
		log.Info().Str("token", token).Msg("No stored model, training one")
	}

	res, err := env.Train(ctx, token, series, env.Config.Model.Folds, 0)
	if err != nil {
		return nil, err
	}
	if _, err := models.Save(res.Model, token, res.Labels(env.Config.Data.Interval)); err != nil {
		return nil, err
	}
	return res.Model, nil
}

// reviewRisk assesses the end-of-run book and computes VaR with the
// configured method.
func reviewRisk(env *common.Env, rep *backtest.Report, series types.Series) (*reporting.RiskSummary, error) {
	cfg := env.Config
	rm, err := cfg.NewRiskManager(rep.InitialCapital, env.Logger)
	if err != nil {
		return nil, err
	}
	review, err := runner.ReviewRun(rm, rep, series, rep.Config.StopLoss, env.Logger)
	if err != nil {
		return nil, err
	}
	method, err := cfg.VaRMethod()
	if err != nil {
		return nil, err
	}
	if res, err := rm.PortfolioVaR(method); err == nil {
		review.Assessment.VaR = &res
	} else {
		env.Logger.Debug().Err(err).Msg("Portfolio VaR unavailable")
	}
	return &reporting.RiskSummary{Assessment: &review.Assessment, Stress: &review.Stress}, nil
}

// printAllocation suggests weights across the strategies of several symbols
// from their aligned per-bar equity returns.
func printAllocation(env *common.Env, console *reporting.ConsoleReporter, reports []*backtest.Report, method sizing.Method) error {
	returns, tokens := alignedReturns(reports)
	if len(returns) < 2 {
		return fmt.Errorf("not enough overlapping bars across %d symbols", len(reports))
	}

	capital := 0.0
	weights := make([]float64, len(tokens))
	for i, rep := range reports {
		capital += rep.FinalValue
		weights[i] = 1 / float64(len(tokens))
	}
	rm, err := env.Config.NewRiskManager(capital, env.Logger)
	if err != nil {
		return err
	}
	alloc, err := rm.SuggestAllocation(method, returns, sizing.Bounds{Min: 0, Max: 1})
	if err != nil {
		return err
	}
	if len(alloc.Weights) == len(tokens) {
		weights = alloc.Weights
	}

	calc, err := env.Config.NewVaRCalculator(env.Logger)
	if err != nil {
		return err
	}
	varMethod, err := env.Config.VaRMethod()
	if err != nil {
		return err
	}
	contrib, err := calc.VaRContribution(returns, weights, capital, varMethod)
	if err != nil {
		console.PrintAllocation(tokens, alloc, nil)
		return nil
	}
	console.PrintAllocation(tokens, alloc, &contrib)
	return nil
}

// alignedReturns builds a periods x assets matrix from the trailing bars
// every equity curve has.
func alignedReturns(reports []*backtest.Report) ([][]float64, []string) {
	n := -1
	tokens := make([]string, len(reports))
	for i, rep := range reports {
		tokens[i] = rep.Token
		if n < 0 || len(rep.Equity) < n {
			n = len(rep.Equity)
		}
	}
	if n < 3 {
		return nil, tokens
	}
	out := make([][]float64, n-1)
	for t := range out {
		out[t] = make([]float64, len(reports))
		for j, rep := range reports {
			eq := rep.Equity[len(rep.Equity)-n:]
			if prev := eq[t].PortfolioValue; prev > 0 {
				out[t][j] = eq[t+1].PortfolioValue/prev - 1
			}
		}
	}
	return out, tokens
}
