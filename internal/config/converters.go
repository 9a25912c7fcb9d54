package config

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/modelstore"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/internal/valueatrisk"
)

// RiskLimits returns the risk manager limits
func (c *Config) RiskLimits() risk.Limits {
	return c.Risk
}

// DownloadLimiter throttles kline requests to requests_per_second with a
// burst of one second's worth.
func (d DataConfig) DownloadLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(d.RequestsPerSecond), max(1, int(d.RequestsPerSecond)))
}

// SizerBudget returns the position sizer budget
func (c *Config) SizerBudget() sizing.Budget {
	return c.Sizer
}

// BacktestConfig returns the backtest configuration. A data symbol fills an
// empty token.
func (c *Config) BacktestConfig() backtest.Config {
	cfg := c.Backtest
	if cfg.Token == "" {
		cfg.Token = c.Data.Symbol
	}
	return cfg
}

// ModelParams returns the boosting parameters
func (c *Config) ModelParams() model.Params {
	return c.Model.Params
}

// VaRMethod parses the configured VaR method.
func (c *Config) VaRMethod() (valueatrisk.Method, error) {
	return valueatrisk.ParseMethod(c.VaR.Method)
}

// FillPolicy parses the configured fill policy.
func (f FeatureConfig) FillPolicy() (features.FillPolicy, error) {
	return features.ParseFillPolicy(f.Fill)
}

// NewSizer builds a position sizer from the sizer budget.
func (c *Config) NewSizer(l zerolog.Logger) (*sizing.Sizer, error) {
	opts := []sizing.Option{sizing.WithLogger(l)}
	if c.Backtest.PeriodsPerYear > 0 {
		opts = append(opts, sizing.WithPeriodsPerYear(c.Backtest.PeriodsPerYear))
	}
	return sizing.NewSizer(c.Sizer, opts...)
}

// NewVaRCalculator builds a VaR calculator from the var section.
func (c *Config) NewVaRCalculator(l zerolog.Logger) (*valueatrisk.Calculator, error) {
	return valueatrisk.NewCalculator(c.VaR.Confidence, c.VaR.Horizon,
		valueatrisk.WithSeed(c.VaR.Seed),
		valueatrisk.WithSimulations(c.VaR.Simulations),
		valueatrisk.WithLogger(l),
	)
}

// NewEngineer builds a feature engineer from the features section.
func (c *Config) NewEngineer(l zerolog.Logger) (*features.Engineer, error) {
	fill, err := c.Features.FillPolicy()
	if err != nil {
		return nil, err
	}
	return features.NewEngineer(
		features.WithFillPolicy(fill),
		features.WithTarget(c.Features.Horizon, c.Features.Threshold),
		features.WithLogger(l),
	), nil
}

// NewSignalModel builds an untrained signal model.
func (c *Config) NewSignalModel(l zerolog.Logger) *model.SignalModel {
	return model.NewSignalModel(c.Model.Params,
		model.WithTopFeatures(c.Model.TopFeatures),
		model.WithLogger(l),
	)
}

// OpenModelStore opens the model store under the configured directory.
func (c *Config) OpenModelStore(l zerolog.Logger) (*modelstore.Store, error) {
	return modelstore.New(c.Store.ModelDir,
		modelstore.WithMaxVersions(c.Store.MaxVersions),
		modelstore.WithLockTimeout(c.Store.LockTimeout),
		modelstore.WithStaleLockAge(c.Store.StaleLockAge),
		modelstore.WithLogger(l),
	)
}

// NewRiskManager builds a risk manager wired to the configured sizer and VaR
// calculator.
func (c *Config) NewRiskManager(initialValue float64, l zerolog.Logger) (*risk.Manager, error) {
	sizer, err := c.NewSizer(l)
	if err != nil {
		return nil, err
	}
	calc, err := c.NewVaRCalculator(l)
	if err != nil {
		return nil, err
	}
	return risk.NewManager(c.Risk, initialValue,
		risk.WithSizer(sizer),
		risk.WithVaRCalculator(calc),
		risk.WithLogger(l),
	)
}

// BacktestOptions returns the backtester options matching this configuration.
func (c *Config) BacktestOptions(l zerolog.Logger) ([]backtest.Option, error) {
	eng, err := c.NewEngineer(l)
	if err != nil {
		return nil, err
	}
	sizer, err := c.NewSizer(l)
	if err != nil {
		return nil, err
	}
	return []backtest.Option{
		backtest.WithEngineer(eng),
		backtest.WithRiskLimits(c.Risk),
		backtest.WithSizer(sizer),
		backtest.WithLogger(l),
	}, nil
}
