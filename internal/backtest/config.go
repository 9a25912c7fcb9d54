package backtest

import (
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// SizingMode selects how a BUY signal is turned into a position size
type SizingMode string

const (
	SizingRisk            SizingMode = "risk"
	SizingKelly           SizingMode = "kelly"
	SizingFixedFractional SizingMode = "fixed_fractional"
)

// Config holds backtest parameters. Rates are fractions (0.001 = 0.1%).
type Config struct {
	Token               string     `json:"token" yaml:"token" default:"BTCUSDT"`
	InitialCapital      float64    `json:"initial_capital" yaml:"initial_capital" default:"10000" validate:"gt=0"`
	Commission          float64    `json:"commission" yaml:"commission" default:"0.001" validate:"gte=0,lt=1"`
	Slippage            float64    `json:"slippage" yaml:"slippage" default:"0.0005" validate:"gte=0,lt=1"`
	StopLoss            float64    `json:"stop_loss" yaml:"stop_loss" default:"0.05" validate:"gte=0,lt=1"`
	TakeProfit          float64    `json:"take_profit" yaml:"take_profit" default:"0.1" validate:"gte=0"`
	ConfidenceThreshold float64    `json:"confidence_threshold" yaml:"confidence_threshold" default:"0.1" validate:"gte=0,lte=1"`
	MinProbability      float64    `json:"min_probability" yaml:"min_probability" default:"0.5" validate:"gte=0,lte=1"`
	Sizing              SizingMode `json:"sizing" yaml:"sizing" default:"risk" validate:"oneof=risk kelly fixed_fractional"`
	MinFeatureRows      int        `json:"min_feature_rows" yaml:"min_feature_rows" default:"100" validate:"gte=1"`
	// PeriodsPerYear annualises metrics; 0 derives it from the bar spacing.
	PeriodsPerYear float64 `json:"periods_per_year" yaml:"periods_per_year" validate:"gte=0"`
	RiskFreeRate   float64 `json:"risk_free_rate" yaml:"risk_free_rate" default:"0.02"`
	CloseAtEnd     bool    `json:"close_at_end" yaml:"close_at_end" default:"true"`
}

// DefaultConfig returns the standard backtest configuration
func DefaultConfig() Config {
	return Config{
		Token:               "BTCUSDT",
		InitialCapital:      10000,
		Commission:          0.001,
		Slippage:            0.0005,
		StopLoss:            0.05,
		TakeProfit:          0.1,
		ConfidenceThreshold: 0.1,
		MinProbability:      0.5,
		Sizing:              SizingRisk,
		MinFeatureRows:      100,
		RiskFreeRate:        0.02,
		CloseAtEnd:          true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	const op = "Validate"
	if !(c.InitialCapital > 0) {
		return engineerrors.NewInvalidParameter(component, op, "initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.Commission < 0 || c.Commission >= 1 || c.Slippage < 0 || c.Slippage >= 1 {
		return engineerrors.NewInvalidParameter(component, op, "commission %v and slippage %v must be in [0,1)", c.Commission, c.Slippage)
	}
	if c.StopLoss < 0 || c.StopLoss >= 1 || c.TakeProfit < 0 {
		return engineerrors.NewInvalidParameter(component, op, "stop loss %v must be in [0,1) and take profit %v non-negative", c.StopLoss, c.TakeProfit)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return engineerrors.NewInvalidParameter(component, op, "confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.MinProbability < 0 || c.MinProbability > 1 {
		return engineerrors.NewInvalidProbability(component, op, "min probability %v outside [0,1]", c.MinProbability)
	}
	switch c.Sizing {
	case SizingRisk, SizingKelly, SizingFixedFractional:
	default:
		return engineerrors.NewInvalidParameter(component, op, "unknown sizing mode %q", c.Sizing)
	}
	if c.MinFeatureRows < 1 || c.PeriodsPerYear < 0 {
		return engineerrors.NewInvalidParameter(component, op, "min feature rows must be >= 1 and periods per year >= 0")
	}
	return nil
}
