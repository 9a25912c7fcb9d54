package sizing

import (
	"math"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

const component = "sizer"

// Budget is the risk budget every sizing method works within.
type Budget struct {
	MaxPortfolioRisk  float64 `json:"max_portfolio_risk" yaml:"max_portfolio_risk" default:"0.02" validate:"gt=0,lte=1"`
	MaxSinglePosition float64 `json:"max_single_position" yaml:"max_single_position" default:"0.25" validate:"gt=0,lte=1"`
	RiskFreeRate      float64 `json:"risk_free_rate" yaml:"risk_free_rate" default:"0.02" validate:"gte=0"`
}

// DefaultBudget returns a conservative budget
func DefaultBudget() Budget {
	return Budget{
		MaxPortfolioRisk:  0.02,
		MaxSinglePosition: 0.25,
		RiskFreeRate:      0.02,
	}
}

// Sizer converts trade opportunities and return histories into position sizes.
type Sizer struct {
	budget         Budget
	periodsPerYear float64
	maxEvaluations int
	logger         zerolog.Logger
}

// Option configures a Sizer
type Option func(*Sizer)

// WithPeriodsPerYear sets the annualisation factor for return statistics
func WithPeriodsPerYear(n float64) Option {
	return func(s *Sizer) { s.periodsPerYear = n }
}

// WithMaxEvaluations caps objective evaluations per optimisation
func WithMaxEvaluations(n int) Option {
	return func(s *Sizer) { s.maxEvaluations = n }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sizer) { s.logger = l }
}

// NewSizer validates the budget and builds a Sizer.
func NewSizer(budget Budget, opts ...Option) (*Sizer, error) {
	if !(budget.MaxPortfolioRisk > 0 && budget.MaxPortfolioRisk <= 1) {
		return nil, engineerrors.NewInvalidParameter(component, "NewSizer", "max portfolio risk %v outside (0,1]", budget.MaxPortfolioRisk)
	}
	if !(budget.MaxSinglePosition > 0 && budget.MaxSinglePosition <= 1) {
		return nil, engineerrors.NewInvalidParameter(component, "NewSizer", "max single position %v outside (0,1]", budget.MaxSinglePosition)
	}
	if budget.RiskFreeRate < 0 || math.IsNaN(budget.RiskFreeRate) {
		return nil, engineerrors.NewInvalidParameter(component, "NewSizer", "risk free rate %v is negative", budget.RiskFreeRate)
	}
	s := &Sizer{
		budget:         budget,
		periodsPerYear: 365,
		maxEvaluations: 20000,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.periodsPerYear <= 0 {
		return nil, engineerrors.NewInvalidParameter(component, "NewSizer", "periods per year must be positive")
	}
	return s, nil
}

// Budget returns the configured risk budget
func (s *Sizer) Budget() Budget {
	return s.budget
}

// Size is a capital fraction and the corresponding notional.
type Size struct {
	Fraction float64 `json:"fraction"`
	Amount   float64 `json:"amount"`
	// Raw is the fraction before capping; for Kelly it is the full-Kelly fraction.
	Raw float64 `json:"raw"`
}

// Kelly returns half of the Kelly fraction, capped at the single-position limit.
// avgLoss is the (negative) average losing return.
func (s *Sizer) Kelly(winRate, avgWin, avgLoss, capital float64) (Size, error) {
	if !(winRate > 0 && winRate < 1) {
		return Size{}, engineerrors.NewInvalidProbability(component, "Kelly", "win rate %v outside (0,1)", winRate)
	}
	if !(avgLoss < 0) {
		return Size{}, engineerrors.NewInvalidProbability(component, "Kelly", "average loss %v must be negative", avgLoss)
	}
	if !(avgWin > 0) {
		return Size{}, engineerrors.NewInvalidParameter(component, "Kelly", "average win %v must be positive", avgWin)
	}
	if capital < 0 || math.IsNaN(capital) {
		return Size{}, engineerrors.NewInvalidParameter(component, "Kelly", "capital %v is negative", capital)
	}

	b := math.Abs(avgWin / avgLoss)
	q := 1 - winRate
	full := (b*winRate - q) / b
	fraction := clamp(full/2, 0, s.budget.MaxSinglePosition)
	return Size{Fraction: fraction, Amount: fraction * capital, Raw: full}, nil
}

// FixedFractional risks riskPerTrade of capital, or budget.MaxPortfolioRisk when
// riskPerTrade is zero. A positive volatility scales the fraction to risk/volatility.
func (s *Sizer) FixedFractional(capital, riskPerTrade, volatility float64) (Size, error) {
	if capital < 0 || math.IsNaN(capital) {
		return Size{}, engineerrors.NewInvalidParameter(component, "FixedFractional", "capital %v is negative", capital)
	}
	if riskPerTrade == 0 {
		riskPerTrade = s.budget.MaxPortfolioRisk
	}
	if !(riskPerTrade > 0 && riskPerTrade <= 1) {
		return Size{}, engineerrors.NewInvalidParameter(component, "FixedFractional", "risk per trade %v outside (0,1]", riskPerTrade)
	}
	if volatility < 0 || math.IsNaN(volatility) {
		return Size{}, engineerrors.NewInvalidParameter(component, "FixedFractional", "volatility %v is negative", volatility)
	}

	raw := riskPerTrade
	if volatility > 0 {
		raw = riskPerTrade / volatility
	}
	fraction := clamp(raw, 0, s.budget.MaxSinglePosition)
	return Size{Fraction: fraction, Amount: fraction * capital, Raw: raw}, nil
}

// FixedRatio grows the position by delta*capital, capped at the single-position limit.
func (s *Sizer) FixedRatio(capital, currentPositionValue, delta float64) (Size, error) {
	if !(capital > 0) {
		return Size{}, engineerrors.NewInvalidParameter(component, "FixedRatio", "capital %v must be positive", capital)
	}
	if currentPositionValue < 0 || math.IsNaN(currentPositionValue) {
		return Size{}, engineerrors.NewInvalidParameter(component, "FixedRatio", "position value %v is negative", currentPositionValue)
	}
	if math.IsNaN(delta) {
		return Size{}, engineerrors.NewInvalidParameter(component, "FixedRatio", "delta is NaN")
	}

	raw := (currentPositionValue + delta*capital) / capital
	fraction := clamp(raw, 0, s.budget.MaxSinglePosition)
	return Size{Fraction: fraction, Amount: fraction * capital, Raw: raw}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
