package risk

import (
	"time"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// Limits are the portfolio-level risk limits. Ratios are fractions of
// portfolio value unless noted.
type Limits struct {
	MaxDailyLoss      float64 `json:"max_daily_loss" yaml:"max_daily_loss" default:"0.05" validate:"gt=0,lte=1"`
	MaxSinglePosition float64 `json:"max_single_position" yaml:"max_single_position" default:"0.25" validate:"gt=0,lte=1"`
	MaxPortfolioVaR   float64 `json:"max_portfolio_var" yaml:"max_portfolio_var" default:"0.1" validate:"gt=0,lte=1"`
	MaxCorrelation    float64 `json:"max_correlation" yaml:"max_correlation" default:"0.7" validate:"gt=0,lte=1"`
	MaxConcentration  float64 `json:"max_concentration" yaml:"max_concentration" default:"0.4" validate:"gt=0,lte=1"`
	MaxPositions      int     `json:"max_positions" yaml:"max_positions" default:"10" validate:"gte=1"`
	MaxDrawdown       float64 `json:"max_drawdown" yaml:"max_drawdown" default:"0.2" validate:"gt=0,lte=1"`

	// MaxPortfolioRisk caps the summed value*volatility of open positions.
	MaxPortfolioRisk float64 `json:"max_portfolio_risk" yaml:"max_portfolio_risk" default:"0.1" validate:"gt=0,lte=1"`
	// RiskPerTrade is the base capital at risk when a new position is sized.
	RiskPerTrade        float64 `json:"risk_per_trade" yaml:"risk_per_trade" default:"0.02" validate:"gt=0,lte=1"`
	ReferenceVolatility float64 `json:"reference_volatility" yaml:"reference_volatility" default:"0.02" validate:"gt=0"`
	MinPositionSize     float64 `json:"min_position_size" yaml:"min_position_size" default:"0.01" validate:"gte=0,lte=1"`
	MaxPositionSize     float64 `json:"max_position_size" yaml:"max_position_size" default:"0.25" validate:"gt=0,lte=1"`
	// TargetVolatility is annualised and only used by volatility-targeted allocation.
	TargetVolatility float64 `json:"target_volatility" yaml:"target_volatility" default:"0.2" validate:"gt=0"`
}

// DefaultLimits returns the standard limits
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:        0.05,
		MaxSinglePosition:   0.25,
		MaxPortfolioVaR:     0.1,
		MaxCorrelation:      0.7,
		MaxConcentration:    0.4,
		MaxPositions:        10,
		MaxDrawdown:         0.2,
		MaxPortfolioRisk:    0.1,
		RiskPerTrade:        0.02,
		ReferenceVolatility: 0.02,
		MinPositionSize:     0.01,
		MaxPositionSize:     0.25,
		TargetVolatility:    0.2,
	}
}

// Validate checks the limits are usable.
func (l Limits) Validate() error {
	ratios := map[string]float64{
		"max_daily_loss":      l.MaxDailyLoss,
		"max_single_position": l.MaxSinglePosition,
		"max_portfolio_var":   l.MaxPortfolioVaR,
		"max_correlation":     l.MaxCorrelation,
		"max_concentration":   l.MaxConcentration,
		"max_drawdown":        l.MaxDrawdown,
		"max_portfolio_risk":  l.MaxPortfolioRisk,
		"risk_per_trade":      l.RiskPerTrade,
		"max_position_size":   l.MaxPositionSize,
	}
	for name, v := range ratios {
		if !(v > 0 && v <= 1) {
			return engineerrors.NewInvalidParameter(component, "Validate", "%s must be in (0,1], got %v", name, v)
		}
	}
	if l.MaxPositions < 1 {
		return engineerrors.NewInvalidParameter(component, "Validate", "max_positions must be >= 1")
	}
	if l.MinPositionSize < 0 || l.MinPositionSize > l.MaxPositionSize {
		return engineerrors.NewInvalidParameter(component, "Validate", "min_position_size %v outside [0, %v]", l.MinPositionSize, l.MaxPositionSize)
	}
	if l.ReferenceVolatility <= 0 || l.TargetVolatility <= 0 {
		return engineerrors.NewInvalidParameter(component, "Validate", "volatility targets must be positive")
	}
	return nil
}

// Position is an open holding tracked by the manager.
type Position struct {
	Token         string    `json:"token"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      float64   `json:"quantity"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Volatility    float64   `json:"volatility"`
	RiskAmount    float64   `json:"risk_amount"`
	OpenedAt      time.Time `json:"opened_at"`
	// Returns is an optional per-period return history used for correlation checks.
	Returns []float64 `json:"returns,omitempty"`
}

// Value is the marked position value
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

func (p *Position) mark(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity
	p.RiskAmount = p.Value() * p.Volatility
}

// Rejection reasons returned by CheckRiskLimits.
const (
	ReasonMaxPositions    = "Maximum positions limit reached"
	ReasonSinglePosition  = "Position size exceeds single position limit"
	ReasonPortfolioRisk   = "Portfolio risk limit exceeded"
	ReasonDailyLoss       = "Daily loss limit exceeded"
	ReasonDrawdown        = "Maximum drawdown exceeded"
	ReasonInvalidPosition = "Invalid position parameters"
)

// Decision is the outcome of a pre-trade limit check. A rejection is an
// expected result, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Err converts a rejection into an ErrRiskLimitExceeded error, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return engineerrors.NewRiskLimitExceeded(component, "CheckRiskLimits", d.Reason).WithContext("code", d.Code)
}

func allow() Decision { return Decision{Allowed: true} }

func reject(code, reason string) Decision {
	return Decision{Allowed: false, Reason: reason, Code: code}
}

// Sizing is a risk-budgeted position size.
type Sizing struct {
	Quantity   float64 `json:"quantity"`
	Value      float64 `json:"value"`
	RiskAmount float64 `json:"risk_amount"`
	// Limit names the constraint that bound the size, empty when none did.
	Limit string `json:"limit,omitempty"`
}
