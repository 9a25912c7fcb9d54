package risk

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/internal/valueatrisk"
)

const component = "risk"

// Manager tracks open positions and portfolio value and enforces limits.
// It is safe for concurrent use.
type Manager struct {
	limits Limits
	sizer  *sizing.Sizer
	var95  *valueatrisk.Calculator
	logger zerolog.Logger

	mu            sync.RWMutex
	positions     map[string]*Position
	currentValue  float64
	peakValue     float64
	drawdown      float64
	day           time.Time
	dayStartValue float64
	dailyPnL      float64
	lastUpdate    time.Time
	valueHistory  []float64
}

// Option configures a Manager
type Option func(*Manager)

// WithSizer sets the sizer used for allocation suggestions
func WithSizer(s *sizing.Sizer) Option {
	return func(m *Manager) { m.sizer = s }
}

// WithVaRCalculator sets the calculator behind PortfolioVaR
func WithVaRCalculator(c *valueatrisk.Calculator) Option {
	return func(m *Manager) { m.var95 = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a risk manager starting from initialValue.
func NewManager(limits Limits, initialValue float64, opts ...Option) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if !(initialValue > 0) || math.IsInf(initialValue, 0) {
		return nil, engineerrors.NewInvalidParameter(component, "NewManager", "initial value must be positive, got %v", initialValue)
	}
	m := &Manager{
		limits:        limits,
		logger:        zerolog.Nop(),
		positions:     make(map[string]*Position),
		currentValue:  initialValue,
		peakValue:     initialValue,
		dayStartValue: initialValue,
		valueHistory:  []float64{initialValue},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sizer == nil {
		budget := sizing.DefaultBudget()
		budget.MaxPortfolioRisk = limits.RiskPerTrade
		budget.MaxSinglePosition = limits.MaxSinglePosition
		s, err := sizing.NewSizer(budget, sizing.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.sizer = s
	}
	if m.var95 == nil {
		c, err := valueatrisk.NewCalculator(0.95, 1, valueatrisk.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.var95 = c
	}
	return m, nil
}

// Limits returns the configured limits
func (m *Manager) Limits() Limits { return m.limits }

// AddPosition opens a tracked position. A zero CurrentPrice is set to the entry price.
func (m *Manager) AddPosition(p Position) error {
	if p.Token == "" {
		return engineerrors.NewInvalidParameter(component, "AddPosition", "empty token")
	}
	if !(p.EntryPrice > 0) || !(p.Quantity > 0) || p.Volatility < 0 {
		return engineerrors.NewInvalidParameter(component, "AddPosition",
			"entry price %v and quantity %v must be positive, volatility %v non-negative", p.EntryPrice, p.Quantity, p.Volatility)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.Token]; exists {
		return engineerrors.NewInvalidParameter(component, "AddPosition", "position for %s already open", p.Token)
	}
	if p.CurrentPrice <= 0 {
		p.CurrentPrice = p.EntryPrice
	}
	p.mark(p.CurrentPrice)
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	p.Returns = append([]float64(nil), p.Returns...)
	m.positions[p.Token] = &p

	m.logger.Debug().Str("token", p.Token).Float64("value", p.Value()).Int("open_positions", len(m.positions)).Msg("position added")
	return nil
}

// RemovePosition closes the position for token and returns its last state.
func (m *Manager) RemovePosition(token string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[token]
	if !ok {
		return Position{}, false
	}
	delete(m.positions, token)
	m.logger.Debug().Str("token", token).Float64("unrealized_pnl", p.UnrealizedPnL).Msg("position removed")
	return *p, true
}

// UpdatePrice marks a position to a new price.
func (m *Manager) UpdatePrice(token string, price float64) error {
	if !(price > 0) {
		return engineerrors.NewInvalidParameter(component, "UpdatePrice", "price must be positive, got %v", price)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[token]
	if !ok {
		return engineerrors.NewInvalidParameter(component, "UpdatePrice", "no open position for %s", token)
	}
	p.mark(price)
	return nil
}

// Positions returns a snapshot of open positions ordered by token.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

func (m *Manager) snapshot() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// UpdatePortfolioMetrics records the current portfolio value, updating peak,
// drawdown and daily P&L. A new UTC day resets the daily baseline to the
// last value seen on the previous day.
func (m *Manager) UpdatePortfolioMetrics(value float64, at time.Time) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return engineerrors.NewInvalidParameter(component, "UpdatePortfolioMetrics", "non-finite portfolio value")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	day := at.UTC().Truncate(24 * time.Hour)
	if m.day.IsZero() {
		m.day = day
	} else if day.After(m.day) {
		m.day = day
		m.dayStartValue = m.currentValue
		m.logger.Debug().Time("day", day).Float64("baseline", m.dayStartValue).Msg("daily P&L rolled over")
	}

	m.currentValue = value
	if value > m.peakValue {
		m.peakValue = value
	}
	if m.peakValue > 0 {
		m.drawdown = (m.peakValue - value) / m.peakValue
	}
	m.dailyPnL = value - m.dayStartValue
	m.lastUpdate = at
	m.valueHistory = append(m.valueHistory, value)
	return nil
}

// Metrics is a snapshot of portfolio-level state.
type Metrics struct {
	Value       float64   `json:"value"`
	Peak        float64   `json:"peak"`
	Drawdown    float64   `json:"drawdown"`
	DailyPnL    float64   `json:"daily_pnl"`
	DailyReturn float64   `json:"daily_return"`
	Positions   int       `json:"positions"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metrics returns the current portfolio metrics.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	daily := 0.0
	if m.dayStartValue > 0 {
		daily = m.dailyPnL / m.dayStartValue
	}
	return Metrics{
		Value:       m.currentValue,
		Peak:        m.peakValue,
		Drawdown:    m.drawdown,
		DailyPnL:    m.dailyPnL,
		DailyReturn: daily,
		Positions:   len(m.positions),
		UpdatedAt:   m.lastUpdate,
	}
}

// CalculatePositionSize sizes a new position from a confidence- and
// volatility-scaled risk amount divided by the stop-loss distance, clipped
// to the position size range and to the remaining portfolio risk budget.
func (m *Manager) CalculatePositionSize(confidence, price, volatility, portfolioValue, stopLossPct float64) (Sizing, error) {
	const op = "CalculatePositionSize"
	if !(confidence >= 0 && confidence <= 1) {
		return Sizing{}, engineerrors.NewInvalidProbability(component, op, "confidence %v outside [0,1]", confidence)
	}
	if !(price > 0) || !(portfolioValue > 0) {
		return Sizing{}, engineerrors.NewInvalidParameter(component, op, "price %v and portfolio value %v must be positive", price, portfolioValue)
	}
	if !(volatility >= 0) || math.IsInf(volatility, 0) {
		return Sizing{}, engineerrors.NewInvalidParameter(component, op, "volatility %v must be finite and non-negative", volatility)
	}
	if !(stopLossPct > 0 && stopLossPct < 1) {
		return Sizing{}, engineerrors.NewInvalidParameter(component, op, "stop loss %v outside (0,1)", stopLossPct)
	}

	riskAmount := portfolioValue * m.limits.RiskPerTrade * confidence
	if volatility > m.limits.ReferenceVolatility {
		riskAmount *= m.limits.ReferenceVolatility / volatility
	}
	if riskAmount == 0 {
		return Sizing{Limit: "zero confidence"}, nil
	}

	value := riskAmount / stopLossPct
	limit := ""
	maxValue := math.Min(m.limits.MaxPositionSize, m.limits.MaxSinglePosition) * portfolioValue
	minValue := m.limits.MinPositionSize * portfolioValue
	if value > maxValue {
		value, limit = maxValue, "max position size"
	}
	if value < minValue {
		value, limit = minValue, "min position size"
	}

	if volatility > 0 {
		m.mu.RLock()
		used := m.usedRisk()
		m.mu.RUnlock()
		remaining := m.limits.MaxPortfolioRisk*portfolioValue - used
		if value*volatility > remaining {
			value, limit = math.Max(remaining, 0)/volatility, "portfolio risk budget"
			if value < minValue {
				value = 0
			}
		}
	}

	return Sizing{
		Quantity:   value / price,
		Value:      value,
		RiskAmount: value * stopLossPct,
		Limit:      limit,
	}, nil
}

// CheckRiskLimits decides whether a new position of the given value may be opened.
func (m *Manager) CheckRiskLimits(newPositionValue, assetVolatility float64) Decision {
	d := m.checkRiskLimits(newPositionValue, assetVolatility)
	if !d.Allowed {
		monitoring.RecordRiskRejection(d.Code)
		m.logger.Debug().Str("reason", d.Reason).Float64("position_value", newPositionValue).Msg("risk check rejected position")
	}
	return d
}

func (m *Manager) checkRiskLimits(value, volatility float64) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.positions) >= m.limits.MaxPositions {
		return reject("max_positions", ReasonMaxPositions)
	}
	if !(value >= 0) || !(volatility >= 0) || math.IsInf(value, 0) || math.IsInf(volatility, 0) {
		return reject("invalid", ReasonInvalidPosition)
	}
	if m.currentValue <= 0 {
		return reject("drawdown", ReasonDrawdown)
	}
	if value/m.currentValue > m.limits.MaxSinglePosition {
		return reject("single_position", ReasonSinglePosition)
	}
	if (m.usedRisk()+value*volatility)/m.currentValue > m.limits.MaxPortfolioRisk {
		return reject("portfolio_risk", ReasonPortfolioRisk)
	}
	if m.dayStartValue > 0 && -m.dailyPnL/m.dayStartValue >= m.limits.MaxDailyLoss {
		return reject("daily_loss", ReasonDailyLoss)
	}
	if m.drawdown > m.limits.MaxDrawdown {
		return reject("drawdown", ReasonDrawdown)
	}
	return allow()
}

func (m *Manager) usedRisk() float64 {
	total := 0.0
	for _, p := range m.positions {
		total += p.RiskAmount
	}
	return total
}

// PortfolioVaR estimates VaR of the recorded portfolio value history.
func (m *Manager) PortfolioVaR(method valueatrisk.Method) (valueatrisk.Result, error) {
	m.mu.RLock()
	history := append([]float64(nil), m.valueHistory...)
	value := m.currentValue
	m.mu.RUnlock()

	returns := make([]float64, 0, len(history))
	for i := 1; i < len(history); i++ {
		if history[i-1] > 0 {
			returns = append(returns, history[i]/history[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return valueatrisk.Result{}, engineerrors.NewInsufficientData(component, "PortfolioVaR", len(returns), 2)
	}
	return m.var95.Calculate(method, returns, math.Max(value, 0))
}

// SuggestAllocation runs a multi-asset sizing method over a periods x assets
// return matrix.
func (m *Manager) SuggestAllocation(method sizing.Method, returns [][]float64, bounds sizing.Bounds) (sizing.Allocation, error) {
	switch method {
	case sizing.MethodRiskParity:
		return m.sizer.RiskParity(returns, bounds)
	case sizing.MethodMinimumVariance:
		return m.sizer.MinimumVariance(returns, bounds)
	case sizing.MethodMaxSharpe:
		return m.sizer.MaxSharpe(returns, bounds)
	case sizing.MethodEqualRiskContribution:
		return m.sizer.EqualRiskContribution(returns, bounds)
	case sizing.MethodVolatilityTargeted:
		return m.sizer.VolatilityTargeted(returns, bounds, m.limits.TargetVolatility)
	}
	return sizing.Allocation{}, engineerrors.NewInvalidParameter(component, "SuggestAllocation", "method %q is not a portfolio allocation method", method)
}
