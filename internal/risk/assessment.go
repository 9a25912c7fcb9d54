package risk

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ducminhle1904/crypto-risk-engine/internal/valueatrisk"
)

// Level is an overall risk classification
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

func (l Level) rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether l is as severe as other. Unknown levels rank
// below LOW.
func (l Level) AtLeast(other Level) bool {
	return l.rank() >= other.rank()
}

// minCorrelationPeriods is the shortest aligned history used for correlations.
const minCorrelationPeriods = 10

// highVolatility is the per-period volatility above which positions count as volatile.
const highVolatility = 0.05

// Assessment summarises current portfolio risk.
type Assessment struct {
	Level           Level               `json:"level"`
	Score           int                 `json:"score"`
	Positions       int                 `json:"positions"`
	TotalExposure   float64             `json:"total_exposure"`
	ExposureRatio   float64             `json:"exposure_ratio"`
	Concentration   float64             `json:"concentration"`
	CorrelationRisk float64             `json:"correlation_risk"`
	AvgVolatility   float64             `json:"avg_volatility"`
	Drawdown        float64             `json:"drawdown"`
	DailyPnL        float64             `json:"daily_pnl"`
	VaR             *valueatrisk.Result `json:"var,omitempty"`
	Warnings        []string            `json:"warnings"`
	AssessedAt      time.Time           `json:"assessed_at"`
}

// AssessPortfolioRisk aggregates concentration, correlation, volatility,
// drawdown and VaR into a LOW/MEDIUM/HIGH classification with warnings.
func (m *Manager) AssessPortfolioRisk() Assessment {
	m.mu.RLock()
	positions := m.snapshot()
	value := m.currentValue
	drawdown := m.drawdown
	dailyPnL := m.dailyPnL
	dayStart := m.dayStartValue
	m.mu.RUnlock()

	a := Assessment{
		Positions:  len(positions),
		Drawdown:   drawdown,
		DailyPnL:   dailyPnL,
		Warnings:   []string{},
		AssessedAt: time.Now().UTC(),
	}

	largest, volSum := 0.0, 0.0
	for _, p := range positions {
		v := p.Value()
		a.TotalExposure += v
		largest = math.Max(largest, v)
		volSum += p.Volatility
	}
	if value > 0 {
		a.ExposureRatio = a.TotalExposure / value
	}
	if a.TotalExposure > 0 {
		a.Concentration = largest / a.TotalExposure
	}
	if len(positions) > 0 {
		a.AvgVolatility = volSum / float64(len(positions))
	}
	a.CorrelationRisk = correlationRisk(positions)

	if len(positions) > 1 && a.Concentration > m.limits.MaxConcentration {
		a.Score += 2
		a.Warnings = append(a.Warnings, fmt.Sprintf("High concentration: largest position is %.1f%% of exposure", a.Concentration*100))
	}
	if a.CorrelationRisk > m.limits.MaxCorrelation {
		a.Score += 2
		a.Warnings = append(a.Warnings, fmt.Sprintf("High correlation between positions: %.2f", a.CorrelationRisk))
	}
	if a.AvgVolatility > highVolatility {
		a.Score++
		a.Warnings = append(a.Warnings, fmt.Sprintf("High average position volatility: %.2f%%", a.AvgVolatility*100))
	}
	if drawdown > m.limits.MaxDrawdown {
		a.Score += 2
		a.Warnings = append(a.Warnings, fmt.Sprintf("Drawdown %.1f%% exceeds limit %.1f%%", drawdown*100, m.limits.MaxDrawdown*100))
	} else if drawdown > m.limits.MaxDrawdown/2 {
		a.Score++
		a.Warnings = append(a.Warnings, fmt.Sprintf("Drawdown %.1f%% above half the limit", drawdown*100))
	}
	if dayStart > 0 && -dailyPnL/dayStart >= m.limits.MaxDailyLoss {
		a.Score += 2
		a.Warnings = append(a.Warnings, fmt.Sprintf("Daily loss %.2f exceeds limit", -dailyPnL))
	}
	if len(positions) >= m.limits.MaxPositions {
		a.Score++
		a.Warnings = append(a.Warnings, "Maximum number of positions open")
	}

	if res, err := m.PortfolioVaR(valueatrisk.MethodHistorical); err == nil {
		a.VaR = &res
		if value > 0 && res.VaR/value > m.limits.MaxPortfolioVaR {
			a.Score += 2
			a.Warnings = append(a.Warnings, fmt.Sprintf("Portfolio VaR %.1f%% exceeds limit %.1f%%", res.VaR/value*100, m.limits.MaxPortfolioVaR*100))
		}
	}

	switch {
	case a.Score >= 3:
		a.Level = LevelHigh
	case a.Score >= 1:
		a.Level = LevelMedium
	default:
		a.Level = LevelLow
	}
	return a
}

// correlationRisk is the mean absolute pairwise correlation over the most
// recent aligned window of position returns. Positions without enough
// history are ignored.
func correlationRisk(positions []Position) float64 {
	var series [][]float64
	window := math.MaxInt
	for _, p := range positions {
		if len(p.Returns) >= minCorrelationPeriods {
			series = append(series, p.Returns)
			window = min(window, len(p.Returns))
		}
	}
	if len(series) < 2 {
		return 0
	}
	sum, pairs := 0.0, 0
	for i := 0; i < len(series); i++ {
		a := series[i][len(series[i])-window:]
		for j := i + 1; j < len(series); j++ {
			b := series[j][len(series[j])-window:]
			c := stat.Correlation(a, b, nil)
			if math.IsNaN(c) {
				continue
			}
			sum += math.Abs(c)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
