package risk

import (
	"fmt"
	"math"
	"sort"
)

// Scenario is a fixed price shock applied to every open position. The shock
// for a position is its TokenShocks entry if present, otherwise PriceShock
// minus VolatilityMultiplier times the position's volatility.
type Scenario struct {
	Name                 string             `json:"name" yaml:"name"`
	Description          string             `json:"description" yaml:"description"`
	PriceShock           float64            `json:"price_shock" yaml:"price_shock"`
	VolatilityMultiplier float64            `json:"volatility_multiplier" yaml:"volatility_multiplier"`
	TokenShocks          map[string]float64 `json:"token_shocks,omitempty" yaml:"token_shocks"`
}

// DefaultScenarios returns the standard stress scenarios.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "flash_crash", Description: "Sudden 20% drop across all holdings", PriceShock: -0.20},
		{Name: "high_volatility", Description: "Three-sigma adverse move at current volatility", VolatilityMultiplier: 3},
		{Name: "correlated_selloff", Description: "Market-wide 10% selloff plus one-sigma idiosyncratic loss", PriceShock: -0.10, VolatilityMultiplier: 1},
		{Name: "black_swan", Description: "40% crash with two-sigma additional loss", PriceShock: -0.40, VolatilityMultiplier: 2},
	}
}

func (s Scenario) shockFor(p Position) float64 {
	if shock, ok := s.TokenShocks[p.Token]; ok {
		return math.Max(shock, -1)
	}
	return math.Max(s.PriceShock-s.VolatilityMultiplier*p.Volatility, -1)
}

// ScenarioResult is the outcome of one stress scenario.
type ScenarioResult struct {
	Name           string             `json:"name"`
	Loss           float64            `json:"loss"`
	LossPct        float64            `json:"loss_pct"`
	PostValue      float64            `json:"post_value"`
	PositionLosses map[string]float64 `json:"position_losses"`
	Breaches       []string           `json:"breaches"`
}

// StressReport collects scenario outcomes and recommendations.
type StressReport struct {
	Results         []ScenarioResult `json:"results"`
	WorstScenario   string           `json:"worst_scenario"`
	WorstLoss       float64          `json:"worst_loss"`
	WorstLossPct    float64          `json:"worst_loss_pct"`
	Recommendations []string         `json:"recommendations"`
}

// RunStressTest applies scenarios to the current positions. With no
// scenarios the defaults are used.
func (m *Manager) RunStressTest(scenarios []Scenario) StressReport {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}

	m.mu.RLock()
	positions := m.snapshot()
	value := m.currentValue
	drawdown := m.drawdown
	m.mu.RUnlock()

	report := StressReport{Results: make([]ScenarioResult, 0, len(scenarios))}
	for _, sc := range scenarios {
		res := ScenarioResult{Name: sc.Name, PositionLosses: make(map[string]float64, len(positions))}
		for _, p := range positions {
			loss := -sc.shockFor(p) * p.Value()
			res.PositionLosses[p.Token] = loss
			res.Loss += loss
		}
		res.PostValue = value - res.Loss
		if value > 0 {
			res.LossPct = res.Loss / value
		}
		if res.LossPct >= m.limits.MaxDailyLoss {
			res.Breaches = append(res.Breaches, "daily_loss")
		}
		if drawdown+res.LossPct*(1-drawdown) > m.limits.MaxDrawdown {
			res.Breaches = append(res.Breaches, "max_drawdown")
		}
		if res.LossPct > m.limits.MaxPortfolioVaR {
			res.Breaches = append(res.Breaches, "portfolio_var")
		}
		if res.Loss > report.WorstLoss || report.WorstScenario == "" {
			report.WorstScenario = sc.Name
			report.WorstLoss = res.Loss
			report.WorstLossPct = res.LossPct
		}
		report.Results = append(report.Results, res)
	}

	report.Recommendations = m.recommend(report, positions)
	m.logger.Info().Str("worst_scenario", report.WorstScenario).Float64("worst_loss_pct", report.WorstLossPct).
		Int("scenarios", len(scenarios)).Msg("stress test complete")
	return report
}

func (m *Manager) recommend(report StressReport, positions []Position) []string {
	var recs []string
	if report.WorstLossPct > m.limits.MaxDrawdown {
		recs = append(recs, fmt.Sprintf("Reduce overall exposure: %s loses %.1f%%, beyond the %.1f%% drawdown limit",
			report.WorstScenario, report.WorstLossPct*100, m.limits.MaxDrawdown*100))
	}
	if report.WorstLossPct > m.limits.MaxDailyLoss {
		recs = append(recs, "Tighten stop-losses so a single adverse day stays within the daily loss limit")
	}

	total := 0.0
	for _, p := range positions {
		total += p.Value()
	}
	if total > 0 && len(positions) > 1 {
		sorted := append([]Position(nil), positions...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value() > sorted[j].Value() })
		if share := sorted[0].Value() / total; share > m.limits.MaxConcentration {
			recs = append(recs, fmt.Sprintf("Diversify: %s is %.1f%% of exposure", sorted[0].Token, share*100))
		}
	}
	for _, p := range positions {
		if p.Volatility > highVolatility {
			recs = append(recs, fmt.Sprintf("Consider hedging or trimming volatile position %s", p.Token))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "Portfolio stays within risk limits under all scenarios")
	}
	return recs
}
