package valueatrisk

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
)

const component = "var"

// Method selects how the loss distribution is estimated
type Method string

const (
	MethodHistorical Method = "historical"
	MethodParametric Method = "parametric"
	MethodMonteCarlo Method = "monte_carlo"
)

// ParseMethod maps a config string to a Method
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodHistorical, MethodParametric, MethodMonteCarlo:
		return Method(s), nil
	}
	return "", engineerrors.NewInvalidParameter(component, "ParseMethod", "unknown VaR method %q", s)
}

// Result is a VaR estimate with its matching Expected Shortfall, both as
// positive currency losses.
type Result struct {
	Method            Method  `json:"method"`
	Confidence        float64 `json:"confidence"`
	Horizon           int     `json:"horizon"`
	VaR               float64 `json:"var"`
	ExpectedShortfall float64 `json:"expected_shortfall"`
}

// Calculator estimates Value-at-Risk and Expected Shortfall.
type Calculator struct {
	confidence  float64
	horizon     int
	simulations int
	seed        uint64
	logger      zerolog.Logger
}

// Option configures a Calculator
type Option func(*Calculator)

// WithSeed fixes the Monte Carlo random stream
func WithSeed(seed uint64) Option {
	return func(c *Calculator) { c.seed = seed }
}

// WithSimulations sets the default Monte Carlo path count
func WithSimulations(n int) Option {
	return func(c *Calculator) { c.simulations = n }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Calculator) { c.logger = l }
}

// NewCalculator builds a calculator for the given confidence level and horizon in periods.
func NewCalculator(confidence float64, horizon int, opts ...Option) (*Calculator, error) {
	if !(confidence > 0 && confidence < 1) {
		return nil, engineerrors.NewInvalidProbability(component, "NewCalculator", "confidence %v outside (0,1)", confidence)
	}
	if horizon < 1 {
		return nil, engineerrors.NewInvalidParameter(component, "NewCalculator", "horizon must be >= 1, got %d", horizon)
	}
	c := &Calculator{
		confidence:  confidence,
		horizon:     horizon,
		simulations: 10000,
		seed:        42,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.simulations < 1 {
		return nil, engineerrors.NewInvalidParameter(component, "NewCalculator", "simulations must be >= 1")
	}
	return c, nil
}

// Confidence returns the confidence level
func (c *Calculator) Confidence() float64 { return c.confidence }

// Horizon returns the horizon in periods
func (c *Calculator) Horizon() int { return c.horizon }

// HistoricalVaR is the empirical (1-confidence) return quantile scaled by sqrt(horizon).
func (c *Calculator) HistoricalVaR(returns []float64, portfolioValue float64) (float64, error) {
	defer c.observe(MethodHistorical, time.Now())
	sorted, err := c.prepare(returns, portfolioValue, 1, "HistoricalVaR")
	if err != nil {
		return 0, err
	}
	q := stat.Quantile(1-c.confidence, stat.LinInterp, sorted, nil)
	return lossOf(q*c.sqrtH(), portfolioValue), nil
}

// ParametricVaR assumes normally distributed returns.
func (c *Calculator) ParametricVaR(returns []float64, portfolioValue float64) (float64, error) {
	defer c.observe(MethodParametric, time.Now())
	if _, err := c.prepare(returns, portfolioValue, 2, "ParametricVaR"); err != nil {
		return 0, err
	}
	mean, std := stat.MeanStdDev(returns, nil)
	z := distuv.UnitNormal.Quantile(1 - c.confidence)
	h := float64(c.horizon)
	return lossOf(mean*h+z*std*c.sqrtH(), portfolioValue), nil
}

// MonteCarloVaR bootstraps compounded horizon paths from the historical returns.
// A non-positive simulations count uses the calculator default.
func (c *Calculator) MonteCarloVaR(returns []float64, portfolioValue float64, simulations int) (float64, error) {
	v, _, err := c.MonteCarloRisk(returns, portfolioValue, simulations)
	return v, err
}

// MonteCarloRisk returns VaR and ES from one set of simulated paths, so a
// custom simulations count applies to both. A non-positive count uses the
// calculator default.
func (c *Calculator) MonteCarloRisk(returns []float64, portfolioValue float64, simulations int) (float64, float64, error) {
	defer c.observe(MethodMonteCarlo, time.Now())
	terminal, err := c.simulate(returns, portfolioValue, simulations, "MonteCarloRisk")
	if err != nil {
		return 0, 0, err
	}
	q := stat.Quantile(1-c.confidence, stat.LinInterp, terminal, nil)
	return lossOf(q, portfolioValue), lossOf(tailMean(terminal, q), portfolioValue), nil
}

// ExpectedShortfall is the mean loss beyond VaR under the given method.
// Monte Carlo uses the calculator's default simulations count; use
// MonteCarloRisk to pair ES with a custom count.
func (c *Calculator) ExpectedShortfall(returns []float64, portfolioValue float64, method Method) (float64, error) {
	switch method {
	case MethodHistorical:
		sorted, err := c.prepare(returns, portfolioValue, 1, "ExpectedShortfall")
		if err != nil {
			return 0, err
		}
		q := stat.Quantile(1-c.confidence, stat.LinInterp, sorted, nil)
		return lossOf(tailMean(sorted, q)*c.sqrtH(), portfolioValue), nil

	case MethodParametric:
		if _, err := c.prepare(returns, portfolioValue, 2, "ExpectedShortfall"); err != nil {
			return 0, err
		}
		mean, std := stat.MeanStdDev(returns, nil)
		z := distuv.UnitNormal.Quantile(1 - c.confidence)
		h := float64(c.horizon)
		es := std*c.sqrtH()*distuv.UnitNormal.Prob(z)/(1-c.confidence) - mean*h
		return math.Max(es, 0) * portfolioValue, nil

	case MethodMonteCarlo:
		_, es, err := c.MonteCarloRisk(returns, portfolioValue, 0)
		return es, err
	}
	return 0, engineerrors.NewInvalidParameter(component, "ExpectedShortfall", "unknown method %q", method)
}

// Calculate returns VaR and ES for one method.
func (c *Calculator) Calculate(method Method, returns []float64, portfolioValue float64) (Result, error) {
	var v, es float64
	var err error
	switch method {
	case MethodHistorical:
		v, err = c.HistoricalVaR(returns, portfolioValue)
	case MethodParametric:
		v, err = c.ParametricVaR(returns, portfolioValue)
	case MethodMonteCarlo:
		v, es, err = c.MonteCarloRisk(returns, portfolioValue, 0)
	default:
		return Result{}, engineerrors.NewInvalidParameter(component, "Calculate", "unknown method %q", method)
	}
	if err != nil {
		return Result{}, err
	}
	if method != MethodMonteCarlo {
		if es, err = c.ExpectedShortfall(returns, portfolioValue, method); err != nil {
			return Result{}, err
		}
	}
	return Result{
		Method:            method,
		Confidence:        c.confidence,
		Horizon:           c.horizon,
		VaR:               v,
		ExpectedShortfall: es,
	}, nil
}

// simulate returns sorted simulated horizon returns.
func (c *Calculator) simulate(returns []float64, portfolioValue float64, simulations int, op string) ([]float64, error) {
	if _, err := c.prepare(returns, portfolioValue, 1, op); err != nil {
		return nil, err
	}
	if simulations <= 0 {
		simulations = c.simulations
	}
	rng := rand.New(rand.NewPCG(c.seed, c.seed^0x9e3779b97f4a7c15))
	terminal := make([]float64, simulations)
	for i := range terminal {
		growth := 1.0
		for k := 0; k < c.horizon; k++ {
			growth *= 1 + returns[rng.IntN(len(returns))]
		}
		terminal[i] = growth - 1
	}
	sort.Float64s(terminal)
	c.logger.Debug().Int("simulations", simulations).Int("horizon", c.horizon).Msg("monte carlo paths simulated")
	return terminal, nil
}

// prepare validates inputs and returns a sorted copy of returns.
func (c *Calculator) prepare(returns []float64, portfolioValue float64, minLen int, op string) ([]float64, error) {
	if len(returns) < minLen {
		return nil, engineerrors.NewInsufficientData(component, op, len(returns), minLen)
	}
	if portfolioValue < 0 || math.IsNaN(portfolioValue) || math.IsInf(portfolioValue, 0) {
		return nil, engineerrors.NewInvalidParameter(component, op, "portfolio value %v must be finite and non-negative", portfolioValue)
	}
	for i, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, engineerrors.NewInvalidParameter(component, op, "non-finite return at index %d", i)
		}
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	return sorted, nil
}

func (c *Calculator) sqrtH() float64 {
	return math.Sqrt(float64(c.horizon))
}

func (c *Calculator) observe(method Method, start time.Time) {
	monitoring.ObserveVaR(string(method), time.Since(start))
}

// lossOf turns a return quantile into a non-negative currency loss.
func lossOf(quantile, portfolioValue float64) float64 {
	return math.Max(-quantile, 0) * portfolioValue
}

// tailMean averages sorted values at or below q.
func tailMean(sorted []float64, q float64) float64 {
	sum, n := 0.0, 0
	for _, v := range sorted {
		if v > q {
			break
		}
		sum += v
		n++
	}
	if n == 0 {
		return sorted[0]
	}
	return sum / float64(n)
}
