package sizing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
)

// Method names a sizing algorithm
type Method string

const (
	MethodKelly                 Method = "kelly"
	MethodFixedFractional       Method = "fixed_fractional"
	MethodFixedRatio            Method = "fixed_ratio"
	MethodRiskParity            Method = "risk_parity"
	MethodMinimumVariance       Method = "minimum_variance"
	MethodMaxSharpe             Method = "max_sharpe"
	MethodEqualRiskContribution Method = "equal_risk_contribution"
	MethodVolatilityTargeted    Method = "volatility_targeted"
)

// Bounds limits each asset weight.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Allocation is the result of a multi-asset sizing method.
type Allocation struct {
	Method         Method    `json:"method"`
	Weights        []float64 `json:"weights"`
	Converged      bool      `json:"converged"`
	Fallback       bool      `json:"fallback"`
	Warning        string    `json:"warning,omitempty"`
	ExpectedReturn float64   `json:"expected_return"` // annualised
	Volatility     float64   `json:"volatility"`      // annualised
	Sharpe         float64   `json:"sharpe"`
	Evaluations    int       `json:"evaluations"`
}

// returnStats holds per-period means and covariance of an asset return matrix.
type returnStats struct {
	n    int
	mean []float64
	vol  []float64
	cov  *mat.SymDense
}

func (r *returnStats) variance(w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, r.cov, v)
}

func (r *returnStats) expected(w []float64) float64 {
	sum := 0.0
	for i, x := range w {
		sum += x * r.mean[i]
	}
	return sum
}

// riskContributions returns w_i*(Σw)_i / sqrt(w'Σw).
func (r *returnStats) riskContributions(w []float64) []float64 {
	wv := mat.NewVecDense(len(w), w)
	var sw mat.VecDense
	sw.MulVec(r.cov, wv)
	total := math.Sqrt(math.Max(mat.Dot(wv, &sw), 0))
	rc := make([]float64, len(w))
	if total == 0 {
		return rc
	}
	for i := range w {
		rc[i] = w[i] * sw.AtVec(i) / total
	}
	return rc
}

// RiskParity weights assets by inverse volatility, projected onto the bounds.
func (s *Sizer) RiskParity(returns [][]float64, bounds Bounds) (Allocation, error) {
	rs, err := prepare(returns, bounds, "RiskParity")
	if err != nil {
		return Allocation{}, err
	}
	raw := make([]float64, rs.n)
	total := 0.0
	for i, v := range rs.vol {
		raw[i] = 1 / math.Max(v, 1e-12)
		total += raw[i]
	}
	for i := range raw {
		raw[i] /= total
	}
	w := projectBounded(raw, bounds)
	return s.finish(MethodRiskParity, rs, w, true, 0, ""), nil
}

// MinimumVariance minimises portfolio variance.
func (s *Sizer) MinimumVariance(returns [][]float64, bounds Bounds) (Allocation, error) {
	rs, err := prepare(returns, bounds, "MinimumVariance")
	if err != nil {
		return Allocation{}, err
	}
	return s.optimise(MethodMinimumVariance, rs, bounds, func(w []float64) float64 {
		return rs.variance(w)
	}), nil
}

// MaxSharpe maximises the ratio of excess return to volatility.
func (s *Sizer) MaxSharpe(returns [][]float64, bounds Bounds) (Allocation, error) {
	rs, err := prepare(returns, bounds, "MaxSharpe")
	if err != nil {
		return Allocation{}, err
	}
	rf := s.budget.RiskFreeRate / s.periodsPerYear
	return s.optimise(MethodMaxSharpe, rs, bounds, func(w []float64) float64 {
		vol := math.Sqrt(math.Max(rs.variance(w), 1e-18))
		return -(rs.expected(w) - rf) / vol
	}), nil
}

// EqualRiskContribution minimises the dispersion of per-asset risk contributions.
func (s *Sizer) EqualRiskContribution(returns [][]float64, bounds Bounds) (Allocation, error) {
	rs, err := prepare(returns, bounds, "EqualRiskContribution")
	if err != nil {
		return Allocation{}, err
	}
	return s.optimise(MethodEqualRiskContribution, rs, bounds, func(w []float64) float64 {
		rc := s.normalisedContributions(rs, w)
		mean := 1 / float64(len(rc))
		sum := 0.0
		for _, c := range rc {
			sum += (c - mean) * (c - mean)
		}
		return sum
	}), nil
}

// VolatilityTargeted maximises the diversification ratio while steering the
// annualised portfolio volatility towards targetVol.
func (s *Sizer) VolatilityTargeted(returns [][]float64, bounds Bounds, targetVol float64) (Allocation, error) {
	if !(targetVol > 0) {
		return Allocation{}, engineerrors.NewInvalidParameter(component, "VolatilityTargeted", "target volatility %v must be positive", targetVol)
	}
	rs, err := prepare(returns, bounds, "VolatilityTargeted")
	if err != nil {
		return Allocation{}, err
	}
	const penalty = 100.0
	target := targetVol / math.Sqrt(s.periodsPerYear)
	alloc := s.optimise(MethodVolatilityTargeted, rs, bounds, func(w []float64) float64 {
		vol := math.Sqrt(math.Max(rs.variance(w), 1e-18))
		weighted := 0.0
		for i, x := range w {
			weighted += x * rs.vol[i]
		}
		gap := (vol - target) / target
		return -weighted/vol + penalty*gap*gap
	})
	if alloc.Converged && math.Abs(alloc.Volatility-targetVol)/targetVol > 0.05 && alloc.Warning == "" {
		alloc.Warning = fmt.Sprintf("target volatility %.4f not reachable within bounds, achieved %.4f", targetVol, alloc.Volatility)
	}
	return alloc, nil
}

func (s *Sizer) normalisedContributions(rs *returnStats, w []float64) []float64 {
	rc := rs.riskContributions(w)
	total := 0.0
	for _, c := range rc {
		total += c
	}
	if total == 0 {
		return rc
	}
	for i := range rc {
		rc[i] /= total
	}
	return rc
}

// optimise minimises objective over the bounded simplex. Unconstrained
// variables are mapped onto feasible weights by projectBounded, so Nelder-Mead
// only ever evaluates feasible portfolios.
func (s *Sizer) optimise(method Method, rs *returnStats, bounds Bounds, objective func([]float64) float64) Allocation {
	start := make([]float64, rs.n)
	for i := range start {
		start[i] = 1 / float64(rs.n)
	}
	if rs.n == 1 {
		return s.finish(method, rs, []float64{1}, true, 0, "")
	}

	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			f := objective(projectBounded(z, bounds))
			if math.IsNaN(f) {
				return math.Inf(1)
			}
			return f
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: s.maxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 200,
		},
	}

	result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil || result == nil || result.Status.Early() {
		reason := "optimizer did not converge"
		evals := 0
		if result != nil {
			reason = fmt.Sprintf("optimizer stopped with status %s", result.Status)
			evals = result.FuncEvaluations
		}
		if err != nil {
			reason = err.Error()
		}
		s.logger.Warn().
			Str("method", string(method)).
			Str("reason", reason).
			Msg("optimisation failed, falling back to equal weights")
		monitoring.RecordOptimizerFallback(string(method))
		alloc := s.finish(method, rs, start, false, evals, "fell back to equal weights: "+reason)
		alloc.Fallback = true
		return alloc
	}
	return s.finish(method, rs, projectBounded(result.X, bounds), true, result.FuncEvaluations, "")
}

func (s *Sizer) finish(method Method, rs *returnStats, w []float64, converged bool, evals int, warning string) Allocation {
	ret := rs.expected(w) * s.periodsPerYear
	vol := math.Sqrt(math.Max(rs.variance(w), 0) * s.periodsPerYear)
	sharpe := 0.0
	if vol > 0 {
		sharpe = (ret - s.budget.RiskFreeRate) / vol
	}
	return Allocation{
		Method:         method,
		Weights:        w,
		Converged:      converged,
		Warning:        warning,
		ExpectedReturn: ret,
		Volatility:     vol,
		Sharpe:         sharpe,
		Evaluations:    evals,
	}
}

// prepare validates a periods x assets return matrix and bounds.
func prepare(returns [][]float64, bounds Bounds, op string) (*returnStats, error) {
	if len(returns) < 2 {
		return nil, engineerrors.NewInsufficientData(component, op, len(returns), 2)
	}
	n := len(returns[0])
	if n == 0 {
		return nil, engineerrors.NewInvalidParameter(component, op, "return matrix has no assets")
	}
	flat := make([]float64, 0, len(returns)*n)
	for i, row := range returns {
		if len(row) != n {
			return nil, engineerrors.NewInvalidParameter(component, op, "row %d has %d assets, want %d", i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, engineerrors.NewInvalidParameter(component, op, "non-finite return at row %d asset %d", i, j)
			}
		}
		flat = append(flat, row...)
	}
	if err := validateBounds(bounds, n, op); err != nil {
		return nil, err
	}

	data := mat.NewDense(len(returns), n, flat)
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	rs := &returnStats{n: n, mean: make([]float64, n), vol: make([]float64, n), cov: &cov}
	col := make([]float64, len(returns))
	for j := 0; j < n; j++ {
		mat.Col(col, j, data)
		rs.mean[j] = stat.Mean(col, nil)
		rs.vol[j] = math.Sqrt(cov.At(j, j))
	}
	return rs, nil
}

func validateBounds(b Bounds, n int, op string) error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || b.Min < 0 || b.Max > 1 || b.Min > b.Max {
		return engineerrors.NewInvalidParameter(component, op, "bounds [%v,%v] must satisfy 0 <= min <= max <= 1", b.Min, b.Max)
	}
	const eps = 1e-12
	if float64(n)*b.Min > 1+eps || float64(n)*b.Max < 1-eps {
		return engineerrors.NewInvalidParameter(component, op, "bounds [%v,%v] infeasible for %d assets", b.Min, b.Max, n)
	}
	return nil
}

// projectBounded maps z onto {w : sum(w) = 1, min <= w_i <= max} by finding
// tau with sum(clip(z_i - tau)) = 1.
func projectBounded(z []float64, b Bounds) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range z {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	// at tau=left every weight is at max, at tau=right every weight is at min
	left, right := lo-b.Max-1, hi-b.Min+1
	w := make([]float64, len(z))
	fill := func(tau float64) float64 {
		sum := 0.0
		for i, v := range z {
			w[i] = clamp(v-tau, b.Min, b.Max)
			sum += w[i]
		}
		return sum
	}
	for i := 0; i < 200; i++ {
		mid := (left + right) / 2
		if fill(mid) > 1 {
			left = mid
		} else {
			right = mid
		}
		if right-left < 1e-15 {
			break
		}
	}
	fill((left + right) / 2)
	return w
}

// FixedWeights reports the statistics of a caller-chosen weight vector.
func (s *Sizer) FixedWeights(returns [][]float64, weights []float64) (Allocation, error) {
	rs, err := prepare(returns, Bounds{Min: 0, Max: 1}, "FixedWeights")
	if err != nil {
		return Allocation{}, err
	}
	if len(weights) != rs.n {
		return Allocation{}, engineerrors.NewInvalidParameter(component, "FixedWeights", "%d weights for %d assets", len(weights), rs.n)
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return Allocation{}, engineerrors.NewInvalidParameter(component, "FixedWeights", "weights sum to %v", sum)
	}
	return s.finish("fixed", rs, append([]float64(nil), weights...), true, 0, ""), nil
}
