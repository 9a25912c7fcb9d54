package valueatrisk

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// Contribution decomposes portfolio VaR across assets. Components sum to Total.
type Contribution struct {
	Method     Method    `json:"method"`
	Total      float64   `json:"total"`
	Marginal   []float64 `json:"marginal"`
	Components []float64 `json:"components"`
	Percent    []float64 `json:"percent"`
}

// VaRContribution allocates portfolio VaR to assets. assetReturns is periods x
// assets. Parametric uses covariance-based marginal VaR; historical and Monte
// Carlo allocate the total by each asset's beta to the portfolio.
func (c *Calculator) VaRContribution(assetReturns [][]float64, weights []float64, portfolioValue float64, method Method) (Contribution, error) {
	data, err := assetMatrix(assetReturns, weights)
	if err != nil {
		return Contribution{}, err
	}
	periods, n := data.Dims()
	w := mat.NewVecDense(n, append([]float64(nil), weights...))

	var portfolio mat.VecDense
	portfolio.MulVec(data, w)
	portRets := make([]float64, periods)
	for i := range portRets {
		portRets[i] = portfolio.AtVec(i)
	}

	out := Contribution{
		Method:     method,
		Marginal:   make([]float64, n),
		Components: make([]float64, n),
		Percent:    make([]float64, n),
	}

	switch method {
	case MethodParametric:
		var cov mat.SymDense
		stat.CovarianceMatrix(&cov, data, nil)
		var sw mat.VecDense
		sw.MulVec(&cov, w)
		sigma := math.Sqrt(math.Max(mat.Dot(w, &sw), 0))
		z := -distuv.UnitNormal.Quantile(1 - c.confidence)
		scale := z * c.sqrtH() * portfolioValue
		out.Total = sigma * scale
		if sigma > 0 {
			for i := 0; i < n; i++ {
				out.Marginal[i] = sw.AtVec(i) / sigma * scale
				out.Components[i] = weights[i] * out.Marginal[i]
			}
		}

	case MethodHistorical, MethodMonteCarlo:
		var total float64
		if method == MethodHistorical {
			total, err = c.HistoricalVaR(portRets, portfolioValue)
		} else {
			total, err = c.MonteCarloVaR(portRets, portfolioValue, 0)
		}
		if err != nil {
			return Contribution{}, err
		}
		out.Total = total
		variance := stat.Variance(portRets, nil)
		col := make([]float64, periods)
		for i := 0; i < n; i++ {
			mat.Col(col, i, data)
			beta := 0.0
			if variance > 0 {
				beta = stat.Covariance(col, portRets, nil) / variance
			}
			out.Marginal[i] = beta * total
			out.Components[i] = weights[i] * out.Marginal[i]
		}

	default:
		return Contribution{}, engineerrors.NewInvalidParameter(component, "VaRContribution", "unknown method %q", method)
	}

	if out.Total > 0 {
		for i := range out.Components {
			out.Percent[i] = out.Components[i] / out.Total
		}
	}
	return out, nil
}

func assetMatrix(assetReturns [][]float64, weights []float64) (*mat.Dense, error) {
	if len(assetReturns) < 2 {
		return nil, engineerrors.NewInsufficientData(component, "VaRContribution", len(assetReturns), 2)
	}
	n := len(weights)
	if n == 0 {
		return nil, engineerrors.NewInvalidParameter(component, "VaRContribution", "no weights")
	}
	flat := make([]float64, 0, len(assetReturns)*n)
	for i, row := range assetReturns {
		if len(row) != n {
			return nil, engineerrors.NewInvalidParameter(component, "VaRContribution", "row %d has %d assets, want %d", i, len(row), n)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, engineerrors.NewInvalidParameter(component, "VaRContribution", "non-finite return at row %d", i)
			}
		}
		flat = append(flat, row...)
	}
	for _, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, engineerrors.NewInvalidParameter(component, "VaRContribution", "non-finite weight")
		}
	}
	return mat.NewDense(len(assetReturns), n, flat), nil
}
