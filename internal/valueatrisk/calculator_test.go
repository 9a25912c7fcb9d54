package valueatrisk

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

func gaussianReturns(n int, mean, vol float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed*7+3))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + vol*rng.NormFloat64()
	}
	return out
}

func TestNewCalculatorValidation(t *testing.T) {
	_, err := NewCalculator(1.0, 1)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidProbability)
	_, err = NewCalculator(0, 1)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidProbability)
	_, err = NewCalculator(0.95, 0)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
	_, err = NewCalculator(0.95, 1, WithSimulations(-1))
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}

func TestHistoricalVaR(t *testing.T) {
	c, err := NewCalculator(0.95, 1)
	require.NoError(t, err)

	returns := []float64{0.10, -0.05, 0, 0.05, -0.10}
	v, err := c.HistoricalVaR(returns, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 100, v, 1e-9)

	// input must not be reordered
	assert.Equal(t, 0.10, returns[0])

	c4, err := NewCalculator(0.95, 4)
	require.NoError(t, err)
	v4, err := c4.HistoricalVaR(returns, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 2*v, v4, 1e-9)
}

func TestHistoricalVaRNoLossesIsZero(t *testing.T) {
	c, err := NewCalculator(0.99, 1)
	require.NoError(t, err)
	v, err := c.HistoricalVaR([]float64{0.01, 0.02, 0.03}, 5000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestParametricVaR(t *testing.T) {
	c, err := NewCalculator(0.95, 1)
	require.NoError(t, err)

	returns := gaussianReturns(500, 0.001, 0.02, 1)
	mean, std := stat.MeanStdDev(returns, nil)
	want := -(mean - 1.6448536269514722*std) * 10000

	v, err := c.ParametricVaR(returns, 10000)
	require.NoError(t, err)
	assert.InDelta(t, want, v, 1e-6)

	_, err = c.ParametricVaR([]float64{0.01}, 10000)
	assert.ErrorIs(t, err, engineerrors.ErrInsufficientData)
}

func TestMonteCarloIsReproducible(t *testing.T) {
	returns := gaussianReturns(300, 0, 0.02, 2)

	a, err := NewCalculator(0.95, 5, WithSeed(7))
	require.NoError(t, err)
	b, err := NewCalculator(0.95, 5, WithSeed(7))
	require.NoError(t, err)

	va, err := a.MonteCarloVaR(returns, 1000, 2000)
	require.NoError(t, err)
	vb, err := b.MonteCarloVaR(returns, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, va, vb)

	again, err := a.MonteCarloVaR(returns, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, va, again)
}

func TestMonteCarloRiskSharesPaths(t *testing.T) {
	returns := gaussianReturns(500, 0, 0.02, 6)
	c, err := NewCalculator(0.95, 3, WithSeed(3), WithSimulations(20000))
	require.NoError(t, err)

	v, es, err := c.MonteCarloRisk(returns, 1000, 300)
	require.NoError(t, err)
	only, err := c.MonteCarloVaR(returns, 1000, 300)
	require.NoError(t, err)
	assert.Equal(t, only, v)
	assert.GreaterOrEqual(t, es, v)

	defaultES, err := c.ExpectedShortfall(returns, 1000, MethodMonteCarlo)
	require.NoError(t, err)
	_, fullES, err := c.MonteCarloRisk(returns, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, fullES, defaultES)

	res, err := c.Calculate(MethodMonteCarlo, returns, 1000)
	require.NoError(t, err)
	assert.Equal(t, fullES, res.ExpectedShortfall)
}

func TestMonteCarloApproachesParametricForGaussianReturns(t *testing.T) {
	returns := gaussianReturns(5000, 0, 0.01, 3)
	c, err := NewCalculator(0.95, 1, WithSeed(11))
	require.NoError(t, err)

	param, err := c.ParametricVaR(returns, 1e6)
	require.NoError(t, err)
	mc, err := c.MonteCarloVaR(returns, 1e6, 50000)
	require.NoError(t, err)
	hist, err := c.HistoricalVaR(returns, 1e6)
	require.NoError(t, err)

	assert.InEpsilon(t, param, mc, 0.08)
	assert.InEpsilon(t, param, hist, 0.08)
}

func TestExpectedShortfallAtLeastVaR(t *testing.T) {
	returns := gaussianReturns(1000, 0.0005, 0.03, 4)
	for _, conf := range []float64{0.9, 0.95, 0.99} {
		c, err := NewCalculator(conf, 1, WithSimulations(5000))
		require.NoError(t, err)
		for _, m := range []Method{MethodHistorical, MethodParametric, MethodMonteCarlo} {
			res, err := c.Calculate(m, returns, 10000)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.VaR, 0.0, "%s@%v", m, conf)
			assert.GreaterOrEqual(t, res.ExpectedShortfall, res.VaR-1e-9, "%s@%v", m, conf)
			assert.Equal(t, m, res.Method)
		}
	}
}

func TestVaRIncreasesWithConfidence(t *testing.T) {
	returns := gaussianReturns(1000, 0, 0.02, 5)
	prev := 0.0
	for _, conf := range []float64{0.9, 0.95, 0.99} {
		c, err := NewCalculator(conf, 1)
		require.NoError(t, err)
		v, err := c.ParametricVaR(returns, 1000)
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestInputValidation(t *testing.T) {
	c, err := NewCalculator(0.95, 1)
	require.NoError(t, err)

	_, err = c.HistoricalVaR(nil, 1000)
	assert.ErrorIs(t, err, engineerrors.ErrInsufficientData)
	_, err = c.HistoricalVaR([]float64{0.01, math.NaN()}, 1000)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
	_, err = c.HistoricalVaR([]float64{0.01, 0.02}, -1)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
	_, err = c.Calculate(Method("bogus"), []float64{0.01, 0.02}, 1)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
	_, err = ParseMethod("bogus")
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}

func TestVaRContributionSumsToTotal(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	rows := make([][]float64, 400)
	for i := range rows {
		common := rng.NormFloat64()
		rows[i] = []float64{
			0.01*common + 0.005*rng.NormFloat64(),
			0.02*common + 0.01*rng.NormFloat64(),
			0.005 * rng.NormFloat64(),
		}
	}
	weights := []float64{0.5, 0.3, 0.2}

	c, err := NewCalculator(0.95, 1)
	require.NoError(t, err)

	for _, m := range []Method{MethodParametric, MethodHistorical} {
		contrib, err := c.VaRContribution(rows, weights, 100000, m)
		require.NoError(t, err)
		require.Len(t, contrib.Components, 3)
		assert.Greater(t, contrib.Total, 0.0)

		sum, pct := 0.0, 0.0
		for i := range contrib.Components {
			sum += contrib.Components[i]
			pct += contrib.Percent[i]
		}
		assert.InDelta(t, contrib.Total, sum, 1e-6*contrib.Total, m)
		assert.InDelta(t, 1.0, pct, 1e-9, m)
		// the volatile, correlated asset carries more risk per unit weight than the diversifier
		assert.Greater(t, contrib.Marginal[1], contrib.Marginal[2], m)
	}

	_, err = c.VaRContribution(rows, []float64{0.5, 0.5}, 1000, MethodParametric)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}
