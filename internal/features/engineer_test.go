package features

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

func generateTestSeries(count int, seed uint64) types.Series {
	rng := rand.New(rand.NewPCG(seed, seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make(types.Series, count)
	price := 100.0
	for i := range series {
		price *= 1 + (rng.Float64()-0.5)*0.02
		series[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price * (1 - 0.002),
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1000 + rng.Float64()*100,
		}
	}
	return series
}

func TestFeatureNamesAreUnique(t *testing.T) {
	names := FeatureNames()
	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate column %s", n)
		seen[n] = true
	}
	assert.Contains(t, names, "rsi_lag_5")
	assert.Contains(t, names, "bb_position")
}

func TestCreateFeatures_ShapeAndLabels(t *testing.T) {
	series := generateTestSeries(200, 1)
	table, err := NewEngineer().CreateFeatures(series)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, table.SchemaVersion)
	require.Equal(t, len(series)-WarmupBars, table.Len())
	assert.Equal(t, series[WarmupBars].Timestamp, table.Rows[0].Timestamp)

	for i, row := range table.Rows {
		assert.Len(t, row.Values, len(FeatureNames()))
		for name, v := range row.Values {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "row %d column %s", i, name)
		}
	}

	last := table.Rows[table.Len()-1]
	assert.False(t, last.HasLabel)

	for i := 0; i < table.Len()-1; i++ {
		idx := WarmupBars + i
		want := 0
		if series[idx+1].Close > series[idx].Close {
			want = 1
		}
		assert.Equal(t, want, table.Rows[i].Label)
		assert.True(t, table.Rows[i].HasLabel)
	}
}

func TestCreateFeatures_Deterministic(t *testing.T) {
	series := generateTestSeries(120, 7)
	a, err := NewEngineer().CreateFeatures(series)
	require.NoError(t, err)
	b, err := NewEngineer().CreateFeatures(series)
	require.NoError(t, err)
	assert.Equal(t, a.Rows, b.Rows)
}

func TestCreateFeatures_NoVolume(t *testing.T) {
	series := generateTestSeries(80, 3)
	for i := range series {
		series[i].Volume = 0
	}
	table, err := NewEngineer().CreateFeatures(series)
	require.NoError(t, err)
	for _, row := range table.Rows {
		assert.Equal(t, 0.0, row.Values["volume_ratio"])
		assert.Equal(t, 0.0, row.Values["volume_change"])
	}
}

func TestCreateFeatures_InsufficientData(t *testing.T) {
	_, err := NewEngineer().CreateFeatures(generateTestSeries(WarmupBars, 1))
	assert.ErrorIs(t, err, engineerrors.ErrInsufficientData)
}

func TestCreateFeatures_RejectsUnorderedSeries(t *testing.T) {
	series := generateTestSeries(80, 1)
	series[10].Timestamp = series[9].Timestamp
	_, err := NewEngineer().CreateFeatures(series)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}

func TestCreateTarget(t *testing.T) {
	series := generateTestSeries(5, 1)
	closes := []float64{100, 101, 100.5, 103, 102}
	for i := range series {
		series[i].Close = closes[i]
	}

	labels, err := NewEngineer().CreateTarget(series, 2, 0.01)
	require.NoError(t, err)

	assert.Equal(t, []Label{
		{Value: 0, Valid: true}, // 100 -> 100.5
		{Value: 1, Valid: true}, // 101 -> 103
		{Value: 1, Valid: true}, // 100.5 -> 102
		{}, {},
	}, labels)

	_, err = NewEngineer().CreateTarget(series, 0, 0)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
	_, err = NewEngineer().CreateTarget(series, 1, -0.1)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}

func TestApplyFill(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		policy FillPolicy
		in     []float64
		want   []float64
	}{
		{"forward", FillForward, []float64{nan, 1, nan, 3, math.Inf(1)}, []float64{0, 1, 1, 3, 3}},
		{"legacy", FillLegacy, []float64{nan, 1, nan, 3, nan}, []float64{1, 1, 3, 3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := append([]float64(nil), tt.in...)
			applyFill(col, tt.policy)
			assert.Equal(t, tt.want, col)
		})
	}
}

func TestMatrixSkipsUnlabelled(t *testing.T) {
	table, err := NewEngineer().CreateFeatures(generateTestSeries(100, 2))
	require.NoError(t, err)

	m := table.Matrix()
	assert.Equal(t, table.Len()-1, m.Len())
	assert.Equal(t, FeatureNames(), m.Columns)
	pos, neg := m.LabelBalance()
	assert.Equal(t, m.Len(), pos+neg)
}

func TestParseFillPolicy(t *testing.T) {
	p, err := ParseFillPolicy("legacy")
	require.NoError(t, err)
	assert.Equal(t, FillLegacy, p)
	_, err = ParseFillPolicy("bogus")
	assert.Error(t, err)
}
