package model

import (
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
)

// separableMatrix labels a row 1 when x0 > 0, with x1 as noise.
func separableMatrix(n int, seed uint64) features.Matrix {
	rng := rand.New(rand.NewPCG(seed, 1))
	m := features.Matrix{Columns: []string{"signal", "noise"}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		x0 := rng.Float64()*2 - 1
		x1 := rng.Float64()*2 - 1
		y := 0
		if x0 > 0 {
			y = 1
		}
		m.X = append(m.X, []float64{x0, x1})
		m.Y = append(m.Y, y)
		m.Timestamps = append(m.Timestamps, start.Add(time.Duration(i)*time.Hour))
	}
	return m
}

func testParams() Params {
	p := DefaultParams()
	p.Rounds = 40
	p.MaxDepth = 3
	return p
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		p         float64
		threshold float64
		minProb   float64
		want      Direction
	}{
		{"strong up", 0.9, 0.6, 0.5, DirectionBuy},
		{"strong down", 0.1, 0.6, 0.5, DirectionSell},
		{"inside band", 0.7, 0.6, 0.5, DirectionHold},
		{"boundary is hold", 0.75, 0.5, 0.5, DirectionHold},
		{"low conviction forced hold", 0.58, 0.1, 0.6, DirectionHold},
		{"min prob below half uses deviation", 0.58, 0.1, 0.45, DirectionBuy},
		{"zero threshold", 0.51, 0, 0.5, DirectionBuy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := classify(tt.p, tt.threshold, tt.minProb)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, conf, 0.0)
			assert.LessOrEqual(t, conf, 1.0)
		})
	}
}

func TestUntrainedModel(t *testing.T) {
	m := NewSignalModel(testParams())

	_, err := m.PredictProbability(map[string]float64{"signal": 1})
	assert.ErrorIs(t, err, engineerrors.ErrUntrainedModel)

	_, err = m.Evaluate(separableMatrix(10, 1))
	assert.ErrorIs(t, err, engineerrors.ErrUntrainedModel)

	_, err = m.Artifact()
	assert.ErrorIs(t, err, engineerrors.ErrUntrainedModel)
}

func TestTrainLearnsSeparableData(t *testing.T) {
	train := separableMatrix(400, 1)
	val := separableMatrix(100, 2)
	m := NewSignalModel(testParams())

	metrics, err := m.Train(train, &val)
	require.NoError(t, err)
	assert.True(t, m.IsTrained())
	assert.Equal(t, 400, metrics.TrainSamples)
	assert.Equal(t, 100, metrics.ValSamples)
	assert.GreaterOrEqual(t, metrics.Rounds, 1)
	assert.Greater(t, metrics.TrainAccuracy, 0.95)

	ev, err := m.Evaluate(val)
	require.NoError(t, err)
	assert.Greater(t, ev.Accuracy, 0.9)
	assert.Equal(t, ev.Samples, ev.Confusion[0][0]+ev.Confusion[0][1]+ev.Confusion[1][0]+ev.Confusion[1][1])
	assert.Equal(t, ev.Precision, ev.WinRate)

	imp := m.FeatureImportance()
	assert.Greater(t, imp["signal"], imp["noise"])
	top := m.TopFeatures(1)
	require.Len(t, top, 1)
	assert.Equal(t, "signal", top[0].Name)

	up, err := m.PredictProbability(map[string]float64{"signal": 0.8, "noise": 0})
	require.NoError(t, err)
	down, err := m.PredictProbability(map[string]float64{"signal": -0.8, "noise": 0})
	require.NoError(t, err)
	assert.Greater(t, up, 0.5)
	assert.Less(t, down, 0.5)
}

func TestTrainPositiveWeight(t *testing.T) {
	train := separableMatrix(200, 3)
	// keep one positive in ten
	var sub features.Matrix
	sub.Columns = train.Columns
	pos := 0
	for i, y := range train.Y {
		if y == 1 {
			pos++
			if pos%10 != 0 {
				continue
			}
		}
		sub.X = append(sub.X, train.X[i])
		sub.Y = append(sub.Y, y)
	}
	p, n := sub.LabelBalance()

	m := NewSignalModel(testParams())
	metrics, err := m.Train(sub, nil)
	require.NoError(t, err)
	assert.InDelta(t, float64(n)/float64(p), metrics.PositiveWeight, 1e-12)
}

func TestTrainSingleClass(t *testing.T) {
	train := separableMatrix(50, 4)
	for i := range train.Y {
		train.Y[i] = 1
	}
	m := NewSignalModel(testParams())
	metrics, err := m.Train(train, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.PositiveWeight)

	p, err := m.PredictProbability(map[string]float64{"signal": 0, "noise": 0})
	require.NoError(t, err)
	assert.Greater(t, p, 0.9)
}

func TestTrainValidation(t *testing.T) {
	m := NewSignalModel(testParams())

	_, err := m.Train(features.Matrix{Columns: []string{"a"}}, nil)
	assert.ErrorIs(t, err, engineerrors.ErrInsufficientData)

	bad := separableMatrix(10, 1)
	bad.Y[3] = 2
	_, err = m.Train(bad, nil)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)

	train := separableMatrix(30, 1)
	val := separableMatrix(10, 2)
	val.Columns = []string{"signal", "other"}
	_, err = m.Train(train, &val)
	assert.ErrorIs(t, err, engineerrors.ErrSchemaMismatch)

	zero := testParams()
	zero.Rounds = 0
	_, err = NewSignalModel(zero).Train(train, nil)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
}

func TestPredictSchemaMismatch(t *testing.T) {
	m := NewSignalModel(testParams())
	_, err := m.Train(separableMatrix(60, 5), nil)
	require.NoError(t, err)

	_, err = m.PredictProbability(map[string]float64{"signal": 1})
	assert.ErrorIs(t, err, engineerrors.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "noise")

	// extra columns are fine
	_, err = m.PredictProbability(map[string]float64{"signal": 1, "noise": 0, "extra": 3})
	assert.NoError(t, err)
}

func TestGenerateSignalDeterministic(t *testing.T) {
	m := NewSignalModel(testParams())
	_, err := m.Train(separableMatrix(200, 6), nil)
	require.NoError(t, err)

	row := features.Row{
		Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Values:    map[string]float64{"signal": 0.9, "noise": 0.1},
	}
	first, err := m.GenerateSignal(row, 0.2, 0.5)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.GenerateSignal(row, 0.2, 0.5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, DirectionBuy, first.Direction)
	assert.Equal(t, row.Timestamp, first.Timestamp)
	assert.NotEmpty(t, first.TopFeatures)

	_, err = m.GenerateSignal(row, 1.5, 0.5)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter)
	_, err = m.GenerateSignal(row, 0.2, -0.1)
	assert.ErrorIs(t, err, engineerrors.ErrInvalidProbability)
}

func TestArtifactRoundTripIsBitIdentical(t *testing.T) {
	m := NewSignalModel(testParams())
	train := separableMatrix(150, 7)
	_, err := m.Train(train, nil)
	require.NoError(t, err)

	art, err := m.Artifact()
	require.NoError(t, err)
	blob, err := json.Marshal(art)
	require.NoError(t, err)

	var decoded Artifact
	require.NoError(t, json.Unmarshal(blob, &decoded))
	restored, err := FromArtifact(&decoded)
	require.NoError(t, err)

	fixture := separableMatrix(50, 99)
	for _, x := range fixture.X {
		values := map[string]float64{"signal": x[0], "noise": x[1]}
		want, err := m.PredictProbability(values)
		require.NoError(t, err)
		got, err := restored.PredictProbability(values)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, m.Metrics(), restored.Metrics())
}
