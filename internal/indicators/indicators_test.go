package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestData(count int) []types.OHLCV {
	data := make([]types.OHLCV, count)
	basePrice := 100.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		price := basePrice + float64(i)*0.5 + math.Sin(float64(i)/3)*2
		data[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price - 0.2,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1000 + float64(i),
		}
	}
	return data
}

func closes(data []types.OHLCV) []float64 {
	return types.Series(data).Closes()
}

func TestSMA_Series(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out, err := NewSMA(3).Series(values)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

func TestSMA_InvalidPeriod(t *testing.T) {
	_, err := NewSMA(0).Series([]float64{1, 2})
	assert.Error(t, err)
}

func TestEMA_SeededWithSMA(t *testing.T) {
	values := []float64{2, 4, 6, 8}
	out, err := NewEMA(3).Series(values)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 4.0, out[2], 1e-12)
	// alpha = 0.5
	assert.InDelta(t, 6.0, out[3], 1e-12)
}

func TestEMA_SkipsLeadingNaN(t *testing.T) {
	values := []float64{math.NaN(), math.NaN(), 1, 1, 1, 3}
	out, err := NewEMA(2).Series(values)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out[2]))
	assert.InDelta(t, 1.0, out[3], 1e-12)
	assert.Greater(t, out[5], out[4])
}

func TestRSI_Bounds(t *testing.T) {
	data := generateTestData(60)
	out, err := NewRSI(14).Series(closes(data))
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out[13]))
	for i := 14; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 100.0)
	}
}

func TestRSI_OnlyGains(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i + 1)
	}
	out, err := NewRSI(14).Series(values)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out[19])
}

func TestMACD_HistogramIsLineMinusSignal(t *testing.T) {
	data := generateTestData(80)
	m, err := NewMACD(12, 26, 9).Series(closes(data))
	require.NoError(t, err)

	assert.True(t, math.IsNaN(m.Line[24]))
	assert.False(t, math.IsNaN(m.Line[25]))
	// signal needs 9 MACD values
	assert.True(t, math.IsNaN(m.Signal[32]))
	assert.False(t, math.IsNaN(m.Signal[33]))
	for i := 33; i < len(data); i++ {
		assert.InDelta(t, m.Line[i]-m.Signal[i], m.Histogram[i], 1e-12)
	}
}

func TestBollingerBands_Series(t *testing.T) {
	data := generateTestData(40)
	b, err := NewBollingerBands(20, 2).Series(closes(data))
	require.NoError(t, err)

	for i := 19; i < len(data); i++ {
		assert.Greater(t, b.Upper[i], b.Middle[i])
		assert.Less(t, b.Lower[i], b.Middle[i])
		assert.Greater(t, b.Width[i], 0.0)
	}
}

func TestBollingerBands_FlatPrices(t *testing.T) {
	values := make([]float64, 25)
	for i := range values {
		values[i] = 10
	}
	b, err := NewBollingerBands(20, 2).Series(values)
	require.NoError(t, err)

	assert.Equal(t, 0.5, b.Position[24])
	assert.Equal(t, 0.0, b.Width[24])
}

func TestATR_Series(t *testing.T) {
	data := generateTestData(30)
	out, err := NewATR(14).Series(data)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out[12]))
	for i := 13; i < len(out); i++ {
		assert.Greater(t, out[i], 0.0)
	}
}

func TestRollingStd_Sample(t *testing.T) {
	out, err := RollingStd([]float64{1, 2, 3, 4}, 4)
	require.NoError(t, err)
	// sample std of 1..4
	assert.InDelta(t, math.Sqrt(5.0/3.0), out[3], 1e-12)
}

func TestReturnsAndLag(t *testing.T) {
	r := Returns([]float64{100, 110, 99})
	assert.True(t, math.IsNaN(r[0]))
	assert.InDelta(t, 0.1, r[1], 1e-12)
	assert.InDelta(t, -0.1, r[2], 1e-12)

	lr := LogReturns([]float64{100, 110})
	assert.InDelta(t, math.Log(1.1), lr[1], 1e-12)

	lag := Lag([]float64{1, 2, 3}, 2)
	assert.True(t, math.IsNaN(lag[1]))
	assert.Equal(t, 1.0, lag[2])
}
