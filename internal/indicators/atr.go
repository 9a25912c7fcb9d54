package indicators

import (
	"math"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// ATR represents the Average True Range technical indicator
// ATR measures market volatility by decomposing the entire range of an asset price for that period
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Series returns Wilder-smoothed ATR values. Entries before index period-1 are NaN.
func (a *ATR) Series(data []types.OHLCV) ([]float64, error) {
	if a.period <= 0 {
		return nil, errInvalidPeriod
	}
	out := nanSlice(len(data))
	if len(data) < a.period {
		return out, nil
	}

	tr := make([]float64, len(data))
	for i, candle := range data {
		if i == 0 {
			tr[i] = candle.High - candle.Low
			continue
		}
		tr[i] = trueRange(candle, data[i-1].Close)
	}

	sum := 0.0
	for i := 0; i < a.period; i++ {
		sum += tr[i]
	}
	last := sum / float64(a.period)
	out[a.period-1] = last
	n := float64(a.period)
	for i := a.period; i < len(data); i++ {
		last = (last*(n-1) + tr[i]) / n
		out[i] = last
	}
	return out, nil
}

// GetName returns the indicator name
func (a *ATR) GetName() string {
	return "ATR"
}

func trueRange(candle types.OHLCV, prevClose float64) float64 {
	hl := candle.High - candle.Low
	hc := math.Abs(candle.High - prevClose)
	lc := math.Abs(candle.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}
