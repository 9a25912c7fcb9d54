package indicators

import "math"

// RSI calculates the Relative Strength Index with Wilder smoothing
type RSI struct {
	period int
}

// NewRSI creates a new RSI instance with the given period
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Series returns RSI values in [0,100]. The first period entries are NaN.
func (r *RSI) Series(prices []float64) ([]float64, error) {
	if r.period <= 0 {
		return nil, errInvalidPeriod
	}
	out := nanSlice(len(prices))
	if len(prices) < r.period+1 {
		return out, nil
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= r.period; i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)
	out[r.period] = rsiValue(avgGain, avgLoss)

	n := float64(r.period)
	for i := r.period + 1; i < len(prices); i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

// GetName returns the indicator name
func (r *RSI) GetName() string {
	return "RSI"
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, math.Abs(change)
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
