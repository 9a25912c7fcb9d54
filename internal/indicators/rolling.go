package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingMean is the trailing mean over window values.
func RollingMean(values []float64, window int) ([]float64, error) {
	return NewSMA(window).Series(values)
}

// RollingStd is the trailing sample standard deviation over window values.
// A window of 1 yields NaN everywhere.
func RollingStd(values []float64, window int) ([]float64, error) {
	if window <= 0 {
		return nil, errInvalidPeriod
	}
	out := nanSlice(len(values))
	if window < 2 {
		return out, nil
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = stat.StdDev(w, nil)
	}
	return out, nil
}

// Returns computes simple period-over-period returns. The first entry is NaN.
func Returns(values []float64) []float64 {
	out := nanSlice(len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i] = values[i]/values[i-1] - 1
		}
	}
	return out
}

// LogReturns computes log returns. The first entry is NaN.
func LogReturns(values []float64) []float64 {
	out := nanSlice(len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 && values[i] > 0 {
			out[i] = math.Log(values[i] / values[i-1])
		}
	}
	return out
}

// Lag shifts values forward by k positions, padding with NaN.
func Lag(values []float64, k int) []float64 {
	out := nanSlice(len(values))
	for i := k; i < len(values); i++ {
		out[i] = values[i-k]
	}
	return out
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
