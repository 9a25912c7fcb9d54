package indicators

import (
	"errors"
	"math"
)

var errInvalidPeriod = errors.New("period must be positive")

// SMA represents the Simple Moving Average technical indicator
type SMA struct {
	period int
}

// NewSMA creates a new SMA indicator
func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

// Series returns the SMA aligned with values. Entries before the first full window are NaN.
func (s *SMA) Series(values []float64) ([]float64, error) {
	if s.period <= 0 {
		return nil, errInvalidPeriod
	}
	out := nanSlice(len(values))
	sum := 0.0
	valid := 0
	for i, v := range values {
		if !math.IsNaN(v) {
			sum += v
			valid++
		}
		if i >= s.period {
			if old := values[i-s.period]; !math.IsNaN(old) {
				sum -= old
				valid--
			}
		}
		if i >= s.period-1 && valid == s.period {
			out[i] = sum / float64(s.period)
		}
	}
	return out, nil
}

// GetName returns the indicator name
func (s *SMA) GetName() string {
	return "SMA"
}

// EMA represents the Exponential Moving Average technical indicator
type EMA struct {
	period int
	alpha  float64
}

// NewEMA creates a new EMA indicator
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Series returns the EMA aligned with values. The first value is the SMA of the
// first full window of non-NaN inputs; everything before it is NaN.
func (e *EMA) Series(values []float64) ([]float64, error) {
	if e.period <= 0 {
		return nil, errInvalidPeriod
	}
	out := nanSlice(len(values))

	// seed on the first run of `period` consecutive non-NaN values
	run, seed := 0, -1
	for i, v := range values {
		if math.IsNaN(v) {
			run = 0
			continue
		}
		run++
		if run == e.period {
			seed = i
			break
		}
	}
	if seed < 0 {
		return out, nil
	}

	sum := 0.0
	for i := seed - e.period + 1; i <= seed; i++ {
		sum += values[i]
	}
	last := sum / float64(e.period)
	out[seed] = last
	for i := seed + 1; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			out[i] = last
			continue
		}
		last = values[i]*e.alpha + last*(1-e.alpha)
		out[i] = last
	}
	return out, nil
}

// GetName returns the indicator name
func (e *EMA) GetName() string {
	return "EMA"
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
