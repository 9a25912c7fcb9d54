package indicators

import "math"

// BollingerBands represents the Bollinger Bands indicator
type BollingerBands struct {
	period         int
	stdDevMultiple float64
}

// Bands are the upper, middle and lower band series plus derived width and position.
type Bands struct {
	Upper    []float64
	Middle   []float64
	Lower    []float64
	Width    []float64 // (upper-lower)/middle
	Position []float64 // (price-lower)/(upper-lower), 0.5 when the bands collapse
}

// NewBollingerBands creates a new BollingerBands instance with the given period and standard deviation multiplier
func NewBollingerBands(period int, stdDev float64) *BollingerBands {
	return &BollingerBands{
		period:         period,
		stdDevMultiple: stdDev,
	}
}

// Series computes the bands over prices using the sample standard deviation.
func (bb *BollingerBands) Series(prices []float64) (Bands, error) {
	middle, err := NewSMA(bb.period).Series(prices)
	if err != nil {
		return Bands{}, err
	}
	std, err := RollingStd(prices, bb.period)
	if err != nil {
		return Bands{}, err
	}

	n := len(prices)
	b := Bands{
		Upper:    nanSlice(n),
		Middle:   middle,
		Lower:    nanSlice(n),
		Width:    nanSlice(n),
		Position: nanSlice(n),
	}
	for i := range prices {
		if math.IsNaN(middle[i]) || math.IsNaN(std[i]) {
			continue
		}
		b.Upper[i] = middle[i] + bb.stdDevMultiple*std[i]
		b.Lower[i] = middle[i] - bb.stdDevMultiple*std[i]
		if middle[i] != 0 {
			b.Width[i] = (b.Upper[i] - b.Lower[i]) / middle[i]
		}
		if spread := b.Upper[i] - b.Lower[i]; spread > 0 {
			b.Position[i] = (prices[i] - b.Lower[i]) / spread
		} else {
			b.Position[i] = 0.5
		}
	}
	return b, nil
}

// GetName returns the indicator name
func (bb *BollingerBands) GetName() string {
	return "BB"
}
