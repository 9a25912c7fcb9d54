package indicators

// MACD holds the fast, slow and signal periods
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// MACDSeries is the MACD line, its EMA signal line and the histogram.
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// NewMACD creates a new MACD instance with specified fast, slow, and signal periods
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
	}
}

// Series computes the MACD line, signal line and histogram aligned with prices.
func (m *MACD) Series(prices []float64) (MACDSeries, error) {
	fast, err := NewEMA(m.fastPeriod).Series(prices)
	if err != nil {
		return MACDSeries{}, err
	}
	slow, err := NewEMA(m.slowPeriod).Series(prices)
	if err != nil {
		return MACDSeries{}, err
	}

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fast[i] - slow[i]
	}
	signal, err := NewEMA(m.signalPeriod).Series(line)
	if err != nil {
		return MACDSeries{}, err
	}
	hist := make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - signal[i]
	}
	return MACDSeries{Line: line, Signal: signal, Histogram: hist}, nil
}

// GetName returns the indicator name
func (m *MACD) GetName() string {
	return "MACD"
}
