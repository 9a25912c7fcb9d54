package features

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/indicators"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// SchemaVersion identifies the feature set produced by CreateFeatures.
const SchemaVersion = 1

// WarmupBars is the number of leading bars dropped from every table; the
// slowest indicator (SMA 50) has its first value at this index.
const WarmupBars = 49

// FillPolicy decides how remaining NaNs are handled.
type FillPolicy int

const (
	// FillForward carries the last known value forward, then zero-fills.
	FillForward FillPolicy = iota
	// FillLegacy back-fills, forward-fills, then zero-fills. Back-filling reads future values.
	FillLegacy
	// FillDrop removes rows that still contain NaN.
	FillDrop
)

// ParseFillPolicy maps a config string to a FillPolicy.
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch s {
	case "", "forward":
		return FillForward, nil
	case "legacy":
		return FillLegacy, nil
	case "drop":
		return FillDrop, nil
	}
	return FillForward, fmt.Errorf("unknown fill policy %q", s)
}

func (p FillPolicy) String() string {
	switch p {
	case FillLegacy:
		return "legacy"
	case FillDrop:
		return "drop"
	default:
		return "forward"
	}
}

var smaWindows = []int{5, 10, 20, 50}
var emaWindows = []int{12, 26}
var rollingWindows = []int{5, 10, 20}
var lags = []int{1, 2, 3, 5}

// FeatureNames returns the column order of SchemaVersion.
func FeatureNames() []string {
	names := []string{
		"returns", "log_returns",
		"high_low_ratio", "close_open_ratio",
		"volume_ratio", "volume_change",
	}
	for _, w := range smaWindows {
		names = append(names, fmt.Sprintf("sma_%d_ratio", w))
	}
	for _, w := range emaWindows {
		names = append(names, fmt.Sprintf("ema_%d_ratio", w))
	}
	names = append(names,
		"macd", "macd_signal", "macd_hist",
		"rsi_14",
		"bb_width", "bb_position",
		"atr_14_ratio",
		"volatility_20",
	)
	for _, w := range rollingWindows {
		names = append(names, fmt.Sprintf("rolling_mean_%d", w))
	}
	for _, w := range rollingWindows {
		names = append(names, fmt.Sprintf("rolling_std_%d", w))
	}
	for _, k := range lags {
		names = append(names, fmt.Sprintf("returns_lag_%d", k))
	}
	for _, k := range lags {
		names = append(names, fmt.Sprintf("rsi_lag_%d", k))
	}
	return names
}

// Engineer derives the feature table and labels from a price series.
type Engineer struct {
	fill      FillPolicy
	horizon   int
	threshold float64
	logger    zerolog.Logger
}

// Option configures an Engineer
type Option func(*Engineer)

// WithFillPolicy sets the NaN handling policy
func WithFillPolicy(p FillPolicy) Option {
	return func(e *Engineer) { e.fill = p }
}

// WithTarget labels rows using a multi-bar horizon and minimum move.
func WithTarget(horizon int, threshold float64) Option {
	return func(e *Engineer) {
		e.horizon = horizon
		e.threshold = threshold
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engineer) { e.logger = l }
}

// NewEngineer creates a feature engineer labelling the next-bar direction by default.
func NewEngineer(opts ...Option) *Engineer {
	e := &Engineer{
		fill:    FillForward,
		horizon: 1,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateFeatures computes the feature table for series. Rows without a future
// bar inside the horizon carry no label.
func (e *Engineer) CreateFeatures(series types.Series) (*Table, error) {
	if err := series.Validate(); err != nil {
		return nil, engineerrors.NewInvalidParameter("features", "CreateFeatures", "%v", err)
	}
	if len(series) <= WarmupBars {
		return nil, engineerrors.NewInsufficientData("features", "CreateFeatures", len(series), WarmupBars+1)
	}

	cols, err := e.columns(series)
	if err != nil {
		return nil, err
	}
	labels, err := e.CreateTarget(series, e.horizon, e.threshold)
	if err != nil {
		return nil, err
	}

	names := FeatureNames()
	for _, name := range names {
		applyFill(cols[name], e.fill)
	}

	table := &Table{
		SchemaVersion: SchemaVersion,
		Columns:       names,
	}
	dropped := 0
	for i := WarmupBars; i < len(series); i++ {
		values := make(map[string]float64, len(names))
		complete := true
		for _, name := range names {
			v := cols[name][i]
			if !finite(v) {
				complete = false
			}
			values[name] = v
		}
		if !complete && e.fill == FillDrop {
			dropped++
			continue
		}
		table.Rows = append(table.Rows, Row{
			Timestamp: series[i].Timestamp,
			Values:    values,
			Label:     labels[i].Value,
			HasLabel:  labels[i].Valid,
		})
	}
	e.logger.Debug().
		Int("bars", len(series)).
		Int("rows", len(table.Rows)).
		Int("dropped", dropped).
		Str("fill", e.fill.String()).
		Msg("features created")
	return table, nil
}

// Label is the binary target for one bar.
type Label struct {
	Value int
	Valid bool
}

// CreateTarget labels bar i as 1 when close[i+horizon]/close[i]-1 exceeds
// threshold. The last horizon bars are not valid.
func (e *Engineer) CreateTarget(series types.Series, horizon int, threshold float64) ([]Label, error) {
	if horizon < 1 {
		return nil, engineerrors.NewInvalidParameter("features", "CreateTarget", "horizon must be >= 1, got %d", horizon)
	}
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, engineerrors.NewInvalidParameter("features", "CreateTarget", "threshold must be >= 0, got %v", threshold)
	}
	labels := make([]Label, len(series))
	for i := 0; i+horizon < len(series); i++ {
		move := series[i+horizon].Close/series[i].Close - 1
		labels[i].Valid = true
		if move > threshold {
			labels[i].Value = 1
		}
	}
	return labels, nil
}

func (e *Engineer) columns(series types.Series) (map[string][]float64, error) {
	n := len(series)
	closes := series.Closes()
	cols := make(map[string][]float64, 40)

	returns := indicators.Returns(closes)
	cols["returns"] = returns
	cols["log_returns"] = indicators.LogReturns(closes)

	hl := make([]float64, n)
	co := make([]float64, n)
	for i, bar := range series {
		hl[i] = bar.High / bar.Low
		co[i] = bar.Close / bar.Open
	}
	cols["high_low_ratio"] = hl
	cols["close_open_ratio"] = co

	volRatio := make([]float64, n)
	volChange := make([]float64, n)
	if series.HasVolume() {
		volumes := series.Volumes()
		volSMA, err := indicators.NewSMA(20).Series(volumes)
		if err != nil {
			return nil, err
		}
		volChange = indicators.Returns(volumes)
		for i := range volumes {
			volRatio[i] = math.NaN()
			if volSMA[i] > 0 {
				volRatio[i] = volumes[i] / volSMA[i]
			}
		}
	}
	cols["volume_ratio"] = volRatio
	cols["volume_change"] = volChange

	for _, w := range smaWindows {
		sma, err := indicators.NewSMA(w).Series(closes)
		if err != nil {
			return nil, err
		}
		cols[fmt.Sprintf("sma_%d_ratio", w)] = ratioMinusOne(closes, sma)
	}
	for _, w := range emaWindows {
		ema, err := indicators.NewEMA(w).Series(closes)
		if err != nil {
			return nil, err
		}
		cols[fmt.Sprintf("ema_%d_ratio", w)] = ratioMinusOne(closes, ema)
	}

	macd, err := indicators.NewMACD(12, 26, 9).Series(closes)
	if err != nil {
		return nil, err
	}
	cols["macd"] = divide(macd.Line, closes)
	cols["macd_signal"] = divide(macd.Signal, closes)
	cols["macd_hist"] = divide(macd.Histogram, closes)

	rsi, err := indicators.NewRSI(14).Series(closes)
	if err != nil {
		return nil, err
	}
	cols["rsi_14"] = rsi

	bands, err := indicators.NewBollingerBands(20, 2).Series(closes)
	if err != nil {
		return nil, err
	}
	cols["bb_width"] = bands.Width
	cols["bb_position"] = bands.Position

	atr, err := indicators.NewATR(14).Series(series)
	if err != nil {
		return nil, err
	}
	cols["atr_14_ratio"] = divide(atr, closes)

	vol20, err := indicators.RollingStd(returns, 20)
	if err != nil {
		return nil, err
	}
	cols["volatility_20"] = vol20

	for _, w := range rollingWindows {
		mean, err := indicators.RollingMean(returns, w)
		if err != nil {
			return nil, err
		}
		std, err := indicators.RollingStd(returns, w)
		if err != nil {
			return nil, err
		}
		cols[fmt.Sprintf("rolling_mean_%d", w)] = mean
		cols[fmt.Sprintf("rolling_std_%d", w)] = std
	}

	for _, k := range lags {
		cols[fmt.Sprintf("returns_lag_%d", k)] = indicators.Lag(returns, k)
		cols[fmt.Sprintf("rsi_lag_%d", k)] = indicators.Lag(rsi, k)
	}
	return cols, nil
}

func ratioMinusOne(num, den []float64) []float64 {
	out := make([]float64, len(num))
	for i := range num {
		out[i] = num[i]/den[i] - 1
	}
	return out
}

func divide(num, den []float64) []float64 {
	out := make([]float64, len(num))
	for i := range num {
		out[i] = num[i] / den[i]
	}
	return out
}

// applyFill rewrites non-finite entries of col in place.
func applyFill(col []float64, policy FillPolicy) {
	for i, v := range col {
		if !finite(v) {
			col[i] = math.NaN()
		}
	}
	switch policy {
	case FillDrop:
		return
	case FillLegacy:
		next := math.NaN()
		for i := len(col) - 1; i >= 0; i-- {
			if math.IsNaN(col[i]) {
				col[i] = next
			} else {
				next = col[i]
			}
		}
	}
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = 0
		}
	}
}
